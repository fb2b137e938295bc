// Package output provides output formatting for crdtsync-cli.
//
// This package handles all CLI output formatting:
//
//   - formatter.go: Formatter interface and factory
//   - table.go: Table rendering; documents flatten to PATH/VALUE rows
//   - json.go: JSON output formatting
//   - yaml.go: YAML output formatting
//
// Every format is driven by the json tags of the data, so a field has the
// same name in table, json and yaml output.
package output
