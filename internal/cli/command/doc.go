// Package command provides CLI command definitions for crdtsync-cli.
//
// This package defines all CLI commands using urfave/cli/v2:
//
//   - root.go: App, global flags, output selection
//   - document.go: doc subcommand group (init, show, sv, diff, submit,
//     compact, sync, incr, set, append)
//   - system.go: system subcommand group (status, health, ready)
//
// Every command talks to the server's HTTP API through the connection
// package and prints through the output package.
package command
