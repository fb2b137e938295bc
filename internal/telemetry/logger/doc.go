// Package logger builds the process's slog loggers.
//
//   - logger.go: handler construction, JSON and text output, shared level
//   - context.go: request and trace IDs carried in contexts
//   - redact.go: credential redaction and binary payload summaries
//
// Update payloads, state vectors and diffs are never written to the log
// verbatim. Byte slices are replaced by their length.
package logger
