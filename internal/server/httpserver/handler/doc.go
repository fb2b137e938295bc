// Package handler provides HTTP request handlers for crdtsync.
//
// This package contains handlers for all HTTP endpoints:
//
//   - document.go: per-document reads, updates, compaction and edits
//   - sync.go: sync rounds against one peer or every gossip member
//   - health.go: health, readiness and node status
//
// All handlers follow a consistent pattern:
//
//   - Parse and validate request
//   - Call the document service
//   - Format and return response
//   - Handle errors with appropriate HTTP status codes
//
// Payloads, diffs and state vectors are base64 strings in JSON bodies.
package handler
