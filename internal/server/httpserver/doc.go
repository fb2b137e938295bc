// Package httpserver provides the HTTP/HTTPS server for crdtsync.
//
// This package implements the client-facing API on a chi router:
//
//   - Document endpoints: /v1/docs/{doc}/init, snapshot, sv, diff, updates, compact
//   - Edit endpoints: /v1/docs/{doc}/count/increment, fields/{key}, items
//   - Sync endpoints: /v1/docs/{doc}/sync, /v1/docs/{doc}/sync/all
//   - Node endpoints: /v1/status, /health, /ready, /metrics
//
// The peer RPC service can be mounted on the same router so a node needs a
// single port.
//
// Features:
//
//   - TLS support
//   - Middleware chain: Recover, RequestID, AccessLog, Metrics, RateLimit
//   - Graceful shutdown with configurable timeout
package httpserver
