// crdtsync-cli is the command-line client for crdtsync-server.
//
// It covers:
//
//   - Document reads: show, sv, diff
//   - Edits: incr, set, append, submit
//   - Maintenance: init, compact, sync with one peer or all of them
//   - Node checks: system status, health, ready
//
// Usage:
//
//	crdtsync-cli [global flags] command [command flags] [arguments]
//	crdtsync-cli --server node-a:7400 doc incr --delta 2 notes
//	crdtsync-cli -o json doc sync --peer node-b:7400 notes
//
// The target server can also be set with CRDTSYNC_SERVER.
package main
