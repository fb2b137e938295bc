// crdtsync-server is a document replica node.
//
// It serves:
//
//   - The HTTP API for document reads, edits, compaction and sync
//   - The peer RPC service other replicas pull from and push to
//   - Prometheus metrics on /metrics
//   - Optional gossip membership for syncing with every live peer
//
// Usage:
//
//	crdtsync-server [flags]
//	crdtsync-server -config /etc/crdtsync/server.yaml
//
// Every option can also be set through CRDTSYNC_ environment variables,
// e.g. CRDTSYNC_STORAGE__DATA_DIR.
package main
