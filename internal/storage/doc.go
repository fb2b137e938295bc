// Package storage provides the embedded key-value layer for crdtsync.
//
// Architecture:
//
//   - KVEngine: pluggable embedded store (Badger by default, Pebble optional)
//   - Engine: owns the KVEngine lifecycle, node metadata and metrics
//   - wal: the per-document update log, keyed by (doc_id, seq)
//   - snapshot: the per-document snapshot store, keyed by doc_id
//
// All writes go through atomic batches; with sync writes enabled (the
// default) a write is on stable storage before it returns.
package storage
