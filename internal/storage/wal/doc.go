// Package wal provides the durable update log of a document.
//
// Every accepted update payload is stored as one record keyed by
// (doc_id, seq). Seq values are assigned by the log, start at 1, increase
// without gaps and are never reused: the highest assigned seq is persisted
// alongside each record in the same atomic batch and survives compaction
// and reset.
//
// Record value format:
//
//	[CRC32:4][Body]
//
// Where:
//   - CRC32 covers Body (IEEE, big-endian)
//   - Body is a msgpack document holding origin, receive time and payload
package wal
