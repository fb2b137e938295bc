// Package snapshot provides the snapshot store.
//
// A document has at most one snapshot: its full merged state as a single
// self-contained payload plus the watermark (highest update seq folded in).
// Upsert replaces the record wholesale with one key write.
//
// Record value format:
//
//	[magic:6 "CSSNAP"][version:1]
//	[Body]                       msgpack: last_seq, updated_at, payload
//	[checksum:32 SHA-256 of all bytes above]
package snapshot
