// Package domain defines the core domain models for crdtsync.
//
// Domain models are plain values without IO dependencies:
//
//   - UpdateRecord: one incremental change held by the update log
//   - SnapshotRecord: the merged state of a document up to a watermark
//   - CompactResult, SyncResult, InitResult: operation outcomes
//   - Errors: coded domain errors shared by every layer
package domain
