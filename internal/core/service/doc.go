// Package service provides the document services for crdtsync.
//
// Services orchestrate the update log, the snapshot store and the document
// engine. They define interfaces for their storage and peer dependencies so
// that the boundary layers and tests can inject their own.
//
// This package contains:
//
//   - Compactor: folds pending updates into the snapshot
//   - AutoCompactor: runs the Compactor for every document on an interval
//   - Coordinator: one pull-then-push sync round against a peer
//   - DocumentService: the operations exposed to the HTTP and peer servers
//
// All writers of one document (compaction, initialization, mutations) are
// serialized by a per-document lock. Different documents never contend.
package service
