// Package metric provides Prometheus metrics for crdtsync.
//
// This package implements metrics collection and exposition:
//
//   - prometheus.go: operation metrics fed by the document services
//   - collector.go: a collector reporting per-document log and snapshot state
//
// Metrics are exposed at /metrics in Prometheus format.
package metric
