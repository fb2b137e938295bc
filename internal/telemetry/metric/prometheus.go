package metric

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/keispace/crdtsync/internal/core/domain"
)

// Namespace prefixes every crdtsync metric.
const Namespace = "crdtsync"

// Result label values.
const (
	resultOK    = "ok"
	resultNoop  = "noop"
	resultError = "error"
)

// Metrics holds the operation metrics. It implements service.Recorder.
type Metrics struct {
	UpdatesAppended  *prometheus.CounterVec
	UpdateBytes      prometheus.Counter
	Compactions      *prometheus.CounterVec
	CompactedUpdates prometheus.Counter
	SnapshotSize     *prometheus.GaugeVec
	SyncRounds       *prometheus.CounterVec
	SyncDuration     prometheus.Histogram
	SyncBytes        *prometheus.CounterVec
	HTTPRequests     *prometheus.CounterVec
}

// New creates the metrics and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		UpdatesAppended: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "updates_appended_total",
			Help:      "Update records appended to the log, by origin.",
		}, []string{"origin"}),
		UpdateBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "update_bytes_total",
			Help:      "Payload bytes appended to the log.",
		}),
		Compactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "compactions_total",
			Help:      "Compaction runs, by result.",
		}, []string{"result"}),
		CompactedUpdates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "compaction_applied_total",
			Help:      "Update records folded into snapshots.",
		}),
		SnapshotSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "snapshot_size_bytes",
			Help:      "Size of the latest snapshot, by document.",
		}, []string{"doc"}),
		SyncRounds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "sync_rounds_total",
			Help:      "Sync rounds, by result.",
		}, []string{"result"}),
		SyncDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "sync_duration_seconds",
			Help:      "Duration of sync rounds.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		SyncBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "sync_bytes_total",
			Help:      "Diff bytes exchanged during sync rounds, by direction.",
		}, []string{"direction"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "http_requests_total",
			Help:      "HTTP API requests, by route and status code.",
		}, []string{"route", "code"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.UpdatesAppended,
			m.UpdateBytes,
			m.Compactions,
			m.CompactedUpdates,
			m.SnapshotSize,
			m.SyncRounds,
			m.SyncDuration,
			m.SyncBytes,
			m.HTTPRequests,
		)
	}
	return m
}

// UpdateAppended records one appended update.
func (m *Metrics) UpdateAppended(origin domain.Origin, size int) {
	m.UpdatesAppended.WithLabelValues(string(origin)).Inc()
	m.UpdateBytes.Add(float64(size))
}

// Compacted records a compaction run.
func (m *Metrics) Compacted(docID string, res *domain.CompactResult, err error) {
	switch {
	case err != nil:
		m.Compactions.WithLabelValues(resultError).Inc()
	case res.Noop():
		m.Compactions.WithLabelValues(resultNoop).Inc()
	default:
		m.Compactions.WithLabelValues(resultOK).Inc()
		m.CompactedUpdates.Add(float64(res.Applied))
		m.SnapshotSize.WithLabelValues(docID).Set(float64(res.SnapshotSize))
	}
}

// SyncFinished records a sync round.
func (m *Metrics) SyncFinished(_ string, res *domain.SyncResult, err error, seconds float64) {
	m.SyncDuration.Observe(seconds)
	if err != nil {
		m.SyncRounds.WithLabelValues(syncErrorLabel(err)).Inc()
	} else {
		m.SyncRounds.WithLabelValues(resultOK).Inc()
	}
	if res != nil {
		m.SyncBytes.WithLabelValues("pull").Add(float64(res.PulledBytes))
		m.SyncBytes.WithLabelValues("push").Add(float64(res.PushedBytes))
	}
}

// HTTPRequest records one HTTP API request.
func (m *Metrics) HTTPRequest(route string, code int) {
	m.HTTPRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
}

func syncErrorLabel(err error) string {
	switch {
	case errors.Is(err, domain.ErrPeerUnreachable):
		return "peer_unreachable"
	case errors.Is(err, domain.ErrPeerProtocol):
		return "peer_protocol"
	case errors.Is(err, domain.ErrLockTimeout):
		return "lock_timeout"
	default:
		return resultError
	}
}

// NewRegistry returns a registry with the Go runtime and process
// collectors registered.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
