package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/prometheus/client_golang/prometheus"
)

// PebbleEngine implements KVEngine using Pebble.
type PebbleEngine struct {
	db     *pebble.DB
	cache  *pebble.Cache
	wopts  *pebble.WriteOptions
	logger *slog.Logger
	closed atomic.Bool

	lastGCTime atomic.Int64

	metricsDiskUsage prometheus.Gauge
	metricsReadAmp   prometheus.Gauge

	stopCh    chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewPebbleEngine creates a new Pebble-based KV engine.
func NewPebbleEngine(cfg KVConfig, logger *slog.Logger) (*PebbleEngine, error) {
	if cfg.Dir == "" && !cfg.InMemory {
		return nil, fmt.Errorf("pebble: dir is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	pcfg := cfg.Pebble
	if pcfg.CacheSize <= 0 {
		pcfg.CacheSize = DefaultPebbleConfig().CacheSize
	}
	cache := pebble.NewCache(pcfg.CacheSize)

	opts := &pebble.Options{
		Cache:  cache,
		Logger: &pebbleLogger{logger: logger},
	}
	if pcfg.MemTableSize > 0 {
		opts.MemTableSize = pcfg.MemTableSize
	}
	dir := cfg.Dir
	if cfg.InMemory {
		opts.FS = vfs.NewMem()
		dir = ""
	}

	db, err := pebble.Open(dir, opts)
	if err != nil {
		cache.Unref()
		return nil, fmt.Errorf("pebble: open db: %w", err)
	}

	wopts := pebble.NoSync
	if cfg.SyncWrites {
		wopts = pebble.Sync
	}

	logger.Info("pebble engine started",
		"dir", cfg.Dir,
		"in_memory", cfg.InMemory,
		"sync_writes", cfg.SyncWrites)

	return &PebbleEngine{
		db:     db,
		cache:  cache,
		wopts:  wopts,
		logger: logger,
		stopCh: make(chan struct{}),
	}, nil
}

// Get retrieves a value by key.
func (e *PebbleEngine) Get(ctx context.Context, key []byte) ([]byte, error) {
	if e.closed.Load() {
		return nil, ErrClosed
	}

	value, closer, err := e.db.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, ErrKeyNotFound
		}
		return nil, err
	}
	defer closer.Close()

	return bytes.Clone(value), nil
}

// Scan iterates over keys with a given prefix.
func (e *PebbleEngine) Scan(ctx context.Context, prefix []byte, fn func(key, value []byte) bool) error {
	if e.closed.Load() {
		return ErrClosed
	}

	it, err := e.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return err
	}
	defer it.Close()

	for valid := it.First(); valid; valid = it.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !fn(bytes.Clone(it.Key()), bytes.Clone(it.Value())) {
			break
		}
	}
	return it.Error()
}

// Write applies a batch atomically.
func (e *PebbleEngine) Write(ctx context.Context, b *Batch) error {
	if e.closed.Load() {
		return ErrClosed
	}
	if b == nil || b.Len() == 0 {
		return nil
	}

	batch := e.db.NewBatch()
	defer batch.Close()

	for _, op := range b.ops {
		var err error
		if op.delete {
			err = batch.Delete(op.key, nil)
		} else {
			err = batch.Set(op.key, op.value, nil)
		}
		if err != nil {
			return err
		}
	}
	return batch.Commit(e.wopts)
}

// GC flushes memtables and compacts the whole key space so deleted
// update records are dropped from disk.
func (e *PebbleEngine) GC(ctx context.Context) (uint64, error) {
	if e.closed.Load() {
		return 0, ErrClosed
	}

	before := e.db.Metrics().DiskSpaceUsage()
	if err := e.db.Flush(); err != nil {
		return 0, fmt.Errorf("flush: %w", err)
	}
	if err := e.db.Compact([]byte{0x00}, []byte{0xff}, true); err != nil {
		return 0, fmt.Errorf("compact: %w", err)
	}
	after := e.db.Metrics().DiskSpaceUsage()
	e.lastGCTime.Store(time.Now().UnixMilli())

	if after >= before {
		return 0, nil
	}
	return before - after, nil
}

// Stats returns storage statistics.
func (e *PebbleEngine) Stats(ctx context.Context) (*KVStats, error) {
	if e.closed.Load() {
		return nil, ErrClosed
	}
	m := e.db.Metrics()
	total := m.Total()

	return &KVStats{
		Engine:     EnginePebble,
		TotalSize:  m.DiskSpaceUsage(),
		LSMSize:    uint64(total.Size),
		LastGCTime: e.lastGCTime.Load(),
	}, nil
}

// Close gracefully shuts down the Pebble engine.
func (e *PebbleEngine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		e.logger.Info("shutting down pebble engine")

		close(e.stopCh)
		e.wg.Wait()
		e.closed.Store(true)

		if cerr := e.db.Close(); cerr != nil {
			err = fmt.Errorf("close db: %w", cerr)
		}
		e.cache.Unref()
	})
	return err
}

// RegisterMetrics registers Pebble metrics with Prometheus.
func (e *PebbleEngine) RegisterMetrics(registry prometheus.Registerer) *PebbleEngine {
	e.metricsDiskUsage = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "crdtsync",
		Subsystem: "pebble",
		Name:      "disk_usage_bytes",
		Help:      "Pebble on-disk size in bytes",
	})
	e.metricsReadAmp = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "crdtsync",
		Subsystem: "pebble",
		Name:      "read_amplification",
		Help:      "Pebble read amplification",
	})
	registry.MustRegister(e.metricsDiskUsage, e.metricsReadAmp)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m := e.db.Metrics()
				e.metricsDiskUsage.Set(float64(m.DiskSpaceUsage()))
				e.metricsReadAmp.Set(float64(m.ReadAmp()))
			case <-e.stopCh:
				return
			}
		}
	}()

	return e
}

// prefixUpperBound returns the smallest key greater than every key with
// the given prefix, or nil when no such key exists.
func prefixUpperBound(prefix []byte) []byte {
	end := bytes.Clone(prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

// pebbleLogger adapts slog.Logger to Pebble's Logger interface.
type pebbleLogger struct {
	logger *slog.Logger
}

func (l *pebbleLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *pebbleLogger) Fatalf(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	l.logger.Error(msg)
	panic(msg)
}
