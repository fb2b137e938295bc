package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
)

// Default configuration values.
const (
	DefaultKVSubdir = "kv"
)

// Config configures the storage service.
type Config struct {
	// DataDir is the base directory for all storage files.
	DataDir string

	// KV configures the embedded engine. KV.Dir defaults to DataDir/kv.
	KV KVConfig

	// Registry receives engine metrics when set.
	Registry prometheus.Registerer

	// Logger is the structured logger.
	Logger *slog.Logger
}

// DefaultConfig returns the default storage configuration.
func DefaultConfig(dataDir string) Config {
	return Config{
		DataDir: dataDir,
		KV:      DefaultKVConfig(filepath.Join(dataDir, DefaultKVSubdir)),
		Logger:  slog.Default(),
	}
}

// Engine owns the embedded KV engine and its lifecycle. The update log and
// snapshot store are built on top of KV().
type Engine struct {
	cfg    Config
	kv     KVEngine
	logger *slog.Logger
}

// New opens the storage engine.
func New(cfg Config) (*Engine, error) {
	if cfg.DataDir == "" && !cfg.KV.InMemory {
		return nil, fmt.Errorf("storage: data_dir is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.KV.Dir == "" && !cfg.KV.InMemory {
		cfg.KV.Dir = filepath.Join(cfg.DataDir, DefaultKVSubdir)
	}

	kv, err := Open(cfg.KV, cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}

	if cfg.Registry != nil {
		switch e := kv.(type) {
		case *BadgerEngine:
			e.RegisterMetrics(cfg.Registry)
		case *PebbleEngine:
			e.RegisterMetrics(cfg.Registry)
		}
	}

	return &Engine{
		cfg:    cfg,
		kv:     kv,
		logger: cfg.Logger,
	}, nil
}

// KV returns the underlying KV engine.
func (e *Engine) KV() KVEngine {
	return e.kv
}

// ReplicaID returns the persistent node replica ID, creating it on first
// start with generate.
func (e *Engine) ReplicaID(ctx context.Context, generate func() string) (string, error) {
	return LoadOrCreateReplicaID(ctx, e.kv, generate)
}

// Ping reports whether the engine can serve reads.
func (e *Engine) Ping(ctx context.Context) error {
	_, err := e.kv.Get(ctx, MetaKey(ReplicaMetaKey))
	if err != nil && !errors.Is(err, ErrKeyNotFound) {
		return err
	}
	return nil
}

// Stats returns engine statistics.
func (e *Engine) Stats(ctx context.Context) (*KVStats, error) {
	return e.kv.Stats(ctx)
}

// Close shuts the engine down.
func (e *Engine) Close() error {
	e.logger.Info("closing storage engine")
	return e.kv.Close()
}
