// Package storage provides the embedded key-value layer used by the update
// log and the snapshot store.
//
// This file defines the KVEngine interface and its configuration.
package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Common errors
var (
	ErrKeyNotFound = errors.New("key not found")
	ErrClosed      = errors.New("kv engine closed")
)

// Supported engine names.
const (
	EngineBadger = "badger"
	EnginePebble = "pebble"
)

// KVEngine defines the interface for embedded key-value storage.
//
// Implementation requirements:
//   - Thread-safe: concurrent reads/writes must be safe
//   - Atomic: a Batch is applied entirely or not at all
//   - Durable: with SyncWrites enabled, Write returns only after the batch
//     reached stable storage
type KVEngine interface {
	// Get retrieves a value by key.
	// Returns ErrKeyNotFound if key doesn't exist.
	Get(ctx context.Context, key []byte) ([]byte, error)

	// Scan iterates over keys with a given prefix in ascending key order.
	// Callback returns false to stop iteration. Key and value are copies.
	Scan(ctx context.Context, prefix []byte, fn func(key, value []byte) bool) error

	// Write applies a batch atomically.
	Write(ctx context.Context, b *Batch) error

	// GC triggers garbage collection (for LSM-based engines).
	// Returns bytes reclaimed.
	GC(ctx context.Context) (uint64, error)

	// Stats returns storage statistics (size, keys count, etc.).
	Stats(ctx context.Context) (*KVStats, error)

	// Close gracefully shuts down the KV engine.
	Close() error
}

// KVStats contains storage engine statistics.
type KVStats struct {
	// Engine is the backend name.
	Engine string

	// TotalSize is the total disk usage in bytes.
	TotalSize uint64

	// LSMSize is the LSM tree size.
	LSMSize uint64

	// ValueLogSize is the value log size (Badger only).
	ValueLogSize uint64

	// LastGCTime is the last GC run timestamp (Unix milliseconds).
	LastGCTime int64

	// GCBytesReclaimed is the total bytes reclaimed by GC.
	GCBytesReclaimed uint64
}

type batchOp struct {
	key    []byte
	value  []byte
	delete bool
}

// Batch is an ordered set of writes applied atomically by KVEngine.Write.
type Batch struct {
	ops []batchOp
}

// NewBatch returns an empty batch.
func NewBatch() *Batch {
	return &Batch{}
}

// Set queues a write of key.
func (b *Batch) Set(key, value []byte) *Batch {
	b.ops = append(b.ops, batchOp{key: key, value: value})
	return b
}

// Delete queues a removal of key.
func (b *Batch) Delete(key []byte) *Batch {
	b.ops = append(b.ops, batchOp{key: key, delete: true})
	return b
}

// Len returns the number of queued writes.
func (b *Batch) Len() int {
	return len(b.ops)
}

// KVConfig configures an embedded KV engine.
type KVConfig struct {
	// Engine specifies the KV engine type ("badger", "pebble").
	// Default: "badger"
	Engine string

	// Dir is the storage directory. Ignored when InMemory is set.
	Dir string

	// InMemory keeps all data in memory (tests only).
	InMemory bool

	// SyncWrites fsyncs every batch before Write returns.
	// Default: true
	SyncWrites bool

	// Badger-specific configuration
	Badger BadgerConfig

	// Pebble-specific configuration
	Pebble PebbleConfig
}

// BadgerConfig contains Badger-specific tuning parameters.
type BadgerConfig struct {
	// GCInterval is the interval between automatic GC runs.
	// Default: 10m
	GCInterval string

	// GCThreshold is the GC discard ratio threshold (0.0-1.0).
	// Default: 0.5
	GCThreshold float64

	// CacheSize is the block cache size in bytes.
	// Default: 64MB
	CacheSize int64

	// ValueLogFileSize is the max value log file size in bytes.
	// Default: 256MB
	ValueLogFileSize int64

	// NumMemtables is the number of memtables.
	// Default: 2
	NumMemtables int
}

// PebbleConfig contains Pebble-specific tuning parameters.
type PebbleConfig struct {
	// CacheSize is the block cache size in bytes.
	// Default: 64MB
	CacheSize int64

	// MemTableSize is the size of a single memtable in bytes.
	// Default: 16MB
	MemTableSize uint64
}

// DefaultKVConfig returns the default KV configuration.
func DefaultKVConfig(dir string) KVConfig {
	return KVConfig{
		Engine:     EngineBadger,
		Dir:        dir,
		SyncWrites: true,
		Badger:     DefaultBadgerConfig(),
		Pebble:     DefaultPebbleConfig(),
	}
}

// DefaultBadgerConfig returns the default Badger configuration.
func DefaultBadgerConfig() BadgerConfig {
	return BadgerConfig{
		GCInterval:       "10m",
		GCThreshold:      0.5,
		CacheSize:        64 << 20, // 64MB
		ValueLogFileSize: 256 << 20,
		NumMemtables:     2,
	}
}

// DefaultPebbleConfig returns the default Pebble configuration.
func DefaultPebbleConfig() PebbleConfig {
	return PebbleConfig{
		CacheSize:    64 << 20,
		MemTableSize: 16 << 20,
	}
}

// Open creates the engine selected by cfg.Engine.
func Open(cfg KVConfig, logger *slog.Logger) (KVEngine, error) {
	switch cfg.Engine {
	case "", EngineBadger:
		return NewBadgerEngine(cfg, logger)
	case EnginePebble:
		return NewPebbleEngine(cfg, logger)
	default:
		return nil, fmt.Errorf("storage: unknown engine %q", cfg.Engine)
	}
}
