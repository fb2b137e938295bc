package wal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/keispace/crdtsync/internal/core/domain"
	"github.com/keispace/crdtsync/internal/storage"
)

// deleteChunk bounds the number of deletes per batch so a large trim does
// not exceed the engine's transaction limits. Each chunk is atomic; deletes
// are idempotent, so an interrupted trim is finished by the next one.
const deleteChunk = 1000

// Log is the update log. It is safe for concurrent use.
type Log struct {
	kv     storage.KVEngine
	logger *slog.Logger
	now    func() time.Time

	mu    sync.Mutex
	seqMu map[string]*sync.Mutex
}

// Option configures a Log.
type Option func(*Log)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Log) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithClock overrides the receive-time source (tests).
func WithClock(now func() time.Time) Option {
	return func(l *Log) {
		l.now = now
	}
}

// New creates an update log on top of kv.
func New(kv storage.KVEngine, opts ...Option) *Log {
	l := &Log{
		kv:     kv,
		logger: slog.Default(),
		now:    time.Now,
		seqMu:  make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// docMutex returns the mutex serializing seq assignment for docID.
func (l *Log) docMutex(docID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.seqMu[docID]
	if !ok {
		m = &sync.Mutex{}
		l.seqMu[docID] = m
	}
	return m
}

// Append stores payload as the next record of docID and returns its seq.
// The record and the advanced sequence counter are written in one atomic,
// synchronous batch.
func (l *Log) Append(ctx context.Context, docID string, payload []byte, origin domain.Origin) (int64, error) {
	if len(payload) == 0 {
		return 0, domain.ErrInvalidPayload.WithDetails("empty payload")
	}
	if !origin.Valid() {
		return 0, domain.ErrInvalidArgument.WithDetails(fmt.Sprintf("unknown origin %q", origin))
	}

	m := l.docMutex(docID)
	m.Lock()
	defer m.Unlock()

	last, err := l.MaxSeq(ctx, docID)
	if err != nil {
		return 0, err
	}
	seq := last + 1

	value, err := encodeRecord(&domain.UpdateRecord{
		DocID:      docID,
		Seq:        seq,
		Payload:    payload,
		Origin:     origin,
		ReceivedAt: l.now(),
	})
	if err != nil {
		return 0, domain.ErrInternal.Wrap(err)
	}

	batch := storage.NewBatch().
		Set(storage.UpdateKey(docID, seq), value).
		Set(storage.SequenceKey(docID), storage.EncodeSeq(seq))
	if err := l.kv.Write(ctx, batch); err != nil {
		return 0, domain.ErrStorageUnavailable.Wrap(fmt.Errorf("append %s/%d: %w", docID, seq, err))
	}

	l.logger.Debug("update appended",
		"doc_id", docID,
		"seq", seq,
		"origin", origin,
		"payload", payload)

	return seq, nil
}

// LoadSince returns every record of docID with seq > afterSeq in ascending
// seq order.
func (l *Log) LoadSince(ctx context.Context, docID string, afterSeq int64) ([]domain.UpdateRecord, error) {
	var (
		records []domain.UpdateRecord
		iterErr error
	)

	err := l.kv.Scan(ctx, storage.UpdatePrefix(docID), func(key, value []byte) bool {
		seq, err := storage.ParseUpdateKey(docID, key)
		if err != nil {
			iterErr = err
			return false
		}
		if seq <= afterSeq {
			return true
		}
		rec, err := decodeRecord(docID, seq, value)
		if err != nil {
			iterErr = err
			return false
		}
		records = append(records, *rec)
		return true
	})
	if err != nil {
		return nil, domain.ErrStorageUnavailable.Wrap(fmt.Errorf("load %s: %w", docID, err))
	}
	if iterErr != nil {
		return nil, domain.ErrStorageUnavailable.Wrap(fmt.Errorf("load %s: %w", docID, iterErr))
	}

	return records, nil
}

// DeleteUpTo removes every record of docID with seq <= seq and returns how
// many were removed.
func (l *Log) DeleteUpTo(ctx context.Context, docID string, seq int64) (int, error) {
	return l.deleteWhere(ctx, docID, func(s int64) bool { return s <= seq })
}

// Reset removes every record of docID. The sequence counter is kept so
// seq values are never reused after re-initialization.
func (l *Log) Reset(ctx context.Context, docID string) error {
	n, err := l.deleteWhere(ctx, docID, func(int64) bool { return true })
	if err != nil {
		return err
	}
	l.logger.Debug("update log reset", "doc_id", docID, "deleted", n)
	return nil
}

func (l *Log) deleteWhere(ctx context.Context, docID string, match func(seq int64) bool) (int, error) {
	var keys [][]byte
	err := l.kv.Scan(ctx, storage.UpdatePrefix(docID), func(key, _ []byte) bool {
		seq, err := storage.ParseUpdateKey(docID, key)
		if err != nil {
			return true
		}
		if !match(seq) {
			// keys are ordered by seq
			return false
		}
		keys = append(keys, key)
		return true
	})
	if err != nil {
		return 0, domain.ErrStorageUnavailable.Wrap(fmt.Errorf("scan %s: %w", docID, err))
	}

	deleted := 0
	for start := 0; start < len(keys); start += deleteChunk {
		end := min(start+deleteChunk, len(keys))
		batch := storage.NewBatch()
		for _, k := range keys[start:end] {
			batch.Delete(k)
		}
		if err := l.kv.Write(ctx, batch); err != nil {
			return deleted, domain.ErrStorageUnavailable.Wrap(fmt.Errorf("delete %s: %w", docID, err))
		}
		deleted += end - start
	}
	return deleted, nil
}

// MaxSeq returns the highest seq ever assigned for docID, 0 if none.
func (l *Log) MaxSeq(ctx context.Context, docID string) (int64, error) {
	v, err := l.kv.Get(ctx, storage.SequenceKey(docID))
	if err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			return 0, nil
		}
		return 0, domain.ErrStorageUnavailable.Wrap(fmt.Errorf("read sequence %s: %w", docID, err))
	}
	seq, err := storage.DecodeSeq(v)
	if err != nil {
		return 0, domain.ErrStorageUnavailable.Wrap(err)
	}
	return seq, nil
}

// Pending returns the number of records of docID with seq > afterSeq.
func (l *Log) Pending(ctx context.Context, docID string, afterSeq int64) (int, error) {
	n := 0
	err := l.kv.Scan(ctx, storage.UpdatePrefix(docID), func(key, _ []byte) bool {
		if seq, err := storage.ParseUpdateKey(docID, key); err == nil && seq > afterSeq {
			n++
		}
		return true
	})
	if err != nil {
		return 0, domain.ErrStorageUnavailable.Wrap(err)
	}
	return n, nil
}
