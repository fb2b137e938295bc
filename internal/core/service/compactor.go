package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/keispace/crdtsync/internal/core/domain"
	"github.com/keispace/crdtsync/pkg/keylock"
)

// Default compactor values.
const (
	DefaultLockTimeout     = 5 * time.Second
	DefaultCompactInterval = time.Minute
	autoCompactTimeout     = 30 * time.Second
)

// Compactor folds the pending updates of a document into its snapshot.
//
// Every run holds the per-document lock for its whole body, so concurrent
// compactions of one document are serialized.
type Compactor struct {
	log    UpdateLog
	snaps  SnapshotStore
	engine Engine
	locks  *keylock.Registry
	logger *slog.Logger
	rec    Recorder
}

// CompactorOption configures a Compactor.
type CompactorOption func(*Compactor)

// WithLocks shares a lock registry with other services.
func WithLocks(locks *keylock.Registry) CompactorOption {
	return func(c *Compactor) {
		if locks != nil {
			c.locks = locks
		}
	}
}

// WithCompactorLogger sets the logger.
func WithCompactorLogger(logger *slog.Logger) CompactorOption {
	return func(c *Compactor) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(rec Recorder) CompactorOption {
	return func(c *Compactor) {
		if rec != nil {
			c.rec = rec
		}
	}
}

// NewCompactor creates a Compactor.
func NewCompactor(log UpdateLog, snaps SnapshotStore, engine Engine, opts ...CompactorOption) *Compactor {
	c := &Compactor{
		log:    log,
		snaps:  snaps,
		engine: engine,
		logger: slog.Default(),
		rec:    nopRecorder{},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.locks == nil {
		c.locks = keylock.New(keylock.WithTimeout(DefaultLockTimeout))
	}
	return c
}

// Compact folds the pending updates of docID into its snapshot.
//
// With nothing pending it returns a no-op result with the watermark
// unchanged. It fails only on lock contention or storage errors.
func (c *Compactor) Compact(ctx context.Context, docID string) (*domain.CompactResult, error) {
	if err := domain.ValidateDocID(docID); err != nil {
		return nil, err
	}

	unlock, err := c.lock(ctx, docID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	res, err := c.compactLocked(ctx, docID)
	c.rec.Compacted(docID, res, err)
	return res, err
}

// lock acquires the exclusive lock of docID.
func (c *Compactor) lock(ctx context.Context, docID string) (func(), error) {
	unlock, err := c.locks.Acquire(ctx, docID)
	if err != nil {
		if errors.Is(err, keylock.ErrTimeout) {
			return nil, domain.ErrLockTimeout.WithDetails(docID)
		}
		return nil, domain.ErrLockTimeout.Wrap(err)
	}
	return unlock, nil
}

// compactLocked runs the compaction. The caller holds the lock of docID.
func (c *Compactor) compactLocked(ctx context.Context, docID string) (*domain.CompactResult, error) {
	doc, snap, pending, err := c.load(ctx, docID)
	if err != nil {
		return nil, err
	}

	var before int64
	if snap != nil {
		before = snap.LastSeq
	}

	if len(pending) == 0 {
		res := &domain.CompactResult{
			BeforeWatermark: before,
			AfterWatermark:  before,
		}
		if snap != nil {
			res.SnapshotSize = len(snap.Payload)
		}
		if before > 0 {
			// Records left behind by a run interrupted after its upsert.
			if res.Deleted, err = c.log.DeleteUpTo(ctx, docID, before); err != nil {
				return nil, err
			}
		}
		return res, nil
	}

	lastApplied := pending[len(pending)-1].Seq
	state := doc.FullState()

	if err := c.snaps.Upsert(ctx, docID, state, lastApplied); err != nil {
		return nil, err
	}

	// A crash here leaves folded records behind. The next run finds them
	// at or below the new watermark and deletes them.
	deleted, err := c.log.DeleteUpTo(ctx, docID, lastApplied)
	if err != nil {
		return nil, err
	}

	res := &domain.CompactResult{
		Applied:         len(pending),
		Deleted:         deleted,
		BeforeWatermark: before,
		AfterWatermark:  lastApplied,
		SnapshotSize:    len(state),
	}

	c.logger.Debug("document compacted",
		"doc_id", docID,
		"applied", res.Applied,
		"deleted", res.Deleted,
		"last_seq", lastApplied,
		"snapshot_size", res.SnapshotSize)

	return res, nil
}

// load reconstructs the durable document: the snapshot with every pending
// update applied in seq order. It also returns the snapshot (nil on cold
// start) and the pending records.
func (c *Compactor) load(ctx context.Context, docID string) (Document, *domain.SnapshotRecord, []domain.UpdateRecord, error) {
	snap, err := c.snaps.Get(ctx, docID)
	if err != nil {
		return nil, nil, nil, err
	}

	doc := c.engine.NewDocument()
	var lastSeq int64
	if snap != nil {
		if err := doc.Apply(snap.Payload); err != nil {
			return nil, nil, nil, domain.ErrStorageUnavailable.Wrap(
				fmt.Errorf("apply snapshot of %s: %w", docID, err))
		}
		lastSeq = snap.LastSeq
	}

	pending, err := c.log.LoadSince(ctx, docID, lastSeq)
	if err != nil {
		return nil, nil, nil, err
	}
	for _, rec := range pending {
		if err := doc.Apply(rec.Payload); err != nil {
			return nil, nil, nil, domain.ErrStorageUnavailable.Wrap(
				fmt.Errorf("apply update %s/%d: %w", docID, rec.Seq, err))
		}
	}

	return doc, snap, pending, nil
}

// Durable reconstructs the durable document of docID under its lock.
// A document that was never written yields the engine's empty state.
func (c *Compactor) Durable(ctx context.Context, docID string) (Document, error) {
	if err := domain.ValidateDocID(docID); err != nil {
		return nil, err
	}

	unlock, err := c.lock(ctx, docID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	doc, _, _, err := c.load(ctx, docID)
	return doc, err
}

// ============================================================================
// Background compaction
// ============================================================================

// AutoCompactor runs Compact for every document holding a snapshot on a
// fixed interval. Failures are logged and left for the next tick.
type AutoCompactor struct {
	compactor *Compactor
	interval  time.Duration
	logger    *slog.Logger

	started  atomic.Bool
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

// NewAutoCompactor creates an AutoCompactor. A non-positive interval
// selects DefaultCompactInterval.
func NewAutoCompactor(c *Compactor, interval time.Duration) *AutoCompactor {
	if interval <= 0 {
		interval = DefaultCompactInterval
	}
	return &AutoCompactor{
		compactor: c,
		interval:  interval,
		logger:    c.logger,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Start launches the background loop.
func (a *AutoCompactor) Start() {
	if a.started.CompareAndSwap(false, true) {
		go a.loop()
	}
}

func (a *AutoCompactor) loop() {
	defer close(a.doneCh)

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), autoCompactTimeout)
			a.RunOnce(ctx)
			cancel()

		case <-a.stopCh:
			return
		}
	}
}

// RunOnce compacts every known document once and returns how many runs
// folded at least one update.
func (a *AutoCompactor) RunOnce(ctx context.Context) int {
	ids, err := a.compactor.snaps.List(ctx)
	if err != nil {
		a.logger.Error("auto compaction: list documents failed", "error", err)
		return 0
	}

	folded := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			return folded
		}
		res, err := a.compactor.Compact(ctx, id)
		if err != nil {
			a.logger.Warn("auto compaction failed", "doc_id", id, "error", err)
			continue
		}
		if !res.Noop() {
			folded++
		}
	}
	return folded
}

// Stop stops the loop and waits for a running tick to finish.
func (a *AutoCompactor) Stop(ctx context.Context) error {
	a.stopOnce.Do(func() { close(a.stopCh) })
	if !a.started.Load() {
		return nil
	}
	select {
	case <-a.doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
