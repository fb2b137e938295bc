package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/keispace/crdtsync/internal/core/domain"
)

// DefaultSyncTimeout bounds each peer call of a sync round.
const DefaultSyncTimeout = 10 * time.Second

// PeerClient is the view of one remote node during a sync round.
//
// Implementations return domain.ErrPeerUnreachable for transport failures
// and domain.ErrPeerProtocol for replies they cannot use. Any other error
// is classified by the Coordinator.
type PeerClient interface {
	// RequestDiff asks the peer for everything it knows beyond stateVector.
	// An empty reply means the peer has nothing new.
	RequestDiff(ctx context.Context, stateVector []byte) ([]byte, error)

	// RequestStateVector asks for the peer's state vector.
	RequestStateVector(ctx context.Context) ([]byte, error)

	// SendUpdate submits payload to the peer's update log.
	SendUpdate(ctx context.Context, payload []byte) (int64, error)

	// RequestCompact asks the peer to compact its copy.
	RequestCompact(ctx context.Context) (*domain.CompactResult, error)
}

// Coordinator runs single pull-then-push sync rounds.
type Coordinator struct {
	compactor *Compactor
	engine    Engine
	timeout   time.Duration
	logger    *slog.Logger
	rec       Recorder
}

// NewCoordinator creates a Coordinator. A non-positive timeout selects
// DefaultSyncTimeout.
func NewCoordinator(c *Compactor, timeout time.Duration) *Coordinator {
	if timeout <= 0 {
		timeout = DefaultSyncTimeout
	}
	return &Coordinator{
		compactor: c,
		engine:    c.engine,
		timeout:   timeout,
		logger:    c.logger,
		rec:       c.rec,
	}
}

// SyncWith runs one round against peer:
//
//  1. compact the local document
//  2. pull the peer's diff beyond the local state vector, append it with
//     origin pull and compact again
//  3. push the local diff beyond the peer's state vector and ask the peer
//     to compact
//
// A failure aborts the round after the step in progress. Local state
// committed before the failure is kept.
func (c *Coordinator) SyncWith(ctx context.Context, docID string, peer PeerClient) (*domain.SyncResult, error) {
	start := time.Now()
	res, err := c.syncWith(ctx, docID, peer)
	c.rec.SyncFinished(docID, res, err, time.Since(start).Seconds())

	if err != nil {
		c.logger.Warn("sync round failed", "doc_id", docID, "error", err)
		return res, err
	}
	c.logger.Info("sync round completed",
		"doc_id", docID,
		"pulled_bytes", res.PulledBytes,
		"pushed_bytes", res.PushedBytes,
		"duration", time.Since(start))
	return res, nil
}

func (c *Coordinator) syncWith(ctx context.Context, docID string, peer PeerClient) (*domain.SyncResult, error) {
	if err := domain.ValidateDocID(docID); err != nil {
		return nil, err
	}
	if peer == nil {
		return nil, domain.ErrMissingArgument.WithDetails("peer is required")
	}

	res := &domain.SyncResult{}

	// 1. Local compact.
	local, err := c.compactor.Compact(ctx, docID)
	if err != nil {
		return nil, err
	}
	res.Local = local

	// 2. Pull.
	doc, err := c.compactor.Durable(ctx, docID)
	if err != nil {
		return res, err
	}

	var pulled []byte
	err = c.call(ctx, "diff", func(ctx context.Context) error {
		pulled, err = peer.RequestDiff(ctx, doc.StateVector())
		return err
	})
	if err != nil {
		return res, err
	}

	if len(pulled) > 0 {
		if err := c.engine.Validate(pulled); err != nil {
			return res, domain.ErrPeerProtocol.Wrap(fmt.Errorf("peer diff: %w", err))
		}
		seq, err := c.compactor.log.Append(ctx, docID, pulled, domain.OriginPull)
		if err != nil {
			return res, err
		}
		c.rec.UpdateAppended(domain.OriginPull, len(pulled))
		res.PulledBytes = len(pulled)
		res.PulledSeq = seq

		if _, err := c.compactor.Compact(ctx, docID); err != nil {
			return res, err
		}
		if doc, err = c.compactor.Durable(ctx, docID); err != nil {
			return res, err
		}
	}

	// 3. Push.
	var peerSV []byte
	err = c.call(ctx, "state vector", func(ctx context.Context) error {
		peerSV, err = peer.RequestStateVector(ctx)
		return err
	})
	if err != nil {
		return res, err
	}

	push, err := doc.Diff(peerSV)
	if err != nil {
		return res, domain.ErrPeerProtocol.Wrap(fmt.Errorf("peer state vector: %w", err))
	}
	if len(push) == 0 {
		return res, nil
	}

	err = c.call(ctx, "update", func(ctx context.Context) error {
		res.PushedSeq, err = peer.SendUpdate(ctx, push)
		return err
	})
	if err != nil {
		return res, err
	}
	res.PushedBytes = len(push)

	err = c.call(ctx, "compact", func(ctx context.Context) error {
		res.Remote, err = peer.RequestCompact(ctx)
		return err
	})
	if err != nil {
		return res, err
	}

	return res, nil
}

// call runs one peer call under the round timeout and classifies its error.
func (c *Coordinator) call(ctx context.Context, what string, fn func(ctx context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	err := fn(callCtx)
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, domain.ErrPeerUnreachable), errors.Is(err, domain.ErrPeerProtocol):
		return err
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return domain.ErrPeerUnreachable.Wrap(fmt.Errorf("%s request: %w", what, err))
	case domain.IsDomainError(err, ""):
		// The peer answered with an application error.
		return domain.ErrPeerProtocol.Wrap(fmt.Errorf("%s request: %w", what, err))
	default:
		return domain.ErrPeerUnreachable.Wrap(fmt.Errorf("%s request: %w", what, err))
	}
}
