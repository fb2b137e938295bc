package service

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/keispace/crdtsync/internal/core/domain"
	"github.com/keispace/crdtsync/pkg/doctree"
)

// DocumentService exposes the document operations to the servers.
type DocumentService struct {
	log         UpdateLog
	snaps       SnapshotStore
	engine      Engine
	compactor   *Compactor
	coordinator *Coordinator
	logger      *slog.Logger
	rec         Recorder

	replicaID string

	// writer is the replica name used for server-side edits. It is renewed
	// on every start and every initialization so that op IDs are never
	// reused against peers that still hold ops of a previous incarnation.
	writerMu sync.Mutex
	writer   string
}

// NewDocumentService creates a DocumentService. replicaID is the
// persistent identity of this node.
func NewDocumentService(compactor *Compactor, coordinator *Coordinator, replicaID string) *DocumentService {
	s := &DocumentService{
		log:         compactor.log,
		snaps:       compactor.snaps,
		engine:      compactor.engine,
		compactor:   compactor,
		coordinator: coordinator,
		logger:      compactor.logger,
		rec:         compactor.rec,
		replicaID:   replicaID,
	}
	s.rotateWriter()
	return s
}

// ReplicaID returns the node replica ID.
func (s *DocumentService) ReplicaID() string {
	return s.replicaID
}

// Writer returns the replica name currently used for server-side edits.
func (s *DocumentService) Writer() string {
	s.writerMu.Lock()
	defer s.writerMu.Unlock()
	return s.writer
}

func (s *DocumentService) rotateWriter() {
	id := ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader)
	s.writerMu.Lock()
	s.writer = s.replicaID + "." + strings.ToLower(id.String())
	s.writerMu.Unlock()
}

// ============================================================================
// Initialize
// ============================================================================

// Initialize clears the update log and snapshot of docID and stores the
// initial document shape as its snapshot, watermarked at the current max
// seq. Seqs are never reused after a reset.
func (s *DocumentService) Initialize(ctx context.Context, docID string) (*domain.InitResult, error) {
	if err := domain.ValidateDocID(docID); err != nil {
		return nil, err
	}

	unlock, err := s.compactor.lock(ctx, docID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	// Appends do not take the document lock. Reading the watermark before
	// the reset keeps any append racing with it above the watermark, where
	// it stays pending instead of being trimmed unread.
	maxSeq, err := s.log.MaxSeq(ctx, docID)
	if err != nil {
		return nil, err
	}

	if err := s.log.Reset(ctx, docID); err != nil {
		return nil, err
	}
	if err := s.snaps.Reset(ctx, docID); err != nil {
		return nil, err
	}

	state, err := s.engine.Genesis()
	if err != nil {
		return nil, domain.ErrInternal.Wrap(fmt.Errorf("build initial document: %w", err))
	}

	if err := s.snaps.Upsert(ctx, docID, state, maxSeq); err != nil {
		return nil, err
	}

	s.rotateWriter()

	s.logger.Info("document initialized",
		"doc_id", docID,
		"last_seq", maxSeq,
		"snapshot_size", len(state))

	return &domain.InitResult{
		DocID:        docID,
		LastSeq:      maxSeq,
		SnapshotSize: len(state),
	}, nil
}

// ============================================================================
// Reads
// ============================================================================

// GetProjection returns the tree view of the durable snapshot of docID,
// or nil when the document was never initialized. Pending updates are not
// included until they are compacted.
func (s *DocumentService) GetProjection(ctx context.Context, docID string) (*doctree.Node, error) {
	if err := domain.ValidateDocID(docID); err != nil {
		return nil, err
	}

	snap, err := s.snaps.Get(ctx, docID)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, nil
	}

	doc := s.engine.NewDocument()
	if err := doc.Apply(snap.Payload); err != nil {
		return nil, domain.ErrStorageUnavailable.Wrap(fmt.Errorf("apply snapshot of %s: %w", docID, err))
	}
	tree := doc.Project()
	return &tree, nil
}

// GetStateVector returns the state vector of the durable document.
func (s *DocumentService) GetStateVector(ctx context.Context, docID string) ([]byte, error) {
	doc, err := s.compactor.Durable(ctx, docID)
	if err != nil {
		return nil, err
	}
	return doc.StateVector(), nil
}

// GetDiff returns everything the durable document knows beyond
// stateVector, or nil when there is nothing new.
func (s *DocumentService) GetDiff(ctx context.Context, docID string, stateVector []byte) ([]byte, error) {
	doc, err := s.compactor.Durable(ctx, docID)
	if err != nil {
		return nil, err
	}
	diff, err := doc.Diff(stateVector)
	if err != nil {
		return nil, domain.ErrInvalidPayload.Wrap(fmt.Errorf("state vector: %w", err))
	}
	return diff, nil
}

// ============================================================================
// Writes
// ============================================================================

// SubmitUpdate validates payload and appends it to the update log of docID.
func (s *DocumentService) SubmitUpdate(ctx context.Context, docID string, payload []byte, origin domain.Origin) (int64, error) {
	if err := domain.ValidateDocID(docID); err != nil {
		return 0, err
	}
	if len(payload) == 0 {
		return 0, domain.ErrInvalidPayload.WithDetails("empty payload")
	}
	if err := s.engine.Validate(payload); err != nil {
		return 0, domain.ErrInvalidPayload.Wrap(err)
	}
	if origin == "" {
		origin = domain.OriginRemote
	}

	seq, err := s.log.Append(ctx, docID, payload, origin)
	if err != nil {
		return 0, err
	}
	s.rec.UpdateAppended(origin, len(payload))
	return seq, nil
}

// Mutate applies a server-side edit to the durable document of docID and
// appends the resulting update with origin local. Counter increments are
// stored as deltas, so concurrent increments on other nodes are never lost.
func (s *DocumentService) Mutate(ctx context.Context, docID string, m Mutation) (int64, error) {
	mutator, ok := s.engine.(Mutator)
	if !ok {
		return 0, domain.ErrInternal.WithDetails("engine does not support server-side edits")
	}
	if err := domain.ValidateDocID(docID); err != nil {
		return 0, err
	}

	unlock, err := s.compactor.lock(ctx, docID)
	if err != nil {
		return 0, err
	}
	defer unlock()

	snap, err := s.snaps.Get(ctx, docID)
	if err != nil {
		return 0, err
	}
	if snap == nil {
		return 0, domain.ErrDocNotInitialized.WithDetails(docID)
	}

	doc, _, _, err := s.compactor.load(ctx, docID)
	if err != nil {
		return 0, err
	}

	update, err := mutator.Mutate(doc, s.Writer(), m)
	if err != nil {
		return 0, err
	}
	if len(update) == 0 {
		return 0, nil
	}

	seq, err := s.log.Append(ctx, docID, update, domain.OriginLocal)
	if err != nil {
		return 0, err
	}
	s.rec.UpdateAppended(domain.OriginLocal, len(update))

	s.logger.Debug("document mutated",
		"doc_id", docID,
		"kind", string(m.Kind),
		"key", m.Key,
		"seq", seq)
	return seq, nil
}

// Compact runs the Compactor on docID.
func (s *DocumentService) Compact(ctx context.Context, docID string) (*domain.CompactResult, error) {
	return s.compactor.Compact(ctx, docID)
}

// RunSync runs one sync round of docID against peer.
func (s *DocumentService) RunSync(ctx context.Context, docID string, peer PeerClient) (*domain.SyncResult, error) {
	return s.coordinator.SyncWith(ctx, docID, peer)
}

// Documents returns the IDs of the initialized documents.
func (s *DocumentService) Documents(ctx context.Context) ([]string, error) {
	return s.snaps.List(ctx)
}

// Status summarizes one document for the status endpoint.
func (s *DocumentService) Status(ctx context.Context, docID string) (*DocumentStatus, error) {
	if err := domain.ValidateDocID(docID); err != nil {
		return nil, err
	}

	st := &DocumentStatus{DocID: docID}

	snap, err := s.snaps.Get(ctx, docID)
	if err != nil {
		return nil, err
	}
	if snap != nil {
		st.Initialized = true
		st.LastSeq = snap.LastSeq
		st.SnapshotSize = len(snap.Payload)
		st.UpdatedAt = snap.UpdatedAt
	}

	if st.MaxSeq, err = s.log.MaxSeq(ctx, docID); err != nil {
		return nil, err
	}
	st.Pending = st.MaxSeq - st.LastSeq
	return st, nil
}

// DocumentStatus describes the durable state of one document.
type DocumentStatus struct {
	DocID        string    `json:"doc_id"`
	Initialized  bool      `json:"initialized"`
	LastSeq      int64     `json:"last_seq"`
	MaxSeq       int64     `json:"max_seq"`
	Pending      int64     `json:"pending"`
	SnapshotSize int       `json:"snapshot_bytes"`
	UpdatedAt    time.Time `json:"updated_at"`
}
