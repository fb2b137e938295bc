package service

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/keispace/crdtsync/internal/core/domain"
	"github.com/keispace/crdtsync/internal/storage"
	"github.com/keispace/crdtsync/internal/storage/snapshot"
	"github.com/keispace/crdtsync/internal/storage/wal"
	"github.com/keispace/crdtsync/pkg/crdt"
	"github.com/keispace/crdtsync/pkg/doctree"
	"github.com/keispace/crdtsync/pkg/keylock"
)

const testDoc = "doc-1"

// testNode is one replica backed by an in-memory KV engine.
type testNode struct {
	svc   *DocumentService
	log   *wal.Log
	snaps *snapshot.Store
	locks *keylock.Registry
}

func newTestNode(t *testing.T, replica string) *testNode {
	t.Helper()

	cfg := storage.DefaultKVConfig("")
	cfg.Engine = storage.EnginePebble
	cfg.InMemory = true
	kv, err := storage.Open(cfg, slog.Default())
	if err != nil {
		t.Fatalf("open kv: %v", err)
	}
	t.Cleanup(func() { kv.Close() })

	log := wal.New(kv)
	snaps := snapshot.New(kv)
	locks := keylock.New(keylock.WithTimeout(50 * time.Millisecond))

	c := NewCompactor(log, snaps, NewCRDTEngine(nil), WithLocks(locks))
	co := NewCoordinator(c, 200*time.Millisecond)

	return &testNode{
		svc:   NewDocumentService(c, co, replica),
		log:   log,
		snaps: snaps,
		locks: locks,
	}
}

// peer returns an in-process PeerClient talking to n.
func (n *testNode) peer(docID string) PeerClient {
	return &localPeer{svc: n.svc, docID: docID}
}

func (n *testNode) mustInit(t *testing.T) {
	t.Helper()
	if _, err := n.svc.Initialize(context.Background(), testDoc); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
}

func (n *testNode) mustIncr(t *testing.T, times int) {
	t.Helper()
	for i := 0; i < times; i++ {
		if _, err := n.svc.Mutate(context.Background(), testDoc, Mutation{Kind: MutationIncrement, Delta: 1}); err != nil {
			t.Fatalf("Mutate() error = %v", err)
		}
	}
}

func (n *testNode) projection(t *testing.T) any {
	t.Helper()
	tree, err := n.svc.GetProjection(context.Background(), testDoc)
	if err != nil {
		t.Fatalf("GetProjection() error = %v", err)
	}
	if tree == nil {
		return nil
	}
	return doctree.Render(*tree)
}

func (n *testNode) count(t *testing.T) int64 {
	t.Helper()
	tree, err := n.svc.GetProjection(context.Background(), testDoc)
	if err != nil || tree == nil {
		t.Fatalf("GetProjection() = (%v, %v)", tree, err)
	}
	c, ok := tree.Lookup(crdt.RootContainer, crdt.CountKey)
	if !ok {
		t.Fatal("count missing from projection")
	}
	return c.Scalar.Int
}

type localPeer struct {
	svc   *DocumentService
	docID string
}

func (p *localPeer) RequestDiff(ctx context.Context, sv []byte) ([]byte, error) {
	return p.svc.GetDiff(ctx, p.docID, sv)
}

func (p *localPeer) RequestStateVector(ctx context.Context) ([]byte, error) {
	return p.svc.GetStateVector(ctx, p.docID)
}

func (p *localPeer) SendUpdate(ctx context.Context, payload []byte) (int64, error) {
	return p.svc.SubmitUpdate(ctx, p.docID, payload, domain.OriginRemote)
}

func (p *localPeer) RequestCompact(ctx context.Context) (*domain.CompactResult, error) {
	return p.svc.Compact(ctx, p.docID)
}

// stubPeer lets tests control each reply.
type stubPeer struct {
	diff    func(ctx context.Context, sv []byte) ([]byte, error)
	sv      func(ctx context.Context) ([]byte, error)
	update  func(ctx context.Context, payload []byte) (int64, error)
	compact func(ctx context.Context) (*domain.CompactResult, error)
}

func (p *stubPeer) RequestDiff(ctx context.Context, sv []byte) ([]byte, error) {
	if p.diff == nil {
		return nil, nil
	}
	return p.diff(ctx, sv)
}

func (p *stubPeer) RequestStateVector(ctx context.Context) ([]byte, error) {
	if p.sv == nil {
		return nil, nil
	}
	return p.sv(ctx)
}

func (p *stubPeer) SendUpdate(ctx context.Context, payload []byte) (int64, error) {
	if p.update == nil {
		return 1, nil
	}
	return p.update(ctx, payload)
}

func (p *stubPeer) RequestCompact(ctx context.Context) (*domain.CompactResult, error) {
	if p.compact == nil {
		return &domain.CompactResult{}, nil
	}
	return p.compact(ctx)
}

func blockUntilDone(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}
