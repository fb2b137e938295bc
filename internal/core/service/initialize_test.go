package service

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/keispace/crdtsync/internal/core/domain"
	"github.com/keispace/crdtsync/internal/storage"
	"github.com/keispace/crdtsync/internal/storage/snapshot"
	"github.com/keispace/crdtsync/internal/storage/wal"
	"github.com/keispace/crdtsync/pkg/crdt"
	"github.com/keispace/crdtsync/pkg/doctree"
)

// appendAfterReset lands one append right after the log is reset, the way
// a concurrent SubmitUpdate can while Initialize runs.
type appendAfterReset struct {
	UpdateLog
	payload []byte
	seq     int64
}

func (l *appendAfterReset) Reset(ctx context.Context, docID string) error {
	if err := l.UpdateLog.Reset(ctx, docID); err != nil {
		return err
	}
	if l.payload == nil {
		return nil
	}
	seq, err := l.UpdateLog.Append(ctx, docID, l.payload, domain.OriginRemote)
	l.seq = seq
	l.payload = nil
	return err
}

func openTestKV(t *testing.T) storage.KVEngine {
	t.Helper()
	cfg := storage.DefaultKVConfig("")
	cfg.Engine = storage.EngineBadger
	cfg.InMemory = true
	kv, err := storage.Open(cfg, slog.Default())
	if err != nil {
		t.Fatalf("open kv: %v", err)
	}
	t.Cleanup(func() { kv.Close() })
	return kv
}

func messageUpdate(t *testing.T, msg string) []byte {
	t.Helper()
	engine := crdt.NewEngine(nil)
	genesis, err := engine.Genesis()
	if err != nil {
		t.Fatal(err)
	}
	doc := engine.NewDoc()
	if err := doc.Apply(genesis); err != nil {
		t.Fatal(err)
	}
	update, err := doc.Edit("client", func(tx *crdt.Tx) error {
		return tx.Set(crdt.RootContainer, crdt.MessageKey, doctree.String(msg))
	})
	if err != nil {
		t.Fatal(err)
	}
	return update
}

func TestDocumentService_InitializeKeepsRacingAppend(t *testing.T) {
	ctx := context.Background()
	kv := openTestKV(t)

	log := &appendAfterReset{UpdateLog: wal.New(kv)}
	c := NewCompactor(log, snapshot.New(kv), NewCRDTEngine(nil))
	svc := NewDocumentService(c, NewCoordinator(c, 0), "a")

	if _, err := svc.Initialize(ctx, testDoc); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := svc.Mutate(ctx, testDoc, Mutation{Kind: MutationIncrement, Delta: 1}); err != nil {
			t.Fatalf("Mutate() error = %v", err)
		}
	}

	log.payload = messageUpdate(t, "raced")
	res, err := svc.Initialize(ctx, testDoc)
	if err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if log.seq <= res.LastSeq {
		t.Fatalf("racing append got seq %d at or below watermark %d", log.seq, res.LastSeq)
	}

	compacted, err := svc.Compact(ctx, testDoc)
	if err != nil {
		t.Fatalf("Compact() error = %v", err)
	}
	if compacted.Applied != 1 {
		t.Errorf("Applied = %d, want 1", compacted.Applied)
	}

	tree, err := svc.GetProjection(ctx, testDoc)
	if err != nil || tree == nil {
		t.Fatalf("GetProjection() = %v, %v", tree, err)
	}
	if msg, _ := tree.Lookup(crdt.RootContainer, crdt.MessageKey); msg.Scalar.Str != "raced" {
		t.Errorf("message = %q, want raced", msg.Scalar.Str)
	}
	if count, _ := tree.Lookup(crdt.RootContainer, crdt.CountKey); count.Scalar.Int != 1 {
		t.Errorf("count = %d, want 1 after reset", count.Scalar.Int)
	}
}

func TestDocumentService_SubmitUpdateLogsOnce(t *testing.T) {
	ctx := context.Background()
	kv := openTestKV(t)

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	c := NewCompactor(
		wal.New(kv, wal.WithLogger(logger)),
		snapshot.New(kv, snapshot.WithLogger(logger)),
		NewCRDTEngine(nil),
		WithCompactorLogger(logger),
	)
	svc := NewDocumentService(c, NewCoordinator(c, 0), "a")

	if _, err := svc.SubmitUpdate(ctx, testDoc, messageUpdate(t, "hi"), ""); err != nil {
		t.Fatalf("SubmitUpdate() error = %v", err)
	}
	if n := strings.Count(buf.String(), `msg="update appended"`); n != 1 {
		t.Errorf("update appended logged %d times, want 1:\n%s", n, buf.String())
	}
}
