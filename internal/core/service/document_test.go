package service

import (
	"bytes"
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/keispace/crdtsync/internal/core/domain"
	"github.com/keispace/crdtsync/pkg/crdt"
	"github.com/keispace/crdtsync/pkg/doctree"
)

func initialShape() any {
	return map[string]any{
		"root":  map[string]any{"count": int64(1), "message": "hello"},
		"items": []any{},
	}
}

func TestDocumentService_Initialize(t *testing.T) {
	n := newTestNode(t, "a")
	ctx := context.Background()

	if got := n.projection(t); got != nil {
		t.Errorf("projection before init = %v, want nil", got)
	}

	res, err := n.svc.Initialize(ctx, testDoc)
	if err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if res.LastSeq != 0 || res.SnapshotSize == 0 {
		t.Errorf("Initialize() = %+v", res)
	}

	if got := n.projection(t); !reflect.DeepEqual(got, initialShape()) {
		t.Errorf("projection = %v, want %v", got, initialShape())
	}
}

func TestDocumentService_Reset(t *testing.T) {
	n := newTestNode(t, "a")
	ctx := context.Background()
	n.mustInit(t)
	n.mustIncr(t, 3)
	n.svc.Compact(ctx, testDoc)
	n.mustIncr(t, 1)

	firstWriter := n.svc.Writer()

	res, err := n.svc.Initialize(ctx, testDoc)
	if err != nil {
		t.Fatal(err)
	}
	if res.LastSeq != 4 {
		t.Errorf("LastSeq after reset = %d, want 4", res.LastSeq)
	}
	if n.svc.Writer() == firstWriter {
		t.Error("writer not rotated on initialize")
	}

	if got := n.projection(t); !reflect.DeepEqual(got, initialShape()) {
		t.Errorf("projection after reset = %v", got)
	}

	// State vector matches a freshly built initial document.
	engine := NewCRDTEngine(nil)
	genesis, _ := engine.Genesis()
	fresh := engine.NewDocument()
	if err := fresh.Apply(genesis); err != nil {
		t.Fatal(err)
	}
	sv, err := n.svc.GetStateVector(ctx, testDoc)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(sv, fresh.StateVector()) {
		t.Error("state vector after reset differs from a fresh initial document")
	}

	// Seqs are never reused.
	seq, err := n.svc.Mutate(ctx, testDoc, Mutation{Kind: MutationIncrement, Delta: 1})
	if err != nil {
		t.Fatal(err)
	}
	if seq != 5 {
		t.Errorf("seq after reset = %d, want 5", seq)
	}
}

func TestDocumentService_SubmitUpdate(t *testing.T) {
	n := newTestNode(t, "a")
	ctx := context.Background()
	n.mustInit(t)

	engine := crdt.NewEngine(nil)
	genesis, _ := engine.Genesis()
	doc := engine.NewDoc()
	doc.Apply(genesis)
	update, err := doc.Edit("client", func(tx *crdt.Tx) error {
		return tx.Set(crdt.RootContainer, crdt.MessageKey, doctree.String("hi"))
	})
	if err != nil {
		t.Fatal(err)
	}

	seq, err := n.svc.SubmitUpdate(ctx, testDoc, update, "")
	if err != nil {
		t.Fatalf("SubmitUpdate() error = %v", err)
	}
	if seq != 1 {
		t.Errorf("seq = %d, want 1", seq)
	}

	recs, _ := n.log.LoadSince(ctx, testDoc, 0)
	if len(recs) != 1 || recs[0].Origin != domain.OriginRemote {
		t.Errorf("records = %+v, want one remote record", recs)
	}

	n.svc.Compact(ctx, testDoc)
	tree, _ := n.svc.GetProjection(ctx, testDoc)
	if msg, _ := tree.Lookup(crdt.RootContainer, crdt.MessageKey); msg.Scalar.Str != "hi" {
		t.Errorf("message = %q, want hi", msg.Scalar.Str)
	}
}

func TestDocumentService_InvalidInput(t *testing.T) {
	n := newTestNode(t, "a")
	ctx := context.Background()
	n.mustInit(t)
	n.mustIncr(t, 1)

	before, _ := n.log.MaxSeq(ctx, testDoc)

	tests := []struct {
		name    string
		docID   string
		payload []byte
		want    error
	}{
		{"empty payload", testDoc, nil, domain.ErrInvalidPayload},
		{"empty string payload", testDoc, []byte(""), domain.ErrInvalidPayload},
		{"garbage", testDoc, []byte("not an update"), domain.ErrInvalidPayload},
		{"update without ops", testDoc, crdt.EncodeUpdate(nil), domain.ErrInvalidPayload},
		{"bad doc id", "a/b", []byte("x"), domain.ErrInvalidDocID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := n.svc.SubmitUpdate(ctx, tt.docID, tt.payload, domain.OriginRemote)
			if !errors.Is(err, tt.want) {
				t.Errorf("SubmitUpdate() = %v, want %v", err, tt.want)
			}
		})
	}

	if after, _ := n.log.MaxSeq(ctx, testDoc); after != before {
		t.Errorf("MaxSeq changed from %d to %d", before, after)
	}
}

func TestDocumentService_DiffMinimality(t *testing.T) {
	n := newTestNode(t, "a")
	ctx := context.Background()
	n.mustInit(t)
	n.mustIncr(t, 2)

	sv, err := n.svc.GetStateVector(ctx, testDoc)
	if err != nil {
		t.Fatal(err)
	}
	diff, err := n.svc.GetDiff(ctx, testDoc, sv)
	if err != nil {
		t.Fatal(err)
	}
	if len(diff) != 0 {
		t.Errorf("GetDiff(own state vector) = %d bytes, want empty", len(diff))
	}

	n.mustIncr(t, 1)
	diff, _ = n.svc.GetDiff(ctx, testDoc, sv)
	if len(diff) == 0 {
		t.Error("GetDiff() after a new update is empty")
	}

	if _, err := n.svc.GetDiff(ctx, testDoc, []byte("bad")); !errors.Is(err, domain.ErrInvalidPayload) {
		t.Errorf("GetDiff(bad vector) = %v, want ErrInvalidPayload", err)
	}
}

func TestDocumentService_Mutate(t *testing.T) {
	n := newTestNode(t, "a")
	ctx := context.Background()

	_, err := n.svc.Mutate(ctx, testDoc, Mutation{Kind: MutationIncrement, Delta: 1})
	if !errors.Is(err, domain.ErrDocNotInitialized) {
		t.Errorf("Mutate() before init = %v, want ErrDocNotInitialized", err)
	}

	n.mustInit(t)

	mutations := []Mutation{
		{Kind: MutationIncrement, Delta: 5},
		{Kind: MutationSet, Key: "title", Value: doctree.String("notes")},
		{Kind: MutationAppend, Value: doctree.Int(7)},
		{Kind: MutationAppend, Value: doctree.Bool(true)},
	}
	for _, m := range mutations {
		if _, err := n.svc.Mutate(ctx, testDoc, m); err != nil {
			t.Fatalf("Mutate(%+v) error = %v", m, err)
		}
	}
	n.svc.Compact(ctx, testDoc)

	want := map[string]any{
		"root":  map[string]any{"count": int64(6), "message": "hello", "title": "notes"},
		"items": []any{int64(7), true},
	}
	if got := n.projection(t); !reflect.DeepEqual(got, want) {
		t.Errorf("projection = %v, want %v", got, want)
	}

	t.Run("errors", func(t *testing.T) {
		tests := []struct {
			m    Mutation
			want error
		}{
			{Mutation{Kind: MutationSet}, domain.ErrMissingArgument},
			{Mutation{Kind: "rename"}, domain.ErrInvalidArgument},
		}
		for _, tt := range tests {
			if _, err := n.svc.Mutate(ctx, testDoc, tt.m); !errors.Is(err, tt.want) {
				t.Errorf("Mutate(%+v) = %v, want %v", tt.m, err, tt.want)
			}
		}
	})
}

func TestDocumentService_Status(t *testing.T) {
	n := newTestNode(t, "a")
	ctx := context.Background()
	n.mustInit(t)
	n.mustIncr(t, 2)
	n.svc.Compact(ctx, testDoc)
	n.mustIncr(t, 1)

	st, err := n.svc.Status(ctx, testDoc)
	if err != nil {
		t.Fatal(err)
	}
	if !st.Initialized || st.LastSeq != 2 || st.MaxSeq != 3 || st.Pending != 1 {
		t.Errorf("Status() = %+v", st)
	}

	ids, _ := n.svc.Documents(ctx)
	if len(ids) != 1 || ids[0] != testDoc {
		t.Errorf("Documents() = %v", ids)
	}
}
