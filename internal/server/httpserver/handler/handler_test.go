package handler

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/keispace/crdtsync/internal/core/domain"
	"github.com/keispace/crdtsync/internal/core/service"
	"github.com/keispace/crdtsync/internal/storage"
	"github.com/keispace/crdtsync/internal/storage/snapshot"
	"github.com/keispace/crdtsync/internal/storage/wal"
	"github.com/keispace/crdtsync/pkg/keylock"
)

func newTestDocs(t *testing.T, replica string) *service.DocumentService {
	t.Helper()

	cfg := storage.DefaultKVConfig("")
	cfg.Engine = storage.EngineBadger
	cfg.InMemory = true
	kv, err := storage.Open(cfg, slog.Default())
	if err != nil {
		t.Fatalf("open kv: %v", err)
	}
	t.Cleanup(func() { kv.Close() })

	c := service.NewCompactor(wal.New(kv), snapshot.New(kv), service.NewCRDTEngine(nil),
		service.WithLocks(keylock.New(keylock.WithTimeout(time.Second))))
	return service.NewDocumentService(c, service.NewCoordinator(c, time.Second), replica)
}

// localPeer is an in-process PeerClient.
type localPeer struct {
	docs  *service.DocumentService
	docID string
}

func (p *localPeer) RequestDiff(ctx context.Context, sv []byte) ([]byte, error) {
	return p.docs.GetDiff(ctx, p.docID, sv)
}

func (p *localPeer) RequestStateVector(ctx context.Context) ([]byte, error) {
	return p.docs.GetStateVector(ctx, p.docID)
}

func (p *localPeer) SendUpdate(ctx context.Context, payload []byte) (int64, error) {
	return p.docs.SubmitUpdate(ctx, p.docID, payload, domain.OriginRemote)
}

func (p *localPeer) RequestCompact(ctx context.Context) (*domain.CompactResult, error) {
	return p.docs.Compact(ctx, p.docID)
}

type unreachablePeer struct{}

func (unreachablePeer) RequestDiff(context.Context, []byte) ([]byte, error) {
	return nil, domain.ErrPeerUnreachable.WithDetails("connection refused")
}

func (unreachablePeer) RequestStateVector(context.Context) ([]byte, error) {
	return nil, domain.ErrPeerUnreachable.WithDetails("connection refused")
}

func (unreachablePeer) SendUpdate(context.Context, []byte) (int64, error) {
	return 0, domain.ErrPeerUnreachable.WithDetails("connection refused")
}

func (unreachablePeer) RequestCompact(context.Context) (*domain.CompactResult, error) {
	return nil, domain.ErrPeerUnreachable.WithDetails("connection refused")
}

type testEnv struct {
	router http.Handler
	docs   *service.DocumentService
	peers  map[string]*service.DocumentService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		docs:  newTestDocs(t, "csrp-a"),
		peers: map[string]*service.DocumentService{"node-b:7400": newTestDocs(t, "csrp-b")},
	}

	h := New(Config{
		Docs: env.docs,
		Dial: func(addr, docID string) service.PeerClient {
			if p, ok := env.peers[addr]; ok {
				return &localPeer{docs: p, docID: docID}
			}
			return unreachablePeer{}
		},
		Peers: func() []string { return []string{"node-b:7400", "node-c:7400"} },
	})

	r := chi.NewRouter()
	h.RegisterHealth(r)
	h.Register(r)
	env.router = r
	return env
}

// do sends a request and decodes the envelope's data into out.
func (e *testEnv) do(t *testing.T, method, path string, body any, out any) (*httptest.ResponseRecorder, Response) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)

	var env struct {
		Response
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("%s %s: invalid JSON response %q: %v", method, path, rec.Body.String(), err)
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			t.Fatalf("decode data: %v", err)
		}
	}
	return rec, env.Response
}

func (e *testEnv) mustStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("status = %d, want %d, body = %s", rec.Code, want, rec.Body.String())
	}
}

func TestHandler_Health(t *testing.T) {
	env := newTestEnv(t)

	rec, resp := env.do(t, http.MethodGet, "/health", nil, nil)
	env.mustStatus(t, rec, http.StatusOK)
	if resp.Code != "OK" {
		t.Errorf("code = %q, want OK", resp.Code)
	}

	rec, _ = env.do(t, http.MethodGet, "/ready", nil, nil)
	env.mustStatus(t, rec, http.StatusOK)
}

func TestHandler_ReadyFailure(t *testing.T) {
	h := New(Config{
		Docs:  newTestDocs(t, "csrp-a"),
		Ready: func(context.Context) error { return errors.New("disk full") },
	})
	r := chi.NewRouter()
	h.RegisterHealth(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
	if got := rec.Header().Get("X-Error-Code"); got != domain.ErrStorageUnavailable.Code {
		t.Errorf("X-Error-Code = %q", got)
	}
}

func TestHandler_DocumentLifecycle(t *testing.T) {
	env := newTestEnv(t)

	// Never initialized: snapshot is null.
	var snap SnapshotResponse
	rec, _ := env.do(t, http.MethodGet, "/v1/docs/notes/snapshot", nil, &snap)
	env.mustStatus(t, rec, http.StatusOK)
	if snap.Snapshot != nil {
		t.Errorf("snapshot before init = %v, want null", snap.Snapshot)
	}

	var initRes domain.InitResult
	rec, _ = env.do(t, http.MethodPost, "/v1/docs/notes/init", nil, &initRes)
	env.mustStatus(t, rec, http.StatusOK)
	if initRes.DocID != "notes" {
		t.Errorf("init doc_id = %q", initRes.DocID)
	}

	var seq SeqResponse
	rec, _ = env.do(t, http.MethodPost, "/v1/docs/notes/count/increment", map[string]any{"delta": 3}, &seq)
	env.mustStatus(t, rec, http.StatusOK)
	rec, _ = env.do(t, http.MethodPost, "/v1/docs/notes/count/increment", nil, &seq)
	env.mustStatus(t, rec, http.StatusOK)
	rec, _ = env.do(t, http.MethodPut, "/v1/docs/notes/fields/title", map[string]any{"value": "hello"}, &seq)
	env.mustStatus(t, rec, http.StatusOK)
	rec, _ = env.do(t, http.MethodPost, "/v1/docs/notes/items", map[string]any{"value": 7}, &seq)
	env.mustStatus(t, rec, http.StatusOK)

	// Edits are pending until compaction.
	rec, _ = env.do(t, http.MethodGet, "/v1/docs/notes/snapshot", nil, &snap)
	env.mustStatus(t, rec, http.StatusOK)
	root := snap.Snapshot.(map[string]any)["root"].(map[string]any)
	if root["count"] != float64(1) {
		t.Errorf("count before compaction = %v, want 1", root["count"])
	}

	var compact domain.CompactResult
	rec, _ = env.do(t, http.MethodPost, "/v1/docs/notes/compact", nil, &compact)
	env.mustStatus(t, rec, http.StatusOK)
	if compact.Applied != 4 {
		t.Errorf("compact applied = %d, want 4", compact.Applied)
	}

	rec, _ = env.do(t, http.MethodGet, "/v1/docs/notes/snapshot", nil, &snap)
	env.mustStatus(t, rec, http.StatusOK)
	tree := snap.Snapshot.(map[string]any)
	root = tree["root"].(map[string]any)
	if root["count"] != float64(5) {
		t.Errorf("count = %v, want 5", root["count"])
	}
	if root["title"] != "hello" {
		t.Errorf("title = %v, want hello", root["title"])
	}
	items := tree["items"].([]any)
	if len(items) != 1 || items[0] != float64(7) {
		t.Errorf("items = %v, want [7]", items)
	}
}

func TestHandler_StateVectorDiffAndUpdates(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPost, "/v1/docs/notes/init", nil, nil)
	env.do(t, http.MethodPost, "/v1/docs/notes/count/increment", nil, nil)

	var sv StateVectorResponse
	rec, _ := env.do(t, http.MethodGet, "/v1/docs/notes/sv", nil, &sv)
	env.mustStatus(t, rec, http.StatusOK)
	if len(sv.StateVector) == 0 {
		t.Fatal("empty state vector")
	}

	var diff DiffResponse
	rec, _ = env.do(t, http.MethodPost, "/v1/docs/notes/diff", DiffRequest{StateVector: sv.StateVector}, &diff)
	env.mustStatus(t, rec, http.StatusOK)
	if diff.Diff != nil {
		t.Errorf("diff against own sv = %d bytes, want null", len(diff.Diff))
	}

	rec, _ = env.do(t, http.MethodPost, "/v1/docs/notes/diff", DiffRequest{}, &diff)
	env.mustStatus(t, rec, http.StatusOK)
	if len(diff.Diff) == 0 {
		t.Fatal("full diff is empty")
	}

	// Replaying a known diff is accepted and idempotent.
	var seq SeqResponse
	rec, _ = env.do(t, http.MethodPost, "/v1/docs/notes/updates", SubmitUpdateRequest{Update: base64.StdEncoding.EncodeToString(diff.Diff)}, &seq)
	env.mustStatus(t, rec, http.StatusAccepted)
	if seq.Seq == 0 {
		t.Error("seq = 0")
	}
}

func TestHandler_Errors(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		code   string
	}{
		{"garbage update", http.MethodPost, "/v1/docs/notes/updates", SubmitUpdateRequest{Update: base64.StdEncoding.EncodeToString([]byte("junk"))}, http.StatusBadRequest, "CS-DOC-4001"},
		{"malformed base64 update", http.MethodPost, "/v1/docs/notes/updates", map[string]any{"update": "!!!not-base64"}, http.StatusBadRequest, "CS-DOC-4001"},
		{"empty update", http.MethodPost, "/v1/docs/notes/updates", SubmitUpdateRequest{}, http.StatusBadRequest, "CS-DOC-4001"},
		{"bad origin", http.MethodPost, "/v1/docs/notes/updates", SubmitUpdateRequest{Update: "eA==", Origin: "mars"}, http.StatusBadRequest, "CS-ARG-1001"},
		{"unknown field", http.MethodPost, "/v1/docs/notes/diff", map[string]any{"sv": "AA=="}, http.StatusBadRequest, "CS-ARG-1001"},
		{"mutate uninitialized", http.MethodPost, "/v1/docs/notes/count/increment", nil, http.StatusNotFound, "CS-DOC-4040"},
		{"nested value", http.MethodPost, "/v1/docs/notes/items", map[string]any{"value": []int{1}}, http.StatusBadRequest, "CS-ARG-1001"},
		{"sync without peer", http.MethodPost, "/v1/docs/notes/sync", SyncRequest{}, http.StatusBadRequest, "CS-ARG-1002"},
		{"sync unreachable", http.MethodPost, "/v1/docs/notes/sync", SyncRequest{Peer: "node-c:7400"}, http.StatusBadGateway, "CS-PEER-5020"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, resp := env.do(t, tt.method, tt.path, tt.body, nil)
			env.mustStatus(t, rec, tt.status)
			if resp.Code != tt.code {
				t.Errorf("code = %q, want %q", resp.Code, tt.code)
			}
			if got := rec.Header().Get("X-Error-Code"); got != tt.code {
				t.Errorf("X-Error-Code = %q, want %q", got, tt.code)
			}
		})
	}
}

func TestHandler_Sync(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	peer := env.peers["node-b:7400"]
	if _, err := peer.Initialize(ctx, "notes"); err != nil {
		t.Fatalf("peer Initialize() error = %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := peer.Mutate(ctx, "notes", service.Mutation{Kind: service.MutationIncrement, Delta: 1}); err != nil {
			t.Fatalf("peer Mutate() error = %v", err)
		}
	}

	var res SyncResponse
	rec, _ := env.do(t, http.MethodPost, "/v1/docs/notes/sync", SyncRequest{Peer: "node-b:7400"}, &res)
	env.mustStatus(t, rec, http.StatusOK)
	if res.Result == nil || res.Result.PulledBytes == 0 {
		t.Errorf("sync result = %+v, want pulled bytes", res.Result)
	}

	var snap SnapshotResponse
	env.do(t, http.MethodGet, "/v1/docs/notes/snapshot", nil, &snap)
	root := snap.Snapshot.(map[string]any)["root"].(map[string]any)
	if root["count"] != float64(3) {
		t.Errorf("count after sync = %v, want 3", root["count"])
	}
}

func TestHandler_SyncAll(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPost, "/v1/docs/notes/init", nil, nil)

	var res SyncAllResponse
	rec, _ := env.do(t, http.MethodPost, "/v1/docs/notes/sync/all", nil, &res)
	env.mustStatus(t, rec, http.StatusOK)

	if res.Succeeded != 1 || res.Failed != 1 {
		t.Fatalf("sync/all = %+v, want 1 ok and 1 failed", res)
	}
	if res.Peers[1].Code != "CS-PEER-5020" {
		t.Errorf("failed peer code = %q", res.Peers[1].Code)
	}
}

func TestHandler_Status(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPost, "/v1/docs/a/init", nil, nil)
	env.do(t, http.MethodPost, "/v1/docs/b/init", nil, nil)
	env.do(t, http.MethodPost, "/v1/docs/b/count/increment", nil, nil)

	var st StatusResponse
	rec, _ := env.do(t, http.MethodGet, "/v1/status", nil, &st)
	env.mustStatus(t, rec, http.StatusOK)

	if st.ReplicaID != "csrp-a" {
		t.Errorf("replica_id = %q", st.ReplicaID)
	}
	if len(st.Documents) != 2 {
		t.Fatalf("documents = %d, want 2", len(st.Documents))
	}
	if st.Documents[1].DocID != "b" || st.Documents[1].Pending != 1 {
		t.Errorf("documents[1] = %+v, want b with 1 pending", st.Documents[1])
	}
}

func TestErrorCodeToHTTPStatus(t *testing.T) {
	tests := map[string]int{
		"CS-DOC-4001":  http.StatusBadRequest,
		"CS-DOC-4002":  http.StatusBadRequest,
		"CS-DOC-4040":  http.StatusNotFound,
		"CS-LOCK-4090": http.StatusConflict,
		"CS-SYS-4290":  http.StatusTooManyRequests,
		"CS-SYS-5001":  http.StatusInternalServerError,
		"CS-PEER-5020": http.StatusBadGateway,
		"CS-PEER-5021": http.StatusBadGateway,
		"CS-ARG-1001":  http.StatusBadRequest,
		"CS-SYS-5000":  http.StatusInternalServerError,
	}
	for code, want := range tests {
		if got := ErrorCodeToHTTPStatus(code); got != want {
			t.Errorf("ErrorCodeToHTTPStatus(%q) = %d, want %d", code, got, want)
		}
	}
}
