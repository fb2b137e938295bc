package command

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// recordedRequest is a request seen by mockServer.
type recordedRequest struct {
	Method string
	Path   string
	Body   map[string]any
}

// mockServer creates a test HTTP server with custom handlers.
type mockServer struct {
	*httptest.Server
	handlers map[string]http.HandlerFunc

	mu       sync.Mutex
	requests []recordedRequest
}

// newMockServer creates a new mock server.
func newMockServer(t *testing.T) *mockServer {
	m := &mockServer{
		handlers: make(map[string]http.HandlerFunc),
	}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		rec := recordedRequest{Method: r.Method, Path: r.URL.Path}
		if len(raw) > 0 {
			json.Unmarshal(raw, &rec.Body)
		}
		m.mu.Lock()
		m.requests = append(m.requests, rec)
		m.mu.Unlock()

		if h, ok := m.handlers[r.Method+" "+r.URL.Path]; ok {
			h(w, r)
			return
		}
		http.NotFound(w, r)
	}))
	t.Cleanup(m.Close)
	return m
}

// handle registers a handler for "METHOD /path".
func (m *mockServer) handle(pattern string, handler http.HandlerFunc) {
	m.handlers[pattern] = handler
}

// reply registers a handler answering pattern with data in a success envelope.
func (m *mockServer) reply(pattern string, status int, data any) {
	m.handle(pattern, func(w http.ResponseWriter, r *http.Request) {
		jsonResponse(w, status, data)
	})
}

// last returns the most recent request.
func (m *mockServer) last(t *testing.T) recordedRequest {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.requests) == 0 {
		t.Fatal("no request received")
	}
	return m.requests[len(m.requests)-1]
}

// jsonResponse writes data in the server's success envelope.
func jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"code":       "OK",
		"message":    "Success",
		"request_id": "req-test",
		"data":       data,
	})
}

// errorResponse writes an error envelope.
func errorResponse(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Error-Code", code)
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"code":    code,
		"message": message,
	})
}

// runCLI runs the app against server and returns what it printed.
func runCLI(t *testing.T, server *mockServer, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	app := App()
	app.Writer = &out
	app.ErrWriter = io.Discard

	full := append([]string{"crdtsync-cli", "--server", server.URL}, args...)
	err := app.Run(full)
	return out.String(), err
}

// fields collapses each output line's whitespace runs.
func fields(out string) []string {
	var lines []string
	for _, l := range strings.Split(strings.TrimRight(out, "\n"), "\n") {
		lines = append(lines, strings.Join(strings.Fields(l), " "))
	}
	return lines
}
