package command

import (
	"encoding/base64"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDocCommand(t *testing.T) {
	cmd := DocCommand()
	if cmd.Name != "doc" {
		t.Errorf("Name = %q, want %q", cmd.Name, "doc")
	}

	subNames := make(map[string]bool)
	for _, sub := range cmd.Subcommands {
		subNames[sub.Name] = true
		if sub.Action == nil {
			t.Errorf("%s command should have an action", sub.Name)
		}
	}
	for _, name := range []string{"init", "show", "sv", "diff", "submit", "compact", "sync", "incr", "set", "append"} {
		if !subNames[name] {
			t.Errorf("missing subcommand: %s", name)
		}
	}
}

func TestDocShow(t *testing.T) {
	server := newMockServer(t)
	server.reply("GET /v1/docs/alpha/snapshot", http.StatusOK, map[string]any{
		"doc_id": "alpha",
		"snapshot": map[string]any{
			"root":  map[string]any{"count": 3, "message": "hello"},
			"items": []any{7},
		},
	})

	out, err := runCLI(t, server, "doc", "show", "alpha")
	if err != nil {
		t.Fatalf("doc show error = %v", err)
	}

	want := []string{"PATH VALUE", "items[0] 7", "root.count 3", "root.message hello"}
	if got := fields(out); strings.Join(got, "\n") != strings.Join(want, "\n") {
		t.Errorf("output =\n%s\nwant\n%s", strings.Join(got, "\n"), strings.Join(want, "\n"))
	}
}

func TestDocShow_NoSnapshot(t *testing.T) {
	server := newMockServer(t)
	server.reply("GET /v1/docs/alpha/snapshot", http.StatusOK, map[string]any{"doc_id": "alpha", "snapshot": nil})

	_, err := runCLI(t, server, "doc", "show", "alpha")
	if err == nil || !strings.Contains(err.Error(), "no snapshot") {
		t.Errorf("expected no snapshot error, got %v", err)
	}
}

func TestDocCommands_MissingArgs(t *testing.T) {
	server := newMockServer(t)

	tests := []struct {
		args []string
		want string
	}{
		{[]string{"doc", "show"}, "DOC_ID required"},
		{[]string{"doc", "set", "alpha"}, "KEY required"},
		{[]string{"doc", "set", "alpha", "title"}, "VALUE required"},
		{[]string{"doc", "append", "alpha"}, "VALUE required"},
		{[]string{"doc", "sync", "alpha"}, "--peer or --all required"},
		{[]string{"doc", "sync", "--peer", "b:7400", "--all", "alpha"}, "mutually exclusive"},
		{[]string{"doc", "submit", "alpha"}, "--file or --data required"},
		{[]string{"doc", "diff", "--sv", "!!", "alpha"}, "invalid --sv"},
	}

	for _, tt := range tests {
		t.Run(strings.Join(tt.args, " "), func(t *testing.T) {
			_, err := runCLI(t, server, tt.args...)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %v, want %q", err, tt.want)
			}
		})
	}
}

func TestDocIncrement(t *testing.T) {
	server := newMockServer(t)
	server.reply("POST /v1/docs/alpha/count/increment", http.StatusOK, map[string]any{"seq": 5})

	out, err := runCLI(t, server, "doc", "incr", "--delta", "3", "--key", "hits", "alpha")
	if err != nil {
		t.Fatalf("doc incr error = %v", err)
	}

	req := server.last(t)
	if req.Body["delta"] != float64(3) || req.Body["key"] != "hits" {
		t.Errorf("request body = %v", req.Body)
	}
	if fields(out)[1] != "seq 5" {
		t.Errorf("output = %q", out)
	}
}

func TestDocSetAndAppend(t *testing.T) {
	server := newMockServer(t)
	server.reply("PUT /v1/docs/alpha/fields/title", http.StatusOK, map[string]any{"seq": 1})
	server.reply("POST /v1/docs/alpha/items", http.StatusOK, map[string]any{"seq": 2})

	tests := []struct {
		args []string
		want any
	}{
		{[]string{"doc", "set", "alpha", "title", "hello world"}, "hello world"},
		{[]string{"doc", "set", "alpha", "title", `"7"`}, "7"},
		{[]string{"doc", "set", "alpha", "title", "true"}, true},
		{[]string{"doc", "append", "alpha", "42"}, float64(42)},
	}

	for _, tt := range tests {
		t.Run(strings.Join(tt.args, " "), func(t *testing.T) {
			if _, err := runCLI(t, server, tt.args...); err != nil {
				t.Fatalf("run error = %v", err)
			}
			if got := server.last(t).Body["value"]; got != tt.want {
				t.Errorf("value = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestDocSync(t *testing.T) {
	server := newMockServer(t)
	server.reply("POST /v1/docs/alpha/sync", http.StatusOK, map[string]any{
		"peer":   "node-b:7400",
		"result": map[string]any{"pulled_bytes": 10, "pushed_bytes": 0},
	})

	out, err := runCLI(t, server, "doc", "sync", "-p", "node-b:7400", "alpha")
	if err != nil {
		t.Fatalf("doc sync error = %v", err)
	}
	if server.last(t).Body["peer"] != "node-b:7400" {
		t.Errorf("request body = %v", server.last(t).Body)
	}
	if !strings.Contains(out, "result.pulled_bytes") {
		t.Errorf("output = %q", out)
	}
}

func TestDocSyncAll_PartialFailure(t *testing.T) {
	server := newMockServer(t)
	server.reply("POST /v1/docs/alpha/sync/all", http.StatusOK, map[string]any{
		"peers": []any{
			map[string]any{"peer": "node-b:7400", "result": map[string]any{"pulled_bytes": 1}},
			map[string]any{"peer": "node-c:7400", "code": "CS-PEER-5020", "error": "peer unreachable"},
		},
		"succeeded": 1,
		"failed":    1,
	})

	out, err := runCLI(t, server, "doc", "sync", "--all", "alpha")
	if err == nil || !strings.Contains(err.Error(), "1 of 2 peers failed") {
		t.Errorf("error = %v, want partial failure", err)
	}
	if !strings.Contains(out, "CS-PEER-5020") || !strings.Contains(out, "node-b:7400") {
		t.Errorf("output = %q", out)
	}
}

func TestDocSubmit(t *testing.T) {
	server := newMockServer(t)
	server.reply("POST /v1/docs/alpha/updates", http.StatusAccepted, map[string]any{"seq": 9})

	payload := []byte{0x01, 0x02, 0x03}
	path := filepath.Join(t.TempDir(), "update.bin")
	if err := os.WriteFile(path, payload, 0o600); err != nil {
		t.Fatal(err)
	}

	for _, args := range [][]string{
		{"doc", "submit", "--file", path, "--origin", "pull", "alpha"},
		{"doc", "submit", "--data", base64.StdEncoding.EncodeToString(payload), "--origin", "pull", "alpha"},
	} {
		if _, err := runCLI(t, server, args...); err != nil {
			t.Fatalf("doc submit error = %v", err)
		}
		req := server.last(t)
		if req.Body["update"] != base64.StdEncoding.EncodeToString(payload) || req.Body["origin"] != "pull" {
			t.Errorf("request body = %v", req.Body)
		}
	}
}

func TestDocDiff_WritesFile(t *testing.T) {
	server := newMockServer(t)
	server.reply("POST /v1/docs/alpha/diff", http.StatusOK, map[string]any{"diff": []byte("update")})

	path := filepath.Join(t.TempDir(), "diff.bin")
	out, err := runCLI(t, server, "doc", "diff", "--sv", base64.StdEncoding.EncodeToString([]byte{1}), "--out", path, "alpha")
	if err != nil {
		t.Fatalf("doc diff error = %v", err)
	}

	got, err := os.ReadFile(path)
	if err != nil || string(got) != "update" {
		t.Errorf("file = %q, %v", got, err)
	}
	if !strings.Contains(out, "wrote 6 bytes") {
		t.Errorf("output = %q", out)
	}
	if server.last(t).Body["state_vector"] != "AQ==" {
		t.Errorf("request body = %v", server.last(t).Body)
	}
}

func TestDocStateVector(t *testing.T) {
	server := newMockServer(t)
	server.reply("GET /v1/docs/alpha/sv", http.StatusOK, map[string]any{"state_vector": []byte{1, 2}})

	out, err := runCLI(t, server, "-o", "yaml", "doc", "sv", "alpha")
	if err != nil {
		t.Fatalf("doc sv error = %v", err)
	}
	if out != "bytes: 2\nstate_vector: AQI=\n" {
		t.Errorf("output = %q", out)
	}
}

func TestDocCompact_ServerError(t *testing.T) {
	server := newMockServer(t)
	server.handle("POST /v1/docs/alpha/compact", func(w http.ResponseWriter, r *http.Request) {
		errorResponse(w, http.StatusConflict, "CS-LOCK-4090", "lock timeout")
	})

	_, err := runCLI(t, server, "doc", "compact", "alpha")
	if err == nil || !strings.Contains(err.Error(), "[CS-LOCK-4090] lock timeout") {
		t.Errorf("error = %v", err)
	}
}

func TestDocPath_Escapes(t *testing.T) {
	if got := docPath("a b", "/sv"); got != "/v1/docs/a%20b/sv" {
		t.Errorf("docPath() = %q", got)
	}
}
