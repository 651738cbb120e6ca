package cloud

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/webforge-ai/webforge/internal/config"
	"github.com/webforge-ai/webforge/internal/sandbox"
)

func testCloudConfig() *config.Config {
	return &config.Config{
		SandboxBackend:   "cloud",
		CloudAPIKey:      "test-key",
		CloudTemplate:    "webforge-vite",
		CloudDomain:      "example.dev",
		WorkDir:          "/home/user/app",
		DevServerPort:    5173,
		DevServerCommand: "npm run dev",
		IdleTimeout:      5 * time.Minute,
	}
}

// commandResponse mimics the data plane's /commands/run reply.
func commandResponse(w http.ResponseWriter, stdout, stderr string, exitCode int) {
	_ = json.NewEncoder(w).Encode(map[string]any{
		"stdout":   stdout,
		"stderr":   stderr,
		"exitCode": exitCode,
	})
}

// newTestProvider points both the control plane and every sandbox's data
// plane at one test server.
func newTestProvider(t *testing.T, handler http.Handler) *Provider {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	p := NewProvider(testCloudConfig(), zap.NewNop())
	p.client.apiBase = ts.URL
	p.client.dataBase = ts.URL
	p.retry.Backoff = time.Millisecond
	return p
}

// connect binds the provider to an existing sandbox so data-plane tests have
// a session to work against.
func connect(t *testing.T, p *Provider, id string) {
	t.Helper()
	ok, err := p.Reconnect(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("reconnect refused")
	}
}

func TestCreateProvisionsSandbox(t *testing.T) {
	var gotKey string
	var gotCreate createRequest

	mux := http.NewServeMux()
	mux.HandleFunc("POST /sandboxes", func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-API-Key")
		if err := json.NewDecoder(r.Body).Decode(&gotCreate); err != nil {
			t.Errorf("decode create request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(createResponse{SandboxID: "sb-1", Domain: "example.dev"})
	})
	mux.HandleFunc("POST /commands/run", func(w http.ResponseWriter, r *http.Request) {
		commandResponse(w, "", "", 0)
	})

	p := newTestProvider(t, mux)
	info, err := p.Create(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if gotKey != "test-key" {
		t.Errorf("X-API-Key = %q", gotKey)
	}
	if gotCreate.TemplateID != "webforge-vite" {
		t.Errorf("templateID = %q", gotCreate.TemplateID)
	}
	if info.SandboxID != "sb-1" {
		t.Errorf("sandboxID = %q", info.SandboxID)
	}
	if want := "https://5173-sb-1.example.dev"; info.URL != want {
		t.Errorf("url = %q, want %q", info.URL, want)
	}
	if info.Backend != "cloud" {
		t.Errorf("backend = %q", info.Backend)
	}
	if p.current() == nil {
		t.Error("provider should hold a session after create")
	}
}

func TestCreateUpstreamError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /sandboxes", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no capacity", http.StatusServiceUnavailable)
	})

	p := newTestProvider(t, mux)
	_, err := p.Create(context.Background())
	if !errors.Is(err, sandbox.ErrCreateFailed) {
		t.Fatalf("expected ErrCreateFailed, got %v", err)
	}
}

func TestReconnect(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /sandboxes/sb-1/connect", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(createResponse{SandboxID: "sb-1"})
	})
	mux.HandleFunc("POST /sandboxes/sb-gone/connect", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	mux.HandleFunc("POST /sandboxes/sb-flaky/connect", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "internal error", http.StatusInternalServerError)
	})

	p := newTestProvider(t, mux)

	ok, err := p.Reconnect(context.Background(), "sb-1")
	if err != nil || !ok {
		t.Fatalf("Reconnect(sb-1) = %v, %v; want true, nil", ok, err)
	}
	if info := p.Info(); info == nil || info.SandboxID != "sb-1" {
		t.Errorf("info after reconnect = %+v", info)
	}

	// A sandbox the control plane no longer knows is a clean refusal, not an
	// error.
	ok, err = p.Reconnect(context.Background(), "sb-gone")
	if err != nil {
		t.Fatalf("Reconnect(sb-gone) error = %v, want nil", err)
	}
	if ok {
		t.Error("Reconnect(sb-gone) = true, want false")
	}

	if _, err := p.Reconnect(context.Background(), "sb-flaky"); err == nil {
		t.Error("server errors should propagate, not read as refusal")
	}
}

func TestTerminate(t *testing.T) {
	var deletes int
	mux := http.NewServeMux()
	mux.HandleFunc("POST /sandboxes/sb-1/connect", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(createResponse{SandboxID: "sb-1"})
	})
	mux.HandleFunc("DELETE /sandboxes/sb-1", func(w http.ResponseWriter, r *http.Request) {
		deletes++
		w.WriteHeader(http.StatusNoContent)
	})

	p := newTestProvider(t, mux)
	connect(t, p, "sb-1")

	if err := p.Terminate(context.Background()); err != nil {
		t.Fatal(err)
	}
	if p.Info() != nil {
		t.Error("session should be cleared after terminate")
	}

	// No session: nothing to do, no request.
	if err := p.Terminate(context.Background()); err != nil {
		t.Fatal(err)
	}
	if deletes != 1 {
		t.Errorf("deletes = %d, want 1", deletes)
	}
}

func TestTerminateAlreadyGoneIsSuccess(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /sandboxes/sb-1/connect", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(createResponse{SandboxID: "sb-1"})
	})
	mux.HandleFunc("DELETE /sandboxes/sb-1", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	p := newTestProvider(t, mux)
	connect(t, p, "sb-1")

	if err := p.Terminate(context.Background()); err != nil {
		t.Fatalf("terminating an already-gone sandbox should succeed: %v", err)
	}
}

func TestRunCommandRequiresSession(t *testing.T) {
	p := newTestProvider(t, http.NewServeMux())
	if _, err := p.RunCommand(context.Background(), "ls"); !errors.Is(err, sandbox.ErrNoSession) {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}
}

func TestRunCommandInWorkDir(t *testing.T) {
	var gotCmd string
	mux := http.NewServeMux()
	mux.HandleFunc("POST /sandboxes/sb-1/connect", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(createResponse{SandboxID: "sb-1"})
	})
	mux.HandleFunc("POST /sandboxes/sb-1/timeout", func(w http.ResponseWriter, r *http.Request) {})
	mux.HandleFunc("POST /commands/run", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Args []string `json:"args"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		if len(req.Args) == 3 {
			gotCmd = req.Args[2]
		}
		commandResponse(w, "v22.0.0", "", 0)
	})

	p := newTestProvider(t, mux)
	connect(t, p, "sb-1")

	res, err := p.RunCommand(context.Background(), "node --version")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success || res.Stdout != "v22.0.0" {
		t.Errorf("result = %+v", res)
	}
	if want := "cd '/home/user/app' && node --version"; gotCmd != want {
		t.Errorf("command = %q, want %q", gotCmd, want)
	}
}

func TestWriteFileFallsBackToCommandChannel(t *testing.T) {
	var mu sync.Mutex
	var filesAttempts, commandAttempts int

	mux := http.NewServeMux()
	mux.HandleFunc("POST /sandboxes/sb-1/connect", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(createResponse{SandboxID: "sb-1"})
	})
	mux.HandleFunc("POST /sandboxes/sb-1/timeout", func(w http.ResponseWriter, r *http.Request) {})
	mux.HandleFunc("POST /files", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		filesAttempts++
		mu.Unlock()
		http.Error(w, "upload failed", http.StatusInternalServerError)
	})
	mux.HandleFunc("POST /commands/run", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		commandAttempts++
		mu.Unlock()
		commandResponse(w, "", "", 0)
	})

	p := newTestProvider(t, mux)
	connect(t, p, "sb-1")

	if err := p.WriteFile(context.Background(), "src/App.jsx", "export default 1"); err != nil {
		t.Fatalf("write should succeed via the command fallback: %v", err)
	}
	if filesAttempts != 1 {
		t.Errorf("files-api attempts = %d, want 1", filesAttempts)
	}
	if commandAttempts != 1 {
		t.Errorf("command attempts = %d, want 1", commandAttempts)
	}
}

func TestWriteFileExhaustsBudget(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /sandboxes/sb-1/connect", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(createResponse{SandboxID: "sb-1"})
	})
	mux.HandleFunc("POST /sandboxes/sb-1/timeout", func(w http.ResponseWriter, r *http.Request) {})
	mux.HandleFunc("POST /files", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upload failed", http.StatusInternalServerError)
	})
	mux.HandleFunc("POST /commands/run", func(w http.ResponseWriter, r *http.Request) {
		commandResponse(w, "", "permission denied", 1)
	})

	p := newTestProvider(t, mux)
	connect(t, p, "sb-1")

	err := p.WriteFile(context.Background(), "src/App.jsx", "x")
	var opErr *sandbox.FileOpError
	if !errors.As(err, &opErr) {
		t.Fatalf("expected FileOpError, got %v", err)
	}
	if opErr.Op != "write" || opErr.Path != "src/App.jsx" {
		t.Errorf("FileOpError = %+v", opErr)
	}
}

func TestReadFile(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /sandboxes/sb-1/connect", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(createResponse{SandboxID: "sb-1"})
	})
	mux.HandleFunc("POST /sandboxes/sb-1/timeout", func(w http.ResponseWriter, r *http.Request) {})
	mux.HandleFunc("GET /files", func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("path"); got != "/home/user/app/package.json" {
			t.Errorf("path = %q", got)
		}
		_, _ = io.WriteString(w, `{"name":"app"}`)
	})

	p := newTestProvider(t, mux)
	connect(t, p, "sb-1")

	content, err := p.ReadFile(context.Background(), "package.json")
	if err != nil {
		t.Fatal(err)
	}
	if content != `{"name":"app"}` {
		t.Errorf("content = %q", content)
	}
}

func TestListFiles(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /sandboxes/sb-1/connect", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(createResponse{SandboxID: "sb-1"})
	})
	mux.HandleFunc("POST /sandboxes/sb-1/timeout", func(w http.ResponseWriter, r *http.Request) {})
	mux.HandleFunc("POST /commands/run", func(w http.ResponseWriter, r *http.Request) {
		commandResponse(w, "package.json\nsrc/App.jsx\nsrc/main.jsx\n", "", 0)
	})

	p := newTestProvider(t, mux)
	connect(t, p, "sb-1")

	files, err := p.ListFiles(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"package.json", "src/App.jsx", "src/main.jsx"}
	if len(files) != len(want) {
		t.Fatalf("files = %v, want %v", files, want)
	}
	for i := range want {
		if files[i] != want[i] {
			t.Errorf("files[%d] = %q, want %q", i, files[i], want[i])
		}
	}
}

func TestIsAlive(t *testing.T) {
	state := "running"
	mux := http.NewServeMux()
	mux.HandleFunc("POST /sandboxes/sb-1/connect", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(createResponse{SandboxID: "sb-1"})
	})
	mux.HandleFunc("GET /sandboxes/sb-1", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(sandboxState{SandboxID: "sb-1", State: state})
	})

	p := newTestProvider(t, mux)

	if p.IsAlive(context.Background()) {
		t.Error("no session should never read as alive")
	}

	connect(t, p, "sb-1")
	if !p.IsAlive(context.Background()) {
		t.Error("running sandbox should be alive")
	}

	state = "paused"
	if p.IsAlive(context.Background()) {
		t.Error("paused sandbox should not be alive")
	}
}

func TestInstallPackagesQuoting(t *testing.T) {
	var gotCmd string
	mux := http.NewServeMux()
	mux.HandleFunc("POST /sandboxes/sb-1/connect", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(createResponse{SandboxID: "sb-1"})
	})
	mux.HandleFunc("POST /sandboxes/sb-1/timeout", func(w http.ResponseWriter, r *http.Request) {})
	mux.HandleFunc("POST /commands/run", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Args []string `json:"args"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		if len(req.Args) == 3 {
			gotCmd = req.Args[2]
		}
		commandResponse(w, "added 2 packages", "", 0)
	})

	p := newTestProvider(t, mux)
	connect(t, p, "sb-1")

	res, err := p.InstallPackages(context.Background(), []string{"axios", "@radix-ui/react-dialog"})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success {
		t.Errorf("result = %+v", res)
	}
	want := fmt.Sprintf("cd '/home/user/app' && npm install --no-audit --no-fund %s %s",
		"'axios'", "'@radix-ui/react-dialog'")
	if gotCmd != want {
		t.Errorf("command = %q, want %q", gotCmd, want)
	}

	// Empty list is a no-op that never touches the network.
	res, err = p.InstallPackages(context.Background(), nil)
	if err != nil || !res.Success {
		t.Errorf("empty install = %+v, %v", res, err)
	}
}
