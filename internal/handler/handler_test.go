package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/webforge-ai/webforge/internal/config"
	"github.com/webforge-ai/webforge/internal/database"
	"github.com/webforge-ai/webforge/internal/events"
	"github.com/webforge-ai/webforge/internal/sandbox"
	"github.com/webforge-ai/webforge/internal/sandbox/mock"
	"github.com/webforge-ai/webforge/internal/service"
	"github.com/webforge-ai/webforge/internal/store"
	"github.com/webforge-ai/webforge/internal/stream"
)

type testEnv struct {
	server  *httptest.Server
	store   *store.Store
	manager *service.Manager
}

func newTestEnv(t *testing.T, factory sandbox.Factory) *testEnv {
	t.Helper()

	cfg := &config.Config{
		SandboxBackend:    "mock",
		DatabaseDriver:    "sqlite",
		DatabaseDSN:       filepath.Join(t.TempDir(), "webforge.db"),
		ReconnectTimeout:  time.Second,
		CreateWaitTimeout: 5 * time.Second,
		SweepInterval:     time.Minute,
		InactivityTimeout: time.Hour,
	}

	db, err := database.New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	s := store.New(db)

	logger := zap.NewNop()
	broker := events.NewBroker()
	manager := service.NewManager(cfg, factory, s, broker, logger)
	t.Cleanup(func() { manager.TerminateAll(context.Background()) })

	h := New(cfg, logger, s, manager, service.NewProjectService(s), service.NewApply(logger), broker)
	ts := httptest.NewServer(h.Routes())
	t.Cleanup(ts.Close)

	return &testEnv{server: ts, store: s, manager: manager}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, e.server.URL+path, reader)
	if err != nil {
		t.Fatal(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatal(err)
	}
	return v
}

func (e *testEnv) createProject(t *testing.T, name string) string {
	t.Helper()
	resp := e.do(t, http.MethodPost, "/api/projects", map[string]string{"name": name})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create project: status %d", resp.StatusCode)
	}
	p := decode[service.Project](t, resp)
	if p.ID == "" {
		t.Fatal("created project has no id")
	}
	return p.ID
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t, &mock.Factory{})
	resp := env.do(t, http.MethodGet, "/healthz", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestProjectLifecycle(t *testing.T) {
	env := newTestEnv(t, &mock.Factory{})

	id := env.createProject(t, "Todo App")

	resp := env.do(t, http.MethodGet, "/api/projects/"+id, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get project: status %d", resp.StatusCode)
	}
	p := decode[service.Project](t, resp)
	if p.Name != "Todo App" {
		t.Errorf("name = %q", p.Name)
	}
	if !strings.HasPrefix(p.Slug, "todo-app-") {
		t.Errorf("slug = %q", p.Slug)
	}

	resp = env.do(t, http.MethodGet, "/api/projects", nil)
	projects := decode[[]service.Project](t, resp)
	if len(projects) != 1 {
		t.Errorf("projects = %d, want 1", len(projects))
	}

	// Empty name is rejected.
	resp = env.do(t, http.MethodPost, "/api/projects", map[string]string{"name": "  "})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty name: status = %d", resp.StatusCode)
	}
}

func TestUnknownProjectIs404(t *testing.T) {
	env := newTestEnv(t, &mock.Factory{})

	for _, path := range []string{
		"/api/projects/nope",
		"/api/projects/nope/sandbox",
	} {
		resp := env.do(t, http.MethodGet, path, nil)
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("GET %s: status = %d, want 404", path, resp.StatusCode)
		}
	}
}

func TestSandboxLifecycleOverHTTP(t *testing.T) {
	env := newTestEnv(t, &mock.Factory{})
	id := env.createProject(t, "Demo")

	// Create.
	resp := env.do(t, http.MethodPost, "/api/projects/"+id+"/sandbox", nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create sandbox: status %d", resp.StatusCode)
	}
	info := decode[sandbox.Info](t, resp)
	if info.SandboxID == "" || info.Backend != "mock" {
		t.Fatalf("info = %+v", info)
	}

	// Status reflects both the live registry and the persisted record.
	resp = env.do(t, http.MethodGet, "/api/projects/"+id+"/sandbox", nil)
	status := decode[map[string]any](t, resp)
	if status["live"] != true {
		t.Errorf("live = %v", status["live"])
	}
	persisted, ok := status["persisted"].(map[string]any)
	if !ok {
		t.Fatalf("persisted missing: %v", status)
	}
	if persisted["sandboxId"] != info.SandboxID {
		t.Errorf("persisted sandboxId = %v", persisted["sandboxId"])
	}

	// Pause, resume.
	if resp := env.do(t, http.MethodPost, "/api/projects/"+id+"/sandbox/pause", nil); resp.StatusCode != http.StatusOK {
		t.Errorf("pause: status %d", resp.StatusCode)
	}
	if resp := env.do(t, http.MethodPost, "/api/projects/"+id+"/sandbox/resume", nil); resp.StatusCode != http.StatusOK {
		t.Errorf("resume: status %d", resp.StatusCode)
	}

	// Kill.
	if resp := env.do(t, http.MethodDelete, "/api/projects/"+id+"/sandbox", nil); resp.StatusCode != http.StatusOK {
		t.Errorf("kill: status %d", resp.StatusCode)
	}
	if env.manager.Count() != 0 {
		t.Errorf("registry size = %d after kill", env.manager.Count())
	}
}

func TestRestartReplacesSandbox(t *testing.T) {
	env := newTestEnv(t, &mock.Factory{})
	id := env.createProject(t, "Demo")

	resp := env.do(t, http.MethodPost, "/api/projects/"+id+"/sandbox", nil)
	first := decode[sandbox.Info](t, resp)

	resp = env.do(t, http.MethodPost, "/api/projects/"+id+"/sandbox/restart", nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("restart: status %d", resp.StatusCode)
	}
	second := decode[sandbox.Info](t, resp)

	if first.SandboxID == second.SandboxID {
		t.Error("restart should provision a fresh sandbox")
	}
	if env.manager.Count() != 1 {
		t.Errorf("registry size = %d, want 1", env.manager.Count())
	}
}

func TestRunCommandEndpoint(t *testing.T) {
	factory := &mock.Factory{NewFunc: func() (sandbox.Provider, error) {
		p := mock.NewProvider()
		p.RunCommandFunc = func(ctx context.Context, cmd string) (*sandbox.CommandResult, error) {
			return &sandbox.CommandResult{Stdout: "ran: " + cmd, Success: true}, nil
		}
		return p, nil
	}}

	env := newTestEnv(t, factory)
	id := env.createProject(t, "Demo")
	env.do(t, http.MethodPost, "/api/projects/"+id+"/sandbox", nil)

	resp := env.do(t, http.MethodPost, "/api/projects/"+id+"/sandbox/commands",
		map[string]string{"command": "npm run lint"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	res := decode[sandbox.CommandResult](t, resp)
	if res.Stdout != "ran: npm run lint" {
		t.Errorf("stdout = %q", res.Stdout)
	}

	// Blank command is rejected before touching the sandbox.
	resp = env.do(t, http.MethodPost, "/api/projects/"+id+"/sandbox/commands",
		map[string]string{"command": "  "})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("blank command: status = %d", resp.StatusCode)
	}
}

func TestFileManifestEndpoint(t *testing.T) {
	env := newTestEnv(t, &mock.Factory{})
	id := env.createProject(t, "Demo")
	env.do(t, http.MethodPost, "/api/projects/"+id+"/sandbox", nil)

	provider, err := env.manager.ActiveProvider()
	if err != nil {
		t.Fatal(err)
	}
	for path, content := range map[string]string{
		"package.json": `{"name":"demo"}`,
		"src/App.jsx":  "export default 1",
	} {
		if err := provider.WriteFile(context.Background(), path, content); err != nil {
			t.Fatal(err)
		}
	}

	resp := env.do(t, http.MethodGet, "/api/projects/"+id+"/sandbox/files?content=true", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	manifest := decode[struct {
		Files []map[string]string `json:"files"`
		Count int                 `json:"count"`
	}](t, resp)
	if manifest.Count != 2 {
		t.Fatalf("count = %d, want 2", manifest.Count)
	}
	for _, f := range manifest.Files {
		if f["content"] == "" {
			t.Errorf("file %q has no content", f["path"])
		}
	}
}

func TestApplyStreamEndpoint(t *testing.T) {
	env := newTestEnv(t, &mock.Factory{})
	id := env.createProject(t, "Demo")
	env.do(t, http.MethodPost, "/api/projects/"+id+"/sandbox", nil)

	response := `<packages>axios</packages>
<file path="src/api.js">
export const api = {}
</file>
<command>npm run lint</command>
<explanation>Adds an API client.</explanation>`

	resp := env.do(t, http.MethodPost, fmt.Sprintf("/api/projects/%s/apply/stream", id),
		map[string]string{"response": response})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content-type = %q", ct)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}

	var eventTypes []string
	var terminal *stream.Event
	for _, line := range strings.Split(string(body), "\n") {
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev stream.Event
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
			t.Fatalf("bad event %q: %v", line, err)
		}
		eventTypes = append(eventTypes, ev.Type)
		if ev.Terminal() {
			terminal = &ev
		}
	}

	if len(eventTypes) == 0 || eventTypes[0] != stream.TypeStart {
		t.Fatalf("event types = %v, want start first", eventTypes)
	}
	if terminal == nil {
		t.Fatal("stream never reached a terminal event")
	}
	if terminal.Type != stream.TypeComplete {
		t.Fatalf("terminal = %+v", terminal)
	}
	if terminal.Results == nil || len(terminal.Results.FilesCreated) != 1 {
		t.Errorf("results = %+v", terminal.Results)
	}
	if terminal.Explanation != "Adds an API client." {
		t.Errorf("explanation = %q", terminal.Explanation)
	}

	// File landed in the sandbox.
	provider, err := env.manager.ActiveProvider()
	if err != nil {
		t.Fatal(err)
	}
	content, err := provider.ReadFile(context.Background(), "src/api.js")
	if err != nil {
		t.Fatal(err)
	}
	if content != "export const api = {}\n" {
		t.Errorf("content = %q", content)
	}
}

func TestApplyStreamRejectsEmptyPlans(t *testing.T) {
	env := newTestEnv(t, &mock.Factory{})
	id := env.createProject(t, "Demo")

	resp := env.do(t, http.MethodPost, fmt.Sprintf("/api/projects/%s/apply/stream", id),
		map[string]string{"response": "no tags here"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestArchiveEndpoint(t *testing.T) {
	env := newTestEnv(t, &mock.Factory{})
	id := env.createProject(t, "Demo")
	env.do(t, http.MethodPost, "/api/projects/"+id+"/sandbox", nil)

	provider, err := env.manager.ActiveProvider()
	if err != nil {
		t.Fatal(err)
	}
	if err := provider.WriteFile(context.Background(), "index.js", "console.log(1)"); err != nil {
		t.Fatal(err)
	}

	resp := env.do(t, http.MethodGet, "/api/projects/"+id+"/sandbox/archive", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/zip" {
		t.Errorf("content-type = %q", ct)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	if len(body) < 4 || string(body[:2]) != "PK" {
		t.Error("body is not a zip archive")
	}
}
