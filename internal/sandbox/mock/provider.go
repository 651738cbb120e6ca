// Package mock provides a mock implementation of sandbox.Provider for testing.
package mock

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/webforge-ai/webforge/internal/sandbox"
)

// Provider is a mock sandbox provider for testing. It keeps an in-memory
// filesystem and succeeds on every operation unless a XxxFunc override is set.
type Provider struct {
	mu    sync.RWMutex
	info  *sandbox.Info
	files map[string]string

	// Configurable behaviors for testing
	CreateFunc          func(ctx context.Context) (*sandbox.Info, error)
	ReconnectFunc       func(ctx context.Context, sandboxID string) (bool, error)
	PauseFunc           func(ctx context.Context) error
	ResumeFunc          func(ctx context.Context) error
	RunCommandFunc      func(ctx context.Context, cmd string) (*sandbox.CommandResult, error)
	WriteFileFunc       func(ctx context.Context, path, content string) error
	ReadFileFunc        func(ctx context.Context, path string) (string, error)
	ListFilesFunc       func(ctx context.Context, dir string) ([]string, error)
	InstallPackagesFunc func(ctx context.Context, pkgs []string) (*sandbox.CommandResult, error)
	TerminateFunc       func(ctx context.Context) error
}

// NewProvider creates a new mock provider with default behavior.
func NewProvider() *Provider {
	return &Provider{files: make(map[string]string)}
}

// Factory is a sandbox.Factory producing mock providers.
type Factory struct {
	// NewFunc overrides provider construction when set.
	NewFunc func() (sandbox.Provider, error)
}

// Backend returns the backend tag.
func (f *Factory) Backend() string { return "mock" }

// New returns a fresh mock provider.
func (f *Factory) New() (sandbox.Provider, error) {
	if f.NewFunc != nil {
		return f.NewFunc()
	}
	return NewProvider(), nil
}

// Create creates a mock sandbox session.
func (p *Provider) Create(ctx context.Context) (*sandbox.Info, error) {
	if p.CreateFunc != nil {
		return p.CreateFunc(ctx)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	id := "mock-" + uuid.NewString()[:8]
	p.info = &sandbox.Info{
		SandboxID: id,
		URL:       fmt.Sprintf("https://%s.mock.localhost", id),
		Backend:   "mock",
		CreatedAt: time.Now(),
	}
	p.files = make(map[string]string)
	return p.info, nil
}

// Reconnect binds the mock to an existing sandbox ID.
func (p *Provider) Reconnect(ctx context.Context, sandboxID string) (bool, error) {
	if p.ReconnectFunc != nil {
		return p.ReconnectFunc(ctx, sandboxID)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.info = &sandbox.Info{
		SandboxID: sandboxID,
		URL:       fmt.Sprintf("https://%s.mock.localhost", sandboxID),
		Backend:   "mock",
		CreatedAt: time.Now(),
	}
	return true, nil
}

// Pause suspends the mock session.
func (p *Provider) Pause(ctx context.Context) error {
	if p.PauseFunc != nil {
		return p.PauseFunc(ctx)
	}
	return nil
}

// Resume wakes the mock session.
func (p *Provider) Resume(ctx context.Context) error {
	if p.ResumeFunc != nil {
		return p.ResumeFunc(ctx)
	}
	return nil
}

// RunCommand pretends to run a command and reports success.
func (p *Provider) RunCommand(ctx context.Context, cmd string) (*sandbox.CommandResult, error) {
	if p.RunCommandFunc != nil {
		return p.RunCommandFunc(ctx, cmd)
	}
	return &sandbox.CommandResult{Stdout: "", ExitCode: 0, Success: true}, nil
}

// WriteFile stores content in the in-memory filesystem.
func (p *Provider) WriteFile(ctx context.Context, path, content string) error {
	if p.WriteFileFunc != nil {
		return p.WriteFileFunc(ctx, path, content)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.files[path] = content
	return nil
}

// ReadFile returns content from the in-memory filesystem.
func (p *Provider) ReadFile(ctx context.Context, path string) (string, error) {
	if p.ReadFileFunc != nil {
		return p.ReadFileFunc(ctx, path)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	content, ok := p.files[path]
	if !ok {
		return "", &sandbox.FileOpError{Op: "read", Path: path, Err: sandbox.ErrNotFound}
	}
	return content, nil
}

// ListFiles lists in-memory files under dir in sorted order.
func (p *Provider) ListFiles(ctx context.Context, dir string) ([]string, error) {
	if p.ListFilesFunc != nil {
		return p.ListFilesFunc(ctx, dir)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	var paths []string
	for path := range p.files {
		if dir == "" || dir == "." || dir == "/" || strings.HasPrefix(path, strings.TrimSuffix(dir, "/")+"/") {
			paths = append(paths, path)
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// InstallPackages pretends to install packages and reports success.
func (p *Provider) InstallPackages(ctx context.Context, pkgs []string) (*sandbox.CommandResult, error) {
	if p.InstallPackagesFunc != nil {
		return p.InstallPackagesFunc(ctx, pkgs)
	}
	return &sandbox.CommandResult{
		Stdout:   fmt.Sprintf("added %d packages", len(pkgs)),
		ExitCode: 0,
		Success:  true,
	}, nil
}

// Terminate drops the mock session. Idempotent.
func (p *Provider) Terminate(ctx context.Context) error {
	if p.TerminateFunc != nil {
		return p.TerminateFunc(ctx)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.info = nil
	p.files = make(map[string]string)
	return nil
}

// IsAlive reports whether a mock session exists.
func (p *Provider) IsAlive(ctx context.Context) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.info != nil
}

// Info returns the current mock session info.
func (p *Provider) Info() *sandbox.Info {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.info
}

var _ sandbox.Provider = (*Provider)(nil)
var _ sandbox.Factory = (*Factory)(nil)
