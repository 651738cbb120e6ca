// Package cloud implements sandbox.Provider against a remote sandbox service
// over plain HTTP: a control plane for lifecycle (create, pause, connect,
// delete, timeout extension) and a per-sandbox data plane for file and
// command I/O.
package cloud

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/webforge-ai/webforge/internal/config"
	"github.com/webforge-ai/webforge/internal/sandbox"
)

const httpTimeout = 60 * time.Second

// Provider manages one remote cloud sandbox session at a time.
type Provider struct {
	cfg    *config.Config
	logger *zap.Logger
	client *client
	retry  *sandbox.RetryPolicy

	mu      sync.RWMutex
	session *session
}

// session tracks the live remote sandbox bound to this Provider value.
type session struct {
	id     string
	domain string
	info   *sandbox.Info
}

// NewProvider creates a cloud provider holding no session yet.
func NewProvider(cfg *config.Config, logger *zap.Logger) *Provider {
	logger = logger.With(zap.String("component", "cloud-provider"))
	p := &Provider{
		cfg:    cfg,
		logger: logger,
		client: &client{
			apiBase: strings.TrimSuffix(cfg.CloudAPIBase, "/"),
			apiKey:  cfg.CloudAPIKey,
			http:    &http.Client{Timeout: httpTimeout},
		},
	}
	p.retry = &sandbox.RetryPolicy{
		Logger: logger,
		Extend: p.extendTimeout,
	}
	return p
}

// Create provisions a new remote sandbox and starts the dev server in it.
// Any session this value already holds is terminated best-effort first.
func (p *Provider) Create(ctx context.Context) (*sandbox.Info, error) {
	if old := p.current(); old != nil {
		if err := p.Terminate(ctx); err != nil {
			p.logger.Warn("failed to terminate previous sandbox",
				zap.String("sandbox_id", old.id), zap.Error(err))
		}
	}

	req := createRequest{
		TemplateID: p.cfg.CloudTemplate,
		Timeout:    int(p.cfg.IdleTimeout.Seconds()),
		Metadata:   map[string]string{"managed-by": "webforge"},
	}
	var resp createResponse
	if err := p.client.controlPlane(ctx, http.MethodPost, "/sandboxes", req, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", sandbox.ErrCreateFailed, err)
	}

	domain := resp.Domain
	if domain == "" {
		domain = p.cfg.CloudDomain
	}

	s := &session{
		id:     resp.SandboxID,
		domain: domain,
		info: &sandbox.Info{
			SandboxID: resp.SandboxID,
			URL:       fmt.Sprintf("https://%d-%s.%s", p.cfg.DevServerPort, resp.SandboxID, domain),
			Backend:   "cloud",
			CreatedAt: time.Now(),
		},
	}

	p.mu.Lock()
	p.session = s
	p.mu.Unlock()

	if err := p.startDevServer(ctx, s); err != nil {
		p.logger.Warn("dev server startup failed", zap.String("sandbox_id", s.id), zap.Error(err))
	}

	p.logger.Info("cloud sandbox created",
		zap.String("sandbox_id", s.id),
		zap.String("url", s.info.URL))
	return s.info, nil
}

// Reconnect binds this value to an existing remote sandbox, resuming it if
// it is paused. Returns false when the control plane no longer knows the ID.
func (p *Provider) Reconnect(ctx context.Context, sandboxID string) (bool, error) {
	req := connectRequest{Timeout: int(p.cfg.IdleTimeout.Seconds())}
	var resp createResponse
	err := p.client.controlPlane(ctx, http.MethodPost, "/sandboxes/"+sandboxID+"/connect", req, &resp)
	if err != nil {
		var apiErr *apiError
		if asAPIError(err, &apiErr) && (apiErr.Status == http.StatusNotFound || apiErr.Status == http.StatusGone) {
			return false, nil
		}
		return false, fmt.Errorf("connect sandbox %s: %w", sandboxID, err)
	}

	domain := resp.Domain
	if domain == "" {
		domain = p.cfg.CloudDomain
	}

	p.mu.Lock()
	p.session = &session{
		id:     sandboxID,
		domain: domain,
		info: &sandbox.Info{
			SandboxID: sandboxID,
			URL:       fmt.Sprintf("https://%d-%s.%s", p.cfg.DevServerPort, sandboxID, domain),
			Backend:   "cloud",
			CreatedAt: time.Now(),
		},
	}
	p.mu.Unlock()

	p.logger.Info("reconnected to cloud sandbox", zap.String("sandbox_id", sandboxID))
	return true, nil
}

// Pause suspends the remote session, preserving its filesystem.
func (p *Provider) Pause(ctx context.Context) error {
	s := p.current()
	if s == nil {
		return sandbox.ErrNoSession
	}
	if err := p.client.controlPlane(ctx, http.MethodPost, "/sandboxes/"+s.id+"/pause", nil, nil); err != nil {
		return fmt.Errorf("pause sandbox %s: %w", s.id, err)
	}
	return nil
}

// Resume wakes a paused session.
func (p *Provider) Resume(ctx context.Context) error {
	s := p.current()
	if s == nil {
		return sandbox.ErrNoSession
	}
	req := connectRequest{Timeout: int(p.cfg.IdleTimeout.Seconds())}
	if err := p.client.controlPlane(ctx, http.MethodPost, "/sandboxes/"+s.id+"/connect", req, nil); err != nil {
		return fmt.Errorf("resume sandbox %s: %w", s.id, err)
	}
	return nil
}

// RunCommand runs a shell command in the sandbox working directory.
func (p *Provider) RunCommand(ctx context.Context, cmd string) (*sandbox.CommandResult, error) {
	s := p.current()
	if s == nil {
		return nil, sandbox.ErrNoSession
	}

	if err := p.extendTimeout(ctx); err != nil {
		p.logger.Debug("idle timeout extension failed", zap.Error(err))
	}

	res, err := p.client.runCommand(ctx, s, fmt.Sprintf("cd %s && %s", shellQuote(p.cfg.WorkDir), cmd))
	if err != nil {
		return nil, &sandbox.CommandError{Command: cmd, Err: err}
	}
	return res, nil
}

// WriteFile writes content to a path relative to the working directory.
// The structured /files channel is tried first, the raw command channel as
// fallback, with a shared attempt budget.
func (p *Provider) WriteFile(ctx context.Context, path, content string) error {
	s := p.current()
	if s == nil {
		return sandbox.ErrNoSession
	}
	abs := p.absPath(path)

	ctx, cancel := p.fileOpCtx(ctx)
	defer cancel()

	return p.retry.Do(ctx, "write", path,
		sandbox.Strategy{Name: "files-api", Run: func(ctx context.Context) error {
			return p.client.writeFile(ctx, s, abs, content)
		}},
		sandbox.Strategy{Name: "command", Run: func(ctx context.Context) error {
			cmd := fmt.Sprintf("mkdir -p %s && printf '%%s' %s > %s",
				shellQuote(parentDir(abs)), shellQuote(content), shellQuote(abs))
			res, err := p.client.runCommand(ctx, s, cmd)
			if err != nil {
				return err
			}
			if !res.Success {
				return fmt.Errorf("write command exited %d: %s", res.ExitCode, res.Stderr)
			}
			return nil
		}},
	)
}

// ReadFile returns the content of a file relative to the working directory.
func (p *Provider) ReadFile(ctx context.Context, path string) (string, error) {
	s := p.current()
	if s == nil {
		return "", sandbox.ErrNoSession
	}
	abs := p.absPath(path)

	ctx, cancel := p.fileOpCtx(ctx)
	defer cancel()

	var content string
	err := p.retry.Do(ctx, "read", path,
		sandbox.Strategy{Name: "files-api", Run: func(ctx context.Context) error {
			var err error
			content, err = p.client.readFile(ctx, s, abs)
			return err
		}},
		sandbox.Strategy{Name: "command", Run: func(ctx context.Context) error {
			res, err := p.client.runCommand(ctx, s, "cat "+shellQuote(abs))
			if err != nil {
				return err
			}
			if !res.Success {
				return fmt.Errorf("cat exited %d: %s", res.ExitCode, res.Stderr)
			}
			content = res.Stdout
			return nil
		}},
	)
	if err != nil {
		return "", err
	}
	return content, nil
}

// ListFiles returns the relative paths of regular files under dir, skipping
// node_modules and VCS internals.
func (p *Provider) ListFiles(ctx context.Context, dir string) ([]string, error) {
	s := p.current()
	if s == nil {
		return nil, sandbox.ErrNoSession
	}
	abs := p.absPath(dir)
	cmd := fmt.Sprintf(
		"cd %s && find . -type f -not -path './node_modules/*' -not -path './.git/*' | sed 's|^\\./||' | sort",
		shellQuote(abs))

	ctx, cancel := p.fileOpCtx(ctx)
	defer cancel()

	var files []string
	err := p.retry.Do(ctx, "list", dir,
		sandbox.Strategy{Name: "command", Run: func(ctx context.Context) error {
			res, err := p.client.runCommand(ctx, s, cmd)
			if err != nil {
				return err
			}
			if !res.Success {
				return fmt.Errorf("find exited %d: %s", res.ExitCode, res.Stderr)
			}
			files = splitLines(res.Stdout)
			return nil
		}},
	)
	if err != nil {
		return nil, err
	}
	return files, nil
}

// InstallPackages installs npm packages in the working directory.
func (p *Provider) InstallPackages(ctx context.Context, pkgs []string) (*sandbox.CommandResult, error) {
	if len(pkgs) == 0 {
		return &sandbox.CommandResult{Success: true}, nil
	}
	quoted := make([]string, len(pkgs))
	for i, pkg := range pkgs {
		quoted[i] = shellQuote(pkg)
	}
	return p.RunCommand(ctx, "npm install --no-audit --no-fund "+strings.Join(quoted, " "))
}

// Terminate destroys the remote session. A control-plane 404 means the
// sandbox is already gone, which counts as success.
func (p *Provider) Terminate(ctx context.Context) error {
	p.mu.Lock()
	s := p.session
	p.session = nil
	p.mu.Unlock()

	if s == nil {
		return nil
	}

	err := p.client.controlPlane(ctx, http.MethodDelete, "/sandboxes/"+s.id, nil, nil)
	if err != nil {
		var apiErr *apiError
		if asAPIError(err, &apiErr) && apiErr.Status == http.StatusNotFound {
			return nil
		}
		return fmt.Errorf("terminate sandbox %s: %w", s.id, err)
	}

	p.logger.Info("cloud sandbox terminated", zap.String("sandbox_id", s.id))
	return nil
}

// IsAlive reports whether the control plane still considers the session running.
func (p *Provider) IsAlive(ctx context.Context) bool {
	s := p.current()
	if s == nil {
		return false
	}
	var state sandboxState
	if err := p.client.controlPlane(ctx, http.MethodGet, "/sandboxes/"+s.id, nil, &state); err != nil {
		return false
	}
	return state.State == "running"
}

// Info returns the current session's Info, or nil when no session is held.
func (p *Provider) Info() *sandbox.Info {
	s := p.current()
	if s == nil {
		return nil
	}
	return s.info
}

// extendTimeout widens the remote session's idle-timeout window. Operations
// are not atomic with the extension, so a session expiring mid-operation
// surfaces as a retryable failure on the operation itself.
func (p *Provider) extendTimeout(ctx context.Context) error {
	s := p.current()
	if s == nil {
		return sandbox.ErrNoSession
	}
	req := timeoutRequest{Timeout: int(p.cfg.IdleTimeout.Seconds())}
	return p.client.controlPlane(ctx, http.MethodPost, "/sandboxes/"+s.id+"/timeout", req, nil)
}

// startDevServer launches the configured dev server detached, redirecting
// output to the sandbox log path, then waits the configured startup delay.
func (p *Provider) startDevServer(ctx context.Context, s *session) error {
	cmd := fmt.Sprintf("cd %s && nohup %s > /tmp/devserver.log 2>&1 &",
		shellQuote(p.cfg.WorkDir), p.cfg.DevServerCommand)
	if _, err := p.client.runCommand(ctx, s, cmd); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(p.cfg.StartupDelay):
	}
	return nil
}

// fileOpCtx bounds one file operation, retries included. A zero configured
// timeout leaves the caller's context untouched.
func (p *Provider) fileOpCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.cfg.FileOpTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, p.cfg.FileOpTimeout)
}

func (p *Provider) current() *session {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.session
}

func (p *Provider) absPath(path string) string {
	if strings.HasPrefix(path, "/") {
		return path
	}
	return strings.TrimSuffix(p.cfg.WorkDir, "/") + "/" + path
}

func parentDir(path string) string {
	idx := strings.LastIndex(path, "/")
	if idx <= 0 {
		return "/"
	}
	return path[:idx]
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func splitLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

var _ sandbox.Provider = (*Provider)(nil)
