// Package docker implements sandbox.Provider on the local Docker daemon.
// Each sandbox is one container running the configured dev-server image,
// with the dev-server port published on a random host port.
package docker

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	cerrdefs "github.com/containerd/errdefs"
	containerTypes "github.com/docker/docker/api/types/container"
	imageTypes "github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
	"go.uber.org/zap"

	"github.com/webforge-ai/webforge/internal/config"
	"github.com/webforge-ai/webforge/internal/sandbox"
	"github.com/webforge-ai/webforge/internal/sysinfo"
)

const (
	// managedLabel marks containers owned by this server.
	managedLabel = "webforge.managed"

	// devServerLogPath is where dev-server output is redirected inside the container.
	devServerLogPath = "/tmp/devserver.log"

	// maxSandboxMemory caps the per-sandbox memory limit.
	maxSandboxMemory = 4 * 1024 * 1024 * 1024
)

// Provider manages one sandbox container at a time.
type Provider struct {
	cfg    *config.Config
	logger *zap.Logger
	client *client.Client
	retry  *sandbox.RetryPolicy

	mu      sync.RWMutex
	session *containerSession
}

// containerSession tracks the live container bound to this Provider value.
type containerSession struct {
	containerID string
	info        *sandbox.Info
}

// NewProvider creates a docker provider holding no session yet.
func NewProvider(cfg *config.Config, logger *zap.Logger) (*Provider, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}

	logger = logger.With(zap.String("component", "docker-provider"))
	p := &Provider{cfg: cfg, logger: logger, client: cli}
	// Local containers have no idle-timeout window to extend.
	p.retry = &sandbox.RetryPolicy{Logger: logger}
	return p, nil
}

// sandboxMemoryLimit derives the per-sandbox memory limit from host memory:
// a quarter of the total, capped at 4GB.
func sandboxMemoryLimit() int64 {
	limit := int64(sysinfo.TotalMemoryBytes() / 4)
	if limit > maxSandboxMemory {
		limit = maxSandboxMemory
	}
	return limit
}

// Create provisions a new sandbox container and starts the dev server in it.
// Any container this value already holds is removed best-effort first.
func (p *Provider) Create(ctx context.Context) (*sandbox.Info, error) {
	if old := p.current(); old != nil {
		if err := p.Terminate(ctx); err != nil {
			p.logger.Warn("failed to remove previous sandbox container",
				zap.String("container_id", old.containerID), zap.Error(err))
		}
	}

	// Best-effort pull; the image may already be present locally.
	if rc, err := p.client.ImagePull(ctx, p.cfg.DockerImage, imageTypes.PullOptions{}); err == nil {
		_, _ = io.Copy(io.Discard, rc)
		_ = rc.Close()
	} else {
		p.logger.Debug("image pull failed, using local image if present",
			zap.String("image", p.cfg.DockerImage), zap.Error(err))
	}

	port := nat.Port(fmt.Sprintf("%d/tcp", p.cfg.DevServerPort))
	created, err := p.client.ContainerCreate(ctx,
		&containerTypes.Config{
			Image:        p.cfg.DockerImage,
			Cmd:          []string{"sleep", "infinity"},
			WorkingDir:   p.cfg.WorkDir,
			Labels:       map[string]string{managedLabel: "true"},
			ExposedPorts: nat.PortSet{port: struct{}{}},
		},
		&containerTypes.HostConfig{
			PortBindings: nat.PortMap{
				port: []nat.PortBinding{{HostIP: "127.0.0.1", HostPort: "0"}},
			},
			Resources: containerTypes.Resources{Memory: sandboxMemoryLimit()},
		},
		nil, nil, "")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", sandbox.ErrCreateFailed, err)
	}

	if err := p.client.ContainerStart(ctx, created.ID, containerTypes.StartOptions{}); err != nil {
		_ = p.client.ContainerRemove(ctx, created.ID, containerTypes.RemoveOptions{Force: true})
		return nil, fmt.Errorf("%w: %v", sandbox.ErrCreateFailed, err)
	}

	if _, err := p.execCommand(ctx, created.ID, fmt.Sprintf("mkdir -p %s", shellQuote(p.cfg.WorkDir))); err != nil {
		p.logger.Warn("failed to create working directory", zap.Error(err))
	}

	url, err := p.hostURL(ctx, created.ID)
	if err != nil {
		_ = p.client.ContainerRemove(ctx, created.ID, containerTypes.RemoveOptions{Force: true})
		return nil, fmt.Errorf("%w: %v", sandbox.ErrCreateFailed, err)
	}

	s := &containerSession{
		containerID: created.ID,
		info: &sandbox.Info{
			SandboxID: created.ID[:12],
			URL:       url,
			Backend:   "docker",
			CreatedAt: time.Now(),
		},
	}

	p.mu.Lock()
	p.session = s
	p.mu.Unlock()

	if err := p.startDevServer(ctx, s); err != nil {
		p.logger.Warn("dev server startup failed",
			zap.String("sandbox_id", s.info.SandboxID), zap.Error(err))
	}

	p.logger.Info("docker sandbox created",
		zap.String("sandbox_id", s.info.SandboxID),
		zap.String("url", url))
	return s.info, nil
}

// Reconnect binds this value to an existing sandbox container, starting it
// if it is stopped. Returns false when the container is gone or was not
// created by this server.
func (p *Provider) Reconnect(ctx context.Context, sandboxID string) (bool, error) {
	info, err := p.client.ContainerInspect(ctx, sandboxID)
	if err != nil {
		if cerrdefs.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("inspect container %s: %w", sandboxID, err)
	}
	if info.Config == nil || info.Config.Labels[managedLabel] != "true" {
		return false, nil
	}

	if !info.State.Running {
		if err := p.client.ContainerStart(ctx, info.ID, containerTypes.StartOptions{}); err != nil {
			return false, fmt.Errorf("start container %s: %w", sandboxID, err)
		}
	}

	url, err := p.hostURL(ctx, info.ID)
	if err != nil {
		return false, err
	}

	p.mu.Lock()
	p.session = &containerSession{
		containerID: info.ID,
		info: &sandbox.Info{
			SandboxID: info.ID[:12],
			URL:       url,
			Backend:   "docker",
			CreatedAt: time.Now(),
		},
	}
	p.mu.Unlock()

	p.logger.Info("reconnected to docker sandbox", zap.String("sandbox_id", sandboxID))
	return true, nil
}

// Pause suspends all processes in the sandbox container.
func (p *Provider) Pause(ctx context.Context) error {
	s := p.current()
	if s == nil {
		return sandbox.ErrNoSession
	}
	if err := p.client.ContainerPause(ctx, s.containerID); err != nil {
		return fmt.Errorf("pause container: %w", err)
	}
	return nil
}

// Resume unpauses the sandbox container.
func (p *Provider) Resume(ctx context.Context) error {
	s := p.current()
	if s == nil {
		return sandbox.ErrNoSession
	}
	if err := p.client.ContainerUnpause(ctx, s.containerID); err != nil {
		return fmt.Errorf("unpause container: %w", err)
	}
	return nil
}

// RunCommand runs a shell command in the working directory.
func (p *Provider) RunCommand(ctx context.Context, cmd string) (*sandbox.CommandResult, error) {
	s := p.current()
	if s == nil {
		return nil, sandbox.ErrNoSession
	}
	res, err := p.execCommand(ctx, s.containerID, fmt.Sprintf("cd %s && %s", shellQuote(p.cfg.WorkDir), cmd))
	if err != nil {
		return nil, &sandbox.CommandError{Command: cmd, Err: err}
	}
	return res, nil
}

// WriteFile writes content to a path relative to the working directory.
// Tar copy is the structured channel; a base64 exec is the fallback.
func (p *Provider) WriteFile(ctx context.Context, path, content string) error {
	s := p.current()
	if s == nil {
		return sandbox.ErrNoSession
	}
	abs := p.absPath(path)

	ctx, cancel := p.fileOpCtx(ctx)
	defer cancel()

	return p.retry.Do(ctx, "write", path,
		sandbox.Strategy{Name: "tar-copy", Run: func(ctx context.Context) error {
			return p.copyFileTo(ctx, s.containerID, abs, content)
		}},
		sandbox.Strategy{Name: "exec", Run: func(ctx context.Context) error {
			encoded := base64.StdEncoding.EncodeToString([]byte(content))
			cmd := fmt.Sprintf("mkdir -p %s && printf '%%s' %s | base64 -d > %s",
				shellQuote(parentDir(abs)), shellQuote(encoded), shellQuote(abs))
			res, err := p.execCommand(ctx, s.containerID, cmd)
			if err != nil {
				return err
			}
			if !res.Success {
				return fmt.Errorf("write exec exited %d: %s", res.ExitCode, res.Stderr)
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
		sandbox.Strategy{Name: "tar-copy", Run: func(ctx context.Context) error {
			var err error
			content, err = p.copyFileFrom(ctx, s.containerID, abs)
			return err
		}},
		sandbox.Strategy{Name: "exec", Run: func(ctx context.Context) error {
			res, err := p.execCommand(ctx, s.containerID, "cat "+shellQuote(abs))
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
	cmd := fmt.Sprintf(
		"cd %s && find . -type f -not -path './node_modules/*' -not -path './.git/*' | sed 's|^\\./||' | sort",
		shellQuote(p.absPath(dir)))

	ctx, cancel := p.fileOpCtx(ctx)
	defer cancel()

	var files []string
	err := p.retry.Do(ctx, "list", dir,
		sandbox.Strategy{Name: "exec", Run: func(ctx context.Context) error {
			res, err := p.execCommand(ctx, s.containerID, cmd)
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

// Terminate force-removes the sandbox container. A not-found error means the
// container is already gone, which counts as success.
func (p *Provider) Terminate(ctx context.Context) error {
	p.mu.Lock()
	s := p.session
	p.session = nil
	p.mu.Unlock()

	if s == nil {
		return nil
	}

	err := p.client.ContainerRemove(ctx, s.containerID, containerTypes.RemoveOptions{Force: true})
	if err != nil && !cerrdefs.IsNotFound(err) {
		return fmt.Errorf("remove container %s: %w", s.containerID, err)
	}

	p.logger.Info("docker sandbox terminated", zap.String("sandbox_id", s.info.SandboxID))
	return nil
}

// IsAlive reports whether the sandbox container is still running.
func (p *Provider) IsAlive(ctx context.Context) bool {
	s := p.current()
	if s == nil {
		return false
	}
	info, err := p.client.ContainerInspect(ctx, s.containerID)
	if err != nil {
		return false
	}
	return info.State != nil && info.State.Running
}

// Info returns the current session's Info, or nil when no session is held.
func (p *Provider) Info() *sandbox.Info {
	s := p.current()
	if s == nil {
		return nil
	}
	return s.info
}

// startDevServer launches the configured dev server detached inside the
// container, then waits the configured startup delay.
func (p *Provider) startDevServer(ctx context.Context, s *containerSession) error {
	cmd := fmt.Sprintf("cd %s && nohup %s > %s 2>&1 &",
		shellQuote(p.cfg.WorkDir), p.cfg.DevServerCommand, devServerLogPath)
	if _, err := p.execCommand(ctx, s.containerID, cmd); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(p.cfg.StartupDelay):
	}
	return nil
}

// execCommand runs a shell command in the container and collects its
// demultiplexed output and exit code.
func (p *Provider) execCommand(ctx context.Context, containerID, cmd string) (*sandbox.CommandResult, error) {
	exec, err := p.client.ContainerExecCreate(ctx, containerID, containerTypes.ExecOptions{
		Cmd:          []string{"/bin/sh", "-c", cmd},
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create exec: %w", err)
	}

	attach, err := p.client.ContainerExecAttach(ctx, exec.ID, containerTypes.ExecAttachOptions{})
	if err != nil {
		return nil, fmt.Errorf("attach exec: %w", err)
	}
	defer attach.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, attach.Reader); err != nil {
		return nil, fmt.Errorf("read exec output: %w", err)
	}

	inspect, err := p.client.ContainerExecInspect(ctx, exec.ID)
	if err != nil {
		return nil, fmt.Errorf("inspect exec: %w", err)
	}

	return &sandbox.CommandResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: inspect.ExitCode,
		Success:  inspect.ExitCode == 0,
	}, nil
}

// copyFileTo writes one file into the container via the tar copy API.
func (p *Provider) copyFileTo(ctx context.Context, containerID, abs, content string) error {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	hdr := &tar.Header{
		Name:    strings.TrimPrefix(abs, "/"),
		Mode:    0644,
		Size:    int64(len(content)),
		ModTime: time.Now(),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	if _, err := tw.Write([]byte(content)); err != nil {
		return err
	}
	if err := tw.Close(); err != nil {
		return err
	}

	return p.client.CopyToContainer(ctx, containerID, "/", &buf, containerTypes.CopyToContainerOptions{})
}

// copyFileFrom reads one file out of the container via the tar copy API.
func (p *Provider) copyFileFrom(ctx context.Context, containerID, abs string) (string, error) {
	rc, _, err := p.client.CopyFromContainer(ctx, containerID, abs)
	if err != nil {
		return "", err
	}
	defer rc.Close()

	tr := tar.NewReader(rc)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return "", fmt.Errorf("file %s not in copy archive", abs)
		}
		if err != nil {
			return "", err
		}
		if hdr.Typeflag == tar.TypeReg {
			data, err := io.ReadAll(tr)
			if err != nil {
				return "", err
			}
			return string(data), nil
		}
	}
}

// hostURL resolves the published host port for the dev-server port.
func (p *Provider) hostURL(ctx context.Context, containerID string) (string, error) {
	info, err := p.client.ContainerInspect(ctx, containerID)
	if err != nil {
		return "", fmt.Errorf("inspect container: %w", err)
	}

	port := nat.Port(fmt.Sprintf("%d/tcp", p.cfg.DevServerPort))
	bindings := info.NetworkSettings.Ports[port]
	if len(bindings) == 0 {
		return "", fmt.Errorf("no host binding for port %s", port)
	}
	return fmt.Sprintf("http://127.0.0.1:%s", bindings[0].HostPort), nil
}

// fileOpCtx bounds one file operation, retries included. A zero configured
// timeout leaves the caller's context untouched.
func (p *Provider) fileOpCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.cfg.FileOpTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, p.cfg.FileOpTimeout)
}

func (p *Provider) current() *containerSession {
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
