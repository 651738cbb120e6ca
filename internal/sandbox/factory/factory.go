// Package factory resolves the sandbox backend once at process startup.
package factory

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/webforge-ai/webforge/internal/config"
	"github.com/webforge-ai/webforge/internal/sandbox"
	"github.com/webforge-ai/webforge/internal/sandbox/cloud"
	"github.com/webforge-ai/webforge/internal/sandbox/docker"
	"github.com/webforge-ai/webforge/internal/sandbox/mock"
)

type factory struct {
	backend string
	new     func() (sandbox.Provider, error)
}

func (f *factory) Backend() string                { return f.backend }
func (f *factory) New() (sandbox.Provider, error) { return f.new() }

// New returns a sandbox.Factory for the backend named in cfg.SandboxBackend.
// The selection happens exactly once here; callers mint Provider values
// without re-checking the environment.
func New(cfg *config.Config, logger *zap.Logger) (sandbox.Factory, error) {
	switch cfg.SandboxBackend {
	case "cloud":
		return &factory{
			backend: "cloud",
			new: func() (sandbox.Provider, error) {
				return cloud.NewProvider(cfg, logger), nil
			},
		}, nil
	case "docker":
		// Construct one provider up front so a malformed DOCKER_HOST fails
		// at startup rather than on first sandbox creation.
		if _, err := docker.NewProvider(cfg, logger); err != nil {
			return nil, fmt.Errorf("docker backend unavailable: %w", err)
		}
		return &factory{
			backend: "docker",
			new: func() (sandbox.Provider, error) {
				return docker.NewProvider(cfg, logger)
			},
		}, nil
	case "mock":
		return &mock.Factory{}, nil
	default:
		return nil, fmt.Errorf("unknown sandbox backend %q", cfg.SandboxBackend)
	}
}
