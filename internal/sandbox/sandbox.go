// Package sandbox provides an abstraction for remote sandbox execution
// environments. Each project gets one dedicated sandbox hosting a working
// directory and a running dev server, managed through the Provider interface.
package sandbox

import (
	"context"
	"time"
)

// Info identifies one remote sandbox environment. It is immutable after
// creation; reconnecting replaces the whole value rather than mutating it.
type Info struct {
	SandboxID string    `json:"sandboxId"` // Opaque ID assigned by the backend
	URL       string    `json:"url"`       // Reachable endpoint for the dev-server port
	Backend   string    `json:"provider"`  // Which backend created it (cloud, docker, mock)
	CreatedAt time.Time `json:"createdAt"`
}

// CommandResult contains the outcome of a command run inside a sandbox.
type CommandResult struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exitCode"`
	Success  bool   `json:"success"`
}

// Provider abstracts a sandbox backend. A Provider value owns at most one
// live remote session at a time and is never shared across sandbox IDs;
// reconnecting binds the value to an existing remote session wholesale.
type Provider interface {
	// Create provisions a new sandbox and starts its dev server.
	// Any session the value already holds is terminated best-effort first.
	Create(ctx context.Context) (*Info, error)

	// Reconnect binds this value to an already-existing remote sandbox
	// without creating a new session. Returns false when the remote
	// explicitly refuses or no longer knows the ID.
	Reconnect(ctx context.Context, sandboxID string) (bool, error)

	// Pause suspends the remote session, preserving its filesystem.
	Pause(ctx context.Context) error

	// Resume wakes a paused session.
	Resume(ctx context.Context) error

	// RunCommand runs a shell command in the sandbox working directory.
	// A non-zero exit code is reported in the result, not as an error.
	RunCommand(ctx context.Context, cmd string) (*CommandResult, error)

	// WriteFile writes content to a path inside the sandbox, creating
	// parent directories as needed.
	WriteFile(ctx context.Context, path, content string) error

	// ReadFile returns the content of a file inside the sandbox.
	ReadFile(ctx context.Context, path string) (string, error)

	// ListFiles returns the relative paths of all regular files under dir.
	ListFiles(ctx context.Context, dir string) ([]string, error)

	// InstallPackages installs npm packages in the sandbox working directory.
	InstallPackages(ctx context.Context, pkgs []string) (*CommandResult, error)

	// Terminate destroys the remote session. Idempotent.
	Terminate(ctx context.Context) error

	// IsAlive reports whether the session is still serviceable.
	IsAlive(ctx context.Context) bool

	// Info returns the current session's Info, or nil when no session is held.
	Info() *Info
}
