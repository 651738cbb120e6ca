package sandbox

import (
	"errors"
	"fmt"
)

// Sentinel errors for sandbox operations.
var (
	// ErrNotFound indicates the sandbox does not exist.
	ErrNotFound = errors.New("sandbox not found")

	// ErrNoSession indicates the Provider holds no live session.
	ErrNoSession = errors.New("no active sandbox session")

	// ErrCreateConflict indicates a creation is already in flight for the
	// project and no result became available within the grace window.
	ErrCreateConflict = errors.New("sandbox creation already in progress")

	// ErrReconnectTimeout indicates reconnection exceeded its time bound.
	ErrReconnectTimeout = errors.New("sandbox reconnection timed out")

	// ErrReconnectFailed indicates the remote refused or could not resume
	// the session.
	ErrReconnectFailed = errors.New("sandbox reconnection failed")

	// ErrCreateFailed indicates the remote environment rejected creation.
	ErrCreateFailed = errors.New("sandbox creation failed")
)

// FileOpError indicates a file operation exhausted its retry budget.
// It carries the target path and the last underlying cause.
type FileOpError struct {
	Op   string // "write", "read", or "list"
	Path string
	Err  error
}

func (e *FileOpError) Error() string {
	return fmt.Sprintf("sandbox %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *FileOpError) Unwrap() error { return e.Err }

// CommandError indicates a command could not be executed at all
// (as opposed to executing with a non-zero exit code).
type CommandError struct {
	Command string
	Err     error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("sandbox command %q: %v", e.Command, e.Err)
}

func (e *CommandError) Unwrap() error { return e.Err }
