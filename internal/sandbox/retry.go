package sandbox

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const (
	// fileOpAttempts is the total attempt budget shared across all
	// strategies for one file operation.
	fileOpAttempts = 3

	// defaultRetryBackoff is the pause between attempts.
	defaultRetryBackoff = 250 * time.Millisecond
)

// Strategy is one way of performing a remote file operation. Backends
// register an ordered list: the primary structured channel first, then the
// raw command channel as fallback.
type Strategy struct {
	Name string
	Run  func(ctx context.Context) error
}

// RetryPolicy runs file operations with a shared attempt budget over an
// ordered strategy list. Before each attempt it extends the remote session's
// idle-timeout window; extension failures are retryable, never fatal, because
// a session expiring mid-operation surfaces on the attempt itself.
type RetryPolicy struct {
	Logger  *zap.Logger
	Backoff time.Duration // 0 means defaultRetryBackoff

	// Extend widens the session idle-timeout window. May be nil for
	// backends without session timeouts (local Docker containers).
	Extend func(ctx context.Context) error
}

// Do runs the strategies until one succeeds or the attempt budget is spent.
// The first attempt uses the primary strategy; every subsequent attempt uses
// the next strategy in the list, sticking with the last one once the list is
// exhausted. On budget exhaustion it returns a FileOpError carrying op, path,
// and the last cause.
func (r *RetryPolicy) Do(ctx context.Context, op, path string, strategies ...Strategy) error {
	backoff := r.Backoff
	if backoff == 0 {
		backoff = defaultRetryBackoff
	}

	var lastErr error
	for attempt := 0; attempt < fileOpAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return &FileOpError{Op: op, Path: path, Err: ctx.Err()}
			case <-time.After(backoff):
			}
		}

		if r.Extend != nil {
			if err := r.Extend(ctx); err != nil {
				r.Logger.Debug("idle timeout extension failed",
					zap.String("op", op),
					zap.String("path", path),
					zap.Error(err))
			}
		}

		s := strategies[min(attempt, len(strategies)-1)]
		err := s.Run(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		r.Logger.Warn("sandbox file operation attempt failed",
			zap.String("op", op),
			zap.String("path", path),
			zap.String("strategy", s.Name),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}

	return &FileOpError{Op: op, Path: path, Err: lastErr}
}
