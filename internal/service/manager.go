// Package service implements sandbox lifecycle management and the
// code-application pipeline on top of the sandbox Provider abstraction.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/webforge-ai/webforge/internal/config"
	"github.com/webforge-ai/webforge/internal/events"
	"github.com/webforge-ai/webforge/internal/model"
	"github.com/webforge-ai/webforge/internal/sandbox"
	"github.com/webforge-ai/webforge/internal/store"
)

// ErrNoActiveSandbox indicates no sandbox is currently marked active.
var ErrNoActiveSandbox = errors.New("no active sandbox")

// StatusStore is the persisted status-sync collaborator consumed by the
// Manager. Write failures are treated as warnings, never propagated: the
// in-memory registry is the authority for whether a sandbox is usable.
type StatusStore interface {
	UpdateSandboxStatus(ctx context.Context, projectID, sandboxID string, status model.SandboxStatus, metadata map[string]string) error
	ActiveSandboxProjects(ctx context.Context) ([]store.ActiveSandbox, error)
	CleanupTerminatedSandboxes(ctx context.Context) (int64, error)
}

// managed is one registry entry. The Manager exclusively owns the Provider
// value; exactly one live entry exists per sandbox ID.
type managed struct {
	provider     sandbox.Provider
	projectID    string
	createdAt    time.Time
	lastAccessed time.Time
}

// Manager is the single source of truth for live sandboxes. It arbitrates
// creation per project, reconnects to existing sandboxes, and sweeps
// inactive ones on a fixed interval.
type Manager struct {
	cfg     *config.Config
	factory sandbox.Factory
	status  StatusStore
	broker  *events.Broker
	logger  *zap.Logger

	mu        sync.Mutex
	sandboxes map[string]*managed
	byProject map[string]string // projectID -> sandboxID
	activeID  string

	// creating shares one in-flight creation per project ID; every
	// concurrent caller for the same key receives the same result.
	creating singleflight.Group

	sweepMu   sync.Mutex
	sweeping  bool
	stopSweep chan struct{}
	sweepDone chan struct{}
}

// NewManager creates a manager. broker may be nil when no lifecycle
// watchers are wired.
func NewManager(cfg *config.Config, factory sandbox.Factory, status StatusStore, broker *events.Broker, logger *zap.Logger) *Manager {
	return &Manager{
		cfg:       cfg,
		factory:   factory,
		status:    status,
		broker:    broker,
		logger:    logger.With(zap.String("component", "sandbox-manager")),
		sandboxes: make(map[string]*managed),
		byProject: make(map[string]string),
	}
}

// CreateSandbox provisions a new sandbox for a project. At most one creation
// is in flight per project: concurrent callers share the one result. A caller
// that waits longer than the configured bound receives ErrCreateConflict.
func (m *Manager) CreateSandbox(ctx context.Context, projectID string) (*sandbox.Info, error) {
	// Creation proceeds on a detached context so one waiter's cancellation
	// cannot abort a result other waiters are sharing.
	ch := m.creating.DoChan(projectID, func() (any, error) {
		return m.createSandbox(context.WithoutCancel(ctx), projectID)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*sandbox.Info), nil
	case <-time.After(m.cfg.CreateWaitTimeout):
		return nil, sandbox.ErrCreateConflict
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *Manager) createSandbox(ctx context.Context, projectID string) (*sandbox.Info, error) {
	provider, err := m.factory.New()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", sandbox.ErrCreateFailed, err)
	}

	info, err := provider.Create(ctx)
	if err != nil {
		if errors.Is(err, sandbox.ErrCreateFailed) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", sandbox.ErrCreateFailed, err)
	}

	m.register(info.SandboxID, provider, projectID)

	m.syncStatus(ctx, projectID, info.SandboxID, model.StatusActive, map[string]string{
		"provider": info.Backend,
		"url":      info.URL,
	})
	m.publish(events.SandboxCreated, projectID, info.SandboxID)

	m.logger.Info("sandbox created",
		zap.String("project_id", projectID),
		zap.String("sandbox_id", info.SandboxID))
	return info, nil
}

// GetOrReconnect returns the Provider for a project's sandbox ID. A registry
// hit is returned directly with no network call; a miss builds a fresh
// Provider and reconnects it under a hard timeout. It never hangs past the
// bound. The entry keeps its project association so a later Terminate syncs
// the persisted record.
func (m *Manager) GetOrReconnect(ctx context.Context, projectID, sandboxID string) (sandbox.Provider, error) {
	m.mu.Lock()
	if entry, ok := m.sandboxes[sandboxID]; ok {
		entry.lastAccessed = time.Now()
		if entry.projectID == "" && projectID != "" {
			entry.projectID = projectID
			m.byProject[projectID] = sandboxID
		}
		m.mu.Unlock()
		return entry.provider, nil
	}
	m.mu.Unlock()

	provider, err := m.factory.New()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", sandbox.ErrReconnectFailed, err)
	}

	ctx, cancel := context.WithTimeout(ctx, m.cfg.ReconnectTimeout)
	defer cancel()

	type result struct {
		ok  bool
		err error
	}
	done := make(chan result, 1)
	go func() {
		ok, err := provider.Reconnect(ctx, sandboxID)
		done <- result{ok, err}
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %s", sandbox.ErrReconnectTimeout, sandboxID)
	case res := <-done:
		if res.err != nil {
			return nil, fmt.Errorf("%w: %v", sandbox.ErrReconnectFailed, res.err)
		}
		if !res.ok {
			return nil, fmt.Errorf("%w: %s", sandbox.ErrReconnectFailed, sandboxID)
		}
	}

	m.register(sandboxID, provider, projectID)
	m.logger.Info("sandbox reconnected",
		zap.String("project_id", projectID),
		zap.String("sandbox_id", sandboxID))
	return provider, nil
}

// RestorePersisted reattaches sandboxes whose persisted records are still
// live, typically at startup. Records whose remote session cannot be
// reconnected are marked terminated so they stop advertising a dead sandbox.
func (m *Manager) RestorePersisted(ctx context.Context) {
	if m.status == nil {
		return
	}

	records, err := m.status.ActiveSandboxProjects(ctx)
	if err != nil {
		m.logger.Warn("listing persisted sandboxes failed", zap.Error(err))
		return
	}

	for _, rec := range records {
		if rec.SandboxID == "" {
			continue
		}
		if _, err := m.GetOrReconnect(ctx, rec.ProjectID, rec.SandboxID); err != nil {
			m.logger.Warn("persisted sandbox not recoverable",
				zap.String("project_id", rec.ProjectID),
				zap.String("sandbox_id", rec.SandboxID),
				zap.Error(err))
			m.syncStatus(ctx, rec.ProjectID, rec.SandboxID, model.StatusTerminated, nil)
			continue
		}
		m.logger.Info("persisted sandbox restored",
			zap.String("project_id", rec.ProjectID),
			zap.String("sandbox_id", rec.SandboxID))
	}
}

// Register adds a sandbox to the registry and marks it active.
func (m *Manager) Register(sandboxID string, provider sandbox.Provider) {
	m.register(sandboxID, provider, "")
}

func (m *Manager) register(sandboxID string, provider sandbox.Provider, projectID string) {
	now := time.Now()

	m.mu.Lock()
	m.sandboxes[sandboxID] = &managed{
		provider:     provider,
		projectID:    projectID,
		createdAt:    now,
		lastAccessed: now,
	}
	if projectID != "" {
		m.byProject[projectID] = sandboxID
	}
	m.activeID = sandboxID
	m.mu.Unlock()
}

// SetActive marks a registered sandbox as the default target. Returns false
// when the ID is not registered.
func (m *Manager) SetActive(sandboxID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.sandboxes[sandboxID]
	if !ok {
		return false
	}
	entry.lastAccessed = time.Now()
	m.activeID = sandboxID
	return true
}

// ActiveProvider returns the Provider of the active sandbox.
func (m *Manager) ActiveProvider() (sandbox.Provider, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.activeID == "" {
		return nil, ErrNoActiveSandbox
	}
	entry, ok := m.sandboxes[m.activeID]
	if !ok {
		return nil, ErrNoActiveSandbox
	}
	entry.lastAccessed = time.Now()
	return entry.provider, nil
}

// Get returns the Provider for a registered sandbox ID.
func (m *Manager) Get(sandboxID string) (sandbox.Provider, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.sandboxes[sandboxID]
	if !ok {
		return nil, sandbox.ErrNotFound
	}
	entry.lastAccessed = time.Now()
	return entry.provider, nil
}

// ProjectSandbox returns the registered sandbox ID for a project, if any.
func (m *Manager) ProjectSandbox(projectID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.byProject[projectID]
	if !ok {
		return "", false
	}
	entry, ok := m.sandboxes[id]
	if !ok {
		return "", false
	}
	entry.lastAccessed = time.Now()
	return id, true
}

// Terminate removes a sandbox: best-effort remote termination, then
// unconditional deregistration. Idempotent; a second call is a no-op. The
// registry never keeps a Provider known to be dead, even when remote
// termination fails.
func (m *Manager) Terminate(ctx context.Context, sandboxID string) {
	m.mu.Lock()
	entry, ok := m.sandboxes[sandboxID]
	if ok {
		delete(m.sandboxes, sandboxID)
		if entry.projectID != "" && m.byProject[entry.projectID] == sandboxID {
			delete(m.byProject, entry.projectID)
		}
		if m.activeID == sandboxID {
			m.activeID = ""
		}
	}
	m.mu.Unlock()

	if !ok {
		return
	}

	if err := entry.provider.Terminate(ctx); err != nil {
		m.logger.Warn("sandbox termination failed",
			zap.String("sandbox_id", sandboxID), zap.Error(err))
	}

	m.syncStatus(ctx, entry.projectID, sandboxID, model.StatusTerminated, nil)
	m.publish(events.SandboxTerminated, entry.projectID, sandboxID)

	m.logger.Info("sandbox terminated", zap.String("sandbox_id", sandboxID))
}

// TerminateAll terminates every registered sandbox in parallel, best-effort.
// The registry is cleared regardless of individual failures.
func (m *Manager) TerminateAll(ctx context.Context) {
	m.mu.Lock()
	entries := make(map[string]*managed, len(m.sandboxes))
	for id, entry := range m.sandboxes {
		entries[id] = entry
	}
	m.sandboxes = make(map[string]*managed)
	m.byProject = make(map[string]string)
	m.activeID = ""
	m.mu.Unlock()

	var g errgroup.Group
	for id, entry := range entries {
		g.Go(func() error {
			if err := entry.provider.Terminate(ctx); err != nil {
				m.logger.Warn("sandbox termination failed",
					zap.String("sandbox_id", id), zap.Error(err))
			}
			m.syncStatus(ctx, entry.projectID, id, model.StatusTerminated, nil)
			m.publish(events.SandboxTerminated, entry.projectID, id)
			return nil
		})
	}
	_ = g.Wait()

	m.logger.Info("all sandboxes terminated", zap.Int("count", len(entries)))
}

// Pause suspends a registered sandbox and records the transition.
func (m *Manager) Pause(ctx context.Context, sandboxID string) error {
	m.mu.Lock()
	entry, ok := m.sandboxes[sandboxID]
	if ok {
		entry.lastAccessed = time.Now()
	}
	m.mu.Unlock()
	if !ok {
		return sandbox.ErrNotFound
	}

	if err := entry.provider.Pause(ctx); err != nil {
		return err
	}

	m.syncStatus(ctx, entry.projectID, sandboxID, model.StatusPaused, nil)
	m.publish(events.SandboxPaused, entry.projectID, sandboxID)
	return nil
}

// Resume wakes a registered sandbox and records the transition.
func (m *Manager) Resume(ctx context.Context, sandboxID string) error {
	m.mu.Lock()
	entry, ok := m.sandboxes[sandboxID]
	if ok {
		entry.lastAccessed = time.Now()
	}
	m.mu.Unlock()
	if !ok {
		return sandbox.ErrNotFound
	}

	if err := entry.provider.Resume(ctx); err != nil {
		return err
	}

	m.syncStatus(ctx, entry.projectID, sandboxID, model.StatusActive, nil)
	m.publish(events.SandboxResumed, entry.projectID, sandboxID)
	return nil
}

// Count returns the number of registered sandboxes.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sandboxes)
}

// Start launches the background inactivity sweep. Idempotent.
func (m *Manager) Start() {
	m.sweepMu.Lock()
	defer m.sweepMu.Unlock()
	if m.sweeping {
		return
	}
	m.sweeping = true
	m.stopSweep = make(chan struct{})
	m.sweepDone = make(chan struct{})
	go m.sweepLoop(m.stopSweep, m.sweepDone)
}

// Stop halts the sweep and terminates every registered sandbox best-effort.
// Idempotent; safe to call without a prior Start.
func (m *Manager) Stop(ctx context.Context) {
	m.sweepMu.Lock()
	if m.sweeping {
		m.sweeping = false
		close(m.stopSweep)
		<-m.sweepDone
	}
	m.sweepMu.Unlock()

	m.TerminateAll(ctx)
}

// sweepLoop terminates sandboxes whose last access exceeds the inactivity
// threshold. A coarse safety net: pausing is an explicit provider operation
// driven by application logic, not by this sweep.
func (m *Manager) sweepLoop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.sweepOnce()
		}
	}
}

func (m *Manager) sweepOnce() {
	cutoff := time.Now().Add(-m.cfg.InactivityTimeout)

	m.mu.Lock()
	var expired []string
	for id, entry := range m.sandboxes {
		if entry.lastAccessed.Before(cutoff) {
			expired = append(expired, id)
		}
	}
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	for _, id := range expired {
		m.logger.Info("sweeping inactive sandbox", zap.String("sandbox_id", id))
		m.Terminate(ctx, id)
	}

	if m.status != nil {
		if n, err := m.status.CleanupTerminatedSandboxes(ctx); err != nil {
			m.logger.Warn("terminated-record cleanup failed", zap.Error(err))
		} else if n > 0 {
			m.logger.Debug("cleaned up terminated sandbox records", zap.Int64("count", n))
		}
	}
}

// syncStatus mirrors a lifecycle transition to the persisted store. Failures
// are logged and swallowed: losing the write must never block or corrupt an
// in-progress session.
func (m *Manager) syncStatus(ctx context.Context, projectID, sandboxID string, status model.SandboxStatus, metadata map[string]string) {
	if m.status == nil || projectID == "" {
		return
	}
	if err := m.status.UpdateSandboxStatus(ctx, projectID, sandboxID, status, metadata); err != nil {
		m.logger.Warn("sandbox status sync failed",
			zap.String("project_id", projectID),
			zap.String("sandbox_id", sandboxID),
			zap.String("status", string(status)),
			zap.Error(err))
	}
}

func (m *Manager) publish(kind, projectID, sandboxID string) {
	if m.broker == nil {
		return
	}
	m.broker.Publish(events.Event{Kind: kind, ProjectID: projectID, SandboxID: sandboxID})
}
