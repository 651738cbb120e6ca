// Package store persists projects and sandbox records. It is the durability
// mirror for sandbox lifecycle state, eventually consistent relative to the
// in-memory registry.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/webforge-ai/webforge/internal/model"
)

// ErrNotFound indicates the requested record does not exist.
var ErrNotFound = errors.New("record not found")

// Store wraps the gorm connection.
type Store struct {
	db *gorm.DB
}

// New creates a store backed by db.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// ActiveSandbox summarizes a project with a live persisted sandbox record.
type ActiveSandbox struct {
	ProjectID  string              `json:"id"`
	SandboxID  string              `json:"sandboxId"`
	Status     model.SandboxStatus `json:"status"`
	LastActive time.Time           `json:"lastActive"`
}

// UpdateSandboxStatus upserts the sandbox record for a project. A project
// has at most one record; a new sandbox for the same project replaces it.
func (s *Store) UpdateSandboxStatus(ctx context.Context, projectID, sandboxID string, status model.SandboxStatus, metadata map[string]string) error {
	rec := &model.SandboxRecord{
		ProjectID:  projectID,
		SandboxID:  sandboxID,
		Status:     status,
		LastActive: time.Now(),
	}
	if metadata != nil {
		rec.Backend = metadata["provider"]
		rec.URL = metadata["url"]
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "project_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"sandbox_id", "backend", "url", "status", "last_active", "updated_at",
		}),
	}).Create(rec).Error
	if err != nil {
		return fmt.Errorf("upsert sandbox record: %w", err)
	}
	return nil
}

// ActiveSandboxProjects returns every project whose persisted sandbox record
// is not terminated.
func (s *Store) ActiveSandboxProjects(ctx context.Context) ([]ActiveSandbox, error) {
	var records []model.SandboxRecord
	err := s.db.WithContext(ctx).
		Where("status <> ?", model.StatusTerminated).
		Order("last_active DESC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("list active sandboxes: %w", err)
	}

	out := make([]ActiveSandbox, len(records))
	for i, rec := range records {
		out[i] = ActiveSandbox{
			ProjectID:  rec.ProjectID,
			SandboxID:  rec.SandboxID,
			Status:     rec.Status,
			LastActive: rec.LastActive,
		}
	}
	return out, nil
}

// CleanupTerminatedSandboxes deletes terminated sandbox records and returns
// how many were removed.
func (s *Store) CleanupTerminatedSandboxes(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("status = ?", model.StatusTerminated).
		Delete(&model.SandboxRecord{})
	if res.Error != nil {
		return 0, fmt.Errorf("cleanup terminated sandboxes: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// GetSandboxRecord returns the persisted sandbox record for a project.
func (s *Store) GetSandboxRecord(ctx context.Context, projectID string) (*model.SandboxRecord, error) {
	var rec model.SandboxRecord
	err := s.db.WithContext(ctx).Where("project_id = ?", projectID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get sandbox record: %w", err)
	}
	return &rec, nil
}

// CreateProject inserts a new project.
func (s *Store) CreateProject(ctx context.Context, p *model.Project) error {
	if err := s.db.WithContext(ctx).Create(p).Error; err != nil {
		return fmt.Errorf("create project: %w", err)
	}
	return nil
}

// GetProjectByID returns one project.
func (s *Store) GetProjectByID(ctx context.Context, id string) (*model.Project, error) {
	var p model.Project
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get project: %w", err)
	}
	return &p, nil
}

// ListProjects returns all projects, newest first.
func (s *Store) ListProjects(ctx context.Context) ([]*model.Project, error) {
	var projects []*model.Project
	err := s.db.WithContext(ctx).Order("created_at DESC").Find(&projects).Error
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	return projects, nil
}
