package service

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/webforge-ai/webforge/internal/model"
	"github.com/webforge-ai/webforge/internal/store"
)

// Project represents a project for API responses.
type Project struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

// ProjectService handles project CRUD.
type ProjectService struct {
	store *store.Store
}

// NewProjectService creates a new project service.
func NewProjectService(s *store.Store) *ProjectService {
	return &ProjectService{store: s}
}

var slugRe = regexp.MustCompile(`[^a-z0-9]+`)

// slugify derives a URL-safe slug from a project name, suffixed for
// uniqueness.
func slugify(name string) string {
	slug := strings.Trim(slugRe.ReplaceAllString(strings.ToLower(name), "-"), "-")
	if slug == "" {
		slug = "project"
	}
	return slug + "-" + uuid.NewString()[:8]
}

// CreateProject creates a new project.
func (s *ProjectService) CreateProject(ctx context.Context, name string) (*Project, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("project name is required")
	}

	p := &model.Project{Name: name, Slug: slugify(name)}
	if err := s.store.CreateProject(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to create project: %w", err)
	}
	return s.mapProject(p), nil
}

// GetProject returns a project by ID.
func (s *ProjectService) GetProject(ctx context.Context, projectID string) (*Project, error) {
	p, err := s.store.GetProjectByID(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return s.mapProject(p), nil
}

// ListProjects returns all projects.
func (s *ProjectService) ListProjects(ctx context.Context) ([]*Project, error) {
	dbProjects, err := s.store.ListProjects(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}

	projects := make([]*Project, len(dbProjects))
	for i, p := range dbProjects {
		projects[i] = s.mapProject(p)
	}
	return projects, nil
}

func (s *ProjectService) mapProject(p *model.Project) *Project {
	return &Project{ID: p.ID, Name: p.Name, Slug: p.Slug}
}
