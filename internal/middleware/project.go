// Package middleware provides request middleware for the API router.
package middleware

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/webforge-ai/webforge/internal/model"
	"github.com/webforge-ai/webforge/internal/store"
)

type contextKey string

const projectKey contextKey = "project"

// ProjectRequired middleware resolves the {projectID} URL parameter against
// the store and stashes the record in context. Must be mounted inside a
// route that defines {projectID}, e.g.:
//
//	r.Route("/{projectID}", func(r chi.Router) {
//	    r.Use(middleware.ProjectRequired(s))
//	    ...
//	})
func ProjectRequired(s *store.Store) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			projectID := chi.URLParam(r, "projectID")
			if projectID == "" {
				http.Error(w, `{"error":"Project ID required"}`, http.StatusBadRequest)
				return
			}

			project, err := s.GetProjectByID(r.Context(), projectID)
			if err != nil {
				http.Error(w, `{"error":"Project not found"}`, http.StatusNotFound)
				return
			}

			ctx := context.WithValue(r.Context(), projectKey, project)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetProject extracts the project from context (set by ProjectRequired).
func GetProject(ctx context.Context) *model.Project {
	if p, ok := ctx.Value(projectKey).(*model.Project); ok {
		return p
	}
	return nil
}

// GetProjectID extracts the project ID from context, or "" when unset.
func GetProjectID(ctx context.Context) string {
	if p := GetProject(ctx); p != nil {
		return p.ID
	}
	return ""
}
