package store

import (
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	perrors "github.com/p-blackswan/stageflow/internal/errors"
	"github.com/p-blackswan/stageflow/internal/models"
)

var slugRe = regexp.MustCompile(`[^a-z0-9-]+`)

// GenerateSlug converts a project name into a URL-safe slug.
func GenerateSlug(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = strings.ReplaceAll(s, " ", "-")
	s = slugRe.ReplaceAllString(s, "")
	for strings.Contains(s, "--") {
		s = strings.ReplaceAll(s, "--", "-")
	}
	s = strings.Trim(s, "-")
	if len(s) > 50 {
		s = s[:50]
	}
	return s
}

// CreateProject inserts a new project.
func (s *Store) CreateProject(name, ownerID string) (*models.Project, error) {
	slug := GenerateSlug(name)
	if slug == "" {
		return nil, perrors.NewValidationError("name", "generates empty slug")
	}

	now := time.Now().UnixMilli()
	p := &models.Project{
		ID:        uuid.New().String(),
		Slug:      slug,
		Name:      name,
		OwnerID:   ownerID,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err := s.db.Exec(
		`INSERT INTO projects (id, slug, name, owner_id, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		p.ID, p.Slug, p.Name, p.OwnerID, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return nil, perrors.NewValidationError("name", fmt.Sprintf("project with slug %q already exists", slug))
		}
		return nil, fmt.Errorf("failed to create project: %w", err)
	}
	s.projects.Put(p.ID, p)
	return p, nil
}

// GetProject retrieves a project by ID. Returns NotFoundError when missing.
func (s *Store) GetProject(id string) (*models.Project, error) {
	if p, ok := s.projects.Get(id); ok {
		return p, nil
	}
	p, err := s.scanProject(`SELECT id, slug, name, owner_id, created_at, updated_at FROM projects WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	s.projects.Put(p.ID, p)
	return p, nil
}

// GetProjectBySlug retrieves a project by slug.
func (s *Store) GetProjectBySlug(slug string) (*models.Project, error) {
	return s.scanProject(`SELECT id, slug, name, owner_id, created_at, updated_at FROM projects WHERE slug = ?`, slug)
}

func (s *Store) scanProject(query string, args ...any) (*models.Project, error) {
	p := &models.Project{}
	err := s.db.QueryRow(query, args...).Scan(&p.ID, &p.Slug, &p.Name, &p.OwnerID, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, perrors.NewNotFoundError("project", fmt.Sprint(args[0]))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	return p, nil
}

// ListProjects lists all projects, newest first.
func (s *Store) ListProjects() ([]*models.Project, error) {
	rows, err := s.db.Query(`SELECT id, slug, name, owner_id, created_at, updated_at FROM projects ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	var projects []*models.Project
	for rows.Next() {
		p := &models.Project{}
		if err := rows.Scan(&p.ID, &p.Slug, &p.Name, &p.OwnerID, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}
