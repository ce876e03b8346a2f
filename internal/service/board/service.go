// Package board provides business logic for project and board lifecycle,
// including slug-based auto-vivification and viewport persistence.
package board

import (
	"context"
	"math"
	"regexp"
	"time"

	"tapestry-backend/internal/domain"
	"tapestry-backend/internal/repository"
	appErrors "tapestry-backend/pkg/errors"

	"github.com/google/uuid"
)

// DefaultProjectID owns boards that are auto-vivified by slug.
const DefaultProjectID = "default"

var slugPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// Service defines the interface for project and board operations.
type Service interface {
	// CreateProject registers a new project grouping boards.
	CreateProject(ctx context.Context, name string) (*domain.Project, error)

	// ListProjects returns every project.
	ListProjects(ctx context.Context) ([]domain.Project, error)

	// DeleteProject removes a project and cascades to all of its boards.
	DeleteProject(ctx context.Context, projectID string) error

	// CreateBoard explicitly creates a board with a globally unique slug.
	CreateBoard(ctx context.Context, name, slug, projectID string) (*domain.Board, error)

	// ListBoards returns the boards under a project.
	ListBoards(ctx context.Context, projectID string) ([]domain.Board, error)

	// DeleteBoard removes a board and everything stored under it.
	DeleteBoard(ctx context.Context, boardID string) error

	// ResolveBoard returns the board for a slug, creating it on first
	// reference (auto-vivification).
	ResolveBoard(ctx context.Context, slug string) (*domain.Board, error)

	// UpdateViewport persists a board's camera position.
	UpdateViewport(ctx context.Context, boardID string, viewport domain.Viewport) error
}

type service struct {
	repo repository.Repository
}

// NewService creates a new board service with the provided repository.
func NewService(repo repository.Repository) Service {
	return &service{repo: repo}
}

func (s *service) CreateProject(ctx context.Context, name string) (*domain.Project, error) {
	if name == "" {
		return nil, appErrors.NewValidation("project name cannot be empty")
	}

	project := domain.Project{
		ID:        uuid.New().String(),
		Name:      name,
		CreatedAt: time.Now(),
	}
	if err := s.repo.CreateProject(ctx, project); err != nil {
		return nil, err
	}
	return &project, nil
}

func (s *service) ListProjects(ctx context.Context) ([]domain.Project, error) {
	return s.repo.ListProjects(ctx)
}

// DeleteProject removes each board under the project, then the project
// itself. The whole cascade is synchronous from the caller's perspective.
func (s *service) DeleteProject(ctx context.Context, projectID string) error {
	project, err := s.repo.FindProjectByID(ctx, projectID)
	if err != nil {
		return err
	}
	if project == nil {
		return appErrors.NewNotFound("project not found: " + projectID)
	}

	boards, err := s.repo.ListBoards(ctx, projectID)
	if err != nil {
		return err
	}
	for _, b := range boards {
		if err := s.repo.DeleteBoard(ctx, b.ID); err != nil {
			return err
		}
	}
	return s.repo.DeleteProject(ctx, projectID)
}

func (s *service) CreateBoard(ctx context.Context, name, slug, projectID string) (*domain.Board, error) {
	if !slugPattern.MatchString(slug) {
		return nil, appErrors.NewValidation("board slug must be URL-safe: " + slug)
	}
	if name == "" {
		name = slug
	}
	if projectID == "" {
		projectID = DefaultProjectID
	}
	if err := s.ensureProject(ctx, projectID); err != nil {
		return nil, err
	}

	board := domain.Board{
		ID:        uuid.New().String(),
		Name:      name,
		Slug:      slug,
		ProjectID: projectID,
		Viewport:  domain.DefaultViewport(),
		CreatedAt: time.Now(),
	}
	if err := s.repo.CreateBoard(ctx, board); err != nil {
		return nil, err
	}
	return &board, nil
}

func (s *service) ListBoards(ctx context.Context, projectID string) ([]domain.Board, error) {
	if projectID == "" {
		projectID = DefaultProjectID
	}
	return s.repo.ListBoards(ctx, projectID)
}

func (s *service) DeleteBoard(ctx context.Context, boardID string) error {
	return s.repo.DeleteBoard(ctx, boardID)
}

// ResolveBoard looks a board up by slug and creates it when missing.
// Concurrent first references race on the slug reservation; the loser
// re-reads the winner's board.
func (s *service) ResolveBoard(ctx context.Context, slug string) (*domain.Board, error) {
	board, err := s.repo.FindBoardBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	if board != nil {
		return board, nil
	}

	created, err := s.CreateBoard(ctx, slug, slug, DefaultProjectID)
	if err == nil {
		return created, nil
	}
	if appErrors.IsValidation(err) {
		if board, findErr := s.repo.FindBoardBySlug(ctx, slug); findErr == nil && board != nil {
			return board, nil
		}
	}
	return nil, err
}

func (s *service) UpdateViewport(ctx context.Context, boardID string, viewport domain.Viewport) error {
	if !isFinite(viewport.X) || !isFinite(viewport.Y) || !isFinite(viewport.Zoom) {
		return appErrors.NewValidation("viewport values must be finite numbers")
	}
	if viewport.Zoom <= 0 {
		return appErrors.NewValidation("viewport zoom must be positive")
	}
	return s.repo.UpdateBoardViewport(ctx, boardID, viewport)
}

// ensureProject creates the project record if it does not exist yet. Only
// the default project is created implicitly.
func (s *service) ensureProject(ctx context.Context, projectID string) error {
	project, err := s.repo.FindProjectByID(ctx, projectID)
	if err != nil {
		return err
	}
	if project != nil {
		return nil
	}
	if projectID != DefaultProjectID {
		return appErrors.NewNotFound("project not found: " + projectID)
	}
	return s.repo.CreateProject(ctx, domain.Project{
		ID:        DefaultProjectID,
		Name:      "Default",
		CreatedAt: time.Now(),
	})
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
