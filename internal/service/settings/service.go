// Package settings provides business logic for the durable process-wide
// settings shared across all boards.
package settings

import (
	"context"
	"strings"

	"tapestry-backend/internal/domain"
	"tapestry-backend/internal/repository"
	appErrors "tapestry-backend/pkg/errors"
)

// UpdateRequest is a partial settings update; nil fields are left unchanged.
type UpdateRequest struct {
	AgentName *string
	APIKey    *string
	Model     *string
}

// Service defines the interface for settings operations.
type Service interface {
	// Get returns the current settings, filling defaults when unset.
	Get(ctx context.Context) (*domain.Settings, error)

	// Update validates and persists a partial settings update, returning
	// the full resulting settings.
	Update(ctx context.Context, req UpdateRequest) (*domain.Settings, error)
}

type service struct {
	repo repository.Repository
}

// NewService creates a new settings service with the provided repository.
func NewService(repo repository.Repository) Service {
	return &service{repo: repo}
}

func (s *service) Get(ctx context.Context) (*domain.Settings, error) {
	stored, err := s.repo.GetSettings(ctx)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		stored = &domain.Settings{}
	}
	if stored.AgentName == "" {
		stored.AgentName = domain.DefaultAgentName
	}
	return stored, nil
}

func (s *service) Update(ctx context.Context, req UpdateRequest) (*domain.Settings, error) {
	current, err := s.Get(ctx)
	if err != nil {
		return nil, err
	}

	if req.AgentName != nil {
		if strings.TrimSpace(*req.AgentName) == "" {
			return nil, appErrors.NewValidation("agent name cannot be blank")
		}
		current.AgentName = strings.TrimSpace(*req.AgentName)
	}
	if req.APIKey != nil {
		key := strings.TrimSpace(*req.APIKey)
		// An empty key clears the credential.
		if key != "" && !strings.HasPrefix(key, "sk-ant-") {
			return nil, appErrors.NewValidation("api key must start with sk-ant-")
		}
		current.APIKey = key
	}
	if req.Model != nil {
		current.Model = strings.TrimSpace(*req.Model)
	}

	if err := s.repo.PutSettings(ctx, *current); err != nil {
		return nil, err
	}
	return current, nil
}
