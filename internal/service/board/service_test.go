// Package board provides unit tests for the board service using mock repositories.
package board

import (
	"context"
	"math"
	"testing"

	"tapestry-backend/internal/domain"
	"tapestry-backend/internal/repository/mocks"
	appErrors "tapestry-backend/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateBoard(t *testing.T) {
	mockRepo := mocks.NewMockRepository()
	service := NewService(mockRepo)
	ctx := context.Background()

	t.Run("SuccessfulCreation", func(t *testing.T) {
		b, err := service.CreateBoard(ctx, "Main board", "main", "")
		require.NoError(t, err)

		assert.Equal(t, "main", b.Slug)
		assert.Equal(t, DefaultProjectID, b.ProjectID)
		assert.Equal(t, domain.DefaultViewport(), b.Viewport)

		// The default project is created on demand.
		project, err := mockRepo.FindProjectByID(ctx, DefaultProjectID)
		require.NoError(t, err)
		require.NotNil(t, project)
	})

	t.Run("DuplicateSlug", func(t *testing.T) {
		_, err := service.CreateBoard(ctx, "Another", "main", "")
		require.Error(t, err)
		assert.True(t, appErrors.IsValidation(err))
	})

	t.Run("InvalidSlug", func(t *testing.T) {
		_, err := service.CreateBoard(ctx, "Bad", "Not A Slug!", "")
		require.Error(t, err)
		assert.True(t, appErrors.IsValidation(err))
	})

	t.Run("UnknownProject", func(t *testing.T) {
		_, err := service.CreateBoard(ctx, "Orphan", "orphan", "no-such-project")
		require.Error(t, err)
		assert.True(t, appErrors.IsNotFound(err))
	})

	t.Run("NameDefaultsToSlug", func(t *testing.T) {
		b, err := service.CreateBoard(ctx, "", "unnamed", "")
		require.NoError(t, err)
		assert.Equal(t, "unnamed", b.Name)
	})
}

func TestResolveBoard(t *testing.T) {
	mockRepo := mocks.NewMockRepository()
	service := NewService(mockRepo)
	ctx := context.Background()

	t.Run("AutoVivifiesOnFirstReference", func(t *testing.T) {
		b, err := service.ResolveBoard(ctx, "scratch")
		require.NoError(t, err)
		assert.Equal(t, "scratch", b.Slug)
		assert.Equal(t, DefaultProjectID, b.ProjectID)
	})

	t.Run("SecondReferenceReturnsSameBoard", func(t *testing.T) {
		first, err := service.ResolveBoard(ctx, "stable")
		require.NoError(t, err)
		second, err := service.ResolveBoard(ctx, "stable")
		require.NoError(t, err)
		assert.Equal(t, first.ID, second.ID)
	})
}

func TestUpdateViewport(t *testing.T) {
	mockRepo := mocks.NewMockRepository()
	service := NewService(mockRepo)
	ctx := context.Background()

	b, err := service.CreateBoard(ctx, "B", "b", "")
	require.NoError(t, err)

	t.Run("Persists", func(t *testing.T) {
		viewport := domain.Viewport{X: 10, Y: -20, Zoom: 1.5}
		require.NoError(t, service.UpdateViewport(ctx, b.ID, viewport))

		stored, err := mockRepo.FindBoardByID(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, viewport, stored.Viewport)
	})

	t.Run("RejectsNaN", func(t *testing.T) {
		err := service.UpdateViewport(ctx, b.ID, domain.Viewport{X: math.NaN(), Zoom: 1})
		require.Error(t, err)
		assert.True(t, appErrors.IsValidation(err))
	})

	t.Run("RejectsNonPositiveZoom", func(t *testing.T) {
		err := service.UpdateViewport(ctx, b.ID, domain.Viewport{Zoom: 0})
		require.Error(t, err)
		assert.True(t, appErrors.IsValidation(err))
	})

	t.Run("MissingBoard", func(t *testing.T) {
		err := service.UpdateViewport(ctx, "missing", domain.Viewport{Zoom: 1})
		assert.True(t, appErrors.IsNotFound(err))
	})
}

func TestDeleteProjectCascades(t *testing.T) {
	mockRepo := mocks.NewMockRepository()
	service := NewService(mockRepo)
	ctx := context.Background()

	project, err := service.CreateProject(ctx, "Work")
	require.NoError(t, err)

	b1, err := service.CreateBoard(ctx, "One", "one", project.ID)
	require.NoError(t, err)
	b2, err := service.CreateBoard(ctx, "Two", "two", project.ID)
	require.NoError(t, err)

	require.NoError(t, service.DeleteProject(ctx, project.ID))

	for _, boardID := range []string{b1.ID, b2.ID} {
		stored, err := mockRepo.FindBoardByID(ctx, boardID)
		require.NoError(t, err)
		assert.Nil(t, stored)
	}
	stored, err := mockRepo.FindProjectByID(ctx, project.ID)
	require.NoError(t, err)
	assert.Nil(t, stored)

	t.Run("MissingProject", func(t *testing.T) {
		err := service.DeleteProject(ctx, "missing")
		assert.True(t, appErrors.IsNotFound(err))
	})
}
