package settings

import (
	"context"
	"testing"

	"tapestry-backend/internal/domain"
	"tapestry-backend/internal/repository/mocks"
	appErrors "tapestry-backend/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestGet(t *testing.T) {
	mockRepo := mocks.NewMockRepository()
	service := NewService(mockRepo)
	ctx := context.Background()

	t.Run("DefaultsWhenUnset", func(t *testing.T) {
		s, err := service.Get(ctx)
		require.NoError(t, err)
		assert.Equal(t, domain.DefaultAgentName, s.AgentName)
		assert.Empty(t, s.APIKey)
	})
}

func TestUpdate(t *testing.T) {
	mockRepo := mocks.NewMockRepository()
	service := NewService(mockRepo)
	ctx := context.Background()

	t.Run("PartialUpdateKeepsOtherFields", func(t *testing.T) {
		_, err := service.Update(ctx, UpdateRequest{
			AgentName: strPtr("Ada"),
			APIKey:    strPtr("sk-ant-abc"),
		})
		require.NoError(t, err)

		updated, err := service.Update(ctx, UpdateRequest{Model: strPtr("some-model")})
		require.NoError(t, err)
		assert.Equal(t, "Ada", updated.AgentName)
		assert.Equal(t, "sk-ant-abc", updated.APIKey)
		assert.Equal(t, "some-model", updated.Model)
	})

	t.Run("RejectsMalformedKey", func(t *testing.T) {
		_, err := service.Update(ctx, UpdateRequest{APIKey: strPtr("hunter2")})
		require.Error(t, err)
		assert.True(t, appErrors.IsValidation(err))
	})

	t.Run("EmptyKeyClearsCredential", func(t *testing.T) {
		updated, err := service.Update(ctx, UpdateRequest{APIKey: strPtr("")})
		require.NoError(t, err)
		assert.Empty(t, updated.APIKey)
	})

	t.Run("RejectsBlankAgentName", func(t *testing.T) {
		_, err := service.Update(ctx, UpdateRequest{AgentName: strPtr("   ")})
		require.Error(t, err)
		assert.True(t, appErrors.IsValidation(err))
	})
}
