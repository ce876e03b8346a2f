// Package graph provides unit tests for the graph service using mock repositories.
package graph

import (
	"context"
	"encoding/json"
	"testing"

	"tapestry-backend/internal/domain"
	"tapestry-backend/internal/repository/mocks"
	appErrors "tapestry-backend/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func richText(markdown string) domain.Content {
	return domain.Content{RichText: &domain.RichTextContent{Markdown: markdown}}
}

func TestCreateNode(t *testing.T) {
	mockRepo := mocks.NewMockRepository()
	service := NewService(mockRepo)
	ctx := context.Background()

	t.Run("SuccessfulCreation", func(t *testing.T) {
		node, err := service.CreateNode(ctx, "b1", domain.KindRichText, richText("# hello"), "some background", "")
		require.NoError(t, err)
		require.NotNil(t, node)

		assert.NotEmpty(t, node.ID)
		assert.Equal(t, "b1", node.BoardID)
		assert.Equal(t, domain.KindRichText, node.Kind)
		assert.Equal(t, "some background", node.Context)
		assert.Equal(t, node.CreatedAt, node.UpdatedAt)

		stored, err := mockRepo.FindNodeByID(ctx, node.ID)
		require.NoError(t, err)
		require.NotNil(t, stored)
		assert.Equal(t, "# hello", stored.Content.RichText.Markdown)
	})

	t.Run("EmptyContentAllowed", func(t *testing.T) {
		node, err := service.CreateNode(ctx, "b1", domain.KindConversation, domain.Content{}, "", "")
		require.NoError(t, err)
		assert.Nil(t, node.Content.Conversation)
	})

	t.Run("UnknownKind", func(t *testing.T) {
		_, err := service.CreateNode(ctx, "b1", domain.NodeKind("sticker"), domain.Content{}, "", "")
		require.Error(t, err)
		assert.True(t, appErrors.IsValidation(err))
	})

	t.Run("ContentKindMismatch", func(t *testing.T) {
		_, err := service.CreateNode(ctx, "b1", domain.KindConversation, richText("wrong"), "", "")
		require.Error(t, err)
		assert.True(t, appErrors.IsValidation(err))
	})

	t.Run("MissingBoard", func(t *testing.T) {
		_, err := service.CreateNode(ctx, "", domain.KindRichText, richText("x"), "", "")
		require.Error(t, err)
		assert.True(t, appErrors.IsValidation(err))
	})

	t.Run("DanglingParentIsStoredAsGiven", func(t *testing.T) {
		node, err := service.CreateNode(ctx, "b1", domain.KindRichText, richText("x"), "", "no-such-parent")
		require.NoError(t, err)
		assert.Equal(t, "no-such-parent", node.ParentID)
	})
}

func TestUpdateNode(t *testing.T) {
	mockRepo := mocks.NewMockRepository()
	service := NewService(mockRepo)
	ctx := context.Background()

	node, err := service.CreateNode(ctx, "b1", domain.KindConversation, domain.Content{
		Conversation: &domain.ConversationContent{Question: "why?", Response: "because", Layout: "left"},
	}, "", "")
	require.NoError(t, err)

	t.Run("FullReplacement", func(t *testing.T) {
		replacement := domain.Content{Conversation: &domain.ConversationContent{Question: "how?"}}
		updated, err := service.UpdateNode(ctx, node.ID, UpdateNodeRequest{Content: &replacement})
		require.NoError(t, err)

		assert.Equal(t, "how?", updated.Content.Conversation.Question)
		// Replacement drops fields absent from the new payload.
		assert.Empty(t, updated.Content.Conversation.Response)
		assert.Empty(t, updated.Content.Conversation.Layout)
		assert.True(t, updated.UpdatedAt.After(node.UpdatedAt) || updated.UpdatedAt.Equal(node.UpdatedAt))
	})

	t.Run("MergeKeepsUnspecifiedKeys", func(t *testing.T) {
		_, err := service.UpdateNode(ctx, node.ID, UpdateNodeRequest{
			Content: &domain.Content{Conversation: &domain.ConversationContent{Question: "q", Response: "r", Layout: "left"}},
		})
		require.NoError(t, err)

		merged, err := service.UpdateNode(ctx, node.ID, UpdateNodeRequest{
			Merge: map[string]json.RawMessage{"response": json.RawMessage(`"rewritten"`)},
		})
		require.NoError(t, err)

		assert.Equal(t, "q", merged.Content.Conversation.Question)
		assert.Equal(t, "rewritten", merged.Content.Conversation.Response)
		assert.Equal(t, "left", merged.Content.Conversation.Layout)
	})

	t.Run("ReplaceAndMergeRejected", func(t *testing.T) {
		content := richText("x")
		_, err := service.UpdateNode(ctx, node.ID, UpdateNodeRequest{
			Content: &content,
			Merge:   map[string]json.RawMessage{"markdown": json.RawMessage(`"y"`)},
		})
		require.Error(t, err)
		assert.True(t, appErrors.IsValidation(err))
	})

	t.Run("NotFound", func(t *testing.T) {
		_, err := service.UpdateNode(ctx, "missing", UpdateNodeRequest{})
		require.Error(t, err)
		assert.True(t, appErrors.IsNotFound(err))
	})
}

func TestDeleteNodeCascades(t *testing.T) {
	mockRepo := mocks.NewMockRepository()
	service := NewService(mockRepo)
	ctx := context.Background()

	a, err := service.CreateNode(ctx, "b1", domain.KindRichText, richText("a"), "", "")
	require.NoError(t, err)
	b, err := service.CreateNode(ctx, "b1", domain.KindRichText, richText("b"), "", "")
	require.NoError(t, err)

	_, err = service.CreateEdge(ctx, "b1", a.ID, b.ID, "")
	require.NoError(t, err)
	_, err = service.CreateEdge(ctx, "b1", b.ID, a.ID, "back")
	require.NoError(t, err)

	_, err = service.AddContext(ctx, a.ID, "fact about a", domain.SourceUser, nil)
	require.NoError(t, err)

	deleted, err := service.DeleteNode(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, deleted.ID)

	_, err = service.GetNode(ctx, a.ID)
	assert.True(t, appErrors.IsNotFound(err))

	graph, err := service.ExportGraph(ctx, "b1")
	require.NoError(t, err)
	assert.Len(t, graph.Nodes, 1)
	assert.Empty(t, graph.Edges)

	entries, err := mockRepo.FindContextEntries(ctx, "b1", a.ID)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestGetInheritedContext(t *testing.T) {
	mockRepo := mocks.NewMockRepository()
	service := NewService(mockRepo)
	ctx := context.Background()

	t.Run("RootToLeafOrder", func(t *testing.T) {
		root, err := service.CreateNode(ctx, "b1", domain.KindRichText, richText("r"), "A", "")
		require.NoError(t, err)
		mid, err := service.CreateNode(ctx, "b1", domain.KindRichText, richText("m"), "B", root.ID)
		require.NoError(t, err)
		leaf, err := service.CreateNode(ctx, "b1", domain.KindRichText, richText("l"), "C", mid.ID)
		require.NoError(t, err)

		got, err := service.GetInheritedContext(ctx, leaf.ID)
		require.NoError(t, err)
		assert.Equal(t, "A\n\nB\n\nC", got)
	})

	t.Run("EmptyFragmentsSkipped", func(t *testing.T) {
		root, err := service.CreateNode(ctx, "b1", domain.KindRichText, richText("r"), "A", "")
		require.NoError(t, err)
		mid, err := service.CreateNode(ctx, "b1", domain.KindRichText, richText("m"), "", root.ID)
		require.NoError(t, err)
		leaf, err := service.CreateNode(ctx, "b1", domain.KindRichText, richText("l"), "C", mid.ID)
		require.NoError(t, err)

		got, err := service.GetInheritedContext(ctx, leaf.ID)
		require.NoError(t, err)
		assert.Equal(t, "A\n\nC", got)
	})

	t.Run("DanglingParentEndsChain", func(t *testing.T) {
		node, err := service.CreateNode(ctx, "b1", domain.KindRichText, richText("x"), "only", "ghost")
		require.NoError(t, err)

		got, err := service.GetInheritedContext(ctx, node.ID)
		require.NoError(t, err)
		assert.Equal(t, "only", got)
	})

	t.Run("CycleTerminates", func(t *testing.T) {
		a, err := service.CreateNode(ctx, "b1", domain.KindRichText, richText("a"), "A", "")
		require.NoError(t, err)
		b, err := service.CreateNode(ctx, "b1", domain.KindRichText, richText("b"), "B", a.ID)
		require.NoError(t, err)

		// Introduce a cycle directly in the store.
		corrupted := *a
		corrupted.ParentID = b.ID
		require.NoError(t, mockRepo.UpdateNode(ctx, corrupted))

		got, err := service.GetInheritedContext(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, "A\n\nB", got)
	})

	t.Run("NotFound", func(t *testing.T) {
		_, err := service.GetInheritedContext(ctx, "missing")
		assert.True(t, appErrors.IsNotFound(err))
	})
}

func TestBranchNode(t *testing.T) {
	mockRepo := mocks.NewMockRepository()
	service := NewService(mockRepo)
	ctx := context.Background()

	root, err := service.CreateNode(ctx, "b1", domain.KindRichText, richText("r"), "A", "")
	require.NoError(t, err)
	parent, err := service.CreateNode(ctx, "b1", domain.KindRichText, richText("p"), "B", root.ID)
	require.NoError(t, err)

	t.Run("ChildPreSeededWithInheritedContext", func(t *testing.T) {
		child, err := service.BranchNode(ctx, parent.ID, domain.KindConversation, domain.Content{})
		require.NoError(t, err)

		assert.Equal(t, "A\n\nB", child.Context)
		assert.Equal(t, parent.ID, child.ParentID)
		assert.Equal(t, "b1", child.BoardID)
	})

	t.Run("MissingParent", func(t *testing.T) {
		_, err := service.BranchNode(ctx, "missing", domain.KindConversation, domain.Content{})
		require.Error(t, err)
		assert.True(t, appErrors.IsNotFound(err))
	})
}

func TestContextEntries(t *testing.T) {
	mockRepo := mocks.NewMockRepository()
	service := NewService(mockRepo)
	ctx := context.Background()

	node, err := service.CreateNode(ctx, "b1", domain.KindRichText, richText("x"), "", "")
	require.NoError(t, err)

	t.Run("AddValidatesSource", func(t *testing.T) {
		_, err := service.AddContext(ctx, node.ID, "fact", domain.ContextSource("wiki"), nil)
		require.Error(t, err)
		assert.True(t, appErrors.IsValidation(err))
	})

	t.Run("SearchIsCaseInsensitiveSubstring", func(t *testing.T) {
		_, err := service.AddContext(ctx, node.ID, "The deploy pipeline uses Bazel", domain.SourceCodebase, nil)
		require.NoError(t, err)
		_, err = service.AddContext(ctx, node.ID, "Unrelated note", domain.SourceUser, nil)
		require.NoError(t, err)

		matches, err := service.SearchContext(ctx, node.ID, "bazel")
		require.NoError(t, err)
		require.Len(t, matches, 1)
		assert.Equal(t, domain.SourceCodebase, matches[0].Source)
	})

	t.Run("EmbeddingStoredOpaquely", func(t *testing.T) {
		blob := []byte{0x01, 0x02, 0x03}
		entry, err := service.AddContext(ctx, node.ID, "with embedding", domain.SourceDiagram, blob)
		require.NoError(t, err)
		assert.Equal(t, blob, entry.Embedding)
	})
}

func TestEdges(t *testing.T) {
	mockRepo := mocks.NewMockRepository()
	service := NewService(mockRepo)
	ctx := context.Background()

	a, err := service.CreateNode(ctx, "b1", domain.KindRichText, richText("a"), "", "")
	require.NoError(t, err)
	b, err := service.CreateNode(ctx, "b1", domain.KindRichText, richText("b"), "", "")
	require.NoError(t, err)

	t.Run("ParallelEdgesAllowed", func(t *testing.T) {
		_, err := service.CreateEdge(ctx, "b1", a.ID, b.ID, "first")
		require.NoError(t, err)
		_, err = service.CreateEdge(ctx, "b1", a.ID, b.ID, "second")
		require.NoError(t, err)

		graph, err := service.ExportGraph(ctx, "b1")
		require.NoError(t, err)
		assert.Len(t, graph.Edges, 2)
	})

	t.Run("UpdateLabel", func(t *testing.T) {
		edge, err := service.CreateEdge(ctx, "b1", b.ID, a.ID, "old")
		require.NoError(t, err)

		updated, err := service.UpdateEdge(ctx, edge.ID, "new")
		require.NoError(t, err)
		assert.Equal(t, "new", updated.Label)
	})

	t.Run("DeleteMissing", func(t *testing.T) {
		_, err := service.DeleteEdge(ctx, "missing")
		assert.True(t, appErrors.IsNotFound(err))
	})
}
