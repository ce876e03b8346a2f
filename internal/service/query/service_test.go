// Package query provides unit tests for the query orchestrator.
package query

import (
	"context"
	"sync"
	"testing"

	"tapestry-backend/internal/domain"
	"tapestry-backend/internal/repository/mocks"
	"tapestry-backend/internal/service/graph"
	"tapestry-backend/internal/service/llm"
	"tapestry-backend/internal/service/settings"
	appErrors "tapestry-backend/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// spyBroadcaster records broadcasts in call order.
type spyBroadcaster struct {
	mu     sync.Mutex
	events []string // "boardID/eventType"
	data   []interface{}
}

func (s *spyBroadcaster) BroadcastToBoard(boardID, eventType string, data interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, boardID+"/"+eventType)
	s.data = append(s.data, data)
}

type fixture struct {
	repo     *mocks.MockRepository
	graph    graph.Service
	provider *llm.MockProvider
	spy      *spyBroadcaster
	service  Service
}

func newFixture(t *testing.T, provider *llm.MockProvider) *fixture {
	t.Helper()

	repo := mocks.NewMockRepository()
	graphSvc := graph.NewService(repo)
	settingsSvc := settings.NewService(repo)
	spy := &spyBroadcaster{}

	require.NoError(t, repo.PutSettings(context.Background(), domain.Settings{
		AgentName: "Tester",
		APIKey:    "sk-ant-test",
	}))

	factory := func(apiKey, model string) llm.Provider { return provider }
	svc := NewService(graphSvc, settingsSvc, spy, factory, "default-model", zap.NewNop())

	return &fixture{repo: repo, graph: graphSvc, provider: provider, spy: spy, service: svc}
}

func TestAsk(t *testing.T) {
	ctx := context.Background()

	t.Run("BatchCreatesNodeAndBroadcasts", func(t *testing.T) {
		f := newFixture(t, llm.NewMockProvider("the answer"))

		result, err := f.service.Ask(ctx, AskRequest{BoardID: "b1", Question: "why?"})
		require.NoError(t, err)
		require.NotNil(t, result.Node)

		assert.Equal(t, domain.KindConversation, result.Node.Kind)
		assert.Equal(t, "why?", result.Node.Content.Conversation.Question)
		assert.Equal(t, "the answer", result.Node.Content.Conversation.Response)
		// The response becomes inheritable context.
		assert.Equal(t, "the answer", result.Node.Context)
		assert.Equal(t, "Tester", result.AgentName)
		assert.Nil(t, result.Edge)

		assert.Equal(t, []string{"b1/QUERY_COMPLETED"}, f.spy.events)
	})

	t.Run("ParentEdgeBroadcastBeforeNode", func(t *testing.T) {
		f := newFixture(t, llm.NewMockProvider("child answer"))

		parent, err := f.graph.CreateNode(ctx, "b1", domain.KindRichText,
			domain.Content{RichText: &domain.RichTextContent{Markdown: "doc"}}, "parent background", "")
		require.NoError(t, err)

		result, err := f.service.Ask(ctx, AskRequest{BoardID: "b1", Question: "follow up", ParentID: parent.ID})
		require.NoError(t, err)
		require.NotNil(t, result.Edge)

		assert.Equal(t, parent.ID, result.Edge.SourceID)
		assert.Equal(t, result.Node.ID, result.Edge.TargetID)
		assert.Equal(t, domain.EdgeLabelResponse, result.Edge.Label)
		assert.Equal(t, []string{"b1/EDGE_CREATED", "b1/QUERY_COMPLETED"}, f.spy.events)

		// The parent's inherited context formed the system background.
		assert.Equal(t, "parent background", f.provider.LastSystem)
	})

	t.Run("StreamingChunksGoToRequesterOnly", func(t *testing.T) {
		provider := llm.NewMockProvider("")
		provider.Chunks = []string{"a", "b", "c"}
		f := newFixture(t, provider)

		var chunks []string
		result, err := f.service.Ask(ctx, AskRequest{
			BoardID:  "b1",
			Question: "stream it",
			Stream:   true,
			OnChunk:  func(text string) { chunks = append(chunks, text) },
		})
		require.NoError(t, err)

		assert.Equal(t, []string{"a", "b", "c"}, chunks)
		assert.Equal(t, "abc", result.Node.Content.Conversation.Response)
		// Chunks never appear in broadcasts.
		assert.Equal(t, []string{"b1/QUERY_COMPLETED"}, f.spy.events)
	})

	t.Run("MidStreamFailureLeavesNoGraphMutation", func(t *testing.T) {
		provider := llm.NewMockProvider("")
		provider.Chunks = []string{"a", "b", "c", "d"}
		provider.Err = appErrors.NewInternal("backend hiccup", nil)
		provider.FailAfterChunks = 3
		f := newFixture(t, provider)

		var chunks []string
		_, err := f.service.Ask(ctx, AskRequest{
			BoardID:  "b1",
			Question: "doomed",
			Stream:   true,
			OnChunk:  func(text string) { chunks = append(chunks, text) },
		})
		require.Error(t, err)
		assert.Len(t, chunks, 3)

		g, gerr := f.graph.ExportGraph(ctx, "b1")
		require.NoError(t, gerr)
		assert.Empty(t, g.Nodes)
		assert.Empty(t, g.Edges)
		assert.Empty(t, f.spy.events)
	})

	t.Run("UnconfiguredBackendFailsBeforeStream", func(t *testing.T) {
		provider := llm.NewMockProvider("never")
		provider.Available = false
		f := newFixture(t, provider)

		_, err := f.service.Ask(ctx, AskRequest{BoardID: "b1", Question: "q", Stream: true})
		require.Error(t, err)
		assert.True(t, appErrors.IsUnavailable(err))
		assert.Empty(t, f.spy.events)
	})

	t.Run("MissingParentFailsWithNotFound", func(t *testing.T) {
		f := newFixture(t, llm.NewMockProvider("x"))

		_, err := f.service.Ask(ctx, AskRequest{BoardID: "b1", Question: "q", ParentID: "ghost"})
		require.Error(t, err)
		assert.True(t, appErrors.IsNotFound(err))
	})

	t.Run("DefaultSystemWhenNoContext", func(t *testing.T) {
		f := newFixture(t, llm.NewMockProvider("x"))

		_, err := f.service.Ask(ctx, AskRequest{BoardID: "b1", Question: "q"})
		require.NoError(t, err)
		assert.Equal(t, defaultSystem, f.provider.LastSystem)
	})
}

func TestAskNode(t *testing.T) {
	ctx := context.Background()

	t.Run("RepliesWithoutMutationOrBroadcast", func(t *testing.T) {
		f := newFixture(t, llm.NewMockProvider("thread reply"))

		node, err := f.graph.CreateNode(ctx, "b1", domain.KindConversation, domain.Content{
			Conversation: &domain.ConversationContent{
				Question: "original q",
				Response: "original a",
				Thread: []domain.Turn{
					{Role: "user", Text: "follow 1"},
					{Role: "assistant", Text: "reply 1"},
				},
			},
		}, "node background", "")
		require.NoError(t, err)

		reply, err := f.service.AskNode(ctx, NodeAskRequest{NodeID: node.ID, Question: "follow 2"})
		require.NoError(t, err)
		assert.Equal(t, "thread reply", reply)

		// The node's own context is the system background and the full
		// thread is replayed as alternating turns plus the new question.
		assert.Equal(t, "node background", f.provider.LastSystem)
		require.Len(t, f.provider.LastMessages, 5)
		assert.Equal(t, llm.Message{Role: llm.RoleUser, Text: "original q"}, f.provider.LastMessages[0])
		assert.Equal(t, llm.Message{Role: llm.RoleAssistant, Text: "reply 1"}, f.provider.LastMessages[3])
		assert.Equal(t, llm.Message{Role: llm.RoleUser, Text: "follow 2"}, f.provider.LastMessages[4])

		// No broadcast and no new graph elements.
		assert.Empty(t, f.spy.events)
		g, err := f.graph.ExportGraph(ctx, "b1")
		require.NoError(t, err)
		assert.Len(t, g.Nodes, 1)
		assert.Empty(t, g.Edges)
	})

	t.Run("MissingNode", func(t *testing.T) {
		f := newFixture(t, llm.NewMockProvider("x"))

		_, err := f.service.AskNode(ctx, NodeAskRequest{NodeID: "ghost", Question: "q"})
		assert.True(t, appErrors.IsNotFound(err))
	})
}
