// Package query orchestrates LLM round-trips: it assembles inherited
// context, drives the backend in batch or streaming mode, materializes the
// result as a graph node plus an edge to its parent, and broadcasts both in
// causal order.
package query

import (
	"context"
	"strings"

	"tapestry-backend/internal/domain"
	"tapestry-backend/internal/service/graph"
	"tapestry-backend/internal/service/llm"
	"tapestry-backend/internal/service/settings"
	appErrors "tapestry-backend/pkg/errors"

	"go.uber.org/zap"
)

// Event types emitted through the board broadcaster.
const (
	EventEdgeCreated    = "EDGE_CREATED"
	EventQueryCompleted = "QUERY_COMPLETED"
)

// defaultSystem is used when a question arrives with no parent and no
// explicit context.
const defaultSystem = "You are a helpful assistant collaborating on a shared whiteboard. Answer concisely."

// Broadcaster fans an event out to every connection on a board. The edge
// event for a completed query must reach clients before the node event, so
// implementations must preserve call order per board.
type Broadcaster interface {
	BroadcastToBoard(boardID, eventType string, data interface{})
}

// ProviderFactory builds a backend provider for the given credential and
// model. Invoked per query so settings changes apply without a restart.
type ProviderFactory func(apiKey, model string) llm.Provider

// AskRequest is one natural-language question aimed at a board.
type AskRequest struct {
	BoardID  string
	Question string
	ParentID string
	Context  string // explicit extra background, optional
	Layout   string // UI layout hint, stored opaquely
	Stream   bool

	// OnChunk receives incremental text in streaming mode. Delivery is to
	// the requester only; the orchestrator never broadcasts chunks.
	OnChunk func(text string)
}

// AskResult is the materialized outcome of a completed query.
type AskResult struct {
	Node      *domain.Node `json:"node"`
	Edge      *domain.Edge `json:"edge,omitempty"`
	AgentName string       `json:"agentName"`
}

// NodeAskRequest scopes a question to one existing node's comment thread.
type NodeAskRequest struct {
	NodeID   string
	Question string
	Stream   bool
	OnChunk  func(text string)
}

// Service defines the interface for query orchestration.
type Service interface {
	// Ask runs the full query flow and broadcasts the result to the board.
	Ask(ctx context.Context, req AskRequest) (*AskResult, error)

	// AskNode answers within a node's thread: no new node, no edge, no
	// broadcast. The reply goes back to the requester alone.
	AskNode(ctx context.Context, req NodeAskRequest) (string, error)
}

type service struct {
	graph        graph.Service
	settings     settings.Service
	broadcaster  Broadcaster
	newProvider  ProviderFactory
	defaultModel string
	logger       *zap.Logger
}

// NewService creates a new query service.
func NewService(graphSvc graph.Service, settingsSvc settings.Service, broadcaster Broadcaster, factory ProviderFactory, defaultModel string, logger *zap.Logger) Service {
	return &service{
		graph:        graphSvc,
		settings:     settingsSvc,
		broadcaster:  broadcaster,
		newProvider:  factory,
		defaultModel: defaultModel,
		logger:       logger,
	}
}

func (s *service) Ask(ctx context.Context, req AskRequest) (*AskResult, error) {
	if req.Question == "" {
		return nil, appErrors.NewValidation("question cannot be empty")
	}
	if req.BoardID == "" {
		return nil, appErrors.NewValidation("boardId cannot be empty")
	}

	provider, agentName, err := s.buildProvider(ctx)
	if err != nil {
		return nil, err
	}
	if !provider.IsAvailable() {
		return nil, appErrors.NewUnavailable("llm backend is not configured")
	}

	system, err := s.assembleSystem(ctx, req)
	if err != nil {
		return nil, err
	}
	messages := []llm.Message{{Role: llm.RoleUser, Text: req.Question}}

	var response string
	if req.Stream {
		onChunk := req.OnChunk
		if onChunk == nil {
			onChunk = func(string) {}
		}
		response, err = provider.Stream(ctx, system, messages, onChunk)
	} else {
		response, err = provider.Complete(ctx, system, messages)
	}
	if err != nil {
		// No node materializes for a failed or aborted round-trip.
		s.logger.Warn("query round-trip failed",
			zap.String("boardID", req.BoardID),
			zap.Error(err))
		return nil, err
	}

	content := domain.Content{Conversation: &domain.ConversationContent{
		Question: req.Question,
		Response: response,
		Layout:   req.Layout,
	}}
	// The response text becomes the node's own context so future children
	// inherit it.
	node, err := s.graph.CreateNode(ctx, req.BoardID, domain.KindConversation, content, response, req.ParentID)
	if err != nil {
		return nil, err
	}

	result := &AskResult{Node: node, AgentName: agentName}
	if req.ParentID != "" {
		edge, err := s.graph.CreateEdge(ctx, req.BoardID, req.ParentID, node.ID, domain.EdgeLabelResponse)
		if err != nil {
			return nil, err
		}
		result.Edge = edge
		// Clients must see the edge before the node that references it.
		s.broadcaster.BroadcastToBoard(req.BoardID, EventEdgeCreated, edge)
	}
	s.broadcaster.BroadcastToBoard(req.BoardID, EventQueryCompleted, result)

	s.logger.Info("query completed",
		zap.String("boardID", req.BoardID),
		zap.String("nodeID", node.ID),
		zap.Bool("streamed", req.Stream))
	return result, nil
}

func (s *service) AskNode(ctx context.Context, req NodeAskRequest) (string, error) {
	if req.Question == "" {
		return "", appErrors.NewValidation("question cannot be empty")
	}

	node, err := s.graph.GetNode(ctx, req.NodeID)
	if err != nil {
		return "", err
	}

	provider, _, err := s.buildProvider(ctx)
	if err != nil {
		return "", err
	}
	if !provider.IsAvailable() {
		return "", appErrors.NewUnavailable("llm backend is not configured")
	}

	system := node.Context
	if system == "" {
		system = defaultSystem
	}
	messages := threadMessages(node, req.Question)

	if req.Stream {
		onChunk := req.OnChunk
		if onChunk == nil {
			onChunk = func(string) {}
		}
		return provider.Stream(ctx, system, messages, onChunk)
	}
	return provider.Complete(ctx, system, messages)
}

// buildProvider reads the current settings and constructs a provider for
// them, so credential updates take effect on the next query.
func (s *service) buildProvider(ctx context.Context) (llm.Provider, string, error) {
	current, err := s.settings.Get(ctx)
	if err != nil {
		return nil, "", err
	}
	model := current.Model
	if model == "" {
		model = s.defaultModel
	}
	return s.newProvider(current.APIKey, model), current.AgentName, nil
}

// assembleSystem builds the system-level background: the parent's inherited
// context, a blank line, then any explicit extra context.
func (s *service) assembleSystem(ctx context.Context, req AskRequest) (string, error) {
	parts := []string{}
	if req.ParentID != "" {
		inherited, err := s.graph.GetInheritedContext(ctx, req.ParentID)
		if err != nil {
			return "", err
		}
		if inherited != "" {
			parts = append(parts, inherited)
		}
	}
	if req.Context != "" {
		parts = append(parts, req.Context)
	}
	if len(parts) == 0 {
		return defaultSystem, nil
	}
	return strings.Join(parts, "\n\n"), nil
}

// threadMessages replays a conversation node's prior thread as alternating
// turns and appends the new question.
func threadMessages(node *domain.Node, question string) []llm.Message {
	messages := []llm.Message{}
	if conv := node.Content.Conversation; conv != nil {
		if conv.Question != "" {
			messages = append(messages, llm.Message{Role: llm.RoleUser, Text: conv.Question})
		}
		if conv.Response != "" {
			messages = append(messages, llm.Message{Role: llm.RoleAssistant, Text: conv.Response})
		}
		for _, turn := range conv.Thread {
			role := llm.RoleUser
			if turn.Role == llm.RoleAssistant || turn.Role == "agent" {
				role = llm.RoleAssistant
			}
			messages = append(messages, llm.Message{Role: role, Text: turn.Text})
		}
	}
	return append(messages, llm.Message{Role: llm.RoleUser, Text: question})
}
