// Package graph provides business logic for node, edge, and context-chain
// management, including parent-based context inheritance and branching.
package graph

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"tapestry-backend/internal/domain"
	"tapestry-backend/internal/repository"
	appErrors "tapestry-backend/pkg/errors"

	"github.com/google/uuid"
)

// maxChainDepth bounds the parent walk so a corrupted chain cannot spin.
const maxChainDepth = 1000

// UpdateNodeRequest is a partial node update. Content replaces the payload
// wholesale; Merge applies a one-level-deep merge into the existing payload.
// At most one of the two may be set. Context, when non-nil, replaces the
// node's own context field.
type UpdateNodeRequest struct {
	Content *domain.Content
	Merge   map[string]json.RawMessage
	Context *string
}

// Service defines the interface for graph operations. All mutations go
// through here; there is no direct path to the store.
type Service interface {
	// CreateNode stores a new node on a board. The parent reference is
	// stored as given; a dangling parent means no inheritance, not an error.
	CreateNode(ctx context.Context, boardID string, kind domain.NodeKind, content domain.Content, contextText, parentID string) (*domain.Node, error)

	// GetNode retrieves a node by id.
	GetNode(ctx context.Context, nodeID string) (*domain.Node, error)

	// UpdateNode applies a replacement or merge update and stamps updatedAt.
	UpdateNode(ctx context.Context, nodeID string, req UpdateNodeRequest) (*domain.Node, error)

	// DeleteNode removes a node, cascading to its edges and context entries.
	DeleteNode(ctx context.Context, nodeID string) (*domain.Node, error)

	// CreateEdge stores a directed edge. Parallel edges are allowed.
	CreateEdge(ctx context.Context, boardID, sourceID, targetID, label string) (*domain.Edge, error)

	// UpdateEdge changes an edge's label.
	UpdateEdge(ctx context.Context, edgeID, label string) (*domain.Edge, error)

	// DeleteEdge removes a single edge.
	DeleteEdge(ctx context.Context, edgeID string) (*domain.Edge, error)

	// AddContext appends a context entry to a node. Entries are never
	// overwritten.
	AddContext(ctx context.Context, nodeID, text string, source domain.ContextSource, embedding []byte) (*domain.ContextEntry, error)

	// SearchContext returns the node's context entries whose text contains
	// the query, case-insensitively.
	SearchContext(ctx context.Context, nodeID, query string) ([]domain.ContextEntry, error)

	// GetInheritedContext concatenates the context fields along the parent
	// chain in root-to-leaf order, separated by blank lines.
	GetInheritedContext(ctx context.Context, nodeID string) (string, error)

	// BranchNode creates a child pre-seeded with the parent's full
	// inherited context. Fails with not-found if the parent is missing.
	BranchNode(ctx context.Context, parentID string, kind domain.NodeKind, content domain.Content) (*domain.Node, error)

	// ExportGraph returns all nodes and edges of a board.
	ExportGraph(ctx context.Context, boardID string) (*domain.Graph, error)
}

type service struct {
	repo repository.Repository
}

// NewService creates a new graph service with the provided repository.
func NewService(repo repository.Repository) Service {
	return &service{repo: repo}
}

func (s *service) CreateNode(ctx context.Context, boardID string, kind domain.NodeKind, content domain.Content, contextText, parentID string) (*domain.Node, error) {
	if boardID == "" {
		return nil, appErrors.NewValidation("boardId cannot be empty")
	}
	if !domain.ValidKind(kind) {
		return nil, appErrors.NewValidation("unknown node kind: " + string(kind))
	}
	if err := content.Validate(kind); err != nil {
		return nil, appErrors.NewValidation(err.Error())
	}

	now := time.Now()
	node := domain.Node{
		ID:        uuid.New().String(),
		BoardID:   boardID,
		Kind:      kind,
		Content:   content,
		Context:   contextText,
		ParentID:  parentID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.CreateNode(ctx, node); err != nil {
		return nil, err
	}
	return &node, nil
}

func (s *service) GetNode(ctx context.Context, nodeID string) (*domain.Node, error) {
	node, err := s.repo.FindNodeByID(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	if node == nil {
		return nil, appErrors.NewNotFound("node not found: " + nodeID)
	}
	return node, nil
}

func (s *service) UpdateNode(ctx context.Context, nodeID string, req UpdateNodeRequest) (*domain.Node, error) {
	if req.Content != nil && req.Merge != nil {
		return nil, appErrors.NewValidation("update must be either a replacement or a merge, not both")
	}

	node, err := s.GetNode(ctx, nodeID)
	if err != nil {
		return nil, err
	}

	if req.Content != nil {
		if err := req.Content.Validate(node.Kind); err != nil {
			return nil, appErrors.NewValidation(err.Error())
		}
		node.Content = *req.Content
	}
	if req.Merge != nil {
		merged, err := node.Content.Merge(node.Kind, req.Merge)
		if err != nil {
			return nil, appErrors.NewValidation(err.Error())
		}
		node.Content = merged
	}
	if req.Context != nil {
		node.Context = *req.Context
	}
	node.UpdatedAt = time.Now()

	if err := s.repo.UpdateNode(ctx, *node); err != nil {
		return nil, err
	}
	return node, nil
}

func (s *service) DeleteNode(ctx context.Context, nodeID string) (*domain.Node, error) {
	node, err := s.GetNode(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	if err := s.repo.DeleteNode(ctx, node.BoardID, nodeID); err != nil {
		return nil, err
	}
	return node, nil
}

func (s *service) CreateEdge(ctx context.Context, boardID, sourceID, targetID, label string) (*domain.Edge, error) {
	if boardID == "" {
		return nil, appErrors.NewValidation("boardId cannot be empty")
	}
	if sourceID == "" || targetID == "" {
		return nil, appErrors.NewValidation("edge requires both sourceId and targetId")
	}

	edge := domain.Edge{
		ID:        uuid.New().String(),
		BoardID:   boardID,
		SourceID:  sourceID,
		TargetID:  targetID,
		Label:     label,
		CreatedAt: time.Now(),
	}
	if err := s.repo.CreateEdge(ctx, edge); err != nil {
		return nil, err
	}
	return &edge, nil
}

func (s *service) UpdateEdge(ctx context.Context, edgeID, label string) (*domain.Edge, error) {
	edge, err := s.repo.FindEdgeByID(ctx, edgeID)
	if err != nil {
		return nil, err
	}
	if edge == nil {
		return nil, appErrors.NewNotFound("edge not found: " + edgeID)
	}
	edge.Label = label
	if err := s.repo.UpdateEdge(ctx, *edge); err != nil {
		return nil, err
	}
	return edge, nil
}

func (s *service) DeleteEdge(ctx context.Context, edgeID string) (*domain.Edge, error) {
	edge, err := s.repo.FindEdgeByID(ctx, edgeID)
	if err != nil {
		return nil, err
	}
	if edge == nil {
		return nil, appErrors.NewNotFound("edge not found: " + edgeID)
	}
	if err := s.repo.DeleteEdge(ctx, edge.BoardID, edgeID); err != nil {
		return nil, err
	}
	return edge, nil
}

func (s *service) AddContext(ctx context.Context, nodeID, text string, source domain.ContextSource, embedding []byte) (*domain.ContextEntry, error) {
	if text == "" {
		return nil, appErrors.NewValidation("context text cannot be empty")
	}
	if !domain.ValidSource(source) {
		return nil, appErrors.NewValidation("unknown context source: " + string(source))
	}
	node, err := s.GetNode(ctx, nodeID)
	if err != nil {
		return nil, err
	}

	entry := domain.ContextEntry{
		ID:        uuid.New().String(),
		NodeID:    nodeID,
		BoardID:   node.BoardID,
		Text:      text,
		Source:    source,
		Embedding: embedding,
		CreatedAt: time.Now(),
	}
	if err := s.repo.AddContextEntry(ctx, entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

func (s *service) SearchContext(ctx context.Context, nodeID, query string) ([]domain.ContextEntry, error) {
	node, err := s.GetNode(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	entries, err := s.repo.FindContextEntries(ctx, node.BoardID, nodeID)
	if err != nil {
		return nil, err
	}

	needle := strings.ToLower(query)
	matches := []domain.ContextEntry{}
	for _, entry := range entries {
		if strings.Contains(strings.ToLower(entry.Text), needle) {
			matches = append(matches, entry)
		}
	}
	return matches, nil
}

// GetInheritedContext walks the parent chain from the node to the root and
// joins the visited context fields in root-to-leaf order. The walk keeps a
// seen-set so an accidental cycle terminates instead of spinning.
func (s *service) GetInheritedContext(ctx context.Context, nodeID string) (string, error) {
	node, err := s.GetNode(ctx, nodeID)
	if err != nil {
		return "", err
	}

	seen := map[string]bool{node.ID: true}
	fragments := []string{}
	if node.Context != "" {
		fragments = append(fragments, node.Context)
	}

	current := node
	for depth := 0; current.ParentID != "" && depth < maxChainDepth; depth++ {
		if seen[current.ParentID] {
			break
		}
		seen[current.ParentID] = true

		parent, err := s.repo.FindNodeByID(ctx, current.ParentID)
		if err != nil {
			return "", err
		}
		// A dangling or cross-board parent ends the chain silently.
		if parent == nil || parent.BoardID != node.BoardID {
			break
		}
		if parent.Context != "" {
			fragments = append(fragments, parent.Context)
		}
		current = parent
	}

	// Collected leaf-to-root; reverse for root-to-leaf order.
	for i, j := 0, len(fragments)-1; i < j; i, j = i+1, j-1 {
		fragments[i], fragments[j] = fragments[j], fragments[i]
	}
	return strings.Join(fragments, "\n\n"), nil
}

func (s *service) BranchNode(ctx context.Context, parentID string, kind domain.NodeKind, content domain.Content) (*domain.Node, error) {
	parent, err := s.repo.FindNodeByID(ctx, parentID)
	if err != nil {
		return nil, err
	}
	if parent == nil {
		return nil, appErrors.NewNotFound("parent node not found: " + parentID)
	}

	inherited, err := s.GetInheritedContext(ctx, parentID)
	if err != nil {
		return nil, err
	}
	return s.CreateNode(ctx, parent.BoardID, kind, content, inherited, parentID)
}

func (s *service) ExportGraph(ctx context.Context, boardID string) (*domain.Graph, error) {
	return s.repo.GetGraphData(ctx, boardID)
}
