// Package repository defines the data access interface for the durable
// graph store. It keeps the service layer independent of the storage
// engine; the ddb subpackage is the only code that knows DynamoDB.
package repository

import (
	"context"

	"tapestry-backend/internal/domain"
)

// Repository is the persistence contract for boards, projects, graph
// elements, and process-wide settings.
//
// Cascade semantics: DeleteNode removes the node, every edge referencing
// it, and its context entries in one transaction. DeleteBoard removes the
// board and everything stored under it. Writers are serialized by the
// storage engine's own transaction mechanism, so the repository is safe
// to call from concurrent handlers.
type Repository interface {
	// Projects
	CreateProject(ctx context.Context, project domain.Project) error
	FindProjectByID(ctx context.Context, projectID string) (*domain.Project, error)
	ListProjects(ctx context.Context) ([]domain.Project, error)
	DeleteProject(ctx context.Context, projectID string) error

	// Boards
	CreateBoard(ctx context.Context, board domain.Board) error
	FindBoardByID(ctx context.Context, boardID string) (*domain.Board, error)
	FindBoardBySlug(ctx context.Context, slug string) (*domain.Board, error)
	ListBoards(ctx context.Context, projectID string) ([]domain.Board, error)
	UpdateBoardViewport(ctx context.Context, boardID string, viewport domain.Viewport) error
	DeleteBoard(ctx context.Context, boardID string) error

	// Nodes
	CreateNode(ctx context.Context, node domain.Node) error
	FindNodeByID(ctx context.Context, nodeID string) (*domain.Node, error)
	UpdateNode(ctx context.Context, node domain.Node) error
	DeleteNode(ctx context.Context, boardID, nodeID string) error

	// Edges
	CreateEdge(ctx context.Context, edge domain.Edge) error
	FindEdgeByID(ctx context.Context, edgeID string) (*domain.Edge, error)
	UpdateEdge(ctx context.Context, edge domain.Edge) error
	DeleteEdge(ctx context.Context, boardID, edgeID string) error

	// Context entries (append-only)
	AddContextEntry(ctx context.Context, entry domain.ContextEntry) error
	FindContextEntries(ctx context.Context, boardID, nodeID string) ([]domain.ContextEntry, error)

	// Graph export
	GetGraphData(ctx context.Context, boardID string) (*domain.Graph, error)

	// Settings
	GetSettings(ctx context.Context) (*domain.Settings, error)
	PutSettings(ctx context.Context, settings domain.Settings) error
}
