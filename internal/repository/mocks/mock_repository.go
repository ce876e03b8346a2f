// Package mocks provides mock implementations of repository interfaces for testing.
package mocks

import (
	"context"
	"sort"
	"sync"

	"tapestry-backend/internal/domain"
	appErrors "tapestry-backend/pkg/errors"
)

// MockRepository provides an in-memory mock implementation of the Repository
// interface. This is useful for unit testing services without requiring a
// real database.
type MockRepository struct {
	mu sync.RWMutex

	// In-memory storage
	projects map[string]*domain.Project // projectID -> Project
	boards   map[string]*domain.Board   // boardID -> Board
	slugs    map[string]string          // slug -> boardID
	nodes    map[string]*domain.Node    // nodeID -> Node
	edges    map[string]*domain.Edge    // edgeID -> Edge
	context  map[string][]domain.ContextEntry // nodeID -> entries, append order
	settings *domain.Settings

	// For testing error scenarios
	shouldFailOn map[string]error
}

// NewMockRepository creates a new mock repository instance.
func NewMockRepository() *MockRepository {
	return &MockRepository{
		projects:     make(map[string]*domain.Project),
		boards:       make(map[string]*domain.Board),
		slugs:        make(map[string]string),
		nodes:        make(map[string]*domain.Node),
		edges:        make(map[string]*domain.Edge),
		context:      make(map[string][]domain.ContextEntry),
		shouldFailOn: make(map[string]error),
	}
}

// SetError configures the mock to return an error for a specific method.
// Useful for testing error handling in services.
func (m *MockRepository) SetError(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shouldFailOn[method] = err
}

// ClearErrors removes all configured errors.
func (m *MockRepository) ClearErrors() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shouldFailOn = make(map[string]error)
}

// checkError returns an error if one is configured for the given method.
func (m *MockRepository) checkError(method string) error {
	if err, exists := m.shouldFailOn[method]; exists {
		return err
	}
	return nil
}

// Project operations

func (m *MockRepository) CreateProject(ctx context.Context, project domain.Project) error {
	if err := m.checkError("CreateProject"); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	projectCopy := project
	m.projects[project.ID] = &projectCopy
	return nil
}

func (m *MockRepository) FindProjectByID(ctx context.Context, projectID string) (*domain.Project, error) {
	if err := m.checkError("FindProjectByID"); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	project, exists := m.projects[projectID]
	if !exists {
		return nil, nil
	}
	projectCopy := *project
	return &projectCopy, nil
}

func (m *MockRepository) ListProjects(ctx context.Context) ([]domain.Project, error) {
	if err := m.checkError("ListProjects"); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	projects := []domain.Project{}
	for _, project := range m.projects {
		projects = append(projects, *project)
	}
	sort.Slice(projects, func(i, j int) bool { return projects[i].ID < projects[j].ID })
	return projects, nil
}

func (m *MockRepository) DeleteProject(ctx context.Context, projectID string) error {
	if err := m.checkError("DeleteProject"); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.projects, projectID)
	return nil
}

// Board operations

func (m *MockRepository) CreateBoard(ctx context.Context, board domain.Board) error {
	if err := m.checkError("CreateBoard"); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.slugs[board.Slug]; exists {
		return appErrors.NewValidation("board slug already exists")
	}

	boardCopy := board
	m.boards[board.ID] = &boardCopy
	m.slugs[board.Slug] = board.ID
	return nil
}

func (m *MockRepository) FindBoardByID(ctx context.Context, boardID string) (*domain.Board, error) {
	if err := m.checkError("FindBoardByID"); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	board, exists := m.boards[boardID]
	if !exists {
		return nil, nil
	}
	boardCopy := *board
	return &boardCopy, nil
}

func (m *MockRepository) FindBoardBySlug(ctx context.Context, slug string) (*domain.Board, error) {
	if err := m.checkError("FindBoardBySlug"); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	boardID, exists := m.slugs[slug]
	if !exists {
		return nil, nil
	}
	board := *m.boards[boardID]
	return &board, nil
}

func (m *MockRepository) ListBoards(ctx context.Context, projectID string) ([]domain.Board, error) {
	if err := m.checkError("ListBoards"); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	boards := []domain.Board{}
	for _, board := range m.boards {
		if board.ProjectID == projectID {
			boards = append(boards, *board)
		}
	}
	sort.Slice(boards, func(i, j int) bool { return boards[i].ID < boards[j].ID })
	return boards, nil
}

func (m *MockRepository) UpdateBoardViewport(ctx context.Context, boardID string, viewport domain.Viewport) error {
	if err := m.checkError("UpdateBoardViewport"); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	board, exists := m.boards[boardID]
	if !exists {
		return appErrors.NewNotFound("board not found")
	}
	board.Viewport = viewport
	return nil
}

func (m *MockRepository) DeleteBoard(ctx context.Context, boardID string) error {
	if err := m.checkError("DeleteBoard"); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	board, exists := m.boards[boardID]
	if !exists {
		return appErrors.NewNotFound("board not found")
	}

	for nodeID, node := range m.nodes {
		if node.BoardID == boardID {
			delete(m.nodes, nodeID)
			delete(m.context, nodeID)
		}
	}
	for edgeID, edge := range m.edges {
		if edge.BoardID == boardID {
			delete(m.edges, edgeID)
		}
	}
	delete(m.slugs, board.Slug)
	delete(m.boards, boardID)
	return nil
}

// Node operations

func (m *MockRepository) CreateNode(ctx context.Context, node domain.Node) error {
	if err := m.checkError("CreateNode"); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.nodes[node.ID]; exists {
		return appErrors.NewValidation("node already exists")
	}

	nodeCopy := node
	m.nodes[node.ID] = &nodeCopy
	return nil
}

func (m *MockRepository) FindNodeByID(ctx context.Context, nodeID string) (*domain.Node, error) {
	if err := m.checkError("FindNodeByID"); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	node, exists := m.nodes[nodeID]
	if !exists {
		return nil, nil
	}
	nodeCopy := *node
	return &nodeCopy, nil
}

func (m *MockRepository) UpdateNode(ctx context.Context, node domain.Node) error {
	if err := m.checkError("UpdateNode"); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.nodes[node.ID]; !exists {
		return appErrors.NewNotFound("node not found")
	}

	nodeCopy := node
	m.nodes[node.ID] = &nodeCopy
	return nil
}

func (m *MockRepository) DeleteNode(ctx context.Context, boardID, nodeID string) error {
	if err := m.checkError("DeleteNode"); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.nodes, nodeID)
	delete(m.context, nodeID)
	for edgeID, edge := range m.edges {
		if edge.BoardID == boardID && (edge.SourceID == nodeID || edge.TargetID == nodeID) {
			delete(m.edges, edgeID)
		}
	}
	return nil
}

// Edge operations

func (m *MockRepository) CreateEdge(ctx context.Context, edge domain.Edge) error {
	if err := m.checkError("CreateEdge"); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	edgeCopy := edge
	m.edges[edge.ID] = &edgeCopy
	return nil
}

func (m *MockRepository) FindEdgeByID(ctx context.Context, edgeID string) (*domain.Edge, error) {
	if err := m.checkError("FindEdgeByID"); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	edge, exists := m.edges[edgeID]
	if !exists {
		return nil, nil
	}
	edgeCopy := *edge
	return &edgeCopy, nil
}

func (m *MockRepository) UpdateEdge(ctx context.Context, edge domain.Edge) error {
	if err := m.checkError("UpdateEdge"); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.edges[edge.ID]; !exists {
		return appErrors.NewNotFound("edge not found")
	}

	edgeCopy := edge
	m.edges[edge.ID] = &edgeCopy
	return nil
}

func (m *MockRepository) DeleteEdge(ctx context.Context, boardID, edgeID string) error {
	if err := m.checkError("DeleteEdge"); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.edges, edgeID)
	return nil
}

// Context operations

func (m *MockRepository) AddContextEntry(ctx context.Context, entry domain.ContextEntry) error {
	if err := m.checkError("AddContextEntry"); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.context[entry.NodeID] = append(m.context[entry.NodeID], entry)
	return nil
}

func (m *MockRepository) FindContextEntries(ctx context.Context, boardID, nodeID string) ([]domain.ContextEntry, error) {
	if err := m.checkError("FindContextEntries"); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := make([]domain.ContextEntry, len(m.context[nodeID]))
	copy(entries, m.context[nodeID])
	return entries, nil
}

// Graph export

func (m *MockRepository) GetGraphData(ctx context.Context, boardID string) (*domain.Graph, error) {
	if err := m.checkError("GetGraphData"); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	graph := &domain.Graph{Nodes: []domain.Node{}, Edges: []domain.Edge{}}
	for _, node := range m.nodes {
		if node.BoardID == boardID {
			graph.Nodes = append(graph.Nodes, *node)
		}
	}
	for _, edge := range m.edges {
		if edge.BoardID == boardID {
			graph.Edges = append(graph.Edges, *edge)
		}
	}
	sort.Slice(graph.Nodes, func(i, j int) bool { return graph.Nodes[i].ID < graph.Nodes[j].ID })
	sort.Slice(graph.Edges, func(i, j int) bool { return graph.Edges[i].ID < graph.Edges[j].ID })
	return graph, nil
}

// Settings

func (m *MockRepository) GetSettings(ctx context.Context) (*domain.Settings, error) {
	if err := m.checkError("GetSettings"); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.settings == nil {
		return nil, nil
	}
	settingsCopy := *m.settings
	return &settingsCopy, nil
}

func (m *MockRepository) PutSettings(ctx context.Context, settings domain.Settings) error {
	if err := m.checkError("PutSettings"); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	settingsCopy := settings
	m.settings = &settingsCopy
	return nil
}
