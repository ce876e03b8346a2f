package websocket

import (
	"context"
	"encoding/json"

	"tapestry-backend/internal/domain"
	"tapestry-backend/internal/service/board"
	"tapestry-backend/internal/service/graph"
	"tapestry-backend/internal/service/query"
	"tapestry-backend/internal/service/settings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// Dispatcher validates inbound envelopes against the allow-list and routes
// them to the service layer. Violations fail closed: a structured ERROR
// goes back to the offending connection only, tagged with the request id.
type Dispatcher struct {
	boards   board.Service
	graph    graph.Service
	query    query.Service
	settings settings.Service
	hub      *Hub
	validate *validator.Validate
	logger   *zap.Logger
}

// NewDispatcher creates a dispatcher wired to the given services.
func NewDispatcher(boards board.Service, graphSvc graph.Service, querySvc query.Service, settingsSvc settings.Service, hub *Hub, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		boards:   boards,
		graph:    graphSvc,
		query:    querySvc,
		settings: settingsSvc,
		hub:      hub,
		validate: validator.New(),
		logger:   logger,
	}
}

type createProjectPayload struct {
	Name string `json:"name" validate:"required"`
}

type deleteProjectPayload struct {
	ProjectID string `json:"projectId" validate:"required"`
}

type createBoardPayload struct {
	Name      string `json:"name"`
	Slug      string `json:"slug" validate:"required"`
	ProjectID string `json:"projectId"`
}

type deleteBoardPayload struct {
	BoardID string `json:"boardId" validate:"required"`
}

type listBoardsPayload struct {
	ProjectID string `json:"projectId"`
}

type createNodePayload struct {
	Kind     string         `json:"kind" validate:"required"`
	Content  domain.Content `json:"content"`
	Context  string         `json:"context"`
	ParentID string         `json:"parentId"`
}

type updateNodePayload struct {
	NodeID  string                     `json:"nodeId" validate:"required"`
	Content *domain.Content            `json:"content"`
	Merge   map[string]json.RawMessage `json:"merge"`
	Context *string                    `json:"context"`
}

type deleteNodePayload struct {
	NodeID string `json:"nodeId" validate:"required"`
}

type branchNodePayload struct {
	ParentID string         `json:"parentId" validate:"required"`
	Kind     string         `json:"kind" validate:"required"`
	Content  domain.Content `json:"content"`
}

type createEdgePayload struct {
	SourceID string `json:"sourceId" validate:"required"`
	TargetID string `json:"targetId" validate:"required"`
	Label    string `json:"label"`
}

type updateEdgePayload struct {
	EdgeID string `json:"edgeId" validate:"required"`
	Label  string `json:"label"`
}

type deleteEdgePayload struct {
	EdgeID string `json:"edgeId" validate:"required"`
}

type addContextPayload struct {
	NodeID    string `json:"nodeId" validate:"required"`
	Text      string `json:"text" validate:"required"`
	Source    string `json:"source" validate:"required"`
	Embedding []byte `json:"embedding"`
}

type searchContextPayload struct {
	NodeID string `json:"nodeId" validate:"required"`
	Query  string `json:"query"`
}

type viewportPayload struct {
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	Zoom float64 `json:"zoom"`
}

type updateSettingsPayload struct {
	AgentName *string `json:"agentName"`
	APIKey    *string `json:"apiKey"`
	Model     *string `json:"model"`
}

type queryPayload struct {
	Question string `json:"question" validate:"required"`
	ParentID string `json:"parentId"`
	Context  string `json:"context"`
	Layout   string `json:"layout"`
	Stream   bool   `json:"stream"`
}

type nodeQueryPayload struct {
	NodeID   string `json:"nodeId" validate:"required"`
	Question string `json:"question" validate:"required"`
	Stream   bool   `json:"stream"`
}

// Dispatch parses one inbound frame and routes it. Queries run in their
// own goroutine so an LLM round-trip never blocks other traffic.
func (d *Dispatcher) Dispatch(c *Client, raw []byte) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		d.sendError(c, "", "malformed envelope: not a JSON object")
		return
	}
	if env.Type == "" {
		d.sendError(c, env.ID, "malformed envelope: missing type")
		return
	}
	if !allowedTypes[env.Type] {
		d.sendError(c, env.ID, "unknown message type: "+env.Type)
		return
	}

	ctx := context.Background()

	switch env.Type {
	case MsgCreateProject:
		d.handleCreateProject(ctx, c, env)
	case MsgDeleteProject:
		d.handleDeleteProject(ctx, c, env)
	case MsgListProjects:
		d.handleListProjects(ctx, c, env)
	case MsgCreateBoard:
		d.handleCreateBoard(ctx, c, env)
	case MsgDeleteBoard:
		d.handleDeleteBoard(ctx, c, env)
	case MsgListBoards:
		d.handleListBoards(ctx, c, env)
	case MsgCreateNode:
		d.handleCreateNode(ctx, c, env)
	case MsgUpdateNode:
		d.handleUpdateNode(ctx, c, env)
	case MsgDeleteNode:
		d.handleDeleteNode(ctx, c, env)
	case MsgBranchNode:
		d.handleBranchNode(ctx, c, env)
	case MsgCreateEdge:
		d.handleCreateEdge(ctx, c, env)
	case MsgUpdateEdge:
		d.handleUpdateEdge(ctx, c, env)
	case MsgDeleteEdge:
		d.handleDeleteEdge(ctx, c, env)
	case MsgAddContext:
		d.handleAddContext(ctx, c, env)
	case MsgSearchContext:
		d.handleSearchContext(ctx, c, env)
	case MsgGetGraph:
		d.handleGetGraph(ctx, c, env)
	case MsgUpdateViewport:
		d.handleUpdateViewport(ctx, c, env)
	case MsgGetSettings:
		d.handleGetSettings(ctx, c, env)
	case MsgUpdateSettings:
		d.handleUpdateSettings(ctx, c, env)
	case MsgQuery:
		go d.handleQuery(ctx, c, env)
	case MsgNodeQuery:
		go d.handleNodeQuery(ctx, c, env)
	}
}

// SendSnapshot pushes the full current board state to one connection. This
// is the first frame a client receives after connecting.
func (d *Dispatcher) SendSnapshot(ctx context.Context, c *Client, b *domain.Board) {
	g, err := d.graph.ExportGraph(ctx, b.ID)
	if err != nil {
		d.logger.Error("Failed to build snapshot",
			zap.String("boardID", b.ID),
			zap.Error(err))
		d.sendError(c, "", "failed to load board state")
		return
	}
	c.Send(Reply{Type: EventGraphState, Data: map[string]interface{}{
		"nodes":    g.Nodes,
		"edges":    g.Edges,
		"viewport": b.Viewport,
	}})
}

func (d *Dispatcher) handleCreateProject(ctx context.Context, c *Client, env Envelope) {
	var p createProjectPayload
	if !d.decode(c, env, &p) {
		return
	}
	project, err := d.boards.CreateProject(ctx, p.Name)
	if err != nil {
		d.sendError(c, env.ID, err.Error())
		return
	}
	c.Send(Reply{Type: EventProjectCreated, Data: project, RequestID: env.ID})
}

func (d *Dispatcher) handleDeleteProject(ctx context.Context, c *Client, env Envelope) {
	var p deleteProjectPayload
	if !d.decode(c, env, &p) {
		return
	}
	if err := d.boards.DeleteProject(ctx, p.ProjectID); err != nil {
		d.sendError(c, env.ID, err.Error())
		return
	}
	c.Send(Reply{Type: EventProjectDeleted, Data: map[string]string{"projectId": p.ProjectID}, RequestID: env.ID})
}

func (d *Dispatcher) handleListProjects(ctx context.Context, c *Client, env Envelope) {
	projects, err := d.boards.ListProjects(ctx)
	if err != nil {
		d.sendError(c, env.ID, err.Error())
		return
	}
	c.Send(Reply{Type: EventProjectList, Data: projects, RequestID: env.ID})
}

func (d *Dispatcher) handleCreateBoard(ctx context.Context, c *Client, env Envelope) {
	var p createBoardPayload
	if !d.decode(c, env, &p) {
		return
	}
	b, err := d.boards.CreateBoard(ctx, p.Name, p.Slug, p.ProjectID)
	if err != nil {
		d.sendError(c, env.ID, err.Error())
		return
	}
	c.Send(Reply{Type: EventBoardCreated, Data: b, RequestID: env.ID})
}

func (d *Dispatcher) handleDeleteBoard(ctx context.Context, c *Client, env Envelope) {
	var p deleteBoardPayload
	if !d.decode(c, env, &p) {
		return
	}
	if err := d.boards.DeleteBoard(ctx, p.BoardID); err != nil {
		d.sendError(c, env.ID, err.Error())
		return
	}
	c.Send(Reply{Type: EventBoardDeleted, Data: map[string]string{"boardId": p.BoardID}, RequestID: env.ID})
}

func (d *Dispatcher) handleListBoards(ctx context.Context, c *Client, env Envelope) {
	var p listBoardsPayload
	if len(env.Data) > 0 && !d.decode(c, env, &p) {
		return
	}
	boards, err := d.boards.ListBoards(ctx, p.ProjectID)
	if err != nil {
		d.sendError(c, env.ID, err.Error())
		return
	}
	c.Send(Reply{Type: EventBoardList, Data: boards, RequestID: env.ID})
}

func (d *Dispatcher) handleCreateNode(ctx context.Context, c *Client, env Envelope) {
	var p createNodePayload
	if !d.decode(c, env, &p) {
		return
	}
	node, err := d.graph.CreateNode(ctx, c.boardID, domain.NodeKind(p.Kind), p.Content, p.Context, p.ParentID)
	if err != nil {
		d.sendError(c, env.ID, err.Error())
		return
	}
	d.hub.BroadcastToBoard(c.boardID, EventNodeCreated, node)
}

func (d *Dispatcher) handleUpdateNode(ctx context.Context, c *Client, env Envelope) {
	var p updateNodePayload
	if !d.decode(c, env, &p) {
		return
	}
	node, err := d.graph.UpdateNode(ctx, p.NodeID, graph.UpdateNodeRequest{
		Content: p.Content,
		Merge:   p.Merge,
		Context: p.Context,
	})
	if err != nil {
		d.sendError(c, env.ID, err.Error())
		return
	}
	d.hub.BroadcastToBoard(node.BoardID, EventNodeUpdated, node)
}

func (d *Dispatcher) handleDeleteNode(ctx context.Context, c *Client, env Envelope) {
	var p deleteNodePayload
	if !d.decode(c, env, &p) {
		return
	}
	node, err := d.graph.DeleteNode(ctx, p.NodeID)
	if err != nil {
		d.sendError(c, env.ID, err.Error())
		return
	}
	d.hub.BroadcastToBoard(node.BoardID, EventNodeDeleted, map[string]string{"nodeId": p.NodeID})
}

func (d *Dispatcher) handleBranchNode(ctx context.Context, c *Client, env Envelope) {
	var p branchNodePayload
	if !d.decode(c, env, &p) {
		return
	}
	node, err := d.graph.BranchNode(ctx, p.ParentID, domain.NodeKind(p.Kind), p.Content)
	if err != nil {
		d.sendError(c, env.ID, err.Error())
		return
	}
	d.hub.BroadcastToBoard(node.BoardID, EventNodeCreated, node)
}

func (d *Dispatcher) handleCreateEdge(ctx context.Context, c *Client, env Envelope) {
	var p createEdgePayload
	if !d.decode(c, env, &p) {
		return
	}
	edge, err := d.graph.CreateEdge(ctx, c.boardID, p.SourceID, p.TargetID, p.Label)
	if err != nil {
		d.sendError(c, env.ID, err.Error())
		return
	}
	d.hub.BroadcastToBoard(c.boardID, EventEdgeCreated, edge)
}

func (d *Dispatcher) handleUpdateEdge(ctx context.Context, c *Client, env Envelope) {
	var p updateEdgePayload
	if !d.decode(c, env, &p) {
		return
	}
	edge, err := d.graph.UpdateEdge(ctx, p.EdgeID, p.Label)
	if err != nil {
		d.sendError(c, env.ID, err.Error())
		return
	}
	d.hub.BroadcastToBoard(edge.BoardID, EventEdgeUpdated, edge)
}

func (d *Dispatcher) handleDeleteEdge(ctx context.Context, c *Client, env Envelope) {
	var p deleteEdgePayload
	if !d.decode(c, env, &p) {
		return
	}
	edge, err := d.graph.DeleteEdge(ctx, p.EdgeID)
	if err != nil {
		d.sendError(c, env.ID, err.Error())
		return
	}
	d.hub.BroadcastToBoard(edge.BoardID, EventEdgeDeleted, map[string]string{"edgeId": p.EdgeID})
}

func (d *Dispatcher) handleAddContext(ctx context.Context, c *Client, env Envelope) {
	var p addContextPayload
	if !d.decode(c, env, &p) {
		return
	}
	entry, err := d.graph.AddContext(ctx, p.NodeID, p.Text, domain.ContextSource(p.Source), p.Embedding)
	if err != nil {
		d.sendError(c, env.ID, err.Error())
		return
	}
	d.hub.BroadcastToBoard(entry.BoardID, EventContextAdded, entry)
}

func (d *Dispatcher) handleSearchContext(ctx context.Context, c *Client, env Envelope) {
	var p searchContextPayload
	if !d.decode(c, env, &p) {
		return
	}
	entries, err := d.graph.SearchContext(ctx, p.NodeID, p.Query)
	if err != nil {
		d.sendError(c, env.ID, err.Error())
		return
	}
	c.Send(Reply{Type: EventContextResults, Data: entries, RequestID: env.ID})
}

func (d *Dispatcher) handleGetGraph(ctx context.Context, c *Client, env Envelope) {
	g, err := d.graph.ExportGraph(ctx, c.boardID)
	if err != nil {
		d.sendError(c, env.ID, err.Error())
		return
	}
	c.Send(Reply{Type: EventGraphState, Data: g, RequestID: env.ID})
}

func (d *Dispatcher) handleUpdateViewport(ctx context.Context, c *Client, env Envelope) {
	var p viewportPayload
	if !d.decode(c, env, &p) {
		return
	}
	viewport := domain.Viewport{X: p.X, Y: p.Y, Zoom: p.Zoom}
	if err := d.boards.UpdateViewport(ctx, c.boardID, viewport); err != nil {
		d.sendError(c, env.ID, err.Error())
		return
	}
	d.hub.BroadcastToBoard(c.boardID, EventViewportUpdated, viewport)
}

func (d *Dispatcher) handleGetSettings(ctx context.Context, c *Client, env Envelope) {
	current, err := d.settings.Get(ctx)
	if err != nil {
		d.sendError(c, env.ID, err.Error())
		return
	}
	c.Send(Reply{Type: EventSettings, Data: current.Redacted(), RequestID: env.ID})
}

func (d *Dispatcher) handleUpdateSettings(ctx context.Context, c *Client, env Envelope) {
	var p updateSettingsPayload
	if !d.decode(c, env, &p) {
		return
	}
	updated, err := d.settings.Update(ctx, settings.UpdateRequest{
		AgentName: p.AgentName,
		APIKey:    p.APIKey,
		Model:     p.Model,
	})
	if err != nil {
		d.sendError(c, env.ID, err.Error())
		return
	}
	// Settings apply to every board, so this is the one global broadcast.
	if err := d.hub.SendToAll(EventSettingsUpdated, updated.Redacted()); err != nil {
		d.logger.Error("Settings broadcast failed", zap.Error(err))
	}
}

func (d *Dispatcher) handleQuery(ctx context.Context, c *Client, env Envelope) {
	var p queryPayload
	if !d.decode(c, env, &p) {
		return
	}
	_, err := d.query.Ask(ctx, query.AskRequest{
		BoardID:  c.boardID,
		Question: p.Question,
		ParentID: p.ParentID,
		Context:  p.Context,
		Layout:   p.Layout,
		Stream:   p.Stream,
		OnChunk: func(text string) {
			c.Send(Reply{Type: EventQueryChunk, Data: map[string]string{"text": text}, RequestID: env.ID})
		},
	})
	if err != nil {
		d.sendError(c, env.ID, err.Error())
	}
	// The completed result is broadcast by the orchestrator itself, edge
	// first, so ordering holds for every board member including the caller.
}

func (d *Dispatcher) handleNodeQuery(ctx context.Context, c *Client, env Envelope) {
	var p nodeQueryPayload
	if !d.decode(c, env, &p) {
		return
	}
	reply, err := d.query.AskNode(ctx, query.NodeAskRequest{
		NodeID:   p.NodeID,
		Question: p.Question,
		Stream:   p.Stream,
		OnChunk: func(text string) {
			c.Send(Reply{Type: EventQueryChunk, Data: map[string]string{"text": text}, RequestID: env.ID})
		},
	})
	if err != nil {
		d.sendError(c, env.ID, err.Error())
		return
	}
	c.Send(Reply{Type: EventNodeReply, Data: map[string]string{
		"nodeId": p.NodeID,
		"reply":  reply,
	}, RequestID: env.ID})
}

// decode unmarshals and validates a payload, reporting failures to the
// sender. Returns false when dispatch should stop.
func (d *Dispatcher) decode(c *Client, env Envelope, payload interface{}) bool {
	if len(env.Data) == 0 {
		d.sendError(c, env.ID, "missing data payload for "+env.Type)
		return false
	}
	if err := json.Unmarshal(env.Data, payload); err != nil {
		d.sendError(c, env.ID, "malformed data payload for "+env.Type)
		return false
	}
	if err := d.validate.Struct(payload); err != nil {
		d.sendError(c, env.ID, "invalid data payload for "+env.Type+": "+err.Error())
		return false
	}
	return true
}

func (d *Dispatcher) sendError(c *Client, requestID, message string) {
	c.Send(Reply{Type: EventError, Error: message, RequestID: requestID})
}
