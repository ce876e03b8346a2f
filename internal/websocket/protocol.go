package websocket

import "encoding/json"

// Envelope is the inbound protocol frame. Type must be on the allow-list;
// ID is an optional correlation token echoed back as requestId.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
	ID   string          `json:"id,omitempty"`
}

// Reply is the outbound protocol frame for sender-addressed responses.
type Reply struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
	RequestID string      `json:"requestId,omitempty"`
}

// Inbound message types. Anything else is rejected with ERROR; the
// allow-list is the security boundary.
const (
	MsgCreateProject = "CREATE_PROJECT"
	MsgDeleteProject = "DELETE_PROJECT"
	MsgListProjects  = "LIST_PROJECTS"
	MsgCreateBoard   = "CREATE_BOARD"
	MsgDeleteBoard   = "DELETE_BOARD"
	MsgListBoards    = "LIST_BOARDS"

	MsgCreateNode = "CREATE_NODE"
	MsgUpdateNode = "UPDATE_NODE"
	MsgDeleteNode = "DELETE_NODE"
	MsgBranchNode = "BRANCH_NODE"

	MsgCreateEdge = "CREATE_EDGE"
	MsgUpdateEdge = "UPDATE_EDGE"
	MsgDeleteEdge = "DELETE_EDGE"

	MsgAddContext    = "ADD_CONTEXT"
	MsgSearchContext = "SEARCH_CONTEXT"
	MsgGetGraph      = "GET_GRAPH"

	MsgUpdateViewport = "UPDATE_VIEWPORT"
	MsgGetSettings    = "GET_SETTINGS"
	MsgUpdateSettings = "UPDATE_SETTINGS"

	MsgQuery     = "QUERY"
	MsgNodeQuery = "NODE_QUERY"
)

// Outbound event types.
const (
	EventGraphState      = "GRAPH_STATE"
	EventNodeCreated     = "NODE_CREATED"
	EventNodeUpdated     = "NODE_UPDATED"
	EventNodeDeleted     = "NODE_DELETED"
	EventEdgeCreated     = "EDGE_CREATED"
	EventEdgeUpdated     = "EDGE_UPDATED"
	EventEdgeDeleted     = "EDGE_DELETED"
	EventContextAdded    = "CONTEXT_ADDED"
	EventContextResults  = "CONTEXT_RESULTS"
	EventViewportUpdated = "VIEWPORT_UPDATED"
	EventSettings        = "SETTINGS"
	EventSettingsUpdated = "SETTINGS_UPDATED"
	EventProjectCreated  = "PROJECT_CREATED"
	EventProjectDeleted  = "PROJECT_DELETED"
	EventProjectList     = "PROJECT_LIST"
	EventBoardCreated    = "BOARD_CREATED"
	EventBoardDeleted    = "BOARD_DELETED"
	EventBoardList       = "BOARD_LIST"
	EventQueryChunk      = "QUERY_CHUNK"
	EventQueryCompleted  = "QUERY_COMPLETED"
	EventNodeReply       = "NODE_REPLY"
	EventError           = "ERROR"
)

// allowedTypes is the fixed inbound allow-list.
var allowedTypes = map[string]bool{
	MsgCreateProject:  true,
	MsgDeleteProject:  true,
	MsgListProjects:   true,
	MsgCreateBoard:    true,
	MsgDeleteBoard:    true,
	MsgListBoards:     true,
	MsgCreateNode:     true,
	MsgUpdateNode:     true,
	MsgDeleteNode:     true,
	MsgBranchNode:     true,
	MsgCreateEdge:     true,
	MsgUpdateEdge:     true,
	MsgDeleteEdge:     true,
	MsgAddContext:     true,
	MsgSearchContext:  true,
	MsgGetGraph:       true,
	MsgUpdateViewport: true,
	MsgGetSettings:    true,
	MsgUpdateSettings: true,
	MsgQuery:          true,
	MsgNodeQuery:      true,
}
