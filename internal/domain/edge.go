package domain

import "time"

// Edge represents a directed relationship between two nodes on a board.
// Parallel edges between the same pair are allowed.
type Edge struct {
	ID        string    `json:"id"`
	BoardID   string    `json:"boardId"`
	SourceID  string    `json:"sourceId"`
	TargetID  string    `json:"targetId"`
	Label     string    `json:"label,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// EdgeLabelResponse is the label given to edges linking a parent node to
// the node materialized from a query against it.
const EdgeLabelResponse = "response"
