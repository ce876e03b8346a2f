package domain

import "time"

// ContextSource identifies where a context entry came from.
type ContextSource string

const (
	SourceUser     ContextSource = "user"
	SourceAgent    ContextSource = "agent"
	SourceCodebase ContextSource = "codebase"
	SourceDiagram  ContextSource = "diagram"
)

// ValidSource reports whether s is one of the supported context sources.
func ValidSource(s ContextSource) bool {
	switch s {
	case SourceUser, SourceAgent, SourceCodebase, SourceDiagram:
		return true
	}
	return false
}

// ContextEntry is an append-only fact attached to a node. Entries are
// never updated or deleted except when the owning node is deleted.
// The embedding is an opaque blob owned by the external search subsystem.
type ContextEntry struct {
	ID        string        `json:"id"`
	NodeID    string        `json:"nodeId"`
	BoardID   string        `json:"boardId"`
	Text      string        `json:"text"`
	Source    ContextSource `json:"source"`
	Embedding []byte        `json:"embedding,omitempty"`
	CreatedAt time.Time     `json:"createdAt"`
}
