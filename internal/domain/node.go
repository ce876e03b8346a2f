package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// NodeKind identifies the closed set of node payload shapes.
type NodeKind string

const (
	KindConversation NodeKind = "conversation"
	KindRichText     NodeKind = "richtext"
	KindDiagram      NodeKind = "diagram"
	KindTerminal     NodeKind = "terminal"
)

// ValidKind reports whether k is one of the supported node kinds.
func ValidKind(k NodeKind) bool {
	switch k {
	case KindConversation, KindRichText, KindDiagram, KindTerminal:
		return true
	}
	return false
}

// Node represents a single element on a board: a conversational turn,
// a document, a diagram, or a terminal session.
type Node struct {
	ID        string    `json:"id"`
	BoardID   string    `json:"boardId"`
	Kind      NodeKind  `json:"kind"`
	Content   Content   `json:"content"`
	Context   string    `json:"context"`
	ParentID  string    `json:"parentId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Turn is one message of a conversation thread.
type Turn struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// ConversationContent is the payload of a conversation node.
type ConversationContent struct {
	Question string `json:"question"`
	Response string `json:"response"`
	Thread   []Turn `json:"thread,omitempty"`
	Layout   string `json:"layout,omitempty"`
}

// RichTextContent is the payload of a free-form document node.
type RichTextContent struct {
	Markdown string `json:"markdown"`
}

// DiagramContent is the payload of a diagram node.
type DiagramContent struct {
	Source string `json:"source"`
	Format string `json:"format,omitempty"`
}

// TerminalContent is the payload of a terminal session node.
type TerminalContent struct {
	Command string `json:"command,omitempty"`
	Output  string `json:"output,omitempty"`
}

// Content is a tagged union of the kind-specific payloads. Exactly one
// variant is set, and it must match the owning node's Kind.
type Content struct {
	Conversation *ConversationContent `json:"conversation,omitempty"`
	RichText     *RichTextContent     `json:"richtext,omitempty"`
	Diagram      *DiagramContent      `json:"diagram,omitempty"`
	Terminal     *TerminalContent     `json:"terminal,omitempty"`
}

// Validate checks that the variant matching kind is set and no other is.
func (c Content) Validate(kind NodeKind) error {
	set := 0
	var active NodeKind
	if c.Conversation != nil {
		set++
		active = KindConversation
	}
	if c.RichText != nil {
		set++
		active = KindRichText
	}
	if c.Diagram != nil {
		set++
		active = KindDiagram
	}
	if c.Terminal != nil {
		set++
		active = KindTerminal
	}
	if set == 0 {
		// An empty payload is allowed; the UI fills it in later.
		return nil
	}
	if set > 1 {
		return fmt.Errorf("content sets %d variants, want at most one", set)
	}
	if active != kind {
		return fmt.Errorf("content variant %q does not match node kind %q", active, kind)
	}
	return nil
}

// Merge applies a one-level-deep partial update to the variant matching
// kind: keys present in patch overwrite, keys absent survive. Nested
// objects inside a key are replaced wholesale, not merged recursively.
func (c Content) Merge(kind NodeKind, patch map[string]json.RawMessage) (Content, error) {
	existing, err := json.Marshal(c.variantFor(kind))
	if err != nil {
		return Content{}, fmt.Errorf("failed to marshal existing content: %w", err)
	}

	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(existing, &fields); err != nil {
		return Content{}, fmt.Errorf("failed to decode existing content: %w", err)
	}
	for k, v := range patch {
		fields[k] = v
	}

	merged, err := json.Marshal(fields)
	if err != nil {
		return Content{}, fmt.Errorf("failed to marshal merged content: %w", err)
	}

	out := Content{}
	switch kind {
	case KindConversation:
		out.Conversation = &ConversationContent{}
		err = json.Unmarshal(merged, out.Conversation)
	case KindRichText:
		out.RichText = &RichTextContent{}
		err = json.Unmarshal(merged, out.RichText)
	case KindDiagram:
		out.Diagram = &DiagramContent{}
		err = json.Unmarshal(merged, out.Diagram)
	case KindTerminal:
		out.Terminal = &TerminalContent{}
		err = json.Unmarshal(merged, out.Terminal)
	default:
		return Content{}, fmt.Errorf("unknown node kind %q", kind)
	}
	if err != nil {
		return Content{}, fmt.Errorf("merged content does not fit kind %q: %w", kind, err)
	}
	return out, nil
}

// variantFor returns the payload for kind, or an empty payload of that
// kind when none is set yet.
func (c Content) variantFor(kind NodeKind) interface{} {
	switch kind {
	case KindConversation:
		if c.Conversation != nil {
			return c.Conversation
		}
		return &ConversationContent{}
	case KindRichText:
		if c.RichText != nil {
			return c.RichText
		}
		return &RichTextContent{}
	case KindDiagram:
		if c.Diagram != nil {
			return c.Diagram
		}
		return &DiagramContent{}
	case KindTerminal:
		if c.Terminal != nil {
			return c.Terminal
		}
		return &TerminalContent{}
	}
	return struct{}{}
}
