// Package llm abstracts the language-model backend behind a small provider
// interface supporting batch and streaming completion.
package llm

import "context"

// Role values for conversation turns.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of a conversation sent to the backend.
type Message struct {
	Role string
	Text string
}

// Provider is the contract for a text-completion backend. Implementations
// must deliver stream deltas in the exact order the backend produced them.
type Provider interface {
	// Complete performs a batch round-trip and returns the full response.
	Complete(ctx context.Context, system string, messages []Message) (string, error)

	// Stream performs a streaming round-trip, invoking onDelta for every
	// incremental text chunk, and returns the accumulated full response.
	Stream(ctx context.Context, system string, messages []Message, onDelta func(string)) (string, error)

	// IsAvailable reports whether the backend is configured and reachable
	// enough to attempt a call.
	IsAvailable() bool
}
