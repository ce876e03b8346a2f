package llm

import (
	"context"
	"sync"
)

// MockProvider is a configurable in-memory Provider for tests.
type MockProvider struct {
	mu sync.Mutex

	// Response is returned by Complete and, split into Chunks, by Stream.
	Response string

	// Chunks, when set, are emitted one by one in streaming mode instead
	// of the whole Response at once.
	Chunks []string

	// Err fails the call. FailAfterChunks controls how many chunks are
	// emitted first (streaming only; -1 means fail before any chunk).
	Err             error
	FailAfterChunks int

	// Available mirrors IsAvailable. Set true in tests by default.
	Available bool

	// Recorded inputs of the last call, for assertions.
	LastSystem   string
	LastMessages []Message
}

// NewMockProvider returns an available provider echoing the given response.
func NewMockProvider(response string) *MockProvider {
	return &MockProvider{Response: response, Available: true, FailAfterChunks: -1}
}

func (m *MockProvider) IsAvailable() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Available
}

func (m *MockProvider) Complete(ctx context.Context, system string, messages []Message) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.LastSystem = system
	m.LastMessages = append([]Message(nil), messages...)

	if m.Err != nil {
		return "", m.Err
	}
	return m.Response, nil
}

func (m *MockProvider) Stream(ctx context.Context, system string, messages []Message, onDelta func(string)) (string, error) {
	m.mu.Lock()
	m.LastSystem = system
	m.LastMessages = append([]Message(nil), messages...)
	chunks := m.Chunks
	if chunks == nil && m.Response != "" {
		chunks = []string{m.Response}
	}
	err := m.Err
	failAfter := m.FailAfterChunks
	m.mu.Unlock()

	if err != nil && failAfter < 0 {
		return "", err
	}

	var full string
	for i, chunk := range chunks {
		if err != nil && i >= failAfter {
			return "", err
		}
		full += chunk
		onDelta(chunk)
	}
	if err != nil {
		return "", err
	}
	return full, nil
}
