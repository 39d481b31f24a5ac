package llm

import (
	"context"
	"fmt"
	"sync"
)

// MockProvider is a scripted Provider for tests. Each call consumes the
// next queued error (if any) or the next queued response, in order. It
// implements the full optional surface (streaming, tool use, JSON mode,
// context introspection) so tests can exercise every capability path.
type MockProvider struct {
	mu            sync.Mutex
	responses     []ChatResponse
	errors        []error
	model         string
	contextTokens int
	calls         int
}

// NewMockProvider creates a mock bound to the given model name with
// predefined responses and errors.
func NewMockProvider(model string, responses []ChatResponse, errors []error) *MockProvider {
	return &MockProvider{
		model:         model,
		responses:     responses,
		errors:        errors,
		contextTokens: 32000,
	}
}

// SetContextTokens overrides the window reported by MaxContextTokens.
func (m *MockProvider) SetContextTokens(n int) { m.contextTokens = n }

// Calls returns how many chat turns have been consumed.
func (m *MockProvider) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *MockProvider) next() (ChatResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++

	if len(m.errors) > 0 && m.errors[0] != nil {
		err := m.errors[0]
		m.errors = m.errors[1:]
		return ChatResponse{}, err
	}
	if len(m.errors) > 0 {
		m.errors = m.errors[1:]
	}

	if len(m.responses) == 0 {
		return ChatResponse{}, fmt.Errorf("mock provider: no more responses")
	}
	resp := m.responses[0]
	m.responses = m.responses[1:]
	return resp, nil
}

// Chat returns the next scripted response or error.
func (m *MockProvider) Chat(_ context.Context, _ ChatRequest) (ChatResponse, error) {
	return m.next()
}

// ChatWithTools returns the next scripted response or error.
func (m *MockProvider) ChatWithTools(_ context.Context, _ ChatRequest) (ChatResponse, error) {
	return m.next()
}

// ChatJSON returns the next scripted response or error.
func (m *MockProvider) ChatJSON(_ context.Context, _ ChatRequest) (ChatResponse, error) {
	return m.next()
}

// StreamChat replays the next scripted response as a chunk stream: one
// content chunk, one chunk per tool call, then the Done chunk.
func (m *MockProvider) StreamChat(_ context.Context, _ ChatRequest) (<-chan StreamChunk, error) {
	resp, err := m.next()
	if err != nil {
		return nil, err
	}

	ch := make(chan StreamChunk)
	go func() {
		defer close(ch)
		if resp.Message.Content != "" {
			ch <- StreamChunk{Content: resp.Message.Content}
		}
		for i := range resp.Message.ToolCalls {
			tc := resp.Message.ToolCalls[i]
			ch <- StreamChunk{ToolCall: &tc}
		}
		ch <- StreamChunk{Done: true, FinishReason: resp.FinishReason}
	}()
	return ch, nil
}

// StreamChatWithTools behaves like StreamChat; the mock does not
// distinguish tool-bearing requests.
func (m *MockProvider) StreamChatWithTools(ctx context.Context, req ChatRequest) (<-chan StreamChunk, error) {
	return m.StreamChat(ctx, req)
}

// ModelName returns the model this mock is bound to.
func (m *MockProvider) ModelName() string { return m.model }

// MaxContextTokens reports the mock's configured context window.
func (m *MockProvider) MaxContextTokens() int { return m.contextTokens }
