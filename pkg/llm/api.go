// Package llm defines the provider-agnostic chat contract: messages, tool
// calls, requests and responses, and the Provider interface with its
// optional capability-gated extensions.
package llm

import (
	"context"

	"conductor/pkg/tools"
)

// Role represents the role of a message in a conversation.
type Role string

const (
	// RoleSystem indicates a system message that provides instructions or context.
	RoleSystem Role = "system"
	// RoleUser indicates a message from the human user.
	RoleUser Role = "user"
	// RoleAssistant indicates a message from the model.
	RoleAssistant Role = "assistant"
	// RoleTool indicates a message carrying tool execution results.
	RoleTool Role = "tool"
)

// FinishReason classifies why a model turn ended.
type FinishReason string

const (
	// FinishStop means the model completed its turn normally.
	FinishStop FinishReason = "stop"
	// FinishToolCalls means the model requested tool execution.
	FinishToolCalls FinishReason = "tool_calls"
	// FinishLength means the completion hit the token limit.
	FinishLength FinishReason = "length"
	// FinishError means the backend reported a failure for this turn.
	FinishError FinishReason = "error"
)

// ToolCall is a tool invocation requested by the model. ID correlates the
// eventual result back to this call.
type ToolCall struct {
	Parameters map[string]any `json:"parameters"`
	ID         string         `json:"id"`
	Name       string         `json:"name"`
}

// ToolResult is the outcome of one tool call, correlated by ToolCallID.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error"`
}

// Message is a single conversation entry. Assistant messages may carry tool
// calls alongside text; tool-role messages carry results. Messages are
// immutable once appended to a conversation and their order is significant.
type Message struct {
	Role        Role
	Content     string
	ToolCalls   []ToolCall
	ToolResults []ToolResult
}

// ChatRequest represents one request to generate a model turn.
type ChatRequest struct {
	Messages            []Message
	Tools               []tools.ToolDefinition
	Model               string
	MaxCompletionTokens int
	Temperature         float32
}

// ChatResponse represents one completed model turn.
type ChatResponse struct {
	Message      Message
	FinishReason FinishReason
}

// StreamChunk is one increment of a streamed model turn. Exactly one of
// Content, ToolCall, or Err is meaningful per chunk; the final chunk sets
// Done and carries the turn's FinishReason.
type StreamChunk struct {
	Err          error
	ToolCall     *ToolCall
	Content      string
	FinishReason FinishReason
	Done         bool
}

// Provider is the minimal contract every backend adapter implements.
type Provider interface {
	// Chat generates one model turn synchronously.
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)

	// ModelName returns the model this adapter is bound to.
	ModelName() string
}

// Streamer is implemented by adapters that support streamed turns.
type Streamer interface {
	// StreamChat generates a model turn as a stream of chunks. The channel
	// is closed after the Done chunk.
	StreamChat(ctx context.Context, req ChatRequest) (<-chan StreamChunk, error)
}

// ToolCaller is implemented by adapters that support tool use. When the
// backend requests execution, the response carries FinishToolCalls and the
// message embeds the requested ToolCalls.
type ToolCaller interface {
	ChatWithTools(ctx context.Context, req ChatRequest) (ChatResponse, error)
}

// StreamToolCaller is implemented by adapters that support tool use over a
// streamed turn.
type StreamToolCaller interface {
	StreamChatWithTools(ctx context.Context, req ChatRequest) (<-chan StreamChunk, error)
}

// JSONModer is implemented by adapters that can constrain output to JSON.
type JSONModer interface {
	ChatJSON(ctx context.Context, req ChatRequest) (ChatResponse, error)
}

// ContextSizer is implemented by adapters that can introspect their own
// context window.
type ContextSizer interface {
	MaxContextTokens() int
}

// NewSystemMessage creates a new system message.
func NewSystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// NewUserMessage creates a new user message.
func NewUserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// NewToolMessage creates a tool-role message carrying the given results.
func NewToolMessage(results ...ToolResult) Message {
	return Message{Role: RoleTool, ToolResults: results}
}
