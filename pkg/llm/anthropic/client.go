// Package anthropic implements the provider contract over the Anthropic
// Messages API.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"conductor/pkg/config"
	"conductor/pkg/llm"
	"conductor/pkg/llm/llmerrors"
	"conductor/pkg/tools"
)

// Client wraps the Anthropic SDK client behind the llm.Provider contract.
// It additionally implements Streamer, ToolCaller, StreamToolCaller, and
// ContextSizer. Anthropic has no JSON output mode, so JSONModer is
// deliberately absent.
type Client struct {
	client anthropic.Client
	model  anthropic.Model
}

// New creates a client bound to the default Claude model.
func New(apiKey string) *Client {
	return NewWithModel(apiKey, config.ModelClaudeSonnet)
}

// NewWithModel creates a client bound to a specific model.
func NewWithModel(apiKey, model string) *Client {
	return &Client{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  anthropic.Model(model),
	}
}

// Chat implements llm.Provider.
func (c *Client) Chat(ctx context.Context, req llm.ChatRequest) (llm.ChatResponse, error) {
	req.Tools = nil
	return c.complete(ctx, req)
}

// ChatWithTools implements llm.ToolCaller.
func (c *Client) ChatWithTools(ctx context.Context, req llm.ChatRequest) (llm.ChatResponse, error) {
	return c.complete(ctx, req)
}

// StreamChat implements llm.Streamer. The turn is generated synchronously
// and replayed as chunks; wire-level SSE decoding belongs to the SDK layer.
func (c *Client) StreamChat(ctx context.Context, req llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	req.Tools = nil
	return c.replay(ctx, req)
}

// StreamChatWithTools implements llm.StreamToolCaller.
func (c *Client) StreamChatWithTools(ctx context.Context, req llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	return c.replay(ctx, req)
}

func (c *Client) replay(ctx context.Context, req llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	ch := make(chan llm.StreamChunk, 1)
	go func() {
		defer close(ch)
		resp, err := c.complete(ctx, req)
		if err != nil {
			ch <- llm.StreamChunk{Err: err}
			return
		}
		if resp.Message.Content != "" {
			ch <- llm.StreamChunk{Content: resp.Message.Content}
		}
		for i := range resp.Message.ToolCalls {
			tc := resp.Message.ToolCalls[i]
			ch <- llm.StreamChunk{ToolCall: &tc}
		}
		ch <- llm.StreamChunk{Done: true, FinishReason: resp.FinishReason}
	}()
	return ch, nil
}

// ModelName implements llm.Provider.
func (c *Client) ModelName() string {
	return string(c.model)
}

// MaxContextTokens implements llm.ContextSizer via the model registry.
func (c *Client) MaxContextTokens() int {
	info, _ := config.GetModelInfo(string(c.model))
	return info.MaxContextTokens
}

func (c *Client) complete(ctx context.Context, req llm.ChatRequest) (llm.ChatResponse, error) {
	systemPrompt, messages, err := flatten(req.Messages)
	if err != nil {
		return llm.ChatResponse{}, llmerrors.New(llmerrors.ErrorTypeBadPrompt, err.Error())
	}

	model := c.model
	if req.Model != "" {
		model = anthropic.Model(req.Model)
	}
	maxTokens := req.MaxCompletionTokens
	if maxTokens <= 0 {
		info, _ := config.GetModelInfo(string(model))
		maxTokens = info.MaxOutputTokens
	}

	params := anthropic.MessageNewParams{
		Model:       model,
		Messages:    messages,
		MaxTokens:   int64(maxTokens),
		Temperature: anthropic.Float(float64(req.Temperature)),
	}
	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: systemPrompt, Type: "text"}}
	}
	if len(req.Tools) > 0 {
		params.Tools = convertTools(req.Tools)
		params.ToolChoice = anthropic.ToolChoiceUnionParam{
			OfAuto: &anthropic.ToolChoiceAutoParam{},
		}
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return llm.ChatResponse{}, classifyError(err)
	}
	if resp == nil || len(resp.Content) == 0 {
		return llm.ChatResponse{}, llmerrors.New(llmerrors.ErrorTypeEmptyResponse, "empty response from Anthropic API")
	}

	msg := llm.Message{Role: llm.RoleAssistant}
	for i := range resp.Content {
		block := &resp.Content[i]
		switch block.Type {
		case "text":
			msg.Content += block.AsText().Text
		case "tool_use":
			toolUse := block.AsToolUse()
			var args map[string]any
			if err := json.Unmarshal(toolUse.Input, &args); err != nil {
				return llm.ChatResponse{}, llmerrors.Wrap(llmerrors.ErrorTypeUnknown, err, "failed to parse tool input")
			}
			msg.ToolCalls = append(msg.ToolCalls, llm.ToolCall{
				ID:         toolUse.ID,
				Name:       toolUse.Name,
				Parameters: args,
			})
		}
	}

	return llm.ChatResponse{
		Message:      msg,
		FinishReason: mapStopReason(string(resp.StopReason), len(msg.ToolCalls) > 0),
	}, nil
}

func mapStopReason(stop string, hasToolCalls bool) llm.FinishReason {
	switch stop {
	case "tool_use":
		return llm.FinishToolCalls
	case "max_tokens":
		return llm.FinishLength
	case "end_turn", "stop_sequence":
		if hasToolCalls {
			return llm.FinishToolCalls
		}
		return llm.FinishStop
	default:
		if hasToolCalls {
			return llm.FinishToolCalls
		}
		return llm.FinishStop
	}
}

// flatten prepares messages for the Anthropic API:
//  1. system messages are extracted to the top-level system parameter
//  2. tool-role messages are rendered as text and merged into user turns
//  3. consecutive same-role messages are merged to keep strict
//     user/assistant alternation
//
// The sequence must end on a user turn; the runtime guarantees this because
// every tool dispatch appends a tool message before the next call.
func flatten(messages []llm.Message) (string, []anthropic.MessageParam, error) {
	if len(messages) == 0 {
		return "", nil, fmt.Errorf("message list cannot be empty")
	}

	var systemParts []string
	var merged []anthropic.MessageParam
	var userParts []string

	flushUser := func() {
		if len(userParts) == 0 {
			return
		}
		merged = append(merged, anthropic.MessageParam{
			Role:    anthropic.MessageParamRoleUser,
			Content: []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(strings.Join(userParts, "\n\n"))},
		})
		userParts = nil
	}

	for i := range messages {
		msg := &messages[i]
		switch msg.Role {
		case llm.RoleSystem:
			systemParts = append(systemParts, msg.Content)

		case llm.RoleAssistant:
			flushUser()
			merged = append(merged, anthropic.MessageParam{
				Role:    anthropic.MessageParamRoleAssistant,
				Content: []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(renderAssistant(msg))},
			})

		case llm.RoleUser:
			userParts = append(userParts, msg.Content)

		case llm.RoleTool:
			for j := range msg.ToolResults {
				userParts = append(userParts, renderToolResult(&msg.ToolResults[j]))
			}

		default:
			return "", nil, fmt.Errorf("unsupported role %q at index %d", msg.Role, i)
		}
	}
	flushUser()

	if len(merged) == 0 {
		return "", nil, fmt.Errorf("must have at least one non-system message")
	}
	if merged[0].Role != anthropic.MessageParamRoleUser {
		return "", nil, fmt.Errorf("first message must be user role")
	}
	if merged[len(merged)-1].Role != anthropic.MessageParamRoleUser {
		return "", nil, fmt.Errorf("last message must be user role")
	}

	return strings.Join(systemParts, "\n\n"), merged, nil
}

// renderAssistant renders an assistant turn as text, including any tool
// calls it made so the model keeps its own reasoning trace.
func renderAssistant(msg *llm.Message) string {
	parts := make([]string, 0, 1+len(msg.ToolCalls))
	if msg.Content != "" {
		parts = append(parts, msg.Content)
	}
	for i := range msg.ToolCalls {
		tc := &msg.ToolCalls[i]
		args, _ := json.Marshal(tc.Parameters)
		parts = append(parts, fmt.Sprintf("[tool call %s: %s(%s)]", tc.ID, tc.Name, args))
	}
	if len(parts) == 0 {
		return "(no content)"
	}
	return strings.Join(parts, "\n")
}

func renderToolResult(tr *llm.ToolResult) string {
	status := "ok"
	if tr.IsError {
		status = "error"
	}
	return fmt.Sprintf("[tool result %s (%s)]: %s", tr.ToolCallID, status, tr.Content)
}

func convertTools(defs []tools.ToolDefinition) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(defs))
	for i := range defs {
		def := &defs[i]

		var properties any
		if len(def.InputSchema.Properties) > 0 {
			props := make(map[string]any, len(def.InputSchema.Properties))
			for name := range def.InputSchema.Properties {
				prop := def.InputSchema.Properties[name]
				propMap := map[string]any{"type": prop.Type}
				if prop.Description != "" {
					propMap["description"] = prop.Description
				}
				if len(prop.Enum) > 0 {
					propMap["enum"] = prop.Enum
				}
				props[name] = propMap
			}
			properties = props
		}

		schema := anthropic.ToolInputSchemaParam{
			Type:       "object",
			Properties: properties,
			Required:   def.InputSchema.Required,
		}
		out = append(out, anthropic.ToolUnionParamOfTool(schema, def.Name))
	}
	return out
}

// classifyError maps Anthropic SDK failures onto the shared error taxonomy.
func classifyError(err error) *llmerrors.Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return llmerrors.Wrap(llmerrors.ErrorTypeTransient, err, "request timeout")
	}
	if errors.Is(err, context.Canceled) {
		return llmerrors.Wrap(llmerrors.ErrorTypeTransient, err, "request canceled")
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 401, 403:
			return llmerrors.NewWithStatus(llmerrors.ErrorTypeAuth, apiErr.StatusCode, "authentication failed")
		case 429:
			return llmerrors.NewWithStatus(llmerrors.ErrorTypeRateLimit, apiErr.StatusCode, "rate limit exceeded")
		case 400:
			return llmerrors.NewWithStatus(llmerrors.ErrorTypeBadPrompt, apiErr.StatusCode, "bad request")
		case 500, 502, 503, 504:
			return llmerrors.NewWithStatus(llmerrors.ErrorTypeTransient, apiErr.StatusCode, "server error")
		}
	}

	lower := strings.ToLower(err.Error())
	switch {
	case strings.Contains(lower, "timeout"), strings.Contains(lower, "connection"),
		strings.Contains(lower, "eof"), strings.Contains(lower, "reset"):
		return llmerrors.Wrap(llmerrors.ErrorTypeTransient, err, "network error")
	case strings.Contains(lower, "rate"), strings.Contains(lower, "quota"):
		return llmerrors.Wrap(llmerrors.ErrorTypeRateLimit, err, "rate limiting detected")
	case strings.Contains(lower, "auth"), strings.Contains(lower, "unauthorized"), strings.Contains(lower, "api key"):
		return llmerrors.Wrap(llmerrors.ErrorTypeAuth, err, "authentication error")
	case strings.Contains(lower, "invalid"), strings.Contains(lower, "too large"):
		return llmerrors.Wrap(llmerrors.ErrorTypeBadPrompt, err, "prompt or request error")
	default:
		return llmerrors.Wrap(llmerrors.ErrorTypeUnknown, err, "unclassified error")
	}
}
