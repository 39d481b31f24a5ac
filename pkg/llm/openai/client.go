// Package openai implements the provider contract over the OpenAI
// Responses API.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"

	"conductor/pkg/config"
	"conductor/pkg/llm"
	"conductor/pkg/llm/llmerrors"
	"conductor/pkg/tools"
)

// Client wraps the official OpenAI Go client behind the llm.Provider
// contract. It implements Streamer, ToolCaller, StreamToolCaller,
// JSONModer, and ContextSizer.
type Client struct {
	client openai.Client
	model  string
}

// New creates a client bound to the default GPT model.
func New(apiKey string) *Client {
	return NewWithModel(apiKey, config.ModelGPT5)
}

// NewWithModel creates a client bound to a specific model.
func NewWithModel(apiKey, model string) *Client {
	return &Client{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
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

// ChatJSON implements llm.JSONModer. Output shape is instruction-enforced;
// the Responses API input here is a flattened transcript, so a response
// format parameter does not apply.
func (c *Client) ChatJSON(ctx context.Context, req llm.ChatRequest) (llm.ChatResponse, error) {
	req.Tools = nil
	msgs := make([]llm.Message, 0, len(req.Messages)+1)
	msgs = append(msgs, llm.NewSystemMessage("Respond with a single valid JSON object and nothing else."))
	msgs = append(msgs, req.Messages...)
	req.Messages = msgs
	return c.complete(ctx, req)
}

// StreamChat implements llm.Streamer by replaying the completed turn as
// chunks; wire-level SSE decoding belongs to the SDK layer.
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
	return c.model
}

// MaxContextTokens implements llm.ContextSizer via the model registry.
func (c *Client) MaxContextTokens() int {
	info, _ := config.GetModelInfo(c.model)
	return info.MaxContextTokens
}

func (c *Client) complete(ctx context.Context, req llm.ChatRequest) (llm.ChatResponse, error) {
	if len(req.Messages) == 0 {
		return llm.ChatResponse{}, llmerrors.New(llmerrors.ErrorTypeBadPrompt, "message list cannot be empty")
	}

	model := c.model
	if req.Model != "" {
		model = req.Model
	}

	// Cap the completion budget at the model's actual output limit.
	maxTokens := req.MaxCompletionTokens
	info, _ := config.GetModelInfo(model)
	if maxTokens <= 0 || (info.MaxOutputTokens > 0 && maxTokens > info.MaxOutputTokens) {
		maxTokens = info.MaxOutputTokens
	}

	params := responses.ResponseNewParams{
		Model:           model,
		MaxOutputTokens: openai.Int(int64(maxTokens)),
		Input:           responses.ResponseNewParamsInputUnion{OfString: openai.String(renderTranscript(req.Messages))},
	}
	if len(req.Tools) > 0 {
		params.Tools = convertTools(req.Tools)
	}

	resp, err := c.client.Responses.New(ctx, params)
	if err != nil {
		return llm.ChatResponse{}, classifyError(err)
	}
	if resp == nil {
		return llm.ChatResponse{}, llmerrors.New(llmerrors.ErrorTypeEmptyResponse, "empty response from OpenAI Responses API")
	}

	msg := llm.Message{Role: llm.RoleAssistant}
	for i := range resp.Output {
		item := &resp.Output[i]
		if item.Type != "function_call" {
			// Text lands via OutputText below; reasoning items stay internal.
			continue
		}
		call := item.AsFunctionCall()
		var args map[string]any
		if call.Arguments != "" {
			if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
				continue
			}
		}
		msg.ToolCalls = append(msg.ToolCalls, llm.ToolCall{
			ID:         call.CallID,
			Name:       call.Name,
			Parameters: args,
		})
	}
	msg.Content = resp.OutputText()

	if msg.Content == "" && len(msg.ToolCalls) == 0 {
		return llm.ChatResponse{}, llmerrors.New(llmerrors.ErrorTypeEmptyResponse, "response carried no text or tool calls")
	}

	return llm.ChatResponse{
		Message:      msg,
		FinishReason: mapFinish(resp, len(msg.ToolCalls) > 0),
	}, nil
}

func mapFinish(resp *responses.Response, hasToolCalls bool) llm.FinishReason {
	if hasToolCalls {
		return llm.FinishToolCalls
	}
	if resp.Status == "incomplete" && resp.IncompleteDetails.Reason == "max_output_tokens" {
		return llm.FinishLength
	}
	return llm.FinishStop
}

// renderTranscript flattens the conversation into a single Responses API
// input string, tool traffic included.
func renderTranscript(messages []llm.Message) string {
	var b strings.Builder
	for i := range messages {
		msg := &messages[i]
		switch msg.Role {
		case llm.RoleSystem:
			fmt.Fprintf(&b, "System: %s\n\n", msg.Content)
		case llm.RoleUser:
			fmt.Fprintf(&b, "User: %s\n\n", msg.Content)
		case llm.RoleAssistant:
			if msg.Content != "" {
				fmt.Fprintf(&b, "Assistant: %s\n\n", msg.Content)
			}
			for j := range msg.ToolCalls {
				tc := &msg.ToolCalls[j]
				args, _ := json.Marshal(tc.Parameters)
				fmt.Fprintf(&b, "Assistant: [tool call %s: %s(%s)]\n\n", tc.ID, tc.Name, args)
			}
		case llm.RoleTool:
			for j := range msg.ToolResults {
				tr := &msg.ToolResults[j]
				status := "ok"
				if tr.IsError {
					status = "error"
				}
				fmt.Fprintf(&b, "Tool result %s (%s): %s\n\n", tr.ToolCallID, status, tr.Content)
			}
		}
	}
	return strings.TrimSuffix(b.String(), "\n\n")
}

// convertProperty recursively converts a schema property to the wire map
// format, nested arrays and objects included.
func convertProperty(prop *tools.Property) map[string]any {
	schema := map[string]any{
		"type":        prop.Type,
		"description": prop.Description,
	}
	if len(prop.Enum) > 0 {
		schema["enum"] = prop.Enum
	}
	if prop.Type == "array" && prop.Items != nil {
		schema["items"] = convertProperty(prop.Items)
	}
	if prop.Type == "object" && prop.Properties != nil {
		children := make(map[string]any, len(prop.Properties))
		for name, child := range prop.Properties {
			if child != nil {
				children[name] = convertProperty(child)
			}
		}
		schema["properties"] = children
	}
	return schema
}

func convertTools(defs []tools.ToolDefinition) []responses.ToolUnionParam {
	out := make([]responses.ToolUnionParam, len(defs))
	for i := range defs {
		def := &defs[i]
		properties := make(map[string]any, len(def.InputSchema.Properties))
		for name := range def.InputSchema.Properties {
			prop := def.InputSchema.Properties[name]
			properties[name] = convertProperty(&prop)
		}

		out[i] = responses.ToolUnionParam{
			OfFunction: &responses.FunctionToolParam{
				Name:        def.Name,
				Description: openai.String(def.Description),
				Parameters: openai.FunctionParameters(map[string]any{
					"type":       "object",
					"properties": properties,
					"required":   def.InputSchema.Required,
				}),
			},
		}
	}
	return out
}

// classifyError maps OpenAI SDK failures onto the shared error taxonomy.
func classifyError(err error) *llmerrors.Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return llmerrors.Wrap(llmerrors.ErrorTypeTransient, err, "request timeout")
	}
	if errors.Is(err, context.Canceled) {
		return llmerrors.Wrap(llmerrors.ErrorTypeTransient, err, "request canceled")
	}

	var apiErr *openai.Error
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
	default:
		return llmerrors.Wrap(llmerrors.ErrorTypeUnknown, err, "unclassified error")
	}
}
