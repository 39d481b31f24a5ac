// Package google implements the provider contract over the Google Gemini
// API via the GenAI SDK.
package google

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"google.golang.org/genai"

	"conductor/pkg/config"
	"conductor/pkg/llm"
	"conductor/pkg/llm/llmerrors"
	"conductor/pkg/tools"
)

// Client wraps the GenAI SDK behind the llm.Provider contract. The SDK
// client needs a context to construct, so it is created lazily on first
// use. Implements Streamer, ToolCaller, StreamToolCaller, JSONModer, and
// ContextSizer.
type Client struct {
	mu     sync.Mutex
	client *genai.Client
	apiKey string
	model  string
}

// New creates a client bound to the default Gemini model.
func New(apiKey string) *Client {
	return NewWithModel(apiKey, config.ModelGeminiFlash)
}

// NewWithModel creates a client bound to a specific model.
func NewWithModel(apiKey, model string) *Client {
	return &Client{apiKey: apiKey, model: model}
}

func (c *Client) genaiClient(ctx context.Context) (*genai.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		return c.client, nil
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  c.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, llmerrors.Wrap(llmerrors.ErrorTypeAuth, err, "failed to create Gemini client")
	}
	c.client = client
	return client, nil
}

// Chat implements llm.Provider.
func (c *Client) Chat(ctx context.Context, req llm.ChatRequest) (llm.ChatResponse, error) {
	req.Tools = nil
	return c.complete(ctx, req, false)
}

// ChatWithTools implements llm.ToolCaller.
func (c *Client) ChatWithTools(ctx context.Context, req llm.ChatRequest) (llm.ChatResponse, error) {
	return c.complete(ctx, req, false)
}

// ChatJSON implements llm.JSONModer via the JSON response MIME type.
func (c *Client) ChatJSON(ctx context.Context, req llm.ChatRequest) (llm.ChatResponse, error) {
	req.Tools = nil
	return c.complete(ctx, req, true)
}

// StreamChat implements llm.Streamer by replaying the completed turn as
// chunks; wire-level streaming belongs to the SDK layer.
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
		resp, err := c.complete(ctx, req, false)
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

func (c *Client) complete(ctx context.Context, req llm.ChatRequest, jsonOutput bool) (llm.ChatResponse, error) {
	client, err := c.genaiClient(ctx)
	if err != nil {
		return llm.ChatResponse{}, err
	}

	contents, systemInstruction, err := convertMessages(req.Messages)
	if err != nil {
		return llm.ChatResponse{}, llmerrors.New(llmerrors.ErrorTypeBadPrompt, err.Error())
	}

	model := c.model
	if req.Model != "" {
		model = req.Model
	}
	temperature := req.Temperature

	genConfig := &genai.GenerateContentConfig{
		Temperature:     &temperature,
		MaxOutputTokens: int32(req.MaxCompletionTokens),
	}
	if systemInstruction != "" {
		genConfig.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: systemInstruction}},
		}
	}
	if jsonOutput {
		genConfig.ResponseMIMEType = "application/json"
	}
	if len(req.Tools) > 0 {
		genConfig.Tools = []*genai.Tool{
			{FunctionDeclarations: convertTools(req.Tools)},
		}
		// Mode ANY forces a tool call; Gemini can return empty responses
		// when tool use is left optional with complex schemas.
		genConfig.ToolConfig = &genai.ToolConfig{
			FunctionCallingConfig: &genai.FunctionCallingConfig{
				Mode: genai.FunctionCallingConfigModeAny,
			},
		}
	}

	result, err := client.Models.GenerateContent(ctx, model, contents, genConfig)
	if err != nil {
		return llm.ChatResponse{}, classifyError(err)
	}
	if result == nil || len(result.Candidates) == 0 {
		return llm.ChatResponse{}, llmerrors.New(llmerrors.ErrorTypeEmptyResponse, "empty response from Gemini API")
	}

	msg := llm.Message{
		Role:      llm.RoleAssistant,
		Content:   result.Text(),
		ToolCalls: convertFunctionCalls(result.FunctionCalls()),
	}
	return llm.ChatResponse{
		Message:      msg,
		FinishReason: mapFinishReason(result, len(msg.ToolCalls) > 0),
	}, nil
}

func mapFinishReason(result *genai.GenerateContentResponse, hasToolCalls bool) llm.FinishReason {
	if hasToolCalls {
		return llm.FinishToolCalls
	}
	switch result.Candidates[0].FinishReason {
	case genai.FinishReasonMaxTokens:
		return llm.FinishLength
	case genai.FinishReasonSafety, genai.FinishReasonRecitation:
		return llm.FinishError
	default:
		return llm.FinishStop
	}
}

// convertMessages maps the conversation onto Gemini Content values. System
// messages become the system instruction; tool results become function
// response parts. Gemini omits call IDs, so the tool name doubles as the
// correlation key on the way back in.
func convertMessages(messages []llm.Message) ([]*genai.Content, string, error) {
	if len(messages) == 0 {
		return nil, "", fmt.Errorf("message list cannot be empty")
	}

	var systemParts []string
	var contents []*genai.Content

	for i := range messages {
		msg := &messages[i]

		switch msg.Role {
		case llm.RoleSystem:
			systemParts = append(systemParts, msg.Content)

		case llm.RoleUser, llm.RoleAssistant, llm.RoleTool:
			role := "user"
			if msg.Role == llm.RoleAssistant {
				role = "model"
			}

			var parts []*genai.Part
			if msg.Content != "" {
				parts = append(parts, &genai.Part{Text: msg.Content})
			}
			for j := range msg.ToolCalls {
				tc := &msg.ToolCalls[j]
				parts = append(parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{
						ID:   tc.ID,
						Name: tc.Name,
						Args: tc.Parameters,
					},
				})
			}
			for j := range msg.ToolResults {
				tr := &msg.ToolResults[j]
				if tr.ToolCallID == "" {
					continue
				}
				parts = append(parts, &genai.Part{
					FunctionResponse: &genai.FunctionResponse{
						Name: tr.ToolCallID,
						Response: map[string]any{
							"content":  tr.Content,
							"is_error": tr.IsError,
						},
					},
				})
			}

			if len(parts) > 0 {
				contents = append(contents, &genai.Content{Role: role, Parts: parts})
			}

		default:
			return nil, "", fmt.Errorf("unsupported message role: %s", msg.Role)
		}
	}

	return contents, strings.Join(systemParts, "\n\n"), nil
}

func convertTools(defs []tools.ToolDefinition) []*genai.FunctionDeclaration {
	out := make([]*genai.FunctionDeclaration, len(defs))
	for i := range defs {
		def := &defs[i]
		properties := make(map[string]*genai.Schema, len(def.InputSchema.Properties))
		for name := range def.InputSchema.Properties {
			prop := def.InputSchema.Properties[name]
			properties[name] = convertProperty(&prop)
		}

		out[i] = &genai.FunctionDeclaration{
			Name:        def.Name,
			Description: def.Description,
			Parameters: &genai.Schema{
				Type:       genai.TypeObject,
				Properties: properties,
				Required:   def.InputSchema.Required,
			},
		}
	}
	return out
}

func convertProperty(prop *tools.Property) *genai.Schema {
	schema := &genai.Schema{Description: prop.Description}

	switch prop.Type {
	case "string":
		schema.Type = genai.TypeString
	case "number":
		schema.Type = genai.TypeNumber
	case "integer":
		schema.Type = genai.TypeInteger
	case "boolean":
		schema.Type = genai.TypeBoolean
	case "array":
		schema.Type = genai.TypeArray
		if prop.Items != nil {
			schema.Items = convertProperty(prop.Items)
		}
	case "object":
		schema.Type = genai.TypeObject
		if prop.Properties != nil {
			children := make(map[string]*genai.Schema, len(prop.Properties))
			for name, child := range prop.Properties {
				if child != nil {
					children[name] = convertProperty(child)
				}
			}
			schema.Properties = children
		}
	default:
		schema.Type = genai.TypeString
	}

	if len(prop.Enum) > 0 {
		schema.Enum = prop.Enum
	}
	return schema
}

func convertFunctionCalls(calls []*genai.FunctionCall) []llm.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]llm.ToolCall, len(calls))
	for i, call := range calls {
		id := call.ID
		if id == "" {
			id = call.Name
		}
		out[i] = llm.ToolCall{
			ID:         id,
			Name:       call.Name,
			Parameters: call.Args,
		}
	}
	return out
}

// classifyError maps GenAI SDK failures onto the shared error taxonomy.
func classifyError(err error) *llmerrors.Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return llmerrors.Wrap(llmerrors.ErrorTypeTransient, err, "request timeout")
	}
	if errors.Is(err, context.Canceled) {
		return llmerrors.Wrap(llmerrors.ErrorTypeTransient, err, "request canceled")
	}

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case 401, 403:
			return llmerrors.NewWithStatus(llmerrors.ErrorTypeAuth, apiErr.Code, "authentication failed")
		case 429:
			return llmerrors.NewWithStatus(llmerrors.ErrorTypeRateLimit, apiErr.Code, "rate limit exceeded")
		case 400:
			return llmerrors.NewWithStatus(llmerrors.ErrorTypeBadPrompt, apiErr.Code, "bad request")
		case 500, 502, 503, 504:
			return llmerrors.NewWithStatus(llmerrors.ErrorTypeTransient, apiErr.Code, "server error")
		}
	}

	lower := strings.ToLower(err.Error())
	switch {
	case strings.Contains(lower, "quota"), strings.Contains(lower, "rate"):
		return llmerrors.Wrap(llmerrors.ErrorTypeRateLimit, err, "rate limiting detected")
	case strings.Contains(lower, "timeout"), strings.Contains(lower, "connection"):
		return llmerrors.Wrap(llmerrors.ErrorTypeTransient, err, "network error")
	default:
		return llmerrors.Wrap(llmerrors.ErrorTypeUnknown, err, "Gemini API call failed")
	}
}
