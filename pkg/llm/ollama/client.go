// Package ollama implements the provider contract over a local Ollama
// server, for running open-source models.
package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/ollama/ollama/api"

	"conductor/pkg/config"
	"conductor/pkg/llm"
	"conductor/pkg/llm/llmerrors"
	"conductor/pkg/tools"
)

// DefaultHost is used when the configured host URL does not parse.
const DefaultHost = "http://localhost:11434"

// Client wraps the Ollama API client behind the llm.Provider contract.
// Ollama streams natively, so StreamChat delivers real incremental chunks.
// It implements Streamer, ToolCaller, StreamToolCaller, JSONModer, and
// ContextSizer.
type Client struct {
	client *api.Client
	model  string
}

// New creates a client for the given server URL and model.
func New(hostURL, model string) *Client {
	parsed, err := url.Parse(hostURL)
	if err != nil || parsed.Host == "" {
		parsed, _ = url.Parse(DefaultHost)
	}
	return &Client{
		client: api.NewClient(parsed, http.DefaultClient),
		model:  model,
	}
}

// Chat implements llm.Provider.
func (c *Client) Chat(ctx context.Context, req llm.ChatRequest) (llm.ChatResponse, error) {
	req.Tools = nil
	return c.complete(ctx, req, nil)
}

// ChatWithTools implements llm.ToolCaller.
func (c *Client) ChatWithTools(ctx context.Context, req llm.ChatRequest) (llm.ChatResponse, error) {
	return c.complete(ctx, req, nil)
}

// ChatJSON implements llm.JSONModer using Ollama's native JSON format mode.
func (c *Client) ChatJSON(ctx context.Context, req llm.ChatRequest) (llm.ChatResponse, error) {
	req.Tools = nil
	return c.complete(ctx, req, json.RawMessage(`"json"`))
}

// StreamChat implements llm.Streamer with real incremental chunks.
func (c *Client) StreamChat(ctx context.Context, req llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	req.Tools = nil
	return c.stream(ctx, req)
}

// StreamChatWithTools implements llm.StreamToolCaller.
func (c *Client) StreamChatWithTools(ctx context.Context, req llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	return c.stream(ctx, req)
}

// ModelName implements llm.Provider.
func (c *Client) ModelName() string {
	return c.model
}

// MaxContextTokens implements llm.ContextSizer via the model registry;
// local models inherit the conservative default unless overridden.
func (c *Client) MaxContextTokens() int {
	info, _ := config.GetModelInfo(c.model)
	return info.MaxContextTokens
}

func (c *Client) complete(ctx context.Context, req llm.ChatRequest, format json.RawMessage) (llm.ChatResponse, error) {
	apiReq, err := c.buildRequest(req, false, format)
	if err != nil {
		return llm.ChatResponse{}, err
	}

	var response api.ChatResponse
	err = c.client.Chat(ctx, apiReq, func(resp api.ChatResponse) error {
		response = resp
		return nil
	})
	if err != nil {
		return llm.ChatResponse{}, classifyError(err)
	}

	msg := llm.Message{
		Role:      llm.RoleAssistant,
		Content:   response.Message.Content,
		ToolCalls: convertToolCallsFromAPI(response.Message.ToolCalls),
	}
	return llm.ChatResponse{
		Message:      msg,
		FinishReason: mapDoneReason(&response, len(msg.ToolCalls) > 0),
	}, nil
}

func (c *Client) stream(ctx context.Context, req llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	apiReq, err := c.buildRequest(req, true, nil)
	if err != nil {
		return nil, err
	}

	ch := make(chan llm.StreamChunk)
	go func() {
		defer close(ch)

		var last api.ChatResponse
		var sawToolCalls bool
		err := c.client.Chat(ctx, apiReq, func(resp api.ChatResponse) error {
			if resp.Message.Content != "" {
				ch <- llm.StreamChunk{Content: resp.Message.Content}
			}
			for _, tc := range convertToolCallsFromAPI(resp.Message.ToolCalls) {
				sawToolCalls = true
				call := tc
				ch <- llm.StreamChunk{ToolCall: &call}
			}
			last = resp
			return nil
		})
		if err != nil {
			ch <- llm.StreamChunk{Err: classifyError(err)}
			return
		}
		ch <- llm.StreamChunk{Done: true, FinishReason: mapDoneReason(&last, sawToolCalls)}
	}()
	return ch, nil
}

func (c *Client) buildRequest(req llm.ChatRequest, stream bool, format json.RawMessage) (*api.ChatRequest, error) {
	messages, err := convertMessages(req.Messages)
	if err != nil {
		return nil, llmerrors.New(llmerrors.ErrorTypeBadPrompt, err.Error())
	}

	model := c.model
	if req.Model != "" {
		model = req.Model
	}

	apiReq := &api.ChatRequest{
		Model:    model,
		Messages: messages,
		Stream:   &stream,
		Format:   format,
		Options: map[string]any{
			"temperature": req.Temperature,
		},
	}
	if req.MaxCompletionTokens > 0 {
		apiReq.Options["num_predict"] = req.MaxCompletionTokens
	}
	if len(req.Tools) > 0 {
		apiReq.Tools = convertTools(req.Tools)
	}
	return apiReq, nil
}

// convertMessages maps the conversation onto Ollama's message format. Tool
// results become their own tool-role messages correlated by call ID.
func convertMessages(messages []llm.Message) ([]api.Message, error) {
	if len(messages) == 0 {
		return nil, fmt.Errorf("message list cannot be empty")
	}

	out := make([]api.Message, 0, len(messages))
	for i := range messages {
		msg := &messages[i]

		if msg.Role == llm.RoleTool {
			for j := range msg.ToolResults {
				tr := &msg.ToolResults[j]
				out = append(out, api.Message{
					Role:       "tool",
					Content:    tr.Content,
					ToolCallID: tr.ToolCallID,
				})
			}
			continue
		}

		apiMsg := api.Message{
			Role:    string(msg.Role),
			Content: msg.Content,
		}
		for j := range msg.ToolCalls {
			tc := &msg.ToolCalls[j]
			apiMsg.ToolCalls = append(apiMsg.ToolCalls, api.ToolCall{
				ID: tc.ID,
				Function: api.ToolCallFunction{
					Name:      tc.Name,
					Arguments: convertArguments(tc.Parameters),
				},
			})
		}
		out = append(out, apiMsg)
	}
	return out, nil
}

// convertArguments copies a parameter map into the wire's ordered argument
// type, sorted by key so payloads are deterministic.
func convertArguments(params map[string]any) api.ToolCallFunctionArguments {
	args := api.NewToolCallFunctionArguments()
	for _, key := range sortedKeys(params) {
		args.Set(key, params[key])
	}
	return args
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func convertTools(defs []tools.ToolDefinition) api.Tools {
	out := make(api.Tools, len(defs))
	for i := range defs {
		def := &defs[i]
		properties := api.NewToolPropertiesMap()
		for _, name := range sortedKeys(def.InputSchema.Properties) {
			prop := def.InputSchema.Properties[name]
			properties.Set(name, convertProperty(&prop))
		}

		out[i] = api.Tool{
			Type: "function",
			Function: api.ToolFunction{
				Name:        def.Name,
				Description: def.Description,
				Parameters: api.ToolFunctionParameters{
					Type:       def.InputSchema.Type,
					Properties: properties,
					Required:   def.InputSchema.Required,
				},
			},
		}
	}
	return out
}

func convertProperty(prop *tools.Property) api.ToolProperty {
	out := api.ToolProperty{
		Type:        api.PropertyType{prop.Type},
		Description: prop.Description,
	}
	if len(prop.Enum) > 0 {
		enumVals := make([]any, len(prop.Enum))
		for i, v := range prop.Enum {
			enumVals[i] = v
		}
		out.Enum = enumVals
	}
	if prop.Items != nil {
		out.Items = convertProperty(prop.Items)
	}
	if prop.Properties != nil {
		nested := api.NewToolPropertiesMap()
		for _, name := range sortedKeys(prop.Properties) {
			if child := prop.Properties[name]; child != nil {
				nested.Set(name, convertProperty(child))
			}
		}
		out.Properties = nested
	}
	return out
}

func convertToolCallsFromAPI(calls []api.ToolCall) []llm.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]llm.ToolCall, len(calls))
	for i := range calls {
		call := &calls[i]
		id := call.ID
		if id == "" {
			id = fmt.Sprintf("call_%d", i)
		}
		out[i] = llm.ToolCall{
			ID:         id,
			Name:       call.Function.Name,
			Parameters: call.Function.Arguments.ToMap(),
		}
	}
	return out
}

func mapDoneReason(resp *api.ChatResponse, hasToolCalls bool) llm.FinishReason {
	if hasToolCalls {
		return llm.FinishToolCalls
	}
	switch resp.DoneReason {
	case "length":
		return llm.FinishLength
	default:
		return llm.FinishStop
	}
}

// classifyError maps Ollama failures onto the shared error taxonomy.
func classifyError(err error) error {
	errStr := err.Error()
	switch {
	case strings.Contains(errStr, "connection refused"):
		return llmerrors.Wrap(llmerrors.ErrorTypeTransient, err, "Ollama server not reachable")
	case strings.Contains(errStr, "not found") && strings.Contains(errStr, "model"):
		return llmerrors.Wrap(llmerrors.ErrorTypeBadPrompt, err, "Ollama model not found")
	case strings.Contains(errStr, "context canceled"), strings.Contains(errStr, "timeout"):
		return llmerrors.Wrap(llmerrors.ErrorTypeTransient, err, "request interrupted")
	default:
		return llmerrors.Wrap(llmerrors.ErrorTypeUnknown, err, "Ollama API error")
	}
}
