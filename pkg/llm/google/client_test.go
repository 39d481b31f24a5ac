package google

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"conductor/pkg/llm"
	"conductor/pkg/tools"
)

func TestConvertMessagesBuildsContents(t *testing.T) {
	contents, system, err := convertMessages([]llm.Message{
		llm.NewSystemMessage("be terse"),
		llm.NewUserMessage("weather in Paris"),
		{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{
			{ID: "get_weather", Name: "get_weather", Parameters: map[string]any{"location": "Paris"}},
		}},
		llm.NewToolMessage(llm.ToolResult{ToolCallID: "get_weather", Content: "Sunny, 72F"}),
	})
	require.NoError(t, err)

	assert.Equal(t, "be terse", system)
	require.Len(t, contents, 3)
	assert.Equal(t, "user", contents[0].Role)
	assert.Equal(t, "model", contents[1].Role)
	require.Len(t, contents[1].Parts, 1)
	require.NotNil(t, contents[1].Parts[0].FunctionCall)

	// Tool results ride in user-role contents as function responses keyed
	// by tool name.
	assert.Equal(t, "user", contents[2].Role)
	require.NotNil(t, contents[2].Parts[0].FunctionResponse)
	assert.Equal(t, "get_weather", contents[2].Parts[0].FunctionResponse.Name)
}

func TestConvertMessagesSkipsUnnamedToolResults(t *testing.T) {
	contents, _, err := convertMessages([]llm.Message{
		llm.NewUserMessage("hi"),
		llm.NewToolMessage(llm.ToolResult{Content: "orphan"}),
	})
	require.NoError(t, err)
	require.Len(t, contents, 1, "results without a correlation key are dropped")
}

func TestConvertPropertySchemaTypes(t *testing.T) {
	schema := convertProperty(&tools.Property{
		Type: "array",
		Items: &tools.Property{
			Type: "object",
			Properties: map[string]*tools.Property{
				"count": {Type: "integer"},
			},
		},
	})

	assert.Equal(t, genai.TypeArray, schema.Type)
	require.NotNil(t, schema.Items)
	assert.Equal(t, genai.TypeObject, schema.Items.Type)
	assert.Equal(t, genai.TypeInteger, schema.Items.Properties["count"].Type)
}

func TestConvertFunctionCallsUsesNameAsFallbackID(t *testing.T) {
	calls := convertFunctionCalls([]*genai.FunctionCall{
		{Name: "get_weather", Args: map[string]any{"location": "Paris"}},
	})
	require.Len(t, calls, 1)
	assert.Equal(t, "get_weather", calls[0].ID)
}
