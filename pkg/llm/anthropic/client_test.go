package anthropic

import (
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conductor/pkg/llm"
	"conductor/pkg/llm/llmerrors"
)

func TestFlattenExtractsSystemPrompt(t *testing.T) {
	system, msgs, err := flatten([]llm.Message{
		llm.NewSystemMessage("be terse"),
		llm.NewSystemMessage("be accurate"),
		llm.NewUserMessage("2+2?"),
	})
	require.NoError(t, err)

	assert.Equal(t, "be terse\n\nbe accurate", system)
	require.Len(t, msgs, 1)
	assert.Equal(t, anthropic.MessageParamRoleUser, msgs[0].Role)
}

func TestFlattenMergesToolResultsIntoUserTurn(t *testing.T) {
	_, msgs, err := flatten([]llm.Message{
		llm.NewUserMessage("weather in Paris"),
		{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{{ID: "c1", Name: "get_weather"}}},
		llm.NewToolMessage(llm.ToolResult{ToolCallID: "c1", Content: "Sunny, 72F"}),
	})
	require.NoError(t, err)

	// user, assistant, user(tool result) with strict alternation.
	require.Len(t, msgs, 3)
	assert.Equal(t, anthropic.MessageParamRoleUser, msgs[0].Role)
	assert.Equal(t, anthropic.MessageParamRoleAssistant, msgs[1].Role)
	assert.Equal(t, anthropic.MessageParamRoleUser, msgs[2].Role)
}

func TestFlattenMergesConsecutiveUserMessages(t *testing.T) {
	_, msgs, err := flatten([]llm.Message{
		llm.NewUserMessage("first"),
		llm.NewUserMessage("second"),
	})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
}

func TestFlattenRejectsEmptyAndAssistantTail(t *testing.T) {
	_, _, err := flatten(nil)
	assert.Error(t, err)

	_, _, err = flatten([]llm.Message{llm.NewSystemMessage("only system")})
	assert.Error(t, err)

	_, _, err = flatten([]llm.Message{
		llm.NewUserMessage("hi"),
		{Role: llm.RoleAssistant, Content: "hello"},
	})
	assert.Error(t, err, "sequence ending on an assistant turn is invalid")
}

func TestMapStopReason(t *testing.T) {
	assert.Equal(t, llm.FinishStop, mapStopReason("end_turn", false))
	assert.Equal(t, llm.FinishLength, mapStopReason("max_tokens", false))
	assert.Equal(t, llm.FinishToolCalls, mapStopReason("tool_use", true))
	assert.Equal(t, llm.FinishToolCalls, mapStopReason("end_turn", true))
}

func TestClassifyErrorNetworkPatterns(t *testing.T) {
	err := classifyError(assert.AnError)
	assert.Equal(t, llmerrors.ErrorTypeUnknown, err.Type)

	rate := classifyError(errString("429 rate limit hit"))
	assert.Equal(t, llmerrors.ErrorTypeRateLimit, rate.Type)
	assert.True(t, rate.IsRetryable())
}

type errString string

func (e errString) Error() string { return string(e) }
