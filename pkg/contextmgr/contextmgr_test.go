package contextmgr

import (
	"testing"

	"conductor/pkg/config"
	"conductor/pkg/llm"
)

const testModel = "claude-sonnet-4-5"

func conversation(msgs ...llm.Message) []llm.Message { return msgs }

func TestCountTokensDeterministic(t *testing.T) {
	msgs := conversation(
		llm.NewSystemMessage("You are a helpful assistant."),
		llm.NewUserMessage("What is the weather in Paris?"),
	)

	first := CountTokens(msgs, testModel)
	second := CountTokens(msgs, testModel)
	if first != second {
		t.Errorf("count not deterministic: %+v vs %+v", first, second)
	}
	if first.Tokens <= 0 {
		t.Errorf("expected positive token count, got %d", first.Tokens)
	}
}

func TestCountTokensApproximateForNonOpenAI(t *testing.T) {
	msgs := conversation(llm.NewUserMessage("hello"))

	if got := CountTokens(msgs, "claude-sonnet-4-5"); !got.Approximate {
		t.Error("expected approximate count for anthropic model")
	}
	if got := CountTokens(msgs, "gpt-4o"); got.Approximate {
		t.Error("expected exact count for gpt model")
	}
}

func TestCountTokensIncludesToolTraffic(t *testing.T) {
	bare := conversation(llm.NewUserMessage("check the weather"))
	withTools := conversation(
		llm.NewUserMessage("check the weather"),
		llm.Message{
			Role: llm.RoleAssistant,
			ToolCalls: []llm.ToolCall{
				{ID: "c1", Name: "get_weather", Parameters: map[string]any{"city": "Paris"}},
			},
		},
		llm.NewToolMessage(llm.ToolResult{ToolCallID: "c1", Content: `{"temp": 18}`}),
	)

	if CountTokens(withTools, testModel).Tokens <= CountTokens(bare, testModel).Tokens {
		t.Error("tool calls and results must consume budget")
	}
}

func TestContextLimitLookup(t *testing.T) {
	tests := []struct {
		model string
		want  int
	}{
		{"claude-sonnet-4-5", 200000},
		{"o3-mini-2025-01-31", 128000},                     // longest known prefix
		{"totally-unheard-of", config.DefaultContextTokens}, // conservative default
	}
	for _, tt := range tests {
		got, err := ContextLimit(tt.model)
		if err != nil {
			t.Errorf("ContextLimit(%s): %v", tt.model, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ContextLimit(%s) = %d, want %d", tt.model, got, tt.want)
		}
	}
}

func TestValidateWithinBudget(t *testing.T) {
	msgs := conversation(
		llm.NewSystemMessage("You are a helpful assistant."),
		llm.NewUserMessage("Hi."),
	)

	ok, err := Validate(msgs, testModel, 1024)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !ok {
		t.Error("tiny conversation should fit a 200k window")
	}
}

func TestValidateOverflow(t *testing.T) {
	msgs := conversation(
		llm.NewSystemMessage("You are a helpful assistant"),
		llm.NewUserMessage("What is the capital of France?"),
	)

	if ValidateWithLimit(msgs, testModel, 0, 8) {
		t.Error("conversation must not fit an 8 token window")
	}
}

func TestPruneNoOpWhenFitting(t *testing.T) {
	msgs := conversation(
		llm.NewSystemMessage("sys"),
		llm.NewUserMessage("u1"),
		llm.Message{Role: llm.RoleAssistant, Content: "a1"},
		llm.NewUserMessage("u2"),
	)

	out, err := Prune(msgs, testModel, 1024, StrategyOldestFirst)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if len(out) != len(msgs) {
		t.Errorf("fitting conversation was pruned: %d -> %d messages", len(msgs), len(out))
	}
}

// When only system and the most recent user message remain, oldest_first has
// nothing left to remove and returns the conversation unchanged even if it
// still overflows. The caller decides overflow is terminal.
func TestPruneOldestFirstAtFloor(t *testing.T) {
	msgs := conversation(
		llm.NewSystemMessage("You are a helpful assistant"),
		llm.NewUserMessage("What is the capital of France?"),
	)

	out, err := PruneWithLimit(msgs, testModel, 0, 8, StrategyOldestFirst)
	if err != nil {
		t.Fatalf("PruneWithLimit: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected conversation unchanged at floor, got %d messages", len(out))
	}
	if out[0].Role != llm.RoleSystem || out[1].Role != llm.RoleUser {
		t.Error("floor must keep system plus most recent user message")
	}
	if ValidateWithLimit(out, testModel, 0, 8) {
		t.Error("floor conversation should still overflow this window")
	}
}

func TestPruneOldestFirstRemovesWholeUnits(t *testing.T) {
	msgs := conversation(
		llm.NewSystemMessage("sys"),
		llm.NewUserMessage("first question with quite a lot of words in it"),
		llm.Message{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{{ID: "c1", Name: "lookup", Parameters: map[string]any{"q": "first"}}}},
		llm.NewToolMessage(llm.ToolResult{ToolCallID: "c1", Content: "a long tool result payload goes here"}),
		llm.Message{Role: llm.RoleAssistant, Content: "first answer"},
		llm.NewUserMessage("second"),
	)

	// Budget that forces exactly the first unit out.
	floor := CountTokens(conversation(msgs[0], msgs[5]), testModel).Tokens
	limit := floor + 2

	out, err := PruneWithLimit(msgs, testModel, 0, limit, StrategyOldestFirst)
	if err != nil {
		t.Fatalf("PruneWithLimit: %v", err)
	}

	if out[0].Role != llm.RoleSystem {
		t.Fatal("system message must survive pruning")
	}
	for _, msg := range out {
		for _, tc := range msg.ToolCalls {
			if tc.ID == "c1" {
				t.Error("unit removal must drop the assistant tool call with its user message")
			}
		}
		for _, tr := range msg.ToolResults {
			if tr.ToolCallID == "c1" {
				t.Error("unit removal must drop tool results with their unit")
			}
		}
	}
	if out[len(out)-1].Content != "second" {
		t.Error("most recent user message must survive")
	}
}

func TestPruneSlidingWindowKeepsSystemInPosition(t *testing.T) {
	msgs := conversation(
		llm.NewSystemMessage("sys"),
		llm.NewUserMessage("an old question that takes up a fair amount of room"),
		llm.Message{Role: llm.RoleAssistant, Content: "an old answer that also takes up a fair amount of room"},
		llm.NewUserMessage("latest"),
	)

	floor := CountTokens(conversation(msgs[0], msgs[3]), testModel).Tokens
	out, err := PruneWithLimit(msgs, testModel, 0, floor+1, StrategySlidingWindow)
	if err != nil {
		t.Fatalf("PruneWithLimit: %v", err)
	}

	if len(out) == 0 || out[0].Role != llm.RoleSystem {
		t.Fatal("system message must stay in position")
	}
	if out[len(out)-1].Content != "latest" {
		t.Error("sliding window must keep the newest messages")
	}
	for _, msg := range out[1:] {
		if msg.Content == "an old question that takes up a fair amount of room" {
			t.Error("oldest message should have been dropped")
		}
	}
}

func TestPruneSlidingWindowFloor(t *testing.T) {
	msgs := conversation(
		llm.NewSystemMessage("sys"),
		llm.NewUserMessage("only"),
	)

	out, err := PruneWithLimit(msgs, testModel, 0, 1, StrategySlidingWindow)
	if err != nil {
		t.Fatalf("PruneWithLimit: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("floor is system plus one non-system message, got %d", len(out))
	}
}

func TestPruneDoesNotMutateInput(t *testing.T) {
	msgs := conversation(
		llm.NewSystemMessage("sys"),
		llm.NewUserMessage("old"),
		llm.Message{Role: llm.RoleAssistant, Content: "reply"},
		llm.NewUserMessage("new"),
	)

	if _, err := PruneWithLimit(msgs, testModel, 0, 5, StrategyOldestFirst); err != nil {
		t.Fatalf("PruneWithLimit: %v", err)
	}
	if len(msgs) != 4 || msgs[1].Content != "old" {
		t.Error("input conversation was mutated")
	}
}

func TestPruneUnknownStrategy(t *testing.T) {
	msgs := conversation(llm.NewUserMessage("hi"))
	if _, err := PruneWithLimit(msgs, testModel, 0, 1, Strategy("newest_first")); err == nil {
		t.Error("expected error for unknown strategy")
	}
}
