package llm

import (
	"context"
	"errors"
	"testing"
)

func TestMockConsumesErrorsBeforeResponses(t *testing.T) {
	scripted := errors.New("scripted failure")
	mock := NewMockProvider("m1",
		[]ChatResponse{{Message: Message{Role: RoleAssistant, Content: "ok"}, FinishReason: FinishStop}},
		[]error{scripted},
	)

	if _, err := mock.Chat(context.Background(), ChatRequest{}); !errors.Is(err, scripted) {
		t.Fatalf("expected scripted error first, got %v", err)
	}

	resp, err := mock.Chat(context.Background(), ChatRequest{})
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if resp.Message.Content != "ok" {
		t.Errorf("expected scripted response, got %q", resp.Message.Content)
	}
	if mock.Calls() != 2 {
		t.Errorf("expected 2 calls recorded, got %d", mock.Calls())
	}
}

func TestMockExhaustedResponses(t *testing.T) {
	mock := NewMockProvider("m1", nil, nil)
	if _, err := mock.Chat(context.Background(), ChatRequest{}); err == nil {
		t.Error("expected error when responses are exhausted")
	}
}

func TestMockStreamReplaysResponse(t *testing.T) {
	mock := NewMockProvider("m1", []ChatResponse{{
		Message: Message{
			Role:      RoleAssistant,
			Content:   "checking",
			ToolCalls: []ToolCall{{ID: "c1", Name: "get_weather"}},
		},
		FinishReason: FinishToolCalls,
	}}, nil)

	ch, err := mock.StreamChat(context.Background(), ChatRequest{})
	if err != nil {
		t.Fatalf("StreamChat: %v", err)
	}

	var content string
	var toolCalls int
	var done bool
	for chunk := range ch {
		content += chunk.Content
		if chunk.ToolCall != nil {
			toolCalls++
		}
		if chunk.Done {
			done = true
			if chunk.FinishReason != FinishToolCalls {
				t.Errorf("expected tool_calls finish, got %s", chunk.FinishReason)
			}
		}
	}

	if content != "checking" || toolCalls != 1 || !done {
		t.Errorf("stream replay incomplete: content=%q toolCalls=%d done=%v", content, toolCalls, done)
	}
}

func TestMessageConstructors(t *testing.T) {
	if msg := NewSystemMessage("sys"); msg.Role != RoleSystem || msg.Content != "sys" {
		t.Errorf("unexpected system message: %+v", msg)
	}
	if msg := NewUserMessage("hi"); msg.Role != RoleUser {
		t.Errorf("unexpected user message: %+v", msg)
	}
	msg := NewToolMessage(ToolResult{ToolCallID: "c1", Content: "out"})
	if msg.Role != RoleTool || len(msg.ToolResults) != 1 {
		t.Errorf("unexpected tool message: %+v", msg)
	}
}
