package capability

import (
	"context"
	"testing"

	"conductor/pkg/llm"
)

// chatOnly implements only the minimal Provider contract.
type chatOnly struct{}

func (chatOnly) Chat(_ context.Context, _ llm.ChatRequest) (llm.ChatResponse, error) {
	return llm.ChatResponse{}, nil
}
func (chatOnly) ModelName() string { return "minimal" }

// chatAndStream adds streaming on top of the minimal contract.
type chatAndStream struct{ chatOnly }

func (chatAndStream) StreamChat(_ context.Context, _ llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	ch := make(chan llm.StreamChunk)
	close(ch)
	return ch, nil
}

func TestDetectMinimalProviderYieldsEmptySet(t *testing.T) {
	set := Detect(chatOnly{})
	if len(set) != 0 {
		t.Errorf("expected empty capability set, got %v", set.List())
	}
}

func TestDetectFullProvider(t *testing.T) {
	mock := llm.NewMockProvider("m1", nil, nil)
	set := Detect(mock)

	for _, c := range []Capability{Streaming, ToolUse, StreamingToolUse, JSONMode, ContextIntrospection} {
		if !set.Has(c) {
			t.Errorf("expected mock provider to support %s", c)
		}
	}
}

func TestDetectPartialProvider(t *testing.T) {
	set := Detect(chatAndStream{})
	if !set.Has(Streaming) {
		t.Error("expected streaming to be detected")
	}
	if set.Has(ToolUse) {
		t.Error("tool use should not be detected")
	}
}

// streamAndTools has Streaming and ToolUse but cannot stream tool-bearing
// turns.
type streamAndTools struct{ chatAndStream }

func (streamAndTools) ChatWithTools(_ context.Context, _ llm.ChatRequest) (llm.ChatResponse, error) {
	return llm.ChatResponse{}, nil
}

func TestStreamingToolUseNotImpliedByParts(t *testing.T) {
	set := Detect(streamAndTools{})
	if !set.Has(Streaming) || !set.Has(ToolUse) {
		t.Fatalf("expected streaming and tool use, got %v", set.List())
	}
	if set.Has(StreamingToolUse) {
		t.Error("streaming tool use must require the combined interface")
	}
	if set := Detect(llm.NewMockProvider("m1", nil, nil)); !set.Has(StreamingToolUse) {
		t.Error("expected full provider to stream tool-bearing turns")
	}
}

func TestSupportsExact(t *testing.T) {
	if Supports(chatOnly{}, Streaming) {
		t.Error("minimal provider must not report streaming support")
	}
	if !Supports(llm.NewMockProvider("m1", nil, nil), ToolUse) {
		t.Error("mock provider must report tool use support")
	}
}

func TestShouldAttemptPermissiveForUnknownCapability(t *testing.T) {
	// A capability outside the known enum is never "known unsupported".
	if !ShouldAttempt(chatOnly{}, Capability("telepathy")) {
		t.Error("unknown capability should be attempted")
	}
	// A known capability the adapter provably lacks is not attempted.
	if ShouldAttempt(chatOnly{}, Streaming) {
		t.Error("known-unsupported capability should not be attempted")
	}
}

func TestDetectorCachesByIdentity(t *testing.T) {
	d := NewDetector()
	mock := llm.NewMockProvider("m1", nil, nil)

	first := d.Detect(mock)
	second := d.Detect(mock)
	if len(first) != len(second) {
		t.Errorf("cached set diverged: %v vs %v", first.List(), second.List())
	}

	// A different adapter gets its own entry.
	if d.Supports(chatOnly{}, ToolUse) {
		t.Error("detector leaked capabilities across adapters")
	}
	if !d.Supports(mock, ToolUse) {
		t.Error("detector lost cached capability")
	}
}

func TestSetListSorted(t *testing.T) {
	set := Set{ToolUse: {}, Streaming: {}, JSONMode: {}}
	list := set.List()
	for i := 1; i < len(list); i++ {
		if list[i-1] > list[i] {
			t.Errorf("list not sorted: %v", list)
		}
	}
}
