package tools

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func echoDef(name string) ToolDefinition {
	return ToolDefinition{
		Name:        name,
		Description: "echoes its input",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"text": {Type: "string", Description: "text to echo"},
			},
			Required: []string{"text"},
		},
	}
}

func TestRegisterAndGet(t *testing.T) {
	reg := NewRegistry()

	err := reg.RegisterFunc(echoDef("echo"), func(_ context.Context, args map[string]any) (map[string]any, error) {
		return map[string]any{"text": args["text"]}, nil
	})
	if err != nil {
		t.Fatalf("RegisterFunc failed: %v", err)
	}

	if _, ok := reg.Get("echo"); !ok {
		t.Error("expected echo tool to be registered")
	}
	if _, ok := reg.Get("missing"); ok {
		t.Error("unexpected hit for unregistered tool")
	}
}

func TestRegisterLastWriteWins(t *testing.T) {
	reg := NewRegistry()

	mustRegister(t, reg, "echo", func(_ context.Context, _ map[string]any) (map[string]any, error) {
		return map[string]any{"version": "first"}, nil
	})
	mustRegister(t, reg, "echo", func(_ context.Context, _ map[string]any) (map[string]any, error) {
		return map[string]any{"version": "second"}, nil
	})

	res := reg.Dispatch(context.Background(), Invocation{ID: "c1", Name: "echo"})
	if res.IsError {
		t.Fatalf("dispatch failed: %s", res.Content)
	}
	if !strings.Contains(res.Content, "second") {
		t.Errorf("expected replacement handler to win, got %s", res.Content)
	}
}

func TestRegisterRejectsInvalid(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(nil); err == nil {
		t.Error("expected error registering nil tool")
	}
	if err := reg.RegisterFunc(ToolDefinition{}, func(_ context.Context, _ map[string]any) (map[string]any, error) {
		return nil, nil
	}); err == nil {
		t.Error("expected error registering unnamed tool")
	}
}

func TestDispatchUnknownTool(t *testing.T) {
	reg := NewRegistry()

	res := reg.Dispatch(context.Background(), Invocation{ID: "c9", Name: "ghost"})
	if !res.IsError {
		t.Fatal("expected error result for unknown tool")
	}
	if res.CallID != "c9" {
		t.Errorf("expected call ID preserved, got %q", res.CallID)
	}

	var payload map[string]string
	if err := json.Unmarshal([]byte(res.Content), &payload); err != nil {
		t.Fatalf("error payload not valid JSON: %v", err)
	}
	if payload["error"] != ErrToolNotFound {
		t.Errorf("expected %s, got %q", ErrToolNotFound, payload["error"])
	}
}

func TestDispatchHandlerError(t *testing.T) {
	reg := NewRegistry()
	mustRegister(t, reg, "flaky", func(_ context.Context, _ map[string]any) (map[string]any, error) {
		return nil, errors.New("backend exploded")
	})

	res := reg.Dispatch(context.Background(), Invocation{ID: "c1", Name: "flaky"})
	if !res.IsError {
		t.Fatal("expected error result")
	}
	if !strings.Contains(res.Content, ErrToolExecutionError) {
		t.Errorf("expected execution error payload, got %s", res.Content)
	}
	if !strings.Contains(res.Content, "backend exploded") {
		t.Errorf("expected diagnostic in payload, got %s", res.Content)
	}
}

func TestDispatchHandlerPanicContained(t *testing.T) {
	reg := NewRegistry()
	mustRegister(t, reg, "bomb", func(_ context.Context, _ map[string]any) (map[string]any, error) {
		panic("boom")
	})

	res := reg.Dispatch(context.Background(), Invocation{ID: "c2", Name: "bomb"})
	if !res.IsError {
		t.Fatal("expected error result from panicking handler")
	}
	if !strings.Contains(res.Content, "boom") {
		t.Errorf("expected panic message in diagnostic, got %s", res.Content)
	}
}

func TestDispatchTruncatesLongDiagnostics(t *testing.T) {
	reg := NewRegistry()
	long := strings.Repeat("x", 5000)
	mustRegister(t, reg, "verbose", func(_ context.Context, _ map[string]any) (map[string]any, error) {
		return nil, errors.New(long)
	})

	res := reg.Dispatch(context.Background(), Invocation{ID: "c3", Name: "verbose"})
	if len(res.Content) > maxDiagnosticLen+200 {
		t.Errorf("diagnostic not truncated, payload length %d", len(res.Content))
	}
}

func TestDefinitionsSortedByName(t *testing.T) {
	reg := NewRegistry()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		mustRegister(t, reg, name, func(_ context.Context, _ map[string]any) (map[string]any, error) {
			return nil, nil
		})
	}

	defs := reg.Definitions()
	if len(defs) != 3 {
		t.Fatalf("expected 3 definitions, got %d", len(defs))
	}
	for i := 1; i < len(defs); i++ {
		if defs[i-1].Name > defs[i].Name {
			t.Errorf("definitions not sorted: %q before %q", defs[i-1].Name, defs[i].Name)
		}
	}
}

func mustRegister(t *testing.T, reg *Registry, name string, fn HandlerFunc) {
	t.Helper()
	if err := reg.RegisterFunc(echoDef(name), fn); err != nil {
		t.Fatalf("register %s: %v", name, err)
	}
}
