package tools

import "context"

// Tool is an executable handler paired with its definition.
//
// Exec receives the arguments payload from the model's tool call and returns
// a structured result. Handlers should be safe to call again with identical
// arguments; the router does not enforce idempotence.
type Tool interface {
	// Name returns the tool's identifier.
	Name() string
	// Definition returns the declaration sent to the model.
	Definition() ToolDefinition
	// Exec executes the tool with the given arguments.
	Exec(ctx context.Context, args map[string]any) (map[string]any, error)
}

// HandlerFunc is a plain function usable as a tool handler.
type HandlerFunc func(ctx context.Context, args map[string]any) (map[string]any, error)

// FuncTool adapts a HandlerFunc into a Tool.
type FuncTool struct {
	def     ToolDefinition
	handler HandlerFunc
}

// NewFuncTool creates a Tool from a definition and a handler function.
func NewFuncTool(def ToolDefinition, handler HandlerFunc) *FuncTool {
	return &FuncTool{def: def, handler: handler}
}

// Name returns the tool's identifier.
func (f *FuncTool) Name() string { return f.def.Name }

// Definition returns the declaration sent to the model.
func (f *FuncTool) Definition() ToolDefinition { return f.def }

// Exec invokes the wrapped handler.
func (f *FuncTool) Exec(ctx context.Context, args map[string]any) (map[string]any, error) {
	return f.handler(ctx, args)
}
