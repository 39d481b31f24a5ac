package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"conductor/pkg/logx"
)

// Dispatch error codes surfaced to the model inside a tool result payload.
const (
	ErrToolNotFound       = "tool_not_found"
	ErrToolExecutionError = "tool_execution_error"
)

// maxDiagnosticLen caps the diagnostic message embedded in an error payload
// so a pathological handler failure cannot blow up the conversation.
const maxDiagnosticLen = 1024

// Invocation is one tool call to dispatch: the model-assigned call ID, the
// tool name, and the arguments payload.
type Invocation struct {
	Args map[string]any
	ID   string
	Name string
}

// Result is the outcome of dispatching one Invocation, correlated by CallID.
// On failure, Content is a JSON error payload and IsError is set.
type Result struct {
	CallID  string
	Content string
	IsError bool
}

// Registry holds the mapping from tool name to handler and dispatches tool
// calls against it. The handler table is shared read-mostly across
// concurrent runs; registration and dispatch are both safe under the lock.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]Tool
	logger *logx.Logger
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:  make(map[string]Tool),
		logger: logx.NewLogger("tools"),
	}
}

// Register adds a tool under its own name. Re-registering a name replaces
// the prior handler (last write wins); callers must guard against that if
// unintended.
func (r *Registry) Register(tool Tool) error {
	if tool == nil {
		return fmt.Errorf("tool cannot be nil")
	}
	name := tool.Name()
	if name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		r.logger.Warn("tool %q re-registered, replacing prior handler", name)
	}
	r.tools[name] = tool
	return nil
}

// RegisterFunc registers a handler function under the given definition.
func (r *Registry) RegisterFunc(def ToolDefinition, handler HandlerFunc) error {
	return r.Register(NewFuncTool(def, handler))
}

// Get retrieves a registered tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Definitions returns the declarations of all registered tools, sorted by
// name for deterministic request payloads.
func (r *Registry) Definitions() []ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]ToolDefinition, 0, len(r.tools))
	for _, tool := range r.tools {
		defs = append(defs, tool.Definition())
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Dispatch executes one tool call and always returns a Result; failures are
// encoded as error payloads rather than propagated, so the agent loop can
// feed them back to the model as context. A batch of calls from one model
// turn must be dispatched in the order the model emitted them.
func (r *Registry) Dispatch(ctx context.Context, call Invocation) Result {
	tool, ok := r.Get(call.Name)
	if !ok {
		r.logger.Warn("dispatch: no handler registered for tool %q", call.Name)
		return errorResult(call.ID, ErrToolNotFound,
			fmt.Sprintf("no tool named %q is registered", call.Name))
	}

	output, err := r.execute(ctx, tool, call.Args)
	if err != nil {
		r.logger.Error("dispatch: tool %q failed: %v", call.Name, err)
		return errorResult(call.ID, ErrToolExecutionError, truncate(err.Error(), maxDiagnosticLen))
	}

	content, err := json.Marshal(output)
	if err != nil {
		return errorResult(call.ID, ErrToolExecutionError,
			truncate(fmt.Sprintf("tool output not serializable: %v", err), maxDiagnosticLen))
	}
	return Result{CallID: call.ID, Content: string(content)}
}

// execute runs the handler, converting a panic into an error so a broken
// handler never takes down the run.
func (r *Registry) execute(ctx context.Context, tool Tool, args map[string]any) (out map[string]any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("tool handler panicked: %v", rec)
		}
	}()
	return tool.Exec(ctx, args)
}

// errorResult builds the JSON error payload for a failed dispatch.
func errorResult(callID, code, message string) Result {
	payload, err := json.Marshal(map[string]string{
		"error":   code,
		"message": message,
	})
	if err != nil {
		payload = []byte(fmt.Sprintf(`{"error":%q}`, code))
	}
	return Result{CallID: callID, Content: string(payload), IsError: true}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
