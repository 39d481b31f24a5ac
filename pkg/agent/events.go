package agent

import (
	"context"

	"conductor/pkg/llm"
)

// EventKind tags what a streamed event carries.
type EventKind string

const (
	// EventModelDelta carries an incremental chunk of model output.
	EventModelDelta EventKind = "model_delta"
	// EventToolCall announces a tool dispatch about to run.
	EventToolCall EventKind = "tool_call"
	// EventToolResult carries the outcome of a dispatched tool.
	EventToolResult EventKind = "tool_result"
	// EventFinal is the last event of every stream and carries the Result.
	EventFinal EventKind = "final"
)

// Event is one increment of a streamed run. Exactly one payload field is
// set, matching Kind.
type Event struct {
	ToolCall   *llm.ToolCall
	ToolResult *llm.ToolResult
	Result     *Result
	Delta      string
	Kind       EventKind
}

// ExecuteStream runs the loop incrementally. The channel is unbuffered, so
// the producer suspends until the consumer pulls each event; the stream
// always ends with an EventFinal and the channel is then closed. The
// returned error is non-nil only for invocation mistakes.
func (r *Runner) ExecuteStream(ctx context.Context, goal string, seed []llm.Message) (<-chan Event, error) {
	ch := make(chan Event)
	go func() {
		defer close(ch)
		r.run(ctx, goal, seed, func(ev Event) {
			// A consumer that walks away must not leak the producer.
			select {
			case ch <- ev:
			case <-ctx.Done():
			}
		})
	}()
	return ch, nil
}
