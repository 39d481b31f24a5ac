// Package agent drives the model/tool orchestration loop: it alternates
// between asking the bound provider for the next turn and dispatching the
// tool calls that turn requests, keeping the conversation inside the
// model's context budget the whole time.
package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"conductor/pkg/capability"
	"conductor/pkg/contextmgr"
	"conductor/pkg/llm"
	"conductor/pkg/logx"
	"conductor/pkg/tools"
)

// Status is the run state machine's current state. Terminal states have no
// outgoing transitions.
type Status string

const (
	// StatusRunning means the loop is still iterating.
	StatusRunning Status = "running"
	// StatusDone means the model completed the goal.
	StatusDone Status = "done"
	// StatusFailed means the run ended on an unrecoverable condition.
	StatusFailed Status = "failed"
	// StatusIterationLimit means the cap was reached; the result carries the
	// best available partial response.
	StatusIterationLimit Status = "iteration_limit"
)

// FailReason classifies a StatusFailed run.
type FailReason string

const (
	// ReasonContextOverflow means pruning could not fit the conversation.
	ReasonContextOverflow FailReason = "context_overflow"
	// ReasonBackendError means the provider reported a failure.
	ReasonBackendError FailReason = "backend_error"
	// ReasonCapabilityMismatch means the run needed a capability the bound
	// provider does not support. Detected before any backend call.
	ReasonCapabilityMismatch FailReason = "capability_mismatch"
	// ReasonCancelled means the caller's context was cancelled.
	ReasonCancelled FailReason = "cancelled"
)

// ErrContextOverflow is carried in Result.Err when pruning reaches its
// floor and the conversation still does not fit.
var ErrContextOverflow = errors.New("conversation exceeds context window after pruning")

// RunState is owned exclusively by one execution; it is never shared with
// a concurrent run. Iteration counts model calls and never exceeds the
// configured cap.
type RunState struct {
	RunID        string
	Conversation []llm.Message
	Iteration    int
	Status       Status
	Reason       FailReason
}

// Result is what every execution returns, terminal status included. Callers
// always get a usable result object; Err carries the underlying failure
// classification when Status is failed.
type Result struct {
	Err          error
	RunID        string
	Status       Status
	Reason       FailReason
	Response     llm.ChatResponse
	Conversation []llm.Message
	Iterations   int
}

// RunRecord is the terminal summary handed to an optional Recorder.
type RunRecord struct {
	StartedAt    time.Time
	FinishedAt   time.Time
	Conversation []llm.Message
	RunID        string
	Model        string
	Status       Status
	Reason       FailReason
	FinalContent string
	Iterations   int
}

// Recorder persists terminal run records. Recording failures are logged,
// never surfaced to the caller; the run outcome stands on its own.
type Recorder interface {
	RecordRun(ctx context.Context, rec RunRecord) error
}

// MetricsRecorder observes runtime activity. All methods must be safe for
// concurrent use.
type MetricsRecorder interface {
	RecordModelCall(model string, finish llm.FinishReason, duration time.Duration)
	RecordToolDispatch(tool string, isError bool, duration time.Duration)
	RecordRunTermination(status Status, reason FailReason)
}

// Config holds the per-runner execution parameters. MaxIterations is
// mandatory; tool loops can diverge without a cap.
type Config struct {
	Model               string
	MaxIterations       int
	MaxCompletionTokens int
	PruneStrategy       contextmgr.Strategy
	Temperature         float32
}

// Runner executes agent runs against one bound provider. A Runner is safe
// for concurrent use; each execution gets its own RunState.
type Runner struct {
	provider   llm.Provider
	registry   *tools.Registry
	detector   *capability.Detector
	cfg        Config
	logger     *logx.Logger
	metrics    MetricsRecorder
	transcript Recorder
}

// Option configures optional Runner collaborators.
type Option func(*Runner)

// WithDetector shares a capability detector cache across runners.
func WithDetector(d *capability.Detector) Option {
	return func(r *Runner) { r.detector = d }
}

// WithMetrics attaches a metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(r *Runner) { r.metrics = m }
}

// WithTranscript attaches a terminal run recorder.
func WithTranscript(rec Recorder) Option {
	return func(r *Runner) { r.transcript = rec }
}

// WithLogger overrides the default component logger.
func WithLogger(l *logx.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// NewRunner builds a Runner over the given provider and tool registry.
func NewRunner(provider llm.Provider, registry *tools.Registry, cfg Config, opts ...Option) (*Runner, error) {
	if provider == nil {
		return nil, errors.New("agent: provider is required")
	}
	if cfg.MaxIterations <= 0 {
		return nil, fmt.Errorf("agent: MaxIterations must be positive, got %d", cfg.MaxIterations)
	}
	if cfg.Model == "" {
		cfg.Model = provider.ModelName()
	}
	if cfg.PruneStrategy == "" {
		cfg.PruneStrategy = contextmgr.StrategyOldestFirst
	}
	if registry == nil {
		registry = tools.NewRegistry()
	}

	r := &Runner{
		provider: provider,
		registry: registry,
		detector: capability.NewDetector(),
		cfg:      cfg,
		logger:   logx.NewLogger("agent"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Execute runs the loop to a terminal state and returns the result. The
// returned error is non-nil only for invocation mistakes; run-fate outcomes
// (failures included) are reported through the Result.
func (r *Runner) Execute(ctx context.Context, goal string, seed []llm.Message) (*Result, error) {
	return r.run(ctx, goal, seed, nil), nil
}

// run is the single loop behind both execution modes. emit is nil in
// blocking mode; in streaming mode every event goes through it and the
// producer suspends until the consumer pulls.
func (r *Runner) run(ctx context.Context, goal string, seed []llm.Message, emit func(Event)) *Result {
	state := &RunState{
		RunID:        uuid.NewString(),
		Conversation: append(append([]llm.Message{}, seed...), llm.NewUserMessage(goal)),
		Status:       StatusRunning,
	}
	started := time.Now()
	r.logger.Info("run %s started: model=%s tools=%d max_iterations=%d",
		state.RunID, r.cfg.Model, r.registry.Len(), r.cfg.MaxIterations)

	if reason, ok := r.capabilityCheck(emit != nil); !ok {
		return r.finish(ctx, state, started, llm.ChatResponse{}, StatusFailed, ReasonCapabilityMismatch,
			fmt.Errorf("provider %s lacks required capability: %s", r.cfg.Model, reason), emit)
	}

	var (
		lastResponse llm.ChatResponse
		lengthRetry  bool
	)

	for {
		// Cancellation is checked before the backend call so a cancelled run
		// never leaves a tool call dangling without its result.
		if err := ctx.Err(); err != nil {
			return r.finish(ctx, state, started, lastResponse, StatusFailed, ReasonCancelled, err, emit)
		}
		if state.Iteration >= r.cfg.MaxIterations {
			return r.finish(ctx, state, started, lastResponse, StatusIterationLimit, "", nil, emit)
		}

		conv, err := r.fit(state.Conversation)
		if err != nil {
			return r.finish(ctx, state, started, lastResponse, StatusFailed, ReasonContextOverflow, err, emit)
		}
		state.Conversation = conv

		resp, err := r.turn(ctx, state, emit)
		state.Iteration++
		if err != nil {
			return r.finish(ctx, state, started, lastResponse, StatusFailed, ReasonBackendError, err, emit)
		}
		lastResponse = resp

		switch resp.FinishReason {
		case llm.FinishToolCalls:
			state.Conversation = append(state.Conversation, resp.Message)
			state.Conversation = append(state.Conversation, r.dispatchAll(ctx, resp.Message.ToolCalls, emit)...)
			lengthRetry = false

		case llm.FinishStop:
			state.Conversation = append(state.Conversation, resp.Message)
			return r.finish(ctx, state, started, resp, StatusDone, "", nil, emit)

		case llm.FinishLength:
			// One prune-and-retry; a second truncation is terminal.
			if lengthRetry {
				return r.finish(ctx, state, started, resp, StatusFailed, ReasonContextOverflow,
					fmt.Errorf("completion truncated twice for model %s", r.cfg.Model), emit)
			}
			lengthRetry = true
			pruned, perr := r.forcePrune(state.Conversation)
			if perr != nil {
				return r.finish(ctx, state, started, resp, StatusFailed, ReasonContextOverflow, perr, emit)
			}
			state.Conversation = pruned

		case llm.FinishError:
			return r.finish(ctx, state, started, resp, StatusFailed, ReasonBackendError,
				fmt.Errorf("backend reported error finish for model %s", r.cfg.Model), emit)

		default:
			return r.finish(ctx, state, started, resp, StatusFailed, ReasonBackendError,
				fmt.Errorf("unrecognized finish reason %q", resp.FinishReason), emit)
		}
	}
}

// capabilityCheck verifies the bound provider supports everything this run
// needs, before any backend call. Returns the missing capability on failure.
func (r *Runner) capabilityCheck(streaming bool) (capability.Capability, bool) {
	if r.registry.Len() > 0 && !r.detector.Supports(r.provider, capability.ToolUse) {
		return capability.ToolUse, false
	}
	if streaming && !r.detector.Supports(r.provider, capability.Streaming) {
		return capability.Streaming, false
	}
	if streaming && r.registry.Len() > 0 && !r.detector.Supports(r.provider, capability.StreamingToolUse) {
		return capability.StreamingToolUse, false
	}
	return "", true
}

// contextLimit prefers the window the provider reports about itself over
// the static registry.
func (r *Runner) contextLimit() (int, error) {
	if sizer, ok := r.provider.(llm.ContextSizer); ok {
		if n := sizer.MaxContextTokens(); n > 0 {
			return n, nil
		}
	}
	return contextmgr.ContextLimit(r.cfg.Model)
}

// fit validates the conversation against the window and prunes when it
// overflows. An unprunable overflow is terminal; the conversation is never
// sent truncated beyond the documented strategies.
func (r *Runner) fit(conv []llm.Message) ([]llm.Message, error) {
	limit, err := r.contextLimit()
	if err != nil {
		return nil, err
	}
	if contextmgr.ValidateWithLimit(conv, r.cfg.Model, r.cfg.MaxCompletionTokens, limit) {
		return conv, nil
	}

	pruned, err := contextmgr.PruneWithLimit(conv, r.cfg.Model, r.cfg.MaxCompletionTokens, limit, r.cfg.PruneStrategy)
	if err != nil {
		return nil, err
	}
	if !contextmgr.ValidateWithLimit(pruned, r.cfg.Model, r.cfg.MaxCompletionTokens, limit) {
		return nil, fmt.Errorf("%w: model %s", ErrContextOverflow, r.cfg.Model)
	}
	r.logger.Debug("pruned conversation from %d to %d messages", len(conv), len(pruned))
	return pruned, nil
}

// forcePrune reclaims budget after a length finish even when the
// conversation nominally validates. It must make progress; returning the
// input unchanged would loop.
func (r *Runner) forcePrune(conv []llm.Message) ([]llm.Message, error) {
	limit, err := r.contextLimit()
	if err != nil {
		return nil, err
	}
	// Halving the window forces the strategy to drop something.
	pruned, err := contextmgr.PruneWithLimit(conv, r.cfg.Model, r.cfg.MaxCompletionTokens, limit/2, r.cfg.PruneStrategy)
	if err != nil {
		return nil, err
	}
	return pruned, nil
}

// turn performs one model call, streaming it when an emitter is attached.
func (r *Runner) turn(ctx context.Context, state *RunState, emit func(Event)) (llm.ChatResponse, error) {
	req := llm.ChatRequest{
		Messages:            state.Conversation,
		Tools:               r.registry.Definitions(),
		Model:               r.cfg.Model,
		MaxCompletionTokens: r.cfg.MaxCompletionTokens,
		Temperature:         r.cfg.Temperature,
	}
	if r.registry.Len() == 0 {
		req.Tools = nil
	}

	begin := time.Now()
	var (
		resp llm.ChatResponse
		err  error
	)
	if emit != nil {
		resp, err = r.streamTurn(ctx, req, emit)
	} else {
		resp, err = r.blockingTurn(ctx, req)
	}
	if r.metrics != nil {
		finish := resp.FinishReason
		if err != nil {
			finish = llm.FinishError
		}
		r.metrics.RecordModelCall(r.cfg.Model, finish, time.Since(begin))
	}
	return resp, err
}

func (r *Runner) blockingTurn(ctx context.Context, req llm.ChatRequest) (llm.ChatResponse, error) {
	if len(req.Tools) > 0 {
		tc, ok := r.provider.(llm.ToolCaller)
		if !ok {
			return llm.ChatResponse{}, errors.New("provider lost tool support mid-run")
		}
		return tc.ChatWithTools(ctx, req)
	}
	return r.provider.Chat(ctx, req)
}

// streamTurn consumes the provider's chunk stream, emitting a model_delta
// per content chunk and assembling the full response for the loop.
func (r *Runner) streamTurn(ctx context.Context, req llm.ChatRequest, emit func(Event)) (llm.ChatResponse, error) {
	var (
		ch  <-chan llm.StreamChunk
		err error
	)
	if len(req.Tools) > 0 {
		stc, ok := r.provider.(llm.StreamToolCaller)
		if !ok {
			return llm.ChatResponse{}, errors.New("provider cannot stream tool-bearing requests")
		}
		ch, err = stc.StreamChatWithTools(ctx, req)
	} else {
		streamer, ok := r.provider.(llm.Streamer)
		if !ok {
			return llm.ChatResponse{}, errors.New("provider lost streaming support mid-run")
		}
		ch, err = streamer.StreamChat(ctx, req)
	}
	if err != nil {
		return llm.ChatResponse{}, err
	}

	resp := llm.ChatResponse{Message: llm.Message{Role: llm.RoleAssistant}}
	for chunk := range ch {
		switch {
		case chunk.Err != nil:
			return llm.ChatResponse{}, chunk.Err
		case chunk.ToolCall != nil:
			resp.Message.ToolCalls = append(resp.Message.ToolCalls, *chunk.ToolCall)
		case chunk.Content != "":
			resp.Message.Content += chunk.Content
			emit(Event{Kind: EventModelDelta, Delta: chunk.Content})
		}
		if chunk.Done {
			resp.FinishReason = chunk.FinishReason
		}
	}
	if resp.FinishReason == "" {
		resp.FinishReason = llm.FinishStop
	}
	return resp, nil
}

// dispatchAll executes the turn's tool calls strictly in emitted order and
// returns one tool message per result, in that same order. A later call may
// depend on the model having seen an earlier call's result, so ordering in
// the conversation is the source of truth.
func (r *Runner) dispatchAll(ctx context.Context, calls []llm.ToolCall, emit func(Event)) []llm.Message {
	out := make([]llm.Message, 0, len(calls))
	for i := range calls {
		call := calls[i]
		if emit != nil {
			emit(Event{Kind: EventToolCall, ToolCall: &call})
		}

		begin := time.Now()
		res := r.registry.Dispatch(ctx, tools.Invocation{
			ID:   call.ID,
			Name: call.Name,
			Args: call.Parameters,
		})
		if r.metrics != nil {
			r.metrics.RecordToolDispatch(call.Name, res.IsError, time.Since(begin))
		}

		result := llm.ToolResult{ToolCallID: res.CallID, Content: res.Content, IsError: res.IsError}
		if emit != nil {
			emit(Event{Kind: EventToolResult, ToolResult: &result})
		}
		out = append(out, llm.NewToolMessage(result))
	}
	return out
}

// finish moves the state machine to its terminal state, records the run,
// and builds the caller-facing result.
func (r *Runner) finish(ctx context.Context, state *RunState, started time.Time,
	resp llm.ChatResponse, status Status, reason FailReason, err error, emit func(Event),
) *Result {
	state.Status = status
	state.Reason = reason

	result := &Result{
		Err:          err,
		RunID:        state.RunID,
		Status:       status,
		Reason:       reason,
		Response:     resp,
		Conversation: state.Conversation,
		Iterations:   state.Iteration,
	}

	if status == StatusFailed {
		r.logger.Warn("run %s failed after %d iteration(s): reason=%s err=%v",
			state.RunID, state.Iteration, reason, err)
	} else {
		r.logger.Info("run %s finished: status=%s iterations=%d", state.RunID, status, state.Iteration)
	}

	if r.metrics != nil {
		r.metrics.RecordRunTermination(status, reason)
	}
	if r.transcript != nil {
		rec := RunRecord{
			StartedAt:    started,
			FinishedAt:   time.Now(),
			Conversation: state.Conversation,
			RunID:        state.RunID,
			Model:        r.cfg.Model,
			Status:       status,
			Reason:       reason,
			FinalContent: resp.Message.Content,
			Iterations:   state.Iteration,
		}
		// The record must land even when the run ended by cancellation.
		if rerr := r.transcript.RecordRun(context.WithoutCancel(ctx), rec); rerr != nil {
			r.logger.Warn("run %s transcript write failed: %v", state.RunID, rerr)
		}
	}

	if emit != nil {
		emit(Event{Kind: EventFinal, Result: result})
	}
	return result
}
