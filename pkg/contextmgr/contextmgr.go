package contextmgr

import (
	"errors"
	"fmt"

	"conductor/pkg/config"
	"conductor/pkg/llm"
)

// Strategy selects how Prune reclaims budget.
type Strategy string

const (
	// StrategyOldestFirst drops whole conversation units starting from the
	// oldest, keeping system messages and the most recent user message.
	StrategyOldestFirst Strategy = "oldest_first"
	// StrategySlidingWindow keeps system messages in position plus the
	// longest fitting suffix of non-system messages.
	StrategySlidingWindow Strategy = "sliding_window"
)

// ErrNoContextLimit indicates the model has no registry entry and no
// conservative default is configured. A missing limit is a configuration
// error, never a license to treat the window as unlimited.
var ErrNoContextLimit = errors.New("no context limit known for model")

// ContextLimit returns the context window for a model. An exact registry
// hit wins, then the longest known prefix, then the conservative default.
func ContextLimit(model string) (int, error) {
	info, _ := config.GetModelInfo(model)
	if info.MaxContextTokens <= 0 {
		return 0, fmt.Errorf("%w: %s", ErrNoContextLimit, model)
	}
	return info.MaxContextTokens, nil
}

// Validate reports whether the messages plus the reserved completion budget
// fit the model's context window. Pure; does not modify messages.
func Validate(messages []llm.Message, model string, maxCompletionTokens int) (bool, error) {
	limit, err := ContextLimit(model)
	if err != nil {
		return false, err
	}
	return ValidateWithLimit(messages, model, maxCompletionTokens, limit), nil
}

// ValidateWithLimit is Validate against an explicitly supplied window,
// letting callers prefer a limit the provider reported about itself.
func ValidateWithLimit(messages []llm.Message, model string, maxCompletionTokens, limit int) bool {
	count := CountTokens(messages, model)
	return count.Tokens+maxCompletionTokens <= limit
}

// Prune returns a conversation that fits the model's window, or the best
// achievable reduction when the floor is reached. System messages are never
// removed; input is never mutated. Deterministic: identical input yields
// identical output.
func Prune(messages []llm.Message, model string, maxCompletionTokens int, strategy Strategy) ([]llm.Message, error) {
	limit, err := ContextLimit(model)
	if err != nil {
		return nil, err
	}
	return PruneWithLimit(messages, model, maxCompletionTokens, limit, strategy)
}

// PruneWithLimit is Prune against an explicitly supplied window.
func PruneWithLimit(messages []llm.Message, model string, maxCompletionTokens, limit int, strategy Strategy) ([]llm.Message, error) {
	out := make([]llm.Message, len(messages))
	copy(out, messages)

	if ValidateWithLimit(out, model, maxCompletionTokens, limit) {
		return out, nil
	}

	switch strategy {
	case StrategyOldestFirst:
		return pruneOldestFirst(out, model, maxCompletionTokens, limit), nil
	case StrategySlidingWindow:
		return pruneSlidingWindow(out, model, maxCompletionTokens, limit), nil
	default:
		return nil, fmt.Errorf("unknown prune strategy %q", strategy)
	}
}

// pruneOldestFirst repeatedly removes the oldest removable unit until the
// conversation fits or only system messages and the most recent user
// message remain. A unit is one user message together with the assistant
// and tool messages that follow it, up to the next user message.
func pruneOldestFirst(messages []llm.Message, model string, maxCompletionTokens, limit int) []llm.Message {
	for !ValidateWithLimit(messages, model, maxCompletionTokens, limit) {
		start, end := oldestUnit(messages)
		if start < 0 {
			break
		}
		messages = append(messages[:start:start], messages[end:]...)
	}
	return messages
}

// oldestUnit locates the oldest removable unit, or (-1, -1) when the
// conversation is already at its floor. The most recent user message and
// everything after it stay.
func oldestUnit(messages []llm.Message) (int, int) {
	lastUser := -1
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == llm.RoleUser {
			lastUser = i
			break
		}
	}

	start := -1
	for i, msg := range messages {
		if msg.Role == llm.RoleSystem {
			continue
		}
		start = i
		break
	}
	if start < 0 || start == lastUser {
		return -1, -1
	}

	// The unit extends through trailing assistant/tool messages up to the
	// next user message or the floor.
	end := start + 1
	for end < len(messages) && end != lastUser && messages[end].Role != llm.RoleUser && messages[end].Role != llm.RoleSystem {
		end++
	}
	return start, end
}

// pruneSlidingWindow keeps every system message in its original position
// and binds the longest suffix of non-system messages that still fits. The
// floor is the single most recent non-system message.
func pruneSlidingWindow(messages []llm.Message, model string, maxCompletionTokens, limit int) []llm.Message {
	var systemIdx, otherIdx []int
	for i, msg := range messages {
		if msg.Role == llm.RoleSystem {
			systemIdx = append(systemIdx, i)
		} else {
			otherIdx = append(otherIdx, i)
		}
	}

	// Longest fitting suffix wins; the floor is a single non-system message.
	for keep := len(otherIdx); keep >= 1; keep-- {
		candidate := assemble(messages, systemIdx, otherIdx[len(otherIdx)-keep:])
		if ValidateWithLimit(candidate, model, maxCompletionTokens, limit) {
			return candidate
		}
	}
	if len(otherIdx) == 0 {
		return assemble(messages, systemIdx, nil)
	}
	return assemble(messages, systemIdx, otherIdx[len(otherIdx)-1:])
}

// assemble rebuilds a conversation from the kept indices, preserving the
// original relative order of every message.
func assemble(messages []llm.Message, systemIdx, keptIdx []int) []llm.Message {
	kept := make(map[int]struct{}, len(systemIdx)+len(keptIdx))
	for _, i := range systemIdx {
		kept[i] = struct{}{}
	}
	for _, i := range keptIdx {
		kept[i] = struct{}{}
	}

	out := make([]llm.Message, 0, len(kept))
	for i := range messages {
		if _, ok := kept[i]; ok {
			out = append(out, messages[i])
		}
	}
	return out
}
