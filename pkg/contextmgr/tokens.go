// Package contextmgr fits conversations into a model's token budget:
// counting, limit lookup, validation, and pruning.
package contextmgr

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/tiktoken-go/tokenizer"

	"conductor/pkg/llm"
)

// TokenCount is the result of counting a message sequence. Approximate is
// set when no exact tokenizer was available for the model and the
// ceil(chars/4) estimate was used instead.
type TokenCount struct {
	Tokens      int
	Approximate bool
}

var (
	gpt4Codec     tokenizer.Codec
	gpt4CodecErr  error
	gpt4CodecOnce sync.Once
)

// codecFor returns a tiktoken codec for models with a known encoding, or
// nil when only the character estimate applies. OpenAI model families share
// the GPT-4 encoding; other providers have no public tokenizer, so their
// counts are estimates.
func codecFor(model string) tokenizer.Codec {
	for _, prefix := range []string{"gpt", "o1", "o3", "o4"} {
		if strings.HasPrefix(model, prefix) {
			gpt4CodecOnce.Do(func() {
				gpt4Codec, gpt4CodecErr = tokenizer.ForModel(tokenizer.GPT4)
			})
			if gpt4CodecErr != nil {
				return nil
			}
			return gpt4Codec
		}
	}
	return nil
}

// CountTokens counts the tokens a message sequence will occupy for the
// given model. Deterministic for identical input: tool call parameters are
// serialized with sorted keys before counting.
func CountTokens(messages []llm.Message, model string) TokenCount {
	var text strings.Builder
	for i := range messages {
		writeMessageText(&text, &messages[i])
	}

	if codec := codecFor(model); codec != nil {
		if n, err := codec.Count(text.String()); err == nil {
			return TokenCount{Tokens: n}
		}
	}
	return TokenCount{Tokens: estimateTokens(text.Len()), Approximate: true}
}

// estimateTokens is the ceil(chars/4) fallback estimate.
func estimateTokens(chars int) int {
	return (chars + 3) / 4
}

// writeMessageText renders everything in a message that consumes budget:
// role, text content, tool calls, and tool results.
func writeMessageText(b *strings.Builder, msg *llm.Message) {
	b.WriteString(string(msg.Role))
	b.WriteString(msg.Content)
	for i := range msg.ToolCalls {
		tc := &msg.ToolCalls[i]
		b.WriteString(tc.ID)
		b.WriteString(tc.Name)
		// encoding/json sorts map keys, keeping the count deterministic.
		if args, err := json.Marshal(tc.Parameters); err == nil {
			b.Write(args)
		}
	}
	for i := range msg.ToolResults {
		tr := &msg.ToolResults[i]
		b.WriteString(tr.ToolCallID)
		b.WriteString(tr.Content)
	}
}
