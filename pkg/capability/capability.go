// Package capability detects which optional features a bound provider
// adapter supports, by structural interface inspection only.
package capability

import (
	"sort"
	"sync"

	"conductor/pkg/llm"
)

// Capability is a named optional feature a backend may support.
type Capability string

const (
	// Streaming means the adapter can deliver turns as incremental chunks.
	Streaming Capability = "streaming"
	// ToolUse means the adapter can relay tool definitions and surface the
	// model's tool call requests.
	ToolUse Capability = "tool_use"
	// StreamingToolUse means the adapter can stream tool-bearing turns.
	// Implied by neither Streaming nor ToolUse alone.
	StreamingToolUse Capability = "streaming_tool_use"
	// JSONMode means the adapter can constrain output to JSON.
	JSONMode Capability = "json_mode"
	// ContextIntrospection means the adapter can report its own context
	// window size.
	ContextIntrospection Capability = "context_introspection"
)

// known lists every capability the detector understands. Capabilities
// outside this set are never "known unsupported".
//
//nolint:gochecknoglobals // Static capability enumeration
var known = map[Capability]struct{}{
	Streaming:            {},
	ToolUse:              {},
	StreamingToolUse:     {},
	JSONMode:             {},
	ContextIntrospection: {},
}

// Set is a value-type capability set. Recomputed whenever a new adapter is
// bound; never mutated in place by consumers.
type Set map[Capability]struct{}

// Has reports whether c is in the set.
func (s Set) Has(c Capability) bool {
	_, ok := s[c]
	return ok
}

// List returns the capabilities in the set, sorted for stable output.
func (s Set) List() []Capability {
	out := make([]Capability, 0, len(s))
	for c := range s {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Detect inspects the adapter's interface support and returns its
// capability set. Pure structural inspection: no network calls, never
// fails. An adapter implementing only the minimal chat contract yields the
// empty set.
func Detect(p llm.Provider) Set {
	set := make(Set)
	if _, ok := p.(llm.Streamer); ok {
		set[Streaming] = struct{}{}
	}
	if _, ok := p.(llm.ToolCaller); ok {
		set[ToolUse] = struct{}{}
	}
	if _, ok := p.(llm.StreamToolCaller); ok {
		set[StreamingToolUse] = struct{}{}
	}
	if _, ok := p.(llm.JSONModer); ok {
		set[JSONMode] = struct{}{}
	}
	if _, ok := p.(llm.ContextSizer); ok {
		set[ContextIntrospection] = struct{}{}
	}
	return set
}

// Supports reports exactly whether the adapter supports c.
func Supports(p llm.Provider, c Capability) bool {
	return Detect(p).Has(c)
}

// ShouldAttempt is the permissive variant: it returns true unless c is a
// known capability the adapter provably lacks. Capabilities outside the
// known enum always return true, allowing speculative calls with graceful
// fallback.
func ShouldAttempt(p llm.Provider, c Capability) bool {
	if _, ok := known[c]; !ok {
		return true
	}
	return Supports(p, c)
}

// Detector caches detection results keyed by adapter identity. The cache is
// shared, append-only, and never evicted; caching is an optimization, not a
// correctness requirement.
type Detector struct {
	cache sync.Map // llm.Provider -> Set
}

// NewDetector creates a Detector with an empty cache.
func NewDetector() *Detector {
	return &Detector{}
}

// Detect returns the adapter's capability set, computing and caching it on
// first sight of the adapter.
func (d *Detector) Detect(p llm.Provider) Set {
	if cached, ok := d.cache.Load(p); ok {
		return cached.(Set)
	}
	set := Detect(p)
	actual, _ := d.cache.LoadOrStore(p, set)
	return actual.(Set)
}

// Supports reports exactly whether the adapter supports c, via the cache.
func (d *Detector) Supports(p llm.Provider, c Capability) bool {
	return d.Detect(p).Has(c)
}

// ShouldAttempt is the cached permissive query.
func (d *Detector) ShouldAttempt(p llm.Provider, c Capability) bool {
	if _, ok := known[c]; !ok {
		return true
	}
	return d.Supports(p, c)
}
