package workflow

import "sync"

// ContextProvider yields a structured value on demand (spec §3
// RunnerContext). Two are always present during a run: the trigger-event
// provider and "steps".
type ContextProvider interface {
	Value() any
}

// staticProvider wraps a fixed value, used for the trigger-event
// provider (the event payload does not change during a run).
type staticProvider struct{ v any }

func (p staticProvider) Value() any { return p.v }

// NewEventProvider returns the always-present "event" context provider
// carrying the triggering event's payload.
func NewEventProvider(payload any) ContextProvider {
	return staticProvider{v: payload}
}

// stepsProvider backs the "steps" context provider: an appending list of
// prior step outputs (spec §3 invariant: steps[i] is defined exactly
// while steps i+1..n are executing; read-only from the workflow's point
// of view).
type stepsProvider struct {
	mu   sync.Mutex
	outs []any
}

func newStepsProvider() *stepsProvider {
	return &stepsProvider{outs: []any{}}
}

func (p *stepsProvider) append(output any) {
	p.mu.Lock()
	p.outs = append(p.outs, output)
	p.mu.Unlock()
}

// Value returns a snapshot of outputs appended so far.
func (p *stepsProvider) Value() any {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]any, len(p.outs))
	copy(out, p.outs)
	return out
}

// buildContext renders every provider in ctx (plus the run's live
// "steps" provider) down to a plain map[string]any for expression
// evaluation.
func buildContext(base map[string]ContextProvider, steps *stepsProvider) map[string]any {
	out := make(map[string]any, len(base)+1)
	for name, p := range base {
		out[name] = p.Value()
	}
	out["steps"] = steps.Value()
	return out
}
