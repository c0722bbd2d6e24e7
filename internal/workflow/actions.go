package workflow

import (
	"fmt"

	"github.com/rs/zerolog"
)

// ActionParams is what the Workflow Runner hands an Action on invocation
// (spec §4.F): the step's raw `with` value, and a Render closure bound to
// the run's context-so-far so the action can interpolate it itself.
type ActionParams struct {
	With   any
	Render func(text string, raw bool) (any, error)
}

// Complete is the callback an Action calls exactly once, synchronously or
// asynchronously, to report its output (or failure) and let the runner
// advance to the next step (spec §4.F "self-recursive step sequencing").
type Complete func(output any, err error)

// Action is the external collaborator contract a workflow step's `uses`
// name resolves to. Invoke must call complete exactly once.
type Action interface {
	Invoke(params ActionParams, complete Complete)
}

// ActionFactory resolves a step's `uses` name to a constructed Action.
// Construct returns ok=false for unresolvable names, which the runner
// treats as "Invalid action name" and aborts the run with no side
// effects (spec §4.F step 1).
type ActionFactory interface {
	Construct(uses string) (Action, bool)
}

// BuiltinFactory resolves the two always-available actions, "log" and
// "noop", falling back to a wrapped ActionFactory for everything else.
// This mirrors the teacher's plugin-registry-with-builtins pattern used
// for HTTP stream providers.
type BuiltinFactory struct {
	Log      zerolog.Logger
	Fallback ActionFactory
}

// Construct implements ActionFactory.
func (f BuiltinFactory) Construct(uses string) (Action, bool) {
	switch uses {
	case "log":
		return logAction{log: f.Log}, true
	case "noop":
		return noopAction{}, true
	}

	if f.Fallback != nil {
		return f.Fallback.Construct(uses)
	}
	return nil, false
}

// logAction renders its message in text-interpolation mode (so
// "{{ steps }}" becomes the stringified steps list) and writes it to the
// log, then completes with that rendered value as output. The message is
// `with.msg` when `with` is a map carrying a string "msg", otherwise
// `with` itself.
type logAction struct{ log zerolog.Logger }

func (a logAction) Invoke(params ActionParams, complete Complete) {
	if m, ok := params.With.(map[string]any); ok {
		if s, ok := m["msg"].(string); ok {
			params.With = s
		}
	}

	msg, err := renderWith(params)
	if err != nil {
		complete(nil, err)
		return
	}

	a.log.Info().Interface("message", msg).Msg("workflow log step")
	complete(msg, nil)
}

// noopAction completes immediately with its (rendered) `with` value as
// output and no other effect, useful for threading a fixed value into
// "steps" or for testing trigger/condition filtering in isolation.
type noopAction struct{}

func (noopAction) Invoke(params ActionParams, complete Complete) {
	out, err := renderWith(params)
	complete(out, err)
}

// renderWith renders a step's `with` value when it is a string
// (interpolation mode); any other shape (map, list, number, nil) passes
// through unchanged, since only strings carry `{{ }}` templates.
func renderWith(params ActionParams) (any, error) {
	s, ok := params.With.(string)
	if !ok {
		return params.With, nil
	}

	out, err := params.Render(s, false)
	if err != nil {
		return nil, fmt.Errorf("workflow: render with: %w", err)
	}
	return out, nil
}
