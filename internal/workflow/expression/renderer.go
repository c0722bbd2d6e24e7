package expression

import (
	"fmt"
	"regexp"
	"strings"
)

// interpolation matches `{{ expr }}` tokens embedded in a template
// string, the shape used throughout SPEC_FULL's workflow examples
// (e.g. `with: {msg: "{{ steps }}"}`).
var interpolation = regexp.MustCompile(`\{\{(.*?)\}\}`)

// Renderer is the public surface ActionParams.Render (spec §4.F) is
// built on: raw mode evaluates the whole input as one expression and
// returns its structured value; text mode interpolates embedded
// expressions into a string.
type Renderer struct {
	eval *Evaluator
	ctx  map[string]any
}

// NewRenderer binds an Evaluator to a fixed context snapshot. A fresh
// Renderer is built once per workflow run's "steps" provider state (see
// internal/workflow), since each render call must see outputs produced
// by steps completed so far.
func NewRenderer(eval *Evaluator, ctx map[string]any) *Renderer {
	return &Renderer{eval: eval, ctx: ctx}
}

// Render evaluates text against the renderer's context. If raw is true,
// text is evaluated as a single expression and its structured result is
// returned unconverted (workflow `if` conditions get the same whole-
// expression evaluation through Evaluator.EvalBool; the built-in actions
// render string `with` values in text mode). Otherwise every
// `{{ expr }}` token in text is replaced by its stringified evaluation
// result (text-interpolation mode).
func (r *Renderer) Render(text string, raw bool) (any, error) {
	if raw {
		return r.eval.Eval(text, r.ctx)
	}

	var evalErr error
	out := interpolation.ReplaceAllStringFunc(text, func(tok string) string {
		inner := strings.TrimSpace(tok[2 : len(tok)-2])

		v, err := r.eval.Eval(inner, r.ctx)
		if err != nil {
			evalErr = err
			return tok
		}
		return stringify(v)
	})

	if evalErr != nil {
		return nil, fmt.Errorf("expression: render %q: %w", text, evalErr)
	}

	return out, nil
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprintf("%v", t)
	}
}
