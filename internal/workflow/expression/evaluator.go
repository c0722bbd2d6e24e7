// Package expression implements the Expression Renderer (SPEC_FULL
// §4.E): compiling and evaluating the small expression language workflow
// conditions and step `with` values are written in, over a named context
// tree. Grounded directly on tombee-conductor's
// pkg/workflow/expression/evaluator.go.
package expression

import (
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Evaluator compiles and runs expr-lang expressions against a context
// map, caching compiled programs since the same condition/template text
// recurs across every triggered run of the same workflow.
type Evaluator struct {
	mu    sync.RWMutex
	cache map[string]*vm.Program
}

// New returns a ready-to-use Evaluator.
func New() *Evaluator {
	return &Evaluator{cache: make(map[string]*vm.Program)}
}

// Eval compiles (or reuses a cached compile of) expression and runs it
// against ctx, returning the raw structured result (spec §4.E "raw
// expression mode").
func (e *Evaluator) Eval(expression string, ctx map[string]any) (any, error) {
	program, err := e.compile(expression)
	if err != nil {
		return nil, fmt.Errorf("expression: compile %q: %w", expression, err)
	}

	out, err := expr.Run(program, ctx)
	if err != nil {
		return nil, fmt.Errorf("expression: run %q: %w", expression, err)
	}

	return out, nil
}

// EvalBool is a convenience wrapper for condition evaluation, applying
// the truthiness contract (spec §4.E) to whatever Eval returns.
func (e *Evaluator) EvalBool(expression string, ctx map[string]any) (bool, error) {
	out, err := e.Eval(expression, ctx)
	if err != nil {
		return false, err
	}
	return Truthy(out), nil
}

func (e *Evaluator) compile(expression string) (*vm.Program, error) {
	e.mu.RLock()
	if p, ok := e.cache[expression]; ok {
		e.mu.RUnlock()
		return p, nil
	}
	e.mu.RUnlock()

	// AllowUndefinedVariables must come after Env, which switches strict
	// mode back on.
	program, err := expr.Compile(expression,
		expr.Env(map[string]any{}),
		expr.AllowUndefinedVariables(),
		expr.Function("has", hasFunc),
		expr.Function("includes", includesFunc),
		expr.Function("length", lengthFunc),
	)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.cache[expression] = program
	e.mu.Unlock()

	return program, nil
}

// Truthy implements spec §4.E's exact rule: falsy iff the value equals
// boolean false, the null/absent value, or the integer 0; everything
// else is truthy.
func Truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case int:
		return t != 0
	case int8:
		return t != 0
	case int16:
		return t != 0
	case int32:
		return t != 0
	case int64:
		return t != 0
	case uint:
		return t != 0
	case uint64:
		return t != 0
	default:
		return true
	}
}

func hasFunc(args ...any) (any, error) {
	if len(args) != 2 {
		return false, fmt.Errorf("has: expected 2 arguments, got %d", len(args))
	}
	m, ok := args[0].(map[string]any)
	if !ok {
		return false, nil
	}
	key, ok := args[1].(string)
	if !ok {
		return false, nil
	}
	_, ok = m[key]
	return ok, nil
}

func includesFunc(args ...any) (any, error) {
	if len(args) != 2 {
		return false, fmt.Errorf("includes: expected 2 arguments, got %d", len(args))
	}
	list, ok := args[0].([]any)
	if !ok {
		return false, nil
	}
	for _, item := range list {
		if item == args[1] {
			return true, nil
		}
	}
	return false, nil
}

func lengthFunc(args ...any) (any, error) {
	if len(args) != 1 {
		return 0, fmt.Errorf("length: expected 1 argument, got %d", len(args))
	}
	switch v := args[0].(type) {
	case []any:
		return len(v), nil
	case map[string]any:
		return len(v), nil
	case string:
		return len(v), nil
	default:
		return 0, nil
	}
}
