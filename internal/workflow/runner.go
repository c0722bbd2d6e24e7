package workflow

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"torrentd/internal/workflow/expression"
)

// Execute implements the Workflow Runner's self-recursive step
// sequencing (spec §4.F, SPEC_FULL Design Notes). All steps' actions are
// resolved up front: an unresolvable `uses` name aborts the run with no
// side effects at all, before step 0 ever runs. Steps then execute one
// at a time, in order; each step's Action may complete synchronously
// (within Invoke) or asynchronously (from another goroutine), and either
// way the runner advances to the next step only once the prior one's
// complete callback has fired.
func Execute(def *Definition, factory ActionFactory, eventName string, eventPayload any, eval *expression.Evaluator, log zerolog.Logger) error {
	ctxBase := map[string]ContextProvider{
		"event": NewEventProvider(eventPayload),
	}

	shouldRun, err := def.ShouldExecute(eventName, buildContext(ctxBase, newStepsProvider()), eval)
	if err != nil {
		return fmt.Errorf("workflow: evaluate condition: %w", err)
	}
	if !shouldRun {
		return nil
	}

	actions := make([]Action, len(def.Steps))
	for i, step := range def.Steps {
		a, ok := factory.Construct(step.Uses)
		if !ok {
			log.Error().Str("uses", step.Uses).Msg("Invalid action name")
			return fmt.Errorf("workflow: invalid action name %q", step.Uses)
		}
		actions[i] = a
	}

	r := &runner{
		def:     def,
		actions: actions,
		base:    ctxBase,
		steps:   newStepsProvider(),
		eval:    eval,
		log:     log.With().Str("run_id", uuid.NewString()).Logger(),
		done:    make(chan error, 1),
	}

	r.invoke(0)
	return <-r.done
}

// runner holds the mutable state threaded through one workflow run: the
// cursor into def.Steps, the appending steps context, and the channel
// Execute blocks on until the chain finishes (successfully or not).
type runner struct {
	def     *Definition
	actions []Action
	base    map[string]ContextProvider
	steps   *stepsProvider
	eval    *expression.Evaluator
	log     zerolog.Logger
	done    chan error
}

// invoke runs the step at cursor, recursing into cursor+1 from within
// the step's completion callback. Reaching the end of def.Steps signals
// success on r.done.
func (r *runner) invoke(cursor int) {
	if cursor >= len(r.def.Steps) {
		r.done <- nil
		return
	}

	step := r.def.Steps[cursor]
	action := r.actions[cursor]
	renderer := expression.NewRenderer(r.eval, buildContext(r.base, r.steps))

	params := ActionParams{
		With:   step.With,
		Render: renderer.Render,
	}

	func() {
		defer func() {
			if p := recover(); p != nil {
				r.log.Error().Str("uses", step.Uses).Interface("panic", p).Msg("Error when invoking action")
				r.done <- fmt.Errorf("workflow: action %q panicked: %v", step.Uses, p)
			}
		}()

		// No timeout is applied: an action that never calls complete leaves
		// this run waiting forever.
		action.Invoke(params, func(output any, err error) {
			if err != nil {
				r.log.Error().Str("uses", step.Uses).Err(err).Msg("Error when invoking action")
				r.done <- fmt.Errorf("workflow: action %q: %w", step.Uses, err)
				return
			}

			r.steps.append(output)
			r.invoke(cursor + 1)
		})
	}()
}
