// Package workflow implements the Workflow Runner (SPEC_FULL §4.F):
// parsing YAML workflow documents, filtering by trigger event and
// condition, and executing steps sequentially, threading each step's
// output into a growing context. Parsing style grounded on
// tombee-conductor's pkg/workflow/definition.go, trimmed to this spec's
// much smaller on/if/steps contract.
package workflow

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// stepDoc is the raw YAML shape of one step (spec §6 "Workflow document
// format").
type stepDoc struct {
	Uses string `yaml:"uses"`
	With any    `yaml:"with"`
}

// document is the raw YAML shape of a workflow file.
type document struct {
	On    string    `yaml:"on"`
	If    string    `yaml:"if"`
	Steps []stepDoc `yaml:"steps"`
}

// Step is one parsed, ready-to-execute action invocation (spec §3).
type Step struct {
	Uses string
	With any
}

// Definition is a parsed workflow document (spec §3 Workflow).
type Definition struct {
	TriggerEvents map[string]struct{}
	Condition     string // empty means "no condition"
	Steps         []Step
}

// Parse decodes a YAML workflow document. `on` is required; `with`
// defaults to nil when omitted, per spec §4.F.
func Parse(data []byte) (*Definition, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("workflow: parse: %w", err)
	}

	if doc.On == "" {
		return nil, fmt.Errorf("workflow: parse: \"on\" is required")
	}

	def := &Definition{
		TriggerEvents: map[string]struct{}{doc.On: {}},
		Condition:     doc.If,
	}

	for i, s := range doc.Steps {
		if s.Uses == "" {
			return nil, fmt.Errorf("workflow: parse: step %d is missing \"uses\"", i)
		}
		def.Steps = append(def.Steps, Step{Uses: s.Uses, With: s.With})
	}

	return def, nil
}

// ShouldExecute implements spec §4.F's trigger contract: the event must
// be in the trigger set, and, if a condition is present, it must render
// truthy.
func (d *Definition) ShouldExecute(eventName string, ctx map[string]any, eval Evaluator) (bool, error) {
	if _, ok := d.TriggerEvents[eventName]; !ok {
		return false, nil
	}

	if d.Condition == "" {
		return true, nil
	}

	return eval.EvalBool(d.Condition, ctx)
}

// Evaluator is the subset of expression.Evaluator the Workflow Runner
// depends on, kept as an interface here so tests can substitute a stub
// renderer without pulling in expr-lang.
type Evaluator interface {
	EvalBool(expression string, ctx map[string]any) (bool, error)
}
