// Package condition provides safe compilation and evaluation of edge guard
// expressions. Expressions are compiled once at validation time and the
// resulting programs are reused for every tier, so no parsing happens on
// the run path and no arbitrary code execution is possible.
package condition

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// DefaultMaxExpressionLength bounds expression size for safety.
const DefaultMaxExpressionLength = 4096

// Program is a compiled edge guard, ready for repeated evaluation.
type Program struct {
	Source  string
	program *vm.Program
}

// EvalError reports a runtime evaluation failure (missing field, type
// mismatch). It is non-fatal: the caller treats the edge as not taken.
type EvalError struct {
	Expression string
	Err        error
}

func (e *EvalError) Error() string {
	return fmt.Sprintf("evaluate condition %q: %v", e.Expression, e.Err)
}

func (e *EvalError) Unwrap() error { return e.Err }

// Evaluator compiles and evaluates edge guard expressions.
type Evaluator struct {
	// MaxExpressionLength limits expression size (default 4096).
	MaxExpressionLength int
}

// New creates an Evaluator with default limits.
func New() *Evaluator {
	return &Evaluator{MaxExpressionLength: DefaultMaxExpressionLength}
}

// Compile parses an expression into a reusable program. Compilation
// failures are validation errors: they reject the workflow before any
// run is created.
func (e *Evaluator) Compile(expression string) (*Program, error) {
	max := e.MaxExpressionLength
	if max <= 0 {
		max = DefaultMaxExpressionLength
	}
	if len(expression) > max {
		return nil, fmt.Errorf("expression exceeds maximum length of %d characters", max)
	}

	prog, err := expr.Compile(expression)
	if err != nil {
		return nil, fmt.Errorf("compile condition %q: %w", expression, err)
	}

	return &Program{Source: expression, program: prog}, nil
}

// Evaluate runs a compiled guard against accumulated step outputs. The
// expression must yield a boolean; anything else (including a reference to
// a missing step or field) returns an EvalError.
func (e *Evaluator) Evaluate(p *Program, stepOutputs map[string]map[string]interface{}) (bool, error) {
	env := BuildEnvironment(stepOutputs)

	result, err := expr.Run(p.program, env)
	if err != nil {
		return false, &EvalError{Expression: p.Source, Err: err}
	}

	b, ok := result.(bool)
	if !ok {
		return false, &EvalError{
			Expression: p.Source,
			Err:        fmt.Errorf("expression returned %T, expected bool", result),
		}
	}

	return b, nil
}

// BuildEnvironment shapes step outputs for expression references of the
// form steps.<stepId>.output.<field>.
func BuildEnvironment(stepOutputs map[string]map[string]interface{}) map[string]interface{} {
	steps := make(map[string]interface{}, len(stepOutputs))
	for stepID, out := range stepOutputs {
		steps[stepID] = map[string]interface{}{"output": out}
	}
	return map[string]interface{}{"steps": steps}
}
