// Package types provides shared types for the workflow engine.
package types

// StepKind distinguishes the execution variants of a step.
type StepKind string

const (
	// StepKindAgent delegates execution to the external agent invoker.
	StepKindAgent StepKind = "agent"

	// StepKindTool runs a deterministic in-process transform.
	StepKindTool StepKind = "tool"
)

// WorkflowDefinition is a named directed graph of steps with one designated
// start step. Definitions are immutable once submitted for execution.
type WorkflowDefinition struct {
	ID          string           `json:"id"`
	Name        string           `json:"name,omitempty"`
	StartStepID string           `json:"startStepId"`
	Steps       []StepDefinition `json:"steps"`
}

// StepDefinition describes a single unit of work within a workflow.
type StepDefinition struct {
	ID         string                 `json:"id"`
	AgentID    string                 `json:"agentId,omitempty"`
	Name       string                 `json:"name,omitempty"`
	Kind       StepKind               `json:"kind,omitempty"` // defaults to agent
	Params     map[string]interface{} `json:"params,omitempty"`
	RetryLimit int                    `json:"retryLimit"`
	Next       []Edge                 `json:"next,omitempty"`
}

// EffectiveKind returns the step kind, defaulting to agent when unset.
func (s *StepDefinition) EffectiveKind() StepKind {
	if s.Kind == "" {
		return StepKindAgent
	}
	return s.Kind
}

// Edge connects a step to a downstream target, optionally gated by a
// boolean condition expression. A nil condition is always taken.
type Edge struct {
	TargetStepID string  `json:"targetStepId"`
	Condition    *string `json:"condition,omitempty"`
}

// Unconditional reports whether the edge has no guard expression.
func (e *Edge) Unconditional() bool {
	return e.Condition == nil || *e.Condition == ""
}
