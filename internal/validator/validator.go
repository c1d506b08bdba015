// Package validator provides workflow definition validation. Definitions
// are checked structurally, validated against a JSON schema, and their edge
// conditions compiled, all before any run is created.
package validator

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/botsmith-ai/workflow-engine/internal/condition"
	"github.com/botsmith-ai/workflow-engine/pkg/types"
)

// Issue describes a single validation failure.
type Issue struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// ValidationError aggregates all issues found in a definition. No run is
// ever created for a definition that fails validation.
type ValidationError struct {
	Issues []Issue `json:"issues"`
}

func (e *ValidationError) Error() string {
	if len(e.Issues) == 1 {
		return fmt.Sprintf("invalid workflow: %s: %s", e.Issues[0].Path, e.Issues[0].Message)
	}
	return fmt.Sprintf("invalid workflow: %d issues", len(e.Issues))
}

// CompiledWorkflow is the result of successful validation: the definition
// plus a step index for O(1) lookup and the compiled guard program for every
// conditional edge, keyed by step id and edge position.
type CompiledWorkflow struct {
	Definition *types.WorkflowDefinition
	Steps      map[string]*types.StepDefinition
	Conditions map[string][]*condition.Program
}

// Condition returns the compiled guard for the given edge, or nil when the
// edge is unconditional.
func (c *CompiledWorkflow) Condition(stepID string, edgeIdx int) *condition.Program {
	progs, ok := c.Conditions[stepID]
	if !ok || edgeIdx >= len(progs) {
		return nil
	}
	return progs[edgeIdx]
}

// Validator validates workflow definitions.
type Validator struct {
	schema     *jsonschema.Schema
	conditions *condition.Evaluator
}

// New creates a Validator with the embedded definition schema.
func New(cond *condition.Evaluator) (*Validator, error) {
	if cond == nil {
		cond = condition.New()
	}

	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020

	if err := compiler.AddResource("workflow.json", strings.NewReader(workflowSchemaJSON)); err != nil {
		return nil, fmt.Errorf("add workflow schema: %w", err)
	}
	schema, err := compiler.Compile("workflow.json")
	if err != nil {
		return nil, fmt.Errorf("compile workflow schema: %w", err)
	}

	return &Validator{schema: schema, conditions: cond}, nil
}

// ValidateJSON checks a raw definition document against the JSON schema.
// Used on request bodies before decoding into typed structs.
func (v *Validator) ValidateJSON(data []byte) error {
	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return &ValidationError{Issues: []Issue{{Path: "$", Message: fmt.Sprintf("invalid JSON: %v", err)}}}
	}
	if err := v.schema.Validate(doc); err != nil {
		if verr, ok := err.(*jsonschema.ValidationError); ok {
			return &ValidationError{Issues: extractIssues(verr)}
		}
		return &ValidationError{Issues: []Issue{{Path: "$", Message: err.Error()}}}
	}
	return nil
}

// Validate performs the structural graph checks and compiles every edge
// condition. It is a pure function of the definition: no side effects and
// identical results on repeated calls. Cycles are deliberately not
// rejected; runtime execution is bounded by the coordinator's step budget.
func (v *Validator) Validate(def *types.WorkflowDefinition) (*CompiledWorkflow, error) {
	var issues []Issue

	if def == nil {
		return nil, &ValidationError{Issues: []Issue{{Path: "$", Message: "workflow definition is required"}}}
	}
	if len(def.Steps) == 0 {
		issues = append(issues, Issue{Path: "steps", Message: "workflow must contain at least one step"})
	}

	steps := make(map[string]*types.StepDefinition, len(def.Steps))
	for i := range def.Steps {
		step := &def.Steps[i]
		path := fmt.Sprintf("steps[%d]", i)

		if step.ID == "" {
			issues = append(issues, Issue{Path: path + ".id", Message: "step id is required"})
			continue
		}
		if _, dup := steps[step.ID]; dup {
			issues = append(issues, Issue{Path: path + ".id", Message: fmt.Sprintf("duplicate step id %q", step.ID)})
			continue
		}
		steps[step.ID] = step

		if step.RetryLimit < 0 {
			issues = append(issues, Issue{Path: path + ".retryLimit", Message: "retryLimit must be >= 0"})
		}
		switch step.EffectiveKind() {
		case types.StepKindAgent, types.StepKindTool:
		default:
			issues = append(issues, Issue{Path: path + ".kind", Message: fmt.Sprintf("unknown step kind %q", step.Kind)})
		}
	}

	if def.StartStepID == "" {
		issues = append(issues, Issue{Path: "startStepId", Message: "startStepId is required"})
	} else if _, ok := steps[def.StartStepID]; !ok {
		issues = append(issues, Issue{Path: "startStepId", Message: fmt.Sprintf("start step %q does not exist", def.StartStepID)})
	}

	conditions := make(map[string][]*condition.Program)
	for i := range def.Steps {
		step := &def.Steps[i]
		if step.ID == "" {
			continue
		}
		var progs []*condition.Program
		for j := range step.Next {
			edge := &step.Next[j]
			path := fmt.Sprintf("steps[%d].next[%d]", i, j)

			if _, ok := steps[edge.TargetStepID]; !ok {
				issues = append(issues, Issue{Path: path + ".targetStepId", Message: fmt.Sprintf("edge target %q does not exist", edge.TargetStepID)})
			}

			if edge.Unconditional() {
				progs = append(progs, nil)
				continue
			}
			prog, err := v.conditions.Compile(*edge.Condition)
			if err != nil {
				issues = append(issues, Issue{Path: path + ".condition", Message: err.Error()})
				progs = append(progs, nil)
				continue
			}
			progs = append(progs, prog)
		}
		if len(progs) > 0 {
			conditions[step.ID] = progs
		}
	}

	if len(issues) > 0 {
		return nil, &ValidationError{Issues: issues}
	}

	return &CompiledWorkflow{
		Definition: def,
		Steps:      steps,
		Conditions: conditions,
	}, nil
}

func extractIssues(verr *jsonschema.ValidationError) []Issue {
	var issues []Issue
	if verr.Message != "" {
		issues = append(issues, Issue{Path: verr.InstanceLocation, Message: verr.Message})
	}
	for _, cause := range verr.Causes {
		issues = append(issues, extractIssues(cause)...)
	}
	return issues
}

const workflowSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "workflow.json",
  "title": "Workflow Definition",
  "type": "object",
  "required": ["startStepId", "steps"],
  "properties": {
    "id": {"type": "string"},
    "name": {"type": "string"},
    "startStepId": {
      "type": "string",
      "minLength": 1,
      "description": "Id of the step the run begins with"
    },
    "steps": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["id"],
        "properties": {
          "id": {
            "type": "string",
            "pattern": "^[a-zA-Z][a-zA-Z0-9_.-]*$",
            "description": "Step identifier, unique within the workflow"
          },
          "agentId": {"type": "string"},
          "name": {"type": "string"},
          "kind": {"type": "string", "enum": ["agent", "tool"]},
          "params": {"type": "object"},
          "retryLimit": {"type": "integer", "minimum": 0, "maximum": 10},
          "next": {
            "type": "array",
            "items": {
              "type": "object",
              "required": ["targetStepId"],
              "properties": {
                "targetStepId": {"type": "string", "minLength": 1},
                "condition": {"type": ["string", "null"]}
              }
            }
          }
        }
      }
    }
  }
}`
