package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/botsmith-ai/workflow-engine/internal/agent"
	"github.com/botsmith-ai/workflow-engine/pkg/types"
)

// DefaultStepTimeout bounds a single step execution unless the step
// overrides it via params.timeoutMs.
const DefaultStepTimeout = 60 * time.Second

// Executor runs one step. Agent steps go through the external invoker;
// tool steps run a deterministic in-process transform. In test mode agent
// steps are bypassed and echo their params so dry runs are side-effect-free
// and reproducible.
type Executor struct {
	invoker        agent.Invoker
	defaultTimeout time.Duration
}

// NewExecutor creates an executor backed by the given invoker.
func NewExecutor(inv agent.Invoker, defaultTimeout time.Duration) *Executor {
	if defaultTimeout <= 0 {
		defaultTimeout = DefaultStepTimeout
	}
	return &Executor{invoker: inv, defaultTimeout: defaultTimeout}
}

// Execute runs the step and returns its output map.
func (e *Executor) Execute(ctx context.Context, step *types.StepDefinition, testMode bool) (map[string]interface{}, error) {
	timeout := e.stepTimeout(step)
	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	switch step.EffectiveKind() {
	case types.StepKindAgent:
		if testMode {
			return agent.EchoOutput(step.AgentID, step.Params), nil
		}
		out, err := e.invoker.Invoke(stepCtx, step.AgentID, step.Params)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || stepCtx.Err() == context.DeadlineExceeded {
				return nil, &TimeoutError{StepID: step.ID, Limit: timeout}
			}
			return nil, err
		}
		return out, nil

	case types.StepKindTool:
		return runTool(step)

	default:
		// Unreachable for validated workflows.
		return nil, fmt.Errorf("step %s: unknown kind %q", step.ID, step.Kind)
	}
}

// runTool evaluates a deterministic tool step. When params carry an
// "output" object it becomes the step output verbatim; otherwise the
// params themselves are the output.
func runTool(step *types.StepDefinition) (map[string]interface{}, error) {
	if raw, ok := step.Params["output"]; ok {
		out, ok := raw.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("step %s: tool output must be an object, got %T", step.ID, raw)
		}
		return out, nil
	}
	out := make(map[string]interface{}, len(step.Params))
	for k, v := range step.Params {
		out[k] = v
	}
	return out, nil
}

// stepTimeout resolves the per-step deadline, honoring params.timeoutMs.
func (e *Executor) stepTimeout(step *types.StepDefinition) time.Duration {
	raw, ok := step.Params["timeoutMs"]
	if !ok {
		return e.defaultTimeout
	}

	var ms float64
	switch v := raw.(type) {
	case float64:
		ms = v
	case int:
		ms = float64(v)
	case int64:
		ms = float64(v)
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return e.defaultTimeout
		}
		ms = f
	default:
		return e.defaultTimeout
	}

	if ms <= 0 {
		return e.defaultTimeout
	}
	return time.Duration(ms) * time.Millisecond
}
