// Package agent provides the invoker boundary between the workflow engine
// and the services that actually perform agent calls.
package agent

import (
	"context"
	"fmt"
)

// Invoker performs one agent call. The concrete LLM/tool invocation lives
// behind this boundary; the engine only depends on the contract.
// Implementations must be safe for concurrent use.
type Invoker interface {
	Invoke(ctx context.Context, agentID string, params map[string]interface{}) (map[string]interface{}, error)
}

// InvocationError wraps a failed agent call. It is subject to the step's
// retry policy.
type InvocationError struct {
	AgentID string
	Err     error
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("invoke agent %s: %v", e.AgentID, e.Err)
}

func (e *InvocationError) Unwrap() error { return e.Err }

// EchoInvoker returns its input unchanged. Used as a stand-in invoker in
// development and as the deterministic backend for dry runs.
type EchoInvoker struct{}

// Invoke fabricates a reproducible output from the call parameters.
func (EchoInvoker) Invoke(_ context.Context, agentID string, params map[string]interface{}) (map[string]interface{}, error) {
	return EchoOutput(agentID, params), nil
}

// EchoOutput builds the deterministic echo payload shared by EchoInvoker
// and the executor's test mode. It contains no timestamps or random data,
// so identical inputs always produce identical outputs.
func EchoOutput(agentID string, params map[string]interface{}) map[string]interface{} {
	echo := make(map[string]interface{}, len(params))
	for k, v := range params {
		echo[k] = v
	}
	return map[string]interface{}{
		"agentId": agentID,
		"echo":    echo,
		"test":    true,
	}
}
