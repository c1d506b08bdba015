package types

import (
	"time"
)

// RunStatus represents the lifecycle state of a workflow run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusSuccess   RunStatus = "success"
	RunStatusFail      RunStatus = "fail"
	RunStatusCancelled RunStatus = "cancelled"
)

// Terminal reports whether the status is final.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusSuccess, RunStatusFail, RunStatusCancelled:
		return true
	default:
		return false
	}
}

// StepStatus represents the lifecycle state of a step within a run.
type StepStatus string

const (
	StepStatusPending StepStatus = "pending"
	StepStatusRunning StepStatus = "running"
	StepStatusSuccess StepStatus = "success"
	StepStatusFail    StepStatus = "fail"
)

// Run holds the full state of one workflow execution. It has exactly one
// writer (the coordinator) until finalization, after which it is read-only
// and served to pollers from the run store.
type Run struct {
	RunID       string                            `json:"runId"`
	WorkflowID  string                            `json:"workflowId"`
	UserID      string                            `json:"userId,omitempty"`
	Status      RunStatus                         `json:"status"`
	StepOutputs map[string]map[string]interface{} `json:"stepOutputs,omitempty"`
	StepLogs    []StepLog                         `json:"stepLogs"`
	Warnings    []string                          `json:"warnings,omitempty"`
	Error       string                            `json:"error,omitempty"`
	TestMode    bool                              `json:"testMode,omitempty"`
	CreatedAt   time.Time                         `json:"createdAt"`
	StartedAt   *time.Time                        `json:"startedAt,omitempty"`
	FinishedAt  *time.Time                        `json:"finishedAt,omitempty"`
}

// StepLog is the append-only audit record for one executed step. Entries are
// never rewritten after the run is finalized.
type StepLog struct {
	StepID      string                 `json:"stepId"`
	AgentID     string                 `json:"agentId,omitempty"`
	Name        string                 `json:"name,omitempty"`
	Status      StepStatus             `json:"status"`
	Output      map[string]interface{} `json:"output,omitempty"`
	Error       string                 `json:"error,omitempty"`
	RetriesUsed int                    `json:"retriesUsed"`
	StartedAt   *time.Time             `json:"startedAt,omitempty"`
	FinishedAt  *time.Time             `json:"finishedAt,omitempty"`
}

// Clone returns a copy of the run suitable for snapshotting. Slices are
// copied; per-step output maps are shared since they are never mutated
// after the merge barrier.
func (r *Run) Clone() *Run {
	c := *r
	c.StepLogs = make([]StepLog, len(r.StepLogs))
	copy(c.StepLogs, r.StepLogs)
	if r.Warnings != nil {
		c.Warnings = make([]string, len(r.Warnings))
		copy(c.Warnings, r.Warnings)
	}
	if r.StepOutputs != nil {
		c.StepOutputs = make(map[string]map[string]interface{}, len(r.StepOutputs))
		for k, v := range r.StepOutputs {
			c.StepOutputs[k] = v
		}
	}
	return &c
}
