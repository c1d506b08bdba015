package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType categorizes the kind of run event.
type EventType string

const (
	EventTypeHello       EventType = "hello"
	EventTypeRunStatus   EventType = "run_status"
	EventTypeStepStatus  EventType = "step_status"
	EventTypeTierStarted EventType = "tier_started"
	EventTypeWarning     EventType = "warning"
	EventTypeLog         EventType = "log"
	EventTypeStreamEnd   EventType = "stream_end"
)

// Event is a single entry in a run's event stream. Events are append-only
// and ordered by ID within a run.
type Event struct {
	ID        string          `json:"id"`
	RunID     string          `json:"run_id"`
	Type      EventType       `json:"type"`
	StepID    string          `json:"step_id,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// EventInput is used when appending new events.
type EventInput struct {
	Type   EventType   `json:"type"`
	StepID string      `json:"step_id,omitempty"`
	Data   interface{} `json:"data,omitempty"`
}

// ToSSE formats the event for the Server-Sent Events protocol.
func (e *Event) ToSSE() []byte {
	data, _ := json.Marshal(e)
	return []byte(fmt.Sprintf("id: %s\nevent: %s\ndata: %s\n\n", e.ID, e.Type, data))
}
