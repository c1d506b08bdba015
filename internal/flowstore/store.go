// Package flowstore provides workflow definition persistence.
package flowstore

import (
	"context"
	"errors"
	"time"

	"github.com/botsmith-ai/workflow-engine/pkg/types"
)

// Common errors returned by Store implementations.
var (
	ErrWorkflowNotFound = errors.New("workflow not found")
	ErrWorkflowExists   = errors.New("workflow already exists")
)

// SavedWorkflow wraps a definition with storage metadata. The definition
// itself stays immutable; saving under an existing id replaces the record.
type SavedWorkflow struct {
	Definition *types.WorkflowDefinition `json:"definition"`
	CreatedBy  string                    `json:"created_by,omitempty"`
	CreatedAt  time.Time                 `json:"created_at"`
	UpdatedAt  time.Time                 `json:"updated_at"`
}

// ListOptions configures list queries.
type ListOptions struct {
	Limit     int
	Offset    int
	CreatedBy string
}

// Store defines the interface for workflow definition persistence.
// Implementations must be safe for concurrent use.
type Store interface {
	// Save stores or replaces a definition keyed by its id.
	Save(ctx context.Context, def *types.WorkflowDefinition, createdBy string) (*SavedWorkflow, error)

	// Get retrieves a definition. Returns ErrWorkflowNotFound if absent.
	Get(ctx context.Context, id string) (*SavedWorkflow, error)

	// Delete removes a definition. Returns ErrWorkflowNotFound if absent.
	Delete(ctx context.Context, id string) error

	// List returns saved workflows matching the options.
	List(ctx context.Context, opts *ListOptions) ([]*SavedWorkflow, error)

	// Close releases resources.
	Close() error
}
