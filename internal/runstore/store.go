// Package runstore provides run snapshot persistence and event streaming.
package runstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/botsmith-ai/workflow-engine/pkg/types"
)

// Common errors returned by RunStore implementations.
var (
	ErrRunNotFound = errors.New("run not found")
)

// PersistenceError wraps a storage failure. The coordinator retries a
// failed save once and otherwise keeps executing: a lost snapshot never
// corrupts in-memory run state, it only delays visibility to pollers.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("runstore %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// RunStore defines the persistence contract the coordinator depends on.
// Saves are whole-run snapshots; reads serve client polling. Implementations
// must be safe for concurrent use.
type RunStore interface {
	// CreateRun stores the initial snapshot for a new run.
	CreateRun(ctx context.Context, run *types.Run) error

	// SaveSnapshot replaces the stored snapshot for the run.
	SaveSnapshot(ctx context.Context, run *types.Run) error

	// GetRun returns the latest snapshot. Returns ErrRunNotFound if absent.
	GetRun(ctx context.Context, runID string) (*types.Run, error)

	// ListRuns returns all known run ids.
	ListRuns(ctx context.Context) ([]string, error)

	// MarkCancelled records a cancellation request. The coordinator
	// observes it at the next tier boundary.
	MarkCancelled(ctx context.Context, runID string) error

	// IsCancelled reports whether cancellation was requested.
	IsCancelled(ctx context.Context, runID string) (bool, error)

	// AppendEvent adds an event to the run's stream and returns it.
	AppendEvent(ctx context.Context, runID string, input *types.EventInput) (*types.Event, error)

	// GetEventsSince returns events after the given event ID (exclusive).
	// An empty lastEventID returns the stream from the beginning.
	GetEventsSince(ctx context.Context, runID string, lastEventID string) ([]*types.Event, error)

	// Subscribe returns a channel receiving new events for the run. The
	// cleanup function must be called to release resources.
	Subscribe(ctx context.Context, runID string) (<-chan *types.Event, func(), error)

	// AdapterInfo reports diagnostics about the backing store.
	AdapterInfo(ctx context.Context) (map[string]interface{}, error)

	// Close releases resources.
	Close() error
}

// Config holds configuration shared by RunStore implementations.
type Config struct {
	// EventMaxLen bounds the per-run event stream (ring buffer).
	EventMaxLen int64

	// TTLSeconds expires finished runs (0 = keep forever).
	TTLSeconds int64
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		EventMaxLen: 5000,
		TTLSeconds:  7 * 24 * 60 * 60,
	}
}
