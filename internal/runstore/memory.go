package runstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/botsmith-ai/workflow-engine/pkg/types"
)

// memoryRun holds all state for a single run in memory.
type memoryRun struct {
	mu          sync.RWMutex
	snapshot    *types.Run
	cancelled   bool
	events      []*types.Event
	nextSeq     int64
	maxEvents   int64
	subscribers map[chan *types.Event]struct{}
}

// MemoryStore is an in-memory RunStore. Suitable for development and
// testing; data is lost on restart.
type MemoryStore struct {
	mu     sync.RWMutex
	runs   map[string]*memoryRun
	config *Config
}

// NewMemoryStore creates a new in-memory RunStore.
func NewMemoryStore(cfg *Config) *MemoryStore {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &MemoryStore{
		runs:   make(map[string]*memoryRun),
		config: cfg,
	}
}

func (s *MemoryStore) CreateRun(ctx context.Context, run *types.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[run.RunID]; exists {
		return fmt.Errorf("run %s already exists", run.RunID)
	}

	s.runs[run.RunID] = &memoryRun{
		snapshot:    run.Clone(),
		events:      make([]*types.Event, 0),
		nextSeq:     1,
		maxEvents:   s.config.EventMaxLen,
		subscribers: make(map[chan *types.Event]struct{}),
	}
	return nil
}

func (s *MemoryStore) SaveSnapshot(ctx context.Context, run *types.Run) error {
	s.mu.RLock()
	mr, ok := s.runs[run.RunID]
	s.mu.RUnlock()
	if !ok {
		return ErrRunNotFound
	}

	mr.mu.Lock()
	mr.snapshot = run.Clone()
	mr.mu.Unlock()
	return nil
}

func (s *MemoryStore) GetRun(ctx context.Context, runID string) (*types.Run, error) {
	s.mu.RLock()
	mr, ok := s.runs[runID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrRunNotFound
	}

	mr.mu.RLock()
	defer mr.mu.RUnlock()
	return mr.snapshot.Clone(), nil
}

func (s *MemoryStore) ListRuns(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.runs))
	for id := range s.runs {
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *MemoryStore) MarkCancelled(ctx context.Context, runID string) error {
	s.mu.RLock()
	mr, ok := s.runs[runID]
	s.mu.RUnlock()
	if !ok {
		return ErrRunNotFound
	}

	mr.mu.Lock()
	mr.cancelled = true
	mr.mu.Unlock()
	return nil
}

func (s *MemoryStore) IsCancelled(ctx context.Context, runID string) (bool, error) {
	s.mu.RLock()
	mr, ok := s.runs[runID]
	s.mu.RUnlock()
	if !ok {
		return false, ErrRunNotFound
	}

	mr.mu.RLock()
	defer mr.mu.RUnlock()
	return mr.cancelled, nil
}

func (s *MemoryStore) AppendEvent(ctx context.Context, runID string, input *types.EventInput) (*types.Event, error) {
	s.mu.RLock()
	mr, ok := s.runs[runID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrRunNotFound
	}

	mr.mu.Lock()

	eventID := fmt.Sprintf("%d", mr.nextSeq)
	mr.nextSeq++

	dataJSON, err := json.Marshal(input.Data)
	if err != nil {
		mr.mu.Unlock()
		return nil, fmt.Errorf("marshal event data: %w", err)
	}

	event := &types.Event{
		ID:        eventID,
		RunID:     runID,
		Type:      input.Type,
		StepID:    input.StepID,
		Timestamp: time.Now().UTC(),
		Data:      dataJSON,
	}

	// Ring buffer
	if mr.maxEvents > 0 && int64(len(mr.events)) >= mr.maxEvents {
		mr.events = mr.events[1:]
	}
	mr.events = append(mr.events, event)

	subs := make([]chan *types.Event, 0, len(mr.subscribers))
	for ch := range mr.subscribers {
		subs = append(subs, ch)
	}
	mr.mu.Unlock()

	// Notify subscribers without blocking the writer.
	for _, ch := range subs {
		select {
		case ch <- event:
		default:
		}
	}

	return event, nil
}

func (s *MemoryStore) GetEventsSince(ctx context.Context, runID string, lastEventID string) ([]*types.Event, error) {
	s.mu.RLock()
	mr, ok := s.runs[runID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrRunNotFound
	}

	mr.mu.RLock()
	defer mr.mu.RUnlock()

	if lastEventID == "" {
		result := make([]*types.Event, len(mr.events))
		copy(result, mr.events)
		return result, nil
	}

	var result []*types.Event
	found := false
	for _, evt := range mr.events {
		if found {
			result = append(result, evt)
		}
		if evt.ID == lastEventID {
			found = true
		}
	}
	return result, nil
}

func (s *MemoryStore) Subscribe(ctx context.Context, runID string) (<-chan *types.Event, func(), error) {
	s.mu.RLock()
	mr, ok := s.runs[runID]
	s.mu.RUnlock()
	if !ok {
		return nil, nil, ErrRunNotFound
	}

	ch := make(chan *types.Event, 100)
	mr.mu.Lock()
	mr.subscribers[ch] = struct{}{}
	mr.mu.Unlock()

	cleanup := func() {
		mr.mu.Lock()
		delete(mr.subscribers, ch)
		mr.mu.Unlock()
	}
	return ch, cleanup, nil
}

func (s *MemoryStore) AdapterInfo(ctx context.Context) (map[string]interface{}, error) {
	s.mu.RLock()
	runCount := len(s.runs)
	s.mu.RUnlock()

	return map[string]interface{}{
		"adapter":    "memory",
		"run_count":  runCount,
		"max_events": s.config.EventMaxLen,
	}, nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, mr := range s.runs {
		mr.mu.Lock()
		for ch := range mr.subscribers {
			close(ch)
		}
		mr.subscribers = make(map[chan *types.Event]struct{})
		mr.mu.Unlock()
	}
	return nil
}

// Verify interface compliance
var _ RunStore = (*MemoryStore)(nil)
