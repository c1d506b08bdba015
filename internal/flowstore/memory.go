package flowstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/botsmith-ai/workflow-engine/pkg/types"
)

// MemoryStore is an in-memory Store for development and testing.
type MemoryStore struct {
	mu    sync.RWMutex
	flows map[string]*SavedWorkflow
}

// NewMemoryStore creates an empty in-memory Store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{flows: make(map[string]*SavedWorkflow)}
}

func (s *MemoryStore) Save(ctx context.Context, def *types.WorkflowDefinition, createdBy string) (*SavedWorkflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	saved := &SavedWorkflow{
		Definition: def,
		CreatedBy:  createdBy,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if prev, ok := s.flows[def.ID]; ok {
		saved.CreatedAt = prev.CreatedAt
		saved.CreatedBy = prev.CreatedBy
	}
	s.flows[def.ID] = saved
	return saved, nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*SavedWorkflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	saved, ok := s.flows[id]
	if !ok {
		return nil, ErrWorkflowNotFound
	}
	return saved, nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.flows[id]; !ok {
		return ErrWorkflowNotFound
	}
	delete(s.flows, id)
	return nil
}

func (s *MemoryStore) List(ctx context.Context, opts *ListOptions) ([]*SavedWorkflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if opts == nil {
		opts = &ListOptions{}
	}

	all := make([]*SavedWorkflow, 0, len(s.flows))
	for _, saved := range s.flows {
		if opts.CreatedBy != "" && saved.CreatedBy != opts.CreatedBy {
			continue
		}
		all = append(all, saved)
	}

	sort.Slice(all, func(i, j int) bool {
		return all[i].Definition.ID < all[j].Definition.ID
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(all) {
			return []*SavedWorkflow{}, nil
		}
		all = all[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(all) {
		all = all[:opts.Limit]
	}
	return all, nil
}

func (s *MemoryStore) Close() error { return nil }

// Verify interface compliance
var _ Store = (*MemoryStore)(nil)
