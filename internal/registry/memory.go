package registry

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// MemoryRegistry is an in-memory Registry.
type MemoryRegistry struct {
	mu     sync.RWMutex
	agents map[string]*Agent
}

// NewMemoryRegistry creates a registry seeded with the given agents.
func NewMemoryRegistry(seed []*Agent) *MemoryRegistry {
	r := &MemoryRegistry{agents: make(map[string]*Agent, len(seed))}
	for _, a := range seed {
		r.agents[a.ID] = a
	}
	return r
}

func (r *MemoryRegistry) Register(ctx context.Context, agent *Agent) error {
	if agent == nil || agent.ID == "" {
		return errors.New("agent id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	stored := *agent
	stored.UpdatedAt = now
	if prev, ok := r.agents[agent.ID]; ok {
		stored.CreatedAt = prev.CreatedAt
	} else if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	r.agents[agent.ID] = &stored
	return nil
}

func (r *MemoryRegistry) Get(ctx context.Context, id string) (*Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	agent, ok := r.agents[id]
	if !ok {
		return nil, ErrAgentNotFound
	}
	return agent, nil
}

func (r *MemoryRegistry) Has(ctx context.Context, id string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.agents[id]
	return ok, nil
}

func (r *MemoryRegistry) List(ctx context.Context) ([]*Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	agents := make([]*Agent, 0, len(r.agents))
	for _, a := range r.agents {
		agents = append(agents, a)
	}
	sort.Slice(agents, func(i, j int) bool { return agents[i].ID < agents[j].ID })
	return agents, nil
}

func (r *MemoryRegistry) Close() error { return nil }

// Verify interface compliance
var _ Registry = (*MemoryRegistry)(nil)
