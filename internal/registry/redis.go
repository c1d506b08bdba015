package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisRegistry implements Registry backed by a Redis hash.
type RedisRegistry struct {
	client *redis.Client
	key    string
}

// NewRedisRegistry creates a Redis-backed Registry and seeds missing
// builtin agents.
func NewRedisRegistry(client *redis.Client, key string, seed []*Agent) (*RedisRegistry, error) {
	if key == "" {
		key = "wfagents"
	}
	r := &RedisRegistry{client: client, key: key}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, a := range seed {
		ok, err := r.Has(ctx, a.ID)
		if err != nil {
			return nil, err
		}
		if !ok {
			if err := r.Register(ctx, a); err != nil {
				return nil, err
			}
		}
	}
	return r, nil
}

func (r *RedisRegistry) Register(ctx context.Context, agent *Agent) error {
	if agent == nil || agent.ID == "" {
		return errors.New("agent id is required")
	}

	stored := *agent
	stored.UpdatedAt = time.Now().UTC()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = stored.UpdatedAt
	}

	data, err := json.Marshal(&stored)
	if err != nil {
		return fmt.Errorf("marshal agent: %w", err)
	}
	if err := r.client.HSet(ctx, r.key, agent.ID, data).Err(); err != nil {
		return fmt.Errorf("register agent: %w", err)
	}
	return nil
}

func (r *RedisRegistry) Get(ctx context.Context, id string) (*Agent, error) {
	data, err := r.client.HGet(ctx, r.key, id).Bytes()
	if err == redis.Nil {
		return nil, ErrAgentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get agent: %w", err)
	}

	var agent Agent
	if err := json.Unmarshal(data, &agent); err != nil {
		return nil, fmt.Errorf("decode agent: %w", err)
	}
	return &agent, nil
}

func (r *RedisRegistry) Has(ctx context.Context, id string) (bool, error) {
	ok, err := r.client.HExists(ctx, r.key, id).Result()
	if err != nil {
		return false, fmt.Errorf("check agent: %w", err)
	}
	return ok, nil
}

func (r *RedisRegistry) List(ctx context.Context) ([]*Agent, error) {
	entries, err := r.client.HGetAll(ctx, r.key).Result()
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}

	agents := make([]*Agent, 0, len(entries))
	for _, raw := range entries {
		var agent Agent
		if err := json.Unmarshal([]byte(raw), &agent); err != nil {
			continue
		}
		agents = append(agents, &agent)
	}
	sort.Slice(agents, func(i, j int) bool { return agents[i].ID < agents[j].ID })
	return agents, nil
}

func (r *RedisRegistry) Close() error { return nil }

// Verify interface compliance
var _ Registry = (*RedisRegistry)(nil)
