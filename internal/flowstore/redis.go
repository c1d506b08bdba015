package flowstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/botsmith-ai/workflow-engine/pkg/types"
)

// RedisStore implements Store backed by Redis. Definitions are stored as
// JSON values under a shared key prefix with a set index for listing.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a Redis-backed Store using an existing client.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "wfdefs"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(id string) string { return fmt.Sprintf("%s:%s", s.prefix, id) }
func (s *RedisStore) keyIndex() string     { return s.prefix + ":index" }

func (s *RedisStore) Save(ctx context.Context, def *types.WorkflowDefinition, createdBy string) (*SavedWorkflow, error) {
	now := time.Now().UTC()
	saved := &SavedWorkflow{
		Definition: def,
		CreatedBy:  createdBy,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if prev, err := s.Get(ctx, def.ID); err == nil {
		saved.CreatedAt = prev.CreatedAt
		saved.CreatedBy = prev.CreatedBy
	}

	data, err := json.Marshal(saved)
	if err != nil {
		return nil, fmt.Errorf("marshal workflow: %w", err)
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.key(def.ID), data, 0)
	pipe.SAdd(ctx, s.keyIndex(), def.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("save workflow: %w", err)
	}
	return saved, nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*SavedWorkflow, error) {
	data, err := s.client.Get(ctx, s.key(id)).Bytes()
	if err == redis.Nil {
		return nil, ErrWorkflowNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get workflow: %w", err)
	}

	var saved SavedWorkflow
	if err := json.Unmarshal(data, &saved); err != nil {
		return nil, fmt.Errorf("decode workflow: %w", err)
	}
	return &saved, nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	removed, err := s.client.Del(ctx, s.key(id)).Result()
	if err != nil {
		return fmt.Errorf("delete workflow: %w", err)
	}
	s.client.SRem(ctx, s.keyIndex(), id)
	if removed == 0 {
		return ErrWorkflowNotFound
	}
	return nil
}

func (s *RedisStore) List(ctx context.Context, opts *ListOptions) ([]*SavedWorkflow, error) {
	if opts == nil {
		opts = &ListOptions{}
	}

	ids, err := s.client.SMembers(ctx, s.keyIndex()).Result()
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	sort.Strings(ids)

	all := make([]*SavedWorkflow, 0, len(ids))
	for _, id := range ids {
		saved, err := s.Get(ctx, id)
		if err != nil {
			continue
		}
		if opts.CreatedBy != "" && saved.CreatedBy != opts.CreatedBy {
			continue
		}
		all = append(all, saved)
	}

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

func (s *RedisStore) Close() error { return nil }

// Verify interface compliance
var _ Store = (*RedisStore)(nil)
