package runstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/botsmith-ai/workflow-engine/pkg/types"
)

// RedisStore implements RunStore backed by Redis. Snapshots live in plain
// keys, events in a capped list, and new events are fanned out over pub/sub
// so subscribers work across replicas.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration

	maxEvents int64

	subsMu sync.Mutex
	subs   map[string][]*redisSub
}

type redisSub struct {
	ch     chan *types.Event
	cancel context.CancelFunc
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	// URL is the Redis connection URL (redis://host:port/db).
	URL string

	// Password for Redis authentication.
	Password string

	// DB is the database number.
	DB int

	// Prefix for all keys (default: "wfruns").
	Prefix string

	// TTL for run data (default: 7 days; 0 = no expiry).
	TTL time.Duration

	// EventMaxLen bounds the per-run event list.
	EventMaxLen int64

	// Connection pool settings.
	PoolSize     int
	MinIdleConns int

	// Timeouts.
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultRedisConfig returns sensible defaults.
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		URL:          "redis://localhost:6379/0",
		Prefix:       "wfruns",
		TTL:          7 * 24 * time.Hour,
		EventMaxLen:  5000,
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// NewRedisStore creates a Redis-backed RunStore and verifies connectivity.
func NewRedisStore(cfg *RedisConfig) (*RedisStore, error) {
	if cfg == nil {
		cfg = DefaultRedisConfig()
	}

	opts := &redis.Options{
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		Password:     cfg.Password,
		DB:           cfg.DB,
	}

	if cfg.URL != "" {
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		opts.Addr = parsed.Addr
		if parsed.Password != "" && cfg.Password == "" {
			opts.Password = parsed.Password
		}
		if parsed.DB != 0 && cfg.DB == 0 {
			opts.DB = parsed.DB
		}
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "wfruns"
	}
	maxEvents := cfg.EventMaxLen
	if maxEvents <= 0 {
		maxEvents = 5000
	}

	return &RedisStore{
		client:    client,
		prefix:    prefix,
		ttl:       cfg.TTL,
		maxEvents: maxEvents,
		subs:      make(map[string][]*redisSub),
	}, nil
}

// Client exposes the underlying connection so other stores can share it.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

// Key helpers
func (s *RedisStore) keySnapshot(runID string) string {
	return fmt.Sprintf("%s:%s:snapshot", s.prefix, runID)
}
func (s *RedisStore) keyCancelled(runID string) string {
	return fmt.Sprintf("%s:%s:cancelled", s.prefix, runID)
}
func (s *RedisStore) keyEvents(runID string) string {
	return fmt.Sprintf("%s:%s:events", s.prefix, runID)
}
func (s *RedisStore) keySeq(runID string) string { return fmt.Sprintf("%s:%s:seq", s.prefix, runID) }
func (s *RedisStore) keyIndex() string           { return s.prefix + ":index" }
func (s *RedisStore) channel(runID string) string {
	return fmt.Sprintf("%s:%s:pubsub", s.prefix, runID)
}

func (s *RedisStore) refreshTTL(ctx context.Context, runID string) {
	if s.ttl <= 0 {
		return
	}
	pipe := s.client.Pipeline()
	pipe.Expire(ctx, s.keySnapshot(runID), s.ttl)
	pipe.Expire(ctx, s.keyCancelled(runID), s.ttl)
	pipe.Expire(ctx, s.keyEvents(runID), s.ttl)
	pipe.Expire(ctx, s.keySeq(runID), s.ttl)
	pipe.Exec(ctx)
}

func (s *RedisStore) CreateRun(ctx context.Context, run *types.Run) error {
	data, err := json.Marshal(run)
	if err != nil {
		return &PersistenceError{Op: "create", Err: err}
	}

	pipe := s.client.Pipeline()
	pipe.SetNX(ctx, s.keySnapshot(run.RunID), data, 0)
	pipe.Set(ctx, s.keyCancelled(run.RunID), "0", 0)
	pipe.Set(ctx, s.keySeq(run.RunID), "0", 0)
	pipe.SAdd(ctx, s.keyIndex(), run.RunID)
	if _, err := pipe.Exec(ctx); err != nil {
		return &PersistenceError{Op: "create", Err: err}
	}

	s.refreshTTL(ctx, run.RunID)
	return nil
}

func (s *RedisStore) SaveSnapshot(ctx context.Context, run *types.Run) error {
	data, err := json.Marshal(run)
	if err != nil {
		return &PersistenceError{Op: "save", Err: err}
	}
	if err := s.client.Set(ctx, s.keySnapshot(run.RunID), data, 0).Err(); err != nil {
		return &PersistenceError{Op: "save", Err: err}
	}
	s.refreshTTL(ctx, run.RunID)
	return nil
}

func (s *RedisStore) GetRun(ctx context.Context, runID string) (*types.Run, error) {
	data, err := s.client.Get(ctx, s.keySnapshot(runID)).Bytes()
	if err == redis.Nil {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, &PersistenceError{Op: "get", Err: err}
	}

	var run types.Run
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, &PersistenceError{Op: "get", Err: err}
	}
	return &run, nil
}

func (s *RedisStore) ListRuns(ctx context.Context) ([]string, error) {
	ids, err := s.client.SMembers(ctx, s.keyIndex()).Result()
	if err != nil {
		return nil, &PersistenceError{Op: "list", Err: err}
	}
	return ids, nil
}

func (s *RedisStore) MarkCancelled(ctx context.Context, runID string) error {
	exists, err := s.client.Exists(ctx, s.keySnapshot(runID)).Result()
	if err != nil {
		return &PersistenceError{Op: "cancel", Err: err}
	}
	if exists == 0 {
		return ErrRunNotFound
	}
	if err := s.client.Set(ctx, s.keyCancelled(runID), "1", 0).Err(); err != nil {
		return &PersistenceError{Op: "cancel", Err: err}
	}
	s.refreshTTL(ctx, runID)
	return nil
}

func (s *RedisStore) IsCancelled(ctx context.Context, runID string) (bool, error) {
	val, err := s.client.Get(ctx, s.keyCancelled(runID)).Result()
	if err == redis.Nil {
		return false, ErrRunNotFound
	}
	if err != nil {
		return false, &PersistenceError{Op: "cancelled", Err: err}
	}
	return val == "1", nil
}

func (s *RedisStore) AppendEvent(ctx context.Context, runID string, input *types.EventInput) (*types.Event, error) {
	seq, err := s.client.Incr(ctx, s.keySeq(runID)).Result()
	if err != nil {
		return nil, &PersistenceError{Op: "append_event", Err: err}
	}

	dataJSON, err := json.Marshal(input.Data)
	if err != nil {
		return nil, fmt.Errorf("marshal event data: %w", err)
	}

	event := &types.Event{
		ID:        strconv.FormatInt(seq, 10),
		RunID:     runID,
		Type:      input.Type,
		StepID:    input.StepID,
		Timestamp: time.Now().UTC(),
		Data:      dataJSON,
	}

	encoded, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}

	pipe := s.client.Pipeline()
	pipe.RPush(ctx, s.keyEvents(runID), encoded)
	pipe.LTrim(ctx, s.keyEvents(runID), -s.maxEvents, -1)
	pipe.Publish(ctx, s.channel(runID), encoded)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, &PersistenceError{Op: "append_event", Err: err}
	}

	s.refreshTTL(ctx, runID)
	return event, nil
}

func (s *RedisStore) GetEventsSince(ctx context.Context, runID string, lastEventID string) ([]*types.Event, error) {
	raw, err := s.client.LRange(ctx, s.keyEvents(runID), 0, -1).Result()
	if err != nil {
		return nil, &PersistenceError{Op: "get_events", Err: err}
	}

	var since int64 = -1
	if lastEventID != "" {
		if n, err := strconv.ParseInt(lastEventID, 10, 64); err == nil {
			since = n
		}
	}

	events := make([]*types.Event, 0, len(raw))
	for _, item := range raw {
		var evt types.Event
		if err := json.Unmarshal([]byte(item), &evt); err != nil {
			continue
		}
		if since >= 0 {
			if id, err := strconv.ParseInt(evt.ID, 10, 64); err == nil && id <= since {
				continue
			}
		}
		events = append(events, &evt)
	}
	return events, nil
}

func (s *RedisStore) Subscribe(ctx context.Context, runID string) (<-chan *types.Event, func(), error) {
	exists, err := s.client.Exists(ctx, s.keySnapshot(runID)).Result()
	if err != nil {
		return nil, nil, &PersistenceError{Op: "subscribe", Err: err}
	}
	if exists == 0 {
		return nil, nil, ErrRunNotFound
	}

	subCtx, cancel := context.WithCancel(context.Background())
	pubsub := s.client.Subscribe(subCtx, s.channel(runID))
	ch := make(chan *types.Event, 100)

	sub := &redisSub{ch: ch, cancel: cancel}
	s.subsMu.Lock()
	s.subs[runID] = append(s.subs[runID], sub)
	s.subsMu.Unlock()

	go func() {
		defer close(ch)
		msgCh := pubsub.Channel()
		for {
			select {
			case <-subCtx.Done():
				pubsub.Close()
				return
			case msg, ok := <-msgCh:
				if !ok {
					return
				}
				var evt types.Event
				if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
					continue
				}
				select {
				case ch <- &evt:
				default:
					// Subscriber too slow, drop.
				}
			}
		}
	}()

	cleanup := func() {
		cancel()
		s.subsMu.Lock()
		subs := s.subs[runID]
		for i, candidate := range subs {
			if candidate == sub {
				s.subs[runID] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		s.subsMu.Unlock()
	}

	return ch, cleanup, nil
}

func (s *RedisStore) AdapterInfo(ctx context.Context) (map[string]interface{}, error) {
	count, err := s.client.SCard(ctx, s.keyIndex()).Result()
	if err != nil {
		return nil, &PersistenceError{Op: "info", Err: err}
	}
	return map[string]interface{}{
		"adapter":    "redis",
		"run_count":  count,
		"ttl":        s.ttl.String(),
		"max_events": s.maxEvents,
	}, nil
}

func (s *RedisStore) Close() error {
	s.subsMu.Lock()
	for _, subs := range s.subs {
		for _, sub := range subs {
			sub.cancel()
		}
	}
	s.subs = make(map[string][]*redisSub)
	s.subsMu.Unlock()
	return s.client.Close()
}

// Verify interface compliance
var _ RunStore = (*RedisStore)(nil)
