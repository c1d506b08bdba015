package runstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/botsmith-ai/workflow-engine/pkg/types"
)

func newTestRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)

	store, err := NewRedisStore(&RedisConfig{
		URL:         "redis://" + mr.Addr(),
		Prefix:      "test",
		EventMaxLen: 100,
	})
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestRedisStore_SnapshotRoundtrip(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()

	run := testRun("run-1")
	run.StepOutputs["a"] = map[string]interface{}{"score": 7.0}
	if err := store.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}

	run.Status = types.RunStatusSuccess
	finished := time.Now().UTC()
	run.FinishedAt = &finished
	if err := store.SaveSnapshot(ctx, run); err != nil {
		t.Fatalf("SaveSnapshot failed: %v", err)
	}

	got, err := store.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if got.Status != types.RunStatusSuccess {
		t.Errorf("status = %s, want success", got.Status)
	}
	if got.StepOutputs["a"]["score"] != 7.0 {
		t.Errorf("step outputs lost in roundtrip: %v", got.StepOutputs)
	}

	if _, err := store.GetRun(ctx, "missing"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("expected ErrRunNotFound, got %v", err)
	}

	ids, err := store.ListRuns(ctx)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(ids) != 1 || ids[0] != "run-1" {
		t.Errorf("unexpected run index: %v", ids)
	}
}

func TestRedisStore_Cancellation(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()

	if err := store.CreateRun(ctx, testRun("run-1")); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}

	cancelled, err := store.IsCancelled(ctx, "run-1")
	if err != nil {
		t.Fatalf("IsCancelled failed: %v", err)
	}
	if cancelled {
		t.Error("fresh run should not be cancelled")
	}

	if err := store.MarkCancelled(ctx, "run-1"); err != nil {
		t.Fatalf("MarkCancelled failed: %v", err)
	}
	cancelled, _ = store.IsCancelled(ctx, "run-1")
	if !cancelled {
		t.Error("run should be cancelled after MarkCancelled")
	}

	if err := store.MarkCancelled(ctx, "ghost"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("expected ErrRunNotFound, got %v", err)
	}
}

func TestRedisStore_Events(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()

	if err := store.CreateRun(ctx, testRun("run-1")); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}

	for i := 0; i < 4; i++ {
		if _, err := store.AppendEvent(ctx, "run-1", &types.EventInput{
			Type: types.EventTypeLog,
			Data: map[string]interface{}{"n": i},
		}); err != nil {
			t.Fatalf("AppendEvent failed: %v", err)
		}
	}

	all, err := store.GetEventsSince(ctx, "run-1", "")
	if err != nil {
		t.Fatalf("GetEventsSince failed: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("expected 4 events, got %d", len(all))
	}

	tail, err := store.GetEventsSince(ctx, "run-1", "2")
	if err != nil {
		t.Fatalf("GetEventsSince failed: %v", err)
	}
	if len(tail) != 2 {
		t.Errorf("expected 2 events after id 2, got %d", len(tail))
	}
	if tail[0].ID != "3" {
		t.Errorf("first resumed event id = %s, want 3", tail[0].ID)
	}
}

func TestRedisStore_EventTrim(t *testing.T) {
	mr := miniredis.RunT(t)
	store, err := NewRedisStore(&RedisConfig{
		URL:         "redis://" + mr.Addr(),
		Prefix:      "trim",
		EventMaxLen: 3,
	})
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}
	defer store.Close()
	ctx := context.Background()

	if err := store.CreateRun(ctx, testRun("run-1")); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}
	for i := 0; i < 10; i++ {
		if _, err := store.AppendEvent(ctx, "run-1", &types.EventInput{Type: types.EventTypeLog}); err != nil {
			t.Fatalf("AppendEvent failed: %v", err)
		}
	}

	events, err := store.GetEventsSince(ctx, "run-1", "")
	if err != nil {
		t.Fatalf("GetEventsSince failed: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("event list should be trimmed to 3, got %d", len(events))
	}
	if events[2].ID != "10" {
		t.Errorf("newest event id = %s, want 10", events[2].ID)
	}
}

func TestRedisStore_SubscribeNotFound(t *testing.T) {
	store := newTestRedisStore(t)

	if _, _, err := store.Subscribe(context.Background(), "ghost"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("expected ErrRunNotFound, got %v", err)
	}
}

func TestRedisStore_AdapterInfo(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()

	if err := store.CreateRun(ctx, testRun("run-1")); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}

	info, err := store.AdapterInfo(ctx)
	if err != nil {
		t.Fatalf("AdapterInfo failed: %v", err)
	}
	if info["adapter"] != "redis" {
		t.Errorf("adapter = %v, want redis", info["adapter"])
	}
	if info["run_count"] != int64(1) {
		t.Errorf("run_count = %v, want 1", info["run_count"])
	}
}
