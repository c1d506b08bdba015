package runstore

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/botsmith-ai/workflow-engine/pkg/types"
)

func testRun(id string) *types.Run {
	return &types.Run{
		RunID:       id,
		WorkflowID:  "wf-1",
		Status:      types.RunStatusPending,
		StepOutputs: make(map[string]map[string]interface{}),
		StepLogs:    []types.StepLog{},
		CreatedAt:   time.Now().UTC(),
	}
}

func TestMemoryStore_SnapshotLifecycle(t *testing.T) {
	store := NewMemoryStore(nil)
	ctx := context.Background()

	run := testRun("run-1")
	if err := store.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}
	if err := store.CreateRun(ctx, run); err == nil {
		t.Error("duplicate CreateRun should fail")
	}

	run.Status = types.RunStatusRunning
	run.StepLogs = append(run.StepLogs, types.StepLog{StepID: "a", Status: types.StepStatusSuccess})
	if err := store.SaveSnapshot(ctx, run); err != nil {
		t.Fatalf("SaveSnapshot failed: %v", err)
	}

	got, err := store.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if got.Status != types.RunStatusRunning {
		t.Errorf("status = %s, want running", got.Status)
	}
	if len(got.StepLogs) != 1 || got.StepLogs[0].StepID != "a" {
		t.Errorf("unexpected step logs: %v", got.StepLogs)
	}

	// Snapshots are isolated copies.
	got.Status = types.RunStatusFail
	again, _ := store.GetRun(ctx, "run-1")
	if again.Status != types.RunStatusRunning {
		t.Error("mutating a returned snapshot must not affect the store")
	}

	if _, err := store.GetRun(ctx, "nope"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("expected ErrRunNotFound, got %v", err)
	}
}

func TestMemoryStore_ListRuns(t *testing.T) {
	store := NewMemoryStore(nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := store.CreateRun(ctx, testRun(fmt.Sprintf("run-%d", i))); err != nil {
			t.Fatalf("CreateRun failed: %v", err)
		}
	}

	ids, err := store.ListRuns(ctx)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(ids) != 3 {
		t.Errorf("expected 3 runs, got %d", len(ids))
	}
}

func TestMemoryStore_Cancellation(t *testing.T) {
	store := NewMemoryStore(nil)
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

func TestMemoryStore_Events(t *testing.T) {
	store := NewMemoryStore(nil)
	ctx := context.Background()

	if err := store.CreateRun(ctx, testRun("run-1")); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}

	for i := 0; i < 5; i++ {
		evt, err := store.AppendEvent(ctx, "run-1", &types.EventInput{
			Type: types.EventTypeLog,
			Data: map[string]interface{}{"n": i},
		})
		if err != nil {
			t.Fatalf("AppendEvent failed: %v", err)
		}
		if evt.ID == "" {
			t.Fatal("appended event should have an id")
		}
	}

	all, err := store.GetEventsSince(ctx, "run-1", "")
	if err != nil {
		t.Fatalf("GetEventsSince failed: %v", err)
	}
	if len(all) != 5 {
		t.Fatalf("expected 5 events, got %d", len(all))
	}

	// Resume after the third event.
	tail, err := store.GetEventsSince(ctx, "run-1", all[2].ID)
	if err != nil {
		t.Fatalf("GetEventsSince failed: %v", err)
	}
	if len(tail) != 2 {
		t.Errorf("expected 2 events after %s, got %d", all[2].ID, len(tail))
	}
}

func TestMemoryStore_EventRingBuffer(t *testing.T) {
	store := NewMemoryStore(&Config{EventMaxLen: 3})
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
		t.Fatalf("ring buffer should hold 3 events, got %d", len(events))
	}
	// The newest events survive.
	if events[len(events)-1].ID != "10" {
		t.Errorf("last event id = %s, want 10", events[len(events)-1].ID)
	}
}

func TestMemoryStore_Subscribe(t *testing.T) {
	store := NewMemoryStore(nil)
	ctx := context.Background()

	if err := store.CreateRun(ctx, testRun("run-1")); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}

	ch, cleanup, err := store.Subscribe(ctx, "run-1")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer cleanup()

	if _, err := store.AppendEvent(ctx, "run-1", &types.EventInput{Type: types.EventTypeRunStatus}); err != nil {
		t.Fatalf("AppendEvent failed: %v", err)
	}

	select {
	case evt := <-ch:
		if evt.Type != types.EventTypeRunStatus {
			t.Errorf("event type = %s, want run_status", evt.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive the event")
	}

	// After cleanup the writer no longer sees the subscriber.
	cleanup()
	if _, err := store.AppendEvent(ctx, "run-1", &types.EventInput{Type: types.EventTypeLog}); err != nil {
		t.Fatalf("AppendEvent after cleanup failed: %v", err)
	}
}

func TestMemoryStore_AdapterInfo(t *testing.T) {
	store := NewMemoryStore(nil)
	info, err := store.AdapterInfo(context.Background())
	if err != nil {
		t.Fatalf("AdapterInfo failed: %v", err)
	}
	if info["adapter"] != "memory" {
		t.Errorf("adapter = %v, want memory", info["adapter"])
	}
}
