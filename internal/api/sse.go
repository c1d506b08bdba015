package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/botsmith-ai/workflow-engine/internal/metrics"
	"github.com/botsmith-ai/workflow-engine/internal/runstore"
	"github.com/botsmith-ai/workflow-engine/pkg/types"
)

const heartbeatInterval = 15 * time.Second

// StreamEvents handles GET /workflows/{runId}/events, a Server-Sent Events
// stream over the run's event log. Polling GET /workflows/{runId}/logs stays
// the primary interface; the stream is an optional push channel on top of it.
// A Last-Event-ID header resumes from a previous position.
func (h *Handlers) StreamEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	runID := mux.Vars(r)["runId"]

	if _, err := h.store.GetRun(ctx, runID); err != nil {
		if errors.Is(err, runstore.ErrRunNotFound) {
			h.respondError(w, http.StatusNotFound, "run not found", err)
		} else {
			h.respondError(w, http.StatusInternalServerError, "failed to get run", err)
		}
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.respondError(w, http.StatusInternalServerError, "streaming not supported", nil)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginx would buffer the stream otherwise
	flusher.Flush()

	opened := time.Now()
	metrics.SSEActiveConnections.Inc()
	defer metrics.SSEActiveConnections.Dec()

	h.logger.Info("event stream opened",
		slog.String("run_id", runID),
		slog.String("request_id", GetRequestID(ctx)),
		slog.String("remote_addr", r.RemoteAddr),
	)

	h.pushEvent(w, flusher, &types.Event{
		ID:        "0",
		RunID:     runID,
		Type:      types.EventTypeHello,
		Timestamp: time.Now().UTC(),
	})

	// Replay anything the client missed since its last position.
	if last := r.Header.Get("Last-Event-ID"); last != "" {
		missed, err := h.store.GetEventsSince(ctx, runID, last)
		if err != nil {
			h.logger.Error("event replay failed", "error", err, "run_id", runID)
		}
		for _, ev := range missed {
			h.pushEvent(w, flusher, ev)
		}
	}

	sub, cleanup, err := h.store.Subscribe(ctx, runID)
	if err != nil {
		h.logger.Error("event subscription failed", "error", err, "run_id", runID)
		return
	}
	defer cleanup()

	keepalive := time.NewTicker(heartbeatInterval)
	defer keepalive.Stop()

	reason := "client_disconnect"
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case ev, open := <-sub:
			if !open {
				// Store closed the subscription: the run reached a terminal state.
				h.pushFinalEvent(ctx, w, flusher, runID)
				reason = "run_completed"
				break loop
			}
			h.pushEvent(w, flusher, ev)
		case <-keepalive.C:
			h.pushComment(w, flusher, "heartbeat")
		}
	}

	elapsed := time.Since(opened)
	metrics.SSEConnectionDuration.Observe(elapsed.Seconds())
	h.logger.Info("event stream closed",
		slog.String("run_id", runID),
		slog.String("request_id", GetRequestID(ctx)),
		slog.Duration("duration", elapsed),
		slog.String("reason", reason),
	)
}

func (h *Handlers) pushEvent(w http.ResponseWriter, flusher http.Flusher, ev *types.Event) {
	if ev == nil {
		return
	}
	if _, err := w.Write(ev.ToSSE()); err != nil {
		h.logger.Error("event write failed", "error", err)
		return
	}
	flusher.Flush()
}

// pushComment emits an SSE comment line, used for heartbeats.
func (h *Handlers) pushComment(w http.ResponseWriter, flusher http.Flusher, text string) {
	if _, err := w.Write([]byte(": " + text + "\n\n")); err != nil {
		h.logger.Error("heartbeat write failed", "error", err)
		return
	}
	flusher.Flush()
}

// pushFinalEvent reports the run's terminal status before the stream ends.
func (h *Handlers) pushFinalEvent(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, runID string) {
	run, err := h.store.GetRun(ctx, runID)
	if err != nil {
		h.logger.Error("terminal status lookup failed", "error", err, "run_id", runID)
		return
	}

	payload := map[string]interface{}{"status": run.Status}
	if run.Error != "" {
		payload["error"] = run.Error
	}
	data, _ := json.Marshal(payload)

	h.pushEvent(w, flusher, &types.Event{
		ID:        "final",
		RunID:     runID,
		Type:      types.EventTypeStreamEnd,
		Timestamp: time.Now().UTC(),
		Data:      data,
	})
}
