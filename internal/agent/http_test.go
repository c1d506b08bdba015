package agent

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPInvoker_Invoke(t *testing.T) {
	var gotPath string
	var gotBody map[string]interface{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{"label": "positive", "score": 0.9})
	}))
	defer srv.Close()

	inv := NewHTTPInvoker(&HTTPConfig{BaseURL: srv.URL})

	out, err := inv.Invoke(context.Background(), "nlp.sentiment", map[string]interface{}{"text": "great"})
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}

	// The last dot segment of the agent id is the route.
	if gotPath != "/sentiment" {
		t.Errorf("path = %s, want /sentiment", gotPath)
	}
	if gotBody["text"] != "great" {
		t.Errorf("params not posted: %v", gotBody)
	}
	if out["label"] != "positive" {
		t.Errorf("unexpected output: %v", out)
	}
}

func TestHTTPInvoker_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail": "model not loaded"}`, http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	inv := NewHTTPInvoker(&HTTPConfig{BaseURL: srv.URL})

	_, err := inv.Invoke(context.Background(), "nlp.summarize", nil)
	if err == nil {
		t.Fatal("expected error for 5xx response")
	}
	var invErr *InvocationError
	if !errors.As(err, &invErr) {
		t.Fatalf("expected *InvocationError, got %T", err)
	}
	if invErr.AgentID != "nlp.summarize" {
		t.Errorf("agent id = %s, want nlp.summarize", invErr.AgentID)
	}
}

func TestHTTPInvoker_BadResponseBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer srv.Close()

	inv := NewHTTPInvoker(&HTTPConfig{BaseURL: srv.URL})
	if _, err := inv.Invoke(context.Background(), "nlp.ner", nil); err == nil {
		t.Fatal("expected error for non-JSON response")
	}
}

func TestHTTPInvoker_ContextCancelled(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	inv := NewHTTPInvoker(&HTTPConfig{BaseURL: srv.URL})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := inv.Invoke(ctx, "nlp.embed", nil); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}

func TestAgentRoute(t *testing.T) {
	tests := []struct {
		id   string
		want string
	}{
		{"nlp.sentiment", "sentiment"},
		{"nlp.v2.summarize", "summarize"},
		{"echo", "echo"},
		{"", ""},
	}
	for _, tc := range tests {
		if got := agentRoute(tc.id); got != tc.want {
			t.Errorf("agentRoute(%q) = %q, want %q", tc.id, got, tc.want)
		}
	}
}

func TestEchoInvoker_Deterministic(t *testing.T) {
	inv := EchoInvoker{}
	params := map[string]interface{}{"text": "hello"}

	first, err := inv.Invoke(context.Background(), "nlp.intent", params)
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	second, _ := inv.Invoke(context.Background(), "nlp.intent", params)

	if first["agentId"] != "nlp.intent" || first["test"] != true {
		t.Errorf("unexpected echo output: %v", first)
	}
	a, _ := json.Marshal(first)
	b, _ := json.Marshal(second)
	if string(a) != string(b) {
		t.Error("echo output should be identical across calls")
	}
}
