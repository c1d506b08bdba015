package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPInvoker calls agents exposed by the platform's agent service over
// HTTP. Agent ids map to routes by their final dot-separated segment, e.g.
// "nlp.sentiment" posts to {base}/sentiment.
type HTTPInvoker struct {
	baseURL string
	client  *http.Client
}

// HTTPConfig holds invoker configuration.
type HTTPConfig struct {
	// BaseURL is the agent service root, e.g. "http://nlp:8000".
	BaseURL string

	// RequestTimeout bounds a single HTTP call. The engine applies the
	// per-step timeout on top via context.
	RequestTimeout time.Duration
}

// NewHTTPInvoker creates an invoker for the given agent service.
func NewHTTPInvoker(cfg *HTTPConfig) *HTTPInvoker {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &HTTPInvoker{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// Invoke posts the step params as JSON and decodes the JSON object reply.
func (i *HTTPInvoker) Invoke(ctx context.Context, agentID string, params map[string]interface{}) (map[string]interface{}, error) {
	route := agentRoute(agentID)
	if route == "" {
		return nil, &InvocationError{AgentID: agentID, Err: fmt.Errorf("agent id %q has no route", agentID)}
	}

	body, err := json.Marshal(params)
	if err != nil {
		return nil, &InvocationError{AgentID: agentID, Err: fmt.Errorf("encode params: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, i.baseURL+"/"+route, bytes.NewReader(body))
	if err != nil {
		return nil, &InvocationError{AgentID: agentID, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := i.client.Do(req)
	if err != nil {
		return nil, &InvocationError{AgentID: agentID, Err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, &InvocationError{AgentID: agentID, Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &InvocationError{
			AgentID: agentID,
			Err:     fmt.Errorf("agent service returned %d: %s", resp.StatusCode, truncate(string(payload), 200)),
		}
	}

	var out map[string]interface{}
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, &InvocationError{AgentID: agentID, Err: fmt.Errorf("decode response: %w", err)}
	}

	return out, nil
}

// agentRoute extracts the service route from an agent id.
func agentRoute(agentID string) string {
	if agentID == "" {
		return ""
	}
	if idx := strings.LastIndex(agentID, "."); idx >= 0 {
		return agentID[idx+1:]
	}
	return agentID
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
