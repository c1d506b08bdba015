package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/botsmith-ai/workflow-engine/internal/condition"
	"github.com/botsmith-ai/workflow-engine/internal/config"
	"github.com/botsmith-ai/workflow-engine/internal/engine"
	"github.com/botsmith-ai/workflow-engine/internal/flowstore"
	"github.com/botsmith-ai/workflow-engine/internal/registry"
	"github.com/botsmith-ai/workflow-engine/internal/runstore"
	"github.com/botsmith-ai/workflow-engine/internal/validator"
	"github.com/botsmith-ai/workflow-engine/pkg/types"
)

// echoInvoker backs the test server; agent steps succeed with a fixed
// payload merged from params.
type echoTestInvoker struct{}

func (echoTestInvoker) Invoke(_ context.Context, agentID string, params map[string]interface{}) (map[string]interface{}, error) {
	out := map[string]interface{}{"agentId": agentID}
	for k, v := range params {
		out[k] = v
	}
	return out, nil
}

func newTestServer(t *testing.T) (*httptest.Server, *Handlers) {
	t.Helper()

	store := runstore.NewMemoryStore(nil)
	flows := flowstore.NewMemoryStore()
	agents := registry.NewMemoryRegistry(registry.Builtin())

	cond := condition.New()
	v, err := validator.New(cond)
	if err != nil {
		t.Fatalf("failed to create validator: %v", err)
	}

	exec := engine.NewExecutor(echoTestInvoker{}, time.Second)
	coord := engine.New(store, exec, cond, &engine.Config{
		StepBudget: 100,
		Retry:      engine.RetryPolicy{Base: time.Millisecond, Max: 4 * time.Millisecond},
	}, nil)

	cfg := &config.Config{CORSOrigins: []string{"*"}}
	h := NewHandlers(store, flows, agents, coord, v, cfg, nil)
	server := NewServer(h)
	srv := httptest.NewServer(server.Router())
	t.Cleanup(srv.Close)
	t.Cleanup(server.Close)
	return srv, h
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s failed: %v", url, err)
	}
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response, out interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func sampleConfig() map[string]interface{} {
	return map[string]interface{}{
		"id":          "wf-sample",
		"startStepId": "a",
		"steps": []map[string]interface{}{
			{"id": "a", "agentId": "nlp.sentiment", "params": map[string]interface{}{"text": "hi"},
				"next": []map[string]interface{}{{"targetStepId": "b"}}},
			{"id": "b", "agentId": "nlp.summarize"},
		},
	}
}

func TestExecuteWorkflow_TestMode(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/workflow/execute", map[string]interface{}{
		"workflowConfig": sampleConfig(),
		"userId":         "user-1",
		"testMode":       true,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var out ExecuteResponse
	decodeJSON(t, resp, &out)

	// Test mode completes in the request and returns the full log.
	if out.Status != types.RunStatusSuccess {
		t.Fatalf("run status = %s, want success", out.Status)
	}
	if out.RunID == "" {
		t.Error("response should carry a run id")
	}
	if len(out.Logs) != 2 {
		t.Fatalf("expected 2 step logs, got %d", len(out.Logs))
	}
	for _, log := range out.Logs {
		if log.Output["test"] != true {
			t.Errorf("step %s should carry the echo marker, got %v", log.StepID, log.Output)
		}
	}
}

func TestExecuteWorkflow_AsyncAndPoll(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/workflow/execute", map[string]interface{}{
		"workflowConfig": sampleConfig(),
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var started ExecuteResponse
	decodeJSON(t, resp, &started)
	if started.Status != types.RunStatusRunning {
		t.Fatalf("initial status = %s, want running", started.Status)
	}

	// Poll the log endpoint until the run completes.
	deadline := time.Now().Add(5 * time.Second)
	var logs RunLogsResponse
	for {
		getResp, err := http.Get(srv.URL + "/workflows/" + started.RunID + "/logs")
		if err != nil {
			t.Fatalf("GET logs failed: %v", err)
		}
		if getResp.StatusCode != http.StatusOK {
			t.Fatalf("logs status = %d, want 200", getResp.StatusCode)
		}
		decodeJSON(t, getResp, &logs)
		if logs.Status.Terminal() {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("run did not finish, last status %s", logs.Status)
		}
		time.Sleep(10 * time.Millisecond)
	}

	if logs.Status != types.RunStatusSuccess {
		t.Fatalf("final status = %s, want success (error: %s)", logs.Status, logs.Error)
	}
	if len(logs.Steps) != 2 {
		t.Errorf("expected 2 step logs, got %d", len(logs.Steps))
	}
}

func TestExecuteWorkflow_ValidationFailure(t *testing.T) {
	srv, _ := newTestServer(t)

	bad := sampleConfig()
	bad["startStepId"] = "ghost"

	resp := postJSON(t, srv.URL+"/workflow/execute", map[string]interface{}{
		"workflowConfig": bad,
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}

	var body struct {
		Error  string            `json:"error"`
		Issues []validator.Issue `json:"issues"`
	}
	decodeJSON(t, resp, &body)
	if len(body.Issues) == 0 {
		t.Error("validation response should list issues")
	}
}

func TestExecuteWorkflow_UnknownAgent(t *testing.T) {
	srv, _ := newTestServer(t)

	cfg := sampleConfig()
	steps := cfg["steps"].([]map[string]interface{})
	steps[0]["agentId"] = "nlp.nonexistent"

	resp := postJSON(t, srv.URL+"/workflow/execute", map[string]interface{}{
		"workflowConfig": cfg,
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestExecuteWorkflow_MalformedBody(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Post(srv.URL+"/workflow/execute", "application/json", bytes.NewReader([]byte("{not json")))
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestSaveAndExecuteByID(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/workflow/save", map[string]interface{}{
		"workflowConfig": sampleConfig(),
		"userId":         "user-1",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("save status = %d, want 200", resp.StatusCode)
	}
	resp.Body.Close()

	// Execute by reference.
	resp = postJSON(t, srv.URL+"/workflow/execute", map[string]interface{}{
		"workflowId": "wf-sample",
		"testMode":   true,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("execute status = %d, want 200", resp.StatusCode)
	}
	var out ExecuteResponse
	decodeJSON(t, resp, &out)
	if out.Status != types.RunStatusSuccess {
		t.Errorf("run status = %s, want success", out.Status)
	}

	// Unknown reference is a validation failure.
	resp = postJSON(t, srv.URL+"/workflow/execute", map[string]interface{}{
		"workflowId": "wf-ghost",
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("unknown workflowId status = %d, want 400", resp.StatusCode)
	}
}

func TestSavedWorkflowCRUD(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/workflow/save", map[string]interface{}{
		"workflowConfig": sampleConfig(),
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("save status = %d, want 200", resp.StatusCode)
	}
	resp.Body.Close()

	getResp, err := http.Get(srv.URL + "/workflows/saved/wf-sample")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	if getResp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d, want 200", getResp.StatusCode)
	}
	var saved flowstore.SavedWorkflow
	decodeJSON(t, getResp, &saved)
	if saved.Definition.ID != "wf-sample" {
		t.Errorf("unexpected saved definition: %v", saved.Definition)
	}

	listResp, err := http.Get(srv.URL + "/workflows/saved")
	if err != nil {
		t.Fatalf("GET list failed: %v", err)
	}
	var list struct {
		Workflows []flowstore.SavedWorkflow `json:"workflows"`
	}
	decodeJSON(t, listResp, &list)
	if len(list.Workflows) != 1 {
		t.Errorf("expected 1 saved workflow, got %d", len(list.Workflows))
	}

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/workflows/saved/wf-sample", nil)
	delResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE failed: %v", err)
	}
	delResp.Body.Close()
	if delResp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status = %d, want 204", delResp.StatusCode)
	}

	getResp, _ = http.Get(srv.URL + "/workflows/saved/wf-sample")
	getResp.Body.Close()
	if getResp.StatusCode != http.StatusNotFound {
		t.Errorf("get after delete status = %d, want 404", getResp.StatusCode)
	}
}

func TestSaveWorkflow_RequiresID(t *testing.T) {
	srv, _ := newTestServer(t)

	cfg := sampleConfig()
	delete(cfg, "id")

	resp := postJSON(t, srv.URL+"/workflow/save", map[string]interface{}{
		"workflowConfig": cfg,
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestRunEndpoints_NotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/workflows/no-such-run/logs")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("logs status = %d, want 404", resp.StatusCode)
	}

	resp = postJSON(t, srv.URL+"/workflows/no-such-run/cancel", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("cancel status = %d, want 404", resp.StatusCode)
	}
}

func TestAgentsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/agents")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	var list struct {
		Agents []registry.Agent `json:"agents"`
	}
	decodeJSON(t, resp, &list)
	if len(list.Agents) != 6 {
		t.Errorf("expected 6 builtin agents, got %d", len(list.Agents))
	}

	resp = postJSON(t, srv.URL+"/agents", registry.Agent{ID: "custom.echo", Name: "Echo"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register status = %d, want 201", resp.StatusCode)
	}

	resp, _ = http.Get(srv.URL + "/agents")
	decodeJSON(t, resp, &list)
	if len(list.Agents) != 7 {
		t.Errorf("expected 7 agents after registration, got %d", len(list.Agents))
	}
}

func TestHealthEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)

	for _, path := range []string{"/health", "/healthz", "/ready"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s failed: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("%s status = %d, want 200", path, resp.StatusCode)
		}
	}
}
