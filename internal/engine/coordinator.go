// Package engine executes validated workflows tier by tier.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/botsmith-ai/workflow-engine/internal/condition"
	"github.com/botsmith-ai/workflow-engine/internal/metrics"
	"github.com/botsmith-ai/workflow-engine/internal/runstore"
	"github.com/botsmith-ai/workflow-engine/internal/validator"
	"github.com/botsmith-ai/workflow-engine/pkg/types"
)

// Config holds coordinator configuration.
type Config struct {
	// StepBudget caps total step executions per run. It is the only guard
	// against cyclic graphs, which validation deliberately permits.
	StepBudget int

	// MaxParallelism limits concurrent step executions within a tier
	// (0 = unlimited).
	MaxParallelism int

	// Retry is the backoff policy applied around each step.
	Retry RetryPolicy
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() *Config {
	return &Config{
		StepBudget:     1000,
		MaxParallelism: 0,
		Retry:          DefaultRetryPolicy(),
	}
}

// RunOptions carries per-run request parameters.
type RunOptions struct {
	UserID   string
	TestMode bool
}

// runState tracks an active run for cooperative cancellation.
type runState struct {
	mu        sync.Mutex
	cancelled bool
	done      chan struct{}
}

func (st *runState) cancel() {
	st.mu.Lock()
	st.cancelled = true
	st.mu.Unlock()
}

func (st *runState) isCancelled() bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.cancelled
}

// Coordinator drives workflow runs: it walks the graph in synchronized
// tiers, fans each tier out concurrently, merges outputs at the barrier,
// evaluates edge guards to build the next frontier, and finalizes the run.
// The run snapshot has exactly one writer (the coordinating goroutine);
// step goroutines only return results.
type Coordinator struct {
	store      runstore.RunStore
	executor   *Executor
	conditions *condition.Evaluator
	cfg        *Config
	logger     *slog.Logger

	runs   map[string]*runState
	runsMu sync.Mutex
}

// New creates a coordinator.
func New(store runstore.RunStore, exec *Executor, cond *condition.Evaluator, cfg *Config, logger *slog.Logger) *Coordinator {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.StepBudget <= 0 {
		cfg.StepBudget = 1000
	}
	if cond == nil {
		cond = condition.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		store:      store,
		executor:   exec,
		conditions: cond,
		cfg:        cfg,
		logger:     logger,
		runs:       make(map[string]*runState),
	}
}

// StartRun creates a run for the validated workflow and executes it in the
// background. The returned snapshot has status running; clients poll for
// progress.
func (c *Coordinator) StartRun(ctx context.Context, wf *validator.CompiledWorkflow, opts RunOptions) (*types.Run, error) {
	run, st, err := c.createRun(ctx, wf, opts)
	if err != nil {
		return nil, err
	}

	// Snapshot before the run loop takes over as the sole writer.
	snapshot := run.Clone()
	snapshot.Status = types.RunStatusRunning

	// The run outlives the request; detach from the caller's context.
	go c.runLoop(context.WithoutCancel(ctx), wf, run, st)

	return snapshot, nil
}

// ExecuteSync runs the workflow to completion in the caller's goroutine and
// returns the final snapshot. Used for test-mode dry runs, which are bounded
// and side-effect-free.
func (c *Coordinator) ExecuteSync(ctx context.Context, wf *validator.CompiledWorkflow, opts RunOptions) (*types.Run, error) {
	run, st, err := c.createRun(ctx, wf, opts)
	if err != nil {
		return nil, err
	}

	c.runLoop(ctx, wf, run, st)
	return run, nil
}

// Cancel requests cooperative cancellation: in-flight tier tasks finish,
// but no further tier is scheduled.
func (c *Coordinator) Cancel(ctx context.Context, runID string) error {
	if err := c.store.MarkCancelled(ctx, runID); err != nil {
		return err
	}

	c.runsMu.Lock()
	st, active := c.runs[runID]
	c.runsMu.Unlock()
	if active {
		st.cancel()
	}
	return nil
}

// Done returns a channel closed when the run's coordinating goroutine
// exits. Nil for runs the coordinator is not driving.
func (c *Coordinator) Done(runID string) <-chan struct{} {
	c.runsMu.Lock()
	defer c.runsMu.Unlock()
	if st, ok := c.runs[runID]; ok {
		return st.done
	}
	return nil
}

func (c *Coordinator) createRun(ctx context.Context, wf *validator.CompiledWorkflow, opts RunOptions) (*types.Run, *runState, error) {
	now := time.Now().UTC()
	run := &types.Run{
		RunID:       uuid.NewString(),
		WorkflowID:  wf.Definition.ID,
		UserID:      opts.UserID,
		Status:      types.RunStatusPending,
		StepOutputs: make(map[string]map[string]interface{}),
		StepLogs:    []types.StepLog{},
		TestMode:    opts.TestMode,
		CreatedAt:   now,
	}

	if err := c.store.CreateRun(ctx, run); err != nil {
		return nil, nil, &runstore.PersistenceError{Op: "create", Err: err}
	}

	st := &runState{done: make(chan struct{})}
	c.runsMu.Lock()
	c.runs[run.RunID] = st
	c.runsMu.Unlock()

	return run, st, nil
}

// tierResult carries one step's outcome back across the barrier.
type tierResult struct {
	stepID      string
	output      map[string]interface{}
	err         error
	retriesUsed int
	startedAt   time.Time
	finishedAt  time.Time
}

// runLoop is the coordinating goroutine for one run.
func (c *Coordinator) runLoop(ctx context.Context, wf *validator.CompiledWorkflow, run *types.Run, st *runState) {
	defer func() {
		c.runsMu.Lock()
		delete(c.runs, run.RunID)
		c.runsMu.Unlock()
		close(st.done)
	}()

	metrics.RunsActive.Inc()
	defer metrics.RunsActive.Dec()

	startedAt := time.Now().UTC()
	run.Status = types.RunStatusRunning
	run.StartedAt = &startedAt
	c.persist(ctx, run)
	c.emitRunStatus(ctx, run)

	frontier := []string{wf.Definition.StartStepID}
	executed := 0
	anyFailed := false
	budgetHit := false

	for len(frontier) > 0 {
		if c.cancellationRequested(ctx, run.RunID, st) {
			break
		}
		if executed >= c.cfg.StepBudget {
			budgetHit = true
			break
		}

		tier := dedupeSorted(frontier)
		metrics.TierSize.Observe(float64(len(tier)))
		c.emitEvent(ctx, run.RunID, types.EventTypeTierStarted, "", map[string]interface{}{
			"steps": tier,
		})

		logIdx := c.openTierLogs(ctx, run, wf, tier)
		results := c.executeTier(ctx, wf, run, tier)

		// Barrier passed. Results arrive in ascending lexical step id
		// order (tier is sorted), which fixes the merge order for any
		// colliding output keys.
		for i, res := range results {
			executed++
			log := &run.StepLogs[logIdx[i]]
			finished := res.finishedAt
			log.FinishedAt = &finished
			log.RetriesUsed = res.retriesUsed

			if res.err != nil {
				anyFailed = true
				log.Status = types.StepStatusFail
				log.Error = res.err.Error()
			} else {
				log.Status = types.StepStatusSuccess
				log.Output = res.output
				run.StepOutputs[res.stepID] = res.output
			}

			metrics.StepsTotal.WithLabelValues(string(log.Status)).Inc()
			metrics.StepDuration.WithLabelValues(string(log.Status)).Observe(res.finishedAt.Sub(res.startedAt).Seconds())
			metrics.StepRetries.WithLabelValues(string(log.Status)).Observe(float64(res.retriesUsed))
			c.emitStepStatus(ctx, run.RunID, log)
		}

		c.persist(ctx, run)

		// Next frontier: union of edge targets from this tier's succeeded
		// steps. A failed step prunes only the branches reachable solely
		// through its own edges.
		frontier = c.nextFrontier(ctx, wf, run, results)
	}

	finishedAt := time.Now().UTC()
	run.FinishedAt = &finishedAt

	switch {
	case st.isCancelled():
		run.Status = types.RunStatusCancelled
	case budgetHit:
		run.Status = types.RunStatusFail
		run.Error = fmt.Sprintf("%s: executed %d steps (budget %d)", ErrStepLimitExceeded, executed, c.cfg.StepBudget)
	case anyFailed:
		run.Status = types.RunStatusFail
	default:
		run.Status = types.RunStatusSuccess
	}

	c.persist(ctx, run)
	c.emitRunStatus(ctx, run)
	c.emitEvent(ctx, run.RunID, types.EventTypeStreamEnd, "", map[string]interface{}{
		"status": run.Status,
	})

	metrics.RunsTotal.WithLabelValues(string(run.Status)).Inc()
	metrics.RunDuration.WithLabelValues(string(run.Status)).Observe(finishedAt.Sub(startedAt).Seconds())

	c.logger.Info("run finished",
		slog.String("run_id", run.RunID),
		slog.String("workflow_id", run.WorkflowID),
		slog.String("status", string(run.Status)),
		slog.Int("steps_executed", executed),
	)
}

// openTierLogs appends a running StepLog per tier step and persists the
// snapshot so pollers see progress before the tier completes. Returns the
// log index for each tier position.
func (c *Coordinator) openTierLogs(ctx context.Context, run *types.Run, wf *validator.CompiledWorkflow, tier []string) []int {
	now := time.Now().UTC()
	logIdx := make([]int, len(tier))
	for i, stepID := range tier {
		step := wf.Steps[stepID]
		started := now
		run.StepLogs = append(run.StepLogs, types.StepLog{
			StepID:    step.ID,
			AgentID:   step.AgentID,
			Name:      step.Name,
			Status:    types.StepStatusRunning,
			StartedAt: &started,
		})
		logIdx[i] = len(run.StepLogs) - 1
	}
	c.persist(ctx, run)
	return logIdx
}

// executeTier fans the tier out concurrently and blocks until every step
// has finished (the barrier). Step failures are carried in the results,
// never as a group error, so one failing step cannot cancel its siblings.
func (c *Coordinator) executeTier(ctx context.Context, wf *validator.CompiledWorkflow, run *types.Run, tier []string) []tierResult {
	results := make([]tierResult, len(tier))

	g, tierCtx := errgroup.WithContext(ctx)
	if c.cfg.MaxParallelism > 0 {
		g.SetLimit(c.cfg.MaxParallelism)
	}

	for i, stepID := range tier {
		i := i
		step := wf.Steps[stepID]
		g.Go(func() error {
			start := time.Now().UTC()
			out, retries, err := c.cfg.Retry.Do(tierCtx, step.RetryLimit, func(attemptCtx context.Context) (map[string]interface{}, error) {
				return c.executor.Execute(attemptCtx, step, run.TestMode)
			})
			results[i] = tierResult{
				stepID:      step.ID,
				output:      out,
				err:         err,
				retriesUsed: retries,
				startedAt:   start,
				finishedAt:  time.Now().UTC(),
			}
			return nil
		})
	}

	g.Wait()
	return results
}

// nextFrontier evaluates the edges of this tier's succeeded steps.
func (c *Coordinator) nextFrontier(ctx context.Context, wf *validator.CompiledWorkflow, run *types.Run, results []tierResult) []string {
	var next []string
	for _, res := range results {
		if res.err != nil {
			continue
		}
		step := wf.Steps[res.stepID]
		for j := range step.Next {
			edge := &step.Next[j]
			prog := wf.Condition(step.ID, j)
			if prog == nil {
				metrics.ConditionEvals.WithLabelValues("taken").Inc()
				next = append(next, edge.TargetStepID)
				continue
			}

			taken, err := c.conditions.Evaluate(prog, run.StepOutputs)
			if err != nil {
				// Malformed evaluation defaults the edge to not taken;
				// the run continues with a recorded warning.
				metrics.ConditionEvals.WithLabelValues("error").Inc()
				warning := fmt.Sprintf("step %s edge -> %s: %v", step.ID, edge.TargetStepID, err)
				run.Warnings = append(run.Warnings, warning)
				c.emitEvent(ctx, run.RunID, types.EventTypeWarning, step.ID, map[string]interface{}{
					"message": warning,
				})
				c.logger.Warn("condition evaluation failed",
					slog.String("run_id", run.RunID),
					slog.String("step_id", step.ID),
					slog.String("target", edge.TargetStepID),
					slog.String("error", err.Error()),
				)
				continue
			}
			if taken {
				metrics.ConditionEvals.WithLabelValues("taken").Inc()
				next = append(next, edge.TargetStepID)
			} else {
				metrics.ConditionEvals.WithLabelValues("not_taken").Inc()
			}
		}
	}
	return dedupeSorted(next)
}

// cancellationRequested checks the local flag first, then the store, so
// cancellations issued through another replica's API still land here.
func (c *Coordinator) cancellationRequested(ctx context.Context, runID string, st *runState) bool {
	if st.isCancelled() {
		return true
	}
	cancelled, err := c.store.IsCancelled(ctx, runID)
	if err != nil {
		return false
	}
	if cancelled {
		st.cancel()
	}
	return cancelled
}

// persist snapshots the run, retrying a failed save once. Persistence
// failures never mutate the in-memory run.
func (c *Coordinator) persist(ctx context.Context, run *types.Run) {
	snapshot := run.Clone()
	err := c.store.SaveSnapshot(ctx, snapshot)
	if err == nil {
		metrics.StoreOperations.WithLabelValues("save", "success").Inc()
		return
	}
	if err = c.store.SaveSnapshot(ctx, snapshot); err == nil {
		metrics.StoreOperations.WithLabelValues("save", "retried").Inc()
		return
	}
	metrics.StoreOperations.WithLabelValues("save", "error").Inc()
	c.logger.Error("snapshot save failed",
		slog.String("run_id", run.RunID),
		slog.String("error", err.Error()),
	)
}

func (c *Coordinator) emitRunStatus(ctx context.Context, run *types.Run) {
	c.emitEvent(ctx, run.RunID, types.EventTypeRunStatus, "", map[string]interface{}{
		"runId":  run.RunID,
		"status": run.Status,
	})
}

func (c *Coordinator) emitStepStatus(ctx context.Context, runID string, log *types.StepLog) {
	c.emitEvent(ctx, runID, types.EventTypeStepStatus, log.StepID, map[string]interface{}{
		"runId":       runID,
		"stepId":      log.StepID,
		"status":      log.Status,
		"retriesUsed": log.RetriesUsed,
		"error":       log.Error,
	})
}

func (c *Coordinator) emitEvent(ctx context.Context, runID string, eventType types.EventType, stepID string, data map[string]interface{}) {
	input := &types.EventInput{Type: eventType, StepID: stepID, Data: data}
	if _, err := c.store.AppendEvent(ctx, runID, input); err != nil {
		c.logger.Warn("emit event failed",
			slog.String("run_id", runID),
			slog.String("type", string(eventType)),
			slog.String("error", err.Error()),
		)
	}
}

// dedupeSorted returns the unique ids in ascending lexical order.
func dedupeSorted(ids []string) []string {
	if len(ids) <= 1 {
		return ids
	}
	sorted := make([]string, len(ids))
	copy(sorted, ids)
	sort.Strings(sorted)
	out := sorted[:1]
	for _, id := range sorted[1:] {
		if id != out[len(out)-1] {
			out = append(out, id)
		}
	}
	return out
}
