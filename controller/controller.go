// Package controller implements the top-level, cloneable controller handle
// that wires the screen observer, tool registry, popup dismisser, recovery
// pipeline, planner, plan executor, memory repository, and operator
// protocol together behind one small surface.
//
// A Handle is constructed once at process startup and passed explicitly to
// every input surface (the operator protocol server, cmd/agentctl) — no
// ambient singleton.
package controller

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"goagent.dev/mobileagent/executor"
	"goagent.dev/mobileagent/executor/engine"
	"goagent.dev/mobileagent/memory"
	"goagent.dev/mobileagent/observer"
	"goagent.dev/mobileagent/operator"
	"goagent.dev/mobileagent/planner"
	"goagent.dev/mobileagent/recovery"
	"goagent.dev/mobileagent/telemetry"
	"goagent.dev/mobileagent/toolregistry"
)

// Deps bundles every collaborator a Handle wires together. All collaborator
// fields are required except Hub, Metrics, Logger, and Engine, which may be
// nil.
type Deps struct {
	Observer  *observer.Observer
	Registry  *toolregistry.Registry
	Effector  toolregistry.Effector
	Recovery  *recovery.Pipeline
	Planner   *planner.Planner
	Store     memory.Store
	Hub       *operator.Hub
	Metrics   telemetry.Metrics
	Logger    telemetry.Logger
	Mode      executor.Mode

	// DefaultStepBudget is applied to goals that arrive without a maxSteps
	// value; zero selects a conservative built-in default.
	DefaultStepBudget int
	// DefaultTimeout is applied to goals that arrive without a
	// timeoutSeconds value; zero leaves the goal without a deadline.
	DefaultTimeout time.Duration

	// Engine is the durable-execution backend goal runs are launched
	// through (executor/engine/inmem for a single process, .../temporal
	// for crash-safe deployments). Nil falls back to a bare goroutine.
	Engine engine.Engine
}

// fallbackStepBudget bounds goals when neither the payload nor Deps names a
// budget: a zero budget fails immediately per the executor's contract, so an
// omitted maxSteps must not be passed through as 0.
const fallbackStepBudget = 30

// runExecuteGoal is the engine.RunDefinition name a Handle registers for
// goal execution.
const runExecuteGoal = "ExecuteGoal"

// runInput is the durable-run input wire shape for runExecuteGoal.
type runInput struct {
	Goal executor.Goal
	Plan *planner.ExecutionPlan
}

// Handle is the process-wide controller: a cloneable, thread-safe reference
// to the wired agent runtime. Its zero value is not usable; construct with
// New.
type Handle struct {
	obs      *observer.Observer
	registry *toolregistry.Registry
	store    memory.Store
	hub      *operator.Hub
	logger   telemetry.Logger
	planner  *planner.Planner

	exec *executor.Executor
	eng  engine.Engine

	defaultSteps   int
	defaultTimeout time.Duration

	mu          sync.Mutex
	currentGoal executor.Goal
	currentPlan *planner.ExecutionPlan
	running     bool
}

// New constructs a Handle from deps, wiring C1-C8 and registering itself as
// the executor's step/state listener so progress/status frames reach any
// connected operator peers.
func New(deps Deps) *Handle {
	logger := deps.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	h := &Handle{
		obs:            deps.Observer,
		registry:       deps.Registry,
		store:          deps.Store,
		hub:            deps.Hub,
		logger:         logger,
		planner:        deps.Planner,
		defaultSteps:   deps.DefaultStepBudget,
		defaultTimeout: deps.DefaultTimeout,
	}
	if h.defaultSteps <= 0 {
		h.defaultSteps = fallbackStepBudget
	}
	h.exec = executor.New(deps.Observer, deps.Registry, deps.Effector, deps.Recovery, deps.Planner, deps.Store,
		logger, executor.WithMode(deps.Mode), executor.WithListener(h), executor.WithMetrics(deps.Metrics))

	if deps.Engine != nil {
		h.eng = deps.Engine
		runFn := func(rc engine.RunContext, input any) (any, error) {
			in := input.(runInput)
			return h.exec.Run(rc.Context(), in.Goal, in.Plan)
		}
		if err := h.eng.RegisterRun(context.Background(), engine.RunDefinition{Name: runExecuteGoal, Handler: runFn}); err != nil {
			logger.Warn(context.Background(), "controller: register durable run failed, falling back to in-process execution", "error", err)
			h.eng = nil
		}
	}
	return h
}

// OnStateChange implements executor.Listener, broadcasting every run-state
// transition as a status frame.
func (h *Handle) OnStateChange(goalID string, state executor.RunState) {
	if h.hub == nil {
		return
	}
	h.hub.PublishStatus(operator.StatusPayload{State: string(state), GoalID: goalID})
}

// OnStep implements executor.Listener, broadcasting per-step progress and
// (when present) the model's reasoning as a thinking frame.
func (h *Handle) OnStep(goalID string, evt executor.StepEvent) {
	if h.hub == nil {
		return
	}
	h.mu.Lock()
	plan := h.currentPlan
	h.mu.Unlock()

	desc, total, progress := "", 0, 0.0
	status := "running"
	if evt.Task != nil {
		desc = evt.Task.Description
		status = string(evt.Task.Status)
	}
	if plan != nil {
		total = plan.EstimatedSteps
		progress = plan.Root.Progress() * 100
	}
	h.hub.PublishProgress(operator.ProgressPayload{
		StepNumber:      evt.StepNumber,
		CurrentTask:     desc,
		TaskStatus:      status,
		TotalSteps:      total,
		ProgressPercent: progress,
	})
	if evt.Reasoning != "" {
		h.hub.PublishThinking(operator.ThinkingPayload{GoalID: goalID, Text: evt.Reasoning})
	}
}

// ExecuteGoal satisfies operator.Controller: it builds a Goal and an
// initial plan from p, then hands the plan to the executor asynchronously,
//'s controller flow ("asks C5 for an initial plan ... then
// hands the plan to C6").
func (h *Handle) ExecuteGoal(ctx context.Context, p operator.GoalPayload) (string, error) {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return "", fmt.Errorf("controller: a goal is already running")
	}
	h.running = true
	h.mu.Unlock()

	goalID := uuid.New().String()
	deadline := time.Time{}
	switch {
	case p.TimeoutSeconds > 0:
		deadline = time.Now().Add(time.Duration(p.TimeoutSeconds) * time.Second)
	case h.defaultTimeout > 0:
		deadline = time.Now().Add(h.defaultTimeout)
	}
	budget := p.MaxSteps
	if budget <= 0 {
		budget = h.defaultSteps
	}
	goal := executor.Goal{
		ID:          goalID,
		Description: p.Description,
		StepBudget:  budget,
		Deadline:    deadline,
		Completion:  executor.CompletionPredicate{Kind: executor.PredicateModelDecided},
	}

	planCtx, err := h.buildPlanningContext(ctx, p.Description)
	if err != nil {
		h.mu.Lock()
		h.running = false
		h.mu.Unlock()
		return "", fmt.Errorf("controller: build planning context: %w", err)
	}

	var plan *planner.ExecutionPlan
	if h.planner != nil {
		plan, err = h.planner.Plan(ctx, p.Description, planCtx)
		if err != nil {
			h.mu.Lock()
			h.running = false
			h.mu.Unlock()
			return "", fmt.Errorf("controller: plan: %w", err)
		}
	} else {
		plan = unstructuredPlan(p.Description)
	}

	h.mu.Lock()
	h.currentGoal = goal
	h.currentPlan = plan
	h.mu.Unlock()

	if h.hub != nil {
		h.hub.PublishPlan(flattenPlan(goalID, plan))
	}

	go func() {
		res := h.runGoal(goalID, goal, plan)
		if h.hub != nil {
			h.hub.PublishResult(operator.ResultPayload{
				GoalID:          goalID,
				Success:         res.Success,
				Error:           res.Error,
				StepsExecuted:   res.StepsExecuted,
				PopupsDismissed: res.PopupsDismissed,
			})
			if res.Error == executor.ErrFatalRecovery {
				h.hub.PublishError(operator.ErrorPayload{Code: operator.ErrGoalFailed, Message: "fatal recovery outcome"})
			}
		}
		h.mu.Lock()
		h.running = false
		h.mu.Unlock()
	}()

	return goalID, nil
}

// runGoal executes one goal run, through the durable engine when one is
// configured (the Temporal-backed engine.Engine lets a run survive process
// restarts, the inmem one does not; neither changes the executor's
// control-loop shape),
// falling back to driving the executor directly otherwise.
func (h *Handle) runGoal(goalID string, goal executor.Goal, plan *planner.ExecutionPlan) executor.Result {
	if h.eng == nil {
		res, _ := h.exec.Run(context.Background(), goal, plan)
		return res
	}
	handle, err := h.eng.StartRun(context.Background(), engine.RunStartRequest{
		ID:    goalID,
		Run:   runExecuteGoal,
		Input: runInput{Goal: goal, Plan: plan},
	})
	if err != nil {
		h.logger.Warn(context.Background(), "controller: durable run start failed, executing in-process", "error", err)
		res, _ := h.exec.Run(context.Background(), goal, plan)
		return res
	}
	var res executor.Result
	if err := handle.Wait(context.Background(), &res); err != nil {
		return executor.Result{Success: false, Error: err.Error()}
	}
	return res
}

// buildPlanningContext assembles the planning context: a screen digest
// plus the top learned-pattern hints from the memory repository. The
// screen capture and the pattern lookup are independent suspension points,
// so they run concurrently; both are best-effort and planning proceeds
// with whatever came back.
func (h *Handle) buildPlanningContext(ctx context.Context, description string) (planner.PlanningContext, error) {
	var (
		digest string
		hints  []planner.LearnedPatternHint
	)
	g, gctx := errgroup.WithContext(ctx)
	if h.obs != nil {
		g.Go(func() error {
			snap, err := h.obs.Snapshot(gctx, observer.ModeFull)
			if err != nil {
				return nil
			}
			digest = observer.Digest(snap)
			return nil
		})
	}
	if h.store != nil {
		g.Go(func() error {
			pattern, ok, err := h.store.FindApplicablePattern(gctx, description)
			if err != nil || !ok {
				return nil
			}
			hints = append(hints, planner.LearnedPatternHint{
				GoalPattern: pattern.GoalPattern,
				Actions:     patternActions(pattern.ActionSequence),
				Confidence:  pattern.Confidence,
			})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return planner.PlanningContext{}, err
	}
	return planner.PlanningContext{CurrentScreenDigest: digest, LearnedStrategies: hints}, nil
}

// patternActions decodes a persisted action sequence into the planner's
// Action shape so a high-confidence pattern can be offered to the model as
// a concrete skeleton, not just a key.
func patternActions(raw json.RawMessage) []planner.Action {
	if len(raw) == 0 {
		return nil
	}
	var records []memory.ActionRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil
	}
	actions := make([]planner.Action, 0, len(records))
	for _, r := range records {
		actions = append(actions, planner.Action{Tool: toolregistry.Ident(r.Tool), Params: r.Params})
	}
	return actions
}

// unstructuredPlan builds the single ai-decide-task fallback plan used when
// no planner is configured, mirroring the planner's own second-malformed-
// reply fallback.
func unstructuredPlan(description string) *planner.ExecutionPlan {
	return &planner.ExecutionPlan{
		Root: &planner.Task{
			ID:          "root",
			Description: description,
			Type:        planner.TaskAIDecide,
			Status:      planner.StatusPending,
		},
		EstimatedSteps: 1,
		Unstructured:   true,
	}
}

// flattenPlan renders an ExecutionPlan into the flattened PlanPayload.
func flattenPlan(goalID string, plan *planner.ExecutionPlan) operator.PlanPayload {
	var tasks []operator.PlanTaskView
	var walk func(t *planner.Task, depth int)
	walk = func(t *planner.Task, depth int) {
		tasks = append(tasks, operator.PlanTaskView{
			ID:          t.ID,
			Description: t.Description,
			Type:        string(t.Type),
			Status:      string(t.Status),
			Depth:       depth,
		})
		for _, c := range t.Children {
			walk(c, depth+1)
		}
	}
	if plan != nil && plan.Root != nil {
		walk(plan.Root, 0)
	}
	return operator.PlanPayload{
		GoalID:         goalID,
		Tasks:          tasks,
		EstimatedSteps: plan.EstimatedSteps,
		Unstructured:   plan.Unstructured,
	}
}

// Pause satisfies operator.Controller.
func (h *Handle) Pause() error {
	h.exec.Pause()
	return nil
}

// Resume satisfies operator.Controller.
func (h *Handle) Resume() error {
	h.exec.Resume()
	return nil
}

// Stop satisfies operator.Controller. Stop always wins over a concurrent
// pause.
func (h *Handle) Stop() error {
	h.exec.Cancel()
	return nil
}

// DispatchTool satisfies operator.Controller, invoking a single tool
// directly (manual tap/swipe/input/press_key/get_screen commands issued
// outside of a goal run).
func (h *Handle) DispatchTool(ctx context.Context, tool string, params map[string]any) (operator.ToolResult, error) {
	res, err := h.registry.Dispatch(ctx, toolregistry.Ident(tool), params)
	if err != nil {
		return operator.ToolResult{Success: false, Message: err.Error()}, nil
	}
	return operator.ToolResult{Success: res.Success, Message: res.Message, Data: res.Data}, nil
}

// Status satisfies operator.Controller.
func (h *Handle) Status() operator.StatusPayload {
	h.mu.Lock()
	goalID := h.currentGoal.ID
	h.mu.Unlock()
	return operator.StatusPayload{State: string(h.exec.State()), GoalID: goalID}
}

// CurrentScreen satisfies operator.Controller, rendering the current
// screen as a bounded ScreenPayload.
func (h *Handle) CurrentScreen(ctx context.Context) (operator.ScreenPayload, error) {
	snap, err := h.obs.Snapshot(ctx, observer.ModeIncremental)
	if err != nil {
		return operator.ScreenPayload{}, err
	}
	labels := observer.VisibleLabels(snap, operator.MaxScreenItems)
	var clickable []string
	if snap != nil && snap.Root != nil {
		collectClickable(snap.Root, &clickable, operator.MaxScreenItems)
	}
	pkg, activity := "", ""
	if snap != nil {
		pkg, activity = snap.Package, snap.Activity
	}
	return operator.ScreenPayload{
		Package:         pkg,
		Activity:        activity,
		VisibleTexts:    labels,
		ClickableLabels: clickable,
	}, nil
}

func collectClickable(n *observer.UINode, out *[]string, limit int) {
	if n == nil || len(*out) >= limit {
		return
	}
	if n.Clickable && n.Label() != "" {
		*out = append(*out, n.Label())
	}
	for _, c := range n.Children {
		if len(*out) >= limit {
			return
		}
		collectClickable(c, out, limit)
	}
}

// CurrentPlan satisfies operator.Controller.
func (h *Handle) CurrentPlan() (operator.PlanPayload, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.currentPlan == nil {
		return operator.PlanPayload{}, false
	}
	return flattenPlan(h.currentGoal.ID, h.currentPlan), true
}

// History satisfies operator.Controller.
func (h *Handle) History(ctx context.Context, goalID string) ([]operator.ActionLogView, error) {
	entries, err := h.store.ActionLogs(ctx, goalID)
	if err != nil {
		return nil, err
	}
	views := make([]operator.ActionLogView, 0, len(entries))
	for _, e := range entries {
		views = append(views, operator.ActionLogView{
			StepNumber: e.StepNumber,
			ToolName:   e.ToolName,
			Success:    e.Success,
			Message:    e.ResultMessage,
		})
	}
	sort.Slice(views, func(i, j int) bool { return views[i].StepNumber < views[j].StepNumber })
	return views, nil
}

// Stats satisfies operator.Controller, for the query{queryType:"stats"}
// response.
func (h *Handle) Stats() operator.StatsView {
	s := h.obs.Stats()
	return operator.StatsView{
		FullCount:        s.FullCount,
		IncrementalCount: s.IncrementalCount,
		DiffCount:        s.DiffCount,
		CacheHits:        s.CacheHits,
		Pending:          s.Pending,
	}
}

// StartCleanupLoop runs memory.Store.Cleanup on interval until ctx is
// cancelled, so goal/pattern/memory retention does not depend on an
// external scheduler.
func (h *Handle) StartCleanupLoop(ctx context.Context, interval time.Duration, keepDays int, keepMinImportance float64) {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats, err := h.store.Cleanup(ctx, keepDays, keepMinImportance)
			if err != nil {
				h.logger.Warn(ctx, "controller: cleanup failed", "error", err)
				continue
			}
			h.logger.Info(ctx, "controller: cleanup complete",
				"goals_deleted", stats.GoalsDeleted,
				"patterns_pruned", stats.PatternsPruned,
				"memories_pruned", stats.MemoriesPruned)
		}
	}
}
