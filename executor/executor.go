package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"goagent.dev/mobileagent/agenterr"
	"goagent.dev/mobileagent/memory"
	"goagent.dev/mobileagent/observer"
	"goagent.dev/mobileagent/planner"
	"goagent.dev/mobileagent/popup"
	"goagent.dev/mobileagent/recovery"
	"goagent.dev/mobileagent/telemetry"
	"goagent.dev/mobileagent/toolregistry"
)

// maxStepRecoveryRetries bounds how many times a single primitive task is
// retried after a recovery strategy returns a retryable success.
const maxStepRecoveryRetries = 3

// screenAdapter satisfies popup.ScreenSource from an Observer+Effector
// pair, mirroring the registry's own ScreenProvider/Effector split.
type screenAdapter struct {
	obs *observer.Observer
	eff toolregistry.Effector
}

func (a screenAdapter) CurrentTree(ctx context.Context) (*observer.UINode, string, error) {
	snap, err := a.obs.Snapshot(ctx, observer.ModeFull)
	if err != nil {
		return nil, "", err
	}
	return snap.Root, snap.Package, nil
}

func (a screenAdapter) Tap(ctx context.Context, x, y int) error {
	return a.eff.Tap(ctx, x, y)
}

// Executor runs the control loop that drives a plan to completion:
// observe, decide, act, verify, recover, record.
type Executor struct {
	obs       *observer.Observer
	registry  *toolregistry.Registry
	effector  toolregistry.Effector
	dismisser *popup.Dismisser
	recovery  *recovery.Pipeline
	planner   *planner.Planner
	store     memory.Store
	logger    telemetry.Logger
	metrics   telemetry.Metrics
	mode      Mode

	mu       sync.Mutex
	state    RunState
	listener Listener

	pauseRequested  bool
	cancelRequested bool
	resumeCh        chan struct{}
}

// Option configures an Executor at construction time.
type Option func(*Executor)

// WithMode sets the execution policy mode; the zero value is ModeSmart.
func WithMode(m Mode) Option { return func(e *Executor) { e.mode = m } }

// WithListener registers a step/state-change observer.
func WithListener(l Listener) Option { return func(e *Executor) { e.listener = l } }

// WithMetrics attaches a metrics sink.
func WithMetrics(m telemetry.Metrics) Option { return func(e *Executor) { e.metrics = m } }

// New constructs an Executor wiring every upstream collaborator: observer,
// registry, effector, recovery pipeline, planner, and store.
func New(obs *observer.Observer, registry *toolregistry.Registry, effector toolregistry.Effector, pipeline *recovery.Pipeline, pl *planner.Planner, store memory.Store, logger telemetry.Logger, opts ...Option) *Executor {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	e := &Executor{
		obs:      obs,
		registry: registry,
		effector: effector,
		recovery: pipeline,
		planner:  pl,
		store:    store,
		logger:   logger,
		mode:     ModeSmart,
		state:    StateIdle,
	}
	e.dismisser = popup.New(screenAdapter{obs: obs, eff: effector})
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Executor) setState(goalID string, s RunState) {
	e.mu.Lock()
	e.state = s
	l := e.listener
	e.mu.Unlock()
	if l != nil {
		l.OnStateChange(goalID, s)
	}
}

// State returns the executor's current run state.
func (e *Executor) State() RunState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Pause requests that the control loop suspend before its next step. The
// loop observes the request at the top of its per-task iteration.
func (e *Executor) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pauseRequested = true
}

// Resume releases a paused control loop. A no-op if not currently paused.
func (e *Executor) Resume() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.resumeCh != nil {
		close(e.resumeCh)
		e.resumeCh = nil
	}
	e.pauseRequested = false
}

// Cancel requests that the control loop stop at its next observable point.
// Cancel always wins over a concurrent Pause.
func (e *Executor) Cancel() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cancelRequested = true
	if e.resumeCh != nil {
		close(e.resumeCh)
		e.resumeCh = nil
	}
}

// waitIfPaused blocks the control loop while paused, waking on Resume,
// Cancel, or ctx cancellation.
func (e *Executor) waitIfPaused(ctx context.Context, goalID string) bool {
	e.mu.Lock()
	if e.cancelRequested {
		e.mu.Unlock()
		return false
	}
	if !e.pauseRequested {
		e.mu.Unlock()
		return true
	}
	ch := make(chan struct{})
	e.resumeCh = ch
	e.mu.Unlock()

	e.setState(goalID, StatePaused)
	select {
	case <-ch:
	case <-ctx.Done():
		return false
	}

	e.mu.Lock()
	cancelled := e.cancelRequested
	e.mu.Unlock()
	return !cancelled
}

func (e *Executor) isCancelled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cancelRequested
}

// Run decomposes nothing itself — plan must already be built by the
// planner — and drives it to completion against goal, logging every action
// and learning from the outcome.
func (e *Executor) Run(ctx context.Context, goal Goal, plan *planner.ExecutionPlan) (Result, error) {
	// A cancel request from a previous run must not leak into this one.
	// The pause flag is left alone: pausing before the run starts is a
	// supported way to arm a goal without executing it yet.
	e.mu.Lock()
	e.cancelRequested = false
	e.mu.Unlock()
	e.setState(goal.ID, StateIdle)

	if err := e.store.StartGoal(ctx, memory.Goal{ID: goal.ID, Description: goal.Description, StartTime: time.Now()}); err != nil {
		return Result{}, agenterr.NewWithCause("executor: start goal", err)
	}

	var (
		history   []planner.HistoryEntry
		performed []memory.ActionRecord
	)
	steps := 0
	popups := 0

	result := func() Result {
		for {
			if !e.waitIfPaused(ctx, goal.ID) {
				return Result{Success: false, Error: ErrCancelled, StepsExecuted: steps, PopupsDismissed: popups}
			}
			select {
			case <-ctx.Done():
				return Result{Success: false, Error: ErrDeadlineExceeded, StepsExecuted: steps, PopupsDismissed: popups}
			default:
			}
			if !goal.Deadline.IsZero() && time.Now().After(goal.Deadline) {
				return Result{Success: false, Error: ErrDeadlineExceeded, StepsExecuted: steps, PopupsDismissed: popups}
			}
			if goal.StepBudget >= 0 && steps >= goal.StepBudget {
				return Result{Success: false, Error: ErrStepBudgetExceeded, StepsExecuted: steps, PopupsDismissed: popups}
			}

			task := nextPending(plan.Root)
			if task == nil {
				done, success := plan.Root.CompositeDone()
				if !done || !success {
					return Result{Success: false, Error: ErrPlanFailed, StepsExecuted: steps, PopupsDismissed: popups}
				}
				if goal.Completion.Kind != PredicateModelDecided {
					snap, serr := e.obs.Snapshot(ctx, observer.ModeIncremental)
					if serr != nil || !goal.Completion.Satisfied(snap) {
						return Result{Success: false, Error: ErrEmptyPlanUnmet, StepsExecuted: steps, PopupsDismissed: popups}
					}
				}
				return Result{Success: true, StepsExecuted: steps, PopupsDismissed: popups}
			}

			task.Status = planner.StatusRunning
			popCount, taken, stepResult, err := e.runStep(ctx, goal, task, &history, steps)
			popups += popCount
			steps += taken
			if stepResult.Success && stepResult.Tool != "" {
				performed = append(performed, memory.ActionRecord{Tool: stepResult.Tool, Params: stepResult.Params})
			}

			if err != nil {
				return Result{Success: false, Error: ErrFatalRecovery, StepsExecuted: steps, PopupsDismissed: popups}
			}
			if e.isCancelled() {
				return Result{Success: false, Error: ErrCancelled, StepsExecuted: steps, PopupsDismissed: popups}
			}

			if task.Type == planner.TaskAIDecide && stepResult.Success {
				// An ai-decide task represents an open-ended decision loop
				// (the unstructured-plan fallback): it stays pending
				// and keeps being re-selected until the goal's completion
				// predicate is satisfied or a budget/deadline is hit.
				task.Status = planner.StatusPending
			} else {
				task.Status = statusFor(stepResult.Success, task.FailPolicy)
			}
			if goal.Completion.Kind != PredicateModelDecided {
				snap, serr := e.obs.Snapshot(ctx, observer.ModeIncremental)
				if serr == nil && goal.Completion.Satisfied(snap) {
					return Result{Success: true, StepsExecuted: steps, PopupsDismissed: popups}
				}
			}
		}
	}()

	e.setState(goal.ID, StateStopped)

	if result.Success {
		if lerr := e.store.LearnFromSuccess(ctx, goal.ID, performed); lerr != nil {
			e.logger.Warn(ctx, "executor: learn_from_success failed", "goal", goal.ID, "error", lerr)
		}
	}
	if cerr := e.store.CompleteGoal(ctx, goal.ID, result.Success, result.StepsExecuted, result.Error); cerr != nil {
		e.logger.Warn(ctx, "executor: complete_goal failed", "goal", goal.ID, "error", cerr)
	}
	return result, nil
}

// runStep executes the per-task cycle: observe,
// pre-clean, decide, act, verify, recover-on-failure, record, advance. It
// returns the number of popups dismissed during pre-clean, the number of
// steps consumed (the dismissal pass is logged and counted as its own step
// when it cleared anything), and the terminal StepEvent for this task.
// Every counted step writes exactly one action-log row, so a goal's
// stepsExecuted always equals its logged row count.
func (e *Executor) runStep(ctx context.Context, goal Goal, task *planner.Task, history *[]planner.HistoryEntry, baseStep int) (popups, taken int, evt StepEvent, err error) {
	policy := policyFor(e.mode)

	e.setState(goal.ID, StateObserving)
	before, err := e.obs.Snapshot(ctx, observer.ModeIncremental)
	if err != nil {
		// Environmental failure (no root window, screen source error):
		// recoverable per the pipeline's verdict, not terminal on its own.
		e.setState(goal.ID, StateRecovering)
		rr := e.recovery.Recover(ctx, recovery.Context{
			ErrorType:    recovery.ErrScreenChanged,
			ErrorMessage: err.Error(),
		})
		if rr.Kind == recovery.KindSuccess {
			before, err = e.obs.Snapshot(ctx, observer.ModeIncremental)
		}
		if err != nil {
			return 0, 0, StepEvent{}, agenterr.NewWithCause("executor: observe", err)
		}
	}

	if policy.preClean {
		if res, derr := e.dismisser.Run(ctx); derr == nil && res.PopupsCleared > 0 {
			popups = res.PopupsCleared
			taken++
			e.logAction(ctx, goal.ID, memory.ActionLogEntry{
				GoalID:        goal.ID,
				StepNumber:    baseStep + taken,
				Timestamp:     time.Now(),
				ToolName:      "dismiss_popup",
				Success:       true,
				ResultMessage: fmt.Sprintf("关闭了 %d 个弹窗", res.PopupsCleared),
			})
		}
	}

	e.setState(goal.ID, StateThinking)
	act, err := e.decide(ctx, goal, task, before, *history, policy)
	if err != nil {
		// Model degradation with nothing to fall back on: give up this
		// step, not the goal. The failed step is logged like any other and
		// the task's fail policy decides what happens to the plan.
		taken++
		evt = StepEvent{Task: task, StepNumber: baseStep + taken, Success: false, Message: err.Error()}
		e.logAction(ctx, goal.ID, memory.ActionLogEntry{
			GoalID:        goal.ID,
			StepNumber:    evt.StepNumber,
			Timestamp:     time.Now(),
			ToolName:      string(task.Tool),
			Success:       false,
			ResultMessage: err.Error(),
			ScreenBefore:  observer.Digest(before),
		})
		if l := e.listener; l != nil {
			l.OnStep(goal.ID, evt)
		}
		return popups, taken, evt, nil
	}

	e.setState(goal.ID, StateExecuting)
	evt, terr := e.actAndRecover(ctx, goal, task, act, before, policy)
	taken++
	evt.StepNumber = baseStep + taken

	*history = append(*history, planner.HistoryEntry{Action: act, Success: evt.Success, Message: evt.Message})
	if len(*history) > planner.MaxHistoryEntries {
		*history = (*history)[len(*history)-planner.MaxHistoryEntries:]
	}

	logEntry := memory.ActionLogEntry{
		GoalID:        goal.ID,
		StepNumber:    evt.StepNumber,
		Timestamp:     time.Now(),
		ToolName:      string(act.Tool),
		Success:       evt.Success,
		ResultMessage: evt.Message,
		ScreenBefore:  observer.Digest(before),
		ScreenAfter:   evt.ScreenAfter,
		AIReasoning:   evt.Reasoning,
	}
	if raw, merr := marshalParams(act.Params); merr == nil {
		logEntry.Parameters = raw
	}
	e.logAction(ctx, goal.ID, logEntry)

	if l := e.listener; l != nil {
		l.OnStep(goal.ID, evt)
	}
	return popups, taken, evt, terr
}

func (e *Executor) logAction(ctx context.Context, goalID string, entry memory.ActionLogEntry) {
	if err := e.store.LogAction(ctx, entry); err != nil {
		e.logger.Warn(ctx, "executor: log_action failed", "goal", goalID, "error", err)
	}
}

// decide resolves the Action to dispatch for task: a fixed primitive task
// carries its own tool/params from planning time; an ai-decide task, or any
// task under agent-mode redecide, asks the planner for a fresh next_action.
func (e *Executor) decide(ctx context.Context, goal Goal, task *planner.Task, snap *observer.ScreenSnapshot, history []planner.HistoryEntry, policy modePolicy) (planner.Action, error) {
	needsDecision := task.Type == planner.TaskAIDecide || policy.verify == verifyAgentRedecide
	if !needsDecision {
		return planner.Action{Tool: task.Tool, Params: task.Params}, nil
	}
	if e.planner == nil {
		return planner.Action{Tool: task.Tool, Params: task.Params}, nil
	}
	pt := &planner.Task{ID: task.ID, Description: task.Description, Tool: task.Tool, Params: task.Params}
	act, err := e.planner.NextAction(ctx, pt, observer.Digest(snap), history)
	if err != nil && act.Tool != "" {
		// Degraded but usable: the planner synthesized a best-effort action
		// from the task's own tool.
		return act, nil
	}
	return act, err
}

// actAndRecover dispatches act, verifies its result per policy, and on
// failure consults the recovery pipeline — applying a suggested-action
// retry, a fail-policy-driven skip/takeover, or a fatal abort.
func (e *Executor) actAndRecover(ctx context.Context, goal Goal, task *planner.Task, act planner.Action, before *observer.ScreenSnapshot, policy modePolicy) (StepEvent, error) {
	evt := StepEvent{Task: task, Tool: string(act.Tool), Params: act.Params, Reasoning: act.Rationale, ScreenBefore: observer.Digest(before)}

	retries := 0
	for {
		res, err := e.registry.Dispatch(ctx, act.Tool, act.Params)
		if err != nil {
			res = toolregistry.ActionResult{Success: false, Message: err.Error()}
		}

		after, serr := e.obs.Snapshot(ctx, observer.ModeDiff)
		if serr == nil {
			evt.ScreenAfter = observer.Digest(after)
		}

		success := res.Success
		if success && policy.verify == verifyEachStep || success && policy.verify == verifyAgentRedecide {
			if serr == nil {
				diff, derr := e.obs.DiffFromBaseline(ctx)
				if derr == nil && len(diff.Added) == 0 && len(diff.Removed) == 0 && len(diff.Modified) == 0 && !isPassiveTool(act.Tool) {
					success = false
					res.Message = "screen unchanged after action"
				}
			}
		}

		if success {
			evt.Success = true
			evt.Message = res.Message
			return evt, nil
		}
		if policy.verify == verifyTrust {
			evt.Success = false
			evt.Message = res.Message
			return evt, nil
		}

		e.setState(goal.ID, StateRecovering)
		rc := recovery.Context{
			ErrorType:     classifyError(res.Message),
			ErrorMessage:  res.Message,
			CurrentScreen: after,
			LastAction:    act.Tool,
			LastParams:    act.Params,
			RetryCount:    retries,
		}
		rr := e.recovery.Recover(ctx, rc)
		evt.RecoveryApplied = string(rr.Kind)

		switch rr.Kind {
		case recovery.KindSuccess:
			if !rr.ShouldRetry || retries >= maxStepRecoveryRetries {
				evt.Success = true
				evt.Message = rr.Message
				return evt, nil
			}
			if rr.SuggestedAction != nil {
				act = planner.Action{Tool: rr.SuggestedAction.Tool, Params: rr.SuggestedAction.Params}
			}
			retries++
			continue
		case recovery.KindNeedHuman:
			e.setState(goal.ID, StateWaitingApproval)
			if !e.waitIfPaused(ctx, goal.ID) {
				evt.Success = false
				evt.Message = rr.Reason
				return evt, nil
			}
			retries++
			if retries > maxStepRecoveryRetries {
				evt.Success = false
				evt.Message = rr.Reason
				return evt, nil
			}
			continue
		case recovery.KindFailure:
			fallthrough
		default:
			if rr.Fatal {
				evt.Success = false
				evt.Message = rr.Message
				return evt, agenterr.New("executor: fatal recovery failure").WithCode(ErrFatalRecovery)
			}
			switch task.FailPolicy {
			case planner.FailPolicyAITakeover:
				if retries < maxStepRecoveryRetries && e.planner != nil {
					newAct, perr := e.planner.NextAction(ctx, task, observer.Digest(after), nil)
					if perr == nil {
						act = newAct
						retries++
						continue
					}
				}
				evt.Success = false
				evt.Message = rr.Message
				return evt, nil
			default:
				evt.Success = false
				evt.Message = rr.Message
				return evt, nil
			}
		}
	}
}

// nextPending walks the plan tree depth-first for the next pending
// primitive or ai-decide task, skipping subtrees whose composite status is
// already terminal; children execute in document order.
func nextPending(t *planner.Task) *planner.Task {
	if t == nil {
		return nil
	}
	if t.Leaf() || t.Type == planner.TaskAIDecide {
		if t.Status == planner.StatusPending {
			return t
		}
		return nil
	}
	if done, _ := t.CompositeDone(); done {
		return nil
	}
	for _, c := range t.Children {
		if found := nextPending(c); found != nil {
			return found
		}
	}
	return nil
}

// statusFor resolves a finished task's terminal status. A failure under a
// skip or ai-takeover fail policy must not fail the parent composite, so
// both map to StatusSkipped once their recovery options are exhausted.
func statusFor(success bool, policy planner.FailPolicy) planner.TaskStatus {
	if success {
		return planner.StatusSucceeded
	}
	if policy == planner.FailPolicySkip || policy == planner.FailPolicyAITakeover {
		return planner.StatusSkipped
	}
	return planner.StatusFailed
}

// classifyError maps a tool-result failure message to a recovery.ErrorType
// by keyword, so the pipeline can pick a strategy without a typed error
// from the tool layer.
func classifyError(msg string) recovery.ErrorType {
	m := strings.ToLower(msg)
	switch {
	case strings.Contains(m, "not found") || strings.Contains(m, "未找到"):
		return recovery.ErrElementNotFound
	case strings.Contains(m, "not clickable") || strings.Contains(m, "不可点击"):
		return recovery.ErrElementNotClick
	case strings.Contains(m, "dialog") || strings.Contains(m, "弹窗"):
		return recovery.ErrUnexpectedDialog
	case strings.Contains(m, "crash") || strings.Contains(m, "崩溃"):
		return recovery.ErrAppCrash
	case strings.Contains(m, "timeout") || strings.Contains(m, "超时"):
		return recovery.ErrTimeout
	case strings.Contains(m, "permission") || strings.Contains(m, "权限"):
		return recovery.ErrPermissionDenied
	case strings.Contains(m, "network") || strings.Contains(m, "网络"):
		return recovery.ErrNetworkError
	case strings.Contains(m, "screen unchanged") || strings.Contains(m, "changed"):
		return recovery.ErrScreenChanged
	default:
		return recovery.ErrUnknown
	}
}

func isPassiveTool(t toolregistry.Ident) bool {
	return t == toolregistry.ToolWait || t == toolregistry.ToolGetScreen
}

func marshalParams(params map[string]any) ([]byte, error) {
	if params == nil {
		return nil, nil
	}
	return json.Marshal(params)
}
