// Package executor implements the plan executor: the core control
// loop that pulls the next primitive task from a plan, observes the
// screen, decides an action, dispatches it, verifies the result, recovers
// from failure, and records every attempt — until the goal is satisfied, a
// budget is exhausted, or cancellation is requested.
package executor

import (
	"time"

	"goagent.dev/mobileagent/observer"
	"goagent.dev/mobileagent/planner"
)

// RunState is the executor's current lifecycle state. Exactly
// one value holds at any observable instant.
type RunState string

const (
	StateIdle             RunState = "idle"
	StateThinking         RunState = "thinking"
	StateExecuting        RunState = "executing"
	StateObserving        RunState = "observing"
	StatePaused           RunState = "paused"
	StateWaitingApproval  RunState = "waiting-for-approval"
	StateRecovering       RunState = "recovering"
	StateStopped          RunState = "stopped"
)

// Mode is an orthogonal execution policy selecting how much model
// involvement occurs per step.
type Mode string

const (
	ModeFast    Mode = "fast"
	ModeSmart   Mode = "smart"
	ModeMonitor Mode = "monitor"
	ModeAgent   Mode = "agent"
)

// modePolicy bundles the per-mode pre-clean and verify knobs.
type modePolicy struct {
	preClean bool
	verify   verifyPolicy
}

type verifyPolicy string

const (
	verifyTrust           verifyPolicy = "trust"
	verifyOnFailureOnly   verifyPolicy = "trust-verify-on-failure"
	verifyEachStep        verifyPolicy = "verify-each-step"
	verifyAgentRedecide   verifyPolicy = "agent-redecide"
)

func policyFor(mode Mode) modePolicy {
	switch mode {
	case ModeFast:
		return modePolicy{preClean: false, verify: verifyTrust}
	case ModeMonitor:
		return modePolicy{preClean: true, verify: verifyEachStep}
	case ModeAgent:
		return modePolicy{preClean: true, verify: verifyAgentRedecide}
	case ModeSmart:
		fallthrough
	default:
		return modePolicy{preClean: true, verify: verifyOnFailureOnly}
	}
}

// PredicateKind names one of the completion-predicate variants.
type PredicateKind string

const (
	PredicateElementTextAppears    PredicateKind = "element-text-appears"
	PredicateElementTextDisappears PredicateKind = "element-text-disappears"
	PredicateReachedAppScreen      PredicateKind = "reached-app-screen"
	PredicateModelDecided          PredicateKind = "model-decided"
	PredicateCustom                PredicateKind = "custom"
)

// CompletionPredicate decides whether a goal's intent has been satisfied by
// the current screen. It is immutable once a Goal is created.
type CompletionPredicate struct {
	Kind     PredicateKind
	Text     string // element-text-appears / element-text-disappears
	Pkg      string // reached-app-screen
	Activity string // reached-app-screen, optional

	// Custom is invoked for PredicateCustom; nil for the other kinds.
	Custom func(snap *observer.ScreenSnapshot) bool
}

// Satisfied evaluates the predicate against the current screen. For
// model-decided predicates, satisfied is always false here: such a run
// completes only when the plan runs out of primitive tasks, and no mode
// lets the model declare the goal met (ambiguous completion conditions
// default to model-decided).
func (p CompletionPredicate) Satisfied(snap *observer.ScreenSnapshot) bool {
	if snap == nil || snap.Root == nil {
		return false
	}
	switch p.Kind {
	case PredicateElementTextAppears:
		return observer.FindNode(snap.Root, observer.ByText(p.Text)) != nil
	case PredicateElementTextDisappears:
		return observer.FindNode(snap.Root, observer.ByText(p.Text)) == nil
	case PredicateReachedAppScreen:
		if p.Activity != "" {
			return snap.Package == p.Pkg && snap.Activity == p.Activity
		}
		return snap.Package == p.Pkg
	case PredicateCustom:
		if p.Custom == nil {
			return false
		}
		return p.Custom(snap)
	case PredicateModelDecided:
		return false
	default:
		return false
	}
}

// Goal is the immutable, user-supplied task description.
type Goal struct {
	ID          string
	Description string
	Completion  CompletionPredicate
	// StepBudget bounds primitive steps. A budget of 0 fails immediately
	// with step-budget-exceeded; negative disables the bound.
	StepBudget int
	Deadline   time.Time
}

// Result is the terminal outcome of one plan execution.
type Result struct {
	Success         bool
	Error           string
	StepsExecuted   int
	PopupsDismissed int
}

// Known terminal error codes emitted in Result.Error.
const (
	ErrStepBudgetExceeded = "step-budget-exceeded"
	ErrDeadlineExceeded   = "deadline-exceeded"
	ErrCancelled          = "cancelled"
	ErrFatalRecovery      = "fatal-recovery"
	ErrEmptyPlanUnmet     = "empty-plan-unmet"
	ErrPlanFailed         = "plan-failed"
)

// StepEvent is emitted after every primitive task attempt, for the
// controller to forward to the operator protocol as progress/log frames.
type StepEvent struct {
	StepNumber      int
	Task            *planner.Task
	Tool            string
	Params          map[string]any
	Success         bool
	Message         string
	ScreenBefore    string
	ScreenAfter     string
	Reasoning       string
	RecoveryApplied string
}

// Listener receives step-level and state-transition notifications during a
// run. Implementations must not block; the executor calls Listener methods
// synchronously from the control loop goroutine.
type Listener interface {
	OnStateChange(goalID string, state RunState)
	OnStep(goalID string, evt StepEvent)
}
