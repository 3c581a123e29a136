// Package engine defines a pluggable durable-execution abstraction for goal
// runs: the same run can be driven by an in-memory engine (tests, local
// development) or by Temporal (crash-safe, long-running deployments)
// without the executor's control loop changing shape.
package engine

import (
	"context"
	"time"

	"goagent.dev/mobileagent/telemetry"
)

type (
	// Engine abstracts run registration and execution so adapters (Temporal
	// or in-memory) can be swapped without touching the executor. Every
	// implementation translates these generic types into backend-specific
	// primitives.
	Engine interface {
		// RegisterRun registers a run definition with the engine. Must be
		// called during startup before any run is started.
		RegisterRun(ctx context.Context, def RunDefinition) error

		// RegisterActivity registers a short-lived activity handler, invoked
		// from within a run (e.g. "dispatch_tool", "observe_screen").
		RegisterActivity(ctx context.Context, def ActivityDefinition) error

		// StartRun launches a new durable run and returns a handle for
		// interacting with it. req.ID must be unique within the engine.
		StartRun(ctx context.Context, req RunStartRequest) (RunHandle, error)
	}

	// RunDefinition binds a run handler to a logical name and default queue.
	RunDefinition struct {
		// Name is the logical identifier registered with the engine (e.g.,
		// "ExecuteGoal").
		Name string
		// TaskQueue is the default queue new runs are scheduled on.
		TaskQueue string
		// Handler is the function invoked by the engine when the run executes.
		Handler RunFunc
	}

	// RunFunc is the durable entry point for a goal run. It must be
	// deterministic: given the same input and the same sequence of activity
	// results, it must produce the same sequence of activity calls, so that
	// a Temporal-backed implementation can safely replay it.
	RunFunc func(ctx RunContext, input any) (any, error)

	// RunContext exposes engine operations to a run handler inside its
	// deterministic execution environment. It wraps engine-specific
	// contexts (a Temporal workflow.Context, or a plain context for the
	// in-memory engine) behind one API.
	//
	// Implementations must ensure deterministic replay: ExecuteActivity and
	// SignalChannel must produce deterministic results on replay. Direct
	// I/O, randomness, or wall-clock reads inside a run handler violate
	// determinism; use Now() instead of time.Now().
	//
	// RunContext is bound to a single run and must not be shared across
	// goroutines; the engine serializes activity and signal operations.
	RunContext interface {
		// Context returns the underlying Go context, replay-aware on
		// durable engines. Use this for activity execution and
		// cancellation propagation.
		Context() context.Context

		// RunID returns the unique identifier for this run.
		RunID() string

		// ExecuteActivity schedules an activity and blocks for its result,
		// populating result with the activity's return value.
		ExecuteActivity(ctx context.Context, req ActivityRequest, result any) error

		// ExecuteActivityAsync schedules an activity without blocking and
		// returns a Future, enabling parallel activities (e.g. a screen
		// observation alongside a popup pre-clean pass).
		ExecuteActivityAsync(ctx context.Context, req ActivityRequest) (Future, error)

		// SignalChannel returns a channel for the named signal (e.g.
		// "pause", "resume", "cancel", "operator_command"). Run code polls
		// or blocks on it to react to external control-plane events.
		SignalChannel(name string) SignalChannel

		Logger() telemetry.Logger
		Metrics() telemetry.Metrics

		// Now returns the current time in a replay-safe manner.
		Now() time.Time
	}

	// Future represents a pending activity result.
	//
	// Calling Get multiple times is safe and returns the same result/error
	// each time. Get must be called before the run exits; an abandoned
	// Future leaks resources on some engines.
	Future interface {
		Get(ctx context.Context, result any) error
		IsReady() bool
	}

	// ActivityDefinition registers an activity handler with optional
	// retry/timeout defaults.
	ActivityDefinition struct {
		Name    string
		Handler ActivityFunc
		Options ActivityOptions
	}

	// ActivityFunc handles one activity invocation. Unlike a RunFunc, an
	// activity may perform side effects: dispatching a tool, capturing a
	// screen, calling the model, writing to the memory store.
	ActivityFunc func(ctx context.Context, input any) (any, error)

	// ActivityOptions configures retry and timeout behavior for an activity.
	ActivityOptions struct {
		Queue       string
		RetryPolicy RetryPolicy
		// Timeout bounds the total activity execution time including
		// retries. Zero means no timeout.
		Timeout time.Duration
	}

	// RunStartRequest describes how to launch a run.
	RunStartRequest struct {
		// ID is the run identifier; must be unique within the engine scope.
		// Derived from the goal ID.
		ID       string
		Run      string
		TaskQueue string
		Input    any
		Memo     map[string]any
		RetryPolicy RetryPolicy
	}

	// ActivityRequest contains what's needed to schedule an activity from a
	// run handler.
	ActivityRequest struct {
		Name        string
		Input       any
		Queue       string
		RetryPolicy RetryPolicy
		Timeout     time.Duration
	}

	// RunHandle lets callers interact with a running goal execution.
	RunHandle interface {
		// Wait blocks until the run completes, populating result with its
		// return value (an executor.Result, wire-shaped).
		Wait(ctx context.Context, result any) error
		// Signal delivers an asynchronous message (pause/resume/cancel) to
		// the run.
		Signal(ctx context.Context, name string, payload any) error
		// Cancel requests cancellation of the run.
		Cancel(ctx context.Context) error
	}

	// RetryPolicy defines retry semantics shared by runs and activities.
	// Zero-valued fields mean the engine uses its defaults.
	RetryPolicy struct {
		MaxAttempts        int
		InitialInterval    time.Duration
		BackoffCoefficient float64
	}

	// SignalChannel exposes control-plane signal delivery in an
	// engine-agnostic way.
	SignalChannel interface {
		Receive(ctx context.Context, dest any) error
		ReceiveAsync(dest any) bool
	}
)

// Signal names for pause/resume/cancel delivery over a RunContext's
// SignalChannel (the inmem engine's run handle sends SignalCancel). The
// executor's own Pause/Resume/Cancel set in-process flags and do not use
// these signals.
const (
	SignalPause  = "pause"
	SignalResume = "resume"
	SignalCancel = "cancel"
)

// Activity names for the control loop's steps. Neither engine in this
// repository registers them; the executor calls its collaborators
// directly.
const (
	ActivityObserveScreen = "observe_screen"
	ActivityDispatchTool  = "dispatch_tool"
	ActivityDismissPopups = "dismiss_popups"
	ActivityRecover       = "recover"
	ActivityLogAction     = "log_action"
)
