// Package temporal implements engine.Engine on top of the Temporal Go SDK,
// giving a goal run crash-safe, replay-based durability: if the worker
// process dies mid-run, Temporal resumes the run from its event history
// instead of losing progress.
//
// This adapter is deliberately narrower than a general-purpose Temporal
// wrapper: it manages exactly one worker per task queue and does not expose
// child workflows, queries, or typed activity registration — only what the
// executor's control loop needs (RegisterRun/RegisterActivity/StartRun).
package temporal

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	temporalotel "go.temporal.io/sdk/contrib/opentelemetry"
	"go.temporal.io/sdk/interceptor"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"goagent.dev/mobileagent/executor/engine"
	"goagent.dev/mobileagent/telemetry"
)

// Options configures the Temporal engine adapter.
type Options struct {
	// Client is a pre-configured Temporal client. If nil, ClientOptions is
	// used to lazily create one.
	Client client.Client
	// ClientOptions configures a lazily created client when Client is nil.
	ClientOptions *client.Options
	// TaskQueue is the default queue for runs and activities that don't
	// specify one. Required.
	TaskQueue string
	// WorkerOptions configures the underlying Temporal worker.
	WorkerOptions worker.Options
	Logger        telemetry.Logger

	// DisableTracing skips installing the OTEL tracing interceptor on the
	// worker and on a lazily created client. A pre-configured Client keeps
	// whatever interceptors it was built with either way.
	DisableTracing bool
	// TracerOptions customize the OTEL tracing interceptor.
	TracerOptions temporalotel.TracerOptions
	// DisableMetrics skips installing the OTEL metrics handler on a lazily
	// created client.
	DisableMetrics bool
	// MetricsOptions customize the OTEL metrics handler.
	MetricsOptions temporalotel.MetricsHandlerOptions
}

// Engine implements engine.Engine using Temporal as the durable backend.
type Engine struct {
	client      client.Client
	closeClient bool
	queue       string
	workerOpts  worker.Options
	logger      telemetry.Logger

	mu      sync.Mutex
	w       worker.Worker
	started bool
}

// New constructs a Temporal-backed Engine. The first StartRun starts the
// worker, so every run and activity must be registered before that call.
func New(opts Options) (*Engine, error) {
	if opts.TaskQueue == "" {
		return nil, fmt.Errorf("temporal engine: task queue is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}

	var tracer interceptor.Interceptor
	if !opts.DisableTracing {
		t, err := temporalotel.NewTracingInterceptor(opts.TracerOptions)
		if err != nil {
			return nil, fmt.Errorf("temporal engine: configure tracing interceptor: %w", err)
		}
		tracer = t
	}

	cli := opts.Client
	closeClient := false
	if cli == nil {
		if opts.ClientOptions == nil {
			return nil, fmt.Errorf("temporal engine: client or client options required")
		}
		copts := *opts.ClientOptions
		if tracer != nil {
			copts.Interceptors = append(copts.Interceptors, tracer)
		}
		if !opts.DisableMetrics && copts.MetricsHandler == nil {
			copts.MetricsHandler = temporalotel.NewMetricsHandler(opts.MetricsOptions)
		}
		var err error
		cli, err = client.NewLazyClient(copts)
		if err != nil {
			return nil, fmt.Errorf("temporal engine: create client: %w", err)
		}
		closeClient = true
	}

	workerOpts := opts.WorkerOptions
	if tracer != nil {
		workerOpts.Interceptors = append(workerOpts.Interceptors, tracer)
	}

	e := &Engine{
		client:      cli,
		closeClient: closeClient,
		queue:       opts.TaskQueue,
		workerOpts:  workerOpts,
		logger:      logger,
	}
	e.w = worker.New(e.client, e.queue, e.workerOpts)
	return e, nil
}

// RegisterRun registers def.Handler as a Temporal workflow, wrapped to
// present the engine.RunContext abstraction the executor's control loop
// expects.
func (e *Engine) RegisterRun(_ context.Context, def engine.RunDefinition) error {
	if def.Name == "" || def.Handler == nil {
		return fmt.Errorf("temporal engine: invalid run definition")
	}
	e.w.RegisterWorkflowWithOptions(func(tctx workflow.Context, input any) (any, error) {
		rc := newTemporalRunContext(e, tctx)
		return def.Handler(rc, input)
	}, workflow.RegisterOptions{Name: def.Name})
	return nil
}

// RegisterActivity registers def.Handler as a Temporal activity.
func (e *Engine) RegisterActivity(_ context.Context, def engine.ActivityDefinition) error {
	if def.Name == "" || def.Handler == nil {
		return fmt.Errorf("temporal engine: invalid activity definition")
	}
	e.w.RegisterActivityWithOptions(func(actx context.Context, input any) (any, error) {
		return def.Handler(actx, input)
	}, activity.RegisterOptions{Name: def.Name})
	return nil
}

// StartRun launches req.Run on Temporal. Workers are started lazily on
// first use.
func (e *Engine) StartRun(ctx context.Context, req engine.RunStartRequest) (engine.RunHandle, error) {
	if req.Run == "" {
		return nil, fmt.Errorf("temporal engine: run name is required")
	}
	e.ensureStarted()

	queue := req.TaskQueue
	if queue == "" {
		queue = e.queue
	}
	startOpts := client.StartWorkflowOptions{ID: req.ID, TaskQueue: queue}
	if rp := convertRetryPolicy(req.RetryPolicy); rp != nil {
		startOpts.RetryPolicy = rp
	}

	run, err := e.client.ExecuteWorkflow(ctx, startOpts, req.Run, req.Input)
	if err != nil {
		var started *serviceerror.WorkflowExecutionAlreadyStarted
		if errors.As(err, &started) {
			return nil, fmt.Errorf("temporal engine: run %q is already executing: %w", req.ID, err)
		}
		return nil, err
	}
	return &runHandle{run: run, client: e.client}, nil
}

func (e *Engine) ensureStarted() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return
	}
	e.started = true
	go func() {
		if err := e.w.Run(worker.InterruptCh()); err != nil {
			e.logger.Error(context.Background(), "temporal engine: worker stopped", "error", err)
		}
	}()
}

// Close shuts down the worker and, if this engine created the client,
// closes it too.
func (e *Engine) Close() {
	e.w.Stop()
	if e.closeClient {
		e.client.Close()
	}
}

func convertRetryPolicy(r engine.RetryPolicy) *temporal.RetryPolicy {
	if r.MaxAttempts == 0 && r.InitialInterval == 0 && r.BackoffCoefficient == 0 {
		return nil
	}
	p := &temporal.RetryPolicy{}
	if r.MaxAttempts > 0 {
		p.MaximumAttempts = int32(r.MaxAttempts)
	}
	if r.InitialInterval > 0 {
		p.InitialInterval = r.InitialInterval
	}
	if r.BackoffCoefficient > 0 {
		p.BackoffCoefficient = r.BackoffCoefficient
	}
	return p
}

type runHandle struct {
	run    client.WorkflowRun
	client client.Client
}

func (h *runHandle) Wait(ctx context.Context, result any) error {
	return h.run.Get(ctx, result)
}

func (h *runHandle) Signal(ctx context.Context, name string, payload any) error {
	return h.client.SignalWorkflow(ctx, h.run.GetID(), h.run.GetRunID(), name, payload)
}

func (h *runHandle) Cancel(ctx context.Context) error {
	return h.client.CancelWorkflow(ctx, h.run.GetID(), h.run.GetRunID())
}
