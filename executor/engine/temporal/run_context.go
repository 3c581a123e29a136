package temporal

import (
	"context"
	"time"

	sdktemporal "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"goagent.dev/mobileagent/executor/engine"
	"goagent.dev/mobileagent/telemetry"
)

// temporalRunContext adapts a Temporal workflow.Context into engine.RunContext,
// the same surface the in-memory engine exposes to a run handler.
type temporalRunContext struct {
	e      *Engine
	ctx    workflow.Context
	runID  string
}

func newTemporalRunContext(e *Engine, ctx workflow.Context) *temporalRunContext {
	info := workflow.GetInfo(ctx)
	return &temporalRunContext{e: e, ctx: ctx, runID: info.WorkflowExecution.RunID}
}

// Context returns a plain context carrying the run id; Temporal activities
// invoked through ExecuteActivity do not use this value directly (Temporal
// requires workflow.Context for scheduling), it exists so RunFunc
// implementations shared with the in-memory engine compile against both.
func (r *temporalRunContext) Context() context.Context {
	return context.WithValue(context.Background(), runIDContextKey{}, r.runID)
}

type runIDContextKey struct{}

func (r *temporalRunContext) RunID() string { return r.runID }

func (r *temporalRunContext) Logger() telemetry.Logger   { return r.e.logger }
func (r *temporalRunContext) Metrics() telemetry.Metrics { return telemetry.NewNoopMetrics() }
func (r *temporalRunContext) Now() time.Time             { return workflow.Now(r.ctx) }

func (r *temporalRunContext) ExecuteActivity(_ context.Context, req engine.ActivityRequest, result any) error {
	ctx := r.withActivityOptions(req)
	return workflow.ExecuteActivity(ctx, req.Name, req.Input).Get(ctx, result)
}

func (r *temporalRunContext) ExecuteActivityAsync(_ context.Context, req engine.ActivityRequest) (engine.Future, error) {
	ctx := r.withActivityOptions(req)
	return &temporalFuture{future: workflow.ExecuteActivity(ctx, req.Name, req.Input), ctx: ctx}, nil
}

func (r *temporalRunContext) withActivityOptions(req engine.ActivityRequest) workflow.Context {
	opts := workflow.ActivityOptions{TaskQueue: req.Queue}
	if req.Timeout > 0 {
		opts.StartToCloseTimeout = req.Timeout
	} else {
		opts.StartToCloseTimeout = time.Minute
	}
	if rp := convertRetryPolicy(req.RetryPolicy); rp != nil {
		opts.RetryPolicy = rp
	}
	return workflow.WithActivityOptions(r.ctx, opts)
}

func (r *temporalRunContext) SignalChannel(name string) engine.SignalChannel {
	return &temporalSignalChannel{ctx: r.ctx, ch: workflow.GetSignalChannel(r.ctx, name)}
}

type temporalFuture struct {
	future workflow.Future
	ctx    workflow.Context
}

func (f *temporalFuture) Get(_ context.Context, result any) error {
	return normalizeTemporalError(f.future.Get(f.ctx, result))
}

func (f *temporalFuture) IsReady() bool { return f.future.IsReady() }

type temporalSignalChannel struct {
	ctx workflow.Context
	ch  workflow.ReceiveChannel
}

func (s *temporalSignalChannel) Receive(_ context.Context, dest any) error {
	s.ch.Receive(s.ctx, dest)
	return nil
}

func (s *temporalSignalChannel) ReceiveAsync(dest any) bool {
	return s.ch.ReceiveAsync(dest)
}

// normalizeTemporalError translates Temporal's cancellation error into the
// stdlib context.Canceled so callers can classify it uniformly across
// engine backends without depending on Temporal SDK error types.
func normalizeTemporalError(err error) error {
	if err == nil {
		return nil
	}
	if sdktemporal.IsCanceledError(err) {
		return context.Canceled
	}
	return err
}
