// Package inmem provides an in-memory engine.Engine for tests, local
// development, and single-process deployments. It is not replay-safe and
// does not survive a process restart; use executor/engine/temporal for
// durable production runs.
package inmem

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"goagent.dev/mobileagent/executor/engine"
	"goagent.dev/mobileagent/telemetry"
)

type inmemEngine struct {
	mu         sync.RWMutex
	runs       map[string]engine.RunDefinition
	activities map[string]inmemActivity
}

type inmemActivity struct {
	handler func(context.Context, any) (any, error)
	opts    engine.ActivityOptions
}

// New returns a new in-memory Engine.
func New() engine.Engine {
	return &inmemEngine{}
}

func (e *inmemEngine) RegisterRun(_ context.Context, def engine.RunDefinition) error {
	if def.Name == "" || def.Handler == nil {
		return errors.New("inmem: invalid run definition")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.runs == nil {
		e.runs = make(map[string]engine.RunDefinition)
	}
	if _, dup := e.runs[def.Name]; dup {
		return fmt.Errorf("inmem: run %q already registered", def.Name)
	}
	e.runs[def.Name] = def
	return nil
}

func (e *inmemEngine) RegisterActivity(_ context.Context, def engine.ActivityDefinition) error {
	if def.Name == "" || def.Handler == nil {
		return errors.New("inmem: invalid activity definition")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.activities == nil {
		e.activities = make(map[string]inmemActivity)
	}
	if _, dup := e.activities[def.Name]; dup {
		return fmt.Errorf("inmem: activity %q already registered", def.Name)
	}
	e.activities[def.Name] = inmemActivity{
		handler: func(ctx context.Context, input any) (any, error) { return def.Handler(ctx, input) },
		opts:    def.Options,
	}
	return nil
}

func (e *inmemEngine) StartRun(ctx context.Context, req engine.RunStartRequest) (engine.RunHandle, error) {
	e.mu.RLock()
	def, ok := e.runs[req.Run]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("inmem: run %q not registered", req.Run)
	}
	if req.ID == "" {
		return nil, errors.New("inmem: run id is required")
	}

	rc := &runContext{
		ctx:  ctx,
		id:   req.ID,
		eng:  e,
		sigs: make(map[string]*signalChan),
	}
	h := &handle{done: make(chan struct{}), rc: rc}

	go func() {
		defer close(h.done)
		res, err := def.Handler(rc, req.Input)
		h.mu.Lock()
		h.result, h.err = res, err
		h.mu.Unlock()
	}()

	return h, nil
}

type handle struct {
	mu     sync.Mutex
	done   chan struct{}
	result any
	err    error
	rc     *runContext
}

func (h *handle) Wait(ctx context.Context, result any) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-h.done:
		h.mu.Lock()
		defer h.mu.Unlock()
		assignResult(result, h.result)
		return h.err
	}
}

func (h *handle) Signal(ctx context.Context, name string, payload any) error {
	ch := h.rc.SignalChannel(name).(*signalChan)
	select {
	case ch.ch <- payload:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-h.done:
		return errors.New("inmem: run already completed")
	}
}

func (h *handle) Cancel(ctx context.Context) error {
	return h.Signal(ctx, engine.SignalCancel, struct{}{})
}

type runContext struct {
	ctx  context.Context
	id   string
	eng  *inmemEngine

	sigMu sync.Mutex
	sigs  map[string]*signalChan
}

func (r *runContext) Context() context.Context   { return r.ctx }
func (r *runContext) RunID() string              { return r.id }
func (r *runContext) Logger() telemetry.Logger    { return telemetry.NewNoopLogger() }
func (r *runContext) Metrics() telemetry.Metrics  { return telemetry.NewNoopMetrics() }
func (r *runContext) Now() time.Time              { return time.Now() }

func (r *runContext) ExecuteActivity(ctx context.Context, req engine.ActivityRequest, result any) error {
	fut, err := r.ExecuteActivityAsync(ctx, req)
	if err != nil {
		return err
	}
	return fut.Get(ctx, result)
}

func (r *runContext) ExecuteActivityAsync(ctx context.Context, req engine.ActivityRequest) (engine.Future, error) {
	r.eng.mu.RLock()
	def, ok := r.eng.activities[req.Name]
	r.eng.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("inmem: activity %q not registered", req.Name)
	}
	f := &future{ready: make(chan struct{})}
	go func() {
		defer close(f.ready)
		res, err := def.handler(ctx, req.Input)
		f.mu.Lock()
		f.result, f.err = res, err
		f.mu.Unlock()
	}()
	return f, nil
}

func (r *runContext) SignalChannel(name string) engine.SignalChannel {
	r.sigMu.Lock()
	defer r.sigMu.Unlock()
	ch, ok := r.sigs[name]
	if !ok {
		ch = &signalChan{ch: make(chan any, 1)}
		r.sigs[name] = ch
	}
	return ch
}

type future struct {
	mu     sync.Mutex
	ready  chan struct{}
	result any
	err    error
}

func (f *future) Get(ctx context.Context, result any) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-f.ready:
		f.mu.Lock()
		defer f.mu.Unlock()
		assignResult(result, f.result)
		return f.err
	}
}

func (f *future) IsReady() bool {
	select {
	case <-f.ready:
		return true
	default:
		return false
	}
}

type signalChan struct{ ch chan any }

func (s *signalChan) Receive(ctx context.Context, dest any) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case v := <-s.ch:
		assignResult(dest, v)
		return nil
	}
}

func (s *signalChan) ReceiveAsync(dest any) bool {
	select {
	case v := <-s.ch:
		assignResult(dest, v)
		return true
	default:
		return false
	}
}

func assignResult(dst, src any) {
	if dst == nil || src == nil {
		return
	}
	dv := reflect.ValueOf(dst)
	if dv.Kind() != reflect.Ptr || dv.IsNil() {
		return
	}
	sv := reflect.ValueOf(src)
	if sv.IsValid() && sv.Type().AssignableTo(dv.Elem().Type()) {
		dv.Elem().Set(sv)
		return
	}
	if dv.Elem().Kind() == reflect.Interface && sv.Type().Implements(dv.Elem().Type()) {
		dv.Elem().Set(sv)
	}
}
