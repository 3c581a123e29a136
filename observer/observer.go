package observer

import (
	"context"
	"sync"
	"time"

	"goagent.dev/mobileagent/agenterr"
	"goagent.dev/mobileagent/telemetry"
)

// Observer implements the three-mode screen snapshotting (full,
// incremental, diff). It is safe for concurrent use: ObserveEvent is
// called by the screen source on an arbitrary thread while Snapshot/diff
// methods are called from the controller's single-threaded control loop.
type Observer struct {
	mu sync.Mutex

	source Source
	logger telemetry.Logger

	cache    *ScreenSnapshot
	cachedAt time.Time

	baseline *ScreenSnapshot

	events []ChangeEvent

	stats ObserverStats
}

// New constructs an Observer bound to the given screen source.
func New(source Source, logger telemetry.Logger) *Observer {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Observer{source: source, logger: logger}
}

// Snapshot reads the current screen per the requested capture mode.
func (o *Observer) Snapshot(ctx context.Context, mode CaptureMode) (*ScreenSnapshot, error) {
	switch mode {
	case ModeIncremental:
		return o.snapshotIncremental(ctx)
	case ModeDiff:
		snap, err := o.snapshotFull(ctx)
		if err != nil {
			return nil, err
		}
		o.mu.Lock()
		if o.baseline == nil {
			o.baseline = snap
		}
		o.mu.Unlock()
		return snap, nil
	case ModeFull, "":
		return o.snapshotFull(ctx)
	default:
		return o.snapshotFull(ctx)
	}
}

func (o *Observer) snapshotFull(ctx context.Context) (*ScreenSnapshot, error) {
	raw, pkg, activity, err := o.source.CaptureTree(ctx)
	if err != nil {
		return nil, agenterr.NewWithCause("capture screen tree", err).WithCode("no_root_window")
	}
	root, err := parseTree(scrubSecrets(raw))
	if err != nil {
		return nil, err
	}
	snap := &ScreenSnapshot{
		Timestamp: time.Now(),
		Package:   pkg,
		Activity:  activity,
		Root:      root,
	}
	o.mu.Lock()
	o.cache = snap
	o.cachedAt = snap.Timestamp
	o.stats.FullCount++
	o.mu.Unlock()
	return snap, nil
}

func (o *Observer) snapshotIncremental(ctx context.Context) (*ScreenSnapshot, error) {
	o.mu.Lock()
	fresh := o.cache != nil && time.Since(o.cachedAt) < CacheValidity && len(o.events) == 0
	cached := o.cache
	o.mu.Unlock()

	if fresh {
		o.mu.Lock()
		o.stats.IncrementalCount++
		o.stats.CacheHits++
		o.mu.Unlock()
		return cached, nil
	}
	snap, err := o.snapshotFull(ctx)
	if err != nil {
		return nil, err
	}
	o.mu.Lock()
	o.stats.IncrementalCount++
	o.mu.Unlock()
	return snap, nil
}

// ObserveEvent ingests a low-level change notification from the screen
// source. It never blocks: the queue is bounded and drops the oldest event
// on overflow.
func (o *Observer) ObserveEvent(evt RawChangeEvent) {
	ce := ChangeEvent{
		Type:        changeTypeFor(evt.Kind),
		Timestamp:   evt.Timestamp,
		Package:     evt.Package,
		Description: evt.Description,
		Node: &UINode{
			Class:       evt.Class,
			Text:        evt.Text,
			Description: evt.Description,
			ResourceID:  evt.ResourceID,
		},
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if len(o.events) >= MaxPendingEvents {
		o.events = o.events[1:]
	}
	o.events = append(o.events, ce)

	if ce.Type == ChangeWindowChanged {
		o.cache = nil
		o.cachedAt = time.Time{}
	}
	o.stats.Pending = len(o.events)
}

// TakeChanges drains and returns all pending change events.
func (o *Observer) TakeChanges() []ChangeEvent {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := o.events
	o.events = nil
	o.stats.Pending = 0
	return out
}

// PeekChanges returns a copy of the pending change events without consuming them.
func (o *Observer) PeekChanges() []ChangeEvent {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]ChangeEvent, len(o.events))
	copy(out, o.events)
	return out
}

// HasChanges reports whether any change events are pending.
func (o *Observer) HasChanges() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.events) > 0
}

// SetBaseline captures a fresh full snapshot and stores it as the named
// baseline for subsequent diff operations. The baseline is not replaced
// implicitly by any other method.
func (o *Observer) SetBaseline(ctx context.Context) error {
	snap, err := o.snapshotFull(ctx)
	if err != nil {
		return err
	}
	o.mu.Lock()
	o.baseline = snap
	o.mu.Unlock()
	return nil
}

// DiffFromBaseline takes a fresh full snapshot and computes a bounded diff
// against the baseline. If no baseline exists yet, this call captures one
// implicitly and returns an empty diff,
func (o *Observer) DiffFromBaseline(ctx context.Context) (ScreenDiff, error) {
	o.mu.Lock()
	baseline := o.baseline
	o.mu.Unlock()

	if baseline == nil {
		if err := o.SetBaseline(ctx); err != nil {
			return ScreenDiff{}, err
		}
		o.mu.Lock()
		o.stats.DiffCount++
		o.mu.Unlock()
		return ScreenDiff{}, nil
	}

	fresh, err := o.snapshotFull(ctx)
	if err != nil {
		return ScreenDiff{}, err
	}
	o.mu.Lock()
	o.stats.DiffCount++
	o.mu.Unlock()
	return Diff(baseline.Root, fresh.Root), nil
}

// DiffSummary computes the diff against the baseline and renders it as a
// short prompt-friendly string.
func (o *Observer) DiffSummary(ctx context.Context) (string, error) {
	d, err := o.DiffFromBaseline(ctx)
	if err != nil {
		return "", err
	}
	return Summary(d), nil
}

// Stats returns a snapshot of the observer's counters.
func (o *Observer) Stats() ObserverStats {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stats
}
