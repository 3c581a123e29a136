package main

import (
	"context"
	"fmt"

	"goagent.dev/mobileagent/observer"
	"goagent.dev/mobileagent/recovery"
	"goagent.dev/mobileagent/toolregistry"
)

// stubSource is a placeholder for the platform's screen source. It
// reports an empty foreground window; a real deployment replaces this
// with an accessibility-service or emulator bridge that feeds
// observer.Source.
type stubSource struct{}

func (stubSource) CaptureTree(ctx context.Context) ([]byte, string, string, error) {
	return nil, "", "", observer.ErrNoRootWindow
}

// stubEffector is a placeholder for the platform effector. It always
// reports success so the control loop can be exercised end-to-end against
// a stub screen.
type stubEffector struct{}

func (stubEffector) Tap(ctx context.Context, x, y int) error { return nil }
func (stubEffector) Swipe(ctx context.Context, x1, y1, x2, y2 int, durationMs int) error {
	return nil
}
func (stubEffector) InputText(ctx context.Context, text string) error        { return nil }
func (stubEffector) PressKey(ctx context.Context, key toolregistry.Key) error { return nil }
func (stubEffector) LaunchApp(ctx context.Context, pkg string) error          { return nil }

// allowAllPolicy accepts every permission dialog, a conservative default
// recovery.Policy wiring for the permission-dialog strategy until a product
// policy is configured.
type allowAllPolicy struct{}

func (allowAllPolicy) Decide(ctx context.Context, rc recovery.Context) bool { return true }

// noopRelauncher satisfies recovery.AppRelauncher when no real platform
// launcher is wired; it reports success without doing anything.
type noopRelauncher struct{}

func (noopRelauncher) Relaunch(ctx context.Context, pkg string) error {
	if pkg == "" {
		return fmt.Errorf("agentd: cannot relaunch: unknown package")
	}
	return nil
}

// dismisserScreenSource adapts an observer.Observer + toolregistry.Effector
// pair to popup.ScreenSource, for the standard dialog-dismiss recovery
// strategy (reuses the same shape the executor package builds internally).
type dismisserScreenSource struct {
	obs *observer.Observer
	eff toolregistry.Effector
}

func (d dismisserScreenSource) CurrentTree(ctx context.Context) (*observer.UINode, string, error) {
	snap, err := d.obs.Snapshot(ctx, observer.ModeFull)
	if err != nil {
		return nil, "", err
	}
	return snap.Root, snap.Package, nil
}

func (d dismisserScreenSource) Tap(ctx context.Context, x, y int) error {
	return d.eff.Tap(ctx, x, y)
}
