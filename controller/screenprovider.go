package controller

import (
	"context"

	"goagent.dev/mobileagent/observer"
	"goagent.dev/mobileagent/toolregistry"
)

// screenProvider adapts an *observer.Observer to toolregistry.ScreenProvider,
// so tap_element/swipe/get_screen resolve against the same live screen the
// executor observes rather than a disconnected placeholder. observer does
// not import toolregistry, so this small adapter lives on the wiring side,
// alongside executor.go's analogous screenAdapter for popup.ScreenSource.
type screenProvider struct {
	obs *observer.Observer
}

// NewScreenProvider returns a toolregistry.ScreenProvider backed by obs,
// using an incremental snapshot (cheap, cache-eligible) for
// every call.
func NewScreenProvider(obs *observer.Observer) toolregistry.ScreenProvider {
	return screenProvider{obs: obs}
}

func (p screenProvider) CurrentDigest(ctx context.Context) (toolregistry.ScreenDigest, error) {
	snap, err := p.obs.Snapshot(ctx, observer.ModeIncremental)
	if err != nil {
		return toolregistry.ScreenDigest{}, err
	}
	return toolregistry.ScreenDigest{
		Package:  snap.Package,
		Activity: snap.Activity,
		Summary:  observer.Digest(snap),
	}, nil
}

func (p screenProvider) FindElementByText(ctx context.Context, text string) (x, y int, found bool, err error) {
	snap, err := p.obs.Snapshot(ctx, observer.ModeIncremental)
	if err != nil {
		return 0, 0, false, err
	}
	if snap == nil || snap.Root == nil {
		return 0, 0, false, nil
	}
	node := observer.FindNode(snap.Root, observer.ByText(text))
	if node == nil {
		return 0, 0, false, nil
	}
	return node.Bounds.CenterX(), node.Bounds.CenterY(), true, nil
}

func (p screenProvider) ScreenSize(ctx context.Context) (width, height int, err error) {
	snap, err := p.obs.Snapshot(ctx, observer.ModeIncremental)
	if err != nil {
		return 0, 0, err
	}
	if snap == nil || snap.Root == nil {
		return 0, 0, nil
	}
	return snap.Root.Bounds.Right, snap.Root.Bounds.Bottom, nil
}
