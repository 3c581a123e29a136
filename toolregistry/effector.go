package toolregistry

import "context"

// Effector is the external gesture/query contract the tool registry drives.
// Its implementation (accessibility-service bridge, emulator bridge, or a
// test double) lives outside this package's scope; toolregistry only needs
// to call it.
type Effector interface {
	Tap(ctx context.Context, x, y int) error
	Swipe(ctx context.Context, x1, y1, x2, y2 int, durationMs int) error
	InputText(ctx context.Context, text string) error
	PressKey(ctx context.Context, key Key) error
	LaunchApp(ctx context.Context, pkg string) error
}

// ScreenProvider is the minimal screen-reading contract the registry needs
// to resolve tap_element and to serve get_screen, satisfied by
// *observer.Observer without toolregistry importing it directly for its
// full surface.
type ScreenProvider interface {
	CurrentDigest(ctx context.Context) (ScreenDigest, error)
	FindElementByText(ctx context.Context, text string) (x, y int, found bool, err error)
	ScreenSize(ctx context.Context) (width, height int, err error)
}

// ScreenDigest is the data get_screen returns: a compact rendering of the
// current screen suitable for inclusion in a planning prompt.
type ScreenDigest struct {
	Package  string
	Activity string
	Summary  string
}
