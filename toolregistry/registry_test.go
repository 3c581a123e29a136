package toolregistry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEffector struct {
	taps    [][2]int
	swipes  [][5]int
	texts   []string
	keys    []Key
	apps    []string
	tapErr  error
}

func (f *fakeEffector) Tap(ctx context.Context, x, y int) error {
	if f.tapErr != nil {
		return f.tapErr
	}
	f.taps = append(f.taps, [2]int{x, y})
	return nil
}

func (f *fakeEffector) Swipe(ctx context.Context, x1, y1, x2, y2, durationMs int) error {
	f.swipes = append(f.swipes, [5]int{x1, y1, x2, y2, durationMs})
	return nil
}

func (f *fakeEffector) InputText(ctx context.Context, text string) error {
	f.texts = append(f.texts, text)
	return nil
}

func (f *fakeEffector) PressKey(ctx context.Context, key Key) error {
	f.keys = append(f.keys, key)
	return nil
}

func (f *fakeEffector) LaunchApp(ctx context.Context, pkg string) error {
	f.apps = append(f.apps, pkg)
	return nil
}

type fakeScreen struct {
	w, h     int
	elements map[string][2]int
}

func (f *fakeScreen) CurrentDigest(ctx context.Context) (ScreenDigest, error) {
	return ScreenDigest{Package: "com.example", Activity: "Main", Summary: "screen digest"}, nil
}

func (f *fakeScreen) FindElementByText(ctx context.Context, text string) (int, int, bool, error) {
	pt, ok := f.elements[text]
	return pt[0], pt[1], ok, nil
}

func (f *fakeScreen) ScreenSize(ctx context.Context) (int, int, error) {
	return f.w, f.h, nil
}

func newTestRegistry(t *testing.T) (*Registry, *fakeEffector, *fakeScreen) {
	t.Helper()
	eff := &fakeEffector{}
	screen := &fakeScreen{w: 1080, h: 1920, elements: map[string][2]int{"确认": {540, 960}}}
	r := New()
	require.NoError(t, RegisterBuiltins(r, eff, screen))
	return r, eff, screen
}

func TestDispatchTap(t *testing.T) {
	r, eff, _ := newTestRegistry(t)
	res, err := r.Dispatch(context.Background(), ToolTap, map[string]any{"x": 10, "y": 20})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, [][2]int{{10, 20}}, eff.taps)
}

func TestDispatchMissingRequiredParam(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	res, err := r.Dispatch(context.Background(), ToolTap, map[string]any{"x": 10})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "缺少 y 参数", res.Message)
}

func TestDispatchWrongKind(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	res, err := r.Dispatch(context.Background(), ToolTap, map[string]any{"x": "not-a-number", "y": 20})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "无效的 x", res.Message)
}

func TestDispatchEnumCaseInsensitive(t *testing.T) {
	r, eff, _ := newTestRegistry(t)
	res, err := r.Dispatch(context.Background(), ToolSwipe, map[string]any{"direction": "UP", "distance": "Medium"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	require.Len(t, eff.swipes, 1)
	s := eff.swipes[0]
	assert.Equal(t, 960+200, s[1]) // y1 = cy + px/2 for "up"
	assert.Equal(t, 960-200, s[3]) // y2
}

func TestDispatchSwipeDefaultDistance(t *testing.T) {
	r, eff, _ := newTestRegistry(t)
	_, err := r.Dispatch(context.Background(), ToolSwipe, map[string]any{"direction": "down"})
	require.NoError(t, err)
	require.Len(t, eff.swipes, 1)
}

func TestDispatchSwipeInvalidDirection(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	res, err := r.Dispatch(context.Background(), ToolSwipe, map[string]any{"direction": "sideways"})
	require.NoError(t, err)
	assert.False(t, res.Success)
}

func TestDispatchTapElementFound(t *testing.T) {
	r, eff, _ := newTestRegistry(t)
	res, err := r.Dispatch(context.Background(), ToolTapElement, map[string]any{"text": "确认"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, [][2]int{{540, 960}}, eff.taps)
}

func TestDispatchTapElementNotFound(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	res, err := r.Dispatch(context.Background(), ToolTapElement, map[string]any{"text": "不存在"})
	require.NoError(t, err)
	assert.False(t, res.Success)
}

func TestDispatchUnknownTool(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	_, err := r.Dispatch(context.Background(), Ident("nonexistent"), nil)
	assert.Error(t, err)
}

func TestDispatchWait(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	start := time.Now()
	res, err := r.Dispatch(context.Background(), ToolWait, map[string]any{"duration_ms": 5})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.GreaterOrEqual(t, time.Since(start), 5*time.Millisecond)
}

func TestDispatchGetScreen(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	res, err := r.Dispatch(context.Background(), ToolGetScreen, nil)
	require.NoError(t, err)
	assert.True(t, res.Success)
	digest, ok := res.Data.(ScreenDigest)
	require.True(t, ok)
	assert.Equal(t, "com.example", digest.Package)
}

func TestRegisterDuplicateFails(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	err := r.Register(ToolSpec{Name: ToolTap, Invoke: func(ctx context.Context, p map[string]any) (ActionResult, error) {
		return ActionResult{}, nil
	}})
	assert.Error(t, err)
}

func TestNamesNonEmpty(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	assert.False(t, r.Empty())
	assert.Len(t, r.Names(), 8)
}
