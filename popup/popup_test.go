package popup

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goagent.dev/mobileagent/observer"
)

func node(text, desc string, clickable bool, bounds observer.Rect, children ...*observer.UINode) *observer.UINode {
	return &observer.UINode{Text: text, Description: desc, Clickable: clickable, Bounds: bounds, Children: children}
}

func TestDetectFindsCloseButton(t *testing.T) {
	root := node("", "", false, observer.Rect{}, node("×", "", true, observer.Rect{Left: 900, Top: 100, Right: 950, Bottom: 150}))
	det := Detect(root, "com.example", DefaultLexicons())
	assert.True(t, det.Found)
	assert.False(t, det.UnknownPopup)
}

func TestDetectAvoidLexiconWinsOverClose(t *testing.T) {
	// node text contains both a close-ish word ("取消") phrase and an avoid
	// phrase ("确认领取") - avoid must win.
	root := node("确认领取 取消", "", true, observer.Rect{Left: 0, Top: 0, Right: 100, Bottom: 100})
	det := Detect(root, "com.example", DefaultLexicons())
	assert.False(t, det.Found)
}

func TestDetectSingleCharTokenExactMatch(t *testing.T) {
	// "x" as a substring inside a longer unrelated word must not match,
	// since single-character tokens are compared exactly.
	root := node("exit the app", "", true, observer.Rect{Left: 0, Top: 0, Right: 10, Bottom: 10})
	det := Detect(root, "com.example", DefaultLexicons())
	assert.False(t, det.Found)
}

func TestDetectUnknownPopupFallback(t *testing.T) {
	root := node("温馨提示", "", false, observer.Rect{})
	det := Detect(root, "com.example", DefaultLexicons())
	assert.False(t, det.Found)
	assert.True(t, det.UnknownPopup)
}

func TestDetectNoPopup(t *testing.T) {
	root := node("", "", false, observer.Rect{}, node("首页", "", true, observer.Rect{Left: 0, Top: 0, Right: 50, Bottom: 50}))
	det := Detect(root, "com.example", DefaultLexicons())
	assert.False(t, det.Found)
	assert.False(t, det.UnknownPopup)
}

type scriptedScreen struct {
	trees []*observer.UINode
	idx   int
	taps  [][2]int
}

func (s *scriptedScreen) CurrentTree(ctx context.Context) (*observer.UINode, string, error) {
	i := s.idx
	if i >= len(s.trees) {
		i = len(s.trees) - 1
	}
	return s.trees[i], "com.example", nil
}

func (s *scriptedScreen) Tap(ctx context.Context, x, y int) error {
	s.taps = append(s.taps, [2]int{x, y})
	s.idx++
	return nil
}

func TestDismisserClearsPopupThenStops(t *testing.T) {
	popupTree := node("", "", false, observer.Rect{}, node("×", "", true, observer.Rect{Left: 100, Top: 100, Right: 150, Bottom: 150}))
	clearTree := node("", "", false, observer.Rect{}, node("首页", "", true, observer.Rect{Left: 0, Top: 0, Right: 50, Bottom: 50}))
	src := &scriptedScreen{trees: []*observer.UINode{popupTree, clearTree}}
	d := New(src)
	d.Delay = 0

	res, err := d.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Dismissed)
	assert.Equal(t, 1, res.PopupsCleared)
	assert.Len(t, src.taps, 1)
}

func TestDismisserIdempotentOnClearScreen(t *testing.T) {
	clearTree := node("", "", false, observer.Rect{}, node("首页", "", true, observer.Rect{Left: 0, Top: 0, Right: 50, Bottom: 50}))
	src := &scriptedScreen{trees: []*observer.UINode{clearTree}}
	d := New(src)
	d.Delay = 0

	res, err := d.Run(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Dismissed)
	assert.Equal(t, 0, res.PopupsCleared)
}

func TestDismisserRespectsAttemptBudget(t *testing.T) {
	alwaysPopup := node("", "", false, observer.Rect{}, node("×", "", true, observer.Rect{Left: 100, Top: 100, Right: 150, Bottom: 150}))
	d := New(&loopingScreen{node: alwaysPopup})
	d.Delay = 0
	d.N = 3

	res, err := d.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, res.PopupsCleared)
}

// loopingScreen always presents the same popup regardless of taps, to
// exercise the N-attempt cap.
type loopingScreen struct {
	node *observer.UINode
	taps int
}

func (l *loopingScreen) CurrentTree(ctx context.Context) (*observer.UINode, string, error) {
	return l.node, "com.example", nil
}

func (l *loopingScreen) Tap(ctx context.Context, x, y int) error {
	l.taps++
	return nil
}
