package observer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	trees [][]byte
	idx   int
	pkg   string
	act   string
	err   error
}

func (f *fakeSource) CaptureTree(context.Context) ([]byte, string, string, error) {
	if f.err != nil {
		return nil, "", "", f.err
	}
	i := f.idx
	if i >= len(f.trees) {
		i = len(f.trees) - 1
	}
	f.idx++
	return f.trees[i], f.pkg, f.act, nil
}

const treeA = `{"class":"Root","children":[{"class":"Button","text":"确认","resourceId":"btn.ok","bounds":[440,910,640,1010],"clickable":true,"enabled":true}]}`
const treeB = `{"class":"Root","children":[{"class":"Button","text":"确认","resourceId":"btn.ok","bounds":[440,910,640,1010],"clickable":true,"enabled":true},{"class":"TextView","text":"已点击确认","resourceId":"txt.done"}]}`

func TestSnapshotFull(t *testing.T) {
	src := &fakeSource{trees: [][]byte{[]byte(treeA)}, pkg: "com.example", act: "MainActivity"}
	obs := New(src, nil)
	snap, err := obs.Snapshot(context.Background(), ModeFull)
	require.NoError(t, err)
	assert.Equal(t, "com.example", snap.Package)
	assert.Len(t, snap.Root.Children, 1)
	assert.Equal(t, int64(1), obs.Stats().FullCount)
}

func TestSnapshotIncrementalReusesCache(t *testing.T) {
	src := &fakeSource{trees: [][]byte{[]byte(treeA), []byte(treeB)}}
	obs := New(src, nil)
	first, err := obs.Snapshot(context.Background(), ModeFull)
	require.NoError(t, err)

	second, err := obs.Snapshot(context.Background(), ModeIncremental)
	require.NoError(t, err)
	assert.Same(t, first, second, "incremental should reuse the cached snapshot")
	assert.Equal(t, int64(1), obs.Stats().CacheHits)
}

func TestSnapshotIncrementalFallsBackOnPendingEvent(t *testing.T) {
	src := &fakeSource{trees: [][]byte{[]byte(treeA), []byte(treeB)}}
	obs := New(src, nil)
	_, err := obs.Snapshot(context.Background(), ModeFull)
	require.NoError(t, err)

	obs.ObserveEvent(RawChangeEvent{Kind: "content_changed", Timestamp: time.Now()})

	second, err := obs.Snapshot(context.Background(), ModeIncremental)
	require.NoError(t, err)
	assert.Len(t, second.Root.Children, 2, "should have fallen back to a fresh full snapshot")
}

func TestWindowChangedClearsCache(t *testing.T) {
	src := &fakeSource{trees: [][]byte{[]byte(treeA), []byte(treeA)}}
	obs := New(src, nil)
	first, err := obs.Snapshot(context.Background(), ModeFull)
	require.NoError(t, err)

	obs.ObserveEvent(RawChangeEvent{Kind: "window_changed", Timestamp: time.Now()})

	second, err := obs.Snapshot(context.Background(), ModeIncremental)
	require.NoError(t, err)
	assert.NotSame(t, first, second)
}

func TestChangeQueueBoundedFIFO(t *testing.T) {
	src := &fakeSource{trees: [][]byte{[]byte(treeA)}}
	obs := New(src, nil)
	for i := 0; i < MaxPendingEvents+10; i++ {
		obs.ObserveEvent(RawChangeEvent{Kind: "content_changed", Timestamp: time.Now(), Text: string(rune('a' + i%26))})
	}
	events := obs.PeekChanges()
	assert.Len(t, events, MaxPendingEvents)
}

func TestTakeChangesDrains(t *testing.T) {
	src := &fakeSource{trees: [][]byte{[]byte(treeA)}}
	obs := New(src, nil)
	obs.ObserveEvent(RawChangeEvent{Kind: "clicked", Timestamp: time.Now()})
	assert.True(t, obs.HasChanges())
	taken := obs.TakeChanges()
	assert.Len(t, taken, 1)
	assert.False(t, obs.HasChanges())
}

func TestDiffFromBaselineFirstCallIsEmpty(t *testing.T) {
	src := &fakeSource{trees: [][]byte{[]byte(treeA), []byte(treeB)}}
	obs := New(src, nil)
	diff, err := obs.DiffFromBaseline(context.Background())
	require.NoError(t, err)
	assert.Empty(t, diff.Added)
	assert.Empty(t, diff.Removed)
}

func TestDiffFromBaselineDetectsAdded(t *testing.T) {
	src := &fakeSource{trees: [][]byte{[]byte(treeA), []byte(treeB)}}
	obs := New(src, nil)
	require.NoError(t, obs.SetBaseline(context.Background()))

	diff, err := obs.DiffFromBaseline(context.Background())
	require.NoError(t, err)
	assert.Len(t, diff.Added, 1)
	assert.Equal(t, "已点击确认", diff.Added[0].Label())
}

func TestDiffSymmetricUnderRoleSwap(t *testing.T) {
	a := mustParse(t, treeA)
	b := mustParse(t, treeB)
	ab := Diff(a, b)
	ba := Diff(b, a)
	assert.ElementsMatch(t, keysOf(ab.Added), keysOf(ba.Removed))
}

func mustParse(t *testing.T, s string) *UINode {
	t.Helper()
	n, err := parseTree([]byte(s))
	require.NoError(t, err)
	return n
}

func keysOf(nodes []*UINode) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.ResourceID + n.Text
	}
	return out
}

func TestSnapshotScrubsPasswordFieldText(t *testing.T) {
	tree := `{"class":"Root","children":[{"class":"EditText","text":"hunter2","password":true,"resourceId":"input.pwd"}]}`
	src := &fakeSource{trees: [][]byte{[]byte(tree)}}
	obs := New(src, nil)
	snap, err := obs.Snapshot(context.Background(), ModeFull)
	require.NoError(t, err)

	pwd := FindNode(snap.Root, func(n *UINode) bool { return n.ResourceID == "input.pwd" })
	require.NotNil(t, pwd)
	assert.True(t, pwd.Password)
	assert.Empty(t, pwd.Text)
}

func TestRecommendMode(t *testing.T) {
	assert.Equal(t, ModeFull, RecommendMode("first analyze the screen"))
	assert.Equal(t, ModeIncremental, RecommendMode("wait for the dialog to detect close"))
	assert.Equal(t, ModeDiff, RecommendMode("verify the input was confirmed"))
}

func TestNoRootWindowFails(t *testing.T) {
	src := &fakeSource{err: ErrNoRootWindow}
	obs := New(src, nil)
	_, err := obs.Snapshot(context.Background(), ModeFull)
	require.Error(t, err)
}
