package recovery

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"goagent.dev/mobileagent/observer"
)

type fakeRelauncher struct {
	relaunched []string
	err        error
}

func (f *fakeRelauncher) Relaunch(ctx context.Context, pkg string) error {
	if f.err != nil {
		return f.err
	}
	f.relaunched = append(f.relaunched, pkg)
	return nil
}

type fakePolicy struct{ accept bool }

func (f fakePolicy) Decide(ctx context.Context, rc Context) bool { return f.accept }

func TestPipelineOrdersByPriority(t *testing.T) {
	p := NewPipeline()
	p.Register(NewElementNotFoundStrategy(3))
	p.Register(NewAppCrashStrategy(&fakeRelauncher{}))

	res := p.Recover(context.Background(), Context{ErrorType: ErrAppCrash})
	assert.Equal(t, KindSuccess, res.Kind)
}

func TestPipelineNoApplicableStrategy(t *testing.T) {
	p := NewPipeline()
	p.Register(NewAppCrashStrategy(&fakeRelauncher{}))
	res := p.Recover(context.Background(), Context{ErrorType: ErrTimeout})
	assert.Equal(t, KindFailure, res.Kind)
	assert.Equal(t, "no applicable strategy", res.Message)
}

func TestPipelineFatalFailureStopsSearch(t *testing.T) {
	p := NewPipeline()
	p.Register(NewAppCrashStrategy(&fakeRelauncher{err: assertErr{}}))
	p.Register(NewElementNotFoundStrategy(3))
	res := p.Recover(context.Background(), Context{ErrorType: ErrAppCrash})
	assert.Equal(t, KindFailure, res.Kind)
	assert.True(t, res.Fatal)
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }

func TestPermissionDialogDelegatesToPolicy(t *testing.T) {
	s := NewPermissionDialogStrategy(fakePolicy{accept: true})
	res := s.Recover(context.Background(), Context{ErrorType: ErrPermissionDenied})
	require.Equal(t, KindSuccess, res.Kind)
	require.NotNil(t, res.SuggestedAction)
	assert.Equal(t, "允许", res.SuggestedAction.Params["text"])
}

func TestPermissionDialogDeny(t *testing.T) {
	s := NewPermissionDialogStrategy(fakePolicy{accept: false})
	res := s.Recover(context.Background(), Context{ErrorType: ErrPermissionDenied})
	assert.Equal(t, "拒绝", res.SuggestedAction.Params["text"])
}

type scriptedDialogScreen struct {
	root *observer.UINode
	taps int
}

func (s *scriptedDialogScreen) CurrentTree(ctx context.Context) (*observer.UINode, string, error) {
	return s.root, "com.example", nil
}

func (s *scriptedDialogScreen) Tap(ctx context.Context, x, y int) error {
	s.taps++
	s.root = &observer.UINode{} // clears after first tap
	return nil
}

func TestDialogDismissReusesPopupPackage(t *testing.T) {
	root := &observer.UINode{Children: []*observer.UINode{
		{Text: "×", Clickable: true, Bounds: observer.Rect{Left: 10, Top: 10, Right: 40, Bottom: 40}},
	}}
	src := &scriptedDialogScreen{root: root}
	s := NewDialogDismissStrategy(src)
	res := s.Recover(context.Background(), Context{ErrorType: ErrUnexpectedDialog})
	assert.Equal(t, KindSuccess, res.Kind)
	assert.Equal(t, 1, src.taps)
}

func TestElementNotFoundRespectsRetryCap(t *testing.T) {
	s := NewElementNotFoundStrategy(2)
	assert.True(t, s.Applicable(context.Background(), Context{ErrorType: ErrElementNotFound, RetryCount: 0}))
	assert.False(t, s.Applicable(context.Background(), Context{ErrorType: ErrElementNotFound, RetryCount: 2}))
}

func TestNetworkErrorBackoffRetriesThenFails(t *testing.T) {
	s := NewNetworkErrorStrategy(rate.NewLimiter(rate.Inf, 1), 1)
	res := s.Recover(context.Background(), Context{ErrorType: ErrNetworkError, RetryCount: 5})
	assert.Equal(t, KindFailure, res.Kind)
	assert.True(t, res.Fatal)
}

func TestNetworkErrorBackoffSucceedsWithinBudget(t *testing.T) {
	s := NewNetworkErrorStrategy(rate.NewLimiter(rate.Inf, 1), 5)
	start := time.Now()
	res := s.Recover(context.Background(), Context{ErrorType: ErrNetworkError, RetryCount: 0})
	assert.Equal(t, KindSuccess, res.Kind)
	assert.GreaterOrEqual(t, time.Since(start), 500*time.Millisecond)
}

func TestScreenChangedDoesNotRetryAutomatically(t *testing.T) {
	s := NewScreenChangedStrategy()
	res := s.Recover(context.Background(), Context{ErrorType: ErrScreenChanged})
	assert.Equal(t, KindSuccess, res.Kind)
	assert.False(t, res.ShouldRetry)
}
