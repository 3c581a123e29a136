package recovery

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"golang.org/x/time/rate"

	"goagent.dev/mobileagent/popup"
	"goagent.dev/mobileagent/toolregistry"
)

// Priorities for the built-in strategies, lower runs earlier.
const (
	PriorityAppCrash         = 10
	PriorityPermissionDialog = 20
	PriorityDialogDismiss    = 30
	PriorityScreenChanged    = 40
	PriorityElementNotFound  = 50
	PriorityNetworkError     = 60
)

// Policy decides how a permission dialog should be resolved. Implementations
// live outside this package (e.g. an allow/deny list keyed by permission
// name); the strategy only needs a yes/no answer.
type Policy interface {
	// Decide returns true to accept the permission dialog, false to deny it.
	Decide(ctx context.Context, rc Context) bool
}

// AppRelauncher restarts the target app after a crash.
type AppRelauncher interface {
	Relaunch(ctx context.Context, pkg string) error
}

// appCrashStrategy relaunches the app after a crash and asks the executor to
// retry the last action from a clean screen.
type appCrashStrategy struct {
	relauncher AppRelauncher
}

// NewAppCrashStrategy builds the crash-restart strategy.
func NewAppCrashStrategy(relauncher AppRelauncher) Strategy {
	return &appCrashStrategy{relauncher: relauncher}
}

func (s *appCrashStrategy) Name() string     { return "app-crash-restart" }
func (s *appCrashStrategy) Priority() int    { return PriorityAppCrash }
func (s *appCrashStrategy) Applicable(_ context.Context, rc Context) bool {
	return rc.ErrorType == ErrAppCrash
}

func (s *appCrashStrategy) Recover(ctx context.Context, rc Context) Result {
	pkg := ""
	if rc.CurrentScreen != nil {
		pkg = rc.CurrentScreen.Package
	}
	if err := s.relauncher.Relaunch(ctx, pkg); err != nil {
		return Failure(fmt.Sprintf("relaunch failed: %v", err), true)
	}
	return Success("app relaunched", true, nil)
}

// permissionDialogStrategy delegates the accept/deny decision to a Policy
// and dispatches a tap_element on the resulting button label.
type permissionDialogStrategy struct {
	policy Policy
}

// NewPermissionDialogStrategy builds the permission-dialog strategy.
func NewPermissionDialogStrategy(policy Policy) Strategy {
	return &permissionDialogStrategy{policy: policy}
}

func (s *permissionDialogStrategy) Name() string  { return "permission-dialog" }
func (s *permissionDialogStrategy) Priority() int { return PriorityPermissionDialog }
func (s *permissionDialogStrategy) Applicable(_ context.Context, rc Context) bool {
	return rc.ErrorType == ErrPermissionDenied
}

func (s *permissionDialogStrategy) Recover(ctx context.Context, rc Context) Result {
	accept := s.policy.Decide(ctx, rc)
	label := "拒绝"
	if accept {
		label = "允许"
	}
	return Success("permission dialog resolved", true, &SuggestedAction{
		Tool:   toolregistry.ToolTapElement,
		Params: map[string]any{"text": label},
	})
}

// dialogDismissStrategy reuses the popup package's rules-only detector for
// unexpected, non-permission dialogs.
type dialogDismissStrategy struct {
	src popup.ScreenSource
	lex popup.Lexicons
}

// NewDialogDismissStrategy builds the unexpected-dialog strategy.
func NewDialogDismissStrategy(src popup.ScreenSource) Strategy {
	return &dialogDismissStrategy{src: src, lex: popup.DefaultLexicons()}
}

func (s *dialogDismissStrategy) Name() string  { return "dialog-dismiss" }
func (s *dialogDismissStrategy) Priority() int { return PriorityDialogDismiss }
func (s *dialogDismissStrategy) Applicable(_ context.Context, rc Context) bool {
	return rc.ErrorType == ErrUnexpectedDialog
}

func (s *dialogDismissStrategy) Recover(ctx context.Context, rc Context) Result {
	d := popup.New(s.src)
	d.Lexicons = s.lex
	res, err := d.Run(ctx)
	if err != nil {
		return Failure(fmt.Sprintf("dialog dismiss failed: %v", err), false)
	}
	if !res.Dismissed {
		return Failure("no dismissible dialog found", false)
	}
	return Success(fmt.Sprintf("cleared %d dialog(s)", res.PopupsCleared), true, nil)
}

// screenChangedStrategy asks the planner to re-plan from the new screen
// rather than blindly retrying a stale action.
type screenChangedStrategy struct{}

// NewScreenChangedStrategy builds the screen-changed strategy.
func NewScreenChangedStrategy() Strategy { return &screenChangedStrategy{} }

func (s *screenChangedStrategy) Name() string  { return "screen-changed-replan" }
func (s *screenChangedStrategy) Priority() int { return PriorityScreenChanged }
func (s *screenChangedStrategy) Applicable(_ context.Context, rc Context) bool {
	return rc.ErrorType == ErrScreenChanged
}

func (s *screenChangedStrategy) Recover(_ context.Context, _ Context) Result {
	return Success("screen changed, replanning", false, nil)
}

// elementNotFoundStrategy scrolls down once and suggests retrying the last
// action, up to a small retry cap enforced by the caller via RetryCount.
type elementNotFoundStrategy struct {
	maxRetries int
}

// NewElementNotFoundStrategy builds the element-not-found strategy.
func NewElementNotFoundStrategy(maxRetries int) Strategy {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &elementNotFoundStrategy{maxRetries: maxRetries}
}

func (s *elementNotFoundStrategy) Name() string  { return "element-not-found-scroll" }
func (s *elementNotFoundStrategy) Priority() int { return PriorityElementNotFound }
func (s *elementNotFoundStrategy) Applicable(_ context.Context, rc Context) bool {
	return (rc.ErrorType == ErrElementNotFound || rc.ErrorType == ErrElementNotClick) && rc.RetryCount < s.maxRetries
}

func (s *elementNotFoundStrategy) Recover(_ context.Context, rc Context) Result {
	return Success("scrolled to search for element", true, &SuggestedAction{
		Tool:   toolregistry.ToolSwipe,
		Params: map[string]any{"direction": string(toolregistry.DirUp), "distance": string(toolregistry.DistanceMedium)},
	})
}

// networkErrorStrategy waits out a rate-limited exponential backoff with
// jitter before suggesting a retry.
type networkErrorStrategy struct {
	limiter    *rate.Limiter
	maxRetries int
}

// NewNetworkErrorStrategy builds the network-error backoff strategy. limiter
// bounds how often this strategy may actually sleep (guards against runaway
// retry storms); nil uses a permissive default of 1 call/second.
func NewNetworkErrorStrategy(limiter *rate.Limiter, maxRetries int) Strategy {
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Limit(1), 1)
	}
	if maxRetries <= 0 {
		maxRetries = 5
	}
	return &networkErrorStrategy{limiter: limiter, maxRetries: maxRetries}
}

func (s *networkErrorStrategy) Name() string  { return "network-error-backoff" }
func (s *networkErrorStrategy) Priority() int { return PriorityNetworkError }
func (s *networkErrorStrategy) Applicable(_ context.Context, rc Context) bool {
	return rc.ErrorType == ErrNetworkError
}

func (s *networkErrorStrategy) Recover(ctx context.Context, rc Context) Result {
	if rc.RetryCount >= s.maxRetries {
		return Failure("network error persisted past retry budget", true)
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return Failure(fmt.Sprintf("backoff wait cancelled: %v", err), false)
	}
	delay := backoffWithJitter(rc.RetryCount)
	select {
	case <-ctx.Done():
		return Failure("backoff wait cancelled", false)
	case <-time.After(delay):
	}
	return Success("backoff elapsed", true, nil)
}

// backoffWithJitter computes an exponential backoff (base 500ms, cap 30s)
// with up to 20% jitter.
func backoffWithJitter(attempt int) time.Duration {
	base := 500 * time.Millisecond
	capped := 30 * time.Second
	d := time.Duration(float64(base) * math.Pow(2, float64(attempt)))
	if d > capped {
		d = capped
	}
	jitter := time.Duration(rand.Int63n(int64(d) / 5))
	return d + jitter
}
