// Package recovery implements the error-recovery pipeline: a
// priority-ordered registry of pluggable strategies consulted whenever a
// tool call fails or the executor's expected-state check mismatches.
package recovery

import (
	"context"
	"sort"
	"sync"

	"goagent.dev/mobileagent/observer"
	"goagent.dev/mobileagent/toolregistry"
)

// ErrorType classifies the failure that triggered recovery.
type ErrorType string

const (
	ErrElementNotFound    ErrorType = "element-not-found"
	ErrElementNotClick    ErrorType = "element-not-clickable"
	ErrUnexpectedDialog   ErrorType = "unexpected-dialog"
	ErrAppCrash           ErrorType = "app-crash"
	ErrTimeout            ErrorType = "timeout"
	ErrScreenChanged      ErrorType = "screen-changed"
	ErrPermissionDenied   ErrorType = "permission-denied"
	ErrNetworkError       ErrorType = "network-error"
	ErrUnknown            ErrorType = "unknown"
)

// Context is the information a strategy needs to decide whether it applies
// and how to recover.
type Context struct {
	ErrorType     ErrorType
	ErrorMessage  string
	CurrentScreen *observer.ScreenSnapshot
	LastAction    toolregistry.Ident
	LastParams    map[string]any
	RetryCount    int
	Metadata      map[string]any
}

// SuggestedAction, when set on a success result, replaces the last action on
// retry rather than blindly re-executing it.
type SuggestedAction struct {
	Tool   toolregistry.Ident
	Params map[string]any
}

// Result is the outcome of one strategy's recover call. Exactly one of the
// three constructors below should be used; Kind discriminates them.
type Result struct {
	Kind ResultKind

	// success fields
	Message         string
	ShouldRetry     bool
	SuggestedAction *SuggestedAction

	// failure fields
	Fatal bool

	// need_human fields
	Reason       string
	Instructions string
}

// ResultKind discriminates the three Result variants.
type ResultKind string

const (
	KindSuccess    ResultKind = "success"
	KindFailure    ResultKind = "failure"
	KindNeedHuman  ResultKind = "need_human"
)

// Success builds a success Result.
func Success(message string, shouldRetry bool, suggested *SuggestedAction) Result {
	return Result{Kind: KindSuccess, Message: message, ShouldRetry: shouldRetry, SuggestedAction: suggested}
}

// Failure builds a failure Result.
func Failure(message string, fatal bool) Result {
	return Result{Kind: KindFailure, Message: message, Fatal: fatal}
}

// NeedHuman builds a need_human Result.
func NeedHuman(reason, instructions string) Result {
	return Result{Kind: KindNeedHuman, Reason: reason, Instructions: instructions}
}

// Strategy is one named, prioritized recovery tactic.
type Strategy interface {
	Name() string
	// Priority orders strategies within a Pipeline; lower runs earlier.
	Priority() int
	Applicable(ctx context.Context, rc Context) bool
	Recover(ctx context.Context, rc Context) Result
}

// Pipeline is a priority-ordered registry of recovery strategies.
type Pipeline struct {
	mu         sync.RWMutex
	strategies []Strategy
}

// NewPipeline returns an empty Pipeline.
func NewPipeline() *Pipeline {
	return &Pipeline{}
}

// Register adds a strategy and keeps the registry sorted by priority.
func (p *Pipeline) Register(s Strategy) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.strategies = append(p.strategies, s)
	sort.SliceStable(p.strategies, func(i, j int) bool {
		return p.strategies[i].Priority() < p.strategies[j].Priority()
	})
}

// Recover asks each applicable strategy in priority order. The first
// non-failure result wins, as does any fatal failure. If no strategy
// applies, Recover returns a failure("no applicable strategy").
func (p *Pipeline) Recover(ctx context.Context, rc Context) Result {
	p.mu.RLock()
	strategies := make([]Strategy, len(p.strategies))
	copy(strategies, p.strategies)
	p.mu.RUnlock()

	for _, s := range strategies {
		if !s.Applicable(ctx, rc) {
			continue
		}
		result := s.Recover(ctx, rc)
		if result.Kind != KindFailure {
			return result
		}
		if result.Fatal {
			return result
		}
	}
	return Failure("no applicable strategy", false)
}
