// Package model defines the provider-agnostic language-model client contract
// the planner depends on. The contract is a thin request/response interface
// over text prompts; it is explicitly out of scope for this repository to
// specify model quality, only the shape of the call.
package model

import (
	"context"
	"errors"
)

// ErrRateLimited is wrapped into the error returned by Complete when a
// provider signals the request was throttled, so callers can distinguish it
// from other failures (e.g. to trigger the recovery pipeline's
// network-error strategy instead of failing the plan outright).
var ErrRateLimited = errors.New("model: rate limited")

// Class selects a cost/quality tier when Request.Model is left empty.
type Class string

const (
	ClassDefault       Class = ""
	ClassHighReasoning Class = "high-reasoning"
	ClassSmall         Class = "small"
)

// Request is one prompt sent to the model.
type Request struct {
	// SystemPrompt carries instructions the model should treat as
	// out-of-band of the conversation (e.g. the stricter-format retry
	// preamble in planner.Plan).
	SystemPrompt string
	// Prompt is the user-turn text: goal, screen digest, tool catalog, etc.
	Prompt string
	// Model, when set, names a concrete provider model identifier and
	// takes precedence over Class.
	Model string
	Class Class

	MaxTokens   int
	Temperature float64
}

// TokenUsage reports token accounting for a completed request, when the
// provider makes it available.
type TokenUsage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// Response is the model's reply to a Request.
type Response struct {
	Text  string
	Usage TokenUsage
}

// Client is the provider-agnostic contract the planner calls against.
type Client interface {
	Complete(ctx context.Context, req *Request) (*Response, error)
}
