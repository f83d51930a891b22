// Package gen routes all model generation through a single gateway that
// enforces daily quotas, memoizes repeated prompts, and degrades to
// deterministic fallback output when the provider is unavailable.
package gen

import (
	"context"
	"errors"
)

// Request describes one generation call on behalf of an agent.
type Request struct {
	// CallerID identifies the requesting agent, used for cache keying.
	CallerID string
	// Role selects the fallback payload shape when the provider fails.
	Role string
	// System is the optional system prompt.
	System string
	// Prompt is the user prompt.
	Prompt string
	// Temperature overrides the model temperature when > 0.
	Temperature float64
	// MaxTokens caps the response length. Zero means the gateway default.
	MaxTokens int64
}

// Response is the outcome of a generation call.
type Response struct {
	// Text is the model output.
	Text string
	// InputTokens and OutputTokens report provider-side usage. Both are
	// zero for cached and fallback responses.
	InputTokens  int64
	OutputTokens int64
	// Cached is true when the response was served from the memo cache.
	Cached bool
	// Fallback is true when the response is canned output.
	Fallback bool
}

// Provider produces model completions.
type Provider interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}

// ErrRateLimited is returned by providers when the upstream rejects a
// call for rate limiting. The gateway cools down and retries once.
var ErrRateLimited = errors.New("provider rate limited")
