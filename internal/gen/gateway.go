package gen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/foremanhq/foreman/internal/logging"
)

const (
	defaultCacheSize      = 1000
	defaultRateLimitPause = 60 * time.Second
)

// Gateway is the single entry point for model generation. Every agent
// call passes through it so quota accounting, memoization, and fallback
// behavior stay consistent across the system.
type Gateway struct {
	provider Provider
	limiter  *Limiter
	cache    *memoCache
	log      *logging.Logger

	rateLimitPause time.Duration
	sleep          func(ctx context.Context, d time.Duration) error
}

// NewGateway creates a gateway over the given provider and limiter.
func NewGateway(provider Provider, limiter *Limiter, log *logging.Logger) *Gateway {
	return &Gateway{
		provider:       provider,
		limiter:        limiter,
		cache:          newMemoCache(defaultCacheSize),
		log:            log.Sub("gen"),
		rateLimitPause: defaultRateLimitPause,
		sleep:          sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// HighWater reports whether today's quota usage has crossed the
// slow-down threshold.
func (g *Gateway) HighWater() bool {
	return g.limiter.HighWater()
}

// Usage returns today's consumed requests and tokens.
func (g *Gateway) Usage() (requests int, tokens int64) {
	return g.limiter.Usage()
}

// Generate serves a request from cache when possible, otherwise calls
// the provider within quota. Without a provider it degrades straight to
// canned output. On quota exhaustion it blocks until the daily reset.
// A rate-limited call pauses once and retries; a second failure or any
// other provider error degrades to canned output.
func (g *Gateway) Generate(ctx context.Context, req Request) (*Response, error) {
	if cached, ok := g.cache.Get(req.CallerID, req.Prompt); ok {
		g.log.Debug().Str("caller", req.CallerID).Msg("cache hit")
		return &Response{Text: cached, Cached: true}, nil
	}

	if g.provider == nil {
		g.log.Debug().Str("caller", req.CallerID).Msg("no provider configured, using fallback")
		return &Response{Text: fallbackResponse(req.Role, req.Prompt), Fallback: true}, nil
	}

	// Acquire reserves the request slot, so a burst of concurrent
	// callers cannot collectively overshoot the daily budget.
	for !g.limiter.Acquire() {
		requests, tokens := g.limiter.Usage()
		g.log.Warn().
			Int("requests", requests).
			Int64("tokens", tokens).
			Time("reset", g.limiter.NextReset()).
			Msg("daily quota exhausted, waiting for reset")
		if err := g.limiter.WaitForReset(ctx); err != nil {
			return nil, fmt.Errorf("wait for quota reset: %w", err)
		}
	}

	resp, err := g.provider.Generate(ctx, req)
	if errors.Is(err, ErrRateLimited) {
		g.log.Warn().Str("caller", req.CallerID).Dur("pause", g.rateLimitPause).Msg("rate limited, cooling down")
		if serr := g.sleep(ctx, g.rateLimitPause); serr != nil {
			g.limiter.Release()
			return nil, serr
		}
		resp, err = g.provider.Generate(ctx, req)
	}
	if err != nil {
		g.limiter.Release()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		g.log.Warn().Err(err).Str("caller", req.CallerID).Msg("provider failed, using fallback")
		return &Response{Text: fallbackResponse(req.Role, req.Prompt), Fallback: true}, nil
	}

	g.limiter.Record(resp.InputTokens + resp.OutputTokens)
	g.cache.Put(req.CallerID, req.Prompt, resp.Text)
	return resp, nil
}

// GenerateJSON runs a request and decodes the JSON object or array
// embedded in the response into target. Model output often wraps JSON
// in prose, so the first balanced candidate is extracted before decoding.
func (g *Gateway) GenerateJSON(ctx context.Context, req Request, target any) error {
	resp, err := g.Generate(ctx, req)
	if err != nil {
		return err
	}
	return DecodeJSON(resp.Text, target)
}

// DecodeJSON extracts the JSON payload from a model response and decodes
// it into target. A fenced ```json block wins when present; otherwise
// the outermost braces are sliced out, so prose around the payload does
// not poison the decode.
func DecodeJSON(response string, target any) error {
	if block, ok := fencedJSON(response); ok {
		if err := json.Unmarshal([]byte(block), target); err == nil {
			return nil
		}
	}

	jsonStart := strings.Index(response, "{")
	if jsonStart == -1 {
		jsonStart = strings.Index(response, "[")
	}
	jsonEnd := strings.LastIndex(response, "}")
	if jsonEnd == -1 {
		jsonEnd = strings.LastIndex(response, "]")
	}

	if jsonStart == -1 || jsonEnd == -1 || jsonEnd <= jsonStart {
		return fmt.Errorf("no valid JSON found in response: %s", truncate(response, 200))
	}

	jsonStr := response[jsonStart : jsonEnd+1]
	if err := json.Unmarshal([]byte(jsonStr), target); err != nil {
		return fmt.Errorf("parse JSON: %w (response: %s)", err, truncate(jsonStr, 200))
	}
	return nil
}

// fencedJSON returns the contents of the first ```json fence, if any.
func fencedJSON(response string) (string, bool) {
	start := strings.Index(response, "```json")
	if start == -1 {
		return "", false
	}
	rest := response[start+len("```json"):]
	end := strings.Index(rest, "```")
	if end == -1 {
		return "", false
	}
	return strings.TrimSpace(rest[:end]), true
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
