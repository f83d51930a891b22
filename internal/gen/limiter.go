package gen

import (
	"context"
	"sync"
	"time"
)

// Limiter enforces a daily request and token budget that resets at local
// midnight. The window is wall-clock based, not rolling.
type Limiter struct {
	mu          sync.Mutex
	maxRequests int
	maxTokens   int64
	highWater   float64

	requests int
	tokens   int64
	day      string

	now func() time.Time
}

// NewLimiter creates a limiter with the given daily budget. highWater is
// the request-usage fraction past which callers should slow down.
func NewLimiter(maxRequests int, maxTokens int64, highWater float64) *Limiter {
	return &Limiter{
		maxRequests: maxRequests,
		maxTokens:   maxTokens,
		highWater:   highWater,
		now:         time.Now,
	}
}

func dayKey(t time.Time) string {
	return t.Format("20060102")
}

// rollover resets counters when the local day has changed. Callers must
// hold the mutex.
func (l *Limiter) rollover() {
	today := dayKey(l.now())
	if l.day != today {
		l.day = today
		l.requests = 0
		l.tokens = 0
	}
}

// Acquire reserves one request slot in today's budget, so concurrent
// callers can never overshoot between checking and recording. Returns
// false when the budget is exhausted; a successful reservation is
// settled with Record or returned with Release.
func (l *Limiter) Acquire() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollover()
	if l.requests >= l.maxRequests || l.tokens >= l.maxTokens {
		return false
	}
	l.requests++
	return true
}

// Release returns a reserved request slot that was never spent on a
// provider call.
func (l *Limiter) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollover()
	if l.requests > 0 {
		l.requests--
	}
}

// Record charges the token usage of a request already reserved by
// Acquire against today's budget.
func (l *Limiter) Record(tokens int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollover()
	l.tokens += tokens
}

// Usage returns today's consumed requests and tokens.
func (l *Limiter) Usage() (requests int, tokens int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollover()
	return l.requests, l.tokens
}

// HighWater reports whether request usage has crossed the slow-down
// threshold for today.
func (l *Limiter) HighWater() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollover()
	return float64(l.requests) >= l.highWater*float64(l.maxRequests)
}

// NextReset returns the next local midnight.
func (l *Limiter) NextReset() time.Time {
	now := l.now()
	year, month, day := now.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, now.Location()).Add(24 * time.Hour)
}

// WaitForReset blocks until the daily budget resets or the context is
// canceled.
func (l *Limiter) WaitForReset(ctx context.Context) error {
	d := time.Until(l.NextReset())
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
