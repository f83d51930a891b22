package gen

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLimiterRequestBudget(t *testing.T) {
	l := NewLimiter(3, 1_000_000, 0.85)

	for i := 0; i < 2; i++ {
		assert.True(t, l.Acquire())
		l.Record(100)
	}

	// One request of budget left.
	assert.True(t, l.Acquire())
	l.Record(100)

	assert.False(t, l.Acquire(), "budget exhausted")
}

func TestLimiterTokenBudget(t *testing.T) {
	l := NewLimiter(100, 500, 0.85)

	assert.True(t, l.Acquire())
	l.Record(600)
	assert.False(t, l.Acquire(), "token budget exhausted even with requests left")
}

func TestLimiterReleaseReturnsSlot(t *testing.T) {
	l := NewLimiter(1, 1000, 0.85)

	assert.True(t, l.Acquire())
	assert.False(t, l.Acquire())

	l.Release()
	assert.True(t, l.Acquire(), "released slot is reusable")

	requests, _ := l.Usage()
	assert.Equal(t, 1, requests)
}

func TestLimiterAcquireNeverOvershoots(t *testing.T) {
	const max = 5
	l := NewLimiter(max, 1_000_000, 0.85)

	var wg sync.WaitGroup
	var mu sync.Mutex
	granted := 0
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Acquire() {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, max, granted)
	requests, _ := l.Usage()
	assert.Equal(t, max, requests)
}

func TestLimiterMidnightReset(t *testing.T) {
	l := NewLimiter(1, 1000, 0.85)
	now := time.Date(2026, 3, 10, 23, 50, 0, 0, time.Local)
	l.now = func() time.Time { return now }

	assert.True(t, l.Acquire())
	l.Record(10)
	assert.False(t, l.Acquire())

	now = now.Add(20 * time.Minute)
	assert.True(t, l.Acquire(), "budget resets after local midnight")

	requests, tokens := l.Usage()
	assert.Equal(t, 1, requests)
	assert.Equal(t, int64(0), tokens)
}

func TestLimiterHighWater(t *testing.T) {
	l := NewLimiter(10, 1_000_000, 0.8)

	for i := 0; i < 7; i++ {
		assert.True(t, l.Acquire())
	}
	assert.False(t, l.HighWater())

	assert.True(t, l.Acquire())
	assert.True(t, l.HighWater())
}

func TestLimiterNextReset(t *testing.T) {
	l := NewLimiter(10, 1000, 0.85)
	now := time.Date(2026, 3, 10, 14, 30, 0, 0, time.Local)
	l.now = func() time.Time { return now }

	reset := l.NextReset()
	assert.Equal(t, time.Date(2026, 3, 11, 0, 0, 0, 0, time.Local), reset)
}
