package gen

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
)

// memoCache is a bounded FIFO cache of prompt responses. Identical
// prompts from the same caller are common across cycles, so memoizing
// them saves quota without changing behavior.
type memoCache struct {
	mu       sync.Mutex
	capacity int
	entries  map[string]string
	order    []string
}

func newMemoCache(capacity int) *memoCache {
	return &memoCache{
		capacity: capacity,
		entries:  make(map[string]string, capacity),
	}
}

func cacheKey(callerID, prompt string) string {
	h := sha256.Sum256([]byte(callerID + "\x00" + prompt))
	return hex.EncodeToString(h[:])
}

func (c *memoCache) Get(callerID, prompt string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[cacheKey(callerID, prompt)]
	return v, ok
}

func (c *memoCache) Put(callerID, prompt, response string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := cacheKey(callerID, prompt)
	if _, exists := c.entries[key]; exists {
		c.entries[key] = response
		return
	}

	if len(c.order) >= c.capacity {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
	c.entries[key] = response
	c.order = append(c.order, key)
}

func (c *memoCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
