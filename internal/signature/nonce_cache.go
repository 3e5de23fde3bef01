package signature

import (
	"context"
	"sync"
	"time"
)

// MemoryNonceCache is the process-scoped replay guard. It is constructed once
// at startup, swept by a ticking background goroutine, and torn down on
// shutdown.
type MemoryNonceCache struct {
	mu      sync.Mutex
	entries map[string]time.Time // nonce -> expiry

	sweepEvery time.Duration
	done       chan struct{}
	stopOnce   sync.Once

	now func() time.Time
}

// NewMemoryNonceCache creates a cache and starts its sweep loop.
func NewMemoryNonceCache(sweepEvery time.Duration) *MemoryNonceCache {
	c := &MemoryNonceCache{
		entries:    make(map[string]time.Time),
		sweepEvery: sweepEvery,
		done:       make(chan struct{}),
		now:        time.Now,
	}
	go c.sweepLoop()
	return c
}

// Claim records the nonce if it is not already present. An expired entry
// counts as absent.
func (c *MemoryNonceCache) Claim(_ context.Context, nonce string, ttl time.Duration) (bool, error) {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if expiry, ok := c.entries[nonce]; ok && now.Before(expiry) {
		return false, nil
	}
	c.entries[nonce] = now.Add(ttl)
	return true, nil
}

// Len reports the number of live entries.
func (c *MemoryNonceCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stop terminates the sweep loop. Safe to call more than once.
func (c *MemoryNonceCache) Stop() {
	c.stopOnce.Do(func() { close(c.done) })
}

func (c *MemoryNonceCache) sweepLoop() {
	ticker := time.NewTicker(c.sweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

func (c *MemoryNonceCache) sweep() {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	for nonce, expiry := range c.entries {
		if !now.Before(expiry) {
			delete(c.entries, nonce)
		}
	}
}
