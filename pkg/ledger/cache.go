package ledger

import (
	"log/slog"
	"sync"
	"time"
)

// handleCache bounds the number of live per-user gateway handles. Least
// recently used handles are evicted at capacity; a janitor sweeps
// handles idle past the TTL. Eviction closes the handle and notifies
// the owner so cached key material is dropped with it.
type handleCache struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry
	max     int
	idleTTL time.Duration
	onEvict func(userID string)
	clock   func() time.Time
}

type cacheEntry struct {
	contract Contract
	close    func()
	lastUsed time.Time
}

func newHandleCache(max int, idleTTL time.Duration, onEvict func(string)) *handleCache {
	return &handleCache{
		entries: make(map[string]*cacheEntry),
		max:     max,
		idleTTL: idleTTL,
		onEvict: onEvict,
		clock:   time.Now,
	}
}

// get returns a cached handle and marks it used.
func (c *handleCache) get(userID string) (Contract, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[userID]
	if !ok {
		return nil, false
	}
	e.lastUsed = c.clock()
	return e.contract, true
}

// put caches a handle, evicting the least recently used one when at
// capacity. If the user already has a handle the old one is closed.
func (c *handleCache) put(userID string, contract Contract, close func()) {
	c.mu.Lock()

	var evicted []func()
	if old, ok := c.entries[userID]; ok {
		evicted = append(evicted, old.close)
		delete(c.entries, userID)
	}

	for len(c.entries) >= c.max {
		lruID := ""
		var lruTime time.Time
		for id, e := range c.entries {
			if lruID == "" || e.lastUsed.Before(lruTime) {
				lruID, lruTime = id, e.lastUsed
			}
		}
		evicted = append(evicted, c.entries[lruID].close)
		delete(c.entries, lruID)
		c.notifyEvict(lruID)
		slog.Debug("Evicted ledger handle at capacity", "user_id", lruID)
	}

	c.entries[userID] = &cacheEntry{contract: contract, close: close, lastUsed: c.clock()}
	c.mu.Unlock()

	for _, f := range evicted {
		f()
	}
}

// release drops one user's handle.
func (c *handleCache) release(userID string) {
	c.mu.Lock()
	e, ok := c.entries[userID]
	if ok {
		delete(c.entries, userID)
		c.notifyEvict(userID)
	}
	c.mu.Unlock()

	if ok {
		e.close()
	}
}

// sweep evicts handles idle past the TTL.
func (c *handleCache) sweep() {
	now := c.clock()

	c.mu.Lock()
	var closers []func()
	for id, e := range c.entries {
		if now.Sub(e.lastUsed) > c.idleTTL {
			closers = append(closers, e.close)
			delete(c.entries, id)
			c.notifyEvict(id)
			slog.Debug("Evicted idle ledger handle", "user_id", id)
		}
	}
	c.mu.Unlock()

	for _, f := range closers {
		f()
	}
}

// closeAll releases every handle.
func (c *handleCache) closeAll() {
	c.mu.Lock()
	var closers []func()
	for id, e := range c.entries {
		closers = append(closers, e.close)
		delete(c.entries, id)
		c.notifyEvict(id)
	}
	c.mu.Unlock()

	for _, f := range closers {
		f()
	}
}

func (c *handleCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// notifyEvict runs the eviction callback. Called with c.mu held; the
// callback must not re-enter the cache.
func (c *handleCache) notifyEvict(userID string) {
	if c.onEvict != nil {
		c.onEvict(userID)
	}
}
