package router

import (
	"sync"
	"time"

	"mentorlive/pkg/types"
)

// SignalCache holds offer/answer envelopes for a bounded window so a
// momentarily-disconnected peer can retrieve them on reconnect. Expiry
// is independent of connection lifetime; this is not message history.
type SignalCache struct {
	mu      sync.Mutex
	entries map[cacheKey][]cachedSignal
	ttl     time.Duration
	stop    chan struct{}
	once    sync.Once
}

type cacheKey struct {
	sessionID string
	userID    string
}

type cachedSignal struct {
	env       *types.Envelope
	expiresAt time.Time
}

// NewSignalCache creates the cache and starts its expiry janitor.
func NewSignalCache(ttl time.Duration) *SignalCache {
	c := &SignalCache{
		entries: make(map[cacheKey][]cachedSignal),
		ttl:     ttl,
		stop:    make(chan struct{}),
	}
	go c.janitor()
	return c
}

// Put caches a signaling envelope for a (session, target user) pair.
func (c *SignalCache) Put(sessionID, userID string, env *types.Envelope) {
	key := cacheKey{sessionID: sessionID, userID: userID}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = append(c.entries[key], cachedSignal{
		env:       env,
		expiresAt: time.Now().Add(c.ttl),
	})
}

// Drain removes and returns the still-valid cached signals for a
// (session, user) pair, in the order they were cached.
func (c *SignalCache) Drain(sessionID, userID string) []*types.Envelope {
	key := cacheKey{sessionID: sessionID, userID: userID}
	c.mu.Lock()
	defer c.mu.Unlock()

	signals, exists := c.entries[key]
	if !exists {
		return nil
	}
	delete(c.entries, key)

	now := time.Now()
	out := make([]*types.Envelope, 0, len(signals))
	for _, s := range signals {
		if now.Before(s.expiresAt) {
			out = append(out, s.env)
		}
	}
	return out
}

// Len reports how many (session, user) keys currently hold signals.
func (c *SignalCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stop terminates the janitor. Safe to call more than once.
func (c *SignalCache) Stop() {
	c.once.Do(func() { close(c.stop) })
}

// janitor drops expired entries so abandoned signals don't accumulate.
func (c *SignalCache) janitor() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.purge(time.Now())
		case <-c.stop:
			return
		}
	}
}

func (c *SignalCache) purge(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, signals := range c.entries {
		kept := signals[:0]
		for _, s := range signals {
			if now.Before(s.expiresAt) {
				kept = append(kept, s)
			}
		}
		if len(kept) == 0 {
			delete(c.entries, key)
		} else {
			c.entries[key] = kept
		}
	}
}
