package ledger

import (
	"sync"
	"time"
)

// ttlCache is a mutex-guarded key -> (value, expiry) map instantiated once per
// Client, so separate deployments and tests never share state. Reads evict
// expired entries lazily; writes unconditionally overwrite. Keys are bounded
// to the addresses and signatures relevant to one escrow, so there is no
// background sweep.
type ttlCache[K comparable, V any] struct {
	mu      sync.Mutex
	entries map[K]cacheEntry[V]
	ttl     time.Duration
}

type cacheEntry[V any] struct {
	value  V
	expiry time.Time
}

func newTTLCache[K comparable, V any](ttl time.Duration) *ttlCache[K, V] {
	return &ttlCache[K, V]{
		entries: make(map[K]cacheEntry[V]),
		ttl:     ttl,
	}
}

func (c *ttlCache[K, V]) get(key K) (V, bool) {
	var zero V
	if c.ttl <= 0 {
		return zero, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return zero, false
	}
	if time.Now().After(entry.expiry) {
		delete(c.entries, key)
		return zero, false
	}
	return entry.value, true
}

func (c *ttlCache[K, V]) put(key K, value V) {
	if c.ttl <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry[V]{value: value, expiry: time.Now().Add(c.ttl)}
}
