package providers

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
)

// Cache memoizes constructed Streamers keyed by a configuration
// fingerprint, so repeated invocations with identical settings reuse one
// client instead of re-dialing the backend. It replaces an implicit
// module-level singleton: callers own the instance and tests inject their
// own.
type Cache struct {
	mu      sync.RWMutex
	clients map[string]Streamer
}

// NewCache creates an empty client cache.
func NewCache() *Cache {
	return &Cache{clients: make(map[string]Streamer)}
}

// Fingerprint derives a stable cache key from the discriminator and every
// config field that affects client construction.
func Fingerprint(kind string, fields ...string) string {
	h := sha256.New()
	h.Write([]byte(kind))
	for _, f := range fields {
		h.Write([]byte{0})
		h.Write([]byte(f))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// GetOrCreate returns the cached Streamer for key, building and storing it
// on first use. Build errors are not cached.
func (c *Cache) GetOrCreate(key string, build func() (Streamer, error)) (Streamer, error) {
	c.mu.RLock()
	s, ok := c.clients[key]
	c.mu.RUnlock()
	if ok {
		return s, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.clients[key]; ok {
		return s, nil
	}
	s, err := build()
	if err != nil {
		return nil, err
	}
	c.clients[key] = s
	return s, nil
}

// Len reports the number of cached clients.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.clients)
}
