package cache

import (
	"strings"
	"sync"

	"github.com/campustrack/tracker/internal/model"
)

// IdentityCache caches resolved publisher identities to avoid repeating the
// roster lookup chain on every subscription. Resolution hits the database up
// to three times per miss, so subscribers consult this first.
type IdentityCache struct {
	m       sync.Mutex
	entries map[string]model.ResolvedPublisher
}

func NewIdentityCache() *IdentityCache {
	return &IdentityCache{
		entries: make(map[string]model.ResolvedPublisher),
	}
}

// normalize folds case and whitespace so "Bus-12 " and "bus-12" share a slot.
func normalize(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

// Get retrieves a resolved publisher by lookup key (email or bus number).
func (c *IdentityCache) Get(key string) (model.ResolvedPublisher, bool) {
	c.m.Lock()
	defer c.m.Unlock()
	if p, ok := c.entries[normalize(key)]; ok {
		return p, true
	}
	return model.ResolvedPublisher{}, false
}

// Set stores a resolved publisher under the given lookup key.
func (c *IdentityCache) Set(key string, p model.ResolvedPublisher) {
	c.m.Lock()
	defer c.m.Unlock()
	c.entries[normalize(key)] = p
}

// Delete removes a lookup key, forcing the next resolution to hit the database.
func (c *IdentityCache) Delete(key string) {
	c.m.Lock()
	defer c.m.Unlock()
	delete(c.entries, normalize(key))
}

// Reset clears all cached identities.
func (c *IdentityCache) Reset() {
	c.m.Lock()
	defer c.m.Unlock()
	c.entries = make(map[string]model.ResolvedPublisher)
}

// Len returns the number of cached identities.
func (c *IdentityCache) Len() int {
	c.m.Lock()
	defer c.m.Unlock()
	return len(c.entries)
}

// SafeCounter is a thread-safe counter
type SafeCounter struct {
	mu sync.Mutex
	v  int
}

func (c *SafeCounter) Value() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.v
}

func (c *SafeCounter) Set(v int) {
	c.mu.Lock()
	c.v = v
	c.mu.Unlock()
}

func (c *SafeCounter) Inc() {
	c.mu.Lock()
	c.v++
	c.mu.Unlock()
}
