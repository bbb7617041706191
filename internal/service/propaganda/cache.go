package propaganda

import (
	"sync"

	"github.com/apollolytics/dialogue-backend/internal/model/propaganda"
)

// Cache memoizes analysis results by origin URL so repeated sessions over the
// same article skip the detection round trip.
type Cache struct {
	mu      sync.RWMutex
	results map[string]propaganda.Result
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{results: make(map[string]propaganda.Result)}
}

// Get looks up a cached result.
func (c *Cache) Get(originURL string) (propaganda.Result, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	result, ok := c.results[originURL]
	return result, ok
}

// Put stores a result.
func (c *Cache) Put(originURL string, result propaganda.Result) {
	c.mu.Lock()
	c.results[originURL] = result
	c.mu.Unlock()
}
