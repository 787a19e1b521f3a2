package api

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"strconv"
	"sync"

	"github.com/readyscore/readyscore/pkg/evidence"
	"github.com/readyscore/readyscore/pkg/scoring"
	"github.com/readyscore/readyscore/pkg/stack"
)

// ResultCache is a thread-safe LRU cache of score results. An entry is only
// served while the rubric it was computed under is still active.
type ResultCache struct {
	mu      sync.Mutex
	maxSize int
	entries map[string]*cacheEntry
	order   []string // oldest first
}

type cacheEntry struct {
	cfg *scoring.Config
	res *scoring.ScoreResult
}

// NewResultCache creates a cache with the given maximum number of entries.
// If maxSize <= 0, it defaults to 256.
func NewResultCache(maxSize int) *ResultCache {
	if maxSize <= 0 {
		maxSize = 256
	}
	return &ResultCache{
		maxSize: maxSize,
		entries: make(map[string]*cacheEntry),
	}
}

// NewResultCacheFromEnv creates a cache with size from RESULT_CACHE_SIZE env var.
func NewResultCacheFromEnv() *ResultCache {
	size := 256
	if v := os.Getenv("RESULT_CACHE_SIZE"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			size = parsed
		}
	}
	return NewResultCache(size)
}

// CacheKey identifies one scoring request. Records keep their order since
// the first record for a criterion wins.
func CacheKey(repositoryID string, profile stack.Profile, records []evidence.Record) (string, error) {
	data, err := json.Marshal(struct {
		ID       string            `json:"id"`
		Profile  stack.Profile     `json:"profile"`
		Evidence []evidence.Record `json:"evidence"`
	}{repositoryID, profile, records})
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Get returns the cached result for key if it was computed under cfg.
func (c *ResultCache) Get(key string, cfg *scoring.Config) *scoring.ScoreResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil
	}
	if entry.cfg != cfg {
		c.remove(key)
		return nil
	}

	// Move to end (most recently used)
	c.moveToEnd(key)
	return entry.res
}

// Put adds a result to the cache, evicting the oldest if full.
func (c *ResultCache) Put(key string, cfg *scoring.Config, res *scoring.ScoreResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; ok {
		c.entries[key] = &cacheEntry{cfg: cfg, res: res}
		c.moveToEnd(key)
		return
	}

	for len(c.entries) >= c.maxSize && len(c.order) > 0 {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}

	c.entries[key] = &cacheEntry{cfg: cfg, res: res}
	c.order = append(c.order, key)
}

// Len reports the number of cached results.
func (c *ResultCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *ResultCache) moveToEnd(key string) {
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			c.order = append(c.order, key)
			return
		}
	}
}

func (c *ResultCache) remove(key string) {
	delete(c.entries, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}
