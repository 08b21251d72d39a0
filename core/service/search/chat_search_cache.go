package search

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"mailchat_server/core/domain"
)

// CriteriaCache provides in-memory caching for extracted criteria.
type CriteriaCache struct {
	cache  map[string]*cacheEntry
	mu     sync.RWMutex
	ttl    time.Duration
	stopCh chan struct{}
}

type cacheEntry struct {
	criteria  *domain.QueryCriteria
	expiresAt time.Time
}

// NewCriteriaCache creates a new criteria cache. A non-positive ttl disables caching.
func NewCriteriaCache(ttl time.Duration) *CriteriaCache {
	c := &CriteriaCache{
		cache:  make(map[string]*cacheEntry),
		ttl:    ttl,
		stopCh: make(chan struct{}),
	}
	if ttl > 0 {
		go c.cleanupLoop()
	}
	return c
}

// BuildKey keys on intent, normalized text and calendar day. The day matters
// because relative dates ("yesterday") resolve against it.
func (c *CriteriaCache) BuildKey(rawText string, intent domain.Intent, now time.Time) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(rawText)), " ")
	keyData := fmt.Sprintf("%s:%s:%s", intent, now.Format("2006-01-02"), normalized)

	hash := sha256.Sum256([]byte(keyData))
	return "criteria:" + hex.EncodeToString(hash[:16])
}

// Get returns a copy of the cached criteria.
func (c *CriteriaCache) Get(key string) (*domain.QueryCriteria, bool) {
	if c == nil || c.ttl <= 0 {
		return nil, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.cache[key]
	if !ok || time.Now().After(entry.expiresAt) {
		return nil, false
	}
	return entry.criteria.Clone(), true
}

// Set stores a copy of criteria.
func (c *CriteriaCache) Set(key string, criteria *domain.QueryCriteria) {
	if c == nil || c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cache[key] = &cacheEntry{
		criteria:  criteria.Clone(),
		expiresAt: time.Now().Add(c.ttl),
	}
}

func (c *CriteriaCache) cleanupLoop() {
	ticker := time.NewTicker(c.ttl)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.cleanup()
		case <-c.stopCh:
			return
		}
	}
}

func (c *CriteriaCache) cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for key, entry := range c.cache {
		if now.After(entry.expiresAt) {
			delete(c.cache, key)
		}
	}
}

// Size returns the number of cached entries.
func (c *CriteriaCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.cache)
}

// Clear removes all cached entries.
func (c *CriteriaCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache = make(map[string]*cacheEntry)
}

// Stop ends the cleanup goroutine.
func (c *CriteriaCache) Stop() {
	select {
	case <-c.stopCh:
	default:
		close(c.stopCh)
	}
}
