// ABOUTME: In-memory TTL cache of registry scan findings keyed by image reference.
// ABOUTME: Keeps repeated catalog builds from re-reading unchanged scan results.

package cache

import (
	"sync"
	"time"

	"github.com/jfeddern/VulnRisk/internal/types"

	"github.com/sirupsen/logrus"
)

const (
	DefaultTTL             = 30 * time.Minute
	defaultCleanupInterval = 10 * time.Minute
)

type CacheEntry struct {
	Findings  []types.VulnerabilityFinding
	ExpiresAt time.Time
}

type FindingsCache struct {
	cache  map[string]*CacheEntry
	mutex  sync.RWMutex
	ttl    time.Duration
	now    func() time.Time
	stop   chan struct{}
	once   sync.Once
	logger *logrus.Logger
}

// NewFindingsCache creates a cache whose entries live for ttl. A non-positive
// ttl selects DefaultTTL. Call Close to stop the background cleanup.
func NewFindingsCache(ttl time.Duration, logger *logrus.Logger) *FindingsCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	cache := &FindingsCache{
		cache:  make(map[string]*CacheEntry),
		ttl:    ttl,
		now:    time.Now,
		stop:   make(chan struct{}),
		logger: logger,
	}

	go cache.startCleanup(defaultCleanupInterval)

	return cache
}

// Get returns the cached findings for an image; ok is false on a miss or an
// expired entry
func (c *FindingsCache) Get(imageURI string) ([]types.VulnerabilityFinding, bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	entry, exists := c.cache[imageURI]
	if !exists {
		return nil, false
	}

	// Expired entries are removed by cleanup
	if c.now().After(entry.ExpiresAt) {
		return nil, false
	}

	c.logger.WithField("image", imageURI).Debug("Cache hit")
	return entry.Findings, true
}

func (c *FindingsCache) Set(imageURI string, findings []types.VulnerabilityFinding) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.cache[imageURI] = &CacheEntry{
		Findings:  findings,
		ExpiresAt: c.now().Add(c.ttl),
	}

	c.logger.WithFields(logrus.Fields{
		"image":    imageURI,
		"findings": len(findings),
	}).Debug("Cached scan findings")
}

// Close stops the background cleanup; it is safe to call more than once
func (c *FindingsCache) Close() {
	c.once.Do(func() { close(c.stop) })
}

func (c *FindingsCache) startCleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.cleanup()
		}
	}
}

func (c *FindingsCache) cleanup() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	now := c.now()
	expiredCount := 0

	for imageURI, entry := range c.cache {
		if now.After(entry.ExpiresAt) {
			delete(c.cache, imageURI)
			expiredCount++
		}
	}

	if expiredCount > 0 {
		c.logger.WithFields(logrus.Fields{
			"expired_entries":   expiredCount,
			"remaining_entries": len(c.cache),
		}).Debug("Cache cleanup completed")
	}
}

func (c *FindingsCache) Stats() (total int, expired int) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	now := c.now()
	total = len(c.cache)

	for _, entry := range c.cache {
		if now.After(entry.ExpiresAt) {
			expired++
		}
	}

	return total, expired
}
