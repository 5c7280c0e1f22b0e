package redmine_notifier

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// MaxCacheSize bounds the number of fingerprints kept in memory
const MaxCacheSize = 500

// OccurrenceCache remembers when each fingerprint was last seen and decides
// whether a new occurrence is within the cooldown window.
type OccurrenceCache struct {
	mu       sync.Mutex
	lastSeen map[string]time.Time // fingerprint -> last occurrence
	now      func() time.Time
	onEvict  func(removed int)
	logger   *zap.Logger
}

// NewOccurrenceCache creates a new occurrence cache instance
func NewOccurrenceCache(logger *zap.Logger) *OccurrenceCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OccurrenceCache{
		lastSeen: make(map[string]time.Time),
		now:      time.Now,
		logger:   logger,
	}
}

// ShouldThrottle reports whether fingerprint was seen less than cooldown ago
func (c *OccurrenceCache) ShouldThrottle(fingerprint string, cooldown time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.throttledLocked(fingerprint, cooldown)
}

// RecordOccurrence stores the current time for fingerprint, evicting first
// when the cache is full
func (c *OccurrenceCache) RecordOccurrence(fingerprint string, cooldown time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.recordLocked(fingerprint, cooldown)
}

// Observe checks and records an occurrence in a single critical section.
// It returns true when the occurrence is throttled. The timestamp is refreshed
// either way, so the window slides with every occurrence.
func (c *OccurrenceCache) Observe(fingerprint string, cooldown time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	throttled := c.throttledLocked(fingerprint, cooldown)
	c.recordLocked(fingerprint, cooldown)

	return throttled
}

// Reset removes every entry
func (c *OccurrenceCache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lastSeen = make(map[string]time.Time)
}

// Len returns the number of tracked fingerprints
func (c *OccurrenceCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.lastSeen)
}

// CleanupExpired removes entries that can no longer throttle anything
func (c *OccurrenceCache) CleanupExpired(cooldown time.Duration) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := c.removeStaleLocked(c.now(), cooldown)
	if removed > 0 && c.onEvict != nil {
		c.onEvict(removed)
	}

	return removed
}

func (c *OccurrenceCache) throttledLocked(fingerprint string, cooldown time.Duration) bool {
	seen, exists := c.lastSeen[fingerprint]
	if !exists {
		return false
	}
	return c.now().Sub(seen) < cooldown
}

func (c *OccurrenceCache) recordLocked(fingerprint string, cooldown time.Duration) {
	if len(c.lastSeen) >= MaxCacheSize {
		c.evictLocked(cooldown)
	}
	c.lastSeen[fingerprint] = c.now()
}

// evictLocked drops stale entries, then halves the cache by age if the stale
// sweep did not free enough room.
func (c *OccurrenceCache) evictLocked(cooldown time.Duration) {
	now := c.now()
	removed := c.removeStaleLocked(now, cooldown)

	if len(c.lastSeen) >= MaxCacheSize {
		type entry struct {
			fingerprint string
			seen        time.Time
		}

		entries := make([]entry, 0, len(c.lastSeen))
		for fp, seen := range c.lastSeen {
			entries = append(entries, entry{fingerprint: fp, seen: seen})
		}
		sort.Slice(entries, func(i, j int) bool {
			return entries[i].seen.Before(entries[j].seen)
		})

		excess := len(entries) - MaxCacheSize/2
		for _, e := range entries[:excess] {
			delete(c.lastSeen, e.fingerprint)
		}
		removed += excess
	}

	c.logger.Debug("Occurrence cache evicted entries",
		zap.Int("removed", removed),
		zap.Int("remaining", len(c.lastSeen)))

	if removed > 0 && c.onEvict != nil {
		c.onEvict(removed)
	}
}

func (c *OccurrenceCache) removeStaleLocked(now time.Time, cooldown time.Duration) int {
	cutoff := now.Add(-cooldown)
	removed := 0
	for fp, seen := range c.lastSeen {
		if seen.Before(cutoff) {
			delete(c.lastSeen, fp)
			removed++
		}
	}
	return removed
}

// GetStatus returns a copy of the tracked fingerprints
func (c *OccurrenceCache) GetStatus() map[string]time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	status := make(map[string]time.Time, len(c.lastSeen))
	for fp, seen := range c.lastSeen {
		status[fp] = seen
	}

	return status
}
