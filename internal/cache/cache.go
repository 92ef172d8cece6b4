package cache

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"deckforge/internal/logging"
)

// Stats aggregates cache activity counters for diagnostics.
type Stats struct {
	Entries        int    `json:"entries"`
	MaxEntries     int    `json:"max_entries"`
	Hits           int64  `json:"hits"`
	Misses         int64  `json:"misses"`
	Evictions      int64  `json:"evictions"`
	Expirations    int64  `json:"expirations"`
	DurableErrors  int64  `json:"durable_errors"`
	DurableBackend string `json:"durable_backend"`
}

// Cache is the two-tier result cache. All methods are safe for concurrent
// use.
type Cache struct {
	mu         sync.Mutex
	memory     *memoryTier
	durable    DurableTier
	logger     *slog.Logger
	defaultTTL time.Duration

	hits          int64
	misses        int64
	evictions     int64
	expirations   int64
	durableErrors int64
}

// Options configures cache construction.
type Options struct {
	MaxEntries int
	DefaultTTL time.Duration
	// Durable is the optional second tier; nil runs memory-only.
	Durable DurableTier
	Logger  *slog.Logger
}

// New constructs a cache with a bounded memory tier and an optional durable
// tier.
func New(opts Options) *Cache {
	maxEntries := opts.MaxEntries
	if maxEntries <= 0 {
		maxEntries = 1
	}
	defaultTTL := opts.DefaultTTL
	if defaultTTL <= 0 {
		defaultTTL = 24 * time.Hour
	}
	return &Cache{
		memory:     newMemoryTier(maxEntries),
		durable:    opts.Durable,
		logger:     logging.NewComponentLogger(opts.Logger, "cache"),
		defaultTTL: defaultTTL,
	}
}

// DefaultTTL returns the TTL applied when callers pass a non-positive one.
func (c *Cache) DefaultTTL() time.Duration {
	return c.defaultTTL
}

// Get returns the payload for key, or false on a miss. Expired entries are
// lazily purged and reported as misses. A memory miss falls through to the
// durable tier; durable hits are promoted back into memory.
func (c *Cache) Get(ctx context.Context, key string) (Payload, bool) {
	now := time.Now().UTC()

	c.mu.Lock()
	entry, hit, expired := c.memory.get(key, now)
	if expired {
		c.expirations++
	}
	if hit {
		c.hits++
		payload := entry.Payload
		c.mu.Unlock()
		return payload, true
	}
	c.mu.Unlock()

	if c.durable != nil {
		durableEntry, err := c.durable.Get(ctx, key)
		if err != nil {
			c.recordDurableError("get", err)
		} else if durableEntry != nil && !durableEntry.Expired(now) {
			durableEntry.LastAccessedAt = now
			c.mu.Lock()
			c.hits++
			if _, evicted := c.memory.set(durableEntry); evicted {
				c.evictions++
			}
			c.mu.Unlock()
			return durableEntry.Payload, true
		}
	}

	c.mu.Lock()
	c.misses++
	c.mu.Unlock()
	return nil, false
}

// Set stores a payload under key with the given TTL (the default TTL when
// non-positive), evicting the least recently used memory entry when the
// bounded tier is full.
func (c *Cache) Set(ctx context.Context, key string, payload Payload, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	now := time.Now().UTC()
	entry := &Entry{
		Key:            key,
		Payload:        payload,
		CreatedAt:      now,
		ExpiresAt:      now.Add(ttl),
		LastAccessedAt: now,
		SizeBytes:      payloadSize(payload),
	}

	c.mu.Lock()
	if evictedKey, evicted := c.memory.set(entry); evicted {
		c.evictions++
		c.logger.Debug("evicted least recently used cache entry",
			logging.String("evicted_key", evictedKey))
	}
	c.mu.Unlock()

	if c.durable != nil {
		if err := c.durable.Set(ctx, entry); err != nil {
			c.recordDurableError("set", err)
		}
	}
}

// Delete removes key from both tiers.
func (c *Cache) Delete(ctx context.Context, key string) {
	c.mu.Lock()
	c.memory.delete(key)
	c.mu.Unlock()

	if c.durable != nil {
		if err := c.durable.Delete(ctx, key); err != nil {
			c.recordDurableError("delete", err)
		}
	}
}

// InvalidatePattern removes every entry whose key matches the regular
// expression from both tiers and returns the number removed.
func (c *Cache) InvalidatePattern(ctx context.Context, pattern string) (int, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return 0, fmt.Errorf("invalid cache pattern %q: %w", pattern, err)
	}

	c.mu.Lock()
	removed := c.memory.deleteMatching(re)
	c.mu.Unlock()

	if c.durable != nil {
		durableRemoved, err := c.durable.DeleteMatching(ctx, re)
		if err != nil {
			c.recordDurableError("invalidate", err)
		} else if durableRemoved > removed {
			removed = durableRemoved
		}
	}
	return removed, nil
}

// SweepExpired removes entries past their TTL from both tiers. Safe to call
// concurrently with Get and Set.
func (c *Cache) SweepExpired(ctx context.Context) int {
	now := time.Now().UTC()

	c.mu.Lock()
	removed := c.memory.sweepExpired(now)
	c.expirations += int64(removed)
	c.mu.Unlock()

	if c.durable != nil {
		durableRemoved, err := c.durable.SweepExpired(ctx, now)
		if err != nil {
			c.recordDurableError("sweep", err)
		} else {
			removed += durableRemoved
		}
	}
	return removed
}

// StartSweeper launches the background expiry sweep, stopping when ctx is
// done.
func (c *Cache) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if removed := c.SweepExpired(ctx); removed > 0 {
					c.logger.Debug("swept expired cache entries", logging.Int("removed", removed))
				}
			}
		}
	}()
}

// Stats returns a snapshot of cache counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	stats := Stats{
		Entries:       c.memory.len(),
		MaxEntries:    c.memory.maxEntries,
		Hits:          c.hits,
		Misses:        c.misses,
		Evictions:     c.evictions,
		Expirations:   c.expirations,
		DurableErrors: c.durableErrors,
	}
	if c.durable != nil {
		stats.DurableBackend = c.durable.Name()
	} else {
		stats.DurableBackend = "none"
	}
	return stats
}

// Close releases the durable tier, if any.
func (c *Cache) Close() error {
	if c.durable == nil {
		return nil
	}
	return c.durable.Close()
}

func (c *Cache) recordDurableError(operation string, err error) {
	c.mu.Lock()
	c.durableErrors++
	c.mu.Unlock()
	c.logger.Warn("durable cache tier unavailable, continuing memory-only",
		logging.String("operation", operation),
		logging.Error(err))
}
