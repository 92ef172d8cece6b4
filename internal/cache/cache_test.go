package cache

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"testing"
	"time"

	"deckforge/internal/logging"
)

func newTestCache(t *testing.T, maxEntries int, durable DurableTier) *Cache {
	t.Helper()
	return New(Options{
		MaxEntries: maxEntries,
		DefaultTTL: time.Hour,
		Durable:    durable,
		Logger:     logging.NewNop(),
	})
}

func TestCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t, 8, nil)

	c.Set(ctx, "slidedeck:abc", Payload{"script": "hello"}, time.Minute)
	payload, ok := c.Get(ctx, "slidedeck:abc")
	if !ok {
		t.Fatal("expected cache hit")
	}
	if payload["script"] != "hello" {
		t.Fatalf("unexpected payload %v", payload)
	}

	if _, ok := c.Get(ctx, "slidedeck:missing"); ok {
		t.Fatal("expected miss for unknown key")
	}

	stats := c.Stats()
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Fatalf("unexpected counters hits=%d misses=%d", stats.Hits, stats.Misses)
	}
}

func TestCacheExpiry(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t, 8, nil)

	c.Set(ctx, "slidedeck:short", Payload{"v": 1.0}, time.Millisecond)
	time.Sleep(5 * time.Millisecond)

	if _, ok := c.Get(ctx, "slidedeck:short"); ok {
		t.Fatal("expected expired entry to miss")
	}
	if stats := c.Stats(); stats.Expirations != 1 {
		t.Fatalf("expected one expiration, got %d", stats.Expirations)
	}
}

func TestCacheEvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t, 3, nil)

	for i := 0; i < 3; i++ {
		c.Set(ctx, fmt.Sprintf("slidedeck:key%d", i), Payload{"i": float64(i)}, time.Minute)
	}

	// Touch key0 and key2 so key1 becomes the oldest.
	if _, ok := c.Get(ctx, "slidedeck:key0"); !ok {
		t.Fatal("expected hit for key0")
	}
	if _, ok := c.Get(ctx, "slidedeck:key2"); !ok {
		t.Fatal("expected hit for key2")
	}

	c.Set(ctx, "slidedeck:key3", Payload{"i": 3.0}, time.Minute)

	if _, ok := c.Get(ctx, "slidedeck:key1"); ok {
		t.Fatal("expected key1 to be evicted")
	}
	for _, key := range []string{"slidedeck:key0", "slidedeck:key2", "slidedeck:key3"} {
		if _, ok := c.Get(ctx, key); !ok {
			t.Fatalf("expected %s to survive eviction", key)
		}
	}
	if stats := c.Stats(); stats.Evictions != 1 {
		t.Fatalf("expected one eviction, got %d", stats.Evictions)
	}
}

func TestCacheOverwriteDoesNotEvict(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t, 2, nil)

	c.Set(ctx, "captions:a", Payload{"v": 1.0}, time.Minute)
	c.Set(ctx, "captions:b", Payload{"v": 2.0}, time.Minute)
	c.Set(ctx, "captions:a", Payload{"v": 3.0}, time.Minute)

	if stats := c.Stats(); stats.Evictions != 0 {
		t.Fatalf("overwrite at capacity should not evict, got %d", stats.Evictions)
	}
	payload, ok := c.Get(ctx, "captions:a")
	if !ok || payload["v"] != 3.0 {
		t.Fatalf("expected overwritten payload, got %v ok=%v", payload, ok)
	}
}

func TestCacheInvalidatePattern(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t, 8, nil)

	c.Set(ctx, "slidedeck:one", Payload{"v": 1.0}, time.Minute)
	c.Set(ctx, "slidedeck:two", Payload{"v": 2.0}, time.Minute)
	c.Set(ctx, "captions:one", Payload{"v": 3.0}, time.Minute)

	removed, err := c.InvalidatePattern(ctx, "^slidedeck:")
	if err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if removed != 2 {
		t.Fatalf("expected 2 removed, got %d", removed)
	}
	if _, ok := c.Get(ctx, "slidedeck:one"); ok {
		t.Fatal("expected slidedeck:one invalidated")
	}
	if _, ok := c.Get(ctx, "captions:one"); !ok {
		t.Fatal("expected captions:one to survive")
	}

	if _, err := c.InvalidatePattern(ctx, "["); err == nil {
		t.Fatal("expected error for malformed pattern")
	}
}

func TestCacheSweepExpired(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t, 8, nil)

	c.Set(ctx, "aiconfig:stale", Payload{"v": 1.0}, time.Millisecond)
	c.Set(ctx, "aiconfig:fresh", Payload{"v": 2.0}, time.Hour)
	time.Sleep(5 * time.Millisecond)

	if removed := c.SweepExpired(ctx); removed != 1 {
		t.Fatalf("expected one swept entry, got %d", removed)
	}
	if _, ok := c.Get(ctx, "aiconfig:fresh"); !ok {
		t.Fatal("sweep removed a live entry")
	}
}

// failingTier simulates a durable backend outage.
type failingTier struct{}

func (failingTier) Name() string { return "failing" }
func (failingTier) Close() error { return nil }
func (failingTier) Get(context.Context, string) (*Entry, error) {
	return nil, errors.New("backend down")
}
func (failingTier) Set(context.Context, *Entry) error { return errors.New("backend down") }
func (failingTier) Delete(context.Context, string) error {
	return errors.New("backend down")
}
func (failingTier) DeleteMatching(context.Context, *regexp.Regexp) (int, error) {
	return 0, errors.New("backend down")
}
func (failingTier) SweepExpired(context.Context, time.Time) (int, error) {
	return 0, errors.New("backend down")
}

func TestCacheDegradesWhenDurableTierFails(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t, 8, failingTier{})

	c.Set(ctx, "slidedeck:key", Payload{"v": 1.0}, time.Minute)
	if _, ok := c.Get(ctx, "slidedeck:key"); !ok {
		t.Fatal("memory tier should still serve hits")
	}
	if _, ok := c.Get(ctx, "slidedeck:absent"); ok {
		t.Fatal("durable failure must degrade to a miss")
	}

	stats := c.Stats()
	if stats.DurableErrors == 0 {
		t.Fatal("expected durable errors to be counted")
	}
	if stats.DurableBackend != "failing" {
		t.Fatalf("unexpected backend name %q", stats.DurableBackend)
	}
}

// recordingTier captures writes so promotion can be observed.
type recordingTier struct {
	entries map[string]*Entry
}

func newRecordingTier() *recordingTier {
	return &recordingTier{entries: make(map[string]*Entry)}
}

func (r *recordingTier) Name() string { return "recording" }
func (r *recordingTier) Close() error { return nil }
func (r *recordingTier) Get(_ context.Context, key string) (*Entry, error) {
	entry, ok := r.entries[key]
	if !ok {
		return nil, nil
	}
	clone := *entry
	return &clone, nil
}
func (r *recordingTier) Set(_ context.Context, entry *Entry) error {
	clone := *entry
	r.entries[entry.Key] = &clone
	return nil
}
func (r *recordingTier) Delete(_ context.Context, key string) error {
	delete(r.entries, key)
	return nil
}
func (r *recordingTier) DeleteMatching(_ context.Context, re *regexp.Regexp) (int, error) {
	removed := 0
	for key := range r.entries {
		if re.MatchString(key) {
			delete(r.entries, key)
			removed++
		}
	}
	return removed, nil
}
func (r *recordingTier) SweepExpired(_ context.Context, now time.Time) (int, error) {
	removed := 0
	for key, entry := range r.entries {
		if entry.Expired(now) {
			delete(r.entries, key)
			removed++
		}
	}
	return removed, nil
}

func TestCachePromotesDurableHit(t *testing.T) {
	ctx := context.Background()
	durable := newRecordingTier()
	c := newTestCache(t, 8, durable)

	now := time.Now().UTC()
	durable.entries["slidedeck:warm"] = &Entry{
		Key:       "slidedeck:warm",
		Payload:   Payload{"script": "restored"},
		CreatedAt: now,
		ExpiresAt: now.Add(time.Hour),
	}

	payload, ok := c.Get(ctx, "slidedeck:warm")
	if !ok {
		t.Fatal("expected durable hit")
	}
	if payload["script"] != "restored" {
		t.Fatalf("unexpected payload %v", payload)
	}

	// Second read must come from memory; wipe the durable tier to prove it.
	durable.entries = map[string]*Entry{}
	if _, ok := c.Get(ctx, "slidedeck:warm"); !ok {
		t.Fatal("expected promoted entry in memory tier")
	}
}
