package cache

import (
	"encoding/json"
	"regexp"
	"time"
)

// Payload is a JSON-like cached value.
type Payload = map[string]any

// Entry is one cached record. Ownership is exclusive to the cache; payloads
// handed out are the caller's to keep.
type Entry struct {
	Key            string
	Payload        Payload
	CreatedAt      time.Time
	ExpiresAt      time.Time
	LastAccessedAt time.Time
	SizeBytes      int64
}

// Expired reports whether the entry is past its TTL at the given instant.
func (e *Entry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// memoryTier is the bounded in-memory map. Not safe for concurrent use on
// its own; the owning Cache serializes access.
type memoryTier struct {
	maxEntries int
	entries    map[string]*Entry
}

func newMemoryTier(maxEntries int) *memoryTier {
	return &memoryTier{
		maxEntries: maxEntries,
		entries:    make(map[string]*Entry, maxEntries),
	}
}

// get returns the live entry for key, lazily purging it when expired.
// The second return distinguishes a miss (false) from a hit.
func (m *memoryTier) get(key string, now time.Time) (*Entry, bool, bool) {
	entry, ok := m.entries[key]
	if !ok {
		return nil, false, false
	}
	if entry.Expired(now) {
		delete(m.entries, key)
		return nil, false, true
	}
	entry.LastAccessedAt = now
	return entry, true, false
}

// set inserts or overwrites an entry, evicting the least recently used entry
// first when the tier is at capacity. Returns the evicted key, if any.
func (m *memoryTier) set(entry *Entry) (string, bool) {
	evictedKey := ""
	evicted := false
	if _, exists := m.entries[entry.Key]; !exists && len(m.entries) >= m.maxEntries {
		evictedKey = m.oldestKey()
		if evictedKey != "" {
			delete(m.entries, evictedKey)
			evicted = true
		}
	}
	m.entries[entry.Key] = entry
	return evictedKey, evicted
}

// oldestKey returns the key with the smallest LastAccessedAt (strict LRU).
func (m *memoryTier) oldestKey() string {
	var (
		oldest string
		at     time.Time
	)
	for key, entry := range m.entries {
		if oldest == "" || entry.LastAccessedAt.Before(at) {
			oldest = key
			at = entry.LastAccessedAt
		}
	}
	return oldest
}

func (m *memoryTier) delete(key string) bool {
	if _, ok := m.entries[key]; !ok {
		return false
	}
	delete(m.entries, key)
	return true
}

func (m *memoryTier) deleteMatching(re *regexp.Regexp) int {
	removed := 0
	for key := range m.entries {
		if re.MatchString(key) {
			delete(m.entries, key)
			removed++
		}
	}
	return removed
}

func (m *memoryTier) sweepExpired(now time.Time) int {
	removed := 0
	for key, entry := range m.entries {
		if entry.Expired(now) {
			delete(m.entries, key)
			removed++
		}
	}
	return removed
}

func (m *memoryTier) len() int {
	return len(m.entries)
}

func payloadSize(payload Payload) int64 {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return 0
	}
	return int64(len(encoded))
}
