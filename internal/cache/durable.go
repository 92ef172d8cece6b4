package cache

import (
	"context"
	"regexp"
	"time"
)

// DurableTier is the optional second cache tier. Implementations persist
// entries across process restarts. Errors from a durable tier never reach
// stage callers; the owning Cache logs them and degrades to memory-only.
type DurableTier interface {
	// Get returns the stored entry or nil when absent. Implementations may
	// return expired entries; the Cache filters them.
	Get(ctx context.Context, key string) (*Entry, error)
	Set(ctx context.Context, entry *Entry) error
	Delete(ctx context.Context, key string) error
	// DeleteMatching removes every entry whose key matches the pattern and
	// returns the removal count.
	DeleteMatching(ctx context.Context, re *regexp.Regexp) (int, error)
	// SweepExpired removes entries past their expiry at the given instant.
	SweepExpired(ctx context.Context, now time.Time) (int, error)
	// Name identifies the backend in logs and stats.
	Name() string
	Close() error
}
