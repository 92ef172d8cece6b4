package cache

import (
	"context"
	"database/sql"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

func openTestTier(t *testing.T) *SQLiteTier {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	tier, err := NewSQLiteTier(db)
	if err != nil {
		t.Fatalf("init tier: %v", err)
	}
	return tier
}

func TestSQLiteTierRoundTrip(t *testing.T) {
	ctx := context.Background()
	tier := openTestTier(t)

	now := time.Now().UTC()
	entry := &Entry{
		Key:       "slidedeck:abc123",
		Payload:   Payload{"script": "hello", "slides": 12.0},
		CreatedAt: now,
		ExpiresAt: now.Add(time.Hour),
	}
	if err := tier.Set(ctx, entry); err != nil {
		t.Fatalf("set: %v", err)
	}

	got, err := tier.Get(ctx, "slidedeck:abc123")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil {
		t.Fatal("expected stored entry")
	}
	if got.Payload["script"] != "hello" || got.Payload["slides"] != 12.0 {
		t.Fatalf("unexpected payload %v", got.Payload)
	}
	if !got.ExpiresAt.Equal(entry.ExpiresAt) {
		t.Fatalf("expires_at mismatch: %v != %v", got.ExpiresAt, entry.ExpiresAt)
	}

	missing, err := tier.Get(ctx, "slidedeck:absent")
	if err != nil {
		t.Fatalf("get absent: %v", err)
	}
	if missing != nil {
		t.Fatal("expected nil for absent key")
	}
}

func TestSQLiteTierUpsert(t *testing.T) {
	ctx := context.Background()
	tier := openTestTier(t)

	now := time.Now().UTC()
	for _, version := range []float64{1, 2} {
		entry := &Entry{
			Key:       "captions:same",
			Payload:   Payload{"version": version},
			CreatedAt: now,
			ExpiresAt: now.Add(time.Hour),
		}
		if err := tier.Set(ctx, entry); err != nil {
			t.Fatalf("set version %v: %v", version, err)
		}
	}

	got, err := tier.Get(ctx, "captions:same")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Payload["version"] != 2.0 {
		t.Fatalf("expected latest payload, got %v", got.Payload)
	}
}

func TestSQLiteTierDeleteMatching(t *testing.T) {
	ctx := context.Background()
	tier := openTestTier(t)

	now := time.Now().UTC()
	for _, key := range []string{"slidedeck:a", "slidedeck:b", "captions:c"} {
		entry := &Entry{Key: key, Payload: Payload{"v": 1.0}, CreatedAt: now, ExpiresAt: now.Add(time.Hour)}
		if err := tier.Set(ctx, entry); err != nil {
			t.Fatalf("set %s: %v", key, err)
		}
	}

	removed, err := tier.DeleteMatching(ctx, regexp.MustCompile("^slidedeck:"))
	if err != nil {
		t.Fatalf("delete matching: %v", err)
	}
	if removed != 2 {
		t.Fatalf("expected 2 removed, got %d", removed)
	}
	survivor, err := tier.Get(ctx, "captions:c")
	if err != nil || survivor == nil {
		t.Fatalf("expected captions:c to survive, got %v err=%v", survivor, err)
	}
}

func TestSQLiteTierSweepExpired(t *testing.T) {
	ctx := context.Background()
	tier := openTestTier(t)

	now := time.Now().UTC()
	stale := &Entry{Key: "aiconfig:stale", Payload: Payload{"v": 1.0}, CreatedAt: now.Add(-2 * time.Hour), ExpiresAt: now.Add(-time.Hour)}
	fresh := &Entry{Key: "aiconfig:fresh", Payload: Payload{"v": 2.0}, CreatedAt: now, ExpiresAt: now.Add(time.Hour)}
	for _, entry := range []*Entry{stale, fresh} {
		if err := tier.Set(ctx, entry); err != nil {
			t.Fatalf("set %s: %v", entry.Key, err)
		}
	}

	removed, err := tier.SweepExpired(ctx, now)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 swept, got %d", removed)
	}
	if got, err := tier.Get(ctx, "aiconfig:fresh"); err != nil || got == nil {
		t.Fatalf("fresh entry missing after sweep: %v err=%v", got, err)
	}
}
