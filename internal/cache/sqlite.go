package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS cache_entries (
    key TEXT PRIMARY KEY,
    payload TEXT NOT NULL,
    created_at TEXT NOT NULL,
    expires_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cache_entries_expires ON cache_entries(expires_at);
`

// SQLiteTier persists cache entries in a cache_entries table, sharing the
// job database file and connection pool.
type SQLiteTier struct {
	db *sql.DB
}

// NewSQLiteTier initializes the cache table on the provided handle.
func NewSQLiteTier(db *sql.DB) (*SQLiteTier, error) {
	if db == nil {
		return nil, errors.New("cache: nil database handle")
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		return nil, fmt.Errorf("init cache schema: %w", err)
	}
	return &SQLiteTier{db: db}, nil
}

func (t *SQLiteTier) Name() string { return "sqlite" }

// Close is a no-op: the handle belongs to the job registry.
func (t *SQLiteTier) Close() error { return nil }

func (t *SQLiteTier) Get(ctx context.Context, key string) (*Entry, error) {
	row := t.db.QueryRowContext(
		ctx,
		`SELECT key, payload, created_at, expires_at FROM cache_entries WHERE key = ?`,
		key,
	)
	var (
		storedKey  string
		payloadRaw string
		createdRaw string
		expiresRaw string
	)
	if err := row.Scan(&storedKey, &payloadRaw, &createdRaw, &expiresRaw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("cache get: %w", err)
	}

	entry := &Entry{Key: storedKey, SizeBytes: int64(len(payloadRaw))}
	if err := json.Unmarshal([]byte(payloadRaw), &entry.Payload); err != nil {
		return nil, fmt.Errorf("decode cache payload: %w", err)
	}
	created, err := time.Parse(time.RFC3339Nano, createdRaw)
	if err != nil {
		return nil, fmt.Errorf("parse cache created_at: %w", err)
	}
	expires, err := time.Parse(time.RFC3339Nano, expiresRaw)
	if err != nil {
		return nil, fmt.Errorf("parse cache expires_at: %w", err)
	}
	entry.CreatedAt = created
	entry.ExpiresAt = expires
	return entry, nil
}

func (t *SQLiteTier) Set(ctx context.Context, entry *Entry) error {
	encoded, err := json.Marshal(entry.Payload)
	if err != nil {
		return fmt.Errorf("encode cache payload: %w", err)
	}
	_, err = t.db.ExecContext(
		ctx,
		`INSERT INTO cache_entries (key, payload, created_at, expires_at)
         VALUES (?, ?, ?, ?)
         ON CONFLICT(key) DO UPDATE SET
             payload = excluded.payload,
             created_at = excluded.created_at,
             expires_at = excluded.expires_at`,
		entry.Key,
		string(encoded),
		entry.CreatedAt.UTC().Format(time.RFC3339Nano),
		entry.ExpiresAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

func (t *SQLiteTier) Delete(ctx context.Context, key string) error {
	if _, err := t.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = ?`, key); err != nil {
		return fmt.Errorf("cache delete: %w", err)
	}
	return nil
}

func (t *SQLiteTier) DeleteMatching(ctx context.Context, re *regexp.Regexp) (int, error) {
	rows, err := t.db.QueryContext(ctx, `SELECT key FROM cache_entries`)
	if err != nil {
		return 0, fmt.Errorf("cache list keys: %w", err)
	}
	defer rows.Close()

	var matched []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return 0, err
		}
		if re.MatchString(key) {
			matched = append(matched, key)
		}
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, key := range matched {
		if err := t.Delete(ctx, key); err != nil {
			return 0, err
		}
	}
	return len(matched), nil
}

func (t *SQLiteTier) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := t.db.ExecContext(
		ctx,
		`DELETE FROM cache_entries WHERE expires_at <= ?`,
		now.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("cache sweep: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}
