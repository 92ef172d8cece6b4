package job

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"deckforge/internal/config"
)

// Registry manages job persistence backed by SQLite and serializes all stage
// mutation per job.
type Registry struct {
	db        *sql.DB
	path      string
	templates map[string][]StageTemplate

	locksMu sync.Mutex
	locks   map[int64]*sync.Mutex
}

const (
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// Open initializes or connects to the job database.
// templates maps each known pipeline kind to its ordered stage list.
func Open(cfg *config.Config, templates map[string][]StageTemplate) (*Registry, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	if len(templates) == 0 {
		return nil, errors.New("no pipeline templates configured")
	}

	dbPath := filepath.Join(cfg.Paths.DataDir, "deckforge.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	registry := &Registry{
		db:        db,
		path:      dbPath,
		templates: templates,
		locks:     make(map[int64]*sync.Mutex),
	}
	if err := registry.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return registry, nil
}

// Close closes the underlying database connection.
func (r *Registry) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// DB exposes the underlying handle so co-located tables (the durable cache
// tier) can share the database file and connection pool.
func (r *Registry) DB() *sql.DB {
	return r.db
}

// Path returns the database file location.
func (r *Registry) Path() string {
	return r.path
}

// Kinds returns the pipeline kinds the registry was configured with.
func (r *Registry) Kinds() []string {
	kinds := make([]string, 0, len(r.templates))
	for kind := range r.templates {
		kinds = append(kinds, kind)
	}
	return kinds
}

// jobLock returns the mutex serializing writers for one job id.
func (r *Registry) jobLock(jobID int64) *sync.Mutex {
	r.locksMu.Lock()
	defer r.locksMu.Unlock()
	lock, ok := r.locks[jobID]
	if !ok {
		lock = &sync.Mutex{}
		r.locks[jobID] = lock
	}
	return lock
}

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == 5 {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

func (r *Registry) execWithRetry(ctx context.Context, query string, args ...any) (sql.Result, error) {
	ctx = ensureContext(ctx)
	var (
		res     sql.Result
		execErr error
	)
	if err := retryOnBusy(ctx, func() error {
		res, execErr = r.db.ExecContext(ctx, query, args...)
		return execErr
	}); err != nil {
		return nil, err
	}
	return res, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return value.UTC().Format(time.RFC3339Nano)
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}
