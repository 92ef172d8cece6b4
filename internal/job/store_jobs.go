package job

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Create inserts a new job with the full ordered stage list for kind.
// Synthetic stages (ingest) are recorded completed immediately.
func (r *Registry) Create(ctx context.Context, ownerID, kind string) (*Job, error) {
	return r.CreateInBatch(ctx, ownerID, kind, "")
}

// CreateInBatch inserts a new job associated with a batch submission.
func (r *Registry) CreateInBatch(ctx context.Context, ownerID, kind, batchID string) (*Job, error) {
	ctx = ensureContext(ctx)
	template, ok := r.templates[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPipeline, kind)
	}

	now := time.Now().UTC()
	timestamp := now.Format(time.RFC3339Nano)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin create tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(
		ctx,
		`INSERT INTO jobs (owner_id, kind, batch_id, status, progress, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ownerID,
		kind,
		nullableString(batchID),
		StatusPending,
		OverallProgress(seedStages(0, template, now)),
		timestamp,
		timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}

	for _, stage := range seedStages(id, template, now) {
		if _, err := tx.ExecContext(
			ctx,
			`INSERT INTO job_stages (
                job_id, name, ord, status, progress, cacheable, ttl_seconds,
                timeout_seconds, attempt, idempotency_key, started_at,
                finished_at, duration_ms
             ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			stage.JobID,
			stage.Name,
			stage.Order,
			stage.Status,
			stage.Progress,
			boolToInt(stage.Cacheable),
			stage.TTLSeconds,
			stage.TimeoutSeconds,
			stage.Attempt,
			nullableString(stage.IdempotencyKey),
			nullableTime(stage.StartedAt),
			nullableTime(stage.FinishedAt),
			stage.DurationMs,
		); err != nil {
			return nil, fmt.Errorf("insert stage %s: %w", stage.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit create: %w", err)
	}

	return r.GetByID(ctx, id)
}

func seedStages(jobID int64, template []StageTemplate, now time.Time) []Stage {
	stages := make([]Stage, 0, len(template))
	for i, tpl := range template {
		stage := Stage{
			JobID:          jobID,
			Name:           tpl.Name,
			Order:          i,
			Status:         StagePending,
			Cacheable:      tpl.Cacheable,
			TTLSeconds:     tpl.TTLSeconds,
			TimeoutSeconds: tpl.TimeoutSeconds,
			IdempotencyKey: uuid.NewString(),
		}
		if tpl.Synthetic {
			started := now
			finished := now
			stage.Status = StageCompleted
			stage.Progress = 100
			stage.StartedAt = &started
			stage.FinishedAt = &finished
		}
		stages = append(stages, stage)
	}
	return stages
}

// SetSource records the uploaded artifact backing a job.
func (r *Registry) SetSource(ctx context.Context, jobID int64, path, name string) error {
	ctx = ensureContext(ctx)
	_, err := r.execWithRetry(
		ctx,
		`UPDATE jobs SET source_path = ?, source_name = ?, updated_at = ? WHERE id = ?`,
		nullableString(path),
		nullableString(name),
		time.Now().UTC().Format(time.RFC3339Nano),
		jobID,
	)
	if err != nil {
		return fmt.Errorf("set job source: %w", err)
	}
	return nil
}

// GetByID fetches a job with its stages. Returns ErrNotFound when absent.
func (r *Registry) GetByID(ctx context.Context, id int64) (*Job, error) {
	ctx = ensureContext(ctx)
	row := r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	if err := r.loadStages(ctx, j); err != nil {
		return nil, err
	}
	return j, nil
}

// GetOwned fetches a job and enforces ownership. Distinguishes ErrNotFound
// from ErrNotOwned so the API surface can answer 404 vs 403.
func (r *Registry) GetOwned(ctx context.Context, id int64, ownerID string) (*Job, error) {
	j, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if j.OwnerID != ownerID {
		return nil, fmt.Errorf("%w: id %d", ErrNotOwned, id)
	}
	return j, nil
}

// ListByOwner returns the owner's jobs, newest first.
func (r *Registry) ListByOwner(ctx context.Context, ownerID string) ([]*Job, error) {
	return r.queryJobs(ctx, `SELECT `+jobColumns+` FROM jobs WHERE owner_id = ? ORDER BY created_at DESC, id DESC`, ownerID)
}

// ListByBatch returns all jobs created for one batch submission, in
// submission order.
func (r *Registry) ListByBatch(ctx context.Context, batchID string) ([]*Job, error) {
	return r.queryJobs(ctx, `SELECT `+jobColumns+` FROM jobs WHERE batch_id = ? ORDER BY id`, batchID)
}

// List returns jobs filtered by status set (or all jobs when no status is
// provided), oldest first.
func (r *Registry) List(ctx context.Context, statuses ...Status) ([]*Job, error) {
	if len(statuses) == 0 {
		return r.queryJobs(ctx, `SELECT `+jobColumns+` FROM jobs ORDER BY created_at, id`)
	}
	placeholders := makePlaceholders(len(statuses))
	args := make([]any, len(statuses))
	for i, status := range statuses {
		args[i] = status
	}
	return r.queryJobs(ctx, `SELECT `+jobColumns+` FROM jobs WHERE status IN (`+placeholders+`) ORDER BY created_at, id`, args...)
}

func (r *Registry) queryJobs(ctx context.Context, query string, args ...any) ([]*Job, error) {
	ctx = ensureContext(ctx)
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, j := range jobs {
		if err := r.loadStages(ctx, j); err != nil {
			return nil, err
		}
	}
	return jobs, nil
}

// Stats returns a count of jobs grouped by status.
func (r *Registry) Stats(ctx context.Context) (map[Status]int, error) {
	ctx = ensureContext(ctx)
	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("job stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Status]int)
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// Health aggregates job state for diagnostic output.
func (r *Registry) Health(ctx context.Context) (HealthSummary, error) {
	stats, err := r.Stats(ctx)
	if err != nil {
		return HealthSummary{}, err
	}
	health := HealthSummary{}
	for status, count := range stats {
		health.Total += count
		switch status {
		case StatusPending:
			health.Pending += count
		case StatusRunning:
			health.Running += count
		case StatusCompleted:
			health.Completed += count
		case StatusFailed:
			health.Failed += count
		case StatusCancelled:
			health.Cancelled += count
		}
	}
	return health, nil
}

// RequestCancel flags a job for cancellation at the next stage boundary.
// Completed, failed, and cancelled jobs are left untouched.
func (r *Registry) RequestCancel(ctx context.Context, jobID int64) (bool, error) {
	ctx = ensureContext(ctx)
	res, err := r.execWithRetry(
		ctx,
		`UPDATE jobs SET cancel_requested = 1, updated_at = ?
         WHERE id = ? AND status IN (?, ?)`,
		time.Now().UTC().Format(time.RFC3339Nano),
		jobID,
		StatusPending,
		StatusRunning,
	)
	if err != nil {
		return false, fmt.Errorf("request cancel: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// ResetInterrupted returns Processing stages to Pending. Called once at
// startup: a stage left Processing lost its goroutine with the previous
// process and will be re-executed on resume.
func (r *Registry) ResetInterrupted(ctx context.Context) (int64, error) {
	ctx = ensureContext(ctx)
	res, err := r.execWithRetry(
		ctx,
		`UPDATE job_stages SET status = ?, progress = 0, started_at = NULL
         WHERE status = ?`,
		StagePending,
		StageProcessing,
	)
	if err != nil {
		return 0, fmt.Errorf("reset interrupted stages: %w", err)
	}
	return res.RowsAffected()
}

// Remove deletes a job and its stages.
func (r *Registry) Remove(ctx context.Context, id int64) (bool, error) {
	ctx = ensureContext(ctx)
	res, err := r.execWithRetry(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

const jobColumns = "id, owner_id, kind, batch_id, status, progress, source_path, source_name, result_json, error_message, cancel_requested, created_at, updated_at"

func scanJob(scanner interface{ Scan(dest ...any) error }) (*Job, error) {
	var (
		id          int64
		ownerID     string
		kind        string
		batchID     sql.NullString
		statusStr   string
		progress    int
		sourcePath  sql.NullString
		sourceName  sql.NullString
		resultJSON  sql.NullString
		errMessage  sql.NullString
		cancelReq   sql.NullInt64
		createdRaw  sql.NullString
		updatedRaw  sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&ownerID,
		&kind,
		&batchID,
		&statusStr,
		&progress,
		&sourcePath,
		&sourceName,
		&resultJSON,
		&errMessage,
		&cancelReq,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	j := &Job{
		ID:         id,
		OwnerID:    ownerID,
		Kind:       kind,
		BatchID:    batchID.String,
		Status:     Status(statusStr),
		Progress:   progress,
		SourcePath: sourcePath.String,
		SourceName: sourceName.String,
		Error:      errMessage.String,
	}
	if cancelReq.Valid {
		j.CancelRequested = cancelReq.Int64 != 0
	}
	if resultJSON.Valid && resultJSON.String != "" {
		if err := json.Unmarshal([]byte(resultJSON.String), &j.Result); err != nil {
			return nil, fmt.Errorf("decode job result: %w", err)
		}
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		j.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		j.UpdatedAt = updated
	}
	return j, nil
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
