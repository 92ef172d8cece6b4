package job

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// UpdateStage is the single mutation entry point for job state. It loads the
// named stage, applies the mutator, persists the stage row, and rederives
// job-level status, progress, result, and error before returning a fresh
// snapshot of the whole job. Writers for the same job are serialized by a
// per-job mutex; the returned job is a copy.
func (r *Registry) UpdateStage(ctx context.Context, jobID int64, stageName string, mutate func(*Stage) error) (*Job, error) {
	ctx = ensureContext(ctx)
	lock := r.jobLock(jobID)
	lock.Lock()
	defer lock.Unlock()

	j, err := r.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	stage := j.StageByName(stageName)
	if stage == nil {
		return nil, fmt.Errorf("%w: job %d stage %q", ErrStageNotFound, jobID, stageName)
	}

	if err := mutate(stage); err != nil {
		return nil, err
	}
	clampStage(stage)

	if err := r.persistStage(ctx, stage); err != nil {
		return nil, err
	}
	if err := r.rederiveJob(ctx, j); err != nil {
		return nil, err
	}
	return j.Clone(), nil
}

// ResetStageForRetry returns the named stage to Pending with a fresh attempt
// counter and idempotency key, clearing prior output and error. Used by the
// orchestrator's explicit retry path. The status check runs inside the
// mutator, under the per-job mutex, so a reset racing an attempt that has
// already moved the stage to pending or processing is rejected rather than
// rotating the key out from under it.
func (r *Registry) ResetStageForRetry(ctx context.Context, jobID int64, stageName string) (*Job, error) {
	return r.UpdateStage(ctx, jobID, stageName, func(s *Stage) error {
		if s.Status != StageFailed && s.Status != StageCompleted {
			return fmt.Errorf("%w: job %d stage %q is %s", ErrStageNotRetryable, jobID, stageName, s.Status)
		}
		s.Status = StagePending
		s.Progress = 0
		s.Attempt++
		s.IdempotencyKey = uuid.NewString()
		s.StartedAt = nil
		s.FinishedAt = nil
		s.DurationMs = 0
		s.Output = nil
		s.Error = ""
		return nil
	})
}

// MarkRunning transitions a pending job to Running when its orchestration
// goroutine starts.
func (r *Registry) MarkRunning(ctx context.Context, jobID int64) error {
	ctx = ensureContext(ctx)
	lock := r.jobLock(jobID)
	lock.Lock()
	defer lock.Unlock()

	_, err := r.execWithRetry(
		ctx,
		`UPDATE jobs SET status = ?, error_message = NULL, updated_at = ?
         WHERE id = ? AND status IN (?, ?)`,
		StatusRunning,
		time.Now().UTC().Format(time.RFC3339Nano),
		jobID,
		StatusPending,
		StatusFailed,
	)
	if err != nil {
		return fmt.Errorf("mark job running: %w", err)
	}
	return nil
}

// MarkCancelled moves a job to the terminal Cancelled state. Remaining
// pending stages are left untouched; only the job-level status changes.
func (r *Registry) MarkCancelled(ctx context.Context, jobID int64) error {
	ctx = ensureContext(ctx)
	lock := r.jobLock(jobID)
	lock.Lock()
	defer lock.Unlock()

	_, err := r.execWithRetry(
		ctx,
		`UPDATE jobs SET status = ?, cancel_requested = 0, error_message = ?, updated_at = ?
         WHERE id = ? AND status NOT IN (?, ?)`,
		StatusCancelled,
		"cancelled by caller",
		time.Now().UTC().Format(time.RFC3339Nano),
		jobID,
		StatusCompleted,
		StatusCancelled,
	)
	if err != nil {
		return fmt.Errorf("mark job cancelled: %w", err)
	}
	return nil
}

// clampStage enforces the numeric invariants on a mutated stage: progress in
// [0,100], 100 exactly when completed, and non-negative duration.
func clampStage(s *Stage) {
	if s.Progress < 0 {
		s.Progress = 0
	}
	if s.Progress > 100 {
		s.Progress = 100
	}
	if s.Status == StageCompleted {
		s.Progress = 100
	}
	if s.DurationMs < 0 {
		s.DurationMs = 0
	}
}

// rederiveJob recomputes job-level status, progress, result, and error from
// the in-memory stage slice and persists the job row.
func (r *Registry) rederiveJob(ctx context.Context, j *Job) error {
	j.Status = DeriveStatus(j.Status, j.Stages)
	j.Progress = OverallProgress(j.Stages)
	j.UpdatedAt = time.Now().UTC()

	j.Error = ""
	for i := range j.Stages {
		if j.Stages[i].Status == StageFailed && j.Stages[i].Error != "" {
			j.Error = fmt.Sprintf("%s: %s", j.Stages[i].Name, j.Stages[i].Error)
			break
		}
	}

	if j.Status == StatusCompleted && len(j.Stages) > 0 {
		j.Result = j.Stages[len(j.Stages)-1].Output
	} else if j.Status != StatusCompleted {
		j.Result = nil
	}

	var resultJSON any
	if j.Result != nil {
		encoded, err := json.Marshal(j.Result)
		if err != nil {
			return fmt.Errorf("encode job result: %w", err)
		}
		resultJSON = string(encoded)
	}

	_, err := r.execWithRetry(
		ctx,
		`UPDATE jobs SET status = ?, progress = ?, result_json = ?, error_message = ?, updated_at = ?
         WHERE id = ?`,
		j.Status,
		j.Progress,
		resultJSON,
		nullableString(j.Error),
		j.UpdatedAt.Format(time.RFC3339Nano),
		j.ID,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	return nil
}

func (r *Registry) persistStage(ctx context.Context, s *Stage) error {
	var outputJSON any
	if s.Output != nil {
		encoded, err := json.Marshal(s.Output)
		if err != nil {
			return fmt.Errorf("encode stage output: %w", err)
		}
		outputJSON = string(encoded)
	}

	_, err := r.execWithRetry(
		ctx,
		`UPDATE job_stages
         SET status = ?, progress = ?, attempt = ?, idempotency_key = ?,
             started_at = ?, finished_at = ?, duration_ms = ?, output_json = ?,
             error_message = ?
         WHERE job_id = ? AND name = ?`,
		s.Status,
		s.Progress,
		s.Attempt,
		nullableString(s.IdempotencyKey),
		nullableTime(s.StartedAt),
		nullableTime(s.FinishedAt),
		s.DurationMs,
		outputJSON,
		nullableString(s.Error),
		s.JobID,
		s.Name,
	)
	if err != nil {
		return fmt.Errorf("update stage %s: %w", s.Name, err)
	}
	return nil
}

func (r *Registry) loadStages(ctx context.Context, j *Job) error {
	rows, err := r.db.QueryContext(
		ctx,
		`SELECT job_id, name, ord, status, progress, cacheable, ttl_seconds,
                timeout_seconds, attempt, idempotency_key, started_at,
                finished_at, duration_ms, output_json, error_message
         FROM job_stages WHERE job_id = ? ORDER BY ord`,
		j.ID,
	)
	if err != nil {
		return fmt.Errorf("query stages: %w", err)
	}
	defer rows.Close()

	j.Stages = j.Stages[:0]
	for rows.Next() {
		stage, err := scanStage(rows)
		if err != nil {
			return err
		}
		j.Stages = append(j.Stages, stage)
	}
	return rows.Err()
}

func scanStage(scanner interface{ Scan(dest ...any) error }) (Stage, error) {
	var (
		jobID          int64
		name           string
		ord            int
		statusStr      string
		progress       int
		cacheable      sql.NullInt64
		ttlSeconds     int
		timeoutSeconds int
		attempt        int
		idempotency    sql.NullString
		startedRaw     sql.NullString
		finishedRaw    sql.NullString
		durationMs     int64
		outputJSON     sql.NullString
		errMessage     sql.NullString
	)

	if err := scanner.Scan(
		&jobID,
		&name,
		&ord,
		&statusStr,
		&progress,
		&cacheable,
		&ttlSeconds,
		&timeoutSeconds,
		&attempt,
		&idempotency,
		&startedRaw,
		&finishedRaw,
		&durationMs,
		&outputJSON,
		&errMessage,
	); err != nil {
		return Stage{}, err
	}

	stage := Stage{
		JobID:          jobID,
		Name:           name,
		Order:          ord,
		Status:         StageStatus(statusStr),
		Progress:       progress,
		TTLSeconds:     ttlSeconds,
		TimeoutSeconds: timeoutSeconds,
		Attempt:        attempt,
		IdempotencyKey: idempotency.String,
		DurationMs:     durationMs,
		Error:          errMessage.String,
	}
	if cacheable.Valid {
		stage.Cacheable = cacheable.Int64 != 0
	}
	if outputJSON.Valid && outputJSON.String != "" {
		if err := json.Unmarshal([]byte(outputJSON.String), &stage.Output); err != nil {
			return Stage{}, fmt.Errorf("decode stage output: %w", err)
		}
	}
	if startedRaw.Valid {
		if started, err := parseTimeString(startedRaw.String); err == nil {
			stage.StartedAt = &started
		}
	}
	if finishedRaw.Valid {
		if finished, err := parseTimeString(finishedRaw.String); err == nil {
			stage.FinishedAt = &finished
		}
	}
	return stage, nil
}
