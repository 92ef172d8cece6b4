package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"deckforge/internal/cache"
	"deckforge/internal/job"
	"deckforge/internal/logging"
	"deckforge/internal/services"
	"deckforge/internal/stage"
)

// Executor runs a single stage attempt against its registered worker,
// consulting the result cache before and after.
type Executor struct {
	registry     *job.Registry
	cache        *cache.Cache
	workers      map[string]stage.Worker
	logger       *slog.Logger
	stageTimeout time.Duration
}

// NewExecutor wires the executor. The cache may be nil, disabling result
// reuse. stageTimeout applies to stages whose definition carries no timeout.
func NewExecutor(registry *job.Registry, resultCache *cache.Cache, workers map[string]stage.Worker, logger *slog.Logger, stageTimeout time.Duration) *Executor {
	if stageTimeout <= 0 {
		stageTimeout = 10 * time.Minute
	}
	return &Executor{
		registry:     registry,
		cache:        resultCache,
		workers:      workers,
		logger:       logging.NewComponentLogger(logger, "executor"),
		stageTimeout: stageTimeout,
	}
}

// CanExecute reports whether a worker is registered for the named stage.
// Synthetic stages (ingest) have none and cannot be re-run.
func (e *Executor) CanExecute(stageName string) bool {
	_, ok := e.workers[stageName]
	return ok
}

// RunStage executes one attempt of the named stage and persists the outcome.
// The returned job is the post-attempt snapshot; err is non-nil only when the
// attempt failed (the failure is already recorded on the stage).
func (e *Executor) RunStage(ctx context.Context, j *job.Job, stageName string) (*job.Job, error) {
	target := j.StageByName(stageName)
	if target == nil {
		return nil, fmt.Errorf("%w: job %d stage %q", job.ErrStageNotFound, j.ID, stageName)
	}

	stageCtx := services.WithJobID(ctx, j.ID)
	stageCtx = services.WithStage(stageCtx, stageName)
	logger := logging.WithContext(stageCtx, e.logger)

	worker, ok := e.workers[stageName]
	if !ok {
		err := services.Wrap(
			services.ErrInfrastructure, stageName, "resolve worker",
			fmt.Sprintf("no worker registered for stage %q", stageName), nil)
		return e.failStage(stageCtx, j.ID, stageName, time.Now().UTC(), err)
	}

	start := time.Now().UTC()
	snapshot, err := e.registry.UpdateStage(stageCtx, j.ID, stageName, func(s *job.Stage) error {
		if s.Status != job.StagePending && s.Status != job.StageFailed {
			return services.Wrap(
				services.ErrConflict, stageName, "start stage",
				fmt.Sprintf("stage is %s, expected pending", s.Status), nil)
		}
		s.Status = job.StageProcessing
		s.Progress = 0
		s.Error = ""
		s.StartedAt = &start
		s.FinishedAt = nil
		s.DurationMs = 0
		return nil
	})
	if err != nil {
		return nil, err
	}
	target = snapshot.StageByName(stageName)

	logger.Info("stage started",
		logging.String(logging.FieldEventType, "stage_start"),
		logging.Int("attempt", target.Attempt),
		logging.String("source_file", snapshot.SourceName))

	cacheKey := ""
	if e.cache != nil && target.Cacheable {
		cacheKey = e.cacheKey(snapshot, target)
		if payload, hit := e.cache.Get(stageCtx, cacheKey); hit {
			logger.Info("stage served from cache",
				logging.String(logging.FieldEventType, "stage_cache_hit"),
				logging.String("cache_key", cacheKey))
			return e.completeStage(stageCtx, j.ID, stageName, start, payload)
		}
	}

	input := stage.Input{
		JobID:          snapshot.ID,
		OwnerID:        snapshot.OwnerID,
		Kind:           snapshot.Kind,
		Stage:          stageName,
		SourcePath:     snapshot.SourcePath,
		SourceName:     snapshot.SourceName,
		Prior:          priorOutputs(snapshot, target.Order),
		IdempotencyKey: target.IdempotencyKey,
		Attempt:        target.Attempt,
		Report:         e.progressReporter(stageCtx, j.ID, stageName),
	}

	timeout := e.stageTimeout
	if target.TimeoutSeconds > 0 {
		timeout = time.Duration(target.TimeoutSeconds) * time.Second
	}
	invokeCtx, cancel := context.WithTimeout(stageCtx, timeout)
	output, invokeErr := worker.Invoke(invokeCtx, input)
	cancel()

	if invokeErr != nil {
		if errors.Is(invokeErr, context.DeadlineExceeded) && ctx.Err() == nil {
			invokeErr = services.Wrap(
				services.ErrTimeout, stageName, "invoke worker",
				fmt.Sprintf("stage exceeded its %s budget", timeout), invokeErr)
		}
		return e.failStage(stageCtx, j.ID, stageName, start, invokeErr)
	}

	updated, err := e.completeStage(stageCtx, j.ID, stageName, start, output)
	if err != nil {
		return updated, err
	}
	if cacheKey != "" {
		ttl := time.Duration(target.TTLSeconds) * time.Second
		e.cache.Set(stageCtx, cacheKey, cache.Payload(output), ttl)
	}
	return updated, nil
}

// cacheKey derives the result-cache key from everything that determines the
// stage's output: pipeline kind, stage name, the source fingerprint, and the
// outputs of every upstream stage.
func (e *Executor) cacheKey(j *job.Job, target *job.Stage) string {
	params := map[string]any{
		"stage":       target.Name,
		"source_name": j.SourceName,
		"source_path": j.SourcePath,
	}
	for name, output := range priorOutputs(j, target.Order) {
		params["prior."+name] = map[string]any(output)
	}
	return cache.Key(j.Kind, params)
}

func priorOutputs(j *job.Job, order int) map[string]job.Payload {
	prior := make(map[string]job.Payload)
	for i := range j.Stages {
		s := &j.Stages[i]
		if s.Order < order && s.Status == job.StageCompleted && s.Output != nil {
			prior[s.Name] = s.Output
		}
	}
	return prior
}

// progressReporter persists intermediate worker progress. Progress can only
// move forward; stale or out-of-order reports are dropped.
func (e *Executor) progressReporter(ctx context.Context, jobID int64, stageName string) func(int) {
	return func(percent int) {
		_, err := e.registry.UpdateStage(ctx, jobID, stageName, func(s *job.Stage) error {
			if s.Status != job.StageProcessing {
				return services.Wrap(
					services.ErrConflict, stageName, "report progress",
					"stage no longer processing", nil)
			}
			if percent > s.Progress {
				s.Progress = percent
			}
			return nil
		})
		if err != nil {
			logging.WithContext(ctx, e.logger).Debug("dropped progress report", logging.Error(err))
		}
	}
}

func (e *Executor) completeStage(ctx context.Context, jobID int64, stageName string, start time.Time, output job.Payload) (*job.Job, error) {
	finish := time.Now().UTC()
	snapshot, err := e.registry.UpdateStage(ctx, jobID, stageName, func(s *job.Stage) error {
		s.Status = job.StageCompleted
		s.Progress = 100
		s.Output = output
		s.Error = ""
		if s.StartedAt == nil {
			s.StartedAt = &start
		}
		s.FinishedAt = &finish
		s.DurationMs = finish.Sub(*s.StartedAt).Milliseconds()
		return nil
	})
	if err != nil {
		return nil, err
	}
	logging.WithContext(ctx, e.logger).Info("stage completed",
		logging.String(logging.FieldEventType, "stage_complete"),
		logging.Duration("stage_duration", finish.Sub(start)),
		logging.Int("job_progress", snapshot.Progress))
	return snapshot, nil
}

func (e *Executor) failStage(ctx context.Context, jobID int64, stageName string, start time.Time, cause error) (*job.Job, error) {
	finish := time.Now().UTC()
	snapshot, err := e.registry.UpdateStage(ctx, jobID, stageName, func(s *job.Stage) error {
		s.Status = job.StageFailed
		s.Error = services.Message(cause)
		if s.StartedAt == nil {
			s.StartedAt = &start
		}
		s.FinishedAt = &finish
		s.DurationMs = finish.Sub(*s.StartedAt).Milliseconds()
		return nil
	})
	if err != nil {
		return nil, err
	}
	logging.WithContext(ctx, e.logger).Error("stage failed",
		logging.String(logging.FieldEventType, "stage_failed"),
		logging.String("failure_kind", string(services.Classify(cause))),
		logging.Error(cause))
	return snapshot, cause
}
