package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"deckforge/internal/job"
	"deckforge/internal/logging"
	"deckforge/internal/services"
)

// ErrAlreadyRunning reports a launch attempt for a job that already has an
// orchestration goroutine.
var ErrAlreadyRunning = errors.New("job already running")

// Orchestrator drives launched jobs through their stage sequence. A global
// semaphore bounds how many jobs execute stages concurrently; within a job,
// stages run strictly in order.
type Orchestrator struct {
	registry *job.Registry
	executor *Executor
	logger   *slog.Logger
	sem      chan struct{}

	mu       sync.Mutex
	running  bool
	runCtx   context.Context
	cancel   context.CancelFunc
	inflight map[int64]bool
	wg       sync.WaitGroup
}

// NewOrchestrator constructs an orchestrator allowing maxConcurrent jobs to
// run at once.
func NewOrchestrator(registry *job.Registry, executor *Executor, logger *slog.Logger, maxConcurrent int) *Orchestrator {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Orchestrator{
		registry: registry,
		executor: executor,
		logger:   logging.NewComponentLogger(logger, "orchestrator"),
		sem:      make(chan struct{}, maxConcurrent),
		inflight: make(map[int64]bool),
	}
}

// Start makes the orchestrator accept launches. Jobs run under the provided
// context; cancelling it interrupts processing at the next stage boundary.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		return errors.New("orchestrator already running")
	}
	o.runCtx, o.cancel = context.WithCancel(ctx)
	o.running = true
	return nil
}

// Stop interrupts processing and waits for every launched job to settle.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return
	}
	cancel := o.cancel
	o.running = false
	o.cancel = nil
	o.mu.Unlock()

	cancel()
	o.wg.Wait()
}

// Launch starts background processing for a job. It returns immediately; the
// job waits for a concurrency slot in its own goroutine. The job runs under
// the orchestrator's start context, not the caller's.
func (o *Orchestrator) Launch(ctx context.Context, jobID int64) error {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return errors.New("orchestrator not started")
	}
	if o.inflight[jobID] {
		o.mu.Unlock()
		return fmt.Errorf("%w: job %d", ErrAlreadyRunning, jobID)
	}
	runCtx := o.runCtx
	o.inflight[jobID] = true
	o.wg.Add(1)
	o.mu.Unlock()

	go o.run(runCtx, jobID)
	return nil
}

// Running reports whether a job currently has an orchestration goroutine.
func (o *Orchestrator) Running(jobID int64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.inflight[jobID]
}

// Wait blocks until every launched job has finished. Used on shutdown after
// the caller cancels the launch context.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// ResumeAll relaunches every non-terminal job, reverting interrupted stages
// to pending first. Called once at daemon startup.
func (o *Orchestrator) ResumeAll(ctx context.Context) (int, error) {
	reverted, err := o.registry.ResetInterrupted(ctx)
	if err != nil {
		return 0, err
	}
	if reverted > 0 {
		o.logger.Info("reverted interrupted stages to pending", logging.Int64("stages", reverted))
	}

	jobs, err := o.registry.List(ctx, job.StatusPending, job.StatusRunning)
	if err != nil {
		return 0, err
	}
	resumed := 0
	for _, j := range jobs {
		if err := o.Launch(ctx, j.ID); err != nil {
			if errors.Is(err, ErrAlreadyRunning) {
				continue
			}
			return resumed, err
		}
		resumed++
	}
	return resumed, nil
}

func (o *Orchestrator) run(ctx context.Context, jobID int64) {
	defer o.wg.Done()
	defer func() {
		o.mu.Lock()
		delete(o.inflight, jobID)
		o.mu.Unlock()
	}()

	select {
	case <-ctx.Done():
		return
	case o.sem <- struct{}{}:
	}
	defer func() { <-o.sem }()

	jobCtx := services.WithJobID(ctx, jobID)
	logger := logging.WithContext(jobCtx, o.logger)

	if err := o.registry.MarkRunning(jobCtx, jobID); err != nil {
		logger.Error("failed to mark job running", logging.Error(err))
		return
	}

	for {
		if ctx.Err() != nil {
			// Daemon shutdown: leave the job where it is so a restart can
			// resume it. The interrupted stage is reverted on startup.
			logger.Debug("job interrupted by shutdown")
			return
		}

		j, err := o.registry.GetByID(jobCtx, jobID)
		if err != nil {
			logger.Error("failed to load job", logging.Error(err))
			return
		}
		if j.Status.IsTerminal() {
			return
		}

		// Cancellation takes effect at stage boundaries: a running stage is
		// never interrupted mid-flight.
		if j.CancelRequested {
			if err := o.registry.MarkCancelled(jobCtx, jobID); err != nil {
				logger.Error("failed to mark job cancelled", logging.Error(err))
			} else {
				logger.Info("job cancelled",
					logging.String(logging.FieldEventType, "job_cancelled"))
			}
			return
		}

		next := j.FirstIncompleteStage()
		if next == nil {
			logger.Info("job completed",
				logging.String(logging.FieldEventType, "job_complete"),
				logging.Int("progress", j.Progress))
			return
		}
		if next.Status == job.StageFailed {
			// A failed stage stays failed until an explicit retry.
			return
		}

		if _, err := o.executor.RunStage(jobCtx, j, next.Name); err != nil {
			logger.Warn("job halted on failed stage",
				logging.String(logging.FieldStage, next.Name),
				logging.String("failure_kind", string(services.Classify(err))))
			return
		}
	}
}
