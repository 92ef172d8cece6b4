// Package batch groups related jobs under a shared batch id and reports
// aggregate progress across them.
package batch

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"deckforge/internal/job"
	"deckforge/internal/logging"
	"deckforge/internal/pipeline"
	"deckforge/internal/services"
)

// Item is one upload within a batch submission.
type Item struct {
	SourcePath string
	SourceName string
}

// Status aggregates the live state of every job in a batch. It is computed
// from the job rows on each read; nothing batch-level is persisted beyond
// the shared id.
type Status struct {
	BatchID         string     `json:"batch_id"`
	Total           int        `json:"total"`
	Pending         int        `json:"pending"`
	Running         int        `json:"running"`
	Completed       int        `json:"completed"`
	Failed          int        `json:"failed"`
	Cancelled       int        `json:"cancelled"`
	OverallProgress int        `json:"overall_progress"`
	Settled         bool       `json:"settled"`
	Jobs            []*job.Job `json:"-"`
}

// Coordinator submits batches and reads their aggregate status.
type Coordinator struct {
	registry     *job.Registry
	orchestrator *pipeline.Orchestrator
	stagger      time.Duration
	logger       *slog.Logger
}

// NewCoordinator wires a coordinator. stagger spaces out job launches within
// a batch so a large submission does not slam the workers at once.
func NewCoordinator(registry *job.Registry, orchestrator *pipeline.Orchestrator, stagger time.Duration, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		registry:     registry,
		orchestrator: orchestrator,
		stagger:      stagger,
		logger:       logging.NewComponentLogger(logger, "batch"),
	}
}

// Submit creates one job per item under a fresh batch id and launches them
// with the configured stagger. All jobs are created before any launches so a
// partial failure surfaces before work starts.
func (c *Coordinator) Submit(ctx context.Context, ownerID, kind string, items []Item) (string, []*job.Job, error) {
	if len(items) == 0 {
		return "", nil, services.Wrap(
			services.ErrValidation, "batch", "submit",
			"batch submission needs at least one item", nil)
	}

	batchID := uuid.NewString()
	jobs := make([]*job.Job, 0, len(items))
	for _, item := range items {
		j, err := c.registry.CreateInBatch(ctx, ownerID, kind, batchID)
		if err != nil {
			return "", nil, fmt.Errorf("create batch job: %w", err)
		}
		if err := c.registry.SetSource(ctx, j.ID, item.SourcePath, item.SourceName); err != nil {
			return "", nil, fmt.Errorf("attach batch source: %w", err)
		}
		jobs = append(jobs, j)
	}

	batchCtx := services.WithBatchID(ctx, batchID)
	logger := logging.WithContext(batchCtx, c.logger)
	logger.Info("batch submitted",
		logging.String(logging.FieldEventType, "batch_submitted"),
		logging.Int("jobs", len(jobs)))

	go c.launchStaggered(batchCtx, logger, jobs)
	return batchID, jobs, nil
}

func (c *Coordinator) launchStaggered(ctx context.Context, logger *slog.Logger, jobs []*job.Job) {
	for i, j := range jobs {
		if i > 0 && c.stagger > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(c.stagger):
			}
		}
		if err := c.orchestrator.Launch(ctx, j.ID); err != nil {
			logger.Error("failed to launch batch job",
				logging.Int64(logging.FieldJobID, j.ID),
				logging.Error(err))
		}
	}
}

// Status reads the batch's jobs and folds them into an aggregate. The batch
// is settled once every job has reached a terminal state.
func (c *Coordinator) Status(ctx context.Context, ownerID, batchID string) (*Status, error) {
	jobs, err := c.registry.ListByBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, fmt.Errorf("%w: batch %q", job.ErrNotFound, batchID)
	}
	for _, j := range jobs {
		if j.OwnerID != ownerID {
			return nil, fmt.Errorf("%w: batch %q", job.ErrNotOwned, batchID)
		}
	}

	status := &Status{BatchID: batchID, Total: len(jobs), Jobs: jobs}
	progressSum := 0
	for _, j := range jobs {
		progressSum += j.Progress
		switch j.Status {
		case job.StatusPending:
			status.Pending++
		case job.StatusRunning:
			status.Running++
		case job.StatusCompleted:
			status.Completed++
		case job.StatusFailed:
			status.Failed++
		case job.StatusCancelled:
			status.Cancelled++
		}
	}
	status.OverallProgress = int(math.Round(float64(progressSum) / float64(len(jobs))))
	status.Settled = status.Pending == 0 && status.Running == 0
	return status, nil
}

// Cancel requests cancellation for every active job in the batch and returns
// how many accepted the request.
func (c *Coordinator) Cancel(ctx context.Context, ownerID, batchID string) (int, error) {
	status, err := c.Status(ctx, ownerID, batchID)
	if err != nil {
		return 0, err
	}
	cancelled := 0
	for _, j := range status.Jobs {
		if j.Status.IsTerminal() {
			continue
		}
		requested, err := c.registry.RequestCancel(ctx, j.ID)
		if err != nil {
			return cancelled, err
		}
		if requested {
			cancelled++
		}
	}
	return cancelled, nil
}
