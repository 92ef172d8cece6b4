package pipeline

import (
	"context"
	"fmt"

	"deckforge/internal/job"
	"deckforge/internal/services"
)

// Retry resets one stage and relaunches the job from it. The target must be
// failed or completed with every earlier stage completed: retrying the failed
// stage resumes a failed job, while re-running a completed stage forces it
// back through processing and then resumes sequencing through the later
// stages. Upstream outputs are never recomputed.
func (o *Orchestrator) Retry(ctx context.Context, ownerID string, jobID int64, stageName string) (*job.Job, error) {
	j, err := o.registry.GetOwned(ctx, jobID, ownerID)
	if err != nil {
		return nil, err
	}

	if o.Running(jobID) {
		return nil, services.Wrap(
			services.ErrConflict, stageName, "retry stage",
			fmt.Sprintf("job %d is still running", jobID), nil)
	}
	if j.Status != job.StatusFailed && j.Status != job.StatusCompleted {
		return nil, services.Wrap(
			services.ErrConflict, stageName, "retry stage",
			fmt.Sprintf("job %d is %s; only failed or completed jobs can be retried", jobID, j.Status), nil)
	}

	target := j.StageByName(stageName)
	if target == nil {
		return nil, fmt.Errorf("%w: job %d stage %q", job.ErrStageNotFound, jobID, stageName)
	}
	if target.Status != job.StageFailed && target.Status != job.StageCompleted {
		return nil, services.Wrap(
			services.ErrValidation, stageName, "retry stage",
			fmt.Sprintf("stage %q is %s; only failed or completed stages can be retried", stageName, target.Status), nil)
	}
	if !o.executor.CanExecute(stageName) {
		return nil, services.Wrap(
			services.ErrValidation, stageName, "retry stage",
			fmt.Sprintf("stage %q has no worker to re-run", stageName), nil)
	}
	for i := range j.Stages {
		s := &j.Stages[i]
		if s.Order < target.Order && s.Status != job.StageCompleted {
			return nil, services.Wrap(
				services.ErrConflict, stageName, "retry stage",
				fmt.Sprintf("upstream stage %q is %s; retry it first", s.Name, s.Status), nil)
		}
	}

	snapshot, err := o.registry.ResetStageForRetry(ctx, jobID, stageName)
	if err != nil {
		return nil, err
	}
	if err := o.Launch(ctx, jobID); err != nil {
		return snapshot, err
	}
	return snapshot, nil
}
