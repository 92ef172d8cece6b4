package job

import "errors"

var (
	// ErrUnknownPipeline indicates a job creation request named a pipeline
	// kind the registry was not configured with.
	ErrUnknownPipeline = errors.New("unknown pipeline kind")
	// ErrNotFound indicates the requested job does not exist.
	ErrNotFound = errors.New("job not found")
	// ErrNotOwned indicates the job exists but belongs to another owner.
	ErrNotOwned = errors.New("job owned by another caller")
	// ErrStageNotFound indicates the named stage is not part of the job.
	ErrStageNotFound = errors.New("stage not found")
	// ErrStageNotRetryable indicates a retry reset raced an attempt already
	// in flight: the stage row is no longer failed or completed.
	ErrStageNotRetryable = errors.New("stage not retryable")
)
