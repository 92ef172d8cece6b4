package stage

import (
	"context"

	"deckforge/internal/job"
)

// Input carries everything a worker needs to execute one stage attempt.
type Input struct {
	JobID      int64
	OwnerID    string
	Kind       string
	Stage      string
	SourcePath string
	SourceName string
	// Prior holds the outputs of every completed upstream stage, keyed by
	// stage name.
	Prior map[string]job.Payload
	// IdempotencyKey is unique per attempt; workers pass it through so
	// remote services can deduplicate replayed calls.
	IdempotencyKey string
	Attempt        int
	// Report publishes intermediate progress in the 0-100 range. May be nil.
	Report func(percent int)
}

// Output is the structured result a stage produces.
type Output = job.Payload

// Worker describes the contract the pipeline executor needs from each stage
// implementation.
type Worker interface {
	Invoke(context.Context, Input) (Output, error)
	HealthCheck(context.Context) Health
}

// ReportProgress invokes the progress callback when one is wired.
func (in Input) ReportProgress(percent int) {
	if in.Report != nil {
		in.Report(percent)
	}
}

// PriorOutput returns the recorded output of an upstream stage, or nil when
// the stage has not produced one.
func (in Input) PriorOutput(stageName string) job.Payload {
	if in.Prior == nil {
		return nil
	}
	return in.Prior[stageName]
}
