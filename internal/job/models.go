package job

import (
	"math"
	"strings"
	"time"
)

// Status represents the lifecycle of a job.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

var allStatuses = []Status{
	StatusPending,
	StatusRunning,
	StatusCompleted,
	StatusFailed,
	StatusCancelled,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// AllStatuses returns the ordered list of known job statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// IsTerminal reports whether a job status admits no further transitions
// (short of an explicit stage retry).
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// StageStatus represents the lifecycle of a single stage within a job.
type StageStatus string

const (
	StagePending    StageStatus = "pending"
	StageProcessing StageStatus = "processing"
	StageCompleted  StageStatus = "completed"
	StageFailed     StageStatus = "failed"
)

// ParseStageStatus converts a string into a known StageStatus.
func ParseStageStatus(value string) (StageStatus, bool) {
	switch normalized := StageStatus(strings.ToLower(strings.TrimSpace(value))); normalized {
	case StagePending, StageProcessing, StageCompleted, StageFailed:
		return normalized, true
	default:
		return "", false
	}
}

// Payload is a JSON-like stage output or job result.
type Payload map[string]any

// Stage is one unit of sequential processing within a job.
type Stage struct {
	JobID          int64
	Name           string
	Order          int
	Status         StageStatus
	Progress       int
	Cacheable      bool
	TTLSeconds     int
	TimeoutSeconds int
	Attempt        int
	IdempotencyKey string
	StartedAt      *time.Time
	FinishedAt     *time.Time
	DurationMs     int64
	Output         Payload
	Error          string
}

// StageTemplate seeds the stage rows created alongside a new job.
type StageTemplate struct {
	Name           string
	Cacheable      bool
	TTLSeconds     int
	TimeoutSeconds int
	// Synthetic stages are recorded as already completed at job creation
	// (the ingest stage: the upload itself is the work).
	Synthetic bool
}

// Job is one end-to-end unit of pipeline work with an ordered stage list.
type Job struct {
	ID              int64
	OwnerID         string
	Kind            string
	BatchID         string
	Status          Status
	Progress        int
	SourcePath      string
	SourceName      string
	Stages          []Stage
	Result          Payload
	Error           string
	CancelRequested bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// StageByName returns a pointer into the job's stage slice, or nil.
func (j *Job) StageByName(name string) *Stage {
	for i := range j.Stages {
		if j.Stages[i].Name == name {
			return &j.Stages[i]
		}
	}
	return nil
}

// FirstIncompleteStage returns the lowest-order stage that is not Completed,
// or nil when every stage is done.
func (j *Job) FirstIncompleteStage() *Stage {
	for i := range j.Stages {
		if j.Stages[i].Status != StageCompleted {
			return &j.Stages[i]
		}
	}
	return nil
}

// Clone returns a deep copy safe to hand outside the registry.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	cp := *j
	cp.Stages = make([]Stage, len(j.Stages))
	copy(cp.Stages, j.Stages)
	for i := range cp.Stages {
		cp.Stages[i].Output = clonePayload(cp.Stages[i].Output)
	}
	cp.Result = clonePayload(j.Result)
	return &cp
}

func clonePayload(p Payload) Payload {
	if p == nil {
		return nil
	}
	cp := make(Payload, len(p))
	for k, v := range p {
		cp[k] = v
	}
	return cp
}

// OverallProgress computes job progress as the rounded percentage of
// completed stages.
func OverallProgress(stages []Stage) int {
	if len(stages) == 0 {
		return 0
	}
	completed := 0
	for _, s := range stages {
		if s.Status == StageCompleted {
			completed++
		}
	}
	return int(math.Round(100 * float64(completed) / float64(len(stages))))
}

// DeriveStatus computes the job status implied by its stage statuses.
// Terminal Cancelled is sticky and never rederived from stages.
func DeriveStatus(current Status, stages []Stage) Status {
	if current == StatusCancelled {
		return StatusCancelled
	}
	allCompleted := len(stages) > 0
	anyFailed := false
	for _, s := range stages {
		if s.Status != StageCompleted {
			allCompleted = false
		}
		if s.Status == StageFailed {
			anyFailed = true
		}
	}
	switch {
	case allCompleted:
		return StatusCompleted
	case anyFailed:
		return StatusFailed
	default:
		return StatusRunning
	}
}

// HealthSummary describes aggregated job counts per lifecycle state.
type HealthSummary struct {
	Total     int
	Pending   int
	Running   int
	Completed int
	Failed    int
	Cancelled int
}
