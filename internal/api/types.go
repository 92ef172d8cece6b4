package api

import (
	"time"

	"deckforge/internal/batch"
	"deckforge/internal/job"
	"deckforge/internal/stage"
)

// StageView is the wire representation of one job stage.
type StageView struct {
	Name       string         `json:"name"`
	Status     string         `json:"status"`
	Progress   int            `json:"progress"`
	Attempt    int            `json:"attempt"`
	Cacheable  bool           `json:"cacheable"`
	StartedAt  *time.Time     `json:"started_at,omitempty"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
	DurationMs int64          `json:"duration_ms,omitempty"`
	Output     map[string]any `json:"output,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// JobView is the wire representation of a job.
type JobView struct {
	ID         int64          `json:"id"`
	Kind       string         `json:"kind"`
	BatchID    string         `json:"batch_id,omitempty"`
	Status     string         `json:"status"`
	Progress   int            `json:"progress"`
	SourceName string         `json:"source_name,omitempty"`
	Stages     []StageView    `json:"stages,omitempty"`
	Result     map[string]any `json:"result,omitempty"`
	Error      string         `json:"error,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// BatchView is the wire representation of a batch aggregate.
type BatchView struct {
	BatchID         string    `json:"batch_id"`
	Total           int       `json:"total"`
	Pending         int       `json:"pending"`
	Running         int       `json:"running"`
	Completed       int       `json:"completed"`
	Failed          int       `json:"failed"`
	Cancelled       int       `json:"cancelled"`
	OverallProgress int       `json:"overall_progress"`
	Settled         bool      `json:"settled"`
	Jobs            []JobView `json:"jobs,omitempty"`
}

// PipelineView describes one pipeline kind and its stage order.
type PipelineView struct {
	Kind        string   `json:"kind"`
	Description string   `json:"description"`
	Stages      []string `json:"stages"`
}

// WorkerView reports one external worker's readiness.
type WorkerView struct {
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

// StatusView is the daemon status report.
type StatusView struct {
	Running   bool           `json:"running"`
	Pipelines []string       `json:"pipelines"`
	TotalJobs int            `json:"total_jobs"`
	JobCounts map[string]int `json:"job_counts"`
	Workers   []WorkerView   `json:"workers,omitempty"`
}

// CacheStatsView mirrors cache.Stats on the wire.
type CacheStatsView struct {
	Entries        int    `json:"entries"`
	MaxEntries     int    `json:"max_entries"`
	Hits           int64  `json:"hits"`
	Misses         int64  `json:"misses"`
	Evictions      int64  `json:"evictions"`
	Expirations    int64  `json:"expirations"`
	DurableErrors  int64  `json:"durable_errors"`
	DurableBackend string `json:"durable_backend"`
}

// ErrorBody is the uniform error envelope.
type ErrorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// RetryRequest targets a failed stage for re-execution.
type RetryRequest struct {
	Stage string `json:"stage"`
}

// InvalidateRequest removes cache entries matching a key pattern.
type InvalidateRequest struct {
	Pattern string `json:"pattern"`
}

// InvalidateResponse reports how many entries were removed.
type InvalidateResponse struct {
	Removed int `json:"removed"`
}

// CancelResponse reports whether a cancel request was accepted.
type CancelResponse struct {
	Requested bool `json:"requested"`
}

// BatchCancelResponse reports how many batch jobs accepted the cancel.
type BatchCancelResponse struct {
	Cancelled int `json:"cancelled"`
}

// FromJob converts a job snapshot to its wire form. Stage detail is included
// only when detailed is set; list views stay lean.
func FromJob(j *job.Job, detailed bool) JobView {
	view := JobView{
		ID:         j.ID,
		Kind:       j.Kind,
		BatchID:    j.BatchID,
		Status:     string(j.Status),
		Progress:   j.Progress,
		SourceName: j.SourceName,
		Result:     j.Result,
		Error:      j.Error,
		CreatedAt:  j.CreatedAt,
		UpdatedAt:  j.UpdatedAt,
	}
	if detailed {
		view.Stages = make([]StageView, 0, len(j.Stages))
		for i := range j.Stages {
			s := &j.Stages[i]
			view.Stages = append(view.Stages, StageView{
				Name:       s.Name,
				Status:     string(s.Status),
				Progress:   s.Progress,
				Attempt:    s.Attempt,
				Cacheable:  s.Cacheable,
				StartedAt:  s.StartedAt,
				FinishedAt: s.FinishedAt,
				DurationMs: s.DurationMs,
				Output:     s.Output,
				Error:      s.Error,
			})
		}
	}
	return view
}

// FromBatch converts a batch aggregate to its wire form.
func FromBatch(status *batch.Status, detailed bool) BatchView {
	view := BatchView{
		BatchID:         status.BatchID,
		Total:           status.Total,
		Pending:         status.Pending,
		Running:         status.Running,
		Completed:       status.Completed,
		Failed:          status.Failed,
		Cancelled:       status.Cancelled,
		OverallProgress: status.OverallProgress,
		Settled:         status.Settled,
	}
	if detailed {
		view.Jobs = make([]JobView, 0, len(status.Jobs))
		for _, j := range status.Jobs {
			view.Jobs = append(view.Jobs, FromJob(j, false))
		}
	}
	return view
}

// FromHealth converts worker health records to their wire form.
func FromHealth(records []stage.Health) []WorkerView {
	views := make([]WorkerView, 0, len(records))
	for _, h := range records {
		views = append(views, WorkerView{Name: h.Name, Ready: h.Ready, Detail: h.Detail})
	}
	return views
}
