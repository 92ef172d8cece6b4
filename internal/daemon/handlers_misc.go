package daemon

import (
	"encoding/json"
	"net/http"
	"strings"

	"deckforge/internal/api"
	"deckforge/internal/job"
	"deckforge/internal/services"
)

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	health, err := s.daemon.registry.Health(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	counts := map[string]int{}
	if health.Total > 0 {
		counts[string(job.StatusPending)] = health.Pending
		counts[string(job.StatusRunning)] = health.Running
		counts[string(job.StatusCompleted)] = health.Completed
		counts[string(job.StatusFailed)] = health.Failed
		counts[string(job.StatusCancelled)] = health.Cancelled
	}

	view := api.StatusView{
		Running:   s.daemon.Running(),
		Pipelines: s.daemon.definitions.Kinds(),
		TotalJobs: health.Total,
		JobCounts: counts,
		Workers:   api.FromHealth(s.daemon.WorkerHealth(r.Context())),
	}
	s.writeJSON(w, http.StatusOK, view)
}

func (s *apiServer) handlePipelines(w http.ResponseWriter, _ *http.Request) {
	views := make([]api.PipelineView, 0)
	for _, kind := range s.daemon.definitions.Kinds() {
		def, _ := s.daemon.definitions.ByKind(kind)
		stages := make([]string, 0, len(def.Stages))
		for _, st := range def.Stages {
			stages = append(stages, st.Name)
		}
		views = append(views, api.PipelineView{Kind: def.Kind, Description: def.Description, Stages: stages})
	}
	s.writeJSON(w, http.StatusOK, views)
}

func (s *apiServer) handleCacheStats(w http.ResponseWriter, _ *http.Request) {
	if s.daemon.cache == nil {
		s.writeJSON(w, http.StatusOK, api.CacheStatsView{DurableBackend: "disabled"})
		return
	}
	stats := s.daemon.cache.Stats()
	s.writeJSON(w, http.StatusOK, api.CacheStatsView{
		Entries:        stats.Entries,
		MaxEntries:     stats.MaxEntries,
		Hits:           stats.Hits,
		Misses:         stats.Misses,
		Evictions:      stats.Evictions,
		Expirations:    stats.Expirations,
		DurableErrors:  stats.DurableErrors,
		DurableBackend: stats.DurableBackend,
	})
}

func (s *apiServer) handleCacheInvalidate(w http.ResponseWriter, r *http.Request) {
	var req api.InvalidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Pattern) == "" {
		s.writeError(w, services.Wrap(
			services.ErrValidation, "", "invalidate cache",
			`request body must carry a key pattern, e.g. {"pattern":"^slidedeck:"}`, err))
		return
	}
	if s.daemon.cache == nil {
		s.writeJSON(w, http.StatusOK, api.InvalidateResponse{})
		return
	}
	removed, err := s.daemon.cache.InvalidatePattern(r.Context(), strings.TrimSpace(req.Pattern))
	if err != nil {
		s.writeError(w, services.Wrap(
			services.ErrValidation, "", "invalidate cache", err.Error(), err))
		return
	}
	s.writeJSON(w, http.StatusOK, api.InvalidateResponse{Removed: removed})
}
