package daemon

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"deckforge/internal/api"
	"deckforge/internal/batch"
	"deckforge/internal/services"
)

func (s *apiServer) handleSubmitBatch(w http.ResponseWriter, r *http.Request) {
	kind, uploads, err := s.parseUploads(r, 0)
	if err != nil {
		s.writeError(w, err)
		return
	}

	items := make([]batch.Item, 0, len(uploads))
	for _, u := range uploads {
		items = append(items, batch.Item{SourcePath: u.path, SourceName: u.name})
	}
	batchID, jobs, err := s.daemon.coordinator.Submit(r.Context(), ownerID(r), kind, items)
	if err != nil {
		s.writeError(w, err)
		return
	}

	view := api.BatchView{BatchID: batchID, Total: len(jobs), Pending: len(jobs)}
	view.Jobs = make([]api.JobView, 0, len(jobs))
	for _, j := range jobs {
		view.Jobs = append(view.Jobs, api.FromJob(j, false))
	}
	s.writeJSON(w, http.StatusAccepted, view)
}

func (s *apiServer) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	batchID := strings.TrimSpace(chi.URLParam(r, "id"))
	if batchID == "" {
		s.writeError(w, services.Wrap(
			services.ErrValidation, "", "parse batch id", "batch id required", nil))
		return
	}
	status, err := s.daemon.coordinator.Status(r.Context(), ownerID(r), batchID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.FromBatch(status, true))
}

func (s *apiServer) handleCancelBatch(w http.ResponseWriter, r *http.Request) {
	batchID := strings.TrimSpace(chi.URLParam(r, "id"))
	if batchID == "" {
		s.writeError(w, services.Wrap(
			services.ErrValidation, "", "parse batch id", "batch id required", nil))
		return
	}
	cancelled, err := s.daemon.coordinator.Cancel(r.Context(), ownerID(r), batchID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, api.BatchCancelResponse{Cancelled: cancelled})
}
