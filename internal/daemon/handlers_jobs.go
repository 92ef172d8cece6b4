package daemon

import (
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"deckforge/internal/api"
	"deckforge/internal/deck"
	"deckforge/internal/job"
	"deckforge/internal/logging"
	"deckforge/internal/services"
)

func (s *apiServer) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	kind, uploads, err := s.parseUploads(r, 1)
	if err != nil {
		s.writeError(w, err)
		return
	}
	upload := uploads[0]

	j, err := s.createJob(r, "", kind, upload)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.daemon.orchestrator.Launch(r.Context(), j.ID); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, api.FromJob(j, true))
}

func (s *apiServer) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.daemon.registry.ListByOwner(r.Context(), ownerID(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	views := make([]api.JobView, 0, len(jobs))
	for _, j := range jobs {
		views = append(views, api.FromJob(j, false))
	}
	s.writeJSON(w, http.StatusOK, views)
}

func (s *apiServer) handleGetJob(w http.ResponseWriter, r *http.Request) {
	j, err := s.ownedJob(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.FromJob(j, true))
}

func (s *apiServer) handleRemoveJob(w http.ResponseWriter, r *http.Request) {
	j, err := s.ownedJob(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !j.Status.IsTerminal() {
		s.writeError(w, services.Wrap(
			services.ErrConflict, "", "remove job",
			fmt.Sprintf("job %d is %s; cancel it first", j.ID, j.Status), nil))
		return
	}
	if _, err := s.daemon.registry.Remove(r.Context(), j.ID); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *apiServer) handleRetryJob(w http.ResponseWriter, r *http.Request) {
	id, err := jobID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req api.RetryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Stage) == "" {
		s.writeError(w, services.Wrap(
			services.ErrValidation, "", "retry job",
			`request body must name the stage to retry, e.g. {"stage":"script"}`, err))
		return
	}

	snapshot, err := s.daemon.orchestrator.Retry(r.Context(), ownerID(r), id, strings.TrimSpace(req.Stage))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, api.FromJob(snapshot, true))
}

func (s *apiServer) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	j, err := s.ownedJob(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	requested, err := s.daemon.registry.RequestCancel(r.Context(), j.ID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !requested {
		s.writeError(w, services.Wrap(
			services.ErrConflict, "", "cancel job",
			fmt.Sprintf("job %d is already %s", j.ID, j.Status), nil))
		return
	}
	s.writeJSON(w, http.StatusAccepted, api.CancelResponse{Requested: true})
}

func (s *apiServer) ownedJob(r *http.Request) (*job.Job, error) {
	id, err := jobID(r)
	if err != nil {
		return nil, err
	}
	return s.daemon.registry.GetOwned(r.Context(), id, ownerID(r))
}

func jobID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, services.Wrap(
			services.ErrValidation, "", "parse job id",
			fmt.Sprintf("invalid job id %q", raw), err)
	}
	return id, nil
}

type upload struct {
	path string
	name string
}

// parseUploads stores the request's deck files in the upload directory and
// validates each one. maxFiles of zero means unlimited (batch submissions).
func (s *apiServer) parseUploads(r *http.Request, maxFiles int) (string, []upload, error) {
	maxBytes := int64(s.daemon.cfg.Upload.MaxSizeMiB) << 20
	r.Body = http.MaxBytesReader(nil, r.Body, maxBytes*8+1<<20)

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		return "", nil, services.Wrap(
			services.ErrValidation, "ingest", "parse upload",
			"request must be multipart/form-data with one or more deck files", err)
	}
	defer r.MultipartForm.RemoveAll()

	kind := strings.TrimSpace(r.FormValue("kind"))
	if kind == "" {
		kind = "slidedeck"
	}
	if _, ok := s.daemon.definitions.ByKind(kind); !ok {
		return "", nil, fmt.Errorf("%w: %q", job.ErrUnknownPipeline, kind)
	}

	files := r.MultipartForm.File["deck"]
	if len(files) == 0 {
		return "", nil, services.Wrap(
			services.ErrValidation, "ingest", "parse upload",
			`upload at least one file under the "deck" field`, nil)
	}
	if maxFiles > 0 && len(files) > maxFiles {
		return "", nil, services.Wrap(
			services.ErrValidation, "ingest", "parse upload",
			fmt.Sprintf("expected at most %d file(s), got %d; use the batch endpoint", maxFiles, len(files)), nil)
	}

	uploads := make([]upload, 0, len(files))
	for _, header := range files {
		stored, err := s.storeUpload(header)
		if err != nil {
			return "", nil, err
		}
		if err := s.validateUpload(kind, stored.path, maxBytes); err != nil {
			os.Remove(stored.path)
			return "", nil, err
		}
		uploads = append(uploads, stored)
	}
	return kind, uploads, nil
}

func (s *apiServer) storeUpload(header *multipart.FileHeader) (upload, error) {
	src, err := header.Open()
	if err != nil {
		return upload{}, services.Wrap(
			services.ErrValidation, "ingest", "read upload",
			"uploaded file could not be read", err)
	}
	defer src.Close()

	name := filepath.Base(header.Filename)
	if name == "" || name == "." {
		name = "deck.bin"
	}
	path := filepath.Join(s.daemon.cfg.Paths.UploadDir, uuid.NewString()+"-"+name)

	dst, err := os.Create(path)
	if err != nil {
		return upload{}, fmt.Errorf("store upload: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(path)
		return upload{}, fmt.Errorf("store upload: %w", err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(path)
		return upload{}, fmt.Errorf("store upload: %w", err)
	}
	return upload{path: path, name: name}, nil
}

// validateUpload runs structural deck validation for deck-based pipelines;
// configuration pipelines only get the size cap.
func (s *apiServer) validateUpload(kind, path string, maxBytes int64) error {
	if kind == "aiconfig" {
		stat, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("stat upload: %w", err)
		}
		if maxBytes > 0 && stat.Size() > maxBytes {
			return services.Wrap(
				services.ErrValidation, "ingest", "check size",
				fmt.Sprintf("file is %d bytes, limit is %d", stat.Size(), maxBytes), nil)
		}
		return nil
	}
	_, err := deck.Validate(path, maxBytes)
	return err
}

func (s *apiServer) createJob(r *http.Request, batchID, kind string, u upload) (*job.Job, error) {
	ctx := r.Context()
	owner := ownerID(r)

	var (
		j   *job.Job
		err error
	)
	if batchID == "" {
		j, err = s.daemon.registry.Create(ctx, owner, kind)
	} else {
		j, err = s.daemon.registry.CreateInBatch(ctx, owner, kind, batchID)
	}
	if err != nil {
		return nil, err
	}
	if err := s.daemon.registry.SetSource(ctx, j.ID, u.path, u.name); err != nil {
		return nil, err
	}
	j, err = s.daemon.registry.GetByID(ctx, j.ID)
	if err != nil {
		return nil, err
	}
	s.logger.Info("job accepted",
		logging.Int64(logging.FieldJobID, j.ID),
		logging.String(logging.FieldPipeline, kind),
		logging.String("source_file", u.name))
	return j, nil
}
