package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"deckforge/internal/api"
	"deckforge/internal/job"
	"deckforge/internal/logging"
	"deckforge/internal/services"
)

type apiServer struct {
	bind   string
	logger *slog.Logger
	daemon *Daemon

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
}

func newAPIServer(d *Daemon, logger *slog.Logger) (*apiServer, error) {
	bind := strings.TrimSpace(d.cfg.Paths.APIBind)
	if bind == "" {
		return nil, errors.New("paths.api_bind must be set")
	}

	srv := &apiServer{
		bind:   bind,
		logger: logging.NewComponentLogger(logger, "api"),
		daemon: d,
	}

	router := chi.NewRouter()
	router.Route("/api", func(r chi.Router) {
		r.Use(authMiddleware(d.cfg.Paths.APIToken))

		r.Get("/status", srv.handleStatus)
		r.Get("/pipelines", srv.handlePipelines)

		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", srv.handleSubmitJob)
			r.Get("/", srv.handleListJobs)
			r.Get("/{id}", srv.handleGetJob)
			r.Delete("/{id}", srv.handleRemoveJob)
			r.Post("/{id}/retry", srv.handleRetryJob)
			r.Post("/{id}/cancel", srv.handleCancelJob)
		})

		r.Route("/batches", func(r chi.Router) {
			r.Post("/", srv.handleSubmitBatch)
			r.Get("/{id}", srv.handleGetBatch)
			r.Post("/{id}/cancel", srv.handleCancelBatch)
		})

		r.Route("/cache", func(r chi.Router) {
			r.Get("/stats", srv.handleCacheStats)
			r.Post("/invalidate", srv.handleCacheInvalidate)
		})
	})

	srv.server = &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv, nil
}

func (s *apiServer) start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.server.Shutdown(shutdownCtx)

	s.mu.Lock()
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
	s.mu.Unlock()
}

func (s *apiServer) addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("failed to encode response", logging.Error(err))
	}
}

// writeError maps the error taxonomy onto HTTP statuses: validation 422,
// not-found 404, foreign ownership 403, conflicts 409, timeouts 504,
// everything else 500.
func (s *apiServer) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	kind := services.Classify(err)

	switch {
	case errors.Is(err, job.ErrNotOwned):
		status = http.StatusForbidden
	case errors.Is(err, job.ErrNotFound), errors.Is(err, job.ErrStageNotFound), kind == services.KindNotFound:
		status = http.StatusNotFound
	case errors.Is(err, job.ErrUnknownPipeline), kind == services.KindValidation:
		status = http.StatusUnprocessableEntity
	case errors.Is(err, job.ErrStageNotRetryable), kind == services.KindConflict:
		status = http.StatusConflict
	case kind == services.KindTimeout:
		status = http.StatusGatewayTimeout
	}

	s.writeJSON(w, status, api.ErrorBody{Error: services.Message(err), Kind: string(kind)})
}
