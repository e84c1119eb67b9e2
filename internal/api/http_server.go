package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"taller/internal/config"
	"taller/internal/domain"
	"taller/internal/export"
	"taller/internal/metrics"
	"taller/internal/models"
	"taller/internal/worker"

	"github.com/rs/zerolog"
)

const maxBodyBytes = 1 << 20

// SyncEngine is the part of the engine served over HTTP.
type SyncEngine interface {
	Status(ctx context.Context) models.Status
	GetSyncQueue(ctx context.Context) ([]models.QueueEntry, error)
	ListDiscarded(ctx context.Context) ([]models.DiscardedEntry, error)
	SyncPendingChanges(ctx context.Context, handlers *worker.Registry) models.SyncResult
	Submit(ctx context.Context, handlers *worker.Registry, m models.Mutation) (*models.SubmitResult, error)
	Discard(ctx context.Context, id string) (*models.DiscardedEntry, error)
}

// HTTPServer exposes the sync status surface for UIs that are not linked against the engine.
type HTTPServer struct {
	cfg      config.APIConfig
	engine   SyncEngine
	handlers *worker.Registry
	server   *http.Server
	auth     *HTTPAuth
	logger   *zerolog.Logger
}

func NewHTTPServer(cfg config.APIConfig, engine SyncEngine, handlers *worker.Registry, logger *zerolog.Logger) *HTTPServer {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	srv := &HTTPServer{cfg: cfg, engine: engine, handlers: handlers, logger: logger}
	srv.auth = NewHTTPAuth(cfg)

	mux := http.NewServeMux()
	srv.handle(mux, "GET /healthz", srv.handleHealthz)
	srv.handle(mux, "GET /readyz", srv.handleReadyz)
	srv.handle(mux, "GET /api/v1/sync/status", srv.handleStatus)
	srv.handle(mux, "GET /api/v1/sync/queue", srv.handleQueue)
	srv.handle(mux, "GET /api/v1/sync/queue/export", srv.handleExport)
	srv.handle(mux, "DELETE /api/v1/sync/queue/{id}", srv.handleDiscard)
	srv.handle(mux, "GET /api/v1/sync/discarded", srv.handleDiscarded)
	srv.handle(mux, "POST /api/v1/sync", srv.handleSync)
	srv.handle(mux, "POST /api/v1/mutations", srv.handleMutation)

	handler := requestLogger(logger, corsMiddleware(srv.auth.Wrap(mux)))

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      60 * time.Second,
	}

	return srv
}

// Handler returns the root handler with all middleware applied.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) handle(mux *http.ServeMux, pattern string, fn http.HandlerFunc) {
	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		metrics.IncHTTP(pattern)
		fn(w, r)
	})
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if _, err := s.engine.GetSyncQueue(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *HTTPServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Status(r.Context()))
}

func (s *HTTPServer) handleQueue(w http.ResponseWriter, r *http.Request) {
	entries, err := s.engine.GetSyncQueue(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries, "pending": len(entries)})
}

func (s *HTTPServer) handleDiscarded(w http.ResponseWriter, r *http.Request) {
	entries, err := s.engine.ListDiscarded(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	entries, err := s.engine.GetSyncQueue(ctx)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	discarded, err := s.engine.ListDiscarded(ctx)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	now := time.Now()
	var buf bytes.Buffer
	if err := export.WriteQueue(&buf, entries, discarded, now); err != nil {
		s.logger.Error().Err(err).Msg("Failed to build queue export")
		writeError(w, http.StatusInternalServerError, "export failed")
		return
	}

	w.Header().Set("Content-Type", export.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.FileName(now)))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func (s *HTTPServer) handleSync(w http.ResponseWriter, r *http.Request) {
	result := s.engine.SyncPendingChanges(r.Context(), s.handlers)
	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) handleMutation(w http.ResponseWriter, r *http.Request) {
	var m models.Mutation
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&m); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	m.EntityType = models.EntityType(strings.TrimSpace(string(m.EntityType)))

	res, err := s.engine.Submit(r.Context(), s.handlers, m)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	status := http.StatusOK
	if res.Queued {
		status = http.StatusAccepted
	}
	writeJSON(w, status, res)
}

func (s *HTTPServer) handleDiscard(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}

	entry, err := s.engine.Discard(r.Context(), id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// writeEngineError maps engine errors onto HTTP statuses.
func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrEntryNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrStoreClosed):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		kind := domain.Classify(err)
		status := http.StatusBadGateway
		switch kind {
		case models.ErrorKindPermanent:
			status = http.StatusUnprocessableEntity
		case models.ErrorKindConfiguration:
			status = http.StatusNotImplemented
		}
		writeJSON(w, status, map[string]string{"error": err.Error(), "kind": string(kind)})
	}
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}
