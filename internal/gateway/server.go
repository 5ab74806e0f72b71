package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"drumscribe/internal/artifacts"
	"drumscribe/internal/config"
	"drumscribe/internal/ledger"
	"drumscribe/internal/logging"
	"drumscribe/internal/pubsub"
	"drumscribe/internal/taskqueue"
)

// Server hosts the REST API, the download endpoint, and the WebSocket feed.
type Server struct {
	cfg       *config.Config
	store     *ledger.Store
	queue     *taskqueue.Queue
	artifacts *artifacts.Store
	hub       *pubsub.Hub
	logger    *slog.Logger
	startedAt time.Time

	httpServer *http.Server
}

// New wires the API surface onto its backing stores.
func New(
	cfg *config.Config,
	store *ledger.Store,
	queue *taskqueue.Queue,
	artifactStore *artifacts.Store,
	hub *pubsub.Hub,
	logger *slog.Logger,
) *Server {
	s := &Server{
		cfg:       cfg,
		store:     store,
		queue:     queue,
		artifacts: artifactStore,
		hub:       hub,
		logger:    logging.NewComponentLogger(logger, "gateway"),
		startedAt: time.Now(),
	}

	router := mux.NewRouter()
	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/jobs", s.handleSubmit).Methods(http.MethodPost)
	api.HandleFunc("/jobs", s.handleListJobs).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{id}", s.handleGetJob).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{id}", s.handleDeleteJob).Methods(http.MethodDelete)
	api.HandleFunc("/jobs/{id}/result", s.handleResult).Methods(http.MethodGet)
	api.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	api.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/ws/jobs/{id}", s.handleProgressSocket).Methods(http.MethodGet)
	router.HandleFunc("/download/{token}", s.handleDownload).Methods(http.MethodGet)

	s.httpServer = &http.Server{
		Addr:              cfg.Paths.APIBind,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the routed handler, used by tests with httptest.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe blocks serving the API until the context is canceled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	s.logger.Info("api listening", logging.String("addr", listener.Addr().String()))

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpServer.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// jobView is the wire representation of a job.
type jobView struct {
	ID           string  `json:"id"`
	Filename     string  `json:"filename"`
	SizeBytes    int64   `json:"sizeBytes"`
	Status       string  `json:"status"`
	Stage        string  `json:"stage,omitempty"`
	Progress     int     `json:"progress"`
	Message      string  `json:"message,omitempty"`
	ErrorMessage string  `json:"errorMessage,omitempty"`
	CreatedAt    string  `json:"createdAt"`
	StartedAt    *string `json:"startedAt,omitempty"`
	CompletedAt  *string `json:"completedAt,omitempty"`
}

func viewJob(job *ledger.Job) jobView {
	view := jobView{
		ID:           job.ID,
		Filename:     job.Filename,
		SizeBytes:    job.SizeBytes,
		Status:       string(job.Status),
		Stage:        string(job.Stage),
		Progress:     job.Progress,
		Message:      job.Message,
		ErrorMessage: job.ErrorMessage,
		CreatedAt:    job.CreatedAt.UTC().Format(time.RFC3339),
	}
	if job.StartedAt != nil {
		started := job.StartedAt.UTC().Format(time.RFC3339)
		view.StartedAt = &started
	}
	if job.CompletedAt != nil {
		completed := job.CompletedAt.UTC().Format(time.RFC3339)
		view.CompletedAt = &completed
	}
	return view
}

// eventView is the wire representation of a progress event.
type eventView struct {
	JobID     string `json:"jobId"`
	Status    string `json:"status"`
	Stage     string `json:"stage,omitempty"`
	Progress  int    `json:"progress"`
	Message   string `json:"message,omitempty"`
	EmittedAt string `json:"emittedAt"`
}

func viewEvent(event ledger.ProgressEvent) eventView {
	return eventView{
		JobID:     event.JobID,
		Status:    string(event.Status),
		Stage:     string(event.Stage),
		Progress:  event.Progress,
		Message:   event.Message,
		EmittedAt: event.EmittedAt.UTC().Format(time.RFC3339Nano),
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Warn("encode response", logging.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// downloadBase prefixes signed paths with the public base URL when set, so
// links survive reverse proxies.
func (s *Server) downloadBase() string {
	return strings.TrimRight(strings.TrimSpace(s.cfg.Storage.PublicBaseURL), "/")
}
