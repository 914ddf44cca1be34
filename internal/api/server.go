// Package api exposes tasks, teams and sessions over HTTP, accepts
// background submissions and serves a websocket chat per agent.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/vinayprograms/agentkit/logging"

	"github.com/vinayprograms/crew/internal/agent"
	"github.com/vinayprograms/crew/internal/model"
	"github.com/vinayprograms/crew/internal/session"
	"github.com/vinayprograms/crew/internal/store"
	"github.com/vinayprograms/crew/internal/worker"
)

// Server routes HTTP requests to the stores, the queue and conversations.
type Server struct {
	conv     *session.Conversation
	loader   *agent.Loader
	tasks    store.Store[*model.Task]
	teams    store.Store[*model.Team]
	queue    worker.Queue
	gatherer prometheus.Gatherer
	upgrader websocket.Upgrader
	router   chi.Router
	logger   *logging.Logger
}

// Config holds server collaborators. Queue is optional; without it
// submissions are refused. Gatherer defaults to the default registry.
type Config struct {
	Conversation *session.Conversation
	Loader       *agent.Loader
	Tasks        store.Store[*model.Task]
	Teams        store.Store[*model.Team]
	Queue        worker.Queue
	Gatherer     prometheus.Gatherer
}

// New creates a server and its routes.
func New(cfg Config) *Server {
	g := cfg.Gatherer
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	s := &Server{
		conv:     cfg.Conversation,
		loader:   cfg.Loader,
		tasks:    cfg.Tasks,
		teams:    cfg.Teams,
		queue:    cfg.Queue,
		gatherer: g,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: logging.New().WithComponent("api"),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Route("/tasks/{id}", func(r chi.Router) {
		r.Get("/", s.handleGetTask)
		r.Post("/submit", s.handleSubmit)
	})
	r.Get("/teams/{id}", s.handleGetTeam)
	r.Get("/sessions/{id}", s.handleGetSession)
	r.Get("/agents/{id}/chat", s.handleChat)
	s.router = r
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe serves on addr until ctx is done, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	s.logger.Info("api listening", map[string]interface{}{"addr": addr})

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.tasks.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleGetTeam(w http.ResponseWriter, r *http.Request) {
	team, err := s.teams.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, team)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.conv.Sessions().Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// handleSubmit queues a background run. The kind query parameter selects
// task or team_task; team-assigned tasks default to team_task.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if s.queue == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "background execution is not configured"})
		return
	}
	task, err := s.tasks.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	kind := worker.Kind(r.URL.Query().Get("kind"))
	if kind == "" {
		kind = worker.KindTask
		if task.TeamID != "" {
			kind = worker.KindTeamTask
		}
	}

	job, err := worker.Submit(r.Context(), s.queue, s.tasks, kind, task)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

type errorBody struct {
	Error string `json:"error"`
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, worker.ErrInvalidJob):
		status = http.StatusBadRequest
	case errors.Is(err, model.ErrInvalidTransition):
		status = http.StatusConflict
	default:
		s.logger.Error("request failed", map[string]interface{}{"error": err.Error()})
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
