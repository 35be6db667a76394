// Package server exposes the pipeline over HTTP: task submission and
// queries, live progress streaming, agent discovery, semantic search,
// and Prometheus metrics.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/halcasteel/bookmark-pipeline/pkg/agent"
	"github.com/halcasteel/bookmark-pipeline/pkg/config"
	"github.com/halcasteel/bookmark-pipeline/pkg/embedder"
	"github.com/halcasteel/bookmark-pipeline/pkg/logger"
	"github.com/halcasteel/bookmark-pipeline/pkg/manager"
	"github.com/halcasteel/bookmark-pipeline/pkg/store"
	"github.com/halcasteel/bookmark-pipeline/pkg/stream"
	"github.com/halcasteel/bookmark-pipeline/pkg/vector"
)

// ServiceVersion is reported in the discovery document.
const ServiceVersion = "1.0.0"

// Agents missing a heartbeat for longer than this are reported
// unhealthy.
const heartbeatStaleAfter = 5 * time.Minute

// Deps are the collaborators the HTTP surface is built on. Embed and
// Index may be nil; search then responds 503.
type Deps struct {
	Config   *config.ServerConfig
	Store    *store.Store
	Manager  *manager.Manager
	Agents   *agent.Registry
	Hub      *stream.Hub
	Embed    embedder.Embedder
	Index    *vector.Index
	Gatherer prometheus.Gatherer
}

// Server is the HTTP surface of the pipeline.
type Server struct {
	cfg     *config.ServerConfig
	store   *store.Store
	manager *manager.Manager
	agents  *agent.Registry
	hub     *stream.Hub
	embed   embedder.Embedder
	index   *vector.Index
	log     *slog.Logger
	router  chi.Router
	http    *http.Server
}

// New builds the server and its route table.
func New(deps Deps) *Server {
	s := &Server{
		cfg:     deps.Config,
		store:   deps.Store,
		manager: deps.Manager,
		agents:  deps.Agents,
		hub:     deps.Hub,
		embed:   deps.Embed,
		index:   deps.Index,
		log:     logger.GetLogger().With("component", "server"),
	}

	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/.well-known/agent.json", s.handleDirectory)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/agents", s.handleAgents)
		r.Get("/agents/{type}/capabilities", s.handleCapabilities)
		r.Get("/agents/{type}/health", s.handleAgentHealth)

		r.Post("/tasks", s.handleSubmit)
		r.Get("/tasks", s.handleListTasks)
		r.Get("/tasks/{id}", s.handleGetTask)
		r.Post("/tasks/{id}/cancel", s.handleCancel)
		r.Post("/tasks/{id}/replay", s.handleReplay)
		r.Get("/tasks/{id}/messages", s.handleMessages)
		r.Get("/tasks/{id}/artifacts", s.handleArtifacts)
		r.Get("/tasks/{id}/stream", s.handleStream)

		r.Get("/search", s.handleSearch)
	})

	s.router = r
	return s
}

// Router exposes the handler for tests and embedding.
func (s *Server) Router() http.Handler { return s.router }

// ListenAndServe blocks until the context is cancelled, then drains
// in-flight requests.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", "addr", addr)
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return s.http.Shutdown(shutdownCtx)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start).String())
	})
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, format string, args ...any) {
	writeJSON(w, status, errorResponse{Error: fmt.Sprintf(format, args...)})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": ServiceVersion,
		"agents":  len(s.agents.Cards()),
	})
}
