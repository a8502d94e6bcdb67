// Package server provides the HTTP API for Kagami.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hersafe/kagami/internal/config"
	"github.com/hersafe/kagami/internal/pipeline"
	"github.com/hersafe/kagami/internal/search"
	"github.com/hersafe/kagami/internal/storage"
)

// Server is the HTTP server for the Kagami API.
type Server struct {
	engine   *search.Engine
	pipeline *pipeline.Pipeline
	storage  storage.Store
	config   *config.Config
	logger   *zap.Logger
	server   *http.Server
}

// NewServer creates a server with the given dependencies.
func NewServer(
	engine *search.Engine,
	pipe *pipeline.Pipeline,
	store storage.Store,
	cfg *config.Config,
	logger *zap.Logger,
) *Server {
	return &Server{
		engine:   engine,
		pipeline: pipe,
		storage:  store,
		config:   cfg,
		logger:   logger,
	}
}

// Routes builds the chi router for the API.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(120 * time.Second))
	r.Use(middleware.Compress(5))

	r.Post("/api/v1/index", s.handleTriggerIndex)
	r.Post("/api/v1/search", s.handleSearch)
	r.Get("/api/v1/status", s.handleStatus)
	r.Get("/health", s.handleHealth)

	// Matched raw images are served directly so a UI can display them.
	if s.config.Storage.RawImagesDir != "" {
		fileServer := http.StripPrefix("/matched-images/", http.FileServer(http.Dir(s.config.Storage.RawImagesDir)))
		r.Get("/matched-images/*", fileServer.ServeHTTP)
	}
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.Routes(),
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
