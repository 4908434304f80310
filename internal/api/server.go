// Package api serves the agent's local HTTP interface: asset import, project
// editing, render graph compilation and export jobs.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cutroom/cutroom-agent/internal/catalog"
	"github.com/cutroom/cutroom-agent/internal/editor"
	"github.com/cutroom/cutroom-agent/internal/execution"
	"github.com/cutroom/cutroom-agent/internal/export"
	"github.com/cutroom/cutroom-agent/internal/metrics"
	"github.com/cutroom/cutroom-agent/internal/playback"
	"github.com/cutroom/cutroom-agent/internal/rendergraph"
	"github.com/cutroom/cutroom-agent/internal/timeline"
)

// ProjectEditor hands out edit sessions for projects.
type ProjectEditor interface {
	Open(ctx context.Context, projectID string) (*editor.Session, error)
	Close(ctx context.Context, projectID string) error
	Forget(projectID string)
	OpenCount() int
}

// ExportService compiles projects and manages export jobs.
type ExportService interface {
	CompileDocument(ctx context.Context, doc timeline.Document, opts rendergraph.Options) (*rendergraph.Graph, error)
	Submit(ctx context.Context, projectID string, req export.Request) (*catalog.Job, error)
	EDL(ctx context.Context, projectID string, frameRate float64) (string, error)
	Job(ctx context.Context, jobID string) (*catalog.Job, error)
	List(ctx context.Context, limit int) ([]*catalog.Job, error)
	Cancel(ctx context.Context, jobID string) error
	Subscribe(jobID string) (<-chan export.Update, func())
}

type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

type ServerConfig struct {
	Port      int
	Catalog   catalog.CatalogService
	Editor    ProjectEditor
	Exports   ExportService
	Playback  playback.Service
	Runner    *catalog.Runner
	Doctor    *execution.CachedDoctor
	Metrics   *metrics.Metrics
	Token     TokenFunc
	Logger    *slog.Logger
	StartTime time.Time
	DeviceID  string
	Version   string
}

func NewServer(cfg ServerConfig) *Server {
	router := NewRouter(cfg)

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf("127.0.0.1:%d", cfg.Port),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      0, // downloads and event streams are long-lived
			IdleTimeout:       60 * time.Second,
		},
		logger: cfg.Logger,
	}
}

func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) Addr() string {
	return s.httpServer.Addr
}
