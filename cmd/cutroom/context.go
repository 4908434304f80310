package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/cutroom/cutroom-agent/internal/catalog"
	"github.com/cutroom/cutroom-agent/internal/config"
	"github.com/cutroom/cutroom-agent/internal/db"
	"github.com/cutroom/cutroom-agent/internal/logging"
	"github.com/cutroom/cutroom-agent/internal/media"
)

type commandContext struct {
	verbose *bool

	configOnce sync.Once
	config     *config.EnvConfig
	configErr  error
}

func newCommandContext(verbose *bool) *commandContext {
	return &commandContext{verbose: verbose}
}

func (c *commandContext) ensureConfig() (*config.EnvConfig, error) {
	c.configOnce.Do(func() {
		c.config, c.configErr = config.New()
	})
	return c.config, c.configErr
}

func (c *commandContext) logger() *slog.Logger {
	var w io.Writer = io.Discard
	if c.verbose != nil && *c.verbose {
		w = os.Stderr
	}
	level := config.DefaultLogLevel
	if cfg, err := c.ensureConfig(); err == nil {
		level = cfg.LogLevel()
	}
	return logging.NewLogger(logging.Options{Level: level, Format: logging.FormatAuto, Writer: w})
}

// store is an open data directory.
type store struct {
	cfg     *config.EnvConfig
	repo    catalog.Repository
	catalog *catalog.Service
	prober  *media.FFprobe
	logger  *slog.Logger
}

// withStore opens the agent's database for the duration of fn.
func (c *commandContext) withStore(fn func(*store) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if _, err := os.Stat(cfg.DBPath()); errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("no database at %s; start the agent once or set %s", cfg.DBPath(), config.EnvDataDir)
	}

	logger := c.logger()
	database, err := db.New(cfg.DBPath(), logger)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer database.Close()

	repo := catalog.NewRepository(database.Conn())
	prober := media.NewFFprobe(cfg.FFprobePath(), cfg.FFmpegPath(), logger)
	return fn(&store{
		cfg:     cfg,
		repo:    repo,
		catalog: catalog.NewService(repo, prober, cfg.ThumbnailsDir(), logger),
		prober:  prober,
		logger:  logger,
	})
}

// resolveProject finds a project by id, or by a unique case-insensitive name.
func (s *store) resolveProject(ctx context.Context, ref string) (*catalog.Project, error) {
	if p, err := s.catalog.GetProject(ctx, ref); err == nil {
		return p, nil
	} else if !errors.Is(err, catalog.ErrNotFound) {
		return nil, err
	}

	projects, err := s.catalog.ListProjects(ctx)
	if err != nil {
		return nil, err
	}
	var match *catalog.Project
	for _, p := range projects {
		if !strings.EqualFold(p.Name, ref) {
			continue
		}
		if match != nil {
			return nil, fmt.Errorf("project name %q is ambiguous; use the id", ref)
		}
		match = p
	}
	if match == nil {
		return nil, fmt.Errorf("project %q: %w", ref, catalog.ErrNotFound)
	}
	return match, nil
}
