// Package server wires the catalog, tools, resources and the optional
// dashboard into one MCP server. No catalog logic lives here.
package server

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"mcpindex/internal/catalog"
	"mcpindex/internal/config"
	"mcpindex/internal/dashboard"
	"mcpindex/internal/feedback"
	"mcpindex/internal/logging"
	"mcpindex/internal/metrics"
	"mcpindex/internal/repository"
	"mcpindex/internal/review"
	"mcpindex/internal/session"
	"mcpindex/internal/tools"

	"github.com/mark3labs/mcp-go/server"
	"golang.org/x/sync/errgroup"
)

const Name = "mcpindex"

// Version is set at build time via ldflags.
var Version = "dev"

//go:embed instructions.md
var instructions string

const (
	sessionMaxAge   = 14 * 24 * time.Hour
	sessionMaxCount = 500
	closeTimeout    = 5 * time.Second
)

type Option func(*Server)

// WithStdio replaces os.Stdin and os.Stdout as the JSON-RPC transport.
func WithStdio(in io.Reader, out io.Writer) Option {
	return func(s *Server) {
		s.stdin, s.stdout = in, out
	}
}

// Server owns every long-lived component of a running mcpindex process.
type Server struct {
	cfg    *config.Config
	logger *logging.AppLogger

	Catalog   *catalog.Catalog
	Usage     *catalog.UsageTracker
	Metrics   *metrics.Recorder
	Feedback  *feedback.Store // nil when the database could not be opened
	Registry  *tools.Registry
	Sessions  *session.Store
	Dashboard *dashboard.Server // nil unless enabled
	Sources   []repository.Prepared

	mcp    *server.MCPServer
	stdin  io.Reader
	stdout io.Writer

	closeOnce sync.Once
	closeErr  error
}

// catalogDirs puts the writable primary directory first, then every
// source that prepared successfully, read-only.
func catalogDirs(cfg *config.Config, prepared []repository.Prepared) []catalog.Dir {
	dirs := []catalog.Dir{{Path: cfg.InstructionsDir, Source: "primary"}}
	for _, p := range prepared {
		if p.OK() {
			dirs = append(dirs, catalog.Dir{Path: p.Path, Source: p.Entry.Name, ReadOnly: true})
		}
	}
	return dirs
}

// New builds the server. Sources are prepared here, so ctx bounds any git
// clone or fetch. Call Close when Run is never reached.
func New(ctx context.Context, cfg *config.Config, logger *logging.AppLogger, opts ...Option) (*Server, error) {
	if logger == nil {
		logger = logging.GetDefault()
	}
	if err := cfg.EnsureDirs(); err != nil {
		return nil, err
	}

	s := &Server{
		cfg:    cfg,
		logger: logger,
		stdin:  os.Stdin,
		stdout: os.Stdout,
	}
	for _, opt := range opts {
		opt(s)
	}
	logger.DebugObject("config", *cfg)

	s.Sources = repository.PrepareAll(ctx, cfg.Sources, cfg.SourcesDir(), logger)

	cat, err := catalog.New(catalog.Options{
		Dirs:        catalogDirs(cfg, s.Sources),
		MaxFileSize: cfg.MaxFileSize,
		Mutation:    cfg.Mutation,
		Logger:      logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating catalog: %w", err)
	}
	s.Catalog = cat

	s.Metrics = metrics.New()
	cat.OnChange(func(ev catalog.Event) {
		s.Metrics.SetCatalogEntries(ev.Count)
		if ev.Type == catalog.EventReloaded {
			s.Metrics.IncCatalogReloads()
		}
	})

	s.Usage = catalog.NewUsageTracker(cfg.UsageSnapshotPath(), cfg.UsageFlushDelay, logger)
	if err := s.Usage.Load(); err != nil {
		logger.Warn("Starting with empty usage counters", "error", err)
	}

	// The feedback store is optional: the catalog tools work without it.
	fb, err := feedback.Open(cfg.FeedbackDBPath())
	if err != nil {
		logger.Warn("Feedback store disabled", "path", cfg.FeedbackDBPath(), "error", err)
	} else {
		s.Feedback = fb
	}

	rules, err := review.Default()
	if err != nil {
		logger.Warn("Prompt review disabled", "error", err)
	}

	s.Registry = tools.Build(tools.Deps{
		Catalog:     cat,
		Usage:       s.Usage,
		Metrics:     s.Metrics,
		Feedback:    s.Feedback,
		Review:      rules,
		Logger:      logger,
		MaxFileSize: cfg.MaxFileSize,
		Version:     Version,
	})

	s.mcp = server.NewMCPServer(
		Name,
		Version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithRecovery(),
		server.WithInstructions(instructions),
	)
	s.Registry.Register(s.mcp)

	res := tools.NewResources(cat)
	s.mcp.AddResource(res.CatalogResource(), res.HandleCatalog)
	s.mcp.AddResourceTemplate(res.EntryTemplate(), res.HandleEntry)

	if cfg.Dashboard.Enabled {
		if err := s.setupDashboard(ctx); err != nil {
			s.Close()
			return nil, err
		}
	}

	logger.Info("Server ready",
		"instructionsDir", cfg.InstructionsDir,
		"sources", len(s.Sources),
		"tools", len(s.Registry.Infos()),
		"mutation", cfg.Mutation,
		"dashboard", cfg.Dashboard.Enabled)
	return s, nil
}

func (s *Server) setupDashboard(ctx context.Context) error {
	sessions, err := session.Open(ctx, s.cfg.SessionsDir(), s.logger)
	if err != nil {
		return fmt.Errorf("opening session store: %w", err)
	}
	if n, err := sessions.Prune(sessionMaxAge, sessionMaxCount); err != nil {
		s.logger.Warn("Session pruning failed", "error", err)
	} else if n > 0 {
		s.logger.Debug("Pruned old sessions", "count", n)
	}
	s.Sessions = sessions

	dash, err := dashboard.New(dashboard.Deps{
		Name:     Name,
		Version:  Version,
		Config:   s.cfg.Dashboard,
		Catalog:  s.Catalog,
		Metrics:  s.Metrics,
		Usage:    s.Usage,
		Sessions: sessions,
		Tools:    s.Registry.Infos,
		Logger:   s.logger,
	})
	if err != nil {
		return err
	}
	// bind now so a taken port fails startup instead of a background goroutine
	if err := dash.Listen(); err != nil {
		return err
	}
	s.Dashboard = dash
	return nil
}

// MCP exposes the underlying mcp-go server, mainly for tests.
func (s *Server) MCP() *server.MCPServer {
	return s.mcp
}

// Run serves JSON-RPC on stdio until the client closes stdin or ctx is
// cancelled, together with the catalog watcher and the dashboard. It always
// closes the server before returning.
func (s *Server) Run(ctx context.Context) error {
	defer s.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if _, err := s.Catalog.EnsureLoaded(ctx); err != nil {
		return fmt.Errorf("loading catalog: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		// stdin EOF ends the whole process
		defer cancel()
		stdio := server.NewStdioServer(s.mcp)
		stdio.SetErrorLogger(s.logger.StandardLog())
		s.logger.Info("Serving MCP on stdio")
		err := stdio.Listen(gctx, s.stdin, s.stdout)
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("stdio transport: %w", err)
		}
		return nil
	})

	if s.cfg.Watch {
		g.Go(func() error {
			return s.Catalog.Watch(gctx)
		})
	}

	if s.Dashboard != nil {
		g.Go(func() error {
			return s.Dashboard.Run(gctx)
		})
	}

	err := g.Wait()
	s.logger.Info("Server stopped")
	return err
}

// Close flushes usage counters, closes the feedback database and stops the
// dashboard. Only the first call does any work.
func (s *Server) Close() error {
	s.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()

		var errs []error
		if s.Dashboard != nil {
			if err := s.Dashboard.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("dashboard shutdown: %w", err))
			}
		}
		if s.Usage != nil {
			if err := s.Usage.Close(ctx); err != nil {
				errs = append(errs, fmt.Errorf("usage flush: %w", err))
			}
		}
		if s.Feedback != nil {
			if err := s.Feedback.Close(); err != nil {
				errs = append(errs, fmt.Errorf("feedback close: %w", err))
			}
		}
		s.closeErr = errors.Join(errs...)
		if s.closeErr != nil {
			s.logger.Warn("Shutdown incomplete", "error", s.closeErr)
		}
	})
	return s.closeErr
}
