// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/linkgraph/internal/api"
	"github.com/starford/linkgraph/internal/editor"
	"github.com/starford/linkgraph/internal/index"
	"github.com/starford/linkgraph/internal/mcpserver"
	"github.com/starford/linkgraph/internal/pageservice"
	"github.com/starford/linkgraph/internal/resolver"
	"github.com/starford/linkgraph/internal/sse"
	"github.com/starford/linkgraph/internal/vault"
)

// components are the wired services shared by every command.
type components struct {
	cfg    *Config
	logger *slog.Logger
	db     *index.DB
	broker *sse.Broker
	ws     *editor.Workspace
	svc    *pageservice.Service
	source *vault.Source
}

func (c *components) Close() {
	c.ws.CloseAll()
	c.broker.Close()
	if err := c.db.Close(); err != nil {
		c.logger.Warn("close index failed", slog.String("error", err.Error()))
	}
}

func setup(opts []Option) (*components, *application, error) {
	app := &application{version: "dev", logOut: os.Stdout}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return nil, nil, fmt.Errorf("config is required")
	}

	cfg := app.config

	// Initialize structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(app.logOut, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("vault_path", cfg.Vault.Path),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.String("href_prefix", cfg.Links.HrefPrefix),
		slog.String("log_level", cfg.App.LogLevel.String()))

	db, err := index.Open(cfg.SQLite.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("init index: %w", err)
	}

	c := &components{
		cfg:    cfg,
		logger: logger,
		db:     db,
		broker: sse.NewBroker(cfg.Links.EventThrottle),
		ws:     editor.NewWorkspace(),
	}
	c.svc = pageservice.New(db, c.ws, resolver.New(cfg.Links.HrefPrefix, logger),
		pageservice.WithEvents(c.broker),
		pageservice.WithLogger(logger),
	)

	if cfg.Vault.Enabled() {
		if err := os.MkdirAll(cfg.Vault.Path, 0o755); err != nil {
			c.Close()
			return nil, nil, fmt.Errorf("create vault dir: %w", err)
		}
		fs, err := vault.NewFS(cfg.Vault.Path)
		if err != nil {
			c.Close()
			return nil, nil, fmt.Errorf("init vault: %w", err)
		}
		c.source = vault.NewSource(fs, c.svc, logger)
	}
	return c, app, nil
}

// startup imports the vault and reconciles the graph. Failures are logged.
func (c *components) startup(ctx context.Context) {
	if c.source != nil {
		if _, err := c.source.Import(ctx); err != nil {
			c.logger.Warn("initial import failed", slog.String("error", err.Error()))
		}
	}
	if _, err := c.svc.Reconcile(ctx); err != nil {
		c.logger.Warn("initial reconcile failed", slog.String("error", err.Error()))
	}
}

// reconcileLoop runs the reconcile pass every interval until ctx is done.
func (c *components) reconcileLoop(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := c.svc.Reconcile(ctx); err != nil && ctx.Err() == nil {
				c.logger.Warn("reconcile failed", slog.String("error", err.Error()))
			}
		}
	}
}

func newHTTPHandler(c *components) http.Handler {
	apiRouter := api.NewRouter(c.svc, c.cfg.Auth.AuthEnabled(), c.cfg.Auth.Token, c.broker)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if _, _, err := c.db.ListPages(r.Context(), 1, 0); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unavailable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)
	return r
}

// Run starts the HTTP server with the given options.
func Run(ctx context.Context, opts ...Option) error {
	c, _, err := setup(opts)
	if err != nil {
		return err
	}
	defer c.Close()
	cfg, logger := c.cfg, c.logger

	c.startup(ctx)

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           newHTTPHandler(c),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// Watch the vault folder.
	if c.source != nil {
		g.Go(func() error {
			if err := c.source.Watch(gCtx); err != nil && gCtx.Err() == nil {
				logger.Error("vault watcher stopped", slog.String("error", err.Error()))
			}
			return nil
		})
	}

	// Periodic reconcile.
	if cfg.Links.ReconcileInterval > 0 {
		g.Go(func() error {
			c.reconcileLoop(gCtx, cfg.Links.ReconcileInterval)
			return nil
		})
	}

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		// Unblocks the watcher and reconcile loop.
		return errShutdown
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

var errShutdown = errors.New("shutdown")

// RunMCP serves the MCP tools on stdin/stdout.
func RunMCP(ctx context.Context, opts ...Option) error {
	c, app, err := setup(append([]Option{WithLogOutput(os.Stderr)}, opts...))
	if err != nil {
		return err
	}
	defer c.Close()

	c.startup(ctx)
	c.logger.Info("MCP server starting on stdio")
	return mcpserver.New(c.svc, app.version).ServeStdio()
}

// RunReconcile imports the vault, runs one reconcile pass and prints the report.
func RunReconcile(ctx context.Context, opts ...Option) (index.ReconcileReport, error) {
	c, _, err := setup(opts)
	if err != nil {
		return index.ReconcileReport{}, err
	}
	defer c.Close()

	if c.source != nil {
		if _, err := c.source.Import(ctx); err != nil {
			return index.ReconcileReport{}, fmt.Errorf("import vault: %w", err)
		}
	}
	return c.svc.Reconcile(ctx)
}
