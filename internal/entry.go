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
	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"

	"github.com/starford/ansuz/internal/api"
	"github.com/starford/ansuz/internal/filestore"
	"github.com/starford/ansuz/internal/gemini"
	"github.com/starford/ansuz/internal/notestore"
	"github.com/starford/ansuz/internal/pipeline"
	"github.com/starford/ansuz/internal/sse"
)

// Run starts the application with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app := &application{}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return fmt.Errorf("config is required")
	}

	cfg := app.config

	// Initialize structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("store_backend", cfg.Store.Backend),
		slog.String("store_folder", cfg.Store.Folder),
		slog.String("gemini_model", cfg.Gemini.Model),
		slog.String("log_level", cfg.App.LogLevel.String()))

	// Initialize the note file store backend.
	files := app.files
	if files == nil {
		var err error
		files, err = NewFileStore(ctx, cfg)
		if err != nil {
			return fmt.Errorf("init file store: %w", err)
		}
	}

	store := notestore.New(files, cfg.Store.Folder)
	if _, err := store.EnsureFolder(ctx); err != nil {
		return fmt.Errorf("ensure notes folder: %w", err)
	}

	// Initialize the Gemini stages.
	gen := app.generator
	if gen == nil {
		client, err := gemini.NewClient(ctx, cfg.Gemini.APIKey, cfg.Gemini.Model)
		if err != nil {
			return fmt.Errorf("init gemini client: %w", err)
		}
		gen = client
	}
	stages := gemini.NewStages(gen)

	// SSE broker.
	broker := sse.NewBroker()
	defer broker.Close()

	// Recording pipeline, publishing status transitions over SSE.
	pipe := pipeline.New(stages, store, broker.PublishStatus, logger)

	// Build API router.
	apiRouter := api.NewRouter(pipe, store, broker, cfg.Auth.AuthEnabled(), cfg.Auth.Token)

	// Build chi router.
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
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:    cfg.App.HTTP.Address(),
		Handler: r,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

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

		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// NewFileStore builds the configured file store backend.
func NewFileStore(ctx context.Context, cfg *Config) (filestore.Store, error) {
	switch cfg.Store.Backend {
	case StoreBackendDrive:
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Store.AccessToken})
		return filestore.NewDrive(ctx, ts)
	case StoreBackendLocal:
		if err := os.MkdirAll(cfg.Store.Path, 0o755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
		return filestore.NewLocal(cfg.Store.Path)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}
