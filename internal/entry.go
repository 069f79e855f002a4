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

	"github.com/quizmate/quizmate/internal/ai"
	"github.com/quizmate/quizmate/internal/api"
	"github.com/quizmate/quizmate/internal/events"
	"github.com/quizmate/quizmate/internal/generation"
	"github.com/quizmate/quizmate/internal/markdown"
	"github.com/quizmate/quizmate/internal/materials"
	"github.com/quizmate/quizmate/internal/mcpserver"
	"github.com/quizmate/quizmate/internal/prompt"
	"github.com/quizmate/quizmate/internal/repo"
	"github.com/quizmate/quizmate/internal/state"
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
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.String("materials_path", cfg.Materials.Path),
		slog.String("ai_model", cfg.AI.Model),
		slog.String("study_level", cfg.Study.Level),
		slog.String("log_level", cfg.App.LogLevel.String()))

	// Initialize the subject repository.
	db, err := repo.Open(cfg.SQLite.Path)
	if err != nil {
		return fmt.Errorf("init repository: %w", err)
	}
	defer db.Close()

	// Load the subject tree; the first subject and chat become active.
	store := state.NewStore()
	subjects, err := db.ListSubjects(ctx)
	if err != nil {
		return fmt.Errorf("load subjects: %w", err)
	}
	store.Load(subjects)
	logger.Info("Subject tree loaded", slog.Int("subjects", len(subjects)))

	coord := state.NewCoordinator(store, db, logger)

	// SSE broker.
	broker := events.NewBroker(2 * time.Second)
	defer broker.Close()

	// Generator and orchestrator.
	gen := ai.NewClient(cfg.AI.BaseURL, cfg.AI.APIKey, cfg.AI.Model, cfg.AI.Timeout())
	prompts := prompt.NewBuilder(cfg.Study.Level)
	orch := generation.NewOrchestrator(store, coord, gen, prompts, cfg.AI.Timeout(), logger,
		broker.PublishArtifactEvent)

	// API handlers and router.
	h := api.NewHandler(store, coord, orch, markdown.NewRenderer())
	apiRouter := api.NewRouter(h, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker)

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

	// Start the materials watcher with an SSE callback.
	mats := materials.NewService(store, coord, cfg.Materials.Path, logger,
		func(kind, subjectID, name string) {
			broker.Publish(events.Event{
				Type: "material." + kind,
				Data: map[string]string{"subjectId": subjectID, "name": name},
			})
		})
	g.Go(func() error {
		if err := mats.Watch(gCtx); err != nil {
			logger.Error("materials watcher error", slog.String("error", err.Error()))
		}
		return nil
	})

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

// RunMCP serves the study state over MCP stdio instead of HTTP. Logs go to
// stderr so stdout stays clean for the protocol stream.
func RunMCP(ctx context.Context, opts ...Option) error {
	app := &application{}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return fmt.Errorf("config is required")
	}
	cfg := app.config

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	db, err := repo.Open(cfg.SQLite.Path)
	if err != nil {
		return fmt.Errorf("init repository: %w", err)
	}
	defer db.Close()

	store := state.NewStore()
	subjects, err := db.ListSubjects(ctx)
	if err != nil {
		return fmt.Errorf("load subjects: %w", err)
	}
	store.Load(subjects)

	logger.Info("MCP server starting on stdio", slog.Int("subjects", len(subjects)))
	return mcpserver.New(store).ServeStdio()
}
