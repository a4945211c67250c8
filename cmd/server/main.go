// Pulse - PSA dashboard agent backend
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/psalabs/pulse/internal/agent"
	"github.com/psalabs/pulse/internal/api"
	"github.com/psalabs/pulse/internal/archive"
	"github.com/psalabs/pulse/internal/bus"
	"github.com/psalabs/pulse/internal/config"
	"github.com/psalabs/pulse/internal/identity"
	"github.com/psalabs/pulse/internal/middleware"
	"github.com/psalabs/pulse/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	// Event bus fans business events out to connected stream clients.
	eventBus := bus.New(logger)

	// Agent orchestrator boundary.
	processor := agent.NewHTTPProcessor(cfg.OrchestratorAddr, 0, logger)
	svc := agent.NewService(processor, eventBus, logger)
	slog.Info("Agent processor initialized", "orchestrator_addr", cfg.OrchestratorAddr)

	// Initialize handlers.
	handler := api.NewHandler(svc, repo, eventBus, cfg.RateLimit, cfg.RateLimitWindow, logger)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/healthz"))
	r.Use(middleware.CORS(corsOrigins(cfg)))
	r.Use(identity.Middleware(repo, cfg.IsDevelopment()))

	// All routes use identity middleware (no auth needed).
	handler.RegisterRoutes(r)

	// Create server.
	// Note: the NDJSON event stream requires long-lived responses (no
	// WriteTimeout); keepalives run every 10s to hold the connection.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	// Start background workers.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	archive.StartArchiver(ctx, repo, eventBus, logger)
	archive.StartSweeper(ctx, repo, cfg.SessionTTL, cfg.EventArchiveTTL, logger)

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}

func corsOrigins(cfg *config.Config) []string {
	if cfg.FrontendURL != "" {
		return []string{cfg.FrontendURL}
	}
	return []string{"*"}
}
