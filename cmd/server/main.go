// Expert Finder frontend server.
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

	"github.com/n9-labs/frontend/internal/agent"
	"github.com/n9-labs/frontend/internal/api"
	"github.com/n9-labs/frontend/internal/config"
	"github.com/n9-labs/frontend/internal/feedback"
	"github.com/n9-labs/frontend/internal/identity"
	"github.com/n9-labs/frontend/internal/middleware"
	"github.com/n9-labs/frontend/internal/run"
	"github.com/n9-labs/frontend/internal/session"
	"github.com/n9-labs/frontend/internal/store"
	"github.com/n9-labs/frontend/internal/stream"
	"github.com/n9-labs/frontend/internal/suggestions"
	"github.com/n9-labs/frontend/internal/telemetry"
	"github.com/n9-labs/frontend/web"
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

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "chat_enabled", cfg.AgentEnabled())

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

	_, meter, telemetryShutdown, err := telemetry.Init(context.Background(), "./data/logs/telemetry")
	if err != nil {
		slog.Error("Failed to initialize telemetry", "error", err)
		os.Exit(1)
	}
	defer telemetryShutdown()

	metrics, err := telemetry.NewMetrics(meter)
	if err != nil {
		slog.Error("Failed to register metrics", "error", err)
		os.Exit(1)
	}

	catalog, err := suggestions.Load(cfg.SuggestionsPath)
	if err != nil {
		slog.Error("Failed to load suggestions catalog", "error", err)
		os.Exit(1)
	}

	fbLogger, err := feedback.NewLogger(cfg.FeedbackLog, logger)
	if err != nil {
		slog.Error("Failed to initialize feedback logger", "error", err)
		os.Exit(1)
	}
	defer fbLogger.Close()

	// Agent backend is optional; without it only the landing page works.
	var runner run.Runner
	if cfg.AgentEnabled() {
		client := agent.NewClient(agent.DefaultClientConfig(cfg.AgentURL), logger)
		if err := client.Health(context.Background()); err != nil {
			slog.Warn("Agent health check failed at startup, continuing anyway", "error", err)
		}
		runner = run.NewAgentRunner(client)
		slog.Info("Agent client initialized", "agent_url", cfg.AgentURL)
	} else {
		slog.Info("Chat disabled (AGENT_URL not set)")
	}

	hub := stream.NewHub(cfg.SSE.ReplayBufferSize)
	runService := run.NewService(runner, hub, repo, metrics, logger)
	runService.SetConversationLogger(fbLogger)
	controller := session.NewController(runService, repo, cfg.Dispatch, logger)
	runService.OnReady(controller.HandleReady)

	// Initialize handlers.
	baseHandler := api.NewHandler(repo, cfg.SSE.MaxRequestBodySize)
	rateLimiter := api.NewRateLimiter(cfg.RateLimit.RequestsPerWindow, cfg.RateLimit.WindowDuration)
	chatHandler := api.NewChatHandler(baseHandler, controller, runService, catalog, rateLimiter, cfg.AgentEnabled())
	feedbackHandler := api.NewFeedbackHandler(baseHandler, fbLogger, metrics)
	sseHandler := stream.NewSSEHandler(hub, cfg.SSE)
	wsHandler := stream.NewWebSocketHandler(hub, cfg.FrontendURL, cfg.IsDevelopment())

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS([]string{"*"}))
	r.Use(identity.Middleware(repo, cfg.IsDevelopment()))

	chatHandler.RegisterRoutes(r)
	feedbackHandler.RegisterRoutes(r)

	// Streaming endpoints.
	r.Get("/api/chat/stream", sseHandler.ServeHTTP)
	r.Get("/ws/chat", wsHandler.ServeHTTP)

	// Serve embedded frontend (SPA catch-all).
	r.Handle("/*", web.SPAHandler())

	// Create server.
	// Note: SSE connections require long timeouts (no WriteTimeout).
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

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
