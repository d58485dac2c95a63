// Enterprise Data Assistant - chat front-end server
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

	"github.com/ashureev/data-assistant/internal/api"
	"github.com/ashureev/data-assistant/internal/chat"
	"github.com/ashureev/data-assistant/internal/config"
	"github.com/ashureev/data-assistant/internal/identity"
	"github.com/ashureev/data-assistant/internal/live"
	"github.com/ashureev/data-assistant/internal/middleware"
	"github.com/ashureev/data-assistant/internal/queryclient"
	"github.com/ashureev/data-assistant/internal/render"
	"github.com/ashureev/data-assistant/internal/session"
	"github.com/ashureev/data-assistant/internal/store"
	"github.com/ashureev/data-assistant/web"
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

	slog.Info("Starting server",
		"port", cfg.Port,
		"dev", cfg.IsDevelopment(),
		"query_service", cfg.Query.URL,
		"render_mode", cfg.Query.Mode,
	)

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

	queryCfg := queryclient.Config{URL: cfg.Query.URL, Timeout: cfg.Query.Timeout}

	// Readiness probe client; conversations get their own so cookies stay per page.
	probe, err := queryclient.New(queryCfg, logger)
	if err != nil {
		slog.Error("Failed to initialize query client", "error", err)
		os.Exit(1)
	}

	var recorder session.Recorder
	if cfg.AuditEnabled {
		recorder = repo
	}
	sessions := session.NewStore(session.Config{
		TTL:  cfg.ConversationTTL,
		Mode: cfg.Query.Mode,
	}, func() (chat.Querier, error) {
		return queryclient.New(queryCfg, logger)
	}, recorder, logger)

	renderer, err := render.NewHTMLRenderer(render.NewSanitizer())
	if err != nil {
		slog.Error("Failed to initialize renderer", "error", err)
		os.Exit(1)
	}

	limiter := api.NewRateLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window)
	defer limiter.Stop()

	// Initialize handlers.
	baseHandler := api.NewHandler(repo, sessions, renderer, limiter, cfg)
	conversationHandler := api.NewConversationHandler(baseHandler)

	liveMgr := live.NewManager()
	wsHandler := live.NewWebSocketHandler(sessions, renderer, liveMgr, limiter, cfg.AllowedOrigins, cfg.IsDevelopment())
	wsHandler.SetCloseGrace(cfg.SocketCloseGrace)

	pageHandler, err := web.NewPageHandler(sessions, renderer)
	if err != nil {
		slog.Error("Failed to initialize page handler", "error", err)
		os.Exit(1)
	}

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.AllowedOrigins))
	r.Use(identity.Middleware(repo, cfg.IsDevelopment()))

	// Public routes.
	r.Get("/health/ready", baseHandler.Ready(probe))

	conversationHandler.RegisterRoutes(r)

	// WebSocket endpoint.
	r.Get("/ws/chat", wsHandler.ServeHTTP)

	// Embedded page and assets.
	r.Handle("/static/*", web.StaticHandler())
	r.Get("/", pageHandler.ServeHTTP)

	// Create server.
	// Note: websocket connections and synchronous submits can outlive a
	// normal write deadline, so WriteTimeout stays 0.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start retention worker.
	var retentionDone <-chan struct{}
	if cfg.Retention > 0 {
		retentionDone = store.StartRetentionWorker(ctx, repo, store.RetentionConfig{Retention: cfg.Retention})
	}

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

	// Hijacked websocket connections are not closed by Shutdown.
	liveMgr.CloseAll()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	if retentionDone != nil {
		select {
		case <-retentionDone:
		case <-shutdownCtx.Done():
			slog.Warn("Retention worker did not stop before shutdown deadline")
		}
	}

	slog.Info("Server stopped successfully")
}
