// Streaming query gateway server.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ashureev/ragstream/internal/api"
	"github.com/ashureev/ragstream/internal/completion"
	"github.com/ashureev/ragstream/internal/config"
	"github.com/ashureev/ragstream/internal/gateway"
	"github.com/ashureev/ragstream/internal/identity"
	"github.com/ashureev/ragstream/internal/metrics"
	"github.com/ashureev/ragstream/internal/middleware"
	"github.com/ashureev/ragstream/internal/retrieval"
	"github.com/ashureev/ragstream/internal/store"
	"github.com/ashureev/ragstream/internal/usage"
	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

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
	slog.Info("Database connected", "path", cfg.DBPath)

	m := metrics.New(prometheus.DefaultRegisterer)

	// Knowledge store is optional; without one every retrieval yields no documents.
	var backend retrieval.Backend
	var retrievalPinger api.Pinger
	switch cfg.Retrieval.Backend {
	case config.BackendGRPC:
		slog.Info("Connecting to retrieval service via gRPC", "address", cfg.Retrieval.Addr)
		grpcCfg := retrieval.DefaultGrpcBackendConfig(cfg.Retrieval.Addr)
		grpcCfg.TopK = cfg.Retrieval.TopK
		grpcBackend, err := retrieval.NewGrpcBackend(grpcCfg, logger)
		if err != nil {
			slog.Warn("Failed to connect to retrieval service, knowledge base disabled", "error", err)
			break
		}
		defer grpcBackend.Close()
		backend, retrievalPinger = grpcBackend, grpcBackend
	case config.BackendWeaviate:
		wvBackend, err := retrieval.NewWeaviateBackend(cfg.Retrieval.WeaviateURL, cfg.Retrieval.WeaviateClass, cfg.Retrieval.TopK)
		if err != nil {
			slog.Warn("Failed to initialize weaviate backend, knowledge base disabled", "error", err)
			break
		}
		backend, retrievalPinger = wvBackend, wvBackend
	default:
		slog.Info("Knowledge base disabled (RETRIEVAL_BACKEND not set)")
	}

	// Initialize services.
	sessions := gateway.NewSessionManager()
	verifier := identity.NewJWTVerifier(cfg.SessionSecret)
	augmenter := retrieval.NewAugmenter(backend, retrieval.AugmenterConfig{
		Workers: cfg.Retrieval.Workers,
		Timeout: cfg.Retrieval.Timeout,
	}, m, logger)
	provider := completion.NewOpenAIProvider(cfg.LLM.APIKey, cfg.LLM.BaseURL, logger)
	relay := completion.NewRelay(provider, logger)
	recorder := usage.NewRecorder(repo, m, cfg.Session.LogWriteTimeout, logger)

	// Initialize handlers.
	apiHandler := api.NewHandler(repo, sessions, cfg.Models)
	healthHandler := api.NewHealthHandler(repo, retrievalPinger)
	wsHandler := gateway.NewHandler(gateway.Deps{
		Verifier:  verifier,
		Retriever: augmenter,
		Relay:     relay,
		Recorder:  recorder,
		Sessions:  sessions,
		Metrics:   m,
		Logger:    logger,
	}, gateway.Options{
		Preamble:       cfg.SystemPrompt,
		ReadLimit:      cfg.Session.ReadLimit,
		WriteTimeout:   cfg.Session.WriteTimeout,
		OriginPatterns: originPatterns(cfg),
	})

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins()))

	// Public routes.
	healthHandler.RegisterHealth(r)
	r.Handle("/metrics", promhttp.Handler())

	// WebSocket endpoint. The token travels in the query string.
	r.Get("/stream_query", wsHandler.ServeHTTP)

	// Bearer-authenticated routes.
	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(verifier))
		apiHandler.RegisterRoutes(r)
	})

	// Create server.
	// Streaming sessions are long-lived, so there is no WriteTimeout.
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

	// Shutdown stops new upgrades but does not track hijacked websocket
	// connections, so live sessions are closed and drained separately
	// before the deferred repository close.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	closed := sessions.CloseAll(websocket.StatusGoingAway, "server shutting down")
	slog.Info("Closed active sessions", "count", closed)
	if err := sessions.Wait(shutdownCtx); err != nil {
		slog.Error("Sessions did not finalize before shutdown deadline", "error", err)
		return
	}

	slog.Info("Server stopped successfully")
}

func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo
	}
	return level
}

// originPatterns maps the frontend URL to the host patterns accepted for
// cross-origin websocket upgrades.
func originPatterns(cfg *config.Config) []string {
	if cfg.IsDevelopment() {
		return []string{"*"}
	}
	u, err := url.Parse(cfg.FrontendURL)
	if err != nil || u.Host == "" {
		slog.Warn("Could not parse FRONTEND_URL, only same-origin upgrades allowed", "frontend_url", cfg.FrontendURL)
		return []string{}
	}
	return []string{u.Host}
}
