// Package main is the entry point for the API server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/dbchat-ai/relay-platform/internal/completion"
	"github.com/dbchat-ai/relay-platform/internal/config"
	"github.com/dbchat-ai/relay-platform/internal/handler"
	"github.com/dbchat-ai/relay-platform/internal/middleware"
	natsclient "github.com/dbchat-ai/relay-platform/internal/nats"
	"github.com/dbchat-ai/relay-platform/internal/relay"
	"github.com/dbchat-ai/relay-platform/internal/store"
	"github.com/dbchat-ai/relay-platform/internal/title"
	"github.com/dbchat-ai/relay-platform/pkg/logger"
	"github.com/dbchat-ai/relay-platform/pkg/tracing"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	log.Info("starting API server")

	// Initialize tracing if enabled
	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "relay-platform", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	// Connect to NATS for the turn-audit stream
	natsConn, err := natsclient.Connect(ctx, natsclient.Config{
		URL:      cfg.NATSURL,
		CAFile:   cfg.NATSCAFile,
		CertFile: cfg.NATSCertFile,
		KeyFile:  cfg.NATSKeyFile,
		Token:    cfg.NATSToken,
	}, log)
	if err != nil {
		log.Error("failed to connect to NATS", zap.Error(err))
		os.Exit(1)
	}
	defer natsConn.Close()

	audit := natsclient.NewTurnAudit(natsConn)
	if err := audit.EnsureStream(ctx); err != nil {
		log.Error("failed to ensure audit stream", zap.Error(err))
		os.Exit(1)
	}

	// Conversation store. The in-memory store stands in for the externally
	// owned document store.
	st := store.NewMemoryStore()

	// Title generation provider (optional)
	titleClient, err := title.NewClient(title.Provider(cfg.TitleProvider), titleAPIKey(cfg))
	if err != nil {
		log.Warn("failed to create title provider, using fallback titles", zap.Error(err))
	}
	titles := title.NewGenerator(titleClient, log)

	// Relay core
	completionClient := completion.NewClient(
		cfg.CompletionURL,
		cfg.CompletionTimeout,
		completion.PayloadFormat(cfg.CompletionPayloadFormat),
		log,
	)
	finalizer := relay.NewFinalizer(st, titles, audit, log)
	orchestrator := relay.NewOrchestrator(st, completionClient, finalizer, audit, log)

	// Initialize handlers
	healthHandler := handler.NewHealthHandler(natsConn)
	chatHandler := handler.NewChatHandler(st, log)
	turnHandler := handler.NewTurnHandler(chatHandler, orchestrator, log)

	// Create router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Requested-With"},
		ExposedHeaders:   []string{"Link", "X-Correlation-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health endpoints (no auth required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	// API routes with authentication
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret))
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		r.Route("/chats", func(r chi.Router) {
			r.Post("/", chatHandler.Create)
			r.Get("/", chatHandler.List)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", chatHandler.Get)
				r.Delete("/", chatHandler.Delete)

				r.Get("/messages", chatHandler.ListMessages)
				r.Post("/messages", turnHandler.Send)
			})
		})
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      r,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", zap.Error(err))
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
}

func titleAPIKey(cfg *config.Config) string {
	if title.Provider(cfg.TitleProvider) == title.ProviderOpenAI {
		return cfg.OpenAIAPIKey
	}
	return cfg.AnthropicAPIKey
}
