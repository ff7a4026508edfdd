// Okkonator - adaptive preference elicitation server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/okkolab/okkonator/internal/api"
	"github.com/okkolab/okkonator/internal/config"
	"github.com/okkolab/okkonator/internal/domain"
	"github.com/okkolab/okkonator/internal/events"
	"github.com/okkolab/okkonator/internal/gateway"
	"github.com/okkolab/okkonator/internal/health"
	"github.com/okkolab/okkonator/internal/identity"
	"github.com/okkolab/okkonator/internal/middleware"
	"github.com/okkolab/okkonator/internal/quiz"
	"github.com/okkolab/okkonator/internal/session"
	"github.com/okkolab/okkonator/internal/store"
	"github.com/okkolab/okkonator/internal/sweeper"
	"github.com/okkolab/okkonator/internal/swipe"
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

	if err := run(cfg, logger); err != nil {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Server stopped successfully")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		return err
	}
	slog.Info("Database connected", "path", cfg.DBPath)

	gw := gateway.New(gateway.Config{
		QuizBaseURL:  cfg.Gateway.QuizURL,
		SwipeBaseURL: cfg.Gateway.SwipeURL,
		Timeout:      cfg.Gateway.Timeout,
		Logger:       logger,
	})

	sessions := session.NewManager(repo, session.Config{
		QuizBackend:  gw,
		SwipeBackend: gw,
		Quiz: quiz.Config{
			TopK:           cfg.Engine.TopK,
			DeclinePenalty: cfg.Engine.DeclinePenalty,
			Timeout:        cfg.Gateway.Timeout,
		},
		Swipe: swipe.Config{
			Budget:    cfg.Engine.SwipeBudget,
			BatchSize: cfg.Engine.SwipeBatchSize,
			TopK:      cfg.Engine.TopK,
			Timeout:   cfg.Gateway.Timeout,
		},
		Logger: logger,
	})
	dispatcher := session.NewDispatcher()
	hub := events.NewHub()

	// Initialize handlers.
	clientCfg := api.NewClientConfig(cfg.Engine.SwipeBudget, cfg.Engine.SwipeBatchSize, cfg.Engine.TopK, cfg.Engine.DeclinePenalty)
	apiHandler := api.NewHandler(sessions, dispatcher, hub, repo, clientCfg)
	wsHandler := events.NewHandler(hub, sessions, dispatcher, cfg.FrontendURL, cfg.IsDevelopment())

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(middleware.ParseOrigins(cfg.CORSOrigins)))

	r.Handle("/metrics", promhttp.Handler())

	// Everything else carries visitor identity and a per-visitor rate limit.
	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(repo, cfg.IsDevelopment()))
		r.Use(httprate.Limit(
			cfg.RateLimit.Requests,
			cfg.RateLimit.Window,
			httprate.WithKeyFuncs(identity.RateLimitKey),
			httprate.WithLimitHandler(func(w http.ResponseWriter, _ *http.Request) {
				api.JSON(w, http.StatusTooManyRequests, map[string]string{
					"error":   "rate_limited",
					"message": "Слишком много запросов, попробуйте позже",
				})
			}),
		))
		r.Use(api.Instrument)

		apiHandler.RegisterRoutes(r)
		r.Get("/ws/events", wsHandler.ServeHTTP)
	})

	// Create server.
	// WebSocket connections are long lived (no WriteTimeout).
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start session sweeper.
	sweeper.New(repo, sessions, cfg.SessionTTL, sweeper.DefaultInterval, func(key domain.SessionKey) {
		hub.Close(key)
	}).Start(ctx)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if cfg.GRPCHealthPort != "" {
		lis, err := net.Listen("tcp", ":"+cfg.GRPCHealthPort)
		if err != nil {
			return err
		}
		hs := health.NewServer(repo, 0, logger)
		g.Go(func() error {
			return hs.Serve(gctx, lis)
		})
	}

	// Wait for shutdown signal or a server failure.
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
