// Crawl - Dungeon Session Server
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

	"github.com/ashureev/crawl/internal/api"
	"github.com/ashureev/crawl/internal/catalog"
	"github.com/ashureev/crawl/internal/clock"
	"github.com/ashureev/crawl/internal/config"
	"github.com/ashureev/crawl/internal/dungeon"
	"github.com/ashureev/crawl/internal/identity"
	"github.com/ashureev/crawl/internal/middleware"
	"github.com/ashureev/crawl/internal/narrator"
	"github.com/ashureev/crawl/internal/play"
	"github.com/ashureev/crawl/internal/random"
	"github.com/ashureev/crawl/internal/realtime"
	"github.com/ashureev/crawl/internal/shared"
	"github.com/ashureev/crawl/internal/store"
	"github.com/ashureev/crawl/internal/sweeper"
	"github.com/ashureev/crawl/internal/telemetry"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
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

	level, _ := cfg.SlogLevel()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "narrator", cfg.Narrator.Provider)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Options{
		ServiceName: "crawl",
		Endpoint:    cfg.OTel.Endpoint,
		Enabled:     cfg.OTel.Enabled,
	})
	if err != nil {
		slog.Error("Failed to initialize tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			slog.Warn("Failed to flush traces", "error", err)
		}
	}()

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

	version, dirty, err := repo.SchemaVersion()
	if err != nil {
		slog.Error("Failed to read schema version", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected", "schema_version", version, "dirty", dirty)

	cat, err := catalog.Default()
	if err != nil {
		slog.Error("Failed to load catalog", "error", err)
		os.Exit(1)
	}

	rnd, err := random.NewSeeded()
	if err != nil {
		slog.Error("Failed to seed random source", "error", err)
		os.Exit(1)
	}

	strategy, closeStrategy, err := newStrategy(cfg, logger)
	if err != nil {
		// The engine must keep running without a narrator; fall back to built-in encounters.
		slog.Warn("Narrator unavailable, using built-in encounters", "provider", cfg.Narrator.Provider, "error", err)
		strategy, closeStrategy = narrator.Static{}, func() {}
	}
	defer closeStrategy()
	encounters := narrator.NewGenerator(strategy, cfg.Narrator.Timeout, logger)

	engine := dungeon.NewEngine(repo, cat, encounters, clock.Real{}, rnd, dungeon.Config{
		ItemInterval:     cfg.Dungeon.ItemInterval,
		EscapadeInterval: cfg.Dungeon.EscapadeInterval,
		EncounterAfter:   cfg.Dungeon.EncounterAfter,
		StoreTimeout:     cfg.Timeout.DB,
	}, logger)

	svc := play.NewService(engine, shared.RetryPolicy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   cfg.Retry.BaseDelay,
	}, logger)

	hub := realtime.NewHub(cat, logger)

	// Initialize handlers.
	dungeonHandler := api.NewDungeonHandler(svc, repo, cat)
	healthHandler := api.NewHealthHandler(repo, cfg.Timeout.HealthCheck)
	wsHandler := realtime.NewWebSocketHandler(svc, hub, cfg.FrontendURL, cfg.IsDevelopment())

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS(middleware.CORSOptions{
		AllowedOrigins: allowedOrigins(cfg),
		AllowedHeaders: []string{identity.SessionHeaderName},
	}))

	// Public routes.
	healthHandler.RegisterHealth(r)

	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(repo, cfg.IsDevelopment()))
		dungeonHandler.RegisterRoutes(r)
		r.Get("/ws/dungeon", wsHandler.ServeHTTP)
	})

	// Create server.
	// WebSocket connections are long-lived, so no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	// Start the sweeper.
	worker := sweeper.NewWorker(repo, engine, sweeper.Config{
		Interval:    cfg.Sweep.Interval,
		Concurrency: cfg.Sweep.Concurrency,
	}, hub.OnAdvance, logger)
	worker.Start(ctx)

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

// newStrategy builds the configured encounter generation strategy. The
// returned close function releases its connection, if any.
func newStrategy(cfg *config.Config, logger *slog.Logger) (narrator.Strategy, func(), error) {
	switch cfg.Narrator.Provider {
	case config.NarratorAzure:
		s, err := narrator.NewAzureOpenAI(cfg.Narrator.AzureEndpoint, cfg.Narrator.AzureAPIKey, cfg.Narrator.AzureDeployment)
		if err != nil {
			return nil, nil, err
		}
		return s, func() {}, nil
	case config.NarratorGRPC:
		s, err := narrator.NewGRPCNarrator(narrator.DefaultGRPCConfig(cfg.Narrator.GRPCAddr), logger)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		return narrator.Static{}, func() {}, nil
	}
}

func allowedOrigins(cfg *config.Config) []string {
	if cfg.IsDevelopment() || cfg.FrontendURL == "" {
		return []string{"*"}
	}
	return []string{cfg.FrontendURL}
}
