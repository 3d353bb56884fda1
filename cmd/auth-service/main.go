package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"

	database "github.com/kitchenguard/kitchenguard/app/db"
	appLogger "github.com/kitchenguard/kitchenguard/app/logger"
	"github.com/kitchenguard/kitchenguard/app/observability/metrics"
	"github.com/kitchenguard/kitchenguard/app/tracer"
	"github.com/kitchenguard/kitchenguard/config"
	"github.com/kitchenguard/kitchenguard/internal/api/auth"
	"github.com/kitchenguard/kitchenguard/internal/api/gateway"
	"github.com/kitchenguard/kitchenguard/internal/api/notify"
	"github.com/kitchenguard/kitchenguard/internal/api/token"
	"github.com/kitchenguard/kitchenguard/internal/router"
)

const serviceName = "auth-service"

func main() {
	// Use standard log until slog is configured, in case godotenv fails
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found or error loading:", err)
	}

	cfg, err := config.InitConfig()
	if err != nil {
		log.Fatalf("FATAL: Error initializing config: %v", err)
	}

	logger := appLogger.Setup(cfg.Mode)
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	metricsHandler, err := tracer.InitTracingAndMetrics(serviceName)
	if err != nil {
		logger.Error("Failed to initialize tracing and metrics", slog.Any("error", err))
		os.Exit(1)
	}
	metrics.InitAppMetrics()

	// --- Database Setup ---
	dbConfig, err := database.NewDatabaseConfig(&cfg, logger)
	if err != nil {
		logger.Error("Failed to generate database config", slog.Any("error", err))
		os.Exit(1)
	}

	// Migrations run before the main pool opens
	if err := database.RunMigrations(dbConfig.ConnectionURL, logger); err != nil {
		logger.Error("Failed to run database migrations", slog.Any("error", err))
		os.Exit(1)
	}

	pool, err := database.Init(dbConfig.ConnectionURL, logger)
	if err != nil {
		logger.Error("Failed to initialize database pool", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	if !database.WaitForDB(ctx, pool, logger) {
		logger.Error("Database not ready after waiting, exiting.")
		os.Exit(1)
	}

	// --- Dependency Injection ---
	issuer, err := token.NewIssuer(cfg.JWT)
	if err != nil {
		logger.Error("Failed to create token issuer", slog.Any("error", err))
		os.Exit(1)
	}

	authRepo := auth.NewPostgresAuthRepo(pool, logger)
	notifier := notify.NewLogNotifier(logger)
	authService := auth.NewAuthService(authRepo, issuer, notifier, logger)
	authHandler := auth.NewAuthHandler(authService, issuer, logger)

	routerConfig := &router.Config{
		AuthHandler:            authHandler,
		AuthenticateMiddleware: auth.Authenticate(logger, issuer),
		MetricsHandler:         metricsHandler,
	}
	mainRouter := router.SetupRouter(routerConfig)

	r := chi.NewMux()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(appLogger.StructuredLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.StripSlashes)
	r.Use(middleware.Timeout(cfg.Server.Timeout))
	r.Use(middleware.Compress(5, "application/json"))
	r.Mount("/", mainRouter)

	serverAddress := fmt.Sprintf(":%s", cfg.Server.AuthPort)
	srv := &http.Server{
		Addr:         serverAddress,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
		ErrorLog:     slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}

	go func() {
		logger.Info("Starting HTTP server",
			slog.String("service", serviceName), slog.String("address", serverAddress))
		err := srv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server ListenAndServe error", slog.Any("error", err))
			cancel()
		}
	}()

	// Best effort; the gateway health checker picks the instance up on the
	// next sweep if this misses.
	go registerWithGateway(ctx, &cfg, logger)

	<-ctx.Done()

	logger.Info("Shutdown signal received, starting graceful shutdown...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server graceful shutdown failed", slog.Any("error", err))
	} else {
		logger.Info("HTTP server gracefully stopped")
	}

	logger.Info("Application shut down complete.")
}

// registerWithGateway announces this instance to the gateway registry.
func registerWithGateway(ctx context.Context, cfg *config.Config, logger *slog.Logger) {
	if cfg.Gateway.URL == "" {
		logger.Warn("No gateway URL configured, skipping self-registration")
		return
	}

	payload, err := json.Marshal(gateway.RegisterServiceRequest{
		Name: serviceName,
		URL:  fmt.Sprintf("http://localhost:%s", cfg.Server.AuthPort),
	})
	if err != nil {
		logger.Error("Failed to marshal registration payload", slog.Any("error", err))
		return
	}

	reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost,
		cfg.Gateway.URL+"/register", bytes.NewReader(payload))
	if err != nil {
		logger.Error("Failed to build registration request", slog.Any("error", err))
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		logger.Warn("Failed to register with API gateway", slog.Any("error", err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		logger.Warn("Gateway rejected self-registration", slog.Int("status", resp.StatusCode))
		return
	}
	logger.Info("Registered with API gateway", slog.String("gateway", cfg.Gateway.URL))
}
