package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	appLogger "github.com/kitchenguard/kitchenguard/app/logger"
	"github.com/kitchenguard/kitchenguard/app/observability/metrics"
	"github.com/kitchenguard/kitchenguard/app/tracer"
	"github.com/kitchenguard/kitchenguard/config"
	"github.com/kitchenguard/kitchenguard/internal/api/gateway"
	"github.com/kitchenguard/kitchenguard/internal/api/ratelimit"
	"github.com/kitchenguard/kitchenguard/internal/api/registry"
	"github.com/kitchenguard/kitchenguard/internal/api/token"
)

const serviceName = "api-gateway"

func main() {
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

	issuer, err := token.NewIssuer(cfg.JWT)
	if err != nil {
		logger.Error("Failed to create token issuer", slog.Any("error", err))
		os.Exit(1)
	}

	reg := registry.NewRegistry(cfg.Gateway.Registry.Freshness, logger)
	limiter := ratelimit.NewLimiter(cfg.Gateway.RateLimit.Requests, cfg.Gateway.RateLimit.Window)
	gw := gateway.NewGateway(cfg.Gateway, issuer, reg, limiter, logger)
	checker := registry.NewHealthChecker(reg,
		cfg.Gateway.Registry.CheckInterval, cfg.Gateway.Registry.FailureThreshold, logger)

	serverAddress := fmt.Sprintf(":%s", cfg.Server.GatewayPort)
	srv := &http.Server{
		Addr:         serverAddress,
		Handler:      gw.Router(logger, metricsHandler),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: cfg.Gateway.ForwardTimeout + 5*time.Second,
		IdleTimeout:  120 * time.Second,
		ErrorLog:     slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Starting HTTP server",
			slog.String("service", serviceName), slog.String("address", serverAddress))
		err := srv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		err := checker.Run(gCtx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-gCtx.Done()

		logger.Info("Shutdown signal received, starting graceful shutdown...")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("Gateway exited with error", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("Application shut down complete.")
}
