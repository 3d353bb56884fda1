package registry

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// HealthChecker periodically probes every registered endpoint's /health
// route. A healthy probe counts as a heartbeat; enough consecutive failures
// get the endpoint evicted from the table.
type HealthChecker struct {
	registry  *Registry
	client    *http.Client
	logger    *slog.Logger
	interval  time.Duration
	threshold int
}

func NewHealthChecker(reg *Registry, interval time.Duration, threshold int, logger *slog.Logger) *HealthChecker {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if threshold <= 0 {
		threshold = 3
	}
	return &HealthChecker{
		registry:  reg,
		client:    &http.Client{Timeout: 5 * time.Second},
		logger:    logger,
		interval:  interval,
		threshold: threshold,
	}
}

// Run probes until the context is cancelled. Intended to be launched in an
// errgroup alongside the HTTP server.
func (hc *HealthChecker) Run(ctx context.Context) error {
	ticker := time.NewTicker(hc.interval)
	defer ticker.Stop()

	hc.logger.Info("Health checker started",
		slog.Duration("interval", hc.interval), slog.Int("threshold", hc.threshold))

	for {
		select {
		case <-ctx.Done():
			hc.logger.Info("Health checker stopped")
			return ctx.Err()
		case <-ticker.C:
			hc.sweep(ctx)
		}
	}
}

// sweep probes every endpoint currently in the table. Probes within one
// sweep run sequentially; the table is small.
func (hc *HealthChecker) sweep(ctx context.Context) {
	for serviceName, endpoints := range hc.registry.Snapshot() {
		for _, ep := range endpoints {
			if err := hc.probe(ctx, ep.URL); err != nil {
				hc.logger.Warn("Health probe failed",
					slog.String("service", serviceName),
					slog.String("url", ep.URL),
					slog.Any("error", err))
				hc.registry.markFailure(ctx, serviceName, ep.URL, hc.threshold)
				continue
			}
			hc.registry.Heartbeat(serviceName, ep.URL)
		}
	}
}

func (hc *HealthChecker) probe(ctx context.Context, baseURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := hc.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected health status %d", resp.StatusCode)
	}
	return nil
}
