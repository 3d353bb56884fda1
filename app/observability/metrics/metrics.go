package metrics

import (
	"log"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// AppMetrics holds the application's metric instruments.
type AppMetrics struct {
	LoginRequestsTotal       metric.Int64Counter
	RegisterRequestsTotal    metric.Int64Counter
	PasswordResetsTotal      metric.Int64Counter
	GatewayRequestsTotal     metric.Int64Counter
	GatewayRejectionsTotal   metric.Int64Counter
	UpstreamDurationSeconds  metric.Float64Histogram
	RegistryEndpointsEvicted metric.Int64Counter
}

var (
	appMetrics *AppMetrics
	once       sync.Once
)

// InitAppMetrics initializes the global metrics instruments ONLY ONCE.
// It gets the Meter from the globally configured MeterProvider.
func InitAppMetrics() {
	once.Do(func() {
		meter := otel.GetMeterProvider().Meter("KitchenGuard")
		var err error
		m := &AppMetrics{}

		m.LoginRequestsTotal, err = meter.Int64Counter(
			"login_requests_total",
			metric.WithDescription("Total number of login requests completed"),
			metric.WithUnit("{request}"),
		)
		if err != nil {
			log.Fatalf("Metrics: Failed to create login_requests_total: %v", err)
		}

		m.RegisterRequestsTotal, err = meter.Int64Counter(
			"register_requests_total",
			metric.WithDescription("Total number of register requests completed"),
			metric.WithUnit("{request}"),
		)
		if err != nil {
			log.Fatalf("Metrics: Failed to create register_requests_total: %v", err)
		}

		m.PasswordResetsTotal, err = meter.Int64Counter(
			"password_resets_total",
			metric.WithDescription("Total number of password reset tokens consumed"),
			metric.WithUnit("{reset}"),
		)
		if err != nil {
			log.Fatalf("Metrics: Failed to create password_resets_total: %v", err)
		}

		m.GatewayRequestsTotal, err = meter.Int64Counter(
			"gateway_requests_total",
			metric.WithDescription("Total number of requests handled by the gateway"),
			metric.WithUnit("{request}"),
		)
		if err != nil {
			log.Fatalf("Metrics: Failed to create gateway_requests_total: %v", err)
		}

		m.GatewayRejectionsTotal, err = meter.Int64Counter(
			"gateway_rejections_total",
			metric.WithDescription("Total number of requests rejected before forwarding"),
			metric.WithUnit("{request}"),
		)
		if err != nil {
			log.Fatalf("Metrics: Failed to create gateway_rejections_total: %v", err)
		}

		m.UpstreamDurationSeconds, err = meter.Float64Histogram(
			"upstream_duration_seconds",
			metric.WithDescription("Duration of forwarded upstream calls in seconds"),
			metric.WithUnit("s"),
		)
		if err != nil {
			log.Fatalf("Metrics: Failed to create upstream_duration_seconds: %v", err)
		}

		m.RegistryEndpointsEvicted, err = meter.Int64Counter(
			"registry_endpoints_evicted_total",
			metric.WithDescription("Total number of endpoints deregistered after failed health checks"),
			metric.WithUnit("{endpoint}"),
		)
		if err != nil {
			log.Fatalf("Metrics: Failed to create registry_endpoints_evicted_total: %v", err)
		}

		appMetrics = m
	})
}

// Get returns the globally initialized AppMetrics instance.
// Panics if InitAppMetrics was not called first.
func Get() *AppMetrics {
	if appMetrics == nil {
		panic("metrics instruments not initialized. Call metrics.InitAppMetrics() first.")
	}
	return appMetrics
}
