package gateway

import (
	"context"
	"crypto/subtle"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	appmetrics "github.com/kitchenguard/kitchenguard/app/observability/metrics"
	"github.com/kitchenguard/kitchenguard/config"
	"github.com/kitchenguard/kitchenguard/internal/api"
	"github.com/kitchenguard/kitchenguard/internal/api/ratelimit"
	"github.com/kitchenguard/kitchenguard/internal/api/registry"
	"github.com/kitchenguard/kitchenguard/internal/api/token"
)

const apiKeyHeader = "X-API-Key"

// apiPrefix is stripped from the path before forwarding, so backends see
// their own route shapes.
const apiPrefix = "/api"

// route binds a path prefix to a backend service.
type route struct {
	prefix         string
	service        string
	requireSession bool
}

// The routing table is static: the gateway fronts exactly these surfaces.
var routes = []route{
	{prefix: "/api/inventory", service: "inventory-service", requireSession: true},
	{prefix: "/api/login", service: "auth-service"},
	{prefix: "/api/register", service: "auth-service"},
	{prefix: "/api/reset-password", service: "auth-service"},
	{prefix: "/api/verify-token", service: "auth-service"},
	{prefix: "/api/profile", service: "auth-service", requireSession: true},
}

// hop-by-hop headers per RFC 9110 §7.6.1; never forwarded.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Gateway fronts the backend services: it authenticates, rate-limits,
// resolves an endpoint and forwards. Each request runs the pipeline as
// explicit ordered checks rather than stacked middleware, so the rejection
// order is readable in one place.
type Gateway struct {
	logger   *slog.Logger
	apiKey   []byte
	issuer   *token.Issuer
	limiter  *ratelimit.Limiter
	registry *registry.Registry
	client   *http.Client
	timeout  time.Duration
}

func NewGateway(cfg config.GatewayConfig, issuer *token.Issuer, reg *registry.Registry, limiter *ratelimit.Limiter, logger *slog.Logger) *Gateway {
	timeout := cfg.ForwardTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Gateway{
		logger:   logger,
		apiKey:   []byte(cfg.APIKey),
		issuer:   issuer,
		limiter:  limiter,
		registry: reg,
		client: &http.Client{
			Timeout: timeout,
			// Redirects are relayed to the client, not chased.
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		timeout: timeout,
	}
}

// Proxy runs the forwarding pipeline: API key, session (where required),
// rate budget, route, resolve, forward.
func (g *Gateway) Proxy(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("Gateway").Start(r.Context(), "Proxy")
	defer span.End()
	r = r.WithContext(ctx)

	if !g.checkAPIKey(r) {
		g.reject(w, r, http.StatusUnauthorized, "Authentication required", "api_key")
		return
	}

	if allowed, retryAfter := g.limiter.Allow(clientKey(r)); !allowed {
		w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())+1))
		g.reject(w, r, http.StatusTooManyRequests, "Rate limit exceeded", "rate_limit")
		return
	}

	matched, ok := matchRoute(r.URL.Path)
	if !ok {
		g.reject(w, r, http.StatusNotFound, "Unknown route", "route")
		return
	}

	if matched.requireSession && !g.checkSession(r) {
		g.reject(w, r, http.StatusUnauthorized, "Invalid or expired token", "session")
		return
	}

	base, err := g.registry.Resolve(matched.service)
	if err != nil {
		g.reject(w, r, api.StatusForError(err), "Service "+matched.service+" unavailable", "no_endpoint")
		return
	}

	g.forward(w, r, matched.service, base)
}

// checkAPIKey compares the shared gateway key in constant time.
func (g *Gateway) checkAPIKey(r *http.Request) bool {
	provided := r.Header.Get(apiKeyHeader)
	if provided == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(provided), g.apiKey) == 1
}

func (g *Gateway) checkSession(r *http.Request) bool {
	authHeader := r.Header.Get("Authorization")
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return false
	}
	_, err := g.issuer.Verify(parts[1])
	return err == nil
}

// clientKey picks the rate-limit bucket: the API key when present, the
// caller's IP otherwise.
func clientKey(r *http.Request) string {
	if key := r.Header.Get(apiKeyHeader); key != "" {
		return key
	}
	return realIP(r)
}

func realIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx >= 0 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}
	if rip := r.Header.Get("X-Real-Ip"); rip != "" {
		return rip
	}
	host := r.RemoteAddr
	if idx := strings.LastIndex(host, ":"); idx >= 0 {
		host = host[:idx]
	}
	return host
}

func matchRoute(path string) (route, bool) {
	for _, rt := range routes {
		if path == rt.prefix || strings.HasPrefix(path, rt.prefix+"/") {
			return rt, true
		}
	}
	return route{}, false
}

// forward relays the request to the resolved endpoint and streams the
// response back verbatim. One attempt only; a failed upstream call is the
// caller's signal to retry, not the gateway's.
func (g *Gateway) forward(w http.ResponseWriter, r *http.Request, serviceName, base string) {
	ctx, cancel := context.WithTimeout(r.Context(), g.timeout)
	defer cancel()

	targetURL := base + strings.TrimPrefix(r.URL.Path, apiPrefix)
	if r.URL.RawQuery != "" {
		targetURL += "?" + r.URL.RawQuery
	}

	upstream, err := http.NewRequestWithContext(ctx, r.Method, targetURL, r.Body)
	if err != nil {
		g.logger.ErrorContext(ctx, "Failed to build upstream request",
			slog.String("target", targetURL), slog.Any("error", err))
		g.reject(w, r, http.StatusBadGateway, "Upstream service error", "bad_target")
		return
	}
	upstream.Header = forwardedHeaders(r)
	upstream.Header.Set("X-Forwarded-For", realIP(r))

	start := time.Now()
	resp, err := g.client.Do(upstream)
	elapsed := time.Since(start)

	appmetrics.Get().UpstreamDurationSeconds.Record(r.Context(), elapsed.Seconds(),
		metric.WithAttributes(attribute.String("service", serviceName)))

	if err != nil {
		g.logger.WarnContext(ctx, "Upstream call failed",
			slog.String("service", serviceName),
			slog.String("target", targetURL),
			slog.Duration("elapsed", elapsed),
			slog.Any("error", err))
		g.reject(w, r, http.StatusBadGateway, "Upstream service error", "transport")
		return
	}
	defer resp.Body.Close()

	appmetrics.Get().GatewayRequestsTotal.Add(r.Context(), 1, metric.WithAttributes(
		attribute.String("service", serviceName),
		attribute.Int("status", resp.StatusCode),
	))

	header := w.Header()
	for name, values := range resp.Header {
		if isHopByHop(name) {
			continue
		}
		header[name] = values
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		g.logger.WarnContext(ctx, "Response relay interrupted",
			slog.String("service", serviceName), slog.Any("error", err))
	}

	g.logger.InfoContext(ctx, "Request forwarded",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("service", serviceName),
		slog.Int("status", resp.StatusCode),
		slog.Duration("elapsed", elapsed),
		slog.String("requestID", middleware.GetReqID(r.Context())))
}

func forwardedHeaders(r *http.Request) http.Header {
	out := make(http.Header, len(r.Header))
	for name, values := range r.Header {
		if isHopByHop(name) || strings.EqualFold(name, apiKeyHeader) {
			continue
		}
		out[name] = values
	}
	return out
}

func isHopByHop(name string) bool {
	for _, h := range hopByHopHeaders {
		if strings.EqualFold(name, h) {
			return true
		}
	}
	return false
}

func (g *Gateway) reject(w http.ResponseWriter, r *http.Request, status int, message, reason string) {
	appmetrics.Get().GatewayRejectionsTotal.Add(r.Context(), 1,
		metric.WithAttributes(attribute.String("reason", reason)))
	g.logger.InfoContext(r.Context(), "Request rejected",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.Int("status", status),
		slog.String("reason", reason))
	api.ErrorResponse(w, r, status, message)
}
