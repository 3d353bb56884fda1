package registry

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	appmetrics "github.com/kitchenguard/kitchenguard/app/observability/metrics"
	"github.com/kitchenguard/kitchenguard/internal/api"
)

// Endpoint is one registered instance of a backend service.
type Endpoint struct {
	ServiceName  string    `json:"serviceName"`
	URL          string    `json:"url"`
	RegisteredAt time.Time `json:"registeredAt"`
	LastSeen     time.Time `json:"lastSeen"`
	Healthy      bool      `json:"healthy"`

	failures int
}

// Registry is an in-memory service table with round-robin endpoint
// selection. Endpoints whose heartbeat is older than the freshness window
// are skipped on resolve and evicted lazily.
type Registry struct {
	logger    *slog.Logger
	freshness time.Duration

	mu       sync.RWMutex
	services map[string][]*Endpoint
	rrCursor map[string]int

	// now is swappable so tests can control the freshness clock.
	now func() time.Time
}

func NewRegistry(freshness time.Duration, logger *slog.Logger) *Registry {
	return &Registry{
		logger:    logger,
		freshness: freshness,
		services:  make(map[string][]*Endpoint),
		rrCursor:  make(map[string]int),
		now:       time.Now,
	}
}

// Register adds an endpoint for a service, or refreshes its heartbeat if the
// same URL is already present. Re-registration is how instances stay fresh.
func (r *Registry) Register(serviceName, endpointURL string) (*Endpoint, error) {
	serviceName = strings.TrimSpace(serviceName)
	endpointURL = strings.TrimRight(strings.TrimSpace(endpointURL), "/")
	if serviceName == "" || endpointURL == "" {
		return nil, fmt.Errorf("service name and url are required: %w", api.ErrInvalidInput)
	}
	parsed, err := url.Parse(endpointURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("url must be absolute with scheme and host: %w", api.ErrInvalidInput)
	}

	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, ep := range r.services[serviceName] {
		if ep.URL == endpointURL {
			ep.LastSeen = now
			ep.Healthy = true
			ep.failures = 0
			return ep.snapshot(), nil
		}
	}

	ep := &Endpoint{
		ServiceName:  serviceName,
		URL:          endpointURL,
		RegisteredAt: now,
		LastSeen:     now,
		Healthy:      true,
	}
	r.services[serviceName] = append(r.services[serviceName], ep)
	r.logger.Info("Service endpoint registered",
		slog.String("service", serviceName), slog.String("url", endpointURL))
	return ep.snapshot(), nil
}

// Deregister removes one endpoint. Removing the last endpoint of a service
// drops the service entry entirely.
func (r *Registry) Deregister(serviceName, endpointURL string) bool {
	endpointURL = strings.TrimRight(strings.TrimSpace(endpointURL), "/")

	r.mu.Lock()
	defer r.mu.Unlock()

	eps := r.services[serviceName]
	for i, ep := range eps {
		if ep.URL == endpointURL {
			r.services[serviceName] = append(eps[:i:i], eps[i+1:]...)
			if len(r.services[serviceName]) == 0 {
				delete(r.services, serviceName)
				delete(r.rrCursor, serviceName)
			}
			r.logger.Info("Service endpoint deregistered",
				slog.String("service", serviceName), slog.String("url", endpointURL))
			return true
		}
	}
	return false
}

// Resolve returns the next fresh endpoint URL for a service, rotating
// round-robin across instances. Stale endpoints are evicted on the way.
func (r *Registry) Resolve(serviceName string) (string, error) {
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	eps := r.services[serviceName]
	if len(eps) == 0 {
		return "", fmt.Errorf("service %q: %w", serviceName, api.ErrNoHealthyEndpoint)
	}

	fresh := eps[:0:0]
	for _, ep := range eps {
		if r.stale(ep, now) {
			r.logger.Warn("Evicting stale endpoint",
				slog.String("service", serviceName), slog.String("url", ep.URL),
				slog.Time("lastSeen", ep.LastSeen))
			continue
		}
		fresh = append(fresh, ep)
	}

	if len(fresh) != len(eps) {
		if len(fresh) == 0 {
			delete(r.services, serviceName)
			delete(r.rrCursor, serviceName)
		} else {
			r.services[serviceName] = fresh
		}
	}
	if len(fresh) == 0 {
		return "", fmt.Errorf("service %q: %w", serviceName, api.ErrNoHealthyEndpoint)
	}

	idx := r.rrCursor[serviceName] % len(fresh)
	r.rrCursor[serviceName] = idx + 1
	return fresh[idx].URL, nil
}

// Heartbeat refreshes an endpoint's liveness without re-registering it.
func (r *Registry) Heartbeat(serviceName, endpointURL string) bool {
	endpointURL = strings.TrimRight(strings.TrimSpace(endpointURL), "/")
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, ep := range r.services[serviceName] {
		if ep.URL == endpointURL {
			ep.LastSeen = now
			ep.Healthy = true
			ep.failures = 0
			return true
		}
	}
	return false
}

// Snapshot returns a copy of the current table, sorted for stable output.
func (r *Registry) Snapshot() map[string][]Endpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string][]Endpoint, len(r.services))
	for name, eps := range r.services {
		copies := make([]Endpoint, 0, len(eps))
		for _, ep := range eps {
			copies = append(copies, *ep.snapshot())
		}
		sort.Slice(copies, func(i, j int) bool { return copies[i].URL < copies[j].URL })
		out[name] = copies
	}
	return out
}

// markFailure records one failed probe. Once failures reach threshold the
// endpoint is removed and the eviction counter ticks.
func (r *Registry) markFailure(ctx context.Context, serviceName, endpointURL string, threshold int) {
	r.mu.Lock()

	var evict bool
	for _, ep := range r.services[serviceName] {
		if ep.URL == endpointURL {
			ep.failures++
			ep.Healthy = false
			evict = ep.failures >= threshold
			break
		}
	}
	r.mu.Unlock()

	if evict {
		if r.Deregister(serviceName, endpointURL) {
			appmetrics.Get().RegistryEndpointsEvicted.Add(ctx, 1)
			r.logger.Warn("Endpoint evicted after repeated failed health checks",
				slog.String("service", serviceName), slog.String("url", endpointURL))
		}
	}
}

func (r *Registry) stale(ep *Endpoint, now time.Time) bool {
	return r.freshness > 0 && now.Sub(ep.LastSeen) > r.freshness
}

func (ep *Endpoint) snapshot() *Endpoint {
	cp := *ep
	cp.failures = 0
	return &cp
}
