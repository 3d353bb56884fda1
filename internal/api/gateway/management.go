package gateway

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/kitchenguard/kitchenguard/app/logger"
	"github.com/kitchenguard/kitchenguard/internal/api"
	"github.com/kitchenguard/kitchenguard/internal/api/registry"
)

// RegisterServiceRequest is a backend instance announcing itself.
type RegisterServiceRequest struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

type registerServiceResponse struct {
	Message  string             `json:"message"`
	Endpoint *registry.Endpoint `json:"endpoint"`
}

type servicesResponse struct {
	Services map[string][]registry.Endpoint `json:"services"`
}

type healthResponse struct {
	Service            string          `json:"service"`
	Status             string          `json:"status"`
	RegisteredServices int             `json:"registered_services"`
	HealthyServices    int             `json:"healthy_services"`
	Services           map[string]bool `json:"services"`
}

// RegisterService lets a backend instance announce itself. It is the one
// unauthenticated POST: instances register before any key exchange exists.
func (g *Gateway) RegisterService(w http.ResponseWriter, r *http.Request) {
	var req RegisterServiceRequest
	if err := api.DecodeJSONBody(w, r, &req); err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}

	ep, err := g.registry.Register(req.Name, req.URL)
	if err != nil {
		api.ErrorResponse(w, r, api.StatusForError(err), "Invalid service data")
		return
	}

	api.WriteJSONResponse(w, r, http.StatusOK, registerServiceResponse{
		Message:  "Service " + req.Name + " registered successfully",
		Endpoint: ep,
	})
}

// ListServices dumps the registry table. API key required.
func (g *Gateway) ListServices(w http.ResponseWriter, r *http.Request) {
	if !g.checkAPIKey(r) {
		g.reject(w, r, http.StatusUnauthorized, "Authentication required", "api_key")
		return
	}
	api.WriteJSONResponse(w, r, http.StatusOK, servicesResponse{Services: g.registry.Snapshot()})
}

// Health reports aggregate gateway health: total and healthy endpoint
// counts plus a per-service rollup.
func (g *Gateway) Health(w http.ResponseWriter, r *http.Request) {
	snapshot := g.registry.Snapshot()

	var total, healthy int
	perService := make(map[string]bool, len(snapshot))
	for name, endpoints := range snapshot {
		serviceHealthy := false
		for _, ep := range endpoints {
			total++
			if ep.Healthy {
				healthy++
				serviceHealthy = true
			}
		}
		perService[name] = serviceHealthy
	}

	api.WriteJSONResponse(w, r, http.StatusOK, healthResponse{
		Service:            "api-gateway",
		Status:             "healthy",
		RegisteredServices: total,
		HealthyServices:    healthy,
		Services:           perService,
	})
}

// Router assembles the gateway's HTTP surface: the management endpoints
// plus a catch-all that feeds the forwarding pipeline.
func (g *Gateway) Router(log *slog.Logger, metricsHandler http.Handler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logger.StructuredLogger(log))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", apiKeyHeader},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Post("/register", g.RegisterService)
	r.Get("/services", g.ListServices)
	r.Get("/health", g.Health)
	if metricsHandler != nil {
		r.Handle("/metrics", metricsHandler)
	}

	r.HandleFunc("/api/*", g.Proxy)

	return r
}
