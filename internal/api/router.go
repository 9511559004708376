package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/bcnelson/traefik-route-manager/internal/api/handler"
	"github.com/bcnelson/traefik-route-manager/internal/api/middleware"
	"github.com/bcnelson/traefik-route-manager/internal/storage"
)

// NewRouter creates a new HTTP router with all routes configured.
func NewRouter(store storage.Storage, reconciler handler.Reconciler, bootstrapKey string) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(middleware.Logging)

	// Health check (no auth required)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	// API routes (auth required, JSON Content-Type)
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.ContentType)
		r.Use(middleware.Auth(store, bootstrapKey))

		// API Keys
		keyHandler := handler.NewAPIKeyHandler(store)
		r.Post("/keys", keyHandler.Create)
		r.Get("/keys", keyHandler.List)
		r.Delete("/keys/{id}", keyHandler.Delete)

		// Domains
		domainHandler := handler.NewDomainHandler(store, reconciler)
		r.Post("/domains", domainHandler.Create)
		r.Get("/domains", domainHandler.List)

		r.Route("/domains/{domain_id}", func(r chi.Router) {
			r.Get("/", domainHandler.Get)
			r.Put("/", domainHandler.Update)
			r.Delete("/", domainHandler.Delete)

			// Proxy rules
			ruleHandler := handler.NewProxyRuleHandler(store, reconciler)
			r.Post("/rules", ruleHandler.Create)
			r.Get("/rules", ruleHandler.List)
			r.Get("/rules/{id}", ruleHandler.Get)
			r.Put("/rules/{id}", ruleHandler.Update)
			r.Delete("/rules/{id}", ruleHandler.Delete)
			r.Post("/rules/{id}/lock", ruleHandler.Lock)
			r.Post("/rules/{id}/unlock", ruleHandler.Unlock)

			// Redirect rules
			redirectHandler := handler.NewRedirectRuleHandler(store, reconciler)
			r.Post("/redirects", redirectHandler.Create)
			r.Get("/redirects", redirectHandler.List)
			r.Get("/redirects/{id}", redirectHandler.Get)
			r.Put("/redirects/{id}", redirectHandler.Update)
			r.Delete("/redirects/{id}", redirectHandler.Delete)
		})

		// Upstreams
		upstreamHandler := handler.NewUpstreamHandler(store, reconciler)
		r.Post("/upstreams", upstreamHandler.Create)
		r.Get("/upstreams", upstreamHandler.List)
		r.Get("/upstreams/{id}", upstreamHandler.Get)
		r.Put("/upstreams/{id}", upstreamHandler.Update)
		r.Delete("/upstreams/{id}", upstreamHandler.Delete)

		// Generated configuration
		configHandler := handler.NewConfigHandler(reconciler)
		r.Get("/config/preview", configHandler.Preview)
		r.Post("/config/apply", configHandler.Apply)
		r.Get("/config/generations", configHandler.ListGenerations)
		r.Get("/config/status", configHandler.Status)
	})

	return r
}
