package gateway

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// buildRouter constructs the chi mux with all routes wired.
func (g *Gateway) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Public — no auth required.
	r.Get("/health", g.handleHealth())

	if reg := g.metricsRegistry(); reg != nil {
		r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}

	r.Route("/api", func(r chi.Router) {
		if g.limiter != nil {
			r.Use(rateLimitMiddleware(g.limiter))
		}
		if g.config.Auth.IsConfigured() {
			r.Use(authMiddleware(g.config.Auth))
		}

		r.Post("/messages", g.handleIngestMessage())

		r.Route("/users/{userID}", func(r chi.Router) {
			r.Get("/context", g.handleContext())
			r.Get("/memories", g.handleListMemories())
			r.Delete("/memories/{memoryID}", g.handleDeleteMemory())
			r.Get("/stats", g.handleStats())
			r.Put("/preferences", g.handleSetPreferences())
		})

		r.Route("/admin", func(r chi.Router) {
			r.Post("/consolidate", g.handleConsolidate())
			r.Post("/cleanup", g.handleCleanup())
			r.Post("/history", g.handleHistoryBackfill())
		})
	})

	return r
}

// metricsRegistry resolves the Prometheus registry published by the engine
// module, if any.
func (g *Gateway) metricsRegistry() *prometheus.Registry {
	svc, ok := g.appCtx.Service("metrics.registry")
	if !ok {
		return nil
	}
	reg, ok := svc.(*prometheus.Registry)
	if !ok {
		return nil
	}
	return reg
}
