package router

import (
	"net/http"

	"brickcache-api/internal/handler"
	"brickcache-api/internal/middleware"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config holds the configuration for creating a router.
type Config struct {
	Handler          *handler.Handler
	CatalogHandler   *handler.CatalogHandler
	InventoryHandler *handler.InventoryHandler
	AdminHandler     *handler.AdminHandler
	RunLogHandler    *handler.RunLogHandler
	AuthMiddleware   func(http.Handler) http.Handler
}

// New creates and configures the HTTP router.
func New(cfg Config) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware stack (applies to ALL routes)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logging)
	r.Use(middleware.Recovery)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", "X-API-Key"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	// PUBLIC routes (no auth required)
	if cfg.Handler != nil {
		r.Get("/api/status", cfg.Handler.Status)
		r.Get("/api/v1/health", cfg.Handler.Health)
		r.Get("/api/v1/ready", cfg.Handler.Ready)
	}
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		if cfg.AuthMiddleware != nil {
			r.Use(cfg.AuthMiddleware)
		}

		r.Route("/api/v1", func(r chi.Router) {
			if cfg.CatalogHandler != nil {
				r.Route("/catalog", func(r chi.Router) {
					r.Get("/prices/{id}", cfg.CatalogHandler.GetPrice)
					r.Post("/prices/{id}/resolve", cfg.CatalogHandler.AcquirePrice)
					r.Get("/{kind}/{id}", cfg.CatalogHandler.GetMetadata)
				})
			}

			if cfg.InventoryHandler != nil {
				r.Post("/inventory/enrich", cfg.InventoryHandler.Enrich)
			}

			r.Route("/admin", func(r chi.Router) {
				if cfg.AdminHandler != nil {
					r.Get("/stats", cfg.AdminHandler.GetStats)
					r.Post("/refresh", cfg.AdminHandler.TriggerRefresh)
					r.Post("/prices/expire", cfg.AdminHandler.ExpirePrices)
					r.Post("/cache/invalidate", cfg.AdminHandler.Invalidate)
				}
				if cfg.RunLogHandler != nil {
					r.Get("/refresh/runs", cfg.RunLogHandler.ListRuns)
				}
			})
		})
	})

	return r
}
