// Verdant - Offline Plant Analysis Cache and Model Manager
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/verdant

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterConfig configures the HTTP surface.
type RouterConfig struct {
	CORSOrigins     []string
	RateLimitReqs   int
	RateLimitWindow time.Duration
	// MaxBodyBytes bounds request bodies. Zero means 10 MiB.
	MaxBodyBytes int64
}

// NewRouter builds the chi route tree.
func NewRouter(h *Handler, cfg RouterConfig) http.Handler {
	mwCfg := DefaultChiMiddlewareConfig()
	mwCfg.CORSAllowedOrigins = cfg.CORSOrigins
	if cfg.RateLimitReqs > 0 {
		mwCfg.RateLimitRequests = cfg.RateLimitReqs
	} else {
		mwCfg.RateLimitDisabled = true
	}
	if cfg.RateLimitWindow > 0 {
		mwCfg.RateLimitWindow = cfg.RateLimitWindow
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 10 << 20
	}
	mw := NewChiMiddleware(mwCfg)

	r := chi.NewRouter()
	r.Use(RequestIDWithLogging())
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(mw.CORS())
	r.Use(RequestLogger)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		NewResponseWriter(w, r).NotFound("Route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		NewResponseWriter(w, r).Error(http.StatusMethodNotAllowed, ErrCodeMethodNotAllowed, "Method not allowed")
	})

	r.Route("/api/v1/health", func(r chi.Router) {
		r.Use(mw.RateLimitCustom(RateLimitHealth))
		r.Use(APISecurityHeaders())
		r.Get("/live", h.HealthLive)
		r.Get("/ready", h.HealthReady)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(mw.RateLimit())
		r.Use(APISecurityHeaders())
		r.Use(PrometheusMetrics)
		r.Use(chimiddleware.RequestSize(cfg.MaxBodyBytes))

		r.Post("/analyses", h.Analyze)

		r.Route("/cache", func(r chi.Router) {
			r.Get("/stats", h.CacheStats)
			r.With(mw.RateLimitCustom(RateLimitMaintenance)).Delete("/", h.ClearCache)
			r.With(mw.RateLimitCustom(RateLimitMaintenance)).Post("/purge", h.PurgeCache)
		})

		r.Route("/models", func(r chi.Router) {
			r.Get("/", h.Models)
			r.Get("/{id}", h.Model)
			r.Post("/{id}/download", h.DownloadModel)
			r.With(mw.RateLimitCustom(RateLimitMaintenance)).Delete("/{id}", h.EvictModel)
		})

		r.Get("/suggestions", h.Suggestions)

		r.Get("/connectivity", h.Connectivity)
		r.Post("/connectivity", h.ReportConnectivity)
	})

	r.Handle("/metrics", promhttp.Handler())
	return r
}
