// HeatLink - Multi-Source News Aggregation Engine
// Copyright 2026 losesky
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/losesky/heatlink

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter assembles the chi routing tree over the handler.
func NewRouter(h *Handler, mw *Middleware) chi.Router {
	r := chi.NewRouter()

	r.Use(mw.RequestID())
	r.Use(mw.RequestLogger())
	r.Use(mw.Recoverer())
	r.Use(mw.CORS())

	r.Route("/api", func(r chi.Router) {
		r.Use(mw.RateLimit())

		r.Get("/sources", h.ListSources)
		r.Get("/sources/{id}", h.GetSource)
		r.Get("/sources/{id}/news", h.GetSourceNews)
		r.Post("/sources/{id}/refresh", h.RefreshSource)
		r.Post("/refresh", h.RefreshAll)

		r.Get("/news/category/{category}", h.GetCategoryNews)
		r.Get("/news/search", h.SearchNews)
		r.Get("/news/hot", h.HotNews)
		r.Get("/news/unified", h.UnifiedNews)

		r.Get("/stats", h.Stats)

		r.Get("/cache/stats", h.CacheStats)
		r.Get("/cache/keys", h.CacheKeys)
		r.Post("/cache/clear", h.CacheClear)
		r.Get("/cache/source/{id}", h.CacheSourceDetail)
	})

	r.Get("/health", h.Health)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		h.respondErrorCode(w, http.StatusNotFound, "NOT_FOUND", "no such endpoint")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		h.respondErrorCode(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
	})

	return r
}
