// HeatLink - Multi-Source News Aggregation Engine
// Copyright 2026 losesky
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/losesky/heatlink

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/losesky/heatlink/internal/cache"
	"github.com/losesky/heatlink/internal/models"
)

// Stats handles GET /api/stats: catalog composition, per-source fetch
// state, pending stats accumulators, and cluster count.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	all := h.registry.All()

	byCategory := map[string]int{}
	byCountry := map[string]int{}
	byLanguage := map[string]int{}
	byStatus := map[string]int{}
	totalNews := 0
	for _, src := range all {
		if src.Category != "" {
			byCategory[src.Category]++
		}
		if src.Country != "" {
			byCountry[src.Country]++
		}
		if src.Language != "" {
			byLanguage[src.Language]++
		}
		byStatus[string(src.Status)]++
		totalNews += src.NewsCount
	}

	h.respondJSON(w, http.StatusOK, map[string]any{
		"sources": map[string]any{
			"total":       len(all),
			"by_category": byCategory,
			"by_country":  byCountry,
			"by_language": byLanguage,
			"by_status":   byStatus,
		},
		"total_news":    totalNews,
		"clusters":      h.aggregator.ClusterCount(),
		"schedule":      h.scheduler.Status(),
		"pending_stats": h.stats.Snapshot(),
		"uptime":        time.Since(h.startTime).Round(time.Second).String(),
		"fallback_mode": h.registry.Fallback(),
	}, len(all))
}

// CacheStats handles GET /api/cache/stats.
func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, h.cache.Stats(r.Context()), 0)
}

// CacheKeys handles GET /api/cache/keys. The pattern parameter is a
// glob ("source:*", "http:??*") or a bare prefix; empty lists
// everything.
func (h *Handler) CacheKeys(w http.ResponseWriter, r *http.Request) {
	pattern := r.URL.Query().Get("pattern")
	keys := h.cache.Keys(r.Context(), pattern)
	h.respondJSON(w, http.StatusOK, map[string]any{
		"pattern": pattern,
		"keys":    keys,
	}, len(keys))
}

// CacheClear handles POST /api/cache/clear. Without a pattern every
// entry goes; a glob or prefix such as "source:*" scopes the purge to
// one family.
func (h *Handler) CacheClear(w http.ResponseWriter, r *http.Request) {
	pattern := r.URL.Query().Get("pattern")
	removed := h.cache.Clear(r.Context(), pattern)
	h.respondJSON(w, http.StatusOK, map[string]any{
		"pattern": pattern,
		"removed": removed,
	}, removed)
}

// CacheSourceDetail handles GET /api/cache/source/{id}: the cached
// items for one source plus how long they remain valid.
func (h *Handler) CacheSourceDetail(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, _, err := h.registry.Get(id); err != nil {
		h.respondError(w, err)
		return
	}

	key := cache.SourceKey(id)
	var items []models.NewsItem
	cached := h.cache.Get(r.Context(), key, &items)
	if items == nil {
		items = []models.NewsItem{}
	}

	payload := map[string]any{
		"source_id": id,
		"key":       key,
		"cached":    cached,
		"items":     items,
	}
	if ttl, ok := h.cache.TTL(r.Context(), key); ok {
		payload["ttl"] = ttl.Round(time.Second).String()
	}
	h.respondJSON(w, http.StatusOK, payload, len(items))
}

// Health handles GET /health. Always 200; degraded tiers are reported
// in the body, not the status code, so orchestrators keep routing to
// an engine that still serves cached data.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"uptime":         time.Since(h.startTime).Round(time.Second).String(),
		"fallback_mode":  h.registry.Fallback(),
		"cache_degraded": h.cache.Degraded(),
	}, 0)
}
