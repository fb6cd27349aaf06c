// HeatLink - Multi-Source News Aggregation Engine
// Copyright 2026 losesky
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/losesky/heatlink

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/losesky/heatlink/internal/aggregator"
	"github.com/losesky/heatlink/internal/cache"
	"github.com/losesky/heatlink/internal/config"
	"github.com/losesky/heatlink/internal/logging"
	"github.com/losesky/heatlink/internal/models"
	"github.com/losesky/heatlink/internal/scheduler"
	"github.com/losesky/heatlink/internal/sources"
	"github.com/losesky/heatlink/internal/stats"
)

// Handler holds the dependencies every endpoint draws on. Handler
// methods are split across files:
//   - handlers.go: struct, constructor, source and refresh endpoints
//   - handlers_news.go: news, search, hot, unified endpoints
//   - handlers_system.go: stats, cache, health endpoints
type Handler struct {
	registry   *sources.Registry
	scheduler  *scheduler.Scheduler
	aggregator *aggregator.Aggregator
	cache      *cache.Manager
	stats      *stats.Collector
	config     *config.Config
	startTime  time.Time
}

// NewHandler wires the API surface over the engine components.
func NewHandler(registry *sources.Registry, sched *scheduler.Scheduler, agg *aggregator.Aggregator, cacheMgr *cache.Manager, collector *stats.Collector, cfg *config.Config) *Handler {
	return &Handler{
		registry:   registry,
		scheduler:  sched,
		aggregator: agg,
		cache:      cacheMgr,
		stats:      collector,
		config:     cfg,
		startTime:  time.Now(),
	}
}

// degraded reports whether any backing tier is running in fallback mode.
func (h *Handler) degraded() bool {
	return h.registry.Fallback() || h.cache.Degraded()
}

// refreshTimeout bounds detached background refreshes.
func (h *Handler) refreshTimeout() time.Duration {
	if d := h.config.Scheduler.FetchTimeoutCeiling; d > 0 {
		return d
	}
	return 30 * time.Second
}

// ListSources handles GET /api/sources. Category, country, and
// language filters compose; all default to no filtering.
func (h *Handler) ListSources(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	category := q.Get("category")
	country := q.Get("country")
	language := q.Get("language")

	var out []models.Source
	for _, src := range h.registry.All() {
		if category != "" && src.Category != category {
			continue
		}
		if country != "" && src.Country != country {
			continue
		}
		if language != "" && src.Language != language {
			continue
		}
		out = append(out, src)
	}
	if out == nil {
		out = []models.Source{}
	}
	h.respondJSON(w, http.StatusOK, out, len(out))
}

// GetSource handles GET /api/sources/{id}.
func (h *Handler) GetSource(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	src, _, err := h.registry.Get(id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, src, 1)
}

// sourceNews reads the cached items for a source, fetching on demand
// when forced or when nothing is cached. On-demand fetches are billed
// to the external stats lane.
func (h *Handler) sourceNews(ctx context.Context, id string, force bool) ([]models.NewsItem, error) {
	if _, _, err := h.registry.Get(id); err != nil {
		return nil, err
	}

	var items []models.NewsItem
	if !force && h.cache.Get(ctx, cache.SourceKey(id), &items) {
		return items, nil
	}

	if err := h.scheduler.FetchSource(ctx, id, force, models.APITypeExternal); err != nil {
		// A failed forced refresh can still serve stale data.
		var cached []models.NewsItem
		if h.cache.Get(ctx, cache.SourceKey(id), &cached) {
			return cached, nil
		}
		return nil, err
	}
	var fetched []models.NewsItem
	h.cache.Get(ctx, cache.SourceKey(id), &fetched)
	if fetched == nil {
		fetched = []models.NewsItem{}
	}
	return fetched, nil
}

// GetSourceNews handles GET /api/sources/{id}/news.
func (h *Handler) GetSourceNews(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	items, err := h.sourceNews(r.Context(), id, getBoolParam(r, "force"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]any{
		"source_id": id,
		"items":     items,
	}, len(items))
}

// RefreshAll handles POST /api/refresh. Fetches run detached from the
// request so the 202 returns immediately.
func (h *Handler) RefreshAll(w http.ResponseWriter, r *http.Request) {
	active := h.registry.Active()
	for _, src := range active {
		go func(id string) {
			ctx, cancel := context.WithTimeout(context.Background(), h.refreshTimeout())
			defer cancel()
			if err := h.scheduler.FetchSource(ctx, id, true, models.APITypeExternal); err != nil {
				logging.Debug().Str("source", id).Err(err).Msg("background refresh failed")
			}
		}(src.SourceID)
	}
	h.respondJSON(w, http.StatusAccepted, map[string]any{
		"triggered": len(active),
	}, len(active))
}

// RefreshSource handles POST /api/sources/{id}/refresh.
func (h *Handler) RefreshSource(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, _, err := h.registry.Get(id); err != nil {
		h.respondError(w, err)
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), h.refreshTimeout())
		defer cancel()
		if err := h.scheduler.FetchSource(ctx, id, true, models.APITypeExternal); err != nil {
			logging.Debug().Str("source", id).Err(err).Msg("background refresh failed")
		}
	}()
	h.respondJSON(w, http.StatusAccepted, map[string]any{
		"source_id": id,
		"triggered": true,
	}, 1)
}
