// HeatLink - Multi-Source News Aggregation Engine
// Copyright 2026 losesky
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/losesky/heatlink

package api

import (
	"net/http"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"github.com/losesky/heatlink/internal/aggregator"
	"github.com/losesky/heatlink/internal/cache"
	"github.com/losesky/heatlink/internal/models"
)

// GetCategoryNews handles GET /api/news/category/{category}. The
// response maps source_id to that source's items; sources whose fetch
// fails are reported in an errors map instead of failing the request.
func (h *Handler) GetCategoryNews(w http.ResponseWriter, r *http.Request) {
	category := chi.URLParam(r, "category")
	force := getBoolParam(r, "force")

	srcs := h.registry.ByCategory(category)
	if len(srcs) == 0 {
		h.respondJSON(w, http.StatusOK, map[string]any{
			"category": category,
			"sources":  map[string][]models.NewsItem{},
		}, 0)
		return
	}

	type result struct {
		id    string
		items []models.NewsItem
		err   error
	}
	results := make([]result, len(srcs))

	g, ctx := errgroup.WithContext(r.Context())
	g.SetLimit(8)
	for i, src := range srcs {
		g.Go(func() error {
			items, err := h.sourceNews(ctx, src.SourceID, force)
			results[i] = result{id: src.SourceID, items: items, err: err}
			return nil
		})
	}
	_ = g.Wait()

	bySource := make(map[string][]models.NewsItem, len(srcs))
	failures := map[string]string{}
	total := 0
	for _, res := range results {
		if res.err != nil {
			failures[res.id] = res.err.Error()
			continue
		}
		bySource[res.id] = res.items
		total += len(res.items)
	}

	payload := map[string]any{
		"category": category,
		"sources":  bySource,
	}
	if len(failures) > 0 {
		payload["errors"] = failures
	}
	h.respondJSON(w, http.StatusOK, payload, total)
}

// SearchNews handles GET /api/news/search.
func (h *Handler) SearchNews(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		h.respondErrorCode(w, http.StatusBadRequest, codeValidation, "query parameter q is required")
		return
	}
	max := getIntParam(r, "max_results", 20)
	clusters := h.aggregator.Search(query, max)
	h.respondJSON(w, http.StatusOK, map[string]any{
		"query":    query,
		"clusters": clusters,
	}, len(clusters))
}

// HotNews handles GET /api/news/hot.
func (h *Handler) HotNews(w http.ResponseWriter, r *http.Request) {
	limit := getIntParam(r, "limit", 10)
	category := r.URL.Query().Get("category")

	var clusters []aggregator.Cluster
	if category != "" {
		clusters = h.aggregator.ByCategory(category, limit)
	} else {
		clusters = h.aggregator.Hot(limit)
	}
	h.respondJSON(w, http.StatusOK, map[string]any{
		"clusters": clusters,
	}, len(clusters))
}

// unifiedFilters are the query-string filters of the unified feed.
type unifiedFilters struct {
	sourceIDs map[string]struct{}
	category  string
	country   string
	language  string
}

func (f *unifiedFilters) match(src models.Source) bool {
	if len(f.sourceIDs) > 0 {
		if _, ok := f.sourceIDs[src.SourceID]; !ok {
			return false
		}
	}
	if f.category != "" && src.Category != f.category {
		return false
	}
	if f.country != "" && src.Country != f.country {
		return false
	}
	if f.language != "" && src.Language != f.language {
		return false
	}
	return true
}

// UnifiedNews handles GET /api/news/unified: every cached item across
// the matching sources, sorted, paginated, with per-category and
// per-source counts over the full (pre-pagination) result.
func (h *Handler) UnifiedNews(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filters := unifiedFilters{
		category: q.Get("category"),
		country:  q.Get("country"),
		language: q.Get("language"),
	}
	if raw := q.Get("source_id"); raw != "" {
		filters.sourceIDs = make(map[string]struct{})
		for _, id := range strings.Split(raw, ",") {
			if id = strings.TrimSpace(id); id != "" {
				filters.sourceIDs[id] = struct{}{}
			}
		}
	}

	pageSize := getIntParam(r, "page_size", h.config.Server.DefaultPageSize)
	if pageSize < 1 {
		pageSize = 1
	}
	if max := h.config.Server.MaxPageSize; max > 0 && pageSize > max {
		pageSize = max
	}
	page := getIntParam(r, "page", 1)
	if page < 1 {
		page = 1
	}

	sortBy := q.Get("sort_by")
	if sortBy != "title" && sortBy != "source_id" {
		sortBy = "published_at"
	}
	ascending := strings.EqualFold(q.Get("sort_order"), "asc")

	var all []models.NewsItem
	byCategory := map[string]int{}
	bySource := map[string]int{}
	for _, src := range h.registry.All() {
		if !filters.match(src) {
			continue
		}
		var items []models.NewsItem
		if !h.cache.Get(r.Context(), cache.SourceKey(src.SourceID), &items) {
			continue
		}
		category := src.Category
		if category == "" {
			category = "uncategorized"
		}
		byCategory[category] += len(items)
		bySource[src.SourceID] += len(items)
		all = append(all, items...)
	}

	sortUnified(all, sortBy, ascending)

	total := len(all)
	start := (page - 1) * pageSize
	if start > total {
		start = total
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	pageItems := all[start:end]
	if pageItems == nil {
		pageItems = []models.NewsItem{}
	}

	h.respondJSON(w, http.StatusOK, map[string]any{
		"items":     pageItems,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
		"aggregations": map[string]any{
			"by_category": byCategory,
			"by_source":   bySource,
		},
	}, len(pageItems))
}

// sortUnified orders items for the unified feed. Missing timestamps
// sort last regardless of direction; ties break on item ID so
// pagination is stable across requests.
func sortUnified(items []models.NewsItem, sortBy string, ascending bool) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		switch sortBy {
		case "title":
			if a.Title != b.Title {
				if ascending {
					return a.Title < b.Title
				}
				return a.Title > b.Title
			}
		case "source_id":
			if a.SourceID != b.SourceID {
				if ascending {
					return a.SourceID < b.SourceID
				}
				return a.SourceID > b.SourceID
			}
		default:
			at, bt := a.PublishedAt, b.PublishedAt
			switch {
			case at == nil && bt == nil:
			case at == nil:
				return false
			case bt == nil:
				return true
			case !at.Equal(bt.Time):
				if ascending {
					return at.Before(bt.Time)
				}
				return at.After(bt.Time)
			}
		}
		return a.ID < b.ID
	})
}
