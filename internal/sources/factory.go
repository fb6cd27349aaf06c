// HeatLink - Multi-Source News Aggregation Engine
// Copyright 2026 losesky
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/losesky/heatlink

package sources

import (
	"fmt"
	"time"

	"github.com/losesky/heatlink/internal/fetch"
	"github.com/losesky/heatlink/internal/models"
)

// Factory builds an adapter for one catalog row.
type Factory func(src models.Source, client *fetch.Client, concurrency int64) (Adapter, error)

// builtinFactories are source-specific adapters keyed by source_id.
// They win over the family factories.
var builtinFactories = map[string]Factory{
	"hackernews": func(src models.Source, client *fetch.Client, concurrency int64) (Adapter, error) {
		return newHackerNewsAdapter(src, client, concurrency)
	},
}

// familyFactories handle everything without a dedicated adapter.
var familyFactories = map[models.SourceType]Factory{
	models.SourceTypeHTML: func(src models.Source, client *fetch.Client, concurrency int64) (Adapter, error) {
		return newHTMLAdapter(src, client, concurrency)
	},
	models.SourceTypeAPI: func(src models.Source, client *fetch.Client, concurrency int64) (Adapter, error) {
		return newJSONAPIAdapter(src, client, concurrency)
	},
	models.SourceTypeRSS: func(src models.Source, client *fetch.Client, concurrency int64) (Adapter, error) {
		return newRSSAdapter(src, client, concurrency)
	},
	models.SourceTypeBrowser: func(src models.Source, client *fetch.Client, concurrency int64) (Adapter, error) {
		return newBrowserAdapter(src, client, concurrency)
	},
}

// ForSource resolves the adapter for a catalog row: a compiled-in
// per-source adapter first, then the family matching the row's type.
// MIXED rows pick a family from the config keys present.
func ForSource(src models.Source, client *fetch.Client, concurrency int64) (Adapter, error) {
	if f, ok := builtinFactories[src.SourceID]; ok {
		return f(src, client, concurrency)
	}

	typ := src.Type
	if typ == models.SourceTypeMixed {
		typ = resolveMixedType(src)
	}
	f, ok := familyFactories[typ]
	if !ok {
		return nil, fmt.Errorf("source %s type %s: %w", src.SourceID, src.Type, models.ErrNoSuchAdapter)
	}
	return f(src, client, concurrency)
}

// resolveMixedType infers the family from which config keys the row
// carries: api_url wins over feed_url wins over item_selector.
func resolveMixedType(src models.Source) models.SourceType {
	if src.ConfigString("api_url") != "" {
		return models.SourceTypeAPI
	}
	if src.ConfigString("feed_url") != "" {
		return models.SourceTypeRSS
	}
	if src.ConfigString("item_selector") != "" {
		return models.SourceTypeHTML
	}
	return models.SourceTypeMixed
}

// BuiltinSources are the compiled-in defaults served in fallback mode
// when the catalog is unreachable at startup.
func BuiltinSources() []models.Source {
	return []models.Source{
		{
			SourceID:       "hackernews",
			Name:           "Hacker News",
			URL:            hackerNewsTopStoriesURL,
			Type:           models.SourceTypeAPI,
			Category:       "technology",
			Country:        "US",
			Language:       "en",
			Status:         models.SourceStatusActive,
			UpdateInterval: 10 * time.Minute,
			CacheTTL:       5 * time.Minute,
			Config:         map[string]any{"item_limit": float64(30)},
		},
		{
			SourceID:       "bbc-world",
			Name:           "BBC World News",
			URL:            "https://feeds.bbci.co.uk/news/world/rss.xml",
			Type:           models.SourceTypeRSS,
			Category:       "world",
			Country:        "GB",
			Language:       "en",
			Status:         models.SourceStatusActive,
			UpdateInterval: 10 * time.Minute,
			CacheTTL:       5 * time.Minute,
			Config: map[string]any{
				"feed_url": "https://feeds.bbci.co.uk/news/world/rss.xml",
			},
		},
		{
			SourceID:       "github-trending",
			Name:           "GitHub Trending",
			URL:            "https://github.com/trending",
			Type:           models.SourceTypeHTML,
			Category:       "technology",
			Country:        "US",
			Language:       "en",
			Status:         models.SourceStatusActive,
			UpdateInterval: 30 * time.Minute,
			CacheTTL:       15 * time.Minute,
			Config: map[string]any{
				"base_url":       "https://github.com/trending",
				"item_selector":  "article.Box-row",
				"title_selector": "h2 a",
				"link_selector":  "h2 a",
			},
		},
	}
}
