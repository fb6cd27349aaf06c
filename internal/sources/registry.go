// HeatLink - Multi-Source News Aggregation Engine
// Copyright 2026 losesky
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/losesky/heatlink

package sources

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/losesky/heatlink/internal/fetch"
	"github.com/losesky/heatlink/internal/logging"
	"github.com/losesky/heatlink/internal/models"
)

// CatalogStore is the slice of the metadata store the registry needs.
type CatalogStore interface {
	ListSources(ctx context.Context) ([]models.Source, error)
}

// entry pairs a catalog row with its live adapter.
type entry struct {
	source  models.Source
	adapter Adapter
}

// Registry owns the source set and the adapters behind it. It starts
// from the catalog, or from the compiled-in defaults when the catalog
// is unreachable, and reconciles on refresh.
type Registry struct {
	store       CatalogStore
	client      *fetch.Client
	concurrency int64

	mu       sync.RWMutex
	entries  map[string]*entry
	fallback bool
}

// NewRegistry loads the catalog and builds adapters. ErrCatalogUnavailable
// switches to fallback mode with the builtin sources instead of failing;
// any other error is returned.
func NewRegistry(ctx context.Context, store CatalogStore, client *fetch.Client, concurrency int64) (*Registry, error) {
	r := &Registry{
		store:       store,
		client:      client,
		concurrency: concurrency,
		entries:     make(map[string]*entry),
	}

	var rows []models.Source
	var err error
	if store != nil {
		rows, err = store.ListSources(ctx)
	} else {
		err = models.ErrCatalogUnavailable
	}
	switch {
	case err == nil:
		r.install(rows)
	case errors.Is(err, models.ErrCatalogUnavailable):
		logging.Warn().Err(err).Msg("catalog unreachable, serving builtin sources")
		r.fallback = true
		r.install(BuiltinSources())
	default:
		return nil, err
	}
	return r, nil
}

// install replaces or adds entries for the given rows. Existing
// adapters survive unchanged rows so their caches are not discarded.
func (r *Registry) install(rows []models.Source) {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[string]bool, len(rows))
	for _, src := range rows {
		seen[src.SourceID] = true

		if cur, ok := r.entries[src.SourceID]; ok {
			if sameDefinition(cur.source, src) {
				cur.source = src
				continue
			}
			// Definition changed; rebuild the adapter, drop the old one.
			if err := cur.adapter.Close(); err != nil {
				logging.Debug().Str("source", src.SourceID).Err(err).Msg("adapter close")
			}
			delete(r.entries, src.SourceID)
		}

		adapter, err := ForSource(src, r.client, r.concurrency)
		if err != nil {
			// A source without an adapter is inactive, never a fetch-time
			// failure.
			logging.Warn().Str("source", src.SourceID).Err(err).
				Msg("no adapter for source, marking inactive")
			src.Status = models.SourceStatusInactive
			src.LastError = err.Error()
			r.entries[src.SourceID] = &entry{source: src}
			continue
		}
		r.entries[src.SourceID] = &entry{source: src, adapter: adapter}
	}

	// Rows the catalog no longer returns go inactive but keep their
	// adapter cache; a flapping catalog must not cost cached items.
	for id, e := range r.entries {
		if !seen[id] {
			e.source.Status = models.SourceStatusInactive
		}
	}
}

// sameDefinition reports whether two rows build the same adapter.
// Status and bookkeeping fields may differ.
func sameDefinition(a, b models.Source) bool {
	if a.Type != b.Type || a.URL != b.URL || a.NeedsProxy != b.NeedsProxy || a.ProxyGroup != b.ProxyGroup {
		return false
	}
	if len(a.Config) != len(b.Config) {
		return false
	}
	for k, v := range a.Config {
		if bv, ok := b.Config[k]; !ok || !configValueEqual(v, bv) {
			return false
		}
	}
	return true
}

func configValueEqual(a, b any) bool {
	switch av := a.(type) {
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !configValueEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			if !configValueEqual(v, bv[k]) {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}

// RefreshCatalog re-reads the catalog and reconciles the source set.
// In fallback mode a successful read promotes the registry off the
// builtin set; a failed read is a no-op until the store answers.
func (r *Registry) RefreshCatalog(ctx context.Context) error {
	if r.store == nil {
		return models.ErrCatalogUnavailable
	}
	rows, err := r.store.ListSources(ctx)
	if err != nil {
		if r.Fallback() {
			logging.Debug().Err(err).Msg("catalog still unreachable, keeping builtin sources")
			return nil
		}
		return err
	}

	wasFallback := r.Fallback()
	r.install(rows)

	r.mu.Lock()
	r.fallback = false
	r.mu.Unlock()
	if wasFallback {
		logging.Info().Int("sources", len(rows)).Msg("catalog recovered, left fallback mode")
	}
	return nil
}

// Fallback reports whether the registry is serving builtin sources.
func (r *Registry) Fallback() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.fallback
}

// Get returns the source and adapter for an id. The adapter is nil for
// sources without a compiled-in factory.
func (r *Registry) Get(id string) (models.Source, Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return models.Source{}, nil, models.ErrNoSuchSource
	}
	return e.source, e.adapter, nil
}

// All returns every source sorted by id.
func (r *Registry) All() []models.Source {
	return r.filter(func(models.Source) bool { return true })
}

// Active returns sources eligible for scheduling.
func (r *Registry) Active() []models.Source {
	return r.filter(func(s models.Source) bool {
		return s.Status != models.SourceStatusInactive
	})
}

// ByCategory returns sources in a category, sorted by id.
func (r *Registry) ByCategory(category string) []models.Source {
	return r.filter(func(s models.Source) bool { return s.Category == category })
}

// ByCountry returns sources for a country code, sorted by id.
func (r *Registry) ByCountry(country string) []models.Source {
	return r.filter(func(s models.Source) bool { return s.Country == country })
}

// ByLanguage returns sources in a language, sorted by id.
func (r *Registry) ByLanguage(language string) []models.Source {
	return r.filter(func(s models.Source) bool { return s.Language == language })
}

func (r *Registry) filter(keep func(models.Source) bool) []models.Source {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.Source, 0, len(r.entries))
	for _, e := range r.entries {
		if keep(e.source) {
			out = append(out, e.source)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SourceID < out[j].SourceID })
	return out
}

// UpdateStatus records a fetch outcome on the in-memory row. The
// catalog row is written back separately by the stats layer.
func (r *Registry) UpdateStatus(id string, status models.SourceStatus, lastError string, newsCount int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return
	}
	now := time.Now()
	e.source.Status = status
	e.source.LastError = lastError
	e.source.LastUpdated = &now
	if newsCount >= 0 {
		e.source.NewsCount = newsCount
	}
}

// ClearCache clears one adapter's cache, or every adapter's when id is
// empty. Unknown ids report ErrNoSuchSource.
func (r *Registry) ClearCache(id string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if id == "" {
		for _, e := range r.entries {
			if e.adapter != nil {
				e.adapter.ClearCache()
			}
		}
		return nil
	}
	e, ok := r.entries[id]
	if !ok {
		return models.ErrNoSuchSource
	}
	if e.adapter != nil {
		e.adapter.ClearCache()
	}
	return nil
}

// Close shuts down every adapter.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var firstErr error
	for _, e := range r.entries {
		if e.adapter == nil {
			continue
		}
		if err := e.adapter.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
