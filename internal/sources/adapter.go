// HeatLink - Multi-Source News Aggregation Engine
// Copyright 2026 losesky
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/losesky/heatlink

package sources

import (
	"context"
	"net/url"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/losesky/heatlink/internal/fetch"
	"github.com/losesky/heatlink/internal/logging"
	"github.com/losesky/heatlink/internal/models"
)

// Adapter converts one source's native representation into news items.
type Adapter interface {
	// Source returns the catalog entry the adapter serves.
	Source() models.Source

	// Fetch returns the source's current items. With force=false a
	// fresh adapter cache is served without network I/O; force=true
	// bypasses the freshness check but still coalesces with any fetch
	// already in flight.
	Fetch(ctx context.Context, force bool) ([]models.NewsItem, error)

	// ClearCache resets the cached items and the last-fetch timestamp
	// atomically.
	ClearCache()

	// TakeParseError returns and clears the last parse failure that
	// was absorbed by serving stale items.
	TakeParseError() error

	Close() error
}

// fetchOneFunc is a family's single-URL fetch+parse step. force must
// bypass the HTTP-level response cache, not just the adapter cache.
type fetchOneFunc func(ctx context.Context, rawURL string, force bool) ([]models.NewsItem, error)

// baseAdapter carries the resilience machinery every family inherits:
// the unified cache record, single-flight coalescing, backup URL
// iteration, fallback APIs, and the sub-request semaphore.
type baseAdapter struct {
	source models.Source
	client *fetch.Client
	now    func() time.Time

	// urls is the primary URL followed by backups, tried in order.
	urls []string
	// fallbackAPIs are third-party hot-list endpoints consulted after
	// every configured URL has failed. Items from them are marked
	// extra["source_from"] = "fallback".
	fallbackAPIs []string

	fetchOne fetchOneFunc

	// sem bounds concurrent HTTP sub-requests within one fetch.
	sem *semaphore.Weighted

	group singleflight.Group

	mu       sync.Mutex
	items    []models.NewsItem
	storedAt time.Time
	parseErr error
}

func newBaseAdapter(src models.Source, client *fetch.Client, concurrency int64) *baseAdapter {
	if concurrency <= 0 {
		concurrency = 20
	}
	return &baseAdapter{
		source: src,
		client: client,
		now:    time.Now,
		sem:    semaphore.NewWeighted(concurrency),
	}
}

func (a *baseAdapter) Source() models.Source { return a.source }

// cachedFresh returns the cached items when they are younger than the
// source's cache TTL. A TTL of zero never serves from cache.
func (a *baseAdapter) cachedFresh() ([]models.NewsItem, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.storedAt.IsZero() || a.source.CacheTTL <= 0 {
		return nil, false
	}
	if a.now().Sub(a.storedAt) >= a.source.CacheTTL {
		return nil, false
	}
	return copyItems(a.items), true
}

// cachedAny returns whatever the cache holds regardless of age.
func (a *baseAdapter) cachedAny() ([]models.NewsItem, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.storedAt.IsZero() {
		return nil, false
	}
	return copyItems(a.items), true
}

func (a *baseAdapter) storeItems(items []models.NewsItem) {
	a.mu.Lock()
	a.items = items
	a.storedAt = a.now()
	a.mu.Unlock()
}

// ClearCache resets items and timestamp together; a half-cleared
// record must never be observable.
func (a *baseAdapter) ClearCache() {
	a.mu.Lock()
	a.items = nil
	a.storedAt = time.Time{}
	a.mu.Unlock()
}

// TakeParseError hands the absorbed parse failure to the stats layer.
func (a *baseAdapter) TakeParseError() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	err := a.parseErr
	a.parseErr = nil
	return err
}

func (a *baseAdapter) setParseError(err error) {
	a.mu.Lock()
	a.parseErr = err
	a.mu.Unlock()
}

func (a *baseAdapter) Close() error { return nil }

// Fetch implements the adapter contract over the family's fetchOne.
func (a *baseAdapter) Fetch(ctx context.Context, force bool) ([]models.NewsItem, error) {
	if !force {
		if items, ok := a.cachedFresh(); ok {
			return items, nil
		}
	}

	// All concurrent callers for this source collapse onto one network
	// fetch; every caller observes the same result.
	v, err, _ := a.group.Do("fetch", func() (any, error) {
		if !force {
			// A competing caller may have refreshed the cache while we
			// waited on the flight group.
			if items, ok := a.cachedFresh(); ok {
				return items, nil
			}
		}
		return a.fetchAndStore(ctx, force)
	})
	if err != nil {
		return nil, err
	}
	return copyItems(v.([]models.NewsItem)), nil
}

// fetchAndStore walks primary, backups, then fallback APIs. The first
// URL that yields a parsed result wins; parse failures with a prior
// cache return the stale items and remember the error.
func (a *baseAdapter) fetchAndStore(ctx context.Context, force bool) ([]models.NewsItem, error) {
	var lastErr error

	for i, rawURL := range a.urls {
		items, err := a.fetchOne(ctx, rawURL, force)
		if err == nil {
			if i > 0 {
				markSourceFrom(items, hostOf(rawURL))
			}
			a.storeItems(items)
			return items, nil
		}
		lastErr = err

		if fe, ok := models.IsFetchError(err); ok && (fe.Kind == models.FetchParse || fe.Kind == models.FetchDecode) {
			// HTTP succeeded but the body did not parse. Serve the last
			// known items when we have them; stats still see the error.
			if prior, ok := a.cachedAny(); ok {
				a.setParseError(err)
				logging.Warn().Str("source", a.source.SourceID).Err(err).
					Msg("parse failed, serving prior cached items")
				return prior, nil
			}
		}
		if ctx.Err() != nil {
			break
		}
		logging.Debug().Str("source", a.source.SourceID).Str("url", rawURL).Err(err).
			Msg("source url failed, trying next")
	}

	for _, apiURL := range a.fallbackAPIs {
		if ctx.Err() != nil {
			break
		}
		items, err := a.fetchOne(ctx, apiURL, force)
		if err != nil {
			lastErr = err
			continue
		}
		markSourceFrom(items, "fallback")
		a.storeItems(items)
		return items, nil
	}

	// Exhausted. Never fabricate items.
	if fe, ok := models.IsFetchError(lastErr); ok {
		if fe.SourceID == "" {
			fe.SourceID = a.source.SourceID
		}
		return nil, fe
	}
	return nil, models.NewFetchError(models.FetchConnection, a.source.SourceID, lastErr)
}

// acquireSub reserves a sub-request slot, released by the returned func.
func (a *baseAdapter) acquireSub(ctx context.Context) (func(), error) {
	if err := a.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return func() { a.sem.Release(1) }, nil
}

func markSourceFrom(items []models.NewsItem, from string) {
	for i := range items {
		if items[i].Extra == nil {
			items[i].Extra = make(map[string]any, 1)
		}
		items[i].Extra["source_from"] = from
	}
}

func hostOf(rawURL string) string {
	if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
		return u.Host
	}
	return rawURL
}

// copyItems shares item values, not the backing array, so callers
// cannot mutate the adapter cache through the returned slice.
func copyItems(items []models.NewsItem) []models.NewsItem {
	if items == nil {
		return []models.NewsItem{}
	}
	out := make([]models.NewsItem, len(items))
	copy(out, items)
	return out
}
