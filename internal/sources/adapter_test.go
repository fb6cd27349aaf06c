// HeatLink - Multi-Source News Aggregation Engine
// Copyright 2026 losesky
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/losesky/heatlink

package sources

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/losesky/heatlink/internal/cache"
	"github.com/losesky/heatlink/internal/config"
	"github.com/losesky/heatlink/internal/fetch"
	"github.com/losesky/heatlink/internal/models"
)

func testFetchClient() *fetch.Client {
	return fetch.NewClient(config.FetchConfig{
		MaxRetries:     1,
		RetryBaseDelay: time.Millisecond,
		RetryMaxDelay:  5 * time.Millisecond,
		ConnectTimeout: 2 * time.Second,
		ReadTimeout:    2 * time.Second,
		TotalTimeout:   5 * time.Second,
	}, fetch.Options{})
}

func testSource(id string, ttl time.Duration) models.Source {
	return models.Source{
		SourceID:       id,
		Name:           "Test " + id,
		Status:         models.SourceStatusActive,
		UpdateInterval: 10 * time.Minute,
		CacheTTL:       ttl,
	}
}

// countingAdapter builds a baseAdapter whose fetchOne counts calls and
// returns canned items.
func countingAdapter(src models.Source, calls *atomic.Int32, items []models.NewsItem, errs ...error) *baseAdapter {
	a := newBaseAdapter(src, testFetchClient(), 4)
	a.urls = []string{"http://primary.test/list"}
	a.fetchOne = func(ctx context.Context, rawURL string, force bool) ([]models.NewsItem, error) {
		n := calls.Add(1)
		if int(n) <= len(errs) && errs[n-1] != nil {
			return nil, errs[n-1]
		}
		return items, nil
	}
	return a
}

func TestFetchServesFreshCacheWithoutNetwork(t *testing.T) {
	var calls atomic.Int32
	items := []models.NewsItem{{ID: "1", Title: "one"}}
	a := countingAdapter(testSource("s", time.Minute), &calls, items)

	if _, err := a.Fetch(context.Background(), false); err != nil {
		t.Fatalf("first fetch: %v", err)
	}
	got, err := a.Fetch(context.Background(), false)
	if err != nil {
		t.Fatalf("second fetch: %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("network calls = %d, want 1", calls.Load())
	}
	if len(got) != 1 || got[0].Title != "one" {
		t.Errorf("cached items = %+v", got)
	}
}

func TestFetchForceBypassesFreshness(t *testing.T) {
	var calls atomic.Int32
	a := countingAdapter(testSource("s", time.Hour), &calls, []models.NewsItem{{ID: "1"}})

	for i := 0; i < 2; i++ {
		if _, err := a.Fetch(context.Background(), true); err != nil {
			t.Fatalf("fetch %d: %v", i, err)
		}
	}
	if calls.Load() != 2 {
		t.Errorf("network calls = %d, want 2", calls.Load())
	}
}

func TestFetchExpiredCacheRefetches(t *testing.T) {
	var calls atomic.Int32
	a := countingAdapter(testSource("s", time.Minute), &calls, []models.NewsItem{{ID: "1"}})

	now := time.Now()
	a.now = func() time.Time { return now }
	if _, err := a.Fetch(context.Background(), false); err != nil {
		t.Fatalf("first fetch: %v", err)
	}
	a.now = func() time.Time { return now.Add(2 * time.Minute) }
	if _, err := a.Fetch(context.Background(), false); err != nil {
		t.Fatalf("second fetch: %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("network calls = %d, want 2", calls.Load())
	}
}

func TestFetchCoalescesConcurrentCallers(t *testing.T) {
	var calls atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})

	a := newBaseAdapter(testSource("s", 0), testFetchClient(), 4)
	a.urls = []string{"http://primary.test/list"}
	a.fetchOne = func(ctx context.Context, rawURL string, force bool) ([]models.NewsItem, error) {
		if calls.Add(1) == 1 {
			close(started)
		}
		<-release
		return []models.NewsItem{{ID: "x"}}, nil
	}

	var wg, entered sync.WaitGroup
	results := make([]int, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		entered.Add(1)
		go func() {
			defer wg.Done()
			entered.Done()
			items, err := a.Fetch(context.Background(), true)
			if err != nil {
				t.Errorf("fetch: %v", err)
				return
			}
			results[i] = len(items)
		}()
	}
	entered.Wait()
	<-started
	close(release)
	wg.Wait()

	if calls.Load() != 1 {
		t.Errorf("network calls = %d, want 1 for coalesced fetch", calls.Load())
	}
	for i, n := range results {
		if n != 1 {
			t.Errorf("caller %d got %d items, want 1", i, n)
		}
	}
}

func TestFetchTriesBackupAndMarksSourceFrom(t *testing.T) {
	primaryErr := models.NewFetchError(models.FetchConnection, "s", errors.New("refused"))

	a := newBaseAdapter(testSource("s", time.Minute), testFetchClient(), 4)
	a.urls = []string{"http://primary.test/list", "http://backup.test/list"}
	a.fetchOne = func(ctx context.Context, rawURL string, force bool) ([]models.NewsItem, error) {
		if rawURL == "http://primary.test/list" {
			return nil, primaryErr
		}
		return []models.NewsItem{{ID: "1", Title: "from backup"}}, nil
	}

	items, err := a.Fetch(context.Background(), true)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("items = %d, want 1", len(items))
	}
	if got := items[0].ExtraString("source_from"); got != "backup.test" {
		t.Errorf("source_from = %q, want backup.test", got)
	}
}

func TestFetchFallbackAPIMarked(t *testing.T) {
	connErr := models.NewFetchError(models.FetchConnection, "s", errors.New("down"))

	a := newBaseAdapter(testSource("s", time.Minute), testFetchClient(), 4)
	a.urls = []string{"http://primary.test/list"}
	a.fallbackAPIs = []string{"http://fallback.test/hot"}
	a.fetchOne = func(ctx context.Context, rawURL string, force bool) ([]models.NewsItem, error) {
		if rawURL == "http://primary.test/list" {
			return nil, connErr
		}
		return []models.NewsItem{{ID: "1", Title: "fallback item"}}, nil
	}

	items, err := a.Fetch(context.Background(), true)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if got := items[0].ExtraString("source_from"); got != "fallback" {
		t.Errorf("source_from = %q, want fallback", got)
	}
}

func TestFetchParseFailureServesPriorCache(t *testing.T) {
	var calls atomic.Int32
	parseErr := models.NewFetchError(models.FetchParse, "s", errors.New("markup changed"))

	a := newBaseAdapter(testSource("s", time.Millisecond), testFetchClient(), 4)
	a.urls = []string{"http://primary.test/list"}
	a.fetchOne = func(ctx context.Context, rawURL string, force bool) ([]models.NewsItem, error) {
		if calls.Add(1) == 1 {
			return []models.NewsItem{{ID: "1", Title: "good"}}, nil
		}
		return nil, parseErr
	}

	if _, err := a.Fetch(context.Background(), true); err != nil {
		t.Fatalf("seed fetch: %v", err)
	}
	items, err := a.Fetch(context.Background(), true)
	if err != nil {
		t.Fatalf("stale fetch should not error, got %v", err)
	}
	if len(items) != 1 || items[0].Title != "good" {
		t.Errorf("stale items = %+v, want prior cache", items)
	}
	if got := a.TakeParseError(); got == nil {
		t.Error("parse error not recorded")
	}
	if got := a.TakeParseError(); got != nil {
		t.Errorf("parse error not cleared, got %v", got)
	}
}

func TestFetchParseFailureWithoutCacheErrors(t *testing.T) {
	parseErr := models.NewFetchError(models.FetchParse, "", errors.New("bad markup"))

	a := newBaseAdapter(testSource("s", time.Minute), testFetchClient(), 4)
	a.urls = []string{"http://primary.test/list"}
	a.fetchOne = func(ctx context.Context, rawURL string, force bool) ([]models.NewsItem, error) {
		return nil, parseErr
	}

	_, err := a.Fetch(context.Background(), true)
	fe, ok := models.IsFetchError(err)
	if !ok {
		t.Fatalf("error = %v, want FetchError", err)
	}
	if fe.Kind != models.FetchParse || fe.SourceID != "s" {
		t.Errorf("error = %+v, want parse error with source filled", fe)
	}
}

func TestFetchAllURLsExhausted(t *testing.T) {
	a := newBaseAdapter(testSource("s", time.Minute), testFetchClient(), 4)
	a.urls = []string{"http://a.test", "http://b.test"}
	a.fetchOne = func(ctx context.Context, rawURL string, force bool) ([]models.NewsItem, error) {
		return nil, models.NewFetchError(models.FetchConnection, "s", errors.New("refused"))
	}

	_, err := a.Fetch(context.Background(), true)
	if fe, ok := models.IsFetchError(err); !ok || fe.Kind != models.FetchConnection {
		t.Errorf("error = %v, want connection FetchError", err)
	}
}

func TestFetchEmptyResultIsSuccess(t *testing.T) {
	a := newBaseAdapter(testSource("s", time.Minute), testFetchClient(), 4)
	a.urls = []string{"http://primary.test/list"}
	a.fetchOne = func(ctx context.Context, rawURL string, force bool) ([]models.NewsItem, error) {
		return []models.NewsItem{}, nil
	}

	items, err := a.Fetch(context.Background(), true)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if items == nil || len(items) != 0 {
		t.Errorf("items = %v, want empty non-nil slice", items)
	}
}

func TestClearCacheForcesNetworkFetch(t *testing.T) {
	var calls atomic.Int32
	a := countingAdapter(testSource("s", time.Hour), &calls, []models.NewsItem{{ID: "1"}})

	if _, err := a.Fetch(context.Background(), false); err != nil {
		t.Fatalf("first fetch: %v", err)
	}
	a.ClearCache()
	if _, err := a.Fetch(context.Background(), false); err != nil {
		t.Fatalf("second fetch: %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("network calls = %d, want 2 after ClearCache", calls.Load())
	}
}

func TestFetchReturnsCopyOfCache(t *testing.T) {
	var calls atomic.Int32
	a := countingAdapter(testSource("s", time.Hour), &calls, []models.NewsItem{{ID: "1", Title: "orig"}})

	first, err := a.Fetch(context.Background(), false)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	first[0].Title = "mutated"

	second, err := a.Fetch(context.Background(), false)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if second[0].Title != "orig" {
		t.Errorf("cache mutated through returned slice: %q", second[0].Title)
	}
}

// Exercise a real adapter end to end against httptest.
func TestJSONAPIAdapterAgainstServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"list":[
			{"id":7,"name":"First story","link":"https://example.com/1","ts":1727000000},
			{"id":8,"name":"Second story","link":"https://example.com/2","ts":1727000100}
		]}}`))
	}))
	defer srv.Close()

	src := testSource("api-test", time.Minute)
	src.Type = models.SourceTypeAPI
	src.Config = map[string]any{
		"api_url":     srv.URL,
		"items_path":  "data.list",
		"id_field":    "id",
		"title_field": "name",
		"url_field":   "link",
		"date_field":  "ts",
	}

	adapter, err := ForSource(src, testFetchClient(), 4)
	if err != nil {
		t.Fatalf("ForSource: %v", err)
	}
	items, err := adapter.Fetch(context.Background(), true)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("items = %d, want 2", len(items))
	}
	if items[0].Title != "First story" || items[0].URL != "https://example.com/1" {
		t.Errorf("item[0] = %+v", items[0])
	}
	if items[0].ID != models.ItemID("api-test", "7") {
		t.Errorf("item id = %q, want id-field based", items[0].ID)
	}
	if items[0].PublishedAt == nil {
		t.Error("published_at missing for epoch timestamp")
	}
}

func TestJSONAPIAdapterForceBypassesHTTPCache(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"items":[{"id":1,"title":"headline","url":"https://example.com/1"}]}`))
	}))
	defer srv.Close()

	mgr := cache.NewManager(cache.NewMemory(100, 0), nil, time.Minute)
	defer func() { _ = mgr.Close() }()
	client := fetch.NewClient(config.FetchConfig{
		MaxRetries:     1,
		RetryBaseDelay: time.Millisecond,
		RetryMaxDelay:  5 * time.Millisecond,
		ConnectTimeout: 2 * time.Second,
		ReadTimeout:    2 * time.Second,
		TotalTimeout:   5 * time.Second,
	}, fetch.Options{Cache: mgr, HTTPCacheTTL: time.Minute})

	src := testSource("api-force", time.Minute)
	src.Type = models.SourceTypeAPI
	src.Config = map[string]any{"api_url": srv.URL, "items_path": "items"}

	adapter, err := ForSource(src, client, 4)
	if err != nil {
		t.Fatalf("ForSource: %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := adapter.Fetch(context.Background(), true); err != nil {
			t.Fatalf("forced fetch %d: %v", i, err)
		}
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("upstream requests = %d, want 2 for forced refreshes", got)
	}

	// Non-forced within the adapter TTL stays off the network entirely.
	if _, err := adapter.Fetch(context.Background(), false); err != nil {
		t.Fatalf("cached fetch: %v", err)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("upstream requests = %d, want 2 after cached read", got)
	}
}

func TestBrowserAdapterRenderHonorsDeadline(t *testing.T) {
	src := testSource("b", time.Minute)
	src.Type = models.SourceTypeBrowser
	src.URL = "http://rendered.test/list"
	src.Config = map[string]any{
		"start_url":     "http://rendered.test/list",
		"item_selector": ".item",
		"timeout_ms":    20,
	}

	adapter, err := newBrowserAdapter(src, testFetchClient(), 4)
	if err != nil {
		t.Fatalf("newBrowserAdapter: %v", err)
	}
	defer adapter.Close()

	// A render that never settles must stop at the per-fetch deadline
	// rather than blocking until the page loads.
	adapter.render = func(ctx context.Context, rawURL string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}

	start := time.Now()
	_, err = adapter.fetchRendered(context.Background(), src.URL, false)
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("render blocked %v past its deadline", elapsed)
	}
	fe, ok := models.IsFetchError(err)
	if !ok || fe.Kind != models.FetchTimeout {
		t.Errorf("err = %v, want timeout kind", err)
	}
}
