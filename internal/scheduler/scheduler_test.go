// HeatLink - Multi-Source News Aggregation Engine
// Copyright 2026 losesky
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/losesky/heatlink

package scheduler

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
	"github.com/losesky/heatlink/internal/sources"
	"github.com/losesky/heatlink/internal/stats"
)

type fakeCatalog struct {
	rows []models.Source
}

func (f *fakeCatalog) ListSources(_ context.Context) ([]models.Source, error) {
	return f.rows, nil
}

func testSchedulerConfig() config.SchedulerConfig {
	return config.SchedulerConfig{
		WorkerPoolSize:        4,
		TickInterval:          10 * time.Millisecond,
		DefaultUpdateInterval: 10 * time.Minute,
		DefaultCacheTTL:       5 * time.Minute,
		AdaptiveEnabled:       true,
		KFail:                 0.5,
		KActivity:             0.3,
		MinInterval:           2 * time.Minute,
		MaxInterval:           time.Hour,
		FetchTimeoutCeiling:   5 * time.Second,
	}
}

func apiSource(id, apiURL string) models.Source {
	return models.Source{
		SourceID:       id,
		Name:           id,
		Type:           models.SourceTypeAPI,
		Status:         models.SourceStatusActive,
		UpdateInterval: 10 * time.Minute,
		CacheTTL:       5 * time.Minute,
		Config: map[string]any{
			"api_url":     apiURL,
			"items_path":  "items",
			"title_field": "title",
			"url_field":   "url",
		},
	}
}

func newTestScheduler(t *testing.T, rows []models.Source) (*Scheduler, *cache.Manager, *sources.Registry) {
	t.Helper()
	client := fetch.NewClient(config.FetchConfig{
		MaxRetries:     0,
		RetryBaseDelay: time.Millisecond,
		RetryMaxDelay:  time.Millisecond,
		ConnectTimeout: time.Second,
		ReadTimeout:    time.Second,
		TotalTimeout:   5 * time.Second,
	}, fetch.Options{})

	registry, err := sources.NewRegistry(context.Background(), &fakeCatalog{rows: rows}, client, 4)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	t.Cleanup(func() { _ = registry.Close() })

	mgr := cache.NewManager(cache.NewMemory(100, 0), nil, time.Minute)
	t.Cleanup(func() { _ = mgr.Close() })

	collector := stats.New(config.StatsConfig{Enabled: true, FlushInterval: time.Hour}, nil)
	return New(testSchedulerConfig(), registry, mgr, collector), mgr, registry
}

func TestFetchSourceStoresCacheAndStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"items":[{"title":"One","url":"https://e.com/1"},{"title":"Two","url":"https://e.com/2"}]}`))
	}))
	defer srv.Close()

	s, mgr, registry := newTestScheduler(t, []models.Source{apiSource("src", srv.URL)})
	if err := s.FetchSource(context.Background(), "src", true, models.APITypeExternal); err != nil {
		t.Fatalf("FetchSource: %v", err)
	}

	var items []models.NewsItem
	if !mgr.Get(context.Background(), cache.SourceKey("src"), &items) {
		t.Fatal("items not stored in cache manager")
	}
	if len(items) != 2 {
		t.Errorf("cached items = %d, want 2", len(items))
	}

	src, _, _ := registry.Get("src")
	if src.Status != models.SourceStatusActive || src.NewsCount != 2 {
		t.Errorf("registry row = %+v", src)
	}

	status := s.Status()
	if len(status) != 1 || status[0].LastSuccess == nil || status[0].ConsecutiveFailures != 0 {
		t.Errorf("status = %+v", status)
	}
	if status[0].NextDue == nil {
		t.Error("next_due not scheduled after fetch")
	}
}

func TestFetchSourceFailureTracksConsecutive(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	}))
	defer srv.Close()

	s, _, registry := newTestScheduler(t, []models.Source{apiSource("src", srv.URL)})
	for i := 1; i <= 2; i++ {
		if err := s.FetchSource(context.Background(), "src", true, models.APITypeExternal); err == nil {
			t.Fatalf("fetch %d should fail", i)
		}
	}

	status := s.Status()
	if status[0].ConsecutiveFailures != 2 {
		t.Errorf("consecutive_failures = %d, want 2", status[0].ConsecutiveFailures)
	}
	if status[0].LastError == "" {
		t.Error("last_error empty after failures")
	}
	src, _, _ := registry.Get("src")
	if src.Status != models.SourceStatusError {
		t.Errorf("registry status = %q, want ERROR", src.Status)
	}
}

func TestFetchSourceUnknown(t *testing.T) {
	s, _, _ := newTestScheduler(t, nil)
	if err := s.FetchSource(context.Background(), "ghost", true, models.APITypeExternal); !errors.Is(err, models.ErrNoSuchSource) {
		t.Errorf("err = %v, want ErrNoSuchSource", err)
	}
}

func TestFetchSourceJoinsInFlight(t *testing.T) {
	var hits atomic.Int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		<-release
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"items":[{"title":"One","url":"https://e.com/1"}]}`))
	}))
	defer srv.Close()

	s, _, _ := newTestScheduler(t, []models.Source{apiSource("src", srv.URL)})

	var wg sync.WaitGroup
	errs := make([]error, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = s.FetchSource(context.Background(), "src", true, models.APITypeExternal)
		}()
	}
	// Let the first call reach the server, then release everyone.
	for hits.Load() == 0 {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if hits.Load() != 1 {
		t.Errorf("server hits = %d, want 1 for joined fetches", hits.Load())
	}
	for i, err := range errs {
		if err != nil {
			t.Errorf("caller %d: %v", i, err)
		}
	}
}

func TestNextIntervalAdaptive(t *testing.T) {
	s, _, _ := newTestScheduler(t, nil)
	src := models.Source{SourceID: "src", UpdateInterval: 10 * time.Minute}

	tests := []struct {
		name     string
		failures int
		recent   []int
		want     time.Duration
	}{
		{"baseline", 0, nil, 10 * time.Minute},
		{"two failures", 2, nil, 20 * time.Minute},
		{"max activity", 0, []int{20, 20, 20}, 7 * time.Minute},
		{"clamped to max", 20, nil, time.Hour},
	}
	for _, tt := range tests {
		st := &sourceState{consecutiveFailures: tt.failures, recentCounts: tt.recent}
		s.mu.Lock()
		got := s.nextInterval(src, st)
		s.mu.Unlock()
		if got != tt.want {
			t.Errorf("%s: interval = %s, want %s", tt.name, got, tt.want)
		}
	}
}

func TestNextIntervalClampedToMin(t *testing.T) {
	s, _, _ := newTestScheduler(t, nil)
	src := models.Source{SourceID: "src", UpdateInterval: 2*time.Minute + 30*time.Second}
	st := &sourceState{recentCounts: []int{100, 100}}

	s.mu.Lock()
	got := s.nextInterval(src, st)
	s.mu.Unlock()
	// 150s * 0.7 = 105s, below the 2m floor.
	if got != 2*time.Minute {
		t.Errorf("interval = %s, want min clamp 2m", got)
	}
}

func TestNextIntervalAdaptiveDisabled(t *testing.T) {
	s, _, _ := newTestScheduler(t, nil)
	s.cfg.AdaptiveEnabled = false
	src := models.Source{SourceID: "src", UpdateInterval: 10 * time.Minute}
	st := &sourceState{consecutiveFailures: 5}

	s.mu.Lock()
	got := s.nextInterval(src, st)
	s.mu.Unlock()
	if got != 10*time.Minute {
		t.Errorf("interval = %s, want base with adaptation off", got)
	}
}

func TestActivityScore(t *testing.T) {
	tests := []struct {
		recent []int
		want   float64
	}{
		{nil, 0},
		{[]int{0, 0}, 0},
		{[]int{10, 10}, 0.5},
		{[]int{20, 20}, 1.0},
		{[]int{100}, 1.0},
	}
	for _, tt := range tests {
		if got := activityScore(tt.recent); got != tt.want {
			t.Errorf("activityScore(%v) = %v, want %v", tt.recent, got, tt.want)
		}
	}
}

func TestTimelineOrdering(t *testing.T) {
	tl := newTimeline()
	now := time.Now()
	tl.schedule("c", now.Add(3*time.Minute))
	tl.schedule("a", now.Add(time.Minute))
	tl.schedule("b", now.Add(2*time.Minute))

	if due := tl.popDue(now); len(due) != 0 {
		t.Errorf("popDue(now) = %v, want none", due)
	}
	due := tl.popDue(now.Add(2 * time.Minute))
	if len(due) != 2 || due[0] != "a" || due[1] != "b" {
		t.Errorf("popDue = %v, want [a b]", due)
	}
	next, ok := tl.nextDue()
	if !ok || !next.Equal(now.Add(3*time.Minute)) {
		t.Errorf("nextDue = %v", next)
	}
}

func TestTimelineRescheduleAndRemove(t *testing.T) {
	tl := newTimeline()
	now := time.Now()
	tl.schedule("a", now.Add(time.Hour))
	tl.schedule("b", now.Add(time.Minute))

	// Move "a" ahead of "b".
	tl.schedule("a", now.Add(time.Second))
	next, _ := tl.nextDue()
	if !next.Equal(now.Add(time.Second)) {
		t.Errorf("reschedule did not reorder: %v", next)
	}

	tl.remove("a")
	if _, ok := tl.dueFor("a"); ok {
		t.Error("removed source still scheduled")
	}
	if tl.Len() != 1 {
		t.Errorf("len = %d, want 1", tl.Len())
	}
	tl.remove("ghost")
}

func TestServeDispatchesDueSources(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"items":[{"title":"One","url":"https://e.com/1"}]}`))
	}))
	defer srv.Close()

	s, _, _ := newTestScheduler(t, []models.Source{apiSource("src", srv.URL)})
	// Make the source due immediately.
	s.mu.Lock()
	s.timeline.schedule("src", time.Now().Add(-time.Second))
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()

	deadline := time.After(5 * time.Second)
	for hits.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("scheduler never fetched the due source")
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("serve returned %v", err)
	}
}

func TestRescheduleAddsAndRemoves(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"items":[]}`))
	}))
	defer srv.Close()

	catalog := &fakeCatalog{rows: []models.Source{apiSource("one", srv.URL)}}
	client := fetch.NewClient(config.FetchConfig{
		MaxRetries: 0, RetryBaseDelay: time.Millisecond, RetryMaxDelay: time.Millisecond,
		ConnectTimeout: time.Second, ReadTimeout: time.Second, TotalTimeout: 5 * time.Second,
	}, fetch.Options{})
	registry, err := sources.NewRegistry(context.Background(), catalog, client, 4)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	defer registry.Close()

	mgr := cache.NewManager(cache.NewMemory(100, 0), nil, time.Minute)
	defer mgr.Close()
	s := New(testSchedulerConfig(), registry, mgr, nil)

	catalog.rows = []models.Source{apiSource("two", srv.URL)}
	if err := registry.RefreshCatalog(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	s.Reschedule()

	s.mu.Lock()
	_, hasOne := s.timeline.dueFor("one")
	_, hasTwo := s.timeline.dueFor("two")
	s.mu.Unlock()
	if hasOne {
		t.Error("removed source still on timeline")
	}
	if !hasTwo {
		t.Error("new source not scheduled")
	}
}

func TestFetchSourceJoinersSeeJoinedResult(t *testing.T) {
	var hits atomic.Int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := hits.Add(1)
		if n == 1 {
			<-release
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"items":[{"title":"One","url":"https://e.com/1"}]}`))
	}))
	defer srv.Close()

	s, _, _ := newTestScheduler(t, []models.Source{apiSource("src", srv.URL)})

	initiatorErr := make(chan error, 1)
	go func() {
		initiatorErr <- s.FetchSource(context.Background(), "src", true, models.APITypeExternal)
	}()
	for hits.Load() == 0 {
		time.Sleep(time.Millisecond)
	}

	// These join the failing flight and must observe its error, not
	// the outcome of any later fetch.
	var wg sync.WaitGroup
	joined := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			joined[i] = s.FetchSource(context.Background(), "src", true, models.APITypeExternal)
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if err := <-initiatorErr; err == nil {
		t.Error("initiator should see the flight failure")
	}
	for i, err := range joined {
		if err == nil {
			t.Errorf("joiner %d saw success from a failed flight", i)
		}
	}

	// The next flight is independent and succeeds.
	if err := s.FetchSource(context.Background(), "src", true, models.APITypeExternal); err != nil {
		t.Errorf("fresh fetch after failure: %v", err)
	}
}

func TestFetchSourceRecordsOneStatPerFlight(t *testing.T) {
	var hits atomic.Int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		<-release
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"items":[{"title":"One","url":"https://e.com/1"}]}`))
	}))
	defer srv.Close()

	s, _, _ := newTestScheduler(t, []models.Source{apiSource("src", srv.URL)})

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.FetchSource(context.Background(), "src", true, models.APITypeExternal)
		}()
	}
	for hits.Load() == 0 {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	// One flight served all three callers, so exactly one request lands
	// in the external accumulator and none in the internal one.
	snap := s.stats.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("accumulators = %d, want 1: %+v", len(snap), snap)
	}
	if snap[0].APIType != models.APITypeExternal {
		t.Errorf("api type = %s, want EXTERNAL", snap[0].APIType)
	}
	if snap[0].TotalRequests != 1 {
		t.Errorf("total_requests = %d, want 1 for a joined flight", snap[0].TotalRequests)
	}
}
