// HeatLink - Multi-Source News Aggregation Engine
// Copyright 2026 losesky
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/losesky/heatlink

package stats

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/losesky/heatlink/internal/config"
	"github.com/losesky/heatlink/internal/models"
)

type fakeStore struct {
	mu         sync.Mutex
	rows       []models.StatsRow
	updates    []models.SourceStatus
	insertErrs int
	updateErrs int
}

func (f *fakeStore) InsertSourceStats(_ context.Context, row models.StatsRow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErrs > 0 {
		f.insertErrs--
		return errors.New("insert failed")
	}
	f.rows = append(f.rows, row)
	return nil
}

func (f *fakeStore) UpdateSourceResult(_ context.Context, _ string, _ time.Time, _ string, _ int, status models.SourceStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErrs > 0 {
		f.updateErrs--
		return errors.New("update failed")
	}
	f.updates = append(f.updates, status)
	return nil
}

func (f *fakeStore) rowCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows)
}

func testCollector(store Store) *Collector {
	c := New(config.StatsConfig{
		Enabled:       true,
		FlushInterval: time.Hour,
		MaxRetries:    2,
		RetryBackoff:  time.Millisecond,
	}, store)
	c.sleep = func(context.Context, time.Duration) error { return nil }
	return c
}

func TestRecordAccumulates(t *testing.T) {
	c := testCollector(&fakeStore{})
	c.Record("src", models.APITypeInternal, 100*time.Millisecond, 5, nil)
	c.Record("src", models.APITypeInternal, 300*time.Millisecond, 3, nil)
	c.Record("src", models.APITypeInternal, 200*time.Millisecond, 0, errors.New("boom"))
	c.Record("src", models.APITypeExternal, 50*time.Millisecond, 2, nil)

	snap := c.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("accumulators = %d, want one per api_type", len(snap))
	}
	var internal *models.SourceStats
	for i := range snap {
		if snap[i].APIType == models.APITypeInternal {
			internal = &snap[i]
		}
	}
	if internal == nil {
		t.Fatal("internal accumulator missing")
	}
	if internal.TotalRequests != 3 || internal.SuccessCount != 2 || internal.ErrorCount != 1 {
		t.Errorf("counts = %+v", internal)
	}
	if internal.NewsCount != 8 {
		t.Errorf("news_count = %d, want 8 (successes only)", internal.NewsCount)
	}
	if internal.LastError != "boom" {
		t.Errorf("last_error = %q", internal.LastError)
	}
	if internal.LastResponseTime != 200 {
		t.Errorf("last_response_time = %d, want 200", internal.LastResponseTime)
	}
	if got := internal.AvgResponseTime(); got != 200 {
		t.Errorf("avg = %v, want 200", got)
	}
}

func TestRecordDisabled(t *testing.T) {
	c := New(config.StatsConfig{Enabled: false}, &fakeStore{})
	c.Record("src", models.APITypeInternal, time.Millisecond, 1, nil)
	if len(c.Snapshot()) != 0 {
		t.Error("disabled collector accumulated")
	}
}

func TestFlushWritesRowAndStatus(t *testing.T) {
	store := &fakeStore{}
	c := testCollector(store)
	c.Record("src", models.APITypeInternal, 100*time.Millisecond, 4, nil)
	c.FlushAll(context.Background())

	if store.rowCount() != 1 {
		t.Fatalf("rows = %d, want 1", store.rowCount())
	}
	row := store.rows[0]
	if row.SourceID != "src" || row.SuccessRate != 1.0 || row.NewsCount != 4 {
		t.Errorf("row = %+v", row)
	}
	if len(store.updates) != 1 || store.updates[0] != models.SourceStatusActive {
		t.Errorf("status updates = %v, want [ACTIVE]", store.updates)
	}
	if len(c.Snapshot()) != 0 {
		t.Error("accumulator not reset after flush")
	}
}

func TestFlushStatusDerivation(t *testing.T) {
	tests := []struct {
		name      string
		successes int
		errs      int
		want      models.SourceStatus
	}{
		{"all success", 2, 0, models.SourceStatusActive},
		{"mixed", 1, 1, models.SourceStatusWarning},
		{"all errors", 0, 2, models.SourceStatusError},
	}
	for _, tt := range tests {
		store := &fakeStore{}
		c := testCollector(store)
		for i := 0; i < tt.successes; i++ {
			c.Record("src", models.APITypeInternal, time.Millisecond, 1, nil)
		}
		for i := 0; i < tt.errs; i++ {
			c.Record("src", models.APITypeInternal, time.Millisecond, 0, errors.New("x"))
		}
		c.FlushAll(context.Background())
		if len(store.updates) != 1 || store.updates[0] != tt.want {
			t.Errorf("%s: status = %v, want %s", tt.name, store.updates, tt.want)
		}
	}
}

func TestFlushRetriesThenSucceeds(t *testing.T) {
	store := &fakeStore{insertErrs: 2}
	c := testCollector(store)
	c.Record("src", models.APITypeInternal, time.Millisecond, 1, nil)
	c.FlushAll(context.Background())

	if store.rowCount() != 1 {
		t.Errorf("rows = %d, want 1 after retries", store.rowCount())
	}
}

func TestFlushFailureKeepsWindow(t *testing.T) {
	store := &fakeStore{insertErrs: 10}
	c := testCollector(store)
	c.Record("src", models.APITypeInternal, time.Millisecond, 3, nil)
	c.FlushAll(context.Background())

	snap := c.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("window lost on flush failure")
	}
	if snap[0].NewsCount != 3 || snap[0].TotalRequests != 1 {
		t.Errorf("window = %+v", snap[0])
	}

	// Next window merges on top and flushes once the store recovers.
	store.mu.Lock()
	store.insertErrs = 0
	store.mu.Unlock()
	c.Record("src", models.APITypeInternal, time.Millisecond, 2, nil)
	c.FlushAll(context.Background())

	if store.rowCount() != 1 {
		t.Fatalf("rows = %d, want 1", store.rowCount())
	}
	if store.rows[0].NewsCount != 5 || store.rows[0].TotalRequests != 2 {
		t.Errorf("merged row = %+v", store.rows[0])
	}
}

func TestErrorOutcomeSchedulesImmediateFlush(t *testing.T) {
	c := testCollector(&fakeStore{})
	c.Record("src", models.APITypeInternal, time.Millisecond, 0, errors.New("down"))

	select {
	case k := <-c.flushReq:
		if k.sourceID != "src" {
			t.Errorf("queued key = %+v", k)
		}
	default:
		t.Error("error outcome did not queue a flush")
	}
}

func TestIntervalSchedulesFlush(t *testing.T) {
	c := testCollector(&fakeStore{})
	base := time.Now()
	c.now = func() time.Time { return base }
	c.Record("src", models.APITypeInternal, time.Millisecond, 1, nil)

	// Drain anything queued so far.
	for {
		select {
		case <-c.flushReq:
			continue
		default:
		}
		break
	}

	c.now = func() time.Time { return base.Add(2 * time.Hour) }
	c.Record("src", models.APITypeInternal, time.Millisecond, 1, nil)
	select {
	case <-c.flushReq:
	default:
		t.Error("stale window did not queue a flush")
	}
}

func TestFlushRetryDoesNotDuplicateHistoryRow(t *testing.T) {
	store := &fakeStore{updateErrs: 1}
	c := testCollector(store)
	c.Record("src", models.APITypeInternal, time.Millisecond, 1, nil)
	c.FlushAll(context.Background())

	if store.rowCount() != 1 {
		t.Errorf("rows = %d, want 1: status-update retry re-ran the insert", store.rowCount())
	}
	if len(store.updates) != 1 {
		t.Errorf("status updates = %d, want 1", len(store.updates))
	}
}

func TestServeDrainsOnShutdown(t *testing.T) {
	store := &fakeStore{}
	c := testCollector(store)
	c.Record("src", models.APITypeInternal, time.Millisecond, 1, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Serve(ctx) }()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("serve returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop")
	}
	if store.rowCount() != 1 {
		t.Errorf("pending window not drained on shutdown: rows = %d", store.rowCount())
	}
}
