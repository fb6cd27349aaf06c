// HeatLink - Multi-Source News Aggregation Engine
// Copyright 2026 losesky
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/losesky/heatlink

// Package stats accumulates per-source fetch outcomes in memory and
// flushes them to the catalog on an interval, or immediately after an
// error. A failed flush keeps its window and merges it with the next
// one; stats can be delayed, never lost.
package stats

import (
	"context"
	"sync"
	"time"

	"github.com/losesky/heatlink/internal/config"
	"github.com/losesky/heatlink/internal/logging"
	"github.com/losesky/heatlink/internal/metrics"
	"github.com/losesky/heatlink/internal/models"
)

// Store is the catalog slice the collector writes to.
type Store interface {
	InsertSourceStats(ctx context.Context, row models.StatsRow) error
	UpdateSourceResult(ctx context.Context, sourceID string, lastUpdated time.Time, lastError string, newsCount int, status models.SourceStatus) error
}

type accKey struct {
	sourceID string
	apiType  models.APIType
}

// Collector is safe for concurrent use by the scheduler and the HTTP
// handlers.
type Collector struct {
	cfg   config.StatsConfig
	store Store
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	mu        sync.Mutex
	acc       map[accKey]*models.SourceStats
	lastFlush map[accKey]time.Time

	flushReq chan accKey
}

// New builds a collector. A nil store disables persistence; the
// accumulators still work for the status endpoints.
func New(cfg config.StatsConfig, store Store) *Collector {
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Hour
	}
	return &Collector{
		cfg:       cfg,
		store:     store,
		now:       time.Now,
		sleep:     sleepCtx,
		acc:       make(map[accKey]*models.SourceStats),
		lastFlush: make(map[accKey]time.Time),
		flushReq:  make(chan accKey, 256),
	}
}

// Record folds one fetch outcome into the accumulator and schedules a
// flush when the window is due or the fetch failed.
func (c *Collector) Record(sourceID string, apiType models.APIType, elapsed time.Duration, newsCount int, fetchErr error) {
	if !c.cfg.Enabled {
		return
	}
	k := accKey{sourceID, apiType}
	now := c.now()

	c.mu.Lock()
	s, ok := c.acc[k]
	if !ok {
		s = &models.SourceStats{SourceID: sourceID, APIType: apiType}
		c.acc[k] = s
		if _, seen := c.lastFlush[k]; !seen {
			c.lastFlush[k] = now
		}
	}
	s.TotalRequests++
	s.TotalResponseTime += elapsed.Milliseconds()
	s.LastResponseTime = elapsed.Milliseconds()
	if fetchErr != nil {
		s.ErrorCount++
		s.LastError = fetchErr.Error()
	} else {
		s.SuccessCount++
		s.NewsCount += int64(newsCount)
	}
	due := fetchErr != nil || now.Sub(c.lastFlush[k]) >= c.cfg.FlushInterval
	pending := len(c.acc)
	c.mu.Unlock()

	metrics.StatsPendingSources.Set(float64(pending))
	if due {
		select {
		case c.flushReq <- k:
		default:
			// Queue full; the periodic sweep will catch it.
		}
	}
}

// Snapshot returns copies of the current accumulators, for status
// endpoints.
func (c *Collector) Snapshot() []models.SourceStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.SourceStats, 0, len(c.acc))
	for _, s := range c.acc {
		out = append(out, *s)
	}
	return out
}

// Serve runs flush scheduling until ctx is cancelled, then drains the
// remaining accumulators. Implements suture.Service.
func (c *Collector) Serve(ctx context.Context) error {
	sweep := c.cfg.FlushInterval / 4
	if sweep < time.Second {
		sweep = time.Second
	}
	ticker := time.NewTicker(sweep)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			drainCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			c.FlushAll(drainCtx)
			cancel()
			return ctx.Err()
		case k := <-c.flushReq:
			c.flushKey(ctx, k)
		case <-ticker.C:
			for _, k := range c.dueKeys() {
				c.flushKey(ctx, k)
			}
		}
	}
}

// FlushAll flushes every pending accumulator once.
func (c *Collector) FlushAll(ctx context.Context) {
	c.mu.Lock()
	keys := make([]accKey, 0, len(c.acc))
	for k := range c.acc {
		keys = append(keys, k)
	}
	c.mu.Unlock()
	for _, k := range keys {
		c.flushKey(ctx, k)
	}
}

func (c *Collector) dueKeys() []accKey {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	var due []accKey
	for k := range c.acc {
		if now.Sub(c.lastFlush[k]) >= c.cfg.FlushInterval {
			due = append(due, k)
		}
	}
	return due
}

// flushKey writes one accumulator's window. The window is detached
// first; on persistent failure it is merged back so nothing is lost.
func (c *Collector) flushKey(ctx context.Context, k accKey) {
	c.mu.Lock()
	snap, ok := c.acc[k]
	if !ok || snap.TotalRequests == 0 {
		c.mu.Unlock()
		return
	}
	delete(c.acc, k)
	c.lastFlush[k] = c.now()
	c.mu.Unlock()

	err := c.persist(ctx, snap)
	metrics.RecordStatsFlush(err)
	if err == nil {
		c.mu.Lock()
		metrics.StatsPendingSources.Set(float64(len(c.acc)))
		c.mu.Unlock()
		return
	}

	logging.Warn().Str("source", k.sourceID).Str("api_type", string(k.apiType)).
		Err(err).Msg("stats flush failed, keeping window")
	c.mu.Lock()
	if cur, exists := c.acc[k]; exists {
		// New records arrived during the flush attempt; the failed
		// window folds underneath them.
		snap.Merge(cur)
	}
	c.acc[k] = snap
	c.mu.Unlock()
}

// persist writes the history row and the source's latest status, with
// bounded retries.
func (c *Collector) persist(ctx context.Context, s *models.SourceStats) error {
	if c.store == nil {
		return nil
	}
	row := models.StatsRow{
		SourceID:         s.SourceID,
		APIType:          s.APIType,
		SuccessRate:      s.SuccessRate(),
		AvgResponseTime:  s.AvgResponseTime(),
		LastResponseTime: s.LastResponseTime,
		TotalRequests:    s.TotalRequests,
		ErrorCount:       s.ErrorCount,
		NewsCount:        s.NewsCount,
		CreatedAt:        c.now(),
	}

	var err error
	backoff := c.cfg.RetryBackoff
	if backoff <= 0 {
		backoff = time.Second
	}
	inserted := false
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			if serr := c.sleep(ctx, backoff); serr != nil {
				return serr
			}
			backoff *= 2
		}
		// The history row is append-only; once it lands, later attempts
		// retry only the status update or they would duplicate history.
		if !inserted {
			if err = c.store.InsertSourceStats(ctx, row); err != nil {
				continue
			}
			inserted = true
		}
		err = c.store.UpdateSourceResult(ctx, s.SourceID, row.CreatedAt,
			s.LastError, int(s.NewsCount), deriveStatus(s))
		if err == nil {
			return nil
		}
	}
	return err
}

// deriveStatus maps the window's outcome mix onto a source state.
func deriveStatus(s *models.SourceStats) models.SourceStatus {
	switch {
	case s.ErrorCount == 0:
		return models.SourceStatusActive
	case s.SuccessCount > 0:
		return models.SourceStatusWarning
	default:
		return models.SourceStatusError
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
