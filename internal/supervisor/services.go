// HeatLink - Multi-Source News Aggregation Engine
// Copyright 2026 losesky
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/losesky/heatlink

package supervisor

import (
	"context"
	"time"

	"github.com/losesky/heatlink/internal/aggregator"
	"github.com/losesky/heatlink/internal/logging"
	"github.com/losesky/heatlink/internal/scheduler"
	"github.com/losesky/heatlink/internal/sources"
)

// AggregatorService periodically reclusters the cached items.
// The scheduler, stats collector, proxy manager, and HTTP server
// implement suture.Service themselves; the aggregator exposes a pull
// API, so this wrapper drives it.
type AggregatorService struct {
	agg      *aggregator.Aggregator
	interval time.Duration
}

// NewAggregatorService wraps the aggregator as a supervisable loop.
func NewAggregatorService(agg *aggregator.Aggregator, interval time.Duration) *AggregatorService {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &AggregatorService{agg: agg, interval: interval}
}

// Serve runs the recluster loop until ctx is cancelled.
func (s *AggregatorService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	if err := s.agg.Update(ctx, true); err != nil && ctx.Err() == nil {
		logging.Warn().Err(err).Msg("initial aggregator update failed")
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.agg.Update(ctx, false); err != nil && ctx.Err() == nil {
				logging.Warn().Err(err).Msg("aggregator update failed")
			}
		}
	}
}

func (s *AggregatorService) String() string { return "aggregator" }

// CatalogRefreshService re-reads the source catalog on an interval and
// reconciles the scheduler timeline with the result. In fallback mode
// a successful refresh promotes the registry back to catalog-backed
// operation.
type CatalogRefreshService struct {
	registry  *sources.Registry
	scheduler *scheduler.Scheduler
	interval  time.Duration
}

// NewCatalogRefreshService wraps the catalog reconcile loop.
func NewCatalogRefreshService(registry *sources.Registry, sched *scheduler.Scheduler, interval time.Duration) *CatalogRefreshService {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &CatalogRefreshService{registry: registry, scheduler: sched, interval: interval}
}

// Serve runs the refresh loop until ctx is cancelled.
func (s *CatalogRefreshService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.registry.RefreshCatalog(ctx); err != nil {
				if ctx.Err() == nil {
					logging.Warn().Err(err).Msg("catalog refresh failed")
				}
				continue
			}
			s.scheduler.Reschedule()
		}
	}
}

func (s *CatalogRefreshService) String() string { return "catalog-refresh" }
