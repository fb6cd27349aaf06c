// HeatLink - Multi-Source News Aggregation Engine
// Copyright 2026 losesky
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/losesky/heatlink

// Package scheduler drives periodic source fetches: a due-time
// timeline, a bounded worker pool, and adaptive per-source intervals
// that stretch after failures and tighten for active sources.
package scheduler

import (
	"container/heap"
	"context"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/losesky/heatlink/internal/cache"
	"github.com/losesky/heatlink/internal/config"
	"github.com/losesky/heatlink/internal/logging"
	"github.com/losesky/heatlink/internal/metrics"
	"github.com/losesky/heatlink/internal/models"
	"github.com/losesky/heatlink/internal/sources"
	"github.com/losesky/heatlink/internal/stats"
)

// activityWindow is how many recent fetches feed the activity signal.
const activityWindow = 5

// activityFullScale is the per-fetch news count treated as activity 1.0.
const activityFullScale = 20.0

// SourceStatus is one row of the scheduler's status view.
type SourceStatus struct {
	SourceID            string     `json:"source_id"`
	LastSuccess         *time.Time `json:"last_success,omitempty"`
	LastError           string     `json:"last_error,omitempty"`
	NextDue             *time.Time `json:"next_due,omitempty"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	InFlight            bool       `json:"in_flight"`
}

// flight is one running fetch. err is written before done is closed,
// so joiners reading err after <-done never race the next flight.
type flight struct {
	done chan struct{}
	err  error
}

// sourceState is the scheduler's per-source bookkeeping.
type sourceState struct {
	consecutiveFailures int
	lastSuccess         *time.Time
	lastError           string
	recentCounts        []int

	inFlight *flight
}

// Scheduler owns the fetch loop. Safe for concurrent FetchSource calls
// from the HTTP surface while the loop runs.
type Scheduler struct {
	cfg      config.SchedulerConfig
	registry *sources.Registry
	cache    *cache.Manager
	stats    *stats.Collector
	now      func() time.Time

	workers *semaphore.Weighted

	mu       sync.Mutex
	timeline *timeline
	states   map[string]*sourceState
	wake     chan struct{}
}

// New builds a scheduler over the registry's current sources.
func New(cfg config.SchedulerConfig, registry *sources.Registry, cacheMgr *cache.Manager, collector *stats.Collector) *Scheduler {
	pool := cfg.WorkerPoolSize
	if pool <= 0 {
		pool = runtime.NumCPU() * 4
		if pool > 64 {
			pool = 64
		}
	}
	s := &Scheduler{
		cfg:      cfg,
		registry: registry,
		cache:    cacheMgr,
		stats:    collector,
		now:      time.Now,
		workers:  semaphore.NewWeighted(int64(pool)),
		timeline: newTimeline(),
		states:   make(map[string]*sourceState),
		wake:     make(chan struct{}, 1),
	}
	s.initialize()
	return s
}

// initialize seeds the timeline with every schedulable source, jittered
// across the first minute so startup does not hammer every host at once.
func (s *Scheduler) initialize() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	heap.Init(s.timeline)
	i := 0
	for _, src := range s.registry.Active() {
		offset := time.Duration(i%60) * time.Second
		s.timeline.schedule(src.SourceID, now.Add(offset))
		if _, ok := s.states[src.SourceID]; !ok {
			s.states[src.SourceID] = &sourceState{}
		}
		i++
	}
	metrics.SchedulerQueueDepth.Set(float64(s.timeline.Len()))
}

// Reschedule reconciles the timeline after a catalog refresh: new
// sources are seeded, removed ones are dropped.
func (s *Scheduler) Reschedule() {
	s.mu.Lock()
	defer s.mu.Unlock()

	active := make(map[string]bool)
	now := s.now()
	for _, src := range s.registry.Active() {
		active[src.SourceID] = true
		if _, ok := s.timeline.dueFor(src.SourceID); !ok {
			if st := s.states[src.SourceID]; st == nil || st.inFlight == nil {
				s.timeline.schedule(src.SourceID, now)
			}
		}
		if _, ok := s.states[src.SourceID]; !ok {
			s.states[src.SourceID] = &sourceState{}
		}
	}
	for id := range s.states {
		if !active[id] {
			s.timeline.remove(id)
		}
	}
	metrics.SchedulerQueueDepth.Set(float64(s.timeline.Len()))
	s.wakeLoop()
}

// Serve runs the fetch loop until ctx is cancelled. Implements
// suture.Service.
func (s *Scheduler) Serve(ctx context.Context) error {
	tick := s.cfg.TickInterval
	if tick <= 0 {
		tick = 10 * time.Second
	}
	logging.Info().Dur("tick", tick).Msg("scheduler started")

	timer := time.NewTimer(tick)
	defer timer.Stop()

	for {
		s.dispatchDue(ctx)

		wait := tick
		s.mu.Lock()
		if next, ok := s.timeline.nextDue(); ok {
			if until := next.Sub(s.now()); until < wait {
				wait = until
			}
		}
		s.mu.Unlock()
		if wait < 0 {
			wait = 0
		}
		timer.Reset(wait)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		case <-s.wake:
		}
	}
}

// dispatchDue pops every due source and hands each to the worker pool.
func (s *Scheduler) dispatchDue(ctx context.Context) {
	s.mu.Lock()
	due := s.timeline.popDue(s.now())
	metrics.SchedulerQueueDepth.Set(float64(s.timeline.Len()))
	s.mu.Unlock()

	for _, id := range due {
		go func() {
			if err := s.FetchSource(ctx, id, false, models.APITypeInternal); err != nil {
				logging.Debug().Str("source", id).Err(err).Msg("scheduled fetch failed")
			}
		}()
	}
}

// FetchSource fetches one source now. force bypasses the adapter's
// freshness check; apiType is the stats lane the fetch is billed to.
// Concurrent calls for the same source join the in-flight fetch and
// observe its result, which stays billed to the initiating caller.
func (s *Scheduler) FetchSource(ctx context.Context, sourceID string, force bool, apiType models.APIType) error {
	src, adapter, err := s.registry.Get(sourceID)
	if err != nil {
		return err
	}
	if adapter == nil {
		return models.ErrNoSuchAdapter
	}

	s.mu.Lock()
	st, ok := s.states[sourceID]
	if !ok {
		st = &sourceState{}
		s.states[sourceID] = st
	}
	if st.inFlight != nil {
		// Join the running fetch.
		fl := st.inFlight
		s.mu.Unlock()
		select {
		case <-fl.done:
			return fl.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	fl := &flight{done: make(chan struct{})}
	st.inFlight = fl
	s.mu.Unlock()

	err = s.runFetch(ctx, src, adapter, st, force, apiType)

	s.mu.Lock()
	fl.err = err
	st.inFlight = nil
	next := s.now().Add(s.nextInterval(src, st))
	s.timeline.schedule(sourceID, next)
	metrics.SchedulerQueueDepth.Set(float64(s.timeline.Len()))
	s.mu.Unlock()
	close(fl.done)
	s.wakeLoop()
	return err
}

// runFetch executes the fetch pipeline: worker slot, deadline, adapter
// fetch, cache store, stats, registry writeback.
func (s *Scheduler) runFetch(ctx context.Context, src models.Source, adapter sources.Adapter, st *sourceState, force bool, apiType models.APIType) error {
	if err := s.workers.Acquire(ctx, 1); err != nil {
		return models.NewFetchError(models.FetchCancelled, src.SourceID, err)
	}
	defer s.workers.Release(1)
	metrics.SchedulerActiveWorkers.Inc()
	defer metrics.SchedulerActiveWorkers.Dec()

	deadline := src.UpdateInterval
	if s.cfg.FetchTimeoutCeiling > 0 && (deadline <= 0 || s.cfg.FetchTimeoutCeiling < deadline) {
		deadline = s.cfg.FetchTimeoutCeiling
	}
	fctx := ctx
	if deadline > 0 {
		var cancel context.CancelFunc
		fctx, cancel = context.WithTimeout(ctx, deadline)
		defer cancel()
	}

	start := s.now()
	items, err := adapter.Fetch(fctx, force)
	elapsed := s.now().Sub(start)

	outcome := err
	if err == nil {
		if perr := adapter.TakeParseError(); perr != nil {
			// Stale items were served; the fetch counts as degraded.
			outcome = perr
		}
	}

	now := s.now()
	if err == nil {
		ttl := src.CacheTTL
		if ttl <= 0 {
			ttl = s.cfg.DefaultCacheTTL
		}
		if cerr := s.cache.Set(ctx, cache.SourceKey(src.SourceID), items, ttl); cerr != nil {
			logging.Warn().Str("source", src.SourceID).Err(cerr).Msg("cache store failed")
		}

		s.mu.Lock()
		st.lastSuccess = &now
		st.recentCounts = append(st.recentCounts, len(items))
		if len(st.recentCounts) > activityWindow {
			st.recentCounts = st.recentCounts[1:]
		}
		if outcome == nil {
			st.consecutiveFailures = 0
			st.lastError = ""
		} else {
			st.lastError = outcome.Error()
		}
		s.mu.Unlock()

		status := models.SourceStatusActive
		lastErr := ""
		if outcome != nil {
			status = models.SourceStatusWarning
			lastErr = outcome.Error()
		}
		s.registry.UpdateStatus(src.SourceID, status, lastErr, len(items))
		metrics.SchedulerJobsTotal.WithLabelValues("success").Inc()
	} else {
		s.mu.Lock()
		st.consecutiveFailures++
		st.lastError = err.Error()
		s.mu.Unlock()

		s.registry.UpdateStatus(src.SourceID, models.SourceStatusError, err.Error(), -1)
		metrics.SchedulerJobsTotal.WithLabelValues("failure").Inc()
	}

	if s.stats != nil {
		s.stats.Record(src.SourceID, apiType, elapsed, len(items), outcome)
	}
	return err
}

// nextInterval applies the adaptive formula. Caller holds s.mu.
func (s *Scheduler) nextInterval(src models.Source, st *sourceState) time.Duration {
	base := src.UpdateInterval
	if base <= 0 {
		base = s.cfg.DefaultUpdateInterval
	}
	if !s.cfg.AdaptiveEnabled {
		return base
	}

	interval := float64(base)
	interval *= 1 + s.cfg.KFail*float64(st.consecutiveFailures)
	interval *= 1 - s.cfg.KActivity*activityScore(st.recentCounts)

	next := time.Duration(interval)
	if s.cfg.MinInterval > 0 && next < s.cfg.MinInterval {
		next = s.cfg.MinInterval
	}
	if s.cfg.MaxInterval > 0 && next > s.cfg.MaxInterval {
		next = s.cfg.MaxInterval
	}
	metrics.SchedulerSourceInterval.WithLabelValues(src.SourceID).Set(next.Seconds())
	return next
}

// activityScore normalizes recent per-fetch news counts into [0, 1].
func activityScore(recent []int) float64 {
	if len(recent) == 0 {
		return 0
	}
	sum := 0
	for _, n := range recent {
		sum += n
	}
	score := float64(sum) / float64(len(recent)) / activityFullScale
	if score > 1 {
		score = 1
	}
	return score
}

// Status reports every tracked source's scheduling state.
func (s *Scheduler) Status() []SourceStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]SourceStatus, 0, len(s.states))
	for id, st := range s.states {
		row := SourceStatus{
			SourceID:            id,
			LastSuccess:         st.lastSuccess,
			LastError:           st.lastError,
			ConsecutiveFailures: st.consecutiveFailures,
			InFlight:            st.inFlight != nil,
		}
		if due, ok := s.timeline.dueFor(id); ok {
			row.NextDue = &due
		}
		out = append(out, row)
	}
	return out
}

func (s *Scheduler) wakeLoop() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}
