// HeatLink - Multi-Source News Aggregation Engine
// Copyright 2026 losesky
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/losesky/heatlink

// Package aggregator clusters cached news items into hot topics by
// title similarity and exposes hot, category, and search views.
package aggregator

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/losesky/heatlink/internal/cache"
	"github.com/losesky/heatlink/internal/config"
	"github.com/losesky/heatlink/internal/dedup"
	"github.com/losesky/heatlink/internal/logging"
	"github.com/losesky/heatlink/internal/metrics"
	"github.com/losesky/heatlink/internal/models"
)

// SourceLister supplies the ids whose cached lists feed the clusters.
type SourceLister interface {
	All() []models.Source
}

// Aggregator builds clusters from the per-source cache entries. Items
// are attached incrementally: an item id already clustered is skipped
// on later updates. A cross-source title duplicate still joins its
// cluster, so the cluster's source list reflects every outlet carrying
// the story, but it never starts a cluster of its own.
type Aggregator struct {
	cfg     config.AggregatorConfig
	cache   *cache.Manager
	sources SourceLister
	dedup   *dedup.Deduplicator
	now     func() time.Time

	mu        sync.RWMutex
	clusters  []*Cluster
	seenItems map[string]struct{}
	lastRun   time.Time
}

// New wires an aggregator over the cache and source set.
func New(cfg config.AggregatorConfig, cacheMgr *cache.Manager, sources SourceLister, d *dedup.Deduplicator) *Aggregator {
	if cfg.SimilarityThreshold <= 0 {
		cfg.SimilarityThreshold = 0.6
	}
	if cfg.MaxClusters <= 0 {
		cfg.MaxClusters = 100
	}
	return &Aggregator{
		cfg:       cfg,
		cache:     cacheMgr,
		sources:   sources,
		dedup:     d,
		now:       time.Now,
		seenItems: make(map[string]struct{}),
	}
}

// Update pulls the current per-source cached lists and folds new items
// into the cluster set. With force=false an update inside the
// configured interval is a no-op.
func (a *Aggregator) Update(ctx context.Context, force bool) error {
	a.mu.Lock()
	if !force && a.cfg.UpdateInterval > 0 && !a.lastRun.IsZero() &&
		a.now().Sub(a.lastRun) < a.cfg.UpdateInterval {
		a.mu.Unlock()
		return nil
	}
	a.lastRun = a.now()
	a.mu.Unlock()

	start := a.now()
	merged := a.collectItems(ctx)

	added := 0
	for _, item := range merged {
		if a.AddItem(item) {
			added++
		}
	}

	a.mu.Lock()
	a.expireClusters()
	count := len(a.clusters)
	a.mu.Unlock()

	metrics.AggregatorClusters.Set(float64(count))
	metrics.AggregatorUpdateDuration.Observe(a.now().Sub(start).Seconds())
	logging.Debug().Int("merged", len(merged)).Int("added", added).
		Int("clusters", count).Msg("aggregator update")
	return ctx.Err()
}

// collectItems reads every source's cached list from the cache manager.
func (a *Aggregator) collectItems(ctx context.Context) []models.NewsItem {
	var merged []models.NewsItem
	for _, src := range a.sources.All() {
		var items []models.NewsItem
		if !a.cache.Get(ctx, cache.SourceKey(src.SourceID), &items) {
			continue
		}
		merged = append(merged, items...)
	}
	return merged
}

// AddItem clusters one item. Returns true when the item was attached
// or started a cluster, false when it was skipped as already seen or
// as a cross-source duplicate.
func (a *Aggregator) AddItem(item models.NewsItem) bool {
	if item.Title == "" {
		return false
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.seenItems[item.ID]; ok {
		return false
	}
	a.seenItems[item.ID] = struct{}{}

	dup := a.dedup != nil && a.dedup.IsDuplicate(item.SourceID, item.Title)

	terms := termCounts(tokenize(itemText(item)))
	now := a.now()

	best, bestSim := a.bestCluster(item, terms)
	if best != nil && bestSim >= a.cfg.SimilarityThreshold {
		best.attach(item, terms, now)
		return true
	}
	if dup {
		// Duplicate title whose cluster is gone (evicted or expired):
		// do not resurrect the story from a repeat.
		return false
	}

	a.clusters = append(a.clusters, newCluster(item, terms, now))
	if len(a.clusters) > a.cfg.MaxClusters {
		a.evictLowest()
	}
	return true
}

// bestCluster finds the highest-similarity cluster. Caller holds a.mu.
func (a *Aggregator) bestCluster(item models.NewsItem, terms map[string]int) (*Cluster, float64) {
	var best *Cluster
	bestSim := 0.0
	idf := a.idf()
	for _, c := range a.clusters {
		sim := cosineTFIDF(terms, c.terms, idf)
		if sim == 0 && (len(terms) == 0 || len(c.terms) == 0) {
			sim = lcsRatio(item.Title, c.MainItem.Title)
		}
		if sim > bestSim {
			best, bestSim = c, sim
		}
	}
	return best, bestSim
}

// idf computes inverse document frequency over the current clusters,
// each cluster counting as one document. Caller holds a.mu.
func (a *Aggregator) idf() map[string]float64 {
	df := make(map[string]int)
	for _, c := range a.clusters {
		for t := range c.terms {
			df[t]++
		}
	}
	n := float64(len(a.clusters) + 1)
	out := make(map[string]float64, len(df))
	for t, d := range df {
		out[t] = math.Log(n/float64(d)) + 1
	}
	return out
}

// cosineTFIDF scores two term vectors weighted by idf. Terms unseen in
// any cluster weigh as a fresh document.
func cosineTFIDF(a, b map[string]int, idf map[string]float64) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	weight := func(t string, n int) float64 {
		w, ok := idf[t]
		if !ok {
			w = 1
		}
		return float64(n) * w
	}
	var dot, normA, normB float64
	for t, n := range a {
		wa := weight(t, n)
		normA += wa * wa
		if m, ok := b[t]; ok {
			dot += wa * weight(t, m)
		}
	}
	for t, n := range b {
		wb := weight(t, n)
		normB += wb * wb
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// evictLowest removes the lowest-scoring cluster. Caller holds a.mu.
func (a *Aggregator) evictLowest() {
	now := a.now()
	lowest, lowestScore := -1, math.MaxFloat64
	for i, c := range a.clusters {
		if s := c.computeScore(now); s < lowestScore {
			lowest, lowestScore = i, s
		}
	}
	if lowest < 0 {
		return
	}
	a.forgetCluster(a.clusters[lowest])
	a.clusters = append(a.clusters[:lowest], a.clusters[lowest+1:]...)
}

// expireClusters drops clusters not touched for 48 hours. Caller
// holds a.mu.
func (a *Aggregator) expireClusters() {
	cutoff := a.now().Add(-48 * time.Hour)
	kept := a.clusters[:0]
	for _, c := range a.clusters {
		if c.UpdatedAt.After(cutoff) {
			kept = append(kept, c)
			continue
		}
		a.forgetCluster(c)
	}
	a.clusters = kept
}

// forgetCluster releases item ids so a story can re-cluster after its
// cluster is evicted. Caller holds a.mu.
func (a *Aggregator) forgetCluster(c *Cluster) {
	delete(a.seenItems, c.MainItem.ID)
	for _, it := range c.RelatedItems {
		delete(a.seenItems, it.ID)
	}
}

// Hot recomputes scores and returns the top clusters.
func (a *Aggregator) Hot(limit int) []Cluster {
	return a.view(limit, func(*Cluster) bool { return true })
}

// ByCategory returns top clusters whose main item belongs to a source
// in the given category.
func (a *Aggregator) ByCategory(category string, limit int) []Cluster {
	bySource := make(map[string]string)
	for _, src := range a.sources.All() {
		bySource[src.SourceID] = src.Category
	}
	return a.view(limit, func(c *Cluster) bool {
		return bySource[c.MainItem.SourceID] == category
	})
}

// Search returns clusters whose main title, keywords, or related
// titles contain the query, case-insensitively.
func (a *Aggregator) Search(query string, limit int) []Cluster {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return []Cluster{}
	}
	return a.view(limit, func(c *Cluster) bool {
		if strings.Contains(strings.ToLower(c.MainItem.Title), q) {
			return true
		}
		for _, kw := range c.Keywords {
			if strings.Contains(kw, q) {
				return true
			}
		}
		for _, it := range c.RelatedItems {
			if strings.Contains(strings.ToLower(it.Title), q) {
				return true
			}
		}
		return false
	})
}

// ClusterCount reports the current cluster count.
func (a *Aggregator) ClusterCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.clusters)
}

// view snapshots matching clusters sorted by score descending.
func (a *Aggregator) view(limit int, keep func(*Cluster) bool) []Cluster {
	a.mu.RLock()
	defer a.mu.RUnlock()

	now := a.now()
	out := make([]Cluster, 0, len(a.clusters))
	for _, c := range a.clusters {
		if !keep(c) {
			continue
		}
		snap := *c
		snap.Score = c.computeScore(now)
		snap.terms = nil
		snap.RelatedItems = append([]models.NewsItem(nil), c.RelatedItems...)
		snap.Sources = append([]string(nil), c.Sources...)
		snap.Keywords = append([]string(nil), c.Keywords...)
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].MainItem.ID < out[j].MainItem.ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
