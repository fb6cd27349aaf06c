// HeatLink - Multi-Source News Aggregation Engine
// Copyright 2026 losesky
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/losesky/heatlink

// Package dedup filters repeated stories across sources by normalized
// title fingerprint. The fingerprint set is bounded; at the high-water
// mark the oldest half is discarded so long-running processes cannot
// grow without limit.
package dedup

import (
	"container/list"
	"strings"
	"sync"
	"unicode"

	"github.com/losesky/heatlink/internal/metrics"
	"github.com/losesky/heatlink/internal/models"
)

// DefaultMaxFingerprints matches the scheduler's default working set.
const DefaultMaxFingerprints = 10000

// Deduplicator remembers title fingerprints in insertion order.
type Deduplicator struct {
	mu    sync.Mutex
	max   int
	order *list.List
	seen  map[string]*list.Element
}

// New builds a deduplicator with the given high-water mark. Values
// below 2 fall back to the default.
func New(maxFingerprints int) *Deduplicator {
	if maxFingerprints < 2 {
		maxFingerprints = DefaultMaxFingerprints
	}
	return &Deduplicator{
		max:   maxFingerprints,
		order: list.New(),
		seen:  make(map[string]*list.Element),
	}
}

// Fingerprint normalizes a title to its comparison form: lowercased,
// punctuation stripped, all whitespace removed. Two differently
// punctuated copies of the same headline collide on purpose.
func Fingerprint(title string) string {
	var b strings.Builder
	b.Grow(len(title))
	for _, r := range strings.ToLower(title) {
		if unicode.IsSpace(r) || unicode.IsPunct(r) || unicode.IsSymbol(r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// IsDuplicate checks and records the title in one step. The first
// caller with a given fingerprint owns it; later callers see true.
// Empty fingerprints (punctuation-only titles) are never duplicates.
func (d *Deduplicator) IsDuplicate(sourceID, title string) bool {
	fp := Fingerprint(title)
	if fp == "" {
		return false
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.seen[fp]; ok {
		metrics.DedupDropped.WithLabelValues(sourceID).Inc()
		return true
	}
	d.seen[fp] = d.order.PushBack(fp)
	if d.order.Len() > d.max {
		d.evictOldestHalf()
	}
	metrics.DedupFingerprints.Set(float64(d.order.Len()))
	return false
}

// Filter returns the items whose titles have not been seen before,
// preserving input order.
func (d *Deduplicator) Filter(items []models.NewsItem) []models.NewsItem {
	out := make([]models.NewsItem, 0, len(items))
	for _, item := range items {
		if !d.IsDuplicate(item.SourceID, item.Title) {
			out = append(out, item)
		}
	}
	return out
}

// Len reports the current fingerprint count.
func (d *Deduplicator) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.order.Len()
}

// Reset drops every fingerprint.
func (d *Deduplicator) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.order.Init()
	d.seen = make(map[string]*list.Element)
	metrics.DedupFingerprints.Set(0)
}

// evictOldestHalf drops the oldest half of the set. Caller holds d.mu.
func (d *Deduplicator) evictOldestHalf() {
	drop := d.order.Len() / 2
	for i := 0; i < drop; i++ {
		front := d.order.Front()
		if front == nil {
			break
		}
		delete(d.seen, front.Value.(string))
		d.order.Remove(front)
	}
}
