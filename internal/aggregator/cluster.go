// HeatLink - Multi-Source News Aggregation Engine
// Copyright 2026 losesky
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/losesky/heatlink

package aggregator

import (
	"math"
	"sort"
	"time"

	"github.com/losesky/heatlink/internal/models"
)

// Cluster groups items judged to be about the same story. Ephemeral:
// clusters live in memory and are rebuilt as items age out.
type Cluster struct {
	MainItem     models.NewsItem   `json:"main_item"`
	RelatedItems []models.NewsItem `json:"related_items"`
	Sources      []string          `json:"sources"`
	Keywords     []string          `json:"keywords"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
	Score        float64           `json:"score"`

	terms map[string]int
}

func newCluster(item models.NewsItem, terms map[string]int, now time.Time) *Cluster {
	c := &Cluster{
		MainItem:     item,
		RelatedItems: []models.NewsItem{},
		Sources:      []string{item.SourceID},
		CreatedAt:    now,
		UpdatedAt:    now,
		terms:        terms,
	}
	c.refreshKeywords()
	return c
}

// attach adds a related item and folds its terms into the cluster's
// vocabulary so later similarity checks see the whole story.
func (c *Cluster) attach(item models.NewsItem, terms map[string]int, now time.Time) {
	c.RelatedItems = append(c.RelatedItems, item)
	c.UpdatedAt = now
	for t, n := range terms {
		c.terms[t] += n
	}
	if !c.hasSource(item.SourceID) {
		c.Sources = append(c.Sources, item.SourceID)
	}
	c.refreshKeywords()
}

func (c *Cluster) hasSource(id string) bool {
	for _, s := range c.Sources {
		if s == id {
			return true
		}
	}
	return false
}

// refreshKeywords keeps the top terms by frequency as the cluster's
// display keywords.
func (c *Cluster) refreshKeywords() {
	type tc struct {
		term  string
		count int
	}
	ranked := make([]tc, 0, len(c.terms))
	for t, n := range c.terms {
		ranked = append(ranked, tc{t, n})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].count != ranked[j].count {
			return ranked[i].count > ranked[j].count
		}
		return ranked[i].term < ranked[j].term
	})
	limit := 8
	if len(ranked) < limit {
		limit = len(ranked)
	}
	keywords := make([]string, limit)
	for i := 0; i < limit; i++ {
		keywords[i] = ranked[i].term
	}
	c.Keywords = keywords
}

// computeScore is (related + sources) scaled by time decay and the top
// bonus. Decay runs linearly from 2.0 at age zero to 1.0 at 24 hours
// and stays flat after that.
func (c *Cluster) computeScore(now time.Time) float64 {
	base := float64(len(c.RelatedItems) + len(c.Sources))
	age := now.Sub(c.CreatedAt)
	decay := 2.0 - age.Hours()/24.0
	if decay < 1.0 {
		decay = 1.0
	}
	if c.MainItem.IsTop() {
		base *= 1.5
	}
	score := base * decay
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return 0
	}
	return score
}

// itemText is the similarity document for an item.
func itemText(item models.NewsItem) string {
	if item.Summary != "" {
		return item.Title + " " + item.Summary
	}
	return item.Title
}
