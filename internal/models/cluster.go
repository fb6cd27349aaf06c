// HeatLink - Multi-Source News Aggregation Engine
// Copyright 2026 losesky
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/losesky/heatlink

package models

import "time"

// Cluster groups items the aggregator considers to be about the same
// story. Ephemeral: rebuilt from cached per-source lists, never persisted.
type Cluster struct {
	MainItem     NewsItem   `json:"main_item"`
	RelatedItems []NewsItem `json:"related_items"`
	Sources      []string   `json:"sources"`
	Keywords     []string   `json:"keywords,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	Score        float64    `json:"score"`
}

// NewsCount is the total number of items in the cluster.
func (c *Cluster) NewsCount() int { return len(c.RelatedItems) + 1 }

// CalculateScore recomputes the hotness score at time now:
//
//	(related_count + sources_count) × time_decay × top_bonus
//
// where time_decay is linear from 2.0 at age 0h down to 1.0 at age 24h
// and flat beyond, and top_bonus is 1.5 when the main item is pinned.
func (c *Cluster) CalculateScore(now time.Time) {
	base := float64(len(c.RelatedItems) + len(c.Sources))

	decay := 1.0
	if c.MainItem.PublishedAt != nil {
		age := now.Sub(c.MainItem.PublishedAt.Time).Hours()
		if age < 0 {
			age = 0
		}
		if age <= 24 {
			decay = 2.0 - age/24
		}
	}

	bonus := 1.0
	if c.MainItem.IsTop() {
		bonus = 1.5
	}

	c.Score = base * decay * bonus
}

// AddItem attaches a related item, tracking its source and touching
// the update timestamp.
func (c *Cluster) AddItem(item NewsItem, now time.Time) {
	c.RelatedItems = append(c.RelatedItems, item)
	found := false
	for _, s := range c.Sources {
		if s == item.SourceID {
			found = true
			break
		}
	}
	if !found {
		c.Sources = append(c.Sources, item.SourceID)
	}
	c.UpdatedAt = now
	c.CalculateScore(now)
}
