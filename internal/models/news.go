// HeatLink - Multi-Source News Aggregation Engine
// Copyright 2026 losesky
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/losesky/heatlink

package models

import (
	"crypto/md5" //nolint:gosec // non-cryptographic item fingerprint, stable across restarts
	"encoding/hex"
	"strings"
	"time"
)

// naiveTimeLayout is the wire format for published_at timestamps:
// UTC without a timezone suffix, matching the catalog store convention.
const naiveTimeLayout = "2006-01-02T15:04:05"

// NaiveTime is a UTC timestamp serialized without a timezone suffix.
// It round-trips losslessly through the cache serialization layer.
type NaiveTime struct {
	time.Time
}

// NewNaiveTime normalizes t to UTC and truncates sub-second precision.
func NewNaiveTime(t time.Time) NaiveTime {
	return NaiveTime{t.UTC().Truncate(time.Second)}
}

// MarshalJSON writes the timestamp in UTC-naive form.
func (t NaiveTime) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.UTC().Format(naiveTimeLayout) + `"`), nil
}

// UnmarshalJSON accepts UTC-naive, RFC 3339, and date-only forms.
func (t *NaiveTime) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		return nil
	}
	for _, layout := range []string{naiveTimeLayout, time.RFC3339, "2006-01-02"} {
		if parsed, err := time.Parse(layout, s); err == nil {
			*t = NewNaiveTime(parsed)
			return nil
		}
	}
	return &time.ParseError{Layout: naiveTimeLayout, Value: s}
}

// NewsItem is a single normalized news record. Immutable after creation.
//
// ID is deterministic: the same (source, natural key) pair always yields
// the same ID, so repeated fetches of unchanged source content produce
// identical item sets.
type NewsItem struct {
	ID          string         `json:"id"`
	SourceID    string         `json:"source_id"`
	SourceName  string         `json:"source_name,omitempty"`
	Title       string         `json:"title"`
	URL         string         `json:"url"`
	MobileURL   string         `json:"mobile_url,omitempty"`
	Content     string         `json:"content,omitempty"`
	Summary     string         `json:"summary,omitempty"`
	ImageURL    string         `json:"image_url,omitempty"`
	PublishedAt *NaiveTime     `json:"published_at,omitempty"`
	Extra       map[string]any `json:"extra,omitempty"`
}

// ItemID computes the deterministic item ID for a source and natural key
// (URL, story id, or title hash depending on the adapter family).
func ItemID(sourceID, naturalKey string) string {
	sum := md5.Sum([]byte(sourceID + ":" + naturalKey)) //nolint:gosec
	return hex.EncodeToString(sum[:])
}

// ExtraString returns a string field from Extra, or "" when absent.
func (n *NewsItem) ExtraString(key string) string {
	if n.Extra == nil {
		return ""
	}
	if v, ok := n.Extra[key].(string); ok {
		return v
	}
	return ""
}

// IsTop reports whether the item carries the pinned/top marker.
func (n *NewsItem) IsTop() bool {
	if n.Extra == nil {
		return false
	}
	switch v := n.Extra["is_top"].(type) {
	case bool:
		return v
	case string:
		return v == "true" || v == "1"
	case float64:
		return v != 0
	}
	return false
}
