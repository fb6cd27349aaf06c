// HeatLink - Multi-Source News Aggregation Engine
// Copyright 2026 losesky
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/losesky/heatlink

package models

import (
	"testing"
	"time"

	"github.com/goccy/go-json"
)

func TestItemIDDeterministic(t *testing.T) {
	a := ItemID("demo_json", "http://x/a")
	b := ItemID("demo_json", "http://x/a")
	if a != b {
		t.Errorf("Expected identical ids, got %s and %s", a, b)
	}
	if len(a) != 32 {
		t.Errorf("Expected 32-char hex id, got %q", a)
	}
	if ItemID("other", "http://x/a") == a {
		t.Error("Expected different sources to yield different ids")
	}
}

func TestNewsItemRoundTrip(t *testing.T) {
	published := NewNaiveTime(time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC))
	item := NewsItem{
		ID:          ItemID("demo", "story-1"),
		SourceID:    "demo",
		SourceName:  "Demo Source",
		Title:       "T1",
		URL:         "http://x/a",
		MobileURL:   "http://m.x/a",
		Summary:     "a summary",
		PublishedAt: &published,
		Extra:       map[string]any{"rank": "1", "is_top": true},
	}

	data, err := json.Marshal(item)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var decoded NewsItem
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if decoded.ID != item.ID || decoded.Title != item.Title || decoded.URL != item.URL {
		t.Errorf("Round trip mismatch: %+v", decoded)
	}
	if decoded.PublishedAt == nil || !decoded.PublishedAt.Equal(published.Time) {
		t.Errorf("Expected published_at %v, got %v", published, decoded.PublishedAt)
	}
	if !decoded.IsTop() {
		t.Error("Expected is_top to survive round trip")
	}
}

func TestNaiveTimeFormat(t *testing.T) {
	ts := NewNaiveTime(time.Date(2026, 1, 2, 15, 4, 5, 0, time.FixedZone("CST", 8*3600)))
	data, err := json.Marshal(ts)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	// 15:04:05 +08:00 is 07:04:05 UTC; no timezone suffix on the wire.
	if string(data) != `"2026-01-02T07:04:05"` {
		t.Errorf("Expected UTC-naive form, got %s", data)
	}
}

func TestNaiveTimeAcceptsRFC3339(t *testing.T) {
	var ts NaiveTime
	if err := json.Unmarshal([]byte(`"2026-01-02T07:04:05Z"`), &ts); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if ts.Hour() != 7 {
		t.Errorf("Expected hour 7, got %d", ts.Hour())
	}
}

func TestSourceValidate(t *testing.T) {
	tests := []struct {
		name    string
		source  Source
		wantErr bool
	}{
		{"valid", Source{SourceID: "a", UpdateInterval: 60 * time.Second, CacheTTL: 30 * time.Second}, false},
		{"zero intervals", Source{SourceID: "a"}, false},
		{"ttl exceeds interval", Source{SourceID: "a", UpdateInterval: 10 * time.Second, CacheTTL: 30 * time.Second}, true},
		{"empty id", Source{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.source.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestClusterScore(t *testing.T) {
	now := time.Now()
	fresh := NewNaiveTime(now)
	cluster := Cluster{
		MainItem:  NewsItem{SourceID: "s1", Title: "Breaking", PublishedAt: &fresh, Extra: map[string]any{"is_top": true}},
		Sources:   []string{"s1"},
		CreatedAt: now,
		UpdatedAt: now,
	}
	cluster.AddItem(NewsItem{SourceID: "s2", Title: "Breaking too"}, now)

	// 1 related + 2 sources, decay ~2.0 at age 0, top bonus 1.5.
	want := 3.0 * 2.0 * 1.5
	if cluster.Score < want-0.1 || cluster.Score > want+0.1 {
		t.Errorf("Expected score near %.1f, got %.2f", want, cluster.Score)
	}

	if len(cluster.Sources) != 2 {
		t.Errorf("Expected 2 sources, got %v", cluster.Sources)
	}
	cluster.AddItem(NewsItem{SourceID: "s2", Title: "dup source"}, now)
	if len(cluster.Sources) != 2 {
		t.Error("Expected duplicate source to not be re-added")
	}
}

func TestClusterScoreDecayFlatBeyond24h(t *testing.T) {
	now := time.Now()
	old := NewNaiveTime(now.Add(-48 * time.Hour))
	cluster := Cluster{
		MainItem: NewsItem{SourceID: "s1", PublishedAt: &old},
		Sources:  []string{"s1"},
	}
	cluster.CalculateScore(now)
	if cluster.Score != 1.0 {
		t.Errorf("Expected flat decay score 1.0 beyond 24h, got %.2f", cluster.Score)
	}
}

func TestStatsMerge(t *testing.T) {
	a := &SourceStats{SourceID: "s", APIType: APITypeInternal, TotalRequests: 2, SuccessCount: 1, ErrorCount: 1, TotalResponseTime: 300, LastError: "boom"}
	b := &SourceStats{TotalRequests: 1, SuccessCount: 1, TotalResponseTime: 100, LastResponseTime: 100, NewsCount: 5}
	a.Merge(b)

	if a.TotalRequests != 3 || a.SuccessCount != 2 || a.ErrorCount != 1 {
		t.Errorf("Merge counts wrong: %+v", a)
	}
	if a.LastError != "boom" {
		t.Error("Expected LastError preserved when other window had none")
	}
	if rate := a.SuccessRate(); rate < 0.66 || rate > 0.67 {
		t.Errorf("Expected success rate 2/3, got %f", rate)
	}
}
