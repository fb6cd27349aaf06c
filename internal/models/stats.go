// HeatLink - Multi-Source News Aggregation Engine
// Copyright 2026 losesky
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/losesky/heatlink

package models

import "time"

// APIType records where a fetch originated: scheduler-driven fetches
// are internal, fetches performed on behalf of an HTTP client are
// external.
type APIType string

const (
	APITypeInternal APIType = "internal"
	APITypeExternal APIType = "external"
)

// SourceStats is the in-memory accumulator for one (source, api_type)
// pair. Created lazily on first record, reset after each successful
// flush; on flush failure the values remain and merge with the next
// accumulation window so stats are delayed but never lost.
type SourceStats struct {
	SourceID string  `json:"source_id"`
	APIType  APIType `json:"api_type"`

	TotalRequests     int64  `json:"total_requests"`
	SuccessCount      int64  `json:"success_count"`
	ErrorCount        int64  `json:"error_count"`
	TotalResponseTime int64  `json:"total_response_time_ms"`
	LastResponseTime  int64  `json:"last_response_time_ms"`
	NewsCount         int64  `json:"news_count"`
	LastError         string `json:"last_error,omitempty"`
}

// SuccessRate derives the success ratio at flush time.
func (s *SourceStats) SuccessRate() float64 {
	if s.TotalRequests == 0 {
		return 0
	}
	return float64(s.SuccessCount) / float64(s.TotalRequests)
}

// AvgResponseTime derives the mean response time in milliseconds.
func (s *SourceStats) AvgResponseTime() float64 {
	if s.TotalRequests == 0 {
		return 0
	}
	return float64(s.TotalResponseTime) / float64(s.TotalRequests)
}

// Merge folds another accumulation window into this one. Used when a
// flush fails and the pending delta has to survive into the next cycle.
func (s *SourceStats) Merge(other *SourceStats) {
	s.TotalRequests += other.TotalRequests
	s.SuccessCount += other.SuccessCount
	s.ErrorCount += other.ErrorCount
	s.TotalResponseTime += other.TotalResponseTime
	if other.LastResponseTime > 0 {
		s.LastResponseTime = other.LastResponseTime
	}
	s.NewsCount += other.NewsCount
	if other.LastError != "" {
		s.LastError = other.LastError
	}
}

// StatsRow is one append-only history row in the source_stats table.
type StatsRow struct {
	SourceID         string    `db:"source_id"`
	APIType          APIType   `db:"api_type"`
	SuccessRate      float64   `db:"success_rate"`
	AvgResponseTime  float64   `db:"avg_response_time"`
	LastResponseTime int64     `db:"last_response_time"`
	TotalRequests    int64     `db:"total_requests"`
	ErrorCount       int64     `db:"error_count"`
	NewsCount        int64     `db:"news_count"`
	CreatedAt        time.Time `db:"created_at"`
}
