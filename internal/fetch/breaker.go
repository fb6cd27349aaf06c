// HeatLink - Multi-Source News Aggregation Engine
// Copyright 2026 losesky
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/losesky/heatlink

package fetch

import (
	"sync"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/losesky/heatlink/internal/logging"
	"github.com/losesky/heatlink/internal/metrics"
)

// breakerSet lazily creates one circuit breaker per upstream host.
// A host that keeps failing is cut off for a cooldown period instead
// of being hammered by every scheduled fetch.
type breakerSet struct {
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[*Response]
}

func newBreakerSet() *breakerSet {
	return &breakerSet{breakers: make(map[string]*gobreaker.CircuitBreaker[*Response])}
}

// get returns the breaker for host, creating it on first use.
// Opens after a 60% failure rate over at least 10 requests; allows 3
// probe requests in half-open state; recovers after 2 minutes.
func (s *breakerSet) get(host string) *gobreaker.CircuitBreaker[*Response] {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cb, ok := s.breakers[host]; ok {
		return cb
	}

	metrics.SetBreakerState(host, 0)
	cb := gobreaker.NewCircuitBreaker[*Response](gobreaker.Settings{
		Name:        host,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			if failureRatio >= 0.6 {
				logging.Warn().Str("host", host).
					Uint32("failures", counts.TotalFailures).
					Float64("failure_rate", failureRatio*100).
					Msg("opening circuit for host")
				return true
			}
			return false
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			fromStr, toStr := breakerStateString(from), breakerStateString(to)
			logging.Info().Str("host", name).Str("from", fromStr).Str("to", toStr).
				Msg("circuit breaker state transition")
			metrics.SetBreakerState(name, breakerStateInt(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, fromStr, toStr).Inc()
		},
	})
	s.breakers[host] = cb
	return cb
}

func breakerStateInt(state gobreaker.State) int {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

func breakerStateString(state gobreaker.State) string {
	switch state {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}
