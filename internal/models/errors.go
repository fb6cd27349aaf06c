// HeatLink - Multi-Source News Aggregation Engine
// Copyright 2026 losesky
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/losesky/heatlink

package models

import (
	"errors"
	"fmt"
)

// Sentinel errors surfaced at component boundaries.
var (
	// ErrCatalogUnavailable means the metadata store is unreachable or
	// its rows are malformed. Triggers fallback mode at startup.
	ErrCatalogUnavailable = errors.New("catalog unavailable")

	// ErrNoSuchSource means the caller asked for an unknown source_id.
	ErrNoSuchSource = errors.New("no such source")

	// ErrNoSuchAdapter means the catalog knows the source but no adapter
	// factory is compiled in. Logged, source marked INACTIVE.
	ErrNoSuchAdapter = errors.New("no such adapter")

	// ErrCacheUnavailable means the remote cache tier is down. The memory
	// tier remains authoritative until reconnect.
	ErrCacheUnavailable = errors.New("cache unavailable")

	// ErrProxyExhausted means no healthy proxy exists in the requested group.
	ErrProxyExhausted = errors.New("proxy exhausted")
)

// FetchErrorKind classifies fetch runtime failures.
type FetchErrorKind string

// Fetch failure classes.
const (
	FetchConnection FetchErrorKind = "connection"
	FetchTimeout    FetchErrorKind = "timeout"
	FetchHTTPStatus FetchErrorKind = "http_status"
	FetchDecode     FetchErrorKind = "decode"
	FetchParse      FetchErrorKind = "parse"
	FetchCancelled  FetchErrorKind = "cancelled"
)

// FetchError is the aggregated failure an adapter reports when every
// retry, backup URL, and fallback API has been exhausted. Adapters do
// not fabricate items; they fail with this.
type FetchError struct {
	Kind       FetchErrorKind
	SourceID   string
	StatusCode int
	Cause      error
}

func (e *FetchError) Error() string {
	if e.Kind == FetchHTTPStatus {
		return fmt.Sprintf("fetch %s: http status %d", e.SourceID, e.StatusCode)
	}
	if e.Cause != nil {
		return fmt.Sprintf("fetch %s: %s: %v", e.SourceID, e.Kind, e.Cause)
	}
	return fmt.Sprintf("fetch %s: %s", e.SourceID, e.Kind)
}

func (e *FetchError) Unwrap() error { return e.Cause }

// NewFetchError builds a FetchError preserving the original cause.
func NewFetchError(kind FetchErrorKind, sourceID string, cause error) *FetchError {
	return &FetchError{Kind: kind, SourceID: sourceID, Cause: cause}
}

// IsFetchError reports whether err wraps a FetchError and returns it.
func IsFetchError(err error) (*FetchError, bool) {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}
