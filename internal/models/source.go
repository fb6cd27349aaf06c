// HeatLink - Multi-Source News Aggregation Engine
// Copyright 2026 losesky
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/losesky/heatlink

package models

import (
	"fmt"
	"time"
)

// SourceType identifies the adapter family a source belongs to.
type SourceType string

// Adapter families.
const (
	SourceTypeHTML    SourceType = "HTML"
	SourceTypeAPI     SourceType = "API"
	SourceTypeRSS     SourceType = "RSS"
	SourceTypeBrowser SourceType = "BROWSER"
	SourceTypeMixed   SourceType = "MIXED"
)

// SourceStatus is the operational state of a catalog entry.
type SourceStatus string

// Source states. A source without a compiled-in adapter factory is
// always INACTIVE, never an adapter-missing error at fetch time.
const (
	SourceStatusActive   SourceStatus = "ACTIVE"
	SourceStatusInactive SourceStatus = "INACTIVE"
	SourceStatusError    SourceStatus = "ERROR"
	SourceStatusWarning  SourceStatus = "WARNING"
)

// Source is one catalog row: where news items originate and how often
// the engine should ask.
type Source struct {
	SourceID    string       `json:"source_id" db:"id"`
	Name        string       `json:"name" db:"name"`
	Description string       `json:"description,omitempty" db:"description"`
	URL         string       `json:"url" db:"url"`
	Type        SourceType   `json:"type" db:"type"`
	Category    string       `json:"category,omitempty" db:"category"`
	Country     string       `json:"country,omitempty" db:"country"`
	Language    string       `json:"language,omitempty" db:"language"`
	Status      SourceStatus `json:"status" db:"status"`

	UpdateInterval time.Duration `json:"update_interval_seconds" db:"-"`
	CacheTTL       time.Duration `json:"cache_ttl_seconds" db:"-"`

	Config     map[string]any `json:"config,omitempty" db:"-"`
	NeedsProxy bool           `json:"needs_proxy" db:"needs_proxy"`
	ProxyGroup string         `json:"proxy_group,omitempty" db:"proxy_group"`

	LastUpdated *time.Time `json:"last_updated,omitempty" db:"last_updated"`
	LastError   string     `json:"last_error,omitempty" db:"last_error"`
	NewsCount   int        `json:"news_count" db:"news_count"`
}

// Validate enforces the catalog invariants on a single row.
func (s *Source) Validate() error {
	if s.SourceID == "" {
		return fmt.Errorf("source: empty source_id")
	}
	if s.UpdateInterval < 0 || s.CacheTTL < 0 {
		return fmt.Errorf("source %s: negative interval", s.SourceID)
	}
	if s.UpdateInterval < s.CacheTTL {
		return fmt.Errorf("source %s: update_interval %s < cache_ttl %s",
			s.SourceID, s.UpdateInterval, s.CacheTTL)
	}
	return nil
}

// ConfigString returns a string option from the opaque config map.
func (s *Source) ConfigString(key string) string {
	if v, ok := s.Config[key].(string); ok {
		return v
	}
	return ""
}

// ConfigStrings returns a string-slice option, accepting both native
// slices and []any from decoded JSON.
func (s *Source) ConfigStrings(key string) []string {
	switch v := s.Config[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if str, ok := e.(string); ok {
				out = append(out, str)
			}
		}
		return out
	}
	return nil
}

// HTMLConfig enumerates the recognized options for the HTML family.
type HTMLConfig struct {
	BaseURL       string   `json:"base_url"`
	BackupURLs    []string `json:"backup_urls,omitempty"`
	ItemSelector  string   `json:"item_selector"`
	TitleSelector string   `json:"title_selector"`
	LinkSelector  string   `json:"link_selector,omitempty"`
	DateSelector  string   `json:"date_selector,omitempty"`
	ImageSelector string   `json:"image_selector,omitempty"`
	DateFormat    string   `json:"date_format,omitempty"`
	NeedsProxy    bool     `json:"needs_proxy,omitempty"`
}

// JSONAPIConfig enumerates the recognized options for the JSON-API family.
type JSONAPIConfig struct {
	APIURL       string            `json:"api_url"`
	BackupURLs   []string          `json:"backup_urls,omitempty"`
	ItemsPath    string            `json:"items_path"`
	IDField      string            `json:"id_field,omitempty"`
	TitleField   string            `json:"title_field"`
	URLField     string            `json:"url_field"`
	DateField    string            `json:"date_field,omitempty"`
	DateFormat   string            `json:"date_format,omitempty"`
	ImageField   string            `json:"image_field,omitempty"`
	SummaryField string            `json:"summary_field,omitempty"`
	ContentField string            `json:"content_field,omitempty"`
	HeadersExtra map[string]string `json:"headers_extra,omitempty"`
}

// RSSConfig enumerates the recognized options for the RSS/Atom family.
type RSSConfig struct {
	FeedURL    string   `json:"feed_url"`
	BackupURLs []string `json:"backup_urls,omitempty"`
	BaseURL    string   `json:"base_url,omitempty"`
	NeedsProxy bool     `json:"needs_proxy,omitempty"`
}

// BrowserConfig enumerates the recognized options for the browser family.
type BrowserConfig struct {
	StartURL          string `json:"start_url"`
	WaitSelector      string `json:"wait_selector,omitempty"`
	TimeoutMs         int    `json:"timeout_ms,omitempty"`
	DesktopWindowSize string `json:"desktop_window_size,omitempty"`
}
