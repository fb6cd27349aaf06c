// HeatLink - Multi-Source News Aggregation Engine
// Copyright 2026 losesky
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/losesky/heatlink

package sources

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/losesky/heatlink/internal/fetch"
	"github.com/losesky/heatlink/internal/models"
)

// jsonAPIAdapter maps a JSON endpoint onto news items by dot-path
// field extraction configured per source.
type jsonAPIAdapter struct {
	*baseAdapter
	cfg models.JSONAPIConfig
}

func newJSONAPIAdapter(src models.Source, client *fetch.Client, concurrency int64) (*jsonAPIAdapter, error) {
	var cfg models.JSONAPIConfig
	if err := decodeConfig(src.Config, &cfg); err != nil {
		return nil, fmt.Errorf("source %s: api config: %w", src.SourceID, err)
	}
	apiURL := cfg.APIURL
	if apiURL == "" {
		apiURL = src.URL
	}
	if apiURL == "" {
		return nil, fmt.Errorf("source %s: api config missing api_url", src.SourceID)
	}
	if cfg.TitleField == "" {
		cfg.TitleField = "title"
	}
	if cfg.URLField == "" {
		cfg.URLField = "url"
	}

	a := &jsonAPIAdapter{
		baseAdapter: newBaseAdapter(src, client, concurrency),
		cfg:         cfg,
	}
	a.urls = append([]string{apiURL}, cfg.BackupURLs...)
	a.fallbackAPIs = src.ConfigStrings("fallback_apis")
	a.fetchOne = a.fetchEndpoint
	return a, nil
}

func (a *jsonAPIAdapter) fetchEndpoint(ctx context.Context, rawURL string, force bool) ([]models.NewsItem, error) {
	header := http.Header{}
	for k, v := range a.cfg.HeadersExtra {
		header.Set(k, v)
	}
	resp, err := a.client.Do(ctx, &fetch.Request{
		SourceID:   a.source.SourceID,
		Method:     http.MethodGet,
		URL:        rawURL,
		Header:     header,
		UseCache:   true,
		Refresh:    force,
		ForceProxy: a.source.NeedsProxy,
		ProxyGroup: a.source.ProxyGroup,
	})
	if err != nil {
		return nil, err
	}
	return a.parsePayload(resp.Body)
}

func (a *jsonAPIAdapter) parsePayload(body []byte) ([]models.NewsItem, error) {
	if len(body) == 0 {
		return []models.NewsItem{}, nil
	}
	var root any
	if err := json.Unmarshal(body, &root); err != nil {
		return nil, models.NewFetchError(models.FetchDecode, a.source.SourceID, err)
	}

	rows, err := itemsAtPath(root, a.cfg.ItemsPath)
	if err != nil {
		return nil, models.NewFetchError(models.FetchParse, a.source.SourceID, err)
	}

	items := make([]models.NewsItem, 0, len(rows))
	for _, row := range rows {
		obj, ok := row.(map[string]any)
		if !ok {
			continue
		}
		title := strings.TrimSpace(fieldString(obj, a.cfg.TitleField))
		if title == "" {
			continue
		}
		link := fieldString(obj, a.cfg.URLField)

		item := models.NewsItem{
			SourceID:   a.source.SourceID,
			SourceName: a.source.Name,
			Title:      title,
			URL:        link,
			ImageURL:   fieldString(obj, a.cfg.ImageField),
			Summary:    fieldString(obj, a.cfg.SummaryField),
			Content:    fieldString(obj, a.cfg.ContentField),
		}
		item.ID = models.ItemID(a.source.SourceID, a.naturalKey(obj, link, title))

		if a.cfg.DateField != "" {
			if ts, ok := parseAPITime(fieldAt(obj, a.cfg.DateField), a.cfg.DateFormat); ok {
				nt := models.NewNaiveTime(ts)
				item.PublishedAt = &nt
			}
		}
		items = append(items, item)
	}
	return items, nil
}

// naturalKey picks the identity field in precedence order: the
// configured id field, then the URL, then the row's canonical JSON.
func (a *jsonAPIAdapter) naturalKey(obj map[string]any, link, title string) string {
	if a.cfg.IDField != "" {
		if id := fieldString(obj, a.cfg.IDField); id != "" {
			return id
		}
	}
	if link != "" {
		return link
	}
	if data, err := json.Marshal(obj); err == nil {
		return string(data)
	}
	return title
}

// itemsAtPath walks a dot path through nested objects to the item
// array. An empty path means the root itself is the array.
func itemsAtPath(root any, path string) ([]any, error) {
	node := root
	if path != "" {
		for _, part := range strings.Split(path, ".") {
			obj, ok := node.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("items path %q: %q is not an object", path, part)
			}
			node, ok = obj[part]
			if !ok {
				return nil, fmt.Errorf("items path %q: missing key %q", path, part)
			}
		}
	}
	rows, ok := node.([]any)
	if !ok {
		return nil, fmt.Errorf("items path %q: not an array", path)
	}
	return rows, nil
}

// fieldAt resolves a dot path inside one item row.
func fieldAt(obj map[string]any, path string) any {
	var node any = obj
	for _, part := range strings.Split(path, ".") {
		m, ok := node.(map[string]any)
		if !ok {
			return nil
		}
		node, ok = m[part]
		if !ok {
			return nil
		}
	}
	return node
}

func fieldString(obj map[string]any, path string) string {
	if path == "" {
		return ""
	}
	switch v := fieldAt(obj, path).(type) {
	case string:
		return v
	case float64:
		if v == float64(int64(v)) {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case nil:
		return ""
	default:
		if data, err := json.Marshal(v); err == nil {
			return string(data)
		}
		return ""
	}
}

// parseAPITime tries the configured layout, then RFC 3339, UTC-naive,
// RFC 1123, and epoch seconds or milliseconds. Unparseable dates are
// dropped rather than failing the item.
func parseAPITime(v any, format string) (time.Time, bool) {
	switch t := v.(type) {
	case float64:
		if t > 1e12 {
			return time.UnixMilli(int64(t)).UTC(), true
		}
		if t > 0 {
			return time.Unix(int64(t), 0).UTC(), true
		}
		return time.Time{}, false
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return time.Time{}, false
		}
		layouts := []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05", time.RFC1123, time.RFC1123Z, "2006-01-02"}
		if format != "" {
			layouts = append([]string{format}, layouts...)
		}
		for _, layout := range layouts {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts, true
			}
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return parseAPITime(float64(n), "")
		}
	}
	return time.Time{}, false
}
