// HeatLink - Multi-Source News Aggregation Engine
// Copyright 2026 losesky
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/losesky/heatlink

package sources

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/mmcdole/gofeed"

	"github.com/losesky/heatlink/internal/fetch"
	"github.com/losesky/heatlink/internal/models"
)

// rssAdapter reads RSS and Atom feeds. gofeed normalizes both formats
// into one item shape, so the adapter never branches on feed flavor.
type rssAdapter struct {
	*baseAdapter
	cfg models.RSSConfig
}

func newRSSAdapter(src models.Source, client *fetch.Client, concurrency int64) (*rssAdapter, error) {
	var cfg models.RSSConfig
	if err := decodeConfig(src.Config, &cfg); err != nil {
		return nil, fmt.Errorf("source %s: rss config: %w", src.SourceID, err)
	}
	feedURL := cfg.FeedURL
	if feedURL == "" {
		feedURL = src.URL
	}
	if feedURL == "" {
		return nil, fmt.Errorf("source %s: rss config missing feed_url", src.SourceID)
	}

	a := &rssAdapter{
		baseAdapter: newBaseAdapter(src, client, concurrency),
		cfg:         cfg,
	}
	a.urls = append([]string{feedURL}, cfg.BackupURLs...)
	a.fetchOne = a.fetchFeed
	return a, nil
}

func (a *rssAdapter) fetchFeed(ctx context.Context, rawURL string, force bool) ([]models.NewsItem, error) {
	resp, err := a.client.Do(ctx, &fetch.Request{
		SourceID:   a.source.SourceID,
		Method:     http.MethodGet,
		URL:        rawURL,
		UseCache:   true,
		Refresh:    force,
		ForceProxy: a.source.NeedsProxy || a.cfg.NeedsProxy,
		ProxyGroup: a.source.ProxyGroup,
	})
	if err != nil {
		return nil, err
	}
	return a.parseFeed(rawURL, resp.Body)
}

func (a *rssAdapter) parseFeed(feedURL string, body []byte) ([]models.NewsItem, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return []models.NewsItem{}, nil
	}
	feed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		return nil, models.NewFetchError(models.FetchParse, a.source.SourceID, err)
	}

	base, _ := url.Parse(feedURL)
	if a.cfg.BaseURL != "" {
		if b, err := url.Parse(a.cfg.BaseURL); err == nil {
			base = b
		}
	}

	items := make([]models.NewsItem, 0, len(feed.Items))
	for _, entry := range feed.Items {
		title := cleanText(entry.Title)
		if title == "" {
			continue
		}
		link := entry.Link
		if base != nil && link != "" {
			link = resolveURL(base, link)
		}

		item := models.NewsItem{
			ID:         models.ItemID(a.source.SourceID, feedEntryKey(entry, link, title)),
			SourceID:   a.source.SourceID,
			SourceName: a.source.Name,
			Title:      title,
			URL:        link,
			Summary:    cleanText(entry.Description),
			Content:    entry.Content,
			ImageURL:   feedEntryImage(entry),
		}
		if entry.PublishedParsed != nil {
			nt := models.NewNaiveTime(*entry.PublishedParsed)
			item.PublishedAt = &nt
		} else if entry.UpdatedParsed != nil {
			nt := models.NewNaiveTime(*entry.UpdatedParsed)
			item.PublishedAt = &nt
		}
		items = append(items, item)
	}
	return items, nil
}

// feedEntryKey prefers the GUID, then the link, then the title, the
// same precedence feed readers use for entry identity.
func feedEntryKey(entry *gofeed.Item, link, title string) string {
	if entry.GUID != "" {
		return entry.GUID
	}
	if link != "" {
		return link
	}
	return title
}

// feedEntryImage looks in the media extension first, then enclosures.
func feedEntryImage(entry *gofeed.Item) string {
	if entry.Image != nil && entry.Image.URL != "" {
		return entry.Image.URL
	}
	for _, contents := range entry.Extensions["media"]["content"] {
		if u := contents.Attrs["url"]; u != "" {
			return u
		}
	}
	for _, contents := range entry.Extensions["media"]["thumbnail"] {
		if u := contents.Attrs["url"]; u != "" {
			return u
		}
	}
	for _, enc := range entry.Enclosures {
		if enc.URL != "" && len(enc.Type) >= 5 && enc.Type[:5] == "image" {
			return enc.URL
		}
	}
	return ""
}
