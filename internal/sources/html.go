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
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/losesky/heatlink/internal/fetch"
	"github.com/losesky/heatlink/internal/models"
)

// htmlAdapter scrapes a listing page with CSS selectors from the
// source config.
type htmlAdapter struct {
	*baseAdapter
	cfg models.HTMLConfig
}

func newHTMLAdapter(src models.Source, client *fetch.Client, concurrency int64) (*htmlAdapter, error) {
	var cfg models.HTMLConfig
	if err := decodeConfig(src.Config, &cfg); err != nil {
		return nil, fmt.Errorf("source %s: html config: %w", src.SourceID, err)
	}
	if cfg.ItemSelector == "" {
		return nil, fmt.Errorf("source %s: html config missing item_selector", src.SourceID)
	}
	base := cfg.BaseURL
	if base == "" {
		base = src.URL
	}
	if base == "" {
		return nil, fmt.Errorf("source %s: html config missing base_url", src.SourceID)
	}

	a := &htmlAdapter{
		baseAdapter: newBaseAdapter(src, client, concurrency),
		cfg:         cfg,
	}
	a.urls = append([]string{base}, cfg.BackupURLs...)
	a.fetchOne = a.fetchPage
	return a, nil
}

func (a *htmlAdapter) fetchPage(ctx context.Context, rawURL string, force bool) ([]models.NewsItem, error) {
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
	return a.parseListing(rawURL, resp.Body)
}

// parseListing extracts items from the listing document. An empty
// selection is a valid empty result, not a parse failure.
func (a *htmlAdapter) parseListing(pageURL string, body []byte) ([]models.NewsItem, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, models.NewFetchError(models.FetchParse, a.source.SourceID, err)
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, models.NewFetchError(models.FetchParse, a.source.SourceID, err)
	}

	items := make([]models.NewsItem, 0, 32)
	doc.Find(a.cfg.ItemSelector).Each(func(_ int, sel *goquery.Selection) {
		title := cleanText(selectText(sel, a.cfg.TitleSelector))
		if title == "" {
			return
		}
		link := a.itemLink(sel, base)
		if link == "" {
			return
		}

		item := models.NewsItem{
			ID:         models.ItemID(a.source.SourceID, link),
			SourceID:   a.source.SourceID,
			SourceName: a.source.Name,
			Title:      title,
			URL:        link,
		}
		if a.cfg.ImageSelector != "" {
			if img, ok := sel.Find(a.cfg.ImageSelector).First().Attr("src"); ok {
				item.ImageURL = resolveURL(base, img)
			}
		}
		if a.cfg.DateSelector != "" {
			raw := cleanText(sel.Find(a.cfg.DateSelector).First().Text())
			if ts, ok := parseListingTime(raw, a.cfg.DateFormat, time.Now()); ok {
				nt := models.NewNaiveTime(ts)
				item.PublishedAt = &nt
			}
		}
		items = append(items, item)
	})
	return items, nil
}

// itemLink resolves the item URL from the link selector or, when no
// selector is configured, from the item node itself.
func (a *htmlAdapter) itemLink(sel *goquery.Selection, base *url.URL) string {
	node := sel
	if a.cfg.LinkSelector != "" {
		node = sel.Find(a.cfg.LinkSelector).First()
	}
	if href, ok := node.Attr("href"); ok {
		return resolveURL(base, href)
	}
	if href, ok := node.Find("a").First().Attr("href"); ok {
		return resolveURL(base, href)
	}
	return ""
}

// selectText returns the trimmed text of the first selector match, or
// of the node itself when the selector is empty.
func selectText(sel *goquery.Selection, selector string) string {
	if selector == "" {
		return sel.Text()
	}
	return sel.Find(selector).First().Text()
}

func resolveURL(base *url.URL, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	return base.ResolveReference(u).String()
}

var (
	relMinutesRe = regexp.MustCompile(`^(\d+)\s*(?:minutes?|mins?)\s*ago$|^(\d+)分钟前$`)
	relHoursRe   = regexp.MustCompile(`^(\d+)\s*(?:hours?|hrs?)\s*ago$|^(\d+)小时前$`)
	yesterdayRe  = regexp.MustCompile(`^(?:yesterday|昨天)\s*(\d{1,2}):(\d{2})$`)
	clockRe      = regexp.MustCompile(`^(\d{1,2}):(\d{2})$`)
)

// parseListingTime understands the timestamp shapes listing pages
// actually use: an explicit format from the config, relative phrases
// ("5 minutes ago", "3小时前"), yesterday-with-clock, bare clock
// times, and common absolute layouts.
func parseListingTime(raw, format string, now time.Time) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}

	if format != "" {
		if ts, err := time.Parse(format, raw); err == nil {
			return ts, true
		}
	}

	// Relative phrases match case-insensitively; the original casing is
	// kept for layout parsing since month names are case-sensitive.
	lower := strings.ToLower(raw)
	if m := relMinutesRe.FindStringSubmatch(lower); m != nil {
		n, _ := strconv.Atoi(firstGroup(m))
		return now.Add(-time.Duration(n) * time.Minute), true
	}
	if m := relHoursRe.FindStringSubmatch(lower); m != nil {
		n, _ := strconv.Atoi(firstGroup(m))
		return now.Add(-time.Duration(n) * time.Hour), true
	}
	if lower == "just now" || lower == "刚刚" {
		return now, true
	}
	if m := yesterdayRe.FindStringSubmatch(lower); m != nil {
		h, _ := strconv.Atoi(m[1])
		min, _ := strconv.Atoi(m[2])
		y := now.AddDate(0, 0, -1)
		return time.Date(y.Year(), y.Month(), y.Day(), h, min, 0, 0, now.Location()), true
	}
	if m := clockRe.FindStringSubmatch(lower); m != nil {
		h, _ := strconv.Atoi(m[1])
		min, _ := strconv.Atoi(m[2])
		return time.Date(now.Year(), now.Month(), now.Day(), h, min, 0, 0, now.Location()), true
	}

	for _, layout := range []string{
		time.RFC3339,
		"2006-01-02 15:04:05",
		"2006-01-02 15:04",
		"2006-01-02",
		"01-02 15:04",
		"Jan 2, 2006",
	} {
		if ts, err := time.Parse(layout, raw); err == nil {
			if ts.Year() == 0 {
				ts = ts.AddDate(now.Year(), 0, 0)
			}
			return ts, true
		}
	}
	return time.Time{}, false
}

func firstGroup(m []string) string {
	for _, g := range m[1:] {
		if g != "" {
			return g
		}
	}
	return ""
}

var wsRe = regexp.MustCompile(`\s+`)

// cleanText collapses runs of whitespace, including the NBSP and CDATA
// debris that scraped markup carries.
func cleanText(s string) string {
	s = strings.ReplaceAll(s, " ", " ")
	s = strings.TrimPrefix(s, "<![CDATA[")
	s = strings.TrimSuffix(s, "]]>")
	return strings.TrimSpace(wsRe.ReplaceAllString(s, " "))
}
