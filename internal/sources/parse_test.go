// HeatLink - Multi-Source News Aggregation Engine
// Copyright 2026 losesky
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/losesky/heatlink

package sources

import (
	"testing"
	"time"

	"github.com/losesky/heatlink/internal/models"
)

func newTestHTMLAdapter(t *testing.T, cfg map[string]any) *htmlAdapter {
	t.Helper()
	src := testSource("html-test", time.Minute)
	src.Type = models.SourceTypeHTML
	src.Config = cfg
	a, err := newHTMLAdapter(src, testFetchClient(), 4)
	if err != nil {
		t.Fatalf("newHTMLAdapter: %v", err)
	}
	return a
}

func TestHTMLParseListing(t *testing.T) {
	a := newTestHTMLAdapter(t, map[string]any{
		"base_url":       "https://news.example.com/hot",
		"item_selector":  "li.item",
		"title_selector": "a.title",
		"link_selector":  "a.title",
		"date_selector":  "span.time",
	})

	body := `<html><body><ul>
		<li class="item"><a class="title" href="/story/1">  First   story </a><span class="time">5 minutes ago</span></li>
		<li class="item"><a class="title" href="https://other.example.com/2">Second story</a><span class="time">unparseable</span></li>
		<li class="item"><a class="title" href="/story/3"></a></li>
	</ul></body></html>`

	items, err := a.parseListing("https://news.example.com/hot", []byte(body))
	if err != nil {
		t.Fatalf("parseListing: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("items = %d, want 2 (empty title skipped)", len(items))
	}
	if items[0].Title != "First story" {
		t.Errorf("title = %q, want whitespace collapsed", items[0].Title)
	}
	if items[0].URL != "https://news.example.com/story/1" {
		t.Errorf("relative link not resolved: %q", items[0].URL)
	}
	if items[1].URL != "https://other.example.com/2" {
		t.Errorf("absolute link rewritten: %q", items[1].URL)
	}
	if items[0].PublishedAt == nil {
		t.Error("relative time not parsed")
	}
	if items[1].PublishedAt != nil {
		t.Error("unparseable date should be dropped, not fail the item")
	}
	if items[0].ID != models.ItemID("html-test", "https://news.example.com/story/1") {
		t.Errorf("item id derived from wrong key: %q", items[0].ID)
	}
}

func TestHTMLParseNoMatchesIsEmptySuccess(t *testing.T) {
	a := newTestHTMLAdapter(t, map[string]any{
		"base_url":      "https://news.example.com",
		"item_selector": "li.item",
	})
	items, err := a.parseListing("https://news.example.com", []byte("<html><body><p>redesigned</p></body></html>"))
	if err != nil {
		t.Fatalf("parseListing: %v", err)
	}
	if len(items) != 0 {
		t.Errorf("items = %d, want 0", len(items))
	}
}

func TestParseListingTime(t *testing.T) {
	now := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		raw  string
		want time.Time
		ok   bool
	}{
		{"5 minutes ago", now.Add(-5 * time.Minute), true},
		{"1 min ago", now.Add(-time.Minute), true},
		{"3 hours ago", now.Add(-3 * time.Hour), true},
		{"10分钟前", now.Add(-10 * time.Minute), true},
		{"2小时前", now.Add(-2 * time.Hour), true},
		{"刚刚", now, true},
		{"yesterday 09:30", time.Date(2026, 8, 25, 9, 30, 0, 0, time.UTC), true},
		{"昨天 21:15", time.Date(2026, 8, 25, 21, 15, 0, 0, time.UTC), true},
		{"08:45", time.Date(2026, 8, 26, 8, 45, 0, 0, time.UTC), true},
		{"2026-08-20 10:00:00", time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC), true},
		{"Aug 20, 2026", time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC), true},
		{"5 Minutes Ago", now.Add(-5 * time.Minute), true},
		{"Yesterday 09:30", time.Date(2026, 8, 25, 9, 30, 0, 0, time.UTC), true},
		{"", time.Time{}, false},
		{"soon", time.Time{}, false},
	}
	for _, tt := range tests {
		got, ok := parseListingTime(tt.raw, "", now)
		if ok != tt.ok {
			t.Errorf("parseListingTime(%q) ok = %v, want %v", tt.raw, ok, tt.ok)
			continue
		}
		if ok && !got.Equal(tt.want) {
			t.Errorf("parseListingTime(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}

func newTestJSONAPIAdapter(t *testing.T, cfg map[string]any) *jsonAPIAdapter {
	t.Helper()
	src := testSource("api-test", time.Minute)
	src.Type = models.SourceTypeAPI
	src.Config = cfg
	a, err := newJSONAPIAdapter(src, testFetchClient(), 4)
	if err != nil {
		t.Fatalf("newJSONAPIAdapter: %v", err)
	}
	return a
}

func TestJSONAPIParseIDPrecedence(t *testing.T) {
	a := newTestJSONAPIAdapter(t, map[string]any{
		"api_url":     "https://api.example.com/hot",
		"items_path":  "items",
		"id_field":    "uid",
		"title_field": "title",
		"url_field":   "url",
	})

	body := []byte(`{"items":[
		{"uid":"abc","title":"Has id","url":"https://e.com/1"},
		{"title":"Has url only","url":"https://e.com/2"},
		{"title":"Title only"}
	]}`)
	items, err := a.parsePayload(body)
	if err != nil {
		t.Fatalf("parsePayload: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("items = %d, want 3", len(items))
	}
	if items[0].ID != models.ItemID("api-test", "abc") {
		t.Errorf("id field not preferred")
	}
	if items[1].ID != models.ItemID("api-test", "https://e.com/2") {
		t.Errorf("url fallback not used")
	}
	if items[2].ID == "" || items[2].ID == items[1].ID {
		t.Errorf("canonical-json fallback broken")
	}
}

func TestJSONAPIParseBadPayload(t *testing.T) {
	a := newTestJSONAPIAdapter(t, map[string]any{
		"api_url":     "https://api.example.com/hot",
		"items_path":  "data.list",
		"title_field": "title",
		"url_field":   "url",
	})

	if _, err := a.parsePayload([]byte(`{"data":{"wrong":[]}}`)); err == nil {
		t.Error("missing items path should error")
	} else if fe, ok := models.IsFetchError(err); !ok || fe.Kind != models.FetchParse {
		t.Errorf("error = %v, want parse FetchError", err)
	}

	if _, err := a.parsePayload([]byte(`not json`)); err == nil {
		t.Error("invalid json should error")
	} else if fe, ok := models.IsFetchError(err); !ok || fe.Kind != models.FetchDecode {
		t.Errorf("error = %v, want decode FetchError", err)
	}

	items, err := a.parsePayload(nil)
	if err != nil || len(items) != 0 {
		t.Errorf("empty body = (%v, %v), want empty success", items, err)
	}
}

func TestParseAPITime(t *testing.T) {
	tests := []struct {
		name string
		v    any
		want time.Time
		ok   bool
	}{
		{"rfc3339", "2026-08-26T10:00:00Z", time.Date(2026, 8, 26, 10, 0, 0, 0, time.UTC), true},
		{"naive", "2026-08-26T10:00:00", time.Date(2026, 8, 26, 10, 0, 0, 0, time.UTC), true},
		{"epoch seconds", float64(1727000000), time.Unix(1727000000, 0).UTC(), true},
		{"epoch millis", float64(1727000000000), time.UnixMilli(1727000000000).UTC(), true},
		{"epoch string", "1727000000", time.Unix(1727000000, 0).UTC(), true},
		{"rfc1123", "Tue, 26 May 2026 10:00:00 GMT", time.Date(2026, 5, 26, 10, 0, 0, 0, time.UTC), true},
		{"garbage", "soonish", time.Time{}, false},
		{"nil", nil, time.Time{}, false},
	}
	for _, tt := range tests {
		got, ok := parseAPITime(tt.v, "")
		if ok != tt.ok {
			t.Errorf("%s: ok = %v, want %v", tt.name, ok, tt.ok)
			continue
		}
		if ok && !got.Equal(tt.want) {
			t.Errorf("%s: got %v, want %v", tt.name, got, tt.want)
		}
	}
}

func newTestRSSAdapter(t *testing.T, cfg map[string]any) *rssAdapter {
	t.Helper()
	src := testSource("rss-test", time.Minute)
	src.Type = models.SourceTypeRSS
	src.Config = cfg
	a, err := newRSSAdapter(src, testFetchClient(), 4)
	if err != nil {
		t.Fatalf("newRSSAdapter: %v", err)
	}
	return a
}

func TestRSSParseFeed(t *testing.T) {
	a := newTestRSSAdapter(t, map[string]any{"feed_url": "https://feeds.example.com/world.xml"})

	body := `<?xml version="1.0"?>
<rss version="2.0"><channel>
  <title>World</title>
  <item>
    <title><![CDATA[ First   headline ]]></title>
    <link>https://example.com/world/1</link>
    <guid>guid-1</guid>
    <description>A summary.</description>
    <pubDate>Tue, 25 Aug 2026 08:00:00 GMT</pubDate>
    <enclosure url="https://example.com/img1.jpg" type="image/jpeg" length="1"/>
  </item>
  <item>
    <title>Second headline</title>
    <link>https://example.com/world/2</link>
  </item>
  <item>
    <title></title>
    <link>https://example.com/world/3</link>
  </item>
</channel></rss>`

	items, err := a.parseFeed("https://feeds.example.com/world.xml", []byte(body))
	if err != nil {
		t.Fatalf("parseFeed: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("items = %d, want 2 (untitled skipped)", len(items))
	}
	if items[0].Title != "First headline" {
		t.Errorf("CDATA/whitespace not cleaned: %q", items[0].Title)
	}
	if items[0].ID != models.ItemID("rss-test", "guid-1") {
		t.Errorf("guid not preferred for identity")
	}
	if items[1].ID != models.ItemID("rss-test", "https://example.com/world/2") {
		t.Errorf("link fallback not used for identity")
	}
	if items[0].ImageURL != "https://example.com/img1.jpg" {
		t.Errorf("enclosure image missed: %q", items[0].ImageURL)
	}
	if items[0].PublishedAt == nil {
		t.Error("pubDate not parsed")
	}
}

func TestRSSParseAtom(t *testing.T) {
	a := newTestRSSAdapter(t, map[string]any{"feed_url": "https://feeds.example.com/atom.xml"})

	body := `<?xml version="1.0"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title>Atom feed</title>
  <entry>
    <title>Atom entry</title>
    <link href="https://example.com/a/1"/>
    <id>tag:example.com,2026:1</id>
    <updated>2026-08-25T10:00:00Z</updated>
  </entry>
</feed>`

	items, err := a.parseFeed("https://feeds.example.com/atom.xml", []byte(body))
	if err != nil {
		t.Fatalf("parseFeed: %v", err)
	}
	if len(items) != 1 || items[0].Title != "Atom entry" {
		t.Fatalf("items = %+v", items)
	}
	if items[0].PublishedAt == nil {
		t.Error("atom updated time not used")
	}
}

func TestRSSParseBadFeed(t *testing.T) {
	a := newTestRSSAdapter(t, map[string]any{"feed_url": "https://feeds.example.com/world.xml"})

	if _, err := a.parseFeed("https://feeds.example.com/world.xml", []byte("<html>not a feed</html>")); err == nil {
		t.Error("non-feed body should be a parse error")
	} else if fe, ok := models.IsFetchError(err); !ok || fe.Kind != models.FetchParse {
		t.Errorf("error = %v, want parse FetchError", err)
	}

	items, err := a.parseFeed("https://feeds.example.com/world.xml", []byte("  "))
	if err != nil || len(items) != 0 {
		t.Errorf("blank body = (%v, %v), want empty success", items, err)
	}
}

func TestCleanText(t *testing.T) {
	tests := []struct{ in, want string }{
		{"  a\n\t b  ", "a b"},
		{"<![CDATA[ hello ]]>", "hello"},
		{"a b", "a b"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := cleanText(tt.in); got != tt.want {
			t.Errorf("cleanText(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
