// HeatLink - Multi-Source News Aggregation Engine
// Copyright 2026 losesky
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/losesky/heatlink

package sources

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/losesky/heatlink/internal/fetch"
	"github.com/losesky/heatlink/internal/models"
)

const defaultBrowserTimeout = 30 * time.Second

// browserAdapter renders the page in headless Chrome before handing
// the settled DOM to the HTML selector pipeline. Sites that build the
// listing client-side get the same item extraction as static pages.
type browserAdapter struct {
	*baseAdapter
	cfg  models.BrowserConfig
	html *htmlAdapter

	allocMu     sync.Mutex
	allocCtx    context.Context
	allocCancel context.CancelFunc

	// render is swappable for tests; production uses renderChrome.
	render func(ctx context.Context, rawURL string) (string, error)
}

func newBrowserAdapter(src models.Source, client *fetch.Client, concurrency int64) (*browserAdapter, error) {
	var cfg models.BrowserConfig
	if err := decodeConfig(src.Config, &cfg); err != nil {
		return nil, fmt.Errorf("source %s: browser config: %w", src.SourceID, err)
	}
	start := cfg.StartURL
	if start == "" {
		start = src.URL
	}
	if start == "" {
		return nil, fmt.Errorf("source %s: browser config missing start_url", src.SourceID)
	}

	// Item extraction reuses the HTML family's selector config.
	inner, err := newHTMLAdapter(src, client, concurrency)
	if err != nil {
		return nil, err
	}

	a := &browserAdapter{
		baseAdapter: newBaseAdapter(src, client, concurrency),
		cfg:         cfg,
		html:        inner,
	}
	a.urls = []string{start}
	a.fetchOne = a.fetchRendered
	a.render = a.renderChrome
	return a, nil
}

// fetchRendered always navigates live; the render never reads the
// HTTP cache, so force has nothing extra to bypass.
func (a *browserAdapter) fetchRendered(ctx context.Context, rawURL string, _ bool) ([]models.NewsItem, error) {
	timeout := defaultBrowserTimeout
	if a.cfg.TimeoutMs > 0 {
		timeout = time.Duration(a.cfg.TimeoutMs) * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	html, err := a.render(ctx, rawURL)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, models.NewFetchError(models.FetchTimeout, a.source.SourceID, err)
		}
		return nil, models.NewFetchError(models.FetchConnection, a.source.SourceID, err)
	}
	return a.html.parseListing(rawURL, []byte(html))
}

// renderChrome navigates, waits for the configured selector (body by
// default), and snapshots the full document.
func (a *browserAdapter) renderChrome(ctx context.Context, rawURL string) (string, error) {
	alloc, err := a.allocator()
	if err != nil {
		return "", err
	}
	tabCtx, cancel := chromedp.NewContext(alloc)
	defer cancel()

	// The tab derives from the long-lived allocator, so the caller's
	// deadline and shutdown must tear it down explicitly or a hung
	// wait would outlive them.
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	wait := a.cfg.WaitSelector
	if wait == "" {
		wait = "body"
	}

	var html string
	err = chromedp.Run(tabCtx,
		chromedp.Navigate(rawURL),
		chromedp.WaitReady(wait, chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", err
	}
	return html, nil
}

// allocator lazily starts one shared browser process per adapter.
func (a *browserAdapter) allocator() (context.Context, error) {
	a.allocMu.Lock()
	defer a.allocMu.Unlock()

	if a.allocCtx != nil {
		return a.allocCtx, nil
	}

	width, height := 1920, 1080
	if a.cfg.DesktopWindowSize != "" {
		if w, h, ok := parseWindowSize(a.cfg.DesktopWindowSize); ok {
			width, height = w, h
		}
	}
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.WindowSize(width, height),
		chromedp.UserAgent(fetch.DesktopUserAgent()),
		chromedp.NoSandbox,
		chromedp.DisableGPU,
	)
	a.allocCtx, a.allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
	return a.allocCtx, nil
}

// Close kills the browser process if one was started.
func (a *browserAdapter) Close() error {
	a.allocMu.Lock()
	defer a.allocMu.Unlock()
	if a.allocCancel != nil {
		a.allocCancel()
		a.allocCtx, a.allocCancel = nil, nil
	}
	return nil
}

func parseWindowSize(s string) (int, int, bool) {
	parts := strings.SplitN(strings.ToLower(s), "x", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	w, err1 := strconv.Atoi(strings.TrimSpace(parts[0]))
	h, err2 := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err1 != nil || err2 != nil || w <= 0 || h <= 0 {
		return 0, 0, false
	}
	return w, h, true
}
