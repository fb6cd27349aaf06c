// HeatLink - Multi-Source News Aggregation Engine
// Copyright 2026 losesky
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/losesky/heatlink

package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/losesky/heatlink/internal/cache"
	"github.com/losesky/heatlink/internal/config"
	"github.com/losesky/heatlink/internal/logging"
	"github.com/losesky/heatlink/internal/metrics"
	"github.com/losesky/heatlink/internal/models"
)

// retryableStatus are HTTP statuses treated as transient.
var retryableStatus = map[int]bool{
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// ProxyFunc decides the proxy URL for a host. group is the source's
// proxy group; force is set when the source itself demands proxied
// access regardless of the domain list. A nil URL with a nil error
// means direct connection; an error fails the request.
type ProxyFunc func(host, group string, force bool) (*url.URL, error)

// Request describes one upstream HTTP call.
type Request struct {
	SourceID string
	Method   string
	URL      string
	Header   http.Header
	Params   url.Values
	Body     []byte

	// Timeout overrides the client total timeout when positive.
	Timeout time.Duration

	// UseCache serves and stores the raw response through the cache
	// manager under an http:<sha1> key. CacheTTL overrides the client's
	// configured response TTL when positive.
	UseCache bool
	CacheTTL time.Duration

	// Refresh skips the cache read so the request always hits the
	// network; the fresh response is still stored.
	Refresh bool

	// ForceProxy routes through the proxy even when the host is not in
	// the proxied-domain set. ProxyGroup names the pool the proxy is
	// drawn from; empty means the default group.
	ForceProxy bool
	ProxyGroup string
}

// Response is the body-read result of a completed request.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Elapsed    time.Duration
	FromCache  bool
}

// JSON unmarshals the body into dest.
func (r *Response) JSON(dest any) error {
	if err := json.Unmarshal(r.Body, dest); err != nil {
		return models.NewFetchError(models.FetchDecode, "", err)
	}
	return nil
}

// Text returns the body as a string.
func (r *Response) Text() string { return string(r.Body) }

// Client is the shared fetch runtime. One instance serves every
// adapter; per-host rate limiters and circuit breakers hang off it.
type Client struct {
	cfg      config.FetchConfig
	http     *http.Client
	cache    *cache.Manager
	breakers *breakerSet

	limiterMu sync.Mutex
	limiters  map[string]*rate.Limiter

	proxyFor     ProxyFunc
	proxiedHost  func(host string) bool
	httpCacheTTL time.Duration
}

// Options carries the optional collaborators for NewClient.
type Options struct {
	// Cache enables the HTTP-level response cache when non-nil.
	Cache *cache.Manager
	// Proxy resolves proxy URLs; nil disables proxy routing.
	Proxy ProxyFunc
	// ProxiedHost reports whether a host must always go through the
	// proxy; nil means no host does.
	ProxiedHost func(host string) bool
	// HTTPCacheTTL is the default lifetime for cached responses when a
	// request does not set its own CacheTTL.
	HTTPCacheTTL time.Duration
}

// NewClient builds the shared HTTP runtime from the fetch config.
func NewClient(cfg config.FetchConfig, opts Options) *Client {
	jar, _ := cookiejar.New(nil)

	c := &Client{
		cfg:          cfg,
		cache:        opts.Cache,
		breakers:     newBreakerSet(),
		limiters:     make(map[string]*rate.Limiter),
		proxyFor:     opts.Proxy,
		proxiedHost:  opts.ProxiedHost,
		httpCacheTTL: opts.HTTPCacheTTL,
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   cfg.ConnectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		Proxy:                 c.transportProxy,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   8,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   cfg.ConnectTimeout,
		ResponseHeaderTimeout: cfg.ReadTimeout,
	}

	c.http = &http.Client{
		Transport: transport,
		Jar:       jar,
		Timeout:   cfg.TotalTimeout,
	}
	return c
}

type proxyCtxKey struct{}

// proxyOpts travels in the request context because http.Transport only
// hands the proxy callback the request.
type proxyOpts struct {
	group string
	force bool
}

// transportProxy consults the proxy resolver per request. A resolver
// error aborts the request rather than silently going direct.
func (c *Client) transportProxy(req *http.Request) (*url.URL, error) {
	if c.proxyFor == nil {
		return nil, nil
	}
	host := req.URL.Hostname()
	opts, _ := req.Context().Value(proxyCtxKey{}).(proxyOpts)
	if !opts.force && (c.proxiedHost == nil || !c.proxiedHost(host)) {
		return nil, nil
	}
	return c.proxyFor(host, opts.group, opts.force)
}

// Do executes req with caching, rate limiting, circuit breaking, and
// retries. The returned error is always a *models.FetchError.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	if req.Method == "" {
		req.Method = http.MethodGet
	}

	fullURL := req.URL
	params := ""
	if len(req.Params) > 0 {
		params = req.Params.Encode()
		sep := "?"
		if strings.Contains(fullURL, "?") {
			sep = "&"
		}
		fullURL = fullURL + sep + params
	}

	var cacheKey string
	if req.UseCache && c.cache != nil && req.Method == http.MethodGet {
		cacheKey = cache.HTTPKey(req.Method, req.URL, params)
		if !req.Refresh {
			var cached Response
			if c.cache.Get(ctx, cacheKey, &cached) {
				cached.FromCache = true
				return &cached, nil
			}
		}
	}

	parsed, err := url.Parse(fullURL)
	if err != nil {
		return nil, models.NewFetchError(models.FetchConnection, req.SourceID, err)
	}
	host := parsed.Hostname()

	if err := c.waitHost(ctx, host); err != nil {
		return nil, classify(err, req.SourceID)
	}

	resp, err := c.breakers.get(host).Execute(func() (*Response, error) {
		return c.doWithRetries(ctx, req, fullURL, host)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, models.NewFetchError(models.FetchConnection, req.SourceID,
				fmt.Errorf("host %s: %w", host, err))
		}
		return nil, classify(err, req.SourceID)
	}

	if cacheKey != "" && resp.StatusCode == http.StatusOK {
		ttl := req.CacheTTL
		if ttl <= 0 {
			ttl = c.httpCacheTTL
		}
		if err := c.cache.Set(ctx, cacheKey, resp, ttl); err != nil {
			logging.Debug().Err(err).Str("key", cacheKey).Msg("http cache store failed")
		}
	}
	return resp, nil
}

// waitHost blocks on the per-host rate limiter.
func (c *Client) waitHost(ctx context.Context, host string) error {
	if c.cfg.RatePerHost <= 0 {
		return nil
	}
	c.limiterMu.Lock()
	limiter, ok := c.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(c.cfg.RatePerHost), 1)
		c.limiters[host] = limiter
	}
	c.limiterMu.Unlock()
	return limiter.Wait(ctx)
}

// doWithRetries runs the attempt loop. Transport errors and retryable
// statuses back off and retry; other statuses fail immediately.
func (c *Client) doWithRetries(ctx context.Context, req *Request, fullURL, host string) (*Response, error) {
	if req.ForceProxy || req.ProxyGroup != "" {
		ctx = context.WithValue(ctx, proxyCtxKey{}, proxyOpts{group: req.ProxyGroup, force: req.ForceProxy})
	}
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			metrics.FetchRetries.WithLabelValues(host).Inc()
			if err := sleepBackoff(ctx, c.backoff(attempt)); err != nil {
				return nil, err
			}
		}

		resp, err := c.attempt(ctx, req, fullURL)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if errors.Is(err, models.ErrProxyExhausted) {
				// No healthy proxy in the group; retrying cannot help.
				return nil, err
			}
			lastErr = err
			continue
		}

		if retryableStatus[resp.StatusCode] {
			lastErr = &models.FetchError{
				Kind:       models.FetchHTTPStatus,
				SourceID:   req.SourceID,
				StatusCode: resp.StatusCode,
			}
			continue
		}
		if resp.StatusCode >= 400 {
			return nil, &models.FetchError{
				Kind:       models.FetchHTTPStatus,
				SourceID:   req.SourceID,
				StatusCode: resp.StatusCode,
			}
		}
		return resp, nil
	}
	return nil, lastErr
}

// attempt performs a single HTTP round trip and reads the body.
func (c *Client) attempt(ctx context.Context, req *Request, fullURL string) (*Response, error) {
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, fullURL, body)
	if err != nil {
		return nil, err
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if httpReq.Header.Get("User-Agent") == "" {
		httpReq.Header.Set("User-Agent", nextUserAgent())
	}
	if httpReq.Header.Get("Accept") == "" {
		httpReq.Header.Set("Accept", "*/*")
	}

	start := time.Now()
	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer func() { _ = httpResp.Body.Close() }()

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, err
	}

	return &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       data,
		Elapsed:    time.Since(start),
	}, nil
}

// backoff returns the delay before the given attempt: base doubled per
// attempt with up to 50% jitter, capped at the configured maximum.
func (c *Client) backoff(attempt int) time.Duration {
	d := c.cfg.RetryBaseDelay << (attempt - 1)
	if d > c.cfg.RetryMaxDelay {
		d = c.cfg.RetryMaxDelay
	}
	jitter := time.Duration(rand.Int63n(int64(d)/2 + 1))
	d += jitter
	if d > c.cfg.RetryMaxDelay {
		d = c.cfg.RetryMaxDelay
	}
	return d
}

func sleepBackoff(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// classify maps transport-level failures onto the fetch error taxonomy.
func classify(err error, sourceID string) error {
	if fe, ok := models.IsFetchError(err); ok {
		if fe.SourceID == "" {
			fe.SourceID = sourceID
		}
		return fe
	}
	switch {
	case errors.Is(err, context.Canceled):
		return models.NewFetchError(models.FetchCancelled, sourceID, err)
	case errors.Is(err, context.DeadlineExceeded):
		return models.NewFetchError(models.FetchTimeout, sourceID, err)
	case errors.Is(err, models.ErrProxyExhausted):
		return models.NewFetchError(models.FetchConnection, sourceID, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return models.NewFetchError(models.FetchTimeout, sourceID, err)
	}
	return models.NewFetchError(models.FetchConnection, sourceID, err)
}
