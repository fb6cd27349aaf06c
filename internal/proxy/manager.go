// HeatLink - Multi-Source News Aggregation Engine
// Copyright 2026 losesky
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/losesky/heatlink

// Package proxy selects outbound proxies for sources that need one and
// keeps the pool healthy. The fetch runtime asks it for a proxy URL;
// the scheduler never sees it.
package proxy

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/losesky/heatlink/internal/config"
	"github.com/losesky/heatlink/internal/logging"
	"github.com/losesky/heatlink/internal/metrics"
	"github.com/losesky/heatlink/internal/models"
)

// DefaultGroup is used when a source names no proxy group.
const DefaultGroup = "default"

// Store is the slice of the catalog the manager needs.
type Store interface {
	ListProxies(ctx context.Context) ([]models.ProxyConfig, error)
	UpdateProxyHealth(ctx context.Context, id int64, status models.ProxyStatus, avgResponseTime float64, lastError string) error
}

// proxyState pairs a catalog row with in-memory failure tracking.
type proxyState struct {
	cfg      models.ProxyConfig
	failures int // consecutive
}

// Manager holds the proxy pool, grouped and ordered by priority.
type Manager struct {
	cfg   config.ProxyConfig
	store Store

	mu       sync.Mutex
	groups   map[string][]*proxyState
	rotation map[string]int

	domains []string

	// probe issues health checks through each proxy.
	probe func(ctx context.Context, p *models.ProxyConfig) (time.Duration, error)
}

// NewManager builds a manager over the catalog store. The proxied
// domain list comes from configuration, not the store.
func NewManager(cfg config.ProxyConfig, store Store) *Manager {
	m := &Manager{
		cfg:      cfg,
		store:    store,
		groups:   make(map[string][]*proxyState),
		rotation: make(map[string]int),
		domains:  cfg.Domains,
	}
	m.probe = m.httpProbe
	return m
}

// RefreshProxies reloads the pool from the catalog store. Only ACTIVE
// proxies are picked from; rows keep their stored order by descending
// priority then success rate.
func (m *Manager) RefreshProxies(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	proxies, err := m.store.ListProxies(ctx)
	if err != nil {
		return err
	}

	groups := make(map[string][]*proxyState)
	for i := range proxies {
		p := proxies[i]
		group := p.Group
		if group == "" {
			group = DefaultGroup
		}
		groups[group] = append(groups[group], &proxyState{cfg: p})
	}
	for group := range groups {
		list := groups[group]
		sort.SliceStable(list, func(i, j int) bool {
			if list[i].cfg.Priority != list[j].cfg.Priority {
				return list[i].cfg.Priority > list[j].cfg.Priority
			}
			return list[i].cfg.SuccessRate > list[j].cfg.SuccessRate
		})
	}

	m.mu.Lock()
	m.groups = groups
	m.rotation = make(map[string]int)
	m.mu.Unlock()

	logging.Debug().Int("proxies", len(proxies)).Int("groups", len(groups)).
		Msg("proxy pool refreshed")
	return nil
}

// Pick returns the next ACTIVE proxy in the group, rotating round-robin
// through the priority-ordered list. nil means no proxy is usable.
func (m *Manager) Pick(group string) *models.ProxyConfig {
	if group == "" {
		group = DefaultGroup
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	list := m.groups[group]
	active := make([]*proxyState, 0, len(list))
	for _, ps := range list {
		if ps.cfg.Status == models.ProxyActive {
			active = append(active, ps)
		}
	}
	if len(active) == 0 {
		return nil
	}

	idx := m.rotation[group] % len(active)
	m.rotation[group] = idx + 1
	cfg := active[idx].cfg
	return &cfg
}

// ProxyFor adapts the manager to the fetch runtime's resolver shape.
// A request that must be proxied fails with ErrProxyExhausted when the
// group holds no healthy proxy; it never falls back to a direct
// connection.
func (m *Manager) ProxyFor(host, group string, force bool) (*url.URL, error) {
	if !force && !m.HostRequiresProxy(host) {
		return nil, nil
	}
	p := m.Pick(group)
	if p == nil {
		if group == "" {
			group = DefaultGroup
		}
		return nil, fmt.Errorf("%w: group %s", models.ErrProxyExhausted, group)
	}
	return p.URL(), nil
}

// HostRequiresProxy reports whether host matches the configured
// proxied-domain list (exact or subdomain match).
func (m *Manager) HostRequiresProxy(host string) bool {
	for _, domain := range m.domains {
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return true
		}
	}
	return false
}

// DomainsRequiringProxy returns the configured domain list.
func (m *Manager) DomainsRequiringProxy() []string {
	out := make([]string, len(m.domains))
	copy(out, m.domains)
	return out
}

// ReportResult records a request outcome for a proxy. Reaching the
// configured consecutive-failure limit demotes the proxy to ERROR in
// memory and in the store.
func (m *Manager) ReportResult(ctx context.Context, proxyID int64, success bool, errMsg string) {
	m.mu.Lock()
	var demoted *proxyState
	for _, list := range m.groups {
		for _, ps := range list {
			if ps.cfg.ID != proxyID {
				continue
			}
			if success {
				ps.failures = 0
			} else {
				ps.failures++
				metrics.ProxyFailures.WithLabelValues(ps.cfg.Group).Inc()
				if ps.failures >= m.cfg.MaxFailures && ps.cfg.Status == models.ProxyActive {
					ps.cfg.Status = models.ProxyError
					ps.cfg.LastError = errMsg
					demoted = ps
				}
			}
		}
	}
	m.mu.Unlock()

	if demoted != nil {
		logging.Warn().Int64("proxy_id", proxyID).Int("failures", demoted.failures).
			Str("error", errMsg).Msg("proxy demoted after consecutive failures")
		metrics.ProxyHealthy.WithLabelValues(demoted.cfg.Group).Set(0)
		if err := m.store.UpdateProxyHealth(ctx, proxyID, models.ProxyError,
			demoted.cfg.AvgResponseTime, errMsg); err != nil {
			logging.Error().Err(err).Int64("proxy_id", proxyID).
				Msg("failed to persist proxy demotion")
		}
	}
}

// CheckHealth probes every proxy against the configured target URL and
// updates status and response time in memory and in the store.
func (m *Manager) CheckHealth(ctx context.Context) {
	m.mu.Lock()
	var all []*proxyState
	for _, list := range m.groups {
		all = append(all, list...)
	}
	m.mu.Unlock()

	for _, ps := range all {
		if ctx.Err() != nil {
			return
		}
		elapsed, err := m.probe(ctx, &ps.cfg)

		m.mu.Lock()
		now := time.Now()
		ps.cfg.LastCheckTime = &now
		if err != nil {
			ps.cfg.Status = models.ProxyError
			ps.cfg.LastError = err.Error()
			ps.failures++
		} else {
			ps.cfg.Status = models.ProxyActive
			ps.cfg.LastError = ""
			ps.failures = 0
			// Exponential moving average over probe latency.
			sec := elapsed.Seconds()
			if ps.cfg.AvgResponseTime == 0 {
				ps.cfg.AvgResponseTime = sec
			} else {
				ps.cfg.AvgResponseTime = ps.cfg.AvgResponseTime*0.7 + sec*0.3
			}
		}
		status, avgRT, lastErr := ps.cfg.Status, ps.cfg.AvgResponseTime, ps.cfg.LastError
		group, id := ps.cfg.Group, ps.cfg.ID
		m.mu.Unlock()

		healthy := 0.0
		if status == models.ProxyActive {
			healthy = 1.0
		}
		metrics.ProxyHealthy.WithLabelValues(group).Set(healthy)

		if err := m.store.UpdateProxyHealth(ctx, id, status, avgRT, lastErr); err != nil {
			logging.Error().Err(err).Int64("proxy_id", id).
				Msg("failed to persist proxy health")
		}
	}
}

// Serve runs the refresh and health-check loops until ctx ends. It
// satisfies suture.Service.
func (m *Manager) Serve(ctx context.Context) error {
	if err := m.RefreshProxies(ctx); err != nil {
		logging.Warn().Err(err).Msg("initial proxy refresh failed")
	}

	interval := m.cfg.HealthCheckInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := m.RefreshProxies(ctx); err != nil {
				logging.Warn().Err(err).Msg("proxy refresh failed")
			}
			m.CheckHealth(ctx)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// httpProbe requests the health-check URL through the proxy.
func (m *Manager) httpProbe(ctx context.Context, p *models.ProxyConfig) (time.Duration, error) {
	client := &http.Client{
		Transport: &http.Transport{Proxy: http.ProxyURL(p.URL())},
		Timeout:   10 * time.Second,
	}
	defer client.CloseIdleConnections()

	target := m.cfg.HealthCheckURL
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return 0, err
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()
	return time.Since(start), nil
}
