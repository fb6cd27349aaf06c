// HeatLink - Multi-Source News Aggregation Engine
// Copyright 2026 losesky
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/losesky/heatlink

// Package catalog is the Postgres-backed metadata store: the source
// catalog, proxy configurations, and per-source stats history. News
// items themselves are never persisted here; they live in the cache.
package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/losesky/heatlink/internal/config"
	"github.com/losesky/heatlink/internal/metrics"
	"github.com/losesky/heatlink/internal/models"
)

// Store wraps the catalog database.
type Store struct {
	db *sqlx.DB
}

// Open connects to the Postgres catalog and verifies connectivity.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*Store, error) {
	db, err := sqlx.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %v", models.ErrCatalogUnavailable, err)
	}
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing connection. Used by tests.
func NewWithDB(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// sourceRow matches the sources/categories join. INTERVAL columns come
// back as whole seconds via EXTRACT(EPOCH FROM ...).
type sourceRow struct {
	ID             string     `db:"id"`
	Name           string     `db:"name"`
	Description    string     `db:"description"`
	URL            string     `db:"url"`
	Type           string     `db:"type"`
	Category       string     `db:"category"`
	Country        string     `db:"country"`
	Language       string     `db:"language"`
	Status         string     `db:"status"`
	UpdateInterval int64      `db:"update_interval_seconds"`
	CacheTTL       int64      `db:"cache_ttl_seconds"`
	Config         []byte     `db:"config"`
	NeedProxy      bool       `db:"need_proxy"`
	ProxyGroup     string     `db:"proxy_group"`
	LastUpdated    *time.Time `db:"last_updated"`
	LastError      string     `db:"last_error"`
	NewsCount      int        `db:"news_count"`
}

const listSourcesSQL = `
SELECT s.id,
       s.name,
       COALESCE(s.description, '')                       AS description,
       COALESCE(s.url, '')                               AS url,
       s.type,
       COALESCE(c.name, '')                              AS category,
       COALESCE(s.country, '')                           AS country,
       COALESCE(s.language, '')                          AS language,
       s.status,
       COALESCE(EXTRACT(EPOCH FROM s.update_interval), 600)::bigint AS update_interval_seconds,
       COALESCE(EXTRACT(EPOCH FROM s.cache_ttl), 300)::bigint       AS cache_ttl_seconds,
       s.config,
       COALESCE(s.need_proxy, false)                     AS need_proxy,
       COALESCE(s.proxy_group, '')                       AS proxy_group,
       s.last_updated,
       COALESCE(s.last_error, '')                        AS last_error,
       COALESCE(s.news_count, 0)                         AS news_count
FROM sources s
LEFT JOIN categories c ON c.id = s.category_id
ORDER BY s.id`

// ListSources reads the full source catalog.
func (s *Store) ListSources(ctx context.Context) ([]models.Source, error) {
	start := time.Now()
	var rows []sourceRow
	err := s.db.SelectContext(ctx, &rows, listSourcesSQL)
	metrics.RecordCatalogQuery("list_sources", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("%w: list sources: %v", models.ErrCatalogUnavailable, err)
	}

	out := make([]models.Source, 0, len(rows))
	for _, r := range rows {
		src := models.Source{
			SourceID:       r.ID,
			Name:           r.Name,
			Description:    r.Description,
			URL:            r.URL,
			Type:           models.SourceType(r.Type),
			Category:       r.Category,
			Country:        r.Country,
			Language:       r.Language,
			Status:         models.SourceStatus(r.Status),
			UpdateInterval: time.Duration(r.UpdateInterval) * time.Second,
			CacheTTL:       time.Duration(r.CacheTTL) * time.Second,
			NeedsProxy:     r.NeedProxy,
			ProxyGroup:     r.ProxyGroup,
			LastUpdated:    r.LastUpdated,
			LastError:      r.LastError,
			NewsCount:      r.NewsCount,
		}
		if len(r.Config) > 0 {
			if err := json.Unmarshal(r.Config, &src.Config); err != nil {
				// A bad config blob disables the source rather than
				// poisoning the whole catalog load.
				src.Status = models.SourceStatusError
				src.LastError = fmt.Sprintf("invalid config json: %v", err)
			}
		}
		out = append(out, src)
	}
	return out, nil
}

const updateSourceResultSQL = `
UPDATE sources
SET last_updated = $2,
    last_error   = NULLIF($3, ''),
    news_count   = $4,
    status       = $5,
    updated_at   = NOW()
WHERE id = $1`

// UpdateSourceResult persists the outcome of a fetch cycle for a source.
func (s *Store) UpdateSourceResult(ctx context.Context, sourceID string, lastUpdated time.Time, lastError string, newsCount int, status models.SourceStatus) error {
	start := time.Now()
	_, err := s.db.ExecContext(ctx, updateSourceResultSQL,
		sourceID, lastUpdated, lastError, newsCount, string(status))
	metrics.RecordCatalogQuery("update_source_result", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("update source %s: %w", sourceID, err)
	}
	return nil
}

const insertStatsSQL = `
INSERT INTO source_stats
    (source_id, api_type, success_rate, avg_response_time, total_requests,
     error_count, news_count, last_response_time, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)`

// InsertSourceStats appends one flushed stats row.
func (s *Store) InsertSourceStats(ctx context.Context, row models.StatsRow) error {
	start := time.Now()
	_, err := s.db.ExecContext(ctx, insertStatsSQL,
		row.SourceID, string(row.APIType), row.SuccessRate, row.AvgResponseTime, row.TotalRequests,
		row.ErrorCount, row.NewsCount, row.LastResponseTime, row.CreatedAt)
	metrics.RecordCatalogQuery("insert_source_stats", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("insert stats for %s: %w", row.SourceID, err)
	}
	return nil
}

const listProxiesSQL = `
SELECT id,
       name,
       protocol,
       host,
       port,
       COALESCE(username, '')          AS username,
       COALESCE(password, '')          AS password,
       COALESCE("group", 'default')    AS proxy_group,
       COALESCE(priority, 0)           AS priority,
       status,
       COALESCE(success_rate, 100.0)   AS success_rate,
       COALESCE(avg_response_time, 0)  AS avg_response_time,
       last_check_time,
       COALESCE(last_error, '')        AS last_error
FROM proxy_configs
ORDER BY priority DESC, success_rate DESC`

// ListProxies reads all proxy configurations.
func (s *Store) ListProxies(ctx context.Context) ([]models.ProxyConfig, error) {
	start := time.Now()
	var rows []models.ProxyConfig
	err := s.db.SelectContext(ctx, &rows, listProxiesSQL)
	metrics.RecordCatalogQuery("list_proxies", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("%w: list proxies: %v", models.ErrCatalogUnavailable, err)
	}
	return rows, nil
}

const updateProxyHealthSQL = `
UPDATE proxy_configs
SET status            = $2,
    avg_response_time = $3,
    last_error        = NULLIF($4, ''),
    last_check_time   = NOW(),
    updated_at        = NOW()
WHERE id = $1`

// UpdateProxyHealth persists the outcome of a proxy health probe.
func (s *Store) UpdateProxyHealth(ctx context.Context, id int64, status models.ProxyStatus, avgResponseTime float64, lastError string) error {
	start := time.Now()
	_, err := s.db.ExecContext(ctx, updateProxyHealthSQL,
		id, string(status), avgResponseTime, lastError)
	metrics.RecordCatalogQuery("update_proxy_health", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("update proxy %d: %w", id, err)
	}
	return nil
}

// Ping reports catalog reachability.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}
