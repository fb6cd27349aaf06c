// HeatLink - Multi-Source News Aggregation Engine
// Copyright 2026 losesky
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/losesky/heatlink

// Package main is the entry point for the HeatLink server.
//
// HeatLink aggregates news from heterogeneous sources (HTML scraping,
// JSON APIs, RSS/Atom feeds, headless-browser rendering) into a
// unified feed with hot-topic clustering.
//
// # Application Architecture
//
// The server initializes components in the following order:
//
//  1. Configuration: Koanf v2 layered loading (defaults, YAML, env)
//  2. Catalog: Postgres source metadata store, with compiled-in
//     fallback when the catalog is unreachable
//  3. Cache: in-memory LRU plus optional Redis remote tier
//  4. Proxy manager: catalog-defined proxies with health probing
//  5. Fetch runtime: shared HTTP client with retries, rate limiting,
//     and per-host circuit breakers
//  6. Registry, scheduler, deduplicator, aggregator, stats collector
//  7. HTTP server: REST API plus /health and /metrics
//
// All long-running components run under a three-layer suture
// supervisor tree (data, engine, api) so a crashing subsystem
// restarts without taking down the rest.
//
// # Exit Codes
//
//	0  clean shutdown on SIGINT/SIGTERM
//	1  runtime failure
//	2  invalid configuration
//	3  catalog unreachable with database.require_catalog set
//
// # Signal Handling
//
// SIGINT and SIGTERM trigger graceful shutdown: the HTTP listener
// drains in-flight requests, the scheduler stops dispatching, and the
// stats collector flushes pending accumulators before exit.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/losesky/heatlink/internal/aggregator"
	"github.com/losesky/heatlink/internal/api"
	"github.com/losesky/heatlink/internal/cache"
	"github.com/losesky/heatlink/internal/catalog"
	"github.com/losesky/heatlink/internal/config"
	"github.com/losesky/heatlink/internal/dedup"
	"github.com/losesky/heatlink/internal/fetch"
	"github.com/losesky/heatlink/internal/logging"
	"github.com/losesky/heatlink/internal/proxy"
	"github.com/losesky/heatlink/internal/scheduler"
	"github.com/losesky/heatlink/internal/sources"
	"github.com/losesky/heatlink/internal/stats"
	"github.com/losesky/heatlink/internal/supervisor"
)

const (
	exitRuntime = 1
	exitConfig  = 2
	exitCatalog = 3
)

func main() {
	os.Exit(run())
}

//nolint:gocyclo // sequential wiring of every subsystem
func run() int {
	cfg, err := config.Load()
	if err != nil {
		logging.Error().Err(err).Msg("invalid configuration")
		return exitConfig
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	logging.Info().Msg("starting HeatLink")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Catalog store. Unreachable means fallback mode unless the
	// deployment demands catalog-backed operation.
	var store *catalog.Store
	if cfg.Database.URL != "" {
		store, err = catalog.Open(ctx, cfg.Database)
		if err != nil {
			if cfg.Database.RequireCatalog {
				logging.Error().Err(err).Msg("catalog unreachable and require_catalog is set")
				return exitCatalog
			}
			logging.Warn().Err(err).Msg("catalog unreachable, entering fallback mode")
			store = nil
		}
	} else if cfg.Database.RequireCatalog {
		logging.Error().Msg("require_catalog is set but no database URL configured")
		return exitCatalog
	}
	if store != nil {
		defer func() {
			if cerr := store.Close(); cerr != nil {
				logging.Error().Err(cerr).Msg("closing catalog store")
			}
		}()
	}

	// Two-tier cache. A bad Redis URL degrades to memory-only.
	var remote *cache.Redis
	if cfg.Cache.RedisURL != "" {
		remote, err = cache.NewRedis(ctx, cfg.Cache.RedisURL)
		if err != nil {
			logging.Warn().Err(err).Msg("redis unavailable, cache runs memory-only")
			remote = nil
		}
	}
	cacheMgr := cache.NewManager(
		cache.NewMemory(cfg.Cache.MemoryMaxEntries, cfg.Cache.CleanupInterval),
		remote,
		cfg.Cache.DefaultTTL,
	)
	defer func() {
		if cerr := cacheMgr.Close(); cerr != nil {
			logging.Error().Err(cerr).Msg("closing cache")
		}
	}()

	// Proxy manager over the catalog's proxy rows. Without a catalog it
	// still enforces the configured always-proxy domains.
	var proxyStore proxy.Store
	if store != nil {
		proxyStore = store
	}
	proxyMgr := proxy.NewManager(cfg.Proxy, proxyStore)
	if err := proxyMgr.RefreshProxies(ctx); err != nil {
		logging.Warn().Err(err).Msg("initial proxy load failed")
	}

	client := fetch.NewClient(cfg.Fetch, fetch.Options{
		Cache:        cacheMgr,
		Proxy:        proxyMgr.ProxyFor,
		ProxiedHost:  proxyMgr.HostRequiresProxy,
		HTTPCacheTTL: cfg.Cache.HTTPCacheTTL,
	})

	var catalogStore sources.CatalogStore
	if store != nil {
		catalogStore = store
	}
	registry, err := sources.NewRegistry(ctx, catalogStore, client, int64(cfg.Fetch.AdapterConcurrency))
	if err != nil {
		logging.Error().Err(err).Msg("loading source registry")
		if cfg.Database.RequireCatalog {
			return exitCatalog
		}
		return exitRuntime
	}
	defer func() {
		if cerr := registry.Close(); cerr != nil {
			logging.Error().Err(cerr).Msg("closing registry")
		}
	}()
	if registry.Fallback() {
		logging.Warn().Msg("running in fallback mode with compiled-in sources")
	}

	var statsStore stats.Store
	if store != nil {
		statsStore = store
	}
	collector := stats.New(cfg.Stats, statsStore)

	sched := scheduler.New(cfg.Scheduler, registry, cacheMgr, collector)

	deduper := dedup.New(cfg.Sources.DedupMaxFingerprints)
	agg := aggregator.New(cfg.Aggregator, cacheMgr, registry, deduper)

	handler := api.NewHandler(registry, sched, agg, cacheMgr, collector, cfg)
	router := api.NewRouter(handler, api.NewMiddleware(&api.MiddlewareConfig{
		CORSAllowedOrigins: cfg.Server.CORSOrigins,
		RateLimitRequests:  cfg.Server.RateLimitReqs,
		RateLimitWindow:    cfg.Server.RateLimitWindow,
	}))
	server := api.NewServer(cfg.Server, router)

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddDataService(proxyMgr)
	tree.AddDataService(collector)
	tree.AddEngineService(sched)
	tree.AddEngineService(supervisor.NewAggregatorService(agg, cfg.Aggregator.UpdateInterval))
	if store != nil {
		tree.AddEngineService(supervisor.NewCatalogRefreshService(registry, sched, cfg.Scheduler.DefaultUpdateInterval))
	}
	tree.AddAPIService(server)

	logging.Info().Str("addr", server.Addr()).Msg("supervisor tree starting")
	err = tree.Serve(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("supervisor tree failed")
		return exitRuntime
	}

	logging.Info().Msg("shutdown complete")
	return 0
}
