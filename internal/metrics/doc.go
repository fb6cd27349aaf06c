// HeatLink - Multi-Source News Aggregation Engine
// Copyright 2026 losesky
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/losesky/heatlink

// Package metrics exposes Prometheus instrumentation for the fetch
// pipeline, cache tiers, scheduler, deduplication, aggregation, proxy
// health, catalog queries, and the HTTP API.
package metrics
