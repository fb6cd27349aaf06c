// HeatLink - Multi-Source News Aggregation Engine
// Copyright 2026 losesky
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/losesky/heatlink

// Package cache implements the two-tier result cache: a bounded
// in-process LRU memory tier in front of an optional Redis remote
// tier. The Manager reads memory first, falls back to Redis and
// repopulates memory on a remote hit, and writes through to both.
// A Redis outage degrades the manager to memory-only operation;
// readers never see remote errors.
//
// Key conventions:
//
//	source:<source_id>  fetched item lists per source
//	http:<sha1>         short-lived raw HTTP response cache
package cache
