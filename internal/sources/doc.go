// HeatLink - Multi-Source News Aggregation Engine
// Copyright 2026 losesky
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/losesky/heatlink

// Package sources holds the source registry and the adapter families
// that turn a site's native representation into normalized news items.
//
// Adapter discovery is a build-time table, not runtime introspection:
// the factory map binds source ids (and families) to constructors, and
// the catalog loader refuses to instantiate anything it does not know.
// Every adapter owns exactly one cache record {items, storedAt}; the
// fetch path and any read path consult the same record, and ClearCache
// resets both fields under one lock.
package sources
