// HeatLink - Multi-Source News Aggregation Engine
// Copyright 2026 losesky
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/losesky/heatlink

// Package models defines the shared data model for the aggregation engine:
// normalized news items, source catalog entries, per-source statistics
// accumulators, aggregation clusters, and the error taxonomy surfaced
// across component boundaries.
//
// NewsItem values are immutable after creation and copied by value when
// crossing component boundaries. Source values are owned by the registry
// and mutated only by catalog refresh.
package models
