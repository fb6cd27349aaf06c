// HeatLink - Multi-Source News Aggregation Engine
// Copyright 2026 losesky
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/losesky/heatlink

// Package fetch provides the shared HTTP runtime used by every source
// adapter: one pooled client with cookie persistence, retry with
// exponential backoff on transient failures, rotating desktop
// user-agents, per-host rate limiting and circuit breaking, optional
// response caching, and proxy routing for hosts that need it.
package fetch
