// HeatLink - Multi-Source News Aggregation Engine
// Copyright 2026 losesky
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/losesky/heatlink

// Package api exposes the engine over HTTP.
//
// Every endpoint returns the APIResponse envelope; errors carry a
// stable machine-readable code and the metadata block reports whether
// the engine is serving in degraded (fallback) mode. Routing is chi
// with a middleware chain of request ID, structured request logging,
// panic recovery, CORS, and an IP-keyed rate limit on /api.
package api
