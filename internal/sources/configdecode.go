// HeatLink - Multi-Source News Aggregation Engine
// Copyright 2026 losesky
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/losesky/heatlink

package sources

import json "github.com/goccy/go-json"

// decodeConfig maps a source's opaque config into a family's typed
// options through a JSON round trip, so the catalog and compiled-in
// sources share one option vocabulary.
func decodeConfig(raw map[string]any, dest any) error {
	if raw == nil {
		raw = map[string]any{}
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dest)
}
