// HeatLink - Multi-Source News Aggregation Engine
// Copyright 2026 losesky
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/losesky/heatlink

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists where config files are searched, in order.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/heatlink/config.yaml",
	"/etc/heatlink/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns built-in defaults; config file and env vars
// layer on top.
func defaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			URL:            "",
			MaxOpenConns:   10,
			MaxIdleConns:   2,
			RequireCatalog: false,
		},
		Cache: CacheConfig{
			RedisURL:         "",
			MemoryEnabled:    true,
			MemoryMaxEntries: 10000,
			DefaultTTL:       15 * time.Minute,
			CleanupInterval:  5 * time.Minute,
			HTTPCacheTTL:     60 * time.Second,
		},
		Fetch: FetchConfig{
			MaxRetries:         3,
			RetryBaseDelay:     2 * time.Second,
			RetryMaxDelay:      30 * time.Second,
			ConnectTimeout:     10 * time.Second,
			ReadTimeout:        20 * time.Second,
			TotalTimeout:       30 * time.Second,
			RatePerHost:        0,
			AdapterConcurrency: 20,
		},
		Proxy: ProxyConfig{
			Domains:             nil,
			HealthCheckURL:      "https://www.google.com/generate_204",
			HealthCheckInterval: 5 * time.Minute,
			MaxFailures:         3,
		},
		Scheduler: SchedulerConfig{
			WorkerPoolSize:        0, // 0 = NumCPU × 4
			TickInterval:          10 * time.Second,
			DefaultUpdateInterval: 10 * time.Minute,
			DefaultCacheTTL:       5 * time.Minute,
			AdaptiveEnabled:       true,
			KFail:                 0.5,
			KActivity:             0.3,
			MinInterval:           2 * time.Minute,
			MaxInterval:           time.Hour,
			FetchTimeoutCeiling:   2 * time.Minute,
			ShutdownGrace:         15 * time.Second,
		},
		Sources: SourcesConfig{
			AllowSynthetic:       false,
			DedupMaxFingerprints: 10000,
		},
		Aggregator: AggregatorConfig{
			SimilarityThreshold: 0.6,
			MaxClusters:         100,
			UpdateInterval:      2 * time.Minute,
		},
		Stats: StatsConfig{
			Enabled:       true,
			FlushInterval: time.Hour,
			MaxRetries:    3,
			RetryBackoff:  5 * time.Second,
		},
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8000,
			Timeout:         30 * time.Second,
			DefaultPageSize: 20,
			MaxPageSize:     100,
			CORSOrigins:     []string{"*"},
			RateLimitReqs:   100,
			RateLimitWindow: time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
		Timezone: "UTC",
	}
}

// Load builds the configuration from layered sources:
//  1. Built-in defaults
//  2. Optional YAML config file
//  3. Environment variables (highest priority)
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// findConfigFile returns the first existing config file, or "".
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// sliceConfigPaths are parsed from comma-separated env strings.
var sliceConfigPaths = []string{
	"proxy.domains",
	"server.cors_origins",
}

// processSliceFields converts comma-separated strings to slices for the
// known slice fields. Env vars arrive as strings; YAML values are
// already slices and pass through untouched.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		strVal, ok := val.(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) > 0 {
			if err := k.Set(path, trimmed); err != nil {
				return fmt.Errorf("set %s: %w", path, err)
			}
		}
	}
	return nil
}

// envMappings maps flat environment variable names to config paths.
// Variables not listed here and not matching a section prefix are ignored.
var envMappings = map[string]string{
	"database_url":    "database.url",
	"require_catalog": "database.require_catalog",

	"redis_url":      "cache.redis_url",
	"cache_ttl":      "cache.default_ttl",
	"http_cache_ttl": "cache.http_cache_ttl",

	"worker_pool_size":        "scheduler.worker_pool_size",
	"default_update_interval": "scheduler.default_update_interval",
	"default_cache_ttl":       "scheduler.default_cache_ttl",

	"proxied_domains": "proxy.domains",

	"log_level":  "logging.level",
	"log_format": "logging.format",

	"http_host": "server.host",
	"http_port": "server.port",

	"timezone": "timezone",
	"tz":       "timezone",
}

// sectionPrefixes route SECTION_FIELD style variables into their config
// sections, e.g. SCHEDULER_K_FAIL -> scheduler.k_fail.
var sectionPrefixes = []string{
	"database", "cache", "fetch", "proxy", "scheduler",
	"sources", "aggregator", "stats", "server", "logging",
}

// envTransform maps environment variable names to koanf paths.
// Unknown variables map to "" and are dropped.
func envTransform(key string) string {
	lower := strings.ToLower(key)

	if path, ok := envMappings[lower]; ok {
		return path
	}

	for _, prefix := range sectionPrefixes {
		if strings.HasPrefix(lower, prefix+"_") {
			return prefix + "." + strings.TrimPrefix(lower, prefix+"_")
		}
	}
	return ""
}
