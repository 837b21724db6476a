// Verdant - Offline Plant Analysis Cache and Model Manager
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/verdant

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

// DefaultConfigPaths are searched in order; the first existing file wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/verdant/config.yaml",
	"/etc/verdant/config.yml",
}

// ConfigPathEnvVar overrides the config file location.
const ConfigPathEnvVar = "CONFIG_PATH"

func defaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Path:                "/data/verdant",
			AllowMemoryFallback: true,
			RetentionDays:       30,
			SweepInterval:       6 * time.Hour,
			GCDiscardRatio:      0.5,
		},
		Cache: CacheConfig{
			Algorithm:         "sha256",
			SampleSize:        1000,
			FingerprintLength: 16,
			MinConfidence:     0.7,
			LocalResultSize:   256,
			LocalResultTTL:    time.Hour,
		},
		Patterns: PatternsConfig{
			Smoothing:     0.3,
			MaxPatterns:   500,
			TopPatterns:   3,
			MinFrequency:  3,
			MinConfidence: 0.8,
			SuggestionTTL: time.Hour,
			DefaultLimit:  5,
			PruneInterval: 10 * time.Minute,
		},
		Models: ModelsConfig{
			AcquireTimeout: 5 * time.Minute,
			DownloadSteps:  10,
			StepDelay:      200 * time.Millisecond,
			PersistState:   true,
		},
		Inference: InferenceConfig{
			Enabled:            false,
			Timeout:            30 * time.Second,
			RequestsPerSecond:  2,
			Burst:              4,
			BreakerTimeout:     30 * time.Second,
			BreakerMaxRequests: 3,
		},
		Events: EventsConfig{
			BufferSize:           256,
			CloseTimeout:         10 * time.Second,
			RetryMaxRetries:      3,
			RetryInitialInterval: 100 * time.Millisecond,
			DedupEnabled:         true,
			DedupTTL:             10 * time.Minute,
			DedupCapacity:        10000,
		},
		Server: ServerConfig{
			Enabled:         true,
			Host:            "127.0.0.1",
			Port:            8787,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			MaxBodyBytes:    16 << 20,
			CORSOrigins:     []string{"*"},
			RateLimitReqs:   120,
			RateLimitWindow: time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Supervisor: SupervisorConfig{
			FailureThreshold: 5,
			FailureDecay:     30,
			FailureBackoff:   15 * time.Second,
			ShutdownTimeout:  10 * time.Second,
		},
	}
}

// LoadWithKoanf layers defaults, the optional config file and environment
// variables, then validates the result.
func LoadWithKoanf() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

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

// sliceConfigPaths are split on commas when they arrive as strings.
var sliceConfigPaths = []string{
	"server.cors_origins",
}

func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		strVal, ok := k.Get(path).(string)
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
		if len(trimmed) == 0 {
			continue
		}
		if err := k.Set(path, trimmed); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

// envMappings maps lowercased environment variable names to koanf paths.
var envMappings = map[string]string{
	"store_path":                  "store.path",
	"store_in_memory":             "store.in_memory",
	"store_allow_memory_fallback": "store.allow_memory_fallback",
	"store_sync_writes":           "store.sync_writes",
	"retention_days":              "store.retention_days",
	"sweep_interval":              "store.sweep_interval",

	"fingerprint_algorithm":  "cache.algorithm",
	"fingerprint_sample":     "cache.sample_size",
	"fingerprint_length":     "cache.fingerprint_length",
	"cache_min_confidence":   "cache.min_confidence",
	"local_result_cache":     "cache.local_result_size",
	"local_result_cache_ttl": "cache.local_result_ttl",

	"pattern_smoothing":         "patterns.smoothing",
	"pattern_max":               "patterns.max_patterns",
	"pattern_top":               "patterns.top_patterns",
	"suggestion_min_frequency":  "patterns.min_frequency",
	"suggestion_min_confidence": "patterns.min_confidence",
	"suggestion_ttl":            "patterns.suggestion_ttl",
	"suggestion_limit":          "patterns.default_limit",
	"suggestion_prune_interval": "patterns.prune_interval",

	"model_acquire_timeout": "models.acquire_timeout",
	"model_download_steps":  "models.download_steps",
	"model_step_delay":      "models.step_delay",
	"model_persist_state":   "models.persist_state",

	"inference_enabled":              "inference.enabled",
	"inference_endpoint":             "inference.endpoint",
	"inference_api_key":              "inference.api_key",
	"inference_timeout":              "inference.timeout",
	"inference_rate":                 "inference.requests_per_second",
	"inference_burst":                "inference.burst",
	"inference_breaker_timeout":      "inference.breaker_timeout",
	"inference_breaker_max_requests": "inference.breaker_max_requests",

	"events_buffer_size":    "events.buffer_size",
	"events_close_timeout":  "events.close_timeout",
	"events_retry_count":    "events.retry_max_retries",
	"events_retry_interval": "events.retry_initial_interval",
	"events_dedup_enabled":  "events.dedup_enabled",
	"events_dedup_ttl":      "events.dedup_ttl",

	"http_enabled":        "server.enabled",
	"http_host":           "server.host",
	"http_port":           "server.port",
	"http_max_body":       "server.max_body_bytes",
	"cors_origins":        "server.cors_origins",
	"rate_limit_requests": "server.rate_limit_reqs",
	"rate_limit_window":   "server.rate_limit_window",

	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",

	"supervisor_failure_threshold": "supervisor.failure_threshold",
	"supervisor_failure_backoff":   "supervisor.failure_backoff",
	"supervisor_shutdown_timeout":  "supervisor.shutdown_timeout",
}

// envTransformFunc maps environment variable names to config paths.
// Unmapped names return "" and are skipped, so unrelated variables never
// leak into the configuration.
//
//	HTTP_PORT          -> server.port
//	RETENTION_DAYS     -> store.retention_days
//	INFERENCE_ENDPOINT -> inference.endpoint
func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}
