// Verdant - Offline Plant Analysis Cache and Model Manager
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/verdant

// Package config loads Verdant configuration.
//
// Sources, lowest priority first:
//
//  1. built-in defaults (defaultConfig)
//  2. an optional YAML file (CONFIG_PATH, ./config.yaml, /etc/verdant/config.yaml)
//  3. environment variables listed in envTransformFunc
//
// Unknown environment variables are ignored.
package config

import "time"

// Config is the complete daemon configuration.
type Config struct {
	Store      StoreConfig      `koanf:"store"`
	Cache      CacheConfig      `koanf:"cache"`
	Patterns   PatternsConfig   `koanf:"patterns"`
	Models     ModelsConfig     `koanf:"models"`
	Inference  InferenceConfig  `koanf:"inference"`
	Events     EventsConfig     `koanf:"events"`
	Server     ServerConfig     `koanf:"server"`
	Logging    LoggingConfig    `koanf:"logging"`
	Supervisor SupervisorConfig `koanf:"supervisor"`
}

// StoreConfig configures the embedded analysis store.
type StoreConfig struct {
	Path                string        `koanf:"path"`
	InMemory            bool          `koanf:"in_memory"`
	AllowMemoryFallback bool          `koanf:"allow_memory_fallback"`
	SyncWrites          bool          `koanf:"sync_writes"`
	RetentionDays       int           `koanf:"retention_days" validate:"min=1,max=3650"`
	SweepInterval       time.Duration `koanf:"sweep_interval"`
	GCDiscardRatio      float64       `koanf:"gc_discard_ratio" validate:"gt=0,lt=1"`
}

// CacheConfig configures fingerprinting and lookup thresholds.
type CacheConfig struct {
	Algorithm         string        `koanf:"algorithm" validate:"oneof=sha256 blake2b"`
	SampleSize        int           `koanf:"sample_size" validate:"min=1"`
	FingerprintLength int           `koanf:"fingerprint_length" validate:"min=8,max=64"`
	MinConfidence     float64       `koanf:"min_confidence" validate:"gte=0,lte=1"`
	LocalResultSize   int           `koanf:"local_result_size" validate:"min=0"`
	LocalResultTTL    time.Duration `koanf:"local_result_ttl"`
}

// PatternsConfig configures usage learning and suggestions.
type PatternsConfig struct {
	Smoothing     float64       `koanf:"smoothing" validate:"gt=0,lte=1"`
	MaxPatterns   int           `koanf:"max_patterns" validate:"min=0"`
	TopPatterns   int           `koanf:"top_patterns" validate:"min=1,max=50"`
	MinFrequency  int           `koanf:"min_frequency" validate:"min=0"`
	MinConfidence float64       `koanf:"min_confidence" validate:"gte=0,lte=1"`
	SuggestionTTL time.Duration `koanf:"suggestion_ttl"`
	DefaultLimit  int           `koanf:"default_limit" validate:"min=1,max=100"`
	PruneInterval time.Duration `koanf:"prune_interval"`
}

// ModelsConfig configures the local model registry.
type ModelsConfig struct {
	// Catalog overrides the built-in catalog when non-empty.
	Catalog        []ModelConfig `koanf:"catalog" validate:"dive"`
	AcquireTimeout time.Duration `koanf:"acquire_timeout"`
	DownloadSteps  int           `koanf:"download_steps" validate:"min=1,max=100"`
	StepDelay      time.Duration `koanf:"step_delay"`
	PersistState   bool          `koanf:"persist_state"`
}

// ModelConfig is one catalog entry.
type ModelConfig struct {
	ID      string   `koanf:"id" validate:"required"`
	Name    string   `koanf:"name" validate:"required"`
	Version string   `koanf:"version" validate:"required"`
	SizeMB  float64  `koanf:"size_mb" validate:"gte=0"`
	Modes   []string `koanf:"modes" validate:"dive,mode"`
}

// InferenceConfig configures the remote analysis client.
type InferenceConfig struct {
	Enabled            bool          `koanf:"enabled"`
	Endpoint           string        `koanf:"endpoint" validate:"omitempty,url"`
	APIKey             string        `koanf:"api_key"`
	Timeout            time.Duration `koanf:"timeout"`
	RequestsPerSecond  float64       `koanf:"requests_per_second" validate:"gte=0"`
	Burst              int           `koanf:"burst" validate:"min=1"`
	BreakerTimeout     time.Duration `koanf:"breaker_timeout"`
	BreakerMaxRequests uint32        `koanf:"breaker_max_requests" validate:"min=1"`
}

// EventsConfig configures the in-process event router.
type EventsConfig struct {
	BufferSize           int64         `koanf:"buffer_size" validate:"min=1"`
	CloseTimeout         time.Duration `koanf:"close_timeout"`
	RetryMaxRetries      int           `koanf:"retry_max_retries" validate:"min=0,max=20"`
	RetryInitialInterval time.Duration `koanf:"retry_initial_interval"`
	DedupEnabled         bool          `koanf:"dedup_enabled"`
	DedupTTL             time.Duration `koanf:"dedup_ttl"`
	DedupCapacity        int           `koanf:"dedup_capacity" validate:"min=1"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Enabled         bool          `koanf:"enabled"`
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	MaxBodyBytes    int64         `koanf:"max_body_bytes" validate:"min=1024"`
	CORSOrigins     []string      `koanf:"cors_origins"`
	RateLimitReqs   int           `koanf:"rate_limit_reqs" validate:"min=0"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
}

// LoggingConfig configures the global logger.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// SupervisorConfig configures the suture tree.
type SupervisorConfig struct {
	FailureThreshold float64       `koanf:"failure_threshold" validate:"gt=0"`
	FailureDecay     float64       `koanf:"failure_decay" validate:"gt=0"`
	FailureBackoff   time.Duration `koanf:"failure_backoff"`
	ShutdownTimeout  time.Duration `koanf:"shutdown_timeout"`
}

// Load reads configuration from defaults, file and environment.
func Load() (*Config, error) {
	return LoadWithKoanf()
}
