// Verdant - Offline Plant Analysis Cache and Model Manager
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/verdant

package config

import (
	"fmt"
	"time"

	"github.com/tomtom215/verdant/internal/validation"
)

// ConfigError reports an invalid setting.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s: %s", e.Field, e.Message)
}

// Validate runs struct-tag validation followed by cross-field checks.
func (c *Config) Validate() error {
	if verr := validation.ValidateStruct(c); verr != nil {
		return verr
	}

	validators := []func() error{
		c.validateStore,
		c.validatePatterns,
		c.validateModels,
		c.validateInference,
		c.validateEvents,
		c.validateServer,
	}
	for _, validate := range validators {
		if err := validate(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) validateStore() error {
	if !c.Store.InMemory && c.Store.Path == "" {
		return &ConfigError{Field: "store.path", Message: "required unless store.in_memory is set"}
	}
	if c.Store.SweepInterval < time.Minute {
		return &ConfigError{Field: "store.sweep_interval", Message: "must be at least 1m"}
	}
	return nil
}

func (c *Config) validatePatterns() error {
	if c.Patterns.SuggestionTTL <= 0 {
		return &ConfigError{Field: "patterns.suggestion_ttl", Message: "must be positive"}
	}
	if c.Patterns.PruneInterval < time.Second {
		return &ConfigError{Field: "patterns.prune_interval", Message: "must be at least 1s"}
	}
	if c.Patterns.MaxPatterns > 0 && c.Patterns.MaxPatterns < c.Patterns.TopPatterns {
		return &ConfigError{Field: "patterns.max_patterns", Message: "must be 0 (unbounded) or at least patterns.top_patterns"}
	}
	return nil
}

func (c *Config) validateModels() error {
	if c.Models.AcquireTimeout <= 0 {
		return &ConfigError{Field: "models.acquire_timeout", Message: "must be positive"}
	}
	if c.Models.StepDelay < 0 {
		return &ConfigError{Field: "models.step_delay", Message: "must not be negative"}
	}
	seen := make(map[string]struct{}, len(c.Models.Catalog))
	for _, m := range c.Models.Catalog {
		if _, dup := seen[m.ID]; dup {
			return &ConfigError{Field: "models.catalog", Message: fmt.Sprintf("duplicate model id %q", m.ID)}
		}
		seen[m.ID] = struct{}{}
	}
	return nil
}

func (c *Config) validateInference() error {
	if !c.Inference.Enabled {
		return nil
	}
	if c.Inference.Endpoint == "" {
		return &ConfigError{Field: "inference.endpoint", Message: "required when inference.enabled is set"}
	}
	if c.Inference.Timeout <= 0 {
		return &ConfigError{Field: "inference.timeout", Message: "must be positive"}
	}
	return nil
}

func (c *Config) validateEvents() error {
	if c.Events.DedupEnabled && c.Events.DedupTTL <= 0 {
		return &ConfigError{Field: "events.dedup_ttl", Message: "must be positive when deduplication is enabled"}
	}
	return nil
}

func (c *Config) validateServer() error {
	if !c.Server.Enabled {
		return nil
	}
	if c.Server.RateLimitReqs > 0 && c.Server.RateLimitWindow <= 0 {
		return &ConfigError{Field: "server.rate_limit_window", Message: "must be positive when rate limiting is enabled"}
	}
	return nil
}
