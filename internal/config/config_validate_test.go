// Verdant - Offline Plant Analysis Cache and Model Manager
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/verdant

package config

import (
	"errors"
	"testing"
	"time"

	"github.com/tomtom215/verdant/internal/validation"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantField string
		wantTag   bool
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{
			name:   "in-memory store needs no path",
			mutate: func(c *Config) { c.Store.InMemory = true; c.Store.Path = "" },
		},
		{
			name:      "missing store path",
			mutate:    func(c *Config) { c.Store.Path = "" },
			wantField: "store.path",
		},
		{
			name:      "short sweep interval",
			mutate:    func(c *Config) { c.Store.SweepInterval = time.Second },
			wantField: "store.sweep_interval",
		},
		{
			name:    "unknown digest",
			mutate:  func(c *Config) { c.Cache.Algorithm = "md5" },
			wantTag: true,
		},
		{
			name:    "smoothing out of range",
			mutate:  func(c *Config) { c.Patterns.Smoothing = 1.5 },
			wantTag: true,
		},
		{
			name: "bad catalog mode",
			mutate: func(c *Config) {
				c.Models.Catalog = []ModelConfig{{ID: "m", Name: "M", Version: "1", Modes: []string{"Bad Mode"}}}
			},
			wantTag: true,
		},
		{
			name: "duplicate catalog id",
			mutate: func(c *Config) {
				m := ModelConfig{ID: "m", Name: "M", Version: "1", Modes: []string{"botanical"}}
				c.Models.Catalog = []ModelConfig{m, m}
			},
			wantField: "models.catalog",
		},
		{
			name:      "pattern cap below top patterns",
			mutate:    func(c *Config) { c.Patterns.MaxPatterns = 2 },
			wantField: "patterns.max_patterns",
		},
		{
			name:      "inference without endpoint",
			mutate:    func(c *Config) { c.Inference.Enabled = true },
			wantField: "inference.endpoint",
		},
		{
			name: "inference with endpoint",
			mutate: func(c *Config) {
				c.Inference.Enabled = true
				c.Inference.Endpoint = "https://inference.example.com/v1/analyze"
			},
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Logging.Level = "loud" },
			wantTag: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()

			switch {
			case tt.wantField != "":
				var cfgErr *ConfigError
				if !errors.As(err, &cfgErr) {
					t.Fatalf("error = %v, want *ConfigError", err)
				}
				if cfgErr.Field != tt.wantField {
					t.Errorf("Field = %q, want %q", cfgErr.Field, tt.wantField)
				}
			case tt.wantTag:
				var verr *validation.RequestValidationError
				if !errors.As(err, &verr) {
					t.Fatalf("error = %v, want *validation.RequestValidationError", err)
				}
			default:
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
			}
		})
	}
}
