// Verdant - Offline Plant Analysis Cache and Model Manager
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/verdant

package registry

import (
	"slices"
	"time"
)

// State is a model's lifecycle state.
type State string

// Lifecycle states. Uncached -> Acquiring -> Cached, and Cached -> Uncached
// on eviction.
const (
	StateUncached  State = "uncached"
	StateAcquiring State = "acquiring"
	StateCached    State = "cached"
)

// gaugeValue maps a state onto the model state gauge.
func (s State) gaugeValue() float64 {
	switch s {
	case StateAcquiring:
		return 1
	case StateCached:
		return 2
	default:
		return 0
	}
}

// ModelDescriptor describes one catalog model and its current state.
type ModelDescriptor struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Version  string    `json:"version"`
	SizeMB   float64   `json:"size_mb"`
	Modes    []string  `json:"modes"`
	State    State     `json:"state"`
	Progress int       `json:"progress"`
	CachedAt time.Time `json:"cached_at,omitempty"`
	LastUsed time.Time `json:"last_used,omitempty"`
}

// Supports reports whether the model handles mode.
func (d ModelDescriptor) Supports(mode string) bool {
	return slices.Contains(d.Modes, mode)
}

func (d ModelDescriptor) clone() ModelDescriptor {
	d.Modes = slices.Clone(d.Modes)
	return d
}

// DefaultCatalog is the built-in model list used when none is configured.
func DefaultCatalog() []ModelDescriptor {
	return []ModelDescriptor{
		{ID: "plant-classifier-v1", Name: "Plant Classifier", Version: "1.0.0", SizeMB: 42.5, Modes: []string{"botanical"}},
		{ID: "plant-health-v1", Name: "Plant Health Inspector", Version: "1.1.0", SizeMB: 58, Modes: []string{"botanical", "health"}},
		{ID: "structure-analyzer-v1", Name: "Structure Analyzer", Version: "0.9.2", SizeMB: 35, Modes: []string{"structural"}},
		{ID: "style-transfer-v1", Name: "Artistic Style", Version: "2.0.0", SizeMB: 96, Modes: []string{"artistic"}},
	}
}
