// Verdant - Offline Plant Analysis Cache and Model Manager
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/verdant

package store

import (
	"time"

	"github.com/goccy/go-json"
)

// CachedAnalysis is one stored inference result. Records are append-only;
// several may exist for the same (Fingerprint, Mode).
type CachedAnalysis struct {
	ID          string          `json:"id"`
	Fingerprint string          `json:"fingerprint" validate:"required,fingerprint"`
	Mode        string          `json:"mode" validate:"required,mode"`
	Result      json.RawMessage `json:"result,omitempty"`
	Confidence  float64         `json:"confidence" validate:"gte=0,lte=1"`
	ModelID     string          `json:"model_id,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	Metadata    Metadata        `json:"metadata"`
}

// Metadata describes how the image was captured. It never takes part in
// cache keys; the pattern learner reads it.
type Metadata struct {
	CameraSetting string            `json:"camera_setting,omitempty"`
	Effects       []string          `json:"effects,omitempty"`
	Sensor        map[string]string `json:"sensor,omitempty"`
	Prompt        string            `json:"prompt,omitempty"`
}

// UsagePattern aggregates occurrences of one (mode, camera, effects) tuple.
type UsagePattern struct {
	ID            string    `json:"id"`
	Mode          string    `json:"mode"`
	CameraSetting string    `json:"camera_setting,omitempty"`
	Effects       []string  `json:"effects,omitempty"`
	Frequency     int64     `json:"frequency"`
	FirstSeen     time.Time `json:"first_seen"`
	LastSeen      time.Time `json:"last_seen"`
	RelatedModes  []string  `json:"related_modes,omitempty"`
	AvgConfidence float64   `json:"avg_confidence"`
}

// SuggestionType classifies a suggestion.
type SuggestionType string

// Suggestion types.
const (
	SuggestionMode   SuggestionType = "mode"
	SuggestionCamera SuggestionType = "camera"
	SuggestionEffect SuggestionType = "effect"
)

// Suggestion is a time-limited recommendation derived from a pattern.
type Suggestion struct {
	ID         string         `json:"id"`
	Type       SuggestionType `json:"type"`
	Value      string         `json:"value"`
	Reason     string         `json:"reason"`
	Confidence float64        `json:"confidence"`
	PatternID  string         `json:"pattern_id,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// ModelState is the persisted lifecycle state of a registry model.
type ModelState struct {
	ID       string    `json:"id"`
	State    string    `json:"state"`
	CachedAt time.Time `json:"cached_at,omitempty"`
	LastUsed time.Time `json:"last_used,omitempty"`
}

// Stats describes the analysis collection.
type Stats struct {
	Count                int64 `json:"count"`
	ApproximateSizeBytes int64 `json:"approximate_size_bytes"`
}
