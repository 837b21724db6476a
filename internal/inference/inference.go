// Verdant - Offline Plant Analysis Cache and Model Manager
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/verdant

// Package inference defines analysis requests and results and provides the
// HTTP client for the remote analysis service.
package inference

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// Result sources.
const (
	SourceCache  = "cache"
	SourceRemote = "remote"
	SourceLocal  = "local"
)

var (
	// ErrUnavailable means the remote service cannot be reached right now:
	// the client is disabled, the breaker is open or the call failed.
	ErrUnavailable = errors.New("inference: remote service unavailable")

	// ErrEmptyRequest is returned for a request without image data.
	ErrEmptyRequest = errors.New("inference: empty request")
)

// Request is one analysis call.
type Request struct {
	// Payload is the raw image. Encoded is used when Payload is empty.
	Payload []byte
	Encoded string

	Mode    string
	Prompt  string
	ModelID string
}

// Empty reports whether the request carries no image data.
func (r Request) Empty() bool {
	return len(r.Payload) == 0 && r.Encoded == ""
}

// Result is an analysis outcome from any source.
type Result struct {
	Mode       string          `json:"mode"`
	Data       json.RawMessage `json:"data,omitempty"`
	Confidence float64         `json:"confidence"`
	ModelID    string          `json:"model_id,omitempty"`
	Source     string          `json:"source"`
	AnalysisID string          `json:"analysis_id,omitempty"`
	CachedAt   time.Time       `json:"cached_at,omitempty"`
	Latency    time.Duration   `json:"latency_ns,omitempty"`
}

// Analyzer performs remote analysis.
type Analyzer interface {
	Analyze(ctx context.Context, req Request) (*Result, error)
}

// StatusError is a non-2xx response from the remote service.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("inference: remote returned status %d", e.Code)
	}
	return fmt.Sprintf("inference: remote returned status %d: %s", e.Code, e.Body)
}

// Temporary reports whether retrying later may succeed.
func (e *StatusError) Temporary() bool {
	return e.Code >= 500 || e.Code == 429
}

// Disabled is an Analyzer that always reports ErrUnavailable. It stands in
// when no remote endpoint is configured.
type Disabled struct{}

// Analyze implements Analyzer.
func (Disabled) Analyze(context.Context, Request) (*Result, error) {
	return nil, fmt.Errorf("%w: no endpoint configured", ErrUnavailable)
}
