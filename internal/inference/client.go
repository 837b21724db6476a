// Verdant - Offline Plant Analysis Cache and Model Manager
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/verdant

package inference

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/tomtom215/verdant/internal/logging"
	"github.com/tomtom215/verdant/internal/metrics"
)

const breakerName = "inference-api"

// maxResponseBytes caps how much of a response body is read.
const maxResponseBytes = 8 << 20

// Config configures HTTPClient.
type Config struct {
	Endpoint string
	APIKey   string
	Timeout  time.Duration

	// RequestsPerSecond of 0 disables client-side rate limiting.
	RequestsPerSecond float64
	Burst             int

	// Breaker opens after FailureThreshold consecutive failures and probes
	// again after BreakerTimeout with up to BreakerMaxRequests calls.
	FailureThreshold   uint32
	BreakerTimeout     time.Duration
	BreakerMaxRequests uint32

	// HTTPClient overrides the default transport, mainly for tests.
	HTTPClient *http.Client
}

// HTTPClient calls the remote analysis service. It does not retry; callers
// fall back to cached models or surface the error.
type HTTPClient struct {
	endpoint string
	apiKey   string
	http     *http.Client
	limiter  *rate.Limiter
	cb       *gobreaker.CircuitBreaker[*Result]
}

type analyzeRequest struct {
	Image   string `json:"image"`
	Mode    string `json:"mode"`
	Prompt  string `json:"prompt,omitempty"`
	ModelID string `json:"model_id,omitempty"`
}

type analyzeResponse struct {
	Result     json.RawMessage `json:"result"`
	Confidence float64         `json:"confidence"`
	ModelID    string          `json:"model_id,omitempty"`
}

// NewHTTPClient creates a client for cfg.Endpoint.
func NewHTTPClient(cfg Config) (*HTTPClient, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("inference: endpoint is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = 30 * time.Second
	}
	if cfg.BreakerMaxRequests == 0 {
		cfg.BreakerMaxRequests = 1
	}

	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	metrics.InferenceBreakerState.Set(stateToFloat(gobreaker.StateClosed))

	cb := gobreaker.NewCircuitBreaker[*Result](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: cfg.BreakerMaxRequests,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		// Rejected requests and canceled calls say nothing about the
		// remote's health.
		IsSuccessful: func(err error) bool {
			if err == nil || errors.Is(err, context.Canceled) {
				return true
			}
			var se *StatusError
			if errors.As(err, &se) {
				return !se.Temporary()
			}
			return false
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Inference circuit breaker state transition")
			metrics.InferenceBreakerState.Set(stateToFloat(to))
			metrics.InferenceBreakerTransitions.WithLabelValues(from.String(), to.String()).Inc()
		},
	})

	return &HTTPClient{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		http:     hc,
		limiter:  rate.NewLimiter(limit, cfg.Burst),
		cb:       cb,
	}, nil
}

// Analyze sends req to the remote service.
func (c *HTTPClient) Analyze(ctx context.Context, req Request) (*Result, error) {
	if req.Empty() {
		return nil, ErrEmptyRequest
	}
	if err := c.limiter.Wait(ctx); err != nil {
		metrics.RecordInference("rate_limited", 0)
		return nil, fmt.Errorf("inference: rate limit: %w", err)
	}

	started := time.Now()
	res, err := c.cb.Execute(func() (*Result, error) {
		return c.do(ctx, req)
	})
	elapsed := time.Since(started)

	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.RecordInference("rejected", elapsed)
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	case err != nil:
		metrics.RecordInference("failure", elapsed)
		return nil, err
	}

	res.Latency = elapsed
	metrics.RecordInference("success", elapsed)
	return res, nil
}

// State returns the breaker state name.
func (c *HTTPClient) State() string {
	return c.cb.State().String()
}

func (c *HTTPClient) do(ctx context.Context, req Request) (*Result, error) {
	image := req.Encoded
	if len(req.Payload) > 0 {
		image = base64.StdEncoding.EncodeToString(req.Payload)
	}
	body, err := json.Marshal(analyzeRequest{
		Image:   image,
		Mode:    req.Mode,
		Prompt:  req.Prompt,
		ModelID: req.ModelID,
	})
	if err != nil {
		return nil, fmt.Errorf("inference: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("inference: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Code: resp.StatusCode, Body: truncate(string(data), 256)}
	}

	var out analyzeResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("inference: decode response: %w", err)
	}
	if out.Confidence < 0 || out.Confidence > 1 {
		return nil, fmt.Errorf("inference: confidence %v out of range", out.Confidence)
	}

	modelID := out.ModelID
	if modelID == "" {
		modelID = req.ModelID
	}
	return &Result{
		Mode:       req.Mode,
		Data:       out.Result,
		Confidence: out.Confidence,
		ModelID:    modelID,
		Source:     SourceRemote,
	}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
