// Verdant - Offline Plant Analysis Cache and Model Manager
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/verdant

package inference

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, mutate func(*Config)) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := Config{
		Endpoint:         srv.URL + "/v1/analyze",
		APIKey:           "secret",
		Timeout:          2 * time.Second,
		FailureThreshold: 2,
		BreakerTimeout:   time.Minute,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	c, err := NewHTTPClient(cfg)
	if err != nil {
		t.Fatalf("NewHTTPClient() error = %v", err)
	}
	return c
}

func TestNewHTTPClient_RequiresEndpoint(t *testing.T) {
	if _, err := NewHTTPClient(Config{}); err == nil {
		t.Error("expected error for empty endpoint")
	}
}

func TestAnalyze_Success(t *testing.T) {
	payload := []byte{0x89, 'P', 'N', 'G'}

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("Authorization = %q", got)
		}
		var req analyzeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Image != base64.StdEncoding.EncodeToString(payload) || req.Mode != "botanical" {
			t.Errorf("request = %+v", req)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"result":{"species":"Ficus lyrata"},"confidence":0.93,"model_id":"cloud-v3"}`))
	}, nil)

	res, err := c.Analyze(context.Background(), Request{Payload: payload, Mode: "botanical"})
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if res.Source != SourceRemote || res.Confidence != 0.93 || res.ModelID != "cloud-v3" || res.Mode != "botanical" {
		t.Errorf("Analyze() = %+v", res)
	}
	if string(res.Data) != `{"species":"Ficus lyrata"}` {
		t.Errorf("Data = %s", res.Data)
	}
	if res.Latency <= 0 {
		t.Error("Latency should be measured")
	}
}

func TestAnalyze_EncodedPassthrough(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req analyzeRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Image != "data:image/png;base64,AAAA" {
			t.Errorf("Image = %q", req.Image)
		}
		_, _ = w.Write([]byte(`{"result":{},"confidence":0.5}`))
	}, nil)

	res, err := c.Analyze(context.Background(), Request{Encoded: "data:image/png;base64,AAAA", Mode: "artistic", ModelID: "m1"})
	if err != nil {
		t.Fatal(err)
	}
	if res.ModelID != "m1" {
		t.Errorf("ModelID = %q, want request model when response has none", res.ModelID)
	}
}

func TestAnalyze_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		req     Request
		wantErr func(error) bool
	}{
		{
			name:    "empty request",
			req:     Request{Mode: "botanical"},
			wantErr: func(err error) bool { return errors.Is(err, ErrEmptyRequest) },
		},
		{
			name:   "bad request",
			status: http.StatusBadRequest,
			body:   "unsupported mode",
			req:    Request{Payload: []byte("x"), Mode: "nope"},
			wantErr: func(err error) bool {
				var se *StatusError
				return errors.As(err, &se) && se.Code == 400 && !se.Temporary()
			},
		},
		{
			name:   "server error",
			status: http.StatusBadGateway,
			req:    Request{Payload: []byte("x"), Mode: "botanical"},
			wantErr: func(err error) bool {
				var se *StatusError
				return errors.As(err, &se) && se.Temporary()
			},
		},
		{
			name:    "confidence out of range",
			status:  http.StatusOK,
			body:    `{"result":{},"confidence":7}`,
			req:     Request{Payload: []byte("x"), Mode: "botanical"},
			wantErr: func(err error) bool { return err != nil },
		},
		{
			name:    "malformed body",
			status:  http.StatusOK,
			body:    `{"result":`,
			req:     Request{Payload: []byte("x"), Mode: "botanical"},
			wantErr: func(err error) bool { return err != nil },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}, nil)
			_, err := c.Analyze(context.Background(), tt.req)
			if !tt.wantErr(err) {
				t.Errorf("Analyze() error = %v", err)
			}
		})
	}
}

func TestAnalyze_BreakerOpensOnServerErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}, nil)

	req := Request{Payload: []byte("x"), Mode: "botanical"}
	for i := 0; i < 2; i++ {
		if _, err := c.Analyze(context.Background(), req); err == nil {
			t.Fatal("expected failure")
		}
	}
	if c.State() != "open" {
		t.Fatalf("State() = %s, want open", c.State())
	}

	_, err := c.Analyze(context.Background(), req)
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("error with open breaker = %v, want ErrUnavailable", err)
	}
	if n := calls.Load(); n != 2 {
		t.Errorf("remote saw %d calls, want 2", n)
	}
}

func TestAnalyze_ClientErrorsDoNotTrip(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}, nil)

	for i := 0; i < 5; i++ {
		_, _ = c.Analyze(context.Background(), Request{Payload: []byte("x"), Mode: "botanical"})
	}
	if c.State() != "closed" {
		t.Errorf("State() = %s, want closed", c.State())
	}
}

func TestAnalyze_RateLimitHonorsContext(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"result":{},"confidence":0.9}`))
	}, func(cfg *Config) {
		cfg.RequestsPerSecond = 0.01
		cfg.Burst = 1
	})

	req := Request{Payload: []byte("x"), Mode: "botanical"}
	if _, err := c.Analyze(context.Background(), req); err != nil {
		t.Fatalf("first call error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := c.Analyze(ctx, req); err == nil {
		t.Error("second call should be rate limited")
	}
}

func TestAnalyze_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := NewHTTPClient(Config{Endpoint: url, Timeout: time.Second})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Analyze(context.Background(), Request{Payload: []byte("x"), Mode: "botanical"}); !errors.Is(err, ErrUnavailable) {
		t.Errorf("error = %v, want ErrUnavailable", err)
	}
}

func TestDisabled(t *testing.T) {
	var a Analyzer = Disabled{}
	if _, err := a.Analyze(context.Background(), Request{Payload: []byte("x")}); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Disabled.Analyze() error = %v", err)
	}
}
