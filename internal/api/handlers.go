// Verdant - Offline Plant Analysis Cache and Model Manager
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/verdant

package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/verdant/internal/analysis"
	"github.com/tomtom215/verdant/internal/inference"
	"github.com/tomtom215/verdant/internal/logging"
	"github.com/tomtom215/verdant/internal/offline"
	"github.com/tomtom215/verdant/internal/registry"
	"github.com/tomtom215/verdant/internal/store"
)

// Service is what the handlers need from the analysis layer.
// *analysis.Service implements it.
type Service interface {
	LookupOrFetch(ctx context.Context, req analysis.Request) (*inference.Result, error)

	ModelCatalog() []registry.ModelDescriptor
	Model(id string) (registry.ModelDescriptor, error)
	DownloadModel(ctx context.Context, id string, onProgress func(int)) error
	EvictModel(ctx context.Context, id string) error

	Suggestions(ctx context.Context, limit int) ([]store.Suggestion, error)

	CacheStats(ctx context.Context) (store.Stats, error)
	ClearCache(ctx context.Context) (int, error)
	PurgeCache(ctx context.Context, days int) (int, error)

	ReportConnectivity(ctx context.Context, online bool, source string) error
	Connectivity() offline.Status

	StoreDegraded() bool
	Ping(ctx context.Context) error
}

// Handler serves the HTTP API.
type Handler struct {
	svc       Service
	startTime time.Time

	// downloads tracks background acquisitions started over HTTP.
	downloads sync.WaitGroup
}

// NewHandler creates a handler over svc.
func NewHandler(svc Service) *Handler {
	return &Handler{svc: svc, startTime: time.Now()}
}

// Wait blocks until background downloads started by this handler finish.
func (h *Handler) Wait() {
	h.downloads.Wait()
}

// Analyze handles POST /api/v1/analyses. JSON bodies carry an encoded image;
// image/* bodies carry raw bytes with the mode in the query string.
func (h *Handler) Analyze(w http.ResponseWriter, r *http.Request) {
	var req analysis.Request

	if strings.HasPrefix(r.Header.Get("Content-Type"), "image/") {
		payload, err := io.ReadAll(r.Body)
		if err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				NewResponseWriter(w, r).Error(http.StatusRequestEntityTooLarge, ErrCodeBadRequest, "Request body too large")
				return
			}
			NewResponseWriter(w, r).BadRequest("Unable to read image body")
			return
		}
		req = analysis.Request{
			Payload: payload,
			Mode:    r.URL.Query().Get("mode"),
			Prompt:  r.URL.Query().Get("prompt"),
			Metadata: store.Metadata{
				CameraSetting: r.URL.Query().Get("camera_setting"),
				Effects:       splitList(r.URL.Query().Get("effects")),
			},
		}
	} else {
		var body AnalyzeRequest
		if !decodeJSON(w, r, &body) {
			return
		}
		req = analysis.Request{
			Encoded:  body.Image,
			Mode:     body.Mode,
			Prompt:   body.Prompt,
			Metadata: body.Metadata,
		}
	}

	res, err := h.svc.LookupOrFetch(r.Context(), req)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	NewResponseWriter(w, r).Success(res)
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// CacheStats handles GET /api/v1/cache/stats.
func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.CacheStats(r.Context())
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	NewResponseWriter(w, r).Success(map[string]interface{}{
		"count":                  st.Count,
		"approximate_size_bytes": st.ApproximateSizeBytes,
		"degraded":               h.svc.StoreDegraded(),
	})
}

// ClearCache handles DELETE /api/v1/cache.
func (h *Handler) ClearCache(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.ClearCache(r.Context())
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	NewResponseWriter(w, r).Success(map[string]int{"deleted": n})
}

// PurgeCache handles POST /api/v1/cache/purge.
func (h *Handler) PurgeCache(w http.ResponseWriter, r *http.Request) {
	var body PurgeRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	n, err := h.svc.PurgeCache(r.Context(), body.Days)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	NewResponseWriter(w, r).Success(map[string]int{"deleted": n, "days": body.Days})
}

// Models handles GET /api/v1/models.
func (h *Handler) Models(w http.ResponseWriter, r *http.Request) {
	models := h.svc.ModelCatalog()
	NewResponseWriter(w, r).List(models, len(models))
}

// Model handles GET /api/v1/models/{id}.
func (h *Handler) Model(w http.ResponseWriter, r *http.Request) {
	m, err := h.svc.Model(chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	NewResponseWriter(w, r).Success(m)
}

// DownloadModel handles POST /api/v1/models/{id}/download. The acquisition
// runs in the background; poll GET /api/v1/models/{id} for progress. With
// ?wait=true the request blocks until the model is cached.
func (h *Handler) DownloadModel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	m, err := h.svc.Model(id)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	if m.State == registry.StateCached {
		NewResponseWriter(w, r).Success(m)
		return
	}

	if r.URL.Query().Get("wait") == "true" {
		if err := h.svc.DownloadModel(r.Context(), id, nil); err != nil {
			respondServiceError(w, r, err)
			return
		}
		m, _ = h.svc.Model(id)
		NewResponseWriter(w, r).Success(m)
		return
	}

	ctx := context.WithoutCancel(r.Context())
	h.downloads.Add(1)
	go func() {
		defer h.downloads.Done()
		if err := h.svc.DownloadModel(ctx, id, nil); err != nil {
			logging.Ctx(ctx).Warn().Err(err).Str("model", id).Msg("Background model download failed")
		}
	}()

	m, _ = h.svc.Model(id)
	NewResponseWriter(w, r).Accepted(m)
}

// EvictModel handles DELETE /api/v1/models/{id}.
func (h *Handler) EvictModel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.svc.EvictModel(r.Context(), id); err != nil {
		respondServiceError(w, r, err)
		return
	}
	m, err := h.svc.Model(id)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	NewResponseWriter(w, r).Success(m)
}

// Suggestions handles GET /api/v1/suggestions.
func (h *Handler) Suggestions(w http.ResponseWriter, r *http.Request) {
	q := SuggestionsQuery{Limit: getIntParam(r, "limit", 0)}
	if !validateRequest(w, r, &q) {
		return
	}
	out, err := h.svc.Suggestions(r.Context(), q.Limit)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	if out == nil {
		out = []store.Suggestion{}
	}
	NewResponseWriter(w, r).List(out, len(out))
}

// Connectivity handles GET /api/v1/connectivity.
func (h *Handler) Connectivity(w http.ResponseWriter, r *http.Request) {
	NewResponseWriter(w, r).Success(h.svc.Connectivity())
}

// ReportConnectivity handles POST /api/v1/connectivity. The change is
// applied asynchronously when an event bus is wired.
func (h *Handler) ReportConnectivity(w http.ResponseWriter, r *http.Request) {
	var body ConnectivityRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	source := body.Source
	if source == "" {
		source = "api"
	}
	if err := h.svc.ReportConnectivity(r.Context(), *body.Online, source); err != nil {
		respondServiceError(w, r, err)
		return
	}
	NewResponseWriter(w, r).Accepted(map[string]interface{}{"online": *body.Online, "source": source})
}

// HealthLive handles GET /api/v1/health/live.
func (h *Handler) HealthLive(w http.ResponseWriter, r *http.Request) {
	NewResponseWriter(w, r).Success(map[string]interface{}{
		"alive":  true,
		"uptime": time.Since(h.startTime).Seconds(),
	})
}

// HealthReady handles GET /api/v1/health/ready. It returns 503 when the
// store does not answer.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Ping(r.Context()); err != nil {
		logging.Ctx(r.Context()).Warn().Err(err).Msg("Readiness check failed")
		NewResponseWriter(w, r).ServiceUnavailable("Store not ready")
		return
	}
	status := h.svc.Connectivity()
	NewResponseWriter(w, r).Success(map[string]interface{}{
		"ready":          true,
		"store_degraded": h.svc.StoreDegraded(),
		"online":         status.Online,
	})
}
