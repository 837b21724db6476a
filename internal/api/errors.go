// Verdant - Offline Plant Analysis Cache and Model Manager
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/verdant

package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/tomtom215/verdant/internal/analysis"
	"github.com/tomtom215/verdant/internal/fingerprint"
	"github.com/tomtom215/verdant/internal/inference"
	"github.com/tomtom215/verdant/internal/logging"
	"github.com/tomtom215/verdant/internal/registry"
)

// errorMapping is the public face of an internal error.
type errorMapping struct {
	status  int
	code    string
	message string
}

// mapError translates service errors to HTTP responses. Unrecognized errors
// become a generic 500 so internal details never reach clients.
func mapError(err error) errorMapping {
	var statusErr *inference.StatusError
	switch {
	case errors.Is(err, fingerprint.ErrEmptyPayload),
		errors.Is(err, inference.ErrEmptyRequest):
		return errorMapping{http.StatusBadRequest, ErrCodeBadRequest, "Image payload is empty"}
	case errors.Is(err, analysis.ErrInvalidMode):
		return errorMapping{http.StatusBadRequest, ErrCodeBadRequest, "Invalid analysis mode"}
	case errors.Is(err, registry.ErrUnknownModel):
		return errorMapping{http.StatusNotFound, ErrCodeNotFound, "Unknown model"}
	case errors.Is(err, registry.ErrDuplicateAcquisition),
		errors.Is(err, registry.ErrAcquisitionInProgress):
		return errorMapping{http.StatusConflict, ErrCodeConflict, "Model download in progress"}
	case errors.Is(err, registry.ErrModelNotCached):
		return errorMapping{http.StatusConflict, ErrCodeConflict, "Model is not downloaded"}
	case errors.Is(err, analysis.ErrOfflineUnavailable):
		return errorMapping{http.StatusServiceUnavailable, ErrCodeOfflineUnavailable, "Offline mode unavailable for this analysis"}
	case errors.Is(err, inference.ErrUnavailable), errors.As(err, &statusErr):
		return errorMapping{http.StatusBadGateway, ErrCodeExternalServiceFail, "Analysis service unavailable"}
	case errors.Is(err, context.DeadlineExceeded):
		return errorMapping{http.StatusGatewayTimeout, ErrCodeTimeout, "Request timed out"}
	default:
		return errorMapping{http.StatusInternalServerError, ErrCodeInternalError, "An internal error occurred"}
	}
}

// respondServiceError logs err and writes its mapped response.
func respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	m := mapError(err)
	event := logging.Ctx(r.Context()).Warn()
	if m.status >= http.StatusInternalServerError && m.status != http.StatusServiceUnavailable {
		event = logging.Ctx(r.Context()).Error()
	}
	event.Err(err).
		Str("path", sanitizeLogValue(r.URL.Path)).
		Int("status", m.status).
		Str("code", m.code).
		Msg("API request failed")
	NewResponseWriter(w, r).Error(m.status, m.code, m.message)
}
