// Verdant - Offline Plant Analysis Cache and Model Manager
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/verdant

package api

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/goccy/go-json"

	"github.com/tomtom215/verdant/internal/store"
	"github.com/tomtom215/verdant/internal/validation"
)

// AnalyzeRequest is the JSON body of POST /api/v1/analyses. Image is a
// base64 string or a data URL; it is fingerprinted in its encoded form.
type AnalyzeRequest struct {
	Image    string         `json:"image" validate:"required"`
	Mode     string         `json:"mode" validate:"required,mode"`
	Prompt   string         `json:"prompt,omitempty" validate:"max=2000"`
	Metadata store.Metadata `json:"metadata"`
}

// PurgeRequest is the body of POST /api/v1/cache/purge.
type PurgeRequest struct {
	Days int `json:"days" validate:"min=0,max=3650"`
}

// ConnectivityRequest is the body of POST /api/v1/connectivity.
type ConnectivityRequest struct {
	Online *bool  `json:"online" validate:"required"`
	Source string `json:"source,omitempty" validate:"max=64"`
}

// SuggestionsQuery holds GET /api/v1/suggestions parameters.
type SuggestionsQuery struct {
	Limit int `validate:"min=0,max=100"`
}

var errEmptyBody = errors.New("request body is empty")

// decodeJSON reads a JSON body into v and validates it. It writes the error
// response itself and reports whether the handler may continue.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	rw := NewResponseWriter(w, r)
	data, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			rw.Error(http.StatusRequestEntityTooLarge, ErrCodeBadRequest, "Request body too large")
			return false
		}
		rw.BadRequest("Unable to read request body")
		return false
	}
	if len(bytes.TrimSpace(data)) == 0 {
		rw.BadRequest(errEmptyBody.Error())
		return false
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		rw.BadRequest(fmt.Sprintf("Invalid JSON body: %s", sanitizeLogValue(err.Error())))
		return false
	}
	return validateRequest(w, r, v)
}

func validateRequest(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	verr := validation.ValidateStruct(v)
	if verr == nil {
		return true
	}
	apiErr := verr.ToAPIError()
	NewResponseWriter(w, r).ValidationError(apiErr.Message, apiErr.Details)
	return false
}

// getIntParam extracts an integer query parameter with a default value.
func getIntParam(r *http.Request, key string, defaultValue int) int {
	value := r.URL.Query().Get(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return n
}
