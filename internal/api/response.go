// HeatLink - Multi-Source News Aggregation Engine
// Copyright 2026 losesky
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/losesky/heatlink

package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/losesky/heatlink/internal/logging"
	"github.com/losesky/heatlink/internal/models"
)

// Stable error codes returned in the APIResponse error envelope.
const (
	codeNoSuchSource       = "NO_SUCH_SOURCE"
	codeFetchFailed        = "FETCH_FAILED"
	codeCatalogUnavailable = "CATALOG_UNAVAILABLE"
	codeValidation         = "VALIDATION_ERROR"
	codeInternal           = "INTERNAL_ERROR"
)

// APIResponse is the uniform JSON envelope for every endpoint.
type APIResponse struct {
	Status   string    `json:"status"`
	Data     any       `json:"data,omitempty"`
	Metadata Metadata  `json:"metadata"`
	Error    *APIError `json:"error,omitempty"`
}

// Metadata carries per-response context: when it was produced and
// whether the engine is running in degraded (fallback) mode.
type Metadata struct {
	Timestamp time.Time `json:"timestamp"`
	Degraded  bool      `json:"degraded,omitempty"`
	Count     int       `json:"count,omitempty"`
}

// APIError is the machine-readable error block of an APIResponse.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// sanitizeLogValue escapes control characters so attacker-supplied
// strings cannot forge log lines.
func sanitizeLogValue(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r < 0x20 || r == 0x7F {
			b.WriteString(fmt.Sprintf("\\x%02x", r))
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// respondJSON writes a success envelope.
func (h *Handler) respondJSON(w http.ResponseWriter, status int, data any, count int) {
	resp := &APIResponse{
		Status: "success",
		Data:   data,
		Metadata: Metadata{
			Timestamp: time.Now().UTC(),
			Degraded:  h.degraded(),
			Count:     count,
		},
	}
	writeResponse(w, status, resp)
}

// respondError maps a domain error to its HTTP status and stable code.
func (h *Handler) respondError(w http.ResponseWriter, err error) {
	status, code := classifyError(err)
	if status >= http.StatusInternalServerError {
		logging.Error().Str("code", code).Str("error", sanitizeLogValue(err.Error())).Msg("API error")
	} else {
		logging.Debug().Str("code", code).Str("error", sanitizeLogValue(err.Error())).Msg("API error")
	}
	h.respondErrorCode(w, status, code, err.Error())
}

// respondErrorCode writes an error envelope with an explicit status and code.
func (h *Handler) respondErrorCode(w http.ResponseWriter, status int, code, message string) {
	resp := &APIResponse{
		Status: "error",
		Metadata: Metadata{
			Timestamp: time.Now().UTC(),
			Degraded:  h.degraded(),
		},
		Error: &APIError{Code: code, Message: message},
	}
	writeResponse(w, status, resp)
}

// classifyError maps domain errors to HTTP status codes.
func classifyError(err error) (int, string) {
	switch {
	case errors.Is(err, models.ErrNoSuchSource):
		return http.StatusNotFound, codeNoSuchSource
	case errors.Is(err, models.ErrCatalogUnavailable):
		return http.StatusServiceUnavailable, codeCatalogUnavailable
	}
	if _, ok := models.IsFetchError(err); ok {
		return http.StatusBadGateway, codeFetchFailed
	}
	return http.StatusInternalServerError, codeInternal
}

func writeResponse(w http.ResponseWriter, status int, resp *APIResponse) {
	w.Header().Set("Content-Type", "application/json")

	data, err := json.Marshal(resp)
	if err != nil {
		logging.Error().Err(err).Msg("marshal response failed")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		logging.Error().Err(err).Msg("write response failed")
	}
}

// getIntParam extracts an integer query parameter with a default.
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

// getBoolParam extracts a boolean query parameter; absent means false.
func getBoolParam(r *http.Request, key string) bool {
	switch strings.ToLower(r.URL.Query().Get(key)) {
	case "1", "true", "yes":
		return true
	}
	return false
}
