// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorDetail is one field-level or general error reported by the backend.
type ErrorDetail struct {
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// APIError is a non-2xx answer from the backend.
type APIError struct {
	StatusCode int
	Message    string
	Details    []ErrorDetail
}

// Error formats field errors first, then general ones. It falls back to
// Message when there are no details.
func (e *APIError) Error() string {
	var fields, general []string
	for _, d := range e.Details {
		if d.Message == "" {
			continue
		}
		if d.Field != "" {
			fields = append(fields, d.Field+": "+d.Message)
		} else {
			general = append(general, d.Message)
		}
	}
	all := append(fields, general...)
	if len(all) == 0 || (len(all) == 1 && all[0] == e.Message) {
		return fmt.Sprintf("%s (HTTP %d)", e.Message, e.StatusCode)
	}
	return fmt.Sprintf("%s (HTTP %d): %s", e.Message, e.StatusCode, strings.Join(all, ", "))
}

// IsUnauthorized reports whether err is an APIError with status 401.
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized
}

// IsNotFound reports whether err is an APIError with status 404.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// errorEnvelope covers both error shapes the backend produces: its own
// standard envelope and FastAPI's {"detail": ...}.
type errorEnvelope struct {
	Success    *bool           `json:"success"`
	Error      string          `json:"error"`
	Details    []ErrorDetail   `json:"details"`
	StatusCode int             `json:"status_code"`
	Detail     json.RawMessage `json:"detail"`
}

type fastAPIValidationItem struct {
	Loc  []any  `json:"loc"`
	Msg  string `json:"msg"`
	Type string `json:"type"`
}

// decodeAPIError builds an APIError from a failed response body.
func decodeAPIError(status int, statusText string, body []byte, isJSON bool) *APIError {
	apiErr := &APIError{StatusCode: status, Message: fmt.Sprintf("HTTP error %d", status)}
	fallback := []ErrorDetail{{Message: statusText}}

	if !isJSON {
		apiErr.Message = fmt.Sprintf("non-JSON response: %d %s", status, statusText)
		return apiErr
	}

	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		apiErr.Details = fallback
		return apiErr
	}

	switch {
	case env.Success != nil && !*env.Success:
		if env.Error != "" {
			apiErr.Message = env.Error
		}
		if env.StatusCode != 0 {
			apiErr.StatusCode = env.StatusCode
		}
		apiErr.Details = env.Details
	case len(env.Detail) > 0:
		apiErr.Message, apiErr.Details = decodeFastAPIDetail(env.Detail, apiErr.Message)
	default:
		apiErr.Details = fallback
	}
	return apiErr
}

func decodeFastAPIDetail(raw json.RawMessage, fallback string) (string, []ErrorDetail) {
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text, nil
	}

	var items []fastAPIValidationItem
	if err := json.Unmarshal(raw, &items); err == nil {
		details := make([]ErrorDetail, 0, len(items))
		for _, it := range items {
			details = append(details, ErrorDetail{
				Field:   locField(it.Loc),
				Message: it.Msg,
				Code:    it.Type,
			})
		}
		return "validation failed", details
	}

	return fallback, []ErrorDetail{{Message: string(raw)}}
}

// locField returns the last string element of a FastAPI error location,
// e.g. ["body", "username"] -> "username".
func locField(loc []any) string {
	for i := len(loc) - 1; i >= 0; i-- {
		if s, ok := loc[i].(string); ok {
			return s
		}
	}
	return ""
}
