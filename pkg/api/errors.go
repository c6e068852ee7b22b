package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// APIError is a non-2xx answer from the backend
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return e.Message
}

// newAPIError prefers the "detail" field of a JSON error body and falls back
// to "<code> <status text>"
func newAPIError(code int, body []byte) *APIError {
	msg := fmt.Sprintf("%d %s", code, http.StatusText(code))

	var payload struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && len(payload.Detail) > 0 {
		var s string
		if json.Unmarshal(payload.Detail, &s) == nil {
			if strings.TrimSpace(s) != "" {
				msg = s
			}
		} else if string(payload.Detail) != "null" {
			msg = string(payload.Detail)
		}
	}

	return &APIError{StatusCode: code, Message: msg}
}

// IsNotFound reports whether err is a 404 from the backend
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// IsConflict reports whether err is a 409 from the backend
func IsConflict(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusConflict
}
