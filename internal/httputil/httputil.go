// Package httputil holds the JSON request and response helpers shared by
// every HTTP handler.
package httputil

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"recipe-box/internal/apperr"
	"recipe-box/internal/logging"
)

const DefaultBodyLimit = 1 << 20

// ErrorBody is the wire shape of every error response.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	TraceID string         `json:"trace_id,omitempty"`
}

// WriteJSON writes a JSON response.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(data)
}

// WriteError maps err onto its HTTP status and writes the JSON error
// body. Server-side failures are logged with their cause.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	appErr := apperr.From(err)
	status := appErr.HTTPStatus()

	entry := logging.FromContext(r.Context()).WithFields(logrus.Fields{
		"code":   appErr.Kind,
		"status": status,
	})
	if status >= http.StatusInternalServerError {
		entry.WithError(err).Error("request failed")
	} else {
		entry.WithError(err).Debug("request rejected")
	}

	if appErr.Kind == apperr.KindRateLimited {
		if secs, ok := appErr.Details["retry_after"].(int); ok {
			w.Header().Set("Retry-After", strconv.Itoa(secs))
		}
	}

	details := appErr.Details
	if appErr.Kind == apperr.KindDatabase || appErr.Kind == apperr.KindInternal {
		details = nil
	}
	WriteJSON(w, status, ErrorBody{Error: ErrorDetail{
		Code:    string(appErr.Kind),
		Message: appErr.PublicMessage(),
		Details: details,
		TraceID: logging.GetTraceID(r.Context()),
	}})
}

// DecodeJSON reads a JSON body of at most limit bytes into v, rejecting
// unknown fields and trailing data.
func DecodeJSON(w http.ResponseWriter, r *http.Request, v any, limit int64) error {
	if limit <= 0 {
		limit = DefaultBodyLimit
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		var syntaxErr *json.SyntaxError
		var typeErr *json.UnmarshalTypeError
		switch {
		case errors.As(err, &maxErr):
			return apperr.Validation("request body must not exceed %d bytes", maxErr.Limit)
		case errors.Is(err, io.EOF):
			return apperr.Validation("request body must not be empty")
		case errors.As(err, &syntaxErr):
			return apperr.Validation("malformed JSON at offset %d", syntaxErr.Offset)
		case errors.As(err, &typeErr):
			return apperr.Validation("invalid value for field %q", typeErr.Field).WithDetail("field", typeErr.Field)
		default:
			return apperr.Validation("invalid request body: %v", err)
		}
	}
	if dec.More() {
		return apperr.Validation("request body must contain a single JSON object")
	}
	return nil
}

// QueryInt parses an optional integer query parameter.
func QueryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, apperr.Validation("%s must be a non-negative integer", name).WithDetail("field", name)
	}
	return n, nil
}

// BearerToken extracts the token from an "Authorization: Bearer" header.
func BearerToken(r *http.Request) string {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
		return strings.TrimSpace(h[len(prefix):])
	}
	return ""
}
