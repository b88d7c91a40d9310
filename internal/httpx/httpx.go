// Package httpx holds the JSON helpers shared by the HTTP handlers.
package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/KromaEnergia/contract-engine/internal/apperr"
	"github.com/google/uuid"
)

const HeaderRequestID = "X-Request-ID"

type ctxKey struct{}

func NewRequestID() string { return "req_" + uuid.NewString() }

// RequestID tags every request with an id, reusing an inbound X-Request-ID.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(HeaderRequestID)
		if id == "" {
			id = NewRequestID()
		}
		w.Header().Set(HeaderRequestID, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, id)))
	})
}

func RequestIDFrom(ctx context.Context) string {
	if id, ok := ctx.Value(ctxKey{}).(string); ok {
		return id
	}
	return NewRequestID()
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func ReadJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return apperr.Validation("httpx.ReadJSON", "invalid request body: %v", err)
	}
	return nil
}

type ErrorBody struct {
	RequestID string      `json:"request_id"`
	Error     ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func WriteErrorCode(w http.ResponseWriter, r *http.Request, status int, code, message string, details any) {
	WriteJSON(w, status, ErrorBody{
		RequestID: RequestIDFrom(r.Context()),
		Error:     ErrorDetail{Code: code, Message: message, Details: details},
	})
}

// WriteError renders err with the status of its kind. Concurrent
// modifications carry Retry-After; internal errors are logged and answered
// without detail.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	status := apperr.HTTPStatus(kind)
	msg := err.Error()
	var appErr *apperr.Error
	if errors.As(err, &appErr) && appErr.Message != "" {
		msg = appErr.Message
	}
	switch kind {
	case apperr.KindConcurrentModification:
		w.Header().Set("Retry-After", "1")
	case apperr.KindInternal:
		slog.ErrorContext(r.Context(), "request failed",
			"method", r.Method, "path", r.URL.Path, "request_id", RequestIDFrom(r.Context()), "err", err)
		msg = "internal error"
	}
	WriteErrorCode(w, r, status, string(kind), msg, nil)
}

// Respond writes err when set, otherwise v with status.
func Respond(w http.ResponseWriter, r *http.Request, status int, v any, err error) {
	if err != nil {
		WriteError(w, r, err)
		return
	}
	if v == nil {
		w.WriteHeader(status)
		return
	}
	WriteJSON(w, status, v)
}
