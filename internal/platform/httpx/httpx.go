// Package httpx provides the HTTP middleware and JSON helpers used by the
// coordinator API.
package httpx

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime/debug"
	"strings"

	"github.com/rs/zerolog"
	grpcmeta "github.com/secretdoor/montyhall/internal/platform/grpc/metadata"
)

// RequestIDHeader carries the request id on HTTP requests and responses.
const RequestIDHeader = "X-Request-ID"

// Middleware wraps an HTTP handler.
type Middleware func(http.Handler) http.Handler

// Chain applies middleware in declaration order.
func Chain(handler http.Handler, middleware ...Middleware) http.Handler {
	if handler == nil {
		handler = http.NotFoundHandler()
	}
	wrapped := handler
	for idx := len(middleware) - 1; idx >= 0; idx-- {
		if middleware[idx] == nil {
			continue
		}
		wrapped = middleware[idx](wrapped)
	}
	return wrapped
}

// RequestID injects and echoes a request id and stores it on the request
// context so outgoing party calls carry it.
func RequestID() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := strings.TrimSpace(r.Header.Get(RequestIDHeader))
			if requestID == "" || len(requestID) > 128 || !grpcmeta.IsPrintableASCII(requestID) {
				requestID = grpcmeta.NewID()
			}
			w.Header().Set(RequestIDHeader, requestID)
			next.ServeHTTP(w, r.WithContext(grpcmeta.WithRequestID(r.Context(), requestID)))
		})
	}
}

// RecoverPanic converts panics into HTTP 500 responses.
func RecoverPanic(logger zerolog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if recovered := recover(); recovered != nil {
					logger.Error().
						Str("method", r.Method).
						Str("path", r.URL.Path).
						Str("request_id", w.Header().Get(RequestIDHeader)).
						Str("stack", strings.TrimSpace(string(debug.Stack()))).
						Msgf("panic recovered: %v", recovered)
					w.WriteHeader(http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// AccessLog logs one line per request.
func AccessLog(logger zerolog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(recorder, r)
			logger.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", recorder.status).
				Str("request_id", w.Header().Get(RequestIDHeader)).
				Msg("http request")
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// WriteJSON writes a JSON response with the provided status code.
func WriteJSON(w http.ResponseWriter, status int, payload any) error {
	if w == nil {
		return fmt.Errorf("response writer is required")
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(payload)
}

// ErrorBody is the JSON error envelope. Message is null on server errors.
type ErrorBody struct {
	Message *string `json:"message"`
	Code    int     `json:"code"`
}

// WriteJSONError writes an ErrorBody. Messages are dropped for 5xx statuses.
func WriteJSONError(w http.ResponseWriter, status int, message string) error {
	body := ErrorBody{Code: status}
	if status < http.StatusInternalServerError && message != "" {
		body.Message = &message
	}
	return WriteJSON(w, status, body)
}
