// Package middleware provides the HTTP middleware chain: request ids,
// logging, recovery, security headers, CORS, API key auth, scopes and
// rate limits.
package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// Correlation headers read from clients and echoed on responses.
const (
	RequestIDHeader = "X-Request-ID"
	TraceIDHeader   = "X-Trace-ID"
)

// maxCorrelationIDLen bounds client supplied ids before they reach the logs.
const maxCorrelationIDLen = 128

type correlationKey int

const (
	requestIDKey correlationKey = iota
	traceIDKey
)

// RequestID assigns every request an id, keeping a well formed
// X-Request-ID from the client and generating a time ordered UUID
// otherwise. A well formed X-Trace-ID is carried along unchanged.
// Both are echoed on the response.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID, ok := correlationID(r.Header.Get(RequestIDHeader))
		if !ok {
			requestID = newRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey, requestID)
		w.Header().Set(RequestIDHeader, requestID)

		if traceID, ok := correlationID(r.Header.Get(TraceIDHeader)); ok {
			ctx = context.WithValue(ctx, traceIDKey, traceID)
			w.Header().Set(TraceIDHeader, traceID)
		}

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// correlationID accepts short ids made of visible ASCII.
func correlationID(v string) (string, bool) {
	if v == "" || len(v) > maxCorrelationIDLen {
		return "", false
	}
	for i := 0; i < len(v); i++ {
		if v[i] <= ' ' || v[i] > '~' {
			return "", false
		}
	}
	return v, true
}

func newRequestID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// GetRequestID returns the id assigned by RequestID, or "".
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// GetTraceID returns the propagated trace id, or "".
func GetTraceID(ctx context.Context) string {
	id, _ := ctx.Value(traceIDKey).(string)
	return id
}
