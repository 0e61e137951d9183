// Package metadata carries request correlation and peer-session identifiers
// across party RPCs.
package metadata

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

// RequestIDHeader is the gRPC metadata key for request correlation IDs.
const RequestIDHeader = "x-montyhall-request-id"

// SessionIDHeader is the gRPC metadata key naming the peer session that all
// three parties join for one coordinator step.
const SessionIDHeader = "x-montyhall-session-id"

// contextKey stores metadata values in context.
type contextKey string

const requestIDContextKey contextKey = "montyhall-request-id"

// NewID returns a random identifier for requests and sessions.
func NewID() string {
	return uuid.NewString()
}

// RequestIDFromContext returns the request ID stored in context.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(requestIDContextKey).(string)
	return value
}

// WithRequestID stores the request ID in context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, requestIDContextKey, requestID)
}

// SessionIDFromContext returns the session ID from incoming metadata.
func SessionIDFromContext(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	return FirstMetadataValue(md, SessionIDHeader)
}

// WithOutgoingSession attaches the session and request IDs to outgoing
// metadata.
func WithOutgoingSession(ctx context.Context, sessionID, requestID string) context.Context {
	pairs := []string{SessionIDHeader, sessionID}
	if requestID != "" {
		pairs = append(pairs, RequestIDHeader, requestID)
	}
	return metadata.AppendToOutgoingContext(ctx, pairs...)
}

// IsPrintableASCII reports whether a string contains only printable ASCII characters.
func IsPrintableASCII(value string) bool {
	if value == "" {
		return false
	}
	for i := 0; i < len(value); i++ {
		if value[i] < 0x20 || value[i] > 0x7e {
			return false
		}
	}
	return true
}

// FirstMetadataValue returns the first printable ASCII metadata value for a key.
func FirstMetadataValue(md metadata.MD, key string) string {
	if len(md) == 0 {
		return ""
	}
	for mdKey, values := range md {
		if !strings.EqualFold(mdKey, key) {
			continue
		}
		for _, value := range values {
			if IsPrintableASCII(value) {
				return value
			}
		}
	}
	return ""
}

// UnaryServerInterceptor stores the caller's request ID in context, minting
// one when absent, and echoes it in the response header.
func UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		requestID := ""
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			requestID = FirstMetadataValue(md, RequestIDHeader)
		}
		if requestID == "" {
			requestID = NewID()
		}
		_ = grpc.SetHeader(ctx, metadata.Pairs(RequestIDHeader, requestID))
		return handler(WithRequestID(ctx, requestID), req)
	}
}
