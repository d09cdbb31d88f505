package tracing

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// ContextKey represents keys used for context values.
type ContextKey string

const (
	// RequestIDKey is the context key for request IDs
	RequestIDKey ContextKey = "request_id"
	// StartTimeKey is the context key for request start time
	StartTimeKey ContextKey = "start_time"
)

// RequestInfo carries correlation data for one inbound event or request.
type RequestInfo struct {
	RequestID string    `json:"request_id"`
	StartTime time.Time `json:"start_time"`
}

// GenerateRequestID generates a unique request ID.
func GenerateRequestID() string {
	bytes := make([]byte, 8)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to timestamp-based ID if crypto rand fails
		return fmt.Sprintf("req_%d", time.Now().UnixNano())
	}
	return fmt.Sprintf("req_%s", hex.EncodeToString(bytes))
}

// WithRequestID adds a request ID to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithStartTime adds a start time to the context.
func WithStartTime(ctx context.Context, startTime time.Time) context.Context {
	return context.WithValue(ctx, StartTimeKey, startTime)
}

// GetRequestInfo extracts correlation data from the context, generating a
// request ID when none is present.
func GetRequestInfo(ctx context.Context) RequestInfo {
	info := RequestInfo{}
	if v, ok := ctx.Value(RequestIDKey).(string); ok {
		info.RequestID = v
	} else {
		info.RequestID = GenerateRequestID()
	}
	if v, ok := ctx.Value(StartTimeKey).(time.Time); ok {
		info.StartTime = v
	} else {
		info.StartTime = time.Now()
	}
	return info
}
