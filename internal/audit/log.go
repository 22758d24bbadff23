package audit

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	"tasktrail.org/internal/obs"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext extracts the request id if present.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// LogEvent writes a type=audit log line for e enriched with the request id.
func LogEvent(ctx context.Context, e *Entry) {
	fields := logrus.Fields{
		"type":          "audit",
		"event":         string(e.Action),
		"audit_id":      e.ID,
		"user_id":       e.UserID,
		"resource_type": e.ResourceType,
		"resource_id":   e.ResourceID,
	}
	if rid := RequestIDFromContext(ctx); rid != "" {
		fields["request_id"] = rid
	}
	obs.Logger().WithFields(fields).Info("audit")
}
