package common

import (
	"context"
	"log/slog"
)

// Context keys for storing values in context
type contextKey string

const (
	ContextKeyRequestID    contextKey = "request_id"
	ContextKeySubmissionID contextKey = "submission_id"
	ContextKeyUser         contextKey = "user"
)

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}

// RequestIDFromContext extracts the request ID from context
func RequestIDFromContext(ctx context.Context) string {
	if requestID, ok := ctx.Value(ContextKeyRequestID).(string); ok {
		return requestID
	}
	return ""
}

// WithSubmission tags ctx with the submission being processed and its submitter.
func WithSubmission(ctx context.Context, submissionID, user string) context.Context {
	ctx = context.WithValue(ctx, ContextKeySubmissionID, submissionID)
	return context.WithValue(ctx, ContextKeyUser, user)
}

// SubmissionIDFromContext extracts the submission ID from context
func SubmissionIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(ContextKeySubmissionID).(string); ok {
		return id
	}
	return ""
}

// UserFromContext extracts the submitter identity from context
func UserFromContext(ctx context.Context) string {
	if u, ok := ctx.Value(ContextKeyUser).(string); ok {
		return u
	}
	return ""
}

// LoggerFrom returns logger enriched with whatever ids ctx carries.
func LoggerFrom(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	if id := SubmissionIDFromContext(ctx); id != "" {
		logger = logger.With("submission_id", id)
	}
	if u := UserFromContext(ctx); u != "" {
		logger = logger.With("user", u)
	}
	if rid := RequestIDFromContext(ctx); rid != "" {
		logger = logger.With("req_id", rid)
	}
	return logger
}
