package context

import (
	"context"
	"strings"
)

type ctxKey string

const (
	requestIDKey ctxKey = "obs.request_id"
	projectIDKey ctxKey = "obs.project_id"
	actorIDKey   ctxKey = "obs.actor_id"
)

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return withString(ctx, requestIDKey, requestID)
}

func RequestIDFromContext(ctx context.Context) string {
	return stringFrom(ctx, requestIDKey)
}

func WithProjectID(ctx context.Context, projectID string) context.Context {
	return withString(ctx, projectIDKey, projectID)
}

func ProjectIDFromContext(ctx context.Context) string {
	return stringFrom(ctx, projectIDKey)
}

// WithActorID records the caller's user id, or "system" for background jobs.
func WithActorID(ctx context.Context, actorID string) context.Context {
	return withString(ctx, actorIDKey, actorID)
}

func ActorIDFromContext(ctx context.Context) string {
	return stringFrom(ctx, actorIDKey)
}

func withString(ctx context.Context, key ctxKey, value string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return ctx
	}
	return context.WithValue(ctx, key, value)
}

func stringFrom(ctx context.Context, key ctxKey) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(key).(string)
	return value
}
