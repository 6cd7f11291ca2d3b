package shared

import (
	"context"

	"github.com/google/uuid"
)

type traceKey struct{}
type actorIDKey struct{}
type surfaceKey struct{}

// WithTraceID attaches a trace_id to the context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceKey{}, traceID)
}

// TraceID extracts trace_id from context. Returns "-" if absent.
func TraceID(ctx context.Context) string {
	if v, ok := ctx.Value(traceKey{}).(string); ok && v != "" {
		return v
	}
	return "-"
}

// NewTraceID generates a new trace_id.
func NewTraceID() string {
	return uuid.NewString()
}

// WithActorID records the platform user that triggered the current operation.
func WithActorID(ctx context.Context, actorID string) context.Context {
	return context.WithValue(ctx, actorIDKey{}, actorID)
}

// ActorID extracts the acting user id. Returns "" if absent.
func ActorID(ctx context.Context) string {
	if v, ok := ctx.Value(actorIDKey{}).(string); ok {
		return v
	}
	return ""
}

// WithSurface records which entry point (discord, telegram, http, cli, cron) is handling the request.
func WithSurface(ctx context.Context, surface string) context.Context {
	return context.WithValue(ctx, surfaceKey{}, surface)
}

// Surface extracts the entry point name. Returns "unknown" if absent.
func Surface(ctx context.Context) string {
	if v, ok := ctx.Value(surfaceKey{}).(string); ok && v != "" {
		return v
	}
	return "unknown"
}

// RequestContext decorates ctx with a fresh trace id plus the actor and surface.
func RequestContext(ctx context.Context, surface, actorID string) context.Context {
	ctx = WithTraceID(ctx, NewTraceID())
	ctx = WithSurface(ctx, surface)
	if actorID != "" {
		ctx = WithActorID(ctx, actorID)
	}
	return ctx
}
