package logging

import (
	"context"

	"github.com/fyrsmithlabs/waypoint/internal/tenant"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ContextFields extracts correlation data from context.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 8)

	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
		if sc.IsSampled() {
			fields = append(fields, zap.Bool("trace_sampled", true))
		}
	}

	if id := tenant.IDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("tenant.id", id))
	}
	if id := JourneyIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("journey.id", id))
	}
	if exec, ok := ctx.Value(executionCtxKey{}).(executionInfo); ok {
		fields = append(fields,
			zap.String("execution.id", exec.executionID),
			zap.String("process.id", exec.processID),
		)
	}
	if id := RequestIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("request.id", id))
	}

	return fields
}

type (
	journeyCtxKey   struct{}
	executionCtxKey struct{}
	requestCtxKey   struct{}
	loggerCtxKey    struct{}
)

type executionInfo struct {
	executionID string
	processID   string
}

// WithJourneyID adds the journey scope to context.
func WithJourneyID(ctx context.Context, journeyID string) context.Context {
	return context.WithValue(ctx, journeyCtxKey{}, journeyID)
}

// JourneyIDFromContext extracts the journey ID from context.
func JourneyIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(journeyCtxKey{}).(string)
	return id
}

// WithExecution adds the execution being driven to context.
func WithExecution(ctx context.Context, executionID, processID string) context.Context {
	return context.WithValue(ctx, executionCtxKey{}, executionInfo{
		executionID: executionID,
		processID:   processID,
	})
}

// ExecutionIDFromContext extracts the execution ID from context.
func ExecutionIDFromContext(ctx context.Context) string {
	exec, _ := ctx.Value(executionCtxKey{}).(executionInfo)
	return exec.executionID
}

// WithRequestID adds a request ID to context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestCtxKey{}, requestID)
}

// RequestIDFromContext extracts the request ID from context.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestCtxKey{}).(string)
	return id
}

// WithLogger stores logger in context.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext retrieves the logger from context, or a nop logger.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok {
		return l
	}
	return NewNop()
}
