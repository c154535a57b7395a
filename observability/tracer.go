package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const defaultTracerName = "github.com/kbukum/rediskit/observability"

// Span names.
const (
	SpanCommand  = "redis.command"
	SpanPipeline = "redis.pipeline"
	SpanReport   = "redis.report"
)

// Attribute keys.
const (
	AttrDBSystem       = "db.system"
	AttrDBOperation    = "db.operation"
	AttrConnection     = "redis.connection"
	AttrPipelineLength = "redis.pipeline.length"
	AttrStatus         = "status"
	AttrEvent          = "event"
	AttrKind           = "kind"
)

// Tracer returns a named tracer from the global provider.
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}

// StartSpan starts a new span using the default tracer.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer(defaultTracerName).Start(ctx, name, opts...)
}

// SetSpanError records err on span and marks it failed. A nil err is ignored.
func SetSpanError(span trace.Span, err error) {
	if err == nil || span == nil || !span.IsRecording() {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
