package observability

import (
	"context"
	stderrors "errors"
	"net"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// CommandHook is a go-redis hook that traces and measures every command.
type CommandHook struct {
	connection string
	metrics    *RedisMetrics
	tracer     trace.Tracer
}

var _ goredis.Hook = (*CommandHook)(nil)

// NewCommandHook creates a hook for the named connection. metrics may be nil.
func NewCommandHook(connection string, metrics *RedisMetrics) *CommandHook {
	return &CommandHook{
		connection: connection,
		metrics:    metrics,
		tracer:     Tracer(defaultTracerName),
	}
}

// DialHook passes dials through unchanged.
func (h *CommandHook) DialHook(next goredis.DialHook) goredis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		return next(ctx, network, addr)
	}
}

// ProcessHook wraps a single command in a span.
func (h *CommandHook) ProcessHook(next goredis.ProcessHook) goredis.ProcessHook {
	return func(ctx context.Context, cmd goredis.Cmder) error {
		ctx, span := h.tracer.Start(ctx, SpanCommand,
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(
				attribute.String(AttrDBSystem, "redis"),
				attribute.String(AttrDBOperation, cmd.Name()),
				attribute.String(AttrConnection, h.connection),
			),
		)
		defer span.End()

		start := time.Now()
		err := next(ctx, cmd)
		h.metrics.RecordCommand(ctx, h.connection, cmd.Name(), commandStatus(err), time.Since(start))
		if isFailure(err) {
			SetSpanError(span, err)
		}
		return err
	}
}

// ProcessPipelineHook wraps a pipeline in a single span.
func (h *CommandHook) ProcessPipelineHook(next goredis.ProcessPipelineHook) goredis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []goredis.Cmder) error {
		ctx, span := h.tracer.Start(ctx, SpanPipeline,
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(
				attribute.String(AttrDBSystem, "redis"),
				attribute.String(AttrConnection, h.connection),
				attribute.Int(AttrPipelineLength, len(cmds)),
			),
		)
		defer span.End()

		start := time.Now()
		err := next(ctx, cmds)
		h.metrics.RecordCommand(ctx, h.connection, "pipeline", commandStatus(err), time.Since(start))
		if isFailure(err) {
			SetSpanError(span, err)
		}
		return err
	}
}

// isFailure treats a missing key as success.
func isFailure(err error) bool {
	return err != nil && !stderrors.Is(err, goredis.Nil)
}

func commandStatus(err error) string {
	if isFailure(err) {
		return "error"
	}
	return "ok"
}
