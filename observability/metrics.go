package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// RedisMetrics holds the instruments rediskit records to. A nil
// *RedisMetrics is valid and records nothing.
type RedisMetrics struct {
	commandTotal    metric.Int64Counter
	commandDuration metric.Float64Histogram
	eventTotal      metric.Int64Counter
	messageTotal    metric.Int64Counter
	subscriptions   metric.Int64UpDownCounter
}

// NewRedisMetrics creates metric instruments on the given meter.
func NewRedisMetrics(meter metric.Meter) (*RedisMetrics, error) {
	commandTotal, err := meter.Int64Counter("redis.commands",
		metric.WithDescription("Commands sent, by connection, command and status"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating redis.commands counter: %w", err)
	}

	commandDuration, err := meter.Float64Histogram("redis.command.duration",
		metric.WithDescription("Duration of commands in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating redis.command.duration histogram: %w", err)
	}

	eventTotal, err := meter.Int64Counter("redis.connection.events",
		metric.WithDescription("Connection lifecycle events, by connection and event"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating redis.connection.events counter: %w", err)
	}

	messageTotal, err := meter.Int64Counter("redis.pubsub.messages",
		metric.WithDescription("Pub/sub messages delivered to handlers"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating redis.pubsub.messages counter: %w", err)
	}

	subscriptions, err := meter.Int64UpDownCounter("redis.pubsub.subscriptions",
		metric.WithDescription("Active channel and pattern subscriptions"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating redis.pubsub.subscriptions counter: %w", err)
	}

	return &RedisMetrics{
		commandTotal:    commandTotal,
		commandDuration: commandDuration,
		eventTotal:      eventTotal,
		messageTotal:    messageTotal,
		subscriptions:   subscriptions,
	}, nil
}

// RecordCommand records one command (or one pipeline, with command "pipeline").
func (m *RedisMetrics) RecordCommand(ctx context.Context, connection, command, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.commandTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrConnection, connection),
		attribute.String(AttrDBOperation, command),
		attribute.String(AttrStatus, status),
	))
	m.commandDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String(AttrConnection, connection),
		attribute.String(AttrDBOperation, command),
	))
}

// RecordEvent records a connection lifecycle event such as "ready" or "subscriber:end".
func (m *RedisMetrics) RecordEvent(ctx context.Context, connection, event string) {
	if m == nil {
		return
	}
	m.eventTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrConnection, connection),
		attribute.String(AttrEvent, event),
	))
}

// RecordMessage records a delivered pub/sub message. kind is "message" or "pmessage".
func (m *RedisMetrics) RecordMessage(ctx context.Context, connection, kind string) {
	if m == nil {
		return
	}
	m.messageTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrConnection, connection),
		attribute.String(AttrKind, kind),
	))
}

// AddSubscriptions adjusts the active subscription gauge by delta.
func (m *RedisMetrics) AddSubscriptions(ctx context.Context, connection, kind string, delta int64) {
	if m == nil || delta == 0 {
		return
	}
	m.subscriptions.Add(ctx, delta, metric.WithAttributes(
		attribute.String(AttrConnection, connection),
		attribute.String(AttrKind, kind),
	))
}
