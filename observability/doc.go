// Package observability wires rediskit into OpenTelemetry.
//
// Provider setup exports over OTLP/HTTP:
//
//	shutdown, err := observability.Init(ctx, cfg)
//	defer shutdown(ctx)
//
// RedisMetrics records connection lifecycle events, pub/sub traffic and
// command latency. CommandHook is a go-redis hook that opens a span per
// command or pipeline and feeds RedisMetrics:
//
//	metrics, _ := observability.NewRedisMetrics(observability.Meter("rediskit"))
//	client.AddHook(observability.NewCommandHook("primary", metrics))
package observability
