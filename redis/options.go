package redis

import (
	"context"
	"time"

	"github.com/kbukum/rediskit/logger"
	"github.com/kbukum/rediskit/observability"
)

const (
	DefaultReportRetries = 3
	DefaultReportDelay   = time.Second
)

// UsedMemoryFunc computes the memory a connection's server uses, in bytes.
// It replaces the INFO memory lookup in health reports.
type UsedMemoryFunc func(ctx context.Context, conn *Connection) (int64, error)

// Option configures a Connection or a Manager.
type Option func(*options)

type options struct {
	log             *logger.Logger
	factory         SessionFactory
	metrics         *observability.RedisMetrics
	tracing         bool
	reportRetries   int
	reportDelay     time.Duration
	memoryThreshold int64
	usedMemory      UsedMemoryFunc
}

func newOptions(opts []Option) *options {
	o := &options{
		factory:       DefaultSessionFactory,
		reportRetries: DefaultReportRetries,
		reportDelay:   DefaultReportDelay,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.log == nil {
		o.log = logger.Get("redis")
	}
	return o
}

// tracksMemory reports whether health reports read used memory.
func (o *options) tracksMemory() bool {
	return o.memoryThreshold > 0 || o.usedMemory != nil
}

// WithLogger sets the logger.
func WithLogger(log *logger.Logger) Option {
	return func(o *options) { o.log = log }
}

// WithSessionFactory replaces how sessions are opened.
func WithSessionFactory(factory SessionFactory) Option {
	return func(o *options) {
		if factory != nil {
			o.factory = factory
		}
	}
}

// WithMetrics records command, event and pub/sub metrics.
func WithMetrics(metrics *observability.RedisMetrics) Option {
	return func(o *options) { o.metrics = metrics }
}

// WithTracing wraps every command in a span.
func WithTracing() Option {
	return func(o *options) { o.tracing = true }
}

// WithReportRetry sets how many times, and how long, Report waits for a
// connecting session before answering.
func WithReportRetry(retries int, delay time.Duration) Option {
	return func(o *options) {
		o.reportRetries = retries
		o.reportDelay = delay
	}
}

// WithMemoryThreshold fails health reports when used memory exceeds bytes.
func WithMemoryThreshold(bytes int64) Option {
	return func(o *options) { o.memoryThreshold = bytes }
}

// WithUsedMemoryFunc computes used memory with fn instead of INFO memory.
func WithUsedMemoryFunc(fn UsedMemoryFunc) Option {
	return func(o *options) { o.usedMemory = fn }
}
