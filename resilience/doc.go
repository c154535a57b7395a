// Package resilience provides the retry and backoff policy used by rediskit
// sessions when they reconnect and by the manager when it waits for the
// default connection to answer.
//
//	cfg := resilience.RetryConfig{MaxAttempts: 5, InitialBackoff: 50 * time.Millisecond}
//	err := resilience.RetryFunc(ctx, cfg, func() error {
//	    return conn.Ping(ctx).Err()
//	})
package resilience
