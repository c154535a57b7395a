// Package testutil provides test servers and helpers for rediskit.
//
// RedisServer runs an in-memory Redis (miniredis) behind the
// component.Component lifecycle, so tests can point connections at a
// real address:
//
//	srv := testutil.NewRedisServer()
//	testutil.T(t).Setup(srv)
//
//	cfg := redis.ConnectionConfig{Host: srv.Host(), Port: srv.Port()}
//
// Reset flushes every key; Snapshot and Restore round-trip string keys:
//
//	snap := testutil.T(t).Snapshot(srv)
//	// ... mutate ...
//	testutil.T(t).Restore(srv, snap)
package testutil
