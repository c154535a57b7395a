// Package redis manages named, long-lived Redis connections on top of
// go-redis.
//
// A Connection pairs a command session, opened at construction, with a
// subscriber session opened on the first Subscribe or PSubscribe. Session
// lifecycle events are re-emitted on the Connection (subscriber events with
// a "subscriber:" prefix) and listeners are dropped once a session ends.
// The full go-redis command surface is embedded:
//
//	conn, err := redis.NewConnection("primary", redis.ConnectionConfig{Host: "localhost", Port: 6379})
//	conn.On(redis.EventReady, func(ev redis.Event) { ... })
//	conn.Set(ctx, "greeting", "hello", 0)
//
//	err = conn.Subscribe(ctx, "new:user", func(payload string) { ... })
//
// A Manager creates connections lazily by name, forgets them when they end,
// reports on those marked health_check and forwards commands to its default
// connection:
//
//	m, err := redis.NewManager(cfg)
//	m.Get(ctx, "greeting")             // default connection
//	cache, err := m.Connection("cache") // named connection
//	report := m.Report(ctx)
//	m.QuitAll(ctx)
//
// # Health reports
//
// Report waits up to three times one second for a connection still
// connecting, then PINGs it. Used memory is read from INFO memory, or from
// WithUsedMemoryFunc, only when a memory threshold or that function is
// configured.
//
// # Cluster
//
// A ConnectionConfig with Clusters set opens go-redis cluster clients.
// ClusterConnection.Nodes lists node clients by role, and topology changes
// are emitted as node:added, node:removed and node:error.
package redis
