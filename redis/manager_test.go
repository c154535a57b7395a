package redis

import (
	"context"
	"sync"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kbukum/rediskit/component"
	apperrors "github.com/kbukum/rediskit/errors"
	"github.com/kbukum/rediskit/logger"
)

func newFakeManager(t *testing.T, f *fakeFactory, cfg ManagerConfig, opts ...Option) *Manager {
	t.Helper()
	opts = append([]Option{WithSessionFactory(f.New), WithLogger(logger.Nop())}, opts...)
	m, err := NewManager(cfg, opts...)
	require.NoError(t, err)
	return m
}

func twoConnections() ManagerConfig {
	return ManagerConfig{
		Connection: "primary",
		Connections: map[string]ConnectionConfig{
			"primary": {Host: "localhost", Port: 6379, HealthCheck: true},
			"cache":   {Host: "unreachable.invalid", Port: 6379, HealthCheck: true},
			"queue":   {Host: "localhost", Port: 6380},
		},
	}
}

// sessionFor returns the command session behind the named connection.
func sessionFor(f *fakeFactory, host string) *fakeSession {
	for _, s := range f.byRole(RoleCommand) {
		if s.cfg.Host == host {
			return s
		}
	}
	return nil
}

func TestNewManagerValidatesConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  ManagerConfig
		code apperrors.ErrorCode
	}{
		{
			name: "missing default",
			cfg:  ManagerConfig{Connections: map[string]ConnectionConfig{"primary": {}}},
			code: apperrors.ErrCodeMissingDefaultConnection,
		},
		{
			name: "default not defined",
			cfg:  ManagerConfig{Connection: "primary", Connections: map[string]ConnectionConfig{"cache": {}}},
			code: apperrors.ErrCodeConnectionNotDefined,
		},
		{
			name: "bad memory threshold",
			cfg: ManagerConfig{
				Connection:  "primary",
				Connections: map[string]ConnectionConfig{"primary": {}},
				Health:      HealthConfig{MemoryThreshold: "lots"},
			},
			code: apperrors.ErrCodeInvalidConfig,
		},
		{
			name: "invalid entry",
			cfg: ManagerConfig{
				Connection:  "primary",
				Connections: map[string]ConnectionConfig{"primary": {}, "cache": {Port: 70000}},
			},
			code: apperrors.ErrCodeInvalidConfig,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewManager(tt.cfg, WithLogger(logger.Nop()))
			require.Error(t, err)
			assert.True(t, apperrors.IsCode(err, tt.code), "got %v", err)
		})
	}
}

func TestNewManagerOpensNothing(t *testing.T) {
	f := newFakeFactory()
	m := newFakeManager(t, f, twoConnections())

	assert.Empty(t, f.byRole(RoleCommand))
	assert.Empty(t, m.ActiveConnections())
}

func TestManagerCachesConnections(t *testing.T) {
	f := newFakeFactory()
	m := newFakeManager(t, f, twoConnections())

	const callers = 20
	conns := make([]*Connection, callers)
	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conn, err := m.Connection("")
			assert.NoError(t, err)
			conns[i] = conn
		}()
	}
	wg.Wait()

	for _, conn := range conns {
		assert.Same(t, conns[0], conn)
	}
	named, err := m.Connection("primary")
	require.NoError(t, err)
	assert.Same(t, conns[0], named)

	assert.Len(t, f.byRole(RoleCommand), 1, "one command session for concurrent callers")
	assert.Equal(t, []string{"primary"}, m.ActiveConnections())
	assert.True(t, m.IsConnected("primary"))
}

func TestManagerUnknownConnection(t *testing.T) {
	f := newFakeFactory()
	m := newFakeManager(t, f, twoConnections())

	_, err := m.Connection("missing")
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeConnectionNotDefined))

	_, err = m.Cluster("primary")
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidConfig), "primary is not a cluster")
}

func TestManagerForgetsEndedConnection(t *testing.T) {
	f := newFakeFactory()
	m := newFakeManager(t, f, twoConnections())

	ended := make(chan Event, 1)
	m.On(EventManagerEnd, func(ev Event) { ended <- ev })

	first, err := m.Connection("cache")
	require.NoError(t, err)
	sessionFor(f, "unreachable.invalid").end()

	select {
	case ev := <-ended:
		assert.Same(t, first, ev.Connection)
	case <-time.After(time.Second):
		t.Fatal("redis:end not emitted")
	}
	assert.False(t, m.IsConnected("cache"))

	second, err := m.Connection("cache")
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.NotEqual(t, first.ID(), second.ID())
}

func TestManagerReemitsReadyAndError(t *testing.T) {
	f := newFakeFactory()
	m := newFakeManager(t, f, twoConnections())

	var mu sync.Mutex
	var seen []string
	for _, name := range []string{EventManagerReady, EventManagerError} {
		m.On(name, func(ev Event) {
			mu.Lock()
			defer mu.Unlock()
			seen = append(seen, name+" "+ev.Connection.Name())
		})
	}

	_, err := m.Connection("primary")
	require.NoError(t, err)
	_, err = m.Connection("cache")
	require.NoError(t, err)

	sessionFor(f, "localhost").fire(SessionReady, SessionEvent{})
	sessionFor(f, "unreachable.invalid").fire(SessionError, SessionEvent{Err: errFakeRefused})

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"redis:ready primary", "redis:error cache"}, seen)
}

func TestManagerQuitAndDisconnect(t *testing.T) {
	f := newFakeFactory()
	m := newFakeManager(t, f, twoConnections())
	ctx := context.Background()

	assert.NoError(t, m.Quit(ctx, "primary"), "nothing to quit yet")
	assert.NoError(t, m.Disconnect(ctx, "missing"))
	assert.Empty(t, f.journal.list())

	_, err := m.Connection("primary")
	require.NoError(t, err)
	require.NoError(t, m.Quit(ctx, "primary"))
	assert.Equal(t, []string{"quit command"}, f.journal.list())
	assert.Empty(t, m.ActiveConnections())

	_, err = m.Connection("cache")
	require.NoError(t, err)
	require.NoError(t, m.Disconnect(ctx, "cache"))
	assert.Equal(t, []string{"quit command", "disconnect command"}, f.journal.list())
}

func TestManagerEmptyNameTargetsDefault(t *testing.T) {
	f := newFakeFactory()
	m := newFakeManager(t, f, twoConnections())
	ctx := context.Background()

	assert.False(t, m.IsConnected(""))
	_, err := m.Connection("")
	require.NoError(t, err)
	assert.True(t, m.IsConnected(""))

	require.NoError(t, m.Quit(ctx, ""))
	assert.Equal(t, []string{"quit command"}, f.journal.list())
	assert.Empty(t, m.ActiveConnections())

	_, err = m.Connection("")
	require.NoError(t, err)
	require.NoError(t, m.Disconnect(ctx, ""))
	assert.Equal(t, []string{"quit command", "disconnect command"}, f.journal.list())
	assert.False(t, m.IsConnected("primary"))
}

func TestManagerQuitAll(t *testing.T) {
	f := newFakeFactory()
	m := newFakeManager(t, f, twoConnections())
	ctx := context.Background()

	for _, name := range []string{"primary", "cache", "queue"} {
		_, err := m.Connection(name)
		require.NoError(t, err)
	}
	require.NoError(t, m.QuitAll(ctx))

	assert.ElementsMatch(t, []string{"quit command", "quit command", "quit command"}, f.journal.list())
	assert.Empty(t, m.ActiveConnections())
	require.NoError(t, m.DisconnectAll(ctx), "nothing left to disconnect")
}

func TestManagerDisconnectAll(t *testing.T) {
	f := newFakeFactory()
	m := newFakeManager(t, f, twoConnections())

	_, err := m.Connection("primary")
	require.NoError(t, err)
	_, err = m.Connection("queue")
	require.NoError(t, err)

	require.NoError(t, m.DisconnectAll(context.Background()))
	assert.ElementsMatch(t, []string{"disconnect command", "disconnect command"}, f.journal.list())
	assert.Empty(t, m.ActiveConnections())
}

func TestManagerReportAggregation(t *testing.T) {
	f := newFakeFactory()
	m := newFakeManager(t, f, twoConnections(), WithReportRetry(3, 10*time.Millisecond))

	_, err := m.Connection("primary")
	require.NoError(t, err)
	_, err = m.Connection("cache")
	require.NoError(t, err)
	sessionFor(f, "localhost").fire(SessionReady, SessionEvent{})
	unreachable := sessionFor(f, "unreachable.invalid")
	unreachable.fire(SessionError, SessionEvent{Err: errFakeRefused})
	unreachable.fire(SessionReconnecting, SessionEvent{})

	report := m.Report(context.Background())

	assert.False(t, report.Healthy)
	assert.NotEmpty(t, report.Message)
	require.Len(t, report.Connections, 2, "only health-checked connections are reported")

	byName := map[string]ConnectionReport{}
	for _, r := range report.Connections {
		byName[r.Connection] = r
	}
	assert.NoError(t, byName["primary"].Error)
	assert.Equal(t, StatusReady, byName["primary"].Status)
	assert.Equal(t, errFakeRefused, byName["cache"].Error)
	assert.Equal(t, StatusReconnecting, byName["cache"].Status)
	assert.False(t, m.IsConnected("queue"), "unchecked connections are not materialised")
}

func TestManagerReportMaterialisesConnections(t *testing.T) {
	f := newFakeFactory()
	f.prepare = func(s *fakeSession, _ ConnectionConfig, _ SessionOptions) { s.status = StatusReady }
	m := newFakeManager(t, f, twoConnections())

	report := m.Report(context.Background())
	assert.True(t, report.Healthy)
	assert.Len(t, report.Connections, 2)
	assert.Equal(t, []string{"cache", "primary"}, m.ActiveConnections())
}

func TestManagerReportMemoryThresholdFromConfig(t *testing.T) {
	f := newFakeFactory()
	f.prepare = func(s *fakeSession, _ ConnectionConfig, _ SessionOptions) {
		s.status = StatusReady
		s.info = infoMemory
	}
	cfg := ManagerConfig{
		Connection:  "primary",
		Connections: map[string]ConnectionConfig{"primary": {HealthCheck: true}},
		Health:      HealthConfig{MemoryThreshold: "512KB"},
	}
	m := newFakeManager(t, f, cfg)

	report := m.Report(context.Background())
	require.Len(t, report.Connections, 1)
	assert.False(t, report.Healthy)
	assert.Equal(t, "1.00M", report.Connections[0].UsedMemory)
	assert.True(t, apperrors.IsCode(report.Connections[0].Error, apperrors.ErrCodeMemoryThresholdExceeded))
}

func TestManagerReportWithoutHealthChecks(t *testing.T) {
	f := newFakeFactory()
	m := newFakeManager(t, f, ManagerConfig{
		Connection:  "primary",
		Connections: map[string]ConnectionConfig{"primary": {}},
	})

	report := m.Report(context.Background())
	assert.True(t, report.Healthy)
	assert.Empty(t, report.Connections)
	assert.Empty(t, f.byRole(RoleCommand))
}

func TestManagerHealth(t *testing.T) {
	f := newFakeFactory()
	f.prepare = func(s *fakeSession, cfg ConnectionConfig, _ SessionOptions) {
		if cfg.Host == "localhost" {
			s.status = StatusReady
		} else {
			s.status = StatusReconnecting
		}
	}
	m := newFakeManager(t, f, twoConnections())

	health := m.Health(context.Background())
	assert.Equal(t, "redis", health.Name)
	// reconnecting without a recorded error still reports no error
	assert.Equal(t, component.StatusHealthy, health.Status)

	sessionFor(f, "unreachable.invalid").fire(SessionError, SessionEvent{Err: errFakeRefused})
	health = m.Health(context.Background())
	assert.Equal(t, component.StatusDegraded, health.Status)
	assert.Contains(t, health.Message, "cache")
}

func TestManagerDescribe(t *testing.T) {
	f := newFakeFactory()
	m := newFakeManager(t, f, twoConnections())

	desc := m.Describe()
	assert.Equal(t, "redis", desc.Type)
	assert.Equal(t, 6379, desc.Port)
	assert.Contains(t, desc.Details, "localhost:6379")
	assert.Contains(t, desc.Details, "connections=3")
}

func TestManagerDefaultShortcuts(t *testing.T) {
	f := newFakeFactory()
	m := newFakeManager(t, f, twoConnections())
	ctx := context.Background()

	require.NoError(t, m.Subscribe(ctx, "news", func(string) {}))
	require.NoError(t, m.PSubscribe(ctx, "user:*", func(string, string) {}))

	conn, err := m.Connection("")
	require.NoError(t, err)
	assert.Equal(t, []string{"news"}, conn.Subscriptions())
	assert.Equal(t, []string{"user:*"}, conn.PatternSubscriptions())

	count, err := m.Unsubscribe(ctx, "news")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
	count, err = m.PUnsubscribe(ctx, "user:*")
	require.NoError(t, err)
	assert.Zero(t, count)

	n, err := m.Publish(ctx, "news", "hello")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	done := make(chan error, 1)
	m.PublishAsync(ctx, "news", "again", func(_ int64, err error) { done <- err })
	require.NoError(t, <-done)

	require.NoError(t, m.DefineCommand("noop", 0, "return 1"))
	assert.True(t, apperrors.IsCode(m.DefineCommand("noop", 0, "return 1"), apperrors.ErrCodeCommandAlreadyDefined))
	assert.True(t, apperrors.IsCode(m.RunCommand(ctx, "missing").Err(), apperrors.ErrCodeCommandNotDefined))
}

func TestManagerStartPingsDefaultAndEagerConnections(t *testing.T) {
	f := newFakeFactory()
	f.prepare = func(s *fakeSession, _ ConnectionConfig, _ SessionOptions) { s.status = StatusReady }
	cfg := twoConnections()
	queue := cfg.Connections["queue"]
	queue.EagerConnect = true
	cfg.Connections["queue"] = queue
	m := newFakeManager(t, f, cfg)

	require.NoError(t, m.Start(context.Background()))
	assert.Equal(t, []string{"primary", "queue"}, m.ActiveConnections())

	require.NoError(t, m.Stop(context.Background()))
	assert.Empty(t, m.ActiveConnections())
}

func TestManagerStartFailsWhenPingFails(t *testing.T) {
	f := newFakeFactory()
	f.prepare = func(s *fakeSession, _ ConnectionConfig, _ SessionOptions) { s.pingErr = errFakeRefused }
	cfg := twoConnections()
	primary := cfg.Connections["primary"]
	primary.Reconnect = ReconnectConfig{MaxAttempts: 2, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond}
	cfg.Connections["primary"] = primary
	m := newFakeManager(t, f, cfg)

	err := m.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errFakeRefused)
}

// fakeClusterSession adds a fixed topology to a fakeSession.
type fakeClusterSession struct {
	*fakeSession
	nodes map[Role][]*goredis.Client
}

func (s *fakeClusterSession) Nodes(_ context.Context, role Role) ([]*goredis.Client, error) {
	return s.nodes[role], nil
}

func TestManagerClusterView(t *testing.T) {
	f := newFakeFactory()
	master := goredis.NewClient(&goredis.Options{Addr: "10.0.0.1:7000"})
	replica := goredis.NewClient(&goredis.Options{Addr: "10.0.0.2:7000"})
	t.Cleanup(func() { _ = master.Close(); _ = replica.Close() })

	factory := func(cfg ConnectionConfig, opts SessionOptions) (Session, error) {
		s, err := f.New(cfg, opts)
		if err != nil || cfg.Kind() != KindCluster {
			return s, err
		}
		return &fakeClusterSession{fakeSession: s.(*fakeSession), nodes: map[Role][]*goredis.Client{
			RoleAll:    {master, replica},
			RoleMaster: {master},
			RoleSlave:  {replica},
		}}, nil
	}
	cfg := ManagerConfig{
		Connection: "primary",
		Connections: map[string]ConnectionConfig{
			"primary": {Host: "localhost", Port: 6379},
			"grid":    {Clusters: []ClusterNode{{Host: "10.0.0.1", Port: 7000}, {Host: "10.0.0.2", Port: 7000}}},
		},
	}
	m := newFakeManager(t, f, cfg, WithSessionFactory(factory))
	ctx := context.Background()

	_, err := m.Cluster("primary")
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidConfig))

	grid, err := m.Cluster("grid")
	require.NoError(t, err)
	assert.Equal(t, KindCluster, grid.Kind())

	conn, err := m.Connection("grid")
	require.NoError(t, err)
	assert.Same(t, conn, grid.Connection, "the cluster view shares the cached connection")

	all, err := grid.Nodes(ctx, RoleAll)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	masters, err := grid.Nodes(ctx, RoleMaster)
	require.NoError(t, err)
	assert.Equal(t, []*goredis.Client{master}, masters)

	standalone, err := m.Connection("primary")
	require.NoError(t, err)
	_, ok := standalone.AsCluster()
	assert.False(t, ok)
}
