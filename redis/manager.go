package redis

import (
	"context"
	"sync"

	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	apperrors "github.com/kbukum/rediskit/errors"
	"github.com/kbukum/rediskit/events"
	"github.com/kbukum/rediskit/logger"
	"github.com/kbukum/rediskit/util"
)

// Manager events. Each carries the Connection that caused it.
const (
	EventManagerReady = "redis:ready"
	EventManagerError = "redis:error"
	EventManagerEnd   = "redis:end"
)

// Manager owns named connections. A connection is created on first use,
// reused afterwards, and forgotten once its command session ends.
//
// The embedded Cmdable forwards every command to the default connection.
type Manager struct {
	goredis.Cmdable

	cfg     ManagerConfig
	opts    *options
	log     *logger.Logger
	emitter *events.Emitter[Event]
	proxy   *goredis.Client

	mu     sync.Mutex
	active map[string]*Connection
}

// NewManager validates cfg. No connection is opened until one is asked for.
func NewManager(cfg ManagerConfig, opts ...Option) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := newOptions(opts)
	if cfg.Health.MemoryThreshold != "" && o.memoryThreshold == 0 {
		threshold, err := util.ParseSize(cfg.Health.MemoryThreshold)
		if err != nil {
			return nil, apperrors.InvalidConfig("health.memory_threshold: " + err.Error())
		}
		o.memoryThreshold = threshold
	}

	m := &Manager{
		cfg:     cfg,
		opts:    o,
		log:     o.log.WithComponent("redis.manager"),
		emitter: events.NewEmitter[Event](),
		active:  make(map[string]*Connection),
	}
	m.proxy = newProxyClient(func() (goredis.Cmdable, error) {
		conn, err := m.Connection("")
		if err != nil {
			return nil, err
		}
		return conn.Cmdable, nil
	})
	m.Cmdable = m.proxy
	return m, nil
}

// Config returns the validated configuration.
func (m *Manager) Config() ManagerConfig { return m.cfg }

// Connection returns the named connection, creating it on first use. An
// empty name selects the default connection. Concurrent callers asking for
// the same name get the same instance.
func (m *Manager) Connection(name string) (*Connection, error) {
	name = m.resolve(name)

	m.mu.Lock()
	if conn, ok := m.active[name]; ok {
		m.mu.Unlock()
		return conn, nil
	}
	cfg, ok := m.cfg.Connections[name]
	if !ok {
		m.mu.Unlock()
		return nil, apperrors.ConnectionNotDefined(name)
	}
	if err := cfg.Normalize(); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	conn, err := newConnection(name, cfg, m.opts)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	m.watch(conn)
	m.active[name] = conn
	m.mu.Unlock()

	m.log.Debug("connection materialised", logger.Fields(logger.FieldConnection, name, logger.FieldInstance, conn.ID()))
	conn.Connect()
	return conn, nil
}

// Cluster returns the named connection as a cluster connection.
func (m *Manager) Cluster(name string) (*ClusterConnection, error) {
	conn, err := m.Connection(name)
	if err != nil {
		return nil, err
	}
	cluster, ok := conn.AsCluster()
	if !ok {
		return nil, apperrors.InvalidConfig("connection " + conn.Name() + " is not a cluster connection")
	}
	return cluster, nil
}

func (m *Manager) watch(conn *Connection) {
	conn.On(EventReady, func(ev Event) { m.emitter.Emit(EventManagerReady, ev) })
	conn.On(EventError, func(ev Event) { m.emitter.Emit(EventManagerError, ev) })
	conn.On(EventEnd, func(ev Event) {
		m.mu.Lock()
		if m.active[conn.Name()] == conn {
			delete(m.active, conn.Name())
		}
		m.mu.Unlock()
		m.log.Debug("connection released", logger.Fields(logger.FieldConnection, conn.Name(), logger.FieldInstance, conn.ID()))
		m.emitter.Emit(EventManagerEnd, ev)
	})
}

// IsConnected reports whether the named connection is cached. An empty
// name means the default connection.
func (m *Manager) IsConnected(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.active[m.resolve(name)]
	return ok
}

// ActiveConnections returns the cached connection names, sorted.
func (m *Manager) ActiveConnections() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return util.SortedKeys(m.active)
}

func (m *Manager) lookup(name string) *Connection {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active[m.resolve(name)]
}

// resolve maps the empty name to the default connection.
func (m *Manager) resolve(name string) string {
	if name == "" {
		return m.cfg.Connection
	}
	return name
}

func (m *Manager) snapshot() []*Connection {
	m.mu.Lock()
	defer m.mu.Unlock()
	conns := make([]*Connection, 0, len(m.active))
	for _, name := range util.SortedKeys(m.active) {
		conns = append(conns, m.active[name])
	}
	return conns
}

// Quit gracefully closes the named connection, or the default one when
// name is empty. It does nothing when the connection was never opened.
func (m *Manager) Quit(ctx context.Context, name string) error {
	if conn := m.lookup(name); conn != nil {
		return conn.Quit(ctx)
	}
	return nil
}

// Disconnect forcefully closes the named connection if it is open.
func (m *Manager) Disconnect(ctx context.Context, name string) error {
	if conn := m.lookup(name); conn != nil {
		return conn.Disconnect(ctx)
	}
	return nil
}

// QuitAll quits every open connection concurrently.
func (m *Manager) QuitAll(ctx context.Context) error {
	return m.closeAll(ctx, (*Connection).Quit)
}

// DisconnectAll disconnects every open connection concurrently.
func (m *Manager) DisconnectAll(ctx context.Context) error {
	return m.closeAll(ctx, (*Connection).Disconnect)
}

func (m *Manager) closeAll(ctx context.Context, closeFn func(*Connection, context.Context) error) error {
	conns := m.snapshot()
	errs := make([]error, len(conns))

	var g errgroup.Group
	for i, conn := range conns {
		g.Go(func() error {
			errs[i] = closeFn(conn, ctx)
			return nil
		})
	}
	_ = g.Wait()
	return apperrors.Join(errs...)
}

// Report materialises every connection with health_check set and reports
// them concurrently. Memory is checked only when a threshold or a
// used-memory function is configured.
func (m *Manager) Report(ctx context.Context) HealthReport {
	var names []string
	for _, name := range util.SortedKeys(m.cfg.Connections) {
		if m.cfg.Connections[name].HealthCheck {
			names = append(names, name)
		}
	}

	reports := make([]ConnectionReport, len(names))
	var g errgroup.Group
	for i, name := range names {
		g.Go(func() error {
			conn, err := m.Connection(name)
			if err != nil {
				reports[i] = ConnectionReport{Connection: name, Error: err}
				return nil
			}
			reports[i] = conn.Report(ctx, m.opts.tracksMemory())
			return nil
		})
	}
	_ = g.Wait()

	report := HealthReport{Healthy: true, Message: "All connections are healthy", Connections: reports}
	if len(reports) == 0 {
		report.Message = "No connections are health checked"
	}
	for _, r := range reports {
		if r.Error != nil {
			report.Healthy = false
			report.Message = "One or more connections are unhealthy"
			break
		}
	}
	return report
}

// On registers fn for a manager event.
func (m *Manager) On(name string, fn events.Listener[Event]) events.Subscription {
	return m.emitter.On(name, fn)
}

// Once registers fn for the next manager event with that name.
func (m *Manager) Once(name string, fn events.Listener[Event]) events.Subscription {
	return m.emitter.Once(name, fn)
}

// Off removes a manager listener.
func (m *Manager) Off(sub events.Subscription) { m.emitter.Off(sub) }

// --- default connection shortcuts ---

// Subscribe subscribes on the default connection.
func (m *Manager) Subscribe(ctx context.Context, channel string, handler MessageHandler) error {
	conn, err := m.Connection("")
	if err != nil {
		return err
	}
	return conn.Subscribe(ctx, channel, handler)
}

// PSubscribe pattern-subscribes on the default connection.
func (m *Manager) PSubscribe(ctx context.Context, pattern string, handler PatternHandler) error {
	conn, err := m.Connection("")
	if err != nil {
		return err
	}
	return conn.PSubscribe(ctx, pattern, handler)
}

// Unsubscribe unsubscribes on the default connection.
func (m *Manager) Unsubscribe(ctx context.Context, channel string) (int64, error) {
	conn, err := m.Connection("")
	if err != nil {
		return 0, err
	}
	return conn.Unsubscribe(ctx, channel)
}

// PUnsubscribe pattern-unsubscribes on the default connection.
func (m *Manager) PUnsubscribe(ctx context.Context, pattern string) (int64, error) {
	conn, err := m.Connection("")
	if err != nil {
		return 0, err
	}
	return conn.PUnsubscribe(ctx, pattern)
}

// Publish publishes on the default connection.
func (m *Manager) Publish(ctx context.Context, channel string, message any) (int64, error) {
	conn, err := m.Connection("")
	if err != nil {
		return 0, err
	}
	return conn.Publish(ctx, channel, message)
}

// PublishAsync publishes on the default connection in the background.
func (m *Manager) PublishAsync(ctx context.Context, channel string, message any, callback func(int64, error)) {
	conn, err := m.Connection("")
	if err != nil {
		if callback != nil {
			go callback(0, err)
		}
		return
	}
	conn.PublishAsync(ctx, channel, message, callback)
}

// DefineCommand defines a script command on the default connection.
func (m *Manager) DefineCommand(name string, numberOfKeys int, lua string) error {
	conn, err := m.Connection("")
	if err != nil {
		return err
	}
	return conn.DefineCommand(name, numberOfKeys, lua)
}

// RunCommand runs a script command on the default connection.
func (m *Manager) RunCommand(ctx context.Context, name string, args ...any) *goredis.Cmd {
	conn, err := m.Connection("")
	if err != nil {
		cmd := goredis.NewCmd(ctx, name)
		cmd.SetErr(err)
		return cmd
	}
	return conn.RunCommand(ctx, name, args...)
}
