package redis

import (
	"context"
	stderrors "errors"
	"net"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	goredis "github.com/redis/go-redis/v9"

	apperrors "github.com/kbukum/rediskit/errors"
	"github.com/kbukum/rediskit/events"
	"github.com/kbukum/rediskit/logger"
	"github.com/kbukum/rediskit/observability"
	"github.com/kbukum/rediskit/resilience"
	"github.com/kbukum/rediskit/util"
)

const (
	kindSubscribe    = "subscribe"
	kindUnsubscribe  = "unsubscribe"
	kindPSubscribe   = "psubscribe"
	kindPUnsubscribe = "punsubscribe"
)

type ackResult struct {
	count int64
	err   error
}

type ackWaiter struct {
	kind   string
	target string
	ch     chan ackResult
}

type delivery struct {
	name string
	ev   SessionEvent
}

// goredisSession is a Session over one go-redis client. A monitor goroutine
// pings the server to drive the lifecycle. Once the first subscribe command
// is sent, a reader goroutine consumes pub/sub replies and queues messages
// for a dispatch goroutine, so handlers may subscribe or unsubscribe
// without waiting on their own reader.
type goredisSession struct {
	connection string
	role       SessionRole
	client     goredis.UniversalClient
	emitter    *events.Emitter[SessionEvent]
	log        *logger.Logger
	metrics    *observability.RedisMetrics

	retry     resilience.RetryConfig
	pingEvery time.Duration
	opTimeout time.Duration

	ctx       context.Context
	cancel    context.CancelFunc
	wake      chan struct{}
	startOnce sync.Once
	endOnce   sync.Once
	dialed    atomic.Bool
	inflight  sync.WaitGroup

	mu      sync.Mutex
	status  Status
	closing bool
	ps      *goredis.PubSub
	waiters []*ackWaiter

	// sendMu keeps waiters in the order their commands hit the wire.
	sendMu sync.Mutex

	// queue is drained in order by dispatchLoop; queued signals new entries.
	queueMu sync.Mutex
	queue   []delivery
	queued  chan struct{}
}

var _ goredis.Hook = (*goredisSession)(nil)

func newGoredisSession(cfg ConnectionConfig, opts SessionOptions) (Session, error) {
	log := opts.Logger
	if log == nil {
		log = logger.Get("redis")
	}

	s := &goredisSession{
		connection: opts.Connection,
		role:       opts.Role,
		emitter:    events.NewEmitter[SessionEvent](),
		log:        log.WithFields(logger.Fields(logger.FieldConnection, opts.Connection, "role", string(opts.Role))),
		metrics:    opts.Metrics,
		retry:      cfg.retryConfig(),
		pingEvery:  cfg.PingInterval,
		opTimeout:  cfg.DialTimeout + cfg.ReadTimeout,
		wake:       make(chan struct{}, 1),
		queued:     make(chan struct{}, 1),
		status:     StatusConnecting,
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	var cluster *goredis.ClusterClient
	if cfg.Kind() == KindCluster {
		o, err := cfg.clusterOptions()
		if err != nil {
			return nil, err
		}
		cluster = goredis.NewClusterClient(o)
		s.client = cluster
	} else {
		o, err := cfg.clientOptions()
		if err != nil {
			return nil, err
		}
		s.client = goredis.NewClient(o)
	}

	s.client.AddHook(s)
	if opts.Tracing || opts.Metrics != nil {
		s.client.AddHook(observability.NewCommandHook(opts.Connection, opts.Metrics))
	}

	if cluster != nil {
		return &clusterSession{
			goredisSession: s,
			cluster:        cluster,
			refreshEvery:   cfg.ClusterOptions.TopologyRefresh,
		}, nil
	}
	return s, nil
}

func (s *goredisSession) On(event string, fn events.Listener[SessionEvent]) events.Subscription {
	return s.emitter.On(event, fn)
}

func (s *goredisSession) RemoveAllListeners(names ...string) {
	s.emitter.RemoveAllListeners(names...)
}

func (s *goredisSession) ListenerCount(event string) int {
	return s.emitter.ListenerCount(event)
}

func (s *goredisSession) Connect() {
	s.startOnce.Do(func() {
		go s.monitor()
	})
}

func (s *goredisSession) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *goredisSession) Commands() goredis.Cmdable {
	return s.client
}

func (s *goredisSession) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *goredisSession) Info(ctx context.Context, section string) (string, error) {
	return s.client.Info(ctx, section).Result()
}

func (s *goredisSession) Publish(ctx context.Context, channel string, message any) (int64, error) {
	return s.client.Publish(ctx, channel, message).Result()
}

func (s *goredisSession) Subscribe(ctx context.Context, channel string) (int64, error) {
	return s.pubsubCommand(ctx, kindSubscribe, channel)
}

func (s *goredisSession) Unsubscribe(ctx context.Context, channel string) (int64, error) {
	return s.pubsubCommand(ctx, kindUnsubscribe, channel)
}

func (s *goredisSession) PSubscribe(ctx context.Context, pattern string) (int64, error) {
	return s.pubsubCommand(ctx, kindPSubscribe, pattern)
}

func (s *goredisSession) PUnsubscribe(ctx context.Context, pattern string) (int64, error) {
	return s.pubsubCommand(ctx, kindPUnsubscribe, pattern)
}

// Quit stops accepting commands, waits for in-flight ones, then closes.
func (s *goredisSession) Quit(ctx context.Context) error {
	s.mu.Lock()
	if s.status == StatusEnd {
		s.mu.Unlock()
		return nil
	}
	s.closing = true
	s.mu.Unlock()
	s.cancel()

	drained := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(drained)
	}()

	var err error
	select {
	case <-drained:
	case <-ctx.Done():
		err = apperrors.Timeout("quit").WithCause(ctx.Err())
	}
	s.end()
	return err
}

// Disconnect closes the client right away; in-flight commands fail.
func (s *goredisSession) Disconnect() error {
	s.end()
	return nil
}

// --- go-redis hooks ---

func (s *goredisSession) DialHook(next goredis.DialHook) goredis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		conn, err := next(ctx, network, addr)
		if err == nil {
			s.dialed.Store(true)
		}
		return conn, err
	}
}

func (s *goredisSession) ProcessHook(next goredis.ProcessHook) goredis.ProcessHook {
	return func(ctx context.Context, cmd goredis.Cmder) error {
		if !s.enter() {
			err := apperrors.ConnectionClosed(s.connection)
			cmd.SetErr(err)
			return err
		}
		defer s.inflight.Done()

		err := next(ctx, cmd)
		if isConnError(err) {
			s.nudge()
		}
		return err
	}
}

func (s *goredisSession) ProcessPipelineHook(next goredis.ProcessPipelineHook) goredis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []goredis.Cmder) error {
		if !s.enter() {
			err := apperrors.ConnectionClosed(s.connection)
			for _, cmd := range cmds {
				cmd.SetErr(err)
			}
			return err
		}
		defer s.inflight.Done()

		err := next(ctx, cmds)
		if isConnError(err) {
			s.nudge()
		}
		return err
	}
}

// enter admits a command unless the session is closing.
func (s *goredisSession) enter() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.inflight.Add(1)
	return true
}

// nudge makes the monitor check now instead of at the next interval.
func (s *goredisSession) nudge() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// --- lifecycle ---

func (s *goredisSession) monitor() {
	attempt := 0
	for {
		s.dialed.Store(false)
		err := s.check()
		if s.ctx.Err() != nil {
			return
		}

		if err == nil {
			attempt = 0
			s.becomeReady()
			if !s.idle() {
				return
			}
			continue
		}

		if st := s.Status(); (st == StatusConnecting || st == StatusReconnecting) && s.dialed.Load() {
			s.transition(StatusConnect, SessionConnect, SessionEvent{})
		}
		s.emit(SessionError, SessionEvent{Err: err})
		if st := s.Status(); st == StatusReady || st == StatusConnect {
			s.transition(StatusClose, SessionClose, SessionEvent{})
		}

		attempt++
		if s.retry.Exhausted(attempt) {
			s.log.Warn("reconnect attempts exhausted", logger.Fields(logger.FieldAttempt, attempt))
			s.end()
			return
		}

		delay := s.retry.Backoff(attempt)
		s.log.Debug("reconnecting", logger.Fields(logger.FieldAttempt, attempt, logger.FieldDelay, delay.String()))
		s.transition(StatusReconnecting, SessionReconnecting, SessionEvent{})
		if resilience.Sleep(s.ctx, delay) != nil {
			return
		}
	}
}

func (s *goredisSession) check() error {
	ctx, cancel := context.WithTimeout(s.ctx, s.opTimeout)
	defer cancel()
	return s.client.Ping(ctx).Err()
}

func (s *goredisSession) becomeReady() {
	s.mu.Lock()
	prev := s.status
	if prev == StatusEnd || prev == StatusReady {
		s.mu.Unlock()
		return
	}
	s.status = StatusReady
	s.mu.Unlock()

	if prev != StatusConnect {
		s.emit(SessionConnect, SessionEvent{})
	}
	s.emit(SessionReady, SessionEvent{})
}

// idle waits for the next check. It returns false once the session stops.
func (s *goredisSession) idle() bool {
	timer := time.NewTimer(s.pingEvery)
	defer timer.Stop()
	select {
	case <-s.ctx.Done():
		return false
	case <-timer.C:
	case <-s.wake:
	}
	return true
}

// transition sets the status and emits name, unless the session ended.
func (s *goredisSession) transition(status Status, name string, ev SessionEvent) {
	s.mu.Lock()
	if s.status == StatusEnd {
		s.mu.Unlock()
		return
	}
	s.status = status
	s.mu.Unlock()
	s.emit(name, ev)
}

func (s *goredisSession) emit(name string, ev SessionEvent) {
	switch name {
	case SessionMessage, SessionPMessage:
	case SessionError:
		s.log.Warn("session error", logger.ErrorFields(name, ev.Err))
		s.metrics.RecordEvent(context.Background(), s.connection, name)
	default:
		s.log.Debug("session event", logger.Fields(logger.FieldEvent, name))
		s.metrics.RecordEvent(context.Background(), s.connection, name)
	}
	s.emitter.Emit(name, ev)
}

// end moves the session to its terminal state exactly once.
func (s *goredisSession) end() {
	s.endOnce.Do(func() {
		s.mu.Lock()
		prev := s.status
		s.status = StatusEnd
		s.closing = true
		ps := s.ps
		s.ps = nil
		waiters := s.waiters
		s.waiters = nil
		s.mu.Unlock()

		s.cancel()
		if ps != nil {
			_ = ps.Close()
		}
		if err := s.client.Close(); err != nil {
			s.log.Debug("client close failed", logger.Fields(logger.FieldError, err))
		}

		closed := apperrors.ConnectionClosed(s.connection)
		for _, w := range waiters {
			w.ch <- ackResult{err: closed}
		}

		if prev == StatusReady || prev == StatusConnect {
			s.emit(SessionClose, SessionEvent{})
		}
		s.emit(SessionEnd, SessionEvent{})
	})
}

// --- pub/sub ---

func (s *goredisSession) pubsubCommand(ctx context.Context, kind, target string) (int64, error) {
	s.sendMu.Lock()
	ps, w, err := s.expect(kind, target)
	if err != nil {
		s.sendMu.Unlock()
		return 0, err
	}

	switch kind {
	case kindSubscribe:
		err = ps.Subscribe(ctx, target)
	case kindUnsubscribe:
		err = ps.Unsubscribe(ctx, target)
	case kindPSubscribe:
		err = ps.PSubscribe(ctx, target)
	case kindPUnsubscribe:
		err = ps.PUnsubscribe(ctx, target)
	}
	s.sendMu.Unlock()
	if err != nil {
		s.forget(w)
		return 0, err
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opTimeout)
		defer cancel()
	}
	select {
	case res := <-w.ch:
		return res.count, res.err
	case <-ctx.Done():
		// The command was sent, so w stays queued to absorb its late reply.
		return 0, apperrors.Timeout(kind).WithCause(ctx.Err())
	}
}

// expect registers a waiter for the server's acknowledgement and opens the
// pub/sub connection on first use.
func (s *goredisSession) expect(kind, target string) (*goredis.PubSub, *ackWaiter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return nil, nil, apperrors.ConnectionClosed(s.connection)
	}
	if s.ps == nil {
		s.ps = s.client.Subscribe(s.ctx)
		go s.readLoop(s.ps)
		go s.dispatchLoop()
	}
	w := &ackWaiter{kind: kind, target: target, ch: make(chan ackResult, 1)}
	s.waiters = append(s.waiters, w)
	return s.ps, w, nil
}

func (s *goredisSession) forget(w *ackWaiter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, other := range s.waiters {
		if other == w {
			s.waiters = append(s.waiters[:i], s.waiters[i+1:]...)
			return
		}
	}
}

// resolve completes the oldest waiter for kind and target. Acks nobody
// waits for come from go-redis resubscribing after a reconnect.
func (s *goredisSession) resolve(kind, target string, count int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, w := range s.waiters {
		if w.kind == kind && w.target == target {
			s.waiters = append(s.waiters[:i], s.waiters[i+1:]...)
			w.ch <- ackResult{count: count}
			return
		}
	}
}

// failWaiters fails the oldest waiter on a server error reply, or every
// waiter when the connection itself broke. Error replies carry no channel,
// but the server answers in command order and waiters are queued in send
// order, so the oldest waiter is the one the error belongs to.
func (s *goredisSession) failWaiters(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.waiters) == 0 {
		return
	}
	var redisErr goredis.Error
	if stderrors.As(err, &redisErr) {
		w := s.waiters[0]
		s.waiters = s.waiters[1:]
		w.ch <- ackResult{err: err}
		return
	}
	for _, w := range s.waiters {
		w.ch <- ackResult{err: err}
	}
	s.waiters = nil
}

func (s *goredisSession) readLoop(ps *goredis.PubSub) {
	attempt := 0
	for {
		msg, err := ps.Receive(s.ctx)
		if s.ctx.Err() != nil {
			return
		}
		if err != nil {
			s.failWaiters(err)
			s.nudge()
			attempt++
			if resilience.Sleep(s.ctx, s.retry.Backoff(attempt)) != nil {
				return
			}
			continue
		}
		attempt = 0

		switch m := msg.(type) {
		case *goredis.Subscription:
			s.resolve(m.Kind, m.Channel, int64(m.Count))
		case *goredis.Message:
			if m.Pattern != "" {
				s.metrics.RecordMessage(s.ctx, s.connection, kindPSubscribe)
				s.enqueue(SessionPMessage, SessionEvent{Pattern: m.Pattern, Channel: m.Channel, Payload: m.Payload})
			} else {
				s.metrics.RecordMessage(s.ctx, s.connection, kindSubscribe)
				s.enqueue(SessionMessage, SessionEvent{Channel: m.Channel, Payload: m.Payload})
			}
		}
	}
}

// enqueue never blocks the reader; the queue grows while handlers are busy.
func (s *goredisSession) enqueue(name string, ev SessionEvent) {
	s.queueMu.Lock()
	s.queue = append(s.queue, delivery{name: name, ev: ev})
	s.queueMu.Unlock()
	select {
	case s.queued <- struct{}{}:
	default:
	}
}

// dispatchLoop emits queued messages in arrival order until the session ends.
func (s *goredisSession) dispatchLoop() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.queued:
		}
		for {
			s.queueMu.Lock()
			if len(s.queue) == 0 {
				s.queue = nil
				s.queueMu.Unlock()
				break
			}
			d := s.queue[0]
			s.queue = s.queue[1:]
			s.queueMu.Unlock()

			if s.ctx.Err() != nil {
				return
			}
			s.emit(d.name, d.ev)
		}
	}
}

// isConnError reports errors that suggest the connection itself failed.
func isConnError(err error) bool {
	if err == nil || stderrors.Is(err, goredis.Nil) ||
		stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var redisErr goredis.Error
	if stderrors.As(err, &redisErr) {
		return false
	}
	return !apperrors.IsAppError(err)
}

// clusterSession adds node listing and topology events.
type clusterSession struct {
	*goredisSession
	cluster      *goredis.ClusterClient
	refreshEvery time.Duration
	nodesMu      sync.Mutex
	known        map[string]struct{}
}

var _ ClusterSession = (*clusterSession)(nil)

func (s *clusterSession) Connect() {
	s.startOnce.Do(func() {
		go s.monitor()
		go s.watchTopology()
	})
}

// Nodes lists per-node clients sorted by address.
func (s *clusterSession) Nodes(ctx context.Context, role Role) ([]*goredis.Client, error) {
	var mu sync.Mutex
	var nodes []*goredis.Client
	collect := func(_ context.Context, node *goredis.Client) error {
		mu.Lock()
		nodes = append(nodes, node)
		mu.Unlock()
		return nil
	}

	var err error
	switch role {
	case RoleMaster:
		err = s.cluster.ForEachMaster(ctx, collect)
	case RoleSlave:
		err = s.cluster.ForEachSlave(ctx, collect)
	case RoleAll, "":
		err = s.cluster.ForEachShard(ctx, collect)
	default:
		return nil, apperrors.InvalidInput("role", "role must be one of all, master, slave")
	}
	if err != nil {
		return nil, err
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Options().Addr < nodes[j].Options().Addr })
	return nodes, nil
}

func (s *clusterSession) watchTopology() {
	ticker := time.NewTicker(s.refreshEvery)
	defer ticker.Stop()
	for {
		s.refreshTopology()
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// refreshTopology diffs the current node set against the last one and
// pings every node.
func (s *clusterSession) refreshTopology() {
	ctx, cancel := context.WithTimeout(s.ctx, s.opTimeout)
	defer cancel()

	var mu sync.Mutex
	seen := make(map[string]struct{})
	var failed []SessionEvent
	err := s.cluster.ForEachShard(ctx, func(ctx context.Context, node *goredis.Client) error {
		addr := node.Options().Addr
		pingErr := node.Ping(ctx).Err()
		mu.Lock()
		defer mu.Unlock()
		seen[addr] = struct{}{}
		if pingErr != nil {
			failed = append(failed, SessionEvent{Err: pingErr, Addr: addr})
		}
		return nil
	})
	if s.ctx.Err() != nil {
		return
	}
	if err != nil {
		s.log.Debug("cluster topology unavailable", logger.Fields(logger.FieldError, err))
		return
	}

	s.nodesMu.Lock()
	prev := s.known
	s.known = seen
	s.nodesMu.Unlock()

	for _, addr := range util.SortedKeys(seen) {
		if _, ok := prev[addr]; !ok {
			s.emit(SessionNodeAdded, SessionEvent{Addr: addr})
		}
	}
	for _, addr := range util.SortedKeys(prev) {
		if _, ok := seen[addr]; !ok {
			s.emit(SessionNodeRemoved, SessionEvent{Addr: addr})
		}
	}
	sort.Slice(failed, func(i, j int) bool { return failed[i].Addr < failed[j].Addr })
	for _, ev := range failed {
		s.emit(SessionNodeError, ev)
	}
}
