package redis

import (
	"context"
	"errors"
	"sync"

	goredis "github.com/redis/go-redis/v9"

	"github.com/kbukum/rediskit/events"
)

var errFakeRefused = errors.New("dial tcp 127.0.0.1:1: connect: connection refused")

// fakeSession is a Session driven by the test: it never touches the
// network, and lifecycle events are fired explicitly.
type fakeSession struct {
	cfg     ConnectionConfig
	role    SessionRole
	emitter *events.Emitter[SessionEvent]
	cmds    goredis.Cmdable
	journal *journal

	mu         sync.Mutex
	status     Status
	connected  int
	pingErr    error
	info       string
	subErr     error
	count      int64
	subscribed []string
	published  []string
	ended      bool
}

var _ Session = (*fakeSession)(nil)

func (s *fakeSession) On(event string, fn events.Listener[SessionEvent]) events.Subscription {
	return s.emitter.On(event, fn)
}

func (s *fakeSession) RemoveAllListeners(names ...string) { s.emitter.RemoveAllListeners(names...) }

func (s *fakeSession) ListenerCount(event string) int { return s.emitter.ListenerCount(event) }

func (s *fakeSession) Connect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected++
}

func (s *fakeSession) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *fakeSession) Commands() goredis.Cmdable { return s.cmds }

func (s *fakeSession) Ping(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pingErr
}

func (s *fakeSession) Info(context.Context, string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info, nil
}

func (s *fakeSession) Publish(_ context.Context, channel string, _ any) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.published = append(s.published, channel)
	return 1, nil
}

func (s *fakeSession) pubsub(kind, target string, delta int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return 0, errors.New("session ended")
	}
	if delta > 0 && s.subErr != nil {
		return 0, s.subErr
	}
	s.subscribed = append(s.subscribed, kind+":"+target)
	s.count += delta
	if s.count < 0 {
		s.count = 0
	}
	return s.count, nil
}

func (s *fakeSession) Subscribe(_ context.Context, channel string) (int64, error) {
	return s.pubsub(kindSubscribe, channel, 1)
}

func (s *fakeSession) Unsubscribe(_ context.Context, channel string) (int64, error) {
	return s.pubsub(kindUnsubscribe, channel, -1)
}

func (s *fakeSession) PSubscribe(_ context.Context, pattern string) (int64, error) {
	return s.pubsub(kindPSubscribe, pattern, 1)
}

func (s *fakeSession) PUnsubscribe(_ context.Context, pattern string) (int64, error) {
	return s.pubsub(kindPUnsubscribe, pattern, -1)
}

func (s *fakeSession) Quit(context.Context) error {
	s.journal.add("quit " + string(s.role))
	s.end()
	return nil
}

func (s *fakeSession) Disconnect() error {
	s.journal.add("disconnect " + string(s.role))
	s.end()
	return nil
}

func (s *fakeSession) end() {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true
	s.status = StatusEnd
	s.mu.Unlock()
	s.emitter.Emit(SessionEnd, SessionEvent{})
}

// fire sets the status implied by name and emits it.
func (s *fakeSession) fire(name string, ev SessionEvent) {
	s.mu.Lock()
	switch name {
	case SessionConnect:
		s.status = StatusConnect
	case SessionReady:
		s.status = StatusReady
	case SessionClose:
		s.status = StatusClose
	case SessionReconnecting:
		s.status = StatusReconnecting
	}
	s.mu.Unlock()
	s.emitter.Emit(name, ev)
}

func (s *fakeSession) setStatus(status Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
}

func (s *fakeSession) setPingErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pingErr = err
}

func (s *fakeSession) setSubErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subErr = err
}

func (s *fakeSession) calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.subscribed...)
}

// journal records close calls across sessions in order.
type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(entry string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, entry)
}

func (j *journal) list() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.entries...)
}

// fakeFactory hands out fakeSessions and remembers them.
type fakeFactory struct {
	journal *journal
	cmds    goredis.Cmdable
	// prepare, when set, adjusts a session before it is returned.
	prepare func(s *fakeSession, cfg ConnectionConfig, opts SessionOptions)
	err     error

	mu       sync.Mutex
	sessions []*fakeSession
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{
		journal: &journal{},
		cmds:    goredis.NewClient(&goredis.Options{Addr: "127.0.0.1:1", MaxRetries: -1}),
	}
}

func (f *fakeFactory) New(cfg ConnectionConfig, opts SessionOptions) (Session, error) {
	if f.err != nil {
		return nil, f.err
	}
	s := &fakeSession{
		cfg:     cfg,
		role:    opts.Role,
		emitter: events.NewEmitter[SessionEvent](),
		cmds:    f.cmds,
		journal: f.journal,
		status:  StatusConnecting,
	}
	if f.prepare != nil {
		f.prepare(s, cfg, opts)
	}
	f.mu.Lock()
	f.sessions = append(f.sessions, s)
	f.mu.Unlock()
	return s, nil
}

func (f *fakeFactory) byRole(role SessionRole) []*fakeSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*fakeSession
	for _, s := range f.sessions {
		if s.role == role {
			out = append(out, s)
		}
	}
	return out
}

func (f *fakeFactory) last(role SessionRole) *fakeSession {
	list := f.byRole(role)
	if len(list) == 0 {
		return nil
	}
	return list[len(list)-1]
}
