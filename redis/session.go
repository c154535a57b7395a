package redis

import (
	"context"

	goredis "github.com/redis/go-redis/v9"

	"github.com/kbukum/rediskit/events"
	"github.com/kbukum/rediskit/logger"
	"github.com/kbukum/rediskit/observability"
)

// Status is the lifecycle state of a session.
type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusConnect      Status = "connect"
	StatusReady        Status = "ready"
	StatusClose        Status = "close"
	StatusReconnecting Status = "reconnecting"
	StatusEnd          Status = "end"
)

// Raw session event names.
const (
	SessionConnect      = "connect"
	SessionReady        = "ready"
	SessionError        = "error"
	SessionClose        = "close"
	SessionReconnecting = "reconnecting"
	SessionEnd          = "end"
	SessionMessage      = "message"
	SessionPMessage     = "pmessage"
	SessionNodeAdded    = "+node"
	SessionNodeRemoved  = "-node"
	SessionNodeError    = "node error"
)

// SessionEvent carries the payload of a raw session event. Only the fields
// relevant to the event are set.
type SessionEvent struct {
	Err     error
	Addr    string
	Channel string
	Pattern string
	Payload string
}

// Role filters cluster nodes.
type Role string

const (
	RoleAll    Role = "all"
	RoleMaster Role = "master"
	RoleSlave  Role = "slave"
)

// Session is one physical Redis session: a command session or a subscriber
// session. Events are emitted from the session's own goroutines.
type Session interface {
	On(event string, fn events.Listener[SessionEvent]) events.Subscription
	RemoveAllListeners(names ...string)
	ListenerCount(event string) int

	// Connect starts connecting in the background. Calling it again is a no-op.
	Connect()
	Status() Status
	// Commands is the generic command surface. It must not be nil.
	Commands() goredis.Cmdable

	Ping(ctx context.Context) error
	Info(ctx context.Context, section string) (string, error)
	Publish(ctx context.Context, channel string, message any) (int64, error)

	// Subscribe family returns the server's subscription count after the command.
	Subscribe(ctx context.Context, channel string) (int64, error)
	Unsubscribe(ctx context.Context, channel string) (int64, error)
	PSubscribe(ctx context.Context, pattern string) (int64, error)
	PUnsubscribe(ctx context.Context, pattern string) (int64, error)

	// Quit waits for in-flight commands before closing. Disconnect closes at once.
	// Both are safe to call after the session ended.
	Quit(ctx context.Context) error
	Disconnect() error
}

// ClusterSession is a Session that can list cluster nodes.
type ClusterSession interface {
	Session
	Nodes(ctx context.Context, role Role) ([]*goredis.Client, error)
}

// SessionRole tells a factory which of the two sessions it builds.
type SessionRole string

const (
	RoleCommand    SessionRole = "command"
	RoleSubscriber SessionRole = "subscriber"
)

// SessionOptions are passed to a SessionFactory.
type SessionOptions struct {
	Connection string
	Role       SessionRole
	Logger     *logger.Logger
	Metrics    *observability.RedisMetrics
	Tracing    bool
}

// SessionFactory opens a session for cfg. The session must stay silent
// until Connect is called; listeners are attached in between.
type SessionFactory func(cfg ConnectionConfig, opts SessionOptions) (Session, error)

// DefaultSessionFactory opens go-redis backed sessions.
func DefaultSessionFactory(cfg ConnectionConfig, opts SessionOptions) (Session, error) {
	return newGoredisSession(cfg, opts)
}
