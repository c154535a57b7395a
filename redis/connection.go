package redis

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	apperrors "github.com/kbukum/rediskit/errors"
	"github.com/kbukum/rediskit/events"
	"github.com/kbukum/rediskit/logger"
	"github.com/kbukum/rediskit/util"
)

// Connection event names.
const (
	EventConnect      = "connect"
	EventReady        = "ready"
	EventError        = "error"
	EventClose        = "close"
	EventReconnecting = "reconnecting"
	EventEnd          = "end"

	EventSubscriberConnect      = "subscriber:connect"
	EventSubscriberReady        = "subscriber:ready"
	EventSubscriberError        = "subscriber:error"
	EventSubscriberClose        = "subscriber:close"
	EventSubscriberReconnecting = "subscriber:reconnecting"
	EventSubscriberEnd          = "subscriber:end"

	EventSubscriptionReady  = "subscription:ready"
	EventSubscriptionError  = "subscription:error"
	EventPSubscriptionReady = "psubscription:ready"
	EventPSubscriptionError = "psubscription:error"

	EventNodeAdded   = "node:added"
	EventNodeRemoved = "node:removed"
	EventNodeError   = "node:error"
)

// Event is what a Connection emits. Connection is always set; the other
// fields only when the event carries them.
type Event struct {
	Connection *Connection
	Err        error
	// Addr is the cluster node address of node:* events.
	Addr string
	// Count is the server's subscription count after a subscribe.
	Count   int64
	Channel string
	Pattern string
}

// MessageHandler receives a channel message payload.
type MessageHandler func(payload string)

// PatternHandler receives the concrete channel and payload of a pattern message.
type PatternHandler func(channel, payload string)

type subscription struct {
	message MessageHandler
	pattern PatternHandler
}

type scriptCommand struct {
	numberOfKeys int
	script       *goredis.Script
}

// Connection is one named Redis target: a command session opened at
// construction and a subscriber session opened on the first subscribe.
// The embedded Cmdable is the command session's full command surface.
//
// A Connection is terminal once its command session ended.
type Connection struct {
	goredis.Cmdable

	name    string
	id      string
	cfg     ConnectionConfig
	opts    *options
	log     *logger.Logger
	emitter *events.Emitter[Event]
	command Session

	mu                   sync.Mutex
	subscriber           Session
	subscriptions        map[string]*subscription
	patternSubscriptions map[string]*subscription
	scripts              map[string]*scriptCommand
	lastError            error
	reportRetries        int
	closing              bool
	ended                bool
}

// NewConnection validates cfg and opens the command session. Network
// failures never fail the constructor; they arrive as error events.
func NewConnection(name string, cfg ConnectionConfig, opts ...Option) (*Connection, error) {
	if err := cfg.Normalize(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c, err := newConnection(name, cfg, newOptions(opts))
	if err != nil {
		return nil, err
	}
	c.Connect()
	return c, nil
}

// newConnection builds a Connection without starting it, so callers can
// attach listeners first.
func newConnection(name string, cfg ConnectionConfig, o *options) (*Connection, error) {
	id := uuid.NewString()
	c := &Connection{
		name:                 name,
		id:                   id,
		cfg:                  cfg,
		opts:                 o,
		log:                  o.log.WithFields(logger.Fields(logger.FieldConnection, name, logger.FieldInstance, id)),
		emitter:              events.NewEmitter[Event](),
		subscriptions:        make(map[string]*subscription),
		patternSubscriptions: make(map[string]*subscription),
		scripts:              make(map[string]*scriptCommand),
	}

	command, err := o.factory(cfg, c.sessionOptions(RoleCommand))
	if err != nil {
		return nil, err
	}
	c.command = command
	c.Cmdable = command.Commands()
	c.monitorCommand(command)

	c.log.Debug("connection created", logger.Fields(logger.FieldKind, string(cfg.Kind())))
	return c, nil
}

func (c *Connection) sessionOptions(role SessionRole) SessionOptions {
	return SessionOptions{
		Connection: c.name,
		Role:       role,
		Logger:     c.opts.log,
		Metrics:    c.opts.metrics,
		Tracing:    c.opts.tracing,
	}
}

// Name returns the connection name.
func (c *Connection) Name() string { return c.name }

// ID distinguishes successive connections created with the same name.
func (c *Connection) ID() string { return c.id }

// Kind reports standalone or cluster.
func (c *Connection) Kind() Kind { return c.cfg.Kind() }

// Config returns the normalized configuration.
func (c *Connection) Config() ConnectionConfig { return c.cfg }

// Status is read live from the command session.
func (c *Connection) Status() Status { return c.command.Status() }

// LastError is the last error seen on the command session since it was ready.
func (c *Connection) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastError
}

// Connect starts the command session if it has not started yet.
func (c *Connection) Connect() { c.command.Connect() }

// HasSubscriber reports whether the subscriber session exists.
func (c *Connection) HasSubscriber() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subscriber != nil
}

// Subscriptions returns the subscribed channels, sorted.
func (c *Connection) Subscriptions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return util.SortedKeys(c.subscriptions)
}

// PatternSubscriptions returns the subscribed patterns, sorted.
func (c *Connection) PatternSubscriptions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return util.SortedKeys(c.patternSubscriptions)
}

// On registers fn for the named event.
func (c *Connection) On(name string, fn events.Listener[Event]) events.Subscription {
	return c.emitter.On(name, fn)
}

// Once registers fn for the next emission of the named event.
func (c *Connection) Once(name string, fn events.Listener[Event]) events.Subscription {
	return c.emitter.Once(name, fn)
}

// Off removes a listener.
func (c *Connection) Off(sub events.Subscription) { c.emitter.Off(sub) }

// ListenerCount counts listeners for name, or all listeners when name is empty.
func (c *Connection) ListenerCount(name string) int { return c.emitter.ListenerCount(name) }

func (c *Connection) emit(name string, ev Event) {
	ev.Connection = c
	c.emitter.Emit(name, ev)
}

// --- command session ---

func (c *Connection) monitorCommand(s Session) {
	s.On(SessionConnect, func(SessionEvent) { c.emit(EventConnect, Event{}) })
	s.On(SessionReady, func(SessionEvent) {
		c.mu.Lock()
		c.lastError = nil
		c.mu.Unlock()
		c.log.Info("connection ready")
		c.emit(EventReady, Event{})
	})
	s.On(SessionError, func(ev SessionEvent) {
		c.mu.Lock()
		c.lastError = ev.Err
		c.mu.Unlock()
		c.emit(EventError, Event{Err: ev.Err})
	})
	s.On(SessionClose, func(SessionEvent) { c.emit(EventClose, Event{}) })
	s.On(SessionReconnecting, func(SessionEvent) { c.emit(EventReconnecting, Event{}) })
	s.On(SessionNodeAdded, func(ev SessionEvent) { c.emit(EventNodeAdded, Event{Addr: ev.Addr}) })
	s.On(SessionNodeRemoved, func(ev SessionEvent) { c.emit(EventNodeRemoved, Event{Addr: ev.Addr}) })
	s.On(SessionNodeError, func(ev SessionEvent) { c.emit(EventNodeError, Event{Err: ev.Err, Addr: ev.Addr}) })
	s.On(SessionEnd, func(SessionEvent) { c.commandEnded(s) })
}

// commandEnded tears the connection down. An unrequested end also takes
// the subscriber session with it.
func (c *Connection) commandEnded(s Session) {
	c.mu.Lock()
	c.ended = true
	requested := c.closing
	sub := c.subscriber
	c.mu.Unlock()

	if !requested && sub != nil {
		_ = sub.Disconnect()
	}

	s.RemoveAllListeners()
	c.log.Info("connection ended")
	c.emit(EventEnd, Event{})
	c.emitter.RemoveAllListeners()
}

// --- subscriber session ---

// subscriberLocked returns the subscriber session, opening it on first use.
// c.mu must be held.
func (c *Connection) subscriberLocked() (Session, error) {
	if c.subscriber != nil {
		return c.subscriber, nil
	}
	sub, err := c.opts.factory(c.cfg, c.sessionOptions(RoleSubscriber))
	if err != nil {
		return nil, err
	}
	c.monitorSubscriber(sub)
	c.subscriber = sub
	sub.Connect()
	c.log.Debug("subscriber session opened")
	return sub, nil
}

func (c *Connection) monitorSubscriber(s Session) {
	s.On(SessionMessage, func(ev SessionEvent) {
		c.mu.Lock()
		entry := c.subscriptions[ev.Channel]
		c.mu.Unlock()
		if entry != nil {
			entry.message(ev.Payload)
		}
	})
	s.On(SessionPMessage, func(ev SessionEvent) {
		c.mu.Lock()
		entry := c.patternSubscriptions[ev.Pattern]
		c.mu.Unlock()
		if entry != nil {
			entry.pattern(ev.Channel, ev.Payload)
		}
	})
	s.On(SessionConnect, func(SessionEvent) { c.emit(EventSubscriberConnect, Event{}) })
	s.On(SessionReady, func(SessionEvent) { c.emit(EventSubscriberReady, Event{}) })
	s.On(SessionError, func(ev SessionEvent) { c.emit(EventSubscriberError, Event{Err: ev.Err}) })
	s.On(SessionClose, func(SessionEvent) { c.emit(EventSubscriberClose, Event{}) })
	s.On(SessionReconnecting, func(SessionEvent) { c.emit(EventSubscriberReconnecting, Event{}) })
	s.On(SessionEnd, func(SessionEvent) { c.subscriberEnded(s) })
}

func (c *Connection) subscriberEnded(s Session) {
	c.mu.Lock()
	var dropped int
	if c.subscriber == s {
		dropped = len(c.subscriptions) + len(c.patternSubscriptions)
		clear(c.subscriptions)
		clear(c.patternSubscriptions)
		c.subscriber = nil
	}
	c.mu.Unlock()

	if dropped > 0 {
		c.opts.metrics.AddSubscriptions(context.Background(), c.name, "all", -int64(dropped))
	}
	s.RemoveAllListeners()
	c.log.Debug("subscriber session ended", logger.Fields(logger.FieldCount, dropped))
	c.emit(EventSubscriberEnd, Event{})
}

// Subscribe registers handler for channel and sends SUBSCRIBE on the
// subscriber session. A second handler for the same channel is rejected
// before any I/O. The handler is in place before the server acknowledges,
// and removed again if the command fails.
func (c *Connection) Subscribe(ctx context.Context, channel string, handler MessageHandler) error {
	if handler == nil {
		return apperrors.InvalidInput("handler", "handler is required")
	}
	return c.subscribe(ctx, channel, &subscription{message: handler}, false)
}

// PSubscribe is Subscribe for a glob-style pattern.
func (c *Connection) PSubscribe(ctx context.Context, pattern string, handler PatternHandler) error {
	if handler == nil {
		return apperrors.InvalidInput("handler", "handler is required")
	}
	return c.subscribe(ctx, pattern, &subscription{pattern: handler}, true)
}

func (c *Connection) table(pattern bool) map[string]*subscription {
	if pattern {
		return c.patternSubscriptions
	}
	return c.subscriptions
}

func (c *Connection) subscribe(ctx context.Context, target string, entry *subscription, pattern bool) error {
	c.mu.Lock()
	if c.ended {
		c.mu.Unlock()
		return apperrors.ConnectionClosed(c.name)
	}
	if _, exists := c.table(pattern)[target]; exists {
		c.mu.Unlock()
		if pattern {
			return apperrors.DuplicatePatternSubscription(target)
		}
		return apperrors.DuplicateSubscription(target)
	}
	sub, err := c.subscriberLocked()
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.table(pattern)[target] = entry
	c.mu.Unlock()

	kind, readyEvent, errorEvent := kindSubscribe, EventSubscriptionReady, EventSubscriptionError
	ev := Event{Channel: target}
	var count int64
	if pattern {
		kind, readyEvent, errorEvent = kindPSubscribe, EventPSubscriptionReady, EventPSubscriptionError
		ev = Event{Pattern: target}
		count, err = sub.PSubscribe(ctx, target)
	} else {
		count, err = sub.Subscribe(ctx, target)
	}

	if err != nil {
		c.mu.Lock()
		if c.subscriber == sub && c.table(pattern)[target] == entry {
			delete(c.table(pattern), target)
		}
		c.mu.Unlock()
		c.log.Warn(kind+" failed", logger.Fields(logger.FieldChannel, target, logger.FieldError, err))
		ev.Err = err
		c.emit(errorEvent, ev)
		return err
	}

	c.opts.metrics.AddSubscriptions(ctx, c.name, kind, 1)
	c.log.Debug(kind+" ready", logger.Fields(logger.FieldChannel, target, logger.FieldCount, count))
	ev.Count = count
	c.emit(readyEvent, ev)
	return nil
}

// Unsubscribe drops the channel handler at once, then sends UNSUBSCRIBE.
// It returns the server's remaining subscription count, 0 when no
// subscriber session exists.
func (c *Connection) Unsubscribe(ctx context.Context, channel string) (int64, error) {
	return c.unsubscribe(ctx, channel, false)
}

// PUnsubscribe is Unsubscribe for a pattern.
func (c *Connection) PUnsubscribe(ctx context.Context, pattern string) (int64, error) {
	return c.unsubscribe(ctx, pattern, true)
}

func (c *Connection) unsubscribe(ctx context.Context, target string, pattern bool) (int64, error) {
	c.mu.Lock()
	_, had := c.table(pattern)[target]
	delete(c.table(pattern), target)
	sub := c.subscriber
	c.mu.Unlock()

	if sub == nil {
		return 0, nil
	}

	kind := kindSubscribe
	var count int64
	var err error
	if pattern {
		kind = kindPSubscribe
		count, err = sub.PUnsubscribe(ctx, target)
	} else {
		count, err = sub.Unsubscribe(ctx, target)
	}
	if err != nil {
		return 0, err
	}
	if had {
		c.opts.metrics.AddSubscriptions(ctx, c.name, kind, -1)
	}
	return count, nil
}

// Publish sends message to channel and returns the number of receivers.
func (c *Connection) Publish(ctx context.Context, channel string, message any) (int64, error) {
	if c.isEnded() {
		return 0, apperrors.ConnectionClosed(c.name)
	}
	return c.command.Publish(ctx, channel, message)
}

// PublishAsync publishes in the background and reports the result to
// callback, which may be nil.
func (c *Connection) PublishAsync(ctx context.Context, channel string, message any, callback func(int64, error)) {
	go func() {
		n, err := c.Publish(ctx, channel, message)
		if callback != nil {
			callback(n, err)
		}
	}()
}

// DefineCommand registers a Lua script under name. The first numberOfKeys
// arguments of RunCommand are passed as KEYS.
func (c *Connection) DefineCommand(name string, numberOfKeys int, lua string) error {
	if numberOfKeys < 0 {
		return apperrors.InvalidInput("number_of_keys", "number of keys cannot be negative")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.scripts[name]; exists {
		return apperrors.CommandAlreadyDefined(name)
	}
	c.scripts[name] = &scriptCommand{numberOfKeys: numberOfKeys, script: goredis.NewScript(lua)}
	return nil
}

// RunCommand runs a script registered with DefineCommand, using EVALSHA
// and falling back to EVAL.
func (c *Connection) RunCommand(ctx context.Context, name string, args ...any) *goredis.Cmd {
	c.mu.Lock()
	command := c.scripts[name]
	c.mu.Unlock()

	if command == nil {
		cmd := goredis.NewCmd(ctx, name)
		cmd.SetErr(apperrors.CommandNotDefined(name))
		return cmd
	}
	if len(args) < command.numberOfKeys {
		cmd := goredis.NewCmd(ctx, name)
		cmd.SetErr(apperrors.InvalidInput("args",
			fmt.Sprintf("command %q needs %d keys, got %d arguments", name, command.numberOfKeys, len(args))))
		return cmd
	}

	keys := make([]string, command.numberOfKeys)
	for i := range keys {
		keys[i] = fmt.Sprint(args[i])
	}
	return command.script.Run(ctx, c.command.Commands(), keys, args[command.numberOfKeys:]...)
}

// Quit closes the command session gracefully, then the subscriber session.
func (c *Connection) Quit(ctx context.Context) error {
	command, sub := c.beginClose()
	err := command.Quit(ctx)
	if sub != nil {
		err = apperrors.Join(err, sub.Quit(ctx))
	}
	return err
}

// Disconnect closes both sessions without waiting for in-flight commands.
func (c *Connection) Disconnect(_ context.Context) error {
	command, sub := c.beginClose()
	err := command.Disconnect()
	if sub != nil {
		err = apperrors.Join(err, sub.Disconnect())
	}
	return err
}

func (c *Connection) beginClose() (Session, Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closing = true
	return c.command, c.subscriber
}

func (c *Connection) isEnded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ended
}
