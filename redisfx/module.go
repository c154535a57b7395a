// Package redisfx wires a redis.Manager into an fx application.
//
//	app := fx.New(
//	    redisfx.Module,
//	    fx.Provide(func() redis.ManagerConfig { return cfg.Redis }),
//	)
//
// The manager starts with the application (opening the default and eager
// connections) and quits every connection when the application stops.
package redisfx

import (
	"context"

	"go.uber.org/fx"

	"github.com/kbukum/rediskit/logger"
	"github.com/kbukum/rediskit/observability"
	"github.com/kbukum/rediskit/redis"
)

// Module provides *redis.Manager and ties it to the fx lifecycle.
var Module = fx.Module("redis",
	fx.Provide(NewManager),
	fx.Invoke(RegisterLifecycle),
)

// Params are the manager's dependencies. Only the config is required.
type Params struct {
	fx.In

	Config  redis.ManagerConfig
	Logger  *logger.Logger              `optional:"true"`
	Metrics *observability.RedisMetrics `optional:"true"`
	Options []redis.Option              `group:"redis.options"`
}

// NewManager builds the manager without opening connections.
func NewManager(p Params) (*redis.Manager, error) {
	opts := make([]redis.Option, 0, len(p.Options)+2)
	if p.Logger != nil {
		opts = append(opts, redis.WithLogger(p.Logger.WithComponent("redis")))
	}
	if p.Metrics != nil {
		opts = append(opts, redis.WithMetrics(p.Metrics))
	}
	opts = append(opts, p.Options...)
	return redis.NewManager(p.Config, opts...)
}

// LifecycleParams are the dependencies of RegisterLifecycle.
type LifecycleParams struct {
	fx.In

	Lifecycle fx.Lifecycle
	Manager   *redis.Manager
}

// RegisterLifecycle starts the manager on OnStart and quits it on OnStop.
func RegisterLifecycle(p LifecycleParams) {
	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return p.Manager.Start(ctx)
		},
		OnStop: func(ctx context.Context) error {
			return p.Manager.Stop(ctx)
		},
	})
}

// AsOption contributes a redis.Option to the manager built by Module.
func AsOption(opt redis.Option) fx.Option {
	return fx.Provide(fx.Annotate(
		func() redis.Option { return opt },
		fx.ResultTags(`group:"redis.options"`),
	))
}
