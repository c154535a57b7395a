package redis

import (
	"context"
	"net"

	goredis "github.com/redis/go-redis/v9"

	apperrors "github.com/kbukum/rediskit/errors"
)

type processor interface {
	Process(ctx context.Context, cmd goredis.Cmder) error
}

// proxyHook short-circuits a go-redis client: commands never reach its own
// pool and are replayed on the Cmdable returned by target instead.
type proxyHook struct {
	target func() (goredis.Cmdable, error)
}

var _ goredis.Hook = proxyHook{}

// newProxyClient returns a client that never dials and forwards every
// command, pipeline and transaction to target.
func newProxyClient(target func() (goredis.Cmdable, error)) *goredis.Client {
	client := goredis.NewClient(&goredis.Options{
		Addr:            "proxy:0",
		DisableIdentity: true,
		MaxRetries:      -1,
	})
	client.AddHook(proxyHook{target: target})
	return client
}

func (h proxyHook) DialHook(goredis.DialHook) goredis.DialHook {
	return func(context.Context, string, string) (net.Conn, error) {
		return nil, apperrors.Internal(nil).WithDetail("reason", "proxy client does not dial")
	}
}

func (h proxyHook) ProcessHook(goredis.ProcessHook) goredis.ProcessHook {
	return func(ctx context.Context, cmd goredis.Cmder) error {
		target, err := h.target()
		if err != nil {
			cmd.SetErr(err)
			return err
		}
		p, ok := target.(processor)
		if !ok {
			err := apperrors.Internal(nil).WithDetail("reason", "command target cannot process commands")
			cmd.SetErr(err)
			return err
		}
		return p.Process(ctx, cmd)
	}
}

func (h proxyHook) ProcessPipelineHook(goredis.ProcessPipelineHook) goredis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []goredis.Cmder) error {
		target, err := h.target()
		if err != nil {
			setCmdsErr(cmds, err)
			return err
		}

		pipe := target.Pipeline()
		if isTransaction(cmds) {
			pipe = target.TxPipeline()
			cmds = cmds[1 : len(cmds)-1]
		}
		for _, cmd := range cmds {
			_ = pipe.Process(ctx, cmd)
		}
		_, err = pipe.Exec(ctx)
		return err
	}
}

// isTransaction detects the MULTI ... EXEC wrapping of a TxPipeline.
func isTransaction(cmds []goredis.Cmder) bool {
	return len(cmds) >= 2 && cmds[0].Name() == "multi" && cmds[len(cmds)-1].Name() == "exec"
}

func setCmdsErr(cmds []goredis.Cmder, err error) {
	for _, cmd := range cmds {
		cmd.SetErr(err)
	}
}
