package redisfx_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"

	"github.com/kbukum/rediskit/logger"
	"github.com/kbukum/rediskit/redis"
	"github.com/kbukum/rediskit/redisfx"
	"github.com/kbukum/rediskit/testutil"
)

func TestModuleManagesLifecycle(t *testing.T) {
	srv := testutil.NewRedisServer()
	testutil.T(t).Setup(srv)

	cfg := redis.ManagerConfig{
		Connection: "primary",
		Connections: map[string]redis.ConnectionConfig{
			"primary": {Host: srv.Host(), Port: srv.Port(), HealthCheck: true},
		},
	}

	var m *redis.Manager
	app := fxtest.New(t,
		redisfx.Module,
		fx.Supply(cfg),
		fx.Supply(logger.Nop()),
		redisfx.AsOption(redis.WithReportRetry(1, 10*time.Millisecond)),
		fx.Populate(&m),
	)
	app.RequireStart()

	require.NotNil(t, m)
	assert.True(t, m.IsConnected("primary"), "start opens the default connection")

	ctx := context.Background()
	require.NoError(t, m.Set(ctx, "fx", "wired", 0).Err())
	got, err := srv.Miniredis().Get("fx")
	require.NoError(t, err)
	assert.Equal(t, "wired", got)

	report := m.Report(ctx)
	assert.True(t, report.Healthy)

	app.RequireStop()
	assert.Empty(t, m.ActiveConnections(), "stop quits every connection")
}

func TestModuleRejectsInvalidConfig(t *testing.T) {
	app := fx.New(
		fx.NopLogger,
		redisfx.Module,
		fx.Supply(redis.ManagerConfig{Connection: "primary"}),
	)
	require.Error(t, app.Err())
}
