package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kbukum/rediskit/component"
	"github.com/kbukum/rediskit/logger"
	"github.com/kbukum/rediskit/resilience"
	"github.com/kbukum/rediskit/util"
)

// ensure Manager satisfies component.Component
var _ component.Component = (*Manager)(nil)

// Name returns the component name.
func (m *Manager) Name() string { return "redis" }

// Start materialises the default connection and every connection marked
// eager_connect, then waits until each answers PING.
func (m *Manager) Start(ctx context.Context) error {
	names := []string{m.cfg.Connection}
	for _, name := range util.SortedKeys(m.cfg.Connections) {
		if name != m.cfg.Connection && m.cfg.Connections[name].EagerConnect {
			names = append(names, name)
		}
	}

	for _, name := range names {
		conn, err := m.Connection(name)
		if err != nil {
			return fmt.Errorf("redis start %s: %w", name, err)
		}
		connCfg := conn.Config()
		retry := connCfg.retryConfig()
		if retry.MaxAttempts < 0 {
			retry.MaxAttempts = resilience.DefaultRetryConfig().MaxAttempts
		}
		retry.OnRetry = func(attempt int, err error, _ time.Duration) {
			m.log.Debug("waiting for connection", logger.Fields(
				logger.FieldConnection, name, logger.FieldAttempt, attempt, logger.FieldError, err))
		}
		if err := resilience.RetryFunc(ctx, retry, func() error {
			return conn.command.Ping(ctx)
		}); err != nil {
			return fmt.Errorf("redis start ping %s: %w", name, err)
		}
	}

	m.log.Info("Redis component started", logger.Fields(logger.FieldCount, len(names)))
	return nil
}

// Stop quits every open connection.
func (m *Manager) Stop(ctx context.Context) error {
	m.log.Info("Redis component stopping")
	return m.QuitAll(ctx)
}

// Health turns the aggregated report into a component health entry.
func (m *Manager) Health(ctx context.Context) component.Health {
	report := m.Report(ctx)
	if report.Healthy {
		return component.Health{Name: m.Name(), Status: component.StatusHealthy, Message: report.Message}
	}

	var failed []string
	for _, r := range report.Connections {
		if r.Error != nil {
			failed = append(failed, fmt.Sprintf("%s: %v", r.Connection, r.Error))
		}
	}
	status := component.StatusUnhealthy
	if len(failed) < len(report.Connections) {
		status = component.StatusDegraded
	}
	return component.Health{Name: m.Name(), Status: status, Message: strings.Join(failed, "; ")}
}

// Describe returns infrastructure summary info for the bootstrap display.
func (m *Manager) Describe() component.Description {
	cfg := m.cfg.Connections[m.cfg.Connection]
	desc := component.Description{Name: "Redis", Type: "redis"}
	if cfg.Kind() == KindCluster {
		desc.Details = fmt.Sprintf("cluster nodes=%d connections=%d", len(cfg.Clusters), len(m.cfg.Connections))
		return desc
	}
	_ = cfg.Normalize()
	desc.Port = cfg.Port
	desc.Details = fmt.Sprintf("%s db=%d pool=%d connections=%d", cfg.Addr(), cfg.DB, cfg.PoolSize, len(m.cfg.Connections))
	return desc
}
