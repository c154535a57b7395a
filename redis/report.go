package redis

import (
	"bufio"
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	apperrors "github.com/kbukum/rediskit/errors"
	"github.com/kbukum/rediskit/logger"
	"github.com/kbukum/rediskit/observability"
	"github.com/kbukum/rediskit/resilience"
	"github.com/kbukum/rediskit/util"
)

// ConnectionReport is a point-in-time health snapshot of one connection.
type ConnectionReport struct {
	Connection      string `json:"connection"`
	Status          Status `json:"status"`
	UsedMemory      string `json:"used_memory,omitempty"`
	UsedMemoryBytes int64  `json:"used_memory_bytes,omitempty"`
	Error           error  `json:"-"`
}

// MarshalJSON renders Error as an error body.
func (r ConnectionReport) MarshalJSON() ([]byte, error) {
	type plain ConnectionReport
	return json.Marshal(struct {
		plain
		Error *apperrors.ErrorBody `json:"error"`
	}{plain: plain(r), Error: apperrors.ToBody(r.Error)})
}

// Healthy reports whether the snapshot carries no error.
func (r ConnectionReport) Healthy() bool { return r.Error == nil }

// HealthReport aggregates the reports of every health-checked connection.
type HealthReport struct {
	Healthy     bool               `json:"healthy"`
	Message     string             `json:"message"`
	Connections []ConnectionReport `json:"connections"`
}

// Report describes the connection's health. While the command session is
// still connecting and no error was seen, it waits up to the configured
// retries before answering. The retry budget is spent once per Connection,
// so only reports made shortly after construction ever wait.
//
// Report never fails; errors are carried in the result.
func (c *Connection) Report(ctx context.Context, checkMemory bool) ConnectionReport {
	ctx, span := observability.StartSpan(ctx, observability.SpanReport,
		trace.WithAttributes(attribute.String(observability.AttrConnection, c.name)))
	defer span.End()

	report := c.report(ctx, checkMemory)
	span.SetAttributes(attribute.String(observability.AttrStatus, string(report.Status)))
	observability.SetSpanError(span, report.Error)
	return report
}

func (c *Connection) report(ctx context.Context, checkMemory bool) ConnectionReport {
	for c.shouldWait() {
		if err := resilience.Sleep(ctx, c.opts.reportDelay); err != nil {
			return ConnectionReport{Connection: c.name, Status: c.Status(), Error: err}
		}
	}

	status := c.Status()
	report := ConnectionReport{Connection: c.name, Status: status}
	if status != StatusReady && status != StatusConnect {
		report.Error = c.LastError()
		return report
	}

	if err := c.command.Ping(ctx); err != nil {
		report.Error = err
		return report
	}
	if !checkMemory {
		return report
	}

	used, human, err := c.usedMemory(ctx)
	if err != nil {
		report.Error = err
		return report
	}
	report.UsedMemory = human
	report.UsedMemoryBytes = used

	if threshold := c.opts.memoryThreshold; threshold > 0 && used > threshold {
		report.Error = apperrors.MemoryThresholdExceeded(used, threshold)
		c.log.Warn("memory threshold exceeded", logger.Fields("used", human, "threshold", util.FormatSize(threshold)))
	}
	return report
}

// shouldWait consumes one report retry when the command session is still
// connecting without an error.
func (c *Connection) shouldWait() bool {
	if c.Status() != StatusConnecting {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastError != nil || c.reportRetries >= c.opts.reportRetries {
		return false
	}
	c.reportRetries++
	return true
}

func (c *Connection) usedMemory(ctx context.Context) (int64, string, error) {
	if fn := c.opts.usedMemory; fn != nil {
		used, err := fn(ctx, c)
		if err != nil {
			return 0, "", err
		}
		return used, util.FormatSize(used), nil
	}

	info, err := c.command.Info(ctx, "memory")
	if err != nil {
		return 0, "", err
	}
	return parseUsedMemory(info)
}

// parseUsedMemory reads used_memory and used_memory_human from INFO memory
// output. The human form is derived from the byte count when absent.
func parseUsedMemory(info string) (int64, string, error) {
	fields := make(map[string]string)
	scanner := bufio.NewScanner(strings.NewReader(info))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if key, value, ok := strings.Cut(line, ":"); ok {
			fields[key] = value
		}
	}

	raw, ok := fields["used_memory"]
	if !ok {
		return 0, "", apperrors.Internal(nil).WithDetail("reason", "used_memory missing from INFO memory")
	}
	used, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, "", apperrors.Internal(err).WithDetail("used_memory", raw)
	}
	return used, util.Coalesce(fields["used_memory_human"], util.FormatSize(used)), nil
}
