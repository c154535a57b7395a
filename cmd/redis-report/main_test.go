package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kbukum/rediskit/redis"
	"github.com/kbukum/rediskit/testutil"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestRunReportsHealthyServer(t *testing.T) {
	srv := testutil.NewRedisServer()
	testutil.T(t).Setup(srv)

	path := writeConfig(t, fmt.Sprintf(`
name: redis-report
environment: test
redis:
  connection: primary
  connections:
    primary:
      host: %s
      port: %d
      health_check: true
`, srv.Host(), srv.Port()))

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"-config", path, "-wait"}, &stdout, &stderr)
	require.Equal(t, exitHealthy, code, stderr.String())

	var report redis.HealthReport
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &report))
	assert.True(t, report.Healthy)
	assert.Equal(t, "All connections are healthy", report.Message)
}

func TestRunReportsUnreachableServer(t *testing.T) {
	path := writeConfig(t, `
environment: test
redis:
  connection: primary
  connections:
    primary:
      host: 127.0.0.1
      port: 1
      dial_timeout: 100ms
      health_check: true
      reconnect:
        max_attempts: 1
`)

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"-config", path}, &stdout, &stderr)
	assert.Equal(t, exitUnhealthy, code, stderr.String())
	assert.Contains(t, stdout.String(), `"healthy": false`)
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	path := writeConfig(t, `
environment: test
redis:
  connection: primary
`)

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"-config", path}, &stdout, &stderr)
	assert.Equal(t, exitFailure, code)
	assert.Empty(t, stdout.String())
	assert.Contains(t, stderr.String(), "config.redis")
}

func TestRunDescribe(t *testing.T) {
	path := writeConfig(t, `
environment: test
redis:
  connection: primary
  connections:
    primary:
      host: cache.internal
      port: 6380
`)

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"-config", path, "-describe"}, &stdout, &stderr)
	require.Equal(t, exitHealthy, code, stderr.String())
	assert.Contains(t, stdout.String(), "cache.internal:6380")
}

func TestRunVersion(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"-version"}, &stdout, &stderr)
	assert.Equal(t, exitHealthy, code)
	assert.Contains(t, stdout.String(), "redis-report")
}

func TestRunBadFlag(t *testing.T) {
	var stdout, stderr bytes.Buffer
	assert.Equal(t, exitFailure, run(context.Background(), []string{"-nope"}, &stdout, &stderr))
}
