// Command redis-report prints the health report of every health-checked
// Redis connection as JSON.
//
//	redis-report -config config.yml [-timeout 10s] [-wait] [-describe] [-version]
//
// Connection settings come from the redis section of the config file, .env
// and environment variables (REDIS_CONNECTIONS_PRIMARY_HOST and so on). The
// exit code is 0 when every connection is healthy, 1 when one is not and 2
// when the report could not be produced.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kbukum/rediskit/component"
	"github.com/kbukum/rediskit/config"
	apperrors "github.com/kbukum/rediskit/errors"
	"github.com/kbukum/rediskit/logger"
	"github.com/kbukum/rediskit/observability"
	"github.com/kbukum/rediskit/redis"
	"github.com/kbukum/rediskit/version"
)

const serviceName = "redis-report"

const (
	exitHealthy   = 0
	exitUnhealthy = 1
	exitFailure   = 2
)

// Config is the file layout read by redis-report.
type Config struct {
	config.ServiceConfig `yaml:",inline" mapstructure:",squash"`
	Redis                redis.ManagerConfig `yaml:"redis" mapstructure:"redis"`
}

// ApplyDefaults fills the service name and version. Logs always go to
// stderr so stdout carries only the report.
func (c *Config) ApplyDefaults() {
	if c.Name == "" {
		c.Name = serviceName
	}
	if c.Version == "" {
		c.Version = version.Get().Short()
	}
	c.ServiceConfig.ApplyDefaults()
}

// Validate checks the service and redis sections.
func (c *Config) Validate() error {
	if err := c.ServiceConfig.Validate(); err != nil {
		return err
	}
	if err := c.Redis.Validate(); err != nil {
		return fmt.Errorf("config.redis: %w", err)
	}
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	flags := flag.NewFlagSet(serviceName, flag.ContinueOnError)
	flags.SetOutput(stderr)
	configFile := flags.String("config", "", "path to the config file")
	envFile := flags.String("env", "", "path to a .env file")
	timeout := flags.Duration("timeout", 10*time.Second, "overall deadline for the report")
	wait := flags.Bool("wait", false, "start the manager first, waiting for the default and eager connections")
	describe := flags.Bool("describe", false, "print the configured connections instead of a report")
	showVersion := flags.Bool("version", false, "print the version and exit")
	if err := flags.Parse(args); err != nil {
		return exitFailure
	}

	if *showVersion {
		fmt.Fprintln(stdout, serviceName, version.Get().String())
		return exitHealthy
	}

	var cfg Config
	var opts []config.LoaderOption
	if *configFile != "" {
		opts = append(opts, config.WithConfigFile(*configFile))
	}
	if *envFile != "" {
		opts = append(opts, config.WithEnvFile(*envFile))
	}
	if err := config.LoadConfig(serviceName, &cfg, opts...); err != nil {
		fmt.Fprintln(stderr, err)
		return exitFailure
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(stderr, err)
		return exitFailure
	}

	log := logger.NewWithWriter(&cfg.Logging, cfg.Name, stderr)
	logger.SetGlobalLogger(log)

	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	shutdown, err := observability.Init(ctx, cfg.Telemetry)
	if err != nil {
		log.Error("telemetry init failed", logger.Fields(logger.FieldError, err))
		return exitFailure
	}
	defer func() {
		flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer flushCancel()
		if err := shutdown(flushCtx); err != nil {
			log.Warn("telemetry flush failed", logger.Fields(logger.FieldError, err))
		}
	}()

	managerOpts := []redis.Option{redis.WithLogger(log.WithComponent("redis"))}
	if cfg.Telemetry.Enabled {
		metrics, err := observability.NewRedisMetrics(observability.Meter(serviceName))
		if err != nil {
			log.Error("metrics init failed", logger.Fields(logger.FieldError, err))
			return exitFailure
		}
		managerOpts = append(managerOpts, redis.WithMetrics(metrics), redis.WithTracing())
	}

	m, err := redis.NewManager(cfg.Redis, managerOpts...)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitFailure
	}

	registry := component.NewRegistry(log)
	if err := registry.Register(m); err != nil {
		log.Error("component registration failed", logger.Fields(logger.FieldError, err))
		return exitFailure
	}
	defer func() {
		if err := apperrors.Join(registry.StopAll(context.Background()), m.QuitAll(context.Background())); err != nil {
			log.Warn("closing connections failed", logger.Fields(logger.FieldError, err))
		}
	}()

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")

	if *describe {
		if err := enc.Encode(registry.Describe()); err != nil {
			fmt.Fprintln(stderr, err)
			return exitFailure
		}
		return exitHealthy
	}

	if *wait {
		if err := registry.StartAll(ctx); err != nil {
			log.Error("redis did not become ready", logger.Fields(logger.FieldError, err))
		}
	}

	report := m.Report(ctx)
	if err := enc.Encode(report); err != nil {
		fmt.Fprintln(stderr, err)
		return exitFailure
	}
	if !report.Healthy {
		return exitUnhealthy
	}
	return exitHealthy
}
