package config

import (
	"fmt"

	"github.com/kbukum/rediskit/logger"
	"github.com/kbukum/rediskit/observability"
)

// ServiceConfig contains the fields every rediskit binary needs.
// Binaries extend it by embedding it in their own config structs.
//
// Example:
//
//	type Config struct {
//	    config.ServiceConfig `yaml:",inline" mapstructure:",squash"`
//	    Redis redis.ManagerConfig `yaml:"redis" mapstructure:"redis"`
//	}
type ServiceConfig struct {
	Name        string               `yaml:"name" mapstructure:"name"`
	Environment string               `yaml:"environment" mapstructure:"environment"`
	Version     string               `yaml:"version" mapstructure:"version"`
	Debug       bool                 `yaml:"debug" mapstructure:"debug"`
	Logging     logger.Config        `yaml:"logging" mapstructure:"logging"`
	Telemetry   observability.Config `yaml:"telemetry" mapstructure:"telemetry"`
}

// GetServiceConfig returns the base ServiceConfig.
// When embedded in a larger config struct, this method is promoted.
func (c *ServiceConfig) GetServiceConfig() *ServiceConfig {
	return c
}

// ApplyDefaults applies default values to the base configuration.
// Override this in embedding structs and call c.ServiceConfig.ApplyDefaults() first.
func (c *ServiceConfig) ApplyDefaults() {
	if c.Environment == "" {
		c.Environment = "development"
	}
	if c.Environment == "development" {
		c.Debug = true
	}
	if c.Debug && c.Logging.Level == "" {
		c.Logging.Level = "debug"
	}
	c.Logging.ApplyDefaults()

	c.Telemetry.ApplyDefaults(c.Name)
	if c.Telemetry.Environment == "development" && c.Environment != "" {
		c.Telemetry.Environment = c.Environment
	}
	if c.Version != "" && c.Telemetry.ServiceVersion == "dev" {
		c.Telemetry.ServiceVersion = c.Version
	}
}

// Validate validates the base configuration fields.
// Override this in embedding structs and call c.ServiceConfig.Validate() first.
func (c *ServiceConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("config.name is required")
	}
	validEnvs := []string{"development", "staging", "production", "test"}
	found := false
	for _, v := range validEnvs {
		if c.Environment == v {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("config.environment must be one of %v (got: %s)", validEnvs, c.Environment)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("config.logging: %w", err)
	}
	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("config.telemetry: %w", err)
	}
	return nil
}
