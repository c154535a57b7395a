package logger

import (
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/rs/zerolog"
)

var (
	levels  = []string{"trace", "debug", "info", "warn", "error"}
	formats = []string{FormatJSON, FormatConsole, FormatPretty}
)

// Config contains logging configuration.
type Config struct {
	Level     string `yaml:"level" mapstructure:"level"`
	Format    string `yaml:"format" mapstructure:"format"`
	Output    string `yaml:"output" mapstructure:"output"`
	NoColor   bool   `yaml:"no_color" mapstructure:"no_color"`
	Timestamp bool   `yaml:"timestamp" mapstructure:"timestamp"`
	Caller    bool   `yaml:"caller" mapstructure:"caller"`
}

// ApplyDefaults fills unset fields. Timestamps are always on.
func (c *Config) ApplyDefaults() {
	c.Level = strings.ToLower(c.Level)
	c.Format = strings.ToLower(c.Format)
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = FormatConsole
	}
	if c.Output == "" {
		c.Output = "stdout"
	}
	c.Timestamp = true
}

func (c *Config) Validate() error {
	if !slices.Contains(levels, c.Level) {
		return fmt.Errorf("logging.level must be one of %v (got: %s)", levels, c.Level)
	}
	if !slices.Contains(formats, c.Format) {
		return fmt.Errorf("logging.format must be one of %v (got: %s)", formats, c.Format)
	}
	return nil
}

// level falls back to info for anything zerolog does not recognize.
func (c *Config) level() zerolog.Level {
	if c.Level == "" {
		return zerolog.InfoLevel
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(c.Level))
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}

func (c *Config) pretty() bool {
	f := strings.ToLower(c.Format)
	return f == FormatConsole || f == FormatPretty
}

func (c *Config) writer() io.Writer {
	if strings.EqualFold(c.Output, "stderr") {
		return os.Stderr
	}
	return os.Stdout
}
