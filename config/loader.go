package config

import (
	"encoding"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/kbukum/rediskit/logger"
	"github.com/kbukum/rediskit/util"
)

// FileSystem is what the loader needs from the disk.
type FileSystem interface {
	Exists(path string) bool
	LoadEnv(path string) error
}

// RealFileSystem reads the local disk. .env files never override variables
// already set in the process environment.
type RealFileSystem struct{}

func (RealFileSystem) Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func (RealFileSystem) LoadEnv(path string) error {
	return godotenv.Load(path)
}

// Resolver handles finding and resolving config and env files.
type Resolver struct {
	FileSystem FileSystem
}

// ResolvedFiles contains the resolved config and env file paths.
type ResolvedFiles struct {
	ConfigFile string
	EnvFile    string
}

// Environment variables that point LoadConfig at explicit files. Loader
// options take precedence over them.
const (
	EnvConfigFile = "REDISKIT_CONFIG_FILE"
	EnvEnvFile    = "REDISKIT_ENV_FILE"
)

// ResolveFiles picks the config and env files for a service: explicit
// options first, then the REDISKIT_* variables, then the first candidate
// that exists.
func (cr *Resolver) ResolveFiles(serviceName string, opts LoaderConfig) ResolvedFiles {
	dirs := searchDirs(serviceName)
	return ResolvedFiles{
		ConfigFile: util.Coalesce(opts.ConfigFile, os.Getenv(EnvConfigFile),
			cr.first(dirs, "config.yml", "config.yaml", serviceName+".yml")),
		EnvFile: util.Coalesce(opts.EnvFile, os.Getenv(EnvEnvFile),
			cr.first(dirs, ".env."+serviceName, ".env")),
	}
}

// first returns the first existing dir/name, trying every directory for a
// name before moving to the next name.
func (cr *Resolver) first(dirs []string, names ...string) string {
	for _, name := range names {
		for _, dir := range dirs {
			if path := filepath.Join(dir, name); cr.FileSystem.Exists(path) {
				return path
			}
		}
	}
	return ""
}

// searchDirs lists the directories a service's files may live in, from the
// most specific to the working directory, each also tried from one and two
// levels up so tests running inside a package still find them.
func searchDirs(serviceName string) []string {
	bases := []string{
		filepath.Join("cmd", serviceName),
		filepath.Join("config", serviceName),
		"config",
		".",
	}
	if short := serviceName[strings.LastIndex(serviceName, "-")+1:]; short != serviceName {
		bases = append([]string{filepath.Join("cmd", short)}, bases...)
	}
	dirs := make([]string, 0, len(bases)*3)
	for _, up := range []string{".", "..", filepath.Join("..", "..")} {
		for _, base := range bases {
			dirs = append(dirs, filepath.Join(up, base))
		}
	}
	return dirs
}

// LoaderConfig holds dependencies and optional file overrides.
type LoaderConfig struct {
	FileSystem FileSystem
	ConfigFile string // Direct config file path (optional)
	EnvFile    string // Direct env file path (optional)
}

// LoaderOption is a functional option for LoadConfig.
type LoaderOption func(*LoaderConfig)

// WithFileSystem sets a custom filesystem for the loader.
func WithFileSystem(fs FileSystem) LoaderOption {
	return func(lc *LoaderConfig) { lc.FileSystem = fs }
}

// WithConfigFile sets an explicit config file path.
func WithConfigFile(path string) LoaderOption {
	return func(lc *LoaderConfig) { lc.ConfigFile = path }
}

// WithEnvFile sets an explicit .env file path.
func WithEnvFile(path string) LoaderOption {
	return func(lc *LoaderConfig) { lc.EnvFile = path }
}

// LoadConfig loads configuration for a service into the provided cfg struct.
// It searches for config.yml and .env files in standard locations, binds
// environment variables, and unmarshals the result into cfg.
func LoadConfig(serviceName string, cfg interface{}, opts ...LoaderOption) error {
	var lc LoaderConfig
	for _, opt := range opts {
		opt(&lc)
	}
	if lc.FileSystem == nil {
		lc.FileSystem = RealFileSystem{}
	}

	resolver := &Resolver{FileSystem: lc.FileSystem}
	files := resolver.ResolveFiles(serviceName, lc)

	return loadFromResolvedFiles(serviceName, cfg, files, lc.FileSystem)
}

// loadFromResolvedFiles loads configuration from specific files.
func loadFromResolvedFiles(serviceName string, cfg interface{}, files ResolvedFiles, fs FileSystem) error {
	v := viper.New()

	// 1. YAML config is the base.
	if files.ConfigFile != "" && fs.Exists(files.ConfigFile) {
		v.SetConfigFile(files.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			logger.Warn("failed to load config file", logger.Fields("file", files.ConfigFile, logger.FieldError, err))
		}
	}

	// 2. .env values land in the process environment.
	if files.EnvFile != "" && fs.Exists(files.EnvFile) {
		if err := fs.LoadEnv(files.EnvFile); err != nil {
			logger.Warn("failed to load .env file", logger.Fields("file", files.EnvFile, logger.FieldError, err))
		}
	}

	// 3. Environment variables override file values.
	bindEnvVars(v, reflect.TypeOf(cfg), os.Environ())

	// 4. Unmarshal. Weak typing turns "6380" into 6380; the hooks parse
	// durations, comma lists and TextUnmarshaler values such as "host:port".
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		stringToTextSliceHookFunc(","),
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(cfg, hook); err != nil {
		return fmt.Errorf("failed to unmarshal config for service %s: %w", serviceName, err)
	}

	return nil
}

// stringToTextSliceHookFunc splits a string bound for a slice whose
// elements implement encoding.TextUnmarshaler, so "a:1,b:2" decodes into
// []ClusterNode. Elements are trimmed and then decoded one by one.
func stringToTextSliceHookFunc(sep string) mapstructure.DecodeHookFuncType {
	textUnmarshaler := reflect.TypeOf((*encoding.TextUnmarshaler)(nil)).Elem()
	return func(f, t reflect.Type, data any) (any, error) {
		if f.Kind() != reflect.String || t.Kind() != reflect.Slice {
			return data, nil
		}
		elem := t.Elem()
		if !elem.Implements(textUnmarshaler) && !reflect.PointerTo(elem).Implements(textUnmarshaler) {
			return data, nil
		}
		raw := strings.TrimSpace(data.(string))
		if raw == "" {
			return []string{}, nil
		}
		parts := strings.Split(raw, sep)
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts, nil
	}
}

// bindEnvVars sets every environment variable that names a field of the
// target config type. REDIS_CONNECTIONS_PRIMARY_PORT resolves to
// redis.connections.primary.port by walking mapstructure tags; variables
// that match no field are ignored so they cannot pollute map-typed sections.
func bindEnvVars(v *viper.Viper, target reflect.Type, environ []string) {
	for _, env := range environ {
		pair := strings.SplitN(env, "=", 2)
		if len(pair) != 2 || pair[0] == "" {
			continue
		}
		parts := strings.Split(strings.ToLower(pair[0]), "_")
		if path, ok := resolveEnvKey(target, parts); ok {
			v.Set(strings.Join(path, "."), pair[1])
		}
	}
}

// resolveEnvKey matches underscore-separated env key parts against t and
// returns the dotted config path. Struct fields may contain underscores
// themselves (dial_timeout), and map keys consume as few parts as possible.
func resolveEnvKey(t reflect.Type, parts []string) ([]string, bool) {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	switch t.Kind() {
	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if !f.IsExported() {
				continue
			}
			name, squash := fieldKey(f)
			if squash {
				if path, ok := resolveEnvKey(f.Type, parts); ok {
					return path, true
				}
				continue
			}
			nameParts := strings.Split(name, "_")
			if !hasPrefix(parts, nameParts) {
				continue
			}
			if rest, ok := resolveEnvKey(f.Type, parts[len(nameParts):]); ok {
				return append([]string{name}, rest...), true
			}
		}
		return nil, false
	case reflect.Map:
		if t.Key().Kind() != reflect.String {
			return nil, false
		}
		for j := 1; j <= len(parts); j++ {
			if rest, ok := resolveEnvKey(t.Elem(), parts[j:]); ok {
				return append([]string{strings.Join(parts[:j], "_")}, rest...), true
			}
		}
		return nil, false
	default:
		return nil, len(parts) == 0
	}
}

// fieldKey returns the mapstructure key of a field and whether it is squashed.
func fieldKey(f reflect.StructField) (string, bool) {
	tag := f.Tag.Get("mapstructure")
	name, opts, _ := strings.Cut(tag, ",")
	if strings.Contains(opts, "squash") || (f.Anonymous && name == "") {
		return "", true
	}
	if name == "" {
		name = strings.ToLower(f.Name)
	}
	return name, false
}

func hasPrefix(parts, prefix []string) bool {
	if len(prefix) > len(parts) {
		return false
	}
	for i := range prefix {
		if parts[i] != prefix[i] {
			return false
		}
	}
	return true
}
