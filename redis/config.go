package redis

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	apperrors "github.com/kbukum/rediskit/errors"
	"github.com/kbukum/rediskit/resilience"
	"github.com/kbukum/rediskit/util"
	"github.com/kbukum/rediskit/validation"
)

// Kind tells whether a connection talks to a single node or a cluster.
type Kind string

const (
	KindStandalone Kind = "standalone"
	KindCluster    Kind = "cluster"
)

const (
	DefaultHost            = "localhost"
	DefaultPort            = 6379
	DefaultDialTimeout     = 5 * time.Second
	DefaultReadTimeout     = 3 * time.Second
	DefaultWriteTimeout    = 3 * time.Second
	DefaultPoolSize        = 10
	DefaultProtocol        = 2
	DefaultPingInterval    = 5 * time.Second
	DefaultTopologyRefresh = 5 * time.Second
	DefaultInitialBackoff  = 50 * time.Millisecond
	DefaultMaxBackoff      = 2 * time.Second
)

// ManagerConfig is the configuration surface of a Manager.
//
//	redis:
//	  connection: primary
//	  connections:
//	    primary:
//	      host: localhost
//	      port: 6379
//	      health_check: true
//	    grid:
//	      clusters: ["10.0.0.1:7000", "10.0.0.2:7001"]
type ManagerConfig struct {
	// Connection is the name used when a caller does not name one.
	Connection string `yaml:"connection" mapstructure:"connection"`
	// Connections maps names to connection settings.
	Connections map[string]ConnectionConfig `yaml:"connections" mapstructure:"connections"`
	// Health configures the aggregated report.
	Health HealthConfig `yaml:"health" mapstructure:"health"`
}

// HealthConfig configures memory checks in health reports.
type HealthConfig struct {
	// MemoryThreshold fails a report whose used memory exceeds it ("512MB", "2G").
	// Empty disables memory tracking.
	MemoryThreshold string `yaml:"memory_threshold" mapstructure:"memory_threshold"`
}

// Validate checks the default connection and every entry.
func (c *ManagerConfig) Validate() error {
	if c.Connection == "" {
		return apperrors.MissingDefaultConnection()
	}
	if _, ok := c.Connections[c.Connection]; !ok {
		return apperrors.ConnectionNotDefined(c.Connection)
	}
	v := validation.New()
	if c.Health.MemoryThreshold != "" {
		_, err := util.ParseSize(c.Health.MemoryThreshold)
		v.Custom(err == nil, "health.memory_threshold", "must be a size such as 512MB")
	}
	for _, name := range util.SortedKeys(c.Connections) {
		cfg := c.Connections[name]
		if err := cfg.Normalize(); err != nil {
			v.Merge("connections."+name, err)
			continue
		}
		v.Merge("connections."+name, cfg.Validate())
	}
	return v.Validate()
}

// ConnectionConfig describes one named Redis target. A non-empty Clusters
// list selects cluster mode; otherwise URL or Host/Port address one node.
type ConnectionConfig struct {
	// URL is a redis:// or rediss:// address. It fills Host, Port, Username,
	// Password, DB and TLS when those are left empty.
	URL string `yaml:"url" mapstructure:"url" validate:"omitempty,url,excluded_with=Clusters"`

	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port" validate:"min=1,max=65535"`
	Username string `yaml:"username" mapstructure:"username"`
	Password string `yaml:"password" mapstructure:"password"`
	DB       int    `yaml:"db" mapstructure:"db" validate:"gte=0"`
	// Protocol is the RESP version negotiated with the server.
	Protocol int `yaml:"protocol" mapstructure:"protocol" validate:"oneof=2 3"`

	PoolSize        int           `yaml:"pool_size" mapstructure:"pool_size" validate:"gte=0"`
	MinIdleConns    int           `yaml:"min_idle_conns" mapstructure:"min_idle_conns" validate:"gte=0"`
	MaxRetries      int           `yaml:"max_retries" mapstructure:"max_retries"`
	MinRetryBackoff time.Duration `yaml:"min_retry_backoff" mapstructure:"min_retry_backoff"`
	MaxRetryBackoff time.Duration `yaml:"max_retry_backoff" mapstructure:"max_retry_backoff"`
	DialTimeout     time.Duration `yaml:"dial_timeout" mapstructure:"dial_timeout"`
	ReadTimeout     time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	PoolTimeout     time.Duration `yaml:"pool_timeout" mapstructure:"pool_timeout"`
	ConnMaxIdleTime time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout"`
	ConnMaxLifetime time.Duration `yaml:"max_conn_age" mapstructure:"max_conn_age"`

	TLS TLSConfig `yaml:"tls" mapstructure:"tls"`

	// Clusters is the cluster seed list. Accepts {host, port} maps or
	// "host:port" strings, including a comma-separated env value.
	Clusters       []ClusterNode  `yaml:"clusters" mapstructure:"clusters" validate:"omitempty,dive"`
	ClusterOptions ClusterOptions `yaml:"cluster_options" mapstructure:"cluster_options"`

	// HealthCheck includes the connection in Manager.Report.
	HealthCheck bool `yaml:"health_check" mapstructure:"health_check"`
	// EagerConnect makes Manager.Start open the connection.
	EagerConnect bool `yaml:"eager_connect" mapstructure:"eager_connect"`
	// PingInterval is how often a ready session is pinged.
	PingInterval time.Duration   `yaml:"ping_interval" mapstructure:"ping_interval"`
	Reconnect    ReconnectConfig `yaml:"reconnect" mapstructure:"reconnect"`
}

// ClusterNode is one cluster seed address.
type ClusterNode struct {
	Host string `yaml:"host" mapstructure:"host" validate:"required"`
	Port int    `yaml:"port" mapstructure:"port" validate:"min=1,max=65535"`
}

// UnmarshalText parses "host:port".
func (n *ClusterNode) UnmarshalText(text []byte) error {
	host, port, err := splitHostPort(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	n.Host, n.Port = host, port
	return nil
}

// Addr returns host:port.
func (n ClusterNode) Addr() string {
	return net.JoinHostPort(n.Host, strconv.Itoa(n.Port))
}

// ClusterOptions tunes cluster routing.
type ClusterOptions struct {
	MaxRedirects   int  `yaml:"max_redirects" mapstructure:"max_redirects"`
	ReadOnly       bool `yaml:"read_only" mapstructure:"read_only"`
	RouteByLatency bool `yaml:"route_by_latency" mapstructure:"route_by_latency"`
	RouteRandomly  bool `yaml:"route_randomly" mapstructure:"route_randomly"`
	// TopologyRefresh is how often node membership is polled.
	TopologyRefresh time.Duration `yaml:"topology_refresh" mapstructure:"topology_refresh"`
}

// TLSConfig holds TLS settings. Certificates are read from disk.
type TLSConfig struct {
	Enabled            bool   `yaml:"enabled" mapstructure:"enabled"`
	CACertPath         string `yaml:"ca_cert" mapstructure:"ca_cert"`
	ClientCertPath     string `yaml:"client_cert" mapstructure:"client_cert"`
	ClientKeyPath      string `yaml:"client_key" mapstructure:"client_key" validate:"required_with=ClientCertPath"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify" mapstructure:"insecure_skip_verify"`
	ServerName         string `yaml:"server_name" mapstructure:"server_name"`
}

// ReconnectConfig bounds reconnection. Zero MaxAttempts retries forever.
type ReconnectConfig struct {
	MaxAttempts    int           `yaml:"max_attempts" mapstructure:"max_attempts" validate:"gte=0"`
	InitialBackoff time.Duration `yaml:"initial_backoff" mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff" mapstructure:"max_backoff"`
}

// Kind reports standalone or cluster.
func (c *ConnectionConfig) Kind() Kind {
	if len(c.Clusters) > 0 {
		return KindCluster
	}
	return KindStandalone
}

// Addr returns host:port of a standalone connection.
func (c *ConnectionConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Normalize expands URL and "host:port" forms, then applies defaults.
func (c *ConnectionConfig) Normalize() error {
	if c.URL != "" && len(c.Clusters) == 0 {
		opts, err := goredis.ParseURL(c.URL)
		if err != nil {
			return apperrors.InvalidConfig(fmt.Sprintf("url: %v", err)).WithCause(err)
		}
		host, port, err := splitHostPort(opts.Addr)
		if err != nil {
			return apperrors.InvalidConfig(fmt.Sprintf("url: %v", err)).WithCause(err)
		}
		c.Host = util.Coalesce(c.Host, host)
		c.Port = util.Coalesce(c.Port, port)
		c.Username = util.Coalesce(c.Username, opts.Username)
		c.Password = util.Coalesce(c.Password, opts.Password)
		c.DB = util.Coalesce(c.DB, opts.DB)
		if opts.TLSConfig != nil {
			c.TLS.Enabled = true
			c.TLS.ServerName = util.Coalesce(c.TLS.ServerName, opts.TLSConfig.ServerName)
		}
	}
	if c.Port == 0 && strings.Contains(c.Host, ":") {
		host, port, err := splitHostPort(c.Host)
		if err != nil {
			return apperrors.InvalidConfig(fmt.Sprintf("host: %v", err)).WithCause(err)
		}
		c.Host, c.Port = host, port
	}
	c.ApplyDefaults()
	return nil
}

// ApplyDefaults sets sensible defaults for zero-valued fields.
func (c *ConnectionConfig) ApplyDefaults() {
	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.Protocol == 0 {
		c.Protocol = DefaultProtocol
	}
	if c.PoolSize <= 0 {
		c.PoolSize = DefaultPoolSize
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.PingInterval <= 0 {
		c.PingInterval = DefaultPingInterval
	}
	if c.Reconnect.InitialBackoff <= 0 {
		c.Reconnect.InitialBackoff = DefaultInitialBackoff
	}
	if c.Reconnect.MaxBackoff <= 0 {
		c.Reconnect.MaxBackoff = DefaultMaxBackoff
	}
	if c.ClusterOptions.TopologyRefresh <= 0 {
		c.ClusterOptions.TopologyRefresh = DefaultTopologyRefresh
	}
	for i := range c.Clusters {
		if c.Clusters[i].Port == 0 {
			c.Clusters[i].Port = DefaultPort
		}
	}
}

// Validate checks struct tags. Call Normalize first.
func (c *ConnectionConfig) Validate() error {
	return validation.Validate(c)
}

// retryConfig turns the reconnect policy into a backoff schedule.
func (c *ConnectionConfig) retryConfig() resilience.RetryConfig {
	maxAttempts := c.Reconnect.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = -1
	}
	return resilience.RetryConfig{
		MaxAttempts:    maxAttempts,
		InitialBackoff: c.Reconnect.InitialBackoff,
		MaxBackoff:     c.Reconnect.MaxBackoff,
		BackoffFactor:  2.0,
		Jitter:         0.1,
	}.WithDefaults()
}

// clientOptions builds go-redis options for a standalone session.
func (c *ConnectionConfig) clientOptions() (*goredis.Options, error) {
	tlsConfig, err := c.TLS.build(c.Host)
	if err != nil {
		return nil, err
	}
	return &goredis.Options{
		Addr:            c.Addr(),
		Protocol:        c.Protocol,
		Username:        c.Username,
		Password:        c.Password,
		DB:              c.DB,
		PoolSize:        c.PoolSize,
		MinIdleConns:    c.MinIdleConns,
		MaxRetries:      c.MaxRetries,
		MinRetryBackoff: c.MinRetryBackoff,
		MaxRetryBackoff: c.MaxRetryBackoff,
		DialTimeout:     c.DialTimeout,
		ReadTimeout:     c.ReadTimeout,
		WriteTimeout:    c.WriteTimeout,
		PoolTimeout:     c.PoolTimeout,
		ConnMaxIdleTime: c.ConnMaxIdleTime,
		ConnMaxLifetime: c.ConnMaxLifetime,
		TLSConfig:       tlsConfig,
		DisableIdentity: true,
	}, nil
}

// clusterOptions builds go-redis options for a cluster session.
func (c *ConnectionConfig) clusterOptions() (*goredis.ClusterOptions, error) {
	tlsConfig, err := c.TLS.build("")
	if err != nil {
		return nil, err
	}
	addrs := make([]string, len(c.Clusters))
	for i, node := range c.Clusters {
		addrs[i] = node.Addr()
	}
	return &goredis.ClusterOptions{
		Addrs:           addrs,
		Protocol:        c.Protocol,
		Username:        c.Username,
		Password:        c.Password,
		MaxRedirects:    c.ClusterOptions.MaxRedirects,
		ReadOnly:        c.ClusterOptions.ReadOnly,
		RouteByLatency:  c.ClusterOptions.RouteByLatency,
		RouteRandomly:   c.ClusterOptions.RouteRandomly,
		PoolSize:        c.PoolSize,
		MinIdleConns:    c.MinIdleConns,
		MaxRetries:      c.MaxRetries,
		MinRetryBackoff: c.MinRetryBackoff,
		MaxRetryBackoff: c.MaxRetryBackoff,
		DialTimeout:     c.DialTimeout,
		ReadTimeout:     c.ReadTimeout,
		WriteTimeout:    c.WriteTimeout,
		PoolTimeout:     c.PoolTimeout,
		ConnMaxIdleTime: c.ConnMaxIdleTime,
		ConnMaxLifetime: c.ConnMaxLifetime,
		TLSConfig:       tlsConfig,
		DisableIdentity: true,
	}, nil
}

// build returns nil when TLS is disabled.
func (c TLSConfig) build(defaultServerName string) (*tls.Config, error) {
	if !c.Enabled {
		return nil, nil
	}
	tlsConfig := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: c.InsecureSkipVerify, //nolint:gosec // opt-in for test setups
		ServerName:         util.Coalesce(c.ServerName, defaultServerName),
	}

	if c.CACertPath != "" {
		caCert, err := os.ReadFile(c.CACertPath)
		if err != nil {
			return nil, apperrors.InvalidConfig("tls.ca_cert: failed to read CA cert").WithCause(err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCert) {
			return nil, apperrors.InvalidConfig("tls.ca_cert: failed to parse CA cert")
		}
		tlsConfig.RootCAs = pool
	}

	if c.ClientCertPath != "" && c.ClientKeyPath != "" {
		cert, err := tls.LoadX509KeyPair(c.ClientCertPath, c.ClientKeyPath)
		if err != nil {
			return nil, apperrors.InvalidConfig("tls.client_cert: failed to load client cert").WithCause(err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return tlsConfig, nil
}

func splitHostPort(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid port %q", portStr)
	}
	return host, port, nil
}
