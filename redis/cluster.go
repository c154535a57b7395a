package redis

import (
	"context"

	goredis "github.com/redis/go-redis/v9"

	apperrors "github.com/kbukum/rediskit/errors"
)

// ClusterConnection is a Connection over a Redis Cluster. It adds topology
// queries; node:added, node:removed and node:error are emitted on the
// embedded Connection.
type ClusterConnection struct {
	*Connection
}

// NewClusterConnection opens a connection whose config lists cluster nodes.
func NewClusterConnection(name string, cfg ConnectionConfig, opts ...Option) (*ClusterConnection, error) {
	if err := cfg.Normalize(); err != nil {
		return nil, err
	}
	if cfg.Kind() != KindCluster {
		return nil, apperrors.InvalidConfig("cluster connection " + name + " has no cluster nodes configured")
	}
	conn, err := NewConnection(name, cfg, opts...)
	if err != nil {
		return nil, err
	}
	return &ClusterConnection{Connection: conn}, nil
}

// AsCluster returns the cluster view of c, or false for a standalone connection.
func (c *Connection) AsCluster() (*ClusterConnection, bool) {
	if c.Kind() != KindCluster {
		return nil, false
	}
	return &ClusterConnection{Connection: c}, true
}

// Nodes lists per-node clients filtered by role, sorted by address.
func (c *ClusterConnection) Nodes(ctx context.Context, role Role) ([]*goredis.Client, error) {
	session, ok := c.command.(ClusterSession)
	if !ok {
		return nil, apperrors.InvalidConfig("connection " + c.name + " is not a cluster connection")
	}
	return session.Nodes(ctx, role)
}
