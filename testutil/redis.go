package testutil

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/alicebob/miniredis/v2"

	"github.com/kbukum/rediskit/component"
)

// RedisServer is an in-memory Redis server for tests.
type RedisServer struct {
	mini    *miniredis.Miniredis
	started bool
	mu      sync.RWMutex
}

var _ TestComponent = (*RedisServer)(nil)

// NewRedisServer creates a server. It listens once started.
func NewRedisServer() *RedisServer {
	return &RedisServer{}
}

// Miniredis exposes the server for direct state manipulation, or nil
// before Start.
func (s *RedisServer) Miniredis() *miniredis.Miniredis {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mini
}

// Addr returns host:port, or "" before Start.
func (s *RedisServer) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.mini == nil {
		return ""
	}
	return s.mini.Addr()
}

// Host returns the listening host.
func (s *RedisServer) Host() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.mini == nil {
		return ""
	}
	return s.mini.Host()
}

// Port returns the listening port, or 0 before Start.
func (s *RedisServer) Port() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.mini == nil {
		return 0
	}
	port, _ := strconv.Atoi(s.mini.Port())
	return port
}

// Name returns the component name.
func (s *RedisServer) Name() string { return "redis-test" }

// Start launches the server on a random local port.
func (s *RedisServer) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("redis test server already started")
	}
	mini, err := miniredis.Run()
	if err != nil {
		return fmt.Errorf("failed to start miniredis: %w", err)
	}
	s.mini = mini
	s.started = true
	return nil
}

// Stop shuts the server down, dropping every client connection.
func (s *RedisServer) Stop(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}
	s.mini.Close()
	s.started = false
	return nil
}

// Health reports whether the server is running.
func (s *RedisServer) Health(_ context.Context) component.Health {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.started {
		return component.Health{Name: s.Name(), Status: component.StatusUnhealthy, Message: "not started"}
	}
	return component.Health{Name: s.Name(), Status: component.StatusHealthy}
}

// Reset flushes all keys.
func (s *RedisServer) Reset(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.started {
		return fmt.Errorf("redis test server not started")
	}
	s.mini.FlushAll()
	return nil
}

// Snapshot captures every string key as a map[string]string.
func (s *RedisServer) Snapshot(_ context.Context) (interface{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.started {
		return nil, fmt.Errorf("redis test server not started")
	}
	snapshot := make(map[string]string)
	for _, key := range s.mini.Keys() {
		if val, err := s.mini.Get(key); err == nil {
			snapshot[key] = val
		}
	}
	return snapshot, nil
}

// Restore flushes the server and writes back a snapshot.
func (s *RedisServer) Restore(_ context.Context, snap interface{}) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.started {
		return fmt.Errorf("redis test server not started")
	}
	snapshot, ok := snap.(map[string]string)
	if !ok {
		return fmt.Errorf("invalid snapshot type: expected map[string]string, got %T", snap)
	}
	s.mini.FlushAll()
	for key, val := range snapshot {
		if err := s.mini.Set(key, val); err != nil {
			return fmt.Errorf("failed to restore key %q: %w", key, err)
		}
	}
	return nil
}
