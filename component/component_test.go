package component

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kbukum/rediskit/logger"
)

type mockComponent struct {
	name       string
	startErr   error
	stopErr    error
	startOrder *[]string
	stopOrder  *[]string
	stopCtx    context.Context
}

func (m *mockComponent) Name() string { return m.name }
func (m *mockComponent) Start(ctx context.Context) error {
	if m.startOrder != nil {
		*m.startOrder = append(*m.startOrder, m.name)
	}
	return m.startErr
}
func (m *mockComponent) Stop(ctx context.Context) error {
	m.stopCtx = ctx
	if m.stopOrder != nil {
		*m.stopOrder = append(*m.stopOrder, m.name)
	}
	return m.stopErr
}
func (m *mockComponent) Health(ctx context.Context) Health {
	return Health{Name: m.name, Status: StatusHealthy}
}

type describedComponent struct {
	mockComponent
	desc Description
}

func (d *describedComponent) Describe() Description { return d.desc }

func newRegistry() *Registry { return NewRegistry(logger.Nop()) }

func TestRegisterDuplicate(t *testing.T) {
	r := newRegistry()
	require.NoError(t, r.Register(&mockComponent{name: "redis"}))
	assert.Error(t, r.Register(&mockComponent{name: "redis"}))
}

func TestNewRegistryDefaultLogger(t *testing.T) {
	r := NewRegistry(nil)
	require.NotNil(t, r.log)
	require.NoError(t, r.Register(&mockComponent{name: "redis"}))
}

func TestStartAllOrder(t *testing.T) {
	r := newRegistry()
	var order []string
	require.NoError(t, r.Register(&mockComponent{name: "config", startOrder: &order}))
	require.NoError(t, r.Register(&mockComponent{name: "redis", startOrder: &order}))

	require.NoError(t, r.StartAll(context.Background()))
	assert.Equal(t, []string{"config", "redis"}, order)

	// already started components are not started twice
	require.NoError(t, r.StartAll(context.Background()))
	assert.Len(t, order, 2)
}

func TestStartAllStopsAtFirstFailure(t *testing.T) {
	r := newRegistry()
	var order []string
	refused := errors.New("connection refused")
	require.NoError(t, r.Register(&mockComponent{name: "redis", startErr: refused, startOrder: &order}))
	require.NoError(t, r.Register(&mockComponent{name: "reporter", startOrder: &order}))

	err := r.StartAll(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, refused)
	assert.Equal(t, []string{"redis"}, order)
}

func TestStopAllReverseOrder(t *testing.T) {
	r := newRegistry()
	var order []string
	for _, name := range []string{"config", "redis", "reporter"} {
		require.NoError(t, r.Register(&mockComponent{name: name, stopOrder: &order}))
	}

	require.NoError(t, r.StartAll(context.Background()))
	require.NoError(t, r.StopAll(context.Background()))
	assert.Equal(t, []string{"reporter", "redis", "config"}, order)
}

func TestStopAllSkipsUnstarted(t *testing.T) {
	r := newRegistry()
	var order []string
	require.NoError(t, r.Register(&mockComponent{name: "redis", stopOrder: &order}))

	require.NoError(t, r.StopAll(context.Background()))
	assert.Empty(t, order)
}

func TestRestartAfterStop(t *testing.T) {
	r := newRegistry()
	var starts, stops []string
	require.NoError(t, r.Register(&mockComponent{name: "redis", startOrder: &starts, stopOrder: &stops}))

	ctx := context.Background()
	require.NoError(t, r.StartAll(ctx))
	require.NoError(t, r.StopAll(ctx))
	require.NoError(t, r.StopAll(ctx))
	require.NoError(t, r.StartAll(ctx))

	assert.Equal(t, []string{"redis", "redis"}, starts)
	assert.Equal(t, []string{"redis"}, stops)
}

func TestStopAllJoinsErrors(t *testing.T) {
	r := newRegistry()
	first := errors.New("first failed")
	second := errors.New("second failed")
	var order []string
	require.NoError(t, r.Register(&mockComponent{name: "a", stopErr: first, stopOrder: &order}))
	require.NoError(t, r.Register(&mockComponent{name: "b", stopErr: second, stopOrder: &order}))
	require.NoError(t, r.StartAll(context.Background()))

	err := r.StopAll(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, first)
	assert.ErrorIs(t, err, second)
	assert.Equal(t, []string{"b", "a"}, order)
}

func TestStopAllAppliesTimeout(t *testing.T) {
	r := newRegistry().WithStopTimeout(time.Minute)
	c := &mockComponent{name: "redis"}
	require.NoError(t, r.Register(c))
	require.NoError(t, r.StartAll(context.Background()))
	require.NoError(t, r.StopAll(context.Background()))

	require.NotNil(t, c.stopCtx)
	deadline, ok := c.stopCtx.Deadline()
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(time.Minute), deadline, 5*time.Second)
}

func TestDescribe(t *testing.T) {
	r := newRegistry()
	require.NoError(t, r.Register(&mockComponent{name: "plain"}))
	require.NoError(t, r.Register(&describedComponent{
		mockComponent: mockComponent{name: "redis"},
		desc:          Description{Type: "redis", Details: "localhost:6379 db=0 pool=10", Port: 6379},
	}))

	descs := r.Describe()
	require.Len(t, descs, 1)
	assert.Equal(t, "redis", descs[0].Name)
	assert.Equal(t, 6379, descs[0].Port)
}
