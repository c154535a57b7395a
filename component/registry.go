package component

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/kbukum/rediskit/logger"
)

// DefaultStopTimeout bounds each component's Stop.
const DefaultStopTimeout = 10 * time.Second

// Registry starts components in registration order and stops them in
// reverse. Only components that started are stopped.
type Registry struct {
	log         *logger.Logger
	stopTimeout time.Duration

	mu      sync.Mutex
	order   []Component
	started map[string]bool
}

// NewRegistry creates an empty registry. A nil log uses the "component" logger.
func NewRegistry(log *logger.Logger) *Registry {
	if log == nil {
		log = logger.Get("component")
	}
	return &Registry{log: log, stopTimeout: DefaultStopTimeout, started: map[string]bool{}}
}

// WithStopTimeout overrides DefaultStopTimeout.
func (r *Registry) WithStopTimeout(d time.Duration) *Registry {
	r.stopTimeout = d
	return r
}

// Register appends c. Names must be unique.
func (r *Registry) Register(c Component) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := c.Name()
	if slices.ContainsFunc(r.order, func(o Component) bool { return o.Name() == name }) {
		return fmt.Errorf("component %s already registered", name)
	}
	r.order = append(r.order, c)
	r.log.Debug("component registered", logger.Fields(logger.FieldComponent, name))
	return nil
}

// StartAll starts every component not yet started and stops at the first failure.
func (r *Registry) StartAll(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, c := range r.order {
		name := c.Name()
		if r.started[name] {
			continue
		}
		if err := c.Start(ctx); err != nil {
			r.log.Error("component start failed", logger.Fields(logger.FieldComponent, name, logger.FieldError, err))
			return fmt.Errorf("failed to start %s: %w", name, err)
		}
		r.started[name] = true
		r.log.Debug("component started", logger.Fields(logger.FieldComponent, name))
	}
	return nil
}

// StopAll stops started components in reverse order, each under its own
// timeout. Every component gets its Stop call; the errors are joined.
func (r *Registry) StopAll(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for _, c := range slices.Backward(r.order) {
		name := c.Name()
		if !r.started[name] {
			continue
		}
		delete(r.started, name)
		if err := r.stop(ctx, c); err != nil {
			r.log.Error("component stop failed", logger.Fields(logger.FieldComponent, name, logger.FieldError, err))
			errs = append(errs, fmt.Errorf("failed to stop %s: %w", name, err))
			continue
		}
		r.log.Info("component stopped", logger.Fields(logger.FieldComponent, name))
	}
	return errors.Join(errs...)
}

func (r *Registry) stop(ctx context.Context, c Component) error {
	ctx, cancel := context.WithTimeout(ctx, r.stopTimeout)
	defer cancel()
	return c.Stop(ctx)
}

// Describe collects descriptions from components implementing Describable.
func (r *Registry) Describe() []Description {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Description
	for _, c := range r.order {
		d, ok := c.(Describable)
		if !ok {
			continue
		}
		desc := d.Describe()
		if desc.Name == "" {
			desc.Name = c.Name()
		}
		out = append(out, desc)
	}
	return out
}
