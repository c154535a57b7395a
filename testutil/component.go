package testutil

import (
	"context"

	"github.com/kbukum/rediskit/component"
)

// TestComponent is a component.Component whose state can be reset and
// restored between test cases.
type TestComponent interface {
	component.Component

	// Reset restores the component to its initial state.
	Reset(ctx context.Context) error

	// Snapshot captures the current state. The result is passed back to Restore.
	Snapshot(ctx context.Context) (interface{}, error)

	// Restore returns to a state captured by Snapshot.
	Restore(ctx context.Context, snapshot interface{}) error
}
