package events

import (
	"sync"
	"sync/atomic"
)

// Listener receives events of type E.
type Listener[E any] func(E)

// Subscription identifies a registered listener so it can be removed with Off.
type Subscription struct {
	name string
	id   uint64
}

type entry[E any] struct {
	id   uint64
	once bool
	fn   Listener[E]
	done atomic.Bool
}

// Emitter dispatches events of type E to listeners registered by name.
// The zero value is not usable; call NewEmitter.
type Emitter[E any] struct {
	mu        sync.RWMutex
	listeners map[string][]*entry[E]
	nextID    uint64
}

// NewEmitter creates an empty emitter.
func NewEmitter[E any]() *Emitter[E] {
	return &Emitter[E]{listeners: make(map[string][]*entry[E])}
}

// On registers fn for every emission of name.
func (e *Emitter[E]) On(name string, fn Listener[E]) Subscription {
	return e.add(name, fn, false)
}

// Once registers fn for the next emission of name only.
func (e *Emitter[E]) Once(name string, fn Listener[E]) Subscription {
	return e.add(name, fn, true)
}

func (e *Emitter[E]) add(name string, fn Listener[E], once bool) Subscription {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	e.listeners[name] = append(e.listeners[name], &entry[E]{id: e.nextID, once: once, fn: fn})
	return Subscription{name: name, id: e.nextID}
}

// Off removes a single listener. Removing an unknown subscription is a no-op.
func (e *Emitter[E]) Off(sub Subscription) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.removeLocked(sub.name, sub.id)
}

func (e *Emitter[E]) removeLocked(name string, id uint64) {
	list := e.listeners[name]
	for i, l := range list {
		if l.id != id {
			continue
		}
		next := make([]*entry[E], 0, len(list)-1)
		next = append(next, list[:i]...)
		next = append(next, list[i+1:]...)
		if len(next) == 0 {
			delete(e.listeners, name)
		} else {
			e.listeners[name] = next
		}
		return
	}
}

// Emit calls every listener registered for name with ev and reports whether
// at least one listener was called.
func (e *Emitter[E]) Emit(name string, ev E) bool {
	e.mu.RLock()
	list := e.listeners[name]
	e.mu.RUnlock()

	called := false
	for _, l := range list {
		if l.once {
			if !l.done.CompareAndSwap(false, true) {
				continue
			}
			e.mu.Lock()
			e.removeLocked(name, l.id)
			e.mu.Unlock()
		}
		l.fn(ev)
		called = true
	}
	return called
}

// RemoveAllListeners drops every listener, or only those for the given names.
func (e *Emitter[E]) RemoveAllListeners(names ...string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(names) == 0 {
		e.listeners = make(map[string][]*entry[E])
		return
	}
	for _, name := range names {
		delete(e.listeners, name)
	}
}

// ListenerCount returns the number of listeners for name, or for all names
// when name is empty.
func (e *Emitter[E]) ListenerCount(name string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if name != "" {
		return len(e.listeners[name])
	}
	total := 0
	for _, list := range e.listeners {
		total += len(list)
	}
	return total
}

// EventNames returns the names that currently have listeners.
func (e *Emitter[E]) EventNames() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]string, 0, len(e.listeners))
	for name := range e.listeners {
		names = append(names, name)
	}
	return names
}
