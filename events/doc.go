// Package events provides a small typed event emitter keyed by event name.
//
// Listeners run synchronously on the emitting goroutine, in registration
// order. Emit takes a snapshot of the listener list, so listeners may add or
// remove listeners (including themselves) while being called.
package events
