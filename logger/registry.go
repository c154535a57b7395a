package logger

import "sync"

// named holds loggers registered under a component name.
var named sync.Map

// Register makes l the logger returned by Get(name).
func Register(name string, l *Logger) {
	named.Store(name, l)
}

// Unregister drops a named logger so Get falls back to the global logger.
func Unregister(name string) {
	named.Delete(name)
}

// Get returns the logger registered for name, or the global logger tagged
// with name as its component.
func Get(name string) *Logger {
	if l, ok := named.Load(name); ok {
		return l.(*Logger)
	}
	return GetGlobalLogger().WithComponent(name)
}
