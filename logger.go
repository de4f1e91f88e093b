package cachekit

import (
	"maps"
	"slices"
)

// Fields is a minimal structured field map for logs.
type Fields map[string]any

// Keys returns the field names sorted, for adapters that want stable output.
func (f Fields) Keys() []string {
	return slices.Sorted(maps.Keys(f))
}

// Logger is a tiny leveled logger. Provide an adapter around your logging
// stack (see log/zap, log/logrus, log/slog). nil means logging is disabled.
type Logger interface {
	Debug(msg string, f Fields)
	Info(msg string, f Fields)
	Warn(msg string, f Fields)
	Error(msg string, f Fields)
}

type NopLogger struct{}

func (NopLogger) Debug(string, Fields) {}
func (NopLogger) Info(string, Fields)  {}
func (NopLogger) Warn(string, Fields)  {}
func (NopLogger) Error(string, Fields) {}
