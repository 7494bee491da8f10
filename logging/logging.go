// Package logging provides the structured, protocol-scoped logger used
// throughout the engine: one zap.Logger, named per subsystem ("eip",
// "session", "directory", "batch", "subscribe"), with a hex-dump field
// helper for wire-level tracing.
package logging

import (
	"encoding/hex"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu     sync.RWMutex
	global *zap.Logger = zap.NewNop()
)

// SetLogger installs the process-wide logger. Passing nil restores a no-op
// logger: a missing logger is a no-operation, never a crash.
func SetLogger(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	if l == nil {
		l = zap.NewNop()
	}
	global = l
}

// L returns the process-wide logger, named for the given subsystem.
func L(protocol string) *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return global.Named(protocol)
}

// NewDevelopment builds a human-readable logger suitable for interactive
// use, at or above the given level ("debug", "info", "warn", "error").
func NewDevelopment(level string) (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	lvl, err := zapcore.ParseLevel(strings.ToLower(level))
	if err != nil {
		return nil, err
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}

// HexField renders data as a zap field suitable for debug-level wire
// tracing: "1a 2b 3c ...".
func HexField(key string, data []byte) zap.Field {
	return zap.String(key, hexDump(data))
}

func hexDump(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	var b strings.Builder
	for i, by := range data {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(hex.EncodeToString([]byte{by}))
	}
	return b.String()
}
