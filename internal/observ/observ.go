// Package observ wraps the structured logger every Runtime and Compile call
// writes diagnostics through. Logging is nop by default; an embedder opts
// in with the config builders' WithLogger, which installs a real
// *zap.Logger here.
package observ

import "go.uber.org/zap"

// Logger is the narrow surface wasmforge code logs through, letting call
// sites avoid importing zap directly.
type Logger struct {
	z *zap.Logger
}

// Nop returns a Logger that discards everything, the default for a
// Runtime built without WithLogger.
func Nop() *Logger { return &Logger{z: zap.NewNop()} }

// Wrap adapts an existing *zap.Logger.
func Wrap(z *zap.Logger) *Logger {
	if z == nil {
		return Nop()
	}
	return &Logger{z: z}
}

func (l *Logger) Debug(msg string, fields ...zap.Field) { l.z.Debug(msg, fields...) }
func (l *Logger) Info(msg string, fields ...zap.Field)  { l.z.Info(msg, fields...) }
func (l *Logger) Warn(msg string, fields ...zap.Field)  { l.z.Warn(msg, fields...) }
func (l *Logger) Error(msg string, fields ...zap.Field) { l.z.Error(msg, fields...) }

// With returns a Logger with the given fields attached to every subsequent
// entry, used to scope a module's or instantiation's log lines by name.
func (l *Logger) With(fields ...zap.Field) *Logger {
	return &Logger{z: l.z.With(fields...)}
}

// Sync flushes any buffered log entries; a Runtime calls this from Close.
func (l *Logger) Sync() error { return l.z.Sync() }
