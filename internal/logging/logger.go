// Package logging provides the crawler's leveled, field-map logger.
package logging

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type LogLevel int

const (
	TRACE LogLevel = iota
	INFO
	WARN
	ERROR
)

func (l LogLevel) String() string {
	switch l {
	case TRACE:
		return "TRACE"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel maps a level name to a LogLevel. Unknown names fall back to INFO.
func ParseLevel(levelStr string) LogLevel {
	switch strings.ToUpper(strings.TrimSpace(levelStr)) {
	case "TRACE", "DEBUG":
		return TRACE
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	default:
		return INFO
	}
}

func (l LogLevel) zapLevel() zapcore.Level {
	switch l {
	case TRACE:
		return zapcore.DebugLevel
	case WARN:
		return zapcore.WarnLevel
	case ERROR:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Logger is safe for concurrent use; zap does the locking.
type Logger struct {
	level LogLevel
	z     *zap.Logger
}

func NewLogger(levelStr string, useJSON bool) (*Logger, error) {
	level := ParseLevel(levelStr)

	cfg := zap.NewProductionConfig()
	if !useJSON {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		cfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05")
		cfg.Development = false
	}
	cfg.Level = zap.NewAtomicLevelAt(level.zapLevel())
	cfg.DisableStacktrace = true
	cfg.DisableCaller = true

	z, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build zap logger: %w", err)
	}
	return &Logger{level: level, z: z}, nil
}

// FromZap wraps an existing zap logger, e.g. one built with zaptest/observer.
func FromZap(z *zap.Logger, level LogLevel) *Logger {
	return &Logger{level: level, z: z}
}

// Nop discards everything.
func Nop() *Logger {
	return &Logger{level: ERROR + 1, z: zap.NewNop()}
}

func (l *Logger) Enabled(level LogLevel) bool {
	return l != nil && level >= l.level
}

func (l *Logger) log(level LogLevel, msg string, fields map[string]interface{}) {
	if !l.Enabled(level) {
		return
	}

	zf := make([]zap.Field, 0, len(fields))
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err, ok := fields[k].(error); ok {
			zf = append(zf, zap.NamedError(k, err))
			continue
		}
		zf = append(zf, zap.Any(k, fields[k]))
	}

	switch level {
	case TRACE:
		l.z.Debug(msg, zf...)
	case WARN:
		l.z.Warn(msg, zf...)
	case ERROR:
		l.z.Error(msg, zf...)
	default:
		l.z.Info(msg, zf...)
	}
}

func (l *Logger) Trace(msg string, fields map[string]interface{}) {
	l.log(TRACE, msg, fields)
}

func (l *Logger) Info(msg string, fields map[string]interface{}) {
	l.log(INFO, msg, fields)
}

func (l *Logger) Warn(msg string, fields map[string]interface{}) {
	l.log(WARN, msg, fields)
}

func (l *Logger) Error(msg string, fields map[string]interface{}) {
	l.log(ERROR, msg, fields)
}

// Sync flushes buffered entries. Errors from syncing a terminal are ignored.
func (l *Logger) Sync() {
	if l == nil {
		return
	}
	_ = l.z.Sync()
}
