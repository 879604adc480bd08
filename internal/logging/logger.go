/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

/*
Package logging provides component-scoped structured logging for kvdb.

Every package creates its own logger once and logs key-value pairs:

	var log = logging.NewLogger("server")

	log.Info("Listening", "port", 4096)
	log.Warn("Accept error", "error", err)

All loggers share one global configuration (level, output, JSON mode) that
may be changed at any time; loggers created before the change pick it up on
their next call. Records are encoded by zap. Text output is colorized only
when the output is a terminal.

Logs default to stdout. Stderr is reserved for the bound-port line, the
statistics report, and fatal startup messages.
*/
package logging

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"
)

// Level represents the severity of a log message.
type Level int

const (
	// DEBUG level for detailed debugging information.
	DEBUG Level = iota
	// INFO level for general operational information.
	INFO
	// WARN level for warning conditions.
	WARN
	// ERROR level for error conditions.
	ERROR
)

// String returns the string representation of the log level.
func (l Level) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
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

func (l Level) zap() zapcore.Level {
	switch l {
	case DEBUG:
		return zapcore.DebugLevel
	case WARN:
		return zapcore.WarnLevel
	case ERROR:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// ParseLevel parses a string into a Level. Unknown names map to INFO.
func ParseLevel(s string) Level {
	switch s {
	case "DEBUG", "debug":
		return DEBUG
	case "INFO", "info":
		return INFO
	case "WARN", "warn", "WARNING", "warning":
		return WARN
	case "ERROR", "error":
		return ERROR
	default:
		return INFO
	}
}

var (
	globalMu    sync.RWMutex
	atomicLevel = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	output      zapcore.WriteSyncer
	colorize    bool
	jsonMode    bool
	base        *zap.Logger
)

func init() {
	output = zapcore.Lock(os.Stdout)
	colorize = isTerminal(os.Stdout)
	rebuild()
}

// rebuild must be called with globalMu held for writing (or from init).
func rebuild() {
	encCfg := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "component",
		MessageKey:     "message",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.TimeEncoderOfLayout("2006-01-02T15:04:05.000Z"),
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeName:     zapcore.FullNameEncoder,
	}

	var enc zapcore.Encoder
	if jsonMode {
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		if colorize {
			encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		}
		encCfg.ConsoleSeparator = " "
		enc = zapcore.NewConsoleEncoder(encCfg)
	}
	base = zap.New(zapcore.NewCore(enc, output, atomicLevel))
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// SetGlobalLevel sets the global log level.
func SetGlobalLevel(level Level) {
	atomicLevel.SetLevel(level.zap())
}

// SetGlobalOutput sets the global log output.
func SetGlobalOutput(w io.Writer) {
	globalMu.Lock()
	defer globalMu.Unlock()
	output = zapcore.Lock(zapcore.AddSync(w))
	colorize = isTerminal(w)
	rebuild()
}

// SetJSONMode enables or disables JSON output mode.
func SetJSONMode(enabled bool) {
	globalMu.Lock()
	defer globalMu.Unlock()
	jsonMode = enabled
	rebuild()
}

// Sync flushes any buffered log entries.
func Sync() error {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return base.Sync()
}

// Logger is a structured logger bound to one component name.
type Logger struct {
	component string
}

// NewLogger creates a new Logger for the specified component.
func NewLogger(component string) *Logger {
	return &Logger{component: component}
}

func (l *Logger) log(level Level, msg string, args ...interface{}) {
	globalMu.RLock()
	z := base
	globalMu.RUnlock()

	if ce := z.Named(l.component).Check(level.zap(), msg); ce != nil {
		ce.Write(toFields(args)...)
	}
}

// toFields turns alternating key/value args into zap fields. A non-string
// key is replaced by its position; a trailing key without value is kept
// under "extra".
func toFields(args []interface{}) []zap.Field {
	if len(args) == 0 {
		return nil
	}
	fields := make([]zap.Field, 0, len(args)/2+1)
	for i := 0; i < len(args)-1; i += 2 {
		key, ok := args[i].(string)
		if !ok {
			key = fmt.Sprintf("arg%d", i)
		}
		fields = append(fields, zap.Any(key, args[i+1]))
	}
	if len(args)%2 != 0 {
		fields = append(fields, zap.Any("extra", args[len(args)-1]))
	}
	return fields
}

// Debug logs a message at DEBUG level.
func (l *Logger) Debug(msg string, args ...interface{}) {
	l.log(DEBUG, msg, args...)
}

// Info logs a message at INFO level.
func (l *Logger) Info(msg string, args ...interface{}) {
	l.log(INFO, msg, args...)
}

// Warn logs a message at WARN level.
func (l *Logger) Warn(msg string, args ...interface{}) {
	l.log(WARN, msg, args...)
}

// Error logs a message at ERROR level.
func (l *Logger) Error(msg string, args ...interface{}) {
	l.log(ERROR, msg, args...)
}

// With returns a logger that adds the given key-value pairs to every record.
func (l *Logger) With(args ...interface{}) *ContextLogger {
	return &ContextLogger{logger: l, fields: args}
}

// ContextLogger is a logger with pre-set context fields.
type ContextLogger struct {
	logger *Logger
	fields []interface{}
}

// Debug logs a message at DEBUG level with context fields.
func (c *ContextLogger) Debug(msg string, args ...interface{}) {
	c.logger.log(DEBUG, msg, c.mergeArgs(args)...)
}

// Info logs a message at INFO level with context fields.
func (c *ContextLogger) Info(msg string, args ...interface{}) {
	c.logger.log(INFO, msg, c.mergeArgs(args)...)
}

// Warn logs a message at WARN level with context fields.
func (c *ContextLogger) Warn(msg string, args ...interface{}) {
	c.logger.log(WARN, msg, c.mergeArgs(args)...)
}

// Error logs a message at ERROR level with context fields.
func (c *ContextLogger) Error(msg string, args ...interface{}) {
	c.logger.log(ERROR, msg, c.mergeArgs(args)...)
}

func (c *ContextLogger) mergeArgs(args []interface{}) []interface{} {
	// An odd-length context would shift every following pair.
	ctx := c.fields
	if len(ctx)%2 != 0 {
		ctx = ctx[:len(ctx)-1]
	}
	result := make([]interface{}, 0, len(ctx)+len(args))
	result = append(result, ctx...)
	return append(result, args...)
}

// ============================================================================
// Session and request tracking
// ============================================================================

// NewSessionID returns a short random identifier for one client session.
func NewSessionID() string {
	return uuid.New().String()[:8]
}

// RequestContext holds information about one request for logging.
type RequestContext struct {
	StartTime time.Time
	Method    string
	Path      string
}

// NewRequestContext creates a new request context.
func NewRequestContext(method, path string) *RequestContext {
	return &RequestContext{
		StartTime: time.Now(),
		Method:    method,
		Path:      path,
	}
}

// Duration returns the duration since the request started.
func (r *RequestContext) Duration() time.Duration {
	return time.Since(r.StartTime)
}

// LogComplete logs a completed request with its response status.
func (r *RequestContext) LogComplete(logger *ContextLogger, status int) {
	args := []interface{}{
		"method", r.Method,
		"path", r.Path,
		"status", status,
		"duration_ms", fmt.Sprintf("%.2f", float64(r.Duration().Microseconds())/1000.0),
	}
	if status >= 500 {
		logger.Warn("Request failed", args...)
		return
	}
	logger.Debug("Request completed", args...)
}
