package vectorguard

import (
	"io"
	"os"
	"strings"
	"sync/atomic"

	"github.com/oarkflow/log"
)

// LevelLogger implements Logger on top of oarkflow/log. The level can be changed while
// the logger is in use, which is how configuration reloads apply a new log level.
type LevelLogger struct {
	logger *log.Logger
	level  atomic.Uint32
}

// NewLogger writes leveled records to stderr.
func NewLogger(level string) *LevelLogger {
	return NewWriterLogger(os.Stderr, level)
}

func NewWriterLogger(w io.Writer, level string) *LevelLogger {
	l := &LevelLogger{
		logger: &log.Logger{
			Level:  log.TraceLevel,
			Writer: &log.IOWriter{Writer: w},
		},
	}
	l.SetLevel(level)
	return l
}

// SetLevel switches the minimum level, e.g. "debug" or "warn".
func (l *LevelLogger) SetLevel(level string) {
	l.level.Store(uint32(parseLevel(level)))
}

func (l *LevelLogger) enabled(level log.Level) bool {
	return uint32(level) >= l.level.Load()
}

func (l *LevelLogger) Debug(msg string, fields map[string]any) {
	if l.enabled(log.DebugLevel) {
		write(l.logger.Debug(), msg, fields)
	}
}

func (l *LevelLogger) Info(msg string, fields map[string]any) {
	if l.enabled(log.InfoLevel) {
		write(l.logger.Info(), msg, fields)
	}
}

func (l *LevelLogger) Warn(msg string, fields map[string]any) {
	if l.enabled(log.WarnLevel) {
		write(l.logger.Warn(), msg, fields)
	}
}

func (l *LevelLogger) Error(msg string, fields map[string]any) {
	if l.enabled(log.ErrorLevel) {
		write(l.logger.Error(), msg, fields)
	}
}

func write(e *log.Entry, msg string, fields map[string]any) {
	if e == nil {
		return
	}
	for k, v := range fields {
		switch val := v.(type) {
		case string:
			e = e.Str(k, val)
		case int:
			e = e.Int(k, val)
		case float64:
			e = e.Float64(k, val)
		case bool:
			e = e.Bool(k, val)
		case error:
			e = e.Str(k, val.Error())
		default:
			e = e.Any(k, val)
		}
	}
	e.Msg(msg)
}

func parseLevel(level string) log.Level {
	if strings.TrimSpace(level) == "" {
		return log.InfoLevel
	}
	return log.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
}

// NopLogger discards everything.
type NopLogger struct{}

func (NopLogger) Debug(string, map[string]any) {}
func (NopLogger) Info(string, map[string]any) {}
func (NopLogger) Warn(string, map[string]any) {}
func (NopLogger) Error(string, map[string]any) {}
