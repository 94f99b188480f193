package log

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	defaultLogger *Logger
	once          sync.Once
)

func init() {
	zerolog.MessageFieldName = "msg"
	zerolog.TimeFieldFormat = time.RFC3339Nano
	once.Do(func() {
		defaultLogger = New(os.Stdout, LogLevelDebug)
	})
}

type LogLevel int

const (
	LogLevelError LogLevel = iota
	LogLevelWarn
	LogLevelInfo
	LogLevelDebug
	LogLevelTrace
)

var levels = []struct {
	name    string
	zerolog zerolog.Level
}{
	LogLevelError: {"error", zerolog.ErrorLevel},
	LogLevelWarn:  {"warn", zerolog.WarnLevel},
	LogLevelInfo:  {"info", zerolog.InfoLevel},
	LogLevelDebug: {"debug", zerolog.DebugLevel},
	LogLevelTrace: {"trace", zerolog.TraceLevel},
}

func (level LogLevel) String() string {
	if level < 0 || int(level) >= len(levels) {
		return "unknown"
	}
	return levels[level].name
}

func (level LogLevel) zerologLevel() zerolog.Level {
	if level < 0 || int(level) >= len(levels) {
		return zerolog.TraceLevel
	}
	return levels[level].zerolog
}

// ParseLogLevel accepts error, warn, info, debug or trace.
func ParseLogLevel(name string) (LogLevel, error) {
	for level, l := range levels {
		if l.name == strings.ToLower(name) {
			return LogLevel(level), nil
		}
	}
	return LogLevelError, fmt.Errorf("unknown log level: %s", name)
}

// SetDefaultLogger replaces the package level logger.
func SetDefaultLogger(logger *Logger) {
	defaultLogger = logger
}

func SetLevel(level LogLevel) {
	defaultLogger.SetLevel(level)
	defaultLogger.Info("Log level set to %s", level)
}

// Logger writes one JSON object per line with level, time and msg fields.
type Logger struct {
	logger zerolog.Logger
	level  LogLevel
}

func New(out io.Writer, level LogLevel) *Logger {
	return &Logger{
		logger: zerolog.New(out).Level(level.zerologLevel()).With().Timestamp().Logger(),
		level:  level,
	}
}

// With returns a child logger that adds the given key/value to every entry.
func (l *Logger) With(key string, value string) *Logger {
	return &Logger{
		logger: l.logger.With().Str(key, value).Logger(),
		level:  l.level,
	}
}

func (l *Logger) SetLevel(level LogLevel) {
	l.level = level
	l.logger = l.logger.Level(level.zerologLevel())
}

func (l *Logger) Level() LogLevel {
	return l.level
}

func (l *Logger) logf(level LogLevel, format string, args ...interface{}) {
	if level > l.level {
		return
	}
	l.logger.WithLevel(level.zerologLevel()).Msgf(format, args...)
}

func (l *Logger) Error(format string, args ...interface{}) {
	l.logf(LogLevelError, format, args...)
}

func (l *Logger) Warn(format string, args ...interface{}) {
	l.logf(LogLevelWarn, format, args...)
}

func (l *Logger) Info(format string, args ...interface{}) {
	l.logf(LogLevelInfo, format, args...)
}

func (l *Logger) Debug(format string, args ...interface{}) {
	l.logf(LogLevelDebug, format, args...)
}

func (l *Logger) Trace(format string, args ...interface{}) {
	l.logf(LogLevelTrace, format, args...)
}

func Info(format string, args ...interface{}) {
	defaultLogger.Info(format, args...)
}

func Error(format string, args ...interface{}) {
	defaultLogger.Error(format, args...)
}

func Warn(format string, args ...interface{}) {
	defaultLogger.Warn(format, args...)
}

func Debug(format string, args ...interface{}) {
	defaultLogger.Debug(format, args...)
}

func Trace(format string, args ...interface{}) {
	defaultLogger.Trace(format, args...)
}

// Game returns a logger scoped to a single game code.
func Game(gameCode string) *Logger {
	return defaultLogger.With("game", gameCode)
}
