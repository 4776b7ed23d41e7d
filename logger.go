package repoctx

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	ErrorLevel
)

// Logger is the logging contract shared by the repository, its providers and
// the HTTP surface.
type Logger interface {
	Debug(v ...any)
	Debugf(format string, a ...any)
	Info(v ...any)
	Infof(format string, a ...any)
	Error(v ...any)
	Errorf(format string, a ...any)
	SetLogLevel(level LogLevel)
	With(args ...any) Logger
}

type slogLogger struct {
	logger *slog.Logger
	level  *slog.LevelVar
}

// NewLogger writes to stdout, as text unless LOG_FORMAT=json.
func NewLogger(level string) Logger {
	return NewLoggerTo(os.Stdout, level, os.Getenv("LOG_FORMAT"))
}

// NewLoggerTo writes to w. Format "json" selects the JSON handler, anything
// else the text handler.
func NewLoggerTo(w io.Writer, level, format string) Logger {
	lv := new(slog.LevelVar)
	lv.Set(slogLevel(ParseLogLevel(level)))

	opts := &slog.HandlerOptions{Level: lv}
	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return &slogLogger{logger: slog.New(handler), level: lv}
}

func (l *slogLogger) Debug(v ...any) {
	msg, attrs := splitArgs(v)
	l.logger.Debug(msg, attrs...)
}

func (l *slogLogger) Debugf(format string, a ...any) {
	l.logger.Debug(fmt.Sprintf(format, a...))
}

func (l *slogLogger) Info(v ...any) {
	msg, attrs := splitArgs(v)
	l.logger.Info(msg, attrs...)
}

func (l *slogLogger) Infof(format string, a ...any) {
	l.logger.Info(fmt.Sprintf(format, a...))
}

func (l *slogLogger) Error(v ...any) {
	msg, attrs := splitArgs(v)
	l.logger.Error(msg, attrs...)
}

func (l *slogLogger) Errorf(format string, a ...any) {
	l.logger.Error(fmt.Sprintf(format, a...))
}

// SetLogLevel applies to every logger derived through With.
func (l *slogLogger) SetLogLevel(level LogLevel) {
	l.level.Set(slogLevel(level))
}

func (l *slogLogger) With(args ...any) Logger {
	return &slogLogger{logger: l.logger.With(args...), level: l.level}
}

type noopLogger struct{}

func (noopLogger) Debug(...any)          {}
func (noopLogger) Debugf(string, ...any) {}
func (noopLogger) Info(...any)           {}
func (noopLogger) Infof(string, ...any)  {}
func (noopLogger) Error(...any)          {}
func (noopLogger) Errorf(string, ...any) {}
func (noopLogger) SetLogLevel(LogLevel)  {}
func (noopLogger) With(...any) Logger    { return noopLogger{} }

func NewNoopLogger() Logger {
	return noopLogger{}
}

// ParseLogLevel maps debug/info/error (and dbg/inf/err) to a level. Unknown
// values fall back to info.
func ParseLogLevel(level string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug", "dbg":
		return DebugLevel
	case "error", "err":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

func slogLevel(level LogLevel) slog.Level {
	switch level {
	case DebugLevel:
		return slog.LevelDebug
	case ErrorLevel:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// splitArgs treats the first value as the message and the rest as key/value
// pairs or slog.Attr values. An odd tail is folded into the message.
func splitArgs(args []any) (string, []any) {
	if len(args) == 0 {
		return "", nil
	}
	msg := fmt.Sprint(args[0])
	rest := args[1:]
	if len(rest) == 0 {
		return msg, nil
	}
	allAttrs := true
	for _, arg := range rest {
		if _, ok := arg.(slog.Attr); !ok {
			allAttrs = false
			break
		}
	}
	if allAttrs || len(rest)%2 == 0 {
		return msg, rest
	}
	return fmt.Sprint(args...), nil
}
