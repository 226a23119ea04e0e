package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"reflect"
	"runtime"
	"strings"

	multi "github.com/samber/slog-multi"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/dalnet/ircbot/internal/config"
)

const (
	LevelTrace = slog.Level(-8)
	LevelFatal = slog.Level(12)
)

var levels = map[string]slog.Level{
	"trace": LevelTrace,
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
	"fatal": LevelFatal,
}

// Logger is the logging surface shared by every component of the bot.
type Logger interface {
	Trace(msg string, args ...any)
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, err error, args ...any)
	Fatal(msg string, err error, args ...any)

	// Named returns a logger that tags every record with component.
	Named(component string) Logger
}

// SlogLogger fans records out to the console and an optional rotating
// file. Loggers returned by Named share the level of their parent.
type SlogLogger struct {
	log   *slog.Logger
	level *slog.LevelVar
}

// ParseLevel maps a configured level name to its slog level.
func ParseLevel(name string) (slog.Level, error) {
	level, ok := levels[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return 0, fmt.Errorf("unknown log level %q", name)
	}
	return level, nil
}

// New builds the process logger from the log section of the config:
// console output in cfg.Format and, when cfg.File is set, JSON records in a
// file rotated by lumberjack.
func New(cfg config.Log) (*SlogLogger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	l := &SlogLogger{level: &slog.LevelVar{}}
	l.level.Set(level)
	opts := l.handlerOptions()

	var console slog.Handler
	switch cfg.Format {
	case "json":
		console = slog.NewJSONHandler(os.Stdout, opts)
	case "", "text":
		console = slog.NewTextHandler(os.Stdout, opts)
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}

	handlers := []slog.Handler{console}
	if cfg.File != "" {
		handlers = append(handlers, slog.NewJSONHandler(&lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}, opts))
	}
	l.log = slog.New(multi.Fanout(handlers...))
	return l, nil
}

// Nop returns a logger that discards everything.
func Nop() *SlogLogger {
	return newWriterLogger(io.Discard, slog.LevelInfo)
}

func newWriterLogger(w io.Writer, level slog.Level) *SlogLogger {
	l := &SlogLogger{level: &slog.LevelVar{}}
	l.level.Set(level)
	l.log = slog.New(slog.NewJSONHandler(w, l.handlerOptions()))
	return l
}

func (l *SlogLogger) handlerOptions() *slog.HandlerOptions {
	return &slog.HandlerOptions{
		AddSource: true,
		Level:     l.level,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			switch a.Key {
			case slog.LevelKey:
				if level, ok := a.Value.Any().(slog.Level); ok {
					a.Value = slog.StringValue(levelName(level))
				}
			case slog.SourceKey:
				a.Value = slog.StringValue(caller())
			}
			return a
		},
	}
}

func levelName(level slog.Level) string {
	for name, l := range levels {
		if l == level {
			return strings.ToUpper(name)
		}
	}
	return level.String()
}

// SetLevel changes the level of this logger and every logger derived from
// it.
func (l *SlogLogger) SetLevel(name string) error {
	level, err := ParseLevel(name)
	if err != nil {
		return err
	}
	l.level.Set(level)
	return nil
}

// Level returns the current level name.
func (l *SlogLogger) Level() string {
	return strings.ToLower(levelName(l.level.Level()))
}

func (l *SlogLogger) Named(component string) Logger {
	return &SlogLogger{
		log:   l.log.With(slog.String("component", component)),
		level: l.level,
	}
}

func (l *SlogLogger) Trace(msg string, args ...any) {
	l.log.Log(context.Background(), LevelTrace, msg, args...)
}

func (l *SlogLogger) Debug(msg string, args ...any) {
	l.log.Debug(msg, args...)
}

func (l *SlogLogger) Info(msg string, args ...any) {
	l.log.Info(msg, args...)
}

func (l *SlogLogger) Warn(msg string, args ...any) {
	l.log.Warn(msg, args...)
}

func (l *SlogLogger) Error(msg string, err error, args ...any) {
	l.log.Error(msg, withError(err, args)...)
}

// Fatal logs at FATAL level and exits the process with status 1.
func (l *SlogLogger) Fatal(msg string, err error, args ...any) {
	l.log.Log(context.Background(), LevelFatal, msg, withError(err, args)...)
	os.Exit(1)
}

func withError(err error, args []any) []any {
	if err == nil {
		return args
	}
	return append([]any{slog.String("error", err.Error())}, args...)
}

// caller finds the first frame outside the logging machinery.
func caller() string {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(3, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	for {
		f, more := frames.Next()
		if !internalFrame(f.Function) {
			return fmt.Sprintf("%s:%d", f.File, f.Line)
		}
		if !more {
			return "unknown"
		}
	}
}

var selfPrefix = strings.TrimSuffix(runtime.FuncForPC(reflect.ValueOf(withError).Pointer()).Name(), "withError")

func internalFrame(fn string) bool {
	return strings.HasPrefix(fn, "log/slog") ||
		strings.Contains(fn, "slog-multi") ||
		strings.HasPrefix(fn, selfPrefix+"(*SlogLogger)") ||
		fn == selfPrefix+"caller"
}
