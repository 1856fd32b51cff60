package logger

import (
	"context"
	"io"
	"os"
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Logger interface {
	Warn(ctx context.Context, msg string, args ...any)
	Error(ctx context.Context, msg string, args ...any)
	Info(ctx context.Context, msg string, args ...any)
	Debug(ctx context.Context, msg string, args ...any)
}

type logrusLogger struct {
	logger *logrus.Logger
}

// getCallerFunctionName returns the name of the function skip frames above it.
func getCallerFunctionName(skip int) string {
	pc := make([]uintptr, 1)
	if runtime.Callers(skip, pc) == 0 {
		return "unknown"
	}
	frame, _ := runtime.CallersFrames(pc).Next()
	if frame.Function == "" {
		return "unknown"
	}
	parts := strings.Split(frame.Function, ".")
	return parts[len(parts)-1]
}

// Frames from runtime.Callers up to whoever called a logrusLogger method:
// runtime.Callers, getCallerFunctionName, entry, logf, the method.
const methodSkip = 5

func (l *logrusLogger) entry(ctx context.Context, skip int) (*logrus.Entry, string) {
	if ctx == nil {
		ctx = context.Background()
	}
	e := l.logger.WithContext(ctx)
	if traceID := getTraceID(ctx); traceID != "" {
		e = e.WithField("trace_id", traceID)
	}
	return e, getCallerFunctionName(skip)
}

func (l *logrusLogger) logf(ctx context.Context, skip int, level logrus.Level, msg string, args []any) {
	if !l.logger.IsLevelEnabled(level) {
		return
	}
	e, caller := l.entry(ctx, skip)
	args = append([]any{caller}, args...)
	e.Logf(level, "[%s] "+msg, args...)
}

func (l *logrusLogger) Warn(ctx context.Context, msg string, args ...any) {
	l.logf(ctx, methodSkip, logrus.WarnLevel, msg, args)
}

func (l *logrusLogger) Error(ctx context.Context, msg string, args ...any) {
	l.logf(ctx, methodSkip, logrus.ErrorLevel, msg, args)
}

func (l *logrusLogger) Info(ctx context.Context, msg string, args ...any) {
	l.logf(ctx, methodSkip, logrus.InfoLevel, msg, args)
}

func (l *logrusLogger) Debug(ctx context.Context, msg string, args ...any) {
	l.logf(ctx, methodSkip, logrus.DebugLevel, msg, args)
}

var (
	defaultLogger Logger
	defaultLogrus *logrus.Logger
)

func init() {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetLevel(logrus.InfoLevel)
	log.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02 15:04:05",
	})
	setDefault(log)
}

func setDefault(log *logrus.Logger) {
	defaultLogrus = log
	defaultLogger = &logrusLogger{logger: log}
}

type LoggerConfig struct {
	Level      string `json:"level,omitempty" yaml:"level,omitempty" toml:"level,omitempty"`
	File       string `json:"file,omitempty" yaml:"file,omitempty" toml:"file,omitempty"`
	MaxSize    int    `json:"max_size,omitempty" yaml:"max_size,omitempty" toml:"max_size,omitempty"`       // megabytes per file, default 100
	MaxBackups int    `json:"max_backups,omitempty" yaml:"max_backups,omitempty" toml:"max_backups,omitempty"` // rotated files kept, default 3
	MaxAge     int    `json:"max_age,omitempty" yaml:"max_age,omitempty" toml:"max_age,omitempty"`          // days rotated files are kept, default 7
	Compress   bool   `json:"compress,omitempty" yaml:"compress,omitempty" toml:"compress,omitempty"`       // gzip rotated files
}

func InitLogger(cfg *LoggerConfig) {
	if cfg == nil {
		cfg = &LoggerConfig{}
	}
	log := logrus.New()
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	// JSON keeps trace_id extractable
	log.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02 15:04:05",
	})

	if cfg.File != "" {
		maxSize := cfg.MaxSize
		if maxSize <= 0 {
			maxSize = 100
		}
		maxBackups := cfg.MaxBackups
		if maxBackups <= 0 {
			maxBackups = 3
		}
		maxAge := cfg.MaxAge
		if maxAge <= 0 {
			maxAge = 7
		}

		log.SetOutput(&lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    maxSize,
			MaxBackups: maxBackups,
			MaxAge:     maxAge,
			Compress:   cfg.Compress,
		})
	} else {
		log.SetOutput(os.Stderr)
	}

	setDefault(log)
}

// SetOutput redirects the default logger, mainly for tests.
func SetOutput(w io.Writer) {
	defaultLogrus.SetOutput(w)
}

// package-level helpers go through logAt instead of a method
const packageSkip = methodSkip + 1

func Warn(ctx context.Context, msg string, args ...any) {
	logAt(ctx, logrus.WarnLevel, msg, args)
}

func Error(ctx context.Context, msg string, args ...any) {
	logAt(ctx, logrus.ErrorLevel, msg, args)
}

func Info(ctx context.Context, msg string, args ...any) {
	logAt(ctx, logrus.InfoLevel, msg, args)
}

func Debug(ctx context.Context, msg string, args ...any) {
	logAt(ctx, logrus.DebugLevel, msg, args)
}

func logAt(ctx context.Context, level logrus.Level, msg string, args []any) {
	if l, ok := defaultLogger.(*logrusLogger); ok {
		l.logf(ctx, packageSkip, level, msg, args)
		return
	}
	switch level {
	case logrus.WarnLevel:
		defaultLogger.Warn(ctx, msg, args...)
	case logrus.ErrorLevel:
		defaultLogger.Error(ctx, msg, args...)
	case logrus.DebugLevel:
		defaultLogger.Debug(ctx, msg, args...)
	default:
		defaultLogger.Info(ctx, msg, args...)
	}
}

func GetDefaultLogger() Logger {
	return defaultLogger
}

// RodLogger adapts the default logger for rod's Trace output.
func RodLogger() *logrus.Entry {
	return logrus.NewEntry(defaultLogrus).WithField("component", "rod")
}

// TraceID context key
type contextKey string

const traceIDKey contextKey = "trace_id"

// WithTraceID stores traceID in ctx
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

func getTraceID(ctx context.Context) string {
	if traceID, ok := ctx.Value(traceIDKey).(string); ok {
		return traceID
	}
	return ""
}

// GetTraceID returns the trace id stored in ctx
func GetTraceID(ctx context.Context) string {
	return getTraceID(ctx)
}
