package logger

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/trace"
)

// Logger is the structured logging interface used across the platform.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	Fatal(msg string, fields ...Field)

	WithContext(ctx context.Context) Logger
	WithFields(fields ...Field) Logger
	WithError(err error) Logger
}

// Field is a single structured logging key/value pair.
type Field struct {
	Key   string
	Value interface{}
}

// Config controls the process-wide logger.
type Config struct {
	Level      string `yaml:"level" json:"level"`
	Format     string `yaml:"format" json:"format"`
	Output     string `yaml:"output" json:"output"`
	TimeFormat string `yaml:"time_format" json:"time_format"`
	Caller     bool   `yaml:"caller" json:"caller"`
}

type zeroLogger struct {
	logger zerolog.Logger
	fields []Field
}

var (
	globalLogger *zeroLogger
	once         sync.Once
)

// Initialize configures the global logger. Subsequent calls are no-ops.
func Initialize(cfg Config) {
	once.Do(func() {
		var output io.Writer
		switch cfg.Output {
		case "", "stdout":
			output = os.Stdout
		case "stderr":
			output = os.Stderr
		default:
			file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
			if err != nil {
				output = os.Stdout
			} else {
				output = file
			}
		}

		if cfg.Format == "console" {
			tf := cfg.TimeFormat
			if tf == "" {
				tf = time.RFC3339
			}
			output = zerolog.ConsoleWriter{Out: output, TimeFormat: tf}
		}

		zerolog.SetGlobalLevel(parseLevel(cfg.Level))

		builder := zerolog.New(output).With().Timestamp()
		if cfg.Caller {
			builder = builder.Caller()
		}

		globalLogger = &zeroLogger{logger: builder.Logger()}
		log.Logger = globalLogger.logger
	})
}

// Get returns the global logger, initializing it with defaults if needed.
func Get() Logger {
	if globalLogger == nil {
		Initialize(Config{Level: "info", Format: "json", Output: "stdout"})
	}
	return globalLogger
}

// New returns a logger scoped to a named component.
func New(component string) Logger {
	return Get().WithFields(String("component", component))
}

func (l *zeroLogger) WithContext(ctx context.Context) Logger {
	next := &zeroLogger{
		logger: l.logger,
		fields: append([]Field{}, l.fields...),
	}
	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		next.fields = append(next.fields, String("trace_id", span.SpanContext().TraceID().String()))
	}
	return next
}

func (l *zeroLogger) WithFields(fields ...Field) Logger {
	return &zeroLogger{
		logger: l.logger,
		fields: append(append([]Field{}, l.fields...), fields...),
	}
}

func (l *zeroLogger) WithError(err error) Logger {
	if err == nil {
		return l
	}
	return l.WithFields(
		String("error", err.Error()),
		String("error_type", fmt.Sprintf("%T", err)),
	)
}

func (l *zeroLogger) Debug(msg string, fields ...Field) { l.emit(l.logger.Debug(), msg, fields) }
func (l *zeroLogger) Info(msg string, fields ...Field)  { l.emit(l.logger.Info(), msg, fields) }
func (l *zeroLogger) Warn(msg string, fields ...Field)  { l.emit(l.logger.Warn(), msg, fields) }
func (l *zeroLogger) Error(msg string, fields ...Field) { l.emit(l.logger.Error(), msg, fields) }
func (l *zeroLogger) Fatal(msg string, fields ...Field) { l.emit(l.logger.Fatal(), msg, fields) }

func (l *zeroLogger) emit(event *zerolog.Event, msg string, fields []Field) {
	for _, f := range l.fields {
		event = addField(event, f)
	}
	for _, f := range fields {
		event = addField(event, f)
	}
	event.Msg(msg)
}

func addField(event *zerolog.Event, field Field) *zerolog.Event {
	switch v := field.Value.(type) {
	case string:
		return event.Str(field.Key, v)
	case []string:
		return event.Strs(field.Key, v)
	case int:
		return event.Int(field.Key, v)
	case int64:
		return event.Int64(field.Key, v)
	case float64:
		return event.Float64(field.Key, v)
	case bool:
		return event.Bool(field.Key, v)
	case time.Time:
		return event.Time(field.Key, v)
	case time.Duration:
		return event.Dur(field.Key, v)
	case error:
		return event.Err(v)
	default:
		return event.Interface(field.Key, v)
	}
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

// Field constructors.

func String(key, value string) Field { return Field{Key: key, Value: value} }

func Strings(key string, value []string) Field { return Field{Key: key, Value: value} }

func Int(key string, value int) Field { return Field{Key: key, Value: value} }

func Int64(key string, value int64) Field { return Field{Key: key, Value: value} }

func Float64(key string, value float64) Field { return Field{Key: key, Value: value} }

func Bool(key string, value bool) Field { return Field{Key: key, Value: value} }

func Time(key string, value time.Time) Field { return Field{Key: key, Value: value} }

func Duration(key string, value time.Duration) Field { return Field{Key: key, Value: value} }

func Error(err error) Field { return Field{Key: "error", Value: err} }

func Any(key string, value interface{}) Field { return Field{Key: key, Value: value} }
