package logger

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  zerolog.Level
	}{
		{"debug", "debug", zerolog.DebugLevel},
		{"info", "info", zerolog.InfoLevel},
		{"warn", "warn", zerolog.WarnLevel},
		{"warning alias", "warning", zerolog.WarnLevel},
		{"error", "error", zerolog.ErrorLevel},
		{"mixed case", "ERROR", zerolog.ErrorLevel},
		{"unknown defaults to info", "verbose", zerolog.InfoLevel},
		{"empty defaults to info", "", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseLevel(tt.input))
		})
	}
}

func TestFieldConstructors(t *testing.T) {
	now := time.Now()

	assert.Equal(t, Field{Key: "provider", Value: "aws"}, String("provider", "aws"))
	assert.Equal(t, Field{Key: "count", Value: 7}, Int("count", 7))
	assert.Equal(t, Field{Key: "rows", Value: int64(42)}, Int64("rows", 42))
	assert.Equal(t, Field{Key: "score", Value: 0.92}, Float64("score", 0.92))
	assert.Equal(t, Field{Key: "partial", Value: true}, Bool("partial", true))
	assert.Equal(t, Field{Key: "at", Value: now}, Time("at", now))
	assert.Equal(t, Field{Key: "types", Value: []string{"cost", "resource"}}, Strings("types", []string{"cost", "resource"}))
}

func TestWithFieldsIsImmutable(t *testing.T) {
	base := &zeroLogger{logger: zerolog.Nop()}
	scoped := base.WithFields(String("component", "scheduler"))

	assert.Empty(t, base.fields)
	assert.Len(t, scoped.(*zeroLogger).fields, 1)

	again := scoped.WithFields(String("provider", "runpod"))
	assert.Len(t, scoped.(*zeroLogger).fields, 1)
	assert.Len(t, again.(*zeroLogger).fields, 2)
}

func TestWithErrorNilIsNoop(t *testing.T) {
	base := &zeroLogger{logger: zerolog.Nop()}
	assert.Same(t, Logger(base), base.WithError(nil))
}
