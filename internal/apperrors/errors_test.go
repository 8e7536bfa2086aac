package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(cause, KindTransient, "scheduler", "adapter call failed")

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "scheduler")
	assert.Contains(t, err.Error(), "connection refused")
	assert.Equal(t, KindTransient, KindOf(err))
}

func TestKindOfUnwrapsThroughFmtErrorf(t *testing.T) {
	inner := New(KindCredential, "credentials", "auth refused by provider")
	wrapped := fmt.Errorf("collect runpod: %w", inner)

	assert.Equal(t, KindCredential, KindOf(wrapped))
	assert.True(t, IsCredential(wrapped))
	assert.False(t, IsTransient(wrapped))
}

func TestKindOfUnknownErrorIsInternal(t *testing.T) {
	assert.Equal(t, KindInternal, KindOf(errors.New("plain")))
}

func TestHTTPStatusMapping(t *testing.T) {
	tests := []struct {
		name string
		kind Kind
		want int
	}{
		{"validation is 400", KindValidation, http.StatusBadRequest},
		{"not found is 404", KindNotFound, http.StatusNotFound},
		{"conflict is 409", KindConflict, http.StatusConflict},
		{"approval denied is 409", KindApprovalDenied, http.StatusConflict},
		{"credential is 422", KindCredential, http.StatusUnprocessableEntity},
		{"transient is 503", KindTransient, http.StatusServiceUnavailable},
		{"unavailable is 503", KindUnavailable, http.StatusServiceUnavailable},
		{"internal is 500", KindInternal, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(New(tt.kind, "test", "boom")))
		})
	}
}

func TestDefaultSeverity(t *testing.T) {
	assert.Equal(t, SeverityCritical, New(KindInternal, "x", "y").Severity)
	assert.Equal(t, SeverityHigh, New(KindCredential, "x", "y").Severity)
	assert.Equal(t, SeverityMedium, New(KindTransient, "x", "y").Severity)
	assert.Equal(t, SeverityLow, New(KindValidation, "x", "y").Severity)
}

func TestWithContext(t *testing.T) {
	err := New(KindPartial, "collector", "2 of 3 sub-queries failed").
		WithContext("provider", "aws").
		WithContext("rows", 17)

	assert.Equal(t, "aws", err.Context["provider"])
	assert.Equal(t, 17, err.Context["rows"])
}

func TestErrorsIsMatchesByKind(t *testing.T) {
	a := New(KindTransient, "writer", "store timeout")
	b := New(KindTransient, "reader", "different message")
	assert.True(t, errors.Is(a, b))

	c := New(KindValidation, "writer", "bad row")
	assert.False(t, errors.Is(a, c))
}
