// Package apperrors carries the typed error model shared by every layer.
// Lower layers return these instead of raising; the HTTP edge maps kinds
// to status codes.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Kind classifies a failure for propagation and HTTP mapping.
type Kind string

const (
	// KindTransient covers network and store timeouts; the next scheduled
	// tick is the retry.
	KindTransient Kind = "transient"
	// KindCredential covers auth refusals and missing endpoints; requires
	// operator intervention.
	KindCredential Kind = "credential_invalid"
	// KindPartial marks a result where some sub-queries failed.
	KindPartial Kind = "partial"
	// KindValidation covers malformed rows and schema mismatches.
	KindValidation Kind = "validation"
	// KindApprovalDenied marks a workflow paused by peer vote.
	KindApprovalDenied Kind = "approval_denied"
	// KindQualityRegression marks a rollout phase failing its quality check.
	KindQualityRegression Kind = "quality_regression"
	// KindNotFound covers unknown customers, providers, agents, workflows.
	KindNotFound Kind = "not_found"
	// KindConflict covers lock contention and duplicate registration.
	KindConflict Kind = "conflict"
	// KindUnavailable marks an unreachable dependency.
	KindUnavailable Kind = "unavailable"
	// KindInternal is a broken invariant; the process should not continue
	// silently.
	KindInternal Kind = "internal"
)

// Severity grades an error for alerting.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Error is the structured error type used across components.
type Error struct {
	Kind      Kind                   `json:"kind"`
	Severity  Severity               `json:"severity"`
	Component string                 `json:"component"`
	Message   string                 `json:"message"`
	Cause     error                  `json:"-"`
	Context   map[string]interface{} `json:"context,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Component, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Component, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches errors by kind so errors.Is works with sentinel kinds.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// WithContext attaches a key/value pair for logging and event records.
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// New creates a typed error.
func New(kind Kind, component, message string) *Error {
	return &Error{
		Kind:      kind,
		Severity:  defaultSeverity(kind),
		Component: component,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}
}

// Newf creates a typed error with a formatted message.
func Newf(kind Kind, component, format string, args ...interface{}) *Error {
	return New(kind, component, fmt.Sprintf(format, args...))
}

// Wrap annotates a cause with kind and component context.
func Wrap(err error, kind Kind, component, message string) *Error {
	e := New(kind, component, message)
	e.Cause = err
	return e
}

func defaultSeverity(kind Kind) Severity {
	switch kind {
	case KindInternal:
		return SeverityCritical
	case KindCredential, KindQualityRegression:
		return SeverityHigh
	case KindTransient, KindUnavailable, KindConflict:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// KindOf extracts the kind from any error in the chain; unknown errors are
// internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func IsTransient(err error) bool { return KindOf(err) == KindTransient }

func IsCredential(err error) bool { return KindOf(err) == KindCredential }

func IsValidation(err error) bool { return KindOf(err) == KindValidation }

func IsNotFound(err error) bool { return KindOf(err) == KindNotFound }

// HTTPStatus maps an error kind to the response status the edge returns.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict, KindApprovalDenied:
		return http.StatusConflict
	case KindCredential:
		return http.StatusUnprocessableEntity
	case KindTransient, KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
