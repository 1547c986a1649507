package domain

import (
	"context"
	"errors"
	"fmt"
)

// Category sentinels.
var (
	ErrTimeout       = fmt.Errorf("operation timed out")
	ErrCanceled      = fmt.Errorf("operation canceled")
	ErrInvalidInput  = fmt.Errorf("invalid input")
	ErrProviderError = fmt.Errorf("provider error")
)

// Sentinel errors for the domain layer.
var (
	ErrRateLimit      = fmt.Errorf("rate limit exceeded")
	ErrAuthInvalid    = fmt.Errorf("authentication failed")
	ErrModelNotFound  = fmt.Errorf("model not found")
	ErrStreamClosed   = fmt.Errorf("stream closed unexpectedly")
	ErrInvalidFixture = fmt.Errorf("invalid conversation fixture")
	ErrConfigLoad     = fmt.Errorf("failed to load configuration")

	// ErrTrialsFailed is returned by commands whose batch finished with at
	// least one trial that was not OK.
	ErrTrialsFailed = fmt.Errorf("one or more trials failed")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op     string // operation name (e.g., "Fixture.Validate")
	Err    error  // underlying sentinel or wrapped error
	Detail string // human-readable detail
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// ErrorCode is a machine-parseable error category shown next to failed trials.
type ErrorCode string

const (
	CodeUnknown        ErrorCode = "UNKNOWN"
	CodeTimeout        ErrorCode = "TIMEOUT"
	CodeCanceled       ErrorCode = "CANCELED"
	CodeInvalidInput   ErrorCode = "INVALID_INPUT"
	CodeProviderError  ErrorCode = "PROVIDER_ERROR"
	CodeRateLimit      ErrorCode = "RATE_LIMIT"
	CodeAuthInvalid    ErrorCode = "AUTH_INVALID"
	CodeModelNotFound  ErrorCode = "MODEL_NOT_FOUND"
	CodeStreamClosed   ErrorCode = "STREAM_CLOSED"
	CodeInvalidFixture ErrorCode = "INVALID_FIXTURE"
	CodeConfigLoad     ErrorCode = "CONFIG_LOAD"
)

// errorCodeOrder is checked in order; specific sentinels come before the
// category sentinels they may wrap.
var errorCodeOrder = []struct {
	err  error
	code ErrorCode
}{
	{ErrRateLimit, CodeRateLimit},
	{ErrAuthInvalid, CodeAuthInvalid},
	{ErrModelNotFound, CodeModelNotFound},
	{ErrStreamClosed, CodeStreamClosed},
	{ErrInvalidFixture, CodeInvalidFixture},
	{ErrConfigLoad, CodeConfigLoad},
	{ErrTimeout, CodeTimeout},
	{context.DeadlineExceeded, CodeTimeout},
	{ErrCanceled, CodeCanceled},
	{context.Canceled, CodeCanceled},
	{ErrInvalidInput, CodeInvalidInput},
	{ErrProviderError, CodeProviderError},
}

// ErrorCodeOf returns the ErrorCode for err, or CodeUnknown.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	for _, e := range errorCodeOrder {
		if errors.Is(err, e.err) {
			return e.code
		}
	}
	return CodeUnknown
}
