package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is a machine-readable error code returned to API clients.
type Code string

const (
	CodeValidation            Code = "VALIDATION_ERROR"
	CodeInsufficientFunds     Code = "INSUFFICIENT_FUNDS"
	CodeInvalidCommitment     Code = "INVALID_COMMITMENT"
	CodeInvalidMultiplier     Code = "INVALID_MULTIPLIER"
	CodeNotFound              Code = "NOT_FOUND"
	CodeAlreadySettled        Code = "ALREADY_SETTLED"
	CodeAlreadyCrashed        Code = "ALREADY_CRASHED"
	CodeNoOpenSession         Code = "NO_OPEN_SESSION"
	CodeNothingToCashOut      Code = "NOTHING_TO_CASH_OUT"
	CodeSessionActive         Code = "SESSION_ACTIVE"
	CodeRoundActive           Code = "ROUND_ACTIVE"
	CodeConflict              Code = "CONFLICT"
	CodeNotRevealed           Code = "NOT_REVEALED"
	CodeRateLimited           Code = "RATE_LIMITED"
	CodeInternalInconsistency Code = "INTERNAL_INCONSISTENCY"
	CodeInternal              Code = "INTERNAL"
)

// HTTPStatus maps a code to the status the API responds with.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeValidation, CodeInvalidMultiplier, CodeInvalidCommitment:
		return http.StatusBadRequest
	case CodeInsufficientFunds:
		return http.StatusPaymentRequired
	case CodeNotFound, CodeNoOpenSession, CodeNothingToCashOut:
		return http.StatusNotFound
	case CodeAlreadySettled, CodeAlreadyCrashed, CodeSessionActive, CodeRoundActive, CodeConflict:
		return http.StatusConflict
	case CodeNotRevealed:
		return http.StatusForbidden
	case CodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// Error is the domain error type. Two errors match under errors.Is when
// their codes are equal.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// Sentinels for errors.Is checks.
var (
	ErrValidation            = New(CodeValidation, "validation error")
	ErrInsufficientFunds     = New(CodeInsufficientFunds, "insufficient funds")
	ErrInvalidCommitment     = New(CodeInvalidCommitment, "invalid commitment")
	ErrInvalidMultiplier     = New(CodeInvalidMultiplier, "invalid multiplier")
	ErrNotFound              = New(CodeNotFound, "not found")
	ErrAlreadySettled        = New(CodeAlreadySettled, "round already settled")
	ErrAlreadyCrashed        = New(CodeAlreadyCrashed, "round already crashed")
	ErrNoOpenSession         = New(CodeNoOpenSession, "no open session")
	ErrNothingToCashOut      = New(CodeNothingToCashOut, "nothing to cash out")
	ErrSessionActive         = New(CodeSessionActive, "ride session already open")
	ErrRoundActive           = New(CodeRoundActive, "crash round already running")
	ErrConflict              = New(CodeConflict, "concurrent modification")
	ErrNotRevealed           = New(CodeNotRevealed, "round not revealed yet")
	ErrRateLimited           = New(CodeRateLimited, "rate limit exceeded")
	ErrInternalInconsistency = New(CodeInternalInconsistency, "internal inconsistency")
)

// Validation is shorthand for a CodeValidation error.
func Validation(format string, args ...any) *Error {
	return Newf(CodeValidation, format, args...)
}

// CodeOf returns the code of the first *Error in err's chain, or CodeInternal.
func CodeOf(err error) Code {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeInternal
}

// Message returns a client-safe message for err.
func Message(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return "internal error"
}
