package domain

import (
	"errors"
	"fmt"
)

// Category sentinels. Subsystem-specific errors wrap one of these so that
// ErrorCodeOf and RPCErrorFrom can classify them.
var (
	ErrNotFound     = fmt.Errorf("not found")
	ErrInvalidInput = fmt.Errorf("invalid input")
	ErrAuthInvalid  = fmt.Errorf("authentication failed")
	ErrUnavailable  = fmt.Errorf("unavailable")
	ErrClosed       = fmt.Errorf("closed")
)

// Sentinel errors for the domain layer.
var (
	ErrTaskNotFound      = fmt.Errorf("task: %w", ErrNotFound)
	ErrInvalidTaskStatus = fmt.Errorf("task status: %w", ErrInvalidInput)
	ErrInvalidState      = fmt.Errorf("operating state: %w", ErrInvalidInput)
	ErrInvalidAction     = fmt.Errorf("hub action: %w", ErrInvalidInput)
	ErrInvalidResult     = fmt.Errorf("hub result status: %w", ErrInvalidInput)
	ErrStoreUnavailable  = fmt.Errorf("task store: %w", ErrUnavailable)
	ErrBusClosed         = fmt.Errorf("broadcast bus: %w", ErrClosed)
	ErrSatelliteAuth     = fmt.Errorf("satellite: %w", ErrAuthInvalid)
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op     string // operation name (e.g., "Hub.Enqueue")
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

// ErrorCode is a machine-parseable error category for logs and API bodies.
type ErrorCode string

const (
	CodeUnknown       ErrorCode = "UNKNOWN"
	CodeNotFound      ErrorCode = "NOT_FOUND"
	CodeInvalidInput  ErrorCode = "INVALID_INPUT"
	CodeAuthInvalid   ErrorCode = "AUTH_INVALID"
	CodeUnavailable   ErrorCode = "UNAVAILABLE"
	CodeClosed        ErrorCode = "CLOSED"
	CodeTaskNotFound  ErrorCode = "TASK_NOT_FOUND"
	CodeTaskStatus    ErrorCode = "TASK_STATUS_INVALID"
	CodeStateInvalid  ErrorCode = "STATE_INVALID"
	CodeSatelliteAuth ErrorCode = "SATELLITE_AUTH"
)

// specificCodes is consulted before categoryCodes so that the most precise
// sentinel in the chain wins.
var specificCodes = []struct {
	err  error
	code ErrorCode
}{
	{ErrTaskNotFound, CodeTaskNotFound},
	{ErrInvalidTaskStatus, CodeTaskStatus},
	{ErrInvalidState, CodeStateInvalid},
	{ErrSatelliteAuth, CodeSatelliteAuth},
}

var categoryCodes = []struct {
	err  error
	code ErrorCode
}{
	{ErrNotFound, CodeNotFound},
	{ErrInvalidInput, CodeInvalidInput},
	{ErrAuthInvalid, CodeAuthInvalid},
	{ErrUnavailable, CodeUnavailable},
	{ErrClosed, CodeClosed},
}

// ErrorCodeOf returns the ErrorCode for err by walking the error chain.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}
	for _, c := range specificCodes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	for _, c := range categoryCodes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return CodeUnknown
}

// RPCErrorFrom converts a domain error into a JSON-RPC error object.
// Invalid input maps to -32602; everything else is an internal error.
func RPCErrorFrom(err error) *RPCError {
	if errors.Is(err, ErrInvalidInput) {
		return NewRPCError(CodeInvalidParams, err.Error())
	}
	return &RPCError{
		Code:    CodeInternalError,
		Message: err.Error(),
		Data:    map[string]string{"code": string(ErrorCodeOf(err))},
	}
}
