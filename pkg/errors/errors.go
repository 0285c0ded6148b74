package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code classifies an error into a stable, transport-agnostic category.
type Code string

const (
	CodeValidation   Code = "validation_error"
	CodeUnauthorized Code = "unauthorized"
	CodeForbidden    Code = "forbidden"
	CodeNotFound     Code = "not_found"
	CodeConflict     Code = "conflict"
	CodeStateConflict Code = "state_conflict"
	CodeIdempotency  Code = "idempotency_conflict"
	CodeRateLimit    Code = "rate_limited"
	CodeInternal     Code = "internal_error"
	CodeDependency   Code = "dependency_error"
)

// Metadata carries the HTTP mapping for a code.
type Metadata struct {
	HTTPStatus int
	Retryable  bool
}

var metadata = map[Code]Metadata{
	CodeValidation:    {HTTPStatus: http.StatusBadRequest},
	CodeUnauthorized:  {HTTPStatus: http.StatusUnauthorized},
	CodeForbidden:     {HTTPStatus: http.StatusForbidden},
	CodeNotFound:      {HTTPStatus: http.StatusNotFound},
	CodeConflict:      {HTTPStatus: http.StatusConflict},
	CodeStateConflict: {HTTPStatus: http.StatusConflict},
	CodeIdempotency:   {HTTPStatus: http.StatusConflict},
	CodeRateLimit:     {HTTPStatus: http.StatusTooManyRequests, Retryable: true},
	CodeInternal:      {HTTPStatus: http.StatusInternalServerError, Retryable: true},
	CodeDependency:    {HTTPStatus: http.StatusBadGateway, Retryable: true},
}

// MetadataFor returns the HTTP mapping for a code, defaulting to internal.
func MetadataFor(code Code) Metadata {
	if meta, ok := metadata[code]; ok {
		return meta
	}
	return metadata[CodeInternal]
}

// Error is a coded application error with optional structured details.
type Error struct {
	code    Code
	message string
	details map[string]any
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

func Newf(code Code, format string, args ...any) *Error {
	return &Error{code: code, message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error. A nil cause
// returns nil so call sites can wrap unconditionally.
func Wrap(code Code, cause error, message string) *Error {
	if cause == nil {
		return nil
	}
	return &Error{code: code, message: message, cause: cause}
}

func (e *Error) WithDetail(key string, value any) *Error {
	if e.details == nil {
		e.details = map[string]any{}
	}
	e.details[key] = value
	return e
}

func (e *Error) WithDetails(details map[string]any) *Error {
	for key, value := range details {
		e.WithDetail(key, value)
	}
	return e
}

func (e *Error) Code() Code             { return e.code }
func (e *Error) Message() string        { return e.message }
func (e *Error) Details() map[string]any { return e.details }

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.code, e.message)
}

func (e *Error) Unwrap() error { return e.cause }

// As extracts an *Error from an error chain.
func As(err error) (*Error, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// CodeOf returns the code of err, or CodeInternal for uncoded errors.
func CodeOf(err error) Code {
	if appErr, ok := As(err); ok {
		return appErr.code
	}
	return CodeInternal
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}
