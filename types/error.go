package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the service.
type ErrorCode string

// Request error codes
const (
	ErrInvalidRequest ErrorCode = "INVALID_REQUEST"
	ErrUnauthorized   ErrorCode = "UNAUTHORIZED"
	ErrRateLimited    ErrorCode = "RATE_LIMITED"
	ErrNotFound       ErrorCode = "NOT_FOUND"
	ErrInternalError  ErrorCode = "INTERNAL_ERROR"
)

// Backend error codes
const (
	ErrTransientBackend     ErrorCode = "TRANSIENT_BACKEND"
	ErrUpstreamError        ErrorCode = "UPSTREAM_ERROR"
	ErrUpstreamTimeout      ErrorCode = "UPSTREAM_TIMEOUT"
	ErrEmbeddingUnavailable ErrorCode = "EMBEDDING_UNAVAILABLE"
	ErrServiceUnavailable   ErrorCode = "SERVICE_UNAVAILABLE"
)

// Pipeline error codes
const (
	ErrParse       ErrorCode = "PARSE_ERROR"
	ErrPersistence ErrorCode = "PERSISTENCE_ERROR"
	ErrProtocol    ErrorCode = "PROTOCOL_ERROR"
	ErrCancelled   ErrorCode = "CANCELLED"
	ErrFatalTurn   ErrorCode = "FATAL_TURN"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	Backend    string    `json:"backend,omitempty"`
	Cause      error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithHTTPStatus sets the HTTP status code.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithBackend records which remote backend (llm, tts, asr, embedding) failed.
func (e *Error) WithBackend(backend string) *Error {
	e.Backend = backend
	return e
}

// AsError extracts a *Error from the chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsRetryable checks if any error in the chain is retryable.
func IsRetryable(err error) bool {
	if e, ok := AsError(err); ok {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}

// IsErrorCode reports whether err carries the given code.
func IsErrorCode(err error, code ErrorCode) bool {
	return GetErrorCode(err) == code
}

// NewInvalidRequestError 构造 400 请求错误
func NewInvalidRequestError(message string) *Error {
	return NewError(ErrInvalidRequest, message).WithHTTPStatus(400)
}

// NewTransientError 构造可重试的后端错误
func NewTransientError(backend, message string, cause error) *Error {
	return NewError(ErrTransientBackend, message).
		WithBackend(backend).
		WithCause(cause).
		WithRetryable(true).
		WithHTTPStatus(502)
}

// FromHTTPStatus 将远端后端的非 2xx 响应映射为统一错误：429 与 5xx 可重试
func FromHTTPStatus(backend string, status int, body string) *Error {
	if len(body) > 256 {
		body = body[:256]
	}
	msg := fmt.Sprintf("%s returned HTTP %d: %s", backend, status, body)
	if status == 429 || status >= 500 {
		return NewError(ErrTransientBackend, msg).
			WithBackend(backend).
			WithRetryable(true).
			WithHTTPStatus(502)
	}
	return NewError(ErrUpstreamError, msg).
		WithBackend(backend).
		WithHTTPStatus(502)
}
