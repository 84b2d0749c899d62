package types

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a unified error code across the protocol.
type ErrorCode string

// 报文与载荷校验错误码
const (
	ErrInvalidMessageFormat    ErrorCode = "INVALID_MESSAGE_FORMAT"
	ErrPayloadValidationFailed ErrorCode = "PAYLOAD_VALIDATION_FAILED"
	ErrUnsupportedMessageType  ErrorCode = "UNSUPPORTED_MESSAGE_TYPE"
)

// 能力匹配错误码
const (
	ErrInvalidTaskType     ErrorCode = "INVALID_TASK_TYPE"
	ErrCapabilityMismatch  ErrorCode = "CAPABILITY_MISMATCH"
	ErrAgentNotFound       ErrorCode = "AGENT_NOT_FOUND"
	ErrInvalidAgentCard    ErrorCode = "INVALID_AGENT_CARD"
	ErrNoEligibleRecipient ErrorCode = "NO_ELIGIBLE_RECIPIENT"
)

// 任务生命周期错误码
const (
	ErrTaskNotFound          ErrorCode = "TASK_NOT_FOUND"
	ErrIllegalTransition     ErrorCode = "ILLEGAL_TRANSITION"
	ErrProgressRegression    ErrorCode = "PROGRESS_REGRESSION"
	ErrTaskNotTransitionable ErrorCode = "TASK_NOT_TRANSITIONABLE"
)

// 投递错误码
const (
	ErrTimeout           ErrorCode = "TIMEOUT"
	ErrTransport         ErrorCode = "TRANSPORT_ERROR"
	ErrRateLimited       ErrorCode = "RATE_LIMITED"
	ErrProtocolViolation ErrorCode = "PROTOCOL_VIOLATION"
	ErrRetryExhausted    ErrorCode = "RETRY_EXHAUSTED"
	ErrInternalError     ErrorCode = "INTERNAL_ERROR"
)

// knownCodes 是可以出现在 error 报文 error_code 字段中的全部取值
var knownCodes = map[ErrorCode]struct{}{
	ErrInvalidMessageFormat:    {},
	ErrPayloadValidationFailed: {},
	ErrUnsupportedMessageType:  {},
	ErrInvalidTaskType:         {},
	ErrCapabilityMismatch:      {},
	ErrAgentNotFound:           {},
	ErrInvalidAgentCard:        {},
	ErrNoEligibleRecipient:     {},
	ErrTaskNotFound:            {},
	ErrIllegalTransition:       {},
	ErrProgressRegression:      {},
	ErrTaskNotTransitionable:   {},
	ErrTimeout:                 {},
	ErrTransport:               {},
	ErrRateLimited:             {},
	ErrProtocolViolation:       {},
	ErrRetryExhausted:          {},
	ErrInternalError:           {},
}

// IsValid reports whether the code belongs to the fixed enumeration.
func (c ErrorCode) IsValid() bool {
	_, ok := knownCodes[c]
	return ok
}

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code       ErrorCode      `json:"code"`
	Message    string         `json:"message"`
	HTTPStatus int            `json:"http_status,omitempty"`
	Retryable  bool           `json:"retryable"`
	Details    map[string]any `json:"details,omitempty"`
	Cause      error          `json:"-"`
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
// Retryable and HTTPStatus start from the defaults of the code.
func NewError(code ErrorCode, message string) *Error {
	return &Error{
		Code:       code,
		Message:    message,
		HTTPStatus: HTTPStatusFor(code),
		Retryable:  DefaultRetryable(code),
	}
}

// Errorf creates a new Error with a formatted message.
func Errorf(code ErrorCode, format string, args ...any) *Error {
	return NewError(code, fmt.Sprintf(format, args...))
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

// WithDetail attaches a single detail entry.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// AsError extracts a *Error from an error chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsRetryable checks if an error is retryable.
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

// IsCode reports whether any *Error in the chain carries the code.
func IsCode(err error, code ErrorCode) bool {
	return err != nil && GetErrorCode(err) == code
}

// DefaultRetryable 返回错误码的默认重试语义
// 超时、内部错误、传输层失败与限流可重试，其余（校验、能力、生命周期）均为终态错误
func DefaultRetryable(code ErrorCode) bool {
	switch code {
	case ErrTimeout, ErrInternalError, ErrTransport, ErrRateLimited:
		return true
	default:
		return false
	}
}

// HTTPStatusFor 返回错误码对应的 HTTP 状态码
func HTTPStatusFor(code ErrorCode) int {
	switch code {
	case ErrInvalidMessageFormat, ErrPayloadValidationFailed, ErrUnsupportedMessageType, ErrInvalidAgentCard:
		return http.StatusBadRequest
	case ErrAgentNotFound, ErrTaskNotFound:
		return http.StatusNotFound
	case ErrIllegalTransition, ErrProgressRegression, ErrTaskNotTransitionable, ErrProtocolViolation:
		return http.StatusConflict
	case ErrCapabilityMismatch, ErrInvalidTaskType, ErrNoEligibleRecipient:
		return http.StatusUnprocessableEntity
	case ErrRateLimited:
		return http.StatusTooManyRequests
	case ErrTimeout:
		return http.StatusGatewayTimeout
	case ErrTransport:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
