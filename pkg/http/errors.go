package http

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes shared by the client, the tracker and the companion server.
const (
	CodeValidation      = "ERR_VALIDATION"
	CodeTransport       = "ERR_TRANSPORT"
	CodeJobExpired      = "ERR_JOB_EXPIRED"
	CodeTimeout         = "ERR_TIMEOUT"
	CodeServerRejection = "ERR_SERVER_REJECTION"
	CodeParse           = "ERR_PARSE"
	CodeNotFound        = "ERR_NOT_FOUND"
	CodeBadRequest      = "ERR_BAD_REQUEST"
	CodeConflict        = "ERR_CONFLICT"
	CodeTooManyRequests = "ERR_TOO_MANY_REQUESTS"
	CodeInternal        = "ERR_INTERNAL"
)

// AppError represents application-level error with HTTP status.
type AppError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Field   string                 `json:"field,omitempty"`
	Params  map[string]interface{} `json:"params,omitempty"`
	Status  int                    `json:"-"`
	Err     error                  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError creates a new application error.
func NewAppError(code, field, message string, status int) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Field:   field,
		Status:  status,
	}
}

// WithParam sets a single error param.
func (e *AppError) WithParam(key string, value interface{}) *AppError {
	if e.Params == nil {
		e.Params = make(map[string]interface{})
	}
	e.Params[key] = value
	return e
}

// WithError wraps an underlying error.
func (e *AppError) WithError(err error) *AppError {
	e.Err = err
	return e
}

// HasCode reports whether err carries an AppError with the given code.
func HasCode(err error, code string) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == code
}

// CodeOf returns the AppError code of err, or "" when err is not an AppError.
func CodeOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// NewValidationError rejects user input locally; it never reaches the backend.
func NewValidationError(field, message string) *AppError {
	return NewAppError(CodeValidation, field, message, http.StatusBadRequest)
}

// TransportError marks a channel-level or network failure.
func TransportError(err error) *AppError {
	return NewAppError(CodeTransport, "", "transport failure", http.StatusBadGateway).WithError(err)
}

// JobExpiredError is returned when the backend no longer knows the job.
func JobExpiredError(id string) *AppError {
	return NewAppError(CodeJobExpired, "", "analysis job expired", http.StatusNotFound).WithParam("analysis_id", id)
}

// TimeoutError is returned when the polling retry ceiling is exhausted.
func TimeoutError(attempts int) *AppError {
	return NewAppError(CodeTimeout, "", "connection timed out", http.StatusGatewayTimeout).WithParam("attempts", attempts)
}

// ServerRejection carries the backend's detail message, or a generic one when it sent none.
func ServerRejection(status int, detail string) *AppError {
	if detail == "" {
		detail = fmt.Sprintf("request failed with status %d", status)
	}
	return NewAppError(CodeServerRejection, "", detail, status)
}

// ParseError marks a malformed payload.
func ParseError(err error) *AppError {
	return NewAppError(CodeParse, "", "malformed payload", http.StatusUnprocessableEntity).WithError(err)
}

// NotFoundErrorf creates a 404 error with formatting.
func NotFoundErrorf(format string, a ...interface{}) *AppError {
	return NewAppError(CodeNotFound, "", fmt.Sprintf(format, a...), http.StatusNotFound)
}

// BadRequestError creates a 400 error.
func BadRequestError(message string) *AppError {
	return NewAppError(CodeBadRequest, "", message, http.StatusBadRequest)
}

// ConflictError creates a 409 error.
func ConflictError(message string) *AppError {
	return NewAppError(CodeConflict, "", message, http.StatusConflict)
}

// TooManyRequestsError creates a 429 error.
func TooManyRequestsError(message string) *AppError {
	return NewAppError(CodeTooManyRequests, "", message, http.StatusTooManyRequests)
}

// InternalError creates a 500 error.
func InternalError(message string) *AppError {
	return NewAppError(CodeInternal, "", message, http.StatusInternalServerError)
}
