package models

import (
	"errors"
	"fmt"
)

// Error codes used in API responses and internal error handling.
const (
	ErrCodeInvalidInput  = "INVALID_INPUT"
	ErrCodeInvalidConfig = "INVALID_CONFIG"
	ErrCodeJobFailed     = "JOB_FAILED"
	ErrCodeCircuitOpen   = "CIRCUIT_OPEN"
	ErrCodeCancelled     = "CANCELLED"
	ErrCodeRateLimited   = "RATE_LIMITED"
	ErrCodeUnauthorized  = "UNAUTHORIZED"
	ErrCodeInternal      = "INTERNAL_ERROR"
)

// ErrCancelled marks a step aborted by context cancellation. Cancellation is
// a distinct outcome from failure: it is never retried and never counted
// against the circuit breaker.
var ErrCancelled = errors.New("workflow cancelled")

// ErrorDetail is the structured error in API responses.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorResponse is the envelope every non-2xx API response carries.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// NewErrorResponse wraps a code and message in the response envelope.
func NewErrorResponse(code, message string) ErrorResponse {
	return ErrorResponse{Error: ErrorDetail{Code: code, Message: message}}
}

// JobError is the internal error type carrying an error code.
// It implements the error interface and supports error wrapping via Unwrap.
type JobError struct {
	Code    string
	Message string
	Err     error // wrapped original error
}

func (e *JobError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *JobError) Unwrap() error {
	return e.Err
}

// NewJobError creates a new JobError.
func NewJobError(code, message string, err error) *JobError {
	return &JobError{Code: code, Message: message, Err: err}
}

// ToDetail converts an internal error to an API-facing ErrorDetail.
func (e *JobError) ToDetail() *ErrorDetail {
	return &ErrorDetail{Code: e.Code, Message: e.Message}
}
