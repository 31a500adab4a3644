package api

import (
	"errors"
	"fmt"
)

var (
	// ErrFetchFailure matches every error caused by the backend being
	// unreachable or answering with a non-success status.
	ErrFetchFailure = errors.New("fetch failure")

	// ErrNotFound is returned when the backend answers 404
	ErrNotFound = errors.New("resource not found")

	// ErrBadRequest is returned when the backend rejects the payload
	ErrBadRequest = errors.New("bad request")

	// ErrRateLimited is returned when rate limited
	ErrRateLimited = errors.New("rate limited")

	// ErrServerError is returned for 5xx answers
	ErrServerError = errors.New("server error")

	// ErrCircuitOpen is returned without contacting the backend while the
	// circuit breaker is open
	ErrCircuitOpen = errors.New("backend circuit open")

	// ErrMalformedResponse is returned when the body is not the expected JSON shape
	ErrMalformedResponse = errors.New("malformed response")

	// ErrInvalidInput is returned before any request is made
	ErrInvalidInput = errors.New("invalid input")
)

// Error is a failed exchange with the backend.
type Error struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"statusCode,omitempty"`
	RequestID  string `json:"requestId,omitempty"`
	Err        error  `json:"-"`
}

// Error implements the error interface
func (e *Error) Error() string {
	msg := e.Code
	if e.Message != "" {
		msg = fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the wrapped error
func (e *Error) Unwrap() error {
	return e.Err
}

// Is makes every *Error match ErrFetchFailure.
func (e *Error) Is(target error) bool {
	return target == ErrFetchFailure
}

// IsFetchFailure reports whether err came from talking to the backend.
func IsFetchFailure(err error) bool {
	return errors.Is(err, ErrFetchFailure)
}

// IsRetryable checks if error is transient
func IsRetryable(err error) bool {
	if errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrServerError) ||
		errors.Is(err, ErrCircuitOpen) {
		return true
	}

	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == codeNetwork
	}
	return false
}
