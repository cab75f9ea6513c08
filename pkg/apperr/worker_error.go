// Package apperr is the closed error taxonomy the sync engine and its
// adapters classify every failure into. Retry policy dispatches on the
// taxon (Code), never on a string match against an error message.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Taxon codes, per the error handling design.
const (
	CodeConfigError       = "CONFIG_ERROR"       // fatal to the process
	CodeAuthFailure       = "AUTH_FAILURE"        // fatal to the tick, cursor -> error
	CodeNetwork           = "NETWORK"             // transient, retried
	CodeRateLimited       = "RATE_LIMITED"        // transient, retried with longer backoff
	CodeProtocol          = "PROTOCOL"            // fatal to the tick, no retry
	CodeStoreUnavailable  = "STORE_UNAVAILABLE"   // transient, retried
	CodeIntegrityViolation = "INTEGRITY_VIOLATION" // fatal to the tick, repair recommended
	CodeCancelled         = "CANCELLED"           // clean abort, never recorded as an error

	// Ambient HTTP-layer codes used only by the listener (C5), not part of
	// the engine's retry taxonomy.
	CodeBadRequest  = "BAD_REQUEST"
	CodeUnauthorized = "UNAUTHORIZED"
	CodeNotFound    = "NOT_FOUND"
	CodeInternal    = "INTERNAL_ERROR"
)

// AppError is a structured, classified error.
type AppError struct {
	Code    string
	Message string
	Status  int
	Details map[string]any
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error { return e.Err }

func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// Taxon constructors — §7.

func ConfigError(message string) *AppError {
	return &AppError{Code: CodeConfigError, Message: message, Status: http.StatusInternalServerError}
}

func AuthFailure(message string, err error) *AppError {
	return &AppError{Code: CodeAuthFailure, Message: message, Status: http.StatusUnauthorized, Err: err}
}

func Network(message string, err error) *AppError {
	return &AppError{Code: CodeNetwork, Message: message, Status: http.StatusBadGateway, Err: err}
}

func RateLimited(message string, err error) *AppError {
	return &AppError{Code: CodeRateLimited, Message: message, Status: http.StatusTooManyRequests, Err: err}
}

func Protocol(message string, err error) *AppError {
	return &AppError{Code: CodeProtocol, Message: message, Status: http.StatusBadGateway, Err: err}
}

func StoreUnavailable(message string, err error) *AppError {
	return &AppError{Code: CodeStoreUnavailable, Message: message, Status: http.StatusServiceUnavailable, Err: err}
}

func IntegrityViolation(message string, err error) *AppError {
	return &AppError{Code: CodeIntegrityViolation, Message: message, Status: http.StatusConflict, Err: err}
}

func Cancelled(err error) *AppError {
	return &AppError{Code: CodeCancelled, Message: "operation cancelled", Status: http.StatusRequestTimeout, Err: err}
}

// HTTP-layer constructors used by the listener, not by the engine's retry
// policy.

func BadRequest(message string) *AppError {
	return &AppError{Code: CodeBadRequest, Message: message, Status: http.StatusBadRequest}
}

func Unauthorized(message string) *AppError {
	if message == "" {
		message = "unauthorized"
	}
	return &AppError{Code: CodeUnauthorized, Message: message, Status: http.StatusUnauthorized}
}

func NotFound(resource string) *AppError {
	return &AppError{Code: CodeNotFound, Message: fmt.Sprintf("%s not found", resource), Status: http.StatusNotFound}
}

func Internal(message string, err error) *AppError {
	if message == "" {
		message = "internal server error"
	}
	return &AppError{Code: CodeInternal, Message: message, Status: http.StatusInternalServerError, Err: err}
}

// IsRetryable reports whether the taxon is one C4 retries with backoff
// (Network, RateLimited, StoreUnavailable). AuthFailure is handled by the
// single refresh-then-retry path, not generic backoff; Protocol,
// ConfigError, and IntegrityViolation are never retried.
func IsRetryable(err error) bool {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return false
	}
	switch appErr.Code {
	case CodeNetwork, CodeRateLimited, CodeStoreUnavailable:
		return true
	default:
		return false
	}
}

// IsAuthFailure reports whether err is (or wraps) an AuthFailure.
func IsAuthFailure(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == CodeAuthFailure
}

// IsCancelled reports whether err is (or wraps) a Cancelled error.
func IsCancelled(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == CodeCancelled
}

func AsAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return Internal("", err)
}

func GetHTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Status
	}
	return http.StatusInternalServerError
}
