package common

import (
	"context"
	"errors"
	"net/http"
)

// ErrorKind classifies failures so callers can decide how to recover.
type ErrorKind string

const (
	// KindConfiguration marks missing or malformed credentials.
	KindConfiguration ErrorKind = "configuration"
	// KindValidation marks rejected caller input; no state was mutated.
	KindValidation ErrorKind = "validation"
	// KindTransport marks network failures or timeouts talking to the processor.
	KindTransport ErrorKind = "transport"
	// KindAPI marks a processor response that is not a success envelope.
	KindAPI ErrorKind = "api"
	// KindNotFound marks an absent local order or processor-side record.
	KindNotFound ErrorKind = "not_found"
	// KindInternal marks everything else (storage failures, bugs).
	KindInternal ErrorKind = "internal"
)

// AppError represents an error with an attached code and HTTP status.
type AppError struct {
	Code       string
	Message    string
	HTTPStatus int
	Kind       ErrorKind
	Err        error
	Details    any
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		if e.Message != "" {
			return e.Message + ": " + e.Err.Error()
		}
		return e.Err.Error()
	}
	return e.Message
}

// Unwrap allows errors.Is/As to inspect the underlying error.
func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewAppError constructs an AppError.
func NewAppError(code, message string, status int, err error) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: status, Kind: kindForStatus(status), Err: err}
}

// NewKindError constructs an AppError with an explicit kind.
func NewKindError(kind ErrorKind, code, message string, err error) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: statusForKind(kind), Kind: kind, Err: err}
}

// IsAppError checks whether the error is an AppError.
func IsAppError(err error) bool {
	var target *AppError
	return errors.As(err, &target)
}

// KindOf reports the kind of err. Context deadlines count as transport failures.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Kind != "" {
		return appErr.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindTransport
	}
	return KindInternal
}

// CodeOf returns the AppError code or fallback.
func CodeOf(err error, fallback string) string {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Code != "" {
		return appErr.Code
	}
	return fallback
}

// WriteError renders err using the canonical error shape.
func WriteError(w http.ResponseWriter, err error) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		status := appErr.HTTPStatus
		if status == 0 {
			status = statusForKind(appErr.Kind)
		}
		JSONError(w, status, appErr.Code, appErr.Message, appErr.Details)
		return
	}
	JSONError(w, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
}

func statusForKind(kind ErrorKind) int {
	switch kind {
	case KindConfiguration:
		return http.StatusServiceUnavailable
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindTransport:
		return http.StatusGatewayTimeout
	case KindAPI:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func kindForStatus(status int) ErrorKind {
	switch {
	case status == http.StatusNotFound:
		return KindNotFound
	case status >= 400 && status < 500:
		return KindValidation
	default:
		return KindInternal
	}
}
