// Package errors defines the error taxonomy shared by the parser, embedder,
// ingestion pipeline and retrieval engine. Errors carry their failure class
// from the point they are raised so the pipeline never has to guess
// retryability from message text.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrUnsupportedFormat    = errors.New("unsupported format")
	ErrParseFailure         = errors.New("parse failure")
	ErrValidationFailure    = errors.New("validation failure")
	ErrUploadFailed         = errors.New("upload failed")
	ErrProcessingFailed     = errors.New("processing failed")
	ErrNotFound             = errors.New("not found")
	ErrEmbeddingUnavailable = errors.New("embedding backend unavailable")
	ErrInvalidInput         = errors.New("invalid input")
	ErrStatusConflict       = errors.New("status conflict")
	ErrPipelineBusy         = errors.New("pipeline already running")
	ErrRetryNotAllowed      = errors.New("retry not allowed")
	ErrTimeout              = errors.New("operation timed out")
)

// FailureClass is the pipeline-level bucket an error falls into.
type FailureClass string

const (
	ClassNone             FailureClass = "none"
	ClassUploadFailed     FailureClass = "upload_failed"
	ClassProcessingFailed FailureClass = "processing_failed"
)

// Retryable reports whether re-running the pipeline against the same stored
// bytes may succeed.
func (c FailureClass) Retryable() bool {
	return c == ClassProcessingFailed
}

// AppError pairs a sentinel with a human-readable message, an HTTP status
// and an optional underlying cause.
type AppError struct {
	Err        error
	Message    string
	StatusCode int
	Cause      error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Err.Error(), e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Err, e.Cause}
	}
	return []error{e.Err}
}

// Class returns the failure class implied by the sentinel.
func (e *AppError) Class() FailureClass {
	return sentinelClass(e.Err)
}

func New(sentinel error, statusCode int, message string) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    message,
		StatusCode: statusCode,
	}
}

func Newf(sentinel error, statusCode int, format string, args ...any) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    fmt.Sprintf(format, args...),
		StatusCode: statusCode,
	}
}

// Wrap attaches cause to a new AppError built from sentinel.
func Wrap(sentinel error, cause error, format string, args ...any) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    fmt.Sprintf(format, args...),
		StatusCode: statusFor(sentinel),
		Cause:      cause,
	}
}

func UnsupportedFormat(mediaType string) *AppError {
	return Newf(ErrUnsupportedFormat, http.StatusUnsupportedMediaType, "media type %q is not supported", mediaType)
}

func ParseFailure(cause error, format string, args ...any) *AppError {
	return Wrap(ErrParseFailure, cause, format, args...)
}

func ValidationFailure(format string, args ...any) *AppError {
	return Newf(ErrValidationFailure, http.StatusUnprocessableEntity, format, args...)
}

func UploadFailed(cause error, format string, args ...any) *AppError {
	return Wrap(ErrUploadFailed, cause, format, args...)
}

func ProcessingFailed(cause error, format string, args ...any) *AppError {
	return Wrap(ErrProcessingFailed, cause, format, args...)
}

func NotFound(format string, args ...any) *AppError {
	return Newf(ErrNotFound, http.StatusNotFound, format, args...)
}

// Classify maps an arbitrary error onto a pipeline failure class. A deadline
// or cancellation anywhere in the chain is processing_failed, whatever the
// step that hit it wrapped it in. Otherwise the first AppError decides, bare
// sentinels are mapped directly and anything unknown is processing_failed.
func Classify(err error) FailureClass {
	if err == nil {
		return ClassNone
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ClassProcessingFailed
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Class()
	}
	return sentinelClass(err)
}

func sentinelClass(err error) FailureClass {
	switch {
	case errors.Is(err, ErrUploadFailed),
		errors.Is(err, ErrUnsupportedFormat),
		errors.Is(err, ErrNotFound):
		return ClassUploadFailed
	default:
		return ClassProcessingFailed
	}
}

func statusFor(sentinel error) int {
	switch {
	case errors.Is(sentinel, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(sentinel, ErrUnsupportedFormat):
		return http.StatusUnsupportedMediaType
	case errors.Is(sentinel, ErrInvalidInput), errors.Is(sentinel, ErrUploadFailed):
		return http.StatusBadRequest
	case errors.Is(sentinel, ErrValidationFailure), errors.Is(sentinel, ErrParseFailure):
		return http.StatusUnprocessableEntity
	case errors.Is(sentinel, ErrStatusConflict), errors.Is(sentinel, ErrPipelineBusy),
		errors.Is(sentinel, ErrRetryNotAllowed):
		return http.StatusConflict
	case errors.Is(sentinel, ErrEmbeddingUnavailable), errors.Is(sentinel, ErrTimeout):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}
	return statusFor(err)
}
