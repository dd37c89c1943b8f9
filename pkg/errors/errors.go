package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrTokenNotFound   = errors.New("token not found")
	ErrDocumentMissing = errors.New("document not found")
	ErrInvalidInput    = errors.New("invalid input")
	ErrCorruptRecord   = errors.New("corrupt index record")
	ErrDocOrder        = errors.New("doc id ordering violated")
	ErrSwapFailed      = errors.New("base segment swap failed")
	ErrEngineClosed    = errors.New("index engine closed")
	ErrReadOnly        = errors.New("index engine is read-only")
	ErrTableFull       = errors.New("dictionary hash table full")
	ErrInternal        = errors.New("internal error")
	ErrTimeout         = errors.New("operation timed out")

	ErrCompactionStopped = errors.New("compaction stopped")

	ErrIdempotencyConflict = errors.New("idempotency key conflict")
)

type AppError struct {
	Err        error
	Message    string
	StatusCode int
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
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

func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrTokenNotFound), errors.Is(err, ErrDocumentMissing):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrIdempotencyConflict):
		return http.StatusConflict
	case errors.Is(err, ErrReadOnly):
		return http.StatusMethodNotAllowed
	case errors.Is(err, ErrEngineClosed), errors.Is(err, ErrTimeout), errors.Is(err, ErrCompactionStopped):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
