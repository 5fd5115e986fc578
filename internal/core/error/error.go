package errx

import (
	"errors"
	"fmt"
	"net/http"
)

const (
	// SystemErrorMessage is a user-facing fallback when internal errors occur.
	SystemErrorMessage = "internal server error"
	// RedisErrorMessage describes Redis related failures.
	RedisErrorMessage = "redis operation failed"
	// RedisNotFoundMessage describes a missing Redis key.
	RedisNotFoundMessage = "redis key not found"
	// SQLErrorMessage describes SQLite related failures.
	SQLErrorMessage = "sql operation failed"
	// CheckpointWriteMessage describes a failed checkpoint persistence.
	CheckpointWriteMessage = "checkpoint write failed"
)

var (
	// ErrNotFound marks lookups that found nothing.
	ErrNotFound = errors.New("not found")
	// ErrCheckpointWrite marks failures to persist a checkpoint or a pending write.
	// These are the only persistence failures that surface to callers.
	ErrCheckpointWrite = errors.New("checkpoint write")
)

// Kind classifies a failure of an outbound model or tool call.
type Kind int

const (
	KindNone Kind = iota
	KindTimeout
	KindAuth
	KindBadRequest
	KindRateLimit
	KindConnectivity
	KindAPI
	KindOther
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindTimeout:
		return "timeout"
	case KindAuth:
		return "auth"
	case KindBadRequest:
		return "bad_request"
	case KindRateLimit:
		return "rate_limit"
	case KindConnectivity:
		return "connectivity"
	case KindAPI:
		return "api"
	default:
		return "other"
	}
}

// Retryable reports whether a failure of this kind is worth another attempt.
func (k Kind) Retryable() bool {
	return k == KindTimeout || k == KindRateLimit || k == KindConnectivity
}

// AppError wraps an underlying error with an HTTP status and safe message.
type AppError struct {
	Err     error
	Status  int
	Message string
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

// Unwrap exposes the underlying error for errors.Is / errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError with the provided information.
func New(err error, status int, message string) *AppError {
	return &AppError{
		Err:     err,
		Status:  status,
		Message: message,
	}
}

// WrapCheckpointWrite marks err as a checkpoint persistence failure.
func WrapCheckpointWrite(err error) error {
	if err == nil {
		return nil
	}
	return &AppError{
		Err:     fmt.Errorf("%w: %w", ErrCheckpointWrite, err),
		Status:  http.StatusServiceUnavailable,
		Message: CheckpointWriteMessage,
	}
}

// IsCheckpointWrite reports whether err came from a failed checkpoint write.
func IsCheckpointWrite(err error) bool {
	return errors.Is(err, ErrCheckpointWrite)
}

// StatusOf returns the HTTP status carried by err, or 500.
func StatusOf(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Status != 0 {
		return appErr.Status
	}
	return http.StatusInternalServerError
}
