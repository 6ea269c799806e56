package domain

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by the relay, the coordinator and the dispatcher.
var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidState    = errors.New("invalid state")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrStorage         = errors.New("storage error")
)

// ErrCallInProgress is returned when a pair already has a live call.
var ErrCallInProgress = fmt.Errorf("%w: a call between these users is already in progress", ErrInvalidState)

// StorageError wraps a persistence failure with the operation that failed.
type StorageError struct {
	Op  string
	Err error
}

// NewStorageError wraps err. A nil err yields nil.
func NewStorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrStorage) hold for every StorageError.
func (e *StorageError) Is(target error) bool { return target == ErrStorage }

// Invalidf builds an ErrInvalidArgument with detail.
func Invalidf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// Error codes
const (
	ErrCodeUnauthorized    = "UNAUTHORIZED"
	ErrCodeNotFound        = "NOT_FOUND"
	ErrCodeInvalidState    = "INVALID_STATE"
	ErrCodeInvalidArgument = "INVALID_ARGUMENT"
	ErrCodeStorage         = "STORAGE_ERROR"
	ErrCodeInternalError   = "INTERNAL_ERROR"
)

// ErrorCode maps err onto a wire error code.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return ErrCodeNotFound
	case errors.Is(err, ErrInvalidState):
		return ErrCodeInvalidState
	case errors.Is(err, ErrInvalidArgument):
		return ErrCodeInvalidArgument
	case errors.Is(err, ErrStorage):
		return ErrCodeStorage
	default:
		return ErrCodeInternalError
	}
}

// PublicMessage returns a client-safe description of err. Storage and
// internal failures are not echoed verbatim.
func PublicMessage(err error) string {
	switch ErrorCode(err) {
	case ErrCodeStorage:
		return "storage temporarily unavailable"
	case ErrCodeInternalError:
		return "internal error"
	default:
		return err.Error()
	}
}
