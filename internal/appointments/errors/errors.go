package errors

import "errors"

// ErrorCode is the closed set of booking failure outcomes.
type ErrorCode string

const (
	CodeValidationFailed      ErrorCode = "VALIDATION_FAILED"
	CodeLockAcquisitionFailed ErrorCode = "LOCK_ACQUISITION_FAILED"
	CodeSlotNotAvailable      ErrorCode = "SLOT_NOT_AVAILABLE"
	CodeCreationFailed        ErrorCode = "CREATION_FAILED"
	CodeCommitFailed          ErrorCode = "COMMIT_FAILED"
	CodeSystemError           ErrorCode = "SYSTEM_ERROR"
	CodeMaxRetriesExceeded    ErrorCode = "MAX_RETRIES_EXCEEDED"
)

// Retryable reports whether another attempt of the same request may succeed.
func (c ErrorCode) Retryable() bool {
	switch c {
	case CodeLockAcquisitionFailed, CodeSlotNotAvailable, CodeSystemError:
		return true
	}
	return false
}

func (c ErrorCode) String() string {
	return string(c)
}

var (
	ErrNotFound = errors.New("record not found")

	ErrInvalidID = errors.New("invalid ID format")

	// ErrInvalidTransition is returned when a transaction is no longer pending.
	ErrInvalidTransition = errors.New("transaction is not pending")

	ErrDuplicate = errors.New("record already exists")
)
