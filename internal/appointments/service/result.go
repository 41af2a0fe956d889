package service

import (
	"fmt"

	"edubook/internal/appointments/conflict"
	appointmentserrors "edubook/internal/appointments/errors"
	"edubook/internal/appointments/validator"
)

// Result is the outcome of a booking attempt: either *Success or *Failure.
type Result interface {
	ToResponse() Response
	isResult()
}

type Success struct {
	AppointmentID string
	TransactionID string
	AuditID       string
	LockAcquired  bool
	Attempts      int
}

func (*Success) isResult() {}

func (s *Success) ToResponse() Response {
	return Response{
		Success:       true,
		AppointmentID: s.AppointmentID,
		TransactionID: s.TransactionID,
		LockAcquired:  s.LockAcquired,
		AuditID:       s.AuditID,
		Attempts:      s.Attempts,
	}
}

// Failure carries a stable code and a user-facing message. ConflictDetails is
// set for every SLOT_NOT_AVAILABLE, and for MAX_RETRIES_EXCEEDED when the
// last attempt lost on a conflict.
type Failure struct {
	Code             appointmentserrors.ErrorCode
	Message          string
	TransactionID    string
	AuditID          string
	LockAcquired     bool
	ConflictDetails  *conflict.Details
	ValidationErrors validator.ValidationErrors
	// LastCode is the cause of the final attempt when Code is
	// MAX_RETRIES_EXCEEDED.
	LastCode appointmentserrors.ErrorCode
	Attempts int
	Err      error
}

func (*Failure) isResult() {}

func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s: %s: %v", f.Code, f.Message, f.Err)
	}
	return fmt.Sprintf("%s: %s", f.Code, f.Message)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

func (f *Failure) Retryable() bool {
	return f.Code.Retryable()
}

func (f *Failure) ToResponse() Response {
	return Response{
		Success:          false,
		TransactionID:    f.TransactionID,
		LockAcquired:     f.LockAcquired,
		AuditID:          f.AuditID,
		ErrorCode:        string(f.Code),
		Error:            f.Message,
		LastErrorCode:    string(f.LastCode),
		ConflictDetails:  f.ConflictDetails,
		ValidationErrors: f.ValidationErrors,
		Attempts:         f.Attempts,
	}
}

// Response is the flat JSON form of a Result.
type Response struct {
	Success          bool                       `json:"success"`
	AppointmentID    string                     `json:"appointment_id,omitempty"`
	TransactionID    string                     `json:"transaction_id,omitempty"`
	LockAcquired     bool                       `json:"lock_acquired"`
	AuditID          string                     `json:"audit_id,omitempty"`
	ErrorCode        string                     `json:"error_code,omitempty"`
	Error            string                     `json:"error,omitempty"`
	LastErrorCode    string                     `json:"last_error_code,omitempty"`
	ConflictDetails  *conflict.Details          `json:"conflict_details,omitempty"`
	ValidationErrors validator.ValidationErrors `json:"validation_errors,omitempty"`
	Attempts         int                        `json:"attempts"`
}

func fail(code appointmentserrors.ErrorCode, message string, err error) *Failure {
	return &Failure{Code: code, Message: message, Err: err, Attempts: 1}
}
