package model

import "time"

type TransactionStatus string

const (
	TransactionPending    TransactionStatus = "pending"
	TransactionCommitted  TransactionStatus = "committed"
	TransactionRolledBack TransactionStatus = "rolled_back"
	TransactionExpired    TransactionStatus = "expired"
)

func (s TransactionStatus) IsTerminal() bool {
	switch s {
	case TransactionCommitted, TransactionRolledBack, TransactionExpired:
		return true
	}
	return false
}

// CanTransitionTo enforces the one-way pending -> terminal life cycle.
func (s TransactionStatus) CanTransitionTo(next TransactionStatus) bool {
	return s == TransactionPending && next.IsTerminal()
}

// BookingTransaction is the unit of atomicity for one booking attempt. Its
// time window is fixed at creation.
type BookingTransaction struct {
	ID                string            `json:"id" bson:"_id"`
	UserID            string            `json:"user_id" bson:"user_id"`
	InstructorID      string            `json:"instructor_id" bson:"instructor_id"`
	AppointmentTypeID string            `json:"appointment_type_id" bson:"appointment_type_id"`
	Date              string            `json:"date" bson:"date"`
	StartTime         string            `json:"start_time" bson:"start_time"`
	EndTime           string            `json:"end_time" bson:"end_time"`
	Status            TransactionStatus `json:"status" bson:"status"`
	LockToken         string            `json:"-" bson:"lock_token"`
	AppointmentID     string            `json:"appointment_id,omitempty" bson:"appointment_id,omitempty"`
	FailureCode       string            `json:"failure_code,omitempty" bson:"failure_code,omitempty"`
	CreatedAt         time.Time         `json:"created_at" bson:"created_at"`
	ExpiresAt         time.Time         `json:"expires_at" bson:"expires_at"`
	CompletedAt       *time.Time        `json:"completed_at,omitempty" bson:"completed_at,omitempty"`
}

// TransactionUpdate carries the fields written together with a status change.
type TransactionUpdate struct {
	Status        TransactionStatus
	AppointmentID string
	FailureCode   string
	CompletedAt   time.Time
}
