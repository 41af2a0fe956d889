package model

import "time"

type AuditEventType string

const (
	AuditBookingAttempt     AuditEventType = "booking.attempt"
	AuditRetryExhausted     AuditEventType = "booking.retry_exhausted"
	AuditTransactionExpired AuditEventType = "booking.transaction_expired"
)

// AuditEntry is append-only.
type AuditEntry struct {
	ID            string         `json:"id" bson:"_id"`
	UserID        string         `json:"user_id" bson:"user_id"`
	EventType     AuditEventType `json:"event_type" bson:"event_type"`
	Success       bool           `json:"success" bson:"success"`
	ErrorCode     string         `json:"error_code,omitempty" bson:"error_code,omitempty"`
	Error         string         `json:"error,omitempty" bson:"error,omitempty"`
	TransactionID string         `json:"transaction_id,omitempty" bson:"transaction_id,omitempty"`
	Timestamp     time.Time      `json:"timestamp" bson:"timestamp"`
	Metadata      map[string]any `json:"metadata,omitempty" bson:"metadata,omitempty"`
}
