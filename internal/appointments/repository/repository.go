package repository

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
)

const (
	AppointmentsCollection        = "appointments"
	TransactionsCollection        = "booking_transactions"
	AuditCollection               = "audit_entries"
	UsersCollection               = "users"
	InstructorsCollection         = "instructors"
	AppointmentTypesCollection    = "appointment_types"
	AvailabilityWindowsCollection = "availability_windows"
	BlockedPeriodsCollection      = "blocked_periods"
)

// withTimeout wraps the context with a timeout if not already in a transaction.
// A SessionContext is returned unchanged because wrapping it would detach the
// operation from the transaction.
func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if _, ok := ctx.(mongo.SessionContext); ok {
		return ctx, func() {}
	}

	deadline, hasDeadline := ctx.Deadline()
	if hasDeadline && time.Until(deadline) < timeout {
		return context.WithCancel(ctx)
	}

	return context.WithTimeout(ctx, timeout)
}

func now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}
