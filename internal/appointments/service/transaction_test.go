package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"edubook/internal/appointments/lock"
	apperrors "edubook/pkg/errors"
	"edubook/pkg/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestGetTransactionStatus(t *testing.T) {
	h := newHarness(t)
	s := requireSuccess(t, h.svc.CreateAppointmentAtomic(context.Background(), bookingRequest("14:00", "15:00")))

	t.Run("found", func(t *testing.T) {
		report, err := h.svc.GetTransactionStatus(context.Background(), s.TransactionID)
		require.NoError(t, err)
		assert.True(t, report.Found)
		assert.Equal(t, model.TransactionCommitted, report.Status)
		assert.Equal(t, s.AppointmentID, report.AppointmentID)
		require.NotNil(t, report.ExpiresAt)
		assert.Equal(t, fixedNow.Add(2*time.Minute), *report.ExpiresAt)
		assert.NotNil(t, report.CompletedAt)
	})

	t.Run("unknown id", func(t *testing.T) {
		report, err := h.svc.GetTransactionStatus(context.Background(), "missing")
		require.NoError(t, err)
		assert.False(t, report.Found)
		assert.Equal(t, "Transaction not found", report.Error)
	})

	t.Run("empty id", func(t *testing.T) {
		report, err := h.svc.GetTransactionStatus(context.Background(), "")
		require.NoError(t, err)
		assert.False(t, report.Found)
	})

	t.Run("store failure", func(t *testing.T) {
		h := newHarness(t)
		h.store.findByIDErr = errors.New("connection refused")

		_, err := h.svc.GetTransactionStatus(context.Background(), "tx")
		require.Error(t, err)
		assert.True(t, apperrors.IsAppError(err))
	})
}

// seedPending stores a pending transaction that holds the lock for its key.
func seedPending(t *testing.T, h *harness, id, date string, expiresAt time.Time) {
	t.Helper()
	handle, err := h.locks.Manager.Acquire(context.Background(), lock.Key{InstructorID: testInstructorID, Date: date}, time.Second)
	require.NoError(t, err)

	h.store.PutTransaction(&model.BookingTransaction{
		ID:           id,
		UserID:       testUserID,
		InstructorID: testInstructorID,
		Date:         date,
		StartTime:    "14:00",
		EndTime:      "15:00",
		Status:       model.TransactionPending,
		LockToken:    handle.Token,
		CreatedAt:    expiresAt.Add(-2 * time.Minute),
		ExpiresAt:    expiresAt,
	})
}

func TestCleanupExpiredTransactions(t *testing.T) {
	h := newHarness(t)
	seedPending(t, h, "stale", testDate, fixedNow.Add(-time.Minute))
	seedPending(t, h, "live", "2025-09-17", fixedNow.Add(time.Minute))
	h.store.PutTransaction(&model.BookingTransaction{
		ID:        "done",
		Status:    model.TransactionCommitted,
		ExpiresAt: fixedNow.Add(-time.Hour),
	})

	report, err := h.svc.CleanupExpiredTransactions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Cleaned)
	assert.Empty(t, report.Errors)

	assert.Equal(t, model.TransactionExpired, h.store.Transaction("stale").Status)
	assert.Equal(t, model.TransactionPending, h.store.Transaction("live").Status)
	assert.Equal(t, model.TransactionCommitted, h.store.Transaction("done").Status)

	lockFree(t, h)

	entries := h.audit.Entries(model.AuditTransactionExpired)
	require.Len(t, entries, 1)
	assert.Equal(t, "stale", entries[0].TransactionID)

	again, err := h.svc.CleanupExpiredTransactions(context.Background())
	require.NoError(t, err)
	assert.Zero(t, again.Cleaned)
	assert.Empty(t, again.Errors)
	assert.Len(t, h.audit.Entries(model.AuditTransactionExpired), 1)
}

func TestCleanupExpiredTransactions_Batches(t *testing.T) {
	h := newHarness(t, func(_ *Dependencies, opts *Options) {
		opts.SweepBatchSize = 2
	})
	for i := range 5 {
		date := fmt.Sprintf("2025-09-%02d", 16+i)
		seedPending(t, h, fmt.Sprintf("tx-%d", i), date, fixedNow.Add(-time.Duration(i+1)*time.Minute))
	}

	report, err := h.svc.CleanupExpiredTransactions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, report.Cleaned)
	for _, tx := range h.store.AllTransactions() {
		assert.Equal(t, model.TransactionExpired, tx.Status)
	}
}

func TestCleanupExpiredTransactions_ConcurrentSweeps(t *testing.T) {
	h := newHarness(t)
	for i := range 10 {
		date := fmt.Sprintf("2025-10-%02d", i+1)
		seedPending(t, h, fmt.Sprintf("tx-%d", i), date, fixedNow.Add(-time.Minute))
	}

	reports := make([]*CleanupReport, 4)
	var g errgroup.Group
	for i := range reports {
		g.Go(func() error {
			var err error
			reports[i], err = h.svc.CleanupExpiredTransactions(context.Background())
			return err
		})
	}
	require.NoError(t, g.Wait())

	total := 0
	for _, r := range reports {
		total += r.Cleaned
		assert.Empty(t, r.Errors)
	}
	assert.Equal(t, 10, total)
	assert.Len(t, h.audit.Entries(model.AuditTransactionExpired), 10)
}

func TestCleanupExpiredTransactions_Errors(t *testing.T) {
	t.Run("listing fails", func(t *testing.T) {
		h := newHarness(t)
		h.store.findExpiredErr = errors.New("no reachable servers")

		report, err := h.svc.CleanupExpiredTransactions(context.Background())
		require.Error(t, err)
		assert.Zero(t, report.Cleaned)
	})

	t.Run("transition fails", func(t *testing.T) {
		h := newHarness(t)
		seedPending(t, h, "stale", testDate, fixedNow.Add(-time.Minute))
		h.store.failTransition[model.TransactionExpired] = errors.New("write concern timeout")

		report, err := h.svc.CleanupExpiredTransactions(context.Background())
		require.NoError(t, err)
		assert.Zero(t, report.Cleaned)
		require.Len(t, report.Errors, 1)
		assert.Contains(t, report.Errors[0], "stale")
		assert.Equal(t, model.TransactionPending, h.store.Transaction("stale").Status)
	})
}
