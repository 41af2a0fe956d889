package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	appointmentserrors "edubook/internal/appointments/errors"
	"edubook/internal/appointments/lock"
	apperrors "edubook/pkg/errors"
	"edubook/pkg/model"

	"golang.org/x/sync/errgroup"
)

const (
	transactionNotFound = "Transaction not found"
	sweepConcurrency    = 8
)

type TransactionStatusReport struct {
	Found         bool                    `json:"found"`
	TransactionID string                  `json:"transaction_id,omitempty"`
	Status        model.TransactionStatus `json:"status,omitempty"`
	AppointmentID string                  `json:"appointment_id,omitempty"`
	FailureCode   string                  `json:"failure_code,omitempty"`
	CreatedAt     *time.Time              `json:"created_at,omitempty"`
	ExpiresAt     *time.Time              `json:"expires_at,omitempty"`
	CompletedAt   *time.Time              `json:"completed_at,omitempty"`
	Error         string                  `json:"error,omitempty"`
}

// GetTransactionStatus reports a transaction's state. An unknown id is not
// an error; it yields Found == false.
func (s *bookingService) GetTransactionStatus(ctx context.Context, id string) (*TransactionStatusReport, error) {
	if id == "" {
		return &TransactionStatusReport{Found: false, Error: transactionNotFound}, nil
	}

	tx, err := s.transactions.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, appointmentserrors.ErrNotFound) {
			return &TransactionStatusReport{Found: false, TransactionID: id, Error: transactionNotFound}, nil
		}
		s.log.Error("Failed to read booking transaction", "transaction_id", id, "error", err)
		return nil, apperrors.Internal("Failed to retrieve transaction", err)
	}

	createdAt, expiresAt := tx.CreatedAt, tx.ExpiresAt
	return &TransactionStatusReport{
		Found:         true,
		TransactionID: tx.ID,
		Status:        tx.Status,
		AppointmentID: tx.AppointmentID,
		FailureCode:   tx.FailureCode,
		CreatedAt:     &createdAt,
		ExpiresAt:     &expiresAt,
		CompletedAt:   tx.CompletedAt,
	}, nil
}

type CleanupReport struct {
	Cleaned int      `json:"cleaned"`
	Errors  []string `json:"errors"`
}

func (r *CleanupReport) addError(mu *sync.Mutex, format string, args ...any) {
	mu.Lock()
	defer mu.Unlock()
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

// CleanupExpiredTransactions expires every pending transaction whose
// deadline has passed and frees the lock it may still hold. Running it
// again, or concurrently with another sweep, is harmless: the conditional
// status update lets exactly one caller expire each transaction.
func (s *bookingService) CleanupExpiredTransactions(ctx context.Context) (*CleanupReport, error) {
	report := &CleanupReport{Errors: []string{}}
	cutoff := s.opts.Now()

	for {
		batch, err := s.transactions.FindExpiredPending(ctx, cutoff, s.opts.SweepBatchSize)
		if err != nil {
			s.log.Error("Failed to load expired booking transactions", "error", err)
			return report, apperrors.Internal("Failed to load expired transactions", err)
		}
		if len(batch) == 0 {
			break
		}

		cleaned := s.expireBatch(ctx, batch, report)
		report.Cleaned += cleaned
		if cleaned == 0 || len(batch) < s.opts.SweepBatchSize {
			break
		}
	}

	if report.Cleaned > 0 || len(report.Errors) > 0 {
		s.log.Info("Expired booking transactions cleaned up",
			"cleaned", report.Cleaned,
			"errors", len(report.Errors),
		)
	}
	return report, nil
}

func (s *bookingService) expireBatch(ctx context.Context, batch []*model.BookingTransaction, report *CleanupReport) int {
	var (
		mu      sync.Mutex
		cleaned int
		g       errgroup.Group
	)
	g.SetLimit(sweepConcurrency)

	for _, tx := range batch {
		g.Go(func() error {
			if !s.expire(ctx, tx, report, &mu) {
				return nil
			}
			mu.Lock()
			cleaned++
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return cleaned
}

// expire reports whether this call moved tx to expired.
func (s *bookingService) expire(ctx context.Context, tx *model.BookingTransaction, report *CleanupReport, mu *sync.Mutex) bool {
	err := s.transactions.Transition(ctx, tx.ID, model.TransactionUpdate{
		Status:      model.TransactionExpired,
		CompletedAt: s.opts.Now(),
	})
	if err != nil {
		if errors.Is(err, appointmentserrors.ErrInvalidTransition) {
			return false
		}
		report.addError(mu, "transaction %s: %v", tx.ID, err)
		return false
	}

	if tx.LockToken != "" {
		handle := &lock.Handle{
			Key:   lock.Key{InstructorID: tx.InstructorID, Date: tx.Date},
			Token: tx.LockToken,
		}
		if err := s.locks.Release(ctx, handle); err != nil {
			report.addError(mu, "transaction %s: release lock: %v", tx.ID, err)
		}
	}

	s.record(context.WithoutCancel(ctx), &model.AuditEntry{
		ID:            s.opts.NewID(),
		UserID:        tx.UserID,
		EventType:     model.AuditTransactionExpired,
		TransactionID: tx.ID,
		Timestamp:     s.opts.Now(),
		Metadata: map[string]any{
			"instructor_id": tx.InstructorID,
			"date":          tx.Date,
			"start_time":    tx.StartTime,
			"end_time":      tx.EndTime,
			"expires_at":    tx.ExpiresAt,
		},
	})
	return true
}
