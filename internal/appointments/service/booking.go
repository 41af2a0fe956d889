package service

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"edubook/internal/appointments/audit"
	"edubook/internal/appointments/conflict"
	appointmentserrors "edubook/internal/appointments/errors"
	"edubook/internal/appointments/lock"
	"edubook/internal/appointments/repository"
	"edubook/internal/appointments/validator"
	"edubook/pkg/config"
	"edubook/pkg/logger"
	"edubook/pkg/model"

	"github.com/google/uuid"
)

type BookingService interface {
	CreateAppointmentAtomic(ctx context.Context, req *model.BookingRequest) Result
	CreateAppointmentWithRetry(ctx context.Context, req *model.BookingRequest, maxAttempts int) Result
	GetTransactionStatus(ctx context.Context, id string) (*TransactionStatusReport, error)
	CleanupExpiredTransactions(ctx context.Context) (*CleanupReport, error)
}

type Validator interface {
	Validate(ctx context.Context, req *model.BookingRequest) error
}

type ConflictFinder interface {
	FindConflicts(ctx context.Context, c conflict.Candidate) (*conflict.Details, error)
}

type Dependencies struct {
	Validator    Validator
	Conflicts    ConflictFinder
	Locks        lock.Manager
	Transactions repository.TransactionRepository
	Appointments repository.AppointmentRepository
	Audit        audit.Sink
}

type Options struct {
	LockTimeout    time.Duration
	TransactionTTL time.Duration
	AuditTimeout   time.Duration
	SweepBatchSize int
	Retry          RetryPolicy

	Now   func() time.Time
	NewID func() string
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		LockTimeout:    cfg.LockTimeout,
		TransactionTTL: cfg.TransactionTTL,
		AuditTimeout:   cfg.AuditTimeout,
		SweepBatchSize: cfg.SweepBatchSize,
		Retry: RetryPolicy{
			MaxAttempts: cfg.RetryMaxAttempts,
			BaseDelay:   cfg.RetryBaseDelay,
			MaxDelay:    cfg.RetryMaxDelay,
		},
	}
}

type bookingService struct {
	validator    Validator
	conflicts    ConflictFinder
	locks        lock.Manager
	transactions repository.TransactionRepository
	appointments repository.AppointmentRepository
	audit        audit.Sink
	retrier      *Retrier
	opts         Options
	log          *logger.Logger
}

func NewBookingService(deps Dependencies, opts Options, log *logger.Logger) BookingService {
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = config.DefaultLockTimeout
	}
	if opts.TransactionTTL <= 0 {
		opts.TransactionTTL = config.DefaultTransactionTTL
	}
	if opts.AuditTimeout <= 0 {
		opts.AuditTimeout = config.DefaultAuditTimeout
	}
	if opts.SweepBatchSize <= 0 {
		opts.SweepBatchSize = config.DefaultSweepBatchSize
	}

	s := &bookingService{
		validator:    deps.Validator,
		conflicts:    deps.Conflicts,
		locks:        deps.Locks,
		transactions: deps.Transactions,
		appointments: deps.Appointments,
		audit:        deps.Audit,
		opts:         opts,
		log:          log,
	}
	s.retrier = NewRetrier(s, opts.Retry, deps.Audit, log)
	s.retrier.now = opts.Now
	s.retrier.newID = opts.NewID
	s.retrier.auditTimeout = opts.AuditTimeout
	return s
}

// attempt is the mutable state of one CreateAppointmentAtomic call, read by
// the deferred finalizer.
type attempt struct {
	log       *logger.Logger
	req       *model.BookingRequest
	auditID   string
	started   time.Time
	handle    *lock.Handle
	tx        *model.BookingTransaction
	committed bool
}

// stepError marks which write inside the persistence transaction failed.
type stepError struct {
	code appointmentserrors.ErrorCode
	err  error
}

func (e *stepError) Error() string { return e.err.Error() }

func (e *stepError) Unwrap() error { return e.err }

// CreateAppointmentAtomic runs one booking attempt. Whatever happens, the
// lock is released, no transaction is left pending and exactly one audit
// entry is written.
func (s *bookingService) CreateAppointmentAtomic(ctx context.Context, req *model.BookingRequest) (result Result) {
	if req == nil {
		req = &model.BookingRequest{}
	}
	a := &attempt{
		req:     validator.Sanitize(req),
		auditID: s.opts.NewID(),
		started: s.opts.Now(),
	}
	a.log = s.log.Ctx(ctx).With("audit_id", a.auditID)

	// Writes and cleanup must not be cut short by the caller going away.
	detached := context.WithoutCancel(ctx)

	defer func() {
		if r := recover(); r != nil {
			a.log.Error("Booking attempt panicked",
				"panic", r,
				"stack", string(debug.Stack()),
			)
			result = fail(appointmentserrors.CodeSystemError, "An unexpected error occurred", fmt.Errorf("panic: %v", r))
		}
		result = s.finish(detached, a, result)
	}()

	return s.run(ctx, detached, a)
}

func (s *bookingService) run(ctx, detached context.Context, a *attempt) Result {
	req := a.req

	if err := s.validator.Validate(ctx, req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			f := fail(appointmentserrors.CodeValidationFailed, verrs.Error(), err)
			f.ValidationErrors = verrs
			return f
		}
		a.log.Error("Booking validation could not complete", "user_id", req.UserID, "error", err)
		return fail(appointmentserrors.CodeSystemError, "Failed to validate booking request", err)
	}

	key := lock.Key{InstructorID: req.InstructorID, Date: req.Date}
	handle, err := s.locks.Acquire(ctx, key, s.opts.LockTimeout)
	if err != nil {
		a.log.Warn("Booking lock not acquired", "key", key.String(), "timeout", s.opts.LockTimeout, "error", err)
		return fail(appointmentserrors.CodeLockAcquisitionFailed,
			"Another booking for this instructor and date is in progress, please try again", err)
	}
	a.handle = handle

	now := s.opts.Now()
	tx := &model.BookingTransaction{
		ID:                s.opts.NewID(),
		UserID:            req.UserID,
		InstructorID:      req.InstructorID,
		AppointmentTypeID: req.AppointmentTypeID,
		Date:              req.Date,
		StartTime:         req.StartTime,
		EndTime:           req.EndTime,
		Status:            model.TransactionPending,
		LockToken:         handle.Token,
		CreatedAt:         now,
		ExpiresAt:         now.Add(s.opts.TransactionTTL),
	}
	if err := s.transactions.Create(detached, tx); err != nil {
		a.log.Error("Failed to create booking transaction", "key", key.String(), "error", err)
		return fail(appointmentserrors.CodeSystemError, "Failed to start booking transaction", err)
	}
	a.tx = tx

	details, err := s.conflicts.FindConflicts(detached, conflict.Candidate{
		InstructorID: req.InstructorID,
		Date:         req.Date,
		StartTime:    req.StartTime,
		EndTime:      req.EndTime,
	})
	if err != nil {
		a.log.Error("Failed to check slot availability", "transaction_id", tx.ID, "error", err)
		return fail(appointmentserrors.CodeSystemError, "Failed to check slot availability", err)
	}
	if details != nil {
		a.log.Info("Booking slot not available",
			"transaction_id", tx.ID,
			"instructor_id", req.InstructorID,
			"date", req.Date,
			"start_time", req.StartTime,
			"end_time", req.EndTime,
			"reason", details.Reason,
		)
		f := fail(appointmentserrors.CodeSlotNotAvailable, details.Message, nil)
		f.ConflictDetails = details
		return f
	}

	appointmentID, err := s.persist(detached, a)
	if err != nil {
		var step *stepError
		if errors.As(err, &step) {
			a.log.Error("Failed to persist booking", "transaction_id", tx.ID, "code", step.code, "error", err)
			return fail(step.code, persistMessage(step.code), err)
		}
		a.log.Error("Booking persistence failed", "transaction_id", tx.ID, "error", err)
		return fail(appointmentserrors.CodeSystemError, "Failed to persist booking", err)
	}
	a.committed = true

	a.log.Info("Appointment booked",
		"appointment_id", appointmentID,
		"transaction_id", tx.ID,
		"instructor_id", req.InstructorID,
		"date", req.Date,
		"start_time", req.StartTime,
		"end_time", req.EndTime,
	)
	return &Success{AppointmentID: appointmentID, TransactionID: tx.ID, Attempts: 1}
}

// persist writes the appointment and flips the transaction to committed in
// one database transaction, fenced by the lock lease. Either both writes land
// or neither does.
func (s *bookingService) persist(ctx context.Context, a *attempt) (string, error) {
	var appointmentID string
	entered := false

	err := s.appointments.ExecuteTransaction(ctx, func(txCtx context.Context) error {
		entered = true
		appointment := model.NewAppointment(a.req, a.tx.ID)
		if err := s.appointments.Create(txCtx, appointment); err != nil {
			return &stepError{code: appointmentserrors.CodeCreationFailed, err: err}
		}

		update := model.TransactionUpdate{
			Status:        model.TransactionCommitted,
			AppointmentID: appointment.ID,
			CompletedAt:   s.opts.Now(),
		}
		if err := s.transactions.Transition(txCtx, a.tx.ID, update); err != nil {
			return &stepError{code: appointmentserrors.CodeCommitFailed, err: err}
		}

		// A lapsed lease means another attempt may have checked the slot
		// without seeing this appointment.
		if err := s.locks.Confirm(txCtx, a.handle); err != nil {
			return &stepError{code: appointmentserrors.CodeCommitFailed, err: err}
		}

		appointmentID = appointment.ID
		return nil
	})
	if err == nil {
		return appointmentID, nil
	}

	var step *stepError
	if !errors.As(err, &step) && entered {
		// Both writes succeeded but the database commit did not.
		err = &stepError{code: appointmentserrors.CodeCommitFailed, err: err}
	}
	return "", err
}

func persistMessage(code appointmentserrors.ErrorCode) string {
	if code == appointmentserrors.CodeCreationFailed {
		return "Failed to create appointment"
	}
	return "Failed to commit booking transaction"
}

// finish runs on every exit path of an attempt.
func (s *bookingService) finish(ctx context.Context, a *attempt, result Result) Result {
	if a.tx != nil && !a.committed {
		code := appointmentserrors.CodeSystemError
		if f, ok := result.(*Failure); ok {
			code = f.Code
		}
		if recovered := s.rollback(ctx, a, code); recovered != nil {
			result = recovered
		}
	}

	if a.handle != nil {
		if err := s.locks.Release(ctx, a.handle); err != nil {
			a.log.Warn("Failed to release booking lock", "key", a.handle.Key.String(), "error", err)
		}
	}

	switch r := result.(type) {
	case *Success:
		r.AuditID = a.auditID
		r.LockAcquired = a.handle != nil
	case *Failure:
		r.AuditID = a.auditID
		r.LockAcquired = a.handle != nil
		if a.tx != nil {
			r.TransactionID = a.tx.ID
		}
	}

	s.recordAttempt(ctx, a, result)
	return result
}

// rollback moves a pending transaction to rolled_back. When the transaction
// turns out to be committed already (a commit whose acknowledgement was
// lost), the committed outcome is returned instead.
func (s *bookingService) rollback(ctx context.Context, a *attempt, code appointmentserrors.ErrorCode) *Success {
	err := s.transactions.Transition(ctx, a.tx.ID, model.TransactionUpdate{
		Status:      model.TransactionRolledBack,
		FailureCode: string(code),
		CompletedAt: s.opts.Now(),
	})
	if err == nil {
		a.log.Info("Booking transaction rolled back", "transaction_id", a.tx.ID, "code", code)
		return nil
	}
	if !errors.Is(err, appointmentserrors.ErrInvalidTransition) {
		// The sweeper expires it once the TTL passes.
		a.log.Error("Failed to roll back booking transaction", "transaction_id", a.tx.ID, "error", err)
		return nil
	}

	current, err := s.transactions.FindByID(ctx, a.tx.ID)
	if err != nil {
		a.log.Warn("Failed to read terminal booking transaction", "transaction_id", a.tx.ID, "error", err)
		return nil
	}
	if current.Status == model.TransactionCommitted && current.AppointmentID != "" {
		a.log.Warn("Booking transaction committed despite reported failure",
			"transaction_id", current.ID,
			"appointment_id", current.AppointmentID,
			"reported_code", code,
		)
		a.committed = true
		return &Success{AppointmentID: current.AppointmentID, TransactionID: current.ID, Attempts: 1}
	}
	return nil
}

func (s *bookingService) recordAttempt(ctx context.Context, a *attempt, result Result) {
	entry := &model.AuditEntry{
		ID:        a.auditID,
		UserID:    a.req.UserID,
		EventType: model.AuditBookingAttempt,
		Timestamp: s.opts.Now(),
		Metadata: map[string]any{
			"instructor_id":       a.req.InstructorID,
			"appointment_type_id": a.req.AppointmentTypeID,
			"date":                a.req.Date,
			"start_time":          a.req.StartTime,
			"end_time":            a.req.EndTime,
			"lock_acquired":       a.handle != nil,
			"duration_ms":         s.opts.Now().Sub(a.started).Milliseconds(),
		},
	}
	if a.tx != nil {
		entry.TransactionID = a.tx.ID
	}

	switch r := result.(type) {
	case *Success:
		entry.Success = true
		entry.Metadata["appointment_id"] = r.AppointmentID
	case *Failure:
		entry.ErrorCode = string(r.Code)
		entry.Error = r.Error()
		if r.ConflictDetails != nil {
			entry.Metadata["conflict_reason"] = string(r.ConflictDetails.Reason)
		}
	}

	s.record(ctx, entry)
}

func (s *bookingService) record(ctx context.Context, entry *model.AuditEntry) {
	recordAudit(ctx, s.audit, entry, s.opts.AuditTimeout, s.log)
}

func recordAudit(ctx context.Context, sink audit.Sink, entry *model.AuditEntry, timeout time.Duration, log *logger.Logger) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := sink.Record(ctx, entry); err != nil {
		log.Ctx(ctx).Error("Failed to record audit entry",
			"audit_id", entry.ID,
			"event_type", entry.EventType,
			"transaction_id", entry.TransactionID,
			"error", err,
		)
	}
}

func (s *bookingService) CreateAppointmentWithRetry(ctx context.Context, req *model.BookingRequest, maxAttempts int) Result {
	return s.retrier.Run(ctx, req, maxAttempts)
}
