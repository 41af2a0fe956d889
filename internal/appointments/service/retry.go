package service

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"edubook/internal/appointments/audit"
	appointmentserrors "edubook/internal/appointments/errors"
	"edubook/pkg/config"
	"edubook/pkg/logger"
	"edubook/pkg/model"

	"github.com/google/uuid"
)

// Attempter makes a single booking attempt.
type Attempter interface {
	CreateAppointmentAtomic(ctx context.Context, req *model.BookingRequest) Result
}

type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// maxBackoff keeps the jittered delay inside time.Duration.
const maxBackoff = float64(math.MaxInt64) / 2

// Backoff returns the pause after the given 1-based attempt:
// BaseDelay*2^(attempt-1) capped at MaxDelay, plus jitter*50% of that.
// jitter is expected in [0, 1). Without a MaxDelay the delay saturates
// instead of overflowing.
func (p RetryPolicy) Backoff(attempt int, jitter float64) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	limit := maxBackoff
	if p.MaxDelay > 0 {
		limit = float64(p.MaxDelay)
	}
	delay := min(float64(p.BaseDelay)*math.Pow(2, float64(attempt-1)), limit)
	return time.Duration(delay + delay*0.5*jitter)
}

// Retrier repeats retryable failures with exponential backoff. The pause is
// taken after the attempt has released its lock.
type Retrier struct {
	attempter    Attempter
	policy       RetryPolicy
	audit        audit.Sink
	auditTimeout time.Duration
	log          *logger.Logger

	now    func() time.Time
	newID  func() string
	jitter func() float64
	sleep  func(ctx context.Context, d time.Duration) error
}

func NewRetrier(attempter Attempter, policy RetryPolicy, sink audit.Sink, log *logger.Logger) *Retrier {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = config.DefaultRetryMaxAttempts
	}
	if policy.BaseDelay <= 0 {
		policy.BaseDelay = config.DefaultRetryBaseDelay
	}
	if policy.MaxDelay <= 0 {
		policy.MaxDelay = config.DefaultRetryMaxDelay
	}
	return &Retrier{
		attempter:    attempter,
		policy:       policy,
		audit:        sink,
		auditTimeout: config.DefaultAuditTimeout,
		log:          log,
		now:          func() time.Time { return time.Now().UTC() },
		newID:        uuid.NewString,
		jitter:       rand.Float64,
		sleep:        sleepContext,
	}
}

// Run attempts the booking up to maxAttempts times, or the policy default
// when maxAttempts is not positive.
func (r *Retrier) Run(ctx context.Context, req *model.BookingRequest, maxAttempts int) Result {
	if maxAttempts <= 0 {
		maxAttempts = r.policy.MaxAttempts
	}
	if req == nil {
		req = &model.BookingRequest{}
	}

	var last *Failure
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result := r.attempter.CreateAppointmentAtomic(ctx, req)

		switch res := result.(type) {
		case *Success:
			res.Attempts = attempt
			return res
		case *Failure:
			res.Attempts = attempt
			if !res.Retryable() {
				return res
			}
			last = res
		default:
			last = fail(appointmentserrors.CodeSystemError, "Booking attempt returned no result", nil)
			last.Attempts = attempt
		}

		if attempt == maxAttempts {
			break
		}

		delay := r.policy.Backoff(attempt, r.jitter())
		r.log.Debug("Retrying booking",
			"attempt", attempt,
			"max_attempts", maxAttempts,
			"code", last.Code,
			"delay", delay,
		)
		if err := r.sleep(ctx, delay); err != nil {
			return r.exhausted(ctx, req, last, attempt, err)
		}
	}

	return r.exhausted(ctx, req, last, maxAttempts, nil)
}

func (r *Retrier) exhausted(ctx context.Context, req *model.BookingRequest, last *Failure, attempts int, cancelErr error) *Failure {
	message := fmt.Sprintf("Booking failed after %d attempts: %s", attempts, last.Message)
	if cancelErr != nil {
		message = fmt.Sprintf("Booking abandoned after %d attempts: %s", attempts, last.Message)
	}

	f := &Failure{
		Code:            appointmentserrors.CodeMaxRetriesExceeded,
		Message:         message,
		TransactionID:   last.TransactionID,
		AuditID:         r.newID(),
		LockAcquired:    last.LockAcquired,
		ConflictDetails: last.ConflictDetails,
		LastCode:        last.Code,
		Attempts:        attempts,
		Err:             last,
	}

	r.log.Warn("Booking retries exhausted",
		"user_id", req.UserID,
		"instructor_id", req.InstructorID,
		"date", req.Date,
		"attempts", attempts,
		"last_code", last.Code,
	)

	entry := &model.AuditEntry{
		ID:            f.AuditID,
		UserID:        req.UserID,
		EventType:     model.AuditRetryExhausted,
		ErrorCode:     string(f.Code),
		Error:         f.Error(),
		TransactionID: last.TransactionID,
		Timestamp:     r.now(),
		Metadata: map[string]any{
			"instructor_id":   req.InstructorID,
			"date":            req.Date,
			"start_time":      req.StartTime,
			"end_time":        req.EndTime,
			"attempts":        attempts,
			"last_error_code": string(last.Code),
			"last_audit_id":   last.AuditID,
		},
	}
	if cancelErr != nil {
		entry.Metadata["cancelled"] = true
	}
	recordAudit(context.WithoutCancel(ctx), r.audit, entry, r.auditTimeout, r.log)

	return f
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
