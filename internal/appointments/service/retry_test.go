package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"edubook/internal/appointments/conflict"
	appointmentserrors "edubook/internal/appointments/errors"
	"edubook/internal/appointments/lock"
	"edubook/pkg/config"
	"edubook/pkg/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryPolicy_Backoff(t *testing.T) {
	p := RetryPolicy{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second}

	tests := []struct {
		name    string
		attempt int
		jitter  float64
		want    time.Duration
	}{
		{name: "first", attempt: 1, want: 100 * time.Millisecond},
		{name: "second", attempt: 2, want: 200 * time.Millisecond},
		{name: "third", attempt: 3, want: 400 * time.Millisecond},
		{name: "capped", attempt: 6, want: time.Second},
		{name: "half jitter", attempt: 1, jitter: 0.5, want: 125 * time.Millisecond},
		{name: "jitter on cap", attempt: 10, jitter: 1, want: 1500 * time.Millisecond},
		{name: "zero attempt treated as first", attempt: 0, want: 100 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.Backoff(tt.attempt, tt.jitter))
		})
	}
}

func TestRetryPolicy_BackoffWithoutCap(t *testing.T) {
	p := RetryPolicy{BaseDelay: 100 * time.Millisecond}

	assert.Equal(t, 400*time.Millisecond, p.Backoff(3, 0))
	for _, attempt := range []int{64, 100, 1000} {
		d := p.Backoff(attempt, 0.99)
		assert.Positivef(t, d, "attempt %d must not overflow", attempt)
		assert.GreaterOrEqual(t, d, p.Backoff(40, 0))
	}
}

func TestNewRetrier_DefaultsPolicy(t *testing.T) {
	r := NewRetrier(&scriptedAttempter{results: []func() Result{succeeding}}, RetryPolicy{}, &recordingSink{}, testLogger())

	assert.Equal(t, config.DefaultRetryMaxAttempts, r.policy.MaxAttempts)
	assert.Equal(t, config.DefaultRetryBaseDelay, r.policy.BaseDelay)
	assert.Equal(t, config.DefaultRetryMaxDelay, r.policy.MaxDelay)
	assert.Equal(t, config.DefaultRetryBaseDelay, r.policy.Backoff(1, 0))
}

// scriptedAttempter returns results in order and repeats the last one.
type scriptedAttempter struct {
	mu      sync.Mutex
	results []func() Result
	calls   int
}

func (a *scriptedAttempter) CreateAppointmentAtomic(context.Context, *model.BookingRequest) Result {
	a.mu.Lock()
	defer a.mu.Unlock()
	i := min(a.calls, len(a.results)-1)
	a.calls++
	return a.results[i]()
}

func failing(code appointmentserrors.ErrorCode) func() Result {
	return func() Result {
		f := fail(code, string(code), nil)
		if code == appointmentserrors.CodeSlotNotAvailable {
			f.ConflictDetails = &conflict.Details{Reason: conflict.ReasonSlotTaken, Message: "taken"}
		}
		return f
	}
}

func succeeding() Result {
	return &Success{AppointmentID: "a1", TransactionID: "t1", LockAcquired: true, Attempts: 1}
}

type retryFixture struct {
	retrier   *Retrier
	attempter *scriptedAttempter
	audit     *recordingSink
	sleeps    []time.Duration
}

func newRetryFixture(results ...func() Result) *retryFixture {
	f := &retryFixture{
		attempter: &scriptedAttempter{results: results},
		audit:     &recordingSink{},
	}
	f.retrier = NewRetrier(f.attempter, RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    time.Second,
	}, f.audit, testLogger())
	f.retrier.jitter = func() float64 { return 0 }
	f.retrier.sleep = func(_ context.Context, d time.Duration) error {
		f.sleeps = append(f.sleeps, d)
		return nil
	}
	return f
}

func TestRetrier_Run(t *testing.T) {
	t.Run("success after transient failures", func(t *testing.T) {
		f := newRetryFixture(
			failing(appointmentserrors.CodeLockAcquisitionFailed),
			failing(appointmentserrors.CodeSystemError),
			succeeding,
		)

		s := requireSuccess(t, f.retrier.Run(context.Background(), bookingRequest("14:00", "15:00"), 0))
		assert.Equal(t, 3, s.Attempts)
		assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, f.sleeps)
		assert.Empty(t, f.audit.Entries(model.AuditRetryExhausted))
	})

	t.Run("validation is never retried", func(t *testing.T) {
		f := newRetryFixture(failing(appointmentserrors.CodeValidationFailed))

		res := requireFailure(t, f.retrier.Run(context.Background(), bookingRequest("14:00", "15:00"), 5),
			appointmentserrors.CodeValidationFailed)
		assert.Equal(t, 1, res.Attempts)
		assert.Equal(t, 1, f.attempter.calls)
		assert.Empty(t, f.sleeps)
	})

	t.Run("creation failure is terminal", func(t *testing.T) {
		f := newRetryFixture(failing(appointmentserrors.CodeSlotNotAvailable), failing(appointmentserrors.CodeCreationFailed))

		res := requireFailure(t, f.retrier.Run(context.Background(), bookingRequest("14:00", "15:00"), 5),
			appointmentserrors.CodeCreationFailed)
		assert.Equal(t, 2, res.Attempts)
		assert.Len(t, f.sleeps, 1)
	})

	t.Run("exhausted", func(t *testing.T) {
		f := newRetryFixture(failing(appointmentserrors.CodeSlotNotAvailable))

		res := requireFailure(t, f.retrier.Run(context.Background(), bookingRequest("14:00", "15:00"), 4),
			appointmentserrors.CodeMaxRetriesExceeded)
		assert.Equal(t, 4, res.Attempts)
		assert.Equal(t, appointmentserrors.CodeSlotNotAvailable, res.LastCode)
		require.NotNil(t, res.ConflictDetails)
		assert.Equal(t, conflict.ReasonSlotTaken, res.ConflictDetails.Reason)
		assert.False(t, res.Retryable())
		assert.Equal(t, []time.Duration{
			100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond,
		}, f.sleeps)

		entries := f.audit.Entries(model.AuditRetryExhausted)
		require.Len(t, entries, 1)
		assert.Equal(t, res.AuditID, entries[0].ID)
		assert.Equal(t, 4, entries[0].Metadata["attempts"])
		assert.Equal(t, string(appointmentserrors.CodeSlotNotAvailable), entries[0].Metadata["last_error_code"])
	})

	t.Run("cancelled while backing off", func(t *testing.T) {
		f := newRetryFixture(failing(appointmentserrors.CodeLockAcquisitionFailed))
		f.retrier.sleep = func(context.Context, time.Duration) error { return context.Canceled }

		res := requireFailure(t, f.retrier.Run(context.Background(), bookingRequest("14:00", "15:00"), 5),
			appointmentserrors.CodeMaxRetriesExceeded)
		assert.Equal(t, 1, res.Attempts)
		assert.Contains(t, res.Message, "abandoned")
		entries := f.audit.Entries(model.AuditRetryExhausted)
		require.Len(t, entries, 1)
		assert.Equal(t, true, entries[0].Metadata["cancelled"])
	})
}

func TestRetrier_BackoffIsObservable(t *testing.T) {
	f := newRetryFixture(failing(appointmentserrors.CodeLockAcquisitionFailed))
	f.retrier.policy = RetryPolicy{MaxAttempts: 3, BaseDelay: 20 * time.Millisecond, MaxDelay: time.Second}
	f.retrier.sleep = sleepContext

	start := time.Now()
	res := requireFailure(t, f.retrier.Run(context.Background(), bookingRequest("14:00", "15:00"), 0),
		appointmentserrors.CodeMaxRetriesExceeded)

	assert.Equal(t, 3, res.Attempts)
	assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
}

func TestCreateAppointmentWithRetry(t *testing.T) {
	t.Run("validation makes one attempt and takes no lock", func(t *testing.T) {
		h := newHarness(t)
		req := bookingRequest("14:00", "15:00")
		req.Date = "2025-09-01"

		res := requireFailure(t, h.svc.CreateAppointmentWithRetry(context.Background(), req, 5),
			appointmentserrors.CodeValidationFailed)
		assert.Equal(t, 1, res.Attempts)
		assert.Zero(t, h.locks.acquires.Load())
		assert.Len(t, h.audit.Entries(model.AuditBookingAttempt), 1)
	})

	t.Run("lock held throughout", func(t *testing.T) {
		h := newHarness(t, func(_ *Dependencies, opts *Options) {
			opts.LockTimeout = 5 * time.Millisecond
		})
		held, err := h.locks.Manager.Acquire(context.Background(), lock.Key{InstructorID: testInstructorID, Date: testDate}, time.Second)
		require.NoError(t, err)
		defer h.locks.Manager.Release(context.Background(), held)

		res := requireFailure(t, h.svc.CreateAppointmentWithRetry(context.Background(), bookingRequest("14:00", "15:00"), 3),
			appointmentserrors.CodeMaxRetriesExceeded)
		assert.Equal(t, 3, res.Attempts)
		assert.Equal(t, appointmentserrors.CodeLockAcquisitionFailed, res.LastCode)
		assert.EqualValues(t, 3, h.locks.acquires.Load())
		assert.Len(t, h.audit.Entries(model.AuditBookingAttempt), 3)
		assert.Len(t, h.audit.Entries(model.AuditRetryExhausted), 1)
	})

	t.Run("succeeds once the lock frees up", func(t *testing.T) {
		h := newHarness(t, func(_ *Dependencies, opts *Options) {
			opts.LockTimeout = 5 * time.Millisecond
			opts.Retry = RetryPolicy{MaxAttempts: 20, BaseDelay: 10 * time.Millisecond, MaxDelay: 20 * time.Millisecond}
		})
		held, err := h.locks.Manager.Acquire(context.Background(), lock.Key{InstructorID: testInstructorID, Date: testDate}, time.Second)
		require.NoError(t, err)

		go func() {
			time.Sleep(30 * time.Millisecond)
			_ = h.locks.Manager.Release(context.Background(), held)
		}()

		s := requireSuccess(t, h.svc.CreateAppointmentWithRetry(context.Background(), bookingRequest("14:00", "15:00"), 0))
		assert.Greater(t, s.Attempts, 1)
		assert.Len(t, h.store.AllAppointments(), 1)
	})

	t.Run("taken slot reports conflict after exhaustion", func(t *testing.T) {
		h := newHarness(t)
		requireSuccess(t, h.svc.CreateAppointmentAtomic(context.Background(), bookingRequest("14:00", "15:00")))

		res := requireFailure(t, h.svc.CreateAppointmentWithRetry(context.Background(), bookingRequest("14:30", "15:30"), 2),
			appointmentserrors.CodeMaxRetriesExceeded)
		assert.Equal(t, 2, res.Attempts)
		assert.Equal(t, appointmentserrors.CodeSlotNotAvailable, res.LastCode)
		require.NotNil(t, res.ConflictDetails)
		assert.Equal(t, conflict.ReasonSlotTaken, res.ConflictDetails.Reason)
		assert.Len(t, h.store.AllAppointments(), 1)
		assertSettled(t, h)
	})
}
