package service

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"edubook/internal/appointments/conflict"
	appointmentserrors "edubook/internal/appointments/errors"
	"edubook/internal/appointments/lock"
	"edubook/internal/appointments/validator"
	mongotx "edubook/pkg/db/mongo"
	"edubook/pkg/logger"
	"edubook/pkg/model"
)

const (
	testUserID       = "650000000000000000000001"
	testInstructorID = "650000000000000000000002"
	testTypeID       = "650000000000000000000003"
	testDate         = "2025-09-16" // a Tuesday
)

var fixedNow = time.Date(2025, 9, 15, 10, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type memTxKey struct{}

// memTx journals undo steps so a failed ExecuteTransaction leaves no trace.
type memTx struct {
	undo []func()
}

// memStore backs both fake repositories. Writes honour ctx cancellation so
// tests notice when persistence runs on a cancelled context.
type memStore struct {
	mu           sync.Mutex
	txMu         sync.Mutex
	transactions map[string]*model.BookingTransaction
	appointments map[string]*model.Appointment
	seq          int

	createTxErr          error
	createAppointmentErr error
	findExpiredErr       error
	findByIDErr          error
	// failTransition fails Transition to the given status.
	failTransition map[model.TransactionStatus]error
	// commitErr is returned after fn succeeds; the writes are undone unless
	// keepWritesOnCommitErr is set.
	commitErr             error
	keepWritesOnCommitErr bool
}

func newMemStore() *memStore {
	return &memStore{
		transactions:   make(map[string]*model.BookingTransaction),
		appointments:   make(map[string]*model.Appointment),
		failTransition: make(map[model.TransactionStatus]error),
	}
}

func journal(ctx context.Context, undo func()) {
	if tx, ok := ctx.Value(memTxKey{}).(*memTx); ok {
		tx.undo = append(tx.undo, undo)
	}
}

func (s *memStore) Transaction(id string) *model.BookingTransaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.transactions[id]
	if !ok {
		return nil
	}
	cp := *tx
	return &cp
}

func (s *memStore) AllTransactions() []*model.BookingTransaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*model.BookingTransaction, 0, len(s.transactions))
	for _, tx := range s.transactions {
		cp := *tx
		out = append(out, &cp)
	}
	return out
}

func (s *memStore) AllAppointments() []*model.Appointment {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*model.Appointment, 0, len(s.appointments))
	for _, a := range s.appointments {
		cp := *a
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime < out[j].StartTime })
	return out
}

func (s *memStore) PutTransaction(tx *model.BookingTransaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *tx
	s.transactions[tx.ID] = &cp
}

type memTransactions struct{ *memStore }

func (r memTransactions) Create(ctx context.Context, tx *model.BookingTransaction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.createTxErr != nil {
		return r.createTxErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.transactions[tx.ID]; ok {
		return appointmentserrors.ErrDuplicate
	}
	cp := *tx
	r.transactions[tx.ID] = &cp
	return nil
}

func (r memTransactions) FindByID(_ context.Context, id string) (*model.BookingTransaction, error) {
	if r.findByIDErr != nil {
		return nil, r.findByIDErr
	}
	if tx := r.Transaction(id); tx != nil {
		return tx, nil
	}
	return nil, appointmentserrors.ErrNotFound
}

func (r memTransactions) Transition(ctx context.Context, id string, update model.TransactionUpdate) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := r.failTransition[update.Status]; err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	tx, ok := r.transactions[id]
	if !ok || tx.Status != model.TransactionPending {
		return fmt.Errorf("%w: %s", appointmentserrors.ErrInvalidTransition, id)
	}
	before := *tx
	completed := update.CompletedAt
	tx.Status = update.Status
	tx.AppointmentID = update.AppointmentID
	tx.FailureCode = update.FailureCode
	tx.CompletedAt = &completed
	journal(ctx, func() { *tx = before })
	return nil
}

func (r memTransactions) FindExpiredPending(_ context.Context, at time.Time, limit int) ([]*model.BookingTransaction, error) {
	if r.findExpiredErr != nil {
		return nil, r.findExpiredErr
	}
	var out []*model.BookingTransaction
	for _, tx := range r.AllTransactions() {
		if tx.Status == model.TransactionPending && tx.ExpiresAt.Before(at) {
			out = append(out, tx)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type memAppointments struct{ *memStore }

func (r memAppointments) Create(ctx context.Context, appointment *model.Appointment) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.createAppointmentErr != nil {
		return r.createAppointmentErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.appointments {
		if existing.TransactionID == appointment.TransactionID {
			return appointmentserrors.ErrDuplicate
		}
	}
	r.seq++
	appointment.ID = fmt.Sprintf("appt-%d", r.seq)
	cp := *appointment
	r.appointments[appointment.ID] = &cp
	id := appointment.ID
	journal(ctx, func() { delete(r.appointments, id) })
	return nil
}

func (r memAppointments) FindByTransactionID(_ context.Context, transactionID string) (*model.Appointment, error) {
	for _, a := range r.AllAppointments() {
		if a.TransactionID == transactionID {
			return a, nil
		}
	}
	return nil, appointmentserrors.ErrNotFound
}

func (r memAppointments) FindActiveByInstructorAndDate(_ context.Context, instructorID, date string) ([]*model.Appointment, error) {
	var out []*model.Appointment
	for _, a := range r.AllAppointments() {
		if a.InstructorID == instructorID && a.Date == date && a.Status.OccupiesSlot() {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r memAppointments) ExecuteTransaction(ctx context.Context, fn mongotx.TransactionFunc) error {
	r.txMu.Lock()
	defer r.txMu.Unlock()

	tx := &memTx{}
	err := fn(context.WithValue(ctx, memTxKey{}, tx))
	if err == nil && r.commitErr != nil {
		err = r.commitErr
		if r.keepWritesOnCommitErr {
			return fmt.Errorf("transaction failed: %w", err)
		}
	}
	if err != nil {
		r.mu.Lock()
		for i := len(tx.undo) - 1; i >= 0; i-- {
			tx.undo[i]()
		}
		r.mu.Unlock()
		return fmt.Errorf("transaction failed: %w", err)
	}
	return nil
}

type fakeCatalog struct {
	users       map[string]*model.User
	instructors map[string]*model.Instructor
	types       map[string]*model.AppointmentType
	err         error
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		users:       map[string]*model.User{testUserID: {ID: testUserID, Name: "Ada", Active: true}},
		instructors: map[string]*model.Instructor{testInstructorID: {ID: testInstructorID, Name: "Grace", Active: true}},
		types: map[string]*model.AppointmentType{testTypeID: {
			ID:              testTypeID,
			InstructorID:    testInstructorID,
			Name:            "Office hours",
			DurationMinutes: 60,
			Active:          true,
		}},
	}
}

func (c *fakeCatalog) FindUser(_ context.Context, id string) (*model.User, error) {
	if c.err != nil {
		return nil, c.err
	}
	if u, ok := c.users[id]; ok {
		return u, nil
	}
	return nil, appointmentserrors.ErrNotFound
}

func (c *fakeCatalog) FindInstructor(_ context.Context, id string) (*model.Instructor, error) {
	if c.err != nil {
		return nil, c.err
	}
	if i, ok := c.instructors[id]; ok {
		return i, nil
	}
	return nil, appointmentserrors.ErrNotFound
}

func (c *fakeCatalog) FindAppointmentType(_ context.Context, id string) (*model.AppointmentType, error) {
	if c.err != nil {
		return nil, c.err
	}
	if t, ok := c.types[id]; ok {
		return t, nil
	}
	return nil, appointmentserrors.ErrNotFound
}

type fakeSchedule struct {
	availability []*model.AvailabilityWindow
	blocked      []*model.BlockedPeriod
}

func newFakeSchedule() *fakeSchedule {
	return &fakeSchedule{
		availability: []*model.AvailabilityWindow{{
			ID:           "w1",
			InstructorID: testInstructorID,
			DayOfWeek:    int(time.Tuesday),
			StartTime:    "09:00",
			EndTime:      "18:00",
			Active:       true,
		}},
	}
}

func (s *fakeSchedule) FindBlockedPeriods(_ context.Context, instructorID, date string) ([]*model.BlockedPeriod, error) {
	var out []*model.BlockedPeriod
	for _, b := range s.blocked {
		if b.InstructorID == instructorID && b.Date == date {
			out = append(out, b)
		}
	}
	return out, nil
}

func (s *fakeSchedule) FindAvailability(_ context.Context, instructorID string, dayOfWeek int) ([]*model.AvailabilityWindow, error) {
	var out []*model.AvailabilityWindow
	for _, w := range s.availability {
		if w.InstructorID == instructorID && w.DayOfWeek == dayOfWeek {
			out = append(out, w)
		}
	}
	return out, nil
}

// countingLocks counts acquisition attempts on top of a real manager.
// Setting lostLease makes Confirm report the lease as taken over.
type countingLocks struct {
	lock.Manager
	acquires  atomic.Int32
	confirms  atomic.Int32
	lostLease atomic.Bool
}

func (l *countingLocks) Acquire(ctx context.Context, key lock.Key, timeout time.Duration) (*lock.Handle, error) {
	l.acquires.Add(1)
	return l.Manager.Acquire(ctx, key, timeout)
}

func (l *countingLocks) Confirm(ctx context.Context, h *lock.Handle) error {
	l.confirms.Add(1)
	if l.lostLease.Load() {
		return fmt.Errorf("%w: %s", lock.ErrLockLost, h.Key)
	}
	return l.Manager.Confirm(ctx, h)
}

type recordingSink struct {
	mu      sync.Mutex
	entries []*model.AuditEntry
	err     error
}

func (s *recordingSink) Record(_ context.Context, entry *model.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return s.err
}

func (s *recordingSink) Entries(eventType model.AuditEventType) []*model.AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.AuditEntry
	for _, e := range s.entries {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

// conflictFunc lets a test intercept the conflict check, which runs while
// the lock is held.
type conflictFunc func(ctx context.Context, c conflict.Candidate) (*conflict.Details, error)

func (f conflictFunc) FindConflicts(ctx context.Context, c conflict.Candidate) (*conflict.Details, error) {
	return f(ctx, c)
}

type harness struct {
	clock    *testClock
	store    *memStore
	catalog  *fakeCatalog
	schedule *fakeSchedule
	locks    *countingLocks
	audit    *recordingSink
	resolver *conflict.Resolver
	svc      BookingService
}

func testLogger() *logger.Logger {
	return logger.New(logger.Config{Level: logger.ERROR, Output: io.Discard})
}

func newHarness(t *testing.T, configure ...func(*Dependencies, *Options)) *harness {
	t.Helper()

	h := &harness{
		clock:    &testClock{now: fixedNow},
		store:    newMemStore(),
		catalog:  newFakeCatalog(),
		schedule: newFakeSchedule(),
		locks:    &countingLocks{Manager: lock.NewMemoryManager(time.Minute)},
		audit:    &recordingSink{},
	}
	h.resolver = conflict.NewResolver(memAppointments{h.store}, h.schedule)

	var ids atomic.Int64
	opts := Options{
		LockTimeout:    2 * time.Second,
		TransactionTTL: 2 * time.Minute,
		AuditTimeout:   time.Second,
		SweepBatchSize: 100,
		Retry: RetryPolicy{
			MaxAttempts: 3,
			BaseDelay:   time.Millisecond,
			MaxDelay:    5 * time.Millisecond,
		},
		Now:   h.clock.Now,
		NewID: func() string { return fmt.Sprintf("id-%d", ids.Add(1)) },
	}
	deps := Dependencies{
		Validator: validator.NewBookingValidator(h.catalog, validator.Options{
			AdvanceBookingDays: 90,
			Location:           time.UTC,
			Now:                h.clock.Now,
		}, testLogger()),
		Conflicts:    h.resolver,
		Locks:        h.locks,
		Transactions: memTransactions{h.store},
		Appointments: memAppointments{h.store},
		Audit:        h.audit,
	}
	for _, fn := range configure {
		fn(&deps, &opts)
	}

	h.svc = NewBookingService(deps, opts, testLogger())
	return h
}

func bookingRequest(start, end string) *model.BookingRequest {
	return &model.BookingRequest{
		UserID:            testUserID,
		InstructorID:      testInstructorID,
		AppointmentTypeID: testTypeID,
		Date:              testDate,
		StartTime:         start,
		EndTime:           end,
		MeetingType:       model.MeetingOnline,
	}
}

func overlapping(a, b *model.Appointment) bool {
	x, _ := model.NewInterval(a.StartTime, a.EndTime)
	y, _ := model.NewInterval(b.StartTime, b.EndTime)
	return a.InstructorID == b.InstructorID && a.Date == b.Date && x.Overlaps(y)
}
