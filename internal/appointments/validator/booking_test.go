package validator

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	appointmentserrors "edubook/internal/appointments/errors"
	"edubook/pkg/logger"
	"edubook/pkg/model"
)

const (
	userID       = "650000000000000000000001"
	instructorID = "650000000000000000000002"
	typeID       = "650000000000000000000003"
)

var fixedNow = time.Date(2025, 9, 15, 10, 0, 0, 0, time.UTC)

type mockCatalog struct {
	findUserFunc            func(ctx context.Context, id string) (*model.User, error)
	findInstructorFunc      func(ctx context.Context, id string) (*model.Instructor, error)
	findAppointmentTypeFunc func(ctx context.Context, id string) (*model.AppointmentType, error)
}

func (m *mockCatalog) FindUser(ctx context.Context, id string) (*model.User, error) {
	if m.findUserFunc != nil {
		return m.findUserFunc(ctx, id)
	}
	return &model.User{ID: id, Active: true}, nil
}

func (m *mockCatalog) FindInstructor(ctx context.Context, id string) (*model.Instructor, error) {
	if m.findInstructorFunc != nil {
		return m.findInstructorFunc(ctx, id)
	}
	return &model.Instructor{ID: id, Name: "Dr. Levi", Active: true}, nil
}

func (m *mockCatalog) FindAppointmentType(ctx context.Context, id string) (*model.AppointmentType, error) {
	if m.findAppointmentTypeFunc != nil {
		return m.findAppointmentTypeFunc(ctx, id)
	}
	return &model.AppointmentType{ID: id, InstructorID: instructorID, Name: "Office hours", DurationMinutes: 60, Active: true}, nil
}

func newTestValidator(catalog CatalogReader) *BookingValidator {
	log := logger.New(logger.Config{Level: logger.ERROR, Output: io.Discard})
	return NewBookingValidator(catalog, Options{
		AdvanceBookingDays: 30,
		Location:           time.UTC,
		Now:                func() time.Time { return fixedNow },
	}, log)
}

func validRequest() *model.BookingRequest {
	return &model.BookingRequest{
		UserID:            userID,
		InstructorID:      instructorID,
		AppointmentTypeID: typeID,
		Date:              "2025-09-16",
		StartTime:         "14:00",
		EndTime:           "15:00",
		MeetingType:       model.MeetingOnline,
		MeetingLink:       "https://meet.example.com/abc",
	}
}

func TestBookingValidator_Validate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*model.BookingRequest)
		catalog   *mockCatalog
		wantField string
		wantMsg   string
	}{
		{
			name: "valid request",
		},
		{
			name:      "malformed user id",
			mutate:    func(r *model.BookingRequest) { r.UserID = "abc'; drop" },
			wantField: "user_id",
			wantMsg:   "valid MongoDB ObjectID",
		},
		{
			name:      "missing instructor",
			mutate:    func(r *model.BookingRequest) { r.InstructorID = "" },
			wantField: "instructor_id",
			wantMsg:   "required",
		},
		{
			name:      "impossible date",
			mutate:    func(r *model.BookingRequest) { r.Date = "2025-02-30" },
			wantField: "date",
			wantMsg:   "real date",
		},
		{
			name:      "bad clock",
			mutate:    func(r *model.BookingRequest) { r.StartTime = "24:00" },
			wantField: "start_time",
			wantMsg:   "HH:MM",
		},
		{
			name:      "unknown meeting type",
			mutate:    func(r *model.BookingRequest) { r.MeetingType = "carrier_pigeon" },
			wantField: "meeting_type",
			wantMsg:   "one of",
		},
		{
			name:      "notes too long",
			mutate:    func(r *model.BookingRequest) { r.Notes = strings.Repeat("x", 2001) },
			wantField: "notes",
			wantMsg:   "at most 2000",
		},
		{
			name:      "end before start",
			mutate:    func(r *model.BookingRequest) { r.StartTime, r.EndTime = "15:00", "14:00" },
			wantField: "end_time",
			wantMsg:   "after start_time",
		},
		{
			name:      "zero length",
			mutate:    func(r *model.BookingRequest) { r.EndTime = "14:00" },
			wantField: "end_time",
			wantMsg:   "after start_time",
		},
		{
			name:      "duration mismatch",
			mutate:    func(r *model.BookingRequest) { r.EndTime = "16:00" },
			wantField: "end_time",
			wantMsg:   "lasts 60 minutes, requested slot is 120 minutes",
		},
		{
			name:      "past date",
			mutate:    func(r *model.BookingRequest) { r.Date = "2025-09-14" },
			wantField: "date",
			wantMsg:   "past",
		},
		{
			name:      "earlier today",
			mutate:    func(r *model.BookingRequest) { r.Date, r.StartTime, r.EndTime = "2025-09-15", "09:00", "10:00" },
			wantField: "start_time",
			wantMsg:   "already passed",
		},
		{
			name:      "beyond default advance window",
			mutate:    func(r *model.BookingRequest) { r.Date = "2025-10-16" },
			wantField: "date",
			wantMsg:   "more than 30 days ahead",
		},
		{
			name:   "type allows a longer window",
			mutate: func(r *model.BookingRequest) { r.Date = "2025-10-16" },
			catalog: &mockCatalog{
				findAppointmentTypeFunc: func(_ context.Context, id string) (*model.AppointmentType, error) {
					return &model.AppointmentType{ID: id, InstructorID: instructorID, DurationMinutes: 60, MaxAdvanceDays: 60, Active: true}, nil
				},
			},
		},
		{
			name: "inactive instructor",
			catalog: &mockCatalog{
				findInstructorFunc: func(_ context.Context, id string) (*model.Instructor, error) {
					return &model.Instructor{ID: id}, nil
				},
			},
			wantField: "instructor_id",
			wantMsg:   "not active",
		},
		{
			name: "inactive user",
			catalog: &mockCatalog{
				findUserFunc: func(_ context.Context, id string) (*model.User, error) {
					return &model.User{ID: id}, nil
				},
			},
			wantField: "user_id",
			wantMsg:   "not active",
		},
		{
			name: "type owned by someone else",
			catalog: &mockCatalog{
				findAppointmentTypeFunc: func(_ context.Context, id string) (*model.AppointmentType, error) {
					return &model.AppointmentType{ID: id, InstructorID: "650000000000000000000009", DurationMinutes: 60, Active: true}, nil
				},
			},
			wantField: "appointment_type_id",
			wantMsg:   "does not belong",
		},
		{
			name: "inactive type",
			catalog: &mockCatalog{
				findAppointmentTypeFunc: func(_ context.Context, id string) (*model.AppointmentType, error) {
					return &model.AppointmentType{ID: id, InstructorID: instructorID, DurationMinutes: 60}, nil
				},
			},
			wantField: "appointment_type_id",
			wantMsg:   "not active",
		},
		{
			name: "unknown instructor",
			catalog: &mockCatalog{
				findInstructorFunc: func(context.Context, string) (*model.Instructor, error) {
					return nil, appointmentserrors.ErrNotFound
				},
			},
			wantField: "instructor_id",
			wantMsg:   "instructor not found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest()
			if tt.mutate != nil {
				tt.mutate(req)
			}
			catalog := tt.catalog
			if catalog == nil {
				catalog = &mockCatalog{}
			}

			err := newTestValidator(catalog).Validate(context.Background(), req)

			if tt.wantField == "" {
				if err != nil {
					t.Fatalf("expected no error, got %v", err)
				}
				return
			}

			var verrs ValidationErrors
			if !errors.As(err, &verrs) {
				t.Fatalf("expected ValidationErrors, got %T: %v", err, err)
			}
			if verrs[0].Field != tt.wantField {
				t.Errorf("field = %q, want %q", verrs[0].Field, tt.wantField)
			}
			if !strings.Contains(verrs[0].Message, tt.wantMsg) {
				t.Errorf("message = %q, want it to contain %q", verrs[0].Message, tt.wantMsg)
			}
		})
	}
}

func TestBookingValidator_PureChecksSkipCatalog(t *testing.T) {
	called := false
	catalog := &mockCatalog{
		findUserFunc: func(_ context.Context, id string) (*model.User, error) {
			called = true
			return &model.User{ID: id, Active: true}, nil
		},
	}

	req := validRequest()
	req.StartTime, req.EndTime = "15:00", "14:00"
	if err := newTestValidator(catalog).Validate(context.Background(), req); err == nil {
		t.Fatal("expected validation error")
	}
	if called {
		t.Error("catalog must not be consulted when pure checks fail")
	}
}

func TestBookingValidator_CatalogOutageIsNotValidation(t *testing.T) {
	outage := errors.New("server selection timeout")
	catalog := &mockCatalog{
		findAppointmentTypeFunc: func(context.Context, string) (*model.AppointmentType, error) {
			return nil, outage
		},
	}

	err := newTestValidator(catalog).Validate(context.Background(), validRequest())
	if !errors.Is(err, outage) {
		t.Fatalf("expected wrapped outage, got %v", err)
	}
	var verrs ValidationErrors
	if errors.As(err, &verrs) {
		t.Error("catalog outage must not be reported as a validation failure")
	}
}

func TestBookingValidator_FirstFailureInFieldOrder(t *testing.T) {
	release := make(chan struct{})
	catalog := &mockCatalog{
		findUserFunc: func(context.Context, string) (*model.User, error) {
			<-release
			return nil, appointmentserrors.ErrNotFound
		},
		findAppointmentTypeFunc: func(context.Context, string) (*model.AppointmentType, error) {
			defer close(release)
			return nil, appointmentserrors.ErrNotFound
		},
	}

	err := newTestValidator(catalog).Validate(context.Background(), validRequest())
	var verrs ValidationErrors
	if !errors.As(err, &verrs) {
		t.Fatalf("expected ValidationErrors, got %v", err)
	}
	if verrs[0].Field != "user_id" {
		t.Errorf("field = %q, want user_id even though the type lookup failed first", verrs[0].Field)
	}
}

func TestSanitize(t *testing.T) {
	req := &model.BookingRequest{
		UserID:      "  650000000000000000000ABC ",
		MeetingType: " Online ",
		Notes:       "  bring\x00 notes  ",
		Location:    "Room 4\nBuilding B",
		MeetingLink: " https://Meet.Example.com/x?utm_source=a ",
	}

	got := Sanitize(req)

	if got.UserID != "650000000000000000000abc" {
		t.Errorf("UserID = %q", got.UserID)
	}
	if got.MeetingType != "online" {
		t.Errorf("MeetingType = %q", got.MeetingType)
	}
	if got.Notes != "bring notes" {
		t.Errorf("Notes = %q", got.Notes)
	}
	if got.Location != "Room 4 Building B" {
		t.Errorf("Location = %q", got.Location)
	}
	if got.MeetingLink != "https://meet.example.com/x" {
		t.Errorf("MeetingLink = %q", got.MeetingLink)
	}
	if req.Notes != "  bring\x00 notes  " {
		t.Error("Sanitize must not modify its input")
	}
}
