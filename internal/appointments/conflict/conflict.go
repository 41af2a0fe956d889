// Package conflict decides whether a candidate slot can be booked against an
// instructor's existing appointments, blocked periods and working hours.
package conflict

import (
	"context"
	"fmt"
	"strings"
	"time"

	"edubook/pkg/model"
)

type Reason string

const (
	ReasonSlotTaken           Reason = "slot_taken"
	ReasonBlocked             Reason = "blocked"
	ReasonOutsideWorkingHours Reason = "outside_working_hours"
)

type ConflictingAppointment struct {
	ID            string `json:"id"`
	TransactionID string `json:"transaction_id,omitempty"`
	StartTime     string `json:"start_time"`
	EndTime       string `json:"end_time"`
	Status        string `json:"status"`
}

type BlockedSlot struct {
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Reason    string `json:"reason,omitempty"`
}

// Details explains to an end user why a slot was refused.
type Details struct {
	Reason                  Reason                   `json:"reason"`
	Message                 string                   `json:"message"`
	ConflictingAppointments []ConflictingAppointment `json:"conflicting_appointments,omitempty"`
	BlockedPeriods          []BlockedSlot            `json:"blocked_periods,omitempty"`
}

// Candidate is the slot under test.
type Candidate struct {
	InstructorID         string
	Date                 string
	StartTime            string
	EndTime              string
	ExcludeTransactionID string
}

// Snapshot is everything the check needs, loaded while the lock is held.
type Snapshot struct {
	Appointments   []*model.Appointment
	BlockedPeriods []*model.BlockedPeriod
	Availability   []*model.AvailabilityWindow
}

// Find returns nil when the candidate is free. Taken slots win over blocked
// periods, which win over working hours, so the user sees the most specific
// reason.
func Find(c Candidate, snap Snapshot) (*Details, error) {
	slot, err := model.NewInterval(c.StartTime, c.EndTime)
	if err != nil {
		return nil, err
	}
	if slot.Minutes() <= 0 {
		return nil, fmt.Errorf("invalid slot %s: end must be after start", slot)
	}

	var taken []ConflictingAppointment
	for _, a := range snap.Appointments {
		if a.InstructorID != c.InstructorID || a.Date != c.Date || !a.Status.OccupiesSlot() {
			continue
		}
		if c.ExcludeTransactionID != "" && a.TransactionID == c.ExcludeTransactionID {
			continue
		}
		other, err := model.NewInterval(a.StartTime, a.EndTime)
		if err != nil {
			return nil, fmt.Errorf("appointment %s: %w", a.ID, err)
		}
		if slot.Overlaps(other) {
			taken = append(taken, ConflictingAppointment{
				ID:            a.ID,
				TransactionID: a.TransactionID,
				StartTime:     a.StartTime,
				EndTime:       a.EndTime,
				Status:        string(a.Status),
			})
		}
	}
	if len(taken) > 0 {
		return &Details{
			Reason:                  ReasonSlotTaken,
			Message:                 fmt.Sprintf("%s overlaps %d existing appointment(s)", slot, len(taken)),
			ConflictingAppointments: taken,
		}, nil
	}

	var blocked []BlockedSlot
	for _, b := range snap.BlockedPeriods {
		if b.InstructorID != c.InstructorID || b.Date != c.Date {
			continue
		}
		other, err := model.NewInterval(b.StartTime, b.EndTime)
		if err != nil {
			return nil, fmt.Errorf("blocked period %s: %w", b.ID, err)
		}
		if slot.Overlaps(other) {
			blocked = append(blocked, BlockedSlot{StartTime: b.StartTime, EndTime: b.EndTime, Reason: b.Reason})
		}
	}
	if len(blocked) > 0 {
		return &Details{
			Reason:         ReasonBlocked,
			Message:        blockedMessage(slot, blocked),
			BlockedPeriods: blocked,
		}, nil
	}

	weekday, err := weekdayOf(c.Date)
	if err != nil {
		return nil, err
	}
	for _, w := range snap.Availability {
		if w.InstructorID != c.InstructorID || !w.Active || w.DayOfWeek != int(weekday) {
			continue
		}
		window, err := model.NewInterval(w.StartTime, w.EndTime)
		if err != nil {
			return nil, fmt.Errorf("availability window %s: %w", w.ID, err)
		}
		if window.Contains(slot) {
			return nil, nil
		}
	}

	return &Details{
		Reason:  ReasonOutsideWorkingHours,
		Message: fmt.Sprintf("%s is outside the instructor's working hours on %s", slot, weekday),
	}, nil
}

func blockedMessage(slot model.Interval, blocked []BlockedSlot) string {
	reasons := make([]string, 0, len(blocked))
	for _, b := range blocked {
		if b.Reason != "" {
			reasons = append(reasons, b.Reason)
		}
	}
	if len(reasons) == 0 {
		return fmt.Sprintf("%s falls in a blocked period", slot)
	}
	return fmt.Sprintf("%s falls in a blocked period (%s)", slot, strings.Join(reasons, ", "))
}

// weekdayOf depends only on the calendar date, so UTC is fine.
func weekdayOf(date string) (time.Weekday, error) {
	d, err := model.ParseDate(date, time.UTC)
	if err != nil {
		return 0, err
	}
	return d.Weekday(), nil
}

// AppointmentSource must read committed state; the caller holds the lock
// for the instructor and date.
type AppointmentSource interface {
	FindActiveByInstructorAndDate(ctx context.Context, instructorID, date string) ([]*model.Appointment, error)
}

type ScheduleSource interface {
	FindBlockedPeriods(ctx context.Context, instructorID, date string) ([]*model.BlockedPeriod, error)
	FindAvailability(ctx context.Context, instructorID string, dayOfWeek int) ([]*model.AvailabilityWindow, error)
}

type Resolver struct {
	appointments AppointmentSource
	schedule     ScheduleSource
}

func NewResolver(appointments AppointmentSource, schedule ScheduleSource) *Resolver {
	return &Resolver{appointments: appointments, schedule: schedule}
}

func (r *Resolver) FindConflicts(ctx context.Context, c Candidate) (*Details, error) {
	weekday, err := weekdayOf(c.Date)
	if err != nil {
		return nil, err
	}

	appointments, err := r.appointments.FindActiveByInstructorAndDate(ctx, c.InstructorID, c.Date)
	if err != nil {
		return nil, fmt.Errorf("failed to load appointments: %w", err)
	}
	blocked, err := r.schedule.FindBlockedPeriods(ctx, c.InstructorID, c.Date)
	if err != nil {
		return nil, fmt.Errorf("failed to load blocked periods: %w", err)
	}
	availability, err := r.schedule.FindAvailability(ctx, c.InstructorID, int(weekday))
	if err != nil {
		return nil, fmt.Errorf("failed to load availability: %w", err)
	}

	return Find(c, Snapshot{
		Appointments:   appointments,
		BlockedPeriods: blocked,
		Availability:   availability,
	})
}
