package model

import "time"

type AppointmentStatus string

const (
	AppointmentPending   AppointmentStatus = "pending"
	AppointmentConfirmed AppointmentStatus = "confirmed"
	AppointmentCancelled AppointmentStatus = "cancelled"
	AppointmentCompleted AppointmentStatus = "completed"
	AppointmentNoShow    AppointmentStatus = "no_show"
)

// OccupiesSlot reports whether an appointment in this status still holds its
// time range for conflict purposes.
func (s AppointmentStatus) OccupiesSlot() bool {
	return s == AppointmentPending || s == AppointmentConfirmed
}

var SlotOccupyingStatuses = []AppointmentStatus{AppointmentPending, AppointmentConfirmed}

type Appointment struct {
	ID                string            `json:"id,omitempty" bson:"_id,omitempty"`
	TransactionID     string            `json:"transaction_id" bson:"transaction_id"`
	UserID            string            `json:"user_id" bson:"user_id"`
	InstructorID      string            `json:"instructor_id" bson:"instructor_id"`
	AppointmentTypeID string            `json:"appointment_type_id" bson:"appointment_type_id"`
	Date              string            `json:"date" bson:"date"`
	StartTime         string            `json:"start_time" bson:"start_time"`
	EndTime           string            `json:"end_time" bson:"end_time"`
	MeetingType       string            `json:"meeting_type" bson:"meeting_type"`
	Notes             string            `json:"notes,omitempty" bson:"notes,omitempty"`
	Location          string            `json:"location,omitempty" bson:"location,omitempty"`
	MeetingLink       string            `json:"meeting_link,omitempty" bson:"meeting_link,omitempty"`
	Status            AppointmentStatus `json:"status" bson:"status"`
	CreatedAt         time.Time         `json:"created_at" bson:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at" bson:"updated_at"`
}

// NewAppointment builds the confirmed appointment produced by a committed
// booking transaction.
func NewAppointment(req *BookingRequest, transactionID string) *Appointment {
	return &Appointment{
		TransactionID:     transactionID,
		UserID:            req.UserID,
		InstructorID:      req.InstructorID,
		AppointmentTypeID: req.AppointmentTypeID,
		Date:              req.Date,
		StartTime:         req.StartTime,
		EndTime:           req.EndTime,
		MeetingType:       req.MeetingType,
		Notes:             req.Notes,
		Location:          req.Location,
		MeetingLink:       req.MeetingLink,
		Status:            AppointmentConfirmed,
	}
}
