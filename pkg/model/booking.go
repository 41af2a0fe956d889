package model

// BookingRequest is the immutable input of a single booking attempt.
type BookingRequest struct {
	UserID            string `json:"user_id" validate:"required,mongodb"`
	InstructorID      string `json:"instructor_id" validate:"required,mongodb"`
	AppointmentTypeID string `json:"appointment_type_id" validate:"required,mongodb"`
	Date              string `json:"date" validate:"required,datetime=2006-01-02"`
	StartTime         string `json:"start_time" validate:"required,hhmm"`
	EndTime           string `json:"end_time" validate:"required,hhmm"`
	MeetingType       string `json:"meeting_type" validate:"required,oneof=in_person online phone"`
	Notes             string `json:"notes,omitempty" validate:"omitempty,max=2000"`
	Location          string `json:"location,omitempty" validate:"omitempty,max=500"`
	MeetingLink       string `json:"meeting_link,omitempty" validate:"omitempty,url,max=2048"`
}

const (
	MeetingInPerson = "in_person"
	MeetingOnline   = "online"
	MeetingPhone    = "phone"
)
