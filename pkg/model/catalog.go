package model

// Catalog entities are owned by other parts of the platform; the booking
// engine only reads them.

type Instructor struct {
	ID       string `json:"id" bson:"_id"`
	Name     string `json:"name" bson:"name"`
	Timezone string `json:"timezone,omitempty" bson:"timezone,omitempty"`
	Active   bool   `json:"active" bson:"active"`
}

type User struct {
	ID     string `json:"id" bson:"_id"`
	Name   string `json:"name" bson:"name"`
	Active bool   `json:"active" bson:"active"`
}

type AppointmentType struct {
	ID              string `json:"id" bson:"_id"`
	InstructorID    string `json:"instructor_id" bson:"instructor_id"`
	Name            string `json:"name" bson:"name"`
	DurationMinutes int    `json:"duration_minutes" bson:"duration_minutes"`
	MaxAdvanceDays  int    `json:"max_advance_days,omitempty" bson:"max_advance_days,omitempty"`
	Active          bool   `json:"active" bson:"active"`
}

// AvailabilityWindow is a recurring working-hours block. DayOfWeek follows
// time.Weekday (0 = Sunday).
type AvailabilityWindow struct {
	ID           string `json:"id" bson:"_id"`
	InstructorID string `json:"instructor_id" bson:"instructor_id"`
	DayOfWeek    int    `json:"day_of_week" bson:"day_of_week"`
	StartTime    string `json:"start_time" bson:"start_time"`
	EndTime      string `json:"end_time" bson:"end_time"`
	Active       bool   `json:"active" bson:"active"`
}

type BlockedPeriod struct {
	ID           string `json:"id" bson:"_id"`
	InstructorID string `json:"instructor_id" bson:"instructor_id"`
	Date         string `json:"date" bson:"date"`
	StartTime    string `json:"start_time" bson:"start_time"`
	EndTime      string `json:"end_time" bson:"end_time"`
	Reason       string `json:"reason,omitempty" bson:"reason,omitempty"`
}
