package booking

import (
	"time"

	"github.com/google/uuid"
)

type AppointmentStatus string

const (
	StatusScheduled AppointmentStatus = "scheduled"
	StatusConfirmed AppointmentStatus = "confirmed"
	StatusCompleted AppointmentStatus = "completed"
	StatusCancelled AppointmentStatus = "cancelled"
	StatusNoShow    AppointmentStatus = "no-show"
)

// transitions is the closed set of allowed lifecycle moves. Completed,
// cancelled and no-show are terminal.
var transitions = map[AppointmentStatus][]AppointmentStatus{
	StatusScheduled: {StatusConfirmed, StatusCancelled},
	StatusConfirmed: {StatusCompleted, StatusCancelled, StatusNoShow},
}

func CanTransition(from, to AppointmentStatus) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

func ValidStatus(s AppointmentStatus) bool {
	switch s {
	case StatusScheduled, StatusConfirmed, StatusCompleted, StatusCancelled, StatusNoShow:
		return true
	}
	return false
}

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentRefunded PaymentStatus = "refunded"
)

type ConsultationMode string

const (
	ModeInPerson ConsultationMode = "in-person"
	ModeVideo    ConsultationMode = "video"
)

type Patient struct {
	ID        uuid.UUID
	Name      string
	Email     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Practitioner struct {
	ID              uuid.UUID
	Name            string
	Specialty       *string
	ConsultationFee int64 // minor currency units
	Currency        string
	Rating          float64 // running mean, 0..5
	RatingCount     int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// AvailabilitySlot is one entry of a practitioner's recurring weekly template.
type AvailabilitySlot struct {
	PractitionerID uuid.UUID
	Weekday        time.Weekday
	SlotStart      string // "HH:MM"
	SlotEnd        string // "HH:MM"
	Available      bool
}

type Appointment struct {
	ID              uuid.UUID
	PatientID       uuid.UUID
	PractitionerID  uuid.UUID
	Date            string // "2006-01-02"
	SlotStart       string // "HH:MM"
	DurationMinutes int
	Mode            ConsultationMode
	Status          AppointmentStatus
	Reason          string
	Symptoms        []string
	Fee             int64 // captured from the practitioner at booking time
	Currency        string
	PaymentStatus   PaymentStatus
	PaymentIntentID *string
	MeetingLink     *string // video mode only
	Rating          *int    // 1..5 once submitted
	Feedback        *string
	RatingApplied   bool // guards the practitioner aggregate against double counting
	ReminderSent    bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}
