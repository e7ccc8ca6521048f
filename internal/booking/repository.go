package booking

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrPatientNotFound      = errors.New("patient not found")
	ErrPractitionerNotFound = errors.New("practitioner not found")
	ErrAppointmentNotFound  = errors.New("appointment not found")

	// ErrDuplicateSlot is returned when the partial unique index rejects a
	// second active appointment for the same (practitioner, date, slot).
	ErrDuplicateSlot = errors.New("slot already holds an active appointment")
)

// Repository contains all DB interactions needed by the service.
type Repository interface {
	GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetPractitionerByID(ctx context.Context, id uuid.UUID) (*Practitioner, error)

	// Weekly availability template for one weekday, ordered by slot start.
	ListWeeklySlots(ctx context.Context, practitionerID uuid.UUID, weekday int) ([]AvailabilitySlot, error)

	// Slot starts already taken by a scheduled or confirmed appointment on a date.
	ListBookedSlotStarts(ctx context.Context, practitionerID uuid.UUID, date string) ([]string, error)
	GetActiveAppointmentForSlot(ctx context.Context, practitionerID uuid.UUID, date, slotStart string) (*Appointment, error)

	CreateAppointment(ctx context.Context, appt *Appointment) (*Appointment, error)
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	GetAppointmentByIntentID(ctx context.Context, intentID string) (*Appointment, error)
	UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error)

	// Payment bookkeeping. MarkAppointmentPaid reports whether this call
	// performed the flip so repeated webhook deliveries collapse to no-ops.
	SetPaymentIntentID(ctx context.Context, id uuid.UUID, intentID string) (*Appointment, error)
	MarkAppointmentPaid(ctx context.Context, id uuid.UUID) (*Appointment, bool, error)

	// Rating. ApplyAppointmentRating only succeeds for a completed appointment
	// whose rating has not been applied yet; RecordPractitionerRating folds the
	// value into the running mean atomically.
	ApplyAppointmentRating(ctx context.Context, id uuid.UUID, rating int, feedback string) (*Appointment, bool, error)
	RecordPractitionerRating(ctx context.Context, practitionerID uuid.UUID, rating int) error

	ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error)
	ListAppointmentsByPractitioner(ctx context.Context, practitionerID uuid.UUID, limit, offset int) ([]Appointment, error)

	// Reminder worker
	FindDueReminders(ctx context.Context, windowStart, windowEnd time.Time) ([]Appointment, error)
	MarkReminderSent(ctx context.Context, id uuid.UUID) (bool, error)

	// Event logging
	InsertEvent(ctx context.Context, ev EventLog) error
}
