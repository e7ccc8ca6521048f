// Package notify carries the outbound reminder contract. The booking service
// only decides when a reminder is due; delivery belongs to the consumer on the
// other side of the queue.
package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Notifier schedules a reminder to go out before an appointment starts.
type Notifier interface {
	ScheduleReminder(ctx context.Context, appointmentID uuid.UUID, startsAt time.Time, lead time.Duration) error
}

// ReminderMessage is the payload published to the reminder queue.
type ReminderMessage struct {
	AppointmentID string    `json:"appointment_id"`
	StartsAt      time.Time `json:"starts_at"`
	RemindAt      time.Time `json:"remind_at"`
	EnqueuedAt    time.Time `json:"enqueued_at"`
}
