package booking

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/medibook/booking-platform/internal/notify"
	redisclient "github.com/medibook/booking-platform/internal/redis"
)

const (
	EventAppointmentBooked = "APPOINTMENT_BOOKED"
	EventStatusChanged     = "APPOINTMENT_STATUS_CHANGED"
	EventPaymentSucceeded  = "PAYMENT_SUCCEEDED"
	EventPaymentFailed     = "PAYMENT_FAILED"
	EventRatingRecorded    = "RATING_RECORDED"
	EventReminderSent      = "REMINDER_SENT"
)

var (
	ErrSlotUnavailable         = errors.New("slot already has an active appointment")
	ErrSlotNotOffered          = errors.New("slot is not part of the practitioner's availability")
	ErrSlotInPast              = errors.New("slot start time has already passed")
	ErrSlotBeingBooked         = errors.New("slot is currently being booked, please retry")
	ErrInvalidStatusTransition = errors.New("invalid status transition")
	ErrInvalidMode             = errors.New("mode must be in-person or video")
	ErrInvalidRating           = errors.New("rating must be between 1 and 5")
	ErrRatingNotAllowed        = errors.New("rating is only accepted for completed appointments")
)

type Service struct {
	repo         Repository
	locker       redisclient.Locker
	notifier     notify.Notifier
	log          *zap.Logger
	reminderLead time.Duration
	now          func() time.Time
}

func NewService(repo Repository, locker redisclient.Locker, notifier notify.Notifier, log *zap.Logger, reminderLead time.Duration) *Service {
	return &Service{
		repo:         repo,
		locker:       locker,
		notifier:     notifier,
		log:          log,
		reminderLead: reminderLead,
		now:          time.Now,
	}
}

// AvailableSlots returns the free slot starts for a practitioner on a date:
// the weekly template for that weekday, minus slots held by a scheduled or
// confirmed appointment, minus slots whose start time has already passed.
func (s *Service) AvailableSlots(ctx context.Context, practitionerID uuid.UUID, date string) ([]string, error) {
	day, err := ParseDate(date)
	if err != nil {
		return nil, err
	}

	if _, err := s.repo.GetPractitionerByID(ctx, practitionerID); err != nil {
		return nil, err
	}

	weekly, err := s.repo.ListWeeklySlots(ctx, practitionerID, int(day.Weekday()))
	if err != nil {
		return nil, fmt.Errorf("load weekly slots: %w", err)
	}

	booked, err := s.repo.ListBookedSlotStarts(ctx, practitionerID, date)
	if err != nil {
		return nil, fmt.Errorf("load booked slots: %w", err)
	}
	taken := make(map[string]bool, len(booked))
	for _, b := range booked {
		taken[b] = true
	}

	now := s.now()

	free := make([]string, 0, len(weekly))
	for _, slot := range weekly {
		if !slot.Available || taken[slot.SlotStart] {
			continue
		}
		moment, err := SlotMoment(day, slot.SlotStart)
		if err != nil {
			return nil, err
		}
		if !moment.After(now) {
			continue
		}
		free = append(free, slot.SlotStart)
	}

	sort.Strings(free)
	return free, nil
}

type BookParams struct {
	PatientID      uuid.UUID
	PractitionerID uuid.UUID
	Date           string // "2006-01-02"
	SlotStart      string // "HH:MM"
	Mode           ConsultationMode
	Reason         string
	Symptoms       []string
}

// BookAppointment reserves a slot for a patient. A per-slot distributed lock
// serialises the conflict check and the insert; the partial unique index in
// Postgres is the backstop if the lock is ever bypassed.
func (s *Service) BookAppointment(ctx context.Context, p BookParams) (*Appointment, error) {
	if p.Mode != ModeInPerson && p.Mode != ModeVideo {
		return nil, ErrInvalidMode
	}

	day, err := ParseDate(p.Date)
	if err != nil {
		return nil, err
	}
	slotStart, err := NormalizeSlot(p.SlotStart)
	if err != nil {
		return nil, err
	}

	if _, err := s.repo.GetPatientByID(ctx, p.PatientID); err != nil {
		return nil, err
	}
	practitioner, err := s.repo.GetPractitionerByID(ctx, p.PractitionerID)
	if err != nil {
		return nil, err
	}

	offered, err := s.slotOffered(ctx, p.PractitionerID, int(day.Weekday()), slotStart)
	if err != nil {
		return nil, err
	}
	if !offered {
		return nil, ErrSlotNotOffered
	}

	moment, err := SlotMoment(day, slotStart)
	if err != nil {
		return nil, err
	}
	if !moment.After(s.now()) {
		return nil, ErrSlotInPast
	}

	var created *Appointment

	err = s.locker.WithSlotLock(ctx, p.PractitionerID, p.Date, slotStart, func(lockCtx context.Context) error {
		existing, err := s.repo.GetActiveAppointmentForSlot(lockCtx, p.PractitionerID, p.Date, slotStart)
		if err != nil && !errors.Is(err, ErrAppointmentNotFound) {
			return fmt.Errorf("check slot conflict: %w", err)
		}
		if existing != nil {
			return ErrSlotUnavailable
		}

		appt := &Appointment{
			PatientID:       p.PatientID,
			PractitionerID:  p.PractitionerID,
			Date:            p.Date,
			SlotStart:       slotStart,
			DurationMinutes: 30,
			Mode:            p.Mode,
			Reason:          p.Reason,
			Symptoms:        p.Symptoms,
			Fee:             practitioner.ConsultationFee,
			Currency:        practitioner.Currency,
		}
		if p.Mode == ModeVideo {
			link := s.meetingLink(p.PractitionerID, p.PatientID)
			appt.MeetingLink = &link
		}

		created, err = s.repo.CreateAppointment(lockCtx, appt)
		if err != nil {
			if errors.Is(err, ErrDuplicateSlot) {
				return ErrSlotUnavailable
			}
			return fmt.Errorf("create appointment: %w", err)
		}

		s.logEvent(lockCtx, created.ID, EventAppointmentBooked, map[string]any{
			"patient_id":      p.PatientID.String(),
			"practitioner_id": p.PractitionerID.String(),
			"date":            p.Date,
			"slot_start":      slotStart,
			"fee":             created.Fee,
		})
		return nil
	})

	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrSlotBeingBooked
		}
		return nil, err
	}

	return created, nil
}

// UpdateStatus applies one lifecycle transition. Anything outside the closed
// transition table is rejected.
func (s *Service) UpdateStatus(ctx context.Context, id uuid.UUID, to AppointmentStatus) (*Appointment, error) {
	if !ValidStatus(to) {
		return nil, ErrInvalidStatusTransition
	}

	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if !CanTransition(appt.Status, to) {
		return nil, ErrInvalidStatusTransition
	}

	updated, err := s.repo.UpdateAppointmentStatus(ctx, id, appt.Status, to)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			// Lost the CAS race; the appointment moved under us.
			return nil, ErrInvalidStatusTransition
		}
		return nil, fmt.Errorf("update status: %w", err)
	}

	s.logEvent(ctx, updated.ID, EventStatusChanged, map[string]any{
		"from": string(appt.Status),
		"to":   string(to),
	})

	return updated, nil
}

// SubmitRating records a post-visit rating. Only completed appointments
// qualify, and the rating feeds the practitioner aggregate exactly once no
// matter how often the call is retried.
func (s *Service) SubmitRating(ctx context.Context, id uuid.UUID, rating int, feedback string) (*Appointment, error) {
	if rating < 1 || rating > 5 {
		return nil, ErrInvalidRating
	}

	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if appt.Status != StatusCompleted {
		return nil, ErrRatingNotAllowed
	}
	if appt.RatingApplied {
		// Retry of an applied rating is a no-op, not an error.
		return appt, nil
	}

	updated, applied, err := s.repo.ApplyAppointmentRating(ctx, id, rating, feedback)
	if err != nil {
		return nil, fmt.Errorf("apply rating: %w", err)
	}
	if !applied {
		return updated, nil
	}

	if err := s.repo.RecordPractitionerRating(ctx, updated.PractitionerID, rating); err != nil {
		return nil, fmt.Errorf("aggregate rating: %w", err)
	}

	s.logEvent(ctx, updated.ID, EventRatingRecorded, map[string]any{
		"practitioner_id": updated.PractitionerID.String(),
		"rating":          rating,
	})

	return updated, nil
}

// MarkPaid flips the appointment to paid and, if still scheduled, confirms it.
// Safe to call repeatedly: only the first call changes anything.
func (s *Service) MarkPaid(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	appt, changed, err := s.repo.MarkAppointmentPaid(ctx, id)
	if err != nil {
		return nil, err
	}

	if changed {
		s.logEvent(ctx, appt.ID, EventPaymentSucceeded, map[string]any{
			"payment_status": string(appt.PaymentStatus),
			"status":         string(appt.Status),
		})
	}

	return appt, nil
}

// MarkPaymentFailed records a failed payment attempt for operator visibility.
// The appointment keeps its pending payment status so the patient can retry.
func (s *Service) MarkPaymentFailed(ctx context.Context, id uuid.UUID, reason string) error {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return err
	}

	s.log.Warn("payment failed for appointment",
		zap.String("appointment_id", appt.ID.String()),
		zap.String("reason", reason),
	)
	s.logEvent(ctx, appt.ID, EventPaymentFailed, map[string]any{
		"reason": reason,
	})
	return nil
}

// AttachPaymentIntent ties a gateway intent to the appointment so webhook
// reconciliation can find it even without metadata.
func (s *Service) AttachPaymentIntent(ctx context.Context, id uuid.UUID, intentID string) (*Appointment, error) {
	return s.repo.SetPaymentIntentID(ctx, id, intentID)
}

func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.repo.GetAppointmentByID(ctx, id)
}

func (s *Service) GetAppointmentByIntentID(ctx context.Context, intentID string) (*Appointment, error) {
	return s.repo.GetAppointmentByIntentID(ctx, intentID)
}

func (s *Service) ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	limit, offset = clampPage(limit, offset)
	return s.repo.ListAppointmentsByPatient(ctx, patientID, limit, offset)
}

func (s *Service) ListAppointmentsByPractitioner(ctx context.Context, practitionerID uuid.UUID, limit, offset int) ([]Appointment, error) {
	limit, offset = clampPage(limit, offset)
	return s.repo.ListAppointmentsByPractitioner(ctx, practitionerID, limit, offset)
}

// TriggerDueReminders publishes a reminder for every appointment starting
// within the lead window that has not been reminded yet. Intended to be called
// periodically by the reminder worker.
func (s *Service) TriggerDueReminders(ctx context.Context) error {
	now := s.now()
	due, err := s.repo.FindDueReminders(ctx, now, now.Add(s.reminderLead))
	if err != nil {
		return fmt.Errorf("find due reminders: %w", err)
	}

	for _, appt := range due {
		day, err := ParseDate(appt.Date)
		if err != nil {
			s.log.Error("bad appointment date", zap.String("appointment_id", appt.ID.String()), zap.Error(err))
			continue
		}
		moment, err := SlotMoment(day, appt.SlotStart)
		if err != nil {
			s.log.Error("bad appointment slot", zap.String("appointment_id", appt.ID.String()), zap.Error(err))
			continue
		}

		if err := s.notifier.ScheduleReminder(ctx, appt.ID, moment, s.reminderLead); err != nil {
			s.log.Error("schedule reminder", zap.String("appointment_id", appt.ID.String()), zap.Error(err))
			continue
		}
		if _, err := s.repo.MarkReminderSent(ctx, appt.ID); err != nil {
			s.log.Error("mark reminder sent", zap.String("appointment_id", appt.ID.String()), zap.Error(err))
			continue
		}
		s.logEvent(ctx, appt.ID, EventReminderSent, map[string]any{
			"starts_at": moment,
		})
	}

	return nil
}

func (s *Service) slotOffered(ctx context.Context, practitionerID uuid.UUID, weekday int, slotStart string) (bool, error) {
	weekly, err := s.repo.ListWeeklySlots(ctx, practitionerID, weekday)
	if err != nil {
		return false, fmt.Errorf("load weekly slots: %w", err)
	}
	for _, slot := range weekly {
		if slot.SlotStart == slotStart {
			return slot.Available, nil
		}
	}
	return false, nil
}

func (s *Service) meetingLink(practitionerID, patientID uuid.UUID) string {
	return fmt.Sprintf("https://meet.medibook.health/%s-%s-%d",
		practitionerID.String(), patientID.String(), s.now().UnixMilli())
}

func (s *Service) logEvent(ctx context.Context, appointmentID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Error("marshal event payload", zap.String("event_type", eventType), zap.Error(err))
		data = nil
	}

	apptID := appointmentID

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     s.now(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.log.Error("insert event log",
			zap.String("event_type", eventType),
			zap.String("appointment_id", appointmentID.String()),
			zap.Error(err),
		)
	}
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
