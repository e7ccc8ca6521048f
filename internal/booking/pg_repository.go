package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

const appointmentColumns = `
	id, patient_id, practitioner_id, appointment_date, slot_start,
	duration_minutes, mode, status, reason, symptoms, fee, currency,
	payment_status, payment_intent_id, meeting_link, rating, feedback,
	rating_applied, reminder_sent, created_at, updated_at
`

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	var email *string

	err := row.Scan(
		&p.ID,
		&p.Name,
		&email,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}

	p.Email = email
	return &p, nil
}

func scanPractitioner(row pgx.Row) (*Practitioner, error) {
	var p Practitioner

	err := row.Scan(
		&p.ID,
		&p.Name,
		&p.Specialty,
		&p.ConsultationFee,
		&p.Currency,
		&p.Rating,
		&p.RatingCount,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPractitionerNotFound
		}
		return nil, err
	}

	return &p, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var date time.Time

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.PractitionerID,
		&date,
		&a.SlotStart,
		&a.DurationMinutes,
		&a.Mode,
		&a.Status,
		&a.Reason,
		&a.Symptoms,
		&a.Fee,
		&a.Currency,
		&a.PaymentStatus,
		&a.PaymentIntentID,
		&a.MeetingLink,
		&a.Rating,
		&a.Feedback,
		&a.RatingApplied,
		&a.ReminderSent,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.Date = date.Format(DateLayout)
	return &a, nil
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// Interface methods

func (r *PgRepository) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, email, created_at, updated_at
		FROM patients
		WHERE id = $1
	`, id)
	return scanPatient(row)
}

func (r *PgRepository) GetPractitionerByID(ctx context.Context, id uuid.UUID) (*Practitioner, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, specialty, consultation_fee, currency, rating, rating_count, created_at, updated_at
		FROM practitioners
		WHERE id = $1
	`, id)
	return scanPractitioner(row)
}

func (r *PgRepository) ListWeeklySlots(ctx context.Context, practitionerID uuid.UUID, weekday int) ([]AvailabilitySlot, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT practitioner_id, weekday, slot_start, slot_end, is_available
		FROM practitioner_availability
		WHERE practitioner_id = $1 AND weekday = $2
		ORDER BY slot_start
	`, practitionerID, weekday)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []AvailabilitySlot
	for rows.Next() {
		var s AvailabilitySlot
		var wd int
		if err := rows.Scan(&s.PractitionerID, &wd, &s.SlotStart, &s.SlotEnd, &s.Available); err != nil {
			return nil, err
		}
		s.Weekday = time.Weekday(wd)
		result = append(result, s)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) ListBookedSlotStarts(ctx context.Context, practitionerID uuid.UUID, date string) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT slot_start
		FROM appointments
		WHERE practitioner_id = $1
		  AND appointment_date = $2
		  AND status IN ('scheduled', 'confirmed')
	`, practitionerID, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		result = append(result, s)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) GetActiveAppointmentForSlot(ctx context.Context, practitionerID uuid.UUID, date, slotStart string) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE practitioner_id = $1
		  AND appointment_date = $2
		  AND slot_start = $3
		  AND status IN ('scheduled', 'confirmed')
		LIMIT 1
	`, practitionerID, date, slotStart)
	return scanAppointment(row)
}

func (r *PgRepository) CreateAppointment(ctx context.Context, appt *Appointment) (*Appointment, error) {
	id := appt.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO appointments (
			id, patient_id, practitioner_id, appointment_date, slot_start,
			duration_minutes, mode, status, reason, symptoms, fee, currency,
			payment_status, meeting_link, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'scheduled', $8, $9, $10, $11, 'pending', $12, now(), now())
		RETURNING `+appointmentColumns+`
	`, id, appt.PatientID, appt.PractitionerID, appt.Date, appt.SlotStart,
		appt.DurationMinutes, appt.Mode, appt.Reason, appt.Symptoms,
		appt.Fee, appt.Currency, appt.MeetingLink)

	created, err := scanAppointment(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, ErrDuplicateSlot
		}
		return nil, err
	}

	return created, nil
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) GetAppointmentByIntentID(ctx context.Context, intentID string) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE payment_intent_id = $1
	`, intentID)
	return scanAppointment(row)
}

func (r *PgRepository) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+appointmentColumns+`
	`, id, to, from)

	return scanAppointment(row)
}

func (r *PgRepository) SetPaymentIntentID(ctx context.Context, id uuid.UUID, intentID string) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET payment_intent_id = $2,
		    updated_at = now()
		WHERE id = $1
		RETURNING `+appointmentColumns+`
	`, id, intentID)

	return scanAppointment(row)
}

// MarkAppointmentPaid flips payment_status to paid and promotes a scheduled
// appointment to confirmed. The guard on payment_status makes retries no-ops.
func (r *PgRepository) MarkAppointmentPaid(ctx context.Context, id uuid.UUID) (*Appointment, bool, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET payment_status = 'paid',
		    status = CASE WHEN status = 'scheduled' THEN 'confirmed' ELSE status END,
		    updated_at = now()
		WHERE id = $1
		  AND payment_status <> 'paid'
		RETURNING `+appointmentColumns+`
	`, id)

	appt, err := scanAppointment(row)
	if err == nil {
		return appt, true, nil
	}
	if !errors.Is(err, ErrAppointmentNotFound) {
		return nil, false, err
	}

	// No row updated: either already paid or genuinely missing.
	appt, err = r.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return appt, false, nil
}

func (r *PgRepository) ApplyAppointmentRating(ctx context.Context, id uuid.UUID, rating int, feedback string) (*Appointment, bool, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET rating = $2,
		    feedback = $3,
		    rating_applied = true,
		    updated_at = now()
		WHERE id = $1
		  AND status = 'completed'
		  AND rating_applied = false
		RETURNING `+appointmentColumns+`
	`, id, rating, feedback)

	appt, err := scanAppointment(row)
	if err == nil {
		return appt, true, nil
	}
	if !errors.Is(err, ErrAppointmentNotFound) {
		return nil, false, err
	}

	appt, err = r.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return appt, false, nil
}

// RecordPractitionerRating folds one rating into the running mean in a single
// statement so concurrent submissions cannot lose updates.
func (r *PgRepository) RecordPractitionerRating(ctx context.Context, practitionerID uuid.UUID, rating int) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE practitioners
		SET rating = (rating * rating_count + $2) / (rating_count + 1),
		    rating_count = rating_count + 1,
		    updated_at = now()
		WHERE id = $1
	`, practitionerID, rating)
	if err != nil {
		return fmt.Errorf("record practitioner rating: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPractitionerNotFound
	}
	return nil
}

func (r *PgRepository) ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE patient_id = $1
		ORDER BY appointment_date DESC, slot_start DESC
		LIMIT $2 OFFSET $3
	`, patientID, limit, offset)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) ListAppointmentsByPractitioner(ctx context.Context, practitionerID uuid.UUID, limit, offset int) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE practitioner_id = $1
		ORDER BY appointment_date DESC, slot_start DESC
		LIMIT $2 OFFSET $3
	`, practitionerID, limit, offset)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) FindDueReminders(ctx context.Context, windowStart, windowEnd time.Time) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status IN ('scheduled', 'confirmed')
		  AND reminder_sent = false
		  AND appointment_date + slot_start::time >= $1
		  AND appointment_date + slot_start::time < $2
	`, windowStart, windowEnd)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) MarkReminderSent(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE appointments
		SET reminder_sent = true,
		    updated_at = now()
		WHERE id = $1
		  AND reminder_sent = false
	`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
