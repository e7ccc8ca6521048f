package booking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	redisclient "github.com/medibook/booking-platform/internal/redis"
)

// fakeRepo is an in-memory Repository with the same conflict and CAS semantics
// as the Postgres implementation.
type fakeRepo struct {
	mu            sync.Mutex
	patients      map[uuid.UUID]*Patient
	practitioners map[uuid.UUID]*Practitioner
	weekly        map[uuid.UUID][]AvailabilitySlot
	appointments  map[uuid.UUID]*Appointment
	events        []EventLog
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		patients:      make(map[uuid.UUID]*Patient),
		practitioners: make(map[uuid.UUID]*Practitioner),
		weekly:        make(map[uuid.UUID][]AvailabilitySlot),
		appointments:  make(map[uuid.UUID]*Appointment),
	}
}

func (r *fakeRepo) GetPatientByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.patients[id]
	if !ok {
		return nil, ErrPatientNotFound
	}
	return p, nil
}

func (r *fakeRepo) GetPractitionerByID(_ context.Context, id uuid.UUID) (*Practitioner, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.practitioners[id]
	if !ok {
		return nil, ErrPractitionerNotFound
	}
	return p, nil
}

func (r *fakeRepo) ListWeeklySlots(_ context.Context, practitionerID uuid.UUID, weekday int) ([]AvailabilitySlot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []AvailabilitySlot
	for _, s := range r.weekly[practitionerID] {
		if int(s.Weekday) == weekday {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *fakeRepo) activeForSlot(practitionerID uuid.UUID, date, slotStart string) *Appointment {
	for _, a := range r.appointments {
		if a.PractitionerID == practitionerID && a.Date == date && a.SlotStart == slotStart &&
			(a.Status == StatusScheduled || a.Status == StatusConfirmed) {
			return a
		}
	}
	return nil
}

func (r *fakeRepo) ListBookedSlotStarts(_ context.Context, practitionerID uuid.UUID, date string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, a := range r.appointments {
		if a.PractitionerID == practitionerID && a.Date == date &&
			(a.Status == StatusScheduled || a.Status == StatusConfirmed) {
			out = append(out, a.SlotStart)
		}
	}
	return out, nil
}

func (r *fakeRepo) GetActiveAppointmentForSlot(_ context.Context, practitionerID uuid.UUID, date, slotStart string) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a := r.activeForSlot(practitionerID, date, slotStart); a != nil {
		return a, nil
	}
	return nil, ErrAppointmentNotFound
}

func (r *fakeRepo) CreateAppointment(_ context.Context, appt *Appointment) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.activeForSlot(appt.PractitionerID, appt.Date, appt.SlotStart) != nil {
		return nil, ErrDuplicateSlot
	}
	stored := *appt
	stored.ID = uuid.New()
	stored.Status = StatusScheduled
	stored.PaymentStatus = PaymentPending
	stored.CreatedAt = time.Now()
	stored.UpdatedAt = stored.CreatedAt
	r.appointments[stored.ID] = &stored
	return &stored, nil
}

func (r *fakeRepo) GetAppointmentByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return a, nil
}

func (r *fakeRepo) GetAppointmentByIntentID(_ context.Context, intentID string) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.appointments {
		if a.PaymentIntentID != nil && *a.PaymentIntentID == intentID {
			return a, nil
		}
	}
	return nil, ErrAppointmentNotFound
}

func (r *fakeRepo) UpdateAppointmentStatus(_ context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appointments[id]
	if !ok || a.Status != from {
		return nil, ErrAppointmentNotFound
	}
	a.Status = to
	a.UpdatedAt = time.Now()
	return a, nil
}

func (r *fakeRepo) SetPaymentIntentID(_ context.Context, id uuid.UUID, intentID string) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	a.PaymentIntentID = &intentID
	return a, nil
}

func (r *fakeRepo) MarkAppointmentPaid(_ context.Context, id uuid.UUID) (*Appointment, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appointments[id]
	if !ok {
		return nil, false, ErrAppointmentNotFound
	}
	if a.PaymentStatus == PaymentPaid {
		return a, false, nil
	}
	a.PaymentStatus = PaymentPaid
	if a.Status == StatusScheduled {
		a.Status = StatusConfirmed
	}
	return a, true, nil
}

func (r *fakeRepo) ApplyAppointmentRating(_ context.Context, id uuid.UUID, rating int, feedback string) (*Appointment, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appointments[id]
	if !ok {
		return nil, false, ErrAppointmentNotFound
	}
	if a.Status != StatusCompleted || a.RatingApplied {
		return a, false, nil
	}
	a.Rating = &rating
	a.Feedback = &feedback
	a.RatingApplied = true
	return a, true, nil
}

func (r *fakeRepo) RecordPractitionerRating(_ context.Context, practitionerID uuid.UUID, rating int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.practitioners[practitionerID]
	if !ok {
		return ErrPractitionerNotFound
	}
	p.Rating = (p.Rating*float64(p.RatingCount) + float64(rating)) / float64(p.RatingCount+1)
	p.RatingCount++
	return nil
}

func (r *fakeRepo) ListAppointmentsByPatient(_ context.Context, patientID uuid.UUID, _, _ int) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Appointment
	for _, a := range r.appointments {
		if a.PatientID == patientID {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (r *fakeRepo) ListAppointmentsByPractitioner(_ context.Context, practitionerID uuid.UUID, _, _ int) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Appointment
	for _, a := range r.appointments {
		if a.PractitionerID == practitionerID {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (r *fakeRepo) FindDueReminders(_ context.Context, windowStart, windowEnd time.Time) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Appointment
	for _, a := range r.appointments {
		if a.ReminderSent || (a.Status != StatusScheduled && a.Status != StatusConfirmed) {
			continue
		}
		day, err := ParseDate(a.Date)
		if err != nil {
			return nil, err
		}
		moment, err := SlotMoment(day, a.SlotStart)
		if err != nil {
			return nil, err
		}
		if !moment.Before(windowStart) && moment.Before(windowEnd) {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (r *fakeRepo) MarkReminderSent(_ context.Context, id uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appointments[id]
	if !ok || a.ReminderSent {
		return false, nil
	}
	a.ReminderSent = true
	return true, nil
}

func (r *fakeRepo) InsertEvent(_ context.Context, ev EventLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *fakeRepo) eventTypes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.EventType)
	}
	return out
}

// serialLocker serialises critical sections per slot key, like the Redis lock
// but in-process.
type serialLocker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
	busy  bool // report contention on every acquire
}

func newSerialLocker() *serialLocker {
	return &serialLocker{locks: make(map[string]*sync.Mutex)}
}

func (l *serialLocker) WithSlotLock(ctx context.Context, practitionerID uuid.UUID, date, slotStart string, fn func(ctx context.Context) error) error {
	if l.busy {
		return redisclient.ErrLockNotAcquired
	}
	key := fmt.Sprintf("%s:%s:%s", practitionerID, date, slotStart)
	l.mu.Lock()
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	l.mu.Unlock()

	m.Lock()
	defer m.Unlock()
	return fn(ctx)
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls []uuid.UUID
	err   error
}

func (n *recordingNotifier) ScheduleReminder(_ context.Context, appointmentID uuid.UUID, _ time.Time, _ time.Duration) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.calls = append(n.calls, appointmentID)
	return nil
}

// 2026-03-16 is a Monday.
const (
	testDate = "2026-03-16"
)

type testFixture struct {
	svc          *Service
	repo         *fakeRepo
	locker       *serialLocker
	notifier     *recordingNotifier
	patient      uuid.UUID
	practitioner uuid.UUID
}

func newTestFixture(t *testing.T, now time.Time) *testFixture {
	t.Helper()

	repo := newFakeRepo()
	locker := newSerialLocker()
	notifier := &recordingNotifier{}

	svc := NewService(repo, locker, notifier, zap.NewNop(), time.Hour)
	svc.now = func() time.Time { return now }

	patientID := uuid.New()
	repo.patients[patientID] = &Patient{ID: patientID, Name: "Asha Rao"}

	practitionerID := uuid.New()
	repo.practitioners[practitionerID] = &Practitioner{
		ID:              practitionerID,
		Name:            "Dr. Nair",
		ConsultationFee: 1500,
		Currency:        "inr",
	}
	for _, start := range []string{"09:00", "09:30", "10:00"} {
		repo.weekly[practitionerID] = append(repo.weekly[practitionerID], AvailabilitySlot{
			PractitionerID: practitionerID,
			Weekday:        time.Monday,
			SlotStart:      start,
			SlotEnd:        start, // end is informational here
			Available:      true,
		})
	}

	return &testFixture{
		svc:          svc,
		repo:         repo,
		locker:       locker,
		notifier:     notifier,
		patient:      patientID,
		practitioner: practitionerID,
	}
}

func TestAvailableSlots(t *testing.T) {
	// 09:15 on the booking day: 09:00 has already started.
	now := time.Date(2026, time.March, 16, 9, 15, 0, 0, time.UTC)
	f := newTestFixture(t, now)
	ctx := context.Background()

	free, err := f.svc.AvailableSlots(ctx, f.practitioner, testDate)
	require.NoError(t, err)
	assert.Equal(t, []string{"09:30", "10:00"}, free)

	// Book 09:30 and it disappears.
	_, err = f.svc.BookAppointment(ctx, BookParams{
		PatientID:      f.patient,
		PractitionerID: f.practitioner,
		Date:           testDate,
		SlotStart:      "09:30",
		Mode:           ModeInPerson,
	})
	require.NoError(t, err)

	free, err = f.svc.AvailableSlots(ctx, f.practitioner, testDate)
	require.NoError(t, err)
	assert.Equal(t, []string{"10:00"}, free)
}

func TestAvailableSlotsUnknownPractitioner(t *testing.T) {
	f := newTestFixture(t, time.Date(2026, time.March, 16, 8, 0, 0, 0, time.UTC))

	_, err := f.svc.AvailableSlots(context.Background(), uuid.New(), testDate)
	assert.ErrorIs(t, err, ErrPractitionerNotFound)
}

func TestBookAppointment(t *testing.T) {
	now := time.Date(2026, time.March, 16, 8, 0, 0, 0, time.UTC)
	f := newTestFixture(t, now)
	ctx := context.Background()

	appt, err := f.svc.BookAppointment(ctx, BookParams{
		PatientID:      f.patient,
		PractitionerID: f.practitioner,
		Date:           testDate,
		SlotStart:      "9:30", // unpadded on purpose
		Mode:           ModeVideo,
		Reason:         "follow-up",
		Symptoms:       []string{"headache"},
	})
	require.NoError(t, err)

	assert.Equal(t, StatusScheduled, appt.Status)
	assert.Equal(t, PaymentPending, appt.PaymentStatus)
	assert.Equal(t, "09:30", appt.SlotStart)
	assert.Equal(t, int64(1500), appt.Fee, "fee is captured from the practitioner at booking time")
	require.NotNil(t, appt.MeetingLink)
	assert.Contains(t, *appt.MeetingLink, "meet.medibook.health")
	assert.Contains(t, f.repo.eventTypes(), EventAppointmentBooked)
}

func TestBookAppointmentInPersonHasNoMeetingLink(t *testing.T) {
	now := time.Date(2026, time.March, 16, 8, 0, 0, 0, time.UTC)
	f := newTestFixture(t, now)

	appt, err := f.svc.BookAppointment(context.Background(), BookParams{
		PatientID:      f.patient,
		PractitionerID: f.practitioner,
		Date:           testDate,
		SlotStart:      "09:30",
		Mode:           ModeInPerson,
	})
	require.NoError(t, err)
	assert.Nil(t, appt.MeetingLink)
}

func TestBookAppointmentValidation(t *testing.T) {
	now := time.Date(2026, time.March, 16, 9, 45, 0, 0, time.UTC)
	f := newTestFixture(t, now)
	ctx := context.Background()

	base := BookParams{
		PatientID:      f.patient,
		PractitionerID: f.practitioner,
		Date:           testDate,
		SlotStart:      "10:00",
		Mode:           ModeInPerson,
	}

	t.Run("invalid mode", func(t *testing.T) {
		p := base
		p.Mode = "phone"
		_, err := f.svc.BookAppointment(ctx, p)
		assert.ErrorIs(t, err, ErrInvalidMode)
	})

	t.Run("unknown patient", func(t *testing.T) {
		p := base
		p.PatientID = uuid.New()
		_, err := f.svc.BookAppointment(ctx, p)
		assert.ErrorIs(t, err, ErrPatientNotFound)
	})

	t.Run("unknown practitioner", func(t *testing.T) {
		p := base
		p.PractitionerID = uuid.New()
		_, err := f.svc.BookAppointment(ctx, p)
		assert.ErrorIs(t, err, ErrPractitionerNotFound)
	})

	t.Run("slot not in weekly template", func(t *testing.T) {
		p := base
		p.SlotStart = "11:00"
		_, err := f.svc.BookAppointment(ctx, p)
		assert.ErrorIs(t, err, ErrSlotNotOffered)
	})

	t.Run("slot already started", func(t *testing.T) {
		p := base
		p.SlotStart = "09:30"
		_, err := f.svc.BookAppointment(ctx, p)
		assert.ErrorIs(t, err, ErrSlotInPast)
	})
}

func TestBookAppointmentConflict(t *testing.T) {
	now := time.Date(2026, time.March, 16, 8, 0, 0, 0, time.UTC)
	f := newTestFixture(t, now)
	ctx := context.Background()

	params := BookParams{
		PatientID:      f.patient,
		PractitionerID: f.practitioner,
		Date:           testDate,
		SlotStart:      "09:30",
		Mode:           ModeInPerson,
	}

	_, err := f.svc.BookAppointment(ctx, params)
	require.NoError(t, err)

	_, err = f.svc.BookAppointment(ctx, params)
	assert.ErrorIs(t, err, ErrSlotUnavailable)
}

func TestBookAppointmentLockContention(t *testing.T) {
	now := time.Date(2026, time.March, 16, 8, 0, 0, 0, time.UTC)
	f := newTestFixture(t, now)
	f.locker.busy = true

	_, err := f.svc.BookAppointment(context.Background(), BookParams{
		PatientID:      f.patient,
		PractitionerID: f.practitioner,
		Date:           testDate,
		SlotStart:      "09:30",
		Mode:           ModeInPerson,
	})
	assert.ErrorIs(t, err, ErrSlotBeingBooked)
}

func TestBookAppointmentConcurrentSingleWinner(t *testing.T) {
	now := time.Date(2026, time.March, 16, 8, 0, 0, 0, time.UTC)
	f := newTestFixture(t, now)
	ctx := context.Background()

	const attempts = 32

	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.svc.BookAppointment(ctx, BookParams{
				PatientID:      f.patient,
				PractitionerID: f.practitioner,
				Date:           testDate,
				SlotStart:      "09:30",
				Mode:           ModeInPerson,
			})
			errs[i] = err
		}(i)
	}
	wg.Wait()

	var won, lost int
	for _, err := range errs {
		switch {
		case err == nil:
			won++
		case errors.Is(err, ErrSlotUnavailable):
			lost++
		default:
			t.Fatalf("unexpected booking error: %v", err)
		}
	}
	assert.Equal(t, 1, won, "exactly one booking must win the slot")
	assert.Equal(t, attempts-1, lost)
}

func TestCancelledSlotCanBeRebooked(t *testing.T) {
	now := time.Date(2026, time.March, 16, 8, 0, 0, 0, time.UTC)
	f := newTestFixture(t, now)
	ctx := context.Background()

	params := BookParams{
		PatientID:      f.patient,
		PractitionerID: f.practitioner,
		Date:           testDate,
		SlotStart:      "09:30",
		Mode:           ModeInPerson,
	}

	first, err := f.svc.BookAppointment(ctx, params)
	require.NoError(t, err)

	_, err = f.svc.UpdateStatus(ctx, first.ID, StatusCancelled)
	require.NoError(t, err)

	free, err := f.svc.AvailableSlots(ctx, f.practitioner, testDate)
	require.NoError(t, err)
	assert.Contains(t, free, "09:30", "cancellation frees the slot")

	second, err := f.svc.BookAppointment(ctx, params)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestUpdateStatusTransitions(t *testing.T) {
	cases := []struct {
		from AppointmentStatus
		to   AppointmentStatus
		ok   bool
	}{
		{StatusScheduled, StatusConfirmed, true},
		{StatusScheduled, StatusCancelled, true},
		{StatusScheduled, StatusCompleted, false},
		{StatusScheduled, StatusNoShow, false},
		{StatusConfirmed, StatusCompleted, true},
		{StatusConfirmed, StatusCancelled, true},
		{StatusConfirmed, StatusNoShow, true},
		{StatusConfirmed, StatusScheduled, false},
		{StatusCompleted, StatusCancelled, false},
		{StatusCancelled, StatusConfirmed, false},
		{StatusNoShow, StatusCompleted, false},
	}

	now := time.Date(2026, time.March, 16, 8, 0, 0, 0, time.UTC)

	for _, tc := range cases {
		t.Run(fmt.Sprintf("%s_to_%s", tc.from, tc.to), func(t *testing.T) {
			f := newTestFixture(t, now)
			ctx := context.Background()

			appt, err := f.svc.BookAppointment(ctx, BookParams{
				PatientID:      f.patient,
				PractitionerID: f.practitioner,
				Date:           testDate,
				SlotStart:      "09:30",
				Mode:           ModeInPerson,
			})
			require.NoError(t, err)

			f.repo.mu.Lock()
			f.repo.appointments[appt.ID].Status = tc.from
			f.repo.mu.Unlock()

			updated, err := f.svc.UpdateStatus(ctx, appt.ID, tc.to)
			if tc.ok {
				require.NoError(t, err)
				assert.Equal(t, tc.to, updated.Status)
			} else {
				assert.ErrorIs(t, err, ErrInvalidStatusTransition)
			}
		})
	}
}

func TestUpdateStatusRejectsUnknownStatus(t *testing.T) {
	f := newTestFixture(t, time.Date(2026, time.March, 16, 8, 0, 0, 0, time.UTC))

	_, err := f.svc.UpdateStatus(context.Background(), uuid.New(), "archived")
	assert.ErrorIs(t, err, ErrInvalidStatusTransition)
}

func completedAppointment(t *testing.T, f *testFixture) *Appointment {
	t.Helper()
	ctx := context.Background()

	appt, err := f.svc.BookAppointment(ctx, BookParams{
		PatientID:      f.patient,
		PractitionerID: f.practitioner,
		Date:           testDate,
		SlotStart:      "09:30",
		Mode:           ModeInPerson,
	})
	require.NoError(t, err)

	_, err = f.svc.UpdateStatus(ctx, appt.ID, StatusConfirmed)
	require.NoError(t, err)
	updated, err := f.svc.UpdateStatus(ctx, appt.ID, StatusCompleted)
	require.NoError(t, err)
	return updated
}

func TestSubmitRating(t *testing.T) {
	now := time.Date(2026, time.March, 16, 8, 0, 0, 0, time.UTC)
	f := newTestFixture(t, now)
	ctx := context.Background()

	appt := completedAppointment(t, f)

	rated, err := f.svc.SubmitRating(ctx, appt.ID, 4, "helpful")
	require.NoError(t, err)
	require.NotNil(t, rated.Rating)
	assert.Equal(t, 4, *rated.Rating)
	assert.True(t, rated.RatingApplied)

	p, err := f.repo.GetPractitionerByID(ctx, f.practitioner)
	require.NoError(t, err)
	assert.Equal(t, float64(4), p.Rating)
	assert.Equal(t, int64(1), p.RatingCount)
}

func TestSubmitRatingRunningMean(t *testing.T) {
	now := time.Date(2026, time.March, 16, 8, 0, 0, 0, time.UTC)
	f := newTestFixture(t, now)
	ctx := context.Background()

	// Seed an existing aggregate: mean 4.0 over 2 ratings.
	f.repo.practitioners[f.practitioner].Rating = 4.0
	f.repo.practitioners[f.practitioner].RatingCount = 2

	appt := completedAppointment(t, f)

	_, err := f.svc.SubmitRating(ctx, appt.ID, 1, "")
	require.NoError(t, err)

	p, err := f.repo.GetPractitionerByID(ctx, f.practitioner)
	require.NoError(t, err)
	assert.InDelta(t, 3.0, p.Rating, 1e-9) // (4*2 + 1) / 3
	assert.Equal(t, int64(3), p.RatingCount)
}

func TestSubmitRatingIdempotent(t *testing.T) {
	now := time.Date(2026, time.March, 16, 8, 0, 0, 0, time.UTC)
	f := newTestFixture(t, now)
	ctx := context.Background()

	appt := completedAppointment(t, f)

	_, err := f.svc.SubmitRating(ctx, appt.ID, 5, "great")
	require.NoError(t, err)

	// Retrying must not touch the aggregate again.
	rated, err := f.svc.SubmitRating(ctx, appt.ID, 5, "great")
	require.NoError(t, err)
	assert.True(t, rated.RatingApplied)

	p, err := f.repo.GetPractitionerByID(ctx, f.practitioner)
	require.NoError(t, err)
	assert.Equal(t, int64(1), p.RatingCount)
	assert.Equal(t, float64(5), p.Rating)
}

func TestSubmitRatingRejections(t *testing.T) {
	now := time.Date(2026, time.March, 16, 8, 0, 0, 0, time.UTC)
	f := newTestFixture(t, now)
	ctx := context.Background()

	appt, err := f.svc.BookAppointment(ctx, BookParams{
		PatientID:      f.patient,
		PractitionerID: f.practitioner,
		Date:           testDate,
		SlotStart:      "09:30",
		Mode:           ModeInPerson,
	})
	require.NoError(t, err)

	_, err = f.svc.SubmitRating(ctx, appt.ID, 0, "")
	assert.ErrorIs(t, err, ErrInvalidRating)

	_, err = f.svc.SubmitRating(ctx, appt.ID, 6, "")
	assert.ErrorIs(t, err, ErrInvalidRating)

	// Still scheduled, not completed.
	_, err = f.svc.SubmitRating(ctx, appt.ID, 4, "")
	assert.ErrorIs(t, err, ErrRatingNotAllowed)
}

func TestMarkPaidConfirmsAndIsIdempotent(t *testing.T) {
	now := time.Date(2026, time.March, 16, 8, 0, 0, 0, time.UTC)
	f := newTestFixture(t, now)
	ctx := context.Background()

	appt, err := f.svc.BookAppointment(ctx, BookParams{
		PatientID:      f.patient,
		PractitionerID: f.practitioner,
		Date:           testDate,
		SlotStart:      "09:30",
		Mode:           ModeInPerson,
	})
	require.NoError(t, err)

	paid, err := f.svc.MarkPaid(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, PaymentPaid, paid.PaymentStatus)
	assert.Equal(t, StatusConfirmed, paid.Status)

	before := len(f.repo.eventTypes())
	again, err := f.svc.MarkPaid(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, PaymentPaid, again.PaymentStatus)
	assert.Len(t, f.repo.eventTypes(), before, "replayed mark-paid must not log another event")
}

func TestTriggerDueReminders(t *testing.T) {
	now := time.Date(2026, time.March, 16, 9, 0, 0, 0, time.UTC)
	f := newTestFixture(t, now)
	ctx := context.Background()

	// 09:30 falls inside the one hour lead window, 10:00 does too; book only
	// one of each kind to keep the assertion tight.
	appt, err := f.svc.BookAppointment(ctx, BookParams{
		PatientID:      f.patient,
		PractitionerID: f.practitioner,
		Date:           testDate,
		SlotStart:      "09:30",
		Mode:           ModeInPerson,
	})
	require.NoError(t, err)

	require.NoError(t, f.svc.TriggerDueReminders(ctx))
	require.Len(t, f.notifier.calls, 1)
	assert.Equal(t, appt.ID, f.notifier.calls[0])

	// A second sweep must not re-publish.
	require.NoError(t, f.svc.TriggerDueReminders(ctx))
	assert.Len(t, f.notifier.calls, 1)
}

func TestTriggerDueRemindersSkipsOutsideWindow(t *testing.T) {
	// Window is [07:00, 08:00); the 09:30 appointment is too far out.
	now := time.Date(2026, time.March, 16, 7, 0, 0, 0, time.UTC)
	f := newTestFixture(t, now)
	ctx := context.Background()

	_, err := f.svc.BookAppointment(ctx, BookParams{
		PatientID:      f.patient,
		PractitionerID: f.practitioner,
		Date:           testDate,
		SlotStart:      "09:30",
		Mode:           ModeInPerson,
	})
	require.NoError(t, err)

	require.NoError(t, f.svc.TriggerDueReminders(ctx))
	assert.Empty(t, f.notifier.calls)
}
