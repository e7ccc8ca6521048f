package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/medibook/booking-platform/internal/booking"
	redisclient "github.com/medibook/booking-platform/internal/redis"
)

const (
	metadataAppointmentID = "appointment_id"

	// How far a webhook timestamp may drift from our clock.
	signatureTolerance = 5 * time.Minute
)

// EventRetention is how long processed gateway event ids are remembered for
// dedupe. Stripe retries webhooks for up to three days, so remember at least
// that long.
const EventRetention = 72 * time.Hour

var (
	ErrPaymentNotCompleted = errors.New("payment not completed")
	ErrAlreadyPaid         = errors.New("appointment is already paid")
	ErrUnknownAppointment  = errors.New("intent is not tied to a known appointment")
	ErrMalformedEvent      = errors.New("malformed webhook event")
)

// Appointments is the slice of the appointment lifecycle the orchestrator
// needs. The booking service implements it; the orchestrator is the only
// caller of the payment-status writes.
type Appointments interface {
	GetAppointment(ctx context.Context, id uuid.UUID) (*booking.Appointment, error)
	GetAppointmentByIntentID(ctx context.Context, intentID string) (*booking.Appointment, error)
	AttachPaymentIntent(ctx context.Context, id uuid.UUID, intentID string) (*booking.Appointment, error)
	MarkPaid(ctx context.Context, id uuid.UUID) (*booking.Appointment, error)
	MarkPaymentFailed(ctx context.Context, id uuid.UUID, reason string) error
}

type Orchestrator struct {
	gateway      Gateway
	appointments Appointments
	deduper      redisclient.Deduper
	secret       string
	currency     string
	log          *zap.Logger
	now          func() time.Time
}

func NewOrchestrator(gateway Gateway, appointments Appointments, deduper redisclient.Deduper, webhookSecret, defaultCurrency string, log *zap.Logger) *Orchestrator {
	return &Orchestrator{
		gateway:      gateway,
		appointments: appointments,
		deduper:      deduper,
		secret:       webhookSecret,
		currency:     defaultCurrency,
		log:          log,
		now:          time.Now,
	}
}

// CreateIntent asks the gateway for a payment intent covering the fee captured
// on the appointment. The intent's metadata carries the appointment id so the
// webhook can reconcile it even if the client never confirms.
func (o *Orchestrator) CreateIntent(ctx context.Context, appointmentID uuid.UUID, currency string) (*Intent, error) {
	appt, err := o.appointments.GetAppointment(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if appt.PaymentStatus == booking.PaymentPaid {
		return nil, ErrAlreadyPaid
	}

	if currency == "" {
		currency = appt.Currency
	}
	if currency == "" {
		currency = o.currency
	}

	intent, err := o.gateway.CreateIntent(ctx, CreateIntentParams{
		Amount:      appt.Fee,
		Currency:    currency,
		Description: "Consultation appointment",
		Metadata: map[string]string{
			metadataAppointmentID: appt.ID.String(),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create intent: %w", err)
	}

	if _, err := o.appointments.AttachPaymentIntent(ctx, appt.ID, intent.ID); err != nil {
		return nil, fmt.Errorf("attach intent: %w", err)
	}

	o.log.Info("payment intent created",
		zap.String("appointment_id", appt.ID.String()),
		zap.String("intent_id", intent.ID),
		zap.Int64("amount", intent.Amount),
	)

	return intent, nil
}

// ConfirmPayment re-reads the intent from the gateway and, only if the gateway
// reports success, marks the appointment paid. Safe to retry.
func (o *Orchestrator) ConfirmPayment(ctx context.Context, intentID string) (*booking.Appointment, error) {
	intent, err := o.gateway.GetIntent(ctx, intentID)
	if err != nil {
		return nil, err
	}

	if intent.Status != IntentSucceeded {
		return nil, fmt.Errorf("%w: intent status is %s", ErrPaymentNotCompleted, intent.Status)
	}

	appt, err := o.resolveAppointment(ctx, intent.ID, intent.Metadata)
	if err != nil {
		return nil, err
	}

	return o.appointments.MarkPaid(ctx, appt.ID)
}

// webhookEvent is the slice of the gateway event envelope we act on.
type webhookEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object struct {
			ID       string            `json:"id"`
			Metadata map[string]string `json:"metadata"`
		} `json:"object"`
	} `json:"data"`
}

type eventKind int

const (
	eventSucceeded eventKind = iota
	eventFailed
	eventOther
)

func classifyEvent(eventType string) eventKind {
	switch eventType {
	case "payment_intent.succeeded":
		return eventSucceeded
	case "payment_intent.payment_failed":
		return eventFailed
	default:
		return eventOther
	}
}

// HandleWebhook is the authoritative reconciliation path. It verifies the
// payload signature before anything else, absorbs duplicate deliveries, and
// dispatches on a closed set of event kinds so unknown types are acknowledged
// without side effects.
func (o *Orchestrator) HandleWebhook(ctx context.Context, payload []byte, sigHeader string) error {
	if err := VerifySignature(payload, sigHeader, o.secret, signatureTolerance, o.now()); err != nil {
		o.log.Warn("webhook signature rejected", zap.Error(err))
		return err
	}

	var event webhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	kind := classifyEvent(event.Type)
	if kind == eventOther {
		o.log.Debug("ignoring webhook event", zap.String("type", event.Type))
		return nil
	}

	if event.ID != "" {
		first, err := o.deduper.FirstSeen(ctx, event.ID)
		if err != nil {
			// Dedupe is an optimisation; the mark-paid write is idempotent on
			// its own, so keep going.
			o.log.Warn("webhook dedupe unavailable", zap.Error(err))
		} else if !first {
			o.log.Info("duplicate webhook event absorbed", zap.String("event_id", event.ID))
			return nil
		}
	}

	if err := o.dispatchEvent(ctx, kind, event); err != nil {
		// Release the claimed event id so the gateway's redelivery is
		// processed instead of absorbed as a duplicate. Without this a
		// transient failure here would lose the event for good.
		o.release(ctx, event.ID)
		return err
	}

	return nil
}

func (o *Orchestrator) dispatchEvent(ctx context.Context, kind eventKind, event webhookEvent) error {
	appt, err := o.resolveAppointment(ctx, event.Data.Object.ID, event.Data.Object.Metadata)
	if err != nil {
		if errors.Is(err, ErrUnknownAppointment) || errors.Is(err, booking.ErrAppointmentNotFound) {
			// Nothing we can act on; acknowledge so the gateway stops retrying.
			o.log.Warn("webhook for unknown appointment",
				zap.String("event_id", event.ID),
				zap.String("intent_id", event.Data.Object.ID),
			)
			return nil
		}
		return err
	}

	switch kind {
	case eventSucceeded:
		if _, err := o.appointments.MarkPaid(ctx, appt.ID); err != nil {
			return fmt.Errorf("mark paid from webhook: %w", err)
		}
	case eventFailed:
		if err := o.appointments.MarkPaymentFailed(ctx, appt.ID, event.Type); err != nil {
			return fmt.Errorf("record failed payment: %w", err)
		}
	}

	return nil
}

func (o *Orchestrator) release(ctx context.Context, eventID string) {
	if eventID == "" {
		return
	}
	if err := o.deduper.Forget(ctx, eventID); err != nil {
		// The id stays claimed until the retention TTL expires. Loud enough
		// for an operator to replay the event by hand.
		o.log.Error("could not release webhook event for redelivery",
			zap.String("event_id", eventID),
			zap.Error(err),
		)
	}
}

// resolveAppointment locates the appointment an intent belongs to, preferring
// the metadata the intent was created with and falling back to the stored
// intent id.
func (o *Orchestrator) resolveAppointment(ctx context.Context, intentID string, metadata map[string]string) (*booking.Appointment, error) {
	if raw, ok := metadata[metadataAppointmentID]; ok && raw != "" {
		id, err := uuid.Parse(raw)
		if err == nil {
			return o.appointments.GetAppointment(ctx, id)
		}
	}

	if intentID != "" {
		appt, err := o.appointments.GetAppointmentByIntentID(ctx, intentID)
		if err == nil {
			return appt, nil
		}
		if !errors.Is(err, booking.ErrAppointmentNotFound) {
			return nil, err
		}
	}

	return nil, ErrUnknownAppointment
}
