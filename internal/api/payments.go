package api

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/medibook/booking-platform/internal/booking"
	"github.com/medibook/booking-platform/internal/payment"
)

// Gateway webhook bodies are small; anything larger is suspect.
const maxWebhookBody = 1 << 20

// PaymentService is the slice of the payment orchestrator the handlers use.
type PaymentService interface {
	CreateIntent(ctx context.Context, appointmentID uuid.UUID, currency string) (*payment.Intent, error)
	ConfirmPayment(ctx context.Context, intentID string) (*booking.Appointment, error)
	HandleWebhook(ctx context.Context, payload []byte, sigHeader string) error
}

func createIntentHandler(svc PaymentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateIntentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if err := validate.Struct(req); err != nil {
			writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
			return
		}

		appointmentID, err := uuid.Parse(req.AppointmentID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "appointment_id must be a valid UUID")
			return
		}

		intent, err := svc.CreateIntent(r.Context(), appointmentID, req.Currency)
		if err != nil {
			handlePaymentError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, CreateIntentResponse{
			IntentID:     intent.ID,
			ClientSecret: intent.ClientSecret,
			Amount:       intent.Amount,
			Currency:     intent.Currency,
		})
	}
}

func confirmPaymentHandler(svc PaymentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ConfirmPaymentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if err := validate.Struct(req); err != nil {
			writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
			return
		}

		appt, err := svc.ConfirmPayment(r.Context(), req.IntentID)
		if err != nil {
			handlePaymentError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, ConfirmPaymentResponse{
			AppointmentID: appt.ID,
			PaymentStatus: string(appt.PaymentStatus),
			Status:        string(appt.Status),
		})
	}
}

// webhookHandler receives gateway events. The raw body is read before any
// parsing because the signature covers the exact bytes on the wire.
func webhookHandler(svc PaymentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		if err != nil {
			writeError(w, http.StatusBadRequest, "unreadable_body", "could not read request body")
			return
		}

		if err := svc.HandleWebhook(r.Context(), payload, r.Header.Get("Stripe-Signature")); err != nil {
			handlePaymentError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, WebhookAckResponse{Received: true})
	}
}

func handlePaymentError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, booking.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, payment.ErrAlreadyPaid):
		writeError(w, http.StatusConflict, "already_paid", err.Error())
	case errors.Is(err, payment.ErrPaymentNotCompleted):
		writeError(w, http.StatusPaymentRequired, "payment_not_completed", err.Error())
	case errors.Is(err, payment.ErrIntentNotFound):
		writeError(w, http.StatusNotFound, "intent_not_found", err.Error())
	case errors.Is(err, payment.ErrUnknownAppointment):
		writeError(w, http.StatusNotFound, "unknown_appointment", err.Error())
	case errors.Is(err, payment.ErrInvalidSignature):
		writeError(w, http.StatusBadRequest, "invalid_signature", "webhook signature verification failed")
	case errors.Is(err, payment.ErrMalformedEvent):
		writeError(w, http.StatusBadRequest, "malformed_event", err.Error())
	case errors.Is(err, payment.ErrGatewayUnavailable):
		writeError(w, http.StatusBadGateway, "gateway_unavailable", "payment gateway is unavailable, please retry")
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
