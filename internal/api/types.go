package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/medibook/booking-platform/internal/booking"
)

type CreateAppointmentRequest struct {
	PractitionerID string   `json:"practitioner_id" validate:"required,uuid"`
	PatientID      string   `json:"patient_id" validate:"omitempty,uuid"` // admin only
	Date           string   `json:"date" validate:"required,datetime=2006-01-02"`
	SlotStart      string   `json:"slot_start" validate:"required"`
	Mode           string   `json:"mode" validate:"required,oneof=in-person video"`
	Reason         string   `json:"reason" validate:"required,max=2000"`
	Symptoms       []string `json:"symptoms" validate:"omitempty,dive,max=200"`
}

type UpdateStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=scheduled confirmed completed cancelled no-show"`
}

type SubmitRatingRequest struct {
	Rating   int    `json:"rating" validate:"required,min=1,max=5"`
	Feedback string `json:"feedback" validate:"omitempty,max=2000"`
}

type CreateIntentRequest struct {
	AppointmentID string `json:"appointment_id" validate:"required,uuid"`
	Currency      string `json:"currency" validate:"omitempty,len=3"`
}

type ConfirmPaymentRequest struct {
	IntentID string `json:"intent_id" validate:"required"`
}

type AvailabilityResponse struct {
	PractitionerID uuid.UUID `json:"practitioner_id"`
	Date           string    `json:"date"`
	Slots          []string  `json:"slots"`
}

type AppointmentResponse struct {
	ID              uuid.UUID `json:"id"`
	PatientID       uuid.UUID `json:"patient_id"`
	PractitionerID  uuid.UUID `json:"practitioner_id"`
	Date            string    `json:"date"`
	SlotStart       string    `json:"slot_start"`
	DurationMinutes int       `json:"duration_minutes"`
	Mode            string    `json:"mode"`
	Status          string    `json:"status"`
	Reason          string    `json:"reason,omitempty"`
	Symptoms        []string  `json:"symptoms,omitempty"`
	Fee             int64     `json:"fee"`
	Currency        string    `json:"currency"`
	PaymentStatus   string    `json:"payment_status"`
	MeetingLink     *string   `json:"meeting_link,omitempty"`
	Rating          *int      `json:"rating,omitempty"`
	Feedback        *string   `json:"feedback,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func toAppointmentResponse(a *booking.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:              a.ID,
		PatientID:       a.PatientID,
		PractitionerID:  a.PractitionerID,
		Date:            a.Date,
		SlotStart:       a.SlotStart,
		DurationMinutes: a.DurationMinutes,
		Mode:            string(a.Mode),
		Status:          string(a.Status),
		Reason:          a.Reason,
		Symptoms:        a.Symptoms,
		Fee:             a.Fee,
		Currency:        a.Currency,
		PaymentStatus:   string(a.PaymentStatus),
		MeetingLink:     a.MeetingLink,
		Rating:          a.Rating,
		Feedback:        a.Feedback,
		CreatedAt:       a.CreatedAt,
		UpdatedAt:       a.UpdatedAt,
	}
}

type CreateIntentResponse struct {
	IntentID     string `json:"intent_id"`
	ClientSecret string `json:"client_secret"`
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
}

type ConfirmPaymentResponse struct {
	AppointmentID uuid.UUID `json:"appointment_id"`
	PaymentStatus string    `json:"payment_status"`
	Status        string    `json:"status"`
}

type WebhookAckResponse struct {
	Received bool `json:"received"`
}
