package payment

import (
	"context"
	"errors"
)

type IntentStatus string

const (
	IntentRequiresConfirmation  IntentStatus = "requires_confirmation"
	IntentRequiresPaymentMethod IntentStatus = "requires_payment_method"
	IntentProcessing            IntentStatus = "processing"
	IntentSucceeded             IntentStatus = "succeeded"
	IntentFailed                IntentStatus = "failed"
	IntentCanceled              IntentStatus = "canceled"
)

// Intent mirrors the gateway's payment intent. Its status is gateway-owned
// truth and is never inferred from client claims.
type Intent struct {
	ID           string
	ClientSecret string
	Amount       int64 // minor currency units
	Currency     string
	Status       IntentStatus
	Metadata     map[string]string
}

type CreateIntentParams struct {
	Amount      int64
	Currency    string
	Description string
	Metadata    map[string]string
}

var (
	// ErrGatewayUnavailable marks transient gateway failures; callers retry
	// with backoff.
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	ErrIntentNotFound     = errors.New("payment intent not found")
)

// Gateway is the outbound payment gateway contract. Injected so tests can
// substitute a fake.
type Gateway interface {
	CreateIntent(ctx context.Context, p CreateIntentParams) (*Intent, error)
	GetIntent(ctx context.Context, id string) (*Intent, error)
}
