package payment

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/medibook/booking-platform/internal/config"
)

// StripeGateway talks to the Stripe payment intents API over its form-encoded
// REST surface. All calls carry the client's bounded timeout.
type StripeGateway struct {
	baseURL    string
	secretKey  string
	httpClient *http.Client
}

func NewStripeGateway(cfg config.GatewayConfig) *StripeGateway {
	return &StripeGateway{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		secretKey: cfg.SecretKey,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

type intentPayload struct {
	ID           string            `json:"id"`
	ClientSecret string            `json:"client_secret"`
	Amount       int64             `json:"amount"`
	Currency     string            `json:"currency"`
	Status       string            `json:"status"`
	Metadata     map[string]string `json:"metadata"`
}

type errorPayload struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (g *StripeGateway) CreateIntent(ctx context.Context, p CreateIntentParams) (*Intent, error) {
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(p.Amount, 10))
	form.Set("currency", p.Currency)
	if p.Description != "" {
		form.Set("description", p.Description)
	}
	for k, v := range p.Metadata {
		form.Set(fmt.Sprintf("metadata[%s]", k), v)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		g.baseURL+"/v1/payment_intents", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build create intent request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	return g.do(req)
}

func (g *StripeGateway) GetIntent(ctx context.Context, id string) (*Intent, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		g.baseURL+"/v1/payment_intents/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, fmt.Errorf("build get intent request: %w", err)
	}

	return g.do(req)
}

func (g *StripeGateway) do(req *http.Request) (*Intent, error) {
	req.Header.Set("Authorization", "Bearer "+g.secretKey)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrGatewayUnavailable, err)
	}

	switch {
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: gateway returned %d", ErrGatewayUnavailable, resp.StatusCode)
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrIntentNotFound
	case resp.StatusCode >= 400:
		var ep errorPayload
		if err := json.Unmarshal(body, &ep); err == nil && ep.Error.Message != "" {
			return nil, fmt.Errorf("gateway rejected request: %s", ep.Error.Message)
		}
		return nil, fmt.Errorf("gateway rejected request with status %d", resp.StatusCode)
	}

	var ip intentPayload
	if err := json.Unmarshal(body, &ip); err != nil {
		return nil, fmt.Errorf("decode intent response: %w", err)
	}

	return &Intent{
		ID:           ip.ID,
		ClientSecret: ip.ClientSecret,
		Amount:       ip.Amount,
		Currency:     ip.Currency,
		Status:       IntentStatus(ip.Status),
		Metadata:     ip.Metadata,
	}, nil
}
