package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

var ErrGatewayUnavailable = errors.New("payment gateway unavailable")

type Intent struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
}

// Gateway is the external payment collaborator. The dispatch service only
// asks it to create an intent; confirmation and webhooks live elsewhere.
type Gateway interface {
	CreateIntent(ctx context.Context, amountCents int64, metadata map[string]string) (*Intent, error)
}

type intentRequest struct {
	AmountCents int64             `json:"amount_cents"`
	Currency    string            `json:"currency"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// HTTPGateway posts intent requests to the payment service's REST surface.
type HTTPGateway struct {
	baseURL string
	client  *http.Client
}

func NewHTTPGateway(baseURL string) *HTTPGateway {
	return &HTTPGateway{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (g *HTTPGateway) CreateIntent(ctx context.Context, amountCents int64, metadata map[string]string) (*Intent, error) {
	body, err := json.Marshal(intentRequest{
		AmountCents: amountCents,
		Currency:    "brl",
		Metadata:    metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("encode intent request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/v1/payment-intents", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build intent request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: status %d", ErrGatewayUnavailable, resp.StatusCode)
	}

	var intent Intent
	if err := json.NewDecoder(resp.Body).Decode(&intent); err != nil {
		return nil, fmt.Errorf("decode intent response: %w", err)
	}
	return &intent, nil
}

// Disabled is used when no payment collaborator is configured; completion
// proceeds, the payment stays pending for manual follow-up.
type Disabled struct{}

func (Disabled) CreateIntent(context.Context, int64, map[string]string) (*Intent, error) {
	return nil, ErrGatewayUnavailable
}
