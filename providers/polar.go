package providers

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/tcdynamics/billsync/models"
)

// PolarProvider verifies Polar's scheme: a single hex HMAC-SHA256 digest of
// the raw body carried in the Webhook-Signature header.
type PolarProvider struct {
	webhookSecret string
}

func NewPolarProvider(webhookSecret string) *PolarProvider {
	return &PolarProvider{webhookSecret: webhookSecret}
}

type polarEnvelope struct {
	ID   string          `json:"id"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func (p *PolarProvider) VerifyAndParse(payload []byte, signature string) (*models.WebhookEvent, error) {
	if p.webhookSecret == "" {
		return nil, ErrSecretNotConfigured
	}

	mac := hmac.New(sha256.New, []byte(p.webhookSecret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return nil, ErrInvalidSignature
	}

	var envelope polarEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformedPayload, err)
	}
	if envelope.ID == "" || envelope.Type == "" {
		return nil, fmt.Errorf("%w: missing event id or type", ErrMalformedPayload)
	}

	var body models.JSON
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformedPayload, err)
	}

	return &models.WebhookEvent{
		Provider: models.ProviderPolar,
		ID:       envelope.ID,
		Type:     envelope.Type,
		Payload:  body,
		Object:   envelope.Data,
	}, nil
}

// Polar object shapes, limited to the fields the handlers read. Metadata is
// kept loose: Polar forwards checkout metadata values as strings, numbers or
// booleans.

type PolarCustomer struct {
	ID         string `json:"id"`
	Email      string `json:"email"`
	ExternalID string `json:"external_id"`
}

type PolarPrice struct {
	ProductID   string `json:"product_id"`
	PriceAmount int64  `json:"price_amount"`
}

type PolarSubscription struct {
	ID        string         `json:"id"`
	Status    string         `json:"status"`
	ProductID string         `json:"product_id"`
	Amount    int64          `json:"amount"`
	Metadata  models.JSON    `json:"metadata"`
	Customer  *PolarCustomer `json:"customer"`
	Prices    []PolarPrice   `json:"prices"`
}

type PolarCheckout struct {
	ID           string             `json:"id"`
	Status       string             `json:"status"`
	Metadata     models.JSON        `json:"metadata"`
	Subscription *PolarSubscription `json:"subscription"`
}

type PolarOrder struct {
	ID          string         `json:"id"`
	Status      string         `json:"status"`
	TotalAmount int64          `json:"total_amount"`
	Metadata    models.JSON    `json:"metadata"`
	Customer    *PolarCustomer `json:"customer"`
}
