package providers

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v82/webhook"
	"github.com/tcdynamics/billsync/models"
)

// StripeProvider verifies the Stripe-Signature scheme: a timestamp plus one
// or more HMAC-SHA256 digests over "timestamp.body". Verification runs on the
// exact bytes received; parsing happens only after the signature checks out.
type StripeProvider struct {
	webhookSecret string
}

func NewStripeProvider(webhookSecret string) *StripeProvider {
	return &StripeProvider{webhookSecret: webhookSecret}
}

func (p *StripeProvider) VerifyAndParse(payload []byte, signature string) (*models.WebhookEvent, error) {
	if p.webhookSecret == "" {
		return nil, ErrSecretNotConfigured
	}

	event, err := webhook.ConstructEventWithOptions(payload, signature, p.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		if isStripeSignatureError(err) {
			return nil, fmt.Errorf("%w: %s", ErrInvalidSignature, err)
		}
		return nil, fmt.Errorf("%w: %s", ErrMalformedPayload, err)
	}

	if event.ID == "" || event.Type == "" {
		return nil, fmt.Errorf("%w: missing event id or type", ErrMalformedPayload)
	}

	var body models.JSON
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformedPayload, err)
	}

	var object json.RawMessage
	if event.Data != nil {
		object = event.Data.Raw
	}

	return &models.WebhookEvent{
		Provider: models.ProviderStripe,
		ID:       event.ID,
		Type:     string(event.Type),
		Payload:  body,
		Object:   object,
	}, nil
}

func isStripeSignatureError(err error) bool {
	return errors.Is(err, webhook.ErrNotSigned) ||
		errors.Is(err, webhook.ErrInvalidHeader) ||
		errors.Is(err, webhook.ErrNoValidSignature) ||
		errors.Is(err, webhook.ErrTooOld)
}
