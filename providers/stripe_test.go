package providers

import (
	"encoding/hex"
	"errors"
	"fmt"
	"testing"
	"time"

	stripe "github.com/stripe/stripe-go/v82"
	"github.com/tcdynamics/billsync/models"
)

func signStripe(secret string, payload []byte) string {
	sp := stripe.GenerateTestSignedPayload(&stripe.UnsignedPayload{
		Payload: payload,
		Secret:  secret,
	})
	return sp.Header
}

func TestStripeProvider_VerifyAndParse_ValidSignature(t *testing.T) {
	secret := "whsec_test_secret"
	provider := NewStripeProvider(secret)

	payload := []byte(`{
		"id": "evt_123",
		"type": "customer.subscription.created",
		"data": {"object": {"id": "sub_1", "status": "active"}}
	}`)

	event, err := provider.VerifyAndParse(payload, signStripe(secret, payload))
	if err != nil {
		t.Fatalf("VerifyAndParse() error = %v", err)
	}
	if event.Provider != models.ProviderStripe {
		t.Errorf("Provider = %s, want %s", event.Provider, models.ProviderStripe)
	}
	if event.ID != "evt_123" {
		t.Errorf("ID = %s, want evt_123", event.ID)
	}
	if event.Type != "customer.subscription.created" {
		t.Errorf("Type = %s, want customer.subscription.created", event.Type)
	}
	if len(event.Object) == 0 {
		t.Error("Object is empty, want the inner object payload")
	}
}

func TestStripeProvider_VerifyAndParse_WrongSecret(t *testing.T) {
	provider := NewStripeProvider("whsec_real_secret")

	payload := []byte(`{"id": "evt_123", "type": "invoice.payment_succeeded", "data": {"object": {}}}`)
	if _, err := provider.VerifyAndParse(payload, signStripe("whsec_other_secret", payload)); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("VerifyAndParse() error = %v, want ErrInvalidSignature", err)
	}
}

func TestStripeProvider_VerifyAndParse_GarbageHeader(t *testing.T) {
	provider := NewStripeProvider("whsec_test_secret")

	payload := []byte(`{"id": "evt_123", "type": "invoice.payment_succeeded", "data": {"object": {}}}`)
	if _, err := provider.VerifyAndParse(payload, "not-a-signature-header"); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("VerifyAndParse() error = %v, want ErrInvalidSignature", err)
	}
}

func TestStripeProvider_VerifyAndParse_StaleTimestamp(t *testing.T) {
	secret := "whsec_test_secret"
	provider := NewStripeProvider(secret)

	payload := []byte(`{"id": "evt_123", "type": "invoice.payment_succeeded", "data": {"object": {}}}`)
	oldTime := time.Now().Add(-time.Hour)
	sig := stripe.ComputeSignature(oldTime, payload, secret)
	header := fmt.Sprintf("t=%d,v1=%s", oldTime.Unix(), hex.EncodeToString(sig))

	if _, err := provider.VerifyAndParse(payload, header); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("VerifyAndParse() error = %v, want ErrInvalidSignature", err)
	}
}

func TestStripeProvider_VerifyAndParse_NoSecretFailsClosed(t *testing.T) {
	provider := NewStripeProvider("")

	payload := []byte(`{"id": "evt_123", "type": "invoice.payment_succeeded", "data": {"object": {}}}`)
	if _, err := provider.VerifyAndParse(payload, signStripe("whsec_test_secret", payload)); !errors.Is(err, ErrSecretNotConfigured) {
		t.Errorf("VerifyAndParse() error = %v, want ErrSecretNotConfigured", err)
	}
}

func TestStripeProvider_VerifyAndParse_MissingEventFields(t *testing.T) {
	secret := "whsec_test_secret"
	provider := NewStripeProvider(secret)

	payload := []byte(`{"data": {"object": {}}}`)
	if _, err := provider.VerifyAndParse(payload, signStripe(secret, payload)); !errors.Is(err, ErrMalformedPayload) {
		t.Errorf("VerifyAndParse() error = %v, want ErrMalformedPayload", err)
	}
}
