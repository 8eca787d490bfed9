package api

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	stripe "github.com/stripe/stripe-go/v82"
	"github.com/tcdynamics/billsync/models"
	"github.com/tcdynamics/billsync/providers"
	"github.com/tcdynamics/billsync/utils"
)

const (
	testStripeSecret = "whsec_test_secret"
	testPolarSecret  = "polar_whsec_test"
)

type fakeProcessor struct {
	result *models.AckResult
	err    error
	events []*models.WebhookEvent
}

func (f *fakeProcessor) Process(ctx context.Context, event *models.WebhookEvent) (*models.AckResult, error) {
	f.events = append(f.events, event)
	if f.err != nil {
		return nil, f.err
	}
	if f.result != nil {
		return f.result, nil
	}
	return &models.AckResult{EventType: event.Type}, nil
}

func newTestHandler(processor *fakeProcessor) *WebhookHandler {
	return NewWebhookHandler(
		providers.NewStripeProvider(testStripeSecret),
		providers.NewPolarProvider(testPolarSecret),
		processor,
	)
}

func signPolarBody(payload []byte) string {
	mac := hmac.New(sha256.New, []byte(testPolarSecret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func signStripeBody(payload []byte) string {
	sp := stripe.GenerateTestSignedPayload(&stripe.UnsignedPayload{
		Payload: payload,
		Secret:  testStripeSecret,
	})
	return sp.Header
}

func decodeAck(t *testing.T, w *httptest.ResponseRecorder) webhookAck {
	t.Helper()
	var ack webhookAck
	if err := json.NewDecoder(w.Body).Decode(&ack); err != nil {
		t.Fatalf("failed to decode ack: %v", err)
	}
	return ack
}

func TestWebhookHandler_HandleStripeWebhook_MissingSignature(t *testing.T) {
	handler := newTestHandler(&fakeProcessor{})

	payload := []byte(`{"id": "evt_1", "type": "invoice.payment_succeeded"}`)
	req := httptest.NewRequest("POST", "/webhooks/stripe", bytes.NewBuffer(payload))
	w := httptest.NewRecorder()

	handler.HandleStripeWebhook(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("HandleStripeWebhook() status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestWebhookHandler_HandleStripeWebhook_InvalidSignature(t *testing.T) {
	processor := &fakeProcessor{}
	handler := newTestHandler(processor)

	payload := []byte(`{"id": "evt_1", "type": "invoice.payment_succeeded"}`)
	req := httptest.NewRequest("POST", "/webhooks/stripe", bytes.NewBuffer(payload))
	req.Header.Set("Stripe-Signature", "t=1234567890,v1=deadbeef")
	w := httptest.NewRecorder()

	handler.HandleStripeWebhook(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("HandleStripeWebhook() status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
	if len(processor.events) != 0 {
		t.Error("event reached processor despite failed verification")
	}

	var resp ErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	if resp.Error != utils.ErrWebhookInvalidSignature.Message {
		t.Errorf("error body = %q, want %q", resp.Error, utils.ErrWebhookInvalidSignature.Message)
	}
}

func TestWebhookHandler_OversizedPayloadRejected(t *testing.T) {
	processor := &fakeProcessor{}
	handler := newTestHandler(processor)

	payload := bytes.Repeat([]byte("a"), maxWebhookBodyBytes+1)
	req := httptest.NewRequest("POST", "/webhooks/polar", bytes.NewReader(payload))
	req.Header.Set("Webhook-Signature", signPolarBody(payload))
	w := httptest.NewRecorder()

	handler.HandlePolarWebhook(w, req)

	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("HandlePolarWebhook() status = %d, want %d", w.Code, http.StatusRequestEntityTooLarge)
	}
	if len(processor.events) != 0 {
		t.Error("oversized payload reached the processor")
	}

	var resp ErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	if resp.Error != utils.ErrWebhookPayloadTooLarge.Message {
		t.Errorf("error body = %q, want %q", resp.Error, utils.ErrWebhookPayloadTooLarge.Message)
	}
}

func TestWebhookHandler_HandleStripeWebhook_Accepted(t *testing.T) {
	processor := &fakeProcessor{}
	handler := newTestHandler(processor)

	payload := []byte(`{
		"id": "evt_1",
		"type": "customer.subscription.created",
		"data": {"object": {"id": "sub_1", "status": "active"}}
	}`)
	req := httptest.NewRequest("POST", "/webhooks/stripe", bytes.NewBuffer(payload))
	req.Header.Set("Stripe-Signature", signStripeBody(payload))
	w := httptest.NewRecorder()

	handler.HandleStripeWebhook(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("HandleStripeWebhook() status = %d, want %d", w.Code, http.StatusAccepted)
	}
	ack := decodeAck(t, w)
	if !ack.Received || ack.EventType != "customer.subscription.created" {
		t.Errorf("ack = %+v, want received customer.subscription.created", ack)
	}
	if len(processor.events) != 1 || processor.events[0].ID != "evt_1" {
		t.Errorf("processor saw %d events, want the verified evt_1", len(processor.events))
	}
}

func TestWebhookHandler_HandlePolarWebhook_MissingSignature(t *testing.T) {
	handler := newTestHandler(&fakeProcessor{})

	payload := []byte(`{"id": "evt_1", "type": "subscription.created", "data": {}}`)
	req := httptest.NewRequest("POST", "/webhooks/polar", bytes.NewBuffer(payload))
	w := httptest.NewRecorder()

	handler.HandlePolarWebhook(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("HandlePolarWebhook() status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestWebhookHandler_HandlePolarWebhook_InvalidSignature(t *testing.T) {
	handler := newTestHandler(&fakeProcessor{})

	payload := []byte(`{"id": "evt_1", "type": "subscription.created", "data": {}}`)
	req := httptest.NewRequest("POST", "/webhooks/polar", bytes.NewBuffer(payload))
	req.Header.Set("Webhook-Signature", "deadbeef")
	w := httptest.NewRecorder()

	handler.HandlePolarWebhook(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("HandlePolarWebhook() status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestWebhookHandler_HandlePolarWebhook_Accepted(t *testing.T) {
	processor := &fakeProcessor{}
	handler := newTestHandler(processor)

	payload := []byte(`{
		"id": "evt_1",
		"type": "subscription.created",
		"data": {"id": "sub_1", "status": "active"}
	}`)
	req := httptest.NewRequest("POST", "/webhooks/polar", bytes.NewBuffer(payload))
	req.Header.Set("Webhook-Signature", signPolarBody(payload))
	w := httptest.NewRecorder()

	handler.HandlePolarWebhook(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("HandlePolarWebhook() status = %d, want %d", w.Code, http.StatusAccepted)
	}
	ack := decodeAck(t, w)
	if !ack.Received || ack.EventType != "subscription.created" {
		t.Errorf("ack = %+v, want received subscription.created", ack)
	}
}

func TestWebhookHandler_HandlePolarWebhook_MalformedPayload(t *testing.T) {
	handler := newTestHandler(&fakeProcessor{})

	payload := []byte(`{"type": "subscription.created"}`)
	req := httptest.NewRequest("POST", "/webhooks/polar", bytes.NewBuffer(payload))
	req.Header.Set("Webhook-Signature", signPolarBody(payload))
	w := httptest.NewRecorder()

	handler.HandlePolarWebhook(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("HandlePolarWebhook() status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestWebhookHandler_SecretNotConfigured(t *testing.T) {
	handler := NewWebhookHandler(
		providers.NewStripeProvider(""),
		providers.NewPolarProvider(""),
		&fakeProcessor{},
	)

	payload := []byte(`{"id": "evt_1", "type": "subscription.created", "data": {}}`)
	req := httptest.NewRequest("POST", "/webhooks/polar", bytes.NewBuffer(payload))
	req.Header.Set("Webhook-Signature", signPolarBody(payload))
	w := httptest.NewRecorder()

	handler.HandlePolarWebhook(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("HandlePolarWebhook() status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
}

func TestWebhookHandler_ReplayReturnsOK(t *testing.T) {
	processor := &fakeProcessor{result: &models.AckResult{EventType: "subscription.created", Replay: true}}
	handler := newTestHandler(processor)

	payload := []byte(`{"id": "evt_1", "type": "subscription.created", "data": {}}`)
	req := httptest.NewRequest("POST", "/webhooks/polar", bytes.NewBuffer(payload))
	req.Header.Set("Webhook-Signature", signPolarBody(payload))
	w := httptest.NewRecorder()

	handler.HandlePolarWebhook(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("HandlePolarWebhook() status = %d, want %d", w.Code, http.StatusOK)
	}
	ack := decodeAck(t, w)
	if !ack.Replay {
		t.Errorf("ack = %+v, want replay", ack)
	}
}

func TestWebhookHandler_ProcessingFailureReturns500(t *testing.T) {
	processor := &fakeProcessor{err: errors.New("reconciliation write failed")}
	handler := newTestHandler(processor)

	payload := []byte(`{"id": "evt_1", "type": "subscription.created", "data": {}}`)
	req := httptest.NewRequest("POST", "/webhooks/polar", bytes.NewBuffer(payload))
	req.Header.Set("Webhook-Signature", signPolarBody(payload))
	w := httptest.NewRecorder()

	handler.HandlePolarWebhook(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("HandlePolarWebhook() status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
	var resp ErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	if resp.Error == "" {
		t.Error("error response body is empty")
	}
}

func TestWebhookHandler_Routes(t *testing.T) {
	processor := &fakeProcessor{}
	handler := newTestHandler(processor)

	router := mux.NewRouter()
	handler.RegisterRoutes(router)

	payload := []byte(`{"id": "evt_1", "type": "subscription.created", "data": {}}`)
	req := httptest.NewRequest("POST", "/webhooks/polar", bytes.NewBuffer(payload))
	req.Header.Set("Webhook-Signature", signPolarBody(payload))
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)
	if w.Code != http.StatusAccepted {
		t.Errorf("POST /webhooks/polar status = %d, want %d", w.Code, http.StatusAccepted)
	}

	// wrong method is rejected by the router
	req = httptest.NewRequest("GET", "/webhooks/polar", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET /webhooks/polar status = %d, want %d", w.Code, http.StatusMethodNotAllowed)
	}
}
