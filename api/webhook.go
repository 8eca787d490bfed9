package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/tcdynamics/billsync/models"
	"github.com/tcdynamics/billsync/providers"
	"github.com/tcdynamics/billsync/utils"
)

// Webhook bodies are small; anything past this is hostile or broken.
const maxWebhookBodyBytes = 1 << 20

// WebhookProcessor applies one verified event at most once.
type WebhookProcessor interface {
	Process(ctx context.Context, event *models.WebhookEvent) (*models.AckResult, error)
}

type WebhookHandler struct {
	stripeProvider *providers.StripeProvider
	polarProvider  *providers.PolarProvider
	service        WebhookProcessor
}

func NewWebhookHandler(stripeProvider *providers.StripeProvider, polarProvider *providers.PolarProvider, service WebhookProcessor) *WebhookHandler {
	return &WebhookHandler{
		stripeProvider: stripeProvider,
		polarProvider:  polarProvider,
		service:        service,
	}
}

type webhookAck struct {
	Received  bool      `json:"received"`
	EventType string    `json:"event_type"`
	Replay    bool      `json:"replay,omitempty"`
	Skipped   string    `json:"skipped,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func (h *WebhookHandler) HandleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	payload, ok := h.readBody(w, r)
	if !ok {
		return
	}

	signature := r.Header.Get("Stripe-Signature")
	if signature == "" {
		writeAPIError(w, utils.ErrMissingSignatureHeader)
		return
	}

	event, err := h.stripeProvider.VerifyAndParse(payload, signature)
	if err != nil {
		h.rejectUnverified(w, r, models.ProviderStripe, err)
		return
	}

	h.process(w, r, event)
}

func (h *WebhookHandler) HandlePolarWebhook(w http.ResponseWriter, r *http.Request) {
	payload, ok := h.readBody(w, r)
	if !ok {
		return
	}

	signature := r.Header.Get("Webhook-Signature")
	if signature == "" {
		writeAPIError(w, utils.ErrMissingSignatureHeader)
		return
	}

	event, err := h.polarProvider.VerifyAndParse(payload, signature)
	if err != nil {
		h.rejectUnverified(w, r, models.ProviderPolar, err)
		return
	}

	h.process(w, r, event)
}

func (h *WebhookHandler) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes))
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			utils.Warn(r.Context(), "oversized webhook payload rejected", map[string]interface{}{
				"limit_bytes": maxBytesErr.Limit,
			})
			writeAPIError(w, utils.ErrWebhookPayloadTooLarge)
			return nil, false
		}
		writeAPIError(w, utils.ErrWebhookInvalidPayload)
		return nil, false
	}
	return payload, true
}

func (h *WebhookHandler) rejectUnverified(w http.ResponseWriter, r *http.Request, provider string, err error) {
	ctx := r.Context()

	switch {
	case errors.Is(err, providers.ErrSecretNotConfigured):
		utils.Error(ctx, "webhook secret not configured", map[string]interface{}{"provider": provider})
		writeAPIError(w, utils.ErrWebhookSecretMissing)
	case errors.Is(err, providers.ErrInvalidSignature):
		utils.Warn(ctx, "webhook signature verification failed", map[string]interface{}{
			"provider": provider,
			"error":    err.Error(),
		})
		writeAPIError(w, utils.ErrWebhookInvalidSignature)
	default:
		utils.Warn(ctx, "malformed webhook payload", map[string]interface{}{
			"provider": provider,
			"error":    err.Error(),
		})
		writeAPIError(w, utils.ErrWebhookInvalidPayload)
	}
}

func (h *WebhookHandler) process(w http.ResponseWriter, r *http.Request, event *models.WebhookEvent) {
	ctx := r.Context()
	if utils.GetCorrelationID(ctx) == "" {
		ctx = utils.WithCorrelationID(ctx, uuid.NewString())
	}

	result, err := h.service.Process(ctx, event)
	if err != nil {
		// 500 tells the provider to retry with its own backoff.
		writeAPIError(w, utils.ErrWebhookProcessingFailed)
		return
	}

	status := http.StatusAccepted
	if result.Replay {
		status = http.StatusOK
	}

	writeJSON(w, status, webhookAck{
		Received:  true,
		EventType: result.EventType,
		Replay:    result.Replay,
		Skipped:   result.Skipped,
		Timestamp: time.Now(),
	})
}

func (h *WebhookHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/webhooks/stripe", h.HandleStripeWebhook).Methods("POST")
	router.HandleFunc("/webhooks/polar", h.HandlePolarWebhook).Methods("POST")
}
