package services

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tcdynamics/billsync/utils"
)

// Notifier sends informational billing alerts for human visibility. It is
// best-effort: implementations swallow and log their own failures and must
// never gate state reconciliation.
type Notifier interface {
	Notify(ctx context.Context, subject, body string)
}

// WebhookNotifier posts notifications to a configured endpoint with a signed
// payload. Delivery runs in the background so retry backoff never holds a
// provider's webhook delivery open. A notifier with no URL is a no-op.
type WebhookNotifier struct {
	url        string
	secret     string
	httpClient *http.Client
	retry      *utils.RetryConfig
	inflight   sync.WaitGroup
}

func NewWebhookNotifier(url, secret string) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		secret: secret,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
		retry: utils.DefaultRetryConfig(),
	}
}

type notificationPayload struct {
	ID        string    `json:"id"`
	Subject   string    `json:"subject"`
	Body      string    `json:"body"`
	Timestamp time.Time `json:"timestamp"`
}

func (n *WebhookNotifier) Notify(ctx context.Context, subject, body string) {
	if n.url == "" {
		return
	}

	payload := &notificationPayload{
		ID:        "ntf_" + uuid.NewString(),
		Subject:   subject,
		Body:      body,
		Timestamp: time.Now(),
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		utils.LogError(ctx, err, "failed to encode notification", nil)
		return
	}

	// Detached from the request's cancellation: the webhook ack must not wait
	// for delivery, and delivery must survive the request ending.
	dctx := context.WithoutCancel(ctx)
	n.inflight.Add(1)
	go func() {
		defer n.inflight.Done()

		err := utils.Retry(dctx, n.retry, func() error {
			return n.deliver(dctx, payload.ID, payloadBytes)
		})
		if err != nil {
			utils.Warn(dctx, "notification delivery failed", map[string]interface{}{
				"subject": subject,
				"error":   err.Error(),
			})
		}
	}()
}

// Wait blocks until all in-flight deliveries finish. Called on shutdown.
func (n *WebhookNotifier) Wait() {
	n.inflight.Wait()
}

func (n *WebhookNotifier) deliver(ctx context.Context, id string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Notification-ID", id)
	if n.secret != "" {
		req.Header.Set("X-Notification-Signature", n.signPayload(payload))
	}

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("notification endpoint returned %d", resp.StatusCode)
	}
	return nil
}

func (n *WebhookNotifier) signPayload(payload []byte) string {
	h := hmac.New(sha256.New, []byte(n.secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}
