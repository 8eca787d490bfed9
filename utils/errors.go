package utils

import (
	"context"
	"fmt"
	"net/http"
)

type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	return e.Message
}

func NewAPIError(code int, message string) *APIError {
	return &APIError{
		Code:    code,
		Message: message,
	}
}

var (
	ErrMissingSignatureHeader  = NewAPIError(http.StatusBadRequest, "Missing webhook signature header")
	ErrWebhookInvalidSignature = NewAPIError(http.StatusUnauthorized, "Invalid webhook signature")
	ErrWebhookInvalidPayload   = NewAPIError(http.StatusBadRequest, "Invalid webhook payload")
	ErrWebhookPayloadTooLarge  = NewAPIError(http.StatusRequestEntityTooLarge, "Webhook payload too large")
	ErrWebhookSecretMissing    = NewAPIError(http.StatusInternalServerError, "Webhook secret not configured")
	ErrWebhookProcessingFailed = NewAPIError(http.StatusInternalServerError, "Webhook processing failed")
)

func WrapError(err error, message string) error {
	return fmt.Errorf("%s: %w", message, err)
}

func GetHTTPStatusFromError(err error) int {
	if apiErr, ok := err.(*APIError); ok {
		return apiErr.Code
	}
	return http.StatusInternalServerError
}

func LogError(ctx context.Context, err error, message string, fields map[string]interface{}) {
	if fields == nil {
		fields = make(map[string]interface{})
	}

	fields["error"] = err.Error()

	Error(ctx, message, fields)
}
