package providers

import "errors"

var (
	// ErrSecretNotConfigured means verification cannot run at all. Verifiers
	// fail closed rather than waving unverified payloads through.
	ErrSecretNotConfigured = errors.New("webhook secret not configured")

	ErrInvalidSignature = errors.New("invalid webhook signature")

	ErrMalformedPayload = errors.New("malformed webhook payload")
)
