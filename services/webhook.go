package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/stripe/stripe-go/v82"
	"github.com/tcdynamics/billsync/models"
	"github.com/tcdynamics/billsync/providers"
	"github.com/tcdynamics/billsync/utils"
)

// OrganizationWriter is the reconciliation target: an upsert-by-key store
// over organization billing state.
type OrganizationWriter interface {
	Upsert(ctx context.Context, state *models.OrganizationBillingState) error
	MarkCanceled(ctx context.Context, externalOrgID string) error
}

type handlerFunc func(ctx context.Context, event *models.WebhookEvent) (*models.AckResult, error)

// WebhookService routes verified, de-duplicated events to handlers keyed by
// provider and event type. Unknown types are acknowledged and ignored so
// providers do not retry events the system does not care about. Handlers are
// safe to invoke repeatedly with the same event; every write downstream is an
// idempotent upsert.
type WebhookService struct {
	guard    *IdempotencyGuard
	resolver *Resolver
	orgs     OrganizationWriter
	notifier Notifier
	routes   map[string]map[string]handlerFunc
}

func NewWebhookService(guard *IdempotencyGuard, resolver *Resolver, orgs OrganizationWriter, notifier Notifier) *WebhookService {
	s := &WebhookService{
		guard:    guard,
		resolver: resolver,
		orgs:     orgs,
		notifier: notifier,
	}

	s.routes = map[string]map[string]handlerFunc{
		models.ProviderStripe: {
			"customer.subscription.created": s.handleStripeSubscriptionSync,
			"customer.subscription.updated": s.handleStripeSubscriptionSync,
			"customer.subscription.deleted": s.handleStripeSubscriptionDeleted,
			"checkout.session.completed":    s.handleStripeCheckoutCompleted,
			"invoice.payment_succeeded":     s.handleStripeInvoicePaid,
			"invoice.payment_failed":        s.handleStripeInvoiceFailed,
		},
		models.ProviderPolar: {
			"subscription.created":    s.handlePolarSubscriptionSync,
			"subscription.updated":    s.handlePolarSubscriptionSync,
			"subscription.uncanceled": s.handlePolarSubscriptionSync,
			"subscription.revoked":    s.handlePolarSubscriptionRevoked,
			"checkout.updated":        s.handlePolarCheckoutUpdated,
			"order.paid":              s.handlePolarOrderPaid,
			"customer.state_changed":  s.handlePolarCustomerStateChanged,
		},
	}

	return s
}

// Process applies one verified event at most once. Duplicates are
// acknowledged without dispatching. A handler failure un-marks the fast-path
// cache so the provider's retry gets another attempt, and is surfaced to the
// caller so the response signals failure.
func (s *WebhookService) Process(ctx context.Context, event *models.WebhookEvent) (*models.AckResult, error) {
	if s.guard.Register(ctx, event) {
		utils.Info(ctx, "duplicate webhook delivery suppressed", map[string]interface{}{
			"provider":   event.Provider,
			"event_id":   event.ID,
			"event_type": event.Type,
		})
		return &models.AckResult{EventType: event.Type, Replay: true}, nil
	}

	handler, ok := s.routes[event.Provider][event.Type]
	if !ok {
		utils.Debug(ctx, "unhandled webhook event type", map[string]interface{}{
			"provider":   event.Provider,
			"event_type": event.Type,
		})
		return &models.AckResult{EventType: event.Type}, nil
	}

	result, err := handler(ctx, event)
	if err != nil {
		s.guard.Forget(ctx, event.Provider, event.ID)
		utils.LogError(ctx, err, "webhook processing failed", map[string]interface{}{
			"provider":   event.Provider,
			"event_id":   event.ID,
			"event_type": event.Type,
		})
		return nil, err
	}

	if result == nil {
		result = &models.AckResult{}
	}
	result.EventType = event.Type
	return result, nil
}

// subscriptionFields is the provider-neutral view of one subscription event,
// extracted before resolution and reconciliation.
type subscriptionFields struct {
	orgID            string
	metadataPlan     string
	productID        string
	nativeStatus     string
	customerID       string
	customerEmail    string
	subscriptionID   string
	amountCents      int64
	manualOnboarding bool
}

func (s *WebhookService) syncSubscription(ctx context.Context, event *models.WebhookEvent, f subscriptionFields) (*models.AckResult, error) {
	if f.orgID == "" {
		if f.manualOnboarding {
			s.notifier.Notify(ctx, "Manual payment received",
				fmt.Sprintf("Subscription %s paid by %s (%s, plan %s) has no linked organization and must be attached by hand.",
					f.subscriptionID, orUnknown(f.customerEmail), formatAmount(f.amountCents), s.resolver.ResolvePlan(f.metadataPlan, f.productID)))
			return &models.AckResult{Skipped: "manual onboarding payment without org linkage"}, nil
		}

		utils.Warn(ctx, "webhook event missing org linkage", map[string]interface{}{
			"provider":        event.Provider,
			"event_type":      event.Type,
			"subscription_id": f.subscriptionID,
		})
		return &models.AckResult{Skipped: "missing org linkage"}, nil
	}

	plan := s.resolver.ResolvePlan(f.metadataPlan, f.productID)
	status := s.resolver.ResolveStatus(event.Provider, event.Type, f.nativeStatus)

	subscriptionID := f.subscriptionID
	state := &models.OrganizationBillingState{
		ExternalOrgID:          f.orgID,
		Plan:                   plan,
		SubscriptionStatus:     status,
		ProviderName:           event.Provider,
		ProviderCustomerID:     f.customerID,
		ProviderSubscriptionID: &subscriptionID,
	}

	if err := s.orgs.Upsert(ctx, state); err != nil {
		return nil, utils.WrapError(err, "reconciliation write failed")
	}

	utils.Info(ctx, "synced subscription state", map[string]interface{}{
		"org_id": f.orgID,
		"plan":   string(plan),
		"status": string(status),
	})
	s.notifier.Notify(ctx, fmt.Sprintf("Subscription %s", event.Type),
		fmt.Sprintf("Org %s is now %s on plan %s (subscription %s).", f.orgID, status, plan, f.subscriptionID))

	return &models.AckResult{}, nil
}

func (s *WebhookService) revokeSubscription(ctx context.Context, event *models.WebhookEvent, orgID, subscriptionID string) (*models.AckResult, error) {
	if orgID == "" {
		utils.Warn(ctx, "revocation event missing org linkage", map[string]interface{}{
			"provider":        event.Provider,
			"subscription_id": subscriptionID,
		})
		return &models.AckResult{Skipped: "missing org linkage"}, nil
	}

	if err := s.orgs.MarkCanceled(ctx, orgID); err != nil {
		return nil, utils.WrapError(err, fmt.Sprintf("failed to revoke subscription %s for org %s", subscriptionID, orgID))
	}

	utils.Info(ctx, "revoked subscription", map[string]interface{}{
		"org_id":          orgID,
		"subscription_id": subscriptionID,
	})
	s.notifier.Notify(ctx, "Subscription revoked",
		fmt.Sprintf("Subscription %s for org %s was revoked.", subscriptionID, orgID))

	return &models.AckResult{}, nil
}

// --- Stripe handlers ---

func (s *WebhookService) handleStripeSubscriptionSync(ctx context.Context, event *models.WebhookEvent) (*models.AckResult, error) {
	sub, err := decodeStripeSubscription(event.Object)
	if err != nil {
		return nil, err
	}
	return s.syncSubscription(ctx, event, stripeSubscriptionFields(sub))
}

func (s *WebhookService) handleStripeSubscriptionDeleted(ctx context.Context, event *models.WebhookEvent) (*models.AckResult, error) {
	sub, err := decodeStripeSubscription(event.Object)
	if err != nil {
		return nil, err
	}
	return s.revokeSubscription(ctx, event, sub.Metadata["external_org_id"], sub.ID)
}

func (s *WebhookService) handleStripeCheckoutCompleted(ctx context.Context, event *models.WebhookEvent) (*models.AckResult, error) {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Object, &session); err != nil {
		return nil, utils.WrapError(err, "failed to decode checkout session")
	}

	// State sync rides on the customer.subscription.* events that follow; the
	// completed checkout is only worth telling a human about.
	s.notifier.Notify(ctx, "Checkout completed",
		fmt.Sprintf("Checkout session %s completed (plan %s).", session.ID, orUnknown(session.Metadata["plan_name"])))
	return &models.AckResult{}, nil
}

func (s *WebhookService) handleStripeInvoicePaid(ctx context.Context, event *models.WebhookEvent) (*models.AckResult, error) {
	var invoice stripe.Invoice
	if err := json.Unmarshal(event.Object, &invoice); err != nil {
		return nil, utils.WrapError(err, "failed to decode invoice")
	}

	s.notifier.Notify(ctx, "Invoice paid",
		fmt.Sprintf("Invoice %s paid (%s).", invoice.ID, formatAmount(invoice.AmountPaid)))
	return &models.AckResult{}, nil
}

func (s *WebhookService) handleStripeInvoiceFailed(ctx context.Context, event *models.WebhookEvent) (*models.AckResult, error) {
	var invoice stripe.Invoice
	if err := json.Unmarshal(event.Object, &invoice); err != nil {
		return nil, utils.WrapError(err, "failed to decode invoice")
	}

	utils.Warn(ctx, "invoice payment failed", map[string]interface{}{
		"invoice_id": invoice.ID,
		"amount_due": invoice.AmountDue,
	})
	s.notifier.Notify(ctx, "Invoice payment failed",
		fmt.Sprintf("Invoice %s failed to collect (%s due).", invoice.ID, formatAmount(invoice.AmountDue)))
	return &models.AckResult{}, nil
}

func decodeStripeSubscription(raw json.RawMessage) (*stripe.Subscription, error) {
	var sub stripe.Subscription
	if err := json.Unmarshal(raw, &sub); err != nil {
		return nil, utils.WrapError(err, "failed to decode subscription")
	}
	return &sub, nil
}

func stripeSubscriptionFields(sub *stripe.Subscription) subscriptionFields {
	f := subscriptionFields{
		orgID:            sub.Metadata["external_org_id"],
		metadataPlan:     sub.Metadata["plan_name"],
		nativeStatus:     string(sub.Status),
		subscriptionID:   sub.ID,
		manualOnboarding: sub.Metadata["manual_onboarding"] == "true",
	}
	if sub.Customer != nil {
		f.customerID = sub.Customer.ID
		f.customerEmail = sub.Customer.Email
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 {
		item := sub.Items.Data[0]
		if item.Price != nil {
			f.amountCents = item.Price.UnitAmount
			if item.Price.Product != nil {
				f.productID = item.Price.Product.ID
			}
		}
	}
	return f
}

// --- Polar handlers ---

func (s *WebhookService) handlePolarSubscriptionSync(ctx context.Context, event *models.WebhookEvent) (*models.AckResult, error) {
	sub, err := decodePolarSubscription(event.Object)
	if err != nil {
		return nil, err
	}
	return s.syncSubscription(ctx, event, polarSubscriptionFields(sub))
}

func (s *WebhookService) handlePolarSubscriptionRevoked(ctx context.Context, event *models.WebhookEvent) (*models.AckResult, error) {
	sub, err := decodePolarSubscription(event.Object)
	if err != nil {
		return nil, err
	}

	var orgID string
	if sub.Customer != nil {
		orgID = sub.Customer.ExternalID
	}
	return s.revokeSubscription(ctx, event, orgID, sub.ID)
}

func (s *WebhookService) handlePolarCheckoutUpdated(ctx context.Context, event *models.WebhookEvent) (*models.AckResult, error) {
	var checkout providers.PolarCheckout
	if err := json.Unmarshal(event.Object, &checkout); err != nil {
		return nil, utils.WrapError(err, "failed to decode checkout")
	}

	if checkout.Status == "succeeded" && checkout.Subscription != nil {
		return s.syncSubscription(ctx, event, polarSubscriptionFields(checkout.Subscription))
	}

	s.notifier.Notify(ctx, "Checkout updated",
		fmt.Sprintf("Checkout %s status: %s.", checkout.ID, checkout.Status))
	return &models.AckResult{}, nil
}

func (s *WebhookService) handlePolarOrderPaid(ctx context.Context, event *models.WebhookEvent) (*models.AckResult, error) {
	var order providers.PolarOrder
	if err := json.Unmarshal(event.Object, &order); err != nil {
		return nil, utils.WrapError(err, "failed to decode order")
	}

	if order.Metadata.String("manual_onboarding") == "true" {
		var email string
		if order.Customer != nil {
			email = order.Customer.Email
		}
		s.notifier.Notify(ctx, "Manual payment received",
			fmt.Sprintf("One-time order %s paid by %s (%s, plan %s) has no linked organization and must be attached by hand.",
				order.ID, orUnknown(email), formatAmount(order.TotalAmount), order.Metadata.String("plan_name")))
		return &models.AckResult{Skipped: "manual onboarding payment without org linkage"}, nil
	}

	s.notifier.Notify(ctx, "Order paid",
		fmt.Sprintf("Order %s paid (%s).", order.ID, formatAmount(order.TotalAmount)))
	return &models.AckResult{}, nil
}

// State sync rides on the subscription.* events; the state change itself is
// only logged for traceability.
func (s *WebhookService) handlePolarCustomerStateChanged(ctx context.Context, event *models.WebhookEvent) (*models.AckResult, error) {
	var state struct {
		ID       string                   `json:"id"`
		Customer *providers.PolarCustomer `json:"customer"`
	}
	if err := json.Unmarshal(event.Object, &state); err != nil {
		return nil, utils.WrapError(err, "failed to decode customer state")
	}

	customerID := state.ID
	if state.Customer != nil {
		customerID = state.Customer.ID
	}
	utils.Info(ctx, "customer state changed", map[string]interface{}{
		"customer_id": customerID,
	})
	return &models.AckResult{}, nil
}

func decodePolarSubscription(raw json.RawMessage) (*providers.PolarSubscription, error) {
	var sub providers.PolarSubscription
	if err := json.Unmarshal(raw, &sub); err != nil {
		return nil, utils.WrapError(err, "failed to decode subscription")
	}
	return &sub, nil
}

func polarSubscriptionFields(sub *providers.PolarSubscription) subscriptionFields {
	f := subscriptionFields{
		metadataPlan:     sub.Metadata.String("plan_name"),
		productID:        sub.ProductID,
		nativeStatus:     sub.Status,
		subscriptionID:   sub.ID,
		amountCents:      sub.Amount,
		manualOnboarding: sub.Metadata.String("manual_onboarding") == "true",
	}
	if sub.Customer != nil {
		f.orgID = sub.Customer.ExternalID
		f.customerID = sub.Customer.ID
		f.customerEmail = sub.Customer.Email
	}
	if len(sub.Prices) > 0 {
		if f.productID == "" {
			f.productID = sub.Prices[0].ProductID
		}
		if f.amountCents == 0 {
			f.amountCents = sub.Prices[0].PriceAmount
		}
	}
	return f
}

func formatAmount(cents int64) string {
	return fmt.Sprintf("%.2f", float64(cents)/100)
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
