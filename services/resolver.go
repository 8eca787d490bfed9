package services

import (
	"github.com/tcdynamics/billsync/models"
)

// statusTable maps each provider's native subscription status vocabulary to
// the canonical one. Unmapped statuses resolve to incomplete: providers add
// statuses over time and the event must still land somewhere safe. Adding a
// provider is a new table entry, not new code.
var statusTable = map[string]map[string]models.SubscriptionStatus{
	models.ProviderStripe: {
		"active":             models.SubscriptionStatusActive,
		"trialing":           models.SubscriptionStatusTrialing,
		"past_due":           models.SubscriptionStatusPastDue,
		"canceled":           models.SubscriptionStatusCanceled,
		"unpaid":             models.SubscriptionStatusUnpaid,
		"incomplete":         models.SubscriptionStatusIncomplete,
		"incomplete_expired": models.SubscriptionStatusCanceled,
	},
	models.ProviderPolar: {
		"active":             models.SubscriptionStatusActive,
		"trialing":           models.SubscriptionStatusTrialing,
		"past_due":           models.SubscriptionStatusPastDue,
		"canceled":           models.SubscriptionStatusCanceled,
		"unpaid":             models.SubscriptionStatusUnpaid,
		"incomplete":         models.SubscriptionStatusIncomplete,
		"incomplete_expired": models.SubscriptionStatusCanceled,
	},
}

// statusOverrides force a canonical status for events whose name, not their
// body, is the state change. A revoked subscription is canceled no matter
// what status string the body carries.
var statusOverrides = map[string]map[string]models.SubscriptionStatus{
	models.ProviderStripe: {
		"customer.subscription.deleted": models.SubscriptionStatusCanceled,
	},
	models.ProviderPolar: {
		"subscription.revoked": models.SubscriptionStatusCanceled,
	},
}

// Resolver maps provider-specific subscription metadata to the canonical
// plan/status vocabulary.
type Resolver struct {
	productPlans map[string]models.Plan
}

// NewResolver builds a resolver from the configured product-id-to-plan table.
// Entries naming an unknown plan are dropped.
func NewResolver(productPlans map[string]string) *Resolver {
	plans := make(map[string]models.Plan, len(productPlans))
	for productID, name := range productPlans {
		if plan, ok := parsePlan(name); ok {
			plans[productID] = plan
		}
	}
	return &Resolver{productPlans: plans}
}

// ResolvePlan prefers the plan tag stamped into checkout metadata, then the
// product-id table, then the lowest tier. Metadata survives provider-side
// product renames and migrations better than id lookups, hence the order.
func (r *Resolver) ResolvePlan(metadataPlan, productID string) models.Plan {
	if plan, ok := parsePlan(metadataPlan); ok {
		return plan
	}
	if plan, ok := r.productPlans[productID]; ok {
		return plan
	}
	return models.PlanStarter
}

// ResolveStatus applies the forced-override table first, then the provider's
// status whitelist, then the safe default.
func (r *Resolver) ResolveStatus(provider, eventType, nativeStatus string) models.SubscriptionStatus {
	if forced, ok := statusOverrides[provider][eventType]; ok {
		return forced
	}
	if status, ok := statusTable[provider][nativeStatus]; ok {
		return status
	}
	return models.SubscriptionStatusIncomplete
}

func parsePlan(name string) (models.Plan, bool) {
	switch models.Plan(name) {
	case models.PlanStarter, models.PlanProfessional, models.PlanEnterprise:
		return models.Plan(name), true
	}
	return "", false
}
