package models

import (
	"time"
)

type Plan string

const (
	PlanStarter      Plan = "starter"
	PlanProfessional Plan = "professional"
	PlanEnterprise   Plan = "enterprise"
)

type SubscriptionStatus string

const (
	SubscriptionStatusActive     SubscriptionStatus = "active"
	SubscriptionStatusTrialing   SubscriptionStatus = "trialing"
	SubscriptionStatusPastDue    SubscriptionStatus = "past_due"
	SubscriptionStatusCanceled   SubscriptionStatus = "canceled"
	SubscriptionStatusUnpaid     SubscriptionStatus = "unpaid"
	SubscriptionStatusIncomplete SubscriptionStatus = "incomplete"
)

// OrganizationBillingState is the reconciled view of one organization's
// subscription. Exactly one row per external org ID; every relevant event
// replaces the provider-sourced fields wholesale (last event wins).
// Revocation soft-transitions the row to canceled, it is never deleted.
type OrganizationBillingState struct {
	ID                     string             `json:"id" gorm:"primaryKey;type:uuid;default:gen_random_uuid()"`
	ExternalOrgID          string             `json:"external_org_id" gorm:"uniqueIndex;not null"`
	Plan                   Plan               `json:"plan" gorm:"not null;default:'starter'"`
	SubscriptionStatus     SubscriptionStatus `json:"subscription_status" gorm:"not null"`
	ProviderName           string             `json:"provider_name" gorm:"not null"`
	ProviderCustomerID     string             `json:"provider_customer_id"`
	ProviderSubscriptionID *string            `json:"provider_subscription_id"`
	CreatedAt              time.Time          `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt              time.Time          `json:"updated_at" gorm:"autoUpdateTime"`
}
