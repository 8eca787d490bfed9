package stores

import (
	"context"
	"fmt"

	"github.com/tcdynamics/billsync/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type OrganizationStore struct {
	BaseStore
}

func NewOrganizationStore(db *gorm.DB) *OrganizationStore {
	return &OrganizationStore{BaseStore: BaseStore{db: db}}
}

// Upsert writes the reconciled state keyed on external_org_id. Conflict
// resolution replaces the provider-sourced fields wholesale; concurrent
// events for the same org rely on the statement being atomic and on
// last-write-wins.
func (s *OrganizationStore) Upsert(ctx context.Context, state *models.OrganizationBillingState) error {
	if state.ExternalOrgID == "" {
		return fmt.Errorf("external org id is required")
	}

	return s.GetDB(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "external_org_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"plan",
				"subscription_status",
				"provider_name",
				"provider_customer_id",
				"provider_subscription_id",
				"updated_at",
			}),
		}).
		Create(state).Error
}

// MarkCanceled soft-transitions the row for a revoked subscription: status
// forced to canceled and the provider subscription id cleared, whatever the
// event body's native status string said. Returns ErrRecordNotFound when no
// row exists for the org, so the caller can surface a processing failure and
// let the provider retry.
func (s *OrganizationStore) MarkCanceled(ctx context.Context, externalOrgID string) error {
	result := s.GetDB(ctx).
		Model(&models.OrganizationBillingState{}).
		Where("external_org_id = ?", externalOrgID).
		Updates(map[string]interface{}{
			"subscription_status":      models.SubscriptionStatusCanceled,
			"provider_subscription_id": nil,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (s *OrganizationStore) GetByExternalOrgID(ctx context.Context, externalOrgID string) (*models.OrganizationBillingState, error) {
	var state models.OrganizationBillingState
	if err := s.GetDB(ctx).Where("external_org_id = ?", externalOrgID).First(&state).Error; err != nil {
		return nil, err
	}
	return &state, nil
}
