package db

import (
	"github.com/tcdynamics/billsync/config"
	"github.com/tcdynamics/billsync/models"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func Connect(cfg *config.Config) (*gorm.DB, error) {
	return gorm.Open(postgres.Open(cfg.GetDatabaseURL()), &gorm.Config{})
}

// Migrate creates the event ledger and organization tables, including the
// unique indexes the idempotency and reconciliation invariants depend on.
func Migrate(database *gorm.DB) error {
	return database.AutoMigrate(
		&models.ProcessedEvent{},
		&models.OrganizationBillingState{},
	)
}
