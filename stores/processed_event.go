package stores

import (
	"context"
	"time"

	"github.com/tcdynamics/billsync/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ProcessedEventStore struct {
	BaseStore
}

func NewProcessedEventStore(db *gorm.DB) *ProcessedEventStore {
	return &ProcessedEventStore{BaseStore: BaseStore{db: db}}
}

// InsertIfAbsent appends the event to the durable ledger. Returns false when
// a row for (provider, eventID) already exists; the unique index serializes
// concurrent duplicate deliveries so exactly one caller sees true.
func (s *ProcessedEventStore) InsertIfAbsent(ctx context.Context, provider, eventID, eventType string, payload models.JSON) (bool, error) {
	record := &models.ProcessedEvent{
		Provider:  provider,
		EventID:   eventID,
		EventType: eventType,
		Payload:   payload,
	}

	result := s.GetDB(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "provider"}, {Name: "event_id"}},
			DoNothing: true,
		}).
		Create(record)
	if result.Error != nil {
		return false, result.Error
	}

	return result.RowsAffected == 1, nil
}

func (s *ProcessedEventStore) GetByEventID(ctx context.Context, provider, eventID string) (*models.ProcessedEvent, error) {
	var record models.ProcessedEvent
	if err := s.GetDB(ctx).Where("provider = ? AND event_id = ?", provider, eventID).First(&record).Error; err != nil {
		return nil, err
	}
	return &record, nil
}

func (s *ProcessedEventStore) ListByProvider(ctx context.Context, provider string, limit, offset int) ([]*models.ProcessedEvent, error) {
	var records []*models.ProcessedEvent
	query := s.GetDB(ctx).Where("provider = ?", provider)

	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}

	if err := query.Order("created_at DESC").Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

// CleanupOld prunes ledger rows past the retention window. Retention is an
// operator decision; nothing in the processing path calls this.
func (s *ProcessedEventStore) CleanupOld(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	result := s.GetDB(ctx).
		Where("created_at < ?", cutoff).
		Delete(&models.ProcessedEvent{})
	return result.RowsAffected, result.Error
}
