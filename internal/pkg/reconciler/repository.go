package reconciler

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/JonasWeigert/PromptGate/app/models"
)

// EventStore records webhook deliveries idempotently. A nil store disables
// deduplication; the reconciler itself stays stateless.
type EventStore interface {
	// CreateIfNotExists returns false when the provider event id was seen
	// before, so the caller can skip reprocessing a redelivery.
	CreateIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error)
	MarkProcessed(id uint, processingError string) error
}

type gormEventStore struct {
	db *gorm.DB
}

// NewEventStore creates an event store backed by GORM.
func NewEventStore(db *gorm.DB) EventStore {
	return &gormEventStore{db: db}
}

// EventDedupID picks a stable id for deduplication: the provider's event id
// when present, otherwise a hash of the raw payload.
func EventDedupID(providerEventID string, payload []byte) string {
	if providerEventID != "" {
		return providerEventID
	}
	sum := sha256.Sum256(payload)
	return "hash:" + hex.EncodeToString(sum[:])
}

func (s *gormEventStore) CreateIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	tx := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "provider_event_id"}},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.WebhookEvent
	if err := s.db.Where("provider_event_id = ?", event.ProviderEventID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (s *gormEventStore) MarkProcessed(id uint, processingError string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"processed_at":     &now,
		"processing_error": processingError,
	}
	return s.db.Model(&models.WebhookEvent{}).Where("id = ?", id).Updates(updates).Error
}
