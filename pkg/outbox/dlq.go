package outbox

import (
	"errors"

	"gorm.io/gorm"

	"github.com/subhubhq/subhub-backend/pkg/db/models"
)

// DLQRepository persists outbox events that can never be published, so
// operators can inspect and replay them out of band.
type DLQRepository struct {
	db *gorm.DB
}

func NewDLQRepository(db *gorm.DB) *DLQRepository {
	return &DLQRepository{db: db}
}

func (r *DLQRepository) InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	return tx.Create(&entry).Error
}
