package models

import (
	"time"

	"github.com/google/uuid"
)

// CardExtension is one row of the append-only extension audit trail. Rows
// are never updated or deleted; the full trail reads as
// original_end_time → …extensions… → current expires_at.
type CardExtension struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	CardType        string    `gorm:"size:20;not null" json:"card_type"`
	CardID          uuid.UUID `gorm:"type:uuid;not null;index" json:"card_id"`
	OriginalEndTime time.Time `gorm:"not null" json:"original_end_time"`
	NewEndTime      time.Time `gorm:"not null" json:"new_end_time"`
	ExtendedBy      uuid.UUID `gorm:"type:uuid;not null" json:"extended_by"`
	Reason          string    `gorm:"type:text" json:"reason"`
	CreatedAt       time.Time `json:"created_at"`
}
