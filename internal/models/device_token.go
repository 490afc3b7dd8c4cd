package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DeviceToken maps a user to a push token registered by a client device.
type DeviceToken struct {
	ID        uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	UserID    uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex:idx_device_user_token" json:"user_id"`
	UserType  string         `gorm:"size:20;not null;default:'user'" json:"user_type"`
	Token     string         `gorm:"size:512;not null;uniqueIndex:idx_device_user_token" json:"token"`
	Platform  string         `gorm:"size:20" json:"platform"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}
