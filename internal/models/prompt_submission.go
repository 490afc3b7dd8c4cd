package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Prompt submission statuses.
const (
	SubmissionStatusPending  = "pending"
	SubmissionStatusApproved = "approved"
	SubmissionStatusFeatured = "featured"
	SubmissionStatusRejected = "rejected"
)

// PromptSubmission is a user's single response to a prompt card. At most
// one row per (post, author) — enforced by lookup-then-insert in the
// service layer.
type PromptSubmission struct {
	ID          uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	PostID      uuid.UUID      `gorm:"type:uuid;not null;index" json:"post_id"`
	AuthorID    uuid.UUID      `gorm:"type:uuid;not null;index" json:"author_id"`
	AuthorType  string         `gorm:"size:20;not null;default:'user'" json:"author_type"`
	Content     string         `gorm:"type:text" json:"content"`
	MediaURLs   datatypes.JSON `gorm:"type:jsonb" json:"media_urls"`
	Status      string         `gorm:"size:20;not null;default:'pending';index" json:"status"`
	ModeratedBy *uuid.UUID     `gorm:"type:uuid" json:"moderated_by"`
	ModeratedAt *time.Time     `json:"moderated_at"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`
}
