package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Post types. A post never changes its type after creation; the shape of
// TypeData is determined entirely by PostType.
const (
	PostTypeMedia       = "media"
	PostTypePoll        = "poll"
	PostTypePrompt      = "prompt"
	PostTypeQnA         = "qna"
	PostTypeChallenge   = "challenge"
	PostTypeOpportunity = "opportunity"
)

// Post statuses.
const (
	PostStatusActive  = "active"
	PostStatusRemoved = "removed"
)

// Post is the generic card row. Subtype-specific fields live in TypeData
// (jsonb); satellite tables hold per-user participation.
type Post struct {
	ID                uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	PostType          string         `gorm:"size:20;not null;index" json:"post_type"`
	AuthorID          uuid.UUID      `gorm:"type:uuid;not null;index" json:"author_id"`
	AuthorType        string         `gorm:"size:20;not null;default:'user'" json:"author_type"`
	Caption           string         `gorm:"type:text" json:"caption"`
	Status            string         `gorm:"size:20;not null;default:'active';index" json:"status"`
	ExpiresAt         *time.Time     `gorm:"index" json:"expires_at"`
	ClosedAt          *time.Time     `json:"closed_at"`
	ExtensionCount    int            `gorm:"default:0" json:"extension_count"`
	OriginalEndTime   *time.Time     `json:"original_end_time"`
	ExtendedAt        *time.Time     `json:"extended_at"`
	LinkedChallengeID *uuid.UUID     `gorm:"type:uuid;index" json:"linked_challenge_id"`
	TypeData          datatypes.JSON `gorm:"type:jsonb" json:"type_data"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
	DeletedAt         gorm.DeletedAt `gorm:"index" json:"-"`
}

// HasDeadline reports whether the post carries an expiry deadline.
func (p *Post) HasDeadline() bool {
	return p.ExpiresAt != nil
}

// DeadlinePassed reports whether the deadline exists and is at or before now.
func (p *Post) DeadlinePassed(now time.Time) bool {
	return p.ExpiresAt != nil && !now.Before(*p.ExpiresAt)
}
