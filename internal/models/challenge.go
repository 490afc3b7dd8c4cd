package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Challenge participation statuses.
const (
	ParticipationJoined     = "joined"
	ParticipationInProgress = "in_progress"
	ParticipationCompleted  = "completed"
)

// Challenge submission types, in tag-inference priority order.
const (
	ChallengeSubmissionVideo = "video"
	ChallengeSubmissionImage = "image"
	ChallengeSubmissionText  = "text"
)

// ChallengeParticipation records that a user has joined a challenge, either
// explicitly or implicitly by tagging the challenge from an ordinary post.
type ChallengeParticipation struct {
	ID              uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	PostID          uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex:idx_challenge_participant" json:"post_id"`
	ParticipantID   uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex:idx_challenge_participant" json:"participant_id"`
	ParticipantType string         `gorm:"size:20;not null;uniqueIndex:idx_challenge_participant" json:"participant_type"`
	Status          string         `gorm:"size:20;not null;default:'joined'" json:"status"`
	Progress        int            `gorm:"default:0" json:"progress"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	DeletedAt       gorm.DeletedAt `gorm:"index" json:"-"`
}

// ChallengeSubmission belongs to a participation. Tag-originated rows are
// always auto-approved; explicit rows follow the challenge's approval flag.
type ChallengeSubmission struct {
	ID              uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	ParticipationID uuid.UUID      `gorm:"type:uuid;not null;index" json:"participation_id"`
	PostID          uuid.UUID      `gorm:"type:uuid;not null;index" json:"post_id"`
	SubmissionType  string         `gorm:"size:20;not null;default:'text'" json:"submission_type"`
	Content         string         `gorm:"type:text" json:"content"`
	MediaURLs       datatypes.JSON `gorm:"type:jsonb" json:"media_urls"`
	VideoURL        string         `json:"video_url"`
	ThumbnailURL    string         `json:"thumbnail_url"`
	Status          string         `gorm:"size:20;not null;default:'pending';index" json:"status"`
	IsFeatured      bool           `gorm:"default:false" json:"is_featured"`
	LikeCount       int            `gorm:"default:0" json:"like_count"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	DeletedAt       gorm.DeletedAt `gorm:"index" json:"-"`
}

// ChallengeSubmissionSource is the provenance link from a submission back
// to the ordinary post that generated it via tagging. SourcePostID is
// nulled (not cascaded) when the source post is deleted after the
// challenge has ended.
type ChallengeSubmissionSource struct {
	ID               uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	SubmissionID     uuid.UUID  `gorm:"type:uuid;not null;index" json:"submission_id"`
	SourcePostID     *uuid.UUID `gorm:"type:uuid;index" json:"source_post_id"`
	IsFromTaggedPost bool       `gorm:"default:false" json:"is_from_tagged_post"`
	CreatedAt        time.Time  `json:"created_at"`
}
