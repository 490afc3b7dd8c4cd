package models

import (
	"time"

	"github.com/google/uuid"
)

// PollVote is one selected option for one voter. Multi-select polls hold
// several rows per voter; the composite unique index rejects duplicates
// under retry.
type PollVote struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	PostID      uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_poll_vote_choice" json:"post_id"`
	VoterID     uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_poll_vote_choice" json:"voter_id"`
	VoterType   string    `gorm:"size:20;not null;uniqueIndex:idx_poll_vote_choice" json:"voter_type"`
	OptionIndex int       `gorm:"not null;uniqueIndex:idx_poll_vote_choice" json:"option_index"`
	CreatedAt   time.Time `json:"created_at"`
}
