package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// QnAQuestion is a question asked on a Q&A card.
type QnAQuestion struct {
	ID           uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	PostID       uuid.UUID      `gorm:"type:uuid;not null;index" json:"post_id"`
	AuthorID     uuid.UUID      `gorm:"type:uuid;not null;index" json:"author_id"`
	AuthorType   string         `gorm:"size:20;not null;default:'user'" json:"author_type"`
	Content      string         `gorm:"type:text;not null" json:"content"`
	IsResolved   bool           `gorm:"default:false" json:"is_resolved"`
	BestAnswerID *uuid.UUID     `gorm:"type:uuid" json:"best_answer_id"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"-"`
}

// QnAAnswer is an answer to a question.
type QnAAnswer struct {
	ID         uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	QuestionID uuid.UUID      `gorm:"type:uuid;not null;index" json:"question_id"`
	AuthorID   uuid.UUID      `gorm:"type:uuid;not null;index" json:"author_id"`
	AuthorType string         `gorm:"size:20;not null;default:'user'" json:"author_type"`
	Content    string         `gorm:"type:text;not null" json:"content"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
	DeletedAt  gorm.DeletedAt `gorm:"index" json:"-"`
}
