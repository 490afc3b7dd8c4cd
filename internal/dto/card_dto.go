package dto

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// TaggedEntity references another entity from an ordinary post. Tagging a
// challenge triggers auto-join and submission side effects.
type TaggedEntity struct {
	Type string    `json:"type"`
	ID   uuid.UUID `json:"id"`
}

// CreatePostRequest is the generic creation payload; TypeData is handed to
// the engine matching PostType for validation.
type CreatePostRequest struct {
	PostType       string          `json:"post_type"`
	Caption        string          `json:"caption"`
	ExpiresAt      *time.Time      `json:"expires_at"`
	TypeData       json.RawMessage `json:"type_data"`
	TaggedEntities []TaggedEntity  `json:"tagged_entities"`
}

// ExtendRequest asks for a deadline extension.
type ExtendRequest struct {
	NewEndTime time.Time `json:"new_end_time"`
	Reason     string    `json:"reason"`
}

// VoteRequest carries either a single option index or a set for
// multi-select polls.
type VoteRequest struct {
	OptionIndex   *int  `json:"option_index"`
	OptionIndexes []int `json:"option_indexes"`
}

// SubmitPromptRequest is a prompt response.
type SubmitPromptRequest struct {
	Content   string   `json:"content"`
	MediaURLs []string `json:"media_urls"`
}

// ModerateSubmissionRequest transitions a submission's status.
type ModerateSubmissionRequest struct {
	Status string `json:"status"`
}

// ChallengeSubmitRequest is an explicit challenge submission.
type ChallengeSubmitRequest struct {
	Content      string   `json:"content"`
	MediaURLs    []string `json:"media_urls"`
	VideoURL     string   `json:"video_url"`
	ThumbnailURL string   `json:"thumbnail_url"`
}

// AskQuestionRequest submits a question on a Q&A card.
type AskQuestionRequest struct {
	Content string `json:"content"`
}

// AnswerQuestionRequest answers a question.
type AnswerQuestionRequest struct {
	Content string `json:"content"`
}

// RegisterDeviceRequest registers a push token for the caller.
type RegisterDeviceRequest struct {
	Token    string `json:"token"`
	Platform string `json:"platform"`
}
