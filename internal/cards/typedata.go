package cards

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/tapestryhq/tapestry-backend/internal/models"
	"gorm.io/datatypes"
)

// The type_data column holds exactly one of the documents below, selected
// by the post's post_type. Decoding through this package keeps subtype
// fields from leaking across card types.

// PollOption is one choice with its denormalized tally.
type PollOption struct {
	Text      string `json:"text"`
	VoteCount int    `json:"vote_count"`
}

// PollData is the type_data document for poll cards.
type PollData struct {
	Question              string       `json:"question"`
	Options               []PollOption `json:"options"`
	AllowMultiple         bool         `json:"allow_multiple"`
	ShowResultsBeforeVote bool         `json:"show_results_before_vote"`
	TotalVotes            int          `json:"total_votes"`
}

// PromptData is the type_data document for prompt cards.
type PromptData struct {
	PromptText            string      `json:"prompt_text"`
	MaxLength             int         `json:"max_length"`
	RequireApproval       bool        `json:"require_approval"`
	SubmissionCount       int         `json:"submission_count"`
	FeaturedSubmissionIDs []uuid.UUID `json:"featured_submission_ids"`
}

// Challenge types.
const (
	ChallengeTypeSimple   = "simple"
	ChallengeTypeProgress = "progress"
)

// ChallengeData is the type_data document for challenge cards.
type ChallengeData struct {
	Title            string `json:"title"`
	Description      string `json:"description"`
	ChallengeType    string `json:"challenge_type"`
	TargetCount      int    `json:"target_count"`
	RequireApproval  bool   `json:"require_approval"`
	ParticipantCount int    `json:"participant_count"`
	SubmissionCount  int    `json:"submission_count"`
}

// QnAData is the type_data document for Q&A cards.
type QnAData struct {
	Title         string `json:"title"`
	QuestionCount int    `json:"question_count"`
}

// Opportunity closure types.
const (
	ClosureManual    = "manual"
	ClosureAutomatic = "automatic"
)

// OpportunityData is the type_data document for opportunity cards.
type OpportunityData struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	ClosureType string `json:"closure_type,omitempty"`
}

// MediaData is the type_data document for ordinary media posts.
type MediaData struct {
	MediaURLs    []string `json:"media_urls"`
	VideoURL     string   `json:"video_url,omitempty"`
	ThumbnailURL string   `json:"thumbnail_url,omitempty"`
}

// Encode marshals a type_data document into its jsonb representation.
func Encode(doc any) (datatypes.JSON, error) {
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode type_data: %w", err)
	}
	return datatypes.JSON(b), nil
}

// DecodeRaw unmarshals a raw payload into a type_data document without a
// post to check against. Used before the post row exists.
func DecodeRaw(raw []byte, out any) error {
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode type_data payload: %w", err)
	}
	return nil
}

func decodeInto(p *models.Post, wantType string, out any) error {
	if p.PostType != wantType {
		return fmt.Errorf("post %s is %s, not %s", p.ID, p.PostType, wantType)
	}
	if len(p.TypeData) == 0 {
		return fmt.Errorf("post %s has empty type_data", p.ID)
	}
	if err := json.Unmarshal(p.TypeData, out); err != nil {
		return fmt.Errorf("decode %s type_data for post %s: %w", wantType, p.ID, err)
	}
	return nil
}

// DecodePoll returns the poll document of a poll post.
func DecodePoll(p *models.Post) (*PollData, error) {
	var d PollData
	if err := decodeInto(p, models.PostTypePoll, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// DecodePrompt returns the prompt document of a prompt post.
func DecodePrompt(p *models.Post) (*PromptData, error) {
	var d PromptData
	if err := decodeInto(p, models.PostTypePrompt, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// DecodeChallenge returns the challenge document of a challenge post.
func DecodeChallenge(p *models.Post) (*ChallengeData, error) {
	var d ChallengeData
	if err := decodeInto(p, models.PostTypeChallenge, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// DecodeQnA returns the Q&A document of a qna post.
func DecodeQnA(p *models.Post) (*QnAData, error) {
	var d QnAData
	if err := decodeInto(p, models.PostTypeQnA, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// DecodeOpportunity returns the opportunity document of an opportunity post.
func DecodeOpportunity(p *models.Post) (*OpportunityData, error) {
	var d OpportunityData
	if err := decodeInto(p, models.PostTypeOpportunity, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// DecodeMedia returns the media document of an ordinary media post.
func DecodeMedia(p *models.Post) (*MediaData, error) {
	var d MediaData
	if err := decodeInto(p, models.PostTypeMedia, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// Decode returns the typed document for any post, switching exhaustively on
// post_type. Used by read-side hydration; write paths use the typed
// decoders above.
func Decode(p *models.Post) (any, error) {
	switch p.PostType {
	case models.PostTypePoll:
		return DecodePoll(p)
	case models.PostTypePrompt:
		return DecodePrompt(p)
	case models.PostTypeChallenge:
		return DecodeChallenge(p)
	case models.PostTypeQnA:
		return DecodeQnA(p)
	case models.PostTypeOpportunity:
		return DecodeOpportunity(p)
	case models.PostTypeMedia:
		return DecodeMedia(p)
	default:
		return nil, fmt.Errorf("unknown post type %q", p.PostType)
	}
}
