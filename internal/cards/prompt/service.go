package prompt

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tapestryhq/tapestry-backend/internal/cards"
	"github.com/tapestryhq/tapestry-backend/internal/identity"
	"github.com/tapestryhq/tapestry-backend/internal/models"
	"github.com/tapestryhq/tapestry-backend/internal/moderation"
	"github.com/tapestryhq/tapestry-backend/internal/notify"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const defaultMaxLength = 500

// Service records prompt submissions and runs their moderation workflow.
type Service struct {
	db         *gorm.DB
	dispatcher *notify.Dispatcher
	filter     *moderation.Filter
}

func NewService(db *gorm.DB, dispatcher *notify.Dispatcher, filter *moderation.Filter) *Service {
	return &Service{db: db, dispatcher: dispatcher, filter: filter}
}

type createData struct {
	PromptText      string `json:"prompt_text"`
	MaxLength       int    `json:"max_length"`
	RequireApproval bool   `json:"require_approval"`
}

// NewTypeData validates a prompt creation payload.
func (s *Service) NewTypeData(raw json.RawMessage) (datatypes.JSON, error) {
	var in createData
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, cards.Invalid("invalid prompt payload")
	}
	if strings.TrimSpace(in.PromptText) == "" {
		return nil, cards.Invalid("prompt_text is required")
	}
	if in.MaxLength <= 0 {
		in.MaxLength = defaultMaxLength
	}

	data := cards.PromptData{
		PromptText:            strings.TrimSpace(in.PromptText),
		MaxLength:             in.MaxLength,
		RequireApproval:       in.RequireApproval,
		FeaturedSubmissionIDs: []uuid.UUID{},
	}
	return cards.Encode(&data)
}

func (s *Service) loadPrompt(postID uuid.UUID) (*models.Post, *cards.PromptData, error) {
	var post models.Post
	err := s.db.Where("id = ? AND post_type = ? AND status = ?",
		postID, models.PostTypePrompt, models.PostStatusActive).First(&post).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, cards.ErrNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	data, err := cards.DecodePrompt(&post)
	if err != nil {
		return nil, nil, err
	}
	return &post, data, nil
}

// lockPrompt reloads the prompt row under a row lock inside a
// transaction. Document counters are mutated from this copy only.
func (s *Service) lockPrompt(tx *gorm.DB, postID uuid.UUID) (*cards.PromptData, error) {
	var post models.Post
	err := cards.LockForUpdate(tx).
		Where("id = ? AND post_type = ? AND status = ?",
			postID, models.PostTypePrompt, models.PostStatusActive).
		First(&post).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, cards.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return cards.DecodePrompt(&post)
}

// Submit records an author's single response to a prompt. Auto-approves
// when the prompt does not require approval or the submitter is the
// prompt's own author; otherwise the submission starts pending.
func (s *Service) Submit(postID uuid.UUID, author identity.Actor, content string, mediaURLs []string) (*models.PromptSubmission, error) {
	post, data, err := s.loadPrompt(postID)
	if err != nil {
		return nil, err
	}

	if post.DeadlinePassed(time.Now()) {
		return nil, cards.Invalid("prompt has expired")
	}

	content = strings.TrimSpace(content)
	if content == "" && len(mediaURLs) == 0 {
		return nil, cards.Invalid("content or media is required")
	}
	if data.MaxLength > 0 && len(content) > data.MaxLength {
		return nil, cards.Invalid(fmt.Sprintf("content exceeds the %d character limit", data.MaxLength))
	}
	if ok, reason := s.filter.Check(content); !ok {
		return nil, cards.Invalid(s.filter.RejectionMessage(reason))
	}

	// At most one submission per author, enforced by lookup-then-insert.
	var existing models.PromptSubmission
	err = s.db.Where("post_id = ? AND author_id = ? AND author_type = ?",
		postID, author.ID, author.Type).First(&existing).Error
	if err == nil {
		return nil, cards.Conflict("you have already submitted to this prompt")
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	status := models.SubmissionStatusPending
	selfSubmission := author.ID == post.AuthorID && author.Type == post.AuthorType
	if !data.RequireApproval || selfSubmission {
		status = models.SubmissionStatusApproved
	}

	var mediaJSON datatypes.JSON
	if len(mediaURLs) > 0 {
		b, err := json.Marshal(mediaURLs)
		if err != nil {
			return nil, err
		}
		mediaJSON = datatypes.JSON(b)
	}

	submission := &models.PromptSubmission{
		PostID:     postID,
		AuthorID:   author.ID,
		AuthorType: author.Type,
		Content:    content,
		MediaURLs:  mediaJSON,
		Status:     status,
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		fresh, err := s.lockPrompt(tx, postID)
		if err != nil {
			return err
		}
		if err := tx.Create(submission).Error; err != nil {
			return err
		}
		fresh.SubmissionCount++
		encoded, err := cards.Encode(fresh)
		if err != nil {
			return err
		}
		return tx.Model(&models.Post{}).Where("id = ?", postID).
			Update("type_data", encoded).Error
	})
	if err != nil {
		return nil, err
	}

	if !selfSubmission {
		s.dispatcher.Send(post.AuthorID, post.AuthorType,
			"New prompt submission",
			"Someone responded to your prompt",
			map[string]string{"post_id": postID.String(), "submission_id": submission.ID.String()})
	}

	return submission, nil
}

var moderationStatuses = map[string]bool{
	models.SubmissionStatusApproved: true,
	models.SubmissionStatusRejected: true,
	models.SubmissionStatusFeatured: true,
}

// Moderate transitions a submission's status. Only the prompt's author may
// moderate. Featuring also records the submission id on the card, without
// duplicates. Rejection fires no notification toward the submitter.
func (s *Service) Moderate(submissionID uuid.UUID, actor identity.Actor, newStatus string) (*models.PromptSubmission, error) {
	if !moderationStatuses[newStatus] {
		return nil, cards.Invalid("status must be approved, rejected or featured")
	}

	var submission models.PromptSubmission
	err := s.db.Where("id = ?", submissionID).First(&submission).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, cards.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	post, _, err := s.loadPrompt(submission.PostID)
	if err != nil {
		return nil, err
	}
	if actor.ID != post.AuthorID || actor.Type != post.AuthorType {
		return nil, cards.ErrNotAuthor
	}

	now := time.Now()
	err = s.db.Transaction(func(tx *gorm.DB) error {
		fresh, err := s.lockPrompt(tx, post.ID)
		if err != nil {
			return err
		}

		submission.Status = newStatus
		submission.ModeratedBy = &actor.ID
		submission.ModeratedAt = &now
		if err := tx.Save(&submission).Error; err != nil {
			return err
		}

		if newStatus == models.SubmissionStatusFeatured {
			featured := false
			for _, id := range fresh.FeaturedSubmissionIDs {
				if id == submission.ID {
					featured = true
					break
				}
			}
			if !featured {
				fresh.FeaturedSubmissionIDs = append(fresh.FeaturedSubmissionIDs, submission.ID)
				encoded, err := cards.Encode(fresh)
				if err != nil {
					return err
				}
				return tx.Model(&models.Post{}).Where("id = ?", post.ID).
					Update("type_data", encoded).Error
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if newStatus != models.SubmissionStatusRejected {
		title := "Your submission was approved"
		if newStatus == models.SubmissionStatusFeatured {
			title = "Your submission was featured"
		}
		s.dispatcher.Send(submission.AuthorID, submission.AuthorType,
			title,
			"The prompt author reviewed your submission",
			map[string]string{"post_id": post.ID.String(), "submission_id": submission.ID.String()})
	}

	return &submission, nil
}

// MySubmission returns the caller's submission for a prompt.
func (s *Service) MySubmission(postID uuid.UUID, author identity.Actor) (*models.PromptSubmission, error) {
	if _, _, err := s.loadPrompt(postID); err != nil {
		return nil, err
	}

	var submission models.PromptSubmission
	err := s.db.Where("post_id = ? AND author_id = ? AND author_type = ?",
		postID, author.ID, author.Type).First(&submission).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, cards.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &submission, nil
}

// ListSubmissions returns submissions on a prompt. The prompt author sees
// every status; everyone else only approved and featured ones.
func (s *Service) ListSubmissions(postID uuid.UUID, viewer identity.Actor, limit, offset int) ([]models.PromptSubmission, int64, error) {
	post, _, err := s.loadPrompt(postID)
	if err != nil {
		return nil, 0, err
	}

	query := s.db.Model(&models.PromptSubmission{}).Where("post_id = ?", postID)
	if viewer.ID != post.AuthorID || viewer.Type != post.AuthorType {
		query = query.Where("status IN ?", []string{
			models.SubmissionStatusApproved, models.SubmissionStatusFeatured,
		})
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var submissions []models.PromptSubmission
	err = query.Order("created_at DESC").Limit(limit).Offset(offset).Find(&submissions).Error
	if err != nil {
		return nil, 0, err
	}
	return submissions, total, nil
}
