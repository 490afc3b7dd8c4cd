package lifecycle

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/tapestryhq/tapestry-backend/internal/cards"
	"github.com/tapestryhq/tapestry-backend/internal/identity"
	"github.com/tapestryhq/tapestry-backend/internal/models"
	"github.com/tapestryhq/tapestry-backend/internal/notify"
	"gorm.io/gorm"
)

// Service owns deadline extensions and opportunity closure. It is the only
// writer of expires_at, extension_count, original_end_time and closed_at.
type Service struct {
	db         *gorm.DB
	dispatcher *notify.Dispatcher
}

func NewService(db *gorm.DB, dispatcher *notify.Dispatcher) *Service {
	return &Service{db: db, dispatcher: dispatcher}
}

func (s *Service) loadPost(postID uuid.UUID) (*models.Post, error) {
	var post models.Post
	err := s.db.Where("id = ? AND status = ?", postID, models.PostStatusActive).
		First(&post).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, cards.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &post, nil
}

// CheckExtend is the read-only policy probe backing the pre-flight UI.
func (s *Service) CheckExtend(postID uuid.UUID) (cards.ExtendDecision, error) {
	post, err := s.loadPost(postID)
	if err != nil {
		return cards.ExtendDecision{}, err
	}
	return cards.CanExtend(post, time.Now()), nil
}

// Extend pushes a card's deadline out. Author-only; policy re-checked on
// the write path; a requested end under the 24h minimum is bumped up
// rather than rejected; challenges with submissions cannot be shortened.
// The post update and the audit row commit in one transaction.
func (s *Service) Extend(postID uuid.UUID, actor identity.Actor, newEnd time.Time, reason string) (*models.Post, error) {
	post, err := s.loadPost(postID)
	if err != nil {
		return nil, err
	}
	if post.AuthorID != actor.ID || post.AuthorType != actor.Type {
		return nil, cards.ErrNotAuthor
	}

	now := time.Now()
	decision := cards.CanExtend(post, now)
	if !decision.Allowed {
		return nil, cards.Invalid(decision.Reason)
	}

	currentEnd := *post.ExpiresAt
	if !newEnd.After(currentEnd) {
		return nil, cards.Invalid("new end time must be after the current end time")
	}
	if minimum := currentEnd.Add(cards.MinExtensionGrant); newEnd.Before(minimum) {
		newEnd = minimum
	}

	original := currentEnd
	if post.OriginalEndTime != nil {
		original = *post.OriginalEndTime
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		updates := map[string]interface{}{
			"expires_at":        newEnd,
			"extended_at":       now,
			"extension_count":   gorm.Expr("extension_count + 1"),
			"original_end_time": original,
		}
		if err := tx.Model(&models.Post{}).Where("id = ?", post.ID).
			Updates(updates).Error; err != nil {
			return err
		}
		return tx.Create(&models.CardExtension{
			CardType:        post.PostType,
			CardID:          post.ID,
			OriginalEndTime: currentEnd,
			NewEndTime:      newEnd,
			ExtendedBy:      actor.ID,
			Reason:          reason,
		}).Error
	})
	if err != nil {
		return nil, err
	}

	post.ExpiresAt = &newEnd
	post.ExtendedAt = &now
	post.ExtensionCount++
	post.OriginalEndTime = &original

	s.notifyParticipants(post, newEnd)
	return post, nil
}

// notifyParticipants tells everyone engaged with the card about the new
// deadline. Best-effort, runs after the commit.
func (s *Service) notifyParticipants(post *models.Post, newEnd time.Time) {
	var recipients []notify.Recipient

	switch post.PostType {
	case models.PostTypePoll:
		var votes []models.PollVote
		if err := s.db.Distinct("voter_id", "voter_type").
			Where("post_id = ?", post.ID).Find(&votes).Error; err == nil {
			for _, v := range votes {
				recipients = append(recipients, notify.Recipient{ID: v.VoterID, Type: v.VoterType})
			}
		}
	case models.PostTypeChallenge:
		var participations []models.ChallengeParticipation
		if err := s.db.Where("post_id = ?", post.ID).
			Find(&participations).Error; err == nil {
			for _, p := range participations {
				recipients = append(recipients, notify.Recipient{ID: p.ParticipantID, Type: p.ParticipantType})
			}
		}
	}

	if len(recipients) == 0 {
		return
	}
	s.dispatcher.SendToMany(recipients,
		"Deadline extended",
		"A card you participate in now ends at "+newEnd.Format(time.RFC3339),
		map[string]string{"post_id": post.ID.String()})
}

// GetExtensions returns the audit trail for a card, oldest first.
func (s *Service) GetExtensions(postID uuid.UUID) ([]models.CardExtension, error) {
	if _, err := s.loadPost(postID); err != nil {
		return nil, err
	}
	var trail []models.CardExtension
	err := s.db.Where("card_id = ?", postID).
		Order("created_at ASC").Find(&trail).Error
	if err != nil {
		return nil, err
	}
	return trail, nil
}

// CloseOpportunity marks an opportunity closed. Manual closure when the
// card has no deadline, automatic when it does.
func (s *Service) CloseOpportunity(postID uuid.UUID, actor identity.Actor) (*models.Post, error) {
	post, err := s.loadPost(postID)
	if err != nil {
		return nil, err
	}
	if post.PostType != models.PostTypeOpportunity {
		return nil, cards.Invalid("only opportunities can be closed")
	}
	if post.AuthorID != actor.ID || post.AuthorType != actor.Type {
		return nil, cards.ErrNotAuthor
	}
	if post.ClosedAt != nil {
		return nil, cards.Conflict("opportunity is already closed")
	}

	data, err := cards.DecodeOpportunity(post)
	if err != nil {
		return nil, err
	}
	data.ClosureType = cards.ClosureManual
	if post.ExpiresAt != nil {
		data.ClosureType = cards.ClosureAutomatic
	}
	encoded, err := cards.Encode(data)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	err = s.db.Model(&models.Post{}).Where("id = ?", post.ID).
		Updates(map[string]interface{}{
			"closed_at": now,
			"type_data": encoded,
		}).Error
	if err != nil {
		return nil, err
	}

	post.ClosedAt = &now
	post.TypeData = encoded
	return post, nil
}
