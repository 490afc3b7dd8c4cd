package posts

import (
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tapestryhq/tapestry-backend/internal/cards"
	"github.com/tapestryhq/tapestry-backend/internal/cards/challenge"
	"github.com/tapestryhq/tapestry-backend/internal/cards/poll"
	"github.com/tapestryhq/tapestry-backend/internal/dto"
	"github.com/tapestryhq/tapestry-backend/internal/identity"
	"github.com/tapestryhq/tapestry-backend/internal/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const maxCaptionLength = 2000

// Service is the generic post layer: creation dispatch, deletion with
// satellite cleanup, and read-side hydration with derived state.
type Service struct {
	db         *gorm.DB
	engines    map[string]cards.Engine
	challenges *challenge.Service
	polls      *poll.Service
}

func NewService(db *gorm.DB, engines []cards.Engine, challenges *challenge.Service, polls *poll.Service) *Service {
	byType := make(map[string]cards.Engine, len(engines))
	for _, e := range engines {
		byType[e.Type()] = e
	}
	return &Service{db: db, engines: byType, challenges: challenges, polls: polls}
}

// Create validates and persists a new post. The type_data payload is
// handed to the engine owning the post type; media posts build their
// document inline. Challenge tag side effects run after the commit and
// never fail the creation.
func (s *Service) Create(actor identity.Actor, req dto.CreatePostRequest) (*models.Post, error) {
	if len(req.Caption) > maxCaptionLength {
		return nil, cards.Invalid("caption is too long")
	}
	if req.ExpiresAt != nil && !req.ExpiresAt.After(time.Now()) {
		return nil, cards.Invalid("expires_at must be in the future")
	}

	var (
		typeData datatypes.JSON
		err      error
	)
	switch req.PostType {
	case models.PostTypeMedia:
		typeData, err = s.mediaTypeData(req)
	default:
		engine, ok := s.engines[req.PostType]
		if !ok {
			return nil, cards.Invalid("unknown post type")
		}
		if len(req.TypeData) == 0 {
			return nil, cards.Invalid("type_data is required")
		}
		typeData, err = engine.NewTypeData(req.TypeData)
	}
	if err != nil {
		return nil, err
	}

	if req.PostType == models.PostTypeOpportunity {
		typeData, err = s.sealOpportunity(typeData, req.ExpiresAt)
		if err != nil {
			return nil, err
		}
	}

	// Reject before any write; a post may tag at most one challenge.
	challengeID, err := s.challenges.ValidateTags(req.TaggedEntities)
	if err != nil {
		return nil, err
	}

	post := &models.Post{
		PostType:   req.PostType,
		AuthorID:   actor.ID,
		AuthorType: actor.Type,
		Caption:    strings.TrimSpace(req.Caption),
		Status:     models.PostStatusActive,
		ExpiresAt:  req.ExpiresAt,
		TypeData:   typeData,
	}
	if err := s.db.Create(post).Error; err != nil {
		return nil, err
	}

	if challengeID != nil {
		if err := s.challenges.PropagateTag(post, *challengeID); err != nil {
			slog.Error("challenge tag propagation failed",
				"post_id", post.ID.String(),
				"challenge_id", challengeID.String(),
				"error", err.Error())
		}
	}
	return post, nil
}

func (s *Service) mediaTypeData(req dto.CreatePostRequest) (datatypes.JSON, error) {
	var media cards.MediaData
	if len(req.TypeData) > 0 {
		if err := cards.DecodeRaw(req.TypeData, &media); err != nil {
			return nil, cards.Invalid("invalid media payload")
		}
	}
	if len(media.MediaURLs) == 0 && media.VideoURL == "" && strings.TrimSpace(req.Caption) == "" {
		return nil, cards.Invalid("media posts need media or a caption")
	}
	return cards.Encode(&media)
}

// sealOpportunity stamps the closure type once the deadline is known:
// automatic when a deadline exists, manual otherwise.
func (s *Service) sealOpportunity(typeData datatypes.JSON, expiresAt *time.Time) (datatypes.JSON, error) {
	var data cards.OpportunityData
	if err := cards.DecodeRaw(typeData, &data); err != nil {
		return nil, err
	}
	data.ClosureType = cards.ClosureManual
	if expiresAt != nil {
		data.ClosureType = cards.ClosureAutomatic
	}
	return cards.Encode(&data)
}

// Get returns one post with its derived state. Poll tallies are
// visibility-filtered for the viewer.
func (s *Service) Get(postID uuid.UUID, viewer *identity.Actor) (*View, error) {
	var post models.Post
	err := s.db.Where("id = ? AND status = ?", postID, models.PostStatusActive).
		First(&post).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, cards.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return s.hydrate(&post, viewer)
}

// View is the public shape of a post: the row plus the state derived at
// read time.
type View struct {
	models.Post
	State    cards.State `json:"state"`
	TypeData any         `json:"type_data"`
}

func (s *Service) hydrate(post *models.Post, viewer *identity.Actor) (*View, error) {
	view := &View{
		Post:  *post,
		State: cards.PostState(post, time.Now()),
	}

	if post.PostType == models.PostTypePoll {
		results, err := s.polls.GetResults(post.ID, viewer)
		if err != nil {
			return nil, err
		}
		view.TypeData = results
		return view, nil
	}

	doc, err := cards.Decode(post)
	if err != nil {
		return nil, err
	}
	view.TypeData = doc
	return view, nil
}

// Feed returns active posts, newest first, with derived state. Optional
// post_type filter.
func (s *Service) Feed(viewer *identity.Actor, postType string, limit, offset int) ([]*View, int64, error) {
	query := s.db.Model(&models.Post{}).Where("status = ?", models.PostStatusActive)
	if postType != "" {
		query = query.Where("post_type = ?", postType)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var rows []models.Post
	err := query.Order("created_at DESC").Limit(limit).Offset(offset).Find(&rows).Error
	if err != nil {
		return nil, 0, err
	}

	views := make([]*View, 0, len(rows))
	for i := range rows {
		view, err := s.hydrate(&rows[i], viewer)
		if err != nil {
			slog.Error("failed to hydrate post",
				"post_id", rows[i].ID.String(), "error", err.Error())
			continue
		}
		views = append(views, view)
	}
	return views, total, nil
}

// Delete removes a post and its satellite rows. Author-only. For an
// ordinary post that fed a challenge submission, the deletion symmetry
// rules run after the root is gone.
func (s *Service) Delete(postID uuid.UUID, actor identity.Actor) error {
	var post models.Post
	err := s.db.Where("id = ? AND status = ?", postID, models.PostStatusActive).
		First(&post).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return cards.ErrNotFound
	}
	if err != nil {
		return err
	}
	if post.AuthorID != actor.ID || post.AuthorType != actor.Type {
		return cards.ErrNotAuthor
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Post{}).Where("id = ?", post.ID).
			Update("status", models.PostStatusRemoved).Error; err != nil {
			return err
		}
		if err := tx.Delete(&models.Post{}, "id = ?", post.ID).Error; err != nil {
			return err
		}
		return s.deleteSatellites(tx, &post)
	})
	if err != nil {
		return err
	}

	if err := s.challenges.HandleSourceDeleted(post.ID); err != nil {
		slog.Error("challenge deletion symmetry failed",
			"post_id", post.ID.String(), "error", err.Error())
	}
	return nil
}

// deleteSatellites drops the interaction rows that only make sense while
// their root post exists.
func (s *Service) deleteSatellites(tx *gorm.DB, post *models.Post) error {
	switch post.PostType {
	case models.PostTypePoll:
		return tx.Where("post_id = ?", post.ID).Delete(&models.PollVote{}).Error
	case models.PostTypePrompt:
		return tx.Where("post_id = ?", post.ID).Delete(&models.PromptSubmission{}).Error
	case models.PostTypeQnA:
		var questionIDs []uuid.UUID
		err := tx.Model(&models.QnAQuestion{}).Where("post_id = ?", post.ID).
			Pluck("id", &questionIDs).Error
		if err != nil {
			return err
		}
		if len(questionIDs) > 0 {
			if err := tx.Where("question_id IN ?", questionIDs).
				Delete(&models.QnAAnswer{}).Error; err != nil {
				return err
			}
		}
		return tx.Where("post_id = ?", post.ID).Delete(&models.QnAQuestion{}).Error
	case models.PostTypeChallenge:
		var submissionIDs []uuid.UUID
		err := tx.Model(&models.ChallengeSubmission{}).Where("post_id = ?", post.ID).
			Pluck("id", &submissionIDs).Error
		if err != nil {
			return err
		}
		if len(submissionIDs) > 0 {
			if err := tx.Where("submission_id IN ?", submissionIDs).
				Delete(&models.ChallengeSubmissionSource{}).Error; err != nil {
				return err
			}
		}
		if err := tx.Where("post_id = ?", post.ID).
			Delete(&models.ChallengeSubmission{}).Error; err != nil {
			return err
		}
		return tx.Where("post_id = ?", post.ID).
			Delete(&models.ChallengeParticipation{}).Error
	default:
		return nil
	}
}
