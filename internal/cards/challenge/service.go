package challenge

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tapestryhq/tapestry-backend/internal/cards"
	"github.com/tapestryhq/tapestry-backend/internal/dto"
	"github.com/tapestryhq/tapestry-backend/internal/identity"
	"github.com/tapestryhq/tapestry-backend/internal/models"
	"github.com/tapestryhq/tapestry-backend/internal/moderation"
	"github.com/tapestryhq/tapestry-backend/internal/notify"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Service handles challenge participation, submissions and the tag-driven
// auto-join pathway.
type Service struct {
	db         *gorm.DB
	dispatcher *notify.Dispatcher
	filter     *moderation.Filter
}

func NewService(db *gorm.DB, dispatcher *notify.Dispatcher, filter *moderation.Filter) *Service {
	return &Service{db: db, dispatcher: dispatcher, filter: filter}
}

type createData struct {
	Title           string `json:"title"`
	Description     string `json:"description"`
	ChallengeType   string `json:"challenge_type"`
	TargetCount     int    `json:"target_count"`
	RequireApproval bool   `json:"require_approval"`
}

// NewTypeData validates a challenge creation payload.
func (s *Service) NewTypeData(raw json.RawMessage) (datatypes.JSON, error) {
	var in createData
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, cards.Invalid("invalid challenge payload")
	}
	if strings.TrimSpace(in.Title) == "" {
		return nil, cards.Invalid("title is required")
	}
	if in.ChallengeType == "" {
		in.ChallengeType = cards.ChallengeTypeSimple
	}
	if in.ChallengeType != cards.ChallengeTypeSimple && in.ChallengeType != cards.ChallengeTypeProgress {
		return nil, cards.Invalid("challenge_type must be simple or progress")
	}
	if in.ChallengeType == cards.ChallengeTypeProgress && in.TargetCount < 1 {
		return nil, cards.Invalid("progress challenges need a target_count of at least 1")
	}

	data := cards.ChallengeData{
		Title:           strings.TrimSpace(in.Title),
		Description:     strings.TrimSpace(in.Description),
		ChallengeType:   in.ChallengeType,
		TargetCount:     in.TargetCount,
		RequireApproval: in.RequireApproval,
	}
	return cards.Encode(&data)
}

func (s *Service) loadChallenge(postID uuid.UUID) (*models.Post, *cards.ChallengeData, error) {
	var post models.Post
	err := s.db.Where("id = ? AND post_type = ? AND status = ?",
		postID, models.PostTypeChallenge, models.PostStatusActive).First(&post).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, cards.ErrNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	data, err := cards.DecodeChallenge(&post)
	if err != nil {
		return nil, nil, err
	}
	return &post, data, nil
}

// lockChallenge reloads the challenge row under a row lock inside a
// transaction. Participant and submission counters are mutated from this
// copy only.
func (s *Service) lockChallenge(tx *gorm.DB, postID uuid.UUID) (*cards.ChallengeData, error) {
	var post models.Post
	err := cards.LockForUpdate(tx).
		Where("id = ? AND post_type = ? AND status = ?",
			postID, models.PostTypeChallenge, models.PostStatusActive).
		First(&post).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, cards.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return cards.DecodeChallenge(&post)
}

func (s *Service) saveTypeData(tx *gorm.DB, postID uuid.UUID, data *cards.ChallengeData) error {
	encoded, err := cards.Encode(data)
	if err != nil {
		return err
	}
	return tx.Model(&models.Post{}).Where("id = ?", postID).
		Update("type_data", encoded).Error
}

func (s *Service) findParticipation(tx *gorm.DB, postID uuid.UUID, actor identity.Actor) (*models.ChallengeParticipation, error) {
	var p models.ChallengeParticipation
	err := tx.Where("post_id = ? AND participant_id = ? AND participant_type = ?",
		postID, actor.ID, actor.Type).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Join creates an explicit participation.
func (s *Service) Join(postID uuid.UUID, actor identity.Actor) (*models.ChallengeParticipation, error) {
	post, _, err := s.loadChallenge(postID)
	if err != nil {
		return nil, err
	}
	if cards.PostState(post, time.Now()) == cards.StateEnded {
		return nil, cards.Invalid("challenge has ended")
	}

	existing, err := s.findParticipation(s.db, postID, actor)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, cards.Conflict("already joined this challenge")
	}

	participation := &models.ChallengeParticipation{
		PostID:          postID,
		ParticipantID:   actor.ID,
		ParticipantType: actor.Type,
		Status:          models.ParticipationJoined,
	}
	err = s.db.Transaction(func(tx *gorm.DB) error {
		fresh, err := s.lockChallenge(tx, postID)
		if err != nil {
			return err
		}
		if err := tx.Create(participation).Error; err != nil {
			return err
		}
		fresh.ParticipantCount++
		return s.saveTypeData(tx, postID, fresh)
	})
	if err != nil {
		return nil, err
	}

	if actor.ID != post.AuthorID {
		s.dispatcher.Send(post.AuthorID, post.AuthorType,
			"New challenge participant",
			"Someone joined your challenge",
			map[string]string{"post_id": postID.String()})
	}
	return participation, nil
}

func inferSubmissionType(videoURL string, mediaURLs []string) string {
	switch {
	case videoURL != "":
		return models.ChallengeSubmissionVideo
	case len(mediaURLs) > 0:
		return models.ChallengeSubmissionImage
	default:
		return models.ChallengeSubmissionText
	}
}

func encodeMedia(mediaURLs []string) (datatypes.JSON, error) {
	if len(mediaURLs) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(mediaURLs)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(b), nil
}

// Submit creates an explicit submission. Requires an existing
// participation; starts pending when the challenge moderates submissions.
func (s *Service) Submit(postID uuid.UUID, actor identity.Actor, req dto.ChallengeSubmitRequest) (*models.ChallengeSubmission, error) {
	post, data, err := s.loadChallenge(postID)
	if err != nil {
		return nil, err
	}
	if cards.PostState(post, time.Now()) == cards.StateEnded {
		return nil, cards.Invalid("challenge has ended")
	}

	participation, err := s.findParticipation(s.db, postID, actor)
	if err != nil {
		return nil, err
	}
	if participation == nil {
		return nil, cards.Invalid("join the challenge before submitting")
	}

	content := strings.TrimSpace(req.Content)
	if content == "" && len(req.MediaURLs) == 0 && req.VideoURL == "" {
		return nil, cards.Invalid("content or media is required")
	}
	if ok, reason := s.filter.Check(content); !ok {
		return nil, cards.Invalid(s.filter.RejectionMessage(reason))
	}

	status := models.SubmissionStatusApproved
	if data.RequireApproval {
		status = models.SubmissionStatusPending
	}

	mediaJSON, err := encodeMedia(req.MediaURLs)
	if err != nil {
		return nil, err
	}

	submission := &models.ChallengeSubmission{
		ParticipationID: participation.ID,
		PostID:          postID,
		SubmissionType:  inferSubmissionType(req.VideoURL, req.MediaURLs),
		Content:         content,
		MediaURLs:       mediaJSON,
		VideoURL:        req.VideoURL,
		ThumbnailURL:    req.ThumbnailURL,
		Status:          status,
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		fresh, err := s.lockChallenge(tx, postID)
		if err != nil {
			return err
		}
		if err := tx.Create(submission).Error; err != nil {
			return err
		}
		if status != models.SubmissionStatusPending {
			fresh.SubmissionCount++
		}
		if err := s.saveTypeData(tx, postID, fresh); err != nil {
			return err
		}
		return s.recomputeProgress(tx, fresh, participation)
	})
	if err != nil {
		return nil, err
	}

	if actor.ID != post.AuthorID {
		s.dispatcher.Send(post.AuthorID, post.AuthorType,
			"New challenge submission",
			"Someone submitted to your challenge",
			map[string]string{"post_id": postID.String(), "submission_id": submission.ID.String()})
	}
	return submission, nil
}

// recomputeProgress recounts the participant's approved submissions and
// derives progress for progress-type challenges. Progress and status
// always follow the current count, so removing submissions can move a
// completed participation back to in_progress or joined.
func (s *Service) recomputeProgress(tx *gorm.DB, data *cards.ChallengeData, participation *models.ChallengeParticipation) error {
	if data.ChallengeType != cards.ChallengeTypeProgress || data.TargetCount <= 0 {
		return nil
	}

	var count int64
	err := tx.Model(&models.ChallengeSubmission{}).
		Where("participation_id = ? AND status IN ?", participation.ID,
			[]string{models.SubmissionStatusApproved, models.SubmissionStatusFeatured}).
		Count(&count).Error
	if err != nil {
		return err
	}

	progress := int(math.Round(float64(count) / float64(data.TargetCount) * 100))
	if progress > 100 {
		progress = 100
	}

	participation.Progress = progress
	switch {
	case progress >= 100:
		participation.Status = models.ParticipationCompleted
	case progress > 0:
		participation.Status = models.ParticipationInProgress
	default:
		participation.Status = models.ParticipationJoined
	}
	return tx.Save(participation).Error
}

// ValidateTags checks the tagged entities of a new post and returns the
// single referenced challenge id, if any. More than one challenge tag is
// rejected before any write happens.
func (s *Service) ValidateTags(tagged []dto.TaggedEntity) (*uuid.UUID, error) {
	var challengeID *uuid.UUID
	for _, entity := range tagged {
		if entity.Type != models.PostTypeChallenge {
			continue
		}
		if challengeID != nil {
			return nil, cards.Invalid("a post may tag at most one challenge")
		}
		id := entity.ID
		challengeID = &id
	}
	return challengeID, nil
}

// PropagateTag runs the side-effect chain after an ordinary post tagging a
// challenge has been committed: auto-join, auto-submission, provenance
// link, counter bumps and progress recompute. A failure in a later step
// never unwinds an earlier step's durable effect, and no error here may
// fail the post creation itself — the caller only logs it.
func (s *Service) PropagateTag(sourcePost *models.Post, challengeID uuid.UUID) error {
	challengePost, _, err := s.loadChallenge(challengeID)
	if err != nil {
		// Missing challenge: tagging is silently skipped.
		if errors.Is(err, cards.ErrNotFound) {
			slog.Info("tagged challenge not found, skipping propagation",
				"source_post_id", sourcePost.ID.String(),
				"challenge_id", challengeID.String())
			return nil
		}
		return err
	}
	if challengePost.DeadlinePassed(time.Now()) {
		slog.Info("tagged challenge already ended, skipping propagation",
			"source_post_id", sourcePost.ID.String(),
			"challenge_id", challengeID.String())
		return nil
	}

	tagger := identity.Actor{ID: sourcePost.AuthorID, Type: sourcePost.AuthorType}

	// Idempotent auto-join: reuse an existing participation, otherwise
	// create one and bump participant_count exactly once.
	participation, err := s.findParticipation(s.db, challengeID, tagger)
	if err != nil {
		return err
	}
	if participation == nil {
		participation = &models.ChallengeParticipation{
			PostID:          challengeID,
			ParticipantID:   tagger.ID,
			ParticipantType: tagger.Type,
			Status:          models.ParticipationJoined,
		}
		err = s.db.Transaction(func(tx *gorm.DB) error {
			fresh, err := s.lockChallenge(tx, challengeID)
			if err != nil {
				return err
			}
			if err := tx.Create(participation).Error; err != nil {
				return err
			}
			fresh.ParticipantCount++
			return s.saveTypeData(tx, challengeID, fresh)
		})
		if err != nil {
			return err
		}
	}

	var media cards.MediaData
	if sourcePost.PostType == models.PostTypeMedia && len(sourcePost.TypeData) > 0 {
		if decoded, err := cards.DecodeMedia(sourcePost); err == nil {
			media = *decoded
		}
	}

	mediaJSON, err := encodeMedia(media.MediaURLs)
	if err != nil {
		return err
	}

	// Tag-originated submissions bypass moderation: the source post is
	// already public.
	submission := &models.ChallengeSubmission{
		ParticipationID: participation.ID,
		PostID:          challengeID,
		SubmissionType:  inferSubmissionType(media.VideoURL, media.MediaURLs),
		Content:         sourcePost.Caption,
		MediaURLs:       mediaJSON,
		VideoURL:        media.VideoURL,
		ThumbnailURL:    media.ThumbnailURL,
		Status:          models.SubmissionStatusApproved,
	}
	if err := s.db.Create(submission).Error; err != nil {
		return err
	}

	// Provenance is best-effort: the submission is the durable effect.
	source := &models.ChallengeSubmissionSource{
		SubmissionID:     submission.ID,
		SourcePostID:     &sourcePost.ID,
		IsFromTaggedPost: true,
	}
	if err := s.db.Create(source).Error; err != nil {
		slog.Error("failed to create submission provenance link",
			"submission_id", submission.ID.String(),
			"source_post_id", sourcePost.ID.String(),
			"error", err.Error())
	}

	if err := s.db.Model(&models.Post{}).Where("id = ?", sourcePost.ID).
		Update("linked_challenge_id", challengeID).Error; err != nil {
		slog.Error("failed to back-link source post to challenge",
			"source_post_id", sourcePost.ID.String(), "error", err.Error())
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		fresh, err := s.lockChallenge(tx, challengeID)
		if err != nil {
			return err
		}
		fresh.SubmissionCount++
		if err := s.saveTypeData(tx, challengeID, fresh); err != nil {
			return err
		}
		return s.recomputeProgress(tx, fresh, participation)
	})
	if err != nil {
		return err
	}

	if tagger.ID != challengePost.AuthorID {
		s.dispatcher.Send(challengePost.AuthorID, challengePost.AuthorType,
			"New challenge submission",
			"Someone tagged your challenge in a post",
			map[string]string{
				"post_id":       challengeID.String(),
				"submission_id": submission.ID.String(),
			})
	}
	return nil
}

// HandleSourceDeleted applies deletion symmetry when an ordinary post is
// removed: if the challenge has ended the submission survives with its
// source nulled; if it is still active the submission is deleted and the
// counters recomputed.
func (s *Service) HandleSourceDeleted(sourcePostID uuid.UUID) error {
	var source models.ChallengeSubmissionSource
	err := s.db.Where("source_post_id = ?", sourcePostID).First(&source).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	var submission models.ChallengeSubmission
	err = s.db.Where("id = ?", source.SubmissionID).First(&submission).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	challengePost, _, err := s.loadChallenge(submission.PostID)
	if err != nil {
		if errors.Is(err, cards.ErrNotFound) {
			return nil
		}
		return err
	}

	if challengePost.DeadlinePassed(time.Now()) {
		// Keep the historical record, drop the dangling reference.
		return s.db.Model(&models.ChallengeSubmissionSource{}).
			Where("id = ?", source.ID).
			Update("source_post_id", nil).Error
	}

	var participation models.ChallengeParticipation
	err = s.db.Where("id = ?", submission.ParticipationID).First(&participation).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		fresh, err := s.lockChallenge(tx, submission.PostID)
		if err != nil {
			return err
		}
		if err := tx.Unscoped().Delete(&models.ChallengeSubmission{}, "id = ?", submission.ID).Error; err != nil {
			return err
		}
		if err := tx.Delete(&models.ChallengeSubmissionSource{}, "id = ?", source.ID).Error; err != nil {
			return err
		}

		var count int64
		err = tx.Model(&models.ChallengeSubmission{}).
			Where("post_id = ? AND status IN ?", submission.PostID,
				[]string{models.SubmissionStatusApproved, models.SubmissionStatusFeatured}).
			Count(&count).Error
		if err != nil {
			return err
		}
		fresh.SubmissionCount = int(count)
		if err := s.saveTypeData(tx, submission.PostID, fresh); err != nil {
			return err
		}

		if participation.ID != uuid.Nil {
			return s.recomputeProgress(tx, fresh, &participation)
		}
		return nil
	})
}

// DeleteSubmission removes a participant's own explicit submission and
// recomputes the counters.
func (s *Service) DeleteSubmission(submissionID uuid.UUID, actor identity.Actor) error {
	var submission models.ChallengeSubmission
	err := s.db.Where("id = ?", submissionID).First(&submission).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return cards.ErrNotFound
	}
	if err != nil {
		return err
	}

	var participation models.ChallengeParticipation
	if err := s.db.Where("id = ?", submission.ParticipationID).First(&participation).Error; err != nil {
		return err
	}
	if participation.ParticipantID != actor.ID || participation.ParticipantType != actor.Type {
		return cards.ErrNotAuthor
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		fresh, err := s.lockChallenge(tx, submission.PostID)
		if err != nil {
			return err
		}
		if err := tx.Unscoped().Delete(&models.ChallengeSubmission{}, "id = ?", submission.ID).Error; err != nil {
			return err
		}
		if err := tx.Where("submission_id = ?", submission.ID).
			Delete(&models.ChallengeSubmissionSource{}).Error; err != nil {
			return err
		}

		var count int64
		err = tx.Model(&models.ChallengeSubmission{}).
			Where("post_id = ? AND status IN ?", submission.PostID,
				[]string{models.SubmissionStatusApproved, models.SubmissionStatusFeatured}).
			Count(&count).Error
		if err != nil {
			return err
		}
		fresh.SubmissionCount = int(count)
		if err := s.saveTypeData(tx, submission.PostID, fresh); err != nil {
			return err
		}
		return s.recomputeProgress(tx, fresh, &participation)
	})
}

// ModerateSubmission lets the challenge author approve or feature a
// pending submission.
func (s *Service) ModerateSubmission(submissionID uuid.UUID, actor identity.Actor, newStatus string) (*models.ChallengeSubmission, error) {
	if newStatus != models.SubmissionStatusApproved && newStatus != models.SubmissionStatusFeatured {
		return nil, cards.Invalid("status must be approved or featured")
	}

	var submission models.ChallengeSubmission
	err := s.db.Where("id = ?", submissionID).First(&submission).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, cards.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	challengePost, _, err := s.loadChallenge(submission.PostID)
	if err != nil {
		return nil, err
	}
	if actor.ID != challengePost.AuthorID || actor.Type != challengePost.AuthorType {
		return nil, cards.ErrNotAuthor
	}

	wasCounted := submission.Status != models.SubmissionStatusPending

	var participation models.ChallengeParticipation
	if err := s.db.Where("id = ?", submission.ParticipationID).First(&participation).Error; err != nil {
		return nil, err
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		fresh, err := s.lockChallenge(tx, submission.PostID)
		if err != nil {
			return err
		}
		submission.Status = newStatus
		submission.IsFeatured = newStatus == models.SubmissionStatusFeatured
		if err := tx.Save(&submission).Error; err != nil {
			return err
		}
		if !wasCounted {
			fresh.SubmissionCount++
			if err := s.saveTypeData(tx, submission.PostID, fresh); err != nil {
				return err
			}
		}
		return s.recomputeProgress(tx, fresh, &participation)
	})
	if err != nil {
		return nil, err
	}

	s.dispatcher.Send(participation.ParticipantID, participation.ParticipantType,
		"Your challenge submission was "+newStatus,
		"The challenge organizer reviewed your submission",
		map[string]string{"post_id": submission.PostID.String(), "submission_id": submission.ID.String()})

	return &submission, nil
}

// GetParticipation returns the caller's participation on a challenge.
func (s *Service) GetParticipation(postID uuid.UUID, actor identity.Actor) (*models.ChallengeParticipation, error) {
	if _, _, err := s.loadChallenge(postID); err != nil {
		return nil, err
	}
	participation, err := s.findParticipation(s.db, postID, actor)
	if err != nil {
		return nil, err
	}
	if participation == nil {
		return nil, cards.ErrNotFound
	}
	return participation, nil
}

// ListSubmissions returns visible submissions on a challenge: everything
// for the organizer, approved and featured only for everyone else.
func (s *Service) ListSubmissions(postID uuid.UUID, viewer identity.Actor, limit, offset int) ([]models.ChallengeSubmission, int64, error) {
	post, _, err := s.loadChallenge(postID)
	if err != nil {
		return nil, 0, err
	}

	query := s.db.Model(&models.ChallengeSubmission{}).Where("post_id = ?", postID)
	if viewer.ID != post.AuthorID || viewer.Type != post.AuthorType {
		query = query.Where("status IN ?", []string{
			models.SubmissionStatusApproved, models.SubmissionStatusFeatured,
		})
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var submissions []models.ChallengeSubmission
	err = query.Order("created_at DESC").Limit(limit).Offset(offset).Find(&submissions).Error
	if err != nil {
		return nil, 0, err
	}
	return submissions, total, nil
}
