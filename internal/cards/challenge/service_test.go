package challenge

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/tapestryhq/tapestry-backend/internal/cards"
	"github.com/tapestryhq/tapestry-backend/internal/config"
	"github.com/tapestryhq/tapestry-backend/internal/dto"
	"github.com/tapestryhq/tapestry-backend/internal/identity"
	"github.com/tapestryhq/tapestry-backend/internal/models"
	"github.com/tapestryhq/tapestry-backend/internal/moderation"
	"github.com/tapestryhq/tapestry-backend/internal/notify"
	"github.com/tapestryhq/tapestry-backend/internal/testutil"
	"gorm.io/gorm"
)

func newService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	db := testutil.NewTestDB(t,
		&models.Post{},
		&models.ChallengeParticipation{},
		&models.ChallengeSubmission{},
		&models.ChallengeSubmissionSource{},
		&models.DeviceToken{},
	)
	dispatcher := notify.NewDispatcher(db, &config.Config{PushTimeout: time.Second})
	return NewService(db, dispatcher, moderation.NewFilter()), db
}

func actor() identity.Actor {
	return identity.Actor{ID: uuid.New(), Type: identity.TypeUser}
}

type challengeOpts struct {
	challengeType   string
	targetCount     int
	requireApproval bool
	expiresAt       *time.Time
}

func makeChallenge(t *testing.T, db *gorm.DB, author identity.Actor, opts challengeOpts) *models.Post {
	t.Helper()
	if opts.challengeType == "" {
		opts.challengeType = cards.ChallengeTypeSimple
	}
	encoded, err := cards.Encode(&cards.ChallengeData{
		Title:           "30 day sketch",
		ChallengeType:   opts.challengeType,
		TargetCount:     opts.targetCount,
		RequireApproval: opts.requireApproval,
	})
	require.NoError(t, err)

	post := &models.Post{
		PostType:   models.PostTypeChallenge,
		AuthorID:   author.ID,
		AuthorType: author.Type,
		Status:     models.PostStatusActive,
		ExpiresAt:  opts.expiresAt,
		TypeData:   encoded,
	}
	require.NoError(t, db.Create(post).Error)
	return post
}

func makeMediaPost(t *testing.T, db *gorm.DB, author identity.Actor, media cards.MediaData) *models.Post {
	t.Helper()
	encoded, err := cards.Encode(&media)
	require.NoError(t, err)
	post := &models.Post{
		PostType:   models.PostTypeMedia,
		AuthorID:   author.ID,
		AuthorType: author.Type,
		Caption:    "my entry",
		Status:     models.PostStatusActive,
		TypeData:   encoded,
	}
	require.NoError(t, db.Create(post).Error)
	return post
}

func challengeData(t *testing.T, db *gorm.DB, postID uuid.UUID) *cards.ChallengeData {
	t.Helper()
	var post models.Post
	require.NoError(t, db.First(&post, "id = ?", postID).Error)
	data, err := cards.DecodeChallenge(&post)
	require.NoError(t, err)
	return data
}

func TestJoinAndConflict(t *testing.T) {
	svc, db := newService(t)
	owner := actor()
	post := makeChallenge(t, db, owner, challengeOpts{})
	participant := actor()

	p, err := svc.Join(post.ID, participant)
	require.NoError(t, err)
	require.Equal(t, models.ParticipationJoined, p.Status)
	require.Equal(t, 1, challengeData(t, db, post.ID).ParticipantCount)

	_, err = svc.Join(post.ID, participant)
	var conflict *cards.ConflictError
	require.ErrorAs(t, err, &conflict)
	require.Equal(t, 1, challengeData(t, db, post.ID).ParticipantCount)
}

func TestJoinEndedChallenge(t *testing.T) {
	svc, db := newService(t)
	past := time.Now().Add(-time.Hour)
	post := makeChallenge(t, db, actor(), challengeOpts{expiresAt: &past})

	_, err := svc.Join(post.ID, actor())
	var invalid *cards.ValidationError
	require.ErrorAs(t, err, &invalid)
}

func TestSubmitRequiresParticipation(t *testing.T) {
	svc, db := newService(t)
	post := makeChallenge(t, db, actor(), challengeOpts{})

	_, err := svc.Submit(post.ID, actor(), dto.ChallengeSubmitRequest{Content: "done"})
	var invalid *cards.ValidationError
	require.ErrorAs(t, err, &invalid)
}

func TestSubmitApprovalFlag(t *testing.T) {
	svc, db := newService(t)
	owner := actor()
	post := makeChallenge(t, db, owner, challengeOpts{requireApproval: true})
	participant := actor()
	_, err := svc.Join(post.ID, participant)
	require.NoError(t, err)

	sub, err := svc.Submit(post.ID, participant, dto.ChallengeSubmitRequest{Content: "day one"})
	require.NoError(t, err)
	require.Equal(t, models.SubmissionStatusPending, sub.Status)
	require.Equal(t, 0, challengeData(t, db, post.ID).SubmissionCount)

	approved, err := svc.ModerateSubmission(sub.ID, owner, models.SubmissionStatusApproved)
	require.NoError(t, err)
	require.Equal(t, models.SubmissionStatusApproved, approved.Status)
	require.Equal(t, 1, challengeData(t, db, post.ID).SubmissionCount)
}

func TestSubmitTypeInference(t *testing.T) {
	svc, db := newService(t)
	post := makeChallenge(t, db, actor(), challengeOpts{})
	participant := actor()
	_, err := svc.Join(post.ID, participant)
	require.NoError(t, err)

	sub, err := svc.Submit(post.ID, participant, dto.ChallengeSubmitRequest{
		Content:   "clip",
		VideoURL:  "https://cdn.example.com/v.mp4",
		MediaURLs: []string{"https://cdn.example.com/a.jpg"},
	})
	require.NoError(t, err)
	require.Equal(t, models.ChallengeSubmissionVideo, sub.SubmissionType)
}

func TestTaggedPostCreatesParticipationAndSubmission(t *testing.T) {
	svc, db := newService(t)
	owner := actor()
	challenge := makeChallenge(t, db, owner, challengeOpts{requireApproval: true})
	tagger := actor()
	source := makeMediaPost(t, db, tagger, cards.MediaData{
		MediaURLs: []string{"https://cdn.example.com/a.jpg"},
	})

	require.NoError(t, svc.PropagateTag(source, challenge.ID))

	var participations []models.ChallengeParticipation
	require.NoError(t, db.Where("post_id = ?", challenge.ID).Find(&participations).Error)
	require.Len(t, participations, 1)
	require.Equal(t, tagger.ID, participations[0].ParticipantID)

	var submissions []models.ChallengeSubmission
	require.NoError(t, db.Where("post_id = ?", challenge.ID).Find(&submissions).Error)
	require.Len(t, submissions, 1)
	// Tag-originated submissions bypass require_approval.
	require.Equal(t, models.SubmissionStatusApproved, submissions[0].Status)
	require.Equal(t, models.ChallengeSubmissionImage, submissions[0].SubmissionType)
	require.Equal(t, "my entry", submissions[0].Content)

	var link models.ChallengeSubmissionSource
	require.NoError(t, db.Where("submission_id = ?", submissions[0].ID).First(&link).Error)
	require.NotNil(t, link.SourcePostID)
	require.Equal(t, source.ID, *link.SourcePostID)
	require.True(t, link.IsFromTaggedPost)

	var reloaded models.Post
	require.NoError(t, db.First(&reloaded, "id = ?", source.ID).Error)
	require.NotNil(t, reloaded.LinkedChallengeID)
	require.Equal(t, challenge.ID, *reloaded.LinkedChallengeID)

	data := challengeData(t, db, challenge.ID)
	require.Equal(t, 1, data.ParticipantCount)
	require.Equal(t, 1, data.SubmissionCount)
}

func TestRetagReusesParticipation(t *testing.T) {
	svc, db := newService(t)
	challenge := makeChallenge(t, db, actor(), challengeOpts{})
	tagger := actor()

	first := makeMediaPost(t, db, tagger, cards.MediaData{MediaURLs: []string{"https://cdn.example.com/1.jpg"}})
	second := makeMediaPost(t, db, tagger, cards.MediaData{MediaURLs: []string{"https://cdn.example.com/2.jpg"}})

	require.NoError(t, svc.PropagateTag(first, challenge.ID))
	require.NoError(t, svc.PropagateTag(second, challenge.ID))

	var count int64
	require.NoError(t, db.Model(&models.ChallengeParticipation{}).
		Where("post_id = ?", challenge.ID).Count(&count).Error)
	require.EqualValues(t, 1, count)

	data := challengeData(t, db, challenge.ID)
	require.Equal(t, 1, data.ParticipantCount)
	require.Equal(t, 2, data.SubmissionCount)
}

func TestTagMissingChallengeSkipsSilently(t *testing.T) {
	svc, db := newService(t)
	tagger := actor()
	source := makeMediaPost(t, db, tagger, cards.MediaData{})

	require.NoError(t, svc.PropagateTag(source, uuid.New()))

	var count int64
	require.NoError(t, db.Model(&models.ChallengeSubmission{}).Count(&count).Error)
	require.EqualValues(t, 0, count)
}

func TestTagEndedChallengeSkipsSilently(t *testing.T) {
	svc, db := newService(t)
	past := time.Now().Add(-time.Hour)
	challenge := makeChallenge(t, db, actor(), challengeOpts{expiresAt: &past})
	source := makeMediaPost(t, db, actor(), cards.MediaData{})

	require.NoError(t, svc.PropagateTag(source, challenge.ID))

	var count int64
	require.NoError(t, db.Model(&models.ChallengeParticipation{}).Count(&count).Error)
	require.EqualValues(t, 0, count)
}

func TestValidateTagsRejectsMultipleChallenges(t *testing.T) {
	svc, _ := newService(t)

	id, err := svc.ValidateTags([]dto.TaggedEntity{
		{Type: "user", ID: uuid.New()},
		{Type: models.PostTypeChallenge, ID: uuid.New()},
	})
	require.NoError(t, err)
	require.NotNil(t, id)

	_, err = svc.ValidateTags([]dto.TaggedEntity{
		{Type: models.PostTypeChallenge, ID: uuid.New()},
		{Type: models.PostTypeChallenge, ID: uuid.New()},
	})
	var invalid *cards.ValidationError
	require.ErrorAs(t, err, &invalid)
}

func TestProgressRecompute(t *testing.T) {
	svc, db := newService(t)
	challenge := makeChallenge(t, db, actor(), challengeOpts{
		challengeType: cards.ChallengeTypeProgress,
		targetCount:   2,
	})
	participant := actor()
	_, err := svc.Join(challenge.ID, participant)
	require.NoError(t, err)

	_, err = svc.Submit(challenge.ID, participant, dto.ChallengeSubmitRequest{Content: "half"})
	require.NoError(t, err)

	p, err := svc.GetParticipation(challenge.ID, participant)
	require.NoError(t, err)
	require.Equal(t, 50, p.Progress)
	require.Equal(t, models.ParticipationInProgress, p.Status)

	_, err = svc.Submit(challenge.ID, participant, dto.ChallengeSubmitRequest{Content: "done"})
	require.NoError(t, err)

	p, err = svc.GetParticipation(challenge.ID, participant)
	require.NoError(t, err)
	require.Equal(t, 100, p.Progress)
	require.Equal(t, models.ParticipationCompleted, p.Status)
}

func TestProgressCapsAtHundred(t *testing.T) {
	svc, db := newService(t)
	challenge := makeChallenge(t, db, actor(), challengeOpts{
		challengeType: cards.ChallengeTypeProgress,
		targetCount:   1,
	})
	participant := actor()
	_, err := svc.Join(challenge.ID, participant)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err = svc.Submit(challenge.ID, participant, dto.ChallengeSubmitRequest{Content: "again"})
		require.NoError(t, err)
	}

	p, err := svc.GetParticipation(challenge.ID, participant)
	require.NoError(t, err)
	require.Equal(t, 100, p.Progress)
}

func TestSourceDeletedWhileChallengeActive(t *testing.T) {
	svc, db := newService(t)
	challenge := makeChallenge(t, db, actor(), challengeOpts{
		challengeType: cards.ChallengeTypeProgress,
		targetCount:   1,
	})
	tagger := actor()
	source := makeMediaPost(t, db, tagger, cards.MediaData{MediaURLs: []string{"https://cdn.example.com/a.jpg"}})
	require.NoError(t, svc.PropagateTag(source, challenge.ID))

	require.NoError(t, svc.HandleSourceDeleted(source.ID))

	var count int64
	require.NoError(t, db.Model(&models.ChallengeSubmission{}).
		Where("post_id = ?", challenge.ID).Count(&count).Error)
	require.EqualValues(t, 0, count)

	data := challengeData(t, db, challenge.ID)
	require.Equal(t, 0, data.SubmissionCount)

	p, err := svc.GetParticipation(challenge.ID, tagger)
	require.NoError(t, err)
	require.Equal(t, 0, p.Progress)
	require.Equal(t, models.ParticipationJoined, p.Status)
}

func TestSourceDeletedAfterChallengeEnded(t *testing.T) {
	svc, db := newService(t)
	future := time.Now().Add(time.Hour)
	challenge := makeChallenge(t, db, actor(), challengeOpts{expiresAt: &future})
	tagger := actor()
	source := makeMediaPost(t, db, tagger, cards.MediaData{MediaURLs: []string{"https://cdn.example.com/a.jpg"}})
	require.NoError(t, svc.PropagateTag(source, challenge.ID))

	past := time.Now().Add(-time.Minute)
	require.NoError(t, db.Model(&models.Post{}).Where("id = ?", challenge.ID).
		Update("expires_at", past).Error)

	require.NoError(t, svc.HandleSourceDeleted(source.ID))

	var submissions []models.ChallengeSubmission
	require.NoError(t, db.Where("post_id = ?", challenge.ID).Find(&submissions).Error)
	require.Len(t, submissions, 1)

	var link models.ChallengeSubmissionSource
	require.NoError(t, db.Where("submission_id = ?", submissions[0].ID).First(&link).Error)
	require.Nil(t, link.SourcePostID)
}

func TestDeleteOwnSubmission(t *testing.T) {
	svc, db := newService(t)
	challenge := makeChallenge(t, db, actor(), challengeOpts{})
	participant := actor()
	_, err := svc.Join(challenge.ID, participant)
	require.NoError(t, err)

	sub, err := svc.Submit(challenge.ID, participant, dto.ChallengeSubmitRequest{Content: "mine"})
	require.NoError(t, err)

	require.ErrorIs(t, svc.DeleteSubmission(sub.ID, actor()), cards.ErrNotAuthor)

	require.NoError(t, svc.DeleteSubmission(sub.ID, participant))
	require.Equal(t, 0, challengeData(t, db, challenge.ID).SubmissionCount)
}

func TestListSubmissionsVisibility(t *testing.T) {
	svc, db := newService(t)
	owner := actor()
	challenge := makeChallenge(t, db, owner, challengeOpts{requireApproval: true})
	participant := actor()
	_, err := svc.Join(challenge.ID, participant)
	require.NoError(t, err)

	_, err = svc.Submit(challenge.ID, participant, dto.ChallengeSubmitRequest{Content: "pending one"})
	require.NoError(t, err)

	forOwner, total, err := svc.ListSubmissions(challenge.ID, owner, 20, 0)
	require.NoError(t, err)
	require.EqualValues(t, 1, total)
	require.Len(t, forOwner, 1)

	forOther, total, err := svc.ListSubmissions(challenge.ID, actor(), 20, 0)
	require.NoError(t, err)
	require.EqualValues(t, 0, total)
	require.Empty(t, forOther)
}
