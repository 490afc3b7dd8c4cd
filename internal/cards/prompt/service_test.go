package prompt

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/tapestryhq/tapestry-backend/internal/cards"
	"github.com/tapestryhq/tapestry-backend/internal/config"
	"github.com/tapestryhq/tapestry-backend/internal/identity"
	"github.com/tapestryhq/tapestry-backend/internal/models"
	"github.com/tapestryhq/tapestry-backend/internal/moderation"
	"github.com/tapestryhq/tapestry-backend/internal/notify"
	"github.com/tapestryhq/tapestry-backend/internal/testutil"
	"gorm.io/gorm"
)

func newService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	db := testutil.NewTestDB(t, &models.Post{}, &models.PromptSubmission{}, &models.DeviceToken{})
	dispatcher := notify.NewDispatcher(db, &config.Config{PushTimeout: time.Second})
	return NewService(db, dispatcher, moderation.NewFilter()), db
}

func makePrompt(t *testing.T, db *gorm.DB, author identity.Actor, requireApproval bool) *models.Post {
	t.Helper()
	encoded, err := cards.Encode(&cards.PromptData{
		PromptText:            "Describe your morning",
		MaxLength:             200,
		RequireApproval:       requireApproval,
		FeaturedSubmissionIDs: []uuid.UUID{},
	})
	require.NoError(t, err)

	post := &models.Post{
		PostType:   models.PostTypePrompt,
		AuthorID:   author.ID,
		AuthorType: author.Type,
		Status:     models.PostStatusActive,
		TypeData:   encoded,
	}
	require.NoError(t, db.Create(post).Error)
	return post
}

func actor() identity.Actor {
	return identity.Actor{ID: uuid.New(), Type: identity.TypeUser}
}

func promptData(t *testing.T, db *gorm.DB, postID uuid.UUID) *cards.PromptData {
	t.Helper()
	var post models.Post
	require.NoError(t, db.First(&post, "id = ?", postID).Error)
	data, err := cards.DecodePrompt(&post)
	require.NoError(t, err)
	return data
}

func TestSubmitAutoApproval(t *testing.T) {
	svc, db := newService(t)
	owner := actor()
	post := makePrompt(t, db, owner, false)

	sub, err := svc.Submit(post.ID, actor(), "coffee first", nil)
	require.NoError(t, err)
	require.Equal(t, models.SubmissionStatusApproved, sub.Status)
	require.Equal(t, 1, promptData(t, db, post.ID).SubmissionCount)
}

func TestSubmitPendingWhenApprovalRequired(t *testing.T) {
	svc, db := newService(t)
	owner := actor()
	post := makePrompt(t, db, owner, true)

	sub, err := svc.Submit(post.ID, actor(), "long walk", nil)
	require.NoError(t, err)
	require.Equal(t, models.SubmissionStatusPending, sub.Status)
}

func TestSubmitOwnPromptBypassesApproval(t *testing.T) {
	svc, db := newService(t)
	owner := actor()
	post := makePrompt(t, db, owner, true)

	sub, err := svc.Submit(post.ID, owner, "my own take", nil)
	require.NoError(t, err)
	require.Equal(t, models.SubmissionStatusApproved, sub.Status)
}

func TestSubmitOncePerAuthor(t *testing.T) {
	svc, db := newService(t)
	post := makePrompt(t, db, actor(), false)
	author := actor()

	_, err := svc.Submit(post.ID, author, "first", nil)
	require.NoError(t, err)

	_, err = svc.Submit(post.ID, author, "second", nil)
	require.Error(t, err)
	require.IsType(t, &cards.ConflictError{}, err)
	require.Equal(t, 1, promptData(t, db, post.ID).SubmissionCount)
}

func TestSubmitValidation(t *testing.T) {
	svc, db := newService(t)
	post := makePrompt(t, db, actor(), false)

	_, err := svc.Submit(post.ID, actor(), "", nil)
	require.Error(t, err)

	long := make([]byte, 300)
	for i := range long {
		long[i] = 'x'
	}
	_, err = svc.Submit(post.ID, actor(), string(long), nil)
	require.Error(t, err)

	_, err = svc.Submit(post.ID, actor(), "visit https://spam.example now", nil)
	require.Error(t, err)

	_, err = svc.Submit(uuid.New(), actor(), "hello", nil)
	require.ErrorIs(t, err, cards.ErrNotFound)
}

func TestSubmitExpiredPrompt(t *testing.T) {
	svc, db := newService(t)
	post := makePrompt(t, db, actor(), false)
	past := time.Now().Add(-time.Hour)
	require.NoError(t, db.Model(post).Update("expires_at", past).Error)

	_, err := svc.Submit(post.ID, actor(), "too late", nil)
	require.Error(t, err)
}

func TestModerateTransitions(t *testing.T) {
	svc, db := newService(t)
	owner := actor()
	post := makePrompt(t, db, owner, true)

	sub, err := svc.Submit(post.ID, actor(), "please feature me", nil)
	require.NoError(t, err)

	// Only the prompt author may moderate
	_, err = svc.Moderate(sub.ID, actor(), models.SubmissionStatusApproved)
	require.ErrorIs(t, err, cards.ErrNotAuthor)

	moderated, err := svc.Moderate(sub.ID, owner, models.SubmissionStatusApproved)
	require.NoError(t, err)
	require.Equal(t, models.SubmissionStatusApproved, moderated.Status)
	require.NotNil(t, moderated.ModeratedAt)
	require.Equal(t, owner.ID, *moderated.ModeratedBy)

	_, err = svc.Moderate(sub.ID, owner, "bogus")
	require.Error(t, err)
}

func TestFeaturingIsIdempotent(t *testing.T) {
	svc, db := newService(t)
	owner := actor()
	post := makePrompt(t, db, owner, false)

	sub, err := svc.Submit(post.ID, actor(), "shiny", nil)
	require.NoError(t, err)

	_, err = svc.Moderate(sub.ID, owner, models.SubmissionStatusFeatured)
	require.NoError(t, err)
	_, err = svc.Moderate(sub.ID, owner, models.SubmissionStatusFeatured)
	require.NoError(t, err)

	data := promptData(t, db, post.ID)
	require.Equal(t, []uuid.UUID{sub.ID}, data.FeaturedSubmissionIDs)
}

func TestMySubmissionAndListVisibility(t *testing.T) {
	svc, db := newService(t)
	owner := actor()
	post := makePrompt(t, db, owner, true)
	author := actor()

	_, err := svc.MySubmission(post.ID, author)
	require.ErrorIs(t, err, cards.ErrNotFound)

	sub, err := svc.Submit(post.ID, author, "pending entry", nil)
	require.NoError(t, err)

	mine, err := svc.MySubmission(post.ID, author)
	require.NoError(t, err)
	require.Equal(t, sub.ID, mine.ID)

	// Pending submissions are hidden from strangers but visible to the owner.
	visible, total, err := svc.ListSubmissions(post.ID, actor(), 20, 0)
	require.NoError(t, err)
	require.Empty(t, visible)
	require.EqualValues(t, 0, total)

	all, total, err := svc.ListSubmissions(post.ID, owner, 20, 0)
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.EqualValues(t, 1, total)
}
