package cards

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tapestryhq/tapestry-backend/internal/models"
)

func TestStateOfPromptFeaturedWindow(t *testing.T) {
	now := time.Now()

	created := now.Add(-71 * time.Hour)
	require.Equal(t, StateFeatured, StateOf(models.PostTypePrompt, created, nil, nil, now))

	created = now.Add(-73 * time.Hour)
	require.Equal(t, StateEvergreen, StateOf(models.PostTypePrompt, created, nil, nil, now))
}

func TestStateOfPromptIgnoresDeadline(t *testing.T) {
	// Prompts never expire, even when a deadline was set on the row.
	now := time.Now()
	past := now.Add(-time.Hour)
	require.Equal(t, StateFeatured, StateOf(models.PostTypePrompt, now.Add(-time.Hour), &past, nil, now))
}

func TestStateOfQnA(t *testing.T) {
	now := time.Now()
	require.Equal(t, StateOpen, StateOf(models.PostTypeQnA, now.Add(-500*time.Hour), nil, nil, now))
}

func TestStateOfOpportunityClosed(t *testing.T) {
	now := time.Now()
	closed := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	// Manual closure wins even with a live deadline.
	require.Equal(t, StateClosed, StateOf(models.PostTypeOpportunity, now.Add(-time.Hour), &future, &closed, now))
}

func TestStateOfDeadline(t *testing.T) {
	now := time.Now()

	past := now.Add(-time.Minute)
	require.Equal(t, StateEnded, StateOf(models.PostTypePoll, now.Add(-time.Hour), &past, nil, now))

	// Boundary: now == expires_at counts as ended.
	require.Equal(t, StateEnded, StateOf(models.PostTypePoll, now.Add(-time.Hour), &now, nil, now))

	future := now.Add(time.Minute)
	require.Equal(t, StateActive, StateOf(models.PostTypeChallenge, now.Add(-time.Hour), &future, nil, now))
}

func TestStateOfOpenEnded(t *testing.T) {
	now := time.Now()
	require.Equal(t, StateOpenEnded, StateOf(models.PostTypeOpportunity, now.Add(-time.Hour), nil, nil, now))
	require.Equal(t, StateOpenEnded, StateOf(models.PostTypeMedia, now.Add(-time.Hour), nil, nil, now))
}

func TestPostState(t *testing.T) {
	now := time.Now()
	future := now.Add(time.Hour)
	p := &models.Post{PostType: models.PostTypePoll, CreatedAt: now.Add(-time.Hour), ExpiresAt: &future}
	require.Equal(t, StateActive, PostState(p, now))
}
