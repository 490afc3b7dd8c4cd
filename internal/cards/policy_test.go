package cards

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tapestryhq/tapestry-backend/internal/models"
)

func pollPost(expiresIn time.Duration, extensions int, now time.Time) *models.Post {
	exp := now.Add(expiresIn)
	return &models.Post{
		PostType:       models.PostTypePoll,
		ExpiresAt:      &exp,
		ExtensionCount: extensions,
	}
}

func TestCanExtendUnsupportedType(t *testing.T) {
	now := time.Now()
	for _, pt := range []string{models.PostTypePrompt, models.PostTypeQnA, models.PostTypeMedia} {
		exp := now.Add(time.Hour)
		d := CanExtend(&models.Post{PostType: pt, ExpiresAt: &exp}, now)
		require.False(t, d.Allowed, pt)
		require.Equal(t, "this card type does not support extensions", d.Reason)
	}
}

func TestCanExtendAfterDeadline(t *testing.T) {
	now := time.Now()
	d := CanExtend(pollPost(-time.Minute, 0, now), now)
	require.False(t, d.Allowed)
	require.Equal(t, "cannot extend after the end time has passed", d.Reason)
}

func TestCanExtendNoDeadline(t *testing.T) {
	now := time.Now()
	d := CanExtend(&models.Post{PostType: models.PostTypeOpportunity}, now)
	require.False(t, d.Allowed)
	require.Equal(t, "no deadline to extend", d.Reason)
}

func TestCanExtendBudget(t *testing.T) {
	now := time.Now()

	d := CanExtend(pollPost(time.Hour, 1, now), now)
	require.False(t, d.Allowed)
	require.Equal(t, "Maximum 1 extension(s) already used", d.Reason)

	exp := now.Add(24 * time.Hour)
	ch := &models.Post{PostType: models.PostTypeChallenge, ExpiresAt: &exp, ExtensionCount: 2}
	d = CanExtend(ch, now)
	require.False(t, d.Allowed)
	require.Equal(t, "Maximum 2 extension(s) already used", d.Reason)

	// Opportunities are effectively unlimited.
	op := &models.Post{PostType: models.PostTypeOpportunity, ExpiresAt: &exp, ExtensionCount: 50}
	require.True(t, CanExtend(op, now).Allowed)
}

func TestCanExtendChallengeLockout(t *testing.T) {
	now := time.Now()

	exp := now.Add(90 * time.Minute)
	ch := &models.Post{PostType: models.PostTypeChallenge, ExpiresAt: &exp}
	d := CanExtend(ch, now)
	require.False(t, d.Allowed)
	require.Equal(t, "challenges cannot be extended within 2 hours of the deadline", d.Reason)

	// Lockout applies even with remaining budget; outside the window it lifts.
	exp = now.Add(3 * time.Hour)
	ch = &models.Post{PostType: models.PostTypeChallenge, ExpiresAt: &exp, ExtensionCount: 1}
	require.True(t, CanExtend(ch, now).Allowed)

	// Polls have no lockout.
	require.True(t, CanExtend(pollPost(30*time.Minute, 0, now), now).Allowed)
}
