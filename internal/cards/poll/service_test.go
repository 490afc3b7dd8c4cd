package poll

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/tapestryhq/tapestry-backend/internal/cards"
	"github.com/tapestryhq/tapestry-backend/internal/config"
	"github.com/tapestryhq/tapestry-backend/internal/identity"
	"github.com/tapestryhq/tapestry-backend/internal/models"
	"github.com/tapestryhq/tapestry-backend/internal/notify"
	"github.com/tapestryhq/tapestry-backend/internal/testutil"
	"gorm.io/gorm"
)

func newService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	db := testutil.NewTestDB(t, &models.Post{}, &models.PollVote{}, &models.DeviceToken{})
	dispatcher := notify.NewDispatcher(db, &config.Config{PushTimeout: time.Second})
	return NewService(db, dispatcher), db
}

func makePoll(t *testing.T, db *gorm.DB, data cards.PollData, expiresAt *time.Time) *models.Post {
	t.Helper()
	encoded, err := cards.Encode(&data)
	require.NoError(t, err)

	post := &models.Post{
		PostType:   models.PostTypePoll,
		AuthorID:   uuid.New(),
		AuthorType: identity.TypeUser,
		Status:     models.PostStatusActive,
		ExpiresAt:  expiresAt,
		TypeData:   encoded,
	}
	require.NoError(t, db.Create(post).Error)
	return post
}

func twoOptionPoll(t *testing.T, db *gorm.DB) *models.Post {
	return makePoll(t, db, cards.PollData{
		Question: "A or B?",
		Options:  []cards.PollOption{{Text: "A"}, {Text: "B"}},
	}, nil)
}

func actor() identity.Actor {
	return identity.Actor{ID: uuid.New(), Type: identity.TypeUser}
}

func counts(t *testing.T, tallies *Tallies) []int {
	t.Helper()
	out := make([]int, len(tallies.Options))
	for i, o := range tallies.Options {
		out[i] = o.VoteCount
	}
	return out
}

func TestVoteChangeAndRemoveScenario(t *testing.T) {
	svc, db := newService(t)
	post := twoOptionPoll(t, db)
	x, y := actor(), actor()

	// X votes A
	tallies, err := svc.Vote(post.ID, x, []int{0})
	require.NoError(t, err)
	require.Equal(t, []int{1, 0}, counts(t, tallies))
	require.Equal(t, 1, tallies.TotalVotes)

	// X changes to B: total_votes must not move
	tallies, err = svc.Vote(post.ID, x, []int{1})
	require.NoError(t, err)
	require.Equal(t, []int{0, 1}, counts(t, tallies))
	require.Equal(t, 1, tallies.TotalVotes)
	require.Equal(t, "Vote changed", tallies.Message)

	// Y votes B
	tallies, err = svc.Vote(post.ID, y, []int{1})
	require.NoError(t, err)
	require.Equal(t, []int{0, 2}, counts(t, tallies))
	require.Equal(t, 2, tallies.TotalVotes)

	// X removes
	tallies, err = svc.RemoveVote(post.ID, x)
	require.NoError(t, err)
	require.Equal(t, []int{0, 1}, counts(t, tallies))
	require.Equal(t, 1, tallies.TotalVotes)
}

func TestVoteNoOp(t *testing.T) {
	svc, db := newService(t)
	post := twoOptionPoll(t, db)
	x := actor()

	_, err := svc.Vote(post.ID, x, []int{0})
	require.NoError(t, err)

	tallies, err := svc.Vote(post.ID, x, []int{0})
	require.NoError(t, err)
	require.False(t, tallies.Changed)
	require.Equal(t, "Vote unchanged", tallies.Message)
	require.Equal(t, []int{1, 0}, counts(t, tallies))
	require.Equal(t, 1, tallies.TotalVotes)

	var voteRows int64
	require.NoError(t, db.Model(&models.PollVote{}).Count(&voteRows).Error)
	require.EqualValues(t, 1, voteRows)
}

func TestVoteSumInvariantSingleSelect(t *testing.T) {
	svc, db := newService(t)
	post := twoOptionPoll(t, db)

	voters := []identity.Actor{actor(), actor(), actor()}
	_, err := svc.Vote(post.ID, voters[0], []int{0})
	require.NoError(t, err)
	_, err = svc.Vote(post.ID, voters[1], []int{1})
	require.NoError(t, err)
	_, err = svc.Vote(post.ID, voters[2], []int{1})
	require.NoError(t, err)
	_, err = svc.Vote(post.ID, voters[0], []int{1})
	require.NoError(t, err)
	tallies, err := svc.RemoveVote(post.ID, voters[1])
	require.NoError(t, err)

	sum := 0
	for _, c := range counts(t, tallies) {
		sum += c
	}
	require.Equal(t, tallies.TotalVotes, sum)
}

func TestVoteConcurrentFirstVotes(t *testing.T) {
	svc, db := newService(t)
	post := twoOptionPoll(t, db)

	const voters = 16
	var wg sync.WaitGroup
	errs := make(chan error, voters)
	for i := 0; i < voters; i++ {
		option := i % 2
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Vote(post.ID, actor(), []int{option})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	var saved models.Post
	require.NoError(t, db.First(&saved, "id = ?", post.ID).Error)
	data, err := cards.DecodePoll(&saved)
	require.NoError(t, err)
	require.Equal(t, voters, data.TotalVotes)

	sum := 0
	for _, o := range data.Options {
		sum += o.VoteCount
	}
	require.Equal(t, voters, sum)

	var voteRows int64
	require.NoError(t, db.Model(&models.PollVote{}).Count(&voteRows).Error)
	require.EqualValues(t, voters, voteRows)
}

func TestVoteAuthorNotification(t *testing.T) {
	db := testutil.NewTestDB(t, &models.Post{}, &models.PollVote{}, &models.DeviceToken{})

	pushes := make(chan struct{}, 4)
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pushes <- struct{}{}
		w.WriteHeader(http.StatusOK)
	}))
	defer gateway.Close()

	dispatcher := notify.NewDispatcher(db, &config.Config{
		PushGatewayURL: gateway.URL,
		PushTimeout:    time.Second,
	})
	svc := NewService(db, dispatcher)

	post := twoOptionPoll(t, db)
	require.NoError(t, db.Create(&models.DeviceToken{
		UserID:   post.AuthorID,
		UserType: post.AuthorType,
		Token:    "author-device",
	}).Error)

	// Authors voting on their own poll are not notified.
	author := identity.Actor{ID: post.AuthorID, Type: post.AuthorType}
	_, err := svc.Vote(post.ID, author, []int{0})
	require.NoError(t, err)
	select {
	case <-pushes:
		t.Fatal("author self-vote must not trigger a push")
	case <-time.After(200 * time.Millisecond):
	}

	// A first vote from someone else does notify the author.
	_, err = svc.Vote(post.ID, actor(), []int{1})
	require.NoError(t, err)
	select {
	case <-pushes:
	case <-time.After(2 * time.Second):
		t.Fatal("expected a push for another user's first vote")
	}
}

func TestVoteMultiSelect(t *testing.T) {
	svc, db := newService(t)
	post := makePoll(t, db, cards.PollData{
		Question:      "pick any",
		Options:       []cards.PollOption{{Text: "A"}, {Text: "B"}, {Text: "C"}},
		AllowMultiple: true,
	}, nil)
	x := actor()

	tallies, err := svc.Vote(post.ID, x, []int{0, 2})
	require.NoError(t, err)
	require.Equal(t, []int{1, 0, 1}, counts(t, tallies))
	require.Equal(t, 1, tallies.TotalVotes)

	// Change selection: partial overlap, total unchanged
	tallies, err = svc.Vote(post.ID, x, []int{1, 2})
	require.NoError(t, err)
	require.Equal(t, []int{0, 1, 1}, counts(t, tallies))
	require.Equal(t, 1, tallies.TotalVotes)
}

func TestVoteRejections(t *testing.T) {
	svc, db := newService(t)
	post := twoOptionPoll(t, db)
	x := actor()

	_, err := svc.Vote(post.ID, x, []int{0, 1})
	require.Error(t, err)
	require.IsType(t, &cards.ValidationError{}, err)

	_, err = svc.Vote(post.ID, x, []int{5})
	require.Error(t, err)

	_, err = svc.Vote(post.ID, x, nil)
	require.Error(t, err)

	_, err = svc.Vote(uuid.New(), x, []int{0})
	require.ErrorIs(t, err, cards.ErrNotFound)

	past := time.Now().Add(-time.Hour)
	ended := makePoll(t, db, cards.PollData{
		Question: "too late",
		Options:  []cards.PollOption{{Text: "A"}, {Text: "B"}},
	}, &past)
	_, err = svc.Vote(ended.ID, x, []int{0})
	require.Error(t, err)
}

func TestRemoveVoteWithoutVote(t *testing.T) {
	svc, db := newService(t)
	post := twoOptionPoll(t, db)
	_, err := svc.RemoveVote(post.ID, actor())
	require.Error(t, err)
}

func TestResultsVisibility(t *testing.T) {
	svc, db := newService(t)
	post := twoOptionPoll(t, db)
	x, stranger := actor(), actor()

	_, err := svc.Vote(post.ID, x, []int{0})
	require.NoError(t, err)

	// Anonymous viewer: hidden
	res, err := svc.GetResults(post.ID, nil)
	require.NoError(t, err)
	require.False(t, res.Revealed)
	require.Nil(t, res.TotalVotes)
	require.Nil(t, res.Options[0].VoteCount)
	require.Equal(t, "A", res.Options[0].Text)

	// Non-voter: hidden
	res, err = svc.GetResults(post.ID, &stranger)
	require.NoError(t, err)
	require.False(t, res.Revealed)

	// Voter: revealed
	res, err = svc.GetResults(post.ID, &x)
	require.NoError(t, err)
	require.True(t, res.Revealed)
	require.NotNil(t, res.TotalVotes)
	require.Equal(t, 1, *res.Options[0].VoteCount)
	require.Equal(t, 100.0, *res.Options[0].Percentage)
}

func TestResultsRevealedWhenConfigured(t *testing.T) {
	svc, db := newService(t)
	post := makePoll(t, db, cards.PollData{
		Question:              "open book",
		Options:               []cards.PollOption{{Text: "A"}, {Text: "B"}},
		ShowResultsBeforeVote: true,
	}, nil)

	res, err := svc.GetResults(post.ID, nil)
	require.NoError(t, err)
	require.True(t, res.Revealed)
}

func TestResultsRevealedAfterEnd(t *testing.T) {
	svc, db := newService(t)
	past := time.Now().Add(-time.Minute)
	post := makePoll(t, db, cards.PollData{
		Question: "done",
		Options:  []cards.PollOption{{Text: "A"}, {Text: "B"}},
	}, &past)

	res, err := svc.GetResults(post.ID, nil)
	require.NoError(t, err)
	require.True(t, res.Revealed)
	require.Equal(t, cards.StateEnded, res.State)
}

func TestVoteStatus(t *testing.T) {
	svc, db := newService(t)
	post := twoOptionPoll(t, db)
	x := actor()

	status, err := svc.GetVoteStatus(post.ID, x)
	require.NoError(t, err)
	require.False(t, status.HasVoted)

	_, err = svc.Vote(post.ID, x, []int{1})
	require.NoError(t, err)

	status, err = svc.GetVoteStatus(post.ID, x)
	require.NoError(t, err)
	require.True(t, status.HasVoted)
	require.Equal(t, []int{1}, status.OptionIndexes)
}
