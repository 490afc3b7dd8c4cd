package poll

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tapestryhq/tapestry-backend/internal/cards"
	"github.com/tapestryhq/tapestry-backend/internal/identity"
	"github.com/tapestryhq/tapestry-backend/internal/models"
	"github.com/tapestryhq/tapestry-backend/internal/notify"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const maxOptions = 10

// Service records and tallies poll votes with change-my-vote semantics.
type Service struct {
	db         *gorm.DB
	dispatcher *notify.Dispatcher
}

func NewService(db *gorm.DB, dispatcher *notify.Dispatcher) *Service {
	return &Service{db: db, dispatcher: dispatcher}
}

type createData struct {
	Question              string   `json:"question"`
	Options               []string `json:"options"`
	AllowMultiple         bool     `json:"allow_multiple"`
	ShowResultsBeforeVote bool     `json:"show_results_before_vote"`
}

// NewTypeData validates a poll creation payload and returns the initial
// type_data document with zeroed tallies.
func (s *Service) NewTypeData(raw json.RawMessage) (datatypes.JSON, error) {
	var in createData
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, cards.Invalid("invalid poll payload")
	}
	if strings.TrimSpace(in.Question) == "" {
		return nil, cards.Invalid("question is required")
	}
	if len(in.Options) < 2 {
		return nil, cards.Invalid("a poll needs at least 2 options")
	}
	if len(in.Options) > maxOptions {
		return nil, cards.Invalid(fmt.Sprintf("a poll allows at most %d options", maxOptions))
	}

	data := cards.PollData{
		Question:              strings.TrimSpace(in.Question),
		Options:               make([]cards.PollOption, 0, len(in.Options)),
		AllowMultiple:         in.AllowMultiple,
		ShowResultsBeforeVote: in.ShowResultsBeforeVote,
	}
	for _, opt := range in.Options {
		if strings.TrimSpace(opt) == "" {
			return nil, cards.Invalid("poll options cannot be empty")
		}
		data.Options = append(data.Options, cards.PollOption{Text: strings.TrimSpace(opt)})
	}

	return cards.Encode(&data)
}

// Tallies is the write-path response: full counts, since the voter has by
// definition voted.
type Tallies struct {
	Options    []cards.PollOption `json:"options"`
	TotalVotes int                `json:"total_votes"`
	Changed    bool               `json:"changed"`
	Message    string             `json:"message"`
}

func (s *Service) loadPoll(postID uuid.UUID) (*models.Post, *cards.PollData, error) {
	var post models.Post
	err := s.db.Where("id = ? AND post_type = ? AND status = ?",
		postID, models.PostTypePoll, models.PostStatusActive).First(&post).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, cards.ErrNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	data, err := cards.DecodePoll(&post)
	if err != nil {
		return nil, nil, err
	}
	return &post, data, nil
}

// lockPoll reloads the poll row under a row lock inside a transaction.
// Counter mutations must start from this copy of the document, never from
// a read taken before the transaction began.
func (s *Service) lockPoll(tx *gorm.DB, postID uuid.UUID) (*cards.PollData, error) {
	var post models.Post
	err := cards.LockForUpdate(tx).
		Where("id = ? AND post_type = ? AND status = ?",
			postID, models.PostTypePoll, models.PostStatusActive).
		First(&post).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, cards.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return cards.DecodePoll(&post)
}

func (s *Service) voterIndexes(tx *gorm.DB, postID uuid.UUID, voter identity.Actor) ([]int, error) {
	var votes []models.PollVote
	err := tx.Where("post_id = ? AND voter_id = ? AND voter_type = ?",
		postID, voter.ID, voter.Type).Find(&votes).Error
	if err != nil {
		return nil, err
	}
	idxs := make([]int, 0, len(votes))
	for _, v := range votes {
		idxs = append(idxs, v.OptionIndex)
	}
	sort.Ints(idxs)
	return idxs, nil
}

func sameSet(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func normalize(indexes []int) []int {
	seen := make(map[int]bool, len(indexes))
	out := make([]int, 0, len(indexes))
	for _, i := range indexes {
		if !seen[i] {
			seen[i] = true
			out = append(out, i)
		}
	}
	sort.Ints(out)
	return out
}

// Vote records or changes the voter's selection. A request identical to
// the current selection is a no-op: tallies stay untouched and no
// notification fires. Changing a vote never moves total_votes; only a
// first-time vote does.
func (s *Service) Vote(postID uuid.UUID, voter identity.Actor, indexes []int) (*Tallies, error) {
	post, data, err := s.loadPoll(postID)
	if err != nil {
		return nil, err
	}

	if cards.PostState(post, time.Now()) == cards.StateEnded {
		return nil, cards.Invalid("poll has ended")
	}

	requested := normalize(indexes)
	if len(requested) == 0 {
		return nil, cards.Invalid("option_index is required")
	}
	if !data.AllowMultiple && len(requested) > 1 {
		return nil, cards.Invalid("this poll does not allow multiple selections")
	}
	for _, idx := range requested {
		if idx < 0 || idx >= len(data.Options) {
			return nil, cards.Invalid(fmt.Sprintf("option index %d is out of range", idx))
		}
	}

	var (
		result    *Tallies
		firstVote bool
	)
	err = s.db.Transaction(func(tx *gorm.DB) error {
		data, err := s.lockPoll(tx, postID)
		if err != nil {
			return err
		}

		current, err := s.voterIndexes(tx, postID, voter)
		if err != nil {
			return err
		}

		if sameSet(current, requested) {
			result = &Tallies{
				Options:    data.Options,
				TotalVotes: data.TotalVotes,
				Changed:    false,
				Message:    "Vote unchanged",
			}
			return nil
		}

		firstVote = len(current) == 0
		if !firstVote {
			if err := tx.Where("post_id = ? AND voter_id = ? AND voter_type = ?",
				postID, voter.ID, voter.Type).Delete(&models.PollVote{}).Error; err != nil {
				return err
			}
		}

		for _, idx := range requested {
			vote := models.PollVote{
				PostID:      postID,
				VoterID:     voter.ID,
				VoterType:   voter.Type,
				OptionIndex: idx,
			}
			if err := tx.Create(&vote).Error; err != nil {
				return err
			}
		}

		inRequested := make(map[int]bool, len(requested))
		for _, idx := range requested {
			inRequested[idx] = true
		}
		inCurrent := make(map[int]bool, len(current))
		for _, idx := range current {
			inCurrent[idx] = true
		}

		for _, idx := range current {
			if !inRequested[idx] && data.Options[idx].VoteCount > 0 {
				data.Options[idx].VoteCount--
			}
		}
		for _, idx := range requested {
			if !inCurrent[idx] {
				data.Options[idx].VoteCount++
			}
		}
		if firstVote {
			data.TotalVotes++
		}

		encoded, err := cards.Encode(data)
		if err != nil {
			return err
		}
		if err := tx.Model(&models.Post{}).Where("id = ?", postID).
			Update("type_data", encoded).Error; err != nil {
			return err
		}

		msg := "Vote recorded"
		if !firstVote {
			msg = "Vote changed"
		}
		result = &Tallies{
			Options:    data.Options,
			TotalVotes: data.TotalVotes,
			Changed:    true,
			Message:    msg,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if firstVote && voter.ID != post.AuthorID {
		s.dispatcher.Send(post.AuthorID, post.AuthorType,
			"New vote on your poll",
			"Someone just voted on your poll",
			map[string]string{"post_id": postID.String()})
	}
	return result, nil
}

// RemoveVote deletes the voter's selection and decrements the affected
// tallies, floored at zero.
func (s *Service) RemoveVote(postID uuid.UUID, voter identity.Actor) (*Tallies, error) {
	if _, _, err := s.loadPoll(postID); err != nil {
		return nil, err
	}

	var result *Tallies
	err := s.db.Transaction(func(tx *gorm.DB) error {
		data, err := s.lockPoll(tx, postID)
		if err != nil {
			return err
		}

		current, err := s.voterIndexes(tx, postID, voter)
		if err != nil {
			return err
		}
		if len(current) == 0 {
			return cards.Invalid("no vote to remove")
		}

		if err := tx.Where("post_id = ? AND voter_id = ? AND voter_type = ?",
			postID, voter.ID, voter.Type).Delete(&models.PollVote{}).Error; err != nil {
			return err
		}

		for _, idx := range current {
			if idx >= 0 && idx < len(data.Options) && data.Options[idx].VoteCount > 0 {
				data.Options[idx].VoteCount--
			}
		}
		if data.TotalVotes > 0 {
			data.TotalVotes--
		}

		encoded, err := cards.Encode(data)
		if err != nil {
			return err
		}
		if err := tx.Model(&models.Post{}).Where("id = ?", postID).
			Update("type_data", encoded).Error; err != nil {
			return err
		}

		result = &Tallies{
			Options:    data.Options,
			TotalVotes: data.TotalVotes,
			Changed:    true,
			Message:    "Vote removed",
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// OptionView hides numeric fields until results are revealed.
type OptionView struct {
	Text       string   `json:"text"`
	VoteCount  *int     `json:"vote_count"`
	Percentage *float64 `json:"percentage"`
}

// Results is the read-side view of a poll.
type Results struct {
	Question      string       `json:"question"`
	Options       []OptionView `json:"options"`
	TotalVotes    *int         `json:"total_votes"`
	AllowMultiple bool         `json:"allow_multiple"`
	State         cards.State  `json:"state"`
	HasVoted      bool         `json:"has_voted"`
	Revealed      bool         `json:"results_revealed"`
}

// GetResults applies the visibility rule: counts are revealed once the
// poll has ended, to viewers who have voted, or when the poll was
// configured to show results before voting. Hidden results keep the
// question and option text visible with null numerics.
func (s *Service) GetResults(postID uuid.UUID, viewer *identity.Actor) (*Results, error) {
	post, data, err := s.loadPoll(postID)
	if err != nil {
		return nil, err
	}

	state := cards.PostState(post, time.Now())

	hasVoted := false
	if viewer != nil {
		current, err := s.voterIndexes(s.db, postID, *viewer)
		if err != nil {
			return nil, err
		}
		hasVoted = len(current) > 0
	}

	revealed := state == cards.StateEnded || hasVoted || data.ShowResultsBeforeVote

	res := &Results{
		Question:      data.Question,
		Options:       make([]OptionView, 0, len(data.Options)),
		AllowMultiple: data.AllowMultiple,
		State:         state,
		HasVoted:      hasVoted,
		Revealed:      revealed,
	}

	for _, opt := range data.Options {
		view := OptionView{Text: opt.Text}
		if revealed {
			count := opt.VoteCount
			view.VoteCount = &count
			pct := 0.0
			if data.TotalVotes > 0 {
				pct = float64(count) * 100 / float64(data.TotalVotes)
			}
			view.Percentage = &pct
		}
		res.Options = append(res.Options, view)
	}
	if revealed {
		total := data.TotalVotes
		res.TotalVotes = &total
	}

	return res, nil
}

// VoteStatus reports whether the voter has voted and which options they
// hold.
type VoteStatus struct {
	HasVoted      bool  `json:"has_voted"`
	OptionIndexes []int `json:"option_indexes"`
}

func (s *Service) GetVoteStatus(postID uuid.UUID, voter identity.Actor) (*VoteStatus, error) {
	if _, _, err := s.loadPoll(postID); err != nil {
		return nil, err
	}
	current, err := s.voterIndexes(s.db, postID, voter)
	if err != nil {
		return nil, err
	}
	return &VoteStatus{HasVoted: len(current) > 0, OptionIndexes: current}, nil
}
