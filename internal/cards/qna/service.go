package qna

import (
	"encoding/json"
	"errors"
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

const maxQuestionLength = 1000

// Service handles questions and answers on Q&A cards.
type Service struct {
	db         *gorm.DB
	dispatcher *notify.Dispatcher
	filter     *moderation.Filter
}

func NewService(db *gorm.DB, dispatcher *notify.Dispatcher, filter *moderation.Filter) *Service {
	return &Service{db: db, dispatcher: dispatcher, filter: filter}
}

type createData struct {
	Title string `json:"title"`
}

// NewTypeData validates a Q&A creation payload.
func (s *Service) NewTypeData(raw json.RawMessage) (datatypes.JSON, error) {
	var in createData
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, cards.Invalid("invalid qna payload")
	}
	if strings.TrimSpace(in.Title) == "" {
		return nil, cards.Invalid("title is required")
	}
	return cards.Encode(&cards.QnAData{Title: strings.TrimSpace(in.Title)})
}

func (s *Service) loadQnA(postID uuid.UUID) (*models.Post, *cards.QnAData, error) {
	var post models.Post
	err := s.db.Where("id = ? AND post_type = ? AND status = ?",
		postID, models.PostTypeQnA, models.PostStatusActive).First(&post).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, cards.ErrNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	data, err := cards.DecodeQnA(&post)
	if err != nil {
		return nil, nil, err
	}
	return &post, data, nil
}

// lockQnA reloads the card row under a write lock inside tx so the
// question count is bumped against the current document, not a stale
// copy.
func (s *Service) lockQnA(tx *gorm.DB, postID uuid.UUID) (*cards.QnAData, error) {
	var post models.Post
	err := cards.LockForUpdate(tx).
		Where("id = ? AND post_type = ? AND status = ?",
			postID, models.PostTypeQnA, models.PostStatusActive).
		First(&post).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, cards.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return cards.DecodeQnA(&post)
}

// Ask creates a question and bumps the card's question count.
func (s *Service) Ask(postID uuid.UUID, actor identity.Actor, content string) (*models.QnAQuestion, error) {
	post, _, err := s.loadQnA(postID)
	if err != nil {
		return nil, err
	}
	if post.DeadlinePassed(time.Now()) {
		return nil, cards.Invalid("this Q&A session has ended")
	}

	content = strings.TrimSpace(content)
	if content == "" {
		return nil, cards.Invalid("question content is required")
	}
	if len(content) > maxQuestionLength {
		return nil, cards.Invalid("question is too long")
	}
	if ok, reason := s.filter.Check(content); !ok {
		return nil, cards.Invalid(s.filter.RejectionMessage(reason))
	}

	question := &models.QnAQuestion{
		PostID:     postID,
		AuthorID:   actor.ID,
		AuthorType: actor.Type,
		Content:    content,
	}
	err = s.db.Transaction(func(tx *gorm.DB) error {
		fresh, err := s.lockQnA(tx, postID)
		if err != nil {
			return err
		}
		if err := tx.Create(question).Error; err != nil {
			return err
		}
		fresh.QuestionCount++
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

	if actor.ID != post.AuthorID {
		s.dispatcher.Send(post.AuthorID, post.AuthorType,
			"New question",
			"Someone asked a question on your Q&A",
			map[string]string{"post_id": postID.String(), "question_id": question.ID.String()})
	}
	return question, nil
}

func (s *Service) loadQuestion(questionID uuid.UUID) (*models.QnAQuestion, *models.Post, error) {
	var question models.QnAQuestion
	err := s.db.Where("id = ?", questionID).First(&question).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, cards.ErrNotFound
	}
	if err != nil {
		return nil, nil, err
	}

	var post models.Post
	err = s.db.Where("id = ?", question.PostID).First(&post).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, cards.ErrNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	return &question, &post, nil
}

// Answer adds an answer to a question. Anyone may answer; the question
// author is notified unless they answered themselves.
func (s *Service) Answer(questionID uuid.UUID, actor identity.Actor, content string) (*models.QnAAnswer, error) {
	question, post, err := s.loadQuestion(questionID)
	if err != nil {
		return nil, err
	}

	content = strings.TrimSpace(content)
	if content == "" {
		return nil, cards.Invalid("answer content is required")
	}
	if ok, reason := s.filter.Check(content); !ok {
		return nil, cards.Invalid(s.filter.RejectionMessage(reason))
	}

	answer := &models.QnAAnswer{
		QuestionID: questionID,
		AuthorID:   actor.ID,
		AuthorType: actor.Type,
		Content:    content,
	}
	if err := s.db.Create(answer).Error; err != nil {
		return nil, err
	}

	if actor.ID != question.AuthorID {
		s.dispatcher.Send(question.AuthorID, question.AuthorType,
			"Your question was answered",
			"Someone answered your question",
			map[string]string{"post_id": post.ID.String(), "question_id": questionID.String()})
	}
	return answer, nil
}

// Resolve marks a question resolved. Allowed for the question author and
// the card author.
func (s *Service) Resolve(questionID uuid.UUID, actor identity.Actor) (*models.QnAQuestion, error) {
	question, post, err := s.loadQuestion(questionID)
	if err != nil {
		return nil, err
	}

	isQuestionAuthor := actor.ID == question.AuthorID && actor.Type == question.AuthorType
	isCardAuthor := actor.ID == post.AuthorID && actor.Type == post.AuthorType
	if !isQuestionAuthor && !isCardAuthor {
		return nil, cards.ErrNotAuthor
	}
	if question.IsResolved {
		return nil, cards.Conflict("question is already resolved")
	}

	question.IsResolved = true
	if err := s.db.Save(question).Error; err != nil {
		return nil, err
	}
	return question, nil
}

// SelectBestAnswer marks one answer as best and resolves the question.
// Only the question author may pick.
func (s *Service) SelectBestAnswer(questionID, answerID uuid.UUID, actor identity.Actor) (*models.QnAQuestion, error) {
	question, post, err := s.loadQuestion(questionID)
	if err != nil {
		return nil, err
	}
	if actor.ID != question.AuthorID || actor.Type != question.AuthorType {
		return nil, cards.ErrNotAuthor
	}

	var answer models.QnAAnswer
	err = s.db.Where("id = ? AND question_id = ?", answerID, questionID).First(&answer).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, cards.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	question.BestAnswerID = &answer.ID
	question.IsResolved = true
	if err := s.db.Save(question).Error; err != nil {
		return nil, err
	}

	if actor.ID != answer.AuthorID {
		s.dispatcher.Send(answer.AuthorID, answer.AuthorType,
			"Best answer",
			"Your answer was selected as the best answer",
			map[string]string{"post_id": post.ID.String(), "question_id": questionID.String()})
	}
	return question, nil
}

// ListQuestions returns the questions of a card, newest first, with their
// answers preloaded.
func (s *Service) ListQuestions(postID uuid.UUID, limit, offset int) ([]models.QnAQuestion, []models.QnAAnswer, int64, error) {
	if _, _, err := s.loadQnA(postID); err != nil {
		return nil, nil, 0, err
	}

	var total int64
	err := s.db.Model(&models.QnAQuestion{}).Where("post_id = ?", postID).Count(&total).Error
	if err != nil {
		return nil, nil, 0, err
	}

	var questions []models.QnAQuestion
	err = s.db.Where("post_id = ?", postID).
		Order("created_at DESC").Limit(limit).Offset(offset).
		Find(&questions).Error
	if err != nil {
		return nil, nil, 0, err
	}

	ids := make([]uuid.UUID, len(questions))
	for i, q := range questions {
		ids[i] = q.ID
	}
	var answers []models.QnAAnswer
	if len(ids) > 0 {
		err = s.db.Where("question_id IN ?", ids).
			Order("created_at ASC").Find(&answers).Error
		if err != nil {
			return nil, nil, 0, err
		}
	}
	return questions, answers, total, nil
}
