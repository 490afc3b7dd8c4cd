package qna

import (
	"encoding/json"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/tapestryhq/tapestry-backend/internal/cards"
	"github.com/tapestryhq/tapestry-backend/internal/dto"
	"github.com/tapestryhq/tapestry-backend/internal/identity"
	"github.com/tapestryhq/tapestry-backend/internal/models"
	"gorm.io/datatypes"
)

// Engine is the Q&A card engine.
type Engine struct {
	service *Service
}

func NewEngine(service *Service) *Engine {
	return &Engine{service: service}
}

func (e *Engine) Type() string { return models.PostTypeQnA }

func (e *Engine) Models() []interface{} {
	return []interface{}{&models.QnAQuestion{}, &models.QnAAnswer{}}
}

func (e *Engine) NewTypeData(raw json.RawMessage) (datatypes.JSON, error) {
	return e.service.NewTypeData(raw)
}

func (e *Engine) RegisterRoutes(router fiber.Router) {
	router.Post("/posts/:postId/questions", e.ask)
	router.Get("/posts/:postId/questions", e.list)
	router.Post("/questions/:id/answers", e.answer)
	router.Patch("/questions/:id/resolve", e.resolve)
	router.Patch("/questions/:id/best-answer/:answerId", e.bestAnswer)
}

func (e *Engine) ask(c *fiber.Ctx) error {
	actor, err := identity.FromContext(c)
	if err != nil {
		return cards.Respond(c, cards.ErrAuthRequired)
	}
	postID, err := uuid.Parse(c.Params("postId"))
	if err != nil {
		return cards.Respond(c, cards.Invalid("invalid post id"))
	}

	var req dto.AskQuestionRequest
	if err := c.BodyParser(&req); err != nil {
		return cards.Respond(c, cards.Invalid("invalid request body"))
	}

	question, err := e.service.Ask(postID, actor, req.Content)
	if err != nil {
		return cards.Respond(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(question)
}

func (e *Engine) list(c *fiber.Ctx) error {
	postID, err := uuid.Parse(c.Params("postId"))
	if err != nil {
		return cards.Respond(c, cards.Invalid("invalid post id"))
	}

	limit := c.QueryInt("limit", 20)
	if limit < 1 || limit > 100 {
		limit = 20
	}
	offset := c.QueryInt("offset", 0)
	if offset < 0 {
		offset = 0
	}

	questions, answers, total, err := e.service.ListQuestions(postID, limit, offset)
	if err != nil {
		return cards.Respond(c, err)
	}

	byQuestion := make(map[uuid.UUID][]models.QnAAnswer, len(questions))
	for _, a := range answers {
		byQuestion[a.QuestionID] = append(byQuestion[a.QuestionID], a)
	}

	type questionView struct {
		models.QnAQuestion
		Answers []models.QnAAnswer `json:"answers"`
	}
	views := make([]questionView, len(questions))
	for i, q := range questions {
		views[i] = questionView{QnAQuestion: q, Answers: byQuestion[q.ID]}
	}

	return c.JSON(fiber.Map{
		"questions": views,
		"total":     total,
		"limit":     limit,
		"offset":    offset,
	})
}

func (e *Engine) answer(c *fiber.Ctx) error {
	actor, err := identity.FromContext(c)
	if err != nil {
		return cards.Respond(c, cards.ErrAuthRequired)
	}
	questionID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return cards.Respond(c, cards.Invalid("invalid question id"))
	}

	var req dto.AnswerQuestionRequest
	if err := c.BodyParser(&req); err != nil {
		return cards.Respond(c, cards.Invalid("invalid request body"))
	}

	answer, err := e.service.Answer(questionID, actor, req.Content)
	if err != nil {
		return cards.Respond(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(answer)
}

func (e *Engine) resolve(c *fiber.Ctx) error {
	actor, err := identity.FromContext(c)
	if err != nil {
		return cards.Respond(c, cards.ErrAuthRequired)
	}
	questionID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return cards.Respond(c, cards.Invalid("invalid question id"))
	}

	question, err := e.service.Resolve(questionID, actor)
	if err != nil {
		return cards.Respond(c, err)
	}
	return c.JSON(question)
}

func (e *Engine) bestAnswer(c *fiber.Ctx) error {
	actor, err := identity.FromContext(c)
	if err != nil {
		return cards.Respond(c, cards.ErrAuthRequired)
	}
	questionID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return cards.Respond(c, cards.Invalid("invalid question id"))
	}
	answerID, err := uuid.Parse(c.Params("answerId"))
	if err != nil {
		return cards.Respond(c, cards.Invalid("invalid answer id"))
	}

	question, err := e.service.SelectBestAnswer(questionID, answerID, actor)
	if err != nil {
		return cards.Respond(c, err)
	}
	return c.JSON(question)
}
