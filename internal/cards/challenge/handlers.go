package challenge

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

// Engine is the challenge card engine.
type Engine struct {
	service *Service
}

func NewEngine(service *Service) *Engine {
	return &Engine{service: service}
}

func (e *Engine) Type() string { return models.PostTypeChallenge }

func (e *Engine) Models() []interface{} {
	return []interface{}{
		&models.ChallengeParticipation{},
		&models.ChallengeSubmission{},
		&models.ChallengeSubmissionSource{},
	}
}

func (e *Engine) NewTypeData(raw json.RawMessage) (datatypes.JSON, error) {
	return e.service.NewTypeData(raw)
}

func (e *Engine) RegisterRoutes(router fiber.Router) {
	router.Post("/posts/:postId/join", e.join)
	router.Get("/posts/:postId/participation", e.participation)
	router.Post("/posts/:postId/challenge-submissions", e.submit)
	router.Get("/posts/:postId/challenge-submissions", e.list)
	router.Delete("/challenge-submissions/:id", e.deleteSubmission)
	router.Patch("/challenge-submissions/:id/status", e.moderate)
}

func (e *Engine) join(c *fiber.Ctx) error {
	actor, err := identity.FromContext(c)
	if err != nil {
		return cards.Respond(c, cards.ErrAuthRequired)
	}
	postID, err := uuid.Parse(c.Params("postId"))
	if err != nil {
		return cards.Respond(c, cards.Invalid("invalid post id"))
	}

	participation, err := e.service.Join(postID, actor)
	if err != nil {
		return cards.Respond(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(participation)
}

func (e *Engine) participation(c *fiber.Ctx) error {
	actor, err := identity.FromContext(c)
	if err != nil {
		return cards.Respond(c, cards.ErrAuthRequired)
	}
	postID, err := uuid.Parse(c.Params("postId"))
	if err != nil {
		return cards.Respond(c, cards.Invalid("invalid post id"))
	}

	participation, err := e.service.GetParticipation(postID, actor)
	if err != nil {
		return cards.Respond(c, err)
	}
	return c.JSON(participation)
}

func (e *Engine) submit(c *fiber.Ctx) error {
	actor, err := identity.FromContext(c)
	if err != nil {
		return cards.Respond(c, cards.ErrAuthRequired)
	}
	postID, err := uuid.Parse(c.Params("postId"))
	if err != nil {
		return cards.Respond(c, cards.Invalid("invalid post id"))
	}

	var req dto.ChallengeSubmitRequest
	if err := c.BodyParser(&req); err != nil {
		return cards.Respond(c, cards.Invalid("invalid request body"))
	}

	submission, err := e.service.Submit(postID, actor, req)
	if err != nil {
		return cards.Respond(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(submission)
}

func (e *Engine) list(c *fiber.Ctx) error {
	actor, _ := identity.FromContext(c)
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

	submissions, total, err := e.service.ListSubmissions(postID, actor, limit, offset)
	if err != nil {
		return cards.Respond(c, err)
	}
	return c.JSON(fiber.Map{
		"submissions": submissions,
		"total":       total,
		"limit":       limit,
		"offset":      offset,
	})
}

func (e *Engine) deleteSubmission(c *fiber.Ctx) error {
	actor, err := identity.FromContext(c)
	if err != nil {
		return cards.Respond(c, cards.ErrAuthRequired)
	}
	submissionID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return cards.Respond(c, cards.Invalid("invalid submission id"))
	}

	if err := e.service.DeleteSubmission(submissionID, actor); err != nil {
		return cards.Respond(c, err)
	}
	return c.JSON(fiber.Map{"success": true})
}

func (e *Engine) moderate(c *fiber.Ctx) error {
	actor, err := identity.FromContext(c)
	if err != nil {
		return cards.Respond(c, cards.ErrAuthRequired)
	}
	submissionID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return cards.Respond(c, cards.Invalid("invalid submission id"))
	}

	var req dto.ModerateSubmissionRequest
	if err := c.BodyParser(&req); err != nil {
		return cards.Respond(c, cards.Invalid("invalid request body"))
	}

	submission, err := e.service.ModerateSubmission(submissionID, actor, req.Status)
	if err != nil {
		return cards.Respond(c, err)
	}
	return c.JSON(submission)
}
