package prompt

import (
	"encoding/json"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/tapestryhq/tapestry-backend/internal/cards"
	"github.com/tapestryhq/tapestry-backend/internal/dto"
	"github.com/tapestryhq/tapestry-backend/internal/identity"
	"github.com/tapestryhq/tapestry-backend/internal/models"
	"gorm.io/datatypes"
)

// Engine mounts the prompt routes and owns the submission model.
type Engine struct {
	service *Service
}

func NewEngine(service *Service) *Engine {
	return &Engine{service: service}
}

func (e *Engine) Type() string { return models.PostTypePrompt }

func (e *Engine) Models() []interface{} {
	return []interface{}{&models.PromptSubmission{}}
}

func (e *Engine) NewTypeData(raw json.RawMessage) (datatypes.JSON, error) {
	return e.service.NewTypeData(raw)
}

func (e *Engine) RegisterRoutes(router fiber.Router) {
	h := &handler{service: e.service}

	router.Post("/posts/:postId/submissions", h.Submit)
	router.Get("/posts/:postId/submissions", h.List)
	router.Get("/posts/:postId/my-submission", h.MySubmission)
	router.Patch("/submissions/:id/status", h.Moderate)
}

type handler struct {
	service *Service
}

// Submit handles POST /api/posts/:postId/submissions
func (h *handler) Submit(c *fiber.Ctx) error {
	actor, err := identity.FromContext(c)
	if err != nil {
		return cards.Respond(c, cards.ErrAuthRequired)
	}

	postID, err := uuid.Parse(c.Params("postId"))
	if err != nil {
		return cards.Respond(c, cards.Invalid("invalid post id"))
	}

	var req dto.SubmitPromptRequest
	if err := c.BodyParser(&req); err != nil {
		return cards.Respond(c, cards.Invalid("invalid request body"))
	}

	submission, err := h.service.Submit(postID, actor, req.Content, req.MediaURLs)
	if err != nil {
		return cards.Respond(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(submission)
}

// List handles GET /api/posts/:postId/submissions
func (h *handler) List(c *fiber.Ctx) error {
	actor, err := identity.FromContext(c)
	if err != nil {
		return cards.Respond(c, cards.ErrAuthRequired)
	}

	postID, err := uuid.Parse(c.Params("postId"))
	if err != nil {
		return cards.Respond(c, cards.Invalid("invalid post id"))
	}

	limit, _ := strconv.Atoi(c.Query("limit", "20"))
	offset, _ := strconv.Atoi(c.Query("offset", "0"))
	if limit > 100 {
		limit = 100
	}

	submissions, total, err := h.service.ListSubmissions(postID, actor, limit, offset)
	if err != nil {
		return cards.Respond(c, err)
	}
	return c.JSON(fiber.Map{
		"data": submissions, "total": total,
		"limit": limit, "offset": offset,
	})
}

// MySubmission handles GET /api/posts/:postId/my-submission
func (h *handler) MySubmission(c *fiber.Ctx) error {
	actor, err := identity.FromContext(c)
	if err != nil {
		return cards.Respond(c, cards.ErrAuthRequired)
	}

	postID, err := uuid.Parse(c.Params("postId"))
	if err != nil {
		return cards.Respond(c, cards.Invalid("invalid post id"))
	}

	submission, err := h.service.MySubmission(postID, actor)
	if err != nil {
		return cards.Respond(c, err)
	}
	return c.JSON(submission)
}

// Moderate handles PATCH /api/submissions/:id/status
func (h *handler) Moderate(c *fiber.Ctx) error {
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

	submission, err := h.service.Moderate(submissionID, actor, req.Status)
	if err != nil {
		return cards.Respond(c, err)
	}
	return c.JSON(submission)
}
