package poll

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

// Engine mounts the poll routes and owns the poll vote model.
type Engine struct {
	service *Service
}

func NewEngine(service *Service) *Engine {
	return &Engine{service: service}
}

func (e *Engine) Type() string { return models.PostTypePoll }

func (e *Engine) Models() []interface{} {
	return []interface{}{&models.PollVote{}}
}

func (e *Engine) NewTypeData(raw json.RawMessage) (datatypes.JSON, error) {
	return e.service.NewTypeData(raw)
}

func (e *Engine) RegisterRoutes(router fiber.Router) {
	h := &handler{service: e.service}

	router.Post("/posts/:postId/vote", h.Vote)
	router.Delete("/posts/:postId/vote", h.RemoveVote)
	router.Get("/posts/:postId/results", h.GetResults)
	router.Get("/posts/:postId/vote-status", h.GetVoteStatus)
}

type handler struct {
	service *Service
}

func parsePostID(c *fiber.Ctx) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Params("postId"))
	if err != nil {
		return uuid.Nil, cards.Invalid("invalid post id")
	}
	return id, nil
}

// Vote handles POST /api/posts/:postId/vote
func (h *handler) Vote(c *fiber.Ctx) error {
	actor, err := identity.FromContext(c)
	if err != nil {
		return cards.Respond(c, cards.ErrAuthRequired)
	}

	postID, err := parsePostID(c)
	if err != nil {
		return cards.Respond(c, err)
	}

	var req dto.VoteRequest
	if err := c.BodyParser(&req); err != nil {
		return cards.Respond(c, cards.Invalid("invalid request body"))
	}

	indexes := req.OptionIndexes
	if req.OptionIndex != nil {
		indexes = append(indexes, *req.OptionIndex)
	}

	tallies, err := h.service.Vote(postID, actor, indexes)
	if err != nil {
		return cards.Respond(c, err)
	}
	return c.JSON(tallies)
}

// RemoveVote handles DELETE /api/posts/:postId/vote
func (h *handler) RemoveVote(c *fiber.Ctx) error {
	actor, err := identity.FromContext(c)
	if err != nil {
		return cards.Respond(c, cards.ErrAuthRequired)
	}

	postID, err := parsePostID(c)
	if err != nil {
		return cards.Respond(c, err)
	}

	tallies, err := h.service.RemoveVote(postID, actor)
	if err != nil {
		return cards.Respond(c, err)
	}
	return c.JSON(tallies)
}

// GetResults handles GET /api/posts/:postId/results
func (h *handler) GetResults(c *fiber.Ctx) error {
	postID, err := parsePostID(c)
	if err != nil {
		return cards.Respond(c, err)
	}

	var viewer *identity.Actor
	if actor, err := identity.FromContext(c); err == nil {
		viewer = &actor
	}

	results, err := h.service.GetResults(postID, viewer)
	if err != nil {
		return cards.Respond(c, err)
	}
	return c.JSON(results)
}

// GetVoteStatus handles GET /api/posts/:postId/vote-status
func (h *handler) GetVoteStatus(c *fiber.Ctx) error {
	actor, err := identity.FromContext(c)
	if err != nil {
		return cards.Respond(c, cards.ErrAuthRequired)
	}

	postID, err := parsePostID(c)
	if err != nil {
		return cards.Respond(c, err)
	}

	status, err := h.service.GetVoteStatus(postID, actor)
	if err != nil {
		return cards.Respond(c, err)
	}
	return c.JSON(status)
}
