package lifecycle

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/tapestryhq/tapestry-backend/internal/cards"
	"github.com/tapestryhq/tapestry-backend/internal/dto"
	"github.com/tapestryhq/tapestry-backend/internal/identity"
)

// Handler exposes the lifecycle routes shared by every deadline-bearing
// card type.
type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(router fiber.Router) {
	router.Get("/posts/:postId/can-extend", h.checkExtend)
	router.Post("/posts/:postId/extend", h.extend)
	router.Get("/posts/:postId/extensions", h.extensions)
	router.Post("/posts/:postId/close", h.close)
}

func (h *Handler) checkExtend(c *fiber.Ctx) error {
	postID, err := uuid.Parse(c.Params("postId"))
	if err != nil {
		return cards.Respond(c, cards.Invalid("invalid post id"))
	}

	decision, err := h.service.CheckExtend(postID)
	if err != nil {
		return cards.Respond(c, err)
	}
	return c.JSON(decision)
}

func (h *Handler) extend(c *fiber.Ctx) error {
	actor, err := identity.FromContext(c)
	if err != nil {
		return cards.Respond(c, cards.ErrAuthRequired)
	}
	postID, err := uuid.Parse(c.Params("postId"))
	if err != nil {
		return cards.Respond(c, cards.Invalid("invalid post id"))
	}

	var req dto.ExtendRequest
	if err := c.BodyParser(&req); err != nil {
		return cards.Respond(c, cards.Invalid("invalid request body"))
	}
	if req.NewEndTime.IsZero() {
		return cards.Respond(c, cards.Invalid("new_end_time is required"))
	}

	post, err := h.service.Extend(postID, actor, req.NewEndTime, req.Reason)
	if err != nil {
		return cards.Respond(c, err)
	}
	return c.JSON(post)
}

func (h *Handler) extensions(c *fiber.Ctx) error {
	postID, err := uuid.Parse(c.Params("postId"))
	if err != nil {
		return cards.Respond(c, cards.Invalid("invalid post id"))
	}

	trail, err := h.service.GetExtensions(postID)
	if err != nil {
		return cards.Respond(c, err)
	}
	return c.JSON(fiber.Map{"extensions": trail})
}

func (h *Handler) close(c *fiber.Ctx) error {
	actor, err := identity.FromContext(c)
	if err != nil {
		return cards.Respond(c, cards.ErrAuthRequired)
	}
	postID, err := uuid.Parse(c.Params("postId"))
	if err != nil {
		return cards.Respond(c, cards.Invalid("invalid post id"))
	}

	post, err := h.service.CloseOpportunity(postID, actor)
	if err != nil {
		return cards.Respond(c, err)
	}
	return c.JSON(post)
}
