package posts

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/tapestryhq/tapestry-backend/internal/cards"
	"github.com/tapestryhq/tapestry-backend/internal/dto"
	"github.com/tapestryhq/tapestry-backend/internal/identity"
)

// Handler exposes the generic post routes.
type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(router fiber.Router) {
	router.Post("/posts", h.create)
	router.Get("/posts", h.feed)
	router.Get("/posts/:postId", h.get)
	router.Delete("/posts/:postId", h.delete)
}

func (h *Handler) create(c *fiber.Ctx) error {
	actor, err := identity.FromContext(c)
	if err != nil {
		return cards.Respond(c, cards.ErrAuthRequired)
	}

	var req dto.CreatePostRequest
	if err := c.BodyParser(&req); err != nil {
		return cards.Respond(c, cards.Invalid("invalid request body"))
	}

	post, err := h.service.Create(actor, req)
	if err != nil {
		return cards.Respond(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(post)
}

func (h *Handler) feed(c *fiber.Ctx) error {
	viewer := viewerFromContext(c)

	limit := c.QueryInt("limit", 20)
	if limit < 1 || limit > 100 {
		limit = 20
	}
	offset := c.QueryInt("offset", 0)
	if offset < 0 {
		offset = 0
	}

	views, total, err := h.service.Feed(viewer, c.Query("post_type"), limit, offset)
	if err != nil {
		return cards.Respond(c, err)
	}
	return c.JSON(fiber.Map{
		"posts":  views,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

func (h *Handler) get(c *fiber.Ctx) error {
	postID, err := uuid.Parse(c.Params("postId"))
	if err != nil {
		return cards.Respond(c, cards.Invalid("invalid post id"))
	}

	view, err := h.service.Get(postID, viewerFromContext(c))
	if err != nil {
		return cards.Respond(c, err)
	}
	return c.JSON(view)
}

func (h *Handler) delete(c *fiber.Ctx) error {
	actor, err := identity.FromContext(c)
	if err != nil {
		return cards.Respond(c, cards.ErrAuthRequired)
	}
	postID, err := uuid.Parse(c.Params("postId"))
	if err != nil {
		return cards.Respond(c, cards.Invalid("invalid post id"))
	}

	if err := h.service.Delete(postID, actor); err != nil {
		return cards.Respond(c, err)
	}
	return c.JSON(fiber.Map{"success": true})
}

func viewerFromContext(c *fiber.Ctx) *identity.Actor {
	actor, err := identity.FromContext(c)
	if err != nil {
		return nil
	}
	return &actor
}
