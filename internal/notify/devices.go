package notify

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/tapestryhq/tapestry-backend/internal/dto"
	"github.com/tapestryhq/tapestry-backend/internal/identity"
	"github.com/tapestryhq/tapestry-backend/internal/models"
	"gorm.io/gorm"
)

// DeviceHandler exposes push-token registration for the caller.
type DeviceHandler struct {
	db *gorm.DB
}

func NewDeviceHandler(db *gorm.DB) *DeviceHandler {
	return &DeviceHandler{db: db}
}

// Register handles POST /api/devices
func (h *DeviceHandler) Register(c *fiber.Ctx) error {
	actor, err := identity.FromContext(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": true, "message": "Unauthorized",
		})
	}

	var req dto.RegisterDeviceRequest
	if err := c.BodyParser(&req); err != nil || strings.TrimSpace(req.Token) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": true, "message": "token is required",
		})
	}

	token := models.DeviceToken{
		UserID:   actor.ID,
		UserType: actor.Type,
		Token:    req.Token,
		Platform: req.Platform,
	}
	if err := h.db.Create(&token).Error; err != nil {
		// Re-registering the same token is fine.
		var existing models.DeviceToken
		lookupErr := h.db.Where("user_id = ? AND token = ?", actor.ID, req.Token).First(&existing).Error
		if errors.Is(lookupErr, gorm.ErrRecordNotFound) || lookupErr != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": true, "message": "Failed to register device",
			})
		}
		return c.JSON(existing)
	}

	return c.Status(fiber.StatusCreated).JSON(token)
}

// Unregister handles DELETE /api/devices
func (h *DeviceHandler) Unregister(c *fiber.Ctx) error {
	actor, err := identity.FromContext(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": true, "message": "Unauthorized",
		})
	}

	var req dto.RegisterDeviceRequest
	if err := c.BodyParser(&req); err != nil || req.Token == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": true, "message": "token is required",
		})
	}

	h.db.Where("user_id = ? AND token = ?", actor.ID, req.Token).Delete(&models.DeviceToken{})
	return c.JSON(fiber.Map{"success": true})
}
