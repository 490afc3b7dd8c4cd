package cards

import (
	"errors"

	"github.com/gofiber/fiber/v2"
)

// Sentinel errors shared by the card engines. Handlers map these onto HTTP
// statuses via StatusFor; anything unrecognized is treated as internal.
var (
	ErrAuthRequired = errors.New("authentication required")
	ErrNotAuthor    = errors.New("only the author can perform this action")
	ErrNotFound     = errors.New("not found")
)

// ValidationError covers malformed input and policy violations. Detected
// before any write, so it never leaves partial state.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// Invalid builds a ValidationError.
func Invalid(msg string) error { return &ValidationError{Msg: msg} }

// ConflictError covers duplicate actions: already voted, already submitted,
// already joined, already closed.
type ConflictError struct {
	Msg string
}

func (e *ConflictError) Error() string { return e.Msg }

// Conflict builds a ConflictError.
func Conflict(msg string) error { return &ConflictError{Msg: msg} }

// StatusFor maps an engine error onto an HTTP status code.
func StatusFor(err error) int {
	var ve *ValidationError
	var ce *ConflictError
	switch {
	case errors.Is(err, ErrAuthRequired):
		return fiber.StatusUnauthorized
	case errors.Is(err, ErrNotAuthor):
		return fiber.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return fiber.StatusNotFound
	case errors.As(err, &ve):
		return fiber.StatusBadRequest
	case errors.As(err, &ce):
		return fiber.StatusConflict
	default:
		return fiber.StatusInternalServerError
	}
}

// Respond writes the standard error envelope for an engine error. Internal
// errors are masked with a generic message; the original is left for the
// logging layer.
func Respond(c *fiber.Ctx, err error) error {
	status := StatusFor(err)
	msg := err.Error()
	if status == fiber.StatusInternalServerError {
		msg = "Internal server error"
	}
	return c.Status(status).JSON(fiber.Map{
		"error":   true,
		"message": msg,
	})
}
