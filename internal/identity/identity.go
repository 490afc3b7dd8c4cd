package identity

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Actor types carried in the bearer token.
const (
	TypeUser     = "user"
	TypeBusiness = "business"
)

// Actor is the caller identity supplied by the bearer token: an id plus an
// account type. Posts and every satellite row record both.
type Actor struct {
	ID   uuid.UUID `json:"id"`
	Type string    `json:"type"`
}

// ErrNoIdentity is returned when the request carries no usable identity.
var ErrNoIdentity = errors.New("no caller identity in request")

// FromContext extracts the acting identity from JWT claims in the Fiber
// context. The actor type defaults to user when the claim is absent.
func FromContext(c *fiber.Ctx) (Actor, error) {
	token, ok := c.Locals("user").(*jwt.Token)
	if !ok {
		return Actor{}, ErrNoIdentity
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Actor{}, ErrNoIdentity
	}

	sub, ok := claims["sub"].(string)
	if !ok {
		return Actor{}, ErrNoIdentity
	}

	id, err := uuid.Parse(sub)
	if err != nil {
		return Actor{}, ErrNoIdentity
	}

	actorType := TypeUser
	if at, ok := claims["actor_type"].(string); ok && at != "" {
		actorType = at
	}

	return Actor{ID: id, Type: actorType}, nil
}
