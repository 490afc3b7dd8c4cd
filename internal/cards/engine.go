package cards

import (
	"encoding/json"

	"github.com/gofiber/fiber/v2"
	"gorm.io/datatypes"
)

// Engine is implemented by each card subtype. The generic post layer
// dispatches creation payloads to the matching engine and mounts every
// engine's routes under the authenticated API group.
type Engine interface {
	// Type returns the post_type this engine owns.
	Type() string

	// Models returns the GORM model pointers this engine migrates.
	Models() []interface{}

	// NewTypeData validates a creation payload and returns the initial
	// type_data document for a new card of this type.
	NewTypeData(raw json.RawMessage) (datatypes.JSON, error)

	// RegisterRoutes mounts the engine's routes on the given group. The
	// group is already prefixed with /api and has JWT middleware applied.
	RegisterRoutes(router fiber.Router)
}
