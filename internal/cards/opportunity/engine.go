package opportunity

import (
	"encoding/json"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/tapestryhq/tapestry-backend/internal/cards"
	"gorm.io/datatypes"

	"github.com/tapestryhq/tapestry-backend/internal/models"
)

// Engine is the opportunity card engine. Opportunities have no interaction
// surface of their own: closing and extending run through the lifecycle
// routes shared by every deadline-bearing card.
type Engine struct{}

func NewEngine() *Engine { return &Engine{} }

func (e *Engine) Type() string { return models.PostTypeOpportunity }

func (e *Engine) Models() []interface{} { return nil }

type createData struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// NewTypeData validates an opportunity creation payload. The closure type
// is filled in by the post layer once the deadline is known.
func (e *Engine) NewTypeData(raw json.RawMessage) (datatypes.JSON, error) {
	var in createData
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, cards.Invalid("invalid opportunity payload")
	}
	if strings.TrimSpace(in.Title) == "" {
		return nil, cards.Invalid("title is required")
	}
	return cards.Encode(&cards.OpportunityData{
		Title:       strings.TrimSpace(in.Title),
		Description: strings.TrimSpace(in.Description),
	})
}

func (e *Engine) RegisterRoutes(router fiber.Router) {}
