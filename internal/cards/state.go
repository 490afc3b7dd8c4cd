package cards

import (
	"time"

	"github.com/tapestryhq/tapestry-backend/internal/models"
)

// State is a card's lifecycle state, derived on every read from type and
// timestamps. States are never stored; the same row transitions by
// wall-clock passage alone.
type State string

const (
	StateFeatured  State = "featured"
	StateEvergreen State = "evergreen"
	StateOpen      State = "open"
	StateClosed    State = "closed"
	StateActive    State = "active"
	StateEnded     State = "ended"
	StateOpenEnded State = "open_ended"
)

// PromptFeaturedWindow is how long a fresh prompt stays featured before it
// becomes evergreen.
const PromptFeaturedWindow = 72 * time.Hour

// StateOf derives the lifecycle state of a card. Pure; no I/O. Rules apply
// in priority order:
//
//  1. prompts are featured for their first 72h, evergreen after; they
//     never expire and are never ended
//  2. qna cards are open (per-question resolution lives on the question
//     rows, not here)
//  3. an opportunity with a manual closure timestamp is closed
//  4. any card with a deadline is ended once now reaches it, active before
//  5. anything else is open-ended
func StateOf(postType string, createdAt time.Time, expiresAt, closedAt *time.Time, now time.Time) State {
	switch postType {
	case models.PostTypePrompt:
		if now.Sub(createdAt) < PromptFeaturedWindow {
			return StateFeatured
		}
		return StateEvergreen
	case models.PostTypeQnA:
		return StateOpen
	}

	if postType == models.PostTypeOpportunity && closedAt != nil {
		return StateClosed
	}

	if expiresAt != nil {
		if !now.Before(*expiresAt) {
			return StateEnded
		}
		return StateActive
	}

	return StateOpenEnded
}

// PostState derives the lifecycle state of a post row at now.
func PostState(p *models.Post, now time.Time) State {
	return StateOf(p.PostType, p.CreatedAt, p.ExpiresAt, p.ClosedAt, now)
}
