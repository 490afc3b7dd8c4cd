package cards

import (
	"fmt"
	"time"

	"github.com/tapestryhq/tapestry-backend/internal/models"
)

// MaxExtensions is the per-type extension ceiling. Opportunities are
// effectively unlimited.
var MaxExtensions = map[string]int{
	models.PostTypePoll:        1,
	models.PostTypeChallenge:   2,
	models.PostTypeOpportunity: 999,
}

// ChallengeExtensionLockout is the trailing window before a challenge
// deadline during which further extensions are disallowed. Prevents
// last-minute deadline gaming.
const ChallengeExtensionLockout = 2 * time.Hour

// MinExtensionGrant is the minimum deadline extension granted on the
// write path, regardless of card type.
const MinExtensionGrant = 24 * time.Hour

// ExtendDecision is the outcome of the read-only extension policy check.
type ExtendDecision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

func denied(reason string) ExtendDecision {
	return ExtendDecision{Allowed: false, Reason: reason}
}

// CanExtend decides whether a deadline extension is currently allowed.
// Pure; callers re-check on the write path inside the transaction. Checks
// apply in order: supported type, deadline not yet passed, a deadline
// exists at all, extension budget, then the challenge-only lockout window.
func CanExtend(p *models.Post, now time.Time) ExtendDecision {
	limit, supported := MaxExtensions[p.PostType]
	if !supported {
		return denied("this card type does not support extensions")
	}

	if p.ExpiresAt == nil {
		return denied("no deadline to extend")
	}
	if !now.Before(*p.ExpiresAt) {
		return denied("cannot extend after the end time has passed")
	}

	if p.ExtensionCount >= limit {
		return denied(fmt.Sprintf("Maximum %d extension(s) already used", limit))
	}

	if p.PostType == models.PostTypeChallenge {
		if p.ExpiresAt.Sub(now) <= ChallengeExtensionLockout {
			return denied("challenges cannot be extended within 2 hours of the deadline")
		}
	}

	return ExtendDecision{Allowed: true}
}
