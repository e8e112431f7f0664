// Package notify carries referral lifecycle events out of the request path.
package notify

import (
	"time"

	"github.com/google/uuid"
	"github.com/hugh/go-referral/internal/database/models"
)

const EventStatusChanged = "referral.status_changed"

// Event is emitted once per successful status change. From is empty when the
// referral was created directly in a non-draft status.
type Event struct {
	ID         uuid.UUID             `json:"id"`
	Type       string                `json:"type"`
	ReferralID uuid.UUID             `json:"referral_id"`
	From       models.ReferralStatus `json:"from,omitempty"`
	To         models.ReferralStatus `json:"to"`
	OccurredAt time.Time             `json:"occurred_at"`
}

func StatusChanged(referralID uuid.UUID, from, to models.ReferralStatus, at time.Time) Event {
	return Event{
		ID:         uuid.New(),
		Type:       EventStatusChanged,
		ReferralID: referralID,
		From:       from,
		To:         to,
		OccurredAt: at.UTC(),
	}
}
