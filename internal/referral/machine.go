package referral

import (
	"time"

	"github.com/google/uuid"
	"github.com/hugh/go-referral/internal/database/models"
)

// Stage names for the sub-stages that stamp a timestamp without changing status.
const (
	StageScheduled       = "SCHEDULED"
	StagePostOpScheduled = "POST_OP_SCHEDULED"
	StageReport          = "REPORT"
)

// Actor is whoever requests a change. The zero Actor is anonymous.
type Actor struct {
	UserID   uuid.UUID
	ClinicID uuid.UUID
}

func (a Actor) Anonymous() bool {
	return a.ClinicID == uuid.Nil
}

type party uint8

const (
	sender party = 1 << iota
	receiver
	either = sender | receiver
)

func partyOf(ref *models.Referral, actor Actor) party {
	if actor.Anonymous() {
		return 0
	}
	var p party
	if ref.FromClinicID != nil && *ref.FromClinicID == actor.ClinicID {
		p |= sender
	}
	if ref.ToClinicID != nil && *ref.ToClinicID == actor.ClinicID {
		p |= receiver
	}
	return p
}

type edge struct {
	from, to models.ReferralStatus
}

type rule struct {
	by    party
	stamp func(*models.Referral) **time.Time
}

func sentAt(r *models.Referral) **time.Time      { return &r.SentAt }
func acceptedAt(r *models.Referral) **time.Time  { return &r.AcceptedAt }
func rejectedAt(r *models.Referral) **time.Time  { return &r.RejectedAt }
func completedAt(r *models.Referral) **time.Time { return &r.CompletedAt }
func cancelledAt(r *models.Referral) **time.Time { return &r.CancelledAt }

// edges is the complete transition table. Any pair absent here is illegal.
var edges = map[edge]rule{
	{models.StatusDraft, models.StatusSent}: {by: sender, stamp: sentAt},

	{models.StatusSent, models.StatusAccepted}:      {by: receiver, stamp: acceptedAt},
	{models.StatusSubmitted, models.StatusAccepted}: {by: receiver, stamp: acceptedAt},
	{models.StatusSent, models.StatusRejected}:      {by: receiver, stamp: rejectedAt},
	{models.StatusSubmitted, models.StatusRejected}: {by: receiver, stamp: rejectedAt},

	{models.StatusAccepted, models.StatusCompleted}: {by: receiver, stamp: completedAt},

	{models.StatusDraft, models.StatusCancelled}:     {by: sender, stamp: cancelledAt},
	{models.StatusSent, models.StatusCancelled}:      {by: either, stamp: cancelledAt},
	{models.StatusSubmitted, models.StatusCancelled}: {by: either, stamp: cancelledAt},
	{models.StatusAccepted, models.StatusCancelled}:  {by: either, stamp: cancelledAt},
}

// Allowed reports whether from -> to is an edge of the lifecycle.
func Allowed(from, to models.ReferralStatus) bool {
	_, ok := edges[edge{from, to}]
	return ok
}

// Change describes the outcome of a state machine step.
type Change struct {
	From       models.ReferralStatus
	To         models.ReferralStatus
	Stage      string
	OccurredAt time.Time
	Changed    bool
}

// Transition applies a requested status to ref and returns the updated copy.
// Requesting the current status is a no-op.
func Transition(ref models.Referral, to models.ReferralStatus, actor Actor, now time.Time) (models.Referral, Change, error) {
	change := Change{From: ref.Status, To: to}

	if !to.Valid() {
		return ref, change, invalid(map[string]string{"status": "unknown status"})
	}
	if to == ref.Status {
		return ref, change, nil
	}

	r, ok := edges[edge{ref.Status, to}]
	if !ok {
		return ref, change, &IllegalTransitionError{From: ref.Status, To: string(to)}
	}
	if partyOf(&ref, actor)&r.by == 0 {
		return ref, change, ErrForbidden
	}

	at := clamp(&ref, now)
	if slot := r.stamp(&ref); *slot == nil {
		*slot = &at
	}
	ref.Status = to

	change.OccurredAt = at
	change.Changed = true
	return ref, change, nil
}

// Schedule stamps scheduled_at on an accepted referral.
func Schedule(ref models.Referral, actor Actor, now time.Time) (models.Referral, Change, error) {
	return subStage(ref, actor, now, models.StatusAccepted, StageScheduled, func(r *models.Referral) **time.Time {
		return &r.ScheduledAt
	})
}

// SchedulePostOp stamps post_op_scheduled_at on a completed referral.
func SchedulePostOp(ref models.Referral, actor Actor, now time.Time) (models.Referral, Change, error) {
	return subStage(ref, actor, now, models.StatusCompleted, StagePostOpScheduled, func(r *models.Referral) **time.Time {
		return &r.PostOpScheduledAt
	})
}

func subStage(ref models.Referral, actor Actor, now time.Time, need models.ReferralStatus, stage string, slotOf func(*models.Referral) **time.Time) (models.Referral, Change, error) {
	change := Change{From: ref.Status, To: ref.Status, Stage: stage}

	if ref.Status != need {
		return ref, change, &IllegalTransitionError{From: ref.Status, To: stage}
	}
	if partyOf(&ref, actor)&receiver == 0 {
		return ref, change, ErrForbidden
	}

	slot := slotOf(&ref)
	if *slot != nil {
		return ref, change, nil
	}
	at := clamp(&ref, now)
	*slot = &at

	change.OccurredAt = at
	change.Changed = true
	return ref, change, nil
}

// clamp keeps lifecycle stamps monotonically non-decreasing.
func clamp(ref *models.Referral, now time.Time) time.Time {
	now = now.UTC()
	if latest := ref.LatestStamp(); latest.After(now) {
		return latest
	}
	return now
}
