package referral

import (
	"time"

	"github.com/hugh/go-referral/internal/database/models"
)

const DateLabelLayout = "Jan 2, 2006"

type TimelineStage struct {
	Key         string     `json:"key"`
	Title       string     `json:"title"`
	IsCompleted bool       `json:"isCompleted"`
	IsCurrent   bool       `json:"isCurrent"`
	IsPending   bool       `json:"isPending"`
	IsSkipped   bool       `json:"isSkipped"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	DateLabel   string     `json:"date,omitempty"`
}

type Timeline struct {
	Status models.ReferralStatus `json:"status"`
	Stages []TimelineStage       `json:"stages"`
}

var stageDefs = []struct {
	key   string
	title string
	at    func(*models.Referral) *time.Time
}{
	{"referral_submitted", "Referral submitted", func(r *models.Referral) *time.Time { return r.SentAt }},
	{"referral_accepted", "Referral accepted", func(r *models.Referral) *time.Time { return r.AcceptedAt }},
	{"appointment_scheduled", "Appointment scheduled", func(r *models.Referral) *time.Time { return r.ScheduledAt }},
	{"appointment_completed", "Appointment completed", func(r *models.Referral) *time.Time { return r.CompletedAt }},
	{"post_op_treatment_scheduled", "Post-op treatment scheduled", func(r *models.Referral) *time.Time { return r.PostOpScheduledAt }},
}

// Project derives the patient-facing timeline from persisted state. It never
// mutates ref. Stamped stages are completed. An unstamped stage that comes
// before the last stamped one is skipped. The first stage left after that is
// current and the rest are pending.
func Project(ref *models.Referral) Timeline {
	switch ref.Status {
	case models.StatusRejected:
		return terminal(ref.Status, "referral_rejected", "Referral declined", ref.RejectedAt)
	case models.StatusCancelled:
		return terminal(ref.Status, "referral_cancelled", "Referral cancelled", ref.CancelledAt)
	}

	stages := make([]TimelineStage, len(stageDefs))
	last := -1
	for i, def := range stageDefs {
		stages[i] = TimelineStage{Key: def.key, Title: def.title}
		if ts := def.at(ref); ts != nil {
			stamp(&stages[i], *ts)
			last = i
		}
	}

	currentSet := false
	for i := range stages {
		s := &stages[i]
		switch {
		case s.IsCompleted:
		case i < last:
			s.IsSkipped = true
		case !currentSet:
			s.IsCurrent = true
			currentSet = true
		default:
			s.IsPending = true
		}
	}

	return Timeline{Status: ref.Status, Stages: stages}
}

func terminal(status models.ReferralStatus, key, title string, at *time.Time) Timeline {
	s := TimelineStage{Key: key, Title: title}
	if at != nil {
		stamp(&s, *at)
	}
	s.IsCurrent = true
	return Timeline{Status: status, Stages: []TimelineStage{s}}
}

func stamp(s *TimelineStage, at time.Time) {
	at = at.UTC()
	s.IsCompleted = true
	s.CompletedAt = &at
	s.DateLabel = at.Format(DateLabelLayout)
}
