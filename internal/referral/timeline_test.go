package referral_test

import (
	"testing"
	"time"

	"github.com/hugh/go-referral/internal/database/models"
	"github.com/hugh/go-referral/internal/referral"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func completedKeys(tl referral.Timeline) []string {
	var keys []string
	for _, s := range tl.Stages {
		if s.IsCompleted {
			keys = append(keys, s.Key)
		}
	}
	return keys
}

func currentKey(tl referral.Timeline) string {
	for _, s := range tl.Stages {
		if s.IsCurrent {
			return s.Key
		}
	}
	return ""
}

func TestProject_RoundTrip(t *testing.T) {
	ref := fixture(models.StatusDraft)

	tl := referral.Project(&ref)
	assert.Empty(t, completedKeys(tl))
	assert.Equal(t, "referral_submitted", currentKey(tl))

	steps := []struct {
		to       models.ReferralStatus
		actor    referral.Actor
		complete []string
	}{
		{models.StatusSent, senderActor, []string{"referral_submitted"}},
		{models.StatusAccepted, receiverActor, []string{"referral_submitted", "referral_accepted"}},
		{models.StatusCompleted, receiverActor, []string{"referral_submitted", "referral_accepted", "appointment_completed"}},
	}

	at := t0
	for _, step := range steps {
		var err error
		ref, _, err = referral.Transition(ref, step.to, step.actor, at)
		require.NoError(t, err)
		assert.Equal(t, step.complete, completedKeys(referral.Project(&ref)), "after %s", step.to)
		at = at.Add(24 * time.Hour)
	}
}

func TestProject_Flags(t *testing.T) {
	ref := fixture(models.StatusAccepted)
	sent, accepted := t0, t0.Add(48*time.Hour)
	ref.SentAt, ref.AcceptedAt = &sent, &accepted

	tl := referral.Project(&ref)
	require.Len(t, tl.Stages, 5)

	assert.True(t, tl.Stages[1].IsCompleted)
	assert.Equal(t, "May 8, 2024", tl.Stages[1].DateLabel)
	assert.Equal(t, "appointment_scheduled", currentKey(tl))
	assert.True(t, tl.Stages[3].IsPending)
	assert.True(t, tl.Stages[4].IsPending)
	assert.Empty(t, tl.Stages[2].DateLabel)

	for _, s := range tl.Stages {
		flags := 0
		for _, f := range []bool{s.IsCompleted, s.IsCurrent, s.IsPending, s.IsSkipped} {
			if f {
				flags++
			}
		}
		assert.Equal(t, 1, flags, "stage %s must carry exactly one flag", s.Key)
	}
}

func TestProject_SkippedStage(t *testing.T) {
	ref := fixture(models.StatusCompleted)
	sent, accepted, completed := t0, t0.Add(time.Hour), t0.Add(2*time.Hour)
	ref.SentAt, ref.AcceptedAt, ref.CompletedAt = &sent, &accepted, &completed

	tl := referral.Project(&ref)
	assert.True(t, tl.Stages[2].IsSkipped)
	assert.False(t, tl.Stages[2].IsCurrent)
	assert.Equal(t, "post_op_treatment_scheduled", currentKey(tl))
}

func TestProject_Terminal(t *testing.T) {
	t.Run("rejected", func(t *testing.T) {
		ref := fixture(models.StatusRejected)
		rejected := t0
		ref.RejectedAt = &rejected

		tl := referral.Project(&ref)
		require.Len(t, tl.Stages, 1)
		assert.Equal(t, "referral_rejected", tl.Stages[0].Key)
		assert.Equal(t, "May 6, 2024", tl.Stages[0].DateLabel)
	})

	t.Run("cancelled", func(t *testing.T) {
		ref := fixture(models.StatusCancelled)
		tl := referral.Project(&ref)
		require.Len(t, tl.Stages, 1)
		assert.Equal(t, "referral_cancelled", tl.Stages[0].Key)
	})
}

func TestProject_PureAndDeterministic(t *testing.T) {
	ref := fixture(models.StatusSent)
	sent := t0
	ref.SentAt = &sent
	before := ref

	first := referral.Project(&ref)
	second := referral.Project(&ref)
	assert.Equal(t, first, second)
	assert.Equal(t, before, ref)
}
