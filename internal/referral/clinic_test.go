package referral_test

import (
	"context"
	"testing"

	"github.com/hugh/go-referral/internal/referral"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestService_UpdateClinic(t *testing.T) {
	s := setupService(t)
	ctx := context.Background()

	t.Run("profile fields", func(t *testing.T) {
		closed := false
		clinic, err := s.svc.UpdateClinic(ctx, s.sender, referral.ClinicUpdate{
			City:                   strPtr(" Lisbon "),
			AcceptsPublicReferrals: &closed,
		})
		require.NoError(t, err)
		assert.Equal(t, "Lisbon", clinic.City)
		assert.False(t, clinic.AcceptsPublicReferrals)

		pc, err := s.svc.ClinicBySlug(ctx, clinic.Slug)
		require.NoError(t, err)
		assert.False(t, pc.AcceptsReferrals)
	})

	t.Run("webhook secret is sealed", func(t *testing.T) {
		clinic, err := s.svc.UpdateClinic(ctx, s.sender, referral.ClinicUpdate{
			WebhookURL:    strPtr("https://hooks.example.com/referrals"),
			WebhookSecret: strPtr("whsec_123"),
		})
		require.NoError(t, err)
		assert.Equal(t, "https://hooks.example.com/referrals", clinic.WebhookURL)
		assert.NotEqual(t, "whsec_123", clinic.WebhookSecret)

		opened, err := s.enc.OpenString(clinic.WebhookSecret)
		require.NoError(t, err)
		assert.Equal(t, "whsec_123", opened)
	})

	t.Run("clearing the url drops the secret", func(t *testing.T) {
		clinic, err := s.svc.UpdateClinic(ctx, s.sender, referral.ClinicUpdate{WebhookURL: strPtr("")})
		require.NoError(t, err)
		assert.Empty(t, clinic.WebhookURL)
		assert.Empty(t, clinic.WebhookSecret)
	})

	t.Run("blank name rejected", func(t *testing.T) {
		_, err := s.svc.UpdateClinic(ctx, s.sender, referral.ClinicUpdate{Name: strPtr("  ")})
		assert.ErrorIs(t, err, referral.ErrValidation)
	})

	t.Run("anonymous", func(t *testing.T) {
		_, err := s.svc.UpdateClinic(ctx, referral.Actor{}, referral.ClinicUpdate{})
		assert.ErrorIs(t, err, referral.ErrNotFound)
	})
}
