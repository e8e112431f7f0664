package handlers_test

import (
	"net/http"
	"testing"

	"github.com/hugh/go-referral/internal/api/dto"
	"github.com/hugh/go-referral/internal/database/models"
	"github.com/hugh/go-referral/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClinicHandler_Get(t *testing.T) {
	env := setupReferralEnv(t)

	rr := env.do(t, "GET", "/api/v1/clinic", nil, env.Token)
	testutil.AssertStatus(t, rr, http.StatusOK)

	var out dto.ClinicResponse
	testutil.ParseJSONResponse(t, rr, &out)
	assert.Equal(t, env.Clinic.ID.String(), out.ID)
	assert.Equal(t, env.Clinic.Slug, out.Slug)
	assert.Equal(t, testBaseURL+"/clinic/"+env.Clinic.Slug, out.PublicURL)
	assert.False(t, out.WebhookConfigured)
}

func TestClinicHandler_Update(t *testing.T) {
	env := setupReferralEnv(t)

	t.Run("profile and webhook", func(t *testing.T) {
		body := map[string]interface{}{
			"name":                     "General Dentistry Downtown",
			"accepts_public_referrals": false,
			"webhook_url":              "https://hooks.example.com/referrals",
			"webhook_secret":           "0123456789abcdef0123",
		}
		rr := env.do(t, "PUT", "/api/v1/clinic", body, env.Token)
		testutil.AssertStatus(t, rr, http.StatusOK)

		var out dto.ClinicResponse
		testutil.ParseJSONResponse(t, rr, &out)
		assert.Equal(t, "General Dentistry Downtown", out.Name)
		assert.False(t, out.AcceptsPublicReferrals)
		assert.True(t, out.WebhookConfigured)
		assert.NotContains(t, rr.Body.String(), "0123456789abcdef0123")

		var stored models.Clinic
		require.NoError(t, env.DB.First(&stored, "id = ?", env.Clinic.ID).Error)
		assert.NotEqual(t, "0123456789abcdef0123", stored.WebhookSecret, "secret is stored sealed")
	})

	t.Run("plain http webhook", func(t *testing.T) {
		rr := env.do(t, "PUT", "/api/v1/clinic", map[string]interface{}{"webhook_url": "http://hooks.example.com"}, env.Token)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("short secret", func(t *testing.T) {
		rr := env.do(t, "PUT", "/api/v1/clinic", map[string]interface{}{"webhook_secret": "short"}, env.Token)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("staff cannot update", func(t *testing.T) {
		staff := testutil.CreateTestUser(t, env.DB, env.Clinic)
		require.NoError(t, env.DB.Model(staff).Update("role", "staff").Error)
		staff.Role = "staff"
		tok := testutil.GenerateTestToken(t, env.JWTService, staff)

		rr := env.do(t, "PUT", "/api/v1/clinic", map[string]interface{}{"name": "Hijacked"}, tok)
		assert.Equal(t, http.StatusForbidden, rr.Code)

		rr = env.do(t, "GET", "/api/v1/clinic", nil, tok)
		assert.Equal(t, http.StatusOK, rr.Code)
	})
}
