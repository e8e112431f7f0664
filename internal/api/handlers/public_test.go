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

func TestPublicHandler_SharedReferral(t *testing.T) {
	env := setupReferralEnv(t)
	ref := env.createReferral(t, true)

	rr := env.do(t, "POST", "/api/v1/referrals/"+ref.ID+"/share", nil, env.Token)
	var share dto.ShareResponse
	testutil.ParseJSONResponse(t, rr, &share)

	t.Run("resolves", func(t *testing.T) {
		rr := env.do(t, "GET", "/api/v1/public/referral/"+share.ShareToken, nil, "")
		testutil.AssertStatus(t, rr, http.StatusOK)

		var out dto.ReferralResponse
		testutil.ParseJSONResponse(t, rr, &out)
		assert.Equal(t, ref.ID, out.ID)
		assert.Equal(t, "Maya", out.Patient.FirstName)
		assert.Equal(t, "Intermittent swelling since March.", out.Notes)
	})

	t.Run("unknown token", func(t *testing.T) {
		rr := env.do(t, "GET", "/api/v1/public/referral/nope", nil, "")
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})

	t.Run("cancelled referral", func(t *testing.T) {
		rr := env.do(t, "PATCH", "/api/v1/referrals/"+ref.ID+"/status", map[string]string{"status": "CANCELLED"}, env.Token)
		testutil.AssertStatus(t, rr, http.StatusOK)

		rr = env.do(t, "GET", "/api/v1/public/referral/"+share.ShareToken, nil, "")
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})
}

func TestPublicHandler_ReferralStatus(t *testing.T) {
	env := setupReferralEnv(t)

	t.Run("dashboard referral needs no code", func(t *testing.T) {
		ref := env.createReferral(t, true)
		rr := env.do(t, "POST", "/api/v1/referrals/"+ref.ID+"/status-token", nil, env.Token)
		var st dto.StatusTokenResponse
		testutil.ParseJSONResponse(t, rr, &st)

		rr = env.do(t, "GET", "/api/v1/public/referral-status/"+st.StatusToken, nil, "")
		testutil.AssertStatus(t, rr, http.StatusOK)

		var view dto.StatusView
		testutil.ParseJSONResponse(t, rr, &view)
		assert.Equal(t, "Maya", view.PatientName)
		assert.Equal(t, "Oral Surgery Partners", view.ClinicName)
		assert.Equal(t, "SENT", view.Status)
		require.Len(t, view.Timeline, 5)
		assert.True(t, view.Timeline[0].IsCompleted)
		assert.True(t, view.Timeline[1].IsCurrent)
		assert.NotContains(t, rr.Body.String(), "Lopez")
	})

	t.Run("magic link referral needs the link code", func(t *testing.T) {
		link := env.createLink(t, map[string]interface{}{"specialty": "Oral Surgery", "access_code": "7392"})
		body := patientBody()
		body["access_code"] = "7392"

		rr := env.do(t, "POST", "/api/v1/public/referral-link/"+link.Token+"/submit", body, "")
		testutil.AssertStatus(t, rr, http.StatusCreated)
		var sub dto.SubmittedResponse
		testutil.ParseJSONResponse(t, rr, &sub)

		path := "/api/v1/public/referral-status/" + sub.StatusToken

		rr = env.do(t, "GET", path, nil, "")
		assert.Equal(t, http.StatusUnauthorized, rr.Code)

		rr = env.do(t, "GET", path+"?accessCode=0000", nil, "")
		assert.Equal(t, http.StatusForbidden, rr.Code)

		rr = env.do(t, "GET", path+"?accessCode=7392", nil, "")
		testutil.AssertStatus(t, rr, http.StatusOK)

		var view dto.StatusView
		testutil.ParseJSONResponse(t, rr, &view)
		assert.Equal(t, "SUBMITTED", view.Status)
		assert.Equal(t, "Lena", view.PatientName)
	})

	t.Run("unknown token looks like a locked one", func(t *testing.T) {
		link := env.createLink(t, map[string]interface{}{"specialty": "Oral Surgery", "access_code": "6408"})
		body := patientBody()
		body["access_code"] = "6408"
		rr := env.do(t, "POST", "/api/v1/public/referral-link/"+link.Token+"/submit", body, "")
		testutil.AssertStatus(t, rr, http.StatusCreated)
		var sub dto.SubmittedResponse
		testutil.ParseJSONResponse(t, rr, &sub)

		known := "/api/v1/public/referral-status/" + sub.StatusToken
		unknown := "/api/v1/public/referral-status/unknown"

		for _, query := range []string{"", "?accessCode=0000"} {
			knownRR := env.do(t, "GET", known+query, nil, "")
			unknownRR := env.do(t, "GET", unknown+query, nil, "")
			assert.Equal(t, knownRR.Code, unknownRR.Code, "query %q", query)
			assert.JSONEq(t, knownRR.Body.String(), unknownRR.Body.String(), "query %q", query)
		}

		rr = env.do(t, "GET", unknown, nil, "")
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		rr = env.do(t, "GET", unknown+"?accessCode=0000", nil, "")
		assert.Equal(t, http.StatusForbidden, rr.Code)
	})
}

func TestPublicHandler_Link(t *testing.T) {
	env := setupReferralEnv(t)
	link := env.createLink(t, map[string]interface{}{"specialty": "Oral Surgery", "label": "private label", "access_code": "5150"})
	path := "/api/v1/public/referral-link/" + link.Token

	t.Run("metadata", func(t *testing.T) {
		rr := env.do(t, "GET", path, nil, "")
		testutil.AssertStatus(t, rr, http.StatusOK)
		assert.NotContains(t, rr.Body.String(), "private label")
		assert.Contains(t, rr.Body.String(), "Oral Surgery Partners")
	})

	t.Run("verify", func(t *testing.T) {
		rr := env.do(t, "POST", path+"/verify", map[string]string{"access_code": "5150"}, "")
		testutil.AssertStatus(t, rr, http.StatusOK)

		var out dto.VerifyLinkResponse
		testutil.ParseJSONResponse(t, rr, &out)
		assert.True(t, out.Verified)

		rr = env.do(t, "POST", path+"/verify", map[string]string{"access_code": "5151"}, "")
		assert.Equal(t, http.StatusForbidden, rr.Code)
		testutil.ParseJSONResponse(t, rr, &out)
		assert.False(t, out.Verified)
		assert.Equal(t, "ACCESS_CODE_MISMATCH", out.Code)

		rr = env.do(t, "POST", path+"/verify", map[string]string{}, "")
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("submit", func(t *testing.T) {
		body := patientBody()
		body["access_code"] = "5151"
		rr := env.do(t, "POST", path+"/submit", body, "")
		assert.Equal(t, http.StatusForbidden, rr.Code)

		body["access_code"] = "5150"
		rr = env.do(t, "POST", path+"/submit", body, "")
		testutil.AssertStatus(t, rr, http.StatusCreated)

		var sub dto.SubmittedResponse
		testutil.ParseJSONResponse(t, rr, &sub)
		assert.Equal(t, "SUBMITTED", sub.Status)
		assert.Equal(t, testBaseURL+"/status/"+sub.StatusToken, sub.StatusURL)

		var stored models.ReferralLink
		require.NoError(t, env.DB.First(&stored, "token = ?", link.Token).Error)
		assert.Equal(t, int64(1), stored.ReferralCount)

		rr = env.do(t, "GET", "/api/v1/referrals/"+sub.ID, nil, env.toToken)
		testutil.AssertStatus(t, rr, http.StatusOK)
		var ref dto.ReferralResponse
		testutil.ParseJSONResponse(t, rr, &ref)
		assert.Equal(t, "INCOMING", ref.Direction)
		assert.Equal(t, "MAGIC_LINK", ref.Origin)
		assert.Equal(t, "Dr. Jonas Weber", ref.SenderName)
	})

	t.Run("invalid submission", func(t *testing.T) {
		body := patientBody()
		body["access_code"] = "5150"
		delete(body, "sender_name")
		rr := env.do(t, "POST", path+"/submit", body, "")
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("inactive", func(t *testing.T) {
		rr := env.do(t, "PUT", "/api/v1/referral-links/"+link.ID, map[string]interface{}{"is_active": false}, env.toToken)
		testutil.AssertStatus(t, rr, http.StatusOK)

		rr = env.do(t, "GET", path, nil, "")
		assert.Equal(t, http.StatusGone, rr.Code)

		body := patientBody()
		body["access_code"] = "5150"
		rr = env.do(t, "POST", path+"/submit", body, "")
		assert.Equal(t, http.StatusGone, rr.Code)
	})
}

func TestPublicHandler_Clinic(t *testing.T) {
	env := setupReferralEnv(t)
	slug := env.toClinic.Slug

	rr := env.do(t, "GET", "/api/v1/public/clinic/"+slug, nil, "")
	testutil.AssertStatus(t, rr, http.StatusOK)
	assert.Contains(t, rr.Body.String(), "Oral Surgery Partners")

	rr = env.do(t, "POST", "/api/v1/public/referral/"+slug, patientBody(), "")
	testutil.AssertStatus(t, rr, http.StatusCreated)

	var sub dto.SubmittedResponse
	testutil.ParseJSONResponse(t, rr, &sub)
	assert.NotEmpty(t, sub.StatusToken)

	rr = env.do(t, "GET", "/api/v1/public/referral-status/"+sub.StatusToken, nil, "")
	testutil.AssertStatus(t, rr, http.StatusOK)

	rr = env.do(t, "POST", "/api/v1/public/referral/no-such-clinic", patientBody(), "")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	require.NoError(t, env.DB.Model(env.toClinic).Update("accepts_public_referrals", false).Error)
	rr = env.do(t, "POST", "/api/v1/public/referral/"+slug, patientBody(), "")
	assert.Equal(t, http.StatusGone, rr.Code)
}

func TestPublicHandler_CodeAttemptsPerLink(t *testing.T) {
	env := setupReferralEnv(t)
	guessed := env.createLink(t, map[string]interface{}{"specialty": "Oral Surgery", "access_code": "2468"})
	other := env.createLink(t, map[string]interface{}{"specialty": "Oral Surgery", "access_code": "1357"})

	path := "/api/v1/public/referral-link/" + guessed.Token
	for i := 0; i < codeAttemptLimit; i++ {
		rr := env.do(t, "POST", path+"/verify", map[string]string{"access_code": "0000"}, "")
		require.Equal(t, http.StatusForbidden, rr.Code, "attempt %d", i)
	}

	rr := env.do(t, "POST", path+"/verify", map[string]string{"access_code": "2468"}, "")
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Contains(t, rr.Body.String(), "RATE_LIMITED")

	body := patientBody()
	body["access_code"] = "2468"
	rr = env.do(t, "POST", path+"/submit", body, "")
	assert.Equal(t, http.StatusTooManyRequests, rr.Code, "submit shares the per-link budget")

	rr = env.do(t, "POST", "/api/v1/public/referral-link/"+other.Token+"/verify", map[string]string{"access_code": "1357"}, "")
	testutil.AssertStatus(t, rr, http.StatusOK)
}
