package handlers_test

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/hugh/go-referral/internal/api/handlers"
	"github.com/hugh/go-referral/internal/api/middleware"
	"github.com/hugh/go-referral/internal/database/models"
	"github.com/hugh/go-referral/internal/magiclink"
	"github.com/hugh/go-referral/internal/referral"
	"github.com/hugh/go-referral/internal/testutil"
	"github.com/hugh/go-referral/internal/token"
)

const (
	testBaseURL      = "https://app.example.com"
	codeAttemptLimit = 20
)

type fakePresigner struct{}

func (fakePresigner) PresignGet(_ context.Context, key string) (string, error) {
	return "https://files.example.com/" + key + "?sig=test", nil
}

// referralEnv wires every handler the way the router does, for two clinics.
type referralEnv struct {
	*testutil.TestSetup
	router      *chi.Mux
	referrals   *referral.Service
	links       *magiclink.Registry
	toClinic    *models.Clinic
	toUser      *models.User
	toToken     string
	strangerTok string
}

func setupReferralEnv(t *testing.T) *referralEnv {
	t.Helper()

	ts := testutil.NewTestContext(t)
	t.Cleanup(ts.Cleanup)

	toClinic, toUser, toToken := ts.AddClinic(t, "Oral Surgery Partners")
	_, _, strangerTok := ts.AddClinic(t, "Unrelated Orthodontics")

	issuer := token.NewIssuer()
	digester := token.NewDigester(testutil.AccessCodeSecret)
	referrals := referral.NewService(ts.DB, issuer, digester, testutil.NewTestEncryptor(t), testutil.DiscardLogger())
	links := magiclink.NewRegistry(ts.DB, issuer, digester, referrals, testutil.DiscardLogger())

	urls := handlers.PublicURLs{Base: testBaseURL}
	referralHandler := handlers.NewReferralHandler(referrals, urls, fakePresigner{})
	linkHandler := handlers.NewLinkHandler(links, urls)
	clinicHandler := handlers.NewClinicHandler(referrals, urls)
	publicHandler := handlers.NewPublicHandler(referrals, links, urls, fakePresigner{})

	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(ts.JWTService))

			r.Get("/clinic", clinicHandler.Get)
			r.With(middleware.RequireRole("owner", "admin")).Put("/clinic", clinicHandler.Update)

			r.Get("/referrals", referralHandler.List)
			r.Post("/referrals", referralHandler.Create)
			r.Get("/referrals/{id}", referralHandler.Get)
			r.Patch("/referrals/{id}/status", referralHandler.UpdateStatus)
			r.Put("/referrals/{id}/schedule", referralHandler.Schedule)
			r.Put("/referrals/{id}/post-op", referralHandler.SchedulePostOp)
			r.Post("/referrals/{id}/share", referralHandler.Share)
			r.Post("/referrals/{id}/status-token", referralHandler.StatusToken)
			r.Post("/referrals/{id}/report", referralHandler.Report)
			r.Get("/referrals/{id}/events", referralHandler.Events)

			r.Get("/referral-links", linkHandler.List)
			r.Post("/referral-links", linkHandler.Create)
			r.Put("/referral-links/{id}", linkHandler.Update)
			r.Delete("/referral-links/{id}", linkHandler.Delete)
		})

		r.Get("/public/referral/{key}", publicHandler.SharedReferral)
		r.Post("/public/referral/{key}", publicHandler.SubmitToClinic)
		r.Get("/public/referral-status/{statusToken}", publicHandler.ReferralStatus)
		r.Get("/public/referral-link/{token}", publicHandler.Link)
		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimitByParam("token", codeAttemptLimit, 60))
			r.Post("/public/referral-link/{token}/verify", publicHandler.VerifyLink)
			r.Post("/public/referral-link/{token}/submit", publicHandler.SubmitViaLink)
		})
		r.Get("/public/clinic/{slug}", publicHandler.Clinic)
	})

	return &referralEnv{
		TestSetup:   ts,
		router:      r,
		referrals:   referrals,
		links:       links,
		toClinic:    toClinic,
		toUser:      toUser,
		toToken:     toToken,
		strangerTok: strangerTok,
	}
}

func (e *referralEnv) do(t *testing.T, method, path string, body interface{}, tok string) *httptest.ResponseRecorder {
	t.Helper()
	req := testutil.AuthenticatedRequest(t, method, path, body, tok)
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func (e *referralEnv) newReferralBody(send bool) map[string]interface{} {
	return map[string]interface{}{
		"to_clinic_id": e.toClinic.ID.String(),
		"patient": map[string]string{
			"first_name": "Maya",
			"last_name":  "Lopez",
			"birth_date": "1988-04-12",
			"phone":      "555-010-1234",
		},
		"reason":  "Impacted lower third molar",
		"urgency": "URGENT",
		"teeth":   []int{38, 48},
		"notes":   "Intermittent swelling since March.",
		"send":    send,
	}
}

func patientBody() map[string]interface{} {
	return map[string]interface{}{
		"sender_name":   "Dr. Jonas Weber",
		"sender_clinic": "Weber Family Dental",
		"sender_email":  "jonas@weber-dental.example",
		"patient": map[string]string{
			"first_name": "Lena",
			"last_name":  "Hoffmann",
		},
		"reason": "Implant consultation",
		"teeth":  []int{46},
	}
}
