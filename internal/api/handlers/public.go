package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hugh/go-referral/internal/api/dto"
	"github.com/hugh/go-referral/internal/database/models"
	"github.com/hugh/go-referral/internal/magiclink"
	"github.com/hugh/go-referral/internal/referral"
	"github.com/hugh/go-referral/internal/storage"
)

// PublicHandler serves the unauthenticated, token-addressed endpoints.
type PublicHandler struct {
	referrals *referral.Service
	links     *magiclink.Registry
	urls      PublicURLs
	presigner storage.Presigner
}

func NewPublicHandler(referrals *referral.Service, links *magiclink.Registry, urls PublicURLs, presigner storage.Presigner) *PublicHandler {
	return &PublicHandler{referrals: referrals, links: links, urls: urls, presigner: presigner}
}

// SharedReferral handles GET /api/v1/public/referral/{key}, key being a
// share token. The POST on the same path takes a clinic slug.
func (h *PublicHandler) SharedReferral(w http.ResponseWriter, r *http.Request) {
	ref, err := h.referrals.ByShareToken(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	clinical, err := h.referrals.Open(ref)
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := dto.NewReferralResponse(ref, clinical)
	signAttachments(r, h.presigner, ref, resp.Report)
	writeJSON(w, http.StatusOK, resp)
}

// ReferralStatus handles GET /api/v1/public/referral-status/{statusToken}
func (h *PublicHandler) ReferralStatus(w http.ResponseWriter, r *http.Request) {
	ref, timeline, err := h.referrals.StatusByToken(
		r.Context(),
		chi.URLParam(r, "statusToken"),
		r.URL.Query().Get("accessCode"),
	)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.NewStatusView(ref, timeline))
}

// Link handles GET /api/v1/public/referral-link/{token}
func (h *PublicHandler) Link(w http.ResponseWriter, r *http.Request) {
	pub, err := h.links.Public(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !pub.IsActive {
		writeError(w, r, referral.ErrLinkInactive)
		return
	}
	writeJSON(w, http.StatusOK, pub)
}

// VerifyLink handles POST /api/v1/public/referral-link/{token}/verify
func (h *PublicHandler) VerifyLink(w http.ResponseWriter, r *http.Request) {
	var req dto.VerifyLinkRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if _, err := h.links.Verify(r.Context(), chi.URLParam(r, "token"), req.AccessCode); err != nil {
		status, body := errorFor(err)
		if status == http.StatusInternalServerError {
			writeError(w, r, err)
			return
		}
		writeJSON(w, status, dto.VerifyLinkResponse{Verified: false, Error: body.Error, Code: body.Code})
		return
	}
	writeJSON(w, http.StatusOK, dto.VerifyLinkResponse{Verified: true})
}

// SubmitViaLink handles POST /api/v1/public/referral-link/{token}/submit
func (h *PublicHandler) SubmitViaLink(w http.ResponseWriter, r *http.Request) {
	var req dto.LinkSubmitRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if errors := req.Validate(); len(errors) > 0 {
		writeValidation(w, errors)
		return
	}

	ref, err := h.links.Submit(r.Context(), chi.URLParam(r, "token"), req.AccessCode, req.ToInput())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, h.submitted(ref))
}

// Clinic handles GET /api/v1/public/clinic/{slug}
func (h *PublicHandler) Clinic(w http.ResponseWriter, r *http.Request) {
	clinic, err := h.referrals.ClinicBySlug(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, clinic)
}

// SubmitToClinic handles POST /api/v1/public/referral/{key}, key being a
// clinic slug.
func (h *PublicHandler) SubmitToClinic(w http.ResponseWriter, r *http.Request) {
	var req dto.IncomingReferralRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if errors := req.Validate(); len(errors) > 0 {
		writeValidation(w, errors)
		return
	}

	ref, err := h.referrals.SubmitToClinic(r.Context(), chi.URLParam(r, "key"), req.ToInput())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, h.submitted(ref))
}

func (h *PublicHandler) submitted(ref *models.Referral) dto.SubmittedResponse {
	resp := dto.SubmittedResponse{
		ID:     ref.ID.String(),
		Status: string(ref.Status),
	}
	if ref.StatusToken != nil {
		resp.StatusToken = *ref.StatusToken
		resp.StatusURL = h.urls.Status(*ref.StatusToken)
	}
	return resp
}
