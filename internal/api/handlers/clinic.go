package handlers

import (
	"net/http"

	"github.com/hugh/go-referral/internal/api/dto"
	"github.com/hugh/go-referral/internal/api/middleware"
	"github.com/hugh/go-referral/internal/referral"
)

type ClinicHandler struct {
	referrals *referral.Service
	urls      PublicURLs
}

func NewClinicHandler(referrals *referral.Service, urls PublicURLs) *ClinicHandler {
	return &ClinicHandler{referrals: referrals, urls: urls}
}

// Get handles GET /api/v1/clinic
func (h *ClinicHandler) Get(w http.ResponseWriter, r *http.Request) {
	clinic, err := h.referrals.Clinic(r.Context(), middleware.GetActor(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.NewClinicResponse(clinic, h.urls.Clinic(clinic.Slug)))
}

// Update handles PUT /api/v1/clinic
func (h *ClinicHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req dto.UpdateClinicRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if errors := req.Validate(); len(errors) > 0 {
		writeValidation(w, errors)
		return
	}

	clinic, err := h.referrals.UpdateClinic(r.Context(), middleware.GetActor(r.Context()), req.ToInput())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.NewClinicResponse(clinic, h.urls.Clinic(clinic.Slug)))
}
