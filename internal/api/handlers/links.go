package handlers

import (
	"net/http"

	"github.com/hugh/go-referral/internal/api/dto"
	"github.com/hugh/go-referral/internal/api/middleware"
	"github.com/hugh/go-referral/internal/api/validation"
	"github.com/hugh/go-referral/internal/magiclink"
)

type LinkHandler struct {
	links *magiclink.Registry
	urls  PublicURLs
}

func NewLinkHandler(links *magiclink.Registry, urls PublicURLs) *LinkHandler {
	return &LinkHandler{links: links, urls: urls}
}

// Create handles POST /api/v1/referral-links
func (h *LinkHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req dto.CreateLinkRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if errors := req.Validate(); len(errors) > 0 {
		writeValidation(w, errors)
		return
	}

	issued, err := h.links.Create(r.Context(), magiclink.CreateInput{
		OwnerID:    middleware.GetUserID(r.Context()),
		ClinicID:   middleware.GetClinicID(r.Context()),
		Label:      validation.SanitizeString(req.Label),
		Specialty:  validation.SanitizeString(req.Specialty),
		AccessCode: req.AccessCode,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, dto.IssuedLinkResponse{
		LinkResponse: dto.NewLinkResponse(issued.Link, h.urls.Link(issued.Link.Token)),
		AccessCode:   issued.AccessCode,
	})
}

// List handles GET /api/v1/referral-links
func (h *LinkHandler) List(w http.ResponseWriter, r *http.Request) {
	links, err := h.links.List(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := make([]dto.LinkResponse, len(links))
	for i := range links {
		resp[i] = dto.NewLinkResponse(&links[i], h.urls.Link(links[i].Token))
	}
	writeJSON(w, http.StatusOK, resp)
}

// Update handles PUT /api/v1/referral-links/{id}
func (h *LinkHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	var req dto.UpdateLinkRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if errors := req.Validate(); len(errors) > 0 {
		writeValidation(w, errors)
		return
	}

	issued, err := h.links.Update(r.Context(), middleware.GetUserID(r.Context()), id, req.ToInput())
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.IssuedLinkResponse{
		LinkResponse: dto.NewLinkResponse(issued.Link, h.urls.Link(issued.Link.Token)),
		AccessCode:   issued.AccessCode,
	})
}

// Delete handles DELETE /api/v1/referral-links/{id}
func (h *LinkHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	if err := h.links.Delete(r.Context(), middleware.GetUserID(r.Context()), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
