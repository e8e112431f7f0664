package handlers

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/hugh/go-referral/internal/api/dto"
	"github.com/hugh/go-referral/internal/api/middleware"
	"github.com/hugh/go-referral/internal/database/models"
	"github.com/hugh/go-referral/internal/referral"
	"github.com/hugh/go-referral/internal/storage"
)

type ReferralHandler struct {
	referrals *referral.Service
	urls      PublicURLs
	presigner storage.Presigner
}

// NewReferralHandler builds the dashboard endpoints. presigner may be nil,
// in which case attachments are listed without download URLs.
func NewReferralHandler(referrals *referral.Service, urls PublicURLs, presigner storage.Presigner) *ReferralHandler {
	return &ReferralHandler{referrals: referrals, urls: urls, presigner: presigner}
}

// Create handles POST /api/v1/referrals
func (h *ReferralHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req dto.CreateReferralRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if errors := req.Validate(); len(errors) > 0 {
		writeValidation(w, errors)
		return
	}

	ref, err := h.referrals.Create(r.Context(), middleware.GetActor(r.Context()), req.ToInput())
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.respond(w, r, http.StatusCreated, ref)
}

// List handles GET /api/v1/referrals
func (h *ReferralHandler) List(w http.ResponseWriter, r *http.Request) {
	params := dto.PaginationParams{}
	if page := r.URL.Query().Get("page"); page != "" {
		params.Page, _ = strconv.Atoi(page)
	}
	if perPage := r.URL.Query().Get("per_page"); perPage != "" {
		params.PerPage, _ = strconv.Atoi(perPage)
	}
	params.Normalize()

	filter := referral.ListFilter{
		Box:     r.URL.Query().Get("box"),
		Status:  models.ReferralStatus(r.URL.Query().Get("status")),
		Urgency: models.Urgency(r.URL.Query().Get("urgency")),
		Offset:  params.Offset(),
		Limit:   params.PerPage,
	}
	if filter.Box != "" && filter.Box != "incoming" && filter.Box != "outgoing" {
		writeValidation(w, map[string]string{"box": "box must be incoming or outgoing"})
		return
	}

	refs, total, err := h.referrals.List(r.Context(), middleware.GetActor(r.Context()), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}

	// The list view leaves sealed text closed.
	data := make([]dto.ReferralResponse, len(refs))
	for i := range refs {
		data[i] = dto.NewReferralResponse(&refs[i], referral.Clinical{})
	}

	writeJSON(w, http.StatusOK, dto.PaginatedResponse{
		Data:       data,
		Total:      total,
		Page:       params.Page,
		PerPage:    params.PerPage,
		TotalPages: params.TotalPages(total),
	})
}

// Get handles GET /api/v1/referrals/{id}
func (h *ReferralHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	ref, err := h.referrals.Get(r.Context(), middleware.GetActor(r.Context()), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.respond(w, r, http.StatusOK, ref)
}

// UpdateStatus handles PATCH /api/v1/referrals/{id}/status
func (h *ReferralHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	var req dto.TransitionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if errors := req.Validate(); len(errors) > 0 {
		writeValidation(w, errors)
		return
	}

	ref, err := h.referrals.Transition(r.Context(), middleware.GetActor(r.Context()), id, models.ReferralStatus(req.Status))
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.respond(w, r, http.StatusOK, ref)
}

// Schedule handles PUT /api/v1/referrals/{id}/schedule
func (h *ReferralHandler) Schedule(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	ref, err := h.referrals.Schedule(r.Context(), middleware.GetActor(r.Context()), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.respond(w, r, http.StatusOK, ref)
}

// SchedulePostOp handles PUT /api/v1/referrals/{id}/post-op
func (h *ReferralHandler) SchedulePostOp(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	ref, err := h.referrals.SchedulePostOp(r.Context(), middleware.GetActor(r.Context()), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.respond(w, r, http.StatusOK, ref)
}

// Share handles POST /api/v1/referrals/{id}/share
func (h *ReferralHandler) Share(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	tok, err := h.referrals.Share(r.Context(), middleware.GetActor(r.Context()), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.ShareResponse{
		ShareToken: tok,
		ShareURL:   h.urls.Share(tok),
	})
}

// StatusToken handles POST /api/v1/referrals/{id}/status-token
func (h *ReferralHandler) StatusToken(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	tok, err := h.referrals.IssueStatusToken(r.Context(), middleware.GetActor(r.Context()), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.StatusTokenResponse{
		StatusToken: tok,
		StatusURL:   h.urls.Status(tok),
	})
}

// Report handles POST /api/v1/referrals/{id}/report
func (h *ReferralHandler) Report(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	var req dto.ReportRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if errors := req.Validate(); len(errors) > 0 {
		writeValidation(w, errors)
		return
	}

	ref, err := h.referrals.SubmitReport(r.Context(), middleware.GetActor(r.Context()), id, req.ToInput())
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.respond(w, r, http.StatusCreated, ref)
}

// Events handles GET /api/v1/referrals/{id}/events
func (h *ReferralHandler) Events(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	events, err := h.referrals.Events(r.Context(), middleware.GetActor(r.Context()), id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := make([]dto.EventResponse, len(events))
	for i, evt := range events {
		resp[i] = dto.NewEventResponse(evt)
	}
	writeJSON(w, http.StatusOK, resp)
}

// respond opens the sealed fields and writes the full referral.
func (h *ReferralHandler) respond(w http.ResponseWriter, r *http.Request, status int, ref *models.Referral) {
	clinical, err := h.referrals.Open(ref)
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := dto.NewReferralResponse(ref, clinical)
	signAttachments(r, h.presigner, ref, resp.Report)
	writeJSON(w, status, resp)
}

// signAttachments fills in download URLs. A signing failure leaves that
// attachment without a URL instead of failing the request.
func signAttachments(r *http.Request, presigner storage.Presigner, ref *models.Referral, report *dto.ReportDTO) {
	if presigner == nil || report == nil {
		return
	}
	for i := range report.Attachments {
		if i >= len(ref.ReportAttachments) {
			break
		}
		url, err := presigner.PresignGet(r.Context(), ref.ReportAttachments[i].Key)
		if err != nil {
			slog.Default().WarnContext(r.Context(), "presigning attachment failed",
				"referral_id", ref.ID,
				"error", err,
			)
			continue
		}
		report.Attachments[i].URL = url
	}
}
