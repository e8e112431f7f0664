package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/hugh/go-referral/internal/api/dto"
	"github.com/hugh/go-referral/internal/api/middleware"
	"github.com/hugh/go-referral/internal/auth"
	"github.com/hugh/go-referral/internal/database/models"
)

type AuthHandler struct {
	authService  *auth.Service
	cookieTTL    time.Duration
	secureCookie bool
}

func NewAuthHandler(authService *auth.Service, cookieTTL time.Duration, secureCookie bool) *AuthHandler {
	if cookieTTL <= 0 {
		cookieTTL = 24 * time.Hour
	}
	return &AuthHandler{authService: authService, cookieTTL: cookieTTL, secureCookie: secureCookie}
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req dto.RegisterRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))

	if errors := req.Validate(); len(errors) > 0 {
		writeValidation(w, errors)
		return
	}

	resp, err := h.authService.Register(r.Context(), auth.RegisterInput{
		Email:      req.Email,
		Password:   req.Password,
		Name:       strings.TrimSpace(req.Name),
		ClinicName: strings.TrimSpace(req.ClinicName),
		ClinicSlug: req.ClinicSlug,
		City:       strings.TrimSpace(req.City),
		Phone:      req.Phone,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	h.setSession(w, resp.Token)
	writeJSON(w, http.StatusCreated, dto.AuthResponse{
		Token: resp.Token,
		User:  userDTO(resp.User),
	})
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req dto.LoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if errors := req.Validate(); len(errors) > 0 {
		writeValidation(w, errors)
		return
	}

	resp, err := h.authService.Login(r.Context(), auth.LoginInput{
		Email:    strings.ToLower(strings.TrimSpace(req.Email)),
		Password: req.Password,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	h.setSession(w, resp.Token)
	writeJSON(w, http.StatusOK, dto.AuthResponse{
		Token: resp.Token,
		User:  userDTO(resp.User),
	})
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     "token",
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})

	writeJSON(w, http.StatusOK, dto.SuccessResponse{Message: "Logged out"})
}

// Me handles GET /api/v1/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, err := h.authService.GetUserByID(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, userDTO(user))
}

func (h *AuthHandler) setSession(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     "token",
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(h.cookieTTL.Seconds()),
	})
}

func userDTO(u *models.User) dto.UserDTO {
	out := dto.UserDTO{
		ID:       u.ID.String(),
		Email:    u.Email,
		Name:     u.Name,
		Role:     u.Role,
		ClinicID: u.ClinicID.String(),
	}
	if u.Clinic != nil {
		out.ClinicName = u.Clinic.Name
		out.ClinicSlug = u.Clinic.Slug
	}
	return out
}
