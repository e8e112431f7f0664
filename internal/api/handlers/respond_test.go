package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hugh/go-referral/internal/auth"
	"github.com/hugh/go-referral/internal/database/models"
	"github.com/hugh/go-referral/internal/referral"
	"github.com/stretchr/testify/assert"
)

func TestErrorFor(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"not found", referral.ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
		{"wrapped not found", fmt.Errorf("loading: %w", referral.ErrNotFound), http.StatusNotFound, "NOT_FOUND"},
		{"code required", referral.ErrAccessCodeRequired, http.StatusUnauthorized, "ACCESS_CODE_REQUIRED"},
		{"code mismatch", referral.ErrAccessCodeMismatch, http.StatusForbidden, "ACCESS_CODE_MISMATCH"},
		{"link inactive", referral.ErrLinkInactive, http.StatusGone, "LINK_INACTIVE"},
		{"duplicate code", referral.ErrDuplicateAccessCode, http.StatusConflict, "DUPLICATE_ACCESS_CODE"},
		{"bad code format", referral.ErrInvalidAccessCodeFormat, http.StatusBadRequest, "INVALID_ACCESS_CODE_FORMAT"},
		{"conflict", referral.ErrConflict, http.StatusConflict, "CONFLICT"},
		{"forbidden", referral.ErrForbidden, http.StatusForbidden, "FORBIDDEN"},
		{"report exists", referral.ErrReportExists, http.StatusConflict, "REPORT_EXISTS"},
		{"bare validation", referral.ErrValidation, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"user exists", auth.ErrUserExists, http.StatusConflict, "USER_EXISTS"},
		{"slug taken", auth.ErrSlugTaken, http.StatusConflict, "SLUG_TAKEN"},
		{"bad credentials", auth.ErrInvalidCredentials, http.StatusUnauthorized, "INVALID_CREDENTIALS"},
		{"inactive user", auth.ErrInactiveUser, http.StatusForbidden, "INACTIVE_USER"},
		{"unknown", errors.New("disk on fire"), http.StatusInternalServerError, "INTERNAL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := errorFor(tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.code, body.Code)
			assert.NotEmpty(t, body.Error)
		})
	}
}

func TestErrorFor_Details(t *testing.T) {
	status, body := errorFor(&referral.IllegalTransitionError{From: models.StatusCompleted, To: "SENT"})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "ILLEGAL_TRANSITION", body.Code)
	assert.Equal(t, map[string]string{"from": "COMPLETED", "to": "SENT"}, body.Details)

	status, body = errorFor(&referral.ValidationError{Fields: map[string]string{"reason": "required"}})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "required", body.Details["reason"])
}

func TestWriteError_HidesInternals(t *testing.T) {
	rr := httptest.NewRecorder()
	writeError(rr, httptest.NewRequest("GET", "/x", nil), errors.New("pq: password authentication failed"))

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.NotContains(t, rr.Body.String(), "password")
}

func TestDecodeJSON(t *testing.T) {
	var v struct {
		Name string `json:"name"`
	}

	rr := httptest.NewRecorder()
	ok := decodeJSON(rr, httptest.NewRequest("POST", "/", strings.NewReader(`{"name":"a"}`)), &v)
	assert.True(t, ok)
	assert.Equal(t, "a", v.Name)

	rr = httptest.NewRecorder()
	ok = decodeJSON(rr, httptest.NewRequest("POST", "/", http.NoBody), &v)
	assert.True(t, ok, "empty body is allowed")

	rr = httptest.NewRecorder()
	ok = decodeJSON(rr, httptest.NewRequest("POST", "/", strings.NewReader(`{"name":`)), &v)
	assert.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = httptest.NewRecorder()
	big := `{"name":"` + strings.Repeat("x", maxBodyBytes) + `"}`
	ok = decodeJSON(rr, httptest.NewRequest("POST", "/", strings.NewReader(big)), &v)
	assert.False(t, ok)
}
