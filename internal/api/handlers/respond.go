package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/hugh/go-referral/internal/api/dto"
	"github.com/hugh/go-referral/internal/auth"
	"github.com/hugh/go-referral/internal/referral"
)

// maxBodyBytes caps request bodies. Referral payloads are small; report
// attachments are uploaded out of band.
const maxBodyBytes = 1 << 20

type errorMapping struct {
	err     error
	status  int
	code    string
	message string
}

// errorTable is matched in order with errors.Is. Typed errors that carry
// details are handled in writeError before the table is consulted.
var errorTable = []errorMapping{
	{referral.ErrNotFound, http.StatusNotFound, "NOT_FOUND", "Not found"},
	{referral.ErrAccessCodeRequired, http.StatusUnauthorized, "ACCESS_CODE_REQUIRED", "Access code required"},
	{referral.ErrAccessCodeMismatch, http.StatusForbidden, "ACCESS_CODE_MISMATCH", "Access code does not match"},
	{referral.ErrLinkInactive, http.StatusGone, "LINK_INACTIVE", "This referral link is no longer active"},
	{referral.ErrDuplicateAccessCode, http.StatusConflict, "DUPLICATE_ACCESS_CODE", "Access code already in use"},
	{referral.ErrInvalidAccessCodeFormat, http.StatusBadRequest, "INVALID_ACCESS_CODE_FORMAT", "Access code must be 4 to 8 digits"},
	{referral.ErrConflict, http.StatusConflict, "CONFLICT", "The referral was modified concurrently, retry"},
	{referral.ErrForbidden, http.StatusForbidden, "FORBIDDEN", "Not allowed"},
	{referral.ErrReportExists, http.StatusConflict, "REPORT_EXISTS", "A report was already submitted"},
	{auth.ErrUserExists, http.StatusConflict, "USER_EXISTS", "User already exists"},
	{auth.ErrSlugTaken, http.StatusConflict, "SLUG_TAKEN", "Clinic slug already taken"},
	{auth.ErrInvalidCredentials, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid credentials"},
	{auth.ErrInactiveUser, http.StatusForbidden, "INACTIVE_USER", "Account is inactive"},
	{auth.ErrUserNotFound, http.StatusNotFound, "NOT_FOUND", "User not found"},
}

// errorFor resolves err to a status and response body. Unknown errors are
// reported as a bare 500.
func errorFor(err error) (int, dto.ErrorResponse) {
	var illegal *referral.IllegalTransitionError
	if errors.As(err, &illegal) {
		return http.StatusConflict, dto.ErrorResponse{
			Error: "Illegal status transition",
			Code:  "ILLEGAL_TRANSITION",
			Details: map[string]string{
				"from": string(illegal.From),
				"to":   illegal.To,
			},
		}
	}

	var invalid *referral.ValidationError
	if errors.As(err, &invalid) {
		return http.StatusBadRequest, dto.ErrorResponse{
			Error:   "Validation failed",
			Code:    "VALIDATION_ERROR",
			Details: invalid.Fields,
		}
	}
	if errors.Is(err, referral.ErrValidation) {
		return http.StatusBadRequest, dto.ErrorResponse{Error: "Validation failed", Code: "VALIDATION_ERROR"}
	}

	for _, m := range errorTable {
		if errors.Is(err, m.err) {
			return m.status, dto.ErrorResponse{Error: m.message, Code: m.code}
		}
	}

	return http.StatusInternalServerError, dto.ErrorResponse{Error: "Internal server error", Code: "INTERNAL"}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := errorFor(err)
	if status == http.StatusInternalServerError {
		slog.Default().ErrorContext(r.Context(), "request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
	}
	writeJSON(w, status, body)
}

func writeValidation(w http.ResponseWriter, details map[string]string) {
	writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{
		Error:   "Validation failed",
		Code:    "VALIDATION_ERROR",
		Details: details,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeJSON reads a single JSON object from the body and answers 400 itself
// when it cannot. An empty body decodes to the zero value.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid request body", Code: "INVALID_BODY"})
		return false
	}
	return true
}

func parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid ID", Code: "INVALID_ID"})
		return uuid.Nil, false
	}
	return id, true
}
