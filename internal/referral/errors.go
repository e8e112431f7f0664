package referral

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/hugh/go-referral/internal/database/models"
	"github.com/hugh/go-referral/internal/token"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrAccessCodeRequired  = errors.New("access code required")
	ErrAccessCodeMismatch  = errors.New("access code does not match")
	ErrIllegalTransition   = errors.New("illegal transition")
	ErrLinkInactive        = errors.New("referral link is inactive")
	ErrDuplicateAccessCode = errors.New("access code already in use")
	ErrValidation          = errors.New("validation failed")
	ErrConflict            = errors.New("concurrent modification")
	ErrForbidden           = errors.New("forbidden")
	ErrReportExists        = errors.New("post-treatment report already submitted")

	// Shared with the token package so format checks report one error.
	ErrInvalidAccessCodeFormat = token.ErrInvalidAccessCodeFormat
)

// IllegalTransitionError names the rejected edge.
type IllegalTransitionError struct {
	From models.ReferralStatus
	To   string
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal transition from %s to %s", e.From, e.To)
}

func (e *IllegalTransitionError) Unwrap() error {
	return ErrIllegalTransition
}

// ValidationError carries per-field messages.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return "validation failed: " + strings.Join(keys, ", ")
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

func invalid(fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	return &ValidationError{Fields: fields}
}
