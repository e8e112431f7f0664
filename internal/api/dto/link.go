package dto

import (
	"time"

	"github.com/hugh/go-referral/internal/api/validation"
	"github.com/hugh/go-referral/internal/database/models"
	"github.com/hugh/go-referral/internal/magiclink"
)

type CreateLinkRequest struct {
	Label      string `json:"label,omitempty" validate:"max=100"`
	Specialty  string `json:"specialty" validate:"required,max=100"`
	AccessCode string `json:"access_code,omitempty"` // format checked by the registry
}

func (r CreateLinkRequest) Validate() map[string]string {
	return validation.Struct(r)
}

type UpdateLinkRequest struct {
	IsActive             *bool   `json:"is_active,omitempty"`
	Label                *string `json:"label,omitempty" validate:"omitempty,max=100"`
	Specialty            *string `json:"specialty,omitempty" validate:"omitempty,min=1,max=100"`
	RegenerateAccessCode bool    `json:"regenerate_access_code"`
	AccessCode           string  `json:"access_code,omitempty"`
}

func (r UpdateLinkRequest) Validate() map[string]string {
	return validation.Struct(r)
}

func (r UpdateLinkRequest) ToInput() magiclink.UpdateInput {
	in := magiclink.UpdateInput{
		IsActive:             r.IsActive,
		Label:                r.Label,
		Specialty:            r.Specialty,
		RegenerateAccessCode: r.RegenerateAccessCode,
		AccessCode:           r.AccessCode,
	}
	if in.Label != nil {
		label := validation.SanitizeString(*in.Label)
		in.Label = &label
	}
	if in.Specialty != nil {
		specialty := validation.SanitizeString(*in.Specialty)
		in.Specialty = &specialty
	}
	return in
}

type LinkResponse struct {
	ID            string    `json:"id"`
	Token         string    `json:"token"`
	URL           string    `json:"url"`
	Label         string    `json:"label,omitempty"`
	Specialty     string    `json:"specialty"`
	IsActive      bool      `json:"is_active"`
	ReferralCount int64     `json:"referral_count"`
	CodeRotatedAt time.Time `json:"code_rotated_at"`
	CreatedAt     time.Time `json:"created_at"`
}

func NewLinkResponse(link *models.ReferralLink, url string) LinkResponse {
	return LinkResponse{
		ID:            link.ID.String(),
		Token:         link.Token,
		URL:           url,
		Label:         link.Label,
		Specialty:     link.Specialty,
		IsActive:      link.IsActive,
		ReferralCount: link.ReferralCount,
		CodeRotatedAt: link.CodeRotatedAt,
		CreatedAt:     link.CreatedAt,
	}
}

// IssuedLinkResponse carries the clear access code. It is only produced on
// create and on rotation.
type IssuedLinkResponse struct {
	LinkResponse
	AccessCode string `json:"access_code,omitempty"`
}

// VerifyLinkRequest leaves the code unchecked here so a missing or
// malformed code gets the same error codes as a wrong one.
type VerifyLinkRequest struct {
	AccessCode string `json:"access_code"`
}

type VerifyLinkResponse struct {
	Verified bool   `json:"verified"`
	Error    string `json:"error,omitempty"`
	Code     string `json:"code,omitempty"`
}

type LinkSubmitRequest struct {
	AccessCode string `json:"access_code"`
	IncomingReferralRequest
}
