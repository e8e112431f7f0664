package dto

import (
	"github.com/hugh/go-referral/internal/api/validation"
	"github.com/hugh/go-referral/internal/database/models"
	"github.com/hugh/go-referral/internal/referral"
)

type ClinicResponse struct {
	ID                     string `json:"id"`
	Name                   string `json:"name"`
	Slug                   string `json:"slug"`
	City                   string `json:"city,omitempty"`
	Phone                  string `json:"phone,omitempty"`
	AcceptsPublicReferrals bool   `json:"accepts_public_referrals"`
	WebhookURL             string `json:"webhook_url,omitempty"`
	WebhookConfigured      bool   `json:"webhook_configured"`
	PublicURL              string `json:"public_url"`
}

func NewClinicResponse(c *models.Clinic, publicURL string) ClinicResponse {
	return ClinicResponse{
		ID:                     c.ID.String(),
		Name:                   c.Name,
		Slug:                   c.Slug,
		City:                   c.City,
		Phone:                  c.Phone,
		AcceptsPublicReferrals: c.AcceptsPublicReferrals,
		WebhookURL:             c.WebhookURL,
		WebhookConfigured:      c.WebhookURL != "" && c.WebhookSecret != "",
		PublicURL:              publicURL,
	}
}

type UpdateClinicRequest struct {
	Name                   *string `json:"name,omitempty" validate:"omitempty,max=200"`
	City                   *string `json:"city,omitempty" validate:"omitempty,max=100"`
	Phone                  *string `json:"phone,omitempty" validate:"omitempty,phone"`
	AcceptsPublicReferrals *bool   `json:"accepts_public_referrals,omitempty"`
	WebhookURL             *string `json:"webhook_url,omitempty" validate:"omitempty,url,startswith=https://"`
	WebhookSecret          *string `json:"webhook_secret,omitempty" validate:"omitempty,min=16,max=256"`
}

func (r UpdateClinicRequest) Validate() map[string]string {
	return validation.Struct(r)
}

func (r UpdateClinicRequest) ToInput() referral.ClinicUpdate {
	return referral.ClinicUpdate{
		Name:                   r.Name,
		City:                   r.City,
		Phone:                  r.Phone,
		AcceptsPublicReferrals: r.AcceptsPublicReferrals,
		WebhookURL:             r.WebhookURL,
		WebhookSecret:          r.WebhookSecret,
	}
}
