package referral

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hugh/go-referral/internal/database/models"
	"gorm.io/gorm"
)

// ClinicUpdate changes the caller's clinic profile. Nil fields are left
// alone. An empty WebhookURL disables notifications and clears the secret.
type ClinicUpdate struct {
	Name                   *string
	City                   *string
	Phone                  *string
	AcceptsPublicReferrals *bool
	WebhookURL             *string
	WebhookSecret          *string
}

func (s *Service) Clinic(ctx context.Context, actor Actor) (*models.Clinic, error) {
	if actor.Anonymous() {
		return nil, ErrNotFound
	}
	var clinic models.Clinic
	err := s.db.WithContext(ctx).Where("id = ?", actor.ClinicID).First(&clinic).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading clinic: %w", err)
	}
	return &clinic, nil
}

func (s *Service) UpdateClinic(ctx context.Context, actor Actor, in ClinicUpdate) (*models.Clinic, error) {
	clinic, err := s.Clinic(ctx, actor)
	if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{}
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			return nil, invalid(map[string]string{"name": "required"})
		}
		updates["name"] = name
	}
	if in.City != nil {
		updates["city"] = strings.TrimSpace(*in.City)
	}
	if in.Phone != nil {
		updates["phone"] = strings.TrimSpace(*in.Phone)
	}
	if in.AcceptsPublicReferrals != nil {
		updates["accepts_public_referrals"] = *in.AcceptsPublicReferrals
	}
	if in.WebhookURL != nil {
		url := strings.TrimSpace(*in.WebhookURL)
		updates["webhook_url"] = url
		if url == "" {
			updates["webhook_secret"] = ""
		}
	}
	if in.WebhookSecret != nil && (in.WebhookURL == nil || strings.TrimSpace(*in.WebhookURL) != "") {
		sealed, err := s.sealer.SealString(*in.WebhookSecret)
		if err != nil {
			return nil, fmt.Errorf("sealing webhook secret: %w", err)
		}
		updates["webhook_secret"] = sealed
	}
	if len(updates) == 0 {
		return clinic, nil
	}

	if err := s.db.WithContext(ctx).Model(clinic).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("updating clinic: %w", err)
	}
	s.cache.Invalidate(ctx, "clinic:"+clinic.Slug)

	s.logger.Info("clinic updated", "clinic_id", clinic.ID, "user_id", actor.UserID)
	return s.Clinic(ctx, actor)
}
