package referral

import (
	"context"
	"errors"
	"fmt"

	"github.com/hugh/go-referral/internal/cache"
	"github.com/hugh/go-referral/internal/database/models"
	"github.com/hugh/go-referral/internal/token"
	"gorm.io/gorm"
)

// ByShareToken resolves a share token to the full referral. Unknown tokens
// and retracted referrals look the same to the caller.
func (s *Service) ByShareToken(ctx context.Context, tok string) (*models.Referral, error) {
	if tok == "" {
		return nil, ErrNotFound
	}

	var ref models.Referral
	err := s.db.WithContext(ctx).
		Preload("FromClinic").
		Preload("ToClinic").
		Where("share_token = ?", tok).
		First(&ref).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading shared referral: %w", err)
	}
	if ref.ShareToken == nil || !token.Equal(*ref.ShareToken, tok) {
		return nil, ErrNotFound
	}
	if ref.Status == models.StatusCancelled {
		return nil, ErrNotFound
	}
	return &ref, nil
}

// StatusByToken resolves a status token to the referral and its timeline.
// Referrals that came through a magic link also need that link's access code.
// Unknown tokens fail the way a magic-link token with that code would, so the
// response never confirms that a token exists.
func (s *Service) StatusByToken(ctx context.Context, tok, accessCode string) (*models.Referral, Timeline, error) {
	if tok == "" {
		return nil, Timeline{}, unknownStatusToken(accessCode)
	}

	var ref models.Referral
	err := s.db.WithContext(ctx).
		Preload("ToClinic").
		Where("status_token = ?", tok).
		First(&ref).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, Timeline{}, unknownStatusToken(accessCode)
	}
	if err != nil {
		return nil, Timeline{}, fmt.Errorf("loading referral status: %w", err)
	}
	if ref.StatusToken == nil || !token.Equal(*ref.StatusToken, tok) {
		return nil, Timeline{}, unknownStatusToken(accessCode)
	}

	if ref.Origin == models.OriginMagicLink {
		if accessCode == "" {
			return nil, Timeline{}, ErrAccessCodeRequired
		}
		digest, err := s.linkDigest(ctx, &ref)
		if err != nil {
			return nil, Timeline{}, err
		}
		if !s.digester.Matches(accessCode, digest) {
			return nil, Timeline{}, ErrAccessCodeMismatch
		}
	}

	return &ref, Project(&ref), nil
}

func unknownStatusToken(accessCode string) error {
	if accessCode == "" {
		return ErrAccessCodeRequired
	}
	return ErrAccessCodeMismatch
}

// linkDigest prefers the live link's current code and falls back to the
// snapshot taken when the link was deleted.
func (s *Service) linkDigest(ctx context.Context, ref *models.Referral) (string, error) {
	if ref.LinkID == nil {
		return ref.LinkCodeDigest, nil
	}
	var link models.ReferralLink
	err := s.db.WithContext(ctx).
		Select("id", "access_code_digest").
		Where("id = ?", *ref.LinkID).
		First(&link).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ref.LinkCodeDigest, nil
	}
	if err != nil {
		return "", fmt.Errorf("loading referral link: %w", err)
	}
	return link.AccessCodeDigest, nil
}

// PublicClinic is the intake page metadata for a clinic slug.
type PublicClinic struct {
	Name             string `json:"name"`
	Slug             string `json:"slug"`
	City             string `json:"city,omitempty"`
	Phone            string `json:"phone,omitempty"`
	AcceptsReferrals bool   `json:"accepts_referrals"`
}

func (s *Service) ClinicBySlug(ctx context.Context, slug string) (*PublicClinic, error) {
	pc, err := cache.Fetch(ctx, s.cache, "clinic:"+slug, func(ctx context.Context) (PublicClinic, error) {
		clinic, err := s.clinicBySlug(ctx, slug)
		if err != nil {
			return PublicClinic{}, err
		}
		return PublicClinic{
			Name:             clinic.Name,
			Slug:             clinic.Slug,
			City:             clinic.City,
			Phone:            clinic.Phone,
			AcceptsReferrals: clinic.AcceptsPublicReferrals,
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return &pc, nil
}

// SubmitToClinic files a public-form referral against a clinic slug. No
// access code is involved.
func (s *Service) SubmitToClinic(ctx context.Context, slug string, in IncomingInput) (*models.Referral, error) {
	clinic, err := s.clinicBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	if !clinic.AcceptsPublicReferrals {
		return nil, ErrLinkInactive
	}

	var ref *models.Referral
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		ref, err = s.SubmitIncoming(tx, Target{ClinicID: clinic.ID, Origin: models.OriginPublicForm}, in)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("public referral submitted", "referral_id", ref.ID, "clinic_id", clinic.ID)
	s.Announce(ref)
	return ref, nil
}

func (s *Service) clinicBySlug(ctx context.Context, slug string) (*models.Clinic, error) {
	if slug == "" {
		return nil, ErrNotFound
	}
	var clinic models.Clinic
	err := s.db.WithContext(ctx).Where("slug = ?", slug).First(&clinic).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading clinic: %w", err)
	}
	return &clinic, nil
}
