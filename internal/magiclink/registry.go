// Package magiclink manages specialist-owned public intake links. Each link
// is a long-lived URL token guarded by a numeric access code that the owner
// sees exactly once.
package magiclink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hugh/go-referral/internal/cache"
	"github.com/hugh/go-referral/internal/database/models"
	"github.com/hugh/go-referral/internal/referral"
	"github.com/hugh/go-referral/internal/token"
	"gorm.io/gorm"
)

type Registry struct {
	db         *gorm.DB
	issuer     token.Issuer
	digester   *token.Digester
	referrals  *referral.Service
	cache      *cache.Cache
	logger     *slog.Logger
	codeDigits int
	now        func() time.Time
}

type Option func(*Registry)

func WithCache(c *cache.Cache) Option {
	return func(r *Registry) { r.cache = c }
}

func WithCodeDigits(n int) Option {
	return func(r *Registry) { r.codeDigits = n }
}

func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

func NewRegistry(db *gorm.DB, issuer token.Issuer, digester *token.Digester, referrals *referral.Service, logger *slog.Logger, opts ...Option) *Registry {
	r := &Registry{
		db:         db,
		issuer:     issuer,
		digester:   digester,
		referrals:  referrals,
		logger:     logger,
		codeDigits: token.DefaultAccessCodeDigits,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type CreateInput struct {
	OwnerID    uuid.UUID
	ClinicID   uuid.UUID
	Label      string
	Specialty  string
	AccessCode string // optional custom code
}

type UpdateInput struct {
	IsActive             *bool
	Label                *string
	Specialty            *string
	RegenerateAccessCode bool
	AccessCode           string // optional custom code used when regenerating
}

// Issued pairs a link with its clear access code. The code is only ever
// available in this value.
type Issued struct {
	Link       *models.ReferralLink
	AccessCode string
}

// Public is what an anonymous visitor learns about a link before entering
// the access code. The private label is never included.
type Public struct {
	ClinicName string `json:"clinic_name"`
	ClinicCity string `json:"clinic_city,omitempty"`
	Specialty  string `json:"specialty"`
	IsActive   bool   `json:"is_active"`
}

func (r *Registry) Create(ctx context.Context, in CreateInput) (*Issued, error) {
	fields := map[string]string{}
	if strings.TrimSpace(in.Specialty) == "" {
		fields["specialty"] = "required"
	}
	if len(fields) > 0 {
		return nil, &referral.ValidationError{Fields: fields}
	}
	custom := in.AccessCode != ""
	if custom {
		if err := token.ValidateAccessCode(in.AccessCode); err != nil {
			return nil, referral.ErrInvalidAccessCodeFormat
		}
		if err := r.ensureCodeFree(ctx, in.OwnerID, in.AccessCode, uuid.Nil); err != nil {
			return nil, err
		}
	}

	for attempt := 0; attempt < 2; attempt++ {
		code := in.AccessCode
		if !custom {
			var err error
			if code, err = r.issuer.NewAccessCode(r.codeDigits); err != nil {
				return nil, err
			}
		}
		tok, err := r.issuer.NewToken()
		if err != nil {
			return nil, err
		}

		link := &models.ReferralLink{
			Token:            tok,
			OwnerID:          in.OwnerID,
			ClinicID:         in.ClinicID,
			AccessCodeDigest: r.digester.Digest(code),
			Label:            strings.TrimSpace(in.Label),
			Specialty:        strings.TrimSpace(in.Specialty),
			IsActive:         true,
			CodeRotatedAt:    r.now().UTC(),
		}
		err = r.db.WithContext(ctx).Create(link).Error
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			if custom {
				return nil, referral.ErrDuplicateAccessCode
			}
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("creating referral link: %w", err)
		}

		r.logger.Info("referral link created", "link_id", link.ID, "owner_id", in.OwnerID, "custom_code", custom)
		return &Issued{Link: link, AccessCode: code}, nil
	}
	return nil, referral.ErrConflict
}

// List returns the owner's links, newest first. Codes are never included.
func (r *Registry) List(ctx context.Context, ownerID uuid.UUID) ([]models.ReferralLink, error) {
	var links []models.ReferralLink
	if err := r.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at DESC").
		Find(&links).Error; err != nil {
		return nil, fmt.Errorf("listing referral links: %w", err)
	}
	return links, nil
}

// Update changes flags and metadata and optionally rotates the access code.
// Rotation swaps the digest in the same UPDATE so there is no window where
// both or neither code is accepted. AccessCode is empty unless rotated.
func (r *Registry) Update(ctx context.Context, ownerID, id uuid.UUID, in UpdateInput) (*Issued, error) {
	link, err := r.owned(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{}
	if in.IsActive != nil {
		updates["is_active"] = *in.IsActive
	}
	if in.Label != nil {
		updates["label"] = strings.TrimSpace(*in.Label)
	}
	if in.Specialty != nil {
		if strings.TrimSpace(*in.Specialty) == "" {
			return nil, &referral.ValidationError{Fields: map[string]string{"specialty": "required"}}
		}
		updates["specialty"] = strings.TrimSpace(*in.Specialty)
	}

	custom := in.AccessCode != ""
	if custom && !in.RegenerateAccessCode {
		return nil, &referral.ValidationError{Fields: map[string]string{"access_code": "only accepted with regenerate_access_code"}}
	}
	if custom {
		if err := token.ValidateAccessCode(in.AccessCode); err != nil {
			return nil, referral.ErrInvalidAccessCodeFormat
		}
		// The row's own digest never trips the unique index.
		if r.digester.Matches(in.AccessCode, link.AccessCodeDigest) {
			return nil, referral.ErrDuplicateAccessCode
		}
		if err := r.ensureCodeFree(ctx, ownerID, in.AccessCode, id); err != nil {
			return nil, err
		}
	}

	var code string
	for attempt := 0; attempt < 2; attempt++ {
		if in.RegenerateAccessCode {
			code = in.AccessCode
			if !custom {
				if code, err = r.freshCode(link.AccessCodeDigest); err != nil {
					return nil, err
				}
			}
			updates["access_code_digest"] = r.digester.Digest(code)
			updates["code_rotated_at"] = r.now().UTC()
		}
		if len(updates) == 0 {
			return &Issued{Link: link}, nil
		}
		updates["updated_at"] = r.now().UTC()

		err = r.db.WithContext(ctx).
			Model(&models.ReferralLink{}).
			Where("id = ? AND owner_id = ?", id, ownerID).
			Updates(updates).Error
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			if !in.RegenerateAccessCode || custom {
				return nil, referral.ErrDuplicateAccessCode
			}
			// Generated code collided with another of the owner's links.
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("updating referral link: %w", err)
		}

		r.cache.Invalidate(ctx, cacheKey(link.Token))
		if in.RegenerateAccessCode {
			r.logger.Info("referral link code rotated", "link_id", id, "owner_id", ownerID)
		}

		updated, err := r.owned(ctx, ownerID, id)
		if err != nil {
			return nil, err
		}
		return &Issued{Link: updated, AccessCode: code}, nil
	}
	return nil, referral.ErrConflict
}

// freshCode draws a code whose digest differs from current, so a rotation
// always revokes the old code.
func (r *Registry) freshCode(current string) (string, error) {
	for attempt := 0; attempt < 8; attempt++ {
		code, err := r.issuer.NewAccessCode(r.codeDigits)
		if err != nil {
			return "", err
		}
		if r.digester.Digest(code) != current {
			return code, nil
		}
	}
	return "", referral.ErrConflict
}

// Delete removes the link for good. Referrals that came through it keep
// their status tokens; the last valid code digest is copied onto them in the
// same transaction so status access keeps working.
func (r *Registry) Delete(ctx context.Context, ownerID, id uuid.UUID) error {
	link, err := r.owned(ctx, ownerID, id)
	if err != nil {
		return err
	}

	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Referral{}).
			Where("link_id = ?", id).
			Update("link_code_digest", link.AccessCodeDigest).Error; err != nil {
			return err
		}
		return tx.Unscoped().Delete(&models.ReferralLink{}, "id = ? AND owner_id = ?", id, ownerID).Error
	})
	if err != nil {
		return fmt.Errorf("deleting referral link: %w", err)
	}

	r.cache.Invalidate(ctx, cacheKey(link.Token))
	r.logger.Info("referral link deleted", "link_id", id, "owner_id", ownerID)
	return nil
}

// Public returns cached, label-free metadata for the intake page.
func (r *Registry) Public(ctx context.Context, tok string) (*Public, error) {
	if tok == "" {
		return nil, referral.ErrNotFound
	}
	pub, err := cache.Fetch(ctx, r.cache, cacheKey(tok), func(ctx context.Context) (Public, error) {
		link, err := r.byToken(ctx, r.db.WithContext(ctx).Preload("Clinic"), tok)
		if err != nil {
			return Public{}, err
		}
		p := Public{Specialty: link.Specialty, IsActive: link.IsActive}
		if link.Clinic != nil {
			p.ClinicName = link.Clinic.Name
			p.ClinicCity = link.Clinic.City
		}
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	return &pub, nil
}

// Verify checks a presented access code against the link's current digest.
func (r *Registry) Verify(ctx context.Context, tok, code string) (*models.ReferralLink, error) {
	link, err := r.byToken(ctx, r.db.WithContext(ctx), tok)
	if err != nil {
		return nil, err
	}
	return link, r.check(link, code)
}

func (r *Registry) check(link *models.ReferralLink, code string) error {
	if !link.IsActive {
		return referral.ErrLinkInactive
	}
	if code == "" {
		return referral.ErrAccessCodeRequired
	}
	if token.ValidateAccessCode(code) != nil {
		return referral.ErrInvalidAccessCodeFormat
	}
	if !r.digester.Matches(code, link.AccessCodeDigest) {
		return referral.ErrAccessCodeMismatch
	}
	return nil
}

// Submit files an INCOMING referral through the link. The code is verified,
// the referral inserted and the counter bumped in one transaction.
func (r *Registry) Submit(ctx context.Context, tok, code string, in referral.IncomingInput) (*models.Referral, error) {
	var ref *models.Referral
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		link, err := r.byToken(ctx, tx, tok)
		if err != nil {
			return err
		}
		if err := r.check(link, code); err != nil {
			return err
		}

		// Guarded on the digest and flag just read, so a concurrent rotation
		// or deactivation makes this submission fail instead of slip through.
		res := tx.Model(&models.ReferralLink{}).
			Where("id = ? AND is_active = ? AND access_code_digest = ?", link.ID, true, link.AccessCodeDigest).
			UpdateColumn("referral_count", gorm.Expr("referral_count + ?", 1))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return referral.ErrAccessCodeMismatch
		}

		linkID := link.ID
		ref, err = r.referrals.SubmitIncoming(tx, referral.Target{
			ClinicID: link.ClinicID,
			Origin:   models.OriginMagicLink,
			LinkID:   &linkID,
		}, in)
		return err
	})
	if err != nil {
		return nil, err
	}

	r.logger.Info("magic link referral submitted", "referral_id", ref.ID, "link_id", ref.LinkID)
	r.referrals.Announce(ref)
	return ref, nil
}

func (r *Registry) owned(ctx context.Context, ownerID, id uuid.UUID) (*models.ReferralLink, error) {
	var link models.ReferralLink
	err := r.db.WithContext(ctx).Where("id = ? AND owner_id = ?", id, ownerID).First(&link).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, referral.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading referral link: %w", err)
	}
	return &link, nil
}

func (r *Registry) byToken(_ context.Context, db *gorm.DB, tok string) (*models.ReferralLink, error) {
	if tok == "" {
		return nil, referral.ErrNotFound
	}
	var link models.ReferralLink
	err := db.Where("token = ?", tok).First(&link).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, referral.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading referral link: %w", err)
	}
	if !token.Equal(link.Token, tok) {
		return nil, referral.ErrNotFound
	}
	return &link, nil
}

// ensureCodeFree rejects a custom code already used by another of the
// owner's links. The unique index backs this up under races.
func (r *Registry) ensureCodeFree(ctx context.Context, ownerID uuid.UUID, code string, except uuid.UUID) error {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.ReferralLink{}).
		Where("owner_id = ? AND access_code_digest = ? AND id <> ?", ownerID, r.digester.Digest(code), except).
		Count(&count).Error
	if err != nil {
		return fmt.Errorf("checking access code: %w", err)
	}
	if count > 0 {
		return referral.ErrDuplicateAccessCode
	}
	return nil
}

func cacheKey(tok string) string {
	return "link:" + tok
}
