package models

import (
	"time"

	"github.com/google/uuid"
)

// ReferralLink is a specialist-owned public intake URL guarded by a numeric
// access code. Only the keyed digest of the code is stored.
type ReferralLink struct {
	Base
	Token            string    `gorm:"uniqueIndex;size:64;not null" json:"token"`
	OwnerID          uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_link_owner_code,priority:1" json:"owner_id"`
	ClinicID         uuid.UUID `gorm:"type:uuid;not null;index" json:"clinic_id"`
	AccessCodeDigest string    `gorm:"size:128;not null;uniqueIndex:idx_link_owner_code,priority:2" json:"-"`
	Label            string    `json:"label,omitempty"`
	Specialty        string    `gorm:"not null" json:"specialty"`
	IsActive         bool      `gorm:"not null;default:true" json:"is_active"`
	ReferralCount    int64     `gorm:"not null;default:0" json:"referral_count"`
	CodeRotatedAt    time.Time `json:"code_rotated_at"`

	// Relationships
	Owner  *User   `gorm:"foreignKey:OwnerID" json:"-"`
	Clinic *Clinic `gorm:"foreignKey:ClinicID" json:"clinic,omitempty"`
}

func (ReferralLink) TableName() string {
	return "referral_links"
}
