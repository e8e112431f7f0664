package models

// Clinic is the tenant. Every user belongs to exactly one clinic and every
// authenticated query is scoped by it.
type Clinic struct {
	Base
	Name  string `gorm:"not null" json:"name"`
	Slug  string `gorm:"uniqueIndex;not null" json:"slug"` // public intake path segment
	City  string `json:"city,omitempty"`
	Phone string `json:"phone,omitempty"`

	AcceptsPublicReferrals bool `gorm:"not null" json:"accepts_public_referrals"`

	// Optional outbound notification hook for status changes
	WebhookURL    string `json:"-"`
	WebhookSecret string `json:"-"`

	// Relationships
	Users []User `gorm:"foreignKey:ClinicID" json:"-"`
}

func (Clinic) TableName() string {
	return "clinics"
}
