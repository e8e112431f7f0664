package models

import (
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type ReferralStatus string

const (
	StatusDraft     ReferralStatus = "DRAFT"
	StatusSent      ReferralStatus = "SENT"
	StatusSubmitted ReferralStatus = "SUBMITTED"
	StatusAccepted  ReferralStatus = "ACCEPTED"
	StatusRejected  ReferralStatus = "REJECTED"
	StatusCompleted ReferralStatus = "COMPLETED"
	StatusCancelled ReferralStatus = "CANCELLED"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []ReferralStatus{
	StatusDraft,
	StatusSent,
	StatusSubmitted,
	StatusAccepted,
	StatusRejected,
	StatusCompleted,
	StatusCancelled,
}

func (s ReferralStatus) Valid() bool {
	switch s {
	case StatusDraft, StatusSent, StatusSubmitted, StatusAccepted,
		StatusRejected, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Terminal statuses accept no further transitions.
func (s ReferralStatus) Terminal() bool {
	return s == StatusRejected || s == StatusCompleted || s == StatusCancelled
}

func (s ReferralStatus) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid referral status %q", string(s))
	}
	return string(s), nil
}

func (s *ReferralStatus) Scan(value interface{}) error {
	var raw string
	switch v := value.(type) {
	case string:
		raw = v
	case []byte:
		raw = string(v)
	default:
		return fmt.Errorf("cannot scan %T into ReferralStatus", value)
	}
	status := ReferralStatus(raw)
	if !status.Valid() {
		return fmt.Errorf("invalid referral status %q", raw)
	}
	*s = status
	return nil
}

type Direction string

const (
	DirectionOutgoing Direction = "OUTGOING"
	DirectionIncoming Direction = "INCOMING"
)

type Origin string

const (
	OriginDashboard  Origin = "DASHBOARD"
	OriginPublicForm Origin = "PUBLIC_FORM"
	OriginMagicLink  Origin = "MAGIC_LINK"
)

type Urgency string

const (
	UrgencyRoutine   Urgency = "ROUTINE"
	UrgencyUrgent    Urgency = "URGENT"
	UrgencyEmergency Urgency = "EMERGENCY"
)

func (u Urgency) Valid() bool {
	return u == UrgencyRoutine || u == UrgencyUrgent || u == UrgencyEmergency
}

// Attachment points at an object in the attachment bucket. Upload happens
// out of band; only the reference is stored here.
type Attachment struct {
	Name        string `json:"name"`
	Key         string `json:"key"`
	ContentType string `json:"content_type,omitempty"`
	Size        int64  `json:"size,omitempty"`
}

type Referral struct {
	Base
	Direction Direction      `gorm:"size:16;not null;index" json:"direction"`
	Origin    Origin         `gorm:"size:16;not null" json:"origin"`
	Status    ReferralStatus `gorm:"size:16;not null;index" json:"status"`
	Urgency   Urgency        `gorm:"size:16;not null;default:'ROUTINE'" json:"urgency"`

	FromClinicID *uuid.UUID `gorm:"type:uuid;index" json:"from_clinic_id,omitempty"`
	ToClinicID   *uuid.UUID `gorm:"type:uuid;index" json:"to_clinic_id,omitempty"`
	CreatedByID  *uuid.UUID `gorm:"type:uuid" json:"created_by_id,omitempty"`

	// Free-text parties for referrals that cross the tenant boundary
	SenderName     string `json:"sender_name,omitempty"`
	SenderClinic   string `json:"sender_clinic,omitempty"`
	SenderEmail    string `json:"sender_email,omitempty"`
	SenderPhone    string `json:"sender_phone,omitempty"`
	RecipientName  string `json:"recipient_name,omitempty"`
	RecipientEmail string `json:"recipient_email,omitempty"`

	PatientFirstName string                   `gorm:"not null" json:"patient_first_name"`
	PatientLastName  string                   `gorm:"not null" json:"patient_last_name"`
	PatientBirthDate *time.Time               `json:"patient_birth_date,omitempty"`
	PatientEmail     string                   `json:"patient_email,omitempty"`
	PatientPhone     string                   `json:"patient_phone,omitempty"`
	Reason           string                   `gorm:"type:text" json:"reason"`
	Teeth            datatypes.JSONSlice[int] `json:"teeth,omitempty"`
	NotesSealed      string                   `gorm:"type:text" json:"-"`

	SentAt            *time.Time `json:"sent_at,omitempty"`
	AcceptedAt        *time.Time `json:"accepted_at,omitempty"`
	ScheduledAt       *time.Time `json:"scheduled_at,omitempty"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
	PostOpScheduledAt *time.Time `json:"post_op_scheduled_at,omitempty"`
	RejectedAt        *time.Time `json:"rejected_at,omitempty"`
	CancelledAt       *time.Time `json:"cancelled_at,omitempty"`

	ShareToken  *string `gorm:"uniqueIndex;size:64" json:"-"`
	StatusToken *string `gorm:"uniqueIndex;size:64" json:"-"`

	LinkID         *uuid.UUID `gorm:"type:uuid;index" json:"link_id,omitempty"`
	LinkCodeDigest string     `gorm:"size:128" json:"-"` // last valid code once the link is deleted

	ReportCommentSealed string                          `gorm:"type:text" json:"-"`
	ReportAttachments   datatypes.JSONSlice[Attachment] `json:"report_attachments,omitempty"`
	ReportSubmittedAt   *time.Time                      `json:"report_submitted_at,omitempty"`

	Version int `gorm:"not null;default:1" json:"version"`

	// Relationships
	FromClinic *Clinic `gorm:"foreignKey:FromClinicID" json:"from_clinic,omitempty"`
	ToClinic   *Clinic `gorm:"foreignKey:ToClinicID" json:"to_clinic,omitempty"`
}

func (Referral) TableName() string {
	return "referrals"
}

// LatestStamp returns the most recent lifecycle timestamp, or the zero time.
func (r *Referral) LatestStamp() time.Time {
	var latest time.Time
	for _, ts := range []*time.Time{
		r.SentAt, r.AcceptedAt, r.ScheduledAt, r.CompletedAt,
		r.PostOpScheduledAt, r.RejectedAt, r.CancelledAt,
	} {
		if ts != nil && ts.After(latest) {
			latest = *ts
		}
	}
	return latest
}

// ReferralEvent records one successful status change or sub-stage.
type ReferralEvent struct {
	ID          uint            `gorm:"primaryKey" json:"id"`
	ReferralID  uuid.UUID       `gorm:"type:uuid;not null;index" json:"referral_id"`
	FromStatus  *ReferralStatus `gorm:"size:16" json:"from_status,omitempty"`
	ToStatus    ReferralStatus  `gorm:"size:16;not null" json:"to_status"`
	Stage       string          `gorm:"size:32" json:"stage,omitempty"`
	ActorKind   string          `gorm:"size:16;not null" json:"actor_kind"` // clinic, public, system
	ActorUserID *uuid.UUID      `gorm:"type:uuid" json:"actor_user_id,omitempty"`
	OccurredAt  time.Time       `gorm:"not null;index" json:"occurred_at"`
}

func (ReferralEvent) TableName() string {
	return "referral_events"
}
