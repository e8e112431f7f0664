package dto

import (
	"time"

	"github.com/google/uuid"
	"github.com/hugh/go-referral/internal/api/validation"
	"github.com/hugh/go-referral/internal/database/models"
	"github.com/hugh/go-referral/internal/referral"
)

const BirthDateLayout = "2006-01-02"

type PatientRequest struct {
	FirstName string `json:"first_name" validate:"required,max=100"`
	LastName  string `json:"last_name" validate:"required,max=100"`
	BirthDate string `json:"birth_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	Email     string `json:"email,omitempty" validate:"omitempty,email,max=254"`
	Phone     string `json:"phone,omitempty" validate:"omitempty,phone"`
}

func (p PatientRequest) ToPatient() referral.Patient {
	out := referral.Patient{
		FirstName: validation.SanitizeString(p.FirstName),
		LastName:  validation.SanitizeString(p.LastName),
		Email:     p.Email,
		Phone:     p.Phone,
	}
	if p.BirthDate != "" {
		if d, err := time.Parse(BirthDateLayout, p.BirthDate); err == nil {
			out.BirthDate = &d
		}
	}
	return out
}

type CreateReferralRequest struct {
	ToClinicID     string         `json:"to_clinic_id,omitempty" validate:"omitempty,uuid"`
	RecipientName  string         `json:"recipient_name,omitempty" validate:"max=200"`
	RecipientEmail string         `json:"recipient_email,omitempty" validate:"omitempty,email"`
	Patient        PatientRequest `json:"patient"`
	Reason         string         `json:"reason" validate:"required,max=2000"`
	Urgency        string         `json:"urgency,omitempty" validate:"omitempty,oneof=ROUTINE URGENT EMERGENCY"`
	Teeth          []int          `json:"teeth,omitempty" validate:"max=32,dive,fdi"`
	Notes          string         `json:"notes,omitempty" validate:"max=5000"`
	Send           bool           `json:"send"`
}

func (r CreateReferralRequest) Validate() map[string]string {
	errors := validation.Struct(r)
	if r.ToClinicID == "" && r.RecipientName == "" && r.RecipientEmail == "" {
		if errors == nil {
			errors = make(map[string]string)
		}
		errors["to_clinic_id"] = "to_clinic_id or a recipient is required"
	}
	return errors
}

func (r CreateReferralRequest) ToInput() referral.CreateInput {
	in := referral.CreateInput{
		RecipientName:  validation.SanitizeString(r.RecipientName),
		RecipientEmail: r.RecipientEmail,
		Patient:        r.Patient.ToPatient(),
		Reason:         validation.SanitizeString(r.Reason),
		Urgency:        models.Urgency(r.Urgency),
		Teeth:          r.Teeth,
		Notes:          validation.SanitizeString(r.Notes),
		Send:           r.Send,
	}
	if id, err := uuid.Parse(r.ToClinicID); err == nil {
		in.ToClinicID = &id
	}
	return in
}

// IncomingReferralRequest is the body of both public intake forms.
type IncomingReferralRequest struct {
	SenderName   string         `json:"sender_name" validate:"required,max=200"`
	SenderClinic string         `json:"sender_clinic,omitempty" validate:"max=200"`
	SenderEmail  string         `json:"sender_email,omitempty" validate:"omitempty,email"`
	SenderPhone  string         `json:"sender_phone,omitempty" validate:"omitempty,phone"`
	Patient      PatientRequest `json:"patient"`
	Reason       string         `json:"reason" validate:"required,max=2000"`
	Urgency      string         `json:"urgency,omitempty" validate:"omitempty,oneof=ROUTINE URGENT EMERGENCY"`
	Teeth        []int          `json:"teeth,omitempty" validate:"max=32,dive,fdi"`
	Notes        string         `json:"notes,omitempty" validate:"max=5000"`
}

func (r IncomingReferralRequest) Validate() map[string]string {
	return validation.Struct(r)
}

func (r IncomingReferralRequest) ToInput() referral.IncomingInput {
	return referral.IncomingInput{
		SenderName:   validation.SanitizeString(r.SenderName),
		SenderClinic: validation.SanitizeString(r.SenderClinic),
		SenderEmail:  r.SenderEmail,
		SenderPhone:  r.SenderPhone,
		Patient:      r.Patient.ToPatient(),
		Reason:       validation.SanitizeString(r.Reason),
		Urgency:      models.Urgency(r.Urgency),
		Teeth:        r.Teeth,
		Notes:        validation.SanitizeString(r.Notes),
	}
}

type TransitionRequest struct {
	Status string `json:"status" validate:"required,oneof=DRAFT SENT SUBMITTED ACCEPTED REJECTED COMPLETED CANCELLED"`
}

func (r TransitionRequest) Validate() map[string]string {
	return validation.Struct(r)
}

type AttachmentRequest struct {
	Name        string `json:"name" validate:"required,max=255"`
	Key         string `json:"key" validate:"required,max=1024"`
	ContentType string `json:"content_type,omitempty" validate:"max=128"`
	Size        int64  `json:"size,omitempty" validate:"gte=0"`
}

type ReportRequest struct {
	Comment     string              `json:"comment" validate:"max=5000"`
	Attachments []AttachmentRequest `json:"attachments,omitempty" validate:"max=20,dive"`
}

func (r ReportRequest) Validate() map[string]string {
	return validation.Struct(r)
}

func (r ReportRequest) ToInput() referral.ReportInput {
	in := referral.ReportInput{Comment: validation.SanitizeString(r.Comment)}
	for _, a := range r.Attachments {
		in.Attachments = append(in.Attachments, models.Attachment{
			Name:        validation.SanitizeString(a.Name),
			Key:         a.Key,
			ContentType: a.ContentType,
			Size:        a.Size,
		})
	}
	return in
}

type ClinicRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type PatientDTO struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	BirthDate string `json:"birth_date,omitempty"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
}

type AttachmentDTO struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type,omitempty"`
	Size        int64  `json:"size,omitempty"`
	URL         string `json:"url,omitempty"`
}

type ReportDTO struct {
	Comment     string          `json:"comment,omitempty"`
	Attachments []AttachmentDTO `json:"attachments,omitempty"`
	SubmittedAt *time.Time      `json:"submitted_at"`
}

type ReferralResponse struct {
	ID        string     `json:"id"`
	Direction string     `json:"direction"`
	Origin    string     `json:"origin"`
	Status    string     `json:"status"`
	Urgency   string     `json:"urgency"`
	From      *ClinicRef `json:"from_clinic,omitempty"`
	To        *ClinicRef `json:"to_clinic,omitempty"`

	SenderName     string `json:"sender_name,omitempty"`
	SenderClinic   string `json:"sender_clinic,omitempty"`
	SenderEmail    string `json:"sender_email,omitempty"`
	SenderPhone    string `json:"sender_phone,omitempty"`
	RecipientName  string `json:"recipient_name,omitempty"`
	RecipientEmail string `json:"recipient_email,omitempty"`

	Patient PatientDTO `json:"patient"`
	Reason  string     `json:"reason"`
	Teeth   []int      `json:"teeth"`
	Notes   string     `json:"notes,omitempty"`

	SentAt            *time.Time `json:"sent_at,omitempty"`
	AcceptedAt        *time.Time `json:"accepted_at,omitempty"`
	ScheduledAt       *time.Time `json:"scheduled_at,omitempty"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
	PostOpScheduledAt *time.Time `json:"post_op_scheduled_at,omitempty"`
	RejectedAt        *time.Time `json:"rejected_at,omitempty"`
	CancelledAt       *time.Time `json:"cancelled_at,omitempty"`

	Report *ReportDTO `json:"report,omitempty"`

	Shared         bool      `json:"shared"`
	HasStatusToken bool      `json:"has_status_token"`
	Version        int       `json:"version"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// NewReferralResponse flattens a referral for the dashboard. Clinical text
// must already be opened by the caller.
func NewReferralResponse(ref *models.Referral, clinical referral.Clinical) ReferralResponse {
	resp := ReferralResponse{
		ID:             ref.ID.String(),
		Direction:      string(ref.Direction),
		Origin:         string(ref.Origin),
		Status:         string(ref.Status),
		Urgency:        string(ref.Urgency),
		From:           clinicRef(ref.FromClinic),
		To:             clinicRef(ref.ToClinic),
		SenderName:     ref.SenderName,
		SenderClinic:   ref.SenderClinic,
		SenderEmail:    ref.SenderEmail,
		SenderPhone:    ref.SenderPhone,
		RecipientName:  ref.RecipientName,
		RecipientEmail: ref.RecipientEmail,
		Patient: PatientDTO{
			FirstName: ref.PatientFirstName,
			LastName:  ref.PatientLastName,
			Email:     ref.PatientEmail,
			Phone:     ref.PatientPhone,
		},
		Reason:            ref.Reason,
		Teeth:             []int(ref.Teeth),
		Notes:             clinical.Notes,
		SentAt:            ref.SentAt,
		AcceptedAt:        ref.AcceptedAt,
		ScheduledAt:       ref.ScheduledAt,
		CompletedAt:       ref.CompletedAt,
		PostOpScheduledAt: ref.PostOpScheduledAt,
		RejectedAt:        ref.RejectedAt,
		CancelledAt:       ref.CancelledAt,
		Shared:            ref.ShareToken != nil,
		HasStatusToken:    ref.StatusToken != nil,
		Version:           ref.Version,
		CreatedAt:         ref.CreatedAt,
		UpdatedAt:         ref.UpdatedAt,
	}
	if resp.Teeth == nil {
		resp.Teeth = []int{}
	}
	if ref.PatientBirthDate != nil {
		resp.Patient.BirthDate = ref.PatientBirthDate.Format(BirthDateLayout)
	}
	if ref.ReportSubmittedAt != nil {
		resp.Report = &ReportDTO{
			Comment:     clinical.ReportComment,
			SubmittedAt: ref.ReportSubmittedAt,
		}
		for _, a := range ref.ReportAttachments {
			resp.Report.Attachments = append(resp.Report.Attachments, AttachmentDTO{
				Name:        a.Name,
				ContentType: a.ContentType,
				Size:        a.Size,
			})
		}
	}
	return resp
}

func clinicRef(c *models.Clinic) *ClinicRef {
	if c == nil {
		return nil
	}
	return &ClinicRef{ID: c.ID.String(), Name: c.Name}
}

type ShareResponse struct {
	ShareToken string `json:"share_token"`
	ShareURL   string `json:"share_url"`
}

type StatusTokenResponse struct {
	StatusToken string `json:"status_token"`
	StatusURL   string `json:"status_url"`
}

type EventResponse struct {
	From       string    `json:"from,omitempty"`
	To         string    `json:"to"`
	Stage      string    `json:"stage,omitempty"`
	ActorKind  string    `json:"actor_kind"`
	OccurredAt time.Time `json:"occurred_at"`
}

func NewEventResponse(evt models.ReferralEvent) EventResponse {
	resp := EventResponse{
		To:         string(evt.ToStatus),
		Stage:      evt.Stage,
		ActorKind:  evt.ActorKind,
		OccurredAt: evt.OccurredAt,
	}
	if evt.FromStatus != nil {
		resp.From = string(*evt.FromStatus)
	}
	return resp
}

// StatusView is what a patient sees behind a status token.
type StatusView struct {
	ClinicName  string                   `json:"clinic_name,omitempty"`
	PatientName string                   `json:"patient_first_name"`
	Status      string                   `json:"status"`
	Timeline    []referral.TimelineStage `json:"timeline"`
}

func NewStatusView(ref *models.Referral, tl referral.Timeline) StatusView {
	view := StatusView{
		PatientName: ref.PatientFirstName,
		Status:      string(tl.Status),
		Timeline:    tl.Stages,
	}
	if ref.ToClinic != nil {
		view.ClinicName = ref.ToClinic.Name
	}
	return view
}

// SubmittedResponse is returned to anonymous submitters. The status link is
// their only way back to the referral.
type SubmittedResponse struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	StatusToken string `json:"status_token"`
	StatusURL   string `json:"status_url"`
}
