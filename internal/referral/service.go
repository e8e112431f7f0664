package referral

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
	"github.com/hugh/go-referral/internal/notify"
	"github.com/hugh/go-referral/internal/token"
	"github.com/hugh/go-referral/pkg/crypto"
	"gorm.io/gorm"
)

const (
	ActorKindClinic = "clinic"
	ActorKindPublic = "public"
)

// Token columns. Never taken from user input.
const (
	columnShareToken  = "share_token"
	columnStatusToken = "status_token"
)

var errStale = errors.New("stale version")

type Service struct {
	db       *gorm.DB
	issuer   token.Issuer
	digester *token.Digester
	sealer   crypto.Sealer
	emitter  notify.Emitter
	cache    *cache.Cache
	logger   *slog.Logger
	now      func() time.Time
}

type Option func(*Service)

func WithEmitter(e notify.Emitter) Option {
	return func(s *Service) { s.emitter = e }
}

func WithCache(c *cache.Cache) Option {
	return func(s *Service) { s.cache = c }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(db *gorm.DB, issuer token.Issuer, digester *token.Digester, sealer crypto.Sealer, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		db:       db,
		issuer:   issuer,
		digester: digester,
		sealer:   sealer,
		emitter:  notify.Nop{},
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type Patient struct {
	FirstName string
	LastName  string
	BirthDate *time.Time
	Email     string
	Phone     string
}

// CreateInput is a dashboard referral from the caller's clinic.
type CreateInput struct {
	ToClinicID     *uuid.UUID
	RecipientName  string
	RecipientEmail string
	Patient        Patient
	Reason         string
	Urgency        models.Urgency
	Teeth          []int
	Notes          string
	Send           bool // create as SENT instead of DRAFT
}

// IncomingInput is a referral submitted from outside the tenant boundary.
type IncomingInput struct {
	SenderName   string
	SenderClinic string
	SenderEmail  string
	SenderPhone  string
	Patient      Patient
	Reason       string
	Urgency      models.Urgency
	Teeth        []int
	Notes        string
}

// Target says where an incoming referral lands.
type Target struct {
	ClinicID uuid.UUID
	Origin   models.Origin
	LinkID   *uuid.UUID
}

type ListFilter struct {
	Box     string // "incoming", "outgoing" or "" for both
	Status  models.ReferralStatus
	Urgency models.Urgency
	Offset  int
	Limit   int
}

type ReportInput struct {
	Comment     string
	Attachments []models.Attachment
}

// Clinical holds the decrypted free-text fields of a referral.
type Clinical struct {
	Notes         string
	ReportComment string
}

func (s *Service) Create(ctx context.Context, actor Actor, in CreateInput) (*models.Referral, error) {
	if actor.Anonymous() {
		return nil, ErrForbidden
	}

	fields := validatePatient(in.Patient, in.Reason, in.Urgency, in.Teeth)
	if in.ToClinicID == nil && strings.TrimSpace(in.RecipientName) == "" {
		fields["recipient_name"] = "required when no registered clinic is selected"
	}
	if in.ToClinicID != nil && *in.ToClinicID == actor.ClinicID {
		fields["to_clinic_id"] = "cannot refer to your own clinic"
	}
	if in.ToClinicID != nil && len(fields) == 0 {
		var count int64
		if err := s.db.WithContext(ctx).Model(&models.Clinic{}).Where("id = ?", *in.ToClinicID).Count(&count).Error; err != nil {
			return nil, fmt.Errorf("looking up clinic: %w", err)
		}
		if count == 0 {
			fields["to_clinic_id"] = "unknown clinic"
		}
	}
	if err := invalid(fields); err != nil {
		return nil, err
	}

	notes, err := s.sealer.SealString(in.Notes)
	if err != nil {
		return nil, fmt.Errorf("sealing notes: %w", err)
	}

	now := s.now().UTC()
	from := actor.ClinicID
	userID := actor.UserID
	ref := &models.Referral{
		Direction:      models.DirectionOutgoing,
		Origin:         models.OriginDashboard,
		Status:         models.StatusDraft,
		Urgency:        urgencyOrDefault(in.Urgency),
		FromClinicID:   &from,
		ToClinicID:     in.ToClinicID,
		CreatedByID:    &userID,
		RecipientName:  strings.TrimSpace(in.RecipientName),
		RecipientEmail: strings.TrimSpace(in.RecipientEmail),
		Reason:         strings.TrimSpace(in.Reason),
		Teeth:          in.Teeth,
		NotesSealed:    notes,
		Version:        1,
	}
	applyPatient(ref, in.Patient)
	if in.Send {
		ref.Status = models.StatusSent
		ref.SentAt = &now
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.insert(tx, ref, actor, now)
	})
	if err != nil {
		return nil, fmt.Errorf("creating referral: %w", err)
	}

	s.logger.Info("referral created", "referral_id", ref.ID, "clinic_id", actor.ClinicID, "status", ref.Status)
	if ref.Status != models.StatusDraft {
		s.Announce(ref)
	}
	return ref, nil
}

// SubmitIncoming stores a SUBMITTED referral with a fresh status token inside
// tx. Callers run it in their own transaction and Announce after commit.
func (s *Service) SubmitIncoming(tx *gorm.DB, target Target, in IncomingInput) (*models.Referral, error) {
	fields := validatePatient(in.Patient, in.Reason, in.Urgency, in.Teeth)
	if strings.TrimSpace(in.SenderName) == "" {
		fields["sender_name"] = "required"
	}
	if err := invalid(fields); err != nil {
		return nil, err
	}

	notes, err := s.sealer.SealString(in.Notes)
	if err != nil {
		return nil, fmt.Errorf("sealing notes: %w", err)
	}

	now := s.now().UTC()
	to := target.ClinicID
	ref := &models.Referral{
		Direction:    models.DirectionIncoming,
		Origin:       target.Origin,
		Status:       models.StatusSubmitted,
		Urgency:      urgencyOrDefault(in.Urgency),
		ToClinicID:   &to,
		SenderName:   strings.TrimSpace(in.SenderName),
		SenderClinic: strings.TrimSpace(in.SenderClinic),
		SenderEmail:  strings.TrimSpace(in.SenderEmail),
		SenderPhone:  strings.TrimSpace(in.SenderPhone),
		Reason:       strings.TrimSpace(in.Reason),
		Teeth:        in.Teeth,
		NotesSealed:  notes,
		SentAt:       &now,
		LinkID:       target.LinkID,
		Version:      1,
	}
	applyPatient(ref, in.Patient)

	for attempt := 0; attempt < 2; attempt++ {
		tok, err := s.issuer.NewToken()
		if err != nil {
			return nil, err
		}
		ref.StatusToken = &tok

		// Savepoint so a token collision does not poison the outer transaction.
		err = tx.Transaction(func(tx *gorm.DB) error {
			return s.insert(tx, ref, Actor{}, now)
		})
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("creating referral: %w", err)
		}
		return ref, nil
	}
	return nil, ErrConflict
}

// Announce emits the creation event for a referral that skipped DRAFT.
func (s *Service) Announce(ref *models.Referral) {
	at := ref.CreatedAt
	if ref.SentAt != nil {
		at = *ref.SentAt
	}
	s.emitter.Emit(notify.StatusChanged(ref.ID, "", ref.Status, at))
}

func (s *Service) insert(tx *gorm.DB, ref *models.Referral, actor Actor, now time.Time) error {
	if err := tx.Create(ref).Error; err != nil {
		return err
	}
	return tx.Create(&models.ReferralEvent{
		ReferralID:  ref.ID,
		ToStatus:    ref.Status,
		ActorKind:   actorKind(actor),
		ActorUserID: actorUser(actor),
		OccurredAt:  now,
	}).Error
}

// scoped limits queries to referrals the actor's clinic is party to. Drafts
// stay invisible to the receiving side.
func (s *Service) scoped(ctx context.Context, actor Actor) *gorm.DB {
	return s.db.WithContext(ctx).Where(
		"(from_clinic_id = ? OR (to_clinic_id = ? AND status <> ?))",
		actor.ClinicID, actor.ClinicID, models.StatusDraft,
	)
}

func (s *Service) Get(ctx context.Context, actor Actor, id uuid.UUID) (*models.Referral, error) {
	if actor.Anonymous() {
		return nil, ErrNotFound
	}
	var ref models.Referral
	err := s.scoped(ctx, actor).
		Preload("FromClinic").
		Preload("ToClinic").
		Where("id = ?", id).
		First(&ref).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading referral: %w", err)
	}
	return &ref, nil
}

func (s *Service) List(ctx context.Context, actor Actor, f ListFilter) ([]models.Referral, int64, error) {
	if actor.Anonymous() {
		return nil, 0, ErrForbidden
	}

	query := s.scoped(ctx, actor).Model(&models.Referral{})
	switch f.Box {
	case "outgoing":
		query = query.Where("from_clinic_id = ?", actor.ClinicID)
	case "incoming":
		query = query.Where("to_clinic_id = ?", actor.ClinicID)
	}
	if f.Status != "" {
		if !f.Status.Valid() {
			return nil, 0, invalid(map[string]string{"status": "unknown status"})
		}
		query = query.Where("status = ?", f.Status)
	}
	if f.Urgency != "" {
		if !f.Urgency.Valid() {
			return nil, 0, invalid(map[string]string{"urgency": "unknown urgency"})
		}
		query = query.Where("urgency = ?", f.Urgency)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("counting referrals: %w", err)
	}

	var refs []models.Referral
	if err := query.
		Preload("FromClinic").
		Preload("ToClinic").
		Order("created_at DESC").
		Offset(f.Offset).
		Limit(f.Limit).
		Find(&refs).Error; err != nil {
		return nil, 0, fmt.Errorf("listing referrals: %w", err)
	}
	return refs, total, nil
}

// Transition moves a referral along one edge of the lifecycle.
func (s *Service) Transition(ctx context.Context, actor Actor, id uuid.UUID, to models.ReferralStatus) (*models.Referral, error) {
	return s.mutate(ctx, actor, id, func(ref models.Referral, now time.Time) (models.Referral, Change, error) {
		return Transition(ref, to, actor, now)
	})
}

func (s *Service) Schedule(ctx context.Context, actor Actor, id uuid.UUID) (*models.Referral, error) {
	return s.mutate(ctx, actor, id, func(ref models.Referral, now time.Time) (models.Referral, Change, error) {
		return Schedule(ref, actor, now)
	})
}

func (s *Service) SchedulePostOp(ctx context.Context, actor Actor, id uuid.UUID) (*models.Referral, error) {
	return s.mutate(ctx, actor, id, func(ref models.Referral, now time.Time) (models.Referral, Change, error) {
		return SchedulePostOp(ref, actor, now)
	})
}

// SubmitReport attaches the write-once post-treatment report to a completed referral.
func (s *Service) SubmitReport(ctx context.Context, actor Actor, id uuid.UUID, in ReportInput) (*models.Referral, error) {
	fields := map[string]string{}
	if strings.TrimSpace(in.Comment) == "" && len(in.Attachments) == 0 {
		fields["comment"] = "comment or attachments required"
	}
	for i, a := range in.Attachments {
		if strings.TrimSpace(a.Name) == "" || strings.TrimSpace(a.Key) == "" {
			fields[fmt.Sprintf("attachments[%d]", i)] = "name and key are required"
		}
	}
	if err := invalid(fields); err != nil {
		return nil, err
	}

	sealed, err := s.sealer.SealString(strings.TrimSpace(in.Comment))
	if err != nil {
		return nil, fmt.Errorf("sealing report: %w", err)
	}

	return s.mutate(ctx, actor, id, func(ref models.Referral, now time.Time) (models.Referral, Change, error) {
		change := Change{From: ref.Status, To: ref.Status, Stage: StageReport}
		if ref.Status != models.StatusCompleted {
			return ref, change, &IllegalTransitionError{From: ref.Status, To: StageReport}
		}
		if partyOf(&ref, actor)&receiver == 0 {
			return ref, change, ErrForbidden
		}
		if ref.ReportSubmittedAt != nil {
			return ref, change, ErrReportExists
		}
		at := clamp(&ref, now)
		ref.ReportCommentSealed = sealed
		ref.ReportAttachments = in.Attachments
		ref.ReportSubmittedAt = &at
		change.OccurredAt = at
		change.Changed = true
		return ref, change, nil
	})
}

type stepFunc func(ref models.Referral, now time.Time) (models.Referral, Change, error)

// mutate runs one read-modify-write under the optimistic version check. A
// lost race reloads once so the step is re-judged against the winner's state.
func (s *Service) mutate(ctx context.Context, actor Actor, id uuid.UUID, step stepFunc) (*models.Referral, error) {
	for attempt := 0; attempt < 2; attempt++ {
		cur, err := s.Get(ctx, actor, id)
		if err != nil {
			return nil, err
		}

		next, change, err := step(*cur, s.now())
		if err != nil {
			return nil, err
		}
		if !change.Changed {
			return cur, nil
		}

		next.Version = cur.Version + 1
		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			res := tx.Model(&models.Referral{}).
				Where("id = ? AND version = ?", id, cur.Version).
				Updates(writeColumns(&next, change))
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return errStale
			}

			evt := models.ReferralEvent{
				ReferralID:  id,
				ToStatus:    change.To,
				Stage:       change.Stage,
				ActorKind:   actorKind(actor),
				ActorUserID: actorUser(actor),
				OccurredAt:  change.OccurredAt,
			}
			from := change.From
			evt.FromStatus = &from
			return tx.Create(&evt).Error
		})
		if errors.Is(err, errStale) {
			s.logger.Debug("referral version changed, retrying", "referral_id", id, "version", cur.Version)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("updating referral: %w", err)
		}

		s.logger.Info("referral updated",
			"referral_id", id,
			"from", change.From,
			"to", change.To,
			"stage", change.Stage,
			"clinic_id", actor.ClinicID,
		)
		if change.From != change.To {
			s.emitter.Emit(notify.StatusChanged(id, change.From, change.To, change.OccurredAt))
		}
		next.UpdatedAt = change.OccurredAt
		return &next, nil
	}
	return nil, ErrConflict
}

func writeColumns(ref *models.Referral, change Change) map[string]interface{} {
	cols := map[string]interface{}{
		"status":               ref.Status,
		"sent_at":              ref.SentAt,
		"accepted_at":          ref.AcceptedAt,
		"scheduled_at":         ref.ScheduledAt,
		"completed_at":         ref.CompletedAt,
		"post_op_scheduled_at": ref.PostOpScheduledAt,
		"rejected_at":          ref.RejectedAt,
		"cancelled_at":         ref.CancelledAt,
		"version":              ref.Version,
		"updated_at":           change.OccurredAt,
	}
	if change.Stage == StageReport {
		cols["report_comment_sealed"] = ref.ReportCommentSealed
		cols["report_attachments"] = ref.ReportAttachments
		cols["report_submitted_at"] = ref.ReportSubmittedAt
	}
	return cols
}

// Share returns the referral's share token, issuing it on first use.
func (s *Service) Share(ctx context.Context, actor Actor, id uuid.UUID) (string, error) {
	ref, err := s.Get(ctx, actor, id)
	if err != nil {
		return "", err
	}
	if ref.ShareToken != nil {
		return *ref.ShareToken, nil
	}
	return s.issueToken(ctx, id, columnShareToken)
}

// IssueStatusToken returns the referral's status token, issuing it on first use.
func (s *Service) IssueStatusToken(ctx context.Context, actor Actor, id uuid.UUID) (string, error) {
	ref, err := s.Get(ctx, actor, id)
	if err != nil {
		return "", err
	}
	if ref.StatusToken != nil {
		return *ref.StatusToken, nil
	}
	return s.issueToken(ctx, id, columnStatusToken)
}

// issueToken sets column only while it is still NULL, so concurrent callers
// converge on whichever token was written first.
func (s *Service) issueToken(ctx context.Context, id uuid.UUID, column string) (string, error) {
	db := s.db.WithContext(ctx)
	for attempt := 0; attempt < 2; attempt++ {
		tok, err := s.issuer.NewToken()
		if err != nil {
			return "", err
		}

		res := db.Model(&models.Referral{}).
			Where("id = ? AND "+column+" IS NULL", id).
			Update(column, tok)
		if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
			continue
		}
		if res.Error != nil {
			return "", fmt.Errorf("issuing %s: %w", column, res.Error)
		}
		if res.RowsAffected == 1 {
			s.logger.Info("token issued", "referral_id", id, "kind", column)
			return tok, nil
		}

		var existing models.Referral
		if err := db.Select("id", column).Where("id = ?", id).First(&existing).Error; err != nil {
			return "", fmt.Errorf("reloading %s: %w", column, err)
		}
		if column == columnShareToken && existing.ShareToken != nil {
			return *existing.ShareToken, nil
		}
		if column == columnStatusToken && existing.StatusToken != nil {
			return *existing.StatusToken, nil
		}
		return "", ErrConflict
	}
	return "", ErrConflict
}

// Events returns the status history, oldest first.
func (s *Service) Events(ctx context.Context, actor Actor, id uuid.UUID) ([]models.ReferralEvent, error) {
	if _, err := s.Get(ctx, actor, id); err != nil {
		return nil, err
	}
	var events []models.ReferralEvent
	if err := s.db.WithContext(ctx).
		Where("referral_id = ?", id).
		Order("occurred_at ASC, id ASC").
		Find(&events).Error; err != nil {
		return nil, fmt.Errorf("loading events: %w", err)
	}
	return events, nil
}

// Open decrypts the sealed free-text fields.
func (s *Service) Open(ref *models.Referral) (Clinical, error) {
	notes, err := s.sealer.OpenString(ref.NotesSealed)
	if err != nil {
		return Clinical{}, fmt.Errorf("opening notes: %w", err)
	}
	comment, err := s.sealer.OpenString(ref.ReportCommentSealed)
	if err != nil {
		return Clinical{}, fmt.Errorf("opening report: %w", err)
	}
	return Clinical{Notes: notes, ReportComment: comment}, nil
}

func validatePatient(p Patient, reason string, urgency models.Urgency, teeth []int) map[string]string {
	fields := map[string]string{}
	if strings.TrimSpace(p.FirstName) == "" {
		fields["patient.first_name"] = "required"
	}
	if strings.TrimSpace(p.LastName) == "" {
		fields["patient.last_name"] = "required"
	}
	if strings.TrimSpace(reason) == "" {
		fields["reason"] = "required"
	}
	if urgency != "" && !urgency.Valid() {
		fields["urgency"] = "must be ROUTINE, URGENT or EMERGENCY"
	}
	for _, n := range teeth {
		if !ValidTooth(n) {
			fields["teeth"] = fmt.Sprintf("invalid FDI tooth number %d", n)
			break
		}
	}
	return fields
}

// ValidTooth accepts FDI two-digit notation: permanent quadrants 1-4 with
// teeth 1-8, primary quadrants 5-8 with teeth 1-5.
func ValidTooth(n int) bool {
	q, t := n/10, n%10
	switch {
	case q >= 1 && q <= 4:
		return t >= 1 && t <= 8
	case q >= 5 && q <= 8:
		return t >= 1 && t <= 5
	}
	return false
}

func applyPatient(ref *models.Referral, p Patient) {
	ref.PatientFirstName = strings.TrimSpace(p.FirstName)
	ref.PatientLastName = strings.TrimSpace(p.LastName)
	ref.PatientBirthDate = p.BirthDate
	ref.PatientEmail = strings.TrimSpace(p.Email)
	ref.PatientPhone = strings.TrimSpace(p.Phone)
}

func urgencyOrDefault(u models.Urgency) models.Urgency {
	if u == "" {
		return models.UrgencyRoutine
	}
	return u
}

func actorKind(a Actor) string {
	if a.Anonymous() {
		return ActorKindPublic
	}
	return ActorKindClinic
}

func actorUser(a Actor) *uuid.UUID {
	if a.UserID == uuid.Nil {
		return nil
	}
	id := a.UserID
	return &id
}
