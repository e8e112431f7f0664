package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/hugh/go-referral/internal/database/models"
	"github.com/hugh/go-referral/internal/notify"
	"github.com/hugh/go-referral/pkg/crypto"
	"gorm.io/gorm"
)

type webhookSender interface {
	Send(ctx context.Context, url, secret string, evt notify.Event) error
}

type Handler struct {
	db     *gorm.DB
	logger *slog.Logger
	sealer crypto.Sealer
	sender webhookSender
}

func NewHandler(db *gorm.DB, logger *slog.Logger, sealer crypto.Sealer, sender *notify.WebhookSender) *Handler {
	return &Handler{
		db:     db,
		logger: logger,
		sealer: sealer,
		sender: sender,
	}
}

func (h *Handler) RegisterHandlers(mux *asynq.ServeMux) {
	mux.HandleFunc(TypeReferralStatusChanged, h.HandleStatusChanged)
}

// HandleStatusChanged delivers the event to every party clinic that has a
// webhook configured. Any failed delivery fails the task so asynq retries.
func (h *Handler) HandleStatusChanged(ctx context.Context, t *asynq.Task) error {
	var evt notify.Event
	if err := json.Unmarshal(t.Payload(), &evt); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	var ref models.Referral
	err := h.db.WithContext(ctx).
		Preload("FromClinic").
		Preload("ToClinic").
		First(&ref, "id = ?", evt.ReferralID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		h.logger.Warn("referral gone, dropping event", "event_id", evt.ID, "referral_id", evt.ReferralID)
		return fmt.Errorf("referral %s: %w", evt.ReferralID, asynq.SkipRetry)
	}
	if err != nil {
		return fmt.Errorf("loading referral: %w", err)
	}

	var errs []error
	delivered := 0
	for _, clinic := range []*models.Clinic{ref.FromClinic, ref.ToClinic} {
		if clinic == nil || clinic.WebhookURL == "" {
			continue
		}
		secret, err := h.sealer.OpenString(clinic.WebhookSecret)
		if err != nil {
			h.logger.Error("cannot open webhook secret", "clinic_id", clinic.ID, "error", err)
			errs = append(errs, err)
			continue
		}
		if err := h.sender.Send(ctx, clinic.WebhookURL, secret, evt); err != nil {
			h.logger.Warn("webhook delivery failed",
				"event_id", evt.ID,
				"clinic_id", clinic.ID,
				"error", err,
			)
			errs = append(errs, err)
			continue
		}
		delivered++
	}

	h.logger.Info("status change processed",
		"event_id", evt.ID,
		"referral_id", evt.ReferralID,
		"to", evt.To,
		"delivered", delivered,
	)
	return errors.Join(errs...)
}
