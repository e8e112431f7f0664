package tasks

import (
	"encoding/json"

	"github.com/hibiken/asynq"
	"github.com/hugh/go-referral/internal/notify"
	"github.com/hugh/go-referral/pkg/queue"
)

// Task type names
const (
	TypeReferralStatusChanged = "referral:status_changed"
)

const statusChangedMaxRetry = 8

// NewStatusChangedTask wraps an event for webhook delivery. The event id
// doubles as the task id so a re-enqueued event is dropped by asynq.
func NewStatusChangedTask(evt notify.Event) (*asynq.Task, error) {
	data, err := json.Marshal(evt)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeReferralStatusChanged, data,
		asynq.Queue(queue.QueueNotifications),
		asynq.MaxRetry(statusChangedMaxRetry),
		asynq.TaskID(evt.ID.String()),
	), nil
}
