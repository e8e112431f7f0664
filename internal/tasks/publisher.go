package tasks

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/hugh/go-referral/internal/notify"
)

type enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Publisher hands events to the worker through asynq.
type Publisher struct {
	client enqueuer
}

func NewPublisher(client *asynq.Client) *Publisher {
	return &Publisher{client: client}
}

func (p *Publisher) Publish(ctx context.Context, evt notify.Event) error {
	task, err := NewStatusChangedTask(evt)
	if err != nil {
		return fmt.Errorf("building task: %w", err)
	}
	if _, err := p.client.EnqueueContext(ctx, task); err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			return nil
		}
		return fmt.Errorf("enqueueing %s: %w", TypeReferralStatusChanged, err)
	}
	return nil
}

var _ notify.Publisher = (*Publisher)(nil)
