package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Publisher hands an event to a transport.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
}

// Emitter is the fire-and-forget side used by request handlers.
type Emitter interface {
	Emit(evt Event)
}

const defaultPublishTimeout = 10 * time.Second

// AsyncEmitter publishes each event on its own goroutine with a bounded
// timeout. Failures are logged and never reach the caller.
type AsyncEmitter struct {
	pub     Publisher
	logger  *slog.Logger
	timeout time.Duration
	wg      sync.WaitGroup
}

func NewAsyncEmitter(pub Publisher, logger *slog.Logger, timeout time.Duration) *AsyncEmitter {
	if timeout <= 0 {
		timeout = defaultPublishTimeout
	}
	return &AsyncEmitter{pub: pub, logger: logger, timeout: timeout}
}

func (e *AsyncEmitter) Emit(evt Event) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer func() {
			if rec := recover(); rec != nil {
				e.logger.Error("panic publishing event", "event_id", evt.ID, "panic", rec)
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
		defer cancel()

		if err := e.pub.Publish(ctx, evt); err != nil {
			e.logger.Error("failed to publish event",
				"event_id", evt.ID,
				"referral_id", evt.ReferralID,
				"to", evt.To,
				"error", err,
			)
			return
		}
		e.logger.Debug("event published", "event_id", evt.ID, "referral_id", evt.ReferralID, "to", evt.To)
	}()
}

// Wait blocks until every in-flight publish has finished.
func (e *AsyncEmitter) Wait() {
	e.wg.Wait()
}

// Nop discards events.
type Nop struct{}

func (Nop) Emit(Event) {}

// LogPublisher writes events to the log. Used when no broker is configured.
type LogPublisher struct {
	logger *slog.Logger
}

func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(_ context.Context, evt Event) error {
	p.logger.Info("referral status changed",
		"event_id", evt.ID,
		"referral_id", evt.ReferralID,
		"from", evt.From,
		"to", evt.To,
		"occurred_at", evt.OccurredAt,
	)
	return nil
}
