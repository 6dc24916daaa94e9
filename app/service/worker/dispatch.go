package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/Filichkin/AV-ASSISTANT/app/service/store"
)

const dequeueIdleDelay = time.Second

// Dispatcher decouples selecting a message from processing it. The inline
// strategy processes synchronously inside the poll loop; the queued one
// pushes through the durable Redis queue so poll and dispatch can run at
// their own pace.
type Dispatcher interface {
	// Submit hands over one selected message.
	Submit(ctx context.Context, msg *store.QueuedMessage) error
	// Run blocks until ctx is cancelled, consuming submitted messages if
	// the strategy is asynchronous.
	Run(ctx context.Context) error
}

type inlineDispatcher struct {
	s *Service
}

func newInlineDispatcher(s *Service) *inlineDispatcher {
	return &inlineDispatcher{s: s}
}

func (d *inlineDispatcher) Submit(ctx context.Context, msg *store.QueuedMessage) error {
	err := d.s.process(ctx, msg)
	d.s.recordAttempt(ctx, err)

	// The attempt is already accounted for; containment ends here.
	if err != nil {
		slog.Error("Message processing failed",
			"message_id", msg.MessageID,
			"chat_id", msg.ChatID,
			"error", err)
	}

	return nil
}

func (d *inlineDispatcher) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

type queuedDispatcher struct {
	s *Service
}

func newQueuedDispatcher(s *Service) *queuedDispatcher {
	return &queuedDispatcher{s: s}
}

func (d *queuedDispatcher) Submit(ctx context.Context, msg *store.QueuedMessage) error {
	return d.s.store.EnqueueMessage(ctx, msg)
}

func (d *queuedDispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		msg, err := d.s.store.DequeueMessage(ctx)
		if err != nil {
			slog.Error("Dequeue failed", "error", err)
			d.idle(ctx)
			continue
		}

		if msg == nil {
			d.idle(ctx)
			continue
		}

		processErr := d.s.process(ctx, msg)
		if processErr != nil {
			if err := d.s.store.FailMessage(ctx, msg.MessageID, processErr.Error()); err != nil {
				slog.Warn("Failed to mark message failed", "message_id", msg.MessageID, "error", err)
			}
		} else {
			if err := d.s.store.CompleteMessage(ctx, msg.MessageID); err != nil {
				slog.Warn("Failed to mark message completed", "message_id", msg.MessageID, "error", err)
			}
		}

		d.s.recordAttempt(ctx, processErr)
	}
}

func (d *queuedDispatcher) idle(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(dequeueIdleDelay):
	}
}
