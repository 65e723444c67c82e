package push

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/dukerupert/marketplace/internal/model"
	"github.com/dukerupert/marketplace/internal/store"
)

type sender interface {
	Send(ctx context.Context, sub model.PushSubscription, payload Payload) error
}

// Notifier pushes committed notifications to every browser the recipient
// subscribed. Delivery is best effort; the stored notification is the record.
type Notifier struct {
	sender  sender
	subs    *store.PushStore
	timeout time.Duration
	logger  *slog.Logger
	wg      sync.WaitGroup
}

func NewNotifier(s *Service, subs *store.PushStore, logger *slog.Logger) *Notifier {
	return &Notifier{
		sender:  s,
		subs:    subs,
		timeout: 15 * time.Second,
		logger:  logger.With("component", "push"),
	}
}

// Publish delivers n in the background.
func (n *Notifier) Publish(note model.Notification) {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
		defer cancel()
		if err := n.Deliver(ctx, note); err != nil {
			n.logger.Warn("push delivery failed", "notification_id", note.ID, "user_id", note.UserID, "error", err)
		}
	}()
}

// Deliver sends note to each of the recipient's subscriptions and drops
// the ones the push service reports as gone.
func (n *Notifier) Deliver(ctx context.Context, note model.Notification) error {
	subs, err := n.subs.ListByUser(ctx, note.UserID)
	if err != nil {
		return err
	}

	payload := PayloadFor(note)
	var errs error
	for _, sub := range subs {
		err := n.sender.Send(ctx, sub, payload)
		if errors.Is(err, ErrExpired) {
			n.logger.Info("removing expired push subscription", "subscription_id", sub.ID)
			errs = multierr.Append(errs, n.subs.DeleteByEndpoint(ctx, sub.Endpoint))
			continue
		}
		errs = multierr.Append(errs, err)
	}
	return errs
}

// Wait blocks until in-flight deliveries finish.
func (n *Notifier) Wait() {
	n.wg.Wait()
}
