package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dukerupert/marketplace/internal/event"
	"github.com/dukerupert/marketplace/internal/lifecycle"
	"github.com/dukerupert/marketplace/internal/model"
)

// SubscriptionChanged handles created and updated events. The first event for
// an external subscription creates it and takes a tier slot; later events
// update it in place.
func (r *Reconciler) SubscriptionChanged(ctx context.Context, ev event.SubscriptionChanged) error {
	logger := r.logger.With(eventAttrs(ev.Meta)...).With("subscription", ev.SubscriptionID)

	change := lifecycle.Change{
		Active:            ev.Active(),
		Start:             ev.PeriodStart,
		End:               ev.PeriodEnd,
		CancelAtPeriodEnd: ev.CancelAtPeriodEnd,
		CanceledAt:        ev.CanceledAt,
		At:                ev.Created,
	}

	var outcome string
	_, err := r.apply(ctx, ev.Meta, func(ctx context.Context, s txStores, out *outbox) error {
		sub, err := s.subscriptions.GetByStripeID(ctx, ev.SubscriptionID)
		if err != nil {
			return err
		}

		if sub != nil {
			next, err := lifecycle.Sync(lifecycle.FromModel(sub), sub.LastEventAt, change)
			if errors.Is(err, lifecycle.ErrTerminal) || errors.Is(err, lifecycle.ErrStale) {
				outcome = err.Error()
				return nil
			}
			if err != nil {
				return err
			}
			lifecycle.Apply(sub, next)
			touch(sub, ev.Created)
			outcome = "updated"
			return s.subscriptions.Update(ctx, sub)
		}

		if ev.UserID == "" || ev.TierID == "" {
			outcome = "missing metadata"
			return nil
		}
		tier, err := s.tiers.GetByID(ctx, ev.TierID)
		if err != nil {
			return err
		}
		if tier == nil {
			outcome = "unknown tier"
			return nil
		}

		if change.Start.IsZero() {
			change.Start = ev.Created
		}
		if change.End.IsZero() {
			change.End = change.Start.Add(cycle(tier))
		}
		state, err := lifecycle.Create(change)
		if err != nil {
			outcome = err.Error()
			return nil
		}

		sub = &model.Subscription{
			UserID:               ev.UserID,
			TierID:               tier.ID,
			StripeSubscriptionID: ev.SubscriptionID,
		}
		lifecycle.Apply(sub, state)
		touch(sub, ev.Created)
		created, err := s.subscriptions.Insert(ctx, sub)
		if err != nil {
			return err
		}
		if !created {
			outcome = "already exists"
			return nil
		}
		outcome = "created"
		return s.tiers.AdjustSubscriberCount(ctx, tier.ID, 1)
	})
	if err != nil {
		return fmt.Errorf("apply subscription change %s: %w", ev.SubscriptionID, err)
	}

	switch outcome {
	case "":
		logger.Debug("event already applied")
	case "created", "updated":
		logger.Info("subscription "+outcome, "status", ev.Status)
	case "missing metadata", "unknown tier":
		logger.Error("cannot create subscription: "+outcome, "user_id", ev.UserID, "tier_id", ev.TierID)
	default:
		logger.Info("subscription change ignored", "reason", outcome)
	}
	return nil
}

// SubscriptionDeleted expires the subscription and releases its tier slot.
// A subscription that is already expired keeps its slot count untouched.
// A deletion for a subscription not seen yet stores it as expired without
// taking a slot, so a created event delivered later cannot revive it.
func (r *Reconciler) SubscriptionDeleted(ctx context.Context, ev event.SubscriptionDeleted) error {
	logger := r.logger.With(eventAttrs(ev.Meta)...).With("subscription", ev.SubscriptionID)

	var outcome string
	_, err := r.apply(ctx, ev.Meta, func(ctx context.Context, s txStores, out *outbox) error {
		sub, err := s.subscriptions.GetByStripeID(ctx, ev.SubscriptionID)
		if err != nil {
			return err
		}
		if sub == nil {
			return r.recordDeleted(ctx, s, ev, &outcome)
		}
		next, err := lifecycle.Delete(lifecycle.FromModel(sub), r.now())
		if errors.Is(err, lifecycle.ErrTerminal) {
			outcome = "already expired"
			return nil
		}
		if err != nil {
			return err
		}
		lifecycle.Apply(sub, next)
		touch(sub, ev.Created)
		if err := s.subscriptions.Update(ctx, sub); err != nil {
			return err
		}
		outcome = "expired"
		return s.tiers.AdjustSubscriberCount(ctx, sub.TierID, -1)
	})
	if err != nil {
		return fmt.Errorf("apply subscription delete %s: %w", ev.SubscriptionID, err)
	}

	switch outcome {
	case "":
		logger.Debug("event already applied")
	case "expired":
		logger.Info("subscription expired")
	case "recorded as expired":
		logger.Warn("subscription deleted before it was created", "user_id", ev.UserID, "tier_id", ev.TierID)
	default:
		logger.Info("subscription delete ignored", "reason", outcome)
	}
	return nil
}

// InvoicePaid extends the subscription by one billing cycle from its stored
// end date and reactivates it. Each invoice extends at most once.
func (r *Reconciler) InvoicePaid(ctx context.Context, ev event.InvoicePaid) error {
	logger := r.logger.With(eventAttrs(ev.Meta)...).With("invoice", ev.InvoiceID, "subscription", ev.SubscriptionID)

	if ev.SubscriptionID == "" {
		logger.Debug("invoice not tied to a subscription")
		return nil
	}

	var outcome string
	var newEnd time.Time
	var newStatus model.SubscriptionStatus
	_, err := r.apply(ctx, ev.Meta, func(ctx context.Context, s txStores, out *outbox) error {
		first, err := s.keys.Claim(ctx, event.TypeInvoicePaid+":"+ev.InvoiceID, ev.Type)
		if err != nil {
			return err
		}
		if !first {
			outcome = "invoice already applied"
			return nil
		}

		sub, err := s.subscriptions.GetByStripeID(ctx, ev.SubscriptionID)
		if err != nil {
			return err
		}
		if sub == nil {
			outcome = "unknown subscription"
			return nil
		}
		tier, err := s.tiers.GetByID(ctx, sub.TierID)
		if err != nil {
			return err
		}

		next, err := lifecycle.InvoicePaid(lifecycle.FromModel(sub), sub.LastEventAt, ev.Created, cycle(tier))
		if errors.Is(err, lifecycle.ErrTerminal) {
			outcome = "subscription expired"
			return nil
		}
		if err != nil {
			return err
		}
		lifecycle.Apply(sub, next)
		touch(sub, ev.Created)
		newEnd, newStatus = sub.EndDate, sub.Status
		outcome = "extended"
		return s.subscriptions.Update(ctx, sub)
	})
	if err != nil {
		return fmt.Errorf("apply invoice %s: %w", ev.InvoiceID, err)
	}

	switch outcome {
	case "":
		logger.Debug("event already applied")
	case "extended":
		logger.Info("subscription extended", "end_date", newEnd, "status", newStatus)
	default:
		logger.Info("invoice payment ignored", "reason", outcome)
	}
	return nil
}

// InvoicePaymentFailed pauses the subscription and tells the subscriber.
// The tier slot is kept because a payment retry may still succeed. A failure
// for a subscription not seen yet creates it paused, taking its slot, so the
// created event delivered later is stale and cannot make it active.
func (r *Reconciler) InvoicePaymentFailed(ctx context.Context, ev event.InvoicePaymentFailed) error {
	logger := r.logger.With(eventAttrs(ev.Meta)...).With("invoice", ev.InvoiceID, "subscription", ev.SubscriptionID)

	if ev.SubscriptionID == "" {
		logger.Debug("invoice not tied to a subscription")
		return nil
	}

	var outcome string
	_, err := r.apply(ctx, ev.Meta, func(ctx context.Context, s txStores, out *outbox) error {
		sub, err := s.subscriptions.GetByStripeID(ctx, ev.SubscriptionID)
		if err != nil {
			return err
		}
		if sub == nil {
			sub, err = r.recordPaused(ctx, s, ev, &outcome)
			if err != nil || sub == nil {
				return err
			}
		} else {
			next, err := lifecycle.PaymentFailed(lifecycle.FromModel(sub), sub.LastEventAt, ev.Created)
			if errors.Is(err, lifecycle.ErrTerminal) || errors.Is(err, lifecycle.ErrStale) {
				outcome = err.Error()
				return nil
			}
			if err != nil {
				return err
			}
			lifecycle.Apply(sub, next)
			touch(sub, ev.Created)
			if err := s.subscriptions.Update(ctx, sub); err != nil {
				return err
			}
			outcome = "paused"
		}
		return out.add(ctx, s.notifications, model.Notification{
			UserID:  sub.UserID,
			Kind:    model.NotificationPayment,
			Title:   "Payment failed",
			Message: "Your subscription payment failed. Please update your payment method.",
			Link:    "/subscriptions",
		})
	})
	if err != nil {
		return fmt.Errorf("apply invoice failure %s: %w", ev.InvoiceID, err)
	}

	switch outcome {
	case "":
		logger.Debug("event already applied")
	case "paused":
		logger.Info("subscription paused after failed payment")
	case "created paused":
		logger.Warn("payment failed before subscription was created", "user_id", ev.UserID, "tier_id", ev.TierID)
	default:
		logger.Info("invoice failure ignored", "reason", outcome)
	}
	return nil
}

// recordDeleted stores a subscription first seen through its deletion. The
// row only exists to make later events for it no-ops, so no slot is taken.
func (r *Reconciler) recordDeleted(ctx context.Context, s txStores, ev event.SubscriptionDeleted, outcome *string) error {
	if ev.UserID == "" || ev.TierID == "" {
		*outcome = "unknown subscription without metadata"
		return nil
	}
	tier, err := s.tiers.GetByID(ctx, ev.TierID)
	if err != nil {
		return err
	}
	if tier == nil {
		*outcome = "unknown subscription with unknown tier"
		return nil
	}

	start, end := ev.PeriodStart, ev.PeriodEnd
	if start.IsZero() {
		start = ev.Created
	}
	if end.IsZero() || end.Before(start) {
		end = start
	}
	sub := &model.Subscription{
		UserID:               ev.UserID,
		TierID:               tier.ID,
		StripeSubscriptionID: ev.SubscriptionID,
	}
	lifecycle.Apply(sub, lifecycle.Expired{Start: start, End: end, CanceledAt: r.now()})
	touch(sub, ev.Created)
	created, err := s.subscriptions.Insert(ctx, sub)
	if err != nil {
		return err
	}
	if !created {
		*outcome = "already exists"
		return nil
	}
	*outcome = "recorded as expired"
	return nil
}

// recordPaused stores a subscription first seen through a failed invoice and
// takes its tier slot. It returns nil when the invoice does not say enough
// to create one.
func (r *Reconciler) recordPaused(ctx context.Context, s txStores, ev event.InvoicePaymentFailed, outcome *string) (*model.Subscription, error) {
	if ev.UserID == "" || ev.TierID == "" {
		*outcome = "unknown subscription without metadata"
		return nil, nil
	}
	tier, err := s.tiers.GetByID(ctx, ev.TierID)
	if err != nil {
		return nil, err
	}
	if tier == nil {
		*outcome = "unknown subscription with unknown tier"
		return nil, nil
	}

	start, end := ev.PeriodStart, ev.PeriodEnd
	if start.IsZero() {
		start = ev.Created
	}
	if end.IsZero() || end.Before(start) {
		end = start.Add(cycle(tier))
	}
	state, err := lifecycle.Create(lifecycle.Change{Active: false, Start: start, End: end, At: ev.Created})
	if err != nil {
		*outcome = err.Error()
		return nil, nil
	}
	sub := &model.Subscription{
		UserID:               ev.UserID,
		TierID:               tier.ID,
		StripeSubscriptionID: ev.SubscriptionID,
	}
	lifecycle.Apply(sub, state)
	touch(sub, ev.Created)
	created, err := s.subscriptions.Insert(ctx, sub)
	if err != nil {
		return nil, err
	}
	if !created {
		*outcome = "already exists"
		return nil, nil
	}
	if err := s.tiers.AdjustSubscriberCount(ctx, tier.ID, 1); err != nil {
		return nil, err
	}
	*outcome = "created paused"
	return sub, nil
}

// cycle is the tier's billing interval, or the default when unknown.
func cycle(tier *model.SubscriptionTier) time.Duration {
	if tier == nil || tier.IntervalDays <= 0 {
		return lifecycle.DefaultCycle
	}
	return time.Duration(tier.IntervalDays) * 24 * time.Hour
}

// touch advances the last applied event time; it never moves backwards.
func touch(sub *model.Subscription, at time.Time) {
	if at.IsZero() {
		return
	}
	if sub.LastEventAt == nil || at.After(*sub.LastEventAt) {
		t := at
		sub.LastEventAt = &t
	}
}
