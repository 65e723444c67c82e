package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/dukerupert/marketplace/internal/event"
	"github.com/dukerupert/marketplace/internal/store"
)

// TransferPaid marks the referenced payout COMPLETED.
func (r *Reconciler) TransferPaid(ctx context.Context, ev event.TransferPaid) error {
	return r.settle(ctx, ev.Meta, ev.TransferID, ev.PayoutID, (*store.PayoutStore).Complete, "completed")
}

// TransferReversed marks a still pending payout FAILED. Settled payouts are
// left alone.
func (r *Reconciler) TransferReversed(ctx context.Context, ev event.TransferReversed) error {
	return r.settle(ctx, ev.Meta, ev.TransferID, ev.PayoutID, (*store.PayoutStore).Fail, "failed")
}

type settleFunc func(s *store.PayoutStore, ctx context.Context, id string, at time.Time) (bool, error)

func (r *Reconciler) settle(ctx context.Context, meta event.Meta, transferID, payoutID string, fn settleFunc, verb string) error {
	logger := r.logger.With(eventAttrs(meta)...).With("transfer", transferID, "payout_id", payoutID)

	if payoutID == "" {
		logger.Warn("transfer has no payout reference")
		return nil
	}

	settled, err := r.keys.PayoutSettled(ctx, payoutID)
	if err != nil {
		return err
	}
	if settled {
		logger.Debug("payout already settled")
		return nil
	}

	var outcome string
	_, err = r.apply(ctx, meta, func(ctx context.Context, s txStores, out *outbox) error {
		ok, err := fn(s.payouts, ctx, payoutID, r.now())
		if err != nil {
			return err
		}
		if ok {
			outcome = verb
			return nil
		}
		p, err := s.payouts.GetByID(ctx, payoutID)
		if err != nil {
			return err
		}
		if p == nil {
			outcome = "not found"
			return nil
		}
		outcome = "already " + string(p.Status)
		return nil
	})
	if err != nil {
		return fmt.Errorf("settle payout %s: %w", payoutID, err)
	}

	switch outcome {
	case "":
		logger.Debug("event already applied")
	case verb:
		logger.Info("payout " + verb)
	case "not found":
		logger.Warn("transfer references unknown payout")
	default:
		logger.Info("payout settlement ignored", "reason", outcome)
	}
	return nil
}
