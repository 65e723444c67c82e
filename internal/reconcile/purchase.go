package reconcile

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/dukerupert/marketplace/internal/apperr"
	"github.com/dukerupert/marketplace/internal/event"
	"github.com/dukerupert/marketplace/internal/ledger"
	"github.com/dukerupert/marketplace/internal/model"
)

// PaymentSucceeded records a one-time content purchase. Events that cannot be
// linked back to content are logged and acknowledged so they are not retried.
func (r *Reconciler) PaymentSucceeded(ctx context.Context, ev event.PaymentSucceeded) error {
	logger := r.logger.With(eventAttrs(ev.Meta)...).With("payment_intent", ev.PaymentIntentID)

	if ev.UserID == "" || ev.ContentID == "" {
		logger.Error("payment missing linkage metadata", "user_id", ev.UserID, "content_id", ev.ContentID)
		return nil
	}

	applied, err := r.keys.PaymentApplied(ctx, ev.PaymentIntentID)
	if err != nil {
		return err
	}
	if applied {
		logger.Debug("payment already applied")
		return nil
	}

	content, err := r.contents.GetByID(ctx, ev.ContentID)
	if err != nil {
		return err
	}
	if content == nil {
		logger.Error("payment references unknown content", "content_id", ev.ContentID)
		return nil
	}
	creator, err := r.creators.GetByID(ctx, content.CreatorID)
	if err != nil {
		return err
	}
	if creator == nil {
		logger.Error("content has no creator", "content_id", content.ID, "creator_id", content.CreatorID)
		return nil
	}

	var link *model.AffiliateLink
	if ev.AffiliateLinkID != "" {
		link, err = r.affiliates.GetByID(ctx, ev.AffiliateLinkID)
		if err != nil {
			return err
		}
		if link == nil || !link.Active {
			logger.Warn("affiliate link missing or inactive, no commission", "affiliate_link_id", ev.AffiliateLinkID)
			link = nil
		}
	}

	var affiliateRate *decimal.Decimal
	if link != nil {
		affiliateRate = &link.CommissionRate
	}
	amount := ledger.FromMinorUnits(ev.AmountMinor)
	split, err := ledger.Allocate(amount, creator.CommissionRate, affiliateRate)
	if err != nil {
		return apperr.Wrap(err, apperr.Validation, "invalid_allocation",
			fmt.Sprintf("allocate payment %s", ev.PaymentIntentID))
	}

	purchase := &model.Purchase{
		UserID:              ev.UserID,
		ContentID:           content.ID,
		Amount:              split.Amount,
		PlatformFee:         split.PlatformFee,
		CreatorEarning:      split.CreatorEarning,
		AffiliateCommission: split.AffiliateCommission,
		StripePaymentID:     ev.PaymentIntentID,
	}
	if link != nil {
		purchase.AffiliateLinkID = &link.ID
	}

	var created bool
	_, err = r.apply(ctx, ev.Meta, func(ctx context.Context, s txStores, out *outbox) error {
		var err error
		created, err = s.purchases.Insert(ctx, purchase)
		if err != nil {
			return err
		}
		if !created {
			return nil
		}
		if err := s.contents.IncrementPurchaseCount(ctx, content.ID, 1); err != nil {
			return err
		}
		if link != nil {
			if err := s.affiliates.RecordConversion(ctx, link.ID, split.AffiliateCommission); err != nil {
				return err
			}
		}
		return out.add(ctx, s.notifications, model.Notification{
			UserID:  creator.UserID,
			Kind:    model.NotificationPurchase,
			Title:   "New purchase!",
			Message: fmt.Sprintf("Your content %q was purchased", content.Title),
			Link:    "/creator/content/" + content.ID,
		})
	})
	if err != nil {
		return fmt.Errorf("apply payment %s: %w", ev.PaymentIntentID, err)
	}

	if !created {
		logger.Info("purchase already recorded", "user_id", ev.UserID, "content_id", content.ID)
		return nil
	}
	logger.Info("purchase recorded",
		"purchase_id", purchase.ID,
		"content_id", content.ID,
		"amount", split.Amount.StringFixed(2),
		"creator_earning", split.CreatorEarning.StringFixed(2),
	)
	return nil
}
