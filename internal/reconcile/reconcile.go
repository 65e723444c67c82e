// Package reconcile applies verified processor events to the marketplace
// ledger. Every mutation an event causes commits in one transaction together
// with the claim on the event id, so replays and concurrent deliveries are
// no-ops.
package reconcile

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/dukerupert/marketplace/internal/database"
	"github.com/dukerupert/marketplace/internal/event"
	"github.com/dukerupert/marketplace/internal/model"
	"github.com/dukerupert/marketplace/internal/store"
)

// Publisher delivers committed notifications to live listeners. Delivery is
// best effort; the stored notification is the durable copy.
type Publisher interface {
	Publish(n model.Notification)
}

// Fanout publishes to each publisher in order.
type Fanout []Publisher

func (f Fanout) Publish(n model.Notification) {
	for _, p := range f {
		p.Publish(n)
	}
}

type Reconciler struct {
	db            *sql.DB
	contents      *store.ContentStore
	creators      *store.CreatorStore
	affiliates    *store.AffiliateStore
	purchases     *store.PurchaseStore
	tiers         *store.TierStore
	subscriptions *store.SubscriptionStore
	payouts       *store.PayoutStore
	notifications *store.NotificationStore
	keys          *store.IdempotencyStore
	publisher     Publisher
	logger        *slog.Logger
	now           func() time.Time
}

func New(db *sql.DB, publisher Publisher, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		db:            db,
		contents:      store.NewContentStore(db),
		creators:      store.NewCreatorStore(db),
		affiliates:    store.NewAffiliateStore(db),
		purchases:     store.NewPurchaseStore(db),
		tiers:         store.NewTierStore(db),
		subscriptions: store.NewSubscriptionStore(db),
		payouts:       store.NewPayoutStore(db),
		notifications: store.NewNotificationStore(db),
		keys:          store.NewIdempotencyStore(db),
		publisher:     publisher,
		logger:        logger.With("component", "reconcile"),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// txStores are the stores bound to one transaction.
type txStores struct {
	contents      *store.ContentStore
	affiliates    *store.AffiliateStore
	purchases     *store.PurchaseStore
	tiers         *store.TierStore
	subscriptions *store.SubscriptionStore
	payouts       *store.PayoutStore
	notifications *store.NotificationStore
	keys          *store.IdempotencyStore
}

func (r *Reconciler) bind(tx *sql.Tx) txStores {
	return txStores{
		contents:      r.contents.WithTx(tx),
		affiliates:    r.affiliates.WithTx(tx),
		purchases:     r.purchases.WithTx(tx),
		tiers:         r.tiers.WithTx(tx),
		subscriptions: r.subscriptions.WithTx(tx),
		payouts:       r.payouts.WithTx(tx),
		notifications: r.notifications.WithTx(tx),
		keys:          r.keys.WithTx(tx),
	}
}

// outbox collects notifications written inside a transaction so they can be
// published once it commits.
type outbox struct {
	pending []model.Notification
}

func (o *outbox) add(ctx context.Context, s *store.NotificationStore, n model.Notification) error {
	if err := s.Insert(ctx, &n); err != nil {
		return err
	}
	o.pending = append(o.pending, n)
	return nil
}

// apply claims the event id and runs fn in the same transaction. When the id
// was already claimed nothing is written and apply reports false. fn may run
// more than once if the database is busy, so it must not keep state outside
// the transaction other than through the outbox, which is reset per attempt.
func (r *Reconciler) apply(ctx context.Context, meta event.Meta, fn func(ctx context.Context, s txStores, out *outbox) error) (bool, error) {
	var (
		claimed bool
		out     outbox
	)
	err := database.InTx(ctx, r.db, func(tx *sql.Tx) error {
		claimed = false
		out = outbox{}
		s := r.bind(tx)
		ok, err := s.keys.Claim(ctx, meta.ID, meta.Type)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		claimed = true
		return fn(ctx, s, &out)
	})
	if err != nil {
		return false, err
	}
	r.publish(out.pending)
	return claimed, nil
}

func (r *Reconciler) publish(ns []model.Notification) {
	if r.publisher == nil {
		return
	}
	for _, n := range ns {
		r.publisher.Publish(n)
	}
}

func eventAttrs(meta event.Meta) []any {
	return []any{"event_id", meta.ID, "event_type", meta.Type}
}
