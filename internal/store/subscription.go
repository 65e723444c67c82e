package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/marketplace/internal/model"
)

type SubscriptionStore struct {
	db DBTX
}

func NewSubscriptionStore(db DBTX) *SubscriptionStore {
	return &SubscriptionStore{db: db}
}

func (s *SubscriptionStore) WithTx(tx *sql.Tx) *SubscriptionStore {
	return &SubscriptionStore{db: tx}
}

func scanSubscription(scanner interface{ Scan(...any) error }) (*model.Subscription, error) {
	var sub model.Subscription
	var autoRenew int
	var canceledAt, lastEventAt sql.NullTime
	err := scanner.Scan(
		&sub.ID, &sub.UserID, &sub.TierID, &sub.Status, &sub.StartDate, &sub.EndDate,
		&sub.StripeSubscriptionID, &autoRenew, &canceledAt, &lastEventAt,
		&sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	sub.AutoRenew = autoRenew != 0
	sub.CanceledAt = timePtr(canceledAt)
	sub.LastEventAt = timePtr(lastEventAt)
	sub.StartDate = sub.StartDate.UTC()
	sub.EndDate = sub.EndDate.UTC()
	return &sub, nil
}

const subscriptionCols = `id, user_id, tier_id, status, start_date, end_date, stripe_subscription_id,
	auto_renew, canceled_at, last_event_at, created_at, updated_at`

// Insert writes sub unless its processor subscription id is already known,
// and reports whether a row was written.
func (s *SubscriptionStore) Insert(ctx context.Context, sub *model.Subscription) (bool, error) {
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	sub.CreatedAt = now
	sub.UpdatedAt = now

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO subscriptions (id, user_id, tier_id, status, start_date, end_date, stripe_subscription_id,
			auto_renew, canceled_at, last_event_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (stripe_subscription_id) DO NOTHING`,
		sub.ID, sub.UserID, sub.TierID, string(sub.Status), sub.StartDate.UTC(), sub.EndDate.UTC(),
		sub.StripeSubscriptionID, boolInt(sub.AutoRenew), nullTime(sub.CanceledAt), nullTime(sub.LastEventAt),
		now, now,
	)
	if err != nil {
		return false, fmt.Errorf("insert subscription: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert subscription rows affected: %w", err)
	}
	return n == 1, nil
}

func (s *SubscriptionStore) GetByID(ctx context.Context, id string) (*model.Subscription, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+subscriptionCols+` FROM subscriptions WHERE id = ?`, id)
	sub, err := scanSubscription(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get subscription: %w", err)
	}
	return sub, nil
}

func (s *SubscriptionStore) GetByStripeID(ctx context.Context, stripeID string) (*model.Subscription, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+subscriptionCols+` FROM subscriptions WHERE stripe_subscription_id = ?`, stripeID)
	sub, err := scanSubscription(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get subscription by stripe id: %w", err)
	}
	return sub, nil
}

// Update persists the mutable lifecycle fields of sub.
func (s *SubscriptionStore) Update(ctx context.Context, sub *model.Subscription) error {
	sub.UpdatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`UPDATE subscriptions
		 SET status = ?, start_date = ?, end_date = ?, auto_renew = ?, canceled_at = ?, last_event_at = ?, updated_at = ?
		 WHERE id = ?`,
		string(sub.Status), sub.StartDate.UTC(), sub.EndDate.UTC(), boolInt(sub.AutoRenew),
		nullTime(sub.CanceledAt), nullTime(sub.LastEventAt), sub.UpdatedAt, sub.ID,
	)
	if err != nil {
		return fmt.Errorf("update subscription: %w", err)
	}
	return nil
}
