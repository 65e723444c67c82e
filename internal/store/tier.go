package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/marketplace/internal/model"
)

type TierStore struct {
	db DBTX
}

func NewTierStore(db DBTX) *TierStore {
	return &TierStore{db: db}
}

func (s *TierStore) WithTx(tx *sql.Tx) *TierStore {
	return &TierStore{db: tx}
}

func scanTier(scanner interface{ Scan(...any) error }) (*model.SubscriptionTier, error) {
	var t model.SubscriptionTier
	err := scanner.Scan(&t.ID, &t.CreatorID, &t.Name, &t.PriceCents, &t.IntervalDays, &t.SubscriberCount, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

const tierCols = `id, creator_id, name, price_cents, interval_days, subscriber_count, created_at`

// Create inserts a tier. A non-positive intervalDays uses the column default.
func (s *TierStore) Create(ctx context.Context, creatorID, name string, priceCents int64, intervalDays int) (*model.SubscriptionTier, error) {
	if intervalDays <= 0 {
		intervalDays = 30
	}
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO subscription_tiers (id, creator_id, name, price_cents, interval_days, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, creatorID, name, priceCents, intervalDays, time.Now().UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert subscription tier: %w", err)
	}
	return s.GetByID(ctx, id)
}

func (s *TierStore) GetByID(ctx context.Context, id string) (*model.SubscriptionTier, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+tierCols+` FROM subscription_tiers WHERE id = ?`, id)
	t, err := scanTier(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get subscription tier: %w", err)
	}
	return t, nil
}

// AdjustSubscriberCount applies delta in the database.
func (s *TierStore) AdjustSubscriberCount(ctx context.Context, id string, delta int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE subscription_tiers SET subscriber_count = subscriber_count + ? WHERE id = ?`,
		delta, id,
	)
	if err != nil {
		return fmt.Errorf("adjust subscriber count: %w", err)
	}
	return nil
}
