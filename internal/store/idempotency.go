package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/marketplace/internal/model"
)

// IdempotencyStore answers "has this key already been applied?" and records
// keys inside the transaction that applies them.
type IdempotencyStore struct {
	db DBTX
}

func NewIdempotencyStore(db DBTX) *IdempotencyStore {
	return &IdempotencyStore{db: db}
}

func (s *IdempotencyStore) WithTx(tx *sql.Tx) *IdempotencyStore {
	return &IdempotencyStore{db: tx}
}

// Claim records key and reports true, or reports false if the key was
// already claimed.
func (s *IdempotencyStore) Claim(ctx context.Context, key, kind string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO idempotency_keys (key, kind, applied_at) VALUES (?, ?, ?) ON CONFLICT (key) DO NOTHING`,
		key, kind, time.Now().UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("claim idempotency key: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim idempotency key rows affected: %w", err)
	}
	return n == 1, nil
}

func (s *IdempotencyStore) AlreadyApplied(ctx context.Context, key string) (bool, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM idempotency_keys WHERE key = ?`, key).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check idempotency key: %w", err)
	}
	return true, nil
}

// PaymentApplied reports whether a purchase already carries paymentRef.
func (s *IdempotencyStore) PaymentApplied(ctx context.Context, paymentRef string) (bool, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM purchases WHERE stripe_payment_id = ?`, paymentRef).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check payment applied: %w", err)
	}
	return true, nil
}

// PayoutSettled reports whether the payout has left PENDING.
func (s *IdempotencyStore) PayoutSettled(ctx context.Context, payoutID string) (bool, error) {
	var status model.PayoutStatus
	err := s.db.QueryRowContext(ctx, `SELECT status FROM payouts WHERE id = ?`, payoutID).Scan(&status)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check payout settled: %w", err)
	}
	return status != model.PayoutPending, nil
}

// PurgeBefore deletes keys applied before cutoff and returns the count.
func (s *IdempotencyStore) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM idempotency_keys WHERE applied_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("purge idempotency keys: %w", err)
	}
	return res.RowsAffected()
}
