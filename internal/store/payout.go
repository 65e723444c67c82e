package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dukerupert/marketplace/internal/ledger"
	"github.com/dukerupert/marketplace/internal/model"
)

type PayoutStore struct {
	db DBTX
}

func NewPayoutStore(db DBTX) *PayoutStore {
	return &PayoutStore{db: db}
}

func (s *PayoutStore) WithTx(tx *sql.Tx) *PayoutStore {
	return &PayoutStore{db: tx}
}

func scanPayout(scanner interface{ Scan(...any) error }) (*model.Payout, error) {
	var p model.Payout
	var amount int64
	var completedAt, failedAt sql.NullTime
	err := scanner.Scan(&p.ID, &p.CreatorID, &amount, &p.Status, &completedAt, &failedAt, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	p.Amount = ledger.FromMinorUnits(amount)
	p.CompletedAt = timePtr(completedAt)
	p.FailedAt = timePtr(failedAt)
	return &p, nil
}

const payoutCols = `id, creator_id, amount_cents, status, completed_at, failed_at, created_at`

func (s *PayoutStore) Create(ctx context.Context, creatorID string, amount decimal.Decimal) (*model.Payout, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO payouts (id, creator_id, amount_cents, status, created_at) VALUES (?, ?, ?, ?, ?)`,
		id, creatorID, ledger.ToMinorUnits(amount), string(model.PayoutPending), time.Now().UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert payout: %w", err)
	}
	return s.GetByID(ctx, id)
}

func (s *PayoutStore) GetByID(ctx context.Context, id string) (*model.Payout, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+payoutCols+` FROM payouts WHERE id = ?`, id)
	p, err := scanPayout(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get payout: %w", err)
	}
	return p, nil
}

// Complete moves a PENDING payout to COMPLETED. It reports false when the
// payout is missing or already settled.
func (s *PayoutStore) Complete(ctx context.Context, id string, at time.Time) (bool, error) {
	return s.settle(ctx, id, model.PayoutCompleted, "completed_at", at)
}

// Fail moves a PENDING payout to FAILED.
func (s *PayoutStore) Fail(ctx context.Context, id string, at time.Time) (bool, error) {
	return s.settle(ctx, id, model.PayoutFailed, "failed_at", at)
}

func (s *PayoutStore) settle(ctx context.Context, id string, status model.PayoutStatus, column string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE payouts SET status = ?, `+column+` = ? WHERE id = ? AND status = ?`,
		string(status), at.UTC(), id, string(model.PayoutPending),
	)
	if err != nil {
		return false, fmt.Errorf("settle payout: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("settle payout rows affected: %w", err)
	}
	return n == 1, nil
}
