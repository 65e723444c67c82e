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

type CreatorStore struct {
	db DBTX
}

func NewCreatorStore(db DBTX) *CreatorStore {
	return &CreatorStore{db: db}
}

func (s *CreatorStore) WithTx(tx *sql.Tx) *CreatorStore {
	return &CreatorStore{db: tx}
}

func scanCreator(scanner interface{ Scan(...any) error }) (*model.Creator, error) {
	var c model.Creator
	err := scanner.Scan(&c.ID, &c.UserID, &c.DisplayName, &c.CommissionRate, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

const creatorCols = `id, user_id, display_name, commission_rate, created_at`

func (s *CreatorStore) Create(ctx context.Context, userID, displayName string, commissionRate decimal.Decimal) (*model.Creator, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO creators (id, user_id, display_name, commission_rate, created_at) VALUES (?, ?, ?, ?, ?)`,
		id, userID, displayName, commissionRate.String(), time.Now().UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert creator: %w", err)
	}
	return s.GetByID(ctx, id)
}

func (s *CreatorStore) GetByID(ctx context.Context, id string) (*model.Creator, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+creatorCols+` FROM creators WHERE id = ?`, id)
	c, err := scanCreator(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get creator: %w", err)
	}
	return c, nil
}

func (s *CreatorStore) GetByUserID(ctx context.Context, userID string) (*model.Creator, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+creatorCols+` FROM creators WHERE user_id = ?`, userID)
	c, err := scanCreator(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get creator by user: %w", err)
	}
	return c, nil
}

// Balance computes earnings minus completed payouts. It is never stored.
func (s *CreatorStore) Balance(ctx context.Context, creatorID string) (*model.CreatorBalance, error) {
	var earned int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(p.creator_earning_cents), 0)
		 FROM purchases p JOIN content c ON c.id = p.content_id
		 WHERE c.creator_id = ?`,
		creatorID,
	).Scan(&earned)
	if err != nil {
		return nil, fmt.Errorf("sum creator earnings: %w", err)
	}

	var paidOut int64
	err = s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(amount_cents), 0) FROM payouts WHERE creator_id = ? AND status = ?`,
		creatorID, string(model.PayoutCompleted),
	).Scan(&paidOut)
	if err != nil {
		return nil, fmt.Errorf("sum completed payouts: %w", err)
	}

	return &model.CreatorBalance{
		CreatorID:        creatorID,
		TotalEarned:      ledger.FromMinorUnits(earned),
		TotalPaidOut:     ledger.FromMinorUnits(paidOut),
		AvailableBalance: ledger.FromMinorUnits(earned - paidOut),
	}, nil
}
