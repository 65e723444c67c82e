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

type AffiliateStore struct {
	db DBTX
}

func NewAffiliateStore(db DBTX) *AffiliateStore {
	return &AffiliateStore{db: db}
}

func (s *AffiliateStore) WithTx(tx *sql.Tx) *AffiliateStore {
	return &AffiliateStore{db: tx}
}

func scanAffiliateLink(scanner interface{ Scan(...any) error }) (*model.AffiliateLink, error) {
	var l model.AffiliateLink
	var active int
	var earnedCents int64
	err := scanner.Scan(
		&l.ID, &l.OwnerUserID, &l.Code, &l.CommissionRate, &active,
		&l.ConversionCount, &earnedCents, &l.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	l.Active = active != 0
	l.TotalEarned = ledger.FromMinorUnits(earnedCents)
	return &l, nil
}

const affiliateCols = `id, owner_user_id, code, commission_rate, active, conversion_count, total_earned_cents, created_at`

func (s *AffiliateStore) Create(ctx context.Context, ownerUserID, code string, rate decimal.Decimal) (*model.AffiliateLink, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO affiliate_links (id, owner_user_id, code, commission_rate, created_at) VALUES (?, ?, ?, ?, ?)`,
		id, ownerUserID, code, rate.String(), time.Now().UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert affiliate link: %w", err)
	}
	return s.GetByID(ctx, id)
}

func (s *AffiliateStore) GetByID(ctx context.Context, id string) (*model.AffiliateLink, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+affiliateCols+` FROM affiliate_links WHERE id = ?`, id)
	l, err := scanAffiliateLink(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get affiliate link: %w", err)
	}
	return l, nil
}

// GetActiveByCode returns nil for unknown or deactivated codes.
func (s *AffiliateStore) GetActiveByCode(ctx context.Context, code string) (*model.AffiliateLink, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+affiliateCols+` FROM affiliate_links WHERE code = ? AND active = 1`, code)
	l, err := scanAffiliateLink(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get affiliate link by code: %w", err)
	}
	return l, nil
}

func (s *AffiliateStore) SetActive(ctx context.Context, id string, active bool) error {
	_, err := s.db.ExecContext(ctx, `UPDATE affiliate_links SET active = ? WHERE id = ?`, boolInt(active), id)
	if err != nil {
		return fmt.Errorf("set affiliate link active: %w", err)
	}
	return nil
}

// RecordConversion atomically bumps the conversion count by one and the
// earned total by commission.
func (s *AffiliateStore) RecordConversion(ctx context.Context, id string, commission decimal.Decimal) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE affiliate_links
		 SET conversion_count = conversion_count + 1, total_earned_cents = total_earned_cents + ?
		 WHERE id = ?`,
		ledger.ToMinorUnits(commission), id,
	)
	if err != nil {
		return fmt.Errorf("record affiliate conversion: %w", err)
	}
	return nil
}
