package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/marketplace/internal/ledger"
	"github.com/dukerupert/marketplace/internal/model"
)

type PurchaseStore struct {
	db DBTX
}

func NewPurchaseStore(db DBTX) *PurchaseStore {
	return &PurchaseStore{db: db}
}

func (s *PurchaseStore) WithTx(tx *sql.Tx) *PurchaseStore {
	return &PurchaseStore{db: tx}
}

func scanPurchase(scanner interface{ Scan(...any) error }) (*model.Purchase, error) {
	var p model.Purchase
	var affiliateID sql.NullString
	var amount, fee, earning, commission int64
	err := scanner.Scan(
		&p.ID, &p.UserID, &p.ContentID, &affiliateID,
		&amount, &fee, &earning, &commission,
		&p.StripePaymentID, &p.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if affiliateID.Valid {
		p.AffiliateLinkID = &affiliateID.String
	}
	p.Amount = ledger.FromMinorUnits(amount)
	p.PlatformFee = ledger.FromMinorUnits(fee)
	p.CreatorEarning = ledger.FromMinorUnits(earning)
	p.AffiliateCommission = ledger.FromMinorUnits(commission)
	return &p, nil
}

const purchaseCols = `id, user_id, content_id, affiliate_link_id, amount_cents, platform_fee_cents,
	creator_earning_cents, affiliate_commission_cents, stripe_payment_id, created_at`

// Insert writes p unless a purchase with the same payment reference or the
// same (user, content) pair already exists. It reports whether a row was
// written; ID and CreatedAt are filled in on success.
func (s *PurchaseStore) Insert(ctx context.Context, p *model.Purchase) (bool, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}

	var affiliateID sql.NullString
	if p.AffiliateLinkID != nil {
		affiliateID = sql.NullString{String: *p.AffiliateLinkID, Valid: true}
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO purchases (id, user_id, content_id, affiliate_link_id, amount_cents, platform_fee_cents,
			creator_earning_cents, affiliate_commission_cents, stripe_payment_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT DO NOTHING`,
		p.ID, p.UserID, p.ContentID, affiliateID,
		ledger.ToMinorUnits(p.Amount), ledger.ToMinorUnits(p.PlatformFee),
		ledger.ToMinorUnits(p.CreatorEarning), ledger.ToMinorUnits(p.AffiliateCommission),
		p.StripePaymentID, p.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert purchase: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert purchase rows affected: %w", err)
	}
	return n == 1, nil
}

func (s *PurchaseStore) GetByPaymentID(ctx context.Context, paymentID string) (*model.Purchase, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+purchaseCols+` FROM purchases WHERE stripe_payment_id = ?`, paymentID)
	p, err := scanPurchase(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get purchase by payment: %w", err)
	}
	return p, nil
}

func (s *PurchaseStore) GetByUserContent(ctx context.Context, userID, contentID string) (*model.Purchase, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+purchaseCols+` FROM purchases WHERE user_id = ? AND content_id = ?`, userID, contentID)
	p, err := scanPurchase(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get purchase by user content: %w", err)
	}
	return p, nil
}

func (s *PurchaseStore) ListByContent(ctx context.Context, contentID string) ([]model.Purchase, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+purchaseCols+` FROM purchases WHERE content_id = ? ORDER BY created_at`, contentID)
	if err != nil {
		return nil, fmt.Errorf("list purchases: %w", err)
	}
	defer rows.Close()

	var purchases []model.Purchase
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			return nil, fmt.Errorf("scan purchase: %w", err)
		}
		purchases = append(purchases, *p)
	}
	return purchases, rows.Err()
}
