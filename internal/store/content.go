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

type ContentStore struct {
	db DBTX
}

func NewContentStore(db DBTX) *ContentStore {
	return &ContentStore{db: db}
}

func (s *ContentStore) WithTx(tx *sql.Tx) *ContentStore {
	return &ContentStore{db: tx}
}

func scanContent(scanner interface{ Scan(...any) error }) (*model.Content, error) {
	var c model.Content
	var price sql.NullInt64
	err := scanner.Scan(&c.ID, &c.CreatorID, &c.Title, &c.AccessModel, &price, &c.PurchaseCount, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	if price.Valid {
		p := ledger.FromMinorUnits(price.Int64)
		c.Price = &p
	}
	return &c, nil
}

const contentCols = `id, creator_id, title, access_model, price_cents, purchase_count, created_at`

func (s *ContentStore) Create(ctx context.Context, creatorID, title string, access model.AccessModel, price *decimal.Decimal) (*model.Content, error) {
	var priceCents sql.NullInt64
	if price != nil {
		priceCents = sql.NullInt64{Int64: ledger.ToMinorUnits(*price), Valid: true}
	}

	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO content (id, creator_id, title, access_model, price_cents, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, creatorID, title, string(access), priceCents, time.Now().UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert content: %w", err)
	}
	return s.GetByID(ctx, id)
}

func (s *ContentStore) GetByID(ctx context.Context, id string) (*model.Content, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+contentCols+` FROM content WHERE id = ?`, id)
	c, err := scanContent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get content: %w", err)
	}
	return c, nil
}

// IncrementPurchaseCount adds n in the database, never from a value read
// into memory.
func (s *ContentStore) IncrementPurchaseCount(ctx context.Context, id string, n int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE content SET purchase_count = purchase_count + ? WHERE id = ?`,
		n, id,
	)
	if err != nil {
		return fmt.Errorf("increment purchase count: %w", err)
	}
	return nil
}
