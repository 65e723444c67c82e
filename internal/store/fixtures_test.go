package store

import (
	"context"
	"database/sql"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/dukerupert/marketplace/internal/database"
	"github.com/dukerupert/marketplace/internal/model"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// seedContent creates a creator and one priced PURCHASE item.
func seedContent(t *testing.T, db *sql.DB, price string) (*model.Creator, *model.Content) {
	t.Helper()
	ctx := context.Background()

	creator, err := NewCreatorStore(db).Create(ctx, "creator-user", "Ada", decimal.RequireFromString("0.20"))
	if err != nil {
		t.Fatalf("create creator: %v", err)
	}
	p := decimal.RequireFromString(price)
	content, err := NewContentStore(db).Create(ctx, creator.ID, "Field Recordings", model.AccessPurchase, &p)
	if err != nil {
		t.Fatalf("create content: %v", err)
	}
	return creator, content
}

func insertPurchase(t *testing.T, db *sql.DB, p *model.Purchase) bool {
	t.Helper()
	created, err := NewPurchaseStore(db).Insert(context.Background(), p)
	if err != nil {
		t.Fatalf("insert purchase: %v", err)
	}
	return created
}
