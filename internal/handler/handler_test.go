package handler

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/dukerupert/marketplace/internal/database"
	"github.com/dukerupert/marketplace/internal/model"
	"github.com/dukerupert/marketplace/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testData struct {
	db      *sql.DB
	creator *model.Creator
	content *model.Content
	link    *model.AffiliateLink
}

func setupTestData(t *testing.T) *testData {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	ctx := context.Background()

	creator, err := store.NewCreatorStore(db).Create(ctx, "creator-user", "Ada", decimal.RequireFromString("0.20"))
	if err != nil {
		t.Fatalf("create creator: %v", err)
	}
	price := decimal.RequireFromString("100.00")
	content, err := store.NewContentStore(db).Create(ctx, creator.ID, "Synth Pack", model.AccessPurchase, &price)
	if err != nil {
		t.Fatalf("create content: %v", err)
	}
	link, err := store.NewAffiliateStore(db).Create(ctx, "affiliate-user", "FRIEND", decimal.RequireFromString("0.10"))
	if err != nil {
		t.Fatalf("create link: %v", err)
	}
	return &testData{db: db, creator: creator, content: content, link: link}
}

func countRows(t *testing.T, db *sql.DB, table string) int {
	t.Helper()
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM ` + table).Scan(&n); err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}
