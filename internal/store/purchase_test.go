package store

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/dukerupert/marketplace/internal/model"
)

func TestPurchaseInsertIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	_, content := seedContent(t, db, "49.99")

	p := &model.Purchase{
		UserID: "buyer", ContentID: content.ID, StripePaymentID: "pi_123",
		Amount:         decimal.RequireFromString("49.99"),
		PlatformFee:    decimal.RequireFromString("7.50"),
		CreatorEarning: decimal.RequireFromString("42.49"),
	}
	if !insertPurchase(t, db, p) {
		t.Fatal("first insert should create a row")
	}

	// Same payment reference.
	if insertPurchase(t, db, &model.Purchase{
		UserID: "other", ContentID: content.ID, StripePaymentID: "pi_123",
		Amount: decimal.RequireFromString("49.99"),
	}) {
		t.Error("duplicate payment reference should not create a row")
	}
	// Same (user, content) pair under a different payment.
	if insertPurchase(t, db, &model.Purchase{
		UserID: "buyer", ContentID: content.ID, StripePaymentID: "pi_456",
		Amount: decimal.RequireFromString("49.99"),
	}) {
		t.Error("duplicate (user, content) should not create a row")
	}

	rows, err := NewPurchaseStore(db).ListByContent(ctx, content.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("purchases = %d, want 1", len(rows))
	}
	got := rows[0]
	if !got.CreatorEarning.Equal(decimal.RequireFromString("42.49")) {
		t.Errorf("creator_earning = %s, want 42.49", got.CreatorEarning)
	}
	if got.AffiliateLinkID != nil {
		t.Errorf("affiliate_link_id = %v, want nil", *got.AffiliateLinkID)
	}
}

func TestPurchaseLookups(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	_, content := seedContent(t, db, "10.00")
	link, err := NewAffiliateStore(db).Create(ctx, "aff", "CODE", decimal.RequireFromString("0.10"))
	if err != nil {
		t.Fatalf("create link: %v", err)
	}

	insertPurchase(t, db, &model.Purchase{
		UserID: "buyer", ContentID: content.ID, StripePaymentID: "pi_9",
		AffiliateLinkID: &link.ID,
		Amount:          decimal.RequireFromString("10"),
	})

	s := NewPurchaseStore(db)
	byPayment, err := s.GetByPaymentID(ctx, "pi_9")
	if err != nil {
		t.Fatalf("get by payment: %v", err)
	}
	if byPayment == nil || byPayment.AffiliateLinkID == nil || *byPayment.AffiliateLinkID != link.ID {
		t.Fatalf("GetByPaymentID = %+v, want affiliate %q", byPayment, link.ID)
	}

	byPair, err := s.GetByUserContent(ctx, "buyer", content.ID)
	if err != nil {
		t.Fatalf("get by pair: %v", err)
	}
	if byPair == nil || byPair.ID != byPayment.ID {
		t.Errorf("GetByUserContent = %+v, want %q", byPair, byPayment.ID)
	}

	none, err := s.GetByUserContent(ctx, "someone-else", content.ID)
	if err != nil {
		t.Fatalf("get missing: %v", err)
	}
	if none != nil {
		t.Errorf("expected nil, got %+v", none)
	}
}
