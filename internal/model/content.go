package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type AccessModel string

const (
	AccessFree         AccessModel = "FREE"
	AccessPurchase     AccessModel = "PURCHASE"
	AccessSubscription AccessModel = "SUBSCRIPTION"
	AccessHybrid       AccessModel = "HYBRID"
)

// Purchasable reports whether content under this model can be bought outright.
func (a AccessModel) Purchasable() bool {
	return a == AccessPurchase || a == AccessHybrid
}

type Creator struct {
	ID             string          `json:"id"`
	UserID         string          `json:"userId"`
	DisplayName    string          `json:"displayName"`
	CommissionRate decimal.Decimal `json:"commissionRate"`
	CreatedAt      time.Time       `json:"createdAt"`
}

type Content struct {
	ID            string           `json:"id"`
	CreatorID     string           `json:"creatorId"`
	Title         string           `json:"title"`
	AccessModel   AccessModel      `json:"accessModel"`
	Price         *decimal.Decimal `json:"price"`
	PurchaseCount int64            `json:"purchaseCount"`
	CreatedAt     time.Time        `json:"createdAt"`
}

type AffiliateLink struct {
	ID              string          `json:"id"`
	OwnerUserID     string          `json:"ownerUserId"`
	Code            string          `json:"code"`
	CommissionRate  decimal.Decimal `json:"commissionRate"`
	Active          bool            `json:"active"`
	ConversionCount int64           `json:"conversionCount"`
	TotalEarned     decimal.Decimal `json:"totalEarned"`
	CreatedAt       time.Time       `json:"createdAt"`
}

// CreatorBalance is derived on every read from purchases and completed payouts.
type CreatorBalance struct {
	CreatorID        string          `json:"creatorId"`
	TotalEarned      decimal.Decimal `json:"totalEarned"`
	TotalPaidOut     decimal.Decimal `json:"totalPaidOut"`
	AvailableBalance decimal.Decimal `json:"availableBalance"`
}
