package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Purchase is written once per (user, content) and never updated.
type Purchase struct {
	ID                  string          `json:"id"`
	UserID              string          `json:"userId"`
	ContentID           string          `json:"contentId"`
	AffiliateLinkID     *string         `json:"affiliateLinkId"`
	Amount              decimal.Decimal `json:"amount"`
	PlatformFee         decimal.Decimal `json:"platformFee"`
	CreatorEarning      decimal.Decimal `json:"creatorEarning"`
	AffiliateCommission decimal.Decimal `json:"affiliateCommission"`
	StripePaymentID     string          `json:"stripePaymentId"`
	CreatedAt           time.Time       `json:"createdAt"`
}
