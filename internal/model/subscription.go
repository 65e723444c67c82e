package model

import "time"

type SubscriptionStatus string

const (
	SubscriptionActive  SubscriptionStatus = "ACTIVE"
	SubscriptionPaused  SubscriptionStatus = "PAUSED"
	SubscriptionExpired SubscriptionStatus = "EXPIRED"
)

type SubscriptionTier struct {
	ID              string    `json:"id"`
	CreatorID       string    `json:"creatorId"`
	Name            string    `json:"name"`
	PriceCents      int64     `json:"priceCents"`
	IntervalDays    int       `json:"intervalDays"`
	SubscriberCount int64     `json:"subscriberCount"`
	CreatedAt       time.Time `json:"createdAt"`
}

type Subscription struct {
	ID                   string             `json:"id"`
	UserID               string             `json:"userId"`
	TierID               string             `json:"tierId"`
	Status               SubscriptionStatus `json:"status"`
	StartDate            time.Time          `json:"startDate"`
	EndDate              time.Time          `json:"endDate"`
	StripeSubscriptionID string             `json:"stripeSubscriptionId"`
	AutoRenew            bool               `json:"autoRenew"`
	CanceledAt           *time.Time         `json:"canceledAt"`
	LastEventAt          *time.Time         `json:"lastEventAt"`
	CreatedAt            time.Time          `json:"createdAt"`
	UpdatedAt            time.Time          `json:"updatedAt"`
}
