package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type PayoutStatus string

const (
	PayoutPending   PayoutStatus = "PENDING"
	PayoutCompleted PayoutStatus = "COMPLETED"
	PayoutFailed    PayoutStatus = "FAILED"
)

type Payout struct {
	ID          string          `json:"id"`
	CreatorID   string          `json:"creatorId"`
	Amount      decimal.Decimal `json:"amount"`
	Status      PayoutStatus    `json:"status"`
	CompletedAt *time.Time      `json:"completedAt"`
	FailedAt    *time.Time      `json:"failedAt"`
	CreatedAt   time.Time       `json:"createdAt"`
}
