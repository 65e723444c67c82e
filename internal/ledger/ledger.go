// Package ledger holds the money arithmetic every allocation goes through.
// Amounts are major-unit decimals with two fractional digits; nothing here
// touches storage or the clock, so any ledger total can be recomputed from
// its inputs.
package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrNegativeAmount = errors.New("ledger: amount must not be negative")
	ErrRateOutOfRange = errors.New("ledger: rate must be between 0 and 1")
	ErrRatesExceedOne = errors.New("ledger: platform and affiliate rates exceed the whole amount")
)

// minorExp is the exponent of the smallest currency unit (cents).
const minorExp = -2

var one = decimal.NewFromInt(1)

// Split is the allocation of one gross payment.
type Split struct {
	Amount              decimal.Decimal
	PlatformFee         decimal.Decimal
	CreatorEarning      decimal.Decimal
	AffiliateCommission decimal.Decimal
}

// Allocate divides amount between the platform, the affiliate (if
// affiliateRate is non-nil) and the creator. Fee and commission are rounded
// to the minor unit; the creator receives the exact remainder, so the three
// parts always sum to amount.
func Allocate(amount, commissionRate decimal.Decimal, affiliateRate *decimal.Decimal) (Split, error) {
	if amount.IsNegative() {
		return Split{}, ErrNegativeAmount
	}
	if err := checkRate(commissionRate); err != nil {
		return Split{}, fmt.Errorf("commission rate: %w", err)
	}

	affRate := decimal.Zero
	if affiliateRate != nil {
		if err := checkRate(*affiliateRate); err != nil {
			return Split{}, fmt.Errorf("affiliate rate: %w", err)
		}
		affRate = *affiliateRate
	}
	if commissionRate.Add(affRate).GreaterThan(one) {
		return Split{}, ErrRatesExceedOne
	}

	amount = amount.Round(-minorExp)
	fee := amount.Mul(commissionRate).Round(-minorExp)
	commission := amount.Mul(affRate).Round(-minorExp)

	return Split{
		Amount:              amount,
		PlatformFee:         fee,
		CreatorEarning:      amount.Sub(fee).Sub(commission),
		AffiliateCommission: commission,
	}, nil
}

// Balanced reports whether the parts of s sum to its amount.
func (s Split) Balanced() bool {
	return s.PlatformFee.Add(s.CreatorEarning).Add(s.AffiliateCommission).Equal(s.Amount)
}

func checkRate(r decimal.Decimal) error {
	if r.IsNegative() || r.GreaterThan(one) {
		return ErrRateOutOfRange
	}
	return nil
}

// FromMinorUnits converts an amount in cents to a major-unit decimal.
func FromMinorUnits(minor int64) decimal.Decimal {
	return decimal.New(minor, minorExp)
}

// ToMinorUnits converts a major-unit decimal to cents, rounding half away
// from zero.
func ToMinorUnits(d decimal.Decimal) int64 {
	return d.Shift(-minorExp).Round(0).IntPart()
}

// ParseRate parses a rate such as "0.20" and checks it lies in [0, 1].
func ParseRate(s string) (decimal.Decimal, error) {
	r, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse rate %q: %w", s, err)
	}
	if err := checkRate(r); err != nil {
		return decimal.Zero, err
	}
	return r, nil
}
