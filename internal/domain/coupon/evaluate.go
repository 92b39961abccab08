package coupon

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Evaluation is the outcome of applying a valid coupon to an order amount.
type Evaluation struct {
	Coupon     *Coupon
	Discount   decimal.Decimal
	FinalPrice decimal.Decimal
}

// Evaluate checks c against amount at the instant now and computes the
// discount. A nil coupon is reported as not found. Evaluate does not mutate c.
//
// Amounts keep full precision; rounding to cents is left to presentation.
func Evaluate(c *Coupon, amount decimal.Decimal, now time.Time) (*Evaluation, error) {
	if amount.IsNegative() {
		return nil, ErrInvalidAmount
	}
	if c == nil {
		return nil, &InvalidError{Reason: ReasonNotFound}
	}
	if reason, ok := checkRedeemable(c, now); !ok {
		return nil, &InvalidError{Code: c.Code, Reason: reason}
	}
	if c.MinPurchase.GreaterThan(amount) {
		return nil, &InvalidError{Code: c.Code, Reason: ReasonMinimumNotMet, MinPurchase: c.MinPurchase}
	}

	var raw decimal.Decimal
	switch c.Type {
	case DiscountPercentage:
		raw = amount.Mul(c.Value).Div(hundred)
	case DiscountFixed:
		raw = c.Value
	default:
		return nil, errors.Errorf("unsupported discount type: %q", c.Type)
	}

	discount := decimal.Min(raw, amount)
	if discount.IsNegative() {
		discount = decimal.Zero
	}

	return &Evaluation{
		Coupon:     c,
		Discount:   discount,
		FinalPrice: amount.Sub(discount),
	}, nil
}

// checkRedeemable covers the state checks that do not depend on the amount.
func checkRedeemable(c *Coupon, now time.Time) (Reason, bool) {
	switch {
	case !c.Active:
		return ReasonInactive, false
	case c.StartDate != nil && now.Before(*c.StartDate):
		return ReasonNotYetActive, false
	case c.EndDate != nil && now.After(*c.EndDate):
		return ReasonExpired, false
	case c.UsageLimit != nil && c.UsageCount >= *c.UsageLimit:
		return ReasonExhausted, false
	}
	return "", true
}
