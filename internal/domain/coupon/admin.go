package coupon

import (
	"context"
	"fmt"
	"math"

	"github.com/go-faster/errors"
)

// ValidationError describes a coupon definition rejected by Admin.Save.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid coupon %s: %s", e.Field, e.Reason)
}

// Admin implements coupon administration on top of an AdminRepository.
type Admin struct {
	repo AdminRepository
}

// NewAdmin creates an Admin backed by repo.
func NewAdmin(repo AdminRepository) *Admin {
	return &Admin{repo: repo}
}

// Save creates c when c.ID is zero and updates it otherwise. The code is
// normalized before validation. Saving never changes the usage counter.
func (a *Admin) Save(ctx context.Context, c *Coupon) error {
	c.Code = NormalizeCode(c.Code)
	if err := Validate(c); err != nil {
		return err
	}

	if c.ID == 0 {
		if err := a.repo.Create(ctx, c); err != nil {
			return errors.Wrap(err, "create coupon")
		}
		return nil
	}
	if err := a.repo.Update(ctx, c); err != nil {
		return errors.Wrapf(err, "update coupon %d", c.ID)
	}
	return nil
}

// List returns all coupons with their ledger usage counts.
func (a *Admin) List(ctx context.Context) ([]Summary, error) {
	coupons, err := a.repo.List(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list coupons")
	}
	return coupons, nil
}

// Delete removes a coupon that no order has redeemed. Redeemed coupons fail
// with ErrInUse and can only be deactivated.
func (a *Admin) Delete(ctx context.Context, id int64) error {
	if err := a.repo.Delete(ctx, id); err != nil {
		return errors.Wrapf(err, "delete coupon %d", id)
	}
	return nil
}

// Usage returns the ledger entries recorded for a coupon.
func (a *Admin) Usage(ctx context.Context, couponID int64) ([]Usage, error) {
	usage, err := a.repo.ListUsage(ctx, couponID)
	if err != nil {
		return nil, errors.Wrapf(err, "list usage of coupon %d", couponID)
	}
	return usage, nil
}

// Validate checks the rules every stored coupon must satisfy.
func Validate(c *Coupon) error {
	switch {
	case c.Code == "":
		return &ValidationError{Field: "code", Reason: "must not be empty"}
	case !c.Type.Valid():
		return &ValidationError{Field: "type", Reason: fmt.Sprintf("unsupported discount type %q", c.Type)}
	case !c.Value.IsPositive():
		return &ValidationError{Field: "value", Reason: "must be positive"}
	case c.Type == DiscountPercentage && c.Value.GreaterThan(hundred):
		return &ValidationError{Field: "value", Reason: "percentage must not exceed 100"}
	case c.MinPurchase.IsNegative():
		return &ValidationError{Field: "min_purchase", Reason: "must not be negative"}
	case c.UsageLimit != nil && *c.UsageLimit < 0:
		return &ValidationError{Field: "usage_limit", Reason: "must not be negative"}
	case c.UsageLimit != nil && *c.UsageLimit > math.MaxInt32:
		return &ValidationError{Field: "usage_limit", Reason: fmt.Sprintf("must not exceed %d", math.MaxInt32)}
	case c.StartDate != nil && c.EndDate != nil && c.EndDate.Before(*c.StartDate):
		return &ValidationError{Field: "end_date", Reason: "must not precede start_date"}
	}
	return nil
}
