package coupon

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// DiscountType enumerates the supported coupon discount strategies.
type DiscountType string

const (
	// DiscountPercentage takes a percentage of the order amount.
	DiscountPercentage DiscountType = "percentage"
	// DiscountFixed takes a fixed monetary amount, capped at the order amount.
	DiscountFixed DiscountType = "fixed"
)

// Valid reports whether t is a known discount type.
func (t DiscountType) Valid() bool {
	return t == DiscountPercentage || t == DiscountFixed
}

var (
	// ErrInvalidCoupon matches every *InvalidError via errors.Is.
	ErrInvalidCoupon = errors.New("invalid coupon code")
	// ErrInvalidAmount is returned when the amount to evaluate against is negative.
	ErrInvalidAmount = errors.New("invalid order amount")
	// ErrNotFound is returned by repositories when no coupon matches.
	ErrNotFound = errors.New("coupon not found")
	// ErrDuplicateCode is returned when saving a coupon whose code is taken.
	ErrDuplicateCode = errors.New("coupon code already exists")
	// ErrInUse is returned when deleting a coupon that orders have redeemed.
	ErrInUse = errors.New("coupon has been redeemed; deactivate it instead")
)

// Reason tells why a coupon was rejected.
type Reason string

const (
	ReasonNotFound      Reason = "not_found"
	ReasonInactive      Reason = "inactive"
	ReasonNotYetActive  Reason = "not_yet_active"
	ReasonExpired       Reason = "expired"
	ReasonExhausted     Reason = "exhausted"
	ReasonMinimumNotMet Reason = "minimum_not_met"
)

// InvalidError is an expected business rejection of a coupon. Its message is
// safe to show to the customer.
type InvalidError struct {
	Code        string
	Reason      Reason
	MinPurchase decimal.Decimal
}

func (e *InvalidError) Error() string {
	switch e.Reason {
	case ReasonNotFound:
		return "coupon not found"
	case ReasonMinimumNotMet:
		return fmt.Sprintf("minimum purchase not met: %s required", e.MinPurchase.StringFixed(2))
	default:
		return "coupon expired or exhausted"
	}
}

// Is makes errors.Is(err, ErrInvalidCoupon) true for every rejection.
func (e *InvalidError) Is(target error) bool {
	return target == ErrInvalidCoupon
}

// Coupon is a discount code with its validity window and usage counters.
type Coupon struct {
	ID          int64
	Code        string
	Type        DiscountType
	Value       decimal.Decimal
	Description string
	// StartDate and EndDate bound the validity window; nil means unbounded.
	StartDate *time.Time
	EndDate   *time.Time
	// UsageLimit is nil for unlimited coupons.
	UsageLimit  *int
	UsageCount  int
	MinPurchase decimal.Decimal
	Active      bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Summary is a coupon together with the number of ledger entries referencing it.
type Summary struct {
	Coupon
	TotalUsage int
}

// Usage is one ledger entry: a coupon consumed by an order.
type Usage struct {
	ID             int64
	CouponID       int64
	UserID         string
	OrderID        string
	DiscountAmount decimal.Decimal
	CreatedAt      time.Time
}

// NormalizeCode canonicalizes a customer-entered code to its stored form.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Repository provides read access to coupons by code.
type Repository interface {
	// FindByCode returns ErrNotFound when no coupon has the given
	// (already normalized) code.
	FindByCode(ctx context.Context, code string) (*Coupon, error)
}

// AdminRepository provides the mutations used by coupon administration.
type AdminRepository interface {
	Create(ctx context.Context, c *Coupon) error
	Update(ctx context.Context, c *Coupon) error
	List(ctx context.Context) ([]Summary, error)
	Delete(ctx context.Context, id int64) error
	ListUsage(ctx context.Context, couponID int64) ([]Usage, error)
}
