package order

import (
	"context"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/hosting-checkout/internal/domain/coupon"
)

// Status is the lifecycle state of an order.
type Status string

const (
	StatusPending     Status = "pending"
	StatusPaid        Status = "paid"
	StatusProvisioned Status = "provisioned"
	StatusCancelled   Status = "cancelled"
	StatusFailed      Status = "failed"
)

// transitions maps a target status to the statuses it may be entered from.
var transitions = map[Status][]Status{
	StatusPaid:        {StatusPending},
	StatusProvisioned: {StatusPaid},
	StatusCancelled:   {StatusPending, StatusPaid},
	StatusFailed:      {StatusPending, StatusPaid},
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusPaid, StatusProvisioned, StatusCancelled, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	for _, from := range transitions {
		if slices.Contains(from, s) {
			return false
		}
	}
	return true
}

// AllowedFrom returns the statuses an order may move to s from.
func AllowedFrom(s Status) []Status {
	return transitions[s]
}

var (
	// ErrInvalidAmount matches every *InvalidAmountError via errors.Is.
	ErrInvalidAmount = errors.New("invalid order amount")
	// ErrPlanNotFound is returned when the order references an unknown or
	// retired plan.
	ErrPlanNotFound = errors.New("plan not found")
	// ErrNotFound is returned when an order does not exist or belongs to
	// another user.
	ErrNotFound = errors.New("order not found")
	// ErrUnknownStatus is returned for status values outside the lifecycle.
	ErrUnknownStatus = errors.New("unknown order status")
	// ErrInvalidResources is returned when a resource count is negative or
	// does not fit the stored column.
	ErrInvalidResources = errors.New("invalid server configuration")
)

// InvalidAmountError rejects an order price before any coupon logic runs.
type InvalidAmountError struct {
	Price decimal.Decimal
}

func (e *InvalidAmountError) Error() string {
	return fmt.Sprintf("invalid order amount %s: must be greater than 0", e.Price.String())
}

// Is makes errors.Is(err, ErrInvalidAmount) true.
func (e *InvalidAmountError) Is(target error) bool {
	return target == ErrInvalidAmount
}

// TransitionError reports a lifecycle change the order's current status does
// not allow.
type TransitionError struct {
	OrderID string
	From    Status
	To      Status
}

func (e *TransitionError) Error() string {
	if e.From == "" {
		return fmt.Sprintf("order %s cannot move to %s", e.OrderID, e.To)
	}
	return fmt.Sprintf("order %s cannot move from %s to %s", e.OrderID, e.From, e.To)
}

// Resources is the server configuration an order was placed for.
type Resources struct {
	CPU       int
	RAMMB     int
	DiskGB    int
	Databases int
	Backups   int
}

// Validate checks every count is within [0, math.MaxInt32].
func (r Resources) Validate() error {
	for _, f := range []struct {
		name string
		v    int
	}{
		{"cpu", r.CPU},
		{"ram", r.RAMMB},
		{"disk", r.DiskGB},
		{"databases", r.Databases},
		{"backups", r.Backups},
	} {
		if f.v < 0 || f.v > math.MaxInt32 {
			return errors.Wrapf(ErrInvalidResources, "%s %d out of range", f.name, f.v)
		}
	}
	return nil
}

// Order is a purchase of a hosting plan with its price breakdown.
//
// FinalPrice always equals OriginalPrice minus DiscountAmount, and a non-zero
// discount always carries the CouponID it came from.
type Order struct {
	ID               string
	UserID           string
	PlanID           *int64
	NodeLocation     string
	Config           Resources
	OriginalPrice    decimal.Decimal
	DiscountAmount   decimal.Decimal
	FinalPrice       decimal.Decimal
	CouponID         *int64
	Status           Status
	PaymentReference string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Summary is an order joined with its plan name and coupon code for listings.
type Summary struct {
	Order
	PlanName   string
	CouponCode string
}

// Store persists orders.
type Store interface {
	// InTx runs fn in a single transaction. The transaction commits when fn
	// returns nil and rolls back otherwise.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	// Get returns ErrNotFound when no order has the given id.
	Get(ctx context.Context, id string) (*Summary, error)
	// List returns a page of orders, newest first, and the total count.
	List(ctx context.Context, limit, offset int) ([]Summary, int, error)
	// UpdateStatus moves the order to status to if its current status is one
	// of from. It reports whether a row changed.
	UpdateStatus(ctx context.Context, id string, to Status, from []Status, paymentRef string, at time.Time) (bool, error)
}

// Tx is the set of writes performed while creating an order.
type Tx interface {
	// LockCoupon reads the coupon by normalized code and holds it against
	// concurrent redemption until the transaction ends. Returns
	// coupon.ErrNotFound on a miss.
	LockCoupon(ctx context.Context, code string) (*coupon.Coupon, error)
	Insert(ctx context.Context, o *Order) error
	InsertCouponUsage(ctx context.Context, u *coupon.Usage) error
	// IncrementCouponUsage consumes one use if the coupon has uses left and
	// reports whether it did.
	IncrementCouponUsage(ctx context.Context, couponID int64) (bool, error)
}
