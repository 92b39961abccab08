package plan

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested plan does not exist.
var ErrNotFound = errors.New("plan not found")

// Plan is a purchasable hosting package.
type Plan struct {
	ID           int64
	Name         string
	Description  string
	CPU          int
	RAMMB        int
	DiskGB       int
	Databases    int
	Backups      int
	PriceMonthly decimal.Decimal
	Active       bool
	// Custom plans are priced from the configuration the customer picks.
	Custom bool
}

// Repository defines read operations for the plan catalog.
type Repository interface {
	ListActive(ctx context.Context) ([]Plan, error)
	GetByID(ctx context.Context, id int64) (*Plan, error)
}
