// Package report aggregates revenue and coupon usage for the admin dashboard.
package report

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// MonthlyRevenue is the paid revenue booked in one calendar month.
type MonthlyRevenue struct {
	Month   time.Time
	Orders  int
	Revenue decimal.Decimal
}

// PlanPopularity counts paid orders per plan.
type PlanPopularity struct {
	PlanID  int64
	Name    string
	Orders  int
	Revenue decimal.Decimal
}

// CouponStat summarizes the ledger for one coupon.
type CouponStat struct {
	CouponID      int64
	Code          string
	Uses          int
	TotalDiscount decimal.Decimal
}

// Summary is the complete admin report.
type Summary struct {
	Revenue []MonthlyRevenue
	Plans   []PlanPopularity
	Coupons []CouponStat
}

// Repository runs the report queries.
type Repository interface {
	// RevenueByMonth covers paid orders created at or after since.
	RevenueByMonth(ctx context.Context, since time.Time) ([]MonthlyRevenue, error)
	PopularPlans(ctx context.Context) ([]PlanPopularity, error)
	// TopCoupons returns at most limit coupons ordered by ledger entries.
	TopCoupons(ctx context.Context, limit int) ([]CouponStat, error)
}

const (
	revenueMonths = 12
	topCoupons    = 10
)

// Service builds report summaries.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService creates a report Service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// Summary runs all report queries concurrently.
func (s *Service) Summary(ctx context.Context) (*Summary, error) {
	now := s.now().UTC()
	since := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -(revenueMonths - 1), 0)

	var out Summary
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		out.Revenue, err = s.repo.RevenueByMonth(ctx, since)
		if err != nil {
			return errors.Wrap(err, "revenue by month")
		}
		return nil
	})
	g.Go(func() (err error) {
		out.Plans, err = s.repo.PopularPlans(ctx)
		if err != nil {
			return errors.Wrap(err, "popular plans")
		}
		return nil
	})
	g.Go(func() (err error) {
		out.Coupons, err = s.repo.TopCoupons(ctx, topCoupons)
		if err != nil {
			return errors.Wrap(err, "top coupons")
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &out, nil
}
