package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/hosting-checkout/internal/domain/report"
)

const (
	revenueByMonthSQL = `SELECT date_trunc('month', created_at AT TIME ZONE 'UTC') AS month,
		COUNT(*), COALESCE(SUM(price), 0)
		FROM orders
		WHERE status IN ('paid', 'provisioned') AND created_at >= $1
		GROUP BY month ORDER BY month`

	popularPlansSQL = `SELECT p.id, p.name, COUNT(o.id), COALESCE(SUM(o.price), 0)
		FROM plans p
		JOIN orders o ON o.plan_id = p.id AND o.status IN ('paid', 'provisioned')
		GROUP BY p.id, p.name
		ORDER BY COUNT(o.id) DESC, p.id`

	topCouponsSQL = `SELECT c.id, c.code, COUNT(u.id), COALESCE(SUM(u.discount_amount), 0)
		FROM coupons c
		JOIN coupon_usage u ON u.coupon_id = c.id
		GROUP BY c.id, c.code
		ORDER BY COUNT(u.id) DESC, c.id
		LIMIT $1`
)

var _ report.Repository = (*ReportRepository)(nil)

// ReportRepository implements report.Repository backed by PostgreSQL.
type ReportRepository struct {
	pool *pgxpool.Pool
}

// NewReportRepository returns a ReportRepository that uses the given pool.
func NewReportRepository(pool *pgxpool.Pool) *ReportRepository {
	return &ReportRepository{pool: pool}
}

// RevenueByMonth sums paid and provisioned orders per UTC calendar month.
func (r *ReportRepository) RevenueByMonth(ctx context.Context, since time.Time) ([]report.MonthlyRevenue, error) {
	rows, err := r.pool.Query(ctx, revenueByMonthSQL, since)
	if err != nil {
		return nil, fmt.Errorf("querying revenue by month: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (report.MonthlyRevenue, error) {
		var (
			m     report.MonthlyRevenue
			count int64
		)
		err := row.Scan(&m.Month, &count, &m.Revenue)
		m.Month = m.Month.UTC()
		m.Orders = int(count)
		return m, err
	})
}

// PopularPlans ranks plans by paid orders.
func (r *ReportRepository) PopularPlans(ctx context.Context) ([]report.PlanPopularity, error) {
	rows, err := r.pool.Query(ctx, popularPlansSQL)
	if err != nil {
		return nil, fmt.Errorf("querying popular plans: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (report.PlanPopularity, error) {
		var (
			p     report.PlanPopularity
			count int64
		)
		err := row.Scan(&p.PlanID, &p.Name, &count, &p.Revenue)
		p.Orders = int(count)
		return p, err
	})
}

// TopCoupons ranks coupons by ledger entries.
func (r *ReportRepository) TopCoupons(ctx context.Context, limit int) ([]report.CouponStat, error) {
	rows, err := r.pool.Query(ctx, topCouponsSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("querying top coupons: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (report.CouponStat, error) {
		var (
			s     report.CouponStat
			count int64
		)
		err := row.Scan(&s.CouponID, &s.Code, &count, &s.TotalDiscount)
		s.Uses = int(count)
		return s, err
	})
}
