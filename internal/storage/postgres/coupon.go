package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/hosting-checkout/internal/domain/coupon"
)

const (
	couponColumns = `id, code, type, value, description, start_date, end_date,
		usage_limit, usage_count, min_purchase, is_active, created_at, updated_at`

	getCouponByCodeSQL = `SELECT ` + couponColumns + ` FROM coupons WHERE code = $1`

	lockCouponByCodeSQL = getCouponByCodeSQL + ` FOR UPDATE`

	incrementCouponUsageSQL = `UPDATE coupons SET usage_count = usage_count + 1, updated_at = NOW()
		WHERE id = $1 AND (usage_limit IS NULL OR usage_count < usage_limit)`

	createCouponSQL = `INSERT INTO coupons (code, type, value, description, start_date, end_date,
		usage_limit, min_purchase, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, usage_count, created_at, updated_at`

	updateCouponSQL = `UPDATE coupons SET code = $2, type = $3, value = $4, description = $5,
		start_date = $6, end_date = $7, usage_limit = $8, min_purchase = $9, is_active = $10,
		updated_at = NOW()
		WHERE id = $1
		RETURNING usage_count, created_at, updated_at`

	listCouponsSQL = `SELECT c.id, c.code, c.type, c.value, c.description, c.start_date, c.end_date,
		c.usage_limit, c.usage_count, c.min_purchase, c.is_active, c.created_at, c.updated_at,
		COUNT(u.id)
		FROM coupons c LEFT JOIN coupon_usage u ON u.coupon_id = c.id
		GROUP BY c.id ORDER BY c.created_at DESC, c.id DESC`

	deleteCouponSQL = `DELETE FROM coupons WHERE id = $1`

	listCouponUsageSQL = `SELECT id, coupon_id, user_id, order_id, discount_amount, created_at
		FROM coupon_usage WHERE coupon_id = $1 ORDER BY created_at DESC, id DESC`

	importCouponSQL = `INSERT INTO coupons (code, type, value, description, usage_limit, min_purchase, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, TRUE)
		ON CONFLICT (code) DO NOTHING`
)

var (
	_ coupon.Repository      = (*CouponRepository)(nil)
	_ coupon.AdminRepository = (*CouponRepository)(nil)
)

// CouponRepository implements the coupon repositories backed by PostgreSQL.
type CouponRepository struct {
	pool *pgxpool.Pool
}

// NewCouponRepository returns a CouponRepository that uses the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool}
}

// FindByCode reads a coupon without locking it. Inactive coupons are
// returned too so that the caller can tell why they are rejected.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	return findCoupon(ctx, r.pool, getCouponByCodeSQL, code)
}

func findCoupon(ctx context.Context, q querier, sql, code string) (*coupon.Coupon, error) {
	rows, err := q.Query(ctx, sql, code)
	if err != nil {
		return nil, fmt.Errorf("finding coupon by code %q: %w", code, err)
	}

	c, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrNotFound
		}
		return nil, fmt.Errorf("finding coupon by code %q: %w", code, err)
	}
	return &c, nil
}

// Create inserts c and fills in its generated fields.
func (r *CouponRepository) Create(ctx context.Context, c *coupon.Coupon) error {
	err := r.pool.QueryRow(ctx, createCouponSQL,
		c.Code, string(c.Type), c.Value, c.Description, c.StartDate, c.EndDate,
		usageLimitParam(c.UsageLimit), c.MinPurchase, c.Active,
	).Scan(&c.ID, &c.UsageCount, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return mapCouponWriteErr(err, "creating coupon %q", c.Code)
	}
	return nil
}

// Update overwrites the definition of an existing coupon. The usage counter
// is left alone and read back into c.
func (r *CouponRepository) Update(ctx context.Context, c *coupon.Coupon) error {
	var count int32
	err := r.pool.QueryRow(ctx, updateCouponSQL,
		c.ID, c.Code, string(c.Type), c.Value, c.Description, c.StartDate, c.EndDate,
		usageLimitParam(c.UsageLimit), c.MinPurchase, c.Active,
	).Scan(&count, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return coupon.ErrNotFound
		}
		return mapCouponWriteErr(err, "updating coupon %d", c.ID)
	}
	c.UsageCount = int(count)
	return nil
}

func mapCouponWriteErr(err error, format string, arg any) error {
	switch pgErrCode(err) {
	case codeUniqueViolation:
		return coupon.ErrDuplicateCode
	case codeCheckViolation:
		return &coupon.ValidationError{Field: "usage_limit", Reason: "must not be below the current usage count"}
	}
	return fmt.Errorf(format+": %w", arg, err)
}

// List returns every coupon with the number of ledger entries referencing it.
func (r *CouponRepository) List(ctx context.Context) ([]coupon.Summary, error) {
	rows, err := r.pool.Query(ctx, listCouponsSQL)
	if err != nil {
		return nil, fmt.Errorf("listing coupons: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (coupon.Summary, error) {
		var (
			s     coupon.Summary
			total int64
		)
		err := row.Scan(append(couponDest(&s.Coupon), &total)...)
		s.TotalUsage = int(total)
		return s, err
	})
}

// Delete removes a coupon. Coupons referenced by orders are kept and
// coupon.ErrInUse is returned.
func (r *CouponRepository) Delete(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, deleteCouponSQL, id)
	if err != nil {
		if pgErrCode(err) == codeForeignKeyViolation {
			return coupon.ErrInUse
		}
		return fmt.Errorf("deleting coupon %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return coupon.ErrNotFound
	}
	return nil
}

// ListUsage returns the ledger of a coupon, newest first.
func (r *CouponRepository) ListUsage(ctx context.Context, couponID int64) ([]coupon.Usage, error) {
	rows, err := r.pool.Query(ctx, listCouponUsageSQL, couponID)
	if err != nil {
		return nil, fmt.Errorf("listing usage of coupon %d: %w", couponID, err)
	}
	return pgx.CollectRows(rows, scanUsage)
}

// Import inserts one coupon per code using template for everything but the
// code. Codes that already exist are skipped. It returns the number of
// coupons created.
func (r *CouponRepository) Import(ctx context.Context, template coupon.Coupon, codes []string) (int64, error) {
	batch := &pgx.Batch{}
	for _, code := range codes {
		batch.Queue(importCouponSQL,
			coupon.NormalizeCode(code), string(template.Type), template.Value, template.Description,
			usageLimitParam(template.UsageLimit), template.MinPurchase,
		)
	}

	results := r.pool.SendBatch(ctx, batch)
	defer func() { _ = results.Close() }()

	var created int64
	for _, code := range codes {
		tag, err := results.Exec()
		if err != nil {
			return created, fmt.Errorf("importing coupon %q: %w", code, err)
		}
		created += tag.RowsAffected()
	}
	return created, nil
}

func usageLimitParam(limit *int) *int32 {
	if limit == nil {
		return nil
	}
	v := int32(*limit)
	return &v
}

func couponDest(c *coupon.Coupon) []any {
	return []any{
		&c.ID, &c.Code, (*string)(&c.Type), &c.Value, &c.Description, &c.StartDate, &c.EndDate,
		&c.UsageLimit, &c.UsageCount, &c.MinPurchase, &c.Active, &c.CreatedAt, &c.UpdatedAt,
	}
}

func scanCoupon(row pgx.CollectableRow) (coupon.Coupon, error) {
	var c coupon.Coupon
	err := row.Scan(couponDest(&c)...)
	return c, err
}

func scanUsage(row pgx.CollectableRow) (coupon.Usage, error) {
	var u coupon.Usage
	err := row.Scan(&u.ID, &u.CouponID, &u.UserID, &u.OrderID, &u.DiscountAmount, &u.CreatedAt)
	return u, err
}
