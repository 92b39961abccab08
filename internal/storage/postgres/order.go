package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/hosting-checkout/internal/domain/coupon"
	"github.com/xenking/hosting-checkout/internal/domain/order"
)

const (
	insertOrderSQL = `INSERT INTO orders (id, user_id, plan_id, node_location, cpu, ram, disk,
		databases, backups, original_price, discount_amount, price, coupon_id, status,
		created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

	insertCouponUsageSQL = `INSERT INTO coupon_usage (coupon_id, user_id, order_id, discount_amount, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`

	selectOrderSQL = `SELECT o.id, o.user_id, o.plan_id, o.node_location, o.cpu, o.ram, o.disk,
		o.databases, o.backups, o.original_price, o.discount_amount, o.price, o.coupon_id,
		o.status, o.payment_reference, o.created_at, o.updated_at,
		COALESCE(p.name, ''), COALESCE(c.code, '')
		FROM orders o
		LEFT JOIN plans p ON p.id = o.plan_id
		LEFT JOIN coupons c ON c.id = o.coupon_id`

	getOrderSQL = selectOrderSQL + ` WHERE o.id = $1`

	listOrdersSQL = selectOrderSQL + ` ORDER BY o.created_at DESC, o.id LIMIT $1 OFFSET $2`

	countOrdersSQL = `SELECT COUNT(*) FROM orders`

	updateOrderStatusSQL = `UPDATE orders SET status = $2,
		payment_reference = COALESCE(NULLIF($3::text, ''), payment_reference),
		updated_at = $4
		WHERE id = $1 AND status = ANY($5)`
)

var _ order.Store = (*OrderStore)(nil)

// OrderStore implements order.Store backed by PostgreSQL.
type OrderStore struct {
	pool *pgxpool.Pool
}

// NewOrderStore returns an OrderStore that uses the given pool.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

// InTx runs fn in a read-committed transaction. Coupon rows locked through the
// Tx stay locked until fn returns.
func (s *OrderStore) InTx(ctx context.Context, fn func(ctx context.Context, tx order.Tx) error) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(ctx, &orderTx{tx: tx})
	})
}

// Get returns a single order with its plan name and coupon code.
func (s *OrderStore) Get(ctx context.Context, id string) (*order.Summary, error) {
	rows, err := s.pool.Query(ctx, getOrderSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}

	o, err := pgx.CollectExactlyOneRow(rows, scanOrderSummary)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}
	return &o, nil
}

// List returns a page of orders, newest first, and the total order count.
func (s *OrderStore) List(ctx context.Context, limit, offset int) ([]order.Summary, int, error) {
	var total int64
	if err := s.pool.QueryRow(ctx, countOrdersSQL).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting orders: %w", err)
	}

	rows, err := s.pool.Query(ctx, listOrdersSQL, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("listing orders: %w", err)
	}
	orders, err := pgx.CollectRows(rows, scanOrderSummary)
	if err != nil {
		return nil, 0, fmt.Errorf("listing orders: %w", err)
	}
	return orders, int(total), nil
}

// UpdateStatus applies a status change guarded by the allowed source statuses.
func (s *OrderStore) UpdateStatus(
	ctx context.Context,
	id string,
	to order.Status,
	from []order.Status,
	paymentRef string,
	at time.Time,
) (bool, error) {
	fromText := make([]string, len(from))
	for i, st := range from {
		fromText[i] = string(st)
	}

	tag, err := s.pool.Exec(ctx, updateOrderStatusSQL, id, string(to), paymentRef, at, fromText)
	if err != nil {
		return false, fmt.Errorf("updating status of order %q: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

// orderTx implements order.Tx on a pgx transaction.
type orderTx struct {
	tx pgx.Tx
}

func (t *orderTx) LockCoupon(ctx context.Context, code string) (*coupon.Coupon, error) {
	return findCoupon(ctx, t.tx, lockCouponByCodeSQL, code)
}

func (t *orderTx) Insert(ctx context.Context, o *order.Order) error {
	_, err := t.tx.Exec(ctx, insertOrderSQL,
		o.ID, o.UserID, o.PlanID, o.NodeLocation,
		int32(o.Config.CPU), int32(o.Config.RAMMB), int32(o.Config.DiskGB),
		int32(o.Config.Databases), int32(o.Config.Backups),
		o.OriginalPrice, o.DiscountAmount, o.FinalPrice, o.CouponID, string(o.Status),
		o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating order %q: %w", o.ID, err)
	}
	return nil
}

func (t *orderTx) InsertCouponUsage(ctx context.Context, u *coupon.Usage) error {
	err := t.tx.QueryRow(ctx, insertCouponUsageSQL,
		u.CouponID, u.UserID, u.OrderID, u.DiscountAmount, u.CreatedAt,
	).Scan(&u.ID)
	if err != nil {
		return fmt.Errorf("recording usage of coupon %d: %w", u.CouponID, err)
	}
	return nil
}

func (t *orderTx) IncrementCouponUsage(ctx context.Context, couponID int64) (bool, error) {
	tag, err := t.tx.Exec(ctx, incrementCouponUsageSQL, couponID)
	if err != nil {
		return false, fmt.Errorf("incrementing usage of coupon %d: %w", couponID, err)
	}
	return tag.RowsAffected() == 1, nil
}

func scanOrderSummary(row pgx.CollectableRow) (order.Summary, error) {
	var (
		s                                 order.Summary
		cpu, ram, disk, databases, backup int32
	)
	err := row.Scan(
		&s.ID, &s.UserID, &s.PlanID, &s.NodeLocation, &cpu, &ram, &disk, &databases, &backup,
		&s.OriginalPrice, &s.DiscountAmount, &s.FinalPrice, &s.CouponID,
		(*string)(&s.Status), &s.PaymentReference, &s.CreatedAt, &s.UpdatedAt,
		&s.PlanName, &s.CouponCode,
	)
	s.Config = order.Resources{
		CPU:       int(cpu),
		RAMMB:     int(ram),
		DiskGB:    int(disk),
		Databases: int(databases),
		Backups:   int(backup),
	}
	return s, err
}
