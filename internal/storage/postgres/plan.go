package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/hosting-checkout/internal/domain/plan"
)

const (
	planColumns = `id, name, description, cpu, ram, disk, databases, backups,
		price_monthly, is_active, is_custom`

	listActivePlansSQL = `SELECT ` + planColumns + `
		FROM plans WHERE is_active = TRUE ORDER BY price_monthly, id`

	getPlanByIDSQL = `SELECT ` + planColumns + ` FROM plans WHERE id = $1`

	upsertPlanSQL = `INSERT INTO plans (name, description, cpu, ram, disk, databases, backups,
			price_monthly, is_active, is_custom)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (name) DO UPDATE SET description = EXCLUDED.description,
			cpu = EXCLUDED.cpu, ram = EXCLUDED.ram, disk = EXCLUDED.disk,
			databases = EXCLUDED.databases, backups = EXCLUDED.backups,
			price_monthly = EXCLUDED.price_monthly, is_active = EXCLUDED.is_active,
			is_custom = EXCLUDED.is_custom
		RETURNING id`
)

var _ plan.Repository = (*PlanRepository)(nil)

// PlanRepository implements plan.Repository backed by PostgreSQL.
type PlanRepository struct {
	pool *pgxpool.Pool
}

// NewPlanRepository returns a PlanRepository that uses the given pool.
func NewPlanRepository(pool *pgxpool.Pool) *PlanRepository {
	return &PlanRepository{pool: pool}
}

// ListActive returns the plans currently offered, cheapest first.
func (r *PlanRepository) ListActive(ctx context.Context) ([]plan.Plan, error) {
	rows, err := r.pool.Query(ctx, listActivePlansSQL)
	if err != nil {
		return nil, fmt.Errorf("listing plans: %w", err)
	}
	return pgx.CollectRows(rows, scanPlan)
}

// GetByID returns a single plan, active or not.
func (r *PlanRepository) GetByID(ctx context.Context, id int64) (*plan.Plan, error) {
	rows, err := r.pool.Query(ctx, getPlanByIDSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting plan %d: %w", id, err)
	}

	p, err := pgx.CollectExactlyOneRow(rows, scanPlan)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, plan.ErrNotFound
		}
		return nil, fmt.Errorf("getting plan %d: %w", id, err)
	}
	return &p, nil
}

// Upsert inserts p or updates the plan with the same name, and sets p.ID.
func (r *PlanRepository) Upsert(ctx context.Context, p *plan.Plan) error {
	err := r.pool.QueryRow(ctx, upsertPlanSQL,
		p.Name, p.Description, p.CPU, p.RAMMB, p.DiskGB, p.Databases, p.Backups,
		p.PriceMonthly, p.Active, p.Custom,
	).Scan(&p.ID)
	if err != nil {
		return fmt.Errorf("upserting plan %q: %w", p.Name, err)
	}
	return nil
}

func scanPlan(row pgx.CollectableRow) (plan.Plan, error) {
	var (
		p                                 plan.Plan
		cpu, ram, disk, databases, backup int32
	)
	err := row.Scan(
		&p.ID, &p.Name, &p.Description, &cpu, &ram, &disk, &databases, &backup,
		&p.PriceMonthly, &p.Active, &p.Custom,
	)
	p.CPU = int(cpu)
	p.RAMMB = int(ram)
	p.DiskGB = int(disk)
	p.Databases = int(databases)
	p.Backups = int(backup)
	return p, err
}
