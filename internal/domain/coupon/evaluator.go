package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Evaluator answers price previews by looking coupons up in a Repository and
// evaluating them. It never reserves a use.
type Evaluator struct {
	repo Repository
	now  func() time.Time
}

// NewEvaluator creates an Evaluator backed by the given Repository.
func NewEvaluator(repo Repository) *Evaluator {
	return &Evaluator{repo: repo, now: time.Now}
}

// Preview evaluates code against amount without touching usage counters.
// A preview that passes may still be rejected at checkout if the last use is
// consumed in between.
func (e *Evaluator) Preview(ctx context.Context, code string, amount decimal.Decimal) (*Evaluation, error) {
	code = NormalizeCode(code)
	if code == "" {
		return nil, &InvalidError{Reason: ReasonNotFound}
	}

	c, err := e.repo.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, &InvalidError{Code: code, Reason: ReasonNotFound}
		}
		return nil, errors.Wrap(err, "lookup coupon")
	}

	return Evaluate(c, amount, e.now())
}
