package handler

import (
	"github.com/xenking/hosting-checkout/internal/domain/coupon"
	"github.com/xenking/hosting-checkout/internal/domain/order"
	"github.com/xenking/hosting-checkout/internal/domain/plan"
	"github.com/xenking/hosting-checkout/internal/domain/report"
)

// Handler serves the checkout HTTP API, delegating business logic to the
// domain services.
type Handler struct {
	plans     plan.Repository
	orders    *order.Service
	evaluator *coupon.Evaluator
	coupons   *coupon.Admin
	reports   *report.Service
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(
	plans plan.Repository,
	orders *order.Service,
	evaluator *coupon.Evaluator,
	coupons *coupon.Admin,
	reports *report.Service,
) *Handler {
	return &Handler{
		plans:     plans,
		orders:    orders,
		evaluator: evaluator,
		coupons:   coupons,
		reports:   reports,
	}
}
