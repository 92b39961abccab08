package handler

import (
	"net/http"

	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// Reports returns revenue, plan popularity and coupon statistics.
func (h *Handler) Reports(w http.ResponseWriter, r *http.Request) {
	s, err := h.reports.Summary(r.Context())
	if err != nil {
		zctx.From(r.Context()).Error("Build reports", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to build reports")
		return
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("revenueByMonth", func(e *jx.Encoder) {
				e.Arr(func(e *jx.Encoder) {
					for _, m := range s.Revenue {
						e.Obj(func(e *jx.Encoder) {
							e.Field("month", func(e *jx.Encoder) { e.Str(m.Month.Format("2006-01")) })
							e.Field("orders", func(e *jx.Encoder) { e.Int(m.Orders) })
							e.Field("revenue", func(e *jx.Encoder) { encodeMoney(e, m.Revenue) })
						})
					}
				})
			})
			e.Field("popularPlans", func(e *jx.Encoder) {
				e.Arr(func(e *jx.Encoder) {
					for _, p := range s.Plans {
						e.Obj(func(e *jx.Encoder) {
							e.Field("planId", func(e *jx.Encoder) { e.Int64(p.PlanID) })
							e.Field("name", func(e *jx.Encoder) { e.Str(p.Name) })
							e.Field("orders", func(e *jx.Encoder) { e.Int(p.Orders) })
							e.Field("revenue", func(e *jx.Encoder) { encodeMoney(e, p.Revenue) })
						})
					}
				})
			})
			e.Field("coupons", func(e *jx.Encoder) {
				e.Arr(func(e *jx.Encoder) {
					for _, c := range s.Coupons {
						e.Obj(func(e *jx.Encoder) {
							e.Field("couponId", func(e *jx.Encoder) { e.Int64(c.CouponID) })
							e.Field("code", func(e *jx.Encoder) { e.Str(c.Code) })
							e.Field("uses", func(e *jx.Encoder) { e.Int(c.Uses) })
							e.Field("totalDiscount", func(e *jx.Encoder) { encodeMoney(e, c.TotalDiscount) })
						})
					}
				})
			})
		})
	})
}
