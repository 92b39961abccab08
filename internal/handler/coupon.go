package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/hosting-checkout/internal/domain/coupon"
)

// PreviewCoupon evaluates a coupon against an order amount without
// redeeming it. Rejected coupons are a normal 200 answer with valid=false.
func (h *Handler) PreviewCoupon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var (
		code      string
		amount    decimal.Decimal
		hasAmount bool
	)
	err := decodeObject(r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "code":
			code, err = decodeOptString(d)
		case "orderAmount":
			amount, err = decodeDecimal(d)
			hasAmount = err == nil
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil || !hasAmount {
		if errors.Is(err, errBadAmount) || err == nil {
			writeError(w, http.StatusBadRequest, coupon.ErrInvalidAmount.Error())
			return
		}
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ev, err := h.evaluator.Preview(ctx, code, amount)
	if err != nil {
		var invalid *coupon.InvalidError
		switch {
		case errors.As(err, &invalid):
			writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
				e.Obj(func(e *jx.Encoder) {
					e.Field("valid", func(e *jx.Encoder) { e.Bool(false) })
					e.Field("message", func(e *jx.Encoder) { e.Str(invalid.Error()) })
				})
			})
		case errors.Is(err, coupon.ErrInvalidAmount):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			zctx.From(ctx).Error("Preview coupon", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to validate coupon")
		}
		return
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("valid", func(e *jx.Encoder) { e.Bool(true) })
			e.Field("discountAmount", func(e *jx.Encoder) { encodeMoney(e, ev.Discount) })
			e.Field("finalPrice", func(e *jx.Encoder) { encodeMoney(e, ev.FinalPrice) })
			e.Field("coupon", func(e *jx.Encoder) {
				e.Obj(func(e *jx.Encoder) {
					e.Field("code", func(e *jx.Encoder) { e.Str(ev.Coupon.Code) })
					e.Field("type", func(e *jx.Encoder) { e.Str(string(ev.Coupon.Type)) })
					e.Field("value", func(e *jx.Encoder) { e.Str(ev.Coupon.Value.String()) })
					e.Field("description", func(e *jx.Encoder) { e.Str(ev.Coupon.Description) })
				})
			})
		})
	})
}
