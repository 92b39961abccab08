package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/hosting-checkout/internal/domain/auth"
	"github.com/xenking/hosting-checkout/internal/domain/coupon"
	"github.com/xenking/hosting-checkout/internal/domain/order"
)

func decodeCreateOrder(r *http.Request, req *order.CreateOrderRequest) (amountErr bool, err error) {
	err = decodeObject(r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "planId":
			req.PlanID, err = decodeOptInt64(d)
		case "nodeLocation":
			req.NodeLocation, err = decodeOptString(d)
		case "cpu":
			req.Config.CPU, err = d.Int()
		case "ram":
			req.Config.RAMMB, err = d.Int()
		case "disk":
			req.Config.DiskGB, err = d.Int()
		case "databases":
			req.Config.Databases, err = d.Int()
		case "backups":
			req.Config.Backups, err = d.Int()
		case "price":
			req.Price, err = decodeDecimal(d)
			if errors.Is(err, errBadAmount) {
				amountErr = true
			}
		case "couponCode":
			req.CouponCode, err = decodeOptString(d)
		default:
			err = d.Skip()
		}
		if err != nil {
			return errors.Wrapf(err, "field %q", key)
		}
		return nil
	})
	return amountErr, err
}

// CreateOrder places an order for the authenticated user.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user, _ := auth.UserFrom(ctx)

	req := order.CreateOrderRequest{UserID: user.ID}
	if amountErr, err := decodeCreateOrder(r, &req); err != nil {
		if amountErr {
			writeError(w, http.StatusBadRequest, order.ErrInvalidAmount.Error())
			return
		}
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := h.orders.CreateOrder(ctx, req)
	if err != nil {
		var invalid *coupon.InvalidError
		switch {
		case errors.Is(err, order.ErrInvalidAmount), errors.Is(err, order.ErrInvalidResources):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, order.ErrPlanNotFound):
			writeError(w, http.StatusUnprocessableEntity, err.Error())
		case errors.As(err, &invalid):
			zctx.From(ctx).Debug("Coupon rejected",
				zap.String("code", invalid.Code),
				zap.String("reason", string(invalid.Reason)),
			)
			writeError(w, http.StatusUnprocessableEntity, invalid.Error())
		default:
			zctx.From(ctx).Error("Create order", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to create order")
		}
		return
	}

	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("orderId", func(e *jx.Encoder) { e.Str(res.OrderID) })
			e.Field("finalPrice", func(e *jx.Encoder) { encodeMoney(e, res.FinalPrice) })
			e.Field("discountAmount", func(e *jx.Encoder) { encodeMoney(e, res.DiscountAmount) })
		})
	})
}

// GetOrder returns one of the authenticated user's orders.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user, _ := auth.UserFrom(ctx)

	o, err := h.orders.GetOrder(ctx, user.ID, chi.URLParam(r, "orderID"))
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		zctx.From(ctx).Error("Get order", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to get order")
		return
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrder(e, o) })
}

func encodeOrder(e *jx.Encoder, o *order.Summary) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(o.ID) })
		e.Field("userId", func(e *jx.Encoder) { e.Str(o.UserID) })
		e.Field("planId", func(e *jx.Encoder) {
			if o.PlanID == nil {
				e.Null()
				return
			}
			e.Int64(*o.PlanID)
		})
		e.Field("planName", func(e *jx.Encoder) { e.Str(o.PlanName) })
		e.Field("nodeLocation", func(e *jx.Encoder) { e.Str(o.NodeLocation) })
		e.Field("cpu", func(e *jx.Encoder) { e.Int(o.Config.CPU) })
		e.Field("ram", func(e *jx.Encoder) { e.Int(o.Config.RAMMB) })
		e.Field("disk", func(e *jx.Encoder) { e.Int(o.Config.DiskGB) })
		e.Field("databases", func(e *jx.Encoder) { e.Int(o.Config.Databases) })
		e.Field("backups", func(e *jx.Encoder) { e.Int(o.Config.Backups) })
		e.Field("originalPrice", func(e *jx.Encoder) { encodeMoney(e, o.OriginalPrice) })
		e.Field("discountAmount", func(e *jx.Encoder) { encodeMoney(e, o.DiscountAmount) })
		e.Field("finalPrice", func(e *jx.Encoder) { encodeMoney(e, o.FinalPrice) })
		e.Field("couponCode", func(e *jx.Encoder) { e.Str(o.CouponCode) })
		e.Field("status", func(e *jx.Encoder) { e.Str(string(o.Status)) })
		e.Field("paymentReference", func(e *jx.Encoder) { e.Str(o.PaymentReference) })
		e.Field("createdAt", func(e *jx.Encoder) { encodeTime(e, o.CreatedAt) })
		e.Field("updatedAt", func(e *jx.Encoder) { encodeTime(e, o.UpdatedAt) })
	})
}
