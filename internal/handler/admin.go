package handler

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/hosting-checkout/internal/domain/coupon"
	"github.com/xenking/hosting-checkout/internal/domain/order"
)

// ListCoupons returns all coupons with their ledger usage counts.
func (h *Handler) ListCoupons(w http.ResponseWriter, r *http.Request) {
	coupons, err := h.coupons.List(r.Context())
	if err != nil {
		zctx.From(r.Context()).Error("List coupons", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list coupons")
		return
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Arr(func(e *jx.Encoder) {
			for i := range coupons {
				encodeCoupon(e, &coupons[i].Coupon, func(e *jx.Encoder) {
					e.Field("totalUsage", func(e *jx.Encoder) { e.Int(coupons[i].TotalUsage) })
				})
			}
		})
	})
}

func decodeCoupon(r *http.Request, c *coupon.Coupon) error {
	return decodeObject(r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			var id *int64
			if id, err = decodeOptInt64(d); id != nil {
				c.ID = *id
			}
		case "code":
			c.Code, err = d.Str()
		case "type":
			var s string
			s, err = d.Str()
			c.Type = coupon.DiscountType(s)
		case "value":
			c.Value, err = decodeDecimal(d)
		case "description":
			c.Description, err = decodeOptString(d)
		case "startDate":
			c.StartDate, err = decodeOptTime(d)
		case "endDate":
			c.EndDate, err = decodeOptTime(d)
		case "usageLimit":
			var limit *int64
			if limit, err = decodeOptInt64(d); limit != nil {
				n := int(*limit)
				c.UsageLimit = &n
			}
		case "minPurchase":
			c.MinPurchase, err = decodeDecimal(d)
		case "active":
			c.Active, err = d.Bool()
		default:
			err = d.Skip()
		}
		if err != nil {
			return errors.Wrapf(err, "field %q", key)
		}
		return nil
	})
}

// SaveCoupon creates a coupon, or updates it when the body carries an id.
func (h *Handler) SaveCoupon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	c := coupon.Coupon{Active: true}
	if err := decodeCoupon(r, &c); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	created := c.ID == 0
	if err := h.coupons.Save(ctx, &c); err != nil {
		var verr *coupon.ValidationError
		switch {
		case errors.As(err, &verr):
			writeError(w, http.StatusBadRequest, verr.Error())
		case errors.Is(err, coupon.ErrDuplicateCode):
			writeError(w, http.StatusConflict, coupon.ErrDuplicateCode.Error())
		case errors.Is(err, coupon.ErrNotFound):
			writeError(w, http.StatusNotFound, coupon.ErrNotFound.Error())
		default:
			zctx.From(ctx).Error("Save coupon", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to save coupon")
		}
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, func(e *jx.Encoder) { encodeCoupon(e, &c, nil) })
}

// DeleteCoupon removes a coupon together with its ledger.
func (h *Handler) DeleteCoupon(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "couponID")
	if !ok {
		return
	}
	if err := h.coupons.Delete(r.Context(), id); err != nil {
		switch {
		case errors.Is(err, coupon.ErrNotFound):
			writeError(w, http.StatusNotFound, coupon.ErrNotFound.Error())
			return
		case errors.Is(err, coupon.ErrInUse):
			writeError(w, http.StatusConflict, coupon.ErrInUse.Error())
			return
		}
		zctx.From(r.Context()).Error("Delete coupon", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to delete coupon")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CouponUsage lists the ledger entries of a coupon.
func (h *Handler) CouponUsage(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "couponID")
	if !ok {
		return
	}
	usage, err := h.coupons.Usage(r.Context(), id)
	if err != nil {
		zctx.From(r.Context()).Error("Coupon usage", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list coupon usage")
		return
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Arr(func(e *jx.Encoder) {
			for _, u := range usage {
				e.Obj(func(e *jx.Encoder) {
					e.Field("id", func(e *jx.Encoder) { e.Int64(u.ID) })
					e.Field("userId", func(e *jx.Encoder) { e.Str(u.UserID) })
					e.Field("orderId", func(e *jx.Encoder) { e.Str(u.OrderID) })
					e.Field("discountAmount", func(e *jx.Encoder) { encodeMoney(e, u.DiscountAmount) })
					e.Field("createdAt", func(e *jx.Encoder) { encodeTime(e, u.CreatedAt) })
				})
			}
		})
	})
}

// ListOrders returns one page of all orders.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	page := 1
	if v := r.URL.Query().Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > order.MaxPage {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("page must be between 1 and %d", order.MaxPage))
			return
		}
		page = n
	}

	res, err := h.orders.ListOrders(r.Context(), page)
	if err != nil {
		zctx.From(r.Context()).Error("List orders", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list orders")
		return
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("page", func(e *jx.Encoder) { e.Int(res.Page) })
			e.Field("totalPages", func(e *jx.Encoder) { e.Int(res.TotalPages) })
			e.Field("total", func(e *jx.Encoder) { e.Int(res.Total) })
			e.Field("orders", func(e *jx.Encoder) {
				e.Arr(func(e *jx.Encoder) {
					for i := range res.Orders {
						encodeOrder(e, &res.Orders[i])
					}
				})
			})
		})
	})
}

// UpdateOrderStatus moves an order along its lifecycle.
func (h *Handler) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orderID := chi.URLParam(r, "orderID")

	var status, paymentRef string
	err := decodeObject(r, func(d *jx.Decoder, key string) error {
		switch key {
		case "status":
			s, err := d.Str()
			status = s
			return err
		case "paymentReference":
			s, err := decodeOptString(d)
			paymentRef = s
			return err
		default:
			return d.Skip()
		}
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	err = h.orders.UpdateStatus(ctx, orderID, order.Status(status), paymentRef)
	if err != nil {
		var terr *order.TransitionError
		switch {
		case errors.Is(err, order.ErrUnknownStatus):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, order.ErrNotFound):
			writeError(w, http.StatusNotFound, err.Error())
		case errors.As(err, &terr):
			writeError(w, http.StatusConflict, terr.Error())
		default:
			zctx.From(ctx).Error("Update order status", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to update order")
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return id, true
}

func encodeCoupon(e *jx.Encoder, c *coupon.Coupon, extra func(e *jx.Encoder)) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Int64(c.ID) })
		e.Field("code", func(e *jx.Encoder) { e.Str(c.Code) })
		e.Field("type", func(e *jx.Encoder) { e.Str(string(c.Type)) })
		e.Field("value", func(e *jx.Encoder) { e.Str(c.Value.String()) })
		e.Field("description", func(e *jx.Encoder) { e.Str(c.Description) })
		e.Field("startDate", func(e *jx.Encoder) { encodeOptTime(e, c.StartDate) })
		e.Field("endDate", func(e *jx.Encoder) { encodeOptTime(e, c.EndDate) })
		e.Field("usageLimit", func(e *jx.Encoder) {
			if c.UsageLimit == nil {
				e.Null()
				return
			}
			e.Int(*c.UsageLimit)
		})
		e.Field("usageCount", func(e *jx.Encoder) { e.Int(c.UsageCount) })
		e.Field("minPurchase", func(e *jx.Encoder) { encodeMoney(e, c.MinPurchase) })
		e.Field("active", func(e *jx.Encoder) { e.Bool(c.Active) })
		if extra != nil {
			extra(e)
		}
	})
}
