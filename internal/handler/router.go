package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/hosting-checkout/internal/domain/auth"
)

// Routes builds the /api router.
func (h *Handler) Routes(sec *Security) chi.Router {
	r := chi.NewRouter()
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/plans", h.ListPlans)

		r.Group(func(r chi.Router) {
			r.Use(sec.RequireUser)
			r.Post("/orders", h.CreateOrder)
			r.Get("/orders/{orderID}", h.GetOrder)
			r.Post("/coupons/preview", h.PreviewCoupon)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(sec.RequireAPIKey(auth.ScopeAdmin))
			r.Get("/coupons", h.ListCoupons)
			r.Put("/coupons", h.SaveCoupon)
			r.Delete("/coupons/{couponID}", h.DeleteCoupon)
			r.Get("/coupons/{couponID}/usage", h.CouponUsage)
			r.Get("/orders", h.ListOrders)
			r.Post("/orders/{orderID}/status", h.UpdateOrderStatus)
			r.Get("/reports", h.Reports)
		})
	})

	return r
}
