package handler

import (
	"net/http"

	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// ListPlans returns the active plan catalog.
func (h *Handler) ListPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := h.plans.ListActive(r.Context())
	if err != nil {
		zctx.From(r.Context()).Error("List plans", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list plans")
		return
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Arr(func(e *jx.Encoder) {
			for _, p := range plans {
				e.Obj(func(e *jx.Encoder) {
					e.Field("id", func(e *jx.Encoder) { e.Int64(p.ID) })
					e.Field("name", func(e *jx.Encoder) { e.Str(p.Name) })
					e.Field("description", func(e *jx.Encoder) { e.Str(p.Description) })
					e.Field("cpu", func(e *jx.Encoder) { e.Int(p.CPU) })
					e.Field("ram", func(e *jx.Encoder) { e.Int(p.RAMMB) })
					e.Field("disk", func(e *jx.Encoder) { e.Int(p.DiskGB) })
					e.Field("databases", func(e *jx.Encoder) { e.Int(p.Databases) })
					e.Field("backups", func(e *jx.Encoder) { e.Int(p.Backups) })
					e.Field("priceMonthly", func(e *jx.Encoder) { encodeMoney(e, p.PriceMonthly) })
					e.Field("custom", func(e *jx.Encoder) { e.Bool(p.Custom) })
				})
			}
		})
	})
}
