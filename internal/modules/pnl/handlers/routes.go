package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all PnL routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/portfolio/{address}/pnl", func(w http.ResponseWriter, r *http.Request) {
		h.HandleGetPortfolioPnL(w, r, chi.URLParam(r, "address"))
	})
	r.Get("/portfolio/{address}/pnl/{contract}", func(w http.ResponseWriter, r *http.Request) {
		h.HandleGetAssetPnL(w, r, chi.URLParam(r, "address"), chi.URLParam(r, "contract"))
	})
}
