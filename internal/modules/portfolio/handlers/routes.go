package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all portfolio routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/portfolio/{address}", func(w http.ResponseWriter, r *http.Request) {
		h.HandleGetPortfolio(w, r, chi.URLParam(r, "address"))
	})
	r.Get("/portfolio/{address}/history", func(w http.ResponseWriter, r *http.Request) {
		h.HandleGetHistory(w, r, chi.URLParam(r, "address"))
	})
	r.Get("/portfolio/{address}/transactions", func(w http.ResponseWriter, r *http.Request) {
		h.HandleGetTransactions(w, r, chi.URLParam(r, "address"))
	})
	r.Get("/portfolio/{address}/status", func(w http.ResponseWriter, r *http.Request) {
		h.HandleGetWallet(w, r, chi.URLParam(r, "address"))
	})
	r.Post("/portfolio/{address}/sync", func(w http.ResponseWriter, r *http.Request) {
		h.HandleSync(w, r, chi.URLParam(r, "address"))
	})
}
