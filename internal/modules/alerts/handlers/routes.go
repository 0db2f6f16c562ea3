package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all alert routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/alerts", h.HandleCreate)
	r.Get("/alerts", h.HandleList)
	r.Get("/alerts/{id}", func(w http.ResponseWriter, r *http.Request) {
		h.HandleGet(w, r, chi.URLParam(r, "id"))
	})
	r.Put("/alerts/{id}", func(w http.ResponseWriter, r *http.Request) {
		h.HandleUpdate(w, r, chi.URLParam(r, "id"))
	})
	r.Delete("/alerts/{id}", func(w http.ResponseWriter, r *http.Request) {
		h.HandleDelete(w, r, chi.URLParam(r, "id"))
	})
	r.Get("/alerts/{id}/history", func(w http.ResponseWriter, r *http.Request) {
		h.HandleHistory(w, r, chi.URLParam(r, "id"))
	})
}
