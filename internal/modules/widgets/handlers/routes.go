package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all widget routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/widgets/{type}", func(w http.ResponseWriter, r *http.Request) {
		h.HandleWidget(w, r, chi.URLParam(r, "type"))
	})
}
