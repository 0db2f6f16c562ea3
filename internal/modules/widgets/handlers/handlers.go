// Package handlers provides the public widget HTTP endpoints.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/stkpulse/stackwatch/internal/modules/prices"
	"github.com/stkpulse/stackwatch/internal/modules/widgets"
)

// Handler handles widget HTTP requests
type Handler struct {
	service *widgets.Service
	log     zerolog.Logger
}

// NewHandler creates a new widget handler
func NewHandler(service *widgets.Service, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		log:     log.With().Str("handler", "widgets").Logger(),
	}
}

// HandleWidget handles GET /api/v1/widgets/{type}
func (h *Handler) HandleWidget(w http.ResponseWriter, r *http.Request, widgetType string) {
	var (
		payload interface{}
		err     error
	)

	switch widgetType {
	case "stx-price":
		payload, err = h.service.TokenPrice(r.Context(), prices.NativeSTX, h.period(r, widgets.Period30d))
	case "token-price":
		contract := r.URL.Query().Get("contract")
		if contract == "" {
			http.Error(w, "Missing contract", http.StatusBadRequest)
			return
		}
		payload, err = h.service.TokenPrice(r.Context(), contract, h.period(r, widgets.Period30d))
	case "contract-calls":
		contract := r.URL.Query().Get("contract")
		if contract == "" {
			http.Error(w, "Missing contract", http.StatusBadRequest)
			return
		}
		payload, err = h.service.ContractCalls(r.Context(), contract, h.period(r, widgets.Period7d))
	case "portfolio-value":
		address := r.URL.Query().Get("address")
		if address == "" {
			http.Error(w, "Missing address", http.StatusBadRequest)
			return
		}
		payload, err = h.service.PortfolioValue(r.Context(), address, h.period(r, widgets.Period30d))
	default:
		http.Error(w, "Unknown widget type", http.StatusNotFound)
		return
	}

	if err != nil {
		if errors.Is(err, widgets.ErrUnknownPeriod) {
			http.Error(w, "Unknown period", http.StatusBadRequest)
			return
		}
		h.log.Error().Err(err).Str("widget", widgetType).Msg("Failed to build widget")
		http.Error(w, "Failed to build widget", http.StatusInternalServerError)
		return
	}

	// Widgets are embedded on third-party pages; let edges cache them briefly.
	w.Header().Set("Cache-Control", "public, max-age=30")
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"type": widgetType,
		"data": payload,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		},
	})
}

func (h *Handler) period(r *http.Request, fallback widgets.Period) widgets.Period {
	if p := r.URL.Query().Get("period"); p != "" {
		return widgets.Period(p)
	}
	return fallback
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode response")
	}
}
