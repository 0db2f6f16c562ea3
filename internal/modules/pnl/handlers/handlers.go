// Package handlers provides HTTP handlers for PnL views.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"time"

	"github.com/rs/zerolog"

	"github.com/stkpulse/stackwatch/internal/modules/pnl"
)

// stacksAddress matches mainnet principal addresses.
var stacksAddress = regexp.MustCompile(`^S[A-Z0-9]{39,41}$`)

// Handler handles PnL HTTP requests
type Handler struct {
	aggregator *pnl.Aggregator
	log        zerolog.Logger
}

// NewHandler creates a new PnL handler
func NewHandler(aggregator *pnl.Aggregator, log zerolog.Logger) *Handler {
	return &Handler{
		aggregator: aggregator,
		log:        log.With().Str("handler", "pnl").Logger(),
	}
}

// HandleGetPortfolioPnL handles GET /api/v1/portfolio/{address}/pnl
func (h *Handler) HandleGetPortfolioPnL(w http.ResponseWriter, r *http.Request, address string) {
	if !stacksAddress.MatchString(address) {
		http.Error(w, "Invalid Stacks address", http.StatusBadRequest)
		return
	}

	result, err := h.aggregator.PortfolioPnL(r.Context(), address)
	if err != nil {
		h.log.Error().Err(err).Str("address", address).Msg("Failed to compute portfolio PnL")
		http.Error(w, "Failed to compute PnL", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, envelope(result))
}

// HandleGetAssetPnL handles GET /api/v1/portfolio/{address}/pnl/{contract}
func (h *Handler) HandleGetAssetPnL(w http.ResponseWriter, r *http.Request, address, contractID string) {
	if !stacksAddress.MatchString(address) {
		http.Error(w, "Invalid Stacks address", http.StatusBadRequest)
		return
	}
	if contractID == "" {
		http.Error(w, "Missing contract id", http.StatusBadRequest)
		return
	}

	result, err := h.aggregator.AssetPnL(r.Context(), address, contractID)
	if err != nil {
		if errors.Is(err, pnl.ErrInvalidInput) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.log.Error().Err(err).
			Str("address", address).
			Str("contract", contractID).
			Msg("Failed to compute asset PnL")
		http.Error(w, "Failed to compute PnL", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, envelope(result))
}

func envelope(data interface{}) map[string]interface{} {
	return map[string]interface{}{
		"data": data,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		},
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode response")
	}
}
