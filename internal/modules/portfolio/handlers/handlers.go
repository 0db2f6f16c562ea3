// Package handlers provides HTTP handlers for portfolio views and wallet
// sync.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/stkpulse/stackwatch/internal/modules/indexer"
	"github.com/stkpulse/stackwatch/internal/modules/portfolio"
)

// syncTimeout bounds a background wallet sync.
const syncTimeout = 5 * time.Minute

// stacksAddress matches mainnet principal addresses.
var stacksAddress = regexp.MustCompile(`^S[A-Z0-9]{39,41}$`)

// syncer is the slice of the indexer service the handler needs.
type syncer interface {
	Sync(ctx context.Context, address string) (indexer.SyncResult, error)
}

// Handler handles portfolio HTTP requests
type Handler struct {
	service *portfolio.Service
	txs     *indexer.Repository
	wallets *indexer.WalletRepository
	syncer  syncer
	log     zerolog.Logger
}

// NewHandler creates a new portfolio handler
func NewHandler(service *portfolio.Service, txs *indexer.Repository, wallets *indexer.WalletRepository, sync syncer, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		txs:     txs,
		wallets: wallets,
		syncer:  sync,
		log:     log.With().Str("handler", "portfolio").Logger(),
	}
}

// HandleGetPortfolio handles GET /api/v1/portfolio/{address}
func (h *Handler) HandleGetPortfolio(w http.ResponseWriter, r *http.Request, address string) {
	if !stacksAddress.MatchString(address) {
		http.Error(w, "Invalid Stacks address", http.StatusBadRequest)
		return
	}

	snapshot, err := h.service.Snapshot(r.Context(), address)
	if err != nil {
		h.log.Error().Err(err).Str("address", address).Msg("Failed to build snapshot")
		http.Error(w, "Failed to build portfolio snapshot", http.StatusBadGateway)
		return
	}

	h.writeJSON(w, http.StatusOK, envelope(snapshot))
}

// HandleGetHistory handles GET /api/v1/portfolio/{address}/history?window=30d
func (h *Handler) HandleGetHistory(w http.ResponseWriter, r *http.Request, address string) {
	if !stacksAddress.MatchString(address) {
		http.Error(w, "Invalid Stacks address", http.StatusBadRequest)
		return
	}

	window := r.URL.Query().Get("window")
	if window == "" {
		window = "30d"
	}

	history, err := h.service.ValueHistory(r.Context(), address, window)
	if err != nil {
		if errors.Is(err, portfolio.ErrUnknownWindow) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.log.Error().Err(err).Str("address", address).Msg("Failed to load value history")
		http.Error(w, "Failed to load value history", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, envelope(history))
}

// HandleGetTransactions handles GET /api/v1/portfolio/{address}/transactions
func (h *Handler) HandleGetTransactions(w http.ResponseWriter, r *http.Request, address string) {
	if !stacksAddress.MatchString(address) {
		http.Error(w, "Invalid Stacks address", http.StatusBadRequest)
		return
	}

	q := r.URL.Query()
	filter := indexer.TxFilter{
		Type:       indexer.TxType(q.Get("type")),
		ContractID: q.Get("contract"),
	}
	filter.Limit, _ = strconv.Atoi(q.Get("limit"))
	filter.Offset, _ = strconv.Atoi(q.Get("offset"))
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	records, err := h.txs.Transactions(r.Context(), address, filter)
	if err != nil {
		h.log.Error().Err(err).Str("address", address).Msg("Failed to list transactions")
		http.Error(w, "Failed to list transactions", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []indexer.TxRecord{}
	}

	total, err := h.txs.CountTransactions(r.Context(), address, filter)
	if err != nil {
		h.log.Error().Err(err).Str("address", address).Msg("Failed to count transactions")
		http.Error(w, "Failed to list transactions", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": records,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"total":     total,
			"offset":    filter.Offset,
		},
	})
}

// HandleSync handles POST /api/v1/portfolio/{address}/sync.
// The scan runs in the background; poll the wallet status to observe it.
func (h *Handler) HandleSync(w http.ResponseWriter, r *http.Request, address string) {
	if !stacksAddress.MatchString(address) {
		http.Error(w, "Invalid Stacks address", http.StatusBadRequest)
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), syncTimeout)
		defer cancel()
		if _, err := h.syncer.Sync(ctx, address); err != nil {
			h.log.Error().Err(err).Str("address", address).Msg("Background sync failed")
		}
	}()

	h.writeJSON(w, http.StatusAccepted, envelope(map[string]string{
		"address": address,
		"status":  "syncing",
	}))
}

// HandleGetWallet handles GET /api/v1/portfolio/{address}/status
func (h *Handler) HandleGetWallet(w http.ResponseWriter, r *http.Request, address string) {
	if !stacksAddress.MatchString(address) {
		http.Error(w, "Invalid Stacks address", http.StatusBadRequest)
		return
	}

	wallet, err := h.wallets.Get(r.Context(), address)
	if err != nil {
		h.log.Error().Err(err).Str("address", address).Msg("Failed to load wallet")
		http.Error(w, "Failed to load wallet", http.StatusInternalServerError)
		return
	}
	if wallet == nil {
		http.Error(w, "Wallet not tracked", http.StatusNotFound)
		return
	}

	h.writeJSON(w, http.StatusOK, envelope(wallet))
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
