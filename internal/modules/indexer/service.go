// Package indexer scans wallet transaction history from the chain API,
// classifies each transaction, and feeds acquisitions and disposals into
// the FIFO lot ledger.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/stkpulse/stackwatch/internal/clients/hiro"
	"github.com/stkpulse/stackwatch/internal/events"
	"github.com/stkpulse/stackwatch/internal/metrics"
	"github.com/stkpulse/stackwatch/internal/modules/pnl"
	"github.com/stkpulse/stackwatch/internal/modules/prices"
)

// microSTX converts micro-STX amounts to whole STX.
var microSTX = decimal.New(1, 6)

// txSource is the slice of the chain API client the indexer needs.
type txSource interface {
	Transactions(ctx context.Context, address string, offset int) (*hiro.TxPage, error)
}

// lotLedger is the slice of the pnl engine the indexer feeds.
type lotLedger interface {
	RecordAcquisition(ctx context.Context, acq pnl.Acquisition) error
	Consume(ctx context.Context, d pnl.Disposal) (*pnl.ConsumeResult, error)
}

// SyncResult summarizes one wallet sync run.
type SyncResult struct {
	Indexed int `json:"indexed"`
	Errors  int `json:"errors"`
}

// Service drives wallet history syncs.
type Service struct {
	source  txSource
	repo    *Repository
	wallets *WalletRepository
	ledger  lotLedger
	prices  prices.Provider
	bus     *events.Bus
	maxTxs  int
	log     zerolog.Logger
}

// NewService creates an indexer service.
// bus is optional; maxTxs bounds one sync run.
func NewService(source txSource, repo *Repository, wallets *WalletRepository, ledger lotLedger, priceProvider prices.Provider, bus *events.Bus, maxTxs int, log zerolog.Logger) *Service {
	if maxTxs <= 0 {
		maxTxs = 500
	}
	return &Service{
		source:  source,
		repo:    repo,
		wallets: wallets,
		ledger:  ledger,
		prices:  priceProvider,
		bus:     bus,
		maxTxs:  maxTxs,
		log:     log.With().Str("component", "indexer").Logger(),
	}
}

// Sync scans a wallet's history and indexes up to maxTxs transactions.
// Already-indexed transactions are skipped, so repeated syncs converge
// without duplicating ledger state.
func (s *Service) Sync(ctx context.Context, address string) (SyncResult, error) {
	if err := s.wallets.MarkSyncing(ctx, address); err != nil {
		return SyncResult{}, err
	}

	result, err := s.scan(ctx, address)
	if err != nil {
		if markErr := s.wallets.MarkError(ctx, address); markErr != nil {
			s.log.Error().Err(markErr).Str("address", address).Msg("Failed to record sync error state")
		}
		return result, fmt.Errorf("sync failed for %s: %w", address, err)
	}

	if err := s.wallets.MarkDone(ctx, address); err != nil {
		return result, err
	}

	if s.bus != nil {
		s.bus.Publish(events.WalletSynced, events.WalletSyncedData{
			Address: address,
			Indexed: result.Indexed,
			Errors:  result.Errors,
		})
	}

	s.log.Info().
		Str("address", address).
		Int("indexed", result.Indexed).
		Int("errors", result.Errors).
		Msg("Wallet sync complete")

	return result, nil
}

func (s *Service) scan(ctx context.Context, address string) (SyncResult, error) {
	var result SyncResult
	var fresh []*TxRecord
	offset := 0

	for result.Indexed < s.maxTxs {
		page, err := s.source.Transactions(ctx, address, offset)
		if err != nil {
			return result, err
		}
		if len(page.Results) == 0 {
			break
		}

		for i := range page.Results {
			tx := &page.Results[i]
			rec, err := s.indexTx(ctx, address, tx)
			if err != nil {
				s.log.Warn().Err(err).Str("tx_id", tx.TxID).Msg("Failed to index transaction")
				result.Errors++
				continue
			}
			if rec != nil {
				fresh = append(fresh, rec)
			}
			result.Indexed++
			if result.Indexed >= s.maxTxs {
				break
			}
		}

		offset += hiro.PageSize
		if offset >= page.Total {
			break
		}
	}

	// The API pages newest first. The FIFO ledger must see an
	// acquisition before any disposal that consumes it, so the run's
	// new transactions are replayed in chain order.
	sort.Slice(fresh, func(i, j int) bool {
		if !fresh[i].BlockTime.Equal(fresh[j].BlockTime) {
			return fresh[i].BlockTime.Before(fresh[j].BlockTime)
		}
		return fresh[i].TxID < fresh[j].TxID
	})

	for _, rec := range fresh {
		if err := s.feedLedger(ctx, rec); err != nil {
			s.log.Warn().Err(err).Str("tx_id", rec.TxID).Msg("Failed to feed ledger")
			result.Errors++
			continue
		}
		if s.bus != nil {
			s.bus.Publish(events.TxIndexed, events.TxIndexedData{
				Address:    rec.Address,
				TxID:       rec.TxID,
				TxType:     string(rec.Type),
				ContractID: rec.ContractID,
				Direction:  rec.Direction,
			})
		}
	}

	return result, nil
}

// indexTx records one transaction, returning the stored record when it is
// new. A transaction seen before returns nil; the ledger feed happens
// later, once the whole run is ordered.
func (s *Service) indexTx(ctx context.Context, address string, tx *hiro.Tx) (*TxRecord, error) {
	rec, err := s.toRecord(ctx, address, tx)
	if err != nil {
		return nil, err
	}

	inserted, err := s.repo.InsertTx(ctx, *rec)
	if err != nil {
		return nil, err
	}
	if !inserted {
		return nil, nil
	}

	metrics.TxIndexedTotal.WithLabelValues(rec.Direction).Inc()
	return rec, nil
}

// feedLedger translates an indexed transaction into lot ledger operations.
// Running out of lots on a disposal is a data-quality signal, not a sync
// failure; the partial consumption is already committed.
func (s *Service) feedLedger(ctx context.Context, rec *TxRecord) error {
	if !rec.Amount.IsPositive() {
		return nil
	}

	switch rec.Direction {
	case "in":
		err := s.ledger.RecordAcquisition(ctx, pnl.Acquisition{
			Address:      rec.Address,
			ContractID:   rec.ContractID,
			TxID:         rec.TxID,
			AcquiredAt:   rec.BlockTime,
			Amount:       rec.Amount,
			CostBasisUSD: rec.PriceUSDAtTx,
		})
		if err != nil {
			return fmt.Errorf("failed to record acquisition: %w", err)
		}
	case "out":
		_, err := s.ledger.Consume(ctx, pnl.Disposal{
			Address:      rec.Address,
			ContractID:   rec.ContractID,
			TxID:         rec.TxID,
			DisposedAt:   rec.BlockTime,
			Amount:       rec.Amount,
			SalePriceUSD: rec.PriceUSDAtTx,
		})
		var insufficient *pnl.InsufficientLotsError
		if errors.As(err, &insufficient) {
			s.log.Warn().
				Str("address", rec.Address).
				Str("contract", rec.ContractID).
				Str("tx_id", rec.TxID).
				Str("unsatisfied", insufficient.Unsatisfied.String()).
				Msg("Disposal exceeded open lots")
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to consume lots: %w", err)
		}
	}
	return nil
}

// toRecord converts a chain transaction into a TxRecord, pricing it with
// the current USD price. A failed price lookup degrades to zero rather
// than blocking the sync.
func (s *Service) toRecord(ctx context.Context, address string, tx *hiro.Tx) (*TxRecord, error) {
	blockTime, err := time.Parse(time.RFC3339, tx.BurnBlockTimeISO)
	if err != nil {
		return nil, fmt.Errorf("unparseable block time %q: %w", tx.BurnBlockTimeISO, err)
	}

	txType := Classify(tx, address)

	rec := &TxRecord{
		TxID:        tx.TxID,
		Address:     address,
		BlockHeight: tx.BlockHeight,
		BlockTime:   blockTime.UTC(),
		Type:        txType,
		Direction:   Direction(txType),
		Amount:      decimal.Zero,
	}

	if tx.TxType == "token_transfer" && tx.TokenTransfer != nil {
		rec.ContractID = prices.NativeSTX
		rec.TokenSymbol = "STX"
		rec.Memo = tx.TokenTransfer.Memo

		micro, err := decimal.NewFromString(tx.TokenTransfer.Amount)
		if err != nil {
			return nil, fmt.Errorf("unparseable transfer amount %q: %w", tx.TokenTransfer.Amount, err)
		}
		rec.Amount = micro.Div(microSTX)

		if rec.Direction == "in" {
			rec.Counterparty = tx.TokenTransfer.SenderAddress
		} else {
			rec.Counterparty = tx.TokenTransfer.RecipientAddress
		}
	} else if tx.ContractCall != nil {
		rec.ContractID = tx.ContractCall.ContractID
		rec.TokenSymbol = symbolFromContract(tx.ContractCall.ContractID)
	} else {
		rec.ContractID = prices.NativeSTX
		rec.TokenSymbol = "STX"
	}

	rec.PriceUSDAtTx = s.lookupPrice(ctx, rec.ContractID)
	rec.ValueUSD = rec.Amount.Mul(rec.PriceUSDAtTx)

	return rec, nil
}

func (s *Service) lookupPrice(ctx context.Context, contractID string) decimal.Decimal {
	if s.prices == nil {
		return decimal.Zero
	}
	price, err := s.prices.GetPrice(ctx, contractID)
	if err != nil {
		s.log.Debug().Err(err).Str("contract", contractID).Msg("No price at index time")
		return decimal.Zero
	}
	return price
}

// symbolFromContract derives a display symbol from a contract id like
// "SP....token-abtc".
func symbolFromContract(contractID string) string {
	if idx := strings.LastIndex(contractID, "."); idx >= 0 && idx < len(contractID)-1 {
		return contractID[idx+1:]
	}
	return contractID
}
