package pnl

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// priceTimeout bounds a single live price lookup during aggregation.
const priceTimeout = 5 * time.Second

// PriceSource supplies the current USD price for an asset. Lookups may
// fail or return stale data; the aggregator degrades the affected asset
// instead of failing the whole computation.
type PriceSource interface {
	GetPrice(ctx context.Context, contractID string) (decimal.Decimal, error)
}

// ActivityStats summarizes a holder's raw transaction activity in one
// asset, independent of the lot ledger.
type ActivityStats struct {
	Symbol      string
	TotalBought decimal.Decimal
	TotalSold   decimal.Decimal
}

// ActivitySource supplies per-asset transaction activity (bought/sold
// totals and display symbol). Implemented by the indexer repository;
// optional, the aggregator works without it.
type ActivitySource interface {
	AssetActivity(ctx context.Context, address, contractID string) (ActivityStats, error)
}

// Aggregator derives AssetPnL and PortfolioPnL views from the lot
// ledger, the realized-event history, and live prices. Views are always
// recomputed; nothing here is cached as authoritative state.
type Aggregator struct {
	repo     *Repository
	prices   PriceSource
	activity ActivitySource // may be nil
	log      zerolog.Logger
}

// NewAggregator creates a new PnL aggregator. activity may be nil when no
// transaction feed is wired (symbol falls back to the contract id).
func NewAggregator(repo *Repository, prices PriceSource, activity ActivitySource, log zerolog.Logger) *Aggregator {
	return &Aggregator{
		repo:     repo,
		prices:   prices,
		activity: activity,
		log:      log.With().Str("component", "pnl_aggregator").Logger(),
	}
}

// AssetPnL computes the per-asset summary for one holder.
//
// The open-lot set is read in one query, so figures within the asset are
// mutually consistent. A failed price lookup zeroes the unrealized
// contribution and marks the result Degraded instead of failing.
func (a *Aggregator) AssetPnL(ctx context.Context, address, contractID string) (*AssetPnL, error) {
	price, degraded := a.lookupPrice(ctx, contractID)

	realized, err := a.repo.RealizedTotal(ctx, address, contractID)
	if err != nil {
		return nil, err
	}

	lots, err := a.repo.OpenLots(ctx, address, contractID)
	if err != nil {
		return nil, err
	}

	unrealized := decimal.Zero
	totalCost := decimal.Zero
	totalRemaining := decimal.Zero
	for _, lot := range lots {
		if !degraded {
			unrealized = unrealized.Add(price.Sub(lot.CostBasisUSD).Mul(lot.Remaining))
		}
		totalCost = totalCost.Add(lot.CostBasisUSD.Mul(lot.Remaining))
		totalRemaining = totalRemaining.Add(lot.Remaining)
	}

	avgCost := decimal.Zero
	if totalRemaining.IsPositive() {
		avgCost = totalCost.Div(totalRemaining)
	}

	unrealizedPct := decimal.Zero
	if !degraded && totalCost.IsPositive() {
		unrealizedPct = unrealized.Div(totalCost).Mul(decimal.NewFromInt(100))
	}

	currentValue := decimal.Zero
	if !degraded {
		currentValue = totalRemaining.Mul(price)
	}

	out := &AssetPnL{
		ContractID:       contractID,
		Symbol:           contractID,
		RealizedPnLUSD:   realized,
		UnrealizedPnLUSD: unrealized,
		UnrealizedPnLPct: unrealizedPct,
		AverageCostBasis: avgCost,
		CurrentPrice:     price,
		CurrentValue:     currentValue,
		Degraded:         degraded,
		Lots:             lots,
	}
	if out.Lots == nil {
		out.Lots = []Lot{}
	}

	if a.activity != nil {
		stats, err := a.activity.AssetActivity(ctx, address, contractID)
		if err != nil {
			a.log.Warn().Err(err).
				Str("address", address).
				Str("contract", contractID).
				Msg("Failed to load transaction activity")
		} else {
			if stats.Symbol != "" {
				out.Symbol = stats.Symbol
			}
			out.TotalBought = stats.TotalBought
			out.TotalSold = stats.TotalSold
		}
	}

	return out, nil
}

// PortfolioPnL computes AssetPnL for every asset the holder has ever
// transacted in and sums the totals. Assets are independent: a degraded
// price for one asset never aborts the others.
func (a *Aggregator) PortfolioPnL(ctx context.Context, address string) (*PortfolioPnL, error) {
	assets, err := a.repo.Assets(ctx, address)
	if err != nil {
		return nil, err
	}

	out := &PortfolioPnL{
		Address:            address,
		TotalRealizedPnL:   decimal.Zero,
		TotalUnrealizedPnL: decimal.Zero,
		TotalPnL:           decimal.Zero,
		Assets:             make([]AssetPnL, 0, len(assets)),
		CalculatedAt:       time.Now().UTC(),
	}

	for _, contractID := range assets {
		asset, err := a.AssetPnL(ctx, address, contractID)
		if err != nil {
			return nil, err
		}
		out.Assets = append(out.Assets, *asset)
		out.TotalRealizedPnL = out.TotalRealizedPnL.Add(asset.RealizedPnLUSD)
		out.TotalUnrealizedPnL = out.TotalUnrealizedPnL.Add(asset.UnrealizedPnLUSD)
	}
	out.TotalPnL = out.TotalRealizedPnL.Add(out.TotalUnrealizedPnL)

	return out, nil
}

// lookupPrice fetches the current price with a bounded timeout.
// Failure is recoverable: the asset's unrealized figures degrade to a
// zero price and the caller marks them as incomplete.
func (a *Aggregator) lookupPrice(ctx context.Context, contractID string) (decimal.Decimal, bool) {
	ctx, cancel := context.WithTimeout(ctx, priceTimeout)
	defer cancel()

	price, err := a.prices.GetPrice(ctx, contractID)
	if err != nil {
		a.log.Warn().Err(err).
			Str("contract", contractID).
			Msg("Price unavailable, degrading unrealized figures")
		return decimal.Zero, true
	}
	if price.IsNegative() {
		a.log.Error().
			Str("contract", contractID).
			Str("price", price.String()).
			Msg("Price source returned negative price, degrading")
		return decimal.Zero, true
	}
	return price, false
}
