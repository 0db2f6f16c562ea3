// Package pnl implements the FIFO cost-basis and realized/unrealized
// profit-and-loss engine.
//
// Every acquisition creates a lot (amount, USD cost basis per unit).
// Every disposal consumes lots oldest-first, emitting one immutable
// realized event per lot touched. Realized PnL is the sum over consumed
// lots of (sale price - cost basis) * amount; unrealized PnL is the sum
// over open lots of (current price - cost basis) * remaining.
//
// All monetary arithmetic uses shopspring/decimal; values are stored as
// decimal strings and serialized to JSON as strings, so results are exact
// and replays are bit-identical.
package pnl

import (
	"time"

	"github.com/shopspring/decimal"
)

// Lot represents one acquisition of an asset, tracked until fully disposed.
// Amount and CostBasisUSD are immutable; Remaining starts equal to Amount
// and is only ever decremented by the consumption engine. A fully consumed
// lot (Remaining zero) is retained for audit history.
type Lot struct {
	ID           int64           `json:"-"`
	Address      string          `json:"-"`
	ContractID   string          `json:"-"`
	TxID         string          `json:"txId"`
	AcquiredAt   time.Time       `json:"timestamp"`
	Amount       decimal.Decimal `json:"amount"`
	CostBasisUSD decimal.Decimal `json:"costBasisUsd"`
	Remaining    decimal.Decimal `json:"remainingAmount"`
}

// Open reports whether the lot still has units available for consumption.
func (l *Lot) Open() bool {
	return l.Remaining.IsPositive()
}

// Acquisition is an inbound asset movement that creates a lot.
type Acquisition struct {
	Address      string
	ContractID   string
	TxID         string
	AcquiredAt   time.Time
	Amount       decimal.Decimal
	CostBasisUSD decimal.Decimal // USD per unit at acquisition time
}

// Disposal is an outbound asset movement that consumes lots oldest-first.
type Disposal struct {
	Address      string
	ContractID   string
	TxID         string
	DisposedAt   time.Time
	Amount       decimal.Decimal
	SalePriceUSD decimal.Decimal // USD per unit at disposal time
}

// RealizedEvent is the immutable record of one lot being (partially)
// consumed by one disposal. A single disposal produces one event per lot
// it touches. Identity is (DisposeTxID, AcquireTxID, Address, ContractID).
type RealizedEvent struct {
	ID           int64           `json:"-"`
	Address      string          `json:"-"`
	ContractID   string          `json:"contractId"`
	DisposeTxID  string          `json:"disposeTxId"`
	AcquireTxID  string          `json:"acquireTxId"`
	DisposedAt   time.Time       `json:"disposedAt"`
	Amount       decimal.Decimal `json:"amount"`
	CostBasisUSD decimal.Decimal `json:"costBasisUsd"`
	SalePriceUSD decimal.Decimal `json:"salePriceUsd"`
	PnLUSD       decimal.Decimal `json:"pnlUsd"`
}

// ConsumeResult is the outcome of applying one disposal.
// Events lists the realized events recorded for this disposal (including
// ones recorded by an earlier delivery of the same disposal, so replays
// return the same result). Unsatisfied is the portion of the requested
// amount that no open lot could cover; zero when lots sufficed.
type ConsumeResult struct {
	Realized    decimal.Decimal `json:"realizedPnlUsd"`
	Events      []RealizedEvent `json:"events"`
	Consumed    decimal.Decimal `json:"consumed"`
	Unsatisfied decimal.Decimal `json:"unsatisfied"`
}

// AssetPnL is the per-asset profit summary. It is derived on demand from
// the lot ledger, the realized-event history, and a live price; it is
// never stored.
type AssetPnL struct {
	ContractID       string          `json:"contractId"`
	Symbol           string          `json:"symbol"`
	TotalBought      decimal.Decimal `json:"totalBought"`
	TotalSold        decimal.Decimal `json:"totalSold"`
	RealizedPnLUSD   decimal.Decimal `json:"realizedPnlUsd"`
	UnrealizedPnLUSD decimal.Decimal `json:"unrealizedPnlUsd"`
	UnrealizedPnLPct decimal.Decimal `json:"unrealizedPnlPct"`
	AverageCostBasis decimal.Decimal `json:"averageCostBasis"`
	CurrentPrice     decimal.Decimal `json:"currentPrice"`
	CurrentValue     decimal.Decimal `json:"currentValue"`
	// Degraded is set when the live price lookup failed; unrealized
	// figures are then computed against a zero price and must not be
	// presented as authoritative.
	Degraded bool  `json:"degraded,omitempty"`
	Lots     []Lot `json:"lots"`
}

// PortfolioPnL sums AssetPnL across every asset the holder has ever
// transacted in.
type PortfolioPnL struct {
	Address            string          `json:"address"`
	TotalRealizedPnL   decimal.Decimal `json:"totalRealizedPnl"`
	TotalUnrealizedPnL decimal.Decimal `json:"totalUnrealizedPnl"`
	TotalPnL           decimal.Decimal `json:"totalPnl"`
	Assets             []AssetPnL      `json:"assets"`
	CalculatedAt       time.Time       `json:"calculatedAt"`
}
