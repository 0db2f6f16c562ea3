package portfolio

import (
	"time"

	"github.com/shopspring/decimal"
)

// TokenBalance is one asset position in a portfolio snapshot.
type TokenBalance struct {
	ContractID string          `json:"contractId"`
	Symbol     string          `json:"symbol"`
	Name       string          `json:"name"`
	Decimals   int32           `json:"decimals"`
	Balance    decimal.Decimal `json:"balance"` // whole token units
	PriceUSD   decimal.Decimal `json:"priceUsd"`
	ValueUSD   decimal.Decimal `json:"valueUsd"`
	IsSIP010   bool            `json:"isSip010"`
}

// Snapshot is a point-in-time valuation of a wallet.
type Snapshot struct {
	Address       string          `json:"address"`
	TotalValueUSD decimal.Decimal `json:"totalValueUsd"`
	Tokens        []TokenBalance  `json:"tokens"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// HistoryPoint is one stored valuation sample.
type HistoryPoint struct {
	Timestamp time.Time       `json:"timestamp"`
	ValueUSD  decimal.Decimal `json:"valueUsd"`
}

// ValueHistory is the windowed value chart with change stats.
type ValueHistory struct {
	Address              string          `json:"address"`
	Window               string          `json:"window"`
	Points               []HistoryPoint  `json:"points"`
	StartValue           decimal.Decimal `json:"startValue"`
	EndValue             decimal.Decimal `json:"endValue"`
	ChangeUSD            decimal.Decimal `json:"changeUsd"`
	ChangePct            decimal.Decimal `json:"changePct"`
	AnnualizedVolatility float64         `json:"annualizedVolatility"`
}

// Windows maps the accepted history windows to their durations.
var Windows = map[string]time.Duration{
	"30d":  30 * 24 * time.Hour,
	"90d":  90 * 24 * time.Hour,
	"365d": 365 * 24 * time.Hour,
}
