// Package portfolio builds live wallet valuations from chain balances and
// prices, and serves the stored value history.
package portfolio

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gonum.org/v1/gonum/stat"

	"github.com/stkpulse/stackwatch/internal/clients/hiro"
	"github.com/stkpulse/stackwatch/internal/events"
	"github.com/stkpulse/stackwatch/internal/modules/prices"
)

// ErrUnknownWindow is returned for history windows outside 30d/90d/365d.
var ErrUnknownWindow = fmt.Errorf("unknown history window")

type tokenInfo struct {
	Symbol   string
	Name     string
	Decimals int32
}

// knownTokens carries display metadata and base-unit decimals for the
// SIP-010 tokens the portfolio view recognizes. Unknown tokens fall back
// to 6 decimals and a symbol derived from the contract id.
var knownTokens = map[string]tokenInfo{
	"SM3VDXK3WZZSA84XXFKAFAF15NNZX32CTSG82JFQ4.sbtc-token":      {Symbol: "sBTC", Name: "Stacked Bitcoin", Decimals: 8},
	"SP3K8BC0PPEVCV7NZ6QSRWPQ2JE9E5B6N3PA0KBR9.token-abtc":      {Symbol: "aBTC", Name: "ALEX Bitcoin", Decimals: 8},
	"SP102V8P0F7JX67ARQ77WEA3D3CFB5XW39REDT0AM.token-alex":      {Symbol: "ALEX", Name: "ALEX Token", Decimals: 8},
	"SP1Y5YSTAHZ88XYK1VPDH24GY0HPX5J4JECTMY4A1.wstx-token":      {Symbol: "wSTX", Name: "Wrapped STX", Decimals: 6},
	"SP3Y2ZSH8P7D50B0VBTSX11S7XSG24M1VB9YFQA4K.token-aeusdc":    {Symbol: "aeUSDC", Name: "Allbridge USDC", Decimals: 6},
	"SP2C2YFP12AJZB4MABJBAJ55XECVS7E4PMMZ89YZR.arkadiko-token":  {Symbol: "DIKO", Name: "Arkadiko", Decimals: 6},
	"SP4SZE494VC2YC5JYG7AYFQ44F5Q4PYV7DVMDPBG.ststx-token":      {Symbol: "stSTX", Name: "Stacked STX", Decimals: 6},
}

// balanceSource is the slice of the chain API client the service needs.
type balanceSource interface {
	Balances(ctx context.Context, address string) (*hiro.Balances, error)
}

// Service builds portfolio snapshots and value history views.
type Service struct {
	balances balanceSource
	prices   prices.Provider
	repo     *Repository
	bus      *events.Bus
	log      zerolog.Logger
}

// NewService creates a portfolio service. bus is optional.
func NewService(balances balanceSource, priceProvider prices.Provider, repo *Repository, bus *events.Bus, log zerolog.Logger) *Service {
	return &Service{
		balances: balances,
		prices:   priceProvider,
		repo:     repo,
		bus:      bus,
		log:      log.With().Str("component", "portfolio").Logger(),
	}
}

// Snapshot values a wallet from live balances and current prices, stores
// the total for the history chart, and returns the full breakdown.
// Zero-value SIP-010 positions are dropped; the native position always
// appears.
func (s *Service) Snapshot(ctx context.Context, address string) (*Snapshot, error) {
	balances, err := s.balances.Balances(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch balances: %w", err)
	}

	tokens := []TokenBalance{nativeBalance(balances.STX)}
	for key, ft := range balances.FungibleTokens {
		tokens = append(tokens, sip010Balance(key, ft))
	}

	contractIDs := make([]string, len(tokens))
	for i, token := range tokens {
		contractIDs[i] = token.ContractID
	}

	priceMap, err := s.prices.GetBulk(ctx, contractIDs)
	if err != nil {
		s.log.Warn().Err(err).Str("address", address).Msg("Bulk price lookup failed, snapshot values degrade to zero")
		priceMap = map[string]decimal.Decimal{}
	}

	total := decimal.Zero
	valued := make([]TokenBalance, 0, len(tokens))
	for _, token := range tokens {
		token.PriceUSD = priceMap[token.ContractID]
		token.ValueUSD = token.Balance.Mul(token.PriceUSD)
		total = total.Add(token.ValueUSD)

		if token.IsSIP010 && !token.ValueUSD.IsPositive() {
			continue
		}
		valued = append(valued, token)
	}

	snapshot := &Snapshot{
		Address:       address,
		TotalValueUSD: total,
		Tokens:        valued,
		UpdatedAt:     time.Now().UTC(),
	}

	// History persistence is best effort; the live view still renders.
	if err := s.repo.SaveSnapshot(ctx, address, snapshot.UpdatedAt, total); err != nil {
		s.log.Warn().Err(err).Str("address", address).Msg("Failed to persist snapshot")
	} else if s.bus != nil {
		s.bus.Publish(events.SnapshotSaved, events.SnapshotSavedData{
			Address:  address,
			ValueUSD: total.String(),
		})
	}

	return snapshot, nil
}

// ValueHistory returns the stored valuation series for a window with
// change and volatility stats.
func (s *Service) ValueHistory(ctx context.Context, address, window string) (*ValueHistory, error) {
	span, ok := Windows[window]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownWindow, window)
	}

	points, err := s.repo.History(ctx, address, time.Now().Add(-span))
	if err != nil {
		return nil, err
	}

	out := &ValueHistory{
		Address:    address,
		Window:     window,
		Points:     points,
		StartValue: decimal.Zero,
		EndValue:   decimal.Zero,
		ChangeUSD:  decimal.Zero,
		ChangePct:  decimal.Zero,
	}
	if out.Points == nil {
		out.Points = []HistoryPoint{}
	}
	if len(points) == 0 {
		return out, nil
	}

	out.StartValue = points[0].ValueUSD
	out.EndValue = points[len(points)-1].ValueUSD
	out.ChangeUSD = out.EndValue.Sub(out.StartValue)
	if out.StartValue.IsPositive() {
		out.ChangePct = out.ChangeUSD.Div(out.StartValue).Mul(decimal.NewFromInt(100))
	}
	out.AnnualizedVolatility = annualizedVolatility(points)

	return out, nil
}

// annualizedVolatility computes the standard deviation of per-sample
// returns, scaled to a year by the mean sampling interval.
func annualizedVolatility(points []HistoryPoint) float64 {
	if len(points) < 3 {
		return 0
	}

	var returns []float64
	for i := 1; i < len(points); i++ {
		prev, _ := points[i-1].ValueUSD.Float64()
		curr, _ := points[i].ValueUSD.Float64()
		if prev <= 0 {
			continue
		}
		returns = append(returns, (curr-prev)/prev)
	}
	if len(returns) < 2 {
		return 0
	}

	stdDev := stat.StdDev(returns, nil)

	meanInterval := points[len(points)-1].Timestamp.Sub(points[0].Timestamp).Seconds() / float64(len(points)-1)
	if meanInterval <= 0 {
		return 0
	}
	samplesPerYear := (365 * 24 * time.Hour).Seconds() / meanInterval

	return stdDev * math.Sqrt(samplesPerYear)
}

func nativeBalance(stx hiro.STXBalance) TokenBalance {
	return TokenBalance{
		ContractID: prices.NativeSTX,
		Symbol:     "STX",
		Name:       "Stacks",
		Decimals:   6,
		Balance:    parseBaseUnits(stx.Balance, 6),
		PriceUSD:   decimal.Zero,
		ValueUSD:   decimal.Zero,
	}
}

// sip010Balance builds a token entry from a balance map key of the form
// "{contract_id}::{asset_name}".
func sip010Balance(key string, ft hiro.FungibleBalance) TokenBalance {
	contractID := key
	if idx := strings.Index(key, "::"); idx >= 0 {
		contractID = key[:idx]
	}

	info, known := knownTokens[contractID]
	if !known {
		info = tokenInfo{
			Symbol:   strings.ToUpper(symbolFromContract(contractID)),
			Name:     contractID,
			Decimals: 6,
		}
	}

	return TokenBalance{
		ContractID: contractID,
		Symbol:     info.Symbol,
		Name:       info.Name,
		Decimals:   info.Decimals,
		Balance:    parseBaseUnits(ft.Balance, info.Decimals),
		PriceUSD:   decimal.Zero,
		ValueUSD:   decimal.Zero,
		IsSIP010:   true,
	}
}

// parseBaseUnits converts a base-unit balance string to whole token units.
// Unparseable balances degrade to zero.
func parseBaseUnits(raw string, decimals int32) decimal.Decimal {
	base, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero
	}
	return base.Shift(-decimals)
}

func symbolFromContract(contractID string) string {
	if idx := strings.LastIndex(contractID, "."); idx >= 0 && idx < len(contractID)-1 {
		return contractID[idx+1:]
	}
	return contractID
}
