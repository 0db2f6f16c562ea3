// Package prices resolves USD prices for tracked assets, caching lookups
// in the cache database and falling back to stale data when the upstream
// API is unavailable.
package prices

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/stkpulse/stackwatch/internal/events"
	"github.com/stkpulse/stackwatch/internal/metrics"
)

// ErrUnknownAsset is returned for contract ids with no known price source.
var ErrUnknownAsset = errors.New("no price source for asset")

// Provider resolves USD prices for assets.
type Provider interface {
	GetPrice(ctx context.Context, contractID string) (decimal.Decimal, error)
	GetBulk(ctx context.Context, contractIDs []string) (map[string]decimal.Decimal, error)
}

// upstream is the slice of the CoinGecko client the service needs.
type upstream interface {
	GetPrices(ctx context.Context, ids []string) (map[string]decimal.Decimal, error)
}

// Service implements Provider with a TTL cache in front of CoinGecko.
type Service struct {
	cache    *Cache
	ticks    *Repository
	upstream upstream
	bus      *events.Bus
	ttl      time.Duration
	log      zerolog.Logger
}

// NewService creates a price service.
// ticks and bus are optional; pass nil to skip tick persistence or events.
func NewService(cache *Cache, ticks *Repository, up upstream, bus *events.Bus, ttl time.Duration, log zerolog.Logger) *Service {
	return &Service{
		cache:    cache,
		ticks:    ticks,
		upstream: up,
		bus:      bus,
		ttl:      ttl,
		log:      log.With().Str("component", "prices").Logger(),
	}
}

// GetPrice returns the USD price for a single asset.
func (s *Service) GetPrice(ctx context.Context, contractID string) (decimal.Decimal, error) {
	prices, err := s.GetBulk(ctx, []string{contractID})
	if err != nil {
		return decimal.Zero, err
	}
	price, ok := prices[contractID]
	if !ok {
		return decimal.Zero, fmt.Errorf("price unavailable for %s", contractID)
	}
	return price, nil
}

// GetBulk returns USD prices for the given assets, resolving as many from
// cache as possible and batching the rest into one upstream request.
// Assets whose price cannot be resolved are absent from the result; the
// call only fails when it can resolve nothing at all.
func (s *Service) GetBulk(ctx context.Context, contractIDs []string) (map[string]decimal.Decimal, error) {
	result := make(map[string]decimal.Decimal, len(contractIDs))

	// Cache pass.
	var missing []string
	for _, contractID := range contractIDs {
		if _, ok := GeckoID(contractID); !ok {
			metrics.PriceLookupsTotal.WithLabelValues("error").Inc()
			if len(contractIDs) == 1 {
				return nil, fmt.Errorf("%w: %s", ErrUnknownAsset, contractID)
			}
			continue
		}

		entry, ok, err := s.cache.GetIfFresh(contractID)
		if err != nil {
			s.log.Warn().Err(err).Str("contract", contractID).Msg("Cache read failed")
		}
		if ok {
			if price, perr := decimal.NewFromString(entry.PriceUSD); perr == nil {
				metrics.PriceLookupsTotal.WithLabelValues("hit").Inc()
				result[contractID] = price
				continue
			}
		}
		missing = append(missing, contractID)
	}

	if len(missing) == 0 {
		return result, nil
	}

	// Upstream pass for the cache misses.
	ids := make([]string, 0, len(missing))
	byGeckoID := make(map[string][]string, len(missing))
	for _, contractID := range missing {
		geckoID, _ := GeckoID(contractID)
		if len(byGeckoID[geckoID]) == 0 {
			ids = append(ids, geckoID)
		}
		byGeckoID[geckoID] = append(byGeckoID[geckoID], contractID)
	}

	fetched, err := s.upstream.GetPrices(ctx, ids)
	if err != nil {
		s.log.Warn().Err(err).Int("assets", len(missing)).Msg("Upstream price fetch failed, trying stale cache")
		s.fillFromStale(missing, result)
		if len(result) == 0 {
			return nil, fmt.Errorf("price fetch failed: %w", err)
		}
		return result, nil
	}

	for geckoID, price := range fetched {
		for _, contractID := range byGeckoID[geckoID] {
			metrics.PriceLookupsTotal.WithLabelValues("miss").Inc()
			result[contractID] = price
			s.storeTick(contractID, price)
		}
	}

	// Upstream answered but dropped some ids; stale data covers the gap.
	var unresolved []string
	for _, contractID := range missing {
		if _, ok := result[contractID]; !ok {
			unresolved = append(unresolved, contractID)
		}
	}
	s.fillFromStale(unresolved, result)

	return result, nil
}

// fillFromStale resolves assets from expired cache entries.
func (s *Service) fillFromStale(contractIDs []string, result map[string]decimal.Decimal) {
	for _, contractID := range contractIDs {
		entry, ok, err := s.cache.Get(contractID)
		if err != nil || !ok {
			metrics.PriceLookupsTotal.WithLabelValues("error").Inc()
			continue
		}
		price, perr := decimal.NewFromString(entry.PriceUSD)
		if perr != nil {
			metrics.PriceLookupsTotal.WithLabelValues("error").Inc()
			continue
		}
		metrics.PriceLookupsTotal.WithLabelValues("stale").Inc()
		s.log.Warn().
			Str("contract", contractID).
			Str("price", entry.PriceUSD).
			Msg("Using stale cached price")
		result[contractID] = price
	}
}

// storeTick caches a fresh price, appends it to the series and publishes
// a PriceUpdated event. All three are best effort.
func (s *Service) storeTick(contractID string, price decimal.Decimal) {
	entry := cachedPrice{PriceUSD: price.String(), Source: "coingecko"}
	if err := s.cache.Store(contractID, entry, s.ttl); err != nil {
		s.log.Warn().Err(err).Str("contract", contractID).Msg("Failed to cache price")
	}

	if s.ticks != nil {
		tick := Tick{
			ContractID: contractID,
			PriceUSD:   price,
			Source:     "coingecko",
			RecordedAt: time.Now().UTC(),
		}
		if err := s.ticks.RecordTick(tick); err != nil {
			s.log.Warn().Err(err).Str("contract", contractID).Msg("Failed to record price tick")
		}
	}

	if s.bus != nil {
		s.bus.Publish(events.PriceUpdated, events.PriceUpdatedData{
			ContractID: contractID,
			PriceUSD:   price.String(),
			Source:     "coingecko",
		})
	}
}
