package widgets

import (
	"context"
	"fmt"
	"time"

	"github.com/markcheno/go-talib"
	"github.com/rs/zerolog"

	"github.com/stkpulse/stackwatch/internal/modules/portfolio"
	"github.com/stkpulse/stackwatch/internal/modules/prices"
)

// smaWindow is the number of samples in the moving-average overlay.
const smaWindow = 20

var periodDurations = map[Period]time.Duration{
	Period24h: 24 * time.Hour,
	Period7d:  7 * 24 * time.Hour,
	Period30d: 30 * 24 * time.Hour,
	Period1y:  365 * 24 * time.Hour,
}

// Service assembles widget payloads from the price, ledger and portfolio
// series, behind a short TTL cache.
type Service struct {
	ticks     *prices.Repository
	calls     *Repository
	snapshots *portfolio.Repository
	cache     *Cache
	log       zerolog.Logger
}

// NewService creates a new widget data service.
func NewService(ticks *prices.Repository, calls *Repository, snapshots *portfolio.Repository, cache *Cache, log zerolog.Logger) *Service {
	return &Service{
		ticks:     ticks,
		calls:     calls,
		snapshots: snapshots,
		cache:     cache,
		log:       log.With().Str("component", "widgets").Logger(),
	}
}

// TokenPrice returns the price series widget for a contract.
func (s *Service) TokenPrice(ctx context.Context, contractID string, period Period) (*PriceWidget, error) {
	since, err := windowStart(period)
	if err != nil {
		return nil, err
	}

	key := fmt.Sprintf("price:%s:%s", contractID, period)
	var cached PriceWidget
	if hit, err := s.cache.Load(key, &cached); err == nil && hit {
		return &cached, nil
	}

	series, err := s.ticks.Series(contractID, since)
	if err != nil {
		return nil, err
	}

	widget := &PriceWidget{
		Points: make([]PricePoint, 0, len(series)),
		SMA:    make([]float64, len(series)),
	}
	raw := make([]float64, 0, len(series))
	for _, tick := range series {
		price, _ := tick.PriceUSD.Float64()
		widget.Points = append(widget.Points, PricePoint{
			Timestamp: tick.RecordedAt.Unix(),
			Price:     price,
		})
		raw = append(raw, price)
	}
	if len(raw) >= smaWindow {
		widget.SMA = talib.Sma(raw, smaWindow)
	}
	if len(raw) > 0 {
		widget.Current = raw[len(raw)-1]
		if raw[0] > 0 {
			widget.ChangePct = (widget.Current - raw[0]) / raw[0] * 100
		}
	}

	s.store(key, widget)
	return widget, nil
}

// ContractCalls returns the hourly contract-call volume widget.
func (s *Service) ContractCalls(ctx context.Context, contractID string, period Period) (*CallVolumeWidget, error) {
	since, err := windowStart(period)
	if err != nil {
		return nil, err
	}

	key := fmt.Sprintf("calls:%s:%s", contractID, period)
	var cached CallVolumeWidget
	if hit, err := s.cache.Load(key, &cached); err == nil && hit {
		return &cached, nil
	}

	buckets, err := s.calls.CallVolume(ctx, contractID, since)
	if err != nil {
		return nil, err
	}

	widget := &CallVolumeWidget{Buckets: buckets}
	if widget.Buckets == nil {
		widget.Buckets = []CallBucket{}
	}
	for _, b := range buckets {
		widget.Total += b.Calls
	}

	s.store(key, widget)
	return widget, nil
}

// PortfolioValue returns the portfolio value series widget for a wallet.
func (s *Service) PortfolioValue(ctx context.Context, address string, period Period) (*PortfolioWidget, error) {
	since, err := windowStart(period)
	if err != nil {
		return nil, err
	}

	key := fmt.Sprintf("portfolio:%s:%s", address, period)
	var cached PortfolioWidget
	if hit, err := s.cache.Load(key, &cached); err == nil && hit {
		return &cached, nil
	}

	history, err := s.snapshots.History(ctx, address, since)
	if err != nil {
		return nil, err
	}

	widget := &PortfolioWidget{Points: make([]ValuePoint, 0, len(history))}
	for _, point := range history {
		value, _ := point.ValueUSD.Float64()
		widget.Points = append(widget.Points, ValuePoint{
			Timestamp: point.Timestamp.Unix(),
			ValueUSD:  value,
		})
	}
	if n := len(widget.Points); n > 0 {
		widget.Current = widget.Points[n-1].ValueUSD
		if first := widget.Points[0].ValueUSD; first > 0 {
			widget.ChangePct = (widget.Current - first) / first * 100
		}
	}

	s.store(key, widget)
	return widget, nil
}

func (s *Service) store(key string, payload interface{}) {
	if err := s.cache.Store(key, payload, widgetTTL); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("Failed to cache widget payload")
	}
}

func windowStart(period Period) (time.Time, error) {
	dur, ok := periodDurations[period]
	if !ok {
		return time.Time{}, fmt.Errorf("%w: %s", ErrUnknownPeriod, period)
	}
	return time.Now().Add(-dur), nil
}
