// Package alerts evaluates user-defined trigger rules against live chain
// events, prices, and PoX cycle transitions, and delivers notifications
// over webhooks, email, and the in-process event stream.
package alerts

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/stkpulse/stackwatch/internal/clients/hiro"
	"github.com/stkpulse/stackwatch/internal/events"
	"github.com/stkpulse/stackwatch/internal/metrics"
)

// deliverer is the slice of the webhook service the engine needs.
type deliverer interface {
	Deliver(ctx context.Context, event *Event, webhookURL string)
}

// EmailDeliverer sends an alert event to one recipient and records the
// delivery outcome.
type EmailDeliverer interface {
	Deliver(ctx context.Context, event *Event, recipient string)
}

// Engine matches chain events and price updates against active alerts.
type Engine struct {
	repo    *Repository
	limiter *RateLimiter
	webhook deliverer
	email   EmailDeliverer
	bus     *events.Bus
	log     zerolog.Logger
}

// NewEngine creates an alert engine. webhook, email, and bus are
// optional.
func NewEngine(repo *Repository, limiter *RateLimiter, webhook deliverer, email EmailDeliverer, bus *events.Bus, log zerolog.Logger) *Engine {
	return &Engine{
		repo:    repo,
		limiter: limiter,
		webhook: webhook,
		email:   email,
		bus:     bus,
		log:     log.With().Str("component", "alert_engine").Logger(),
	}
}

// EvaluateChainEvent matches one live transaction against every active
// alert. Returns the triggered events after recording and delivering
// them.
func (e *Engine) EvaluateChainEvent(ctx context.Context, ev hiro.ChainEvent) ([]Event, error) {
	if ev.Type != "transaction" {
		return nil, nil
	}

	active, err := e.repo.Active(ctx)
	if err != nil {
		return nil, err
	}

	var triggered []Event
	for i := range active {
		alert := &active[i]
		if !e.matchesChainEvent(alert, &ev) {
			continue
		}
		event := e.trigger(ctx, alert, &ev, "")
		if event != nil {
			triggered = append(triggered, *event)
		}
	}
	return triggered, nil
}

// EvaluatePrice matches a fresh price against active price_threshold
// alerts.
func (e *Engine) EvaluatePrice(ctx context.Context, contractID string, price decimal.Decimal) ([]Event, error) {
	active, err := e.repo.Active(ctx)
	if err != nil {
		return nil, err
	}

	var triggered []Event
	for i := range active {
		alert := &active[i]
		if alert.Condition.Type != CondPriceThreshold || alert.Condition.Asset != contractID {
			continue
		}
		if !e.offCooldown(alert) || !priceMatches(alert.Condition, price) {
			continue
		}

		detail, _ := json.Marshal(map[string]string{
			"contract_id": contractID,
			"price_usd":   price.String(),
			"operator":    alert.Condition.Operator,
			"threshold":   alert.Condition.PriceUSD.String(),
		})
		event := e.trigger(ctx, alert, nil, string(detail))
		if event != nil {
			triggered = append(triggered, *event)
		}
	}
	return triggered, nil
}

// CycleEvent describes one PoX stacking cycle transition.
type CycleEvent struct {
	CycleNumber int64
	Phase       string // start | end
	BlockHeight int64
}

// EvaluateStackingCycle matches a cycle transition against active
// stacking_cycle alerts.
func (e *Engine) EvaluateStackingCycle(ctx context.Context, cycle CycleEvent) ([]Event, error) {
	active, err := e.repo.Active(ctx)
	if err != nil {
		return nil, err
	}

	var triggered []Event
	for i := range active {
		alert := &active[i]
		if alert.Condition.Type != CondStackingCycle || alert.Condition.CycleEvent != cycle.Phase {
			continue
		}
		if !e.offCooldown(alert) {
			continue
		}

		detail, _ := json.Marshal(map[string]interface{}{
			"type":         CondStackingCycle,
			"cycle_number": cycle.CycleNumber,
			"event":        cycle.Phase,
		})
		event := e.trigger(ctx, alert, &hiro.ChainEvent{BlockHeight: cycle.BlockHeight}, string(detail))
		if event != nil {
			triggered = append(triggered, *event)
		}
	}
	return triggered, nil
}

// matchesChainEvent checks cooldown and the type-specific condition.
func (e *Engine) matchesChainEvent(alert *Alert, ev *hiro.ChainEvent) bool {
	if !e.offCooldown(alert) {
		return false
	}

	switch alert.Condition.Type {
	case CondTokenTransfer:
		return tokenTransferMatches(alert.Condition, ev)
	case CondContractCall:
		return contractCallMatches(alert.Condition, ev)
	case CondWalletActivity:
		return walletActivityMatches(alert.Condition, ev)
	case CondNFTSale:
		return nftSaleMatches(alert.Condition, ev)
	default:
		return false
	}
}

func (e *Engine) offCooldown(alert *Alert) bool {
	if alert.LastTriggeredAt == nil || alert.CooldownMinutes <= 0 {
		return true
	}
	cooldown := time.Duration(alert.CooldownMinutes) * time.Minute
	return time.Since(*alert.LastTriggeredAt) >= cooldown
}

// trigger records the event, enforces the user's rate limit, and fans
// out delivery. Returns nil when the trigger was suppressed.
func (e *Engine) trigger(ctx context.Context, alert *Alert, ev *hiro.ChainEvent, detail string) *Event {
	allowed, remaining, err := e.limiter.Allow(ctx, alert.UserID)
	if err != nil {
		e.log.Error().Err(err).Str("alert_id", alert.ID).Msg("Rate limit check failed")
		return nil
	}
	if !allowed {
		e.log.Warn().
			Str("alert_id", alert.ID).
			Str("user_id", alert.UserID).
			Msg("Alert suppressed by daily rate limit")
		return nil
	}

	event := &Event{
		AlertID:     alert.ID,
		AlertName:   alert.Name,
		UserID:      alert.UserID,
		TriggeredAt: time.Now().UTC(),
		Detail:      detail,
	}
	if ev != nil {
		event.BlockHeight = ev.BlockHeight
		event.TxID = ev.TxID
		if detail == "" {
			raw, err := json.Marshal(ev)
			if err == nil {
				event.Detail = string(raw)
			}
		}
	}

	historyID, err := e.repo.RecordTrigger(ctx, event)
	if err != nil {
		e.log.Error().Err(err).Str("alert_id", alert.ID).Msg("Failed to record trigger")
		return nil
	}
	event.HistoryID = historyID

	// Keep the in-memory view consistent for subsequent events in this
	// evaluation pass.
	now := event.TriggeredAt
	alert.LastTriggeredAt = &now

	metrics.AlertsTriggeredTotal.WithLabelValues(alert.Condition.Type).Inc()

	e.log.Info().
		Str("alert_id", alert.ID).
		Str("name", alert.Name).
		Str("type", alert.Condition.Type).
		Int("remaining_today", remaining-1).
		Msg("Alert triggered")

	if e.webhook != nil && alert.Notify.Webhook != "" {
		e.webhook.Deliver(ctx, event, alert.Notify.Webhook)
	}

	if alert.Notify.Email != "" {
		if e.email != nil {
			e.email.Deliver(ctx, event, alert.Notify.Email)
		} else {
			e.log.Warn().Str("alert_id", alert.ID).Msg("Email channel requested but no sender configured")
			if err := e.repo.SetEmailStatus(ctx, event.HistoryID, "failed"); err != nil {
				e.log.Warn().Err(err).Int64("history_id", event.HistoryID).Msg("Failed to record email status")
			}
		}
	}

	if e.bus != nil && alert.Notify.InApp {
		e.bus.Publish(events.AlertTriggered, events.AlertTriggeredData{
			AlertID:     alert.ID,
			AlertName:   alert.Name,
			UserID:      alert.UserID,
			TxID:        event.TxID,
			BlockHeight: event.BlockHeight,
		})
	}

	return event
}

func tokenTransferMatches(c Condition, ev *hiro.ChainEvent) bool {
	if ev.TxType != "token_transfer" || ev.Tx == nil || ev.Tx.TokenTransfer == nil {
		return false
	}
	transfer := ev.Tx.TokenTransfer

	// Native transfers carry the pseudo asset id "stx".
	if c.Asset != "" && c.Asset != "stx" {
		return false
	}

	if c.AmountGTE != nil {
		micro, err := decimal.NewFromString(transfer.Amount)
		if err != nil {
			return false
		}
		if micro.Shift(-6).LessThan(*c.AmountGTE) {
			return false
		}
	}

	switch c.Direction {
	case "sent":
		return c.FromAddress == "" || transfer.SenderAddress == c.FromAddress
	case "received":
		return c.ToAddress == "" || transfer.RecipientAddress == c.ToAddress
	default:
		return true
	}
}

func contractCallMatches(c Condition, ev *hiro.ChainEvent) bool {
	if ev.TxType != "contract_call" || ev.Tx == nil || ev.Tx.ContractCall == nil {
		return false
	}
	call := ev.Tx.ContractCall

	if c.ContractID != "" && call.ContractID != c.ContractID {
		return false
	}
	if c.FunctionName != "" && call.FunctionName != c.FunctionName {
		return false
	}
	return true
}

func walletActivityMatches(c Condition, ev *hiro.ChainEvent) bool {
	if ev.SenderAddress == c.WatchedAddress {
		return true
	}
	if ev.Tx != nil && ev.Tx.TokenTransfer != nil {
		return ev.Tx.TokenTransfer.RecipientAddress == c.WatchedAddress
	}
	return false
}

// nftMarketplaces are the contract id fragments recognized as NFT
// marketplaces.
var nftMarketplaces = []string{"gamma.io", "byzantion", "stacksart", "tradeport"}

func nftSaleMatches(c Condition, ev *hiro.ChainEvent) bool {
	if ev.TxType != "contract_call" || ev.Tx == nil || ev.Tx.ContractCall == nil {
		return false
	}
	call := ev.Tx.ContractCall

	marketplace := false
	for _, m := range nftMarketplaces {
		if strings.Contains(call.ContractID, m) {
			marketplace = true
			break
		}
	}
	if !marketplace {
		return false
	}

	if c.CollectionID != "" && call.ContractID != c.CollectionID {
		return false
	}

	if c.PriceGTE != nil {
		price, ok := salePriceSTX(call)
		if !ok || price.LessThan(*c.PriceGTE) {
			return false
		}
	}
	return true
}

// salePriceSTX reads the sale price from the call's "price" argument,
// a Clarity uint in micro-STX.
func salePriceSTX(call *hiro.ContractCall) (decimal.Decimal, bool) {
	for _, arg := range call.FunctionArgs {
		if arg.Name != "price" {
			continue
		}
		micro, err := decimal.NewFromString(strings.TrimPrefix(arg.Repr, "u"))
		if err != nil {
			return decimal.Zero, false
		}
		return micro.Shift(-6), true
	}
	return decimal.Zero, false
}

func priceMatches(c Condition, price decimal.Decimal) bool {
	if c.PriceUSD == nil {
		return false
	}
	threshold := *c.PriceUSD
	switch c.Operator {
	case "gt":
		return price.GreaterThan(threshold)
	case "gte":
		return price.GreaterThanOrEqual(threshold)
	case "lt":
		return price.LessThan(threshold)
	case "lte":
		return price.LessThanOrEqual(threshold)
	default:
		return false
	}
}
