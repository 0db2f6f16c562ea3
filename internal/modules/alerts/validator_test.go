package alerts

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestValidateCondition(t *testing.T) {
	positive := decimal.NewFromInt(10)
	negative := decimal.NewFromInt(-1)

	tests := []struct {
		name      string
		condition Condition
		valid     bool
	}{
		{"token transfer ok", Condition{Type: CondTokenTransfer, Asset: "stx", Direction: "any"}, true},
		{"token transfer missing asset", Condition{Type: CondTokenTransfer, Direction: "any"}, false},
		{"token transfer bad direction", Condition{Type: CondTokenTransfer, Asset: "stx", Direction: "sideways"}, false},
		{"token transfer negative amount", Condition{Type: CondTokenTransfer, Asset: "stx", Direction: "any", AmountGTE: &negative}, false},
		{"contract call ok", Condition{Type: CondContractCall, ContractID: "SP1.amm", FunctionName: "swap"}, true},
		{"contract call missing function", Condition{Type: CondContractCall, ContractID: "SP1.amm"}, false},
		{"wallet activity ok", Condition{Type: CondWalletActivity, WatchedAddress: "SP2J6ZY48GV1EZ5V2V5RB9MP66SW86PYKKNRV9EJ7"}, true},
		{"wallet activity bad address", Condition{Type: CondWalletActivity, WatchedAddress: "not-an-address"}, false},
		{"price threshold ok", Condition{Type: CondPriceThreshold, Asset: "stx", Operator: "gte", PriceUSD: &positive}, true},
		{"price threshold bad operator", Condition{Type: CondPriceThreshold, Asset: "stx", Operator: "eq", PriceUSD: &positive}, false},
		{"price threshold missing price", Condition{Type: CondPriceThreshold, Asset: "stx", Operator: "gt"}, false},
		{"stacking cycle start", Condition{Type: CondStackingCycle, CycleEvent: "start"}, true},
		{"stacking cycle end", Condition{Type: CondStackingCycle, CycleEvent: "end"}, true},
		{"stacking cycle bad event", Condition{Type: CondStackingCycle, CycleEvent: "midpoint"}, false},
		{"nft sale unfiltered", Condition{Type: CondNFTSale}, true},
		{"nft sale with price floor", Condition{Type: CondNFTSale, CollectionID: "SP1.gamma.io-market", PriceGTE: &positive}, true},
		{"nft sale negative price floor", Condition{Type: CondNFTSale, PriceGTE: &negative}, false},
		{"unknown type", Condition{Type: "moon_phase"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := ValidateCondition(tt.condition)
			if tt.valid {
				assert.Empty(t, errs)
			} else {
				assert.NotEmpty(t, errs)
			}
		})
	}
}

func TestValidateNotification(t *testing.T) {
	tests := []struct {
		name   string
		notify Notification
		valid  bool
	}{
		{"webhook only", Notification{Webhook: "https://example.com/hook"}, true},
		{"email only", Notification{Email: "ops@example.com"}, true},
		{"both", Notification{Webhook: "https://example.com/hook", Email: "ops@example.com"}, true},
		{"neither", Notification{InApp: true}, false},
		{"http webhook rejected", Notification{Webhook: "http://example.com/hook"}, false},
		{"garbage webhook", Notification{Webhook: "not a url"}, false},
		{"garbage email", Notification{Email: "nope"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := ValidateNotification(tt.notify)
			if tt.valid {
				assert.Empty(t, errs)
			} else {
				assert.NotEmpty(t, errs)
			}
		})
	}
}
