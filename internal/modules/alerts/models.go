package alerts

import (
	"time"

	"github.com/shopspring/decimal"
)

// Condition types.
const (
	CondTokenTransfer  = "token_transfer"
	CondContractCall   = "contract_call"
	CondWalletActivity = "wallet_activity"
	CondPriceThreshold = "price_threshold"
	CondStackingCycle  = "stacking_cycle"
	CondNFTSale        = "nft_sale"
)

// Condition is the typed trigger configuration of an alert. Fields are
// populated per Type; ValidateCondition enforces which ones.
type Condition struct {
	Type string `json:"type"`

	// token_transfer
	Asset       string           `json:"asset,omitempty"`
	Direction   string           `json:"direction,omitempty"` // sent | received | any
	AmountGTE   *decimal.Decimal `json:"amount_gte,omitempty"`
	FromAddress string           `json:"from_address,omitempty"`
	ToAddress   string           `json:"to_address,omitempty"`

	// contract_call
	ContractID   string `json:"contract_id,omitempty"`
	FunctionName string `json:"function_name,omitempty"`

	// wallet_activity
	WatchedAddress string `json:"watched_address,omitempty"`

	// price_threshold
	Operator string           `json:"operator,omitempty"` // gt | lt | gte | lte
	PriceUSD *decimal.Decimal `json:"price_usd,omitempty"`

	// stacking_cycle
	CycleEvent string `json:"event,omitempty"` // start | end

	// nft_sale
	CollectionID string           `json:"collection_id,omitempty"`
	PriceGTE     *decimal.Decimal `json:"price_gte,omitempty"` // in STX
}

// Notification configures alert delivery channels.
type Notification struct {
	Webhook string `json:"webhook,omitempty"`
	Email   string `json:"email,omitempty"`
	InApp   bool   `json:"inApp"`
}

// Alert is a user-defined trigger rule.
type Alert struct {
	ID              string       `json:"id"`
	UserID          string       `json:"userId"`
	Name            string       `json:"name"`
	Condition       Condition    `json:"condition"`
	Notify          Notification `json:"notify"`
	CooldownMinutes int          `json:"cooldownMinutes"`
	LastTriggeredAt *time.Time   `json:"lastTriggeredAt,omitempty"`
	IsActive        bool         `json:"isActive"`
	CreatedAt       time.Time    `json:"createdAt"`
	UpdatedAt       time.Time    `json:"updatedAt"`
}

// Event is one alert trigger, as recorded in history and delivered to
// webhooks.
type Event struct {
	HistoryID   int64     `json:"-"`
	AlertID     string    `json:"alert_id"`
	AlertName   string    `json:"alert_name"`
	UserID      string    `json:"-"`
	TriggeredAt time.Time `json:"triggered_at"`
	BlockHeight int64     `json:"block_height,omitempty"`
	TxID        string    `json:"tx_id,omitempty"`
	Detail      string    `json:"detail,omitempty"`
}

// HistoryEntry is a stored trigger with delivery status.
type HistoryEntry struct {
	ID            int64     `json:"id"`
	AlertID       string    `json:"alertId"`
	BlockHeight   int64     `json:"blockHeight,omitempty"`
	TxID          string    `json:"txId,omitempty"`
	Detail        string    `json:"detail,omitempty"`
	WebhookStatus string    `json:"webhookStatus"` // pending | sent | failed
	EmailStatus   string    `json:"emailStatus"`
	TriggeredAt   time.Time `json:"triggeredAt"`
}
