package indexer

import (
	"time"

	"github.com/shopspring/decimal"
)

// TxRecord is one classified transaction in the wallet's history.
type TxRecord struct {
	TxID         string          `json:"txId"`
	Address      string          `json:"address"`
	BlockHeight  int64           `json:"blockHeight"`
	BlockTime    time.Time       `json:"timestamp"`
	Type         TxType          `json:"type"`
	ContractID   string          `json:"contractId"`
	TokenSymbol  string          `json:"tokenSymbol"`
	Amount       decimal.Decimal `json:"amount"`
	PriceUSDAtTx decimal.Decimal `json:"priceUsdAtTx"`
	ValueUSD     decimal.Decimal `json:"valueUsd"`
	Direction    string          `json:"direction"`
	Counterparty string          `json:"counterparty,omitempty"`
	Memo         string          `json:"memo,omitempty"`
}

// Wallet tracks the sync lifecycle of a watched address.
type Wallet struct {
	Address      string     `json:"address"`
	SyncStatus   string     `json:"syncStatus"` // pending | syncing | done | error
	LastSyncedAt *time.Time `json:"lastSyncedAt,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
}

// TxFilter narrows a transaction history listing.
type TxFilter struct {
	Type       TxType
	ContractID string
	Limit      int
	Offset     int
}
