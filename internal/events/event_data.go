package events

// TxIndexedData contains data for TxIndexed events
type TxIndexedData struct {
	Address    string `json:"address"`
	TxID       string `json:"tx_id"`
	TxType     string `json:"tx_type"`
	ContractID string `json:"contract_id"`
	Direction  string `json:"direction"`
}

// PriceUpdatedData contains data for PriceUpdated events
type PriceUpdatedData struct {
	ContractID string `json:"contract_id"`
	PriceUSD   string `json:"price_usd"`
	Source     string `json:"source"`
}

// AlertTriggeredData contains data for AlertTriggered events
type AlertTriggeredData struct {
	AlertID     string `json:"alert_id"`
	AlertName   string `json:"alert_name"`
	UserID      string `json:"user_id"`
	TxID        string `json:"tx_id,omitempty"`
	BlockHeight int64  `json:"block_height,omitempty"`
}

// SnapshotSavedData contains data for SnapshotSaved events
type SnapshotSavedData struct {
	Address  string `json:"address"`
	ValueUSD string `json:"value_usd"`
}

// WalletSyncedData contains data for WalletSynced events
type WalletSyncedData struct {
	Address string `json:"address"`
	Indexed int    `json:"indexed"`
	Errors  int    `json:"errors"`
}
