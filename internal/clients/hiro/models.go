package hiro

// Tx is the subset of the Hiro transaction payload the indexer and alert
// engine consume.
type Tx struct {
	TxID             string `json:"tx_id"`
	BlockHeight      int64  `json:"block_height"`
	BurnBlockTimeISO string `json:"burn_block_time_iso"`
	TxType           string `json:"tx_type"` // token_transfer | contract_call | coinbase | tenure_change
	TxStatus         string `json:"tx_status"`
	SenderAddress    string `json:"sender_address"`

	TokenTransfer *TokenTransfer `json:"token_transfer,omitempty"`
	ContractCall  *ContractCall  `json:"contract_call,omitempty"`
}

// TokenTransfer carries the native transfer details of a token_transfer tx.
// Amount is in micro-STX.
type TokenTransfer struct {
	RecipientAddress string `json:"recipient_address"`
	SenderAddress    string `json:"sender_address"`
	Amount           string `json:"amount"`
	Memo             string `json:"memo"`
}

// ContractCall carries the call details of a contract_call tx.
type ContractCall struct {
	ContractID   string        `json:"contract_id"`
	FunctionName string        `json:"function_name"`
	FunctionArgs []FunctionArg `json:"function_args,omitempty"`
}

// FunctionArg is one decoded argument of a contract call. Repr uses
// Clarity literal syntax, e.g. "u1000000" for a uint.
type FunctionArg struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Repr string `json:"repr"`
}

// PoxCycle is the current PoX stacking cycle summary.
type PoxCycle struct {
	CycleNumber int64 `json:"cycle_number"`
	BlockHeight int64 `json:"block_height"`
}

// TxPage is one page of an address transaction listing.
type TxPage struct {
	Results []Tx `json:"results"`
	Total   int  `json:"total"`
	Offset  int  `json:"offset"`
	Limit   int  `json:"limit"`
}

// Balances is the address balance summary.
type Balances struct {
	STX            STXBalance                  `json:"stx"`
	FungibleTokens map[string]FungibleBalance  `json:"fungible_tokens"`
}

// STXBalance holds native token balances in micro-STX.
type STXBalance struct {
	Balance string `json:"balance"`
	Locked  string `json:"locked"`
}

// FungibleBalance holds a SIP-010 token balance in base units.
// Map keys are "{contract_id}::{asset_name}".
type FungibleBalance struct {
	Balance string `json:"balance"`
}

// ChainEvent is a live event from the websocket stream.
type ChainEvent struct {
	Type          string `json:"type"` // block | transaction
	TxID          string `json:"tx_id,omitempty"`
	BlockHeight   int64  `json:"block_height"`
	BlockHash     string `json:"block_hash,omitempty"`
	BlockTime     int64  `json:"block_time,omitempty"`
	TxType        string `json:"tx_type,omitempty"`
	SenderAddress string `json:"sender_address,omitempty"`
	Tx            *Tx    `json:"raw_tx,omitempty"`
}
