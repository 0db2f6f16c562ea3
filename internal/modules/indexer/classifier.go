package indexer

import (
	"strings"

	"github.com/stkpulse/stackwatch/internal/clients/hiro"
)

// TxType classifies an indexed transaction from the wallet's perspective.
type TxType string

const (
	TxTokenTransferIn  TxType = "token_transfer_in"
	TxTokenTransferOut TxType = "token_transfer_out"
	TxSwap             TxType = "swap"
	TxMint             TxType = "mint"
	TxBurn             TxType = "burn"
	TxStackingReward   TxType = "stacking_reward"
	TxAirdrop          TxType = "airdrop"
	TxContractCall     TxType = "contract_call"
)

// Classify determines the transaction type relative to the wallet.
// Contract calls are bucketed by function name; anything unrecognized
// falls through to a plain contract_call.
func Classify(tx *hiro.Tx, walletAddress string) TxType {
	if tx.TxType == "token_transfer" {
		if tx.TokenTransfer != nil && tx.TokenTransfer.RecipientAddress == walletAddress {
			return TxTokenTransferIn
		}
		return TxTokenTransferOut
	}

	if tx.TxType == "contract_call" && tx.ContractCall != nil {
		fn := tx.ContractCall.FunctionName
		switch {
		case strings.Contains(fn, "swap"):
			return TxSwap
		case strings.Contains(fn, "mint"):
			return TxMint
		case strings.Contains(fn, "burn"):
			return TxBurn
		case strings.Contains(fn, "stack"), strings.Contains(fn, "reward"):
			return TxStackingReward
		}
		return TxContractCall
	}

	return TxContractCall
}

// Direction maps a transaction type to its flow relative to the wallet.
func Direction(t TxType) string {
	switch t {
	case TxTokenTransferIn, TxStackingReward, TxAirdrop, TxMint:
		return "in"
	case TxTokenTransferOut, TxBurn:
		return "out"
	default:
		return "neutral"
	}
}
