package types

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
)

const (
	// ReceiptStatusFailed is the status code of a transaction if execution failed.
	ReceiptStatusFailed = gethtypes.ReceiptStatusFailed

	// ReceiptStatusSuccessful is the status code of a transaction if execution succeeded.
	ReceiptStatusSuccessful = gethtypes.ReceiptStatusSuccessful
)

// Receipt is what the ledger reports for a mined submission.
type Receipt struct {
	TxHash       common.Hash      `json:"transactionHash"`
	Status       uint64           `json:"status"`
	BlockNumber  *big.Int         `json:"blockNumber"`
	GasUsed      uint64           `json:"gasUsed"`
	Logs         []*gethtypes.Log `json:"logs"`
	RevertReason string           `json:"revertReason,omitempty"`
}

func (r *Receipt) Succeeded() bool {
	return r.Status == ReceiptStatusSuccessful
}

// ExecPayload is the byte-exact submission handed to the ledger: the wallet
// is called with CallData, which packs the transaction fields and the
// ordered signature blob.
type ExecPayload struct {
	Safe        common.Address
	Transaction *SafeTransaction
	SafeTxHash  common.Hash
	Signatures  []byte
	CallData    []byte
}
