package core

import (
	"context"

	"github.com/SipengXie/safecore/contracts"
	"github.com/SipengXie/safecore/core/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/go-faster/errors"
)

// Approvals answers whether an owner approved a hash on chain through
// approveHash.
type Approvals interface {
	IsApproved(ctx context.Context, owner common.Address, hash common.Hash) (bool, error)
}

// LedgerApprovals reads the approvedHashes mapping of one wallet.
type LedgerApprovals struct {
	ledger Ledger
	safe   common.Address
}

func NewLedgerApprovals(ledger Ledger, safe common.Address) *LedgerApprovals {
	return &LedgerApprovals{ledger: ledger, safe: safe}
}

func (a *LedgerApprovals) IsApproved(ctx context.Context, owner common.Address, hash common.Hash) (bool, error) {
	input, err := contracts.PackApprovedHashes(owner, hash)
	if err != nil {
		return false, err
	}
	output, err := a.ledger.Call(ctx, a.safe, input)
	if err != nil {
		return false, errors.Wrap(err, "call approvedHashes")
	}
	approved, err := contracts.UnpackUint256("approvedHashes", output)
	if err != nil {
		return false, err
	}
	return approved.Sign() != 0, nil
}

// ApproveHashTx is the call an owner sends from its own account to approve
// hash on the wallet. It does not go through execTransaction.
func ApproveHashTx(safe common.Address, hash common.Hash) (*types.MetaTransaction, error) {
	data, err := contracts.PackApproveHash(hash)
	if err != nil {
		return nil, err
	}
	return &types.MetaTransaction{To: safe, Data: data, Operation: types.Call}, nil
}
