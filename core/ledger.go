package core

import (
	"context"

	"github.com/SipengXie/safecore/core/types"
	"github.com/ethereum/go-ethereum/common"
)

// Ledger is the read/write port to the chain holding the wallet.
type Ledger interface {
	// ReadWalletState returns a fresh snapshot of the wallet.
	ReadWalletState(ctx context.Context, safe common.Address) (*types.WalletState, error)

	// Call executes a read-only call against the latest state.
	Call(ctx context.Context, to common.Address, data []byte) ([]byte, error)

	// Submit sends the payload and returns the submission id. Resending the
	// same payload must be harmless.
	Submit(ctx context.Context, payload *types.ExecPayload) (common.Hash, error)

	// AwaitReceipt blocks until the submission is mined or ctx is done.
	AwaitReceipt(ctx context.Context, txID common.Hash) (*types.Receipt, error)
}
