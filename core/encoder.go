package core

import (
	"math/big"

	"github.com/SipengXie/safecore/contracts"
	"github.com/SipengXie/safecore/core/types"
	"github.com/SipengXie/safecore/params"
	"github.com/ethereum/go-ethereum/common"
	"github.com/go-faster/errors"
)

// TransactionEncoder turns application calls into wallet transactions. It
// performs no I/O; the wallet snapshot supplies the default nonce.
type TransactionEncoder struct {
	caps      *params.Capabilities
	multiSend common.Address
}

func NewTransactionEncoder(caps *params.Capabilities) *TransactionEncoder {
	return &TransactionEncoder{caps: caps, multiSend: caps.Deployments.MultiSend}
}

// WithMultiSend returns an encoder that batches through addr instead of the
// canonical deployment, for chains where the helper lives elsewhere.
func (e *TransactionEncoder) WithMultiSend(addr common.Address) *TransactionEncoder {
	cpy := *e
	if addr != (common.Address{}) {
		cpy.multiSend = addr
	}
	return &cpy
}

func (e *TransactionEncoder) MultiSendAddress() common.Address { return e.multiSend }

// Build encodes calls into one transaction record. A single call is used
// as is; several calls become one DelegateCall to multiSend.
func (e *TransactionEncoder) Build(wallet *types.WalletState, calls []*types.MetaTransaction, opts *types.TransactionOptions) (*types.SafeTransaction, error) {
	if len(calls) == 0 {
		return nil, ErrEmptyTransaction
	}
	for i, c := range calls {
		if c == nil {
			return nil, errors.Wrapf(types.ErrInvalidTransaction, "call %d is nil", i)
		}
		if c.Operation > types.DelegateCall {
			return nil, errors.Wrapf(types.ErrInvalidTransaction, "call %d: operation %d", i, c.Operation)
		}
	}

	data := &types.SafeTransactionData{Nonce: wallet.Nonce}
	if len(calls) == 1 {
		c := calls[0]
		data.To = c.To
		data.Value = c.Value
		data.Data = c.Data
		data.Operation = c.Operation
	} else {
		if e.multiSend == (common.Address{}) {
			return nil, errors.Wrapf(ErrUnsupportedFeature, "no multisend deployment for %s", e.caps.Version)
		}
		packed, err := contracts.PackMultiSend(calls)
		if err != nil {
			return nil, errors.Wrap(err, "pack multisend")
		}
		data.To = e.multiSend
		data.Value = new(big.Int)
		data.Data = packed
		data.Operation = types.DelegateCall
	}
	opts.Apply(data)
	return types.NewSafeTransaction(data)
}

// selfCall is a call from the wallet to itself, the shape of every
// administrative change.
func selfCall(wallet *types.WalletState, data []byte) []*types.MetaTransaction {
	return []*types.MetaTransaction{{To: wallet.Address, Value: new(big.Int), Data: data, Operation: types.Call}}
}
