package simulated

import (
	"bytes"
	"math/big"

	"github.com/SipengXie/safecore/contracts"
	"github.com/SipengXie/safecore/core/types"
	"github.com/SipengXie/safecore/params"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/go-faster/errors"
)

// gasUsed is a fixed figure; the simulator does not meter gas.
const gasUsed = 100_000

func failed(reason string) *types.Receipt {
	return &types.Receipt{Status: types.ReceiptStatusFailed, GasUsed: gasUsed, RevertReason: reason}
}

// execute runs an execTransaction call against w. Revert leaves w
// untouched.
func (b *Backend) execute(w *wallet, callData []byte) *types.Receipt {
	args, err := contracts.UnpackExecTransaction(callData)
	if err != nil {
		return failed(err.Error())
	}
	tx, err := types.NewSafeTransaction(&types.SafeTransactionData{
		To:             args.To,
		Value:          args.Value,
		Data:           args.Data,
		Operation:      types.Operation(args.Operation),
		SafeTxGas:      args.SafeTxGas,
		BaseGas:        args.BaseGas,
		GasPrice:       args.GasPrice,
		GasToken:       args.GasToken,
		RefundReceiver: args.RefundReceiver,
		Nonce:          w.state.Nonce,
	})
	if err != nil {
		return failed(err.Error())
	}
	hash := types.WalletTxHash(w.caps, tx, w.state)
	if reason := w.checkSignatures(hash, args.Signatures); reason != "" {
		return failed(reason)
	}
	if w.state.HasGuard() && b.rejectingGuards.Contains(w.state.Guard) {
		return failed("guard rejected transaction")
	}

	next := w.state.Copy()
	next.Nonce++
	success := b.apply(next, w.caps, tx.To(), tx.Operation(), tx.Data()) == nil
	if !success && tx.SafeTxGas().Sign() == 0 && tx.GasPrice().Sign() == 0 {
		return failed("GS013")
	}
	if !success {
		// 内部调用失败时只消耗 nonce，状态变更被回滚
		next = w.state.Copy()
		next.Nonce++
	}
	w.state = next

	topic := contracts.ExecutionSuccessTopic
	if !success {
		topic = contracts.ExecutionFailureTopic
	}
	data := make([]byte, 64)
	copy(data, hash[:])
	return &types.Receipt{
		Status:  types.ReceiptStatusSuccessful,
		GasUsed: gasUsed,
		Logs: []*gethtypes.Log{{
			Address: w.state.Address,
			Topics:  []common.Hash{topic},
			Data:    data,
		}},
	}
}

// checkSignatures mirrors checkNSignatures: threshold signatures, strictly
// ascending owners, method chosen by v. It returns the revert reason or "".
func (w *wallet) checkSignatures(hash common.Hash, blob []byte) string {
	threshold := int(w.state.Threshold)
	if len(blob) < threshold*types.SignatureLength {
		return "GS020"
	}
	var last common.Address
	for i := 0; i < threshold; i++ {
		r, s, v, err := types.DecodeStaticSignature(blob, i)
		if err != nil {
			return "GS020"
		}
		var owner common.Address
		switch {
		case v == 0:
			owner = common.BytesToAddress(r[:])
			offset := new(big.Int).SetBytes(s[:])
			if offset.Cmp(big.NewInt(int64(threshold*types.SignatureLength))) < 0 {
				return "GS021"
			}
			if !offset.IsUint64() || offset.Uint64()+32 > uint64(len(blob)) {
				return "GS022"
			}
			start := offset.Uint64()
			n := new(big.Int).SetBytes(blob[start : start+32])
			if !n.IsUint64() || start+32+n.Uint64() > uint64(len(blob)) {
				return "GS023"
			}
			validate, ok := w.contracts[owner]
			if !ok || !validate(hash, blob[start+32:start+32+n.Uint64()]) {
				return "GS024"
			}
		case v == 1:
			owner = common.BytesToAddress(r[:])
			if set := w.approved[owner]; set == nil || !set.Contains(hash) {
				return "GS025"
			}
		case v > 30:
			sig := &types.OwnerSignature{Data: blob[i*types.SignatureLength : (i+1)*types.SignatureLength], Method: types.MethodEthSign}
			owner, err = types.RecoverSigner(hash, sig)
			if err != nil {
				return "GS026"
			}
		default:
			sig := &types.OwnerSignature{Data: blob[i*types.SignatureLength : (i+1)*types.SignatureLength], Method: types.MethodEIP712}
			owner, err = types.RecoverSigner(hash, sig)
			if err != nil {
				return "GS026"
			}
		}
		if bytes.Compare(owner[:], last[:]) <= 0 || !w.state.IsOwner(owner) || owner == params.SentinelAddress {
			return "GS026"
		}
		last = owner
	}
	return ""
}

// apply performs one call of the wallet on st.
func (b *Backend) apply(st *types.WalletState, caps *params.Capabilities, to common.Address, op types.Operation, data []byte) error {
	if b.revertingTargets.Contains(to) {
		return errors.Errorf("call to %s reverted", to)
	}
	if op == types.DelegateCall {
		if !b.multiSends.Contains(to) {
			// 其他 delegatecall 目标视为无状态调用
			return nil
		}
		calls, err := contracts.UnpackMultiSend(data)
		if err != nil {
			return err
		}
		for _, c := range calls {
			if err := b.apply(st, caps, c.To, c.Operation, c.Data); err != nil {
				return err
			}
		}
		return nil
	}
	if to != st.Address || len(data) == 0 {
		return nil
	}
	return applyAdmin(st, caps, data)
}

// applyAdmin performs a self-call to one of the wallet's management
// methods.
func applyAdmin(st *types.WalletState, caps *params.Capabilities, data []byte) error {
	method, args, err := contracts.DecodeCall(data)
	if err != nil {
		return err
	}
	switch method.Name {
	case "setGuard":
		if !caps.SupportsGuards {
			return errors.New("setGuard not available")
		}
		st.Guard = args[0].(common.Address)
	case "setFallbackHandler":
		if !caps.SupportsFallbackHandler {
			return errors.New("setFallbackHandler not available")
		}
		st.FallbackHandler = args[0].(common.Address)
	case "enableModule":
		module := args[0].(common.Address)
		if module == (common.Address{}) || module == params.SentinelAddress {
			return errors.New("GS101")
		}
		if st.HasModule(module) {
			return errors.New("GS102")
		}
		st.Modules = append([]common.Address{module}, st.Modules...)
	case "disableModule":
		prev, module := args[0].(common.Address), args[1].(common.Address)
		if module == (common.Address{}) || module == params.SentinelAddress {
			return errors.New("GS101")
		}
		actual, ok := st.PrevModule(module, params.SentinelAddress)
		if !ok || actual != prev {
			return errors.New("GS103")
		}
		st.Modules = remove(st.Modules, module)
	case "addOwnerWithThreshold":
		owner, threshold := args[0].(common.Address), args[1].(*big.Int)
		if owner == (common.Address{}) || owner == params.SentinelAddress || owner == st.Address {
			return errors.New("GS203")
		}
		if st.IsOwner(owner) {
			return errors.New("GS204")
		}
		st.Owners = append([]common.Address{owner}, st.Owners...)
		return changeThreshold(st, threshold)
	case "removeOwner":
		prev, owner, threshold := args[0].(common.Address), args[1].(common.Address), args[2].(*big.Int)
		if uint64(len(st.Owners))-1 < threshold.Uint64() {
			return errors.New("GS201")
		}
		actual, ok := st.PrevOwner(owner, params.SentinelAddress)
		if !ok || actual != prev {
			return errors.New("GS205")
		}
		st.Owners = remove(st.Owners, owner)
		return changeThreshold(st, threshold)
	case "swapOwner":
		prev, oldOwner, newOwner := args[0].(common.Address), args[1].(common.Address), args[2].(common.Address)
		if newOwner == (common.Address{}) || newOwner == params.SentinelAddress || newOwner == st.Address {
			return errors.New("GS203")
		}
		if st.IsOwner(newOwner) {
			return errors.New("GS204")
		}
		actual, ok := st.PrevOwner(oldOwner, params.SentinelAddress)
		if !ok || actual != prev {
			return errors.New("GS205")
		}
		for i, o := range st.Owners {
			if o == oldOwner {
				st.Owners[i] = newOwner
			}
		}
	case "changeThreshold":
		return changeThreshold(st, args[0].(*big.Int))
	default:
		return errors.Errorf("unsupported self call %s", method.Name)
	}
	return nil
}

func changeThreshold(st *types.WalletState, threshold *big.Int) error {
	if !threshold.IsUint64() || threshold.Uint64() > uint64(len(st.Owners)) {
		return errors.New("GS201")
	}
	if threshold.Uint64() == 0 {
		return errors.New("GS202")
	}
	st.Threshold = threshold.Uint64()
	return nil
}

func remove(list []common.Address, addr common.Address) []common.Address {
	out := make([]common.Address, 0, len(list))
	for _, a := range list {
		if a != addr {
			out = append(out, a)
		}
	}
	return out
}
