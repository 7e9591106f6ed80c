package types

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-faster/errors"
)

var (
	ErrInvalidWalletState = errors.New("invalid wallet state")
)

// WalletState is a snapshot of the on-chain wallet taken right before a
// build or execute cycle. It is never refreshed in place.
type WalletState struct {
	Address         common.Address   `json:"address"`
	ChainID         *big.Int         `json:"chainId"`
	Version         string           `json:"version"`
	Owners          []common.Address `json:"owners"`
	Threshold       uint64           `json:"threshold"`
	Nonce           uint64           `json:"nonce"`
	Guard           common.Address   `json:"guard"`
	Modules         []common.Address `json:"modules"` // linked-list order as stored by the contract
	FallbackHandler common.Address   `json:"fallbackHandler"`
}

// Validate checks the owner set and threshold invariants.
func (w *WalletState) Validate() error {
	if w.ChainID == nil || w.ChainID.Sign() < 0 {
		return errors.Wrap(ErrInvalidWalletState, "missing chain id")
	}
	if len(w.Owners) == 0 {
		return errors.Wrap(ErrInvalidWalletState, "no owners")
	}
	seen := make(map[common.Address]struct{}, len(w.Owners))
	for _, owner := range w.Owners {
		if _, ok := seen[owner]; ok {
			return errors.Wrapf(ErrInvalidWalletState, "duplicate owner %s", owner)
		}
		seen[owner] = struct{}{}
	}
	if w.Threshold == 0 || w.Threshold > uint64(len(w.Owners)) {
		return errors.Wrapf(ErrInvalidWalletState, "threshold %d with %d owners", w.Threshold, len(w.Owners))
	}
	return nil
}

// Copy returns a deep copy of the snapshot.
func (w *WalletState) Copy() *WalletState {
	cpy := *w
	if w.ChainID != nil {
		cpy.ChainID = new(big.Int).Set(w.ChainID)
	}
	cpy.Owners = append([]common.Address(nil), w.Owners...)
	cpy.Modules = append([]common.Address(nil), w.Modules...)
	return &cpy
}

func (w *WalletState) IsOwner(addr common.Address) bool {
	return indexOf(w.Owners, addr) >= 0
}

func (w *WalletState) HasGuard() bool {
	return w.Guard != (common.Address{})
}

func (w *WalletState) HasModule(addr common.Address) bool {
	return indexOf(w.Modules, addr) >= 0
}

func (w *WalletState) HasFallbackHandler() bool {
	return w.FallbackHandler != (common.Address{})
}

// PrevModule returns the linked-list predecessor of module; sentinel is
// returned for the first element. ok is false if module is not enabled.
func (w *WalletState) PrevModule(module, sentinel common.Address) (prev common.Address, ok bool) {
	return prevInList(w.Modules, module, sentinel)
}

// PrevOwner is PrevModule for the owner list.
func (w *WalletState) PrevOwner(owner, sentinel common.Address) (prev common.Address, ok bool) {
	return prevInList(w.Owners, owner, sentinel)
}

func prevInList(list []common.Address, addr, sentinel common.Address) (common.Address, bool) {
	i := indexOf(list, addr)
	switch {
	case i < 0:
		return common.Address{}, false
	case i == 0:
		return sentinel, true
	default:
		return list[i-1], true
	}
}

func indexOf(list []common.Address, addr common.Address) int {
	for i, a := range list {
		if a == addr {
			return i
		}
	}
	return -1
}
