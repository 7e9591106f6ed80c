package core

import (
	"github.com/SipengXie/safecore/contracts"
	"github.com/SipengXie/safecore/core/types"
	"github.com/SipengXie/safecore/params"
	"github.com/ethereum/go-ethereum/common"
	"github.com/go-faster/errors"
)

// OwnerManager encodes owner set and threshold changes. All versions
// support them.
type OwnerManager struct {
	encoder *TransactionEncoder
}

func NewOwnerManager(encoder *TransactionEncoder) *OwnerManager {
	return &OwnerManager{encoder: encoder}
}

func (m *OwnerManager) validateOwnerAddress(wallet *types.WalletState, owner common.Address) error {
	if err := validateListEntry(owner); err != nil {
		return errors.Wrap(err, "invalid owner address provided")
	}
	if owner == wallet.Address {
		return errors.Wrap(ErrInvalidAddress, "wallet cannot own itself")
	}
	return nil
}

// AddOwner adds owner and sets the threshold. threshold 0 keeps the current
// one.
func (m *OwnerManager) AddOwner(wallet *types.WalletState, owner common.Address, threshold uint64, opts *types.TransactionOptions) (*types.SafeTransaction, error) {
	if err := m.validateOwnerAddress(wallet, owner); err != nil {
		return nil, err
	}
	if wallet.IsOwner(owner) {
		return nil, errors.Wrapf(ErrOwnerExists, "%s", owner)
	}
	if threshold == 0 {
		threshold = wallet.Threshold
	}
	if threshold > uint64(len(wallet.Owners))+1 {
		return nil, errors.Wrapf(ErrInvalidThreshold, "threshold %d exceeds %d owners", threshold, len(wallet.Owners)+1)
	}
	data, err := contracts.PackAddOwnerWithThreshold(owner, threshold)
	if err != nil {
		return nil, err
	}
	return m.encoder.Build(wallet, selfCall(wallet, data), opts)
}

// RemoveOwner unlinks owner and sets the threshold. threshold 0 keeps the
// current one, lowered to the remaining owner count when needed.
func (m *OwnerManager) RemoveOwner(wallet *types.WalletState, owner common.Address, threshold uint64, opts *types.TransactionOptions) (*types.SafeTransaction, error) {
	if err := m.validateOwnerAddress(wallet, owner); err != nil {
		return nil, err
	}
	prev, ok := wallet.PrevOwner(owner, params.SentinelAddress)
	if !ok {
		return nil, errors.Wrapf(ErrNotAnOwner, "%s", owner)
	}
	remaining := uint64(len(wallet.Owners) - 1)
	if threshold == 0 {
		threshold = wallet.Threshold
		if threshold > remaining {
			threshold = remaining
		}
	}
	if threshold == 0 || threshold > remaining {
		return nil, errors.Wrapf(ErrInvalidThreshold, "threshold %d with %d remaining owners", threshold, remaining)
	}
	data, err := contracts.PackRemoveOwner(prev, owner, threshold)
	if err != nil {
		return nil, err
	}
	return m.encoder.Build(wallet, selfCall(wallet, data), opts)
}

// SwapOwner replaces oldOwner with newOwner in place.
func (m *OwnerManager) SwapOwner(wallet *types.WalletState, oldOwner, newOwner common.Address, opts *types.TransactionOptions) (*types.SafeTransaction, error) {
	if err := m.validateOwnerAddress(wallet, newOwner); err != nil {
		return nil, err
	}
	if err := m.validateOwnerAddress(wallet, oldOwner); err != nil {
		return nil, err
	}
	if wallet.IsOwner(newOwner) {
		return nil, errors.Wrapf(ErrOwnerExists, "%s", newOwner)
	}
	prev, ok := wallet.PrevOwner(oldOwner, params.SentinelAddress)
	if !ok {
		return nil, errors.Wrapf(ErrNotAnOwner, "%s", oldOwner)
	}
	data, err := contracts.PackSwapOwner(prev, oldOwner, newOwner)
	if err != nil {
		return nil, err
	}
	return m.encoder.Build(wallet, selfCall(wallet, data), opts)
}

func (m *OwnerManager) ChangeThreshold(wallet *types.WalletState, threshold uint64, opts *types.TransactionOptions) (*types.SafeTransaction, error) {
	if threshold == 0 || threshold > uint64(len(wallet.Owners)) {
		return nil, errors.Wrapf(ErrInvalidThreshold, "threshold %d with %d owners", threshold, len(wallet.Owners))
	}
	data, err := contracts.PackChangeThreshold(threshold)
	if err != nil {
		return nil, err
	}
	return m.encoder.Build(wallet, selfCall(wallet, data), opts)
}
