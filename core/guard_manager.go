package core

import (
	"fmt"

	"github.com/SipengXie/safecore/contracts"
	"github.com/SipengXie/safecore/core/types"
	"github.com/SipengXie/safecore/params"
	"github.com/ethereum/go-ethereum/common"
	"github.com/go-faster/errors"
)

// ChangeKind enumerates the administrative changes GuardModuleManager
// encodes.
type ChangeKind uint8

const (
	EnableGuard ChangeKind = iota
	DisableGuard
	EnableModule
	DisableModule
	EnableFallbackHandler
	DisableFallbackHandler
)

func (k ChangeKind) String() string {
	switch k {
	case EnableGuard:
		return "enableGuard"
	case DisableGuard:
		return "disableGuard"
	case EnableModule:
		return "enableModule"
	case DisableModule:
		return "disableModule"
	case EnableFallbackHandler:
		return "enableFallbackHandler"
	case DisableFallbackHandler:
		return "disableFallbackHandler"
	default:
		return fmt.Sprintf("ChangeKind(%d)", uint8(k))
	}
}

// Change is one guard, module or fallback handler change. Address is
// ignored by the disable-guard and disable-handler kinds.
type Change struct {
	Kind    ChangeKind
	Address common.Address
}

// ParseAddress validates a user supplied address string.
func ParseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, errors.Wrapf(ErrInvalidAddress, "%q", s)
	}
	return common.HexToAddress(s), nil
}

// GuardModuleManager checks change preconditions against a wallet snapshot
// and encodes each change as a single self-call transaction. Nothing is
// hashed or sent when a precondition fails.
type GuardModuleManager struct {
	caps    *params.Capabilities
	encoder *TransactionEncoder
}

func NewGuardModuleManager(caps *params.Capabilities, encoder *TransactionEncoder) *GuardModuleManager {
	return &GuardModuleManager{caps: caps, encoder: encoder}
}

// Apply dispatches change to the matching method.
func (m *GuardModuleManager) Apply(wallet *types.WalletState, change Change, opts *types.TransactionOptions) (*types.SafeTransaction, error) {
	switch change.Kind {
	case EnableGuard:
		return m.EnableGuard(wallet, change.Address, opts)
	case DisableGuard:
		return m.DisableGuard(wallet, opts)
	case EnableModule:
		return m.EnableModule(wallet, change.Address, opts)
	case DisableModule:
		return m.DisableModule(wallet, change.Address, opts)
	case EnableFallbackHandler:
		return m.EnableFallbackHandler(wallet, change.Address, opts)
	case DisableFallbackHandler:
		return m.DisableFallbackHandler(wallet, opts)
	default:
		return nil, errors.Errorf("unknown change kind %s", change.Kind)
	}
}

func (m *GuardModuleManager) requireGuards() error {
	if !m.caps.SupportsGuards {
		return errors.Wrapf(ErrUnsupportedFeature, "guards are not supported by version %s", m.caps.Version)
	}
	return nil
}

func (m *GuardModuleManager) requireModules() error {
	if !m.caps.SupportsModules {
		return errors.Wrapf(ErrUnsupportedFeature, "modules are not supported by version %s", m.caps.Version)
	}
	return nil
}

func (m *GuardModuleManager) requireFallbackHandler() error {
	if !m.caps.SupportsFallbackHandler {
		return errors.Wrapf(ErrUnsupportedFeature, "fallback handler is not supported by version %s", m.caps.Version)
	}
	return nil
}

func (m *GuardModuleManager) EnableGuard(wallet *types.WalletState, guard common.Address, opts *types.TransactionOptions) (*types.SafeTransaction, error) {
	if err := m.requireGuards(); err != nil {
		return nil, err
	}
	if guard == (common.Address{}) {
		return nil, errors.Wrap(ErrInvalidAddress, "invalid guard address provided")
	}
	if wallet.Guard == guard {
		return nil, errors.Wrapf(ErrAlreadyEnabled, "guard %s is already enabled", guard)
	}
	data, err := contracts.PackSetGuard(guard)
	if err != nil {
		return nil, err
	}
	return m.encoder.Build(wallet, selfCall(wallet, data), opts)
}

func (m *GuardModuleManager) DisableGuard(wallet *types.WalletState, opts *types.TransactionOptions) (*types.SafeTransaction, error) {
	if err := m.requireGuards(); err != nil {
		return nil, err
	}
	if !wallet.HasGuard() {
		return nil, errors.Wrap(ErrNothingEnabled, "there are no guards enabled yet")
	}
	data, err := contracts.PackSetGuard(common.Address{})
	if err != nil {
		return nil, err
	}
	return m.encoder.Build(wallet, selfCall(wallet, data), opts)
}

func (m *GuardModuleManager) EnableModule(wallet *types.WalletState, module common.Address, opts *types.TransactionOptions) (*types.SafeTransaction, error) {
	if err := m.requireModules(); err != nil {
		return nil, err
	}
	if err := validateListEntry(module); err != nil {
		return nil, errors.Wrap(err, "invalid module address provided")
	}
	if wallet.HasModule(module) {
		return nil, errors.Wrapf(ErrAlreadyEnabled, "module %s is already enabled", module)
	}
	data, err := contracts.PackEnableModule(module)
	if err != nil {
		return nil, err
	}
	return m.encoder.Build(wallet, selfCall(wallet, data), opts)
}

// DisableModule unlinks module. The predecessor pointer comes from the
// module list of the snapshot, so the snapshot must be fresh.
func (m *GuardModuleManager) DisableModule(wallet *types.WalletState, module common.Address, opts *types.TransactionOptions) (*types.SafeTransaction, error) {
	if err := m.requireModules(); err != nil {
		return nil, err
	}
	if err := validateListEntry(module); err != nil {
		return nil, errors.Wrap(err, "invalid module address provided")
	}
	prev, ok := wallet.PrevModule(module, params.SentinelAddress)
	if !ok {
		return nil, errors.Wrapf(ErrNotEnabled, "module %s is not enabled", module)
	}
	data, err := contracts.PackDisableModule(prev, module)
	if err != nil {
		return nil, err
	}
	return m.encoder.Build(wallet, selfCall(wallet, data), opts)
}

func (m *GuardModuleManager) EnableFallbackHandler(wallet *types.WalletState, handler common.Address, opts *types.TransactionOptions) (*types.SafeTransaction, error) {
	if err := m.requireFallbackHandler(); err != nil {
		return nil, err
	}
	if handler == (common.Address{}) || handler == wallet.Address {
		return nil, errors.Wrap(ErrInvalidAddress, "invalid fallback handler address provided")
	}
	if wallet.FallbackHandler == handler {
		return nil, errors.Wrapf(ErrAlreadyEnabled, "fallback handler %s is already enabled", handler)
	}
	data, err := contracts.PackSetFallbackHandler(handler)
	if err != nil {
		return nil, err
	}
	return m.encoder.Build(wallet, selfCall(wallet, data), opts)
}

func (m *GuardModuleManager) DisableFallbackHandler(wallet *types.WalletState, opts *types.TransactionOptions) (*types.SafeTransaction, error) {
	if err := m.requireFallbackHandler(); err != nil {
		return nil, err
	}
	if !wallet.HasFallbackHandler() {
		return nil, errors.Wrap(ErrNothingEnabled, "there is no fallback handler enabled yet")
	}
	data, err := contracts.PackSetFallbackHandler(common.Address{})
	if err != nil {
		return nil, err
	}
	return m.encoder.Build(wallet, selfCall(wallet, data), opts)
}

// validateListEntry rejects the addresses the linked lists reserve.
func validateListEntry(addr common.Address) error {
	if addr == (common.Address{}) || addr == params.SentinelAddress {
		return errors.Wrapf(ErrInvalidAddress, "%s", addr)
	}
	return nil
}
