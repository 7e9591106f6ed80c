package core

import (
	"testing"

	"github.com/SipengXie/safecore/contracts"
	"github.com/SipengXie/safecore/core/types"
	"github.com/SipengXie/safecore/params"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

var (
	guardA  = common.HexToAddress("0x00000000000000000000000000000000000a0a0a")
	moduleX = common.HexToAddress("0x00000000000000000000000000000000000b0b01")
	moduleY = common.HexToAddress("0x00000000000000000000000000000000000b0b02")
	moduleZ = common.HexToAddress("0x00000000000000000000000000000000000b0b03")
)

func newGuardManager(t *testing.T, version string) (*GuardModuleManager, *types.WalletState) {
	caps := lookup(t, version)
	wallet := newWallet(version, newOwners(t, 1), 1)
	return NewGuardModuleManager(caps, NewTransactionEncoder(caps)), wallet
}

func decodeSelfCall(t *testing.T, wallet *types.WalletState, tx *types.SafeTransaction) (string, []interface{}) {
	t.Helper()
	require.Equal(t, wallet.Address, tx.To())
	require.Equal(t, types.Call, tx.Operation())
	require.Zero(t, tx.Value().Sign())
	method, args, err := contracts.DecodeCall(tx.Data())
	require.NoError(t, err)
	return method.Name, args
}

func TestGuardsUnsupportedBefore130(t *testing.T) {
	for _, version := range []string{"1.0.0", "1.1.1", "1.2.0"} {
		t.Run(version, func(t *testing.T) {
			m, wallet := newGuardManager(t, version)
			_, err := m.EnableGuard(wallet, guardA, nil)
			require.ErrorIs(t, err, ErrUnsupportedFeature)
			// unsupported wins over an invalid address
			_, err = m.EnableGuard(wallet, common.Address{}, nil)
			require.ErrorIs(t, err, ErrUnsupportedFeature)
			_, err = m.DisableGuard(wallet, nil)
			require.ErrorIs(t, err, ErrUnsupportedFeature)
		})
	}
}

func TestZeroAddressRejectedAllVersions(t *testing.T) {
	for _, version := range params.KnownVersions() {
		t.Run(version, func(t *testing.T) {
			m, wallet := newGuardManager(t, version)
			_, err := m.EnableModule(wallet, common.Address{}, nil)
			require.ErrorIs(t, err, ErrInvalidAddress)
			_, err = m.DisableModule(wallet, common.Address{}, nil)
			require.ErrorIs(t, err, ErrInvalidAddress)
			_, err = m.EnableModule(wallet, params.SentinelAddress, nil)
			require.ErrorIs(t, err, ErrInvalidAddress)
			if m.caps.SupportsGuards {
				_, err = m.EnableGuard(wallet, common.Address{}, nil)
				require.ErrorIs(t, err, ErrInvalidAddress)
			}
			if m.caps.SupportsFallbackHandler {
				_, err = m.EnableFallbackHandler(wallet, common.Address{}, nil)
				require.ErrorIs(t, err, ErrInvalidAddress)
			} else {
				_, err = m.EnableFallbackHandler(wallet, common.Address{}, nil)
				require.ErrorIs(t, err, ErrUnsupportedFeature)
			}
		})
	}
}

func TestEnableGuard(t *testing.T) {
	m, wallet := newGuardManager(t, "1.3.0")
	tx, err := m.EnableGuard(wallet, guardA, nil)
	require.NoError(t, err)
	name, args := decodeSelfCall(t, wallet, tx)
	require.Equal(t, "setGuard", name)
	require.Equal(t, guardA, args[0].(common.Address))
	require.Equal(t, wallet.Nonce, tx.Nonce())

	wallet.Guard = guardA
	_, err = m.EnableGuard(wallet, guardA, nil)
	require.ErrorIs(t, err, ErrAlreadyEnabled)
}

func TestDisableGuard(t *testing.T) {
	m, wallet := newGuardManager(t, "1.3.0")
	_, err := m.DisableGuard(wallet, nil)
	require.ErrorIs(t, err, ErrNothingEnabled)

	wallet.Guard = guardA
	tx, err := m.DisableGuard(wallet, nil)
	require.NoError(t, err)
	name, args := decodeSelfCall(t, wallet, tx)
	require.Equal(t, "setGuard", name)
	require.Equal(t, common.Address{}, args[0].(common.Address))
}

func TestGuardOptionsCarried(t *testing.T) {
	m, wallet := newGuardManager(t, "1.3.0")
	nonce := uint64(77)
	gasToken := common.HexToAddress("0x333")
	tx, err := m.EnableGuard(wallet, guardA, &types.TransactionOptions{Nonce: &nonce, GasToken: &gasToken})
	require.NoError(t, err)
	require.Equal(t, uint64(77), tx.Nonce())
	require.Equal(t, gasToken, tx.GasToken())
}

func TestEnableModule(t *testing.T) {
	m, wallet := newGuardManager(t, "1.2.0")
	tx, err := m.EnableModule(wallet, moduleX, nil)
	require.NoError(t, err)
	name, args := decodeSelfCall(t, wallet, tx)
	require.Equal(t, "enableModule", name)
	require.Equal(t, moduleX, args[0].(common.Address))

	wallet.Modules = []common.Address{moduleX}
	_, err = m.EnableModule(wallet, moduleX, nil)
	require.ErrorIs(t, err, ErrAlreadyEnabled)
}

func TestDisableModulePredecessor(t *testing.T) {
	m, wallet := newGuardManager(t, "1.3.0")
	// most recently enabled first, as the contract lists them
	wallet.Modules = []common.Address{moduleZ, moduleY, moduleX}

	for module, wantPrev := range map[common.Address]common.Address{
		moduleZ: params.SentinelAddress,
		moduleY: moduleZ,
		moduleX: moduleY,
	} {
		tx, err := m.DisableModule(wallet, module, nil)
		require.NoError(t, err)
		name, args := decodeSelfCall(t, wallet, tx)
		require.Equal(t, "disableModule", name)
		require.Equal(t, wantPrev, args[0].(common.Address))
		require.Equal(t, module, args[1].(common.Address))
	}

	_, err := m.DisableModule(wallet, common.HexToAddress("0xdead"), nil)
	require.ErrorIs(t, err, ErrNotEnabled)
}

func TestFallbackHandler(t *testing.T) {
	m, wallet := newGuardManager(t, "1.1.1")
	handler := common.HexToAddress("0x00000000000000000000000000000000000f0f0f")

	_, err := m.DisableFallbackHandler(wallet, nil)
	require.ErrorIs(t, err, ErrNothingEnabled)
	_, err = m.EnableFallbackHandler(wallet, wallet.Address, nil)
	require.ErrorIs(t, err, ErrInvalidAddress)

	tx, err := m.EnableFallbackHandler(wallet, handler, nil)
	require.NoError(t, err)
	name, args := decodeSelfCall(t, wallet, tx)
	require.Equal(t, "setFallbackHandler", name)
	require.Equal(t, handler, args[0].(common.Address))

	wallet.FallbackHandler = handler
	_, err = m.EnableFallbackHandler(wallet, handler, nil)
	require.ErrorIs(t, err, ErrAlreadyEnabled)
	tx, err = m.DisableFallbackHandler(wallet, nil)
	require.NoError(t, err)
	_, args = decodeSelfCall(t, wallet, tx)
	require.Equal(t, common.Address{}, args[0].(common.Address))
}

func TestApplyChange(t *testing.T) {
	m, wallet := newGuardManager(t, "1.3.0")
	direct, err := m.EnableModule(wallet, moduleX, nil)
	require.NoError(t, err)
	viaChange, err := m.Apply(wallet, Change{Kind: EnableModule, Address: moduleX}, nil)
	require.NoError(t, err)
	require.Equal(t, direct.TxData(), viaChange.TxData())

	_, err = m.Apply(wallet, Change{Kind: DisableGuard}, nil)
	require.ErrorIs(t, err, ErrNothingEnabled)
	_, err = m.Apply(wallet, Change{Kind: ChangeKind(42)}, nil)
	require.Error(t, err)
}

func TestParseAddress(t *testing.T) {
	_, err := ParseAddress("0x123")
	require.ErrorIs(t, err, ErrInvalidAddress)
	_, err = ParseAddress("not an address")
	require.ErrorIs(t, err, ErrInvalidAddress)
	addr, err := ParseAddress("0x00000000000000000000000000000000000a0a0a")
	require.NoError(t, err)
	require.Equal(t, guardA, addr)
}
