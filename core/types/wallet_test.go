package types

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

var (
	sentinel = common.HexToAddress("0x1")
	moduleA  = common.HexToAddress("0xa000000000000000000000000000000000000000")
	moduleB  = common.HexToAddress("0xb000000000000000000000000000000000000000")
)

func TestWalletStateValidate(t *testing.T) {
	w := &WalletState{
		ChainID:   big.NewInt(1),
		Owners:    []common.Address{moduleA, moduleB},
		Threshold: 2,
	}
	require.NoError(t, w.Validate())

	w.Threshold = 3
	require.ErrorIs(t, w.Validate(), ErrInvalidWalletState)

	w.Threshold = 0
	require.ErrorIs(t, w.Validate(), ErrInvalidWalletState)

	w.Threshold = 1
	w.Owners = []common.Address{moduleA, moduleA}
	require.ErrorIs(t, w.Validate(), ErrInvalidWalletState)

	w.Owners = nil
	require.ErrorIs(t, w.Validate(), ErrInvalidWalletState)
}

func TestWalletStatePrevModule(t *testing.T) {
	w := &WalletState{Modules: []common.Address{moduleA, moduleB}}

	prev, ok := w.PrevModule(moduleA, sentinel)
	require.True(t, ok)
	require.Equal(t, sentinel, prev)

	prev, ok = w.PrevModule(moduleB, sentinel)
	require.True(t, ok)
	require.Equal(t, moduleA, prev)

	_, ok = w.PrevModule(common.HexToAddress("0xc0"), sentinel)
	require.False(t, ok)
}

func TestWalletStateCopy(t *testing.T) {
	w := &WalletState{ChainID: big.NewInt(5), Owners: []common.Address{moduleA}, Modules: []common.Address{moduleB}}
	cpy := w.Copy()
	cpy.Owners[0] = moduleB
	cpy.Modules = append(cpy.Modules, moduleA)
	cpy.ChainID.SetInt64(6)

	require.Equal(t, moduleA, w.Owners[0])
	require.Len(t, w.Modules, 1)
	require.Equal(t, int64(5), w.ChainID.Int64())
}
