package core

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"math/big"
	"sort"
	"testing"

	"github.com/SipengXie/safecore/core/types"
	"github.com/SipengXie/safecore/params"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

var testSafe = common.HexToAddress("0x5afe00000000000000000000000000000000cafe")

type testOwner struct {
	key  *ecdsa.PrivateKey
	addr common.Address
}

// newOwners returns n owners sorted by address.
func newOwners(t *testing.T, n int) []testOwner {
	t.Helper()
	owners := make([]testOwner, n)
	for i := range owners {
		key, err := crypto.GenerateKey()
		require.NoError(t, err)
		owners[i] = testOwner{key: key, addr: crypto.PubkeyToAddress(key.PublicKey)}
	}
	sort.Slice(owners, func(i, j int) bool {
		return bytes.Compare(owners[i].addr[:], owners[j].addr[:]) < 0
	})
	return owners
}

func newWallet(version string, owners []testOwner, threshold uint64) *types.WalletState {
	addrs := make([]common.Address, len(owners))
	for i, o := range owners {
		addrs[i] = o.addr
	}
	return &types.WalletState{
		Address:   testSafe,
		ChainID:   big.NewInt(1),
		Version:   version,
		Owners:    addrs,
		Threshold: threshold,
		Nonce:     5,
	}
}

func lookup(t *testing.T, version string) *params.Capabilities {
	t.Helper()
	caps, err := params.Lookup(version)
	require.NoError(t, err)
	return caps
}

func transferTx(t *testing.T, caps *params.Capabilities, wallet *types.WalletState) *types.SafeTransaction {
	t.Helper()
	tx, err := NewTransactionEncoder(caps).Build(wallet, []*types.MetaTransaction{{
		To:    common.HexToAddress("0x00000000000000000000000000000000000000b0"),
		Value: big.NewInt(1000),
	}}, nil)
	require.NoError(t, err)
	return tx
}

func sign(t *testing.T, hash common.Hash, owner testOwner, method types.SigningMethod) *types.OwnerSignature {
	t.Helper()
	sig, err := types.SignSafeTxHash(hash, owner.key, method)
	require.NoError(t, err)
	return sig
}

// staticApprovals approves the listed (owner, hash) pairs.
type staticApprovals map[common.Address]common.Hash

func (a staticApprovals) IsApproved(_ context.Context, owner common.Address, hash common.Hash) (bool, error) {
	h, ok := a[owner]
	return ok && h == hash, nil
}
