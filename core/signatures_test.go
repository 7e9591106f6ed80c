package core

import (
	"bytes"
	"context"
	"math/big"
	"sync"
	"testing"

	"github.com/SipengXie/safecore/core/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
)

func TestAddSignatureNotAnOwner(t *testing.T) {
	caps := lookup(t, "1.3.0")
	owners := newOwners(t, 2)
	wallet := newWallet("1.3.0", owners, 1)
	set := NewSignatureSet(caps, wallet, transferTx(t, caps, wallet), nil, nil)

	stranger := newOwners(t, 1)[0]
	err := set.AddSignature(context.Background(), sign(t, set.Hash(), stranger, types.MethodEIP712))
	require.ErrorIs(t, err, ErrNotAnOwner)
	require.Equal(t, StatusEmpty, set.Status())
}

func TestAddSignatureInvalid(t *testing.T) {
	caps := lookup(t, "1.3.0")
	owners := newOwners(t, 2)
	wallet := newWallet("1.3.0", owners, 1)
	set := NewSignatureSet(caps, wallet, transferTx(t, caps, wallet), nil, nil)

	// signed by owner 1 but claimed by owner 0
	sig := sign(t, set.Hash(), owners[1], types.MethodEIP712)
	sig.Signer = owners[0].addr
	require.ErrorIs(t, set.AddSignature(context.Background(), sig), ErrInvalidSignature)

	// signature over a different hash
	other := sign(t, crypto.Keccak256Hash([]byte("x")), owners[0], types.MethodEIP712)
	require.ErrorIs(t, set.AddSignature(context.Background(), other), ErrInvalidSignature)

	// EIP-712 signature presented as eth_sign
	wrongMethod := sign(t, set.Hash(), owners[0], types.MethodEIP712)
	wrongMethod.Method = types.MethodEthSign
	require.ErrorIs(t, set.AddSignature(context.Background(), wrongMethod), ErrInvalidSignature)

	require.ErrorIs(t, set.AddSignature(context.Background(), nil), ErrInvalidSignature)
	require.Zero(t, set.Len())
}

func TestAddSignatureEthSign(t *testing.T) {
	owners := newOwners(t, 1)

	caps := lookup(t, "1.3.0")
	wallet := newWallet("1.3.0", owners, 1)
	set := NewSignatureSet(caps, wallet, transferTx(t, caps, wallet), nil, nil)
	require.NoError(t, set.AddSignature(context.Background(), sign(t, set.Hash(), owners[0], types.MethodEthSign)))
	require.True(t, set.IsExecutable())

	legacy := lookup(t, "1.0.0")
	wallet = newWallet("1.0.0", owners, 1)
	set = NewSignatureSet(legacy, wallet, transferTx(t, legacy, wallet), nil, nil)
	err := set.AddSignature(context.Background(), sign(t, set.Hash(), owners[0], types.MethodEthSign))
	require.ErrorIs(t, err, ErrUnsupportedFeature)
}

func TestAddSignatureReplaces(t *testing.T) {
	caps := lookup(t, "1.3.0")
	owners := newOwners(t, 3)
	wallet := newWallet("1.3.0", owners, 2)
	set := NewSignatureSet(caps, wallet, transferTx(t, caps, wallet), nil, nil)
	ctx := context.Background()

	require.NoError(t, set.AddSignature(ctx, sign(t, set.Hash(), owners[0], types.MethodEIP712)))
	require.NoError(t, set.AddSignature(ctx, sign(t, set.Hash(), owners[0], types.MethodEthSign)))
	require.Equal(t, 1, set.Len())
	require.Equal(t, StatusPartial, set.Status())
	require.Equal(t, types.MethodEthSign, set.Signatures()[0].Method)

	// identical re-add is a no-op
	require.NoError(t, set.AddSignature(ctx, set.Signatures()[0]))
	require.Equal(t, 1, set.Len())
}

func TestIsExecutableThresholds(t *testing.T) {
	caps := lookup(t, "1.3.0")
	ctx := context.Background()
	for n := 1; n <= 4; n++ {
		owners := newOwners(t, n)
		for threshold := 1; threshold <= n; threshold++ {
			wallet := newWallet("1.3.0", owners, uint64(threshold))
			set := NewSignatureSet(caps, wallet, transferTx(t, caps, wallet), nil, nil)
			require.False(t, set.IsExecutable())
			for i, o := range owners {
				require.NoError(t, set.AddSignature(ctx, sign(t, set.Hash(), o, types.MethodEIP712)))
				require.Equal(t, i+1 >= threshold, set.IsExecutable(), "n=%d threshold=%d signed=%d", n, threshold, i+1)
				if i+1 < threshold {
					require.Equal(t, StatusPartial, set.Status())
				} else {
					require.Equal(t, StatusSatisfied, set.Status())
				}
			}
		}
	}
}

func TestRefreshFollowsOwnerChanges(t *testing.T) {
	caps := lookup(t, "1.3.0")
	ctx := context.Background()
	owners := newOwners(t, 3)
	wallet := newWallet("1.3.0", owners[:2], 1)
	set := NewSignatureSet(caps, wallet, transferTx(t, caps, wallet), nil, nil)

	require.NoError(t, set.AddSignature(ctx, sign(t, set.Hash(), owners[0], types.MethodEIP712)))
	require.ErrorIs(t, set.AddSignature(ctx, sign(t, set.Hash(), owners[2], types.MethodEIP712)), ErrNotAnOwner)
	require.True(t, set.IsExecutable())

	// owners[2] added with threshold 2
	grown := newWallet("1.3.0", owners, 2)
	set.Refresh(grown)
	require.Equal(t, uint64(2), set.Threshold())
	require.Equal(t, StatusPartial, set.Status())
	require.NoError(t, set.AddSignature(ctx, sign(t, set.Hash(), owners[2], types.MethodEIP712)))
	require.True(t, set.IsExecutable())

	// owners[0] removed: its signature is kept but no longer counts
	shrunk := newWallet("1.3.0", owners[1:], 2)
	set.Refresh(shrunk)
	require.True(t, set.HasSigned(owners[0].addr))
	require.Equal(t, StatusPartial, set.Status())
	_, err := set.Serialize()
	require.ErrorIs(t, err, ErrInsufficientSignatures)

	require.NoError(t, set.AddSignature(ctx, sign(t, set.Hash(), owners[1], types.MethodEIP712)))
	blob, err := set.Serialize()
	require.NoError(t, err)
	require.Len(t, blob, 2*types.SignatureLength)

	// a snapshot of another wallet is ignored
	other := newWallet("1.3.0", owners[:1], 1)
	other.Address = common.HexToAddress("0x5afe000000000000000000000000000000000bad")
	set.Refresh(other)
	require.Equal(t, uint64(2), set.Threshold())
}

func TestSerializeOrder(t *testing.T) {
	caps := lookup(t, "1.3.0")
	owners := newOwners(t, 3)
	wallet := newWallet("1.3.0", owners, 3)
	set := NewSignatureSet(caps, wallet, transferTx(t, caps, wallet), nil, nil)
	ctx := context.Background()

	_, err := set.Serialize()
	require.ErrorIs(t, err, ErrInsufficientSignatures)

	// add in descending order
	for i := len(owners) - 1; i >= 0; i-- {
		require.NoError(t, set.AddSignature(ctx, sign(t, set.Hash(), owners[i], types.MethodEIP712)))
	}
	blob, err := set.Serialize()
	require.NoError(t, err)
	require.Len(t, blob, 3*types.SignatureLength)

	var prev common.Address
	for i := range owners {
		sig := &types.OwnerSignature{Data: blob[i*65 : (i+1)*65], Method: types.MethodEIP712}
		signer, err := types.RecoverSigner(set.Hash(), sig)
		require.NoError(t, err)
		require.Equal(t, owners[i].addr, signer)
		require.Positive(t, bytes.Compare(signer[:], prev[:]))
		prev = signer
	}
}

func TestSerializeMixedMethods(t *testing.T) {
	caps := lookup(t, "1.3.0")
	owners := newOwners(t, 3)
	wallet := newWallet("1.3.0", owners, 3)
	tx := transferTx(t, caps, wallet)
	hash := types.WalletTxHash(caps, tx, wallet)
	approvals := staticApprovals{owners[1].addr: hash}
	set := NewSignatureSet(caps, wallet, tx, approvals, nil)
	ctx := context.Background()

	require.NoError(t, set.AddSignatures(ctx,
		types.ContractSignature(owners[2].addr, []byte{0xaa, 0xbb}),
		types.ApprovedHashSignature(owners[1].addr),
		sign(t, hash, owners[0], types.MethodEIP712),
	))
	blob, err := set.Serialize()
	require.NoError(t, err)
	require.Len(t, blob, 3*65+32+2)

	_, _, v, err := types.DecodeStaticSignature(blob, 0)
	require.NoError(t, err)
	require.True(t, v == 27 || v == 28)

	r, s, v, err := types.DecodeStaticSignature(blob, 1)
	require.NoError(t, err)
	require.Equal(t, byte(1), v)
	require.Equal(t, owners[1].addr, common.BytesToAddress(r[:]))
	require.Equal(t, common.Hash{}, s)

	r, s, v, err = types.DecodeStaticSignature(blob, 2)
	require.NoError(t, err)
	require.Equal(t, byte(0), v)
	require.Equal(t, owners[2].addr, common.BytesToAddress(r[:]))
	offset := new(big.Int).SetBytes(s[:]).Int64()
	require.Equal(t, int64(195), offset)
	require.Equal(t, int64(2), new(big.Int).SetBytes(blob[offset:offset+32]).Int64())
	require.Equal(t, []byte{0xaa, 0xbb}, blob[offset+32:])
}

func TestApprovedHashRequiresOnChainApproval(t *testing.T) {
	caps := lookup(t, "1.3.0")
	owners := newOwners(t, 2)
	wallet := newWallet("1.3.0", owners, 1)
	tx := transferTx(t, caps, wallet)
	hash := types.WalletTxHash(caps, tx, wallet)

	set := NewSignatureSet(caps, wallet, tx, staticApprovals{owners[0].addr: hash}, nil)
	require.NoError(t, set.AddSignature(context.Background(), types.ApprovedHashSignature(owners[0].addr)))
	require.ErrorIs(t, set.AddSignature(context.Background(), types.ApprovedHashSignature(owners[1].addr)), ErrInvalidSignature)

	noSource := NewSignatureSet(caps, wallet, tx, nil, nil)
	require.ErrorIs(t, noSource.AddSignature(context.Background(), types.ApprovedHashSignature(owners[0].addr)), ErrInvalidSignature)
}

func TestAddSignaturesCollectsErrors(t *testing.T) {
	caps := lookup(t, "1.3.0")
	owners := newOwners(t, 2)
	wallet := newWallet("1.3.0", owners, 2)
	set := NewSignatureSet(caps, wallet, transferTx(t, caps, wallet), nil, nil)
	stranger := newOwners(t, 1)[0]

	err := set.AddSignatures(context.Background(),
		sign(t, set.Hash(), owners[0], types.MethodEIP712),
		sign(t, set.Hash(), stranger, types.MethodEIP712),
		types.ApprovedHashSignature(owners[1].addr),
	)
	require.Len(t, multierr.Errors(err), 2)
	require.ErrorIs(t, err, ErrNotAnOwner)
	require.ErrorIs(t, err, ErrInvalidSignature)
	require.Equal(t, 1, set.Len())
	require.True(t, set.HasSigned(owners[0].addr))
}

func TestMerge(t *testing.T) {
	caps := lookup(t, "1.3.0")
	owners := newOwners(t, 2)
	wallet := newWallet("1.3.0", owners, 2)
	tx := transferTx(t, caps, wallet)
	ctx := context.Background()

	a := NewSignatureSet(caps, wallet, tx, nil, nil)
	b := NewSignatureSet(caps, wallet, tx, nil, nil)
	require.NoError(t, a.AddSignature(ctx, sign(t, a.Hash(), owners[0], types.MethodEIP712)))
	require.NoError(t, b.AddSignature(ctx, sign(t, b.Hash(), owners[1], types.MethodEIP712)))
	require.NoError(t, a.Merge(ctx, b))
	require.True(t, a.IsExecutable())

	other := wallet.Copy()
	other.Nonce++
	c := NewSignatureSet(caps, other, transferTx(t, caps, other), nil, nil)
	require.ErrorIs(t, a.Merge(ctx, c), ErrHashMismatch)
}

func TestConcurrentAddSignature(t *testing.T) {
	caps := lookup(t, "1.3.0")
	owners := newOwners(t, 8)
	wallet := newWallet("1.3.0", owners, 8)
	set := NewSignatureSet(caps, wallet, transferTx(t, caps, wallet), nil, nil)

	sigs := make([]*types.OwnerSignature, len(owners))
	for i, o := range owners {
		sigs[i] = sign(t, set.Hash(), o, types.MethodEIP712)
	}
	var wg sync.WaitGroup
	for _, sig := range sigs {
		wg.Add(1)
		go func(sig *types.OwnerSignature) {
			defer wg.Done()
			assert.NoError(t, set.AddSignature(context.Background(), sig))
		}(sig)
	}
	wg.Wait()
	require.True(t, set.IsExecutable())
	blob, err := set.Serialize()
	require.NoError(t, err)
	require.Len(t, blob, 8*65)
}
