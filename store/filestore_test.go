package store

import (
	"context"
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/SipengXie/safecore/core"
	"github.com/SipengXie/safecore/core/types"
	"github.com/SipengXie/safecore/params"
	"github.com/c2h5oh/datasize"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

var testSafe = common.HexToAddress("0x5afe000000000000000000000000000000000007")

func openStore(t *testing.T) *FileStore {
	t.Helper()
	s, err := Open(Config{Dir: t.TempDir()}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func pendingSet(t *testing.T, nonce uint64, signers int) (*core.SignatureSet, *types.WalletState) {
	t.Helper()
	caps, err := params.Lookup("1.3.0")
	require.NoError(t, err)
	keys := make([]*types.OwnerSignature, 0, signers)
	owners := make([]common.Address, 0, 3)
	hashKeys := make([]func(common.Hash) *types.OwnerSignature, 0, 3)
	for i := 0; i < 3; i++ {
		key, err := crypto.GenerateKey()
		require.NoError(t, err)
		owners = append(owners, crypto.PubkeyToAddress(key.PublicKey))
		hashKeys = append(hashKeys, func(h common.Hash) *types.OwnerSignature {
			sig, err := types.SignSafeTxHash(h, key, types.MethodEIP712)
			require.NoError(t, err)
			return sig
		})
	}
	wallet := &types.WalletState{Address: testSafe, ChainID: big.NewInt(1), Version: "1.3.0", Owners: owners, Threshold: 2, Nonce: nonce}
	tx, err := core.NewTransactionEncoder(caps).Build(wallet, []*types.MetaTransaction{{To: common.HexToAddress("0xb0"), Value: big.NewInt(1)}}, nil)
	require.NoError(t, err)
	set := core.NewSignatureSet(caps, wallet, tx, nil, nil)
	for i := 0; i < signers; i++ {
		keys = append(keys, hashKeys[i](set.Hash()))
	}
	require.NoError(t, set.AddSignatures(context.Background(), keys...))
	return set, wallet
}

func TestPutGetRestore(t *testing.T) {
	s := openStore(t)
	set, wallet := pendingSet(t, 3, 1)
	require.NoError(t, s.Put(RecordOf(set, wallet.ChainID)))

	rec, err := s.Get(set.Hash())
	require.NoError(t, err)
	require.Equal(t, set.Hash(), rec.SafeTxHash)
	require.Equal(t, set.Transaction().TxData(), rec.Tx.TxData())
	require.Len(t, rec.Signatures, 1)

	restored, err := rec.Restore(context.Background(), wallet, nil, nil)
	require.NoError(t, err)
	require.Equal(t, set.Hash(), restored.Hash())
	require.Equal(t, 1, restored.Len())
	require.Equal(t, core.StatusPartial, restored.Status())
}

func TestRestoreHashMismatch(t *testing.T) {
	s := openStore(t)
	set, wallet := pendingSet(t, 0, 2)
	require.NoError(t, s.Put(RecordOf(set, wallet.ChainID)))
	rec, err := s.Get(set.Hash())
	require.NoError(t, err)

	moved := wallet.Copy()
	moved.ChainID = big.NewInt(10)
	_, err = rec.Restore(context.Background(), moved, nil, nil)
	require.ErrorIs(t, err, core.ErrHashMismatch)
}

func TestRestoreDropsForeignSignatures(t *testing.T) {
	set, wallet := pendingSet(t, 0, 2)
	rec := RecordOf(set, wallet.ChainID)

	// one signer was removed from the owner set in the meantime
	fresh := wallet.Copy()
	fresh.Owners = []common.Address{rec.Signatures[0].Signer, common.HexToAddress("0xe1"), common.HexToAddress("0xe2")}
	restored, err := rec.Restore(context.Background(), fresh, nil, nil)
	require.ErrorIs(t, err, core.ErrNotAnOwner)
	require.Equal(t, 1, restored.Len())
}

func TestListAndDelete(t *testing.T) {
	s := openStore(t)
	for _, nonce := range []uint64{2, 0, 1} {
		set, wallet := pendingSet(t, nonce, 1)
		require.NoError(t, s.Put(RecordOf(set, wallet.ChainID)))
	}
	// stray files are ignored
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), "notes.txt"), []byte("x"), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), "broken.json"), []byte("{"), 0600))

	records, err := s.List()
	require.NoError(t, err)
	require.Len(t, records, 3)
	for i, rec := range records {
		require.Equal(t, uint64(i), rec.Tx.Nonce())
	}

	require.NoError(t, s.Delete(records[0].SafeTxHash))
	require.NoError(t, s.Delete(records[0].SafeTxHash))
	_, err = s.Get(records[0].SafeTxHash)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDirLock(t *testing.T) {
	dir := t.TempDir()
	first, err := Open(Config{Dir: dir}, nil)
	require.NoError(t, err)

	_, err = Open(Config{Dir: dir}, nil)
	require.ErrorIs(t, err, ErrDataDirUsed)

	require.NoError(t, first.Close())
	require.ErrorIs(t, first.Close(), ErrClosed)
	_, err = first.List()
	require.ErrorIs(t, err, ErrClosed)

	second, err := Open(Config{Dir: dir}, nil)
	require.NoError(t, err)
	require.NoError(t, second.Close())
}

func TestRecordSizeLimit(t *testing.T) {
	s, err := Open(Config{Dir: t.TempDir(), MaxRecordSize: 256 * datasize.B}, nil)
	require.NoError(t, err)
	defer s.Close()

	set, wallet := pendingSet(t, 0, 2)
	require.ErrorIs(t, s.Put(RecordOf(set, wallet.ChainID)), ErrRecordTooLarge)
}
