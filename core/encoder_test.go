package core

import (
	"math/big"
	"testing"

	"github.com/SipengXie/safecore/contracts"
	"github.com/SipengXie/safecore/core/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func TestBuildSingleCall(t *testing.T) {
	caps := lookup(t, "1.3.0")
	wallet := newWallet("1.3.0", newOwners(t, 1), 1)
	to := common.HexToAddress("0x0000000000000000000000000000000000000abc")

	tx, err := NewTransactionEncoder(caps).Build(wallet, []*types.MetaTransaction{
		{To: to, Value: big.NewInt(3), Data: []byte{0x12}},
	}, nil)
	require.NoError(t, err)
	require.Equal(t, to, tx.To())
	require.Equal(t, int64(3), tx.Value().Int64())
	require.Equal(t, []byte{0x12}, tx.Data())
	require.Equal(t, types.Call, tx.Operation())
	require.Equal(t, wallet.Nonce, tx.Nonce())
	require.Zero(t, tx.SafeTxGas().Sign())
	require.Equal(t, common.Address{}, tx.RefundReceiver())
}

func TestBuildSingleDelegateCall(t *testing.T) {
	caps := lookup(t, "1.3.0")
	wallet := newWallet("1.3.0", newOwners(t, 1), 1)
	tx, err := NewTransactionEncoder(caps).Build(wallet, []*types.MetaTransaction{
		{To: common.HexToAddress("0xd0"), Operation: types.DelegateCall},
	}, nil)
	require.NoError(t, err)
	require.Equal(t, types.DelegateCall, tx.Operation())
}

func TestBuildBatchUsesMultiSend(t *testing.T) {
	for _, version := range []string{"1.1.1", "1.3.0"} {
		t.Run(version, func(t *testing.T) {
			caps := lookup(t, version)
			wallet := newWallet(version, newOwners(t, 2), 1)
			calls := []*types.MetaTransaction{
				{To: common.HexToAddress("0xa1"), Value: big.NewInt(1)},
				{To: common.HexToAddress("0xa2"), Data: []byte{0xff}},
			}
			tx, err := NewTransactionEncoder(caps).Build(wallet, calls, nil)
			require.NoError(t, err)
			require.Equal(t, caps.Deployments.MultiSend, tx.To())
			require.Equal(t, types.DelegateCall, tx.Operation())
			require.Zero(t, tx.Value().Sign())

			decoded, err := contracts.UnpackMultiSend(tx.Data())
			require.NoError(t, err)
			require.Len(t, decoded, 2)
			require.Equal(t, calls[0].To, decoded[0].To)
			require.Equal(t, calls[1].To, decoded[1].To)
		})
	}
}

func TestBuildMultiSendOverride(t *testing.T) {
	caps := lookup(t, "1.3.0")
	wallet := newWallet("1.3.0", newOwners(t, 1), 1)
	custom := common.HexToAddress("0x0000000000000000000000000000000000000777")
	enc := NewTransactionEncoder(caps).WithMultiSend(custom)
	tx, err := enc.Build(wallet, []*types.MetaTransaction{{To: common.HexToAddress("0x1")}, {To: common.HexToAddress("0x2")}}, nil)
	require.NoError(t, err)
	require.Equal(t, custom, tx.To())
	require.Equal(t, caps.Deployments.MultiSend, NewTransactionEncoder(caps).MultiSendAddress())
}

func TestBuildEmpty(t *testing.T) {
	caps := lookup(t, "1.3.0")
	wallet := newWallet("1.3.0", newOwners(t, 1), 1)
	_, err := NewTransactionEncoder(caps).Build(wallet, nil, nil)
	require.ErrorIs(t, err, ErrEmptyTransaction)

	_, err = NewTransactionEncoder(caps).Build(wallet, []*types.MetaTransaction{nil}, nil)
	require.ErrorIs(t, err, types.ErrInvalidTransaction)
}

func TestBuildOptions(t *testing.T) {
	caps := lookup(t, "1.3.0")
	wallet := newWallet("1.3.0", newOwners(t, 1), 1)
	nonce := uint64(12)
	refund := common.HexToAddress("0xfee")
	tx, err := NewTransactionEncoder(caps).Build(wallet, []*types.MetaTransaction{{To: common.HexToAddress("0x1")}},
		&types.TransactionOptions{Nonce: &nonce, RefundReceiver: &refund, GasPrice: big.NewInt(9)})
	require.NoError(t, err)
	require.Equal(t, uint64(12), tx.Nonce())
	require.Equal(t, refund, tx.RefundReceiver())
	require.Equal(t, int64(9), tx.GasPrice().Int64())
	require.Zero(t, tx.BaseGas().Sign())
}
