package contracts

import (
	"math/big"
	"testing"

	"github.com/SipengXie/safecore/core/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/require"
)

func TestEncodeMultiSendDataLayout(t *testing.T) {
	to := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	packed := EncodeMultiSendData([]*types.MetaTransaction{
		{To: to, Value: big.NewInt(5), Data: []byte{0x01, 0x02}, Operation: types.DelegateCall},
	})
	require.Len(t, packed, multiSendHeaderLength+2)
	require.Equal(t, byte(1), packed[0])
	require.Equal(t, to.Bytes(), packed[1:21])
	require.Equal(t, int64(5), new(big.Int).SetBytes(packed[21:53]).Int64())
	require.Equal(t, int64(2), new(big.Int).SetBytes(packed[53:85]).Int64())
	require.Equal(t, []byte{0x01, 0x02}, packed[85:])
}

func TestMultiSendRoundTripKeepsOrder(t *testing.T) {
	calls := []*types.MetaTransaction{
		{To: common.HexToAddress("0x1"), Value: big.NewInt(1), Data: hexutil.Bytes{0xaa}},
		{To: common.HexToAddress("0x2"), Value: big.NewInt(0), Data: hexutil.Bytes{}},
		{To: common.HexToAddress("0x3"), Value: big.NewInt(3), Data: hexutil.Bytes{0xbb, 0xcc}, Operation: types.DelegateCall},
	}
	callData, err := PackMultiSend(calls)
	require.NoError(t, err)

	decoded, err := UnpackMultiSend(callData)
	require.NoError(t, err)
	require.Len(t, decoded, 3)
	for i := range calls {
		require.Equal(t, calls[i].To, decoded[i].To)
		require.Equal(t, calls[i].Value.Int64(), decoded[i].Value.Int64())
		require.Equal(t, []byte(calls[i].Data), []byte(decoded[i].Data))
		require.Equal(t, calls[i].Operation, decoded[i].Operation)
	}
}

func TestDecodeMultiSendDataTruncated(t *testing.T) {
	packed := EncodeMultiSendData([]*types.MetaTransaction{
		{To: common.HexToAddress("0x1"), Data: []byte{1, 2, 3}},
	})
	_, err := DecodeMultiSendData(packed[:len(packed)-1])
	require.Error(t, err)
	_, err = DecodeMultiSendData(packed[:40])
	require.Error(t, err)
}
