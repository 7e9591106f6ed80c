package contracts

import (
	"math/big"
	"testing"

	"github.com/SipengXie/safecore/core/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

func TestSelectors(t *testing.T) {
	for sig, name := range map[string]string{
		"execTransaction(address,uint256,bytes,uint8,uint256,uint256,uint256,address,address,bytes)": "execTransaction",
		"setGuard(address)":              "setGuard",
		"enableModule(address)":          "enableModule",
		"disableModule(address,address)": "disableModule",
		"approveHash(bytes32)":           "approveHash",
	} {
		require.Equal(t, crypto.Keccak256([]byte(sig))[:4], SafeABI.Methods[name].ID, sig)
	}
	require.Equal(t, crypto.Keccak256([]byte("multiSend(bytes)"))[:4], MultiSendABI.Methods["multiSend"].ID)
	require.Equal(t, crypto.Keccak256Hash([]byte("ExecutionFailure(bytes32,uint256)")), ExecutionFailureTopic)
}

func TestExecTransactionRoundTrip(t *testing.T) {
	tx, err := types.NewSafeTransaction(&types.SafeTransactionData{
		To:        common.HexToAddress("0x10"),
		Value:     big.NewInt(7),
		Data:      []byte{0xde, 0xad, 0xbe, 0xef},
		Operation: types.DelegateCall,
		SafeTxGas: big.NewInt(50000),
		GasToken:  common.HexToAddress("0x20"),
		Nonce:     9,
	})
	require.NoError(t, err)
	sigs := make([]byte, 130)
	sigs[64], sigs[129] = 27, 28

	callData, err := PackExecTransaction(tx, sigs)
	require.NoError(t, err)

	args, err := UnpackExecTransaction(callData)
	require.NoError(t, err)
	require.Equal(t, tx.To(), args.To)
	require.Equal(t, int64(7), args.Value.Int64())
	require.Equal(t, tx.Data(), args.Data)
	require.Equal(t, uint8(types.DelegateCall), args.Operation)
	require.Equal(t, int64(50000), args.SafeTxGas.Int64())
	require.Equal(t, tx.GasToken(), args.GasToken)
	require.Equal(t, sigs, args.Signatures)
}

func TestDecodeCall(t *testing.T) {
	prev := common.HexToAddress("0x1")
	module := common.HexToAddress("0xabc")
	data, err := PackDisableModule(prev, module)
	require.NoError(t, err)

	method, args, err := DecodeCall(data)
	require.NoError(t, err)
	require.Equal(t, "disableModule", method.Name)
	require.Equal(t, prev, args[0].(common.Address))
	require.Equal(t, module, args[1].(common.Address))

	_, _, err = DecodeCall([]byte{1, 2})
	require.Error(t, err)
	_, err = UnpackExecTransaction(data)
	require.Error(t, err)
}

func TestUnpackGetters(t *testing.T) {
	out, err := SafeABI.Methods["nonce"].Outputs.Pack(big.NewInt(42))
	require.NoError(t, err)
	n, err := UnpackUint256("nonce", out)
	require.NoError(t, err)
	require.Equal(t, int64(42), n.Int64())

	owners := []common.Address{common.HexToAddress("0xa"), common.HexToAddress("0xb")}
	out, err = SafeABI.Methods["getOwners"].Outputs.Pack(owners)
	require.NoError(t, err)
	got, err := UnpackAddresses("getOwners", out)
	require.NoError(t, err)
	require.Equal(t, owners, got)

	out, err = SafeABI.Methods["VERSION"].Outputs.Pack("1.3.0")
	require.NoError(t, err)
	version, err := UnpackString("VERSION", out)
	require.NoError(t, err)
	require.Equal(t, "1.3.0", version)
}

func TestStorageSlots(t *testing.T) {
	require.Equal(t, common.HexToHash("0x4a204f620c8c5ccdca3fd54d003badd85ba500436a431f0cbda4f558c93c34c8"), GuardStorageSlot)
	require.Equal(t, common.HexToHash("0x6c9a6c4a39284e37ed1cf53d337577d14212a4870fb976a4366c693b939918d5"), FallbackHandlerStorageSlot)
}
