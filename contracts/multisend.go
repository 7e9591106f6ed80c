package contracts

import (
	"encoding/binary"
	"math/big"

	"github.com/SipengXie/safecore/core/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/go-faster/errors"
)

// 每个子调用的固定头部: operation(1) | to(20) | value(32) | dataLength(32)
const multiSendHeaderLength = 1 + common.AddressLength + 32 + 32

// EncodeMultiSendData packs calls in the order given into the byte string
// multiSend(bytes) expects.
func EncodeMultiSendData(calls []*types.MetaTransaction) []byte {
	size := 0
	for _, c := range calls {
		size += multiSendHeaderLength + len(c.Data)
	}
	out := make([]byte, 0, size)
	for _, c := range calls {
		value := c.Value
		if value == nil {
			value = new(big.Int)
		}
		out = append(out, byte(c.Operation))
		out = append(out, c.To.Bytes()...)
		out = append(out, math.PaddedBigBytes(value, 32)...)
		out = append(out, common.LeftPadBytes(new(big.Int).SetInt64(int64(len(c.Data))).Bytes(), 32)...)
		out = append(out, c.Data...)
	}
	return out
}

// PackMultiSend returns the multiSend(bytes) call data for calls.
func PackMultiSend(calls []*types.MetaTransaction) ([]byte, error) {
	return MultiSendABI.Pack("multiSend", EncodeMultiSendData(calls))
}

// DecodeMultiSendData splits a packed batch back into its calls.
func DecodeMultiSendData(packed []byte) ([]*types.MetaTransaction, error) {
	var calls []*types.MetaTransaction
	for pos := 0; pos < len(packed); {
		if len(packed)-pos < multiSendHeaderLength {
			return nil, errors.Errorf("truncated multisend header at %d", pos)
		}
		op := types.Operation(packed[pos])
		if op > types.DelegateCall {
			return nil, errors.Errorf("invalid operation %d at %d", op, pos)
		}
		to := common.BytesToAddress(packed[pos+1 : pos+21])
		value := new(big.Int).SetBytes(packed[pos+21 : pos+53])
		lenWord := packed[pos+53 : pos+85]
		if new(big.Int).SetBytes(lenWord).BitLen() > 32 {
			return nil, errors.Errorf("data length overflow at %d", pos)
		}
		n := int(binary.BigEndian.Uint32(lenWord[28:]))
		pos += multiSendHeaderLength
		if len(packed)-pos < n {
			return nil, errors.Errorf("truncated multisend data at %d", pos)
		}
		calls = append(calls, &types.MetaTransaction{
			To:        to,
			Value:     value,
			Data:      common.CopyBytes(packed[pos : pos+n]),
			Operation: op,
		})
		pos += n
	}
	return calls, nil
}

// UnpackMultiSend decodes multiSend(bytes) call data.
func UnpackMultiSend(callData []byte) ([]*types.MetaTransaction, error) {
	if len(callData) < 4 {
		return nil, errors.New("call data too short")
	}
	method, err := MultiSendABI.MethodById(callData[:4])
	if err != nil {
		return nil, errors.Wrap(err, "not a multiSend call")
	}
	values, err := method.Inputs.Unpack(callData[4:])
	if err != nil {
		return nil, errors.Wrap(err, "unpack multiSend")
	}
	packed, ok := values[0].([]byte)
	if !ok {
		return nil, errors.Errorf("unexpected multiSend argument %T", values[0])
	}
	return DecodeMultiSendData(packed)
}
