package types

import (
	"hash"
	"math/big"

	"github.com/SipengXie/safecore/params"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/sha3"
)

// EIP-712 type hashes of the wallet contract family.
var (
	DomainTypeHash       = crypto.Keccak256Hash([]byte("EIP712Domain(uint256 chainId,address verifyingContract)"))
	LegacyDomainTypeHash = crypto.Keccak256Hash([]byte("EIP712Domain(address verifyingContract)"))

	SafeTxTypeHash = crypto.Keccak256Hash([]byte(
		"SafeTx(address to,uint256 value,bytes data,uint8 operation,uint256 safeTxGas,uint256 baseGas," +
			"uint256 gasPrice,address gasToken,address refundReceiver,uint256 nonce)"))
	// 1.0.0 合约中 baseGas 字段名为 dataGas
	SafeTxDataGasTypeHash = crypto.Keccak256Hash([]byte(
		"SafeTx(address to,uint256 value,bytes data,uint8 operation,uint256 safeTxGas,uint256 dataGas," +
			"uint256 gasPrice,address gasToken,address refundReceiver,uint256 nonce)"))

	SafeMessageTypeHash = crypto.Keccak256Hash([]byte("SafeMessage(bytes message)"))
)

// structHasher writes 32 byte ABI words into a keccak state.
type structHasher struct {
	h hash.Hash
}

func newStructHasher() *structHasher {
	return &structHasher{h: sha3.NewLegacyKeccak256()}
}

func (s *structHasher) word(b []byte) *structHasher {
	s.h.Write(common.LeftPadBytes(b, 32))
	return s
}

func (s *structHasher) hash(h common.Hash) *structHasher { return s.word(h[:]) }

func (s *structHasher) address(a common.Address) *structHasher { return s.word(a[:]) }

func (s *structHasher) uint(v *big.Int) *structHasher {
	if v == nil {
		return s.word(nil)
	}
	return s.word(math.PaddedBigBytes(v, 32))
}

func (s *structHasher) sum() common.Hash {
	var out common.Hash
	s.h.Sum(out[:0])
	return out
}

// DomainSeparator binds signatures to one wallet (and, for the current
// scheme, one chain).
func DomainSeparator(caps *params.Capabilities, safe common.Address, chainID *big.Int) common.Hash {
	if caps.HashMethod == params.HashLegacy {
		return newStructHasher().hash(LegacyDomainTypeHash).address(safe).sum()
	}
	return newStructHasher().hash(DomainTypeHash).uint(chainID).address(safe).sum()
}

// SafeTxStructHash is hashStruct(SafeTx) in the field order of the version.
func SafeTxStructHash(caps *params.Capabilities, tx *SafeTransaction) common.Hash {
	typeHash := SafeTxTypeHash
	if caps.GasFieldName == "dataGas" {
		typeHash = SafeTxDataGasTypeHash
	}
	d := tx.inner
	return newStructHasher().
		hash(typeHash).
		address(d.To).
		uint(d.Value).
		hash(crypto.Keccak256Hash(d.Data)).
		uint(new(big.Int).SetUint64(uint64(d.Operation))).
		uint(d.SafeTxGas).
		uint(d.BaseGas).
		uint(d.GasPrice).
		address(d.GasToken).
		address(d.RefundReceiver).
		uint(new(big.Int).SetUint64(d.Nonce)).
		sum()
}

// EncodeTransactionData is the 66 byte EIP-712 preimage 0x19 0x01 ‖ domain ‖
// struct hash, the same bytes getTransactionHash hashes on chain.
func EncodeTransactionData(caps *params.Capabilities, tx *SafeTransaction, safe common.Address, chainID *big.Int) []byte {
	domain := DomainSeparator(caps, safe, chainID)
	structHash := SafeTxStructHash(caps, tx)
	out := make([]byte, 0, 66)
	out = append(out, 0x19, 0x01)
	out = append(out, domain[:]...)
	return append(out, structHash[:]...)
}

// SafeTxHash is the transaction hash owners sign.
func SafeTxHash(caps *params.Capabilities, tx *SafeTransaction, safe common.Address, chainID *big.Int) common.Hash {
	return crypto.Keccak256Hash(EncodeTransactionData(caps, tx, safe, chainID))
}

// WalletTxHash is SafeTxHash for the wallet of a snapshot.
func WalletTxHash(caps *params.Capabilities, tx *SafeTransaction, wallet *WalletState) common.Hash {
	return SafeTxHash(caps, tx, wallet.Address, wallet.ChainID)
}

// SafeMessageHash hashes an off-chain message under the wallet domain with
// the SafeMessage struct tag.
func SafeMessageHash(caps *params.Capabilities, safe common.Address, chainID *big.Int, message []byte) common.Hash {
	domain := DomainSeparator(caps, safe, chainID)
	structHash := newStructHasher().
		hash(SafeMessageTypeHash).
		hash(crypto.Keccak256Hash(message)).
		sum()
	return crypto.Keccak256Hash([]byte{0x19, 0x01}, domain[:], structHash[:])
}
