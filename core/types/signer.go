// Copyright 2016 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

package types

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/go-faster/errors"
)

// SignatureLength is the size of the static part of every owner signature.
const SignatureLength = crypto.SignatureLength

var (
	ErrInvalidSig       = errors.New("invalid signature")
	ErrInvalidSigMethod = errors.New("invalid signing method")
)

// SigningMethod tags how an owner signature was produced. The wallet
// contract tells them apart by the v byte of the static part.
type SigningMethod uint8

const (
	MethodEIP712       SigningMethod = iota // v = 27/28
	MethodEthSign                           // v = 31/32, personal_sign prefix
	MethodApprovedHash                      // v = 1, approveHash was called on chain
	MethodContract                          // v = 0, EIP-1271 contract signature
)

func (m SigningMethod) String() string {
	switch m {
	case MethodEIP712:
		return "eip712"
	case MethodEthSign:
		return "eth_sign"
	case MethodApprovedHash:
		return "approved_hash"
	case MethodContract:
		return "contract"
	default:
		return fmt.Sprintf("SigningMethod(%d)", uint8(m))
	}
}

// OwnerSignature is one owner's contribution to a transaction hash.
//
// For MethodEIP712 and MethodEthSign Data is the 65 byte r||s||v signature.
// For MethodApprovedHash Data is empty. For MethodContract Data is the
// signature handed to the owner contract's isValidSignature.
type OwnerSignature struct {
	Signer common.Address `json:"signer"`
	Data   hexutil.Bytes  `json:"data"`
	Method SigningMethod  `json:"method"`
}

// Equal reports whether both signatures are byte-identical.
func (s *OwnerSignature) Equal(o *OwnerSignature) bool {
	return s.Signer == o.Signer && s.Method == o.Method && bytes.Equal(s.Data, o.Data)
}

// IsDynamic reports whether the signature carries a dynamic part appended
// after all static parts.
func (s *OwnerSignature) IsDynamic() bool {
	return s.Method == MethodContract
}

// StaticPart returns the 65 byte static encoding. dynamicOffset is the byte
// offset of the dynamic part inside the full blob and is only used for
// contract signatures.
func (s *OwnerSignature) StaticPart(dynamicOffset uint64) []byte {
	switch s.Method {
	case MethodApprovedHash:
		// r = owner, s = 0, v = 1
		sig := make([]byte, SignatureLength)
		copy(sig[12:32], s.Signer.Bytes())
		sig[64] = 1
		return sig
	case MethodContract:
		// r = owner, s = offset, v = 0
		sig := make([]byte, SignatureLength)
		copy(sig[12:32], s.Signer.Bytes())
		binary.BigEndian.PutUint64(sig[56:64], dynamicOffset)
		return sig
	default:
		return common.CopyBytes(s.Data)
	}
}

// DynamicPart returns the length-prefixed dynamic data of a contract
// signature, nil otherwise.
func (s *OwnerSignature) DynamicPart() []byte {
	if !s.IsDynamic() {
		return nil
	}
	part := make([]byte, 32, 32+len(s.Data))
	binary.BigEndian.PutUint64(part[24:32], uint64(len(s.Data)))
	return append(part, s.Data...)
}

// SignSafeTxHash signs a transaction or message hash for the given method.
// Only MethodEIP712 and MethodEthSign produce cryptographic signatures.
func SignSafeTxHash(hash common.Hash, prv *ecdsa.PrivateKey, method SigningMethod) (*OwnerSignature, error) {
	var (
		sig []byte
		err error
	)
	switch method {
	case MethodEIP712:
		sig, err = crypto.Sign(hash[:], prv)
		if err != nil {
			return nil, err
		}
		sig[64] += 27
	case MethodEthSign:
		sig, err = crypto.Sign(accounts.TextHash(hash[:]), prv)
		if err != nil {
			return nil, err
		}
		sig[64] += 31
	default:
		return nil, errors.Wrapf(ErrInvalidSigMethod, "cannot sign with %s", method)
	}
	return &OwnerSignature{
		Signer: crypto.PubkeyToAddress(prv.PublicKey),
		Data:   sig,
		Method: method,
	}, nil
}

// ApprovedHashSignature is the placeholder signature of an owner that
// approved the hash on chain.
func ApprovedHashSignature(owner common.Address) *OwnerSignature {
	return &OwnerSignature{Signer: owner, Method: MethodApprovedHash}
}

// ContractSignature wraps the signature data checked by an owner contract.
func ContractSignature(owner common.Address, data []byte) *OwnerSignature {
	return &OwnerSignature{Signer: owner, Data: common.CopyBytes(data), Method: MethodContract}
}

// RecoverSigner returns the address that produced a cryptographic owner
// signature over hash.
func RecoverSigner(hash common.Hash, sig *OwnerSignature) (common.Address, error) {
	if len(sig.Data) != SignatureLength {
		return common.Address{}, errors.Wrapf(ErrInvalidSig, "wrong size for signature: got %d, want %d", len(sig.Data), SignatureLength)
	}
	R, S, V := decodeSignature(sig.Data)
	switch sig.Method {
	case MethodEIP712:
		return recoverPlain(hash[:], R, S, V, 27)
	case MethodEthSign:
		return recoverPlain(accounts.TextHash(hash[:]), R, S, V, 31)
	default:
		return common.Address{}, errors.Wrapf(ErrInvalidSigMethod, "%s has no recoverable signer", sig.Method)
	}
}

// DecodeStaticSignature splits the i-th static part of a serialized blob as
// the wallet contract does: v selects the method, r carries the owner for
// approved-hash and contract signatures.
func DecodeStaticSignature(blob []byte, i int) (r, s common.Hash, v byte, err error) {
	off := i * SignatureLength
	if off+SignatureLength > len(blob) {
		return common.Hash{}, common.Hash{}, 0, errors.Wrapf(ErrInvalidSig, "blob too short for signature %d", i)
	}
	copy(r[:], blob[off:off+32])
	copy(s[:], blob[off+32:off+64])
	return r, s, blob[off+64], nil
}

func decodeSignature(sig []byte) (r, s, v *big.Int) {
	r = new(big.Int).SetBytes(sig[:32])
	s = new(big.Int).SetBytes(sig[32:64])
	v = new(big.Int).SetBytes([]byte{sig[64]})
	return r, s, v
}

// recoverPlain 恢复签名者地址，offset 为 v 的偏移量（27 或 31）
func recoverPlain(sighash []byte, R, S, Vb *big.Int, offset uint64) (common.Address, error) {
	if Vb.BitLen() > 8 || Vb.Uint64() < offset {
		return common.Address{}, ErrInvalidSig
	}
	V := byte(Vb.Uint64() - offset)
	if !crypto.ValidateSignatureValues(V, R, S, true) {
		return common.Address{}, ErrInvalidSig
	}
	// encode the signature in uncompressed format
	r, s := R.Bytes(), S.Bytes()
	sig := make([]byte, crypto.SignatureLength)
	copy(sig[32-len(r):32], r)
	copy(sig[64-len(s):64], s)
	sig[64] = V
	// recover the public key from the signature
	pub, err := crypto.Ecrecover(sighash, sig)
	if err != nil {
		return common.Address{}, err
	}
	if len(pub) == 0 || pub[0] != 4 {
		return common.Address{}, errors.New("invalid public key")
	}
	var addr common.Address
	copy(addr[:], crypto.Keccak256(pub[1:])[12:])
	return addr, nil
}
