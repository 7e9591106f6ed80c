package core

import (
	"github.com/SipengXie/safecore/core/types"
	"github.com/ethereum/go-ethereum/common"
)

// SignatureEvent is posted when a signature set accepts a signature.
type SignatureEvent struct {
	SafeTxHash common.Hash
	Signature  *types.OwnerSignature
	Replaced   bool
	Status     SignatureStatus
}
