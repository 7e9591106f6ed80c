package contracts

import "github.com/ethereum/go-ethereum/crypto"

// Storage slots the wallet keeps outside its declared layout. Neither value
// has a getter on chain before 1.4.0, so they are read with eth_getStorageAt.
var (
	GuardStorageSlot           = crypto.Keccak256Hash([]byte("guard_manager.guard.address"))
	FallbackHandlerStorageSlot = crypto.Keccak256Hash([]byte("fallback_manager.handler.address"))
)
