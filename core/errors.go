package core

import (
	"github.com/go-faster/errors"
)

var (
	// ErrUnsupportedFeature is returned when the wallet version lacks the
	// capability an operation needs.
	ErrUnsupportedFeature = errors.New("feature not supported by wallet version")

	// ErrInvalidAddress is returned for a zero or malformed address argument.
	ErrInvalidAddress = errors.New("invalid address provided")

	ErrAlreadyEnabled = errors.New("address already enabled")
	ErrNotEnabled     = errors.New("address not enabled")

	// ErrNothingEnabled is returned when disabling something the wallet does
	// not have set.
	ErrNothingEnabled = errors.New("nothing enabled")

	ErrNotAnOwner       = errors.New("signer is not an owner")
	ErrInvalidSignature = errors.New("invalid owner signature")

	// ErrInsufficientSignatures is returned when fewer signatures than the
	// threshold are available.
	ErrInsufficientSignatures = errors.New("insufficient signatures")

	// ErrHashMismatch is returned when the hash recomputed from a fresh wallet
	// snapshot differs from the hash the signatures were collected for.
	ErrHashMismatch = errors.New("transaction hash mismatch")

	// ErrStaleNonce is returned when the transaction nonce does not match the
	// wallet nonce.
	ErrStaleNonce = errors.New("stale nonce")

	// ErrFutureNonce is the ErrStaleNonce of a transaction queued for a
	// nonce the wallet has not reached yet. It matches ErrStaleNonce.
	ErrFutureNonce = errors.Wrap(ErrStaleNonce, "nonce not reached")

	ErrExecutionReverted = errors.New("execution reverted")

	// ErrSubmitReverted is returned by a ledger whose node rejected the
	// submission because the call reverts, e.g. during gas estimation.
	// Nothing was broadcast.
	ErrSubmitReverted = errors.New("submission reverts")

	// ErrSubmissionFailed covers transport failures and receipt timeouts. It
	// is the only retryable execution error.
	ErrSubmissionFailed = errors.New("submission failed")

	ErrEmptyTransaction = errors.New("no calls to encode")
	ErrInvalidThreshold = errors.New("invalid threshold")
	ErrOwnerExists      = errors.New("address is already an owner")
)
