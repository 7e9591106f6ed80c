package core

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/SipengXie/safecore/core/types"
	"github.com/SipengXie/safecore/params"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"
	"github.com/go-faster/errors"
	"github.com/ledgerwatch/log/v3"
	"go.uber.org/multierr"
	"golang.org/x/exp/slices"
)

// SignatureStatus is the progress of a set towards the threshold.
type SignatureStatus uint8

const (
	StatusEmpty SignatureStatus = iota
	StatusPartial
	StatusSatisfied
)

func (s SignatureStatus) String() string {
	switch s {
	case StatusEmpty:
		return "empty"
	case StatusPartial:
		return "partial"
	case StatusSatisfied:
		return "satisfied"
	default:
		return fmt.Sprintf("SignatureStatus(%d)", uint8(s))
	}
}

// SignatureSet collects owner signatures for one transaction hash. At most
// one signature is kept per owner; a later one from the same owner replaces
// the earlier.
type SignatureSet struct {
	caps      *params.Capabilities
	tx        *types.SafeTransaction
	hash      common.Hash
	safe      common.Address
	approvals Approvals
	logger    log.Logger

	feed *event.Feed // optional, set by the pool

	mu        sync.Mutex
	owners    mapset.Set[common.Address] // owner set of the latest snapshot
	threshold uint64
	sigs      map[common.Address]*types.OwnerSignature
}

// NewSignatureSet creates an empty set for tx against the owner set and
// threshold of wallet. approvals may be nil if approved-hash signatures are
// not expected.
func NewSignatureSet(caps *params.Capabilities, wallet *types.WalletState, tx *types.SafeTransaction, approvals Approvals, logger log.Logger) *SignatureSet {
	if logger == nil {
		logger = log.Root()
	}
	hash := types.WalletTxHash(caps, tx, wallet)
	return &SignatureSet{
		caps:      caps,
		tx:        tx,
		hash:      hash,
		safe:      wallet.Address,
		owners:    mapset.NewThreadUnsafeSet(wallet.Owners...),
		threshold: wallet.Threshold,
		approvals: approvals,
		logger:    logger.New("safe", wallet.Address, "safeTxHash", hash),
		sigs:      make(map[common.Address]*types.OwnerSignature),
	}
}

func (s *SignatureSet) Hash() common.Hash                   { return s.hash }
func (s *SignatureSet) Safe() common.Address                { return s.safe }
func (s *SignatureSet) Transaction() *types.SafeTransaction { return s.tx }
func (s *SignatureSet) Capabilities() *params.Capabilities  { return s.caps }

// Threshold is the threshold of the latest snapshot the set was refreshed
// with.
func (s *SignatureSet) Threshold() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.threshold
}

// Refresh replaces the owner set and threshold with those of a newer
// snapshot of the same wallet. Stored signatures are kept, but only the ones
// of current owners count towards the threshold.
func (s *SignatureSet) Refresh(wallet *types.WalletState) {
	if wallet.Address != s.safe {
		return
	}
	s.mu.Lock()
	changed := s.threshold != wallet.Threshold || s.owners.Cardinality() != len(wallet.Owners) ||
		!s.owners.Contains(wallet.Owners...)
	s.owners = mapset.NewThreadUnsafeSet(wallet.Owners...)
	s.threshold = wallet.Threshold
	status := s.statusLocked()
	s.mu.Unlock()

	if changed {
		s.logger.Debug("Refreshed owners", "owners", len(wallet.Owners), "threshold", wallet.Threshold, "status", status)
	}
}

// AddSignature verifies sig against the set hash and stores it.
func (s *SignatureSet) AddSignature(ctx context.Context, sig *types.OwnerSignature) error {
	if sig == nil {
		return errors.Wrap(ErrInvalidSignature, "nil signature")
	}
	if err := s.verify(ctx, sig); err != nil {
		s.logger.Debug("Rejected signature", "signer", sig.Signer, "method", sig.Method, "err", err)
		return err
	}
	stored := &types.OwnerSignature{Signer: sig.Signer, Data: common.CopyBytes(sig.Data), Method: sig.Method}

	s.mu.Lock()
	prev, replaced := s.sigs[sig.Signer]
	if replaced && prev.Equal(stored) {
		s.mu.Unlock()
		return nil
	}
	s.sigs[sig.Signer] = stored
	status := s.statusLocked()
	s.mu.Unlock()

	if replaced {
		s.logger.Info("Replaced owner signature", "signer", sig.Signer, "method", sig.Method)
	} else {
		s.logger.Debug("Added owner signature", "signer", sig.Signer, "method", sig.Method, "status", status)
	}
	if s.feed != nil {
		s.feed.Send(SignatureEvent{SafeTxHash: s.hash, Signature: stored, Replaced: replaced, Status: status})
	}
	return nil
}

// AddSignatures adds every signature and returns the combined errors of the
// rejected ones. Accepted signatures stay in the set.
func (s *SignatureSet) AddSignatures(ctx context.Context, sigs ...*types.OwnerSignature) error {
	var err error
	for _, sig := range sigs {
		err = multierr.Append(err, s.AddSignature(ctx, sig))
	}
	return err
}

// Merge adds the signatures of other, which must be for the same hash.
func (s *SignatureSet) Merge(ctx context.Context, other *SignatureSet) error {
	if other.hash != s.hash {
		return errors.Wrapf(ErrHashMismatch, "merge %s into %s", other.hash, s.hash)
	}
	return s.AddSignatures(ctx, other.Signatures()...)
}

// Verify checks sig against the set hash and owners without storing it.
func (s *SignatureSet) Verify(ctx context.Context, sig *types.OwnerSignature) error {
	if sig == nil {
		return errors.Wrap(ErrInvalidSignature, "nil signature")
	}
	return s.verify(ctx, sig)
}

func (s *SignatureSet) isOwner(addr common.Address) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.owners.Contains(addr)
}

func (s *SignatureSet) verify(ctx context.Context, sig *types.OwnerSignature) error {
	if !s.isOwner(sig.Signer) {
		return errors.Wrapf(ErrNotAnOwner, "%s", sig.Signer)
	}
	switch sig.Method {
	case types.MethodEIP712:
	case types.MethodEthSign:
		if !s.caps.SupportsEthSign {
			return errors.Wrapf(ErrUnsupportedFeature, "eth_sign signatures on %s", s.caps.Version)
		}
	case types.MethodApprovedHash:
		if s.approvals == nil {
			return errors.Wrap(ErrInvalidSignature, "no approval source for approved hash")
		}
		approved, err := s.approvals.IsApproved(ctx, sig.Signer, s.hash)
		if err != nil {
			return errors.Wrap(err, "check approved hash")
		}
		if !approved {
			return errors.Wrapf(ErrInvalidSignature, "hash not approved by %s", sig.Signer)
		}
		return nil
	case types.MethodContract:
		// 合约签名由 owner 合约在链上校验，这里只检查 owner 身份
		return nil
	default:
		return errors.Wrapf(ErrInvalidSignature, "unknown method %s", sig.Method)
	}
	signer, err := types.RecoverSigner(s.hash, sig)
	if err != nil {
		return errors.Wrapf(ErrInvalidSignature, "recover: %v", err)
	}
	if signer != sig.Signer {
		return errors.Wrapf(ErrInvalidSignature, "recovered %s, claimed %s", signer, sig.Signer)
	}
	return nil
}

// Len returns the number of distinct signing owners.
func (s *SignatureSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sigs)
}

func (s *SignatureSet) Status() SignatureStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusLocked()
}

func (s *SignatureSet) statusLocked() SignatureStatus {
	var n uint64
	for signer := range s.sigs {
		if s.owners.Contains(signer) {
			n++
		}
	}
	switch {
	case n == 0:
		return StatusEmpty
	case n < s.threshold:
		return StatusPartial
	default:
		return StatusSatisfied
	}
}

// IsExecutable reports whether the set holds at least threshold signatures
// of current owners.
func (s *SignatureSet) IsExecutable() bool {
	return s.Status() == StatusSatisfied
}

// HasSigned reports whether owner contributed a signature.
func (s *SignatureSet) HasSigned(owner common.Address) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sigs[owner]
	return ok
}

// Signatures returns copies of the stored signatures in ascending owner
// order.
func (s *SignatureSet) Signatures() []*types.OwnerSignature {
	s.mu.Lock()
	out := make([]*types.OwnerSignature, 0, len(s.sigs))
	for _, sig := range s.sigs {
		out = append(out, &types.OwnerSignature{Signer: sig.Signer, Data: common.CopyBytes(sig.Data), Method: sig.Method})
	}
	s.mu.Unlock()

	slices.SortFunc(out, func(a, b *types.OwnerSignature) int {
		return bytes.Compare(a.Signer[:], b.Signer[:])
	})
	return out
}

// Serialize returns the signature blob for execTransaction: the 65 byte
// static parts of current owners in strictly ascending owner order, then the
// dynamic parts of contract signatures.
func (s *SignatureSet) Serialize() ([]byte, error) {
	all := s.Signatures()

	s.mu.Lock()
	threshold := s.threshold
	sigs := all[:0]
	for _, sig := range all {
		if s.owners.Contains(sig.Signer) {
			sigs = append(sigs, sig)
		}
	}
	s.mu.Unlock()

	if uint64(len(sigs)) < threshold {
		return nil, errors.Wrapf(ErrInsufficientSignatures, "have %d, threshold %d", len(sigs), threshold)
	}
	return EncodeSignatures(sigs), nil
}

// EncodeSignatures lays out sigs, which must already be sorted by owner.
func EncodeSignatures(sigs []*types.OwnerSignature) []byte {
	var (
		static  = make([]byte, 0, len(sigs)*types.SignatureLength)
		dynamic []byte
		offset  = uint64(len(sigs) * types.SignatureLength)
	)
	for _, sig := range sigs {
		if sig.IsDynamic() {
			static = append(static, sig.StaticPart(offset+uint64(len(dynamic)))...)
			dynamic = append(dynamic, sig.DynamicPart()...)
			continue
		}
		static = append(static, sig.StaticPart(0)...)
	}
	return append(static, dynamic...)
}
