// Package safe ties the transaction engine together for one wallet: it reads
// a fresh snapshot before every build, tracks signature sets while owners
// sign and hands satisfied sets to the executor.
package safe

import (
	"context"

	"github.com/SipengXie/safecore/core"
	"github.com/SipengXie/safecore/core/types"
	"github.com/SipengXie/safecore/executor"
	"github.com/SipengXie/safecore/params"
	"github.com/SipengXie/safecore/store"
	"github.com/ethereum/go-ethereum/common"
	"github.com/go-faster/errors"
	"github.com/ledgerwatch/log/v3"
	"go.uber.org/multierr"
)

type Config struct {
	Address   common.Address
	MultiSend common.Address // zero selects the canonical deployment
	Executor  executor.Config
}

// Safe is the entry point for one wallet. It caches no wallet state.
type Safe struct {
	address   common.Address
	multiSend common.Address

	ledger    core.Ledger
	approvals *core.LedgerApprovals
	pool      *core.SignaturePool
	pending   *store.FileStore // optional
	coord     *executor.Coordinator
	logger    log.Logger
}

// New creates the facade. pool may be shared between wallets; pending may
// be nil when signatures need not outlive the process.
func New(config Config, ledger core.Ledger, pool *core.SignaturePool, pending *store.FileStore, logger log.Logger) *Safe {
	if logger == nil {
		logger = log.Root()
	}
	logger = logger.New("safe", config.Address)
	if pool == nil {
		pool = core.NewSignaturePool(logger)
	}
	return &Safe{
		address:   config.Address,
		multiSend: config.MultiSend,
		ledger:    ledger,
		approvals: core.NewLedgerApprovals(ledger, config.Address),
		pool:      pool,
		pending:   pending,
		coord:     executor.NewCoordinator(ledger, config.Executor, logger),
		logger:    logger,
	}
}

func (s *Safe) Address() common.Address   { return s.address }
func (s *Safe) Pool() *core.SignaturePool { return s.pool }

// Snapshot reads the wallet and the capabilities of its version.
func (s *Safe) Snapshot(ctx context.Context) (*types.WalletState, *params.Capabilities, error) {
	wallet, err := s.ledger.ReadWalletState(ctx, s.address)
	if err != nil {
		return nil, nil, errors.Wrap(err, "read wallet state")
	}
	if err := wallet.Validate(); err != nil {
		return nil, nil, err
	}
	caps, err := params.Lookup(wallet.Version)
	if err != nil {
		return nil, nil, err
	}
	return wallet, caps, nil
}

func (s *Safe) encoder(caps *params.Capabilities) *core.TransactionEncoder {
	return core.NewTransactionEncoder(caps).WithMultiSend(s.multiSend)
}

// CreateTransaction builds a transaction from calls; the nonce defaults to
// the one read right now.
func (s *Safe) CreateTransaction(ctx context.Context, calls []*types.MetaTransaction, opts *types.TransactionOptions) (*types.SafeTransaction, error) {
	wallet, caps, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return s.encoder(caps).Build(wallet, calls, opts)
}

// CreateChangeTx builds the transaction of a guard, module or fallback
// handler change.
func (s *Safe) CreateChangeTx(ctx context.Context, change core.Change, opts *types.TransactionOptions) (*types.SafeTransaction, error) {
	wallet, caps, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return core.NewGuardModuleManager(caps, s.encoder(caps)).Apply(wallet, change, opts)
}

func (s *Safe) CreateEnableGuardTx(ctx context.Context, guard common.Address, opts *types.TransactionOptions) (*types.SafeTransaction, error) {
	return s.CreateChangeTx(ctx, core.Change{Kind: core.EnableGuard, Address: guard}, opts)
}

func (s *Safe) CreateDisableGuardTx(ctx context.Context, opts *types.TransactionOptions) (*types.SafeTransaction, error) {
	return s.CreateChangeTx(ctx, core.Change{Kind: core.DisableGuard}, opts)
}

func (s *Safe) CreateEnableModuleTx(ctx context.Context, module common.Address, opts *types.TransactionOptions) (*types.SafeTransaction, error) {
	return s.CreateChangeTx(ctx, core.Change{Kind: core.EnableModule, Address: module}, opts)
}

func (s *Safe) CreateDisableModuleTx(ctx context.Context, module common.Address, opts *types.TransactionOptions) (*types.SafeTransaction, error) {
	return s.CreateChangeTx(ctx, core.Change{Kind: core.DisableModule, Address: module}, opts)
}

func (s *Safe) CreateEnableFallbackHandlerTx(ctx context.Context, handler common.Address, opts *types.TransactionOptions) (*types.SafeTransaction, error) {
	return s.CreateChangeTx(ctx, core.Change{Kind: core.EnableFallbackHandler, Address: handler}, opts)
}

func (s *Safe) CreateDisableFallbackHandlerTx(ctx context.Context, opts *types.TransactionOptions) (*types.SafeTransaction, error) {
	return s.CreateChangeTx(ctx, core.Change{Kind: core.DisableFallbackHandler}, opts)
}

func (s *Safe) owners(ctx context.Context, build func(*core.OwnerManager, *types.WalletState) (*types.SafeTransaction, error)) (*types.SafeTransaction, error) {
	wallet, caps, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return build(core.NewOwnerManager(s.encoder(caps)), wallet)
}

// CreateAddOwnerTx adds owner; a zero threshold keeps the current one.
func (s *Safe) CreateAddOwnerTx(ctx context.Context, owner common.Address, threshold uint64, opts *types.TransactionOptions) (*types.SafeTransaction, error) {
	return s.owners(ctx, func(m *core.OwnerManager, w *types.WalletState) (*types.SafeTransaction, error) {
		return m.AddOwner(w, owner, threshold, opts)
	})
}

// CreateRemoveOwnerTx removes owner; a zero threshold keeps the current one
// where the remaining owners allow it.
func (s *Safe) CreateRemoveOwnerTx(ctx context.Context, owner common.Address, threshold uint64, opts *types.TransactionOptions) (*types.SafeTransaction, error) {
	return s.owners(ctx, func(m *core.OwnerManager, w *types.WalletState) (*types.SafeTransaction, error) {
		return m.RemoveOwner(w, owner, threshold, opts)
	})
}

func (s *Safe) CreateSwapOwnerTx(ctx context.Context, oldOwner, newOwner common.Address, opts *types.TransactionOptions) (*types.SafeTransaction, error) {
	return s.owners(ctx, func(m *core.OwnerManager, w *types.WalletState) (*types.SafeTransaction, error) {
		return m.SwapOwner(w, oldOwner, newOwner, opts)
	})
}

func (s *Safe) CreateChangeThresholdTx(ctx context.Context, threshold uint64, opts *types.TransactionOptions) (*types.SafeTransaction, error) {
	return s.owners(ctx, func(m *core.OwnerManager, w *types.WalletState) (*types.SafeTransaction, error) {
		return m.ChangeThreshold(w, threshold, opts)
	})
}

// CreateApproveHashTx is the call an owner sends from its own account to
// approve hash on chain.
func (s *Safe) CreateApproveHashTx(hash common.Hash) (*types.MetaTransaction, error) {
	return core.ApproveHashTx(s.address, hash)
}

func (s *Safe) TransactionHash(ctx context.Context, tx *types.SafeTransaction) (common.Hash, error) {
	wallet, caps, err := s.Snapshot(ctx)
	if err != nil {
		return common.Hash{}, err
	}
	return types.WalletTxHash(caps, tx, wallet), nil
}

func (s *Safe) MessageHash(ctx context.Context, message []byte) (common.Hash, error) {
	wallet, caps, err := s.Snapshot(ctx)
	if err != nil {
		return common.Hash{}, err
	}
	return types.SafeMessageHash(caps, wallet.Address, wallet.ChainID, message), nil
}

// Signatures returns the set collecting signatures for tx. A set that is not
// tracked yet is restored from the pending store or created empty, and is
// only tracked once an owner signature is added to it.
func (s *Safe) Signatures(ctx context.Context, tx *types.SafeTransaction) (*core.SignatureSet, error) {
	wallet, caps, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	set, _, err := s.lookup(ctx, wallet, caps, tx)
	return set, err
}

// lookup returns the tracked set of tx refreshed with wallet, or an
// untracked one.
func (s *Safe) lookup(ctx context.Context, wallet *types.WalletState, caps *params.Capabilities, tx *types.SafeTransaction) (*core.SignatureSet, bool, error) {
	hash := types.WalletTxHash(caps, tx, wallet)
	if set, ok := s.pool.Get(hash); ok {
		set.Refresh(wallet)
		return set, true, nil
	}
	set := core.NewSignatureSet(caps, wallet, tx, s.approvals, s.logger)
	if s.pending != nil {
		rec, err := s.pending.Get(hash)
		switch {
		case err == nil:
			restored, err := rec.Restore(ctx, wallet, s.approvals, s.logger)
			if restored == nil {
				return nil, false, err
			}
			if err != nil {
				s.logger.Warn("Dropped stored signatures", "safeTxHash", hash, "err", err)
			}
			set = restored
		case !errors.Is(err, store.ErrNotFound):
			return nil, false, err
		}
	}
	return set, false, nil
}

func (s *Safe) track(ctx context.Context, wallet *types.WalletState, caps *params.Capabilities, tx *types.SafeTransaction) (*core.SignatureSet, error) {
	set, tracked, err := s.lookup(ctx, wallet, caps, tx)
	if err != nil || tracked {
		return set, err
	}
	return s.pool.Track(set), nil
}

// AddSignature verifies sig against tx and adds it to the tracked set. A
// transaction is tracked only once it holds a valid owner signature. The
// set is persisted when a pending store is configured.
func (s *Safe) AddSignature(ctx context.Context, tx *types.SafeTransaction, sig *types.OwnerSignature) (*core.SignatureSet, error) {
	wallet, caps, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	set, tracked, err := s.lookup(ctx, wallet, caps, tx)
	if err != nil {
		return nil, err
	}
	if !tracked {
		if err := set.Verify(ctx, sig); err != nil {
			return set, err
		}
		set = s.pool.Track(set)
	}
	if err := set.AddSignature(ctx, sig); err != nil {
		return set, err
	}
	return set, s.persist(set, wallet)
}

func (s *Safe) persist(set *core.SignatureSet, wallet *types.WalletState) error {
	if s.pending == nil {
		return nil
	}
	return s.pending.Put(store.RecordOf(set, wallet.ChainID))
}

func (s *Safe) forget(hash common.Hash) {
	s.pool.Remove(hash)
	if s.pending == nil {
		return
	}
	if err := s.pending.Delete(hash); err != nil {
		s.logger.Warn("Can't delete pending record", "safeTxHash", hash, "err", err)
	}
}

// Execute submits tx with the signatures tracked for it. The set is
// dropped once it can no longer be executed: after success, a used nonce
// or a hash mismatch. Retryable failures and future nonces keep it.
func (s *Safe) Execute(ctx context.Context, tx *types.SafeTransaction) (*executor.ExecutionResult, error) {
	set, err := s.Signatures(ctx, tx)
	if err != nil {
		return nil, err
	}
	res, err := s.coord.Execute(ctx, tx, set)
	if err == nil || executor.IsFinal(err) {
		s.forget(set.Hash())
	}
	return res, err
}

// LoadPending tracks every stored set of this wallet whose nonce is still
// usable and deletes the stale ones. It returns the number of sets tracked.
func (s *Safe) LoadPending(ctx context.Context) (int, error) {
	if s.pending == nil {
		return 0, nil
	}
	wallet, caps, err := s.Snapshot(ctx)
	if err != nil {
		return 0, err
	}
	records, err := s.pending.List()
	if err != nil {
		return 0, err
	}
	var (
		tracked int
		errs    error
	)
	for _, rec := range records {
		if rec.Safe != s.address {
			continue
		}
		if rec.Tx.Nonce() < wallet.Nonce {
			s.logger.Info("Dropping stale pending transaction", "safeTxHash", rec.SafeTxHash, "nonce", rec.Tx.Nonce(), "walletNonce", wallet.Nonce)
			errs = multierr.Append(errs, s.pending.Delete(rec.SafeTxHash))
			continue
		}
		if _, err := s.track(ctx, wallet, caps, rec.Tx); err != nil {
			errs = multierr.Append(errs, errors.Wrapf(err, "restore %s", rec.SafeTxHash))
			continue
		}
		tracked++
	}
	return tracked, errs
}

// Run executes tracked sets as soon as they reach the threshold, until ctx
// is done.
func (s *Safe) Run(ctx context.Context) error {
	return s.coord.Run(ctx, s.pool)
}
