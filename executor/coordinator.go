package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/SipengXie/safecore/contracts"
	"github.com/SipengXie/safecore/core"
	"github.com/SipengXie/safecore/core/types"
	"github.com/SipengXie/safecore/params"
	"github.com/avast/retry-go"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/go-faster/errors"
	"github.com/ledgerwatch/log/v3"
)

const eventChanSize = 256

// Config bounds the blocking parts of an execution.
type Config struct {
	ReceiptTimeout time.Duration `env:"RECEIPT_TIMEOUT" envDefault:"2m"`
	SubmitAttempts uint          `env:"SUBMIT_ATTEMPTS" envDefault:"3"`
	SubmitDelay    time.Duration `env:"SUBMIT_DELAY" envDefault:"1s"`
	// RetryInterval is how often Run retries sets that failed retryably or
	// wait for their nonce.
	RetryInterval time.Duration `env:"RETRY_INTERVAL" envDefault:"30s"`
}

var DefaultConfig = Config{
	ReceiptTimeout: 2 * time.Minute,
	SubmitAttempts: 3,
	SubmitDelay:    time.Second,
	RetryInterval:  30 * time.Second,
}

func (c *Config) sanitize(logger log.Logger) {
	if c.ReceiptTimeout <= 0 {
		logger.Warn("Sanitizing invalid receipt timeout", "provided", c.ReceiptTimeout, "updated", DefaultConfig.ReceiptTimeout)
		c.ReceiptTimeout = DefaultConfig.ReceiptTimeout
	}
	if c.SubmitAttempts == 0 {
		logger.Warn("Sanitizing invalid submit attempts", "provided", c.SubmitAttempts, "updated", DefaultConfig.SubmitAttempts)
		c.SubmitAttempts = DefaultConfig.SubmitAttempts
	}
	if c.RetryInterval <= 0 {
		logger.Warn("Sanitizing invalid retry interval", "provided", c.RetryInterval, "updated", DefaultConfig.RetryInterval)
		c.RetryInterval = DefaultConfig.RetryInterval
	}
}

// ExecutionResult describes a mined, successful execution.
type ExecutionResult struct {
	SafeTxHash common.Hash
	TxID       common.Hash
	Receipt    *types.Receipt
}

// Coordinator validates a signed transaction against a fresh wallet
// snapshot, submits it and interprets the receipt.
type Coordinator struct {
	ledger core.Ledger
	config Config
	logger log.Logger
}

func NewCoordinator(ledger core.Ledger, config Config, logger log.Logger) *Coordinator {
	if logger == nil {
		logger = log.Root()
	}
	config.sanitize(logger)
	return &Coordinator{ledger: ledger, config: config, logger: logger}
}

// IsRetryable reports whether err left the wallet untouched and the same
// transaction may be executed again.
func IsRetryable(err error) bool {
	return errors.Is(err, core.ErrSubmissionFailed)
}

// IsFinal reports whether err means the signatures can never execute: the
// nonce was used or the hash no longer matches. A set queued for a future
// nonce is not final.
func IsFinal(err error) bool {
	if errors.Is(err, core.ErrHashMismatch) {
		return true
	}
	return errors.Is(err, core.ErrStaleNonce) && !errors.Is(err, core.ErrFutureNonce)
}

// Execute runs tx with the signatures of sigs.
func (c *Coordinator) Execute(ctx context.Context, tx *types.SafeTransaction, sigs *core.SignatureSet) (*ExecutionResult, error) {
	res, err := c.execute(ctx, tx, sigs)
	executionsCounter.WithLabelValues(outcomeOf(err)).Inc()
	return res, err
}

func (c *Coordinator) execute(ctx context.Context, tx *types.SafeTransaction, sigs *core.SignatureSet) (*ExecutionResult, error) {
	safe := sigs.Safe()
	logger := c.logger.New("safe", safe, "safeTxHash", sigs.Hash(), "nonce", tx.Nonce())

	wallet, err := c.ledger.ReadWalletState(ctx, safe)
	if err != nil {
		return nil, errors.Wrapf(core.ErrSubmissionFailed, "read wallet state: %v", err)
	}
	caps, err := params.Lookup(wallet.Version)
	if err != nil {
		return nil, err
	}
	if hash := types.WalletTxHash(caps, tx, wallet); hash != sigs.Hash() {
		return nil, errors.Wrapf(core.ErrHashMismatch, "recomputed %s, signed %s", hash, sigs.Hash())
	}
	switch {
	case tx.Nonce() < wallet.Nonce:
		return nil, errors.Wrapf(core.ErrStaleNonce, "nonce %d already used, wallet at %d", tx.Nonce(), wallet.Nonce)
	case tx.Nonce() > wallet.Nonce:
		return nil, errors.Wrapf(core.ErrFutureNonce, "nonce %d ahead of wallet at %d", tx.Nonce(), wallet.Nonce)
	}
	sigs.Refresh(wallet)
	if !sigs.IsExecutable() {
		return nil, errors.Wrapf(core.ErrInsufficientSignatures, "have %d, threshold %d", sigs.Len(), wallet.Threshold)
	}

	blob, err := sigs.Serialize()
	if err != nil {
		return nil, err
	}
	callData, err := contracts.PackExecTransaction(tx, blob)
	if err != nil {
		return nil, errors.Wrap(err, "pack execTransaction")
	}
	payload := &types.ExecPayload{
		Safe:        safe,
		Transaction: tx,
		SafeTxHash:  sigs.Hash(),
		Signatures:  blob,
		CallData:    callData,
	}

	txID, err := c.submit(ctx, payload, logger)
	if errors.Is(err, core.ErrSubmitReverted) {
		return nil, c.reverted(ctx, tx, safe, err.Error(), logger)
	}
	if err != nil {
		return nil, err
	}
	logger.Info("Submitted safe transaction", "txID", txID)

	waitCtx, cancel := context.WithTimeout(ctx, c.config.ReceiptTimeout)
	defer cancel()
	receipt, err := c.ledger.AwaitReceipt(waitCtx, txID)
	if err != nil {
		return nil, errors.Wrapf(core.ErrSubmissionFailed, "await receipt %s: %v", txID, err)
	}
	return c.interpret(ctx, tx, payload, txID, receipt, logger)
}

func (c *Coordinator) submit(ctx context.Context, payload *types.ExecPayload, logger log.Logger) (common.Hash, error) {
	var txID common.Hash
	err := retry.Do(func() error {
		id, err := c.ledger.Submit(ctx, payload)
		if err != nil {
			return err
		}
		txID = id
		return nil
	},
		retry.Attempts(c.config.SubmitAttempts),
		retry.Delay(c.config.SubmitDelay),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return !errors.Is(err, core.ErrSubmitReverted)
		}),
		retry.OnRetry(func(n uint, err error) {
			submitRetriesCounter.Inc()
			logger.Warn("Retrying submission", "attempt", n+1, "err", err)
		}),
	)
	switch {
	case errors.Is(err, core.ErrSubmitReverted):
		return common.Hash{}, err
	case err != nil:
		return common.Hash{}, errors.Wrapf(core.ErrSubmissionFailed, "submit: %v", err)
	}
	return txID, nil
}

// reverted classifies a rejected execution: if the nonce moved on meanwhile
// another transaction took it, otherwise the wallet refused this one.
func (c *Coordinator) reverted(ctx context.Context, tx *types.SafeTransaction, safe common.Address, reason string, logger log.Logger) error {
	wallet, err := c.ledger.ReadWalletState(ctx, safe)
	if err == nil && wallet.Nonce > tx.Nonce() {
		return errors.Wrapf(core.ErrStaleNonce, "nonce %d consumed: %s", tx.Nonce(), reason)
	}
	logger.Warn("Safe transaction reverted", "reason", reason)
	return errors.Wrap(core.ErrExecutionReverted, reason)
}

func (c *Coordinator) interpret(ctx context.Context, tx *types.SafeTransaction, payload *types.ExecPayload, txID common.Hash, receipt *types.Receipt, logger log.Logger) (*ExecutionResult, error) {
	if !receipt.Succeeded() {
		// 交易回滚后 nonce 已前进，说明同一 nonce 被其他交易占用
		return nil, c.reverted(ctx, tx, payload.Safe, fmt.Sprintf("tx %s: %s", txID, receipt.RevertReason), logger)
	}
	if contracts.ExecutionFailed(payload.Safe, receipt.Logs) {
		logger.Warn("Safe transaction inner call failed", "txID", txID)
		return nil, errors.Wrapf(core.ErrExecutionReverted, "tx %s: inner call failed", txID)
	}
	logger.Info("Executed safe transaction", "txID", txID, "block", receipt.BlockNumber, "gasUsed", receipt.GasUsed)
	return &ExecutionResult{SafeTxHash: payload.SafeTxHash, TxID: txID, Receipt: receipt}, nil
}

// Run executes every set tracked by pool once it reaches its threshold,
// until ctx is done or the subscription fails. Sets already satisfied when
// Run starts are executed first. Executed sets and sets that
// can never execute are dropped from the pool. Sets that failed with a
// retryable error or wait for their nonce are tried again every
// RetryInterval; reverted ones wait for the next signature.
func (c *Coordinator) Run(ctx context.Context, pool *core.SignaturePool) error {
	eventCh := make(chan core.SignatureEvent, eventChanSize)
	sub := pool.SubscribeSignatureEvents(eventCh)
	defer sub.Unsubscribe()

	retryTicker := time.NewTicker(c.config.RetryInterval)
	defer retryTicker.Stop()

	deferred := mapset.NewThreadUnsafeSet[common.Hash]()
	var ready []*core.SignatureSet
	pool.Range(func(_ common.Hash, set *core.SignatureSet) bool {
		if set.IsExecutable() {
			ready = append(ready, set)
		}
		return true
	})
	for _, set := range ready {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.runOne(ctx, pool, set, deferred)
	}

	for {
		select {
		case ev := <-eventCh:
			if ev.Status != core.StatusSatisfied {
				continue
			}
			if set, ok := pool.Get(ev.SafeTxHash); ok {
				c.runOne(ctx, pool, set, deferred)
			}
		case <-retryTicker.C:
			for _, hash := range deferred.ToSlice() {
				if ctx.Err() != nil {
					break
				}
				set, ok := pool.Get(hash)
				if !ok {
					deferred.Remove(hash)
					continue
				}
				c.runOne(ctx, pool, set, deferred)
			}
		case err := <-sub.Err():
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Coordinator) runOne(ctx context.Context, pool *core.SignaturePool, set *core.SignatureSet, deferred mapset.Set[common.Hash]) {
	hash := set.Hash()
	_, err := c.Execute(ctx, set.Transaction(), set)
	switch {
	case err == nil:
		deferred.Remove(hash)
		pool.Remove(hash)
	case IsFinal(err):
		c.logger.Error("Execution failed", "safeTxHash", hash, "err", err)
		deferred.Remove(hash)
		pool.Remove(hash)
	case IsRetryable(err), errors.Is(err, core.ErrFutureNonce):
		c.logger.Debug("Execution deferred", "safeTxHash", hash, "err", err)
		deferred.Add(hash)
	default:
		c.logger.Warn("Execution failed", "safeTxHash", hash, "err", err)
		deferred.Remove(hash)
	}
}
