// Package ethrpc implements the ledger port over a JSON-RPC node.
package ethrpc

import (
	"context"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/SipengXie/safecore/contracts"
	"github.com/SipengXie/safecore/core"
	"github.com/SipengXie/safecore/core/types"
	"github.com/SipengXie/safecore/params"
	"github.com/avast/retry-go"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/go-faster/errors"
	"github.com/ledgerwatch/log/v3"
)

// modulePageSize is the page size of getModulesPaginated reads.
const modulePageSize = 50

var ErrNoSigner = errors.New("ledger has no transaction signer")

// Client is the subset of ethclient.Client the ledger uses.
type Client interface {
	bind.ContractBackend
	bind.DeployBackend
	ChainID(ctx context.Context) (*big.Int, error)
	StorageAt(ctx context.Context, account common.Address, key common.Hash, blockNumber *big.Int) ([]byte, error)
}

type Config struct {
	URL          string        `env:"RPC_URL"`
	PollInterval time.Duration `env:"RECEIPT_POLL_INTERVAL" envDefault:"2s"`
	ReadAttempts uint          `env:"READ_ATTEMPTS" envDefault:"3"`
}

var DefaultConfig = Config{
	PollInterval: 2 * time.Second,
	ReadAttempts: 3,
}

// Ledger reads wallets and submits execTransaction calls through an RPC
// node. Submissions are signed by opts; a ledger without opts is read-only.
type Ledger struct {
	client Client
	opts   *bind.TransactOpts
	config Config
	logger log.Logger

	mu   sync.Mutex
	sent map[common.Hash]*gethtypes.Transaction // payload id -> signed outer tx
	msgs map[common.Hash]ethereum.CallMsg       // outer tx hash -> call, for revert reasons
}

// Dial connects to the node at config.URL.
func Dial(ctx context.Context, config Config, opts *bind.TransactOpts, logger log.Logger) (*Ledger, error) {
	client, err := ethclient.DialContext(ctx, config.URL)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", config.URL)
	}
	return New(client, config, opts, logger), nil
}

func New(client Client, config Config, opts *bind.TransactOpts, logger log.Logger) *Ledger {
	if logger == nil {
		logger = log.Root()
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultConfig.PollInterval
	}
	if config.ReadAttempts == 0 {
		config.ReadAttempts = DefaultConfig.ReadAttempts
	}
	return &Ledger{
		client: client,
		opts:   opts,
		config: config,
		logger: logger,
		sent:   make(map[common.Hash]*gethtypes.Transaction),
		msgs:   make(map[common.Hash]ethereum.CallMsg),
	}
}

func (l *Ledger) Call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	var out []byte
	err := retry.Do(func() error {
		var err error
		out, err = l.client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
		return err
	},
		retry.Attempts(l.config.ReadAttempts),
		retry.Delay(100*time.Millisecond),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
	)
	return out, err
}

func (l *Ledger) getter(ctx context.Context, safe common.Address, name string) ([]byte, error) {
	input, err := contracts.PackGetter(name)
	if err != nil {
		return nil, err
	}
	out, err := l.Call(ctx, safe, input)
	if err != nil {
		return nil, errors.Wrapf(err, "call %s", name)
	}
	return out, nil
}

// ReadWalletState reads the full wallet snapshot from the latest block.
func (l *Ledger) ReadWalletState(ctx context.Context, safe common.Address) (*types.WalletState, error) {
	chainID, err := l.client.ChainID(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "chain id")
	}
	out, err := l.getter(ctx, safe, "VERSION")
	if err != nil {
		return nil, err
	}
	version, err := contracts.UnpackString("VERSION", out)
	if err != nil {
		return nil, err
	}
	caps, err := params.Lookup(version)
	if err != nil {
		return nil, err
	}

	state := &types.WalletState{Address: safe, ChainID: chainID, Version: version}
	if out, err = l.getter(ctx, safe, "nonce"); err != nil {
		return nil, err
	}
	nonce, err := contracts.UnpackUint256("nonce", out)
	if err != nil {
		return nil, err
	}
	state.Nonce = nonce.Uint64()

	if out, err = l.getter(ctx, safe, "getThreshold"); err != nil {
		return nil, err
	}
	threshold, err := contracts.UnpackUint256("getThreshold", out)
	if err != nil {
		return nil, err
	}
	state.Threshold = threshold.Uint64()

	if out, err = l.getter(ctx, safe, "getOwners"); err != nil {
		return nil, err
	}
	if state.Owners, err = contracts.UnpackAddresses("getOwners", out); err != nil {
		return nil, err
	}
	if state.Modules, err = l.readModules(ctx, safe, caps); err != nil {
		return nil, err
	}
	if caps.SupportsGuards {
		if state.Guard, err = l.readSlot(ctx, safe, contracts.GuardStorageSlot); err != nil {
			return nil, err
		}
	}
	if caps.SupportsFallbackHandler {
		if state.FallbackHandler, err = l.readSlot(ctx, safe, contracts.FallbackHandlerStorageSlot); err != nil {
			return nil, err
		}
	}
	if err := state.Validate(); err != nil {
		return nil, err
	}
	return state, nil
}

func (l *Ledger) readModules(ctx context.Context, safe common.Address, caps *params.Capabilities) ([]common.Address, error) {
	// 1.0.0 只有 getModules
	if caps.GasFieldName == "dataGas" {
		out, err := l.getter(ctx, safe, "getModules")
		if err != nil {
			return nil, err
		}
		return contracts.UnpackAddresses("getModules", out)
	}
	var (
		modules []common.Address
		start   = params.SentinelAddress
	)
	for {
		input, err := contracts.SafeABI.Pack("getModulesPaginated", start, big.NewInt(modulePageSize))
		if err != nil {
			return nil, err
		}
		out, err := l.Call(ctx, safe, input)
		if err != nil {
			return nil, errors.Wrap(err, "call getModulesPaginated")
		}
		values, err := contracts.SafeABI.Unpack("getModulesPaginated", out)
		if err != nil {
			return nil, errors.Wrap(err, "unpack getModulesPaginated")
		}
		page, next := values[0].([]common.Address), values[1].(common.Address)
		modules = append(modules, page...)
		if next == params.SentinelAddress || next == (common.Address{}) || len(page) < modulePageSize {
			return modules, nil
		}
		start = next
	}
}

func (l *Ledger) readSlot(ctx context.Context, safe common.Address, slot common.Hash) (common.Address, error) {
	out, err := l.client.StorageAt(ctx, safe, slot, nil)
	if err != nil {
		return common.Address{}, errors.Wrapf(err, "storage slot %s", slot)
	}
	return common.BytesToAddress(out), nil
}

// Submit signs and sends the outer transaction carrying payload. A payload
// whose transaction the node accepted is rebroadcast as the same
// transaction; after a rejected send the next call signs a new one with a
// fresh account nonce.
func (l *Ledger) Submit(ctx context.Context, payload *types.ExecPayload) (common.Hash, error) {
	if l.opts == nil {
		return common.Hash{}, ErrNoSigner
	}
	id := crypto.Keccak256Hash(payload.Safe[:], payload.CallData)

	l.mu.Lock()
	signed, ok := l.sent[id]
	l.mu.Unlock()
	if !ok {
		var err error
		if signed, err = l.sign(ctx, payload); err != nil {
			return common.Hash{}, err
		}
	}
	if err := l.client.SendTransaction(ctx, signed); err != nil && !isKnownTx(err) {
		l.mu.Lock()
		delete(l.sent, id)
		l.mu.Unlock()
		if isRevert(err) {
			return common.Hash{}, errors.Wrapf(core.ErrSubmitReverted, "send transaction: %v", err)
		}
		return common.Hash{}, errors.Wrap(err, "send transaction")
	}
	l.mu.Lock()
	l.sent[id] = signed
	l.msgs[signed.Hash()] = ethereum.CallMsg{From: l.opts.From, To: &payload.Safe, Data: payload.CallData}
	l.mu.Unlock()

	l.logger.Debug("Sent execTransaction", "safe", payload.Safe, "tx", signed.Hash(), "nonce", signed.Nonce())
	return signed.Hash(), nil
}

func (l *Ledger) sign(ctx context.Context, payload *types.ExecPayload) (*gethtypes.Transaction, error) {
	nonce, err := l.client.PendingNonceAt(ctx, l.opts.From)
	if err != nil {
		return nil, errors.Wrap(err, "pending nonce")
	}
	gasPrice := l.opts.GasPrice
	if gasPrice == nil {
		if gasPrice, err = l.client.SuggestGasPrice(ctx); err != nil {
			return nil, errors.Wrap(err, "gas price")
		}
	}
	gas := l.opts.GasLimit
	if gas == 0 {
		gas, err = l.client.EstimateGas(ctx, ethereum.CallMsg{From: l.opts.From, To: &payload.Safe, Data: payload.CallData})
		if isRevert(err) {
			return nil, errors.Wrapf(core.ErrSubmitReverted, "estimate gas: %s", revertMessage(err))
		}
		if err != nil {
			return nil, errors.Wrap(err, "estimate gas")
		}
	}
	tx := gethtypes.NewTx(&gethtypes.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gas,
		To:       &payload.Safe,
		Value:    new(big.Int),
		Data:     payload.CallData,
	})
	return l.opts.Signer(l.opts.From, tx)
}

// isRevert reports whether the node refused a call because it reverts, as
// opposed to a transport or pool failure.
func isRevert(err error) bool {
	if err == nil {
		return false
	}
	// every rpc error has ErrorData, only reverts carry any
	var dataErr rpc.DataError
	if errors.As(err, &dataErr) && dataErr.ErrorData() != nil {
		return true
	}
	return strings.Contains(err.Error(), "execution reverted")
}

// revertMessage appends the decoded revert reason of err, if the node sent
// one.
func revertMessage(err error) string {
	var dataErr rpc.DataError
	if !errors.As(err, &dataErr) {
		return err.Error()
	}
	data, ok := dataErr.ErrorData().(string)
	if !ok {
		return err.Error()
	}
	reason, uerr := abi.UnpackRevert(common.FromHex(data))
	if uerr != nil || strings.Contains(err.Error(), reason) {
		return err.Error()
	}
	return err.Error() + ": " + reason
}

func isKnownTx(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "already known") || strings.Contains(msg, "known transaction")
}

// AwaitReceipt polls for the receipt of txID until it is mined or ctx is
// done.
func (l *Ledger) AwaitReceipt(ctx context.Context, txID common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(l.config.PollInterval)
	defer ticker.Stop()
	for {
		r, err := l.client.TransactionReceipt(ctx, txID)
		if err == nil {
			return l.convert(ctx, r), nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			l.logger.Trace("Receipt retrieval failed", "tx", txID, "err", err)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (l *Ledger) convert(ctx context.Context, r *gethtypes.Receipt) *types.Receipt {
	receipt := &types.Receipt{
		TxHash:      r.TxHash,
		Status:      r.Status,
		BlockNumber: r.BlockNumber,
		GasUsed:     r.GasUsed,
		Logs:        r.Logs,
	}
	if r.Status == gethtypes.ReceiptStatusFailed {
		receipt.RevertReason = l.revertReason(ctx, r)
	}
	return receipt
}

// revertReason replays the call at the block it failed in.
func (l *Ledger) revertReason(ctx context.Context, r *gethtypes.Receipt) string {
	l.mu.Lock()
	msg, ok := l.msgs[r.TxHash]
	l.mu.Unlock()
	if !ok {
		return ""
	}
	_, err := l.client.CallContract(ctx, msg, r.BlockNumber)
	if err == nil {
		return ""
	}
	return revertMessage(err)
}
