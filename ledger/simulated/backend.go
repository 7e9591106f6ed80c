// Package simulated implements the ledger port in memory with the
// execTransaction semantics of the wallet contract. It is used by tests and
// by the CLI dry-run mode.
package simulated

import (
	"context"
	"math/big"
	"sync"

	"github.com/SipengXie/safecore/contracts"
	"github.com/SipengXie/safecore/core/types"
	"github.com/SipengXie/safecore/params"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/go-faster/errors"
	"github.com/ledgerwatch/log/v3"
)

var (
	ErrUnknownWallet      = errors.New("unknown wallet")
	ErrUnknownTransaction = errors.New("unknown transaction")
	ErrSubmitFailed       = errors.New("simulated submission failure")
)

// ContractValidator stands in for the isValidSignature of an owner contract.
type ContractValidator func(hash common.Hash, signature []byte) bool

type wallet struct {
	state     *types.WalletState
	caps      *params.Capabilities
	approved  map[common.Address]mapset.Set[common.Hash]
	contracts map[common.Address]ContractValidator
}

// Backend is an in-memory chain holding any number of wallets.
type Backend struct {
	chainID *big.Int
	logger  log.Logger

	mu          sync.Mutex
	wallets     map[common.Address]*wallet
	receipts    map[common.Hash]*types.Receipt
	blockNumber uint64

	rejectingGuards  mapset.Set[common.Address]
	revertingTargets mapset.Set[common.Address]
	multiSends       mapset.Set[common.Address]

	failSubmits  int
	holdReceipts bool
	submissions  int
}

func NewBackend(chainID *big.Int, logger log.Logger) *Backend {
	if logger == nil {
		logger = log.Root()
	}
	b := &Backend{
		chainID:          new(big.Int).Set(chainID),
		logger:           logger,
		wallets:          make(map[common.Address]*wallet),
		receipts:         make(map[common.Hash]*types.Receipt),
		rejectingGuards:  mapset.NewThreadUnsafeSet[common.Address](),
		revertingTargets: mapset.NewThreadUnsafeSet[common.Address](),
		multiSends:       mapset.NewThreadUnsafeSet[common.Address](),
	}
	for _, version := range params.KnownVersions() {
		caps, _ := params.Lookup(version)
		b.multiSends.Add(caps.Deployments.MultiSend)
		if caps.Deployments.MultiSendCallOnly != (common.Address{}) {
			b.multiSends.Add(caps.Deployments.MultiSendCallOnly)
		}
	}
	return b
}

// DeployWallet creates a wallet at addr. owners are stored in the order
// given.
func (b *Backend) DeployWallet(addr common.Address, version string, owners []common.Address, threshold uint64) error {
	caps, err := params.Lookup(version)
	if err != nil {
		return err
	}
	state := &types.WalletState{
		Address:   addr,
		ChainID:   new(big.Int).Set(b.chainID),
		Version:   version,
		Owners:    append([]common.Address(nil), owners...),
		Threshold: threshold,
	}
	if err := state.Validate(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.wallets[addr] = &wallet{
		state:     state,
		caps:      caps,
		approved:  make(map[common.Address]mapset.Set[common.Hash]),
		contracts: make(map[common.Address]ContractValidator),
	}
	return nil
}

// SetContractOwner makes owner behave as a contract owner validated by fn.
func (b *Backend) SetContractOwner(safe, owner common.Address, fn ContractValidator) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	w, ok := b.wallets[safe]
	if !ok {
		return errors.Wrapf(ErrUnknownWallet, "%s", safe)
	}
	w.contracts[owner] = fn
	return nil
}

// ApproveHash records hash as approved by owner, as if owner had sent
// approveHash from its own account.
func (b *Backend) ApproveHash(safe, owner common.Address, hash common.Hash) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	w, ok := b.wallets[safe]
	if !ok {
		return errors.Wrapf(ErrUnknownWallet, "%s", safe)
	}
	if !w.state.IsOwner(owner) {
		return errors.Errorf("GS030: %s is not an owner", owner)
	}
	if w.approved[owner] == nil {
		w.approved[owner] = mapset.NewThreadUnsafeSet[common.Hash]()
	}
	w.approved[owner].Add(hash)
	return nil
}

// BumpNonce consumes the current nonce of safe as another executed
// transaction would.
func (b *Backend) BumpNonce(safe common.Address) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	w, ok := b.wallets[safe]
	if !ok {
		return errors.Wrapf(ErrUnknownWallet, "%s", safe)
	}
	w.state.Nonce++
	return nil
}

// RejectGuard makes guard revert every transaction it checks.
func (b *Backend) RejectGuard(guard common.Address) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rejectingGuards.Add(guard)
}

// RevertCallsTo makes every inner call to target fail.
func (b *Backend) RevertCallsTo(target common.Address) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.revertingTargets.Add(target)
}

// RegisterMultiSend adds a non-canonical multisend deployment.
func (b *Backend) RegisterMultiSend(addr common.Address) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.multiSends.Add(addr)
}

// FailSubmissions makes the next n Submit calls fail before reaching the
// chain.
func (b *Backend) FailSubmissions(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failSubmits = n
}

// HoldReceipts makes AwaitReceipt block until its context is done.
func (b *Backend) HoldReceipts(hold bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.holdReceipts = hold
}

// Submissions returns the number of Submit calls that reached the chain.
func (b *Backend) Submissions() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.submissions
}

func (b *Backend) ReadWalletState(ctx context.Context, safe common.Address) (*types.WalletState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	w, ok := b.wallets[safe]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownWallet, "%s", safe)
	}
	return w.state.Copy(), nil
}

func (b *Backend) Call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	w, ok := b.wallets[to]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownWallet, "%s", to)
	}
	method, args, err := contracts.DecodeCall(data)
	if err != nil {
		return nil, err
	}
	st := w.state
	switch method.Name {
	case "VERSION":
		return method.Outputs.Pack(st.Version)
	case "nonce":
		return method.Outputs.Pack(new(big.Int).SetUint64(st.Nonce))
	case "getThreshold":
		return method.Outputs.Pack(new(big.Int).SetUint64(st.Threshold))
	case "getOwners":
		return method.Outputs.Pack(st.Owners)
	case "getModules":
		return method.Outputs.Pack(st.Modules)
	case "getModulesPaginated":
		return method.Outputs.Pack(st.Modules, params.SentinelAddress)
	case "isOwner":
		return method.Outputs.Pack(st.IsOwner(args[0].(common.Address)))
	case "approvedHashes":
		owner := args[0].(common.Address)
		hash := common.Hash(args[1].([32]byte))
		v := new(big.Int)
		if set := w.approved[owner]; set != nil && set.Contains(hash) {
			v.SetInt64(1)
		}
		return method.Outputs.Pack(v)
	default:
		return nil, errors.Errorf("%s is not a view method", method.Name)
	}
}

// Submit executes the payload on the wallet. Resubmitting an identical
// payload returns the first submission id without executing again.
func (b *Backend) Submit(ctx context.Context, payload *types.ExecPayload) (common.Hash, error) {
	if err := ctx.Err(); err != nil {
		return common.Hash{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failSubmits > 0 {
		b.failSubmits--
		return common.Hash{}, ErrSubmitFailed
	}
	id := crypto.Keccak256Hash(payload.Safe[:], payload.CallData)
	if _, ok := b.receipts[id]; ok {
		return id, nil
	}
	w, ok := b.wallets[payload.Safe]
	if !ok {
		return common.Hash{}, errors.Wrapf(ErrUnknownWallet, "%s", payload.Safe)
	}
	b.submissions++
	b.blockNumber++
	receipt := b.execute(w, payload.CallData)
	receipt.TxHash = id
	receipt.BlockNumber = new(big.Int).SetUint64(b.blockNumber)
	b.receipts[id] = receipt
	b.logger.Debug("Simulated execution", "safe", payload.Safe, "status", receipt.Status, "reason", receipt.RevertReason)
	return id, nil
}

func (b *Backend) AwaitReceipt(ctx context.Context, txID common.Hash) (*types.Receipt, error) {
	b.mu.Lock()
	hold := b.holdReceipts
	receipt, ok := b.receipts[txID]
	b.mu.Unlock()
	if hold {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if !ok {
		return nil, errors.Wrapf(ErrUnknownTransaction, "%s", txID)
	}
	cpy := *receipt
	return &cpy, nil
}
